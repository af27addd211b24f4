package feed

import (
	"fmt"
	"strings"

	"tychoscope/internal/model"
)

// Filter selects the components of one exchange, either by id or by a TVL band.
// A zero Filter selects everything.
type Filter struct {
	IDs    []string `json:"ids,omitempty"`
	MinTVL *float64 `json:"min_tvl,omitempty"`
	MaxTVL *float64 `json:"max_tvl,omitempty"`
}

func (f Filter) IsZero() bool {
	return len(f.IDs) == 0 && f.MinTVL == nil && f.MaxTVL == nil
}

func (f Filter) Validate() error {
	if len(f.IDs) > 0 && (f.MinTVL != nil || f.MaxTVL != nil) {
		return fmt.Errorf("component ids and tvl band are mutually exclusive")
	}
	if f.MinTVL != nil && f.MaxTVL != nil && *f.MinTVL > *f.MaxTVL {
		return fmt.Errorf("min tvl %v is greater than max tvl %v", *f.MinTVL, *f.MaxTVL)
	}
	return nil
}

// Allows reports whether a component passes the filter. Ids compare case-insensitively.
// A component whose TVL is not known yet passes a band filter.
func (f Filter) Allows(id string, tvl float64, hasTVL bool) bool {
	if len(f.IDs) > 0 {
		for _, want := range f.IDs {
			if strings.EqualFold(want, id) {
				return true
			}
		}
		return false
	}
	if !hasTVL {
		return true
	}
	if f.MinTVL != nil && tvl < *f.MinTVL {
		return false
	}
	if f.MaxTVL != nil && tvl > *f.MaxTVL {
		return false
	}
	return true
}

// Tracker applies filters client-side and remembers the tracked set per exchange, so a
// component that leaves its TVL band is reported in removed_components once. A known
// component whose TVL moves back into the band is re-announced as a new component.
type Tracker struct {
	filters map[string]Filter
	tracked map[string]map[string]bool
	known   map[string]map[string]model.ProtocolComponent
}

func NewTracker(filters map[string]Filter) *Tracker {
	return &Tracker{
		filters: filters,
		tracked: make(map[string]map[string]bool),
		known:   make(map[string]map[string]model.ProtocolComponent),
	}
}

// Apply returns msg restricted to the tracked components. Exchanges without a filter
// pass through untouched.
func (t *Tracker) Apply(msg model.FeedMessage) model.FeedMessage {
	if len(t.filters) == 0 {
		return msg
	}
	out := model.FeedMessage{
		StateMsgs:  make(map[string]model.StateMessage, len(msg.StateMsgs)),
		SyncStates: msg.SyncStates,
	}
	for exchange, ssm := range msg.StateMsgs {
		filter, ok := t.filters[exchange]
		if !ok || filter.IsZero() {
			out.StateMsgs[exchange] = ssm
			continue
		}
		out.StateMsgs[exchange] = t.applyExchange(exchange, filter, ssm)
	}
	return out
}

func (t *Tracker) applyExchange(exchange string, filter Filter, ssm model.StateMessage) model.StateMessage {
	tracked := t.tracked[exchange]
	if tracked == nil {
		tracked = make(map[string]bool)
		t.tracked[exchange] = tracked
	}
	known := t.known[exchange]
	if known == nil {
		known = make(map[string]model.ProtocolComponent)
		t.known[exchange] = known
	}
	for id, state := range ssm.Snapshots.States {
		known[id] = state.Component
	}
	if ssm.Deltas != nil {
		for id, pc := range ssm.Deltas.NewProtocolComponents {
			known[id] = pc
		}
	}

	// latest known tvl in this message
	tvls := make(map[string]float64)
	for id, state := range ssm.Snapshots.States {
		if state.ComponentTVL != nil {
			tvls[id] = *state.ComponentTVL
		}
	}
	if ssm.Deltas != nil {
		for id, tvl := range ssm.Deltas.ComponentTVL {
			tvls[id] = tvl
		}
	}
	allow := func(id string) bool {
		tvl, ok := tvls[id]
		return filter.Allows(id, tvl, ok)
	}
	isTracked := func(id string) bool {
		if len(filter.IDs) > 0 {
			return filter.Allows(id, 0, false)
		}
		return tracked[id]
	}

	res := model.StateMessage{
		Header:            ssm.Header,
		Snapshots:         model.Snapshot{States: make(map[string]model.ComponentWithState)},
		RemovedComponents: make(map[string]model.ProtocolComponent),
	}
	for id, pc := range ssm.RemovedComponents {
		res.RemovedComponents[id] = pc
		delete(tracked, id)
		delete(known, id)
	}
	for id, state := range ssm.Snapshots.States {
		if allow(id) {
			res.Snapshots.States[id] = state
			tracked[id] = true
		}
	}

	if ssm.Deltas != nil {
		d := *ssm.Deltas
		deltas := model.BlockChanges{
			Extractor:                 d.Extractor,
			Chain:                     d.Chain,
			NewProtocolComponents:     make(map[string]model.ProtocolComponent),
			DeletedProtocolComponents: d.DeletedProtocolComponents,
			ComponentBalances:         make(map[string]map[string]model.ComponentBalance),
			ComponentTVL:              make(map[string]float64),
		}
		for id, pc := range d.NewProtocolComponents {
			if allow(id) {
				deltas.NewProtocolComponents[id] = pc
				tracked[id] = true
			}
		}
		for id, tvl := range d.ComponentTVL {
			if !isTracked(id) {
				pc, ok := known[id]
				if !ok || len(filter.IDs) > 0 || !filter.Allows(id, tvl, true) {
					continue
				}
				// back in band: the reconciler re-admits it from the creation entry
				tracked[id] = true
				if _, ok := deltas.NewProtocolComponents[id]; !ok {
					deltas.NewProtocolComponents[id] = pc
				}
				deltas.ComponentTVL[id] = tvl
				continue
			}
			if !filter.Allows(id, tvl, true) {
				delete(tracked, id)
				res.RemovedComponents[id] = model.ProtocolComponent{ID: id}
				continue
			}
			deltas.ComponentTVL[id] = tvl
		}
		for id, balances := range d.ComponentBalances {
			if isTracked(id) {
				deltas.ComponentBalances[id] = balances
			}
		}
		for id := range d.DeletedProtocolComponents {
			delete(tracked, id)
			delete(known, id)
		}
		res.Deltas = &deltas
	}
	return res
}

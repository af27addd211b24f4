package state

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"tychoscope/internal/dex"
	"tychoscope/internal/model"
)

var (
	ErrNilStore     = errors.New("store is nil")
	ErrEmptyMessage = errors.New("message has no state messages")

	errNoRequester = errors.New("no snapshot requester configured")
)

// SnapshotRequester asks the feed for a fresh full snapshot of an exchange.
type SnapshotRequester interface {
	RequestSnapshot(ctx context.Context, exchange string) error
}

// Reconciler folds feed messages into a Store, one message per write transaction.
//
// A revert-flagged message does not roll back earlier deltas. The exchange is marked
// as awaiting a snapshot, a fresh snapshot is requested once, and the revert message
// itself is applied as the authoritative state of its block. The flag clears once
// later snapshots have refreshed every component the exchange tracked at the revert;
// a partial snapshot only shrinks the pending set.
type Reconciler struct {
	store     *Store
	requester SnapshotRequester
	logger    *zap.Logger
}

func NewReconciler(store *Store, requester SnapshotRequester, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{store: store, requester: requester, logger: logger}
}

// Store returns the store the reconciler writes to.
func (r *Reconciler) Store() *Store {
	return r.store
}

type componentWrite struct {
	component Component
	tvl       *float64
	balances  map[string]BalanceRecord
}

type balanceWrite struct {
	componentID string
	token       string
	record      BalanceRecord
}

type tvlWrite struct {
	componentID string
	tvl         float64
}

type exchangePlan struct {
	header   model.Header
	snapshot []componentWrite
	created  []componentWrite
	deleted  []string
	removed  []string
	balances []balanceWrite
	tvl      []tvlWrite
	summary  ExchangeSummary
}

// Apply decodes msg and applies it to the store atomically. Per-entry problems are
// reported in the Summary; an error is returned only when nothing could be applied.
func (r *Reconciler) Apply(ctx context.Context, msg model.FeedMessage) (Summary, error) {
	if r.store == nil {
		return Summary{}, ErrNilStore
	}
	if msg.Empty() {
		return Summary{}, ErrEmptyMessage
	}

	exchanges := sortedKeys(msg.StateMsgs)
	plans := make([]*exchangePlan, 0, len(exchanges))
	for _, exchange := range exchanges {
		plans = append(plans, buildPlan(exchange, msg.StateMsgs[exchange]))
	}

	var pending []string
	var storeSize int
	r.store.Update(func(tx *Tx) {
		for _, plan := range plans {
			applyPlan(tx, plan)
			st := tx.Sync(plan.summary.Exchange)
			if st.AwaitingSnapshot && !st.SnapshotRequested {
				pending = append(pending, plan.summary.Exchange)
			}
		}
		storeSize = tx.View().Len()
	})

	requested := r.requestSnapshots(ctx, pending)

	summary := Summary{Exchanges: make([]ExchangeSummary, 0, len(plans)), StoreSize: storeSize}
	for _, plan := range plans {
		ex := plan.summary
		if err, ok := requested[ex.Exchange]; ok {
			switch {
			case err == nil:
				ex.ResnapshotRequested = true
			case errors.Is(err, errNoRequester):
				ex.ReconcileErrors = append(ex.ReconcileErrors, ReconcileError{Kind: ResnapshotUnhandled, Exchange: ex.Exchange, Err: err})
			default:
				ex.ReconcileErrors = append(ex.ReconcileErrors, ReconcileError{Kind: ResnapshotFailed, Exchange: ex.Exchange, Err: err})
			}
		}
		summary.Exchanges = append(summary.Exchanges, ex)
	}
	return summary, nil
}

func (r *Reconciler) requestSnapshots(ctx context.Context, exchanges []string) map[string]error {
	if len(exchanges) == 0 {
		return nil
	}
	results := make(map[string]error, len(exchanges))
	for _, exchange := range exchanges {
		if r.requester == nil {
			results[exchange] = errNoRequester
			continue
		}
		err := r.requester.RequestSnapshot(ctx, exchange)
		results[exchange] = err
		if err != nil {
			r.logger.Warn("resnapshot request failed", zap.String("exchange", exchange), zap.Error(err))
			continue
		}
		r.logger.Info("resnapshot requested", zap.String("exchange", exchange))
	}

	r.store.Update(func(tx *Tx) {
		for exchange, err := range results {
			if err != nil {
				continue
			}
			st := tx.Sync(exchange)
			if st.AwaitingSnapshot {
				st.SnapshotRequested = true
				tx.SetSync(exchange, st)
			}
		}
	})
	return results
}

func buildPlan(exchange string, ssm model.StateMessage) *exchangePlan {
	plan := &exchangePlan{
		header: ssm.Header,
		summary: ExchangeSummary{
			Exchange:       exchange,
			Block:          ssm.Header.Number,
			Revert:         ssm.Header.Revert,
			SnapshotStates: len(ssm.Snapshots.States),
		},
	}

	for _, id := range sortedKeys(ssm.Snapshots.States) {
		state := ssm.Snapshots.States[id]
		write, err := decodeComponent(id, state.Component)
		if err != nil {
			plan.reject("snapshot", id, err)
			continue
		}
		write.tvl = state.ComponentTVL
		write.balances = plan.decodeSnapshotBalances(id, state.State.Balances)
		plan.snapshot = append(plan.snapshot, write)
	}

	plan.removed = sortedKeys(ssm.RemovedComponents)
	plan.summary.RemovedComponents = len(plan.removed)

	deltas := ssm.Deltas
	if deltas == nil {
		return plan
	}

	plan.summary.NewComponents = len(deltas.NewProtocolComponents)
	for _, id := range sortedKeys(deltas.NewProtocolComponents) {
		write, err := decodeComponent(id, deltas.NewProtocolComponents[id])
		if err != nil {
			plan.reject("new_component", id, err)
			continue
		}
		plan.created = append(plan.created, write)
	}

	plan.deleted = sortedKeys(deltas.DeletedProtocolComponents)
	plan.summary.DeletedComponents = len(plan.deleted)

	plan.summary.BalanceUpdates = len(deltas.ComponentBalances)
	for _, id := range sortedKeys(deltas.ComponentBalances) {
		tokens := deltas.ComponentBalances[id]
		plan.summary.UpdatedComponents = append(plan.summary.UpdatedComponents, id)
		for _, rawToken := range sortedKeys(tokens) {
			record, token, err := decodeBalance(rawToken, tokens[rawToken])
			if err != nil {
				plan.summary.DecodeErrors = append(plan.summary.DecodeErrors, EntryError{Section: "balance", ComponentID: id, Token: rawToken, Err: err})
				continue
			}
			plan.balances = append(plan.balances, balanceWrite{componentID: id, token: token, record: record})
		}
	}

	plan.summary.TVLUpdates = len(deltas.ComponentTVL)
	for _, id := range sortedKeys(deltas.ComponentTVL) {
		plan.tvl = append(plan.tvl, tvlWrite{componentID: id, tvl: deltas.ComponentTVL[id]})
	}

	return plan
}

// reject records a component that could not be turned into a store entry.
func (p *exchangePlan) reject(section, id string, err error) {
	if errors.Is(err, dex.ErrDecode) {
		p.summary.DecodeErrors = append(p.summary.DecodeErrors, EntryError{Section: section, ComponentID: id, Err: err})
		return
	}
	p.summary.ReconcileErrors = append(p.summary.ReconcileErrors, ReconcileError{
		Kind:        InvalidComponent,
		Exchange:    p.summary.Exchange,
		ComponentID: id,
		Err:         err,
	})
}

func (p *exchangePlan) decodeSnapshotBalances(id string, raw map[string]string) map[string]BalanceRecord {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]BalanceRecord, len(raw))
	for _, rawToken := range sortedKeys(raw) {
		token, err := dex.DecodeAddress(rawToken)
		if err != nil {
			p.summary.DecodeErrors = append(p.summary.DecodeErrors, EntryError{Section: "snapshot_balance", ComponentID: id, Token: rawToken, Err: err})
			continue
		}
		amount, err := dex.DecodeAmount(raw[rawToken])
		if err != nil {
			p.summary.DecodeErrors = append(p.summary.DecodeErrors, EntryError{Section: "snapshot_balance", ComponentID: id, Token: rawToken, Err: err})
			continue
		}
		balanceFloat, _ := new(big.Float).SetInt(amount.ToBig()).Float64()
		out[token] = BalanceRecord{Balance: amount, BalanceFloat: balanceFloat}
	}
	return out
}

func applyPlan(tx *Tx, plan *exchangePlan) {
	exchange := plan.summary.Exchange
	st := tx.Sync(exchange)

	// 1. snapshot
	for _, write := range plan.snapshot {
		tx.PutComponent(write.component)
		tx.AddMember(exchange, write.component.ID)
		if write.tvl != nil {
			tx.PutTVL(write.component.ID, *write.tvl)
		}
		for token, record := range write.balances {
			tx.PutBalance(write.component.ID, token, record)
		}
	}

	// 2. new components
	for _, write := range plan.created {
		tx.PutComponent(write.component)
		tx.AddMember(exchange, write.component.ID)
	}

	// 3. deletions and untracked components, never cascading
	for _, id := range plan.deleted {
		tx.DeleteComponent(id)
		tx.DropMember(exchange, id)
	}
	for _, id := range plan.removed {
		tx.DeleteComponent(id)
		tx.DropMember(exchange, id)
	}

	// 4. balances
	flagged := make(map[string]bool)
	for _, write := range plan.balances {
		if !tx.Seen(write.componentID) && !flagged[write.componentID] {
			flagged[write.componentID] = true
			plan.summary.ReconcileErrors = append(plan.summary.ReconcileErrors, ReconcileError{
				Kind:        UnknownComponent,
				Exchange:    exchange,
				ComponentID: write.componentID,
				Err:         errors.New("balance delta for a component never seen in a snapshot or creation"),
			})
		}
		tx.PutBalance(write.componentID, write.token, write.record)
		plan.summary.BalanceEntries++
	}

	// 5. tvl
	for _, write := range plan.tvl {
		if !tx.Seen(write.componentID) && !flagged[write.componentID] {
			flagged[write.componentID] = true
			plan.summary.ReconcileErrors = append(plan.summary.ReconcileErrors, ReconcileError{
				Kind:        UnknownComponent,
				Exchange:    exchange,
				ComponentID: write.componentID,
				Err:         errors.New("tvl delta for a component never seen in a snapshot or creation"),
			})
		}
		tx.PutTVL(write.componentID, write.tvl)
	}

	if plan.header.Number > st.Block || plan.header.Revert {
		st.Block = plan.header.Number
	}
	switch {
	case plan.header.Revert:
		if !st.AwaitingSnapshot {
			st.AwaitingSnapshot = true
			st.SnapshotRequested = false
		}
		st.RevertedAt = plan.header.Number
		// every component tracked at the revert needs a fresh snapshot
		tx.MarkPending(exchange)
	case st.AwaitingSnapshot:
		for _, write := range plan.snapshot {
			tx.Refreshed(exchange, write.component.ID)
		}
		if len(plan.snapshot) > 0 && tx.Pending(exchange) == 0 {
			st.AwaitingSnapshot = false
			st.SnapshotRequested = false
		}
	}
	st.PendingComponents = 0
	if st.AwaitingSnapshot {
		st.PendingComponents = tx.Pending(exchange)
	}
	tx.SetSync(exchange, st)
	plan.summary.AwaitingSnapshot = st.AwaitingSnapshot
	plan.summary.PendingComponents = st.PendingComponents
}

func decodeComponent(id string, pc model.ProtocolComponent) (componentWrite, error) {
	if pc.ID != "" && pc.ID != id {
		return componentWrite{}, fmt.Errorf("component id %q does not match key", pc.ID)
	}
	tokens := make([]string, 0, len(pc.Tokens))
	for _, raw := range pc.Tokens {
		token, err := dex.DecodeAddress(raw)
		if err != nil {
			return componentWrite{}, fmt.Errorf("token: %w", err)
		}
		tokens = append(tokens, token)
	}
	attrs, err := dex.DecodeAttributes(pc.StaticAttributes)
	if err != nil {
		return componentWrite{}, err
	}
	return componentWrite{component: Component{
		ID:               id,
		ProtocolSystem:   pc.ProtocolSystem,
		ProtocolTypeName: pc.ProtocolTypeName,
		Chain:            pc.Chain,
		Tokens:           tokens,
		StaticAttributes: attrs,
	}}, nil
}

func decodeBalance(rawToken string, cb model.ComponentBalance) (BalanceRecord, string, error) {
	token, err := dex.DecodeAddress(rawToken)
	if err != nil {
		return BalanceRecord{}, "", err
	}
	amount, err := dex.DecodeAmount(cb.Balance)
	if err != nil {
		return BalanceRecord{}, "", err
	}
	var modifyTx string
	if cb.ModifyTx != "" {
		if modifyTx, err = dex.DecodeHash(cb.ModifyTx); err != nil {
			return BalanceRecord{}, "", err
		}
	}
	return BalanceRecord{Balance: amount, BalanceFloat: cb.BalanceFloat, ModifyTx: modifyTx}, token, nil
}

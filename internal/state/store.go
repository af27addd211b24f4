package state

import (
	"sort"
	"sync"

	"github.com/holiman/uint256"
)

// Component is the stored metadata of a pool component. It is replaced wholesale.
type Component struct {
	ID               string
	ProtocolSystem   string
	ProtocolTypeName string
	Chain            string
	Tokens           []string
	StaticAttributes map[string][]byte
}

// BalanceRecord is the last known balance of one token held by one component.
type BalanceRecord struct {
	Balance      *uint256.Int
	BalanceFloat float64
	ModifyTx     string
}

// SyncStatus tracks per-exchange feed progress.
type SyncStatus struct {
	Block             uint64
	AwaitingSnapshot  bool
	SnapshotRequested bool
	RevertedAt        uint64
	// PendingComponents counts components tracked at the last revert that no
	// snapshot has refreshed yet.
	PendingComponents int
}

// Store is the materialized view of the feed. Component removal never cascades to
// balances or TVL; readers must tolerate orphaned entries.
type Store struct {
	mu         sync.RWMutex
	components map[string]Component
	balances   map[string]map[string]BalanceRecord
	tvl        map[string]float64
	sync       map[string]SyncStatus
	seen       map[string]struct{}
	members    map[string]map[string]struct{}
	pending    map[string]map[string]struct{}
}

func NewStore() *Store {
	return &Store{
		components: make(map[string]Component),
		balances:   make(map[string]map[string]BalanceRecord),
		tvl:        make(map[string]float64),
		sync:       make(map[string]SyncStatus),
		seen:       make(map[string]struct{}),
		members:    make(map[string]map[string]struct{}),
		pending:    make(map[string]map[string]struct{}),
	}
}

// Update runs fn with exclusive access. Readers observe either none or all of its writes.
func (s *Store) Update(fn func(tx *Tx)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&Tx{s: s})
}

// View runs fn against a consistent read-only view. The view must not escape fn.
func (s *Store) View(fn func(v View)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(View{s: s})
}

// Component returns a copy of a stored component.
func (s *Store) Component(id string) (Component, bool) {
	var (
		c  Component
		ok bool
	)
	s.View(func(v View) { c, ok = v.Component(id) })
	return c, ok
}

// Balance returns a copy of a stored balance record.
func (s *Store) Balance(componentID, token string) (BalanceRecord, bool) {
	var (
		b  BalanceRecord
		ok bool
	)
	s.View(func(v View) { b, ok = v.Balance(componentID, token) })
	return b, ok
}

// TVL returns the aggregate value estimate of a component.
func (s *Store) TVL(componentID string) (float64, bool) {
	var (
		tvl float64
		ok  bool
	)
	s.View(func(v View) { tvl, ok = v.TVL(componentID) })
	return tvl, ok
}

// Len returns the number of stored components.
func (s *Store) Len() int {
	var n int
	s.View(func(v View) { n = v.Len() })
	return n
}

// Sync returns the feed progress of an exchange.
func (s *Store) Sync(exchange string) (SyncStatus, bool) {
	var (
		st SyncStatus
		ok bool
	)
	s.View(func(v View) { st, ok = v.Sync(exchange) })
	return st, ok
}

// Dump is a deep copy of the whole store.
type Dump struct {
	Components map[string]Component
	Balances   map[string]map[string]BalanceRecord
	TVL        map[string]float64
}

// Dump returns a deep copy of the store contents.
func (s *Store) Dump() Dump {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d := Dump{
		Components: make(map[string]Component, len(s.components)),
		Balances:   make(map[string]map[string]BalanceRecord, len(s.balances)),
		TVL:        make(map[string]float64, len(s.tvl)),
	}
	for id, c := range s.components {
		d.Components[id] = cloneComponent(c)
	}
	for id, tokens := range s.balances {
		d.Balances[id] = cloneBalances(tokens)
	}
	for id, v := range s.tvl {
		d.TVL[id] = v
	}
	return d
}

// View is a read-only handle valid inside Store.View.
type View struct {
	s *Store
}

func (v View) Component(id string) (Component, bool) {
	c, ok := v.s.components[id]
	if !ok {
		return Component{}, false
	}
	return cloneComponent(c), true
}

func (v View) Balance(componentID, token string) (BalanceRecord, bool) {
	tokens, ok := v.s.balances[componentID]
	if !ok {
		return BalanceRecord{}, false
	}
	b, ok := tokens[token]
	if !ok {
		return BalanceRecord{}, false
	}
	return cloneBalance(b), true
}

// Balances returns every token balance of a component.
func (v View) Balances(componentID string) (map[string]BalanceRecord, bool) {
	tokens, ok := v.s.balances[componentID]
	if !ok || len(tokens) == 0 {
		return nil, false
	}
	return cloneBalances(tokens), true
}

func (v View) TVL(componentID string) (float64, bool) {
	tvl, ok := v.s.tvl[componentID]
	return tvl, ok
}

func (v View) Len() int {
	return len(v.s.components)
}

func (v View) Sync(exchange string) (SyncStatus, bool) {
	st, ok := v.s.sync[exchange]
	return st, ok
}

// ComponentIDs returns the stored component ids in sorted order.
func (v View) ComponentIDs() []string {
	ids := make([]string, 0, len(v.s.components))
	for id := range v.s.components {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Tx is a write handle valid inside Store.Update.
type Tx struct {
	s *Store
}

func (tx *Tx) View() View {
	return View{s: tx.s}
}

func (tx *Tx) PutComponent(c Component) {
	tx.s.components[c.ID] = cloneComponent(c)
	tx.s.seen[c.ID] = struct{}{}
}

// DeleteComponent removes the component entry only.
func (tx *Tx) DeleteComponent(id string) bool {
	_, ok := tx.s.components[id]
	delete(tx.s.components, id)
	return ok
}

func (tx *Tx) PutBalance(componentID, token string, b BalanceRecord) {
	tokens, ok := tx.s.balances[componentID]
	if !ok {
		tokens = make(map[string]BalanceRecord)
		tx.s.balances[componentID] = tokens
	}
	tokens[token] = cloneBalance(b)
}

func (tx *Tx) PutTVL(componentID string, tvl float64) {
	tx.s.tvl[componentID] = tvl
}

func (tx *Tx) SetSync(exchange string, st SyncStatus) {
	tx.s.sync[exchange] = st
}

func (tx *Tx) Sync(exchange string) SyncStatus {
	return tx.s.sync[exchange]
}

// AddMember records that exchange tracks component id.
func (tx *Tx) AddMember(exchange, id string) {
	ids, ok := tx.s.members[exchange]
	if !ok {
		ids = make(map[string]struct{})
		tx.s.members[exchange] = ids
	}
	ids[id] = struct{}{}
}

// DropMember forgets component id for exchange, including any pending refresh.
func (tx *Tx) DropMember(exchange, id string) {
	delete(tx.s.members[exchange], id)
	delete(tx.s.pending[exchange], id)
}

// MarkPending requires every component currently tracked by exchange to be
// refreshed by a snapshot. It returns the number of pending components.
func (tx *Tx) MarkPending(exchange string) int {
	ids := make(map[string]struct{}, len(tx.s.members[exchange]))
	for id := range tx.s.members[exchange] {
		ids[id] = struct{}{}
	}
	tx.s.pending[exchange] = ids
	return len(ids)
}

// Refreshed clears the pending refresh of one component.
func (tx *Tx) Refreshed(exchange, id string) {
	delete(tx.s.pending[exchange], id)
}

// Pending returns the number of components of exchange still awaiting a refresh.
func (tx *Tx) Pending(exchange string) int {
	return len(tx.s.pending[exchange])
}

// Seen reports whether a component was ever inserted during this session.
func (tx *Tx) Seen(id string) bool {
	_, ok := tx.s.seen[id]
	return ok
}

func cloneComponent(c Component) Component {
	out := c
	if c.Tokens != nil {
		out.Tokens = append([]string(nil), c.Tokens...)
	}
	if c.StaticAttributes != nil {
		out.StaticAttributes = make(map[string][]byte, len(c.StaticAttributes))
		for k, v := range c.StaticAttributes {
			out.StaticAttributes[k] = append([]byte(nil), v...)
		}
	}
	return out
}

func cloneBalance(b BalanceRecord) BalanceRecord {
	out := b
	if b.Balance != nil {
		out.Balance = b.Balance.Clone()
	}
	return out
}

func cloneBalances(tokens map[string]BalanceRecord) map[string]BalanceRecord {
	out := make(map[string]BalanceRecord, len(tokens))
	for token, b := range tokens {
		out[token] = cloneBalance(b)
	}
	return out
}

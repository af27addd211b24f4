package state

import (
	"fmt"
	"sort"
)

// ReconcileErrorKind classifies structural problems found while applying a message.
type ReconcileErrorKind string

const (
	UnknownComponent    ReconcileErrorKind = "unknown_component"
	InvalidComponent    ReconcileErrorKind = "invalid_component"
	ResnapshotFailed    ReconcileErrorKind = "resnapshot_failed"
	ResnapshotUnhandled ReconcileErrorKind = "resnapshot_unhandled"
)

// ReconcileError is a non-fatal structural problem reported in a Summary.
type ReconcileError struct {
	Kind        ReconcileErrorKind
	Exchange    string
	ComponentID string
	Err         error
}

func (e ReconcileError) Error() string {
	msg := fmt.Sprintf("%s: exchange=%s", e.Kind, e.Exchange)
	if e.ComponentID != "" {
		msg += " component=" + e.ComponentID
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e ReconcileError) Unwrap() error {
	return e.Err
}

// EntryError is a decode failure of a single entry that was skipped.
type EntryError struct {
	Section     string
	ComponentID string
	Token       string
	Err         error
}

func (e EntryError) Error() string {
	msg := fmt.Sprintf("%s component=%s", e.Section, e.ComponentID)
	if e.Token != "" {
		msg += " token=" + e.Token
	}
	return msg + ": " + e.Err.Error()
}

func (e EntryError) Unwrap() error {
	return e.Err
}

// ExchangeSummary describes what one message did to one exchange.
type ExchangeSummary struct {
	Exchange            string
	Block               uint64
	Revert              bool
	SnapshotStates      int
	NewComponents       int
	DeletedComponents   int
	RemovedComponents   int
	BalanceUpdates      int
	BalanceEntries      int
	TVLUpdates          int
	UpdatedComponents   []string
	AwaitingSnapshot    bool
	PendingComponents   int
	ResnapshotRequested bool
	DecodeErrors        []EntryError
	ReconcileErrors     []ReconcileError
}

// IsSnapshot reports whether the message carried snapshot states.
func (s ExchangeSummary) IsSnapshot() bool {
	return s.SnapshotStates > 0
}

// Summary is the result of applying one FeedMessage.
type Summary struct {
	Exchanges []ExchangeSummary
	StoreSize int
}

// Exchange returns the summary of a single exchange.
func (s Summary) Exchange(name string) (ExchangeSummary, bool) {
	for _, ex := range s.Exchanges {
		if ex.Exchange == name {
			return ex, true
		}
	}
	return ExchangeSummary{}, false
}

// ErrorCount returns the number of decode and reconcile errors across exchanges.
func (s Summary) ErrorCount() int {
	n := 0
	for _, ex := range s.Exchanges {
		n += len(ex.DecodeErrors) + len(ex.ReconcileErrors)
	}
	return n
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package model

// FeedMessage is one unit of the feed, keyed by exchange (protocol system).
type FeedMessage struct {
	StateMsgs  map[string]StateMessage `json:"state_msgs"`
	SyncStates map[string]SyncState    `json:"sync_states,omitempty"`
}

// StateMessage carries the state changes of a single exchange for one block.
type StateMessage struct {
	Header            Header                       `json:"header"`
	Snapshots         Snapshot                     `json:"snapshots"`
	Deltas            *BlockChanges                `json:"deltas,omitempty"`
	RemovedComponents map[string]ProtocolComponent `json:"removed_components,omitempty"`
}

// Header identifies the block a state message belongs to.
type Header struct {
	Hash       string `json:"hash"`
	Number     uint64 `json:"number"`
	ParentHash string `json:"parent_hash"`
	Revert     bool   `json:"revert"`
}

// SyncState is the synchronizer status reported next to each exchange.
type SyncState struct {
	Status string `json:"status"`
}

// Empty reports whether the message carries no state messages.
func (m FeedMessage) Empty() bool {
	return len(m.StateMsgs) == 0
}

package model

// Snapshot is a full or partial set of current component states.
type Snapshot struct {
	States map[string]ComponentWithState `json:"states"`
}

// ComponentWithState pairs a component with its snapshot-time state.
type ComponentWithState struct {
	State        ProtocolState     `json:"state"`
	Component    ProtocolComponent `json:"component"`
	ComponentTVL *float64          `json:"component_tvl,omitempty"`
}

// ProtocolState holds attribute and balance values as hex byte strings.
type ProtocolState struct {
	ComponentID string            `json:"component_id"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Balances    map[string]string `json:"balances,omitempty"`
}

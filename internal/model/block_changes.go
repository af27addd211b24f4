package model

// BlockChanges is the delta section of a state message.
type BlockChanges struct {
	Extractor                 string                                 `json:"extractor"`
	Chain                     string                                 `json:"chain"`
	NewProtocolComponents     map[string]ProtocolComponent           `json:"new_protocol_components,omitempty"`
	DeletedProtocolComponents map[string]ProtocolComponent           `json:"deleted_protocol_components,omitempty"`
	ComponentBalances         map[string]map[string]ComponentBalance `json:"component_balances,omitempty"`
	ComponentTVL              map[string]float64                     `json:"component_tvl,omitempty"`
}

package model

// ProtocolComponent is the wire form of a pool component.
type ProtocolComponent struct {
	ID               string            `json:"id"`
	ProtocolSystem   string            `json:"protocol_system"`
	ProtocolTypeName string            `json:"protocol_type_name"`
	Chain            string            `json:"chain"`
	Tokens           []string          `json:"tokens"`
	ContractIDs      []string          `json:"contract_ids,omitempty"`
	StaticAttributes map[string]string `json:"static_attributes,omitempty"`
	Change           string            `json:"change,omitempty"`
	CreationTx       string            `json:"creation_tx,omitempty"`
	CreatedAt        string            `json:"created_at,omitempty"`
}

package model

// ComponentBalance is a balance update for one token of a component.
type ComponentBalance struct {
	Token        string  `json:"token"`
	Balance      string  `json:"balance"`
	BalanceFloat float64 `json:"balance_float"`
	ModifyTx     string  `json:"modify_tx"`
	ComponentID  string  `json:"component_id"`
}

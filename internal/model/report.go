package model

import "time"

// Report is the observable output produced after each applied FeedMessage.
type Report struct {
	ObservedAt time.Time        `json:"observed_at"`
	StoreSize  int              `json:"store_size"`
	ErrorCount int              `json:"error_count"`
	Exchanges  []ExchangeReport `json:"exchanges"`
}

// ExchangeReport summarizes one exchange of a message.
type ExchangeReport struct {
	Exchange            string            `json:"exchange"`
	Block               uint64            `json:"block"`
	Revert              bool              `json:"revert"`
	IsSnapshot          bool              `json:"is_snapshot"`
	AwaitingSnapshot    bool              `json:"awaiting_snapshot"`
	PendingComponents   int               `json:"pending_components,omitempty"`
	ResnapshotRequested bool              `json:"resnapshot_requested"`
	SnapshotStates      int               `json:"snapshot_states"`
	NewComponents       int               `json:"new_components"`
	DeletedComponents   int               `json:"deleted_components"`
	RemovedComponents   int               `json:"removed_components"`
	BalanceUpdates      int               `json:"balance_updates"`
	TVLUpdates          int               `json:"tvl_updates"`
	Errors              []string          `json:"errors,omitempty"`
	Components          []ComponentReport `json:"components,omitempty"`
}

// ComponentReport is the current view of one component whose balances changed.
type ComponentReport struct {
	ID               string         `json:"id"`
	Tracked          bool           `json:"tracked"`
	TVL              *float64       `json:"tvl,omitempty"`
	Balances         []TokenBalance `json:"balances"`
	Quote            *QuoteReport   `json:"quote,omitempty"`
	QuoteUnavailable string         `json:"quote_unavailable,omitempty"`
}

// TokenBalance is one token balance; Formatted is set when token decimals are known.
type TokenBalance struct {
	Token     string  `json:"token"`
	Symbol    string  `json:"symbol,omitempty"`
	Raw       string  `json:"raw"`
	Float     float64 `json:"float"`
	Formatted string  `json:"formatted,omitempty"`
	ModifyTx  string  `json:"modify_tx,omitempty"`
}

// QuoteReport is the probe swap evaluated on a component.
type QuoteReport struct {
	TokenIn            string `json:"token_in"`
	TokenOut           string `json:"token_out"`
	AmountIn           string `json:"amount_in"`
	AmountOut          string `json:"amount_out"`
	AmountOutFormatted string `json:"amount_out_formatted,omitempty"`
	FeeBps             uint64 `json:"fee_bps"`
}

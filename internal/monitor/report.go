package monitor

import (
	"context"
	"sort"
	"time"

	"github.com/holiman/uint256"

	"tychoscope/internal/model"
	"tychoscope/internal/quote"
	"tychoscope/internal/state"
)

// Probe is the swap quoted on every updated component.
type Probe struct {
	TokenIn  string
	TokenOut string
	Amount   *uint256.Int
	FeeBps   uint64
}

// TokenMetaSource resolves token decimals and symbols.
type TokenMetaSource interface {
	Lookup(ctx context.Context, token string) (model.TokenMeta, bool)
}

// BuildReport reads the store once under a consistent view and describes what summary
// changed. Token metadata is resolved afterwards, outside the store lock.
func BuildReport(ctx context.Context, store *state.Store, summary state.Summary, probe Probe, meta TokenMetaSource, now time.Time) model.Report {
	report := model.Report{
		ObservedAt: now.UTC(),
		StoreSize:  summary.StoreSize,
		ErrorCount: summary.ErrorCount(),
		Exchanges:  make([]model.ExchangeReport, 0, len(summary.Exchanges)),
	}

	var rawBalances [][]*uint256.Int
	store.View(func(v state.View) {
		for _, ex := range summary.Exchanges {
			exReport := exchangeReport(ex)
			for _, id := range ex.UpdatedComponents {
				component, raw := componentReport(v, id, probe)
				exReport.Components = append(exReport.Components, component)
				rawBalances = append(rawBalances, raw)
			}
			report.Exchanges = append(report.Exchanges, exReport)
		}
	})

	if meta != nil {
		i := 0
		for e := range report.Exchanges {
			components := report.Exchanges[e].Components
			for c := range components {
				annotate(ctx, &components[c], rawBalances[i], meta)
				i++
			}
		}
	}
	return report
}

func exchangeReport(ex state.ExchangeSummary) model.ExchangeReport {
	r := model.ExchangeReport{
		Exchange:            ex.Exchange,
		Block:               ex.Block,
		Revert:              ex.Revert,
		IsSnapshot:          ex.IsSnapshot(),
		AwaitingSnapshot:    ex.AwaitingSnapshot,
		PendingComponents:   ex.PendingComponents,
		ResnapshotRequested: ex.ResnapshotRequested,
		SnapshotStates:      ex.SnapshotStates,
		NewComponents:       ex.NewComponents,
		DeletedComponents:   ex.DeletedComponents,
		RemovedComponents:   ex.RemovedComponents,
		BalanceUpdates:      ex.BalanceUpdates,
		TVLUpdates:          ex.TVLUpdates,
	}
	for _, err := range ex.DecodeErrors {
		r.Errors = append(r.Errors, err.Error())
	}
	for _, err := range ex.ReconcileErrors {
		r.Errors = append(r.Errors, err.Error())
	}
	return r
}

func componentReport(v state.View, id string, probe Probe) (model.ComponentReport, []*uint256.Int) {
	_, tracked := v.Component(id)
	r := model.ComponentReport{ID: id, Tracked: tracked}
	if tvl, ok := v.TVL(id); ok {
		r.TVL = &tvl
	}

	var raw []*uint256.Int
	if balances, ok := v.Balances(id); ok {
		for _, token := range sortedTokens(balances) {
			b := balances[token]
			r.Balances = append(r.Balances, model.TokenBalance{
				Token:    token,
				Raw:      b.Balance.Dec(),
				Float:    b.BalanceFloat,
				ModifyTx: b.ModifyTx,
			})
			raw = append(raw, b.Balance)
		}
	}

	if probe.Amount == nil || probe.TokenIn == "" || probe.TokenOut == "" {
		r.QuoteUnavailable = "no probe configured"
		return r, raw
	}
	q, err := quote.Pool(v, id, probe.TokenIn, probe.TokenOut, probe.Amount, probe.FeeBps)
	if err != nil {
		r.QuoteUnavailable = err.Error()
		return r, raw
	}
	r.Quote = &model.QuoteReport{
		TokenIn:   q.TokenIn,
		TokenOut:  q.TokenOut,
		AmountIn:  q.AmountIn.Dec(),
		AmountOut: q.AmountOut.Dec(),
		FeeBps:    q.FeeBps,
	}
	raw = append(raw, q.AmountOut)
	return r, raw
}

// annotate fills symbols and decimals-formatted amounts. raw holds the balance amounts in
// report order followed by the quote output when a quote exists.
func annotate(ctx context.Context, r *model.ComponentReport, raw []*uint256.Int, meta TokenMetaSource) {
	for i := range r.Balances {
		tm, ok := meta.Lookup(ctx, r.Balances[i].Token)
		if !ok {
			continue
		}
		r.Balances[i].Symbol = tm.Symbol
		r.Balances[i].Formatted = formatTokenAmount(raw[i], tm.Decimals)
	}
	if r.Quote == nil {
		return
	}
	if tm, ok := meta.Lookup(ctx, r.Quote.TokenOut); ok {
		r.Quote.AmountOutFormatted = formatTokenAmount(raw[len(raw)-1], tm.Decimals)
	}
}

func sortedTokens(balances map[string]state.BalanceRecord) []string {
	tokens := make([]string, 0, len(balances))
	for token := range balances {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	return tokens
}

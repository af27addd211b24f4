package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tychoscope/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS component_state (
	exchange     TEXT NOT NULL,
	component_id TEXT NOT NULL,
	block_number BIGINT NOT NULL,
	tvl          DOUBLE PRECISION,
	balances     JSONB NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (exchange, component_id)
);
CREATE TABLE IF NOT EXISTS quote_observations (
	exchange     TEXT NOT NULL,
	component_id TEXT NOT NULL,
	block_number BIGINT NOT NULL,
	token_in     TEXT NOT NULL,
	token_out    TEXT NOT NULL,
	amount_in    NUMERIC(78, 0) NOT NULL,
	amount_out   NUMERIC(78, 0) NOT NULL,
	fee_bps      INTEGER NOT NULL,
	observed_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (exchange, component_id, block_number, token_in, token_out)
);
`

// Store persists reports to Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// EnsureSchema creates the report tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// PutReport upserts the latest state of every reported component and records its quote.
func (s *Store) PutReport(ctx context.Context, report model.Report) error {
	batch := &pgx.Batch{}
	queueReport(batch, report)
	if batch.Len() == 0 {
		return nil
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("store report: %w", err)
		}
	}
	return nil
}

func queueReport(batch *pgx.Batch, report model.Report) {
	for _, ex := range report.Exchanges {
		for _, c := range ex.Components {
			batch.Queue(`
				INSERT INTO component_state (exchange, component_id, block_number, tvl, balances, updated_at)
				VALUES ($1, $2, $3, $4, $5, now())
				ON CONFLICT (exchange, component_id)
				DO UPDATE SET
					block_number = EXCLUDED.block_number,
					tvl = COALESCE(EXCLUDED.tvl, component_state.tvl),
					balances = EXCLUDED.balances,
					updated_at = now()
			`,
				ex.Exchange,
				c.ID,
				int64(ex.Block),
				c.TVL,
				balancesJSON(c.Balances),
			)

			if c.Quote == nil {
				continue
			}
			batch.Queue(`
				INSERT INTO quote_observations (
					exchange, component_id, block_number, token_in, token_out, amount_in, amount_out, fee_bps, observed_at
				) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8, $9)
				ON CONFLICT (exchange, component_id, block_number, token_in, token_out)
				DO UPDATE SET
					amount_in = EXCLUDED.amount_in,
					amount_out = EXCLUDED.amount_out,
					fee_bps = EXCLUDED.fee_bps,
					observed_at = EXCLUDED.observed_at
			`,
				ex.Exchange,
				c.ID,
				int64(ex.Block),
				c.Quote.TokenIn,
				c.Quote.TokenOut,
				c.Quote.AmountIn,
				c.Quote.AmountOut,
				int32(c.Quote.FeeBps),
				report.ObservedAt,
			)
		}
	}
}

// balancesJSON maps token to raw balance. pgx encodes the map as jsonb.
func balancesJSON(balances []model.TokenBalance) map[string]string {
	out := make(map[string]string, len(balances))
	for _, b := range balances {
		out[b.Token] = b.Raw
	}
	return out
}

package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pvzzle/yieldmint/internal/journal"
)

type Postgres struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Postgres { return &Postgres{pool: pool} }

func (r *Postgres) EnsureSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS settlement_attempts (
  id UUID PRIMARY KEY,
  account TEXT NOT NULL,

  amount DOUBLE PRECISION NOT NULL,
  amount_wei NUMERIC(78,0) NOT NULL,

  status TEXT NOT NULL, -- confirmed|reverted|timed_out|submission_failed

  tx_hash TEXT NULL,
  block_number BIGINT NULL,
  nonce BIGINT NULL,
  gas_price_wei NUMERIC(78,0) NULL,
  error TEXT NULL,

  started_at  TIMESTAMPTZ NOT NULL,
  finished_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS settlement_attempts_account_started_idx
  ON settlement_attempts(account, started_at DESC);
`
	_, err := r.pool.Exec(ctx, ddl)
	return err
}

func (r *Postgres) RecordAttempt(ctx context.Context, a journal.Attempt) error {
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var (
		blockNum any = nil
		nonce    any = nil
	)
	if a.BlockNum != nil {
		blockNum = int64(*a.BlockNum)
	}
	if a.Nonce != nil {
		nonce = int64(*a.Nonce)
	}

	q := `
INSERT INTO settlement_attempts(
  id, account, amount, amount_wei, status,
  tx_hash, block_number, nonce, gas_price_wei, error,
  started_at, finished_at
) VALUES (
  $1, $2, $3, $4::numeric, $5,
  $6, $7, $8, $9::numeric, $10,
  $11, $12
)
ON CONFLICT(id) DO UPDATE SET
  status        = EXCLUDED.status,
  tx_hash       = COALESCE(EXCLUDED.tx_hash, settlement_attempts.tx_hash),
  block_number  = COALESCE(EXCLUDED.block_number, settlement_attempts.block_number),
  nonce         = COALESCE(EXCLUDED.nonce, settlement_attempts.nonce),
  gas_price_wei = COALESCE(EXCLUDED.gas_price_wei, settlement_attempts.gas_price_wei),
  error         = EXCLUDED.error,
  finished_at   = EXCLUDED.finished_at
`
	_, err := r.pool.Exec(cctx, q,
		a.ID, a.Account, a.Amount, a.AmountWei, a.Status,
		a.TxHash, blockNum, nonce, a.GasPriceWei, a.Error,
		a.StartedAt, a.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert settlement attempt: %w", err)
	}
	return nil
}

func (r *Postgres) ListAttempts(ctx context.Context, account string, limit int) ([]journal.Attempt, error) {
	limit = journal.ClampLimit(limit)
	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	q := `
SELECT
  id, account, amount, amount_wei::text, status,
  tx_hash, block_number, nonce, gas_price_wei::text, error,
  started_at, finished_at
FROM settlement_attempts
WHERE account = $1
ORDER BY started_at DESC
LIMIT $2
`
	rows, err := r.pool.Query(cctx, q, account, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []journal.Attempt
	for rows.Next() {
		var (
			a        journal.Attempt
			id       uuid.UUID
			blockNum *int64
			nonce    *int64
		)
		if err := rows.Scan(
			&id, &a.Account, &a.Amount, &a.AmountWei, &a.Status,
			&a.TxHash, &blockNum, &nonce, &a.GasPriceWei, &a.Error,
			&a.StartedAt, &a.FinishedAt,
		); err != nil {
			return nil, err
		}
		a.ID = id
		if blockNum != nil {
			u := uint64(*blockNum)
			a.BlockNum = &u
		}
		if nonce != nil {
			u := uint64(*nonce)
			a.Nonce = &u
		}
		out = append(out, a)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return out, nil
}

// Close releases the pool the store was built on.
func (r *Postgres) Close() error {
	r.pool.Close()
	return nil
}

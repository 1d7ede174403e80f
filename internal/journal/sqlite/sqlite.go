package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/pvzzle/yieldmint/internal/journal"
)

// Store persists settlement attempts to a local SQLite file.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (or creates) the database. Call EnsureSchema before use.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS settlement_attempts (
			id            TEXT PRIMARY KEY,
			account       TEXT NOT NULL,
			amount        REAL NOT NULL,
			amount_wei    TEXT NOT NULL,
			status        TEXT NOT NULL,
			tx_hash       TEXT,
			block_number  INTEGER,
			nonce         INTEGER,
			gas_price_wei TEXT,
			error         TEXT,
			started_at    INTEGER NOT NULL,
			finished_at   INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_account_started ON settlement_attempts(account, started_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) RecordAttempt(ctx context.Context, a journal.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var blockNum, nonce sql.NullInt64
	if a.BlockNum != nil {
		blockNum = sql.NullInt64{Int64: int64(*a.BlockNum), Valid: true}
	}
	if a.Nonce != nil {
		nonce = sql.NullInt64{Int64: int64(*a.Nonce), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settlement_attempts (
			id, account, amount, amount_wei, status,
			tx_hash, block_number, nonce, gas_price_wei, error,
			started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			tx_hash = COALESCE(excluded.tx_hash, settlement_attempts.tx_hash),
			block_number = COALESCE(excluded.block_number, settlement_attempts.block_number),
			error = excluded.error,
			finished_at = excluded.finished_at`,
		a.ID.String(), a.Account, a.Amount, a.AmountWei, a.Status,
		nullString(a.TxHash), blockNum, nonce, nullString(a.GasPriceWei), nullString(a.Error),
		a.StartedAt.UnixNano(), a.FinishedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert settlement attempt: %w", err)
	}
	return nil
}

func (s *Store) ListAttempts(ctx context.Context, account string, limit int) ([]journal.Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account, amount, amount_wei, status,
		       tx_hash, block_number, nonce, gas_price_wei, error,
		       started_at, finished_at
		FROM settlement_attempts
		WHERE account = ?
		ORDER BY started_at DESC
		LIMIT ?`, account, journal.ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []journal.Attempt
	for rows.Next() {
		var (
			a                       journal.Attempt
			id                      string
			txHash, gasPrice, errS  sql.NullString
			blockNum, nonce         sql.NullInt64
			startedNano, finishNano int64
		)
		if err := rows.Scan(
			&id, &a.Account, &a.Amount, &a.AmountWei, &a.Status,
			&txHash, &blockNum, &nonce, &gasPrice, &errS,
			&startedNano, &finishNano,
		); err != nil {
			return nil, err
		}
		if a.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("attempt id %q: %w", id, err)
		}
		a.TxHash = stringPtr(txHash)
		a.GasPriceWei = stringPtr(gasPrice)
		a.Error = stringPtr(errS)
		if blockNum.Valid {
			u := uint64(blockNum.Int64)
			a.BlockNum = &u
		}
		if nonce.Valid {
			u := uint64(nonce.Int64)
			a.Nonce = &u
		}
		a.StartedAt = time.Unix(0, startedNano).UTC()
		a.FinishedAt = time.Unix(0, finishNano).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) Close() error { return s.db.Close() }

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

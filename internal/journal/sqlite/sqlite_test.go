package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvzzle/yieldmint/internal/journal"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.EnsureSchema(context.Background()))
	return s
}

func TestStore_RecordAndList(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	base := time.Date(2026, 2, 14, 10, 0, 0, 0, time.UTC)
	account := "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	hash := "0x" + "11111111111111111111111111111111" + "11111111111111111111111111111111"
	bn := uint64(123)
	nonce := uint64(7)
	errText := "send tx: insufficient funds"

	confirmed := journal.Attempt{
		ID:         uuid.New(),
		Account:    account,
		Amount:     1.5,
		AmountWei:  "1500000000000000000",
		Status:     "confirmed",
		TxHash:     &hash,
		BlockNum:   &bn,
		Nonce:      &nonce,
		StartedAt:  base.Add(time.Minute),
		FinishedAt: base.Add(time.Minute + time.Second),
	}
	failed := journal.Attempt{
		ID:         uuid.New(),
		Account:    account,
		Amount:     1,
		AmountWei:  "1000000000000000000",
		Status:     "submission_failed",
		Error:      &errText,
		StartedAt:  base,
		FinishedAt: base,
	}
	other := journal.Attempt{
		ID:         uuid.New(),
		Account:    "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		AmountWei:  "1",
		Status:     "confirmed",
		StartedAt:  base,
		FinishedAt: base,
	}

	for _, a := range []journal.Attempt{failed, confirmed, other} {
		require.NoError(t, s.RecordAttempt(ctx, a))
	}

	got, err := s.ListAttempts(ctx, account, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// newest first
	assert.Equal(t, confirmed.ID, got[0].ID)
	assert.Equal(t, hash, *got[0].TxHash)
	assert.Equal(t, bn, *got[0].BlockNum)
	assert.Equal(t, nonce, *got[0].Nonce)
	assert.Nil(t, got[0].Error)
	assert.True(t, confirmed.StartedAt.Equal(got[0].StartedAt))

	assert.Equal(t, failed.ID, got[1].ID)
	assert.Nil(t, got[1].TxHash)
	assert.Nil(t, got[1].Nonce)
	assert.Equal(t, errText, *got[1].Error)

	limited, err := s.ListAttempts(ctx, account, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestStore_RecordIsUpsert(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	now := time.Now().UTC()
	a := journal.Attempt{
		ID:         uuid.New(),
		Account:    "0xabc",
		AmountWei:  "1",
		Status:     "timed_out",
		StartedAt:  now,
		FinishedAt: now,
	}
	require.NoError(t, s.RecordAttempt(ctx, a))

	a.Status = "confirmed"
	require.NoError(t, s.RecordAttempt(ctx, a))

	got, err := s.ListAttempts(ctx, "0xabc", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "confirmed", got[0].Status)
}

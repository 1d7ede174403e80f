package journal

import (
	"time"

	"github.com/google/uuid"
)

const (
	DefaultListLimit = 10
	MaxListLimit     = 100
)

// Attempt is one settlement attempt as seen by the coordinator.
type Attempt struct {
	ID          uuid.UUID
	Account     string
	Amount      float64
	AmountWei   string // big.Int as decimal string
	Status      string
	TxHash      *string
	BlockNum    *uint64
	Nonce       *uint64 // nil when nothing was signed
	GasPriceWei *string
	Error       *string
	StartedAt   time.Time
	FinishedAt  time.Time
}

func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type Status int

const (
	StatusConfirmed Status = iota + 1
	StatusReverted
	StatusTimedOut
	StatusSubmissionFailed
)

func (s Status) String() string {
	switch s {
	case StatusConfirmed:
		return "confirmed"
	case StatusReverted:
		return "reverted"
	case StatusTimedOut:
		return "timed_out"
	case StatusSubmissionFailed:
		return "submission_failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of one Mint call.
//
// TxHash is set for every status except SubmissionFailed (and may be set there
// too when the node rejected an already signed transaction). A TimedOut
// transaction can still land on-chain later; nothing tracks it afterwards.
type Outcome struct {
	Status      Status
	TxHash      common.Hash
	BlockNumber uint64
	Nonce       uint64
	GasPrice    *big.Int
	AmountWei   *big.Int
	Err         error
}

func (o Outcome) Confirmed() bool { return o.Status == StatusConfirmed }

func (o Outcome) HasTx() bool { return o.TxHash != (common.Hash{}) }

func failed(amountWei *big.Int, err error) Outcome {
	return Outcome{Status: StatusSubmissionFailed, AmountWei: amountWei, Err: err}
}

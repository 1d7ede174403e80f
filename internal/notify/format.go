package notify

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/pvzzle/yieldmint/internal/chain"
	"github.com/pvzzle/yieldmint/internal/journal"
	"github.com/pvzzle/yieldmint/internal/settlement"
)

func FormatOutcome(account string, out chain.Outcome) string {
	var sb strings.Builder

	switch out.Status {
	case chain.StatusConfirmed:
		sb.WriteString("✅ Settlement confirmed\n")
	case chain.StatusReverted:
		sb.WriteString("❌ Settlement reverted\n")
	case chain.StatusTimedOut:
		sb.WriteString("⏳ Settlement timed out\n")
	default:
		sb.WriteString("⚠️ Settlement not submitted\n")
	}

	fmt.Fprintf(&sb, "\nAccount: %s\nAmount: %s tokens", account, chain.FormatUnits(out.AmountWei))
	if out.HasTx() {
		fmt.Fprintf(&sb, "\nTx: %s\nNonce: %d", shortenHash(out.TxHash.Hex()), out.Nonce)
	}
	if out.Status == chain.StatusConfirmed {
		fmt.Fprintf(&sb, "\nBlock: #%d", out.BlockNumber)
	}
	if out.Err != nil && out.Status != chain.StatusConfirmed {
		fmt.Fprintf(&sb, "\nError: %v", out.Err)
	}
	return sb.String()
}

func FormatStats(st settlement.Stats) string {
	minted := st.MintedWei
	if minted == nil {
		minted = new(big.Int)
	}
	return fmt.Sprintf(
		"📊 Engine stats\n\nAccounts: %d\nAttempts: %d (confirmed %d, reverted %d, timed out %d, failed %d)\nMinted: %s tokens\nSince: %s",
		st.Accounts,
		st.Attempts(),
		st.Confirmed, st.Reverted, st.TimedOut, st.Failed,
		chain.FormatUnits(minted),
		st.Since.UTC().Format(time.RFC3339),
	)
}

// FormatAttempts renders journal rows newest first.
func FormatAttempts(account string, items []journal.Attempt) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🕘 Settlements for %s\n\n", shortenHash(account))

	if len(items) == 0 {
		sb.WriteString("No attempts recorded.")
		return sb.String()
	}

	for _, it := range items {
		wei, ok := new(big.Int).SetString(it.AmountWei, 10)
		if !ok {
			wei = new(big.Int)
		}

		hash := "no tx"
		if it.TxHash != nil {
			hash = shortenHash(*it.TxHash)
		}

		bn := ""
		if it.BlockNum != nil {
			bn = fmt.Sprintf(" #%d", *it.BlockNum)
		}

		fmt.Fprintf(&sb, "• %s %s (%s)%s\n  %s tokens\n",
			it.StartedAt.UTC().Format("2006-01-02 15:04:05"),
			hash, it.Status, bn, chain.FormatUnits(wei),
		)
	}
	return sb.String()
}

func shortenHash(h string) string {
	if len(h) <= 14 {
		return h
	}
	return h[:10] + "…" + h[len(h)-4:]
}

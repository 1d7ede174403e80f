package settlement

import (
	"time"

	"github.com/pvzzle/yieldmint/internal/chain"
	"github.com/pvzzle/yieldmint/internal/ledger"
)

const DefaultInterval = 5 * time.Second

type Scheduler struct {
	Interval time.Duration
}

// ShouldAttempt is the go/no-go for settling acct at now. An unavailable chain
// and a pending amount below one wei are silent skips, not failures.
func (s Scheduler) ShouldAttempt(acct ledger.Account, now time.Time, chainAvailable bool) bool {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	if now.Sub(acct.LastSettlementAttempt) < interval {
		return false
	}
	if !chainAvailable {
		return false
	}
	return chain.ToWei(acct.Pending).Sign() > 0
}

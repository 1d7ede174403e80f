package settlement

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pvzzle/yieldmint/internal/chain"
	"github.com/pvzzle/yieldmint/internal/journal"
	"github.com/pvzzle/yieldmint/internal/ledger"
	"github.com/pvzzle/yieldmint/internal/metrics"
)

// PendingRewardsFraction is the share of the total reported as "pending rewards".
// It is a display figure only; nothing is escrowed.
const PendingRewardsFraction = 0.1

type Minter interface {
	Available() bool
	Mint(ctx context.Context, to string, amount float64) chain.Outcome
}

// Sink receives every settlement attempt after it has been applied to the ledger.
type Sink interface {
	OnSettlement(ev Event)
}

type SinkFunc func(ev Event)

func (f SinkFunc) OnSettlement(ev Event) { f(ev) }

type Event struct {
	Account string
	Amount  float64
	Outcome chain.Outcome
	At      time.Time
}

type Snapshot struct {
	TotalProfit     float64 `json:"totalProfit"`
	HourlyRate      float64 `json:"hourlyRate"`
	DailyProfit     float64 `json:"dailyProfit"`
	ActivePositions int     `json:"activePositions"`
	PendingRewards  float64 `json:"pendingRewards"`
	TotalAPYPercent string  `json:"total_apy_percent"`
	AIBoost         float64 `json:"ai_boost"`

	Settlement *chain.Outcome `json:"-"`
}

type Stats struct {
	Accounts  int
	Confirmed uint64
	Reverted  uint64
	TimedOut  uint64
	Failed    uint64
	MintedWei *big.Int
	Since     time.Time
}

func (s Stats) Attempts() uint64 { return s.Confirmed + s.Reverted + s.TimedOut + s.Failed }

type Coordinator struct {
	ledger  *ledger.Ledger
	minter  Minter
	sched   Scheduler
	journal journal.Repository
	sink    Sink
	log     *logrus.Entry

	statsMu sync.Mutex
	stats   Stats
}

type Option func(*Coordinator)

func WithInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.sched.Interval = d }
}

func WithJournal(r journal.Repository) Option {
	return func(c *Coordinator) {
		if r != nil {
			c.journal = r
		}
	}
}

func WithSink(s Sink) Option {
	return func(c *Coordinator) { c.sink = s }
}

func WithLogger(l *logrus.Entry) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

func NewCoordinator(l *ledger.Ledger, m Minter, opts ...Option) *Coordinator {
	c := &Coordinator{
		ledger:  l,
		minter:  m,
		sched:   Scheduler{Interval: DefaultInterval},
		journal: journal.Noop{},
		log:     logrus.NewEntry(logrus.StandardLogger()),
		stats:   Stats{MintedWei: new(big.Int), Since: time.Now()},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) Ledger() *ledger.Ledger { return c.ledger }

func (c *Coordinator) ChainAvailable() bool { return c.minter != nil && c.minter.Available() }

// Start begins tracking account, discarding any previous unsettled accrual.
func (c *Coordinator) Start(account string, strategies []string, now time.Time) ledger.Account {
	unlock := c.ledger.Lock(account)
	defer unlock()

	a := c.ledger.Open(account, strategies, now)
	metrics.LedgerAccounts.Set(float64(c.ledger.Len()))
	c.log.WithFields(logrus.Fields{"account": a.Address, "strategies": len(strategies)}).Info("engine started")
	return a
}

// Stop drops account and its unsettled accrual. Waits for an in-flight settlement of the same account.
func (c *Coordinator) Stop(account string) bool {
	unlock := c.ledger.Lock(account)
	defer unlock()

	ok := c.ledger.Close(account)
	metrics.LedgerAccounts.Set(float64(c.ledger.Len()))
	if ok {
		c.log.WithField("account", ledger.Normalize(account)).Info("engine stopped")
	}
	return ok
}

// Metrics accrues account up to now, settles it when the scheduler allows,
// and returns the figures shown to the user. It never fails: settlement
// problems are logged and leave the pending amount in place for the next window.
func (c *Coordinator) Metrics(ctx context.Context, account string, now time.Time) Snapshot {
	key := ledger.Normalize(account)

	unlock := c.ledger.Lock(key)
	defer unlock()

	increment, total, acct := c.ledger.Accrue(key, now)
	metrics.LedgerAccounts.Set(float64(c.ledger.Len()))

	snap := c.snapshot(acct, increment, total, now)

	if c.sched.ShouldAttempt(acct, now, c.ChainAvailable()) {
		out := c.settle(ctx, key, total, now)
		snap.Settlement = &out
	}
	return snap
}

func (c *Coordinator) snapshot(acct ledger.Account, increment, total float64, now time.Time) Snapshot {
	model := c.ledger.Model()

	var hourly float64
	if running := now.Sub(acct.AccrualStart).Seconds(); running > 0 {
		hourly = increment / running * 3600
	}

	return Snapshot{
		TotalProfit:     total,
		HourlyRate:      hourly,
		DailyProfit:     hourly * 24,
		ActivePositions: model.StrategyCount(),
		PendingRewards:  total * PendingRewardsFraction,
		TotalAPYPercent: fmt.Sprintf("%.2f%%", model.EffectiveRate()*100),
		AIBoost:         model.Boost(),
	}
}

// settle runs with the account lock held.
func (c *Coordinator) settle(ctx context.Context, account string, amount float64, now time.Time) chain.Outcome {
	started := time.Now()
	out := c.minter.Mint(ctx, account, amount)
	finished := time.Now()
	metrics.MintDuration.Observe(finished.Sub(started).Seconds())

	if out.Confirmed() {
		c.ledger.MarkSettled(account, now)
	} else {
		// A TimedOut transaction may still confirm later; it is not reconciled
		// and the same value will be offered again next window.
		c.ledger.MarkAttemptFailed(account, now)
	}

	c.record(ctx, account, amount, out, started, finished)
	return out
}

func (c *Coordinator) record(ctx context.Context, account string, amount float64, out chain.Outcome, started, finished time.Time) {
	fields := logrus.Fields{
		"account": account,
		"amount":  chain.FormatUnits(out.AmountWei),
		"outcome": out.Status.String(),
	}
	if out.HasTx() {
		fields["tx_hash"] = out.TxHash.Hex()
		fields["nonce"] = out.Nonce
	}
	log := c.log.WithFields(fields)

	metrics.SettlementAttempts.WithLabelValues(out.Status.String()).Inc()

	c.statsMu.Lock()
	switch out.Status {
	case chain.StatusConfirmed:
		c.stats.Confirmed++
		if out.AmountWei != nil {
			c.stats.MintedWei.Add(c.stats.MintedWei, out.AmountWei)
		}
	case chain.StatusReverted:
		c.stats.Reverted++
	case chain.StatusTimedOut:
		c.stats.TimedOut++
	default:
		c.stats.Failed++
	}
	c.statsMu.Unlock()

	switch out.Status {
	case chain.StatusConfirmed:
		metrics.MintedTokens.Add(chain.ToTokens(out.AmountWei))
		log.WithField("block", out.BlockNumber).Info("settlement confirmed")
	case chain.StatusTimedOut:
		log.WithError(out.Err).Warn("settlement timed out; transaction may still be pending")
	default:
		log.WithError(out.Err).Warn("settlement failed; pending amount retained")
	}

	attempt := toAttempt(account, amount, out, started, finished)
	if err := c.journal.RecordAttempt(context.WithoutCancel(ctx), attempt); err != nil {
		log.WithError(err).Error("journal write failed")
	}

	if c.sink != nil {
		c.sink.OnSettlement(Event{Account: account, Amount: amount, Outcome: out, At: finished})
	}
}

func (c *Coordinator) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()

	out := c.stats
	out.MintedWei = new(big.Int).Set(c.stats.MintedWei)
	out.Accounts = c.ledger.Len()
	return out
}

// History returns the most recent journaled attempts for account.
func (c *Coordinator) History(ctx context.Context, account string, limit int) ([]journal.Attempt, error) {
	return c.journal.ListAttempts(ctx, ledger.Normalize(account), limit)
}

func toAttempt(account string, amount float64, out chain.Outcome, started, finished time.Time) journal.Attempt {
	a := journal.Attempt{
		ID:         uuid.New(),
		Account:    account,
		Amount:     amount,
		AmountWei:  "0",
		Status:     out.Status.String(),
		StartedAt:  started.UTC(),
		FinishedAt: finished.UTC(),
	}
	if out.AmountWei != nil {
		a.AmountWei = out.AmountWei.String()
	}
	if out.HasTx() {
		h := out.TxHash.Hex()
		n := out.Nonce
		a.TxHash = &h
		a.Nonce = &n
	}
	if out.GasPrice != nil {
		gp := out.GasPrice.String()
		a.GasPriceWei = &gp
	}
	if out.Status == chain.StatusConfirmed || out.Status == chain.StatusReverted {
		bn := out.BlockNumber
		a.BlockNum = &bn
	}
	if out.Err != nil {
		e := out.Err.Error()
		a.Error = &e
	}
	return a
}

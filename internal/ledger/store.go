package ledger

import (
	"strings"
	"sync"
	"time"

	"github.com/pvzzle/yieldmint/internal/yield"
)

// DefaultPrincipal is the notional stake every account accrues against.
const DefaultPrincipal = 100000.0

type Account struct {
	Address               string
	AccrualStart          time.Time
	LastSettlementAttempt time.Time
	Pending               float64
	Strategies            []string
}

// Ledger keeps per-account accrual state for the lifetime of the process.
type Ledger struct {
	model     *yield.Model
	principal float64

	mu       sync.Mutex
	accounts map[string]*Account
	locks    map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func New(model *yield.Model, principal float64) *Ledger {
	if principal <= 0 {
		principal = DefaultPrincipal
	}
	return &Ledger{
		model:     model,
		principal: principal,
		accounts:  make(map[string]*Account),
		locks:     make(map[string]*keyLock),
	}
}

func Normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

func (l *Ledger) Model() *yield.Model { return l.model }

func (l *Ledger) Principal() float64 { return l.principal }

// Lock serializes multi-step work on a single account. Other accounts are unaffected.
func (l *Ledger) Lock(address string) (unlock func()) {
	key := Normalize(address)

	l.mu.Lock()
	kl := l.locks[key]
	if kl == nil {
		kl = &keyLock{}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			kl.mu.Unlock()

			l.mu.Lock()
			kl.refs--
			if kl.refs == 0 {
				delete(l.locks, key)
			}
			l.mu.Unlock()
		})
	}
}

// Open starts (or restarts) tracking. Any unsettled pending amount is discarded.
func (l *Ledger) Open(address string, strategies []string, now time.Time) Account {
	key := Normalize(address)

	l.mu.Lock()
	defer l.mu.Unlock()

	a := &Account{
		Address:               key,
		AccrualStart:          now,
		LastSettlementAttempt: now,
		Strategies:            append([]string(nil), strategies...),
	}
	l.accounts[key] = a
	return copyAccount(a)
}

// Accrue adds the return earned since AccrualStart to Pending and reports the
// increment together with the new cumulative Pending. The elapsed time is the
// whole session age, not the gap since the previous call.
func (l *Ledger) Accrue(address string, now time.Time) (increment, pending float64, acct Account) {
	key := Normalize(address)

	l.mu.Lock()
	defer l.mu.Unlock()

	a := l.getOrCreate(key, now)
	increment = l.model.Project(l.principal, now.Sub(a.AccrualStart))
	a.Pending += increment
	return increment, a.Pending, copyAccount(a)
}

// Close stops tracking and drops unsettled value. Reports whether the account existed.
func (l *Ledger) Close(address string) bool {
	key := Normalize(address)

	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.accounts[key]
	delete(l.accounts, key)
	return ok
}

func (l *Ledger) MarkSettled(address string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if a := l.accounts[Normalize(address)]; a != nil {
		a.Pending = 0
		a.LastSettlementAttempt = now
	}
}

// MarkAttemptFailed keeps Pending but still advances the settlement cooldown.
func (l *Ledger) MarkAttemptFailed(address string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if a := l.accounts[Normalize(address)]; a != nil {
		a.LastSettlementAttempt = now
	}
}

// Get returns a copy so callers can't mutate ledger state.
func (l *Ledger) Get(address string) (Account, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	a := l.accounts[Normalize(address)]
	if a == nil {
		return Account{}, false
	}
	return copyAccount(a), true
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.accounts)
}

func (l *Ledger) getOrCreate(key string, now time.Time) *Account {
	a := l.accounts[key]
	if a == nil {
		a = &Account{
			Address:               key,
			AccrualStart:          now,
			LastSettlementAttempt: now,
		}
		l.accounts[key] = a
	}
	return a
}

func copyAccount(a *Account) Account {
	out := *a
	out.Strategies = append([]string(nil), a.Strategies...)
	return out
}

package ledger

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvzzle/yieldmint/internal/yield"
)

var t0 = time.Date(2026, 2, 14, 10, 0, 0, 0, time.UTC)

func newLedger() *Ledger {
	return New(yield.NewModel(yield.DefaultTable()), DefaultPrincipal)
}

func TestLedger_AccrueMatchesModel(t *testing.T) {
	l := newLedger()
	l.Open("0xABC", nil, t0)

	inc, pending, acct := l.Accrue("0xabc", t0.Add(time.Hour))

	want := DefaultPrincipal * l.Model().EffectiveRate() / 8760
	assert.InDelta(t, want, inc, 1e-9)
	assert.InDelta(t, want, pending, 1e-9)
	assert.Equal(t, "0xabc", acct.Address)
}

func TestLedger_AccrueCompoundsSessionAge(t *testing.T) {
	l := newLedger()
	l.Open("0xabc", nil, t0)

	inc1, _, _ := l.Accrue("0xabc", t0.Add(10*time.Second))
	inc2, pending, _ := l.Accrue("0xabc", t0.Add(20*time.Second))

	// second increment is measured from AccrualStart, so it is twice the first
	assert.InDelta(t, 2*inc1, inc2, 1e-12)
	assert.InDelta(t, inc1+inc2, pending, 1e-12)
}

func TestLedger_PendingMonotonicUntilSettled(t *testing.T) {
	l := newLedger()
	l.Open("0xabc", nil, t0)

	prev := 0.0
	for i := 1; i <= 5; i++ {
		_, pending, _ := l.Accrue("0xabc", t0.Add(time.Duration(i)*time.Second))
		require.GreaterOrEqual(t, pending, prev)
		prev = pending
	}

	l.MarkAttemptFailed("0xabc", t0.Add(6*time.Second))
	a, _ := l.Get("0xabc")
	assert.Equal(t, prev, a.Pending)
	assert.Equal(t, t0.Add(6*time.Second), a.LastSettlementAttempt)

	l.MarkSettled("0xabc", t0.Add(7*time.Second))
	a, _ = l.Get("0xabc")
	assert.Zero(t, a.Pending)
	assert.Equal(t, t0.Add(7*time.Second), a.LastSettlementAttempt)
}

func TestLedger_OpenTwiceResets(t *testing.T) {
	l := newLedger()
	l.Open("0xabc", []string{"convex"}, t0)
	_, pending, _ := l.Accrue("0xabc", t0.Add(time.Hour))
	require.Positive(t, pending)

	second := t0.Add(2 * time.Hour)
	a := l.Open("0xabc", []string{"staking"}, second)

	assert.Zero(t, a.Pending)
	assert.Equal(t, second, a.AccrualStart)
	assert.Equal(t, second, a.LastSettlementAttempt)
	assert.Equal(t, []string{"staking"}, a.Strategies)
}

func TestLedger_CloseThenAccrueStartsFresh(t *testing.T) {
	l := newLedger()
	l.Open("0xabc", nil, t0)
	l.Accrue("0xabc", t0.Add(time.Hour))

	require.True(t, l.Close("0xABC"))
	require.False(t, l.Close("0xabc"))
	_, ok := l.Get("0xabc")
	require.False(t, ok)

	later := t0.Add(3 * time.Hour)
	inc, pending, a := l.Accrue("0xabc", later)
	assert.Zero(t, inc)
	assert.Zero(t, pending)
	assert.Equal(t, later, a.AccrualStart)
}

func TestLedger_MarksOnMissingAccountAreNoops(t *testing.T) {
	l := newLedger()
	l.MarkSettled("0xdead", t0)
	l.MarkAttemptFailed("0xdead", t0)
	assert.Zero(t, l.Len())
}

func TestLedger_GetIsCopy(t *testing.T) {
	l := newLedger()
	l.Open("0xabc", []string{"a"}, t0)

	a, _ := l.Get("0xabc")
	a.Strategies[0] = "mutated"
	a.Pending = 99

	b, _ := l.Get("0xabc")
	assert.Equal(t, "a", b.Strategies[0])
	assert.Zero(t, b.Pending)
}

func TestLedger_LockIsPerAccount(t *testing.T) {
	l := newLedger()

	unlockA := l.Lock("0xaaa")

	done := make(chan struct{})
	go func() {
		unlockB := l.Lock("0xbbb")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different account blocked")
	}

	blocked := make(chan struct{})
	go func() {
		unlock := l.Lock("0xAAA")
		close(blocked)
		unlock()
	}()

	select {
	case <-blocked:
		t.Fatal("same account lock acquired twice")
	case <-time.After(50 * time.Millisecond):
	}

	unlockA()
	unlockA() // idempotent

	select {
	case <-blocked:
	case <-time.After(time.Second):
		t.Fatal("waiter not released")
	}
}

func TestLedger_LockEntriesReleased(t *testing.T) {
	l := newLedger()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("0xabc")
			l.Accrue("0xabc", t0.Add(time.Second))
			unlock()
		}()
	}
	wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.locks)
}

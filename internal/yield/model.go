package yield

import "time"

// SecondsPerYear uses a flat 365-day year; no leap-year adjustment.
const SecondsPerYear = 365 * 86400

// Model turns a strategy table into an effective annual rate.
// It is immutable after construction and safe for concurrent use.
type Model struct {
	table Table
	rate  float64
}

func NewModel(t Table) *Model {
	var sum float64
	for _, s := range t.Strategies {
		sum += s.APY * s.Weight
	}
	strategies := make([]Strategy, len(t.Strategies))
	copy(strategies, t.Strategies)
	return &Model{
		table: Table{Boost: t.Boost, Strategies: strategies},
		rate:  sum * t.Boost,
	}
}

// EffectiveRate is Σ(apy*weight)*boost as an annual fraction (1.0 == 100%).
func (m *Model) EffectiveRate() float64 { return m.rate }

func (m *Model) PerSecond() float64 { return m.rate / SecondsPerYear }

// Project returns the return on principal over elapsed. Negative durations yield zero.
func (m *Model) Project(principal float64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return principal * m.PerSecond() * elapsed.Seconds()
}

func (m *Model) Boost() float64 { return m.table.Boost }

func (m *Model) StrategyCount() int { return len(m.table.Strategies) }

func (m *Model) Strategies() []Strategy {
	out := make([]Strategy, len(m.table.Strategies))
	copy(out, m.table.Strategies)
	return out
}

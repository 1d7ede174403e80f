package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Settlement
	SettlementAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "yieldmint",
		Subsystem: "settlement",
		Name:      "attempts_total",
		Help:      "Settlement attempts partitioned by outcome",
	}, []string{"outcome"})

	MintDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "yieldmint",
		Subsystem: "settlement",
		Name:      "mint_duration_seconds",
		Help:      "Wall time of a mint call, submission through receipt",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 15, 30, 60, 120},
	})

	MintedTokens = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "yieldmint",
		Subsystem: "settlement",
		Name:      "minted_tokens_total",
		Help:      "Tokens minted by confirmed settlements",
	})

	// Ledger
	LedgerAccounts = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "yieldmint",
		Subsystem: "ledger",
		Name:      "accounts",
		Help:      "Accounts currently tracked",
	})

	// Chain
	ChainAvailable = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "yieldmint",
		Subsystem: "chain",
		Name:      "available",
		Help:      "1 when the node is reachable and a signing key is configured",
	})

	// HTTP
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "yieldmint",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests handled",
	}, []string{"method", "path", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "yieldmint",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"method", "path"})
)

func SetChainAvailable(ok bool) {
	if ok {
		ChainAvailable.Set(1)
		return
	}
	ChainAvailable.Set(0)
}

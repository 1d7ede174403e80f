// Command loadtest drives the engine HTTP API with a mix of metrics queries
// and engine starts, ramping from an average to a peak request rate.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

type opType int

const (
	opMetrics opType = iota
	opStart
)

type target struct {
	base    string
	client  *http.Client
	wallets int
}

func main() {
	var (
		baseURL = flag.String("url", "http://localhost:8000", "engine base URL")
		dur     = flag.Duration("dur", 60*time.Second, "test duration")
		warmup  = flag.Duration("warmup", 5*time.Second, "warmup duration (not counted)")
		avgRPS  = flag.Int("avg-rps", 50, "avg RPS")
		peakRPS = flag.Int("peak-rps", 200, "peak RPS (during ramp)")
		ramp    = flag.Duration("ramp", 10*time.Second, "ramp-up duration to peak")
		ratio   = flag.Int("rw", 15, "metrics queries per engine start")
		workers = flag.Int("workers", 64, "concurrent workers")
		wallets = flag.Int("wallets", 2000, "distinct simulated wallets")
	)
	flag.Parse()

	tg := &target{
		base:    strings.TrimRight(*baseURL, "/"),
		client:  &http.Client{Timeout: 3 * time.Minute},
		wallets: *wallets,
	}

	ctx := context.Background()
	if err := tg.ping(ctx); err != nil {
		panic(err)
	}

	fmt.Println("starting warmup:", *warmup)
	runPhase(ctx, tg, *workers, *avgRPS, *avgRPS, 0, *warmup, *ratio, false)

	fmt.Println("starting measured test:", *dur)
	res := runPhase(ctx, tg, *workers, *avgRPS, *peakRPS, *ramp, *dur, *ratio, true)

	printReport(res)
}

type results struct {
	totalOps   uint64
	metricOps  uint64
	startOps   uint64
	errOps     uint64
	limited    uint64
	latencies  []time.Duration
	startedAt  time.Time
	finishedAt time.Time
}

func runPhase(
	ctx context.Context,
	tg *target,
	workers int,
	avgRPS int,
	peakRPS int,
	ramp time.Duration,
	dur time.Duration,
	ratio int,
	collect bool,
) *results {
	ctx, cancel := context.WithTimeout(ctx, dur)
	defer cancel()

	lim := rate.NewLimiter(rate.Limit(avgRPS), avgRPS)
	jobs := make(chan opType, 1024)

	var (
		res = &results{startedAt: time.Now()}
		mu  sync.Mutex
		wg  sync.WaitGroup
	)

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano()))
			for op := range jobs {
				t0 := time.Now()
				status, err := tg.do(ctx, op, r)
				dt := time.Since(t0)

				atomic.AddUint64(&res.totalOps, 1)
				if op == opMetrics {
					atomic.AddUint64(&res.metricOps, 1)
				} else {
					atomic.AddUint64(&res.startOps, 1)
				}
				if status == http.StatusTooManyRequests {
					atomic.AddUint64(&res.limited, 1)
				}
				if err != nil {
					atomic.AddUint64(&res.errOps, 1)
					continue
				}
				if collect {
					mu.Lock()
					res.latencies = append(res.latencies, dt)
					mu.Unlock()
				}
			}
		}()
	}

	go func() {
		defer close(jobs)

		pattern := make([]opType, 0, ratio+1)
		for i := 0; i < ratio; i++ {
			pattern = append(pattern, opMetrics)
		}
		pattern = append(pattern, opStart)
		idx := 0

		rampStart := time.Now()
		for {
			if err := lim.Wait(ctx); err != nil {
				return
			}
			if ramp > 0 {
				if el := time.Since(rampStart); el < ramp {
					cur := float64(avgRPS) + float64(peakRPS-avgRPS)*(float64(el)/float64(ramp))
					lim.SetLimit(rate.Limit(cur))
				} else {
					lim.SetLimit(rate.Limit(peakRPS))
				}
			}

			jobs <- pattern[idx]
			idx = (idx + 1) % len(pattern)
		}
	}()

	wg.Wait()
	res.finishedAt = time.Now()
	return res
}

func (t *target) wallet(r *rand.Rand) string {
	return fmt.Sprintf("0x%040x", r.Intn(t.wallets)+1)
}

func (t *target) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.base+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check: status %d", resp.StatusCode)
	}
	return nil
}

func (t *target) do(ctx context.Context, op opType, r *rand.Rand) (int, error) {
	var (
		req *http.Request
		err error
	)
	wallet := t.wallet(r)

	switch op {
	case opStart:
		body, _ := json.Marshal(map[string]any{"walletAddress": wallet, "strategies": []string{"aave_lending"}})
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, t.base+"/api/engine/start", bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	default:
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, t.base+"/api/engine/metrics", nil)
		if err == nil {
			req.Header.Set("X-Wallet-Address", wallet)
		}
	}
	if err != nil {
		return 0, err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, fmt.Errorf("status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func printReport(res *results) {
	d := res.finishedAt.Sub(res.startedAt)

	fmt.Printf("\n== REPORT ==\n")
	fmt.Printf("duration: %s\n", d)
	fmt.Printf("ops: total=%d metrics=%d start=%d errors=%d rate_limited=%d\n",
		res.totalOps, res.metricOps, res.startOps, res.errOps, res.limited)
	if d > 0 {
		fmt.Printf("throughput: %.2f ops/s\n", float64(res.totalOps)/d.Seconds())
	}
	if len(res.latencies) == 0 {
		fmt.Println("no latency samples")
		return
	}
	sort.Slice(res.latencies, func(i, j int) bool { return res.latencies[i] < res.latencies[j] })
	p := func(q float64) time.Duration {
		return res.latencies[int(q*float64(len(res.latencies)-1))]
	}
	fmt.Printf("latency p50=%s p95=%s p99=%s max=%s\n",
		p(0.50), p(0.95), p(0.99), res.latencies[len(res.latencies)-1])
}

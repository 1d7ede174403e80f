package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/pvzzle/yieldmint/internal/journal"
	"github.com/pvzzle/yieldmint/internal/ledger"
	"github.com/pvzzle/yieldmint/internal/settlement"
	"github.com/pvzzle/yieldmint/internal/yield"
)

const (
	ServiceName = "10X Hyper Earning Backend"
	Version     = "10.0.0"

	WalletHeader = "X-Wallet-Address"
)

// Engine is the settlement coordinator as seen by the HTTP layer.
type Engine interface {
	Start(account string, strategies []string, now time.Time) ledger.Account
	Stop(account string) bool
	Metrics(ctx context.Context, account string, now time.Time) settlement.Snapshot
	History(ctx context.Context, account string, limit int) ([]journal.Attempt, error)
	ChainAvailable() bool
}

// Signer identifies the admin wallet; the zero address means none is configured.
type Signer interface {
	Address() common.Address
}

type Options struct {
	Addr        string
	CORSOrigins []string
	RateLimit   float64
	RateBurst   int

	// TrustedProxies may set X-Forwarded-For; everyone else is keyed by peer address.
	TrustedProxies ProxyList

	Logger *logrus.Entry
}

type Server struct {
	engine Engine
	model  *yield.Model
	signer Signer
	log    *logrus.Entry
	now    func() time.Time

	handler http.Handler
	srv     *http.Server
}

func NewServer(engine Engine, model *yield.Model, signer Signer, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 20
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 40
	}

	s := &Server{
		engine: engine,
		model:  model,
		signer: signer,
		log:    log,
		now:    time.Now,
	}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	eng := r.PathPrefix("/api/engine").Subrouter()
	eng.HandleFunc("/start", s.handleStart).Methods(http.MethodPost)
	eng.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	eng.HandleFunc("/stop", s.handleStop).Methods(http.MethodPost)
	eng.HandleFunc("/settlements", s.handleSettlements).Methods(http.MethodGet)

	limiter := newIPLimiter(opts.RateLimit, opts.RateBurst, opts.TrustedProxies, log)
	s.handler = observe(r, opts.TrustedProxies, log)(newCORS(opts.CORSOrigins).Handler(limiter.Handler(r)))

	s.srv = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		// a metrics query may wait out a full receipt timeout
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.handler }

// Run serves until ctx is done and then shuts down, letting in-flight
// requests finish for up to shutdownGrace.
func (s *Server) Run(ctx context.Context, shutdownGrace time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.srv.Addr).Info("http server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http listen: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return <-errCh
}

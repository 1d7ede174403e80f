package app

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	tgbot "github.com/go-telegram/bot"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pvzzle/yieldmint/internal/api"
	"github.com/pvzzle/yieldmint/internal/chain"
	"github.com/pvzzle/yieldmint/internal/journal"
	"github.com/pvzzle/yieldmint/internal/journal/pg"
	"github.com/pvzzle/yieldmint/internal/journal/sqlite"
	"github.com/pvzzle/yieldmint/internal/ledger"
	"github.com/pvzzle/yieldmint/internal/notify"
	"github.com/pvzzle/yieldmint/internal/settlement"
	"github.com/pvzzle/yieldmint/internal/yield"
)

const shutdownGrace = 10 * time.Second

func Run(ctx context.Context) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	log := logger.WithField("component", "app")

	table, err := yield.LoadTable(cfg.StrategiesFile)
	if err != nil {
		return fmt.Errorf("strategy table: %w", err)
	}
	model := yield.NewModel(table)
	led := ledger.New(model, cfg.Principal)

	repo, err := openJournal(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := repo.Close(); err != nil {
			log.WithError(err).Warn("journal close failed")
		}
	}()
	if err := repo.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	tx, closeChain, err := newTransactor(ctx, cfg, logger.WithField("component", "chain"))
	if err != nil {
		return err
	}
	defer closeChain()

	var svc *notify.Service
	coord := settlement.NewCoordinator(led, tx,
		settlement.WithInterval(cfg.SettlementInterval),
		settlement.WithJournal(repo),
		settlement.WithLogger(logger.WithField("component", "settlement")),
		settlement.WithSink(settlement.SinkFunc(func(ev settlement.Event) {
			if svc != nil {
				svc.OnSettlement(ev)
			}
		})),
	)

	var bot *tgbot.Bot
	if cfg.TelegramToken != "" {
		bot, err = tgbot.New(cfg.TelegramToken,
			tgbot.WithWorkers(4),
			tgbot.WithNotAsyncHandlers(),
		)
		if err != nil {
			return fmt.Errorf("telegram bot init: %w", err)
		}
		svc = notify.NewService(bot, cfg.TelegramChatID, coord, cfg.NotifyBuffer, logger.WithField("component", "notify"))
		svc.RegisterHandlers(bot)
	}

	proxies, err := api.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return err
	}
	server := api.NewServer(coord, model, tx, api.Options{
		Addr:           ":" + strconv.Itoa(cfg.Port),
		CORSOrigins:    cfg.CORSOrigins,
		RateLimit:      cfg.RateLimitRPS,
		RateBurst:      cfg.RateLimitBurst,
		TrustedProxies: proxies,
		Logger:         logger.WithField("component", "api"),
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return server.Run(gctx, shutdownGrace) })
	g.Go(func() error { return tx.Watch(gctx, cfg.HealthInterval) })

	if svc != nil {
		summary, err := notify.NewSummary(cfg.SummaryCron, svc)
		if err != nil {
			return err
		}
		g.Go(func() error {
			svc.StartNotifyLoop(gctx)
			return nil
		})
		g.Go(func() error {
			bot.Start(gctx)
			return nil
		})
		g.Go(func() error { return summary.Run(gctx) })
	}

	log.WithFields(logrus.Fields{
		"port":           cfg.Port,
		"strategies":     model.StrategyCount(),
		"effective_rate": model.EffectiveRate(),
		"chain":          tx.Available(),
		"journal":        journalKind(cfg),
		"telegram":       svc != nil,
	}).Info("started")

	return g.Wait()
}

func openJournal(ctx context.Context, cfg Config) (journal.Repository, error) {
	switch {
	case cfg.PostgresURL != "":
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("pgxpool new: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres ping: %w", err)
		}
		return pg.New(pool), nil

	case cfg.SQLitePath != "":
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil

	default:
		return journal.Noop{}, nil
	}
}

func journalKind(cfg Config) string {
	switch {
	case cfg.PostgresURL != "":
		return "postgres"
	case cfg.SQLitePath != "":
		return "sqlite"
	default:
		return "none"
	}
}

// newTransactor never fails on an unreachable node; only a malformed key is fatal.
func newTransactor(ctx context.Context, cfg Config, log *logrus.Entry) (*chain.Transactor, func(), error) {
	var key *ecdsa.PrivateKey
	if cfg.AdminPrivateKey != "" {
		k, err := chain.ParseKey(cfg.AdminPrivateKey)
		if err != nil {
			return nil, nil, err
		}
		key = k
	} else {
		log.Warn("ADMIN_PRIVATE_KEY not set; settlement disabled")
	}

	opts := chain.Options{
		GasLimit:            cfg.GasLimit,
		GasPriceBufferPct:   cfg.GasPriceBufferPercent,
		RPCTimeout:          cfg.RPCTimeout,
		ReceiptTimeout:      cfg.ReceiptTimeout,
		ReceiptPollInterval: cfg.ReceiptPollInterval,
		Logger:              log,
	}
	token := common.HexToAddress(cfg.RewardTokenAddress)

	if cfg.EthRPCURL == "" {
		log.Warn("no RPC endpoint configured; settlement disabled")
		return chain.New(ctx, nil, key, token, opts), func() {}, nil
	}

	cl, err := chain.Dial(ctx, cfg.EthRPCURL)
	if err != nil {
		log.WithError(err).Warn("rpc dial failed; settlement disabled")
		return chain.New(ctx, nil, key, token, opts), func() {}, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return chain.New(dialCtx, cl, key, token, opts), cl.Close, nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/Checker-Finance/quote-session/internal/api"
	"github.com/Checker-Finance/quote-session/internal/balances"
	"github.com/Checker-Finance/quote-session/internal/exchange"
	"github.com/Checker-Finance/quote-session/internal/hooks"
	"github.com/Checker-Finance/quote-session/internal/publisher"
	"github.com/Checker-Finance/quote-session/internal/quote"
	"github.com/Checker-Finance/quote-session/internal/rate"
	"github.com/Checker-Finance/quote-session/internal/store"
	"github.com/Checker-Finance/quote-session/pkg/config"
	"github.com/Checker-Finance/quote-session/pkg/logger"
	"github.com/Checker-Finance/quote-session/pkg/secrets"
	"github.com/Checker-Finance/quote-session/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := logger.S()
	logg.Info("starting [quote-session]...")
	logg.Info("connection to DSN: ", utils.MaskDSN(cfg.DatabaseURL))

	// --- Exchange credentials ---
	var tokens exchange.TokenSource
	accounts := balances.AccountLister(func(context.Context) ([]string, error) {
		return cfg.BalanceAccounts, nil
	})
	stopCleaner := make(chan struct{})
	switch cfg.ExchangeTokenSource {
	case config.TokenSourceSecrets:
		awsProvider, err := secrets.NewAWSProvider(ctx, cfg.AWSRegion)
		if err != nil {
			logg.Fatalw("failed to create AWS Secrets Manager provider", "error", err)
		}
		credCache := secrets.NewCache[exchange.Credentials](cfg.SecretCacheTTL)
		go credCache.StartCleaner(cfg.SecretCacheTTL, stopCleaner)

		secretTokens := exchange.NewSecretTokens(logger.L(), cfg.Env, awsProvider, credCache)
		tokens = secretTokens
		if len(cfg.BalanceAccounts) == 0 {
			accounts = secretTokens.Accounts
		}
	default:
		tokens = exchange.StaticToken(cfg.ExchangeAPIToken)
		logg.Infow("using static exchange token", "token", utils.MaskSecret(cfg.ExchangeAPIToken))
	}

	// --- Rate limiter ---
	rateMgr := rate.NewManager(rate.Config{
		RequestsPerSecond: cfg.ExchangeRPS,
		Burst:             cfg.ExchangeBurst,
	})

	// --- Exchange HTTP client ---
	exch := exchange.NewClient(logger.L(), rateMgr, exchange.Config{
		BaseURL: cfg.ExchangeBaseURL,
		Timeout: cfg.ExchangeTimeout,
	}, tokens)

	// --- Balance cache (Redis) ---
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		DB:       cfg.RedisDB,
		Password: cfg.RedisPass,
	})
	balanceCache := balances.NewCache(rdb, cfg.BalanceTTL)
	if err := balanceCache.HealthCheck(ctx); err != nil {
		logg.Fatalw("failed to connect to redis", "error", err)
	}
	balanceSvc := balances.NewService(logger.L(), exch, balanceCache, cfg.ExchangeTimeout)
	poller := balances.NewPoller(logger.L(), balanceSvc, accounts, cfg.BalancePollInterval)

	// --- Trade log (Postgres) ---
	pool, err := store.NewPool(ctx, cfg.DatabaseURL, store.PGPoolConfig{
		MaxConns:          int32(cfg.PGMaxConns),
		MinConns:          int32(cfg.PGMinConns),
		MaxConnLifetime:   cfg.PGMaxConnLifetime,
		MaxConnIdleTime:   cfg.PGMaxConnIdleTime,
		HealthCheckPeriod: cfg.PGHealthCheckPeriod,
	})
	if err != nil {
		logg.Fatalw("failed to init trade log store", "error", err)
	}
	tradeLog := store.NewTradeLog(pool, logger.L())
	if err := tradeLog.EnsureSchema(ctx); err != nil {
		logg.Fatalw("failed to ensure trade log schema", "error", err)
	}

	// --- Connect to NATS ---
	nc, err := nats.Connect(cfg.NATSURL, nats.Name(cfg.ServiceName))
	if err != nil {
		logg.Fatalw("failed to connect to NATS", "error", err)
	}

	// --- Publisher ---
	pub, err := publisher.New(nc, cfg.ServiceName)
	if err != nil {
		logg.Fatalw("failed to init publisher", "error", err)
	}

	// --- Quote sessions ---
	registry := quote.NewRegistry(
		func(accountID string) quote.QuoteAPI { return exch.ForAccount(accountID) },
		quote.Options{
			Logger:         logger.L(),
			SolicitTimeout: cfg.SolicitTimeout,
			AcceptTimeout:  cfg.AcceptTimeout,
			HookTimeout:    cfg.HookTimeout,
			Hooks: []quote.SuccessHook{
				hooks.BalanceRefetch(balanceSvc),
				hooks.TradeLog(tradeLog),
				hooks.PublishAccepted(pub),
			},
		},
	)
	registry.Observe(hooks.LifecycleEvents(pub, logger.L(), cfg.HookTimeout))

	// --- Fiber HTTP Server ---
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
		BodyLimit:    cfg.HTTPBodyLimit,
	})
	handler := api.NewSessionHandler(logger.L(), registry, balanceSvc)
	api.RegisterRoutes(app, nc, map[string]api.HealthChecker{
		"redis":    balanceSvc,
		"postgres": tradeLog,
	}, handler)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		return app.Listen(fmt.Sprintf(":%d", cfg.Port))
	})
	g.Go(func() error {
		poller.Start(gctx)
		return nil
	})

	logg.Infow("[quote-session] running",
		"nats", cfg.NATSURL,
		"env", cfg.Env,
		"exchange", cfg.ExchangeBaseURL,
		"token_source", cfg.ExchangeTokenSource,
		"balance_poll_interval", cfg.BalancePollInterval)

	g.Go(func() error {
		<-gctx.Done()
		logg.Info("shutting down [quote-session]...")

		registry.CloseAll()
		poller.Stop()
		close(stopCleaner)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logg.Warnw("fiber.shutdown_failed", "error", err)
		}
		if err := nc.Drain(); err != nil {
			logg.Warnw("nats.drain_failed", "error", err)
		}
		if err := rdb.Close(); err != nil {
			logg.Warnw("redis.close_failed", "error", err)
		}
		pool.Close()
		return nil
	})

	if err := g.Wait(); err != nil {
		logg.Errorw("quote-session exited", "error", err)
		os.Exit(1)
	}
}

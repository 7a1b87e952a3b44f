package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"papertrade-core/internal/api"
	"papertrade-core/internal/balance"
	"papertrade-core/internal/events"
	"papertrade-core/internal/ledger"
	"papertrade-core/internal/market"
	"papertrade-core/internal/monitor"
	"papertrade-core/internal/position"
	"papertrade-core/pkg/cache"
	"papertrade-core/pkg/config"
	"papertrade-core/pkg/db"
	"papertrade-core/pkg/logger"
	"papertrade-core/pkg/market/binance"
	"papertrade-core/pkg/market/forex"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	policy, err := balance.ParsePolicy(cfg.ShortCashPolicy)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Store
	database, err := db.Open(cfg.DBDriver, cfg.DBPath, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	pairs := make([]string, 0, len(cfg.Pairs))
	for _, pair := range cfg.Pairs {
		pairs = append(pairs, pair)
	}
	sort.Strings(pairs)
	if err := db.SeedAssets(ctx, database, pairs); err != nil {
		return fmt.Errorf("seed assets: %w", err)
	}
	log.Info("database ready",
		zap.String("driver", string(database.Dialect)),
		zap.Int("pairs", len(pairs)))

	// Market data: both providers share one upstream budget.
	limiter := rate.NewLimiter(rate.Limit(cfg.UpstreamRPS), cfg.UpstreamBurst)
	metrics := monitor.NewSystemMetrics()
	gateway := market.NewGateway(
		binance.New(binance.Config{BaseURL: cfg.BinanceBase, Timeout: cfg.HTTPTimeout, Limiter: limiter}),
		forex.New(forex.Config{BaseURL: cfg.ForexBase, Timeout: cfg.HTTPTimeout, Limiter: limiter}),
		cache.NewQuoteCache(),
		market.Options{
			Pairs:    cfg.Pairs,
			PriceTTL: cfg.PriceCacheTTL,
			FxTTL:    cfg.FxCacheTTL,
			Timeout:  cfg.HTTPTimeout,
			Metrics:  metrics,
			Logger:   log.Named("market"),
		},
	)

	// Events
	bus := events.NewBus()
	mon := &monitor.Monitor{Bus: bus, Metrics: metrics, Logger: log.Named("audit")}
	monDone := mon.Start(ctx)

	// Core
	engine := ledger.NewEngine(database, gateway, ledger.Options{
		Policy:  policy,
		Bus:     bus,
		Metrics: metrics,
		Logger:  log.Named("ledger"),
	})
	positions := position.NewAggregator(database, gateway, log.Named("position"))

	// API
	server := api.NewServer(api.Deps{
		DB:        database,
		Market:    gateway,
		Ledger:    engine,
		Positions: positions,
		Bus:       bus,
		Metrics:   metrics,
		Logger:    log.Named("api"),
	}, api.Options{
		JWTSecret:      cfg.JWTSecret,
		TokenTTL:       cfg.TokenTTL,
		InitialCash:    cfg.InitialCash,
		RequestTimeout: cfg.RequestTimeout,
		CORSOrigin:     cfg.CORSOrigin,
	})
	if cfg.JWTSecret == "dev-secret" {
		log.Warn("JWT_SECRET not set, using the development secret")
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("api listening",
			zap.String("addr", httpServer.Addr),
			zap.String("cash_policy", string(policy)),
			zap.Strings("symbols", gateway.Symbols()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("api shutdown", zap.Error(err))
	}
	stop()
	<-monDone
	return nil
}

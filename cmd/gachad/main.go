// Package main provides the gacha service binary: the roll API, the bridge
// command queue, and the dispatch reconciler under one lifecycle.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/killunetwork/gacha/internal/config"
	"github.com/killunetwork/gacha/internal/gacha"
	"github.com/killunetwork/gacha/internal/httpapi"
	"github.com/killunetwork/gacha/internal/observability"
	"github.com/killunetwork/gacha/internal/server"
	"github.com/killunetwork/gacha/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	// A pool that fails validation never serves a single roll.
	poolStart := time.Now()
	pool, err := gacha.LoadPoolFromFile(cfg.Gacha.PoolPath)
	if err != nil {
		logger.Fatal("loading reward pool", zap.Error(err))
	}
	logger.Info("reward pool loaded",
		zap.String("path", cfg.Gacha.PoolPath),
		zap.Int("rewards", pool.Size()),
		zap.Duration("elapsed", time.Since(poolStart)),
	)

	dbStart := time.Now()
	db, err := postgres.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("connecting to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Duration("elapsed", time.Since(dbStart)),
	)

	ledger := postgres.NewRollLedger(db)
	queue := postgres.NewDispatchQueue(db)
	accounts := postgres.NewLinkedAccounts(db)

	service, err := gacha.NewService(gacha.ServiceParams{
		Pool:     pool,
		Source:   gacha.NewCryptoSource(),
		Ledger:   ledger,
		Outbox:   queue,
		Identity: accounts,
		Window:   cfg.Gacha.CooldownWindow,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal("building roll service", zap.Error(err))
	}

	reconciler, err := gacha.NewReconciler(gacha.ReconcilerParams{
		Pool:     pool,
		Outbox:   queue,
		Identity: accounts,
		Interval: cfg.Gacha.ReconcileInterval,
		Grace:    cfg.Gacha.ReconcileGrace,
		Batch:    cfg.Gacha.ReconcileBatch,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal("building reconciler", zap.Error(err))
	}

	router := httpapi.NewRouter(httpapi.RouterParams{
		Service: service,
		Queue:   queue,
		Auth:    cfg.Auth,
		Logger:  logger,
		Health: func(ctx context.Context) error {
			return postgres.Health(ctx, db, 2*time.Second)
		},
	})

	logger.Info("starting gacha service",
		zap.String("http_addr", cfg.HTTP.Addr()),
		zap.Duration("cooldown_window", cfg.Gacha.CooldownWindow),
	)

	lc := server.NewLifecycle(logger)
	lc.Add("reconciler", reconciler)
	lc.Add("http", server.NewHTTPService(cfg.HTTP, router))

	if err := lc.Run(ctx); err != nil {
		logger.Fatal("lifecycle error", zap.Error(err))
	}
}

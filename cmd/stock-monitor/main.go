package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicflow/clinic-backend/internal/config"
	"github.com/clinicflow/clinic-backend/internal/db"
	"github.com/clinicflow/clinic-backend/internal/pharmacy"
	redisclient "github.com/clinicflow/clinic-backend/internal/redis"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "stock-monitor").Logger()
	log.Info().Msg("stock-monitor starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	log.Info().Str("env", cfg.Env).Dur("interval", cfg.WorkerInterval).Msg("configuration loaded")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	repo := pharmacy.NewPgRepository(pgPool)
	locker := redisclient.NewRedisResourceLocker(rdb, cfg.LockTTL)
	ledger := pharmacy.NewLedger(repo, locker, cfg, log)

	// Run once at startup.
	runOnce(rootCtx, ledger, log)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping stock monitor")
			return
		case <-ticker.C:
			runOnce(rootCtx, ledger, log)
		}
	}
}

func runOnce(ctx context.Context, ledger *pharmacy.Ledger, log zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()

	purged, err := ledger.PurgeExpired(runCtx)
	if err != nil {
		log.Error().Err(err).Msg("purge run error")
		return
	}

	low, err := ledger.ReportLowStock(runCtx)
	if err != nil {
		log.Error().Err(err).Msg("low stock run error")
		return
	}

	log.Info().
		Int64("purged_batches", purged).
		Int("low_stock_medicines", len(low)).
		Dur("took", time.Since(start)).
		Msg("stock monitor run complete")
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicflow/clinic-backend/internal/api"
	"github.com/clinicflow/clinic-backend/internal/config"
	"github.com/clinicflow/clinic-backend/internal/db"
	"github.com/clinicflow/clinic-backend/internal/pharmacy"
	"github.com/clinicflow/clinic-backend/internal/records"
	redisclient "github.com/clinicflow/clinic-backend/internal/redis"
	"github.com/clinicflow/clinic-backend/internal/scheduling"
)

const version = "0.3.0"

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "api-server").Logger()
	log.Info().Msg("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("configuration loaded")

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

	locker := redisclient.NewRedisResourceLocker(rdb, cfg.LockTTL)

	schedRepo := scheduling.NewPgRepository(pgPool)
	allocator := scheduling.NewAllocator(schedRepo, locker, cfg, log)
	schedSvc := scheduling.NewService(schedRepo, allocator, cfg, log)

	pharmRepo := pharmacy.NewPgRepository(pgPool)
	ledger := pharmacy.NewLedger(pharmRepo, locker, cfg, log)
	pipeline := pharmacy.NewPipeline(pharmRepo, ledger, locker, cfg, log)

	recordsRepo := records.NewPgRepository(pgPool)
	recordsSvc := records.NewService(recordsRepo, log)

	router := api.NewRouter(api.RouterConfig{
		Scheduling:     schedSvc,
		Allocator:      allocator,
		SchedulingRepo: schedRepo,
		Pipeline:       pipeline,
		Ledger:         ledger,
		PharmacyRepo:   pharmRepo,
		Records:        recordsSvc,
		PgPool:         pgPool,
		Redis:          rdb,
		Env:            cfg.Env,
		Version:        version,
		Log:            log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-rootCtx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("api-server stopped")
}

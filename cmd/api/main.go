package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nkaplan19/apm-dashboard/internal/app/migrate"
	"github.com/nkaplan19/apm-dashboard/internal/config"
	httpx "github.com/nkaplan19/apm-dashboard/internal/http"
	"github.com/nkaplan19/apm-dashboard/internal/logger"
	"github.com/nkaplan19/apm-dashboard/internal/repository/postgres"
	"github.com/nkaplan19/apm-dashboard/internal/service/application"
	"github.com/nkaplan19/apm-dashboard/internal/service/simulator"
	"github.com/nkaplan19/apm-dashboard/internal/service/telemetry"
	"github.com/nkaplan19/apm-dashboard/internal/ws"
)

func main() {
	cfg := config.Load()
	log := logger.New("api", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	hub := ws.NewHub()

	appSvc := application.New(repo, log)
	if err := appSvc.Seed(ctx); err != nil {
		log.Error("failed to seed applications", "error", err)
		os.Exit(1)
	}
	telemetrySvc := telemetry.New(repo, repo, repo, repo, hub, log)

	if cfg.SimulatorEnabled {
		sim := simulator.New(repo, telemetrySvc, log, cfg.SimulatorInterval)
		if err := sim.Start(ctx); err != nil {
			log.Error("failed to start simulator", "error", err)
			os.Exit(1)
		}
	}

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, appSvc, telemetrySvc, limiter, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("collector starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("collector stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

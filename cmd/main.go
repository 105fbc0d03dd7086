package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Dark-Alpha-Capital/Bitrix-Websocket-Server/internal/app/registry"
	"github.com/Dark-Alpha-Capital/Bitrix-Websocket-Server/internal/app/router"
	"github.com/Dark-Alpha-Capital/Bitrix-Websocket-Server/internal/app/server"
	"github.com/Dark-Alpha-Capital/Bitrix-Websocket-Server/internal/config"
	"github.com/Dark-Alpha-Capital/Bitrix-Websocket-Server/internal/core/domain"
	"github.com/Dark-Alpha-Capital/Bitrix-Websocket-Server/internal/core/services"
	"github.com/Dark-Alpha-Capital/Bitrix-Websocket-Server/internal/platform/logger"
	"github.com/Dark-Alpha-Capital/Bitrix-Websocket-Server/internal/platform/telemetry"
	"github.com/Dark-Alpha-Capital/Bitrix-Websocket-Server/internal/plugins/postgres"
	redisPlugin "github.com/Dark-Alpha-Capital/Bitrix-Websocket-Server/internal/plugins/redis"
	"github.com/Dark-Alpha-Capital/Bitrix-Websocket-Server/pkg/logging"
)

func main() {
	// Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Config
	cfg := config.Load()

	// Logger
	log := logger.NewLogger(cfg)
	log.Info("starting application")

	otelShutdown, err := telemetry.InitTelemetry(ctx, cfg)
	if err != nil {
		log.Error("failed to initialize telemetry", logging.Err(err))
		return
	}
	defer func() {
		log.Info("flushing telemetry...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			log.Error("telemetry shutdown failed", logging.Err(err))
		}
	}()

	// Infra
	var rdb *redis.Client
	if rdb, err = redisPlugin.NewRedisClient(ctx, cfg.Redis); err != nil {
		log.Error("redis connection failed", "url", cfg.Redis.URL, logging.Err(err))
		return
	}
	defer rdb.Close()
	log.Info("redis connected")

	// The audit trail is the only Postgres consumer; without it the
	// relay runs entirely in memory.
	var audit domain.DeliveryRepository
	if cfg.Audit.Enabled {
		var pdb *sql.DB
		if pdb, err = postgres.New(ctx, cfg.Postgres); err != nil {
			log.Error("postgres connection failed", logging.Err(err))
			return
		}
		defer pdb.Close()
		log.Info("postgres connected")
		repo := postgres.NewDeliveryRepo(pdb)
		audit = repo
		go purgeLoop(ctx, log, repo, cfg.Audit)
	}

	// Core
	hub := registry.NewRegistry(log)
	monitor := registry.NewMonitor(log, hub, cfg.WS.HeartbeatInterval)
	bus := redisPlugin.NewEventBus(rdb, log)
	eventRouter := router.NewEventRouter(log, bus, hub, audit, router.Channels{
		ScreenCall:  cfg.Channels.ScreenCall,
		ProblemDone: cfg.Channels.ProblemDone,
		JobUpdate:   cfg.Channels.JobUpdate,
	})
	ingress := services.NewIngressService(log, hub)

	go func() {
		// A dead bus subscription makes the relay useless, so treat it
		// like a shutdown signal.
		if err := eventRouter.Run(ctx); err != nil {
			log.Error("event router stopped", logging.Err(err))
			stop()
		}
	}()
	go monitor.Run(ctx)

	// Server
	srv := server.NewServer(log, cfg, ingress, hub, eventRouter)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", logging.Err(err))
		}
		return
	}

	// Graceful shutdown: tell every live session why it is going away,
	// then drain the HTTP side.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer cancel()
	for _, s := range hub.Snapshot() {
		s.CloseWithStatus(domain.CloseGoingAway, "server shutting down")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", logging.Err(err))
	}
	log.Info("shutdown complete")
}

func purgeLoop(ctx context.Context, log *slog.Logger, repo *postgres.DeliveryRepo, cfg *config.AuditConfig) {
	ticker := time.NewTicker(cfg.PurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := repo.PurgeOlderThan(ctx, cfg.Retention)
			if err != nil {
				log.ErrorContext(ctx, "audit purge failed", logging.Err(err))
				continue
			}
			if purged > 0 {
				log.InfoContext(ctx, "audit purge completed", slog.Int64("purged", purged))
			}
		}
	}
}

// Package main is the entry point of the progress engine API.
//
// The API records heartbeats, lesson completions and knowledge check answers,
// and serves navigation, course progress and admin dashboard metrics.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coursegate/progress-engine/config"
	"github.com/coursegate/progress-engine/internal/bootstrap"
	"github.com/coursegate/progress-engine/internal/infrastructure/persistence/redis"
	apihttp "github.com/coursegate/progress-engine/internal/interface/http"
	"github.com/coursegate/progress-engine/internal/interface/http/handlers"
	"github.com/coursegate/progress-engine/pkg/logger"
)

// heartbeatsPerMinute bounds heartbeat writes per learner.
const heartbeatsPerMinute = 30

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION AND LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := bootstrap.NewLogger(cfg).Named("api")
	defer func() { _ = log.Sync() }()

	log.Info("starting progress engine API",
		logger.String("addr", cfg.HTTP.Addr()),
		logger.Bool("jwt_identity", cfg.Auth.JWTSecret != ""),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. STORE, CACHE, EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	container, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := container.Close(); err != nil {
			log.Warn("shutdown cleanup failed", logger.Err(err))
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 3. COURSE CATALOG
	// ─────────────────────────────────────────────────────────────────────────
	loaded, err := container.LoadCatalog(ctx)
	if err != nil {
		return fmt.Errorf("failed to load course catalog: %w", err)
	}
	log.Info("course catalog loaded", logger.Int("courses", loaded), logger.String("dir", cfg.Catalog.Dir))

	// ─────────────────────────────────────────────────────────────────────────
	// 4. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	h := container.Handlers()

	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	health.SetTimeout(2 * time.Second)
	if container.DB != nil {
		health.AddCheck("database", handlers.NewPingCheck(container.DB))
	}
	if container.Cache != nil {
		health.AddOptionalCheck("cache", handlers.NewPingCheck(container.Cache))
	}
	health.AddDetail("event_bus", func() any { return container.LocalBus.Metrics().Snapshot() })
	if cfg.Features != nil {
		health.AddDetail("features", func() any { return cfg.Features.Rollouts() })
	}

	deps := apihttp.Dependencies{
		EnrollLearner:        h.EnrollLearner,
		ApplyHeartbeat:       h.ApplyHeartbeat,
		CompleteLesson:       h.CompleteLesson,
		SaveDraftAnswer:      h.SaveDraftAnswer,
		SubmitKnowledgeCheck: h.SubmitKnowledgeCheck,
		CheckLessonAccess:    h.CheckLessonAccess,
		GetNavigation:        h.GetNavigation,
		GetCourseProgress:    h.GetCourseProgress,
		GetSessionState:      h.GetSessionState,
		GetDashboardMetrics:  h.GetDashboardMetrics,
		RemediationLinks:     h.RemediationLinks,
		HealthChecker:        health,
		Logger:               log,
	}
	if container.Cache != nil {
		deps.HeartbeatLimiter = redis.NewRateLimiter(container.Cache, heartbeatsPerMinute, time.Minute)
	}

	server := apihttp.NewServer(apihttp.ConfigFrom(cfg), deps)
	errCh := server.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// 5. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := container.ShutdownContext()
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", logger.Err(err))
	}
	container.LocalBus.Drain()

	log.Info("shutdown completed")
	return nil
}

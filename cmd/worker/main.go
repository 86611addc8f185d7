// Package main is the entry point of the progress engine background worker.
//
// The worker periodically rebuilds course progress from stored lesson rows
// and precomputes admin dashboard metrics. When Redis is available every run
// takes a lease, so several workers can be deployed side by side.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coursegate/progress-engine/config"
	"github.com/coursegate/progress-engine/internal/application/query"
	"github.com/coursegate/progress-engine/internal/bootstrap"
	"github.com/coursegate/progress-engine/internal/infrastructure/persistence/redis"
	"github.com/coursegate/progress-engine/internal/infrastructure/scheduler"
	"github.com/coursegate/progress-engine/internal/infrastructure/scheduler/jobs"
	"github.com/coursegate/progress-engine/pkg/logger"
)

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

	log := bootstrap.NewLogger(cfg).Named("worker")
	defer func() { _ = log.Sync() }()

	if !cfg.Scheduler.Enabled {
		log.Info("scheduler disabled, nothing to do")
		return nil
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. STORE, CACHE, CATALOG
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

	loaded, err := container.LoadCatalog(ctx)
	if err != nil {
		return fmt.Errorf("failed to load course catalog: %w", err)
	}
	log.Info("course catalog loaded", logger.Int("courses", loaded))

	// ─────────────────────────────────────────────────────────────────────────
	// 3. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	h := container.Handlers()

	schedCfg := scheduler.SchedulerConfig{
		Logger:            log,
		Clock:             container.Clock,
		MaxConcurrentJobs: cfg.Scheduler.MaxConcurrentJobs,
		JobTimeout:        cfg.Scheduler.JobTimeout,
	}
	if container.Cache != nil {
		schedCfg.Locker = redis.NewLocker(container.Cache)
	} else {
		log.Warn("redis unavailable, running jobs without a lease")
	}
	sched := scheduler.NewScheduler(schedCfg)

	recompute := jobs.NewRecomputeCourseProgressJob(
		container.Courses,
		container.Lessons,
		h.Recompute,
		log,
		jobs.RecomputeCourseProgressConfig{Workers: cfg.Scheduler.RecomputeWorkers},
	)
	if err := sched.Register(recompute, scheduler.NewAlignedSchedule(cfg.Scheduler.RecomputeInterval)); err != nil {
		return fmt.Errorf("failed to register %s: %w", recompute.Name(), err)
	}

	// Warming only pays off when there is a cache to warm.
	if container.Cache != nil {
		refresher := jobs.DashboardRefresherFunc(func(ctx context.Context, courseSlug string) error {
			_, err := h.GetDashboardMetrics.Refresh(ctx, query.GetDashboardMetricsQuery{CourseSlug: courseSlug})
			return err
		})
		warm := jobs.NewWarmDashboardCacheJob(container.Courses, refresher, log)
		if err := sched.Register(warm, scheduler.NewAlignedSchedule(cfg.Scheduler.WarmCacheInterval)); err != nil {
			return fmt.Errorf("failed to register %s: %w", warm.Name(), err)
		}
	}

	sched.OnJobComplete(func(result scheduler.JobResult) {
		if result.Error != nil {
			log.Warn("job failed",
				logger.String("job", result.JobName),
				logger.Duration("duration", result.Duration),
				logger.Err(result.Error),
			)
		}
	})

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	log.Info("worker started",
		logger.String("instance_id", container.InstanceID),
		logger.Duration("recompute_interval", cfg.Scheduler.RecomputeInterval),
		logger.Duration("warm_cache_interval", cfg.Scheduler.WarmCacheInterval),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 4. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	<-ctx.Done()
	log.Info("received shutdown signal")

	if err := sched.Stop(); err != nil {
		log.Warn("scheduler stop failed", logger.Err(err))
	}
	container.LocalBus.Drain()

	log.Info("shutdown completed")
	return nil
}

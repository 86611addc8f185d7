// Package bootstrap wires configuration, stores, cache and event bus into the
// application handlers shared by the API and the worker.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coursegate/progress-engine/config"
	"github.com/coursegate/progress-engine/internal/application/command"
	"github.com/coursegate/progress-engine/internal/application/eventhandler"
	"github.com/coursegate/progress-engine/internal/application/query"
	"github.com/coursegate/progress-engine/internal/domain/course"
	"github.com/coursegate/progress-engine/internal/domain/gating"
	"github.com/coursegate/progress-engine/internal/domain/knowledgecheck"
	"github.com/coursegate/progress-engine/internal/domain/progress"
	"github.com/coursegate/progress-engine/internal/domain/shared"
	"github.com/coursegate/progress-engine/internal/infrastructure/catalog"
	"github.com/coursegate/progress-engine/internal/infrastructure/messaging"
	"github.com/coursegate/progress-engine/internal/infrastructure/persistence/memory"
	"github.com/coursegate/progress-engine/internal/infrastructure/persistence/postgres"
	"github.com/coursegate/progress-engine/internal/infrastructure/persistence/redis"
	"github.com/coursegate/progress-engine/pkg/logger"
	"github.com/coursegate/progress-engine/pkg/retry"
	"github.com/coursegate/progress-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONTAINER
// ══════════════════════════════════════════════════════════════════════════════

// Container owns every long lived dependency of a process.
type Container struct {
	Config     *config.Config
	Logger     *logger.Logger
	Clock      timeutil.Clock
	InstanceID string

	// Progress Store
	Courses        course.Repository
	Lessons        progress.LessonRepository
	CourseProgress progress.CourseRepository
	Enrollments    progress.EnrollmentRepository
	Checks         knowledgecheck.Repository

	// DB is nil when the in-memory store is used.
	DB *postgres.Connection

	// Cache is nil when Redis is disabled or unreachable.
	Cache          *redis.Cache
	DashboardCache *redis.DashboardCache

	LocalBus *messaging.InMemoryEventBus
	Bus      shared.EventBus

	closers []func() error
}

// New builds the container. A missing DATABASE_URL selects the in-memory
// store, which is only accepted in development.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Container, error) {
	if log == nil {
		log = logger.Nop()
	}
	c := &Container{
		Config:     cfg,
		Logger:     log,
		Clock:      timeutil.SystemClock{},
		InstanceID: uuid.NewString(),
	}

	if err := c.initStore(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	c.initCache(ctx)
	if err := c.initBus(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Container) initStore(ctx context.Context) error {
	dbCfg := c.Config.Database
	if dbCfg.URL == "" {
		if !c.Config.IsDevelopment() {
			return errors.New("DATABASE_URL is required outside development")
		}
		c.Logger.Warn("DATABASE_URL not set, using in-memory progress store")
		store := memory.NewStore()
		c.Courses = store.Courses()
		c.Lessons = store.Lessons()
		c.CourseProgress = store.CourseProgress()
		c.Enrollments = store.Enrollments()
		c.Checks = store.KnowledgeChecks()
		return nil
	}

	conn, err := postgres.NewConnection(ctx, postgres.Config{
		URL:             dbCfg.URL,
		MaxConns:        int32(dbCfg.MaxOpenConns),
		MinConns:        int32(dbCfg.MaxIdleConns),
		MaxConnLifetime: dbCfg.ConnMaxLifetime,
		MaxConnIdleTime: dbCfg.ConnMaxIdleTime,
		QueryTimeout:    dbCfg.QueryTimeout,
	}, c.Logger.Named("postgres"))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	c.DB = conn
	c.closers = append(c.closers, func() error { conn.Close(); return nil })

	if dbCfg.AutoMigrate {
		if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	c.Courses = postgres.NewCourseRepository(conn)
	c.Lessons = postgres.NewLessonRepository(conn)
	c.CourseProgress = postgres.NewCourseProgressRepository(conn)
	c.Enrollments = postgres.NewEnrollmentRepository(conn)
	c.Checks = postgres.NewKnowledgeCheckRepository(conn)
	return nil
}

// initCache connects to Redis. Failure is logged and the process continues
// without cache, rate limiting and cross-replica events.
func (c *Container) initCache(ctx context.Context) {
	rc := c.Config.Redis
	if rc.Disabled {
		c.Logger.Info("redis disabled")
		return
	}
	cache, err := redis.NewCache(ctx, redis.Config{
		URL:          rc.URL,
		Host:         rc.Host,
		Port:         rc.Port,
		Password:     rc.Password,
		DB:           rc.DB,
		PoolSize:     rc.PoolSize,
		MinIdleConns: rc.MinIdleConns,
		DialTimeout:  rc.DialTimeout,
		ReadTimeout:  rc.ReadTimeout,
		WriteTimeout: rc.WriteTimeout,
		KeyPrefix:    rc.KeyPrefix,
	}, c.Logger.Named("redis"))
	if err != nil {
		c.Logger.Warn("redis unavailable, continuing without cache", logger.Err(err))
		return
	}
	c.Cache = cache
	c.DashboardCache = redis.NewDashboardCache(cache)
	c.closers = append(c.closers, cache.Close)
}

func (c *Container) initBus(ctx context.Context) error {
	c.LocalBus = messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{
		AsyncMode:      true,
		WorkerPoolSize: 8,
		Logger:         c.Logger.Named("eventbus"),
	})
	c.LocalBus.Use(messaging.LoggingMiddleware(c.Logger.Named("eventbus")))
	c.LocalBus.Use(messaging.RetryMiddleware(retry.New(
		retry.WithMaxAttempts(3),
		retry.WithInitialDelay(100*time.Millisecond),
	)))
	c.Bus = c.LocalBus
	c.closers = append(c.closers, c.LocalBus.Close)

	if c.DashboardCache != nil {
		invalidator := eventhandler.NewOnProgressChangedHandler(c.DashboardCache, c.Logger, eventhandler.DefaultOnProgressChangedConfig())
		if err := invalidator.Register(c.LocalBus); err != nil {
			return fmt.Errorf("failed to register event handlers: %w", err)
		}
	}

	if c.Cache == nil {
		return nil
	}
	remote, err := messaging.NewRedisEventBus(ctx, c.Cache.Client(), c.LocalBus, messaging.RedisEventBusConfig{
		Channel:    c.Config.Redis.KeyPrefix + ":events",
		InstanceID: c.InstanceID,
		Logger:     c.Logger.Named("eventbus"),
	})
	if err != nil {
		c.Logger.Warn("cross-replica events disabled", logger.Err(err))
		return nil
	}
	c.Bus = remote
	// Runs before LocalBus.Close so forwarding stops first.
	c.closers = append(c.closers, remote.Close)
	return nil
}

// LoadCatalog loads course definitions from the configured directory.
func (c *Container) LoadCatalog(ctx context.Context) (int, error) {
	return catalog.NewLoader(c.Courses, c.Logger).LoadDir(ctx, c.Config.Catalog.Dir)
}

// Close releases resources in reverse order of acquisition.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// Handlers holds every command and query handler.
type Handlers struct {
	Recompute            *command.RecomputeCourseProgressHandler
	EnrollLearner        *command.EnrollLearnerHandler
	ApplyHeartbeat       *command.ApplyHeartbeatHandler
	CompleteLesson       *command.CompleteLessonHandler
	SaveDraftAnswer      *command.SaveDraftAnswerHandler
	SubmitKnowledgeCheck *command.SubmitKnowledgeCheckHandler

	CheckLessonAccess   *query.CheckLessonAccessHandler
	GetNavigation       *query.GetNavigationHandler
	GetCourseProgress   *query.GetCourseProgressHandler
	GetSessionState     *query.GetSessionStateHandler
	GetDashboardMetrics *query.GetDashboardMetricsHandler

	RemediationLinks command.FeatureGate
}

// Handlers builds the application layer over the container's dependencies.
func (c *Container) Handlers() *Handlers {
	flags := c.Config.Features
	if flags == nil {
		flags = config.NewFeatureFlags()
	}
	enforce := command.FeatureGate(flags.Gate(config.FeatureEnforceAccess))
	remediation := command.FeatureGate(flags.Gate(config.FeatureRemediationLinks))

	resolver := gating.NewResolver(c.Lessons, c.Checks)
	recomputer := progress.NewRecomputer(c.Lessons, c.CourseProgress, c.Checks)
	recompute := command.NewRecomputeCourseProgressHandler(c.Courses, recomputer, c.Bus, c.Clock, c.Logger)

	var metricsCache query.MetricsCache
	if c.DashboardCache != nil {
		metricsCache = c.DashboardCache
	}

	return &Handlers{
		Recompute:     recompute,
		EnrollLearner: command.NewEnrollLearnerHandler(c.Courses, c.Enrollments, recompute, c.Bus, c.Clock, c.Logger),
		ApplyHeartbeat: command.NewApplyHeartbeatHandler(c.Courses, c.Lessons, c.Clock, c.Logger, command.ApplyHeartbeatHandlerConfig{
			MaxDeltaSeconds:      c.Config.Progress.MaxHeartbeatDeltaSeconds,
			IdleThresholdSeconds: c.Config.Progress.IdleThresholdSeconds,
			ServerIdleSplit:      command.FeatureGate(flags.Gate(config.FeatureServerIdleSplit)),
		}),
		CompleteLesson: command.NewCompleteLessonHandler(c.Courses, c.Lessons, resolver, recompute, c.Bus, c.Clock, c.Logger,
			command.CompleteLessonHandlerConfig{EnforceAccess: enforce}),
		SaveDraftAnswer: command.NewSaveDraftAnswerHandler(c.Courses, c.Checks, resolver, c.Clock, c.Logger,
			command.SaveDraftAnswerHandlerConfig{EnforceAccess: enforce}),
		SubmitKnowledgeCheck: command.NewSubmitKnowledgeCheckHandler(c.Courses, c.Checks, resolver, recompute, c.Bus, c.Clock, c.Logger,
			command.SubmitKnowledgeCheckHandlerConfig{EnforceAccess: enforce, RemediationLinks: remediation}),

		CheckLessonAccess: query.NewCheckLessonAccessHandler(c.Courses, resolver),
		GetNavigation:     query.NewGetNavigationHandler(c.Courses, resolver),
		GetCourseProgress: query.NewGetCourseProgressHandler(c.Courses, c.CourseProgress, recompute, c.Logger),
		GetSessionState:   query.NewGetSessionStateHandler(c.Courses, c.Checks, resolver),
		GetDashboardMetrics: query.NewGetDashboardMetricsHandler(c.Courses, c.Lessons, c.CourseProgress, c.Enrollments,
			c.Checks, metricsCache, c.Logger, query.GetDashboardMetricsConfig{
				CacheTTL: c.Config.Progress.DashboardCacheTTL,
				UseCache: func() bool { return flags.Enabled(config.FeatureDashboardCache, "") },
			}),

		RemediationLinks: remediation,
	}
}

// ShutdownContext returns a context bounded by the configured shutdown timeout.
func (c *Container) ShutdownContext() (context.Context, context.CancelFunc) {
	timeout := c.Config.App.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

// NewLogger builds the process logger from observability settings.
func NewLogger(cfg *config.Config) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	if cfg.Observability.LogFormat != "" {
		opts.Format = cfg.Observability.LogFormat
	}
	return logger.New(opts).With(
		logger.String("app", cfg.App.Name),
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
	)
}

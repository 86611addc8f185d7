package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/coursegate/progress-engine/internal/domain/course"
	"github.com/coursegate/progress-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// WARM DASHBOARD CACHE JOB
// Precomputes the unfiltered dashboard of every course and the cross-course
// dashboard, so that the first admin request after an invalidation is cheap.
// ══════════════════════════════════════════════════════════════════════════════

// DashboardRefresher recomputes and caches the dashboard of one course;
// an empty slug means all courses.
type DashboardRefresher interface {
	RefreshDashboard(ctx context.Context, courseSlug string) error
}

// DashboardRefresherFunc adapts a function to DashboardRefresher.
type DashboardRefresherFunc func(ctx context.Context, courseSlug string) error

// RefreshDashboard implements DashboardRefresher.
func (f DashboardRefresherFunc) RefreshDashboard(ctx context.Context, courseSlug string) error {
	return f(ctx, courseSlug)
}

// WarmDashboardCacheJob implements scheduler.Job.
type WarmDashboardCacheJob struct {
	courses   course.Repository
	refresher DashboardRefresher
	logger    *logger.Logger
}

// NewWarmDashboardCacheJob creates the job.
func NewWarmDashboardCacheJob(courses course.Repository, refresher DashboardRefresher, log *logger.Logger) *WarmDashboardCacheJob {
	if log == nil {
		log = logger.Nop()
	}
	return &WarmDashboardCacheJob{
		courses:   courses,
		refresher: refresher,
		logger:    log.With(logger.String("job", "warm_dashboard_cache")),
	}
}

// Name returns the job name.
func (j *WarmDashboardCacheJob) Name() string {
	return "warm_dashboard_cache"
}

// Description returns a human-readable description.
func (j *WarmDashboardCacheJob) Description() string {
	return "Precomputes per-course dashboard metrics into the cache"
}

// Run executes the job. One failing course does not stop the others.
func (j *WarmDashboardCacheJob) Run(ctx context.Context) error {
	courses, err := j.courses.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list courses: %w", err)
	}

	slugs := make([]string, 0, len(courses)+1)
	for _, c := range courses {
		slugs = append(slugs, c.Slug)
	}
	slugs = append(slugs, "")

	var errs []error
	warmed := 0
	for _, slug := range slugs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := j.refresher.RefreshDashboard(ctx, slug); err != nil {
			j.logger.Warn("dashboard warm-up failed", logger.Course(slug), logger.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", scopeName(slug), err))
			continue
		}
		warmed++
	}

	j.logger.Info("dashboard cache warmed", logger.Int("scopes", warmed), logger.Int("failed", len(errs)))
	return errors.Join(errs...)
}

func scopeName(slug string) string {
	if slug == "" {
		return "all courses"
	}
	return slug
}

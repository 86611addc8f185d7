// Package jobs contains the scheduled jobs of the progress engine.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coursegate/progress-engine/internal/domain/course"
	"github.com/coursegate/progress-engine/internal/domain/progress"
	"github.com/coursegate/progress-engine/internal/domain/shared"
	"github.com/coursegate/progress-engine/pkg/logger"
	"github.com/coursegate/progress-engine/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECOMPUTE COURSE PROGRESS JOB
// Rebuilds every learner's CourseProgress from lesson rows and finalized
// knowledge checks. Repairs rows left stale by a crash between a lesson write
// and its recompute, and picks up course definition changes.
// ══════════════════════════════════════════════════════════════════════════════

// CourseRecomputer recomputes one learner's progress for a loaded course.
// command.RecomputeCourseProgressHandler satisfies it.
type CourseRecomputer interface {
	RecomputeCourse(ctx context.Context, c *course.Course, userID string) (*progress.CourseProgress, error)
}

// RecomputeCourseProgressConfig contains configuration for the job.
type RecomputeCourseProgressConfig struct {
	// Workers bounds concurrent recomputes.
	Workers int

	// MaxFailureRate fails the run when more than this share of learners failed.
	MaxFailureRate float64
}

// DefaultRecomputeCourseProgressConfig returns sensible defaults.
func DefaultRecomputeCourseProgressConfig() RecomputeCourseProgressConfig {
	return RecomputeCourseProgressConfig{
		Workers:        8,
		MaxFailureRate: 0.5,
	}
}

// RecomputeStats contains statistics from one run.
type RecomputeStats struct {
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Courses     int
	Learners    int
	Completed   int
	Failed      int
}

// RecomputeCourseProgressJob implements scheduler.Job.
type RecomputeCourseProgressJob struct {
	courses    course.Repository
	lessons    progress.LessonRepository
	recomputer CourseRecomputer
	logger     *logger.Logger
	config     RecomputeCourseProgressConfig

	lastStats atomic.Pointer[RecomputeStats]
}

// NewRecomputeCourseProgressJob creates the job.
func NewRecomputeCourseProgressJob(
	courses course.Repository,
	lessons progress.LessonRepository,
	recomputer CourseRecomputer,
	log *logger.Logger,
	config RecomputeCourseProgressConfig,
) *RecomputeCourseProgressJob {
	if log == nil {
		log = logger.Nop()
	}
	defaults := DefaultRecomputeCourseProgressConfig()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.MaxFailureRate <= 0 {
		config.MaxFailureRate = defaults.MaxFailureRate
	}
	return &RecomputeCourseProgressJob{
		courses:    courses,
		lessons:    lessons,
		recomputer: recomputer,
		logger:     log.With(logger.String("job", "recompute_course_progress")),
		config:     config,
	}
}

// Name returns the job name.
func (j *RecomputeCourseProgressJob) Name() string {
	return "recompute_course_progress"
}

// Description returns a human-readable description.
func (j *RecomputeCourseProgressJob) Description() string {
	return "Recomputes course progress for every learner from stored lesson progress"
}

// LastStats returns statistics of the previous run, or nil.
func (j *RecomputeCourseProgressJob) LastStats() *RecomputeStats {
	return j.lastStats.Load()
}

// Run executes the job.
func (j *RecomputeCourseProgressJob) Run(ctx context.Context) error {
	stats := &RecomputeStats{StartedAt: time.Now()}
	defer func() {
		stats.CompletedAt = time.Now()
		stats.Duration = stats.CompletedAt.Sub(stats.StartedAt)
		j.lastStats.Store(stats)
	}()

	courses, err := j.courses.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list courses: %w", err)
	}
	stats.Courses = len(courses)

	retrier := retry.JobRetrier(func(attempt int, err error, delay time.Duration) {
		j.logger.Warn("recompute retry", logger.Int("attempt", attempt), logger.Duration("delay", delay), logger.Err(err))
	})

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.config.Workers)

	for _, c := range courses {
		learners, err := retry.DoWithData(gctx, func(ctx context.Context) ([]string, error) {
			return j.lessons.ListLearners(ctx, c.Slug)
		}, retry.WithRetryIf(shared.IsRetryable))
		if err != nil {
			_ = g.Wait()
			return fmt.Errorf("failed to list learners of %s: %w", c.Slug, err)
		}

		for _, userID := range learners {
			if gctx.Err() != nil {
				break
			}
			c, userID := c, userID
			g.Go(func() error {
				var cp *progress.CourseProgress
				err := retrier.Do(gctx, func(ctx context.Context) error {
					var rerr error
					cp, rerr = j.recomputer.RecomputeCourse(ctx, c, userID)
					if rerr != nil && shared.IsRetryable(rerr) {
						return retry.Retryable(rerr)
					}
					return rerr
				})

				mu.Lock()
				defer mu.Unlock()
				stats.Learners++
				if err != nil {
					stats.Failed++
					j.logger.Error("recompute failed", logger.UserID(userID), logger.Course(c.Slug), logger.Err(err))
					return nil
				}
				if cp.Status == shared.StatusCompleted {
					stats.Completed++
				}
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	j.logger.Info("recompute finished",
		logger.Int("courses", stats.Courses),
		logger.Int("learners", stats.Learners),
		logger.Int("completed", stats.Completed),
		logger.Int("failed", stats.Failed),
	)

	if stats.Learners > 0 && float64(stats.Failed)/float64(stats.Learners) > j.config.MaxFailureRate {
		return fmt.Errorf("recompute failed for %d of %d learners", stats.Failed, stats.Learners)
	}
	return nil
}

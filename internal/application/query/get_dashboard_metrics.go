package query

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coursegate/progress-engine/internal/domain/analytics"
	"github.com/coursegate/progress-engine/internal/domain/course"
	"github.com/coursegate/progress-engine/internal/domain/progress"
	"github.com/coursegate/progress-engine/internal/domain/shared"
	"github.com/coursegate/progress-engine/pkg/logger"
	"github.com/coursegate/progress-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET DASHBOARD METRICS QUERY
// Метрики администратора: разбивка по статусам, средние значения и
// воронка по модулям. Статусы выводятся заново из уроков и проверок:
// сохранённые записи CourseProgress не обновляются heartbeat-ами.
// Чтения из хранилища выполняются параллельно, результат опционально кэшируется.
// ══════════════════════════════════════════════════════════════════════════════

// MetricsCache - кэш готовых метрик дашборда.
type MetricsCache interface {
	GetDashboard(ctx context.Context, courseSlug string, userIDs []string) (*analytics.Metrics, bool, error)
	SetDashboard(ctx context.Context, courseSlug string, userIDs []string, m *analytics.Metrics, ttl time.Duration) error
}

// GetDashboardMetricsQuery содержит фильтры дашборда.
type GetDashboardMetricsQuery struct {
	// CourseSlug - пусто означает все курсы.
	CourseSlug string
	// UserIDs - пусто означает всех учеников.
	UserIDs []string
}

// Validate проверяет корректность параметров и нормализует список учеников.
func (q *GetDashboardMetricsQuery) Validate() error {
	if q.CourseSlug != "" && !shared.IsValidSlug(q.CourseSlug) {
		return shared.NewDomainError("get_dashboard_metrics", "Validate", shared.ErrInvalidFormat, "invalid course slug")
	}
	q.UserIDs = uniqueStrings(q.UserIDs)
	return nil
}

// GetDashboardMetricsConfig содержит настройки обработчика.
type GetDashboardMetricsConfig struct {
	CacheTTL time.Duration
	// UseCache включает кэш; nil - кэш включён, если он передан.
	UseCache func() bool
}

// deriveWorkers ограничивает параллельные пересчёты учеников.
const deriveWorkers = 8

// GetDashboardMetricsHandler обрабатывает запрос.
type GetDashboardMetricsHandler struct {
	courses     course.Repository
	lessons     progress.LessonRepository
	progress    progress.CourseRepository
	enrollments progress.EnrollmentRepository
	checks      progress.FinalizedChecks
	cache       MetricsCache
	logger      *logger.Logger
	config      GetDashboardMetricsConfig
}

// NewGetDashboardMetricsHandler создаёт обработчик. cache может быть nil.
func NewGetDashboardMetricsHandler(
	courses course.Repository,
	lessons progress.LessonRepository,
	courseProgress progress.CourseRepository,
	enrollments progress.EnrollmentRepository,
	checks progress.FinalizedChecks,
	cache MetricsCache,
	log *logger.Logger,
	config GetDashboardMetricsConfig,
) *GetDashboardMetricsHandler {
	if log == nil {
		log = logger.Nop()
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = time.Minute
	}
	return &GetDashboardMetricsHandler{
		courses:     courses,
		lessons:     lessons,
		progress:    courseProgress,
		enrollments: enrollments,
		checks:      checks,
		cache:       cache,
		logger:      log.With(logger.Component("get_dashboard_metrics")),
		config:      config,
	}
}

// Handle выполняет запрос.
func (h *GetDashboardMetricsHandler) Handle(ctx context.Context, q GetDashboardMetricsQuery) (*analytics.Metrics, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_dashboard_metrics: validation failed: %w", err)
	}

	useCache := h.cache != nil && (h.config.UseCache == nil || h.config.UseCache())
	if useCache {
		m, ok, err := h.cache.GetDashboard(ctx, q.CourseSlug, q.UserIDs)
		if err != nil {
			h.logger.Warn("dashboard cache read failed", logger.Course(q.CourseSlug), logger.Err(err))
		} else if ok {
			return m, nil
		}
	}

	m, err := h.compute(ctx, q)
	if err != nil {
		return nil, err
	}

	if useCache {
		if err := h.cache.SetDashboard(ctx, q.CourseSlug, q.UserIDs, m, h.config.CacheTTL); err != nil {
			h.logger.Warn("dashboard cache write failed", logger.Course(q.CourseSlug), logger.Err(err))
		}
	}
	return m, nil
}

// Refresh пересчитывает метрики в обход кэша и записывает результат в кэш.
// Используется фоновой задачей прогрева.
func (h *GetDashboardMetricsHandler) Refresh(ctx context.Context, q GetDashboardMetricsQuery) (*analytics.Metrics, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_dashboard_metrics: validation failed: %w", err)
	}
	m, err := h.compute(ctx, q)
	if err != nil {
		return nil, err
	}
	if h.cache != nil {
		if err := h.cache.SetDashboard(ctx, q.CourseSlug, q.UserIDs, m, h.config.CacheTTL); err != nil {
			return m, fmt.Errorf("get_dashboard_metrics: cache write: %w", err)
		}
	}
	return m, nil
}

func (h *GetDashboardMetricsHandler) compute(ctx context.Context, q GetDashboardMetricsQuery) (*analytics.Metrics, error) {
	in := analytics.Input{Courses: make(map[string]*course.Course)}

	if q.CourseSlug != "" {
		c, err := h.courses.Get(ctx, q.CourseSlug)
		if err != nil {
			return nil, fmt.Errorf("get_dashboard_metrics: %w", err)
		}
		in.Course = c
		in.Courses[c.Slug] = c
	} else {
		all, err := h.courses.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("get_dashboard_metrics: %w", err)
		}
		for _, c := range all {
			in.Courses[c.Slug] = c
		}
	}

	filter := progress.Filter{CourseSlug: q.CourseSlug, UserIDs: q.UserIDs}
	g, gctx := errgroup.WithContext(ctx)

	var stored []*progress.CourseProgress
	g.Go(func() error {
		rows, err := h.progress.List(gctx, filter)
		stored = rows
		return err
	})
	g.Go(func() error {
		counts, err := h.lessons.CompletionCounts(gctx, filter)
		in.Completions = counts
		return err
	})
	if q.CourseSlug != "" && len(q.UserIDs) > 0 {
		// Явный список учеников по одному курсу и есть популяция.
		in.TotalEnrolled = len(q.UserIDs)
	} else {
		g.Go(func() error {
			n, err := h.enrollments.CountEnrolled(gctx, filter)
			in.TotalEnrolled = n
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("get_dashboard_metrics: %w", err)
	}

	derived, err := h.derive(ctx, in.Courses, filter, stored)
	if err != nil {
		return nil, fmt.Errorf("get_dashboard_metrics: %w", err)
	}
	in.Progress = derived

	m := analytics.Compute(in)
	return &m, nil
}

type learnerCourse struct{ user, course string }

// derive пересчитывает прогресс каждой пары (ученик, курс) с нуля по урокам и
// финализированным проверкам. Популяция - пары с сохранённой записью и ученики
// с записями уроков. Записи курсов, которых нет в каталоге, берутся как есть.
func (h *GetDashboardMetricsHandler) derive(
	ctx context.Context,
	courses map[string]*course.Course,
	filter progress.Filter,
	stored []*progress.CourseProgress,
) ([]*progress.CourseProgress, error) {
	previous := make(map[learnerCourse]*progress.CourseProgress, len(stored))
	var orphaned []*progress.CourseProgress
	for _, cp := range stored {
		if courses[cp.CourseSlug] == nil {
			orphaned = append(orphaned, cp)
			continue
		}
		previous[learnerCourse{cp.UserID, cp.CourseSlug}] = cp
	}

	pairs := make(map[learnerCourse]struct{}, len(previous))
	for k := range previous {
		pairs[k] = struct{}{}
	}
	for slug := range courses {
		learners, err := h.lessons.ListLearners(ctx, slug)
		if err != nil {
			return nil, err
		}
		for _, u := range learners {
			if filter.MatchesUser(u) {
				pairs[learnerCourse{u, slug}] = struct{}{}
			}
		}
	}

	keys := make([]learnerCourse, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].course != keys[j].course {
			return keys[i].course < keys[j].course
		}
		return keys[i].user < keys[j].user
	})

	now := timeutil.Now()
	out := make([]*progress.CourseProgress, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(deriveWorkers)
	for i, k := range keys {
		i, k := i, k
		g.Go(func() error {
			c := courses[k.course]
			lessons, err := h.lessons.ListByCourse(gctx, k.user, k.course)
			if err != nil {
				return err
			}
			finalized := make(map[string]bool)
			if h.checks != nil {
				modules, err := h.checks.ListFinalizedModules(gctx, k.user, k.course)
				if err != nil {
					return err
				}
				for _, m := range modules {
					finalized[m] = true
				}
			}
			out[i] = progress.DeriveCourseProgress(c, k.user, lessons, finalized, previous[k], now)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return append(out, orphaned...), nil
}

func uniqueStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Package eventhandler содержит обработчики доменных событий.
// Обработчики - реактивная часть системы: они не меняют прогресс,
// а только запускают побочные эффекты, например сброс кэша дашборда.
package eventhandler

import (
	"context"
	"time"

	"github.com/coursegate/progress-engine/internal/domain/shared"
	"github.com/coursegate/progress-engine/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON PROGRESS CHANGED HANDLER
// Сбрасывает кэш метрик дашборда по курсу, когда меняется чей-то прогресс.
// Кэш - ускорение, а не источник истины: ошибка сброса только логируется,
// запись с истёкшим TTL всё равно будет пересчитана.
// ═══════════════════════════════════════════════════════════════════════════

// DashboardInvalidator сбрасывает кэшированные метрики курса.
type DashboardInvalidator interface {
	InvalidateCourse(ctx context.Context, courseSlug string) error
}

// OnProgressChangedConfig содержит конфигурацию обработчика.
type OnProgressChangedConfig struct {
	// Timeout ограничивает одну операцию сброса.
	Timeout time.Duration
}

// DefaultOnProgressChangedConfig возвращает конфигурацию по умолчанию.
func DefaultOnProgressChangedConfig() OnProgressChangedConfig {
	return OnProgressChangedConfig{Timeout: 2 * time.Second}
}

// OnProgressChangedHandler обрабатывает события прогресса.
type OnProgressChangedHandler struct {
	cache  DashboardInvalidator
	logger *logger.Logger
	config OnProgressChangedConfig
}

// NewOnProgressChangedHandler создаёт обработчик.
func NewOnProgressChangedHandler(cache DashboardInvalidator, log *logger.Logger, config OnProgressChangedConfig) *OnProgressChangedHandler {
	if log == nil {
		log = logger.Nop()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultOnProgressChangedConfig().Timeout
	}
	return &OnProgressChangedHandler{
		cache:  cache,
		logger: log.With(logger.String("handler", "on_progress_changed")),
		config: config,
	}
}

// invalidatingEvents меняют метрики дашборда.
var invalidatingEvents = map[shared.EventType]bool{
	shared.EventLearnerEnrolled:         true,
	shared.EventCourseProgressChanged:   true,
	shared.EventKnowledgeCheckSubmitted: true,
}

// Register подписывает обработчик на все события, влияющие на метрики.
func (h *OnProgressChangedHandler) Register(sub shared.EventSubscriber) error {
	for _, t := range []shared.EventType{
		shared.EventLearnerEnrolled,
		shared.EventCourseProgressChanged,
		shared.EventKnowledgeCheckSubmitted,
		shared.EventCourseCompleted,
	} {
		if err := sub.Subscribe(t, h.Handle); err != nil {
			return err
		}
	}
	return nil
}

// Handle обрабатывает событие. Реализует shared.EventHandler.
func (h *OnProgressChangedHandler) Handle(event shared.Event) error {
	var userID, courseSlug string

	switch e := event.(type) {
	case shared.LearnerEnrolledEvent:
		userID, courseSlug = e.UserID, e.CourseSlug
	case shared.CourseProgressChangedEvent:
		userID, courseSlug = e.UserID, e.CourseSlug
	case shared.KnowledgeCheckSubmittedEvent:
		userID, courseSlug = e.UserID, e.CourseSlug
	case shared.CourseCompletedEvent:
		h.logger.Info("learner completed course",
			logger.UserID(e.UserID), logger.Course(e.CourseSlug),
			logger.Int("total_time_seconds", e.TotalTimeSeconds))
		return nil
	default:
		// События от других реплик приходят без конкретного типа.
		payload := event.Payload()
		courseSlug, _ = payload["course_slug"].(string)
		userID, _ = payload["user_id"].(string)
		if courseSlug == "" || !invalidatingEvents[event.EventType()] {
			h.logger.Debug("ignoring event", logger.EventType(string(event.EventType())))
			return nil
		}
	}

	if h.cache == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	if err := h.cache.InvalidateCourse(ctx, courseSlug); err != nil {
		h.logger.Warn("dashboard cache invalidation failed",
			logger.UserID(userID), logger.Course(courseSlug), logger.Err(err))
		return nil
	}
	h.logger.Debug("dashboard cache invalidated",
		logger.Course(courseSlug), logger.EventType(string(event.EventType())))
	return nil
}

// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coursegate/progress-engine/internal/domain/course"
	"github.com/coursegate/progress-engine/internal/domain/progress"
	"github.com/coursegate/progress-engine/internal/domain/shared"
	"github.com/coursegate/progress-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET COURSE PROGRESS QUERY
// Сводный прогресс ученика по курсу. Запись пересчитывается при чтении:
// пересчёт ничего не пишет, если состояние не изменилось, поэтому чтение
// дешёвое и всегда согласовано с уроками и проверками знаний.
// ══════════════════════════════════════════════════════════════════════════════

// CourseProgressRecomputer пересчитывает прогресс уже загруженного курса.
// Реализуется command.RecomputeCourseProgressHandler.
type CourseProgressRecomputer interface {
	RecomputeCourse(ctx context.Context, c *course.Course, userID string) (*progress.CourseProgress, error)
}

// GetCourseProgressQuery содержит параметры запроса.
type GetCourseProgressQuery struct {
	UserID     string
	CourseSlug string
}

// Validate проверяет корректность параметров.
func (q GetCourseProgressQuery) Validate() error {
	if _, err := shared.NewUserID(q.UserID); err != nil {
		return err
	}
	if q.CourseSlug == "" {
		return shared.NewDomainError("get_course_progress", "Validate", shared.ErrEmptyValue, "course is required")
	}
	return nil
}

// CourseProgressDTO - DTO прогресса курса.
type CourseProgressDTO struct {
	UserID            string                `json:"user_id"`
	CourseSlug        string                `json:"course_slug"`
	Status            shared.ProgressStatus `json:"status"`
	CurrentModuleSlug string                `json:"current_module_slug,omitempty"`
	CurrentLessonSlug string                `json:"current_lesson_slug,omitempty"`
	StartedAt         *time.Time            `json:"started_at,omitempty"`
	CompletedAt       *time.Time            `json:"completed_at,omitempty"`
	TotalTimeSeconds  int                   `json:"total_time_seconds"`
	CompletedLessons  int                   `json:"completed_lessons"`
	TotalLessons      int                   `json:"total_lessons"`
	CompletionPercent int                   `json:"completion_percent"`
	UpdatedAt         time.Time             `json:"updated_at"`

	// Stale - пересчёт не удался, отдана последняя сохранённая запись.
	Stale bool `json:"stale,omitempty"`
}

// NewCourseProgressDTO строит DTO из доменной записи.
func NewCourseProgressDTO(cp *progress.CourseProgress) *CourseProgressDTO {
	return &CourseProgressDTO{
		UserID:            cp.UserID,
		CourseSlug:        cp.CourseSlug,
		Status:            cp.Status,
		CurrentModuleSlug: cp.CurrentModuleSlug,
		CurrentLessonSlug: cp.CurrentLessonSlug,
		StartedAt:         cp.StartedAt,
		CompletedAt:       cp.CompletedAt,
		TotalTimeSeconds:  cp.TotalTimeSeconds,
		CompletedLessons:  cp.CompletedLessons,
		TotalLessons:      cp.TotalLessons,
		CompletionPercent: cp.CompletionPercent(),
		UpdatedAt:         cp.UpdatedAt,
	}
}

// GetCourseProgressHandler обрабатывает запрос.
type GetCourseProgressHandler struct {
	courses    course.Repository
	stored     progress.CourseRepository
	recomputer CourseProgressRecomputer
	logger     *logger.Logger
}

// NewGetCourseProgressHandler создаёт обработчик.
func NewGetCourseProgressHandler(
	courses course.Repository,
	stored progress.CourseRepository,
	recomputer CourseProgressRecomputer,
	log *logger.Logger,
) *GetCourseProgressHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &GetCourseProgressHandler{
		courses:    courses,
		stored:     stored,
		recomputer: recomputer,
		logger:     log.With(logger.Component("get_course_progress")),
	}
}

// Handle выполняет запрос.
func (h *GetCourseProgressHandler) Handle(ctx context.Context, q GetCourseProgressQuery) (*CourseProgressDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_course_progress: validation failed: %w", err)
	}

	c, err := h.courses.Get(ctx, q.CourseSlug)
	if err != nil {
		return nil, fmt.Errorf("get_course_progress: %w", err)
	}

	cp, err := h.recomputer.RecomputeCourse(ctx, c, q.UserID)
	if err == nil {
		return NewCourseProgressDTO(cp), nil
	}

	// Пересчёт не удался: отдаём то, что есть в хранилище.
	h.logger.Warn("lazy recompute failed, serving stored row",
		logger.UserID(q.UserID), logger.Course(q.CourseSlug), logger.Err(err))
	stored, getErr := h.stored.Get(ctx, q.UserID, q.CourseSlug)
	if getErr != nil {
		if errors.Is(getErr, progress.ErrCourseProgressNotFound) {
			return nil, fmt.Errorf("get_course_progress: %w", err)
		}
		return nil, fmt.Errorf("get_course_progress: %w", getErr)
	}
	dto := NewCourseProgressDTO(stored)
	dto.Stale = true
	return dto, nil
}

package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/coursegate/progress-engine/internal/domain/course"
	"github.com/coursegate/progress-engine/internal/domain/gating"
	"github.com/coursegate/progress-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHECK LESSON ACCESS QUERY
// Отвечает, может ли ученик открыть урок прямо сейчас. Ответ "закрыто" -
// это нормальный результат запроса, а не ошибка.
// ══════════════════════════════════════════════════════════════════════════════

// CheckLessonAccessQuery содержит параметры запроса.
type CheckLessonAccessQuery struct {
	UserID     string
	CourseSlug string
	ModuleSlug string
	LessonSlug string
}

// Validate проверяет корректность параметров.
func (q CheckLessonAccessQuery) Validate() error {
	if _, err := shared.NewUserID(q.UserID); err != nil {
		return err
	}
	if q.CourseSlug == "" || q.ModuleSlug == "" || q.LessonSlug == "" {
		return shared.NewDomainError("check_lesson_access", "Validate", shared.ErrEmptyValue, "course, module and lesson are required")
	}
	return nil
}

// LessonAccessDTO - результат проверки доступа.
type LessonAccessDTO struct {
	CourseSlug string `json:"course_slug"`
	ModuleSlug string `json:"module_slug"`
	LessonSlug string `json:"lesson_slug"`
	Allowed    bool   `json:"allowed"`
	Reason     string `json:"reason,omitempty"`
}

// CheckLessonAccessHandler обрабатывает запрос.
type CheckLessonAccessHandler struct {
	courses  course.Repository
	resolver *gating.Resolver
}

// NewCheckLessonAccessHandler создаёт обработчик.
func NewCheckLessonAccessHandler(courses course.Repository, resolver *gating.Resolver) *CheckLessonAccessHandler {
	return &CheckLessonAccessHandler{courses: courses, resolver: resolver}
}

// Handle выполняет запрос.
func (h *CheckLessonAccessHandler) Handle(ctx context.Context, q CheckLessonAccessQuery) (*LessonAccessDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("check_lesson_access: validation failed: %w", err)
	}

	c, err := h.courses.Get(ctx, q.CourseSlug)
	if err != nil {
		return nil, fmt.Errorf("check_lesson_access: %w", err)
	}

	dto := &LessonAccessDTO{CourseSlug: q.CourseSlug, ModuleSlug: q.ModuleSlug, LessonSlug: q.LessonSlug, Allowed: true}
	err = h.resolver.CheckLesson(ctx, c, q.UserID, q.ModuleSlug, q.LessonSlug)
	switch {
	case err == nil:
	case errors.Is(err, shared.ErrLessonLocked):
		dto.Allowed = false
		dto.Reason = lockReason(c)
	default:
		return nil, fmt.Errorf("check_lesson_access: %w", err)
	}
	return dto, nil
}

func lockReason(c *course.Course) string {
	switch {
	case c.Config.IsLinear() && c.Config.RequireKnowledgeChecks:
		return "complete previous lessons and knowledge checks first"
	case c.Config.RequireKnowledgeChecks:
		return "complete the previous module's knowledge check first"
	default:
		return "complete previous lessons first"
	}
}

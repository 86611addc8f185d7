package query

import (
	"context"
	"fmt"

	"github.com/coursegate/progress-engine/internal/domain/course"
	"github.com/coursegate/progress-engine/internal/domain/gating"
	"github.com/coursegate/progress-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET NAVIGATION QUERY
// Дерево навигации ученика: модули и уроки по порядку, их статусы и
// флаги блокировки. Блокировки вычисляются при каждом чтении той же
// функцией, что используется для проверки доступа.
// ══════════════════════════════════════════════════════════════════════════════

// GetNavigationQuery содержит параметры запроса.
type GetNavigationQuery struct {
	UserID     string
	CourseSlug string
}

// Validate проверяет корректность параметров.
func (q GetNavigationQuery) Validate() error {
	return GetCourseProgressQuery(q).Validate()
}

// NavigationDTO - дерево навигации с политикой курса.
type NavigationDTO struct {
	CourseSlug             string                `json:"course_slug"`
	Title                  string                `json:"title"`
	NavigationMode         course.NavigationMode `json:"navigation_mode"`
	RequireKnowledgeChecks bool                  `json:"require_knowledge_checks"`
	Modules                []gating.ModuleNode   `json:"modules"`

	// NextModuleSlug/NextLessonSlug - первый незавершённый открытый урок.
	NextModuleSlug string `json:"next_module_slug,omitempty"`
	NextLessonSlug string `json:"next_lesson_slug,omitempty"`
}

// GetNavigationHandler обрабатывает запрос.
type GetNavigationHandler struct {
	courses  course.Repository
	resolver *gating.Resolver
}

// NewGetNavigationHandler создаёт обработчик.
func NewGetNavigationHandler(courses course.Repository, resolver *gating.Resolver) *GetNavigationHandler {
	return &GetNavigationHandler{courses: courses, resolver: resolver}
}

// Handle выполняет запрос.
func (h *GetNavigationHandler) Handle(ctx context.Context, q GetNavigationQuery) (*NavigationDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_navigation: validation failed: %w", err)
	}

	c, err := h.courses.Get(ctx, q.CourseSlug)
	if err != nil {
		return nil, fmt.Errorf("get_navigation: %w", err)
	}

	tree, locks, err := h.resolver.Resolve(ctx, c, q.UserID)
	if err != nil {
		return nil, fmt.Errorf("get_navigation: %w", err)
	}
	tree = gating.Annotate(tree, locks)

	dto := &NavigationDTO{
		CourseSlug:             c.Slug,
		Title:                  c.Title,
		NavigationMode:         c.Config.NavigationMode,
		RequireKnowledgeChecks: c.Config.RequireKnowledgeChecks,
		Modules:                tree.Modules,
	}
	dto.NextModuleSlug, dto.NextLessonSlug = nextLesson(tree)
	return dto, nil
}

func nextLesson(tree gating.NavigationTree) (string, string) {
	for _, m := range tree.Modules {
		for _, l := range m.Lessons {
			if !l.Locked && l.Status != shared.StatusCompleted {
				return m.Slug, l.Slug
			}
		}
	}
	return "", ""
}

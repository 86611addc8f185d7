// Package course содержит статическое описание курса: упорядоченные модули,
// упорядоченные уроки, опциональную проверку знаний для каждого модуля
// и политику навигации.
//
// Описание курса является входными данными для движка прогресса: пакет
// ничего не хранит о конкретных учениках и не зависит от хранилища.
package course

import (
	"fmt"
	"time"

	"github.com/coursegate/progress-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// NAVIGATION POLICY
// ══════════════════════════════════════════════════════════════════════════════

// NavigationMode определяет политику навигации по урокам.
type NavigationMode string

const (
	// NavigationLinear - уроки проходятся строго по порядку.
	NavigationLinear NavigationMode = "linear"

	// NavigationOpen - любой урок доступен в любой момент.
	NavigationOpen NavigationMode = "open"
)

// IsValid проверяет значение режима.
func (m NavigationMode) IsValid() bool {
	return m == NavigationLinear || m == NavigationOpen
}

// Config - политика курса.
type Config struct {
	NavigationMode         NavigationMode `json:"navigation_mode" yaml:"navigation_mode"`
	RequireKnowledgeChecks bool           `json:"require_knowledge_checks" yaml:"require_knowledge_checks"`
	MinLessonTimeSeconds   int            `json:"min_lesson_time_seconds" yaml:"min_lesson_time_seconds"`
}

// IsLinear сообщает, включена ли линейная навигация.
func (c Config) IsLinear() bool {
	return c.NavigationMode == NavigationLinear
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTITIES
// ══════════════════════════════════════════════════════════════════════════════

// Lesson - урок внутри модуля.
type Lesson struct {
	Slug  string `json:"slug" yaml:"slug"`
	Title string `json:"title" yaml:"title"`
}

// KnowledgeCheck - набор вопросов в конце модуля.
type KnowledgeCheck struct {
	Title     string     `json:"title,omitempty" yaml:"title"`
	Questions []Question `json:"questions" yaml:"questions"`
}

// Question возвращает вопрос по идентификатору.
func (kc *KnowledgeCheck) Question(id string) (*Question, int, bool) {
	for i := range kc.Questions {
		if kc.Questions[i].ID == id {
			return &kc.Questions[i], i, true
		}
	}
	return nil, -1, false
}

// Module - упорядоченная группа уроков.
type Module struct {
	Slug           string          `json:"slug" yaml:"slug"`
	Title          string          `json:"title" yaml:"title"`
	Lessons        []Lesson        `json:"lessons" yaml:"lessons"`
	KnowledgeCheck *KnowledgeCheck `json:"knowledge_check,omitempty" yaml:"knowledge_check"`
}

// HasKnowledgeCheck сообщает, есть ли у модуля проверка знаний с вопросами.
func (m *Module) HasKnowledgeCheck() bool {
	return m.KnowledgeCheck != nil && len(m.KnowledgeCheck.Questions) > 0
}

// Course - курс целиком.
type Course struct {
	Slug      string    `json:"slug" yaml:"slug"`
	Title     string    `json:"title" yaml:"title"`
	Config    Config    `json:"config" yaml:"config"`
	Modules   []Module  `json:"modules" yaml:"modules"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Module возвращает модуль по slug.
// Возвращает ErrModuleNotFound, если модуля нет.
func (c *Course) Module(slug string) (*Module, error) {
	for i := range c.Modules {
		if c.Modules[i].Slug == slug {
			return &c.Modules[i], nil
		}
	}
	return nil, shared.Detail(shared.ErrModuleNotFound, "%s/%s", c.Slug, slug)
}

// Lesson проверяет, что урок существует внутри модуля.
func (c *Course) Lesson(moduleSlug, lessonSlug string) (*Module, *Lesson, error) {
	m, err := c.Module(moduleSlug)
	if err != nil {
		return nil, nil, err
	}
	for i := range m.Lessons {
		if m.Lessons[i].Slug == lessonSlug {
			return m, &m.Lessons[i], nil
		}
	}
	return nil, nil, shared.Detail(shared.ErrLessonNotFound, "%s/%s/%s", c.Slug, moduleSlug, lessonSlug)
}

// KnowledgeCheck возвращает проверку знаний модуля.
func (c *Course) KnowledgeCheck(moduleSlug string) (*KnowledgeCheck, error) {
	m, err := c.Module(moduleSlug)
	if err != nil {
		return nil, err
	}
	if !m.HasKnowledgeCheck() {
		return nil, shared.Detail(shared.ErrKnowledgeCheckNotFound, "%s/%s", c.Slug, moduleSlug)
	}
	return m.KnowledgeCheck, nil
}

// TotalLessons - число уроков во всех модулях.
func (c *Course) TotalLessons() int {
	n := 0
	for _, m := range c.Modules {
		n += len(m.Lessons)
	}
	return n
}

// ModulesWithKnowledgeChecks возвращает slug'и модулей, у которых есть проверка знаний.
func (c *Course) ModulesWithKnowledgeChecks() []string {
	var out []string
	for i := range c.Modules {
		if c.Modules[i].HasKnowledgeCheck() {
			out = append(out, c.Modules[i].Slug)
		}
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// VALIDATION
// ══════════════════════════════════════════════════════════════════════════════

// Validate проверяет структуру курса целиком.
// Все ошибки оборачивают ErrInvalidCourseDefinition.
func (c *Course) Validate() error {
	invalid := func(format string, args ...any) error {
		return shared.Detail(shared.ErrInvalidCourseDefinition, "%s: %s", c.Slug, fmt.Sprintf(format, args...))
	}

	if !shared.IsValidSlug(c.Slug) {
		return shared.Detail(shared.ErrInvalidCourseDefinition, "invalid course slug %q", c.Slug)
	}
	if c.Config.NavigationMode == "" {
		c.Config.NavigationMode = NavigationOpen
	}
	if !c.Config.NavigationMode.IsValid() {
		return invalid("unknown navigation mode %q", c.Config.NavigationMode)
	}
	if c.Config.MinLessonTimeSeconds < 0 {
		return invalid("min_lesson_time_seconds cannot be negative")
	}

	modules := make(map[string]struct{}, len(c.Modules))
	for i := range c.Modules {
		m := &c.Modules[i]
		if !shared.IsValidSlug(m.Slug) {
			return invalid("invalid module slug %q", m.Slug)
		}
		if _, dup := modules[m.Slug]; dup {
			return invalid("duplicate module %q", m.Slug)
		}
		modules[m.Slug] = struct{}{}

		lessons := make(map[string]struct{}, len(m.Lessons))
		for _, l := range m.Lessons {
			if !shared.IsValidSlug(l.Slug) {
				return invalid("module %s: invalid lesson slug %q", m.Slug, l.Slug)
			}
			if _, dup := lessons[l.Slug]; dup {
				return invalid("module %s: duplicate lesson %q", m.Slug, l.Slug)
			}
			lessons[l.Slug] = struct{}{}
		}

		if m.KnowledgeCheck == nil {
			continue
		}
		questions := make(map[string]struct{}, len(m.KnowledgeCheck.Questions))
		for qi := range m.KnowledgeCheck.Questions {
			q := &m.KnowledgeCheck.Questions[qi]
			if _, dup := questions[q.ID]; dup {
				return invalid("module %s: duplicate question %q", m.Slug, q.ID)
			}
			questions[q.ID] = struct{}{}
			if err := q.Validate(); err != nil {
				return invalid("module %s: %v", m.Slug, err)
			}
			if q.Remediation != nil && q.Remediation.LessonSlug != "" {
				target := q.Remediation.ModuleSlug
				if target == "" {
					target = m.Slug
					q.Remediation.ModuleSlug = m.Slug
				}
				if _, _, err := c.Lesson(target, q.Remediation.LessonSlug); err != nil {
					return invalid("question %s: remediation points to unknown lesson %s/%s", q.ID, target, q.Remediation.LessonSlug)
				}
			}
		}
	}
	return nil
}

// Package gating вычисляет, какие уроки и проверки знаний сейчас закрыты.
//
// ComputeLocks - чистая функция над политикой курса и деревом навигации.
// Блокировки никогда не хранятся: они вычисляются при каждом чтении, и одна
// и та же функция используется и для отображения, и для проверки доступа.
package gating

import (
	"github.com/coursegate/progress-engine/internal/domain/course"
	"github.com/coursegate/progress-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// NAVIGATION TREE
// ══════════════════════════════════════════════════════════════════════════════

// LessonNode - урок в дереве навигации.
type LessonNode struct {
	Slug   string                `json:"slug"`
	Title  string                `json:"title,omitempty"`
	Status shared.ProgressStatus `json:"status"`
	Locked bool                  `json:"locked"`
}

// ModuleNode - модуль в дереве навигации.
type ModuleNode struct {
	Slug                 string                `json:"slug"`
	Title                string                `json:"title,omitempty"`
	Lessons              []LessonNode          `json:"lessons"`
	HasKnowledgeCheck    bool                  `json:"has_knowledge_check"`
	KnowledgeCheckStatus shared.ProgressStatus `json:"knowledge_check_status,omitempty"`
	KnowledgeCheckLocked bool                  `json:"knowledge_check_locked"`
}

// NavigationTree - read-модель: модули и уроки по порядку со статусами.
type NavigationTree struct {
	CourseSlug string       `json:"course_slug"`
	Modules    []ModuleNode `json:"modules"`
}

// LessonKey идентифицирует урок внутри курса.
type LessonKey struct {
	Module string
	Lesson string
}

// BuildTree собирает дерево из описания курса и известных статусов.
// Отсутствующий статус означает not_started.
func BuildTree(c *course.Course, lessons map[LessonKey]shared.ProgressStatus, checks map[string]shared.ProgressStatus) NavigationTree {
	tree := NavigationTree{CourseSlug: c.Slug, Modules: make([]ModuleNode, 0, len(c.Modules))}
	for i := range c.Modules {
		m := &c.Modules[i]
		node := ModuleNode{
			Slug:              m.Slug,
			Title:             m.Title,
			Lessons:           make([]LessonNode, 0, len(m.Lessons)),
			HasKnowledgeCheck: m.HasKnowledgeCheck(),
		}
		for _, l := range m.Lessons {
			st, ok := lessons[LessonKey{Module: m.Slug, Lesson: l.Slug}]
			if !ok {
				st = shared.StatusNotStarted
			}
			node.Lessons = append(node.Lessons, LessonNode{Slug: l.Slug, Title: l.Title, Status: st})
		}
		if node.HasKnowledgeCheck {
			st, ok := checks[m.Slug]
			if !ok {
				st = shared.StatusNotStarted
			}
			node.KnowledgeCheckStatus = st
		}
		tree.Modules = append(tree.Modules, node)
	}
	return tree
}

// ══════════════════════════════════════════════════════════════════════════════
// LOCKS
// ══════════════════════════════════════════════════════════════════════════════

// LockSet - закрытые уроки и проверки знаний (по slug модуля).
type LockSet struct {
	Lessons         map[LessonKey]bool
	KnowledgeChecks map[string]bool
}

func newLockSet() LockSet {
	return LockSet{Lessons: map[LessonKey]bool{}, KnowledgeChecks: map[string]bool{}}
}

// LessonLocked сообщает, закрыт ли урок.
func (s LockSet) LessonLocked(module, lesson string) bool {
	return s.Lessons[LessonKey{Module: module, Lesson: lesson}]
}

// KnowledgeCheckLocked сообщает, закрыта ли проверка знаний модуля.
func (s LockSet) KnowledgeCheckLocked(module string) bool {
	return s.KnowledgeChecks[module]
}

// IsEmpty - ничего не закрыто.
func (s LockSet) IsEmpty() bool {
	return len(s.Lessons) == 0 && len(s.KnowledgeChecks) == 0
}

// ComputeLocks применяет две независимые политики и объединяет их через OR.
//
// Линейное правило: уроки курса выстраиваются в один ряд (модуль, затем урок);
// закрыто всё после первого незавершённого урока. Проверка знаний модуля
// закрыта, пока не завершены все уроки этого модуля.
//
// Правило проверок знаний: первый по порядку модуль с незавершённой проверкой
// закрывает все уроки и проверки строго последующих модулей.
func ComputeLocks(cfg course.Config, tree NavigationTree) LockSet {
	locks := newLockSet()

	if cfg.IsLinear() {
		applyLinearRule(tree, locks)
	}
	if cfg.RequireKnowledgeChecks {
		applyKnowledgeCheckRule(tree, locks)
	}
	return locks
}

func applyLinearRule(tree NavigationTree, locks LockSet) {
	firstIncomplete := -1
	flat := 0
	for _, m := range tree.Modules {
		allDone := true
		for _, l := range m.Lessons {
			if l.Status != shared.StatusCompleted {
				allDone = false
				if firstIncomplete < 0 {
					firstIncomplete = flat
				}
			}
			if firstIncomplete >= 0 && flat > firstIncomplete {
				locks.Lessons[LessonKey{Module: m.Slug, Lesson: l.Slug}] = true
			}
			flat++
		}
		if m.HasKnowledgeCheck && !allDone {
			locks.KnowledgeChecks[m.Slug] = true
		}
	}
}

func applyKnowledgeCheckRule(tree NavigationTree, locks LockSet) {
	gate := -1
	for i, m := range tree.Modules {
		if m.HasKnowledgeCheck && m.KnowledgeCheckStatus != shared.StatusCompleted {
			gate = i
			break
		}
	}
	if gate < 0 {
		return
	}
	for _, m := range tree.Modules[gate+1:] {
		for _, l := range m.Lessons {
			locks.Lessons[LessonKey{Module: m.Slug, Lesson: l.Slug}] = true
		}
		if m.HasKnowledgeCheck {
			locks.KnowledgeChecks[m.Slug] = true
		}
	}
}

// Annotate возвращает копию дерева с проставленными флагами блокировки.
func Annotate(tree NavigationTree, locks LockSet) NavigationTree {
	out := NavigationTree{CourseSlug: tree.CourseSlug, Modules: make([]ModuleNode, len(tree.Modules))}
	for i, m := range tree.Modules {
		nm := m
		nm.Lessons = make([]LessonNode, len(m.Lessons))
		for j, l := range m.Lessons {
			l.Locked = locks.LessonLocked(m.Slug, l.Slug)
			nm.Lessons[j] = l
		}
		nm.KnowledgeCheckLocked = m.HasKnowledgeCheck && locks.KnowledgeCheckLocked(m.Slug)
		out.Modules[i] = nm
	}
	return out
}

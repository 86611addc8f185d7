package gating

import (
	"context"

	"github.com/coursegate/progress-engine/internal/domain/course"
	"github.com/coursegate/progress-engine/internal/domain/progress"
	"github.com/coursegate/progress-engine/internal/domain/shared"
)

// SessionStatuses отдаёт флаги финализации сессий проверки знаний по модулям.
type SessionStatuses interface {
	ListSessionStatuses(ctx context.Context, userID, courseSlug string) (map[string]bool, error)
}

// Resolver загружает статусы из хранилища и применяет ComputeLocks.
// Используется и навигацией, и проверкой доступа.
type Resolver struct {
	lessons  progress.LessonRepository
	sessions SessionStatuses
}

// NewResolver создаёт резолвер.
func NewResolver(lessons progress.LessonRepository, sessions SessionStatuses) *Resolver {
	return &Resolver{lessons: lessons, sessions: sessions}
}

// Resolve возвращает дерево навигации ученика и вычисленные блокировки.
func (r *Resolver) Resolve(ctx context.Context, c *course.Course, userID string) (NavigationTree, LockSet, error) {
	rows, err := r.lessons.ListByCourse(ctx, userID, c.Slug)
	if err != nil {
		return NavigationTree{}, LockSet{}, err
	}
	lessons := make(map[LessonKey]shared.ProgressStatus, len(rows))
	for _, lp := range rows {
		lessons[LessonKey{Module: lp.ModuleSlug, Lesson: lp.LessonSlug}] = lp.Status
	}

	flags, err := r.sessions.ListSessionStatuses(ctx, userID, c.Slug)
	if err != nil {
		return NavigationTree{}, LockSet{}, err
	}
	checks := make(map[string]shared.ProgressStatus, len(flags))
	for module, finalized := range flags {
		if finalized {
			checks[module] = shared.StatusCompleted
		} else {
			checks[module] = shared.StatusInProgress
		}
	}

	tree := BuildTree(c, lessons, checks)
	return tree, ComputeLocks(c.Config, tree), nil
}

// CheckLesson возвращает ErrLessonLocked, если урок сейчас закрыт.
func (r *Resolver) CheckLesson(ctx context.Context, c *course.Course, userID, module, lesson string) error {
	if _, _, err := c.Lesson(module, lesson); err != nil {
		return err
	}
	_, locks, err := r.Resolve(ctx, c, userID)
	if err != nil {
		return err
	}
	if locks.LessonLocked(module, lesson) {
		return shared.Detail(shared.ErrLessonLocked, "%s/%s/%s", c.Slug, module, lesson)
	}
	return nil
}

// CheckKnowledgeCheck возвращает ErrKnowledgeCheckLocked, если проверка знаний закрыта.
func (r *Resolver) CheckKnowledgeCheck(ctx context.Context, c *course.Course, userID, module string) error {
	if _, err := c.KnowledgeCheck(module); err != nil {
		return err
	}
	_, locks, err := r.Resolve(ctx, c, userID)
	if err != nil {
		return err
	}
	if locks.KnowledgeCheckLocked(module) {
		return shared.Detail(shared.ErrKnowledgeCheckLocked, "%s/%s", c.Slug, module)
	}
	return nil
}

package progress

import (
	"context"
	"errors"
	"time"

	"github.com/coursegate/progress-engine/internal/domain/course"
	"github.com/coursegate/progress-engine/internal/domain/shared"
)

// Recomputation - результат пересчёта прогресса курса.
type Recomputation struct {
	Progress       *CourseProgress
	PreviousStatus shared.ProgressStatus
	Changed        bool
}

// BecameCompleted сообщает о переходе курса в completed именно этим пересчётом.
func (r Recomputation) BecameCompleted() bool {
	return r.Progress.Status == shared.StatusCompleted && r.PreviousStatus != shared.StatusCompleted
}

// Recomputer пересчитывает CourseProgress с нуля по хранилищу.
type Recomputer struct {
	lessons LessonRepository
	courses CourseRepository
	checks  FinalizedChecks
}

// NewRecomputer создаёт сервис пересчёта.
func NewRecomputer(lessons LessonRepository, courses CourseRepository, checks FinalizedChecks) *Recomputer {
	return &Recomputer{lessons: lessons, courses: courses, checks: checks}
}

// Recompute читает уроки и завершённые проверки, вычисляет прогресс и сохраняет его.
func (r *Recomputer) Recompute(ctx context.Context, c *course.Course, userID string, now time.Time) (Recomputation, error) {
	lessons, err := r.lessons.ListByCourse(ctx, userID, c.Slug)
	if err != nil {
		return Recomputation{}, err
	}

	modules, err := r.checks.ListFinalizedModules(ctx, userID, c.Slug)
	if err != nil {
		return Recomputation{}, err
	}
	finalized := make(map[string]bool, len(modules))
	for _, m := range modules {
		finalized[m] = true
	}

	previous, err := r.courses.Get(ctx, userID, c.Slug)
	if err != nil {
		if !errors.Is(err, ErrCourseProgressNotFound) {
			return Recomputation{}, err
		}
		previous = nil
	}

	cp := DeriveCourseProgress(c, userID, lessons, finalized, previous, now)
	if previous != nil && !cp.ChangedFrom(previous) {
		// Ничего не поменялось, запись не трогаем.
		cp.UpdatedAt = previous.UpdatedAt
		return Recomputation{Progress: cp, PreviousStatus: previous.Status}, nil
	}

	prevStatus, err := r.courses.Upsert(ctx, cp)
	if err != nil {
		return Recomputation{}, err
	}
	return Recomputation{Progress: cp, PreviousStatus: prevStatus, Changed: true}, nil
}

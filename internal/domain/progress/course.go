package progress

import (
	"time"

	"github.com/coursegate/progress-engine/internal/domain/course"
	"github.com/coursegate/progress-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// COURSE PROGRESS
// Производная запись: всегда может быть пересчитана с нуля по урокам
// и завершённым проверкам знаний.
// ══════════════════════════════════════════════════════════════════════════════

// CourseProgress - сводный прогресс ученика по курсу.
type CourseProgress struct {
	UserID            string
	CourseSlug        string
	Status            shared.ProgressStatus
	CurrentModuleSlug string
	CurrentLessonSlug string
	StartedAt         *time.Time
	CompletedAt       *time.Time
	TotalTimeSeconds  int
	CompletedLessons  int
	TotalLessons      int
	UpdatedAt         time.Time
}

// CompletionPercent - доля завершённых уроков, не более 100.
func (p *CourseProgress) CompletionPercent() int {
	if p.TotalLessons == 0 {
		return 0
	}
	return shared.ClampInt(shared.Percent(p.CompletedLessons, p.TotalLessons), 0, 100)
}

// DeriveCourseProgress вычисляет прогресс курса.
//
// Курс завершён, когда завершены все уроки всех модулей и каждая проверка
// знаний финализирована. Курс в процессе, если хотя бы один урок имеет
// записанное время (или уже завершён), либо финализирована хотя бы одна проверка.
// Курс без уроков и проверок считается не начатым.
//
// previous нужен только чтобы сохранить started_at и completed_at между пересчётами.
func DeriveCourseProgress(
	c *course.Course,
	userID string,
	lessons []*LessonProgress,
	finalizedChecks map[string]bool,
	previous *CourseProgress,
	now time.Time,
) *CourseProgress {
	cp := &CourseProgress{
		UserID:       userID,
		CourseSlug:   c.Slug,
		Status:       shared.StatusNotStarted,
		TotalLessons: c.TotalLessons(),
		UpdatedAt:    now,
	}

	completed := make(map[[2]string]bool, len(lessons))
	var latest *LessonProgress
	var earliest time.Time
	active := false

	for _, lp := range lessons {
		if lp.CourseSlug != c.Slug {
			continue
		}
		cp.TotalTimeSeconds += lp.TimeSpentSeconds
		if lp.IsCompleted() {
			completed[[2]string{lp.ModuleSlug, lp.LessonSlug}] = true
		}
		if lp.HasActivity() {
			active = true
		}
		if !lp.FirstViewedAt.IsZero() && (earliest.IsZero() || lp.FirstViewedAt.Before(earliest)) {
			earliest = lp.FirstViewedAt
		}
		if latest == nil || lp.LastViewedAt.After(latest.LastViewedAt) {
			latest = lp
		}
	}

	allDone := true
	structural := 0
	for i := range c.Modules {
		m := &c.Modules[i]
		for _, l := range m.Lessons {
			structural++
			if completed[[2]string{m.Slug, l.Slug}] {
				cp.CompletedLessons++
			} else {
				allDone = false
			}
		}
		if m.HasKnowledgeCheck() {
			structural++
			if finalizedChecks[m.Slug] {
				active = true
			} else {
				allDone = false
			}
		}
	}

	switch {
	case structural > 0 && allDone:
		cp.Status = shared.StatusCompleted
	case active:
		cp.Status = shared.StatusInProgress
	}

	if latest != nil {
		cp.CurrentModuleSlug = latest.ModuleSlug
		cp.CurrentLessonSlug = latest.LessonSlug
	}

	if previous != nil && previous.StartedAt != nil {
		cp.StartedAt = previous.StartedAt
	} else if !earliest.IsZero() {
		t := earliest
		cp.StartedAt = &t
	} else if cp.Status != shared.StatusNotStarted {
		t := now
		cp.StartedAt = &t
	}

	if cp.Status == shared.StatusCompleted {
		if previous != nil && previous.Status == shared.StatusCompleted && previous.CompletedAt != nil {
			cp.CompletedAt = previous.CompletedAt
		} else {
			t := now
			cp.CompletedAt = &t
		}
	}

	return cp
}

// ChangedFrom сообщает, отличается ли пересчитанная запись от сохранённой.
func (p *CourseProgress) ChangedFrom(previous *CourseProgress) bool {
	if previous == nil {
		return true
	}
	return previous.Status != p.Status ||
		previous.TotalTimeSeconds != p.TotalTimeSeconds ||
		previous.CompletedLessons != p.CompletedLessons ||
		previous.TotalLessons != p.TotalLessons ||
		previous.CurrentModuleSlug != p.CurrentModuleSlug ||
		previous.CurrentLessonSlug != p.CurrentLessonSlug
}

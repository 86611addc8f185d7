// Package progress содержит состояние прохождения уроков и курсов конкретным
// учеником: накопление времени по heartbeat'ам, завершение уроков и
// вычисление итогового статуса курса.
package progress

import (
	"time"

	"github.com/coursegate/progress-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEARTBEAT
// ══════════════════════════════════════════════════════════════════════════════

const (
	// MaxHeartbeatDeltaSeconds - верхняя граница одного heartbeat'а.
	// Клиент сам ограничивает дельты, сервер повторяет ограничение.
	MaxHeartbeatDeltaSeconds = 120

	// IdleThresholdSeconds - после этого времени без взаимодействия
	// хвост интервала считается простоем.
	IdleThresholdSeconds = 120

	// MaxScrollDepth - глубина прокрутки в процентах.
	MaxScrollDepth = 100
)

// Heartbeat - одна периодическая выборка от клиента. Не хранится отдельно.
type Heartbeat struct {
	TotalDeltaSeconds  int
	ActiveDeltaSeconds int
	ScrollDepth        int
}

// Normalize проверяет и ограничивает выборку:
// отрицательные дельты отклоняются, дельты обрезаются до maxDelta,
// активное время не превышает общее, прокрутка в [0, 100].
func (h Heartbeat) Normalize(maxDelta int) (Heartbeat, error) {
	if h.TotalDeltaSeconds < 0 || h.ActiveDeltaSeconds < 0 {
		return Heartbeat{}, ErrNegativeDelta
	}
	if maxDelta <= 0 {
		maxDelta = MaxHeartbeatDeltaSeconds
	}
	out := Heartbeat{
		TotalDeltaSeconds:  shared.ClampInt(h.TotalDeltaSeconds, 0, maxDelta),
		ActiveDeltaSeconds: shared.ClampInt(h.ActiveDeltaSeconds, 0, maxDelta),
		ScrollDepth:        shared.ClampInt(h.ScrollDepth, 0, MaxScrollDepth),
	}
	if out.ActiveDeltaSeconds > out.TotalDeltaSeconds {
		out.ActiveDeltaSeconds = out.TotalDeltaSeconds
	}
	return out, nil
}

// SplitIdle вычисляет активную часть интервала длиной total, если последнее
// взаимодействие было sinceInteraction секунд назад. Если простой превысил
// порог, активной считается только часть интервала до последнего взаимодействия.
func SplitIdle(total, sinceInteraction, threshold int) int {
	if total <= 0 {
		return 0
	}
	if threshold <= 0 {
		threshold = IdleThresholdSeconds
	}
	if sinceInteraction <= threshold {
		return total
	}
	active := total - sinceInteraction
	if active < 0 {
		return 0
	}
	return active
}

// ══════════════════════════════════════════════════════════════════════════════
// LESSON PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// LessonKey - составной ключ записи прогресса урока.
type LessonKey struct {
	UserID     string
	CourseSlug string
	ModuleSlug string
	LessonSlug string
}

// LessonProgress - прогресс ученика по одному уроку.
type LessonProgress struct {
	UserID            string
	CourseSlug        string
	ModuleSlug        string
	LessonSlug        string
	Status            shared.ProgressStatus
	TimeSpentSeconds  int
	ActiveTimeSeconds int
	MaxScrollDepth    int
	FirstViewedAt     time.Time
	LastViewedAt      time.Time
	CompletedAt       *time.Time
}

// Key возвращает ключ записи.
func (p *LessonProgress) Key() LessonKey {
	return LessonKey{
		UserID:     p.UserID,
		CourseSlug: p.CourseSlug,
		ModuleSlug: p.ModuleSlug,
		LessonSlug: p.LessonSlug,
	}
}

// NewLessonProgress создаёт запись при первом просмотре урока.
func NewLessonProgress(key LessonKey, now time.Time) *LessonProgress {
	return &LessonProgress{
		UserID:        key.UserID,
		CourseSlug:    key.CourseSlug,
		ModuleSlug:    key.ModuleSlug,
		LessonSlug:    key.LessonSlug,
		Status:        shared.StatusInProgress,
		FirstViewedAt: now,
		LastViewedAt:  now,
	}
}

// Apply добавляет нормализованный heartbeat. Время только растёт,
// прокрутка - монотонный максимум. Завершённый урок остаётся завершённым.
func (p *LessonProgress) Apply(h Heartbeat, now time.Time) {
	p.TimeSpentSeconds += h.TotalDeltaSeconds
	p.ActiveTimeSeconds += h.ActiveDeltaSeconds
	if p.ActiveTimeSeconds > p.TimeSpentSeconds {
		p.ActiveTimeSeconds = p.TimeSpentSeconds
	}
	if h.ScrollDepth > p.MaxScrollDepth {
		p.MaxScrollDepth = h.ScrollDepth
	}
	if p.Status == shared.StatusNotStarted || p.Status == "" {
		p.Status = shared.StatusInProgress
	}
	if p.FirstViewedAt.IsZero() {
		p.FirstViewedAt = now
	}
	if now.After(p.LastViewedAt) {
		p.LastViewedAt = now
	}
}

// MarkCompleted переводит урок в completed. Повторный вызов ничего не меняет.
// Возвращает true, если переход произошёл именно сейчас.
func (p *LessonProgress) MarkCompleted(now time.Time) bool {
	if p.Status == shared.StatusCompleted {
		return false
	}
	p.Status = shared.StatusCompleted
	p.CompletedAt = &now
	if p.FirstViewedAt.IsZero() {
		p.FirstViewedAt = now
	}
	if now.After(p.LastViewedAt) {
		p.LastViewedAt = now
	}
	return true
}

// IsCompleted сообщает, завершён ли урок.
func (p *LessonProgress) IsCompleted() bool {
	return p.Status == shared.StatusCompleted
}

// HasActivity - есть ли записанное время или завершение.
func (p *LessonProgress) HasActivity() bool {
	return p.TimeSpentSeconds > 0 || p.IsCompleted()
}

// CanComplete проверяет минимальное время урока.
func (p *LessonProgress) CanComplete(minLessonTimeSeconds int) error {
	spent := 0
	if p != nil {
		spent = p.TimeSpentSeconds
	}
	if minLessonTimeSeconds > 0 && spent < minLessonTimeSeconds {
		return shared.Detail(ErrMinLessonTimeNotMet, "spent %ds of required %ds", spent, minLessonTimeSeconds)
	}
	return nil
}

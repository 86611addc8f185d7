// Package analytics сворачивает прогресс учеников в метрики для администраторов.
// Все вычисления - чистые проекции: они ничего не пишут и могут
// выполняться с нуля в любой момент.
package analytics

import (
	"math"

	"github.com/coursegate/progress-engine/internal/domain/course"
	"github.com/coursegate/progress-engine/internal/domain/progress"
	"github.com/coursegate/progress-engine/internal/domain/shared"
)

// FunnelStep - доля учеников, завершивших все уроки модуля.
type FunnelStep struct {
	ModuleSlug     string `json:"module_slug"`
	ModuleTitle    string `json:"module_title,omitempty"`
	Lessons        int    `json:"lessons"`
	CompletedUsers int    `json:"completed_users"`
	CompletionPct  int    `json:"completion_pct"`
}

// Metrics - метрики дашборда.
type Metrics struct {
	CourseSlug                 string       `json:"course_slug,omitempty"`
	TotalUsers                 int          `json:"total_users"`
	Completed                  int          `json:"completed"`
	InProgress                 int          `json:"in_progress"`
	NotStarted                 int          `json:"not_started"`
	AvgCompletionPct           int          `json:"avg_completion_pct"`
	AvgTimeToCompletionSeconds int          `json:"avg_time_to_completion_seconds"`
	ModuleFunnel               []FunnelStep `json:"module_funnel,omitempty"`
}

// Input - всё, что нужно для расчёта метрик.
type Input struct {
	// Course - целевой курс; nil означает все курсы.
	Course *course.Course
	// Courses - описания курсов по slug для расчёта процента завершения.
	Courses map[string]*course.Course
	// TotalEnrolled - размер популяции.
	TotalEnrolled int
	Progress      []*progress.CourseProgress
	Completions   []progress.CompletionCount
}

// Compute считает метрики.
//
// Разбивка по статусам - число записей CourseProgress; не начавшие -
// total - (completed + in_progress), не меньше нуля. Среднее время
// завершения учитывает только завершённые записи. Средний процент
// завершения считается по парам (ученик, курс) хотя бы с одним завершённым уроком.
func Compute(in Input) Metrics {
	m := Metrics{TotalUsers: in.TotalEnrolled}
	if in.Course != nil {
		m.CourseSlug = in.Course.Slug
	}

	var completedTime int64
	for _, cp := range in.Progress {
		switch cp.Status {
		case shared.StatusCompleted:
			m.Completed++
			completedTime += int64(cp.TotalTimeSeconds)
		case shared.StatusInProgress:
			m.InProgress++
		}
	}
	m.NotStarted = in.TotalEnrolled - (m.Completed + m.InProgress)
	if m.NotStarted < 0 {
		m.NotStarted = 0
	}
	if m.Completed > 0 {
		m.AvgTimeToCompletionSeconds = int(math.Round(float64(completedTime) / float64(m.Completed)))
	}

	m.AvgCompletionPct = averageCompletion(in)

	if in.Course != nil {
		m.ModuleFunnel = ModuleFunnel(in.Course, in.Completions, in.TotalEnrolled)
	}
	return m
}

type pairKey struct{ user, course string }

func averageCompletion(in Input) int {
	perPair := make(map[pairKey]int)
	for _, cc := range in.Completions {
		if in.Course != nil && cc.CourseSlug != in.Course.Slug {
			continue
		}
		perPair[pairKey{cc.UserID, cc.CourseSlug}] += cc.Completed
	}

	var sum float64
	n := 0
	for k, completed := range perPair {
		if completed <= 0 {
			continue
		}
		c := in.Courses[k.course]
		if c == nil && in.Course != nil && in.Course.Slug == k.course {
			c = in.Course
		}
		if c == nil || c.TotalLessons() == 0 {
			continue
		}
		pct := float64(completed) / float64(c.TotalLessons()) * 100
		sum += math.Min(pct, 100)
		n++
	}
	if n == 0 {
		return 0
	}
	return int(math.Round(sum / float64(n)))
}

// ModuleFunnel считает для каждого модуля долю учеников, завершивших все его уроки.
// Модули без уроков пропускаются; при нулевой популяции процент равен 0.
func ModuleFunnel(c *course.Course, completions []progress.CompletionCount, totalEnrolled int) []FunnelStep {
	perModule := make(map[string]map[string]int)
	for _, cc := range completions {
		if cc.CourseSlug != c.Slug {
			continue
		}
		users, ok := perModule[cc.ModuleSlug]
		if !ok {
			users = make(map[string]int)
			perModule[cc.ModuleSlug] = users
		}
		users[cc.UserID] += cc.Completed
	}

	steps := make([]FunnelStep, 0, len(c.Modules))
	for i := range c.Modules {
		mod := &c.Modules[i]
		if len(mod.Lessons) == 0 {
			continue
		}
		done := 0
		for _, n := range perModule[mod.Slug] {
			if n >= len(mod.Lessons) {
				done++
			}
		}
		steps = append(steps, FunnelStep{
			ModuleSlug:     mod.Slug,
			ModuleTitle:    mod.Title,
			Lessons:        len(mod.Lessons),
			CompletedUsers: done,
			CompletionPct:  shared.Percent(done, totalEnrolled),
		})
	}
	return steps
}

package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursegate/progress-engine/internal/domain/course"
	"github.com/coursegate/progress-engine/internal/domain/progress"
	"github.com/coursegate/progress-engine/internal/domain/shared"
)

func goCourse() *course.Course {
	return &course.Course{
		Slug: "go",
		Modules: []course.Module{
			{Slug: "basics", Lessons: []course.Lesson{{Slug: "a"}, {Slug: "b"}}},
			{Slug: "empty"},
			{Slug: "concurrency", Lessons: []course.Lesson{{Slug: "c"}, {Slug: "d"}}},
		},
	}
}

func cp(user string, status shared.ProgressStatus, total int) *progress.CourseProgress {
	return &progress.CourseProgress{UserID: user, CourseSlug: "go", Status: status, TotalTimeSeconds: total}
}

func TestCompute_AverageTimeUsesCompletedOnly(t *testing.T) {
	c := goCourse()
	m := Compute(Input{
		Course:        c,
		Courses:       map[string]*course.Course{"go": c},
		TotalEnrolled: 2,
		Progress: []*progress.CourseProgress{
			cp("u1", shared.StatusCompleted, 600),
			cp("u2", shared.StatusInProgress, 300),
		},
	})

	assert.Equal(t, 600, m.AvgTimeToCompletionSeconds)
	assert.Equal(t, 1, m.Completed)
	assert.Equal(t, 1, m.InProgress)
	assert.Equal(t, 0, m.NotStarted)
}

func TestCompute_NotStartedIsClampedAtZero(t *testing.T) {
	m := Compute(Input{
		TotalEnrolled: 1,
		Progress: []*progress.CourseProgress{
			cp("u1", shared.StatusCompleted, 10),
			cp("u2", shared.StatusInProgress, 10),
		},
	})
	assert.Equal(t, 0, m.NotStarted)

	m = Compute(Input{TotalEnrolled: 5, Progress: []*progress.CourseProgress{cp("u1", shared.StatusInProgress, 1)}})
	assert.Equal(t, 4, m.NotStarted)
	assert.Equal(t, 5, m.TotalUsers)
}

func TestCompute_AverageCompletionPercent(t *testing.T) {
	c := goCourse()
	m := Compute(Input{
		Course:        c,
		Courses:       map[string]*course.Course{"go": c},
		TotalEnrolled: 3,
		Completions: []progress.CompletionCount{
			{UserID: "u1", CourseSlug: "go", ModuleSlug: "basics", Completed: 2},
			{UserID: "u1", CourseSlug: "go", ModuleSlug: "concurrency", Completed: 1},
			{UserID: "u2", CourseSlug: "go", ModuleSlug: "basics", Completed: 1},
			{UserID: "u3", CourseSlug: "go", ModuleSlug: "basics", Completed: 0},
		},
	})
	// u1: 3/4 = 75%, u2: 1/4 = 25%; u3 has no completed lessons.
	assert.Equal(t, 50, m.AvgCompletionPct)
}

func TestCompute_NoActiveUsers(t *testing.T) {
	m := Compute(Input{Course: goCourse(), TotalEnrolled: 0})
	assert.Equal(t, 0, m.AvgCompletionPct)
	assert.Equal(t, 0, m.AvgTimeToCompletionSeconds)
	for _, step := range m.ModuleFunnel {
		assert.Equal(t, 0, step.CompletionPct)
	}
}

func TestModuleFunnel(t *testing.T) {
	completions := []progress.CompletionCount{
		{UserID: "u1", CourseSlug: "go", ModuleSlug: "basics", Completed: 2},
		{UserID: "u1", CourseSlug: "go", ModuleSlug: "concurrency", Completed: 2},
		{UserID: "u2", CourseSlug: "go", ModuleSlug: "basics", Completed: 2},
		{UserID: "u3", CourseSlug: "go", ModuleSlug: "basics", Completed: 1},
		{UserID: "u9", CourseSlug: "other", ModuleSlug: "basics", Completed: 5},
	}
	steps := ModuleFunnel(goCourse(), completions, 3)

	require.Len(t, steps, 2, "module without lessons is excluded")
	assert.Equal(t, "basics", steps[0].ModuleSlug)
	assert.Equal(t, 2, steps[0].CompletedUsers)
	assert.Equal(t, 67, steps[0].CompletionPct)
	assert.Equal(t, "concurrency", steps[1].ModuleSlug)
	assert.Equal(t, 33, steps[1].CompletionPct)
}

func TestModuleFunnel_ZeroEnrolled(t *testing.T) {
	steps := ModuleFunnel(goCourse(), nil, 0)
	require.Len(t, steps, 2)
	for _, s := range steps {
		assert.Equal(t, 0, s.CompletionPct)
	}
}

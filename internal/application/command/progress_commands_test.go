package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursegate/progress-engine/internal/domain/progress"
	"github.com/coursegate/progress-engine/internal/domain/shared"
)

func TestApplyHeartbeat_AccumulatesAndClamps(t *testing.T) {
	f := newFixture(t)
	h := NewApplyHeartbeatHandler(f.store.Courses(), f.store.Lessons(), f.clock, nil, DefaultApplyHeartbeatHandlerConfig())
	ctx := context.Background()

	cmd := ApplyHeartbeatCommand{
		UserID: "u1", CourseSlug: "go-basics", ModuleSlug: "m1", LessonSlug: "intro",
		TotalDeltaSeconds: 30, ActiveDeltaSeconds: 20, ScrollDepth: 40,
	}
	res, err := h.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, 30, res.Progress.TimeSpentSeconds)
	assert.Equal(t, 20, res.Progress.ActiveTimeSeconds)
	assert.Equal(t, shared.StatusInProgress, res.Progress.Status)

	f.clock.Advance(time.Hour)
	cmd.TotalDeltaSeconds = 3600
	cmd.ActiveDeltaSeconds = 5000
	cmd.ScrollDepth = 250
	res, err = h.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, progress.MaxHeartbeatDeltaSeconds, res.Applied.TotalDeltaSeconds)
	assert.Equal(t, res.Applied.TotalDeltaSeconds, res.Applied.ActiveDeltaSeconds)
	assert.Equal(t, 30+progress.MaxHeartbeatDeltaSeconds, res.Progress.TimeSpentSeconds)
	assert.Equal(t, 100, res.Progress.MaxScrollDepth)
}

func TestApplyHeartbeat_Rejects(t *testing.T) {
	f := newFixture(t)
	h := NewApplyHeartbeatHandler(f.store.Courses(), f.store.Lessons(), f.clock, nil, DefaultApplyHeartbeatHandlerConfig())
	ctx := context.Background()

	_, err := h.Handle(ctx, ApplyHeartbeatCommand{
		UserID: "u1", CourseSlug: "go-basics", ModuleSlug: "m1", LessonSlug: "intro", TotalDeltaSeconds: -5,
	})
	assert.True(t, shared.IsValidation(err))

	_, err = h.Handle(ctx, ApplyHeartbeatCommand{
		UserID: "u1", CourseSlug: "go-basics", ModuleSlug: "m1", LessonSlug: "ghost", TotalDeltaSeconds: 5,
	})
	assert.True(t, errors.Is(err, shared.ErrLessonNotFound))

	_, err = h.Handle(ctx, ApplyHeartbeatCommand{
		UserID: "", CourseSlug: "go-basics", ModuleSlug: "m1", LessonSlug: "intro",
	})
	assert.Error(t, err)
}

func TestApplyHeartbeat_ServerIdleSplit(t *testing.T) {
	f := newFixture(t)
	cfg := DefaultApplyHeartbeatHandlerConfig()
	cfg.ServerIdleSplit = func(userID string) bool { return userID == "u1" }
	h := NewApplyHeartbeatHandler(f.store.Courses(), f.store.Lessons(), f.clock, nil, cfg)
	ctx := context.Background()

	since := 100
	cmd := ApplyHeartbeatCommand{
		UserID: "u1", CourseSlug: "go-basics", ModuleSlug: "m1", LessonSlug: "intro",
		TotalDeltaSeconds: 60, ActiveDeltaSeconds: 60, SecondsSinceInteraction: &since,
	}
	res, err := h.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, progress.SplitIdle(60, 100, progress.IdleThresholdSeconds), res.Applied.ActiveDeltaSeconds)

	cmd.UserID = "u2"
	res, err = h.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, 60, res.Applied.ActiveDeltaSeconds)
}

func TestCompleteLesson_LinearGating(t *testing.T) {
	f := newFixture(t)
	h := NewCompleteLessonHandler(f.store.Courses(), f.store.Lessons(), f.resolver, f.recompute, f.pub, f.clock, nil, CompleteLessonHandlerConfig{})
	ctx := context.Background()

	_, err := h.Handle(ctx, CompleteLessonCommand{UserID: "u1", CourseSlug: "go-basics", ModuleSlug: "m1", LessonSlug: "vars"})
	assert.True(t, errors.Is(err, shared.ErrLessonLocked))
	assert.True(t, shared.IsForbidden(err))

	res := f.completeLesson(t, "u1", "m1", "intro")
	assert.False(t, res.AlreadyCompleted)
	require.NotNil(t, res.Course)
	assert.Equal(t, shared.StatusInProgress, res.Course.Status)
	assert.Equal(t, 1, res.Course.CompletedLessons)
	assert.Equal(t, 1, f.pub.count(shared.EventLessonCompleted))
	assert.Equal(t, 1, f.pub.count(shared.EventCourseProgressChanged))

	again := f.completeLesson(t, "u1", "m1", "intro")
	assert.True(t, again.AlreadyCompleted)
	assert.Equal(t, 1, f.pub.count(shared.EventLessonCompleted))

	f.completeLesson(t, "u1", "m1", "vars")

	// m2 stays locked until the m1 knowledge check is finalized.
	_, err = h.Handle(ctx, CompleteLessonCommand{UserID: "u1", CourseSlug: "go-basics", ModuleSlug: "m2", LessonSlug: "loops"})
	assert.True(t, errors.Is(err, shared.ErrLessonLocked))
}

func TestCompleteLesson_GatingCanBeDisabled(t *testing.T) {
	f := newFixture(t)
	h := NewCompleteLessonHandler(f.store.Courses(), f.store.Lessons(), f.resolver, f.recompute, f.pub, f.clock, nil,
		CompleteLessonHandlerConfig{EnforceAccess: func(string) bool { return false }})

	res, err := h.Handle(context.Background(), CompleteLessonCommand{UserID: "u1", CourseSlug: "go-basics", ModuleSlug: "m2", LessonSlug: "loops"})
	require.NoError(t, err)
	assert.True(t, res.Lesson.IsCompleted())
}

func TestCompleteLesson_MinLessonTime(t *testing.T) {
	f := newFixture(t)
	c := goBasics()
	c.Config.MinLessonTimeSeconds = 60
	require.NoError(t, f.store.Courses().Save(context.Background(), c))

	h := NewCompleteLessonHandler(f.store.Courses(), f.store.Lessons(), f.resolver, f.recompute, f.pub, f.clock, nil, CompleteLessonHandlerConfig{})
	cmd := CompleteLessonCommand{UserID: "u1", CourseSlug: "go-basics", ModuleSlug: "m1", LessonSlug: "intro"}

	_, err := h.Handle(context.Background(), cmd)
	assert.True(t, errors.Is(err, shared.ErrMinLessonTimeNotMet))

	hb := NewApplyHeartbeatHandler(f.store.Courses(), f.store.Lessons(), f.clock, nil, DefaultApplyHeartbeatHandlerConfig())
	_, err = hb.Handle(context.Background(), ApplyHeartbeatCommand{
		UserID: "u1", CourseSlug: "go-basics", ModuleSlug: "m1", LessonSlug: "intro", TotalDeltaSeconds: 90, ActiveDeltaSeconds: 90,
	})
	require.NoError(t, err)

	res, err := h.Handle(context.Background(), cmd)
	require.NoError(t, err)
	assert.True(t, res.Lesson.IsCompleted())
	assert.Equal(t, 90, res.Lesson.TimeSpentSeconds)
}

func TestRecomputeCourseProgress_NoChangeNoEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.completeLesson(t, "u1", "m1", "intro")
	before := f.pub.count(shared.EventCourseProgressChanged)

	res, err := f.recompute.Handle(ctx, RecomputeCourseProgressCommand{UserID: "u1", CourseSlug: "go-basics"})
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, before, f.pub.count(shared.EventCourseProgressChanged))

	_, err = f.recompute.Handle(ctx, RecomputeCourseProgressCommand{UserID: "u1", CourseSlug: "nope"})
	assert.True(t, errors.Is(err, shared.ErrCourseNotFound))
}

func TestEnrollLearner(t *testing.T) {
	f := newFixture(t)
	h := NewEnrollLearnerHandler(f.store.Courses(), f.store.Enrollments(), f.recompute, f.pub, f.clock, nil)
	ctx := context.Background()

	res, err := h.Handle(ctx, EnrollLearnerCommand{UserID: "u1", CourseSlug: "go-basics"})
	require.NoError(t, err)
	assert.True(t, res.Created)
	require.NotNil(t, res.Progress)
	assert.Equal(t, shared.StatusNotStarted, res.Progress.Status)

	res, err = h.Handle(ctx, EnrollLearnerCommand{UserID: "u1", CourseSlug: "go-basics"})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, 1, f.pub.count(shared.EventLearnerEnrolled))

	_, err = h.Handle(ctx, EnrollLearnerCommand{UserID: "u1", CourseSlug: "missing"})
	assert.True(t, shared.IsNotFound(err))
}

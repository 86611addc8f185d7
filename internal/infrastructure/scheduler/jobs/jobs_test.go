package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursegate/progress-engine/internal/application/command"
	"github.com/coursegate/progress-engine/internal/domain/course"
	"github.com/coursegate/progress-engine/internal/domain/progress"
	"github.com/coursegate/progress-engine/internal/domain/shared"
	"github.com/coursegate/progress-engine/internal/infrastructure/persistence/memory"
	"github.com/coursegate/progress-engine/pkg/timeutil"
)

func seedStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	ctx := context.Background()
	require.NoError(t, store.Courses().Save(ctx, &course.Course{
		Slug:  "intro",
		Title: "Intro",
		Modules: []course.Module{
			{Slug: "m1", Lessons: []course.Lesson{{Slug: "l1"}}},
		},
	}))

	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	key := progress.LessonKey{UserID: "u1", CourseSlug: "intro", ModuleSlug: "m1", LessonSlug: "l1"}
	_, err := store.Lessons().ApplyHeartbeat(ctx, key, progress.Heartbeat{TotalDeltaSeconds: 60, ActiveDeltaSeconds: 40}, now)
	require.NoError(t, err)
	_, _, err = store.Lessons().MarkCompleted(ctx, key, now)
	require.NoError(t, err)

	key.UserID = "u2"
	_, err = store.Lessons().ApplyHeartbeat(ctx, key, progress.Heartbeat{TotalDeltaSeconds: 30}, now)
	require.NoError(t, err)
	return store
}

func TestRecomputeCourseProgressJob(t *testing.T) {
	store := seedStore(t)
	recompute := command.NewRecomputeCourseProgressHandler(
		store.Courses(),
		progress.NewRecomputer(store.Lessons(), store.CourseProgress(), store.KnowledgeChecks()),
		nil,
		timeutil.NewFixedClock(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)),
		nil,
	)
	job := NewRecomputeCourseProgressJob(store.Courses(), store.Lessons(), recompute, nil, RecomputeCourseProgressConfig{Workers: 2})

	require.NoError(t, job.Run(context.Background()))

	stats := job.LastStats()
	require.NotNil(t, stats)
	assert.Equal(t, 1, stats.Courses)
	assert.Equal(t, 2, stats.Learners)
	assert.Equal(t, 1, stats.Completed)
	assert.Zero(t, stats.Failed)

	cp, err := store.CourseProgress().Get(context.Background(), "u1", "intro")
	require.NoError(t, err)
	assert.Equal(t, shared.StatusCompleted, cp.Status)

	cp, err = store.CourseProgress().Get(context.Background(), "u2", "intro")
	require.NoError(t, err)
	assert.Equal(t, shared.StatusInProgress, cp.Status)

	// A second run over unchanged data is a no-op that still succeeds.
	require.NoError(t, job.Run(context.Background()))
}

type failingRecomputer struct{}

func (failingRecomputer) RecomputeCourse(context.Context, *course.Course, string) (*progress.CourseProgress, error) {
	return nil, errors.New("broken row")
}

func TestRecomputeCourseProgressJob_TooManyFailures(t *testing.T) {
	store := seedStore(t)
	job := NewRecomputeCourseProgressJob(store.Courses(), store.Lessons(), failingRecomputer{}, nil, RecomputeCourseProgressConfig{})

	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, job.LastStats().Failed)
}

func TestWarmDashboardCacheJob(t *testing.T) {
	store := seedStore(t)
	var scopes []string
	refresher := DashboardRefresherFunc(func(_ context.Context, slug string) error {
		scopes = append(scopes, slug)
		if slug == "intro" {
			return errors.New("cache down")
		}
		return nil
	})

	err := NewWarmDashboardCacheJob(store.Courses(), refresher, nil).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "intro")
	assert.Equal(t, []string{"intro", ""}, scopes, "a failing course does not stop the cross-course scope")
}

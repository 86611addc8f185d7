package postgres

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursegate/progress-engine/internal/domain/knowledgecheck"
	"github.com/coursegate/progress-engine/internal/domain/progress"
	"github.com/coursegate/progress-engine/internal/domain/shared"
)

// Runs only against a disposable database: TEST_DATABASE_URL=postgres://...
func setupConn(t *testing.T) *Connection {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	conn, err := NewConnection(ctx, DefaultConfig(url), nil)
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	require.NoError(t, NewMigrator(conn).Migrate(ctx))
	return conn
}

// Every test uses a fresh user id so runs never collide.
func freshUser() string { return "it-" + uuid.NewString() }

func TestLessonRepository_HeartbeatsAccumulate(t *testing.T) {
	conn := setupConn(t)
	repo := NewLessonRepository(conn)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	key := progress.LessonKey{UserID: freshUser(), CourseSlug: "go", ModuleSlug: "m1", LessonSlug: "intro"}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.ApplyHeartbeat(ctx, key, progress.Heartbeat{TotalDeltaSeconds: 30, ActiveDeltaSeconds: 40, ScrollDepth: 10 * i}, now)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	lp, err := repo.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 300, lp.TimeSpentSeconds)
	assert.LessOrEqual(t, lp.ActiveTimeSeconds, lp.TimeSpentSeconds)
	assert.Equal(t, 90, lp.MaxScrollDepth)
	assert.Equal(t, shared.StatusInProgress, lp.Status)

	_, changed, err := repo.MarkCompleted(ctx, key, now)
	require.NoError(t, err)
	assert.True(t, changed)
	_, changed, err = repo.MarkCompleted(ctx, key, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestKnowledgeCheckRepository_SingleWinner(t *testing.T) {
	conn := setupConn(t)
	repo := NewKnowledgeCheckRepository(conn)
	ctx := context.Background()
	now := time.Now().UTC()
	key := knowledgecheck.SessionKey{UserID: freshUser(), CourseSlug: "go", ModuleSlug: "m1"}

	require.NoError(t, repo.SaveDraft(ctx, key, knowledgecheck.Answer{QuestionID: "q1", Selected: json.RawMessage(`"a"`), AttemptedAt: now}))

	answers := []knowledgecheck.Answer{
		{QuestionID: "q1", Selected: json.RawMessage(`"b"`), IsCorrect: true, AttemptedAt: now},
		{QuestionID: "q2", Selected: json.RawMessage(`true`), IsCorrect: false, AttemptedAt: now},
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := repo.Finalize(ctx, key, answers, knowledgecheck.NewScore(1, 2), now)
			assert.NoError(t, err)
			if won {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins.Load())

	s, err := repo.GetSession(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.True(t, s.Finalized)
	assert.Len(t, s.Answers, 2)
	assert.Equal(t, 50, s.Score.ScorePercent)

	err = repo.SaveDraft(ctx, key, knowledgecheck.Answer{QuestionID: "q1", Selected: json.RawMessage(`"c"`), AttemptedAt: now})
	assert.ErrorIs(t, err, shared.ErrSessionAlreadyCompleted)

	mods, err := repo.ListFinalizedModules(ctx, key.UserID, key.CourseSlug)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, mods)
}

func TestCourseProgressRepository_UpsertReturnsPrevious(t *testing.T) {
	conn := setupConn(t)
	repo := NewCourseProgressRepository(conn)
	ctx := context.Background()
	user := freshUser()
	now := time.Now().UTC()

	prev, err := repo.Upsert(ctx, &progress.CourseProgress{UserID: user, CourseSlug: "go", Status: shared.StatusInProgress, UpdatedAt: now})
	require.NoError(t, err)
	assert.Equal(t, shared.StatusNotStarted, prev)

	prev, err = repo.Upsert(ctx, &progress.CourseProgress{UserID: user, CourseSlug: "go", Status: shared.StatusCompleted, UpdatedAt: now})
	require.NoError(t, err)
	assert.Equal(t, shared.StatusInProgress, prev)

	rows, err := repo.List(ctx, progress.Filter{CourseSlug: "go", UserIDs: []string{user}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, shared.StatusCompleted, rows[0].Status)
}

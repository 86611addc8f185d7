package progress

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursegate/progress-engine/internal/domain/shared"
)

func TestHeartbeatNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   Heartbeat
		want Heartbeat
	}{
		{"passthrough", Heartbeat{60, 45, 30}, Heartbeat{60, 45, 30}},
		{"clamps deltas", Heartbeat{500, 300, 10}, Heartbeat{120, 120, 10}},
		{"active above total", Heartbeat{30, 50, 10}, Heartbeat{30, 30, 10}},
		{"scroll bounds high", Heartbeat{10, 10, 180}, Heartbeat{10, 10, 100}},
		{"scroll bounds low", Heartbeat{10, 10, -5}, Heartbeat{10, 10, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Normalize(MaxHeartbeatDeltaSeconds)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHeartbeatNormalize_RejectsNegativeDeltas(t *testing.T) {
	_, err := Heartbeat{TotalDeltaSeconds: -1}.Normalize(120)
	assert.True(t, errors.Is(err, ErrNegativeDelta))
	assert.True(t, shared.IsValidation(err))

	_, err = Heartbeat{TotalDeltaSeconds: 10, ActiveDeltaSeconds: -3}.Normalize(120)
	assert.True(t, shared.IsValidation(err))
}

func TestLessonProgress_AccumulatesHeartbeats(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	key := LessonKey{UserID: "u1", CourseSlug: "go", ModuleSlug: "basics", LessonSlug: "vars"}
	lp := NewLessonProgress(key, start)

	samples := []Heartbeat{
		{60, 60, 20},
		{120, 40, 55},
		{0, 0, 10},
		{90, 90, 50},
		{15, 0, 100},
		{120, 120, 70},
	}

	sum := 0
	prevTime, prevScroll := 0, 0
	for i, raw := range samples {
		hb, err := raw.Normalize(MaxHeartbeatDeltaSeconds)
		require.NoError(t, err)
		lp.Apply(hb, start.Add(time.Duration(i+1)*time.Minute))
		sum += raw.TotalDeltaSeconds

		assert.Equal(t, sum, lp.TimeSpentSeconds)
		assert.GreaterOrEqual(t, lp.TimeSpentSeconds, prevTime)
		assert.LessOrEqual(t, lp.ActiveTimeSeconds, lp.TimeSpentSeconds)
		assert.GreaterOrEqual(t, lp.MaxScrollDepth, prevScroll)
		prevTime, prevScroll = lp.TimeSpentSeconds, lp.MaxScrollDepth
	}

	assert.Equal(t, 100, lp.MaxScrollDepth)
	assert.Equal(t, shared.StatusInProgress, lp.Status)
	assert.Equal(t, start, lp.FirstViewedAt)
	assert.Equal(t, start.Add(6*time.Minute), lp.LastViewedAt)
}

func TestLessonProgress_CompletedKeepsAccumulating(t *testing.T) {
	now := time.Now()
	lp := NewLessonProgress(LessonKey{UserID: "u1", CourseSlug: "c", ModuleSlug: "m", LessonSlug: "l"}, now)

	assert.True(t, lp.MarkCompleted(now))
	assert.False(t, lp.MarkCompleted(now.Add(time.Minute)), "second completion is a no-op")
	require.NotNil(t, lp.CompletedAt)
	assert.Equal(t, now, *lp.CompletedAt)

	lp.Apply(Heartbeat{TotalDeltaSeconds: 30, ActiveDeltaSeconds: 30}, now.Add(2*time.Minute))
	assert.Equal(t, shared.StatusCompleted, lp.Status)
	assert.Equal(t, 30, lp.TimeSpentSeconds)
}

func TestSplitIdle(t *testing.T) {
	assert.Equal(t, 60, SplitIdle(60, 10, 120), "recent interaction keeps whole interval active")
	assert.Equal(t, 0, SplitIdle(60, 200, 120), "idle for longer than the interval")
	assert.Equal(t, 0, SplitIdle(0, 0, 120))
	assert.Equal(t, 100, SplitIdle(100, 0, 0), "zero threshold falls back to the default")
}

func TestCanComplete(t *testing.T) {
	lp := &LessonProgress{TimeSpentSeconds: 50}
	assert.NoError(t, lp.CanComplete(0))
	assert.NoError(t, lp.CanComplete(50))

	err := lp.CanComplete(51)
	assert.True(t, errors.Is(err, ErrMinLessonTimeNotMet))

	var missing *LessonProgress
	assert.Error(t, missing.CanComplete(10))
	assert.NoError(t, missing.CanComplete(0))
}

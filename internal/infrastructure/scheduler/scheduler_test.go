package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursegate/progress-engine/pkg/timeutil"
)

type fakeJob struct {
	name  string
	mu    sync.Mutex
	count int
	run   func(ctx context.Context) error
}

func (j *fakeJob) Name() string        { return j.name }
func (j *fakeJob) Description() string { return "test job" }

func (j *fakeJob) Run(ctx context.Context) error {
	j.mu.Lock()
	j.count++
	j.mu.Unlock()
	if j.run != nil {
		return j.run(ctx)
	}
	return nil
}

func (j *fakeJob) runs() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.count
}

type fakeLocker struct {
	ok       bool
	err      error
	released int
}

func (l *fakeLocker) TryLock(context.Context, string, time.Duration) (func(context.Context) error, bool, error) {
	if l.err != nil || !l.ok {
		return nil, false, l.err
	}
	return func(context.Context) error { l.released++; return nil }, true, nil
}

func newTestScheduler(clock timeutil.Clock, locker Locker) *Scheduler {
	cfg := SchedulerConfig{Clock: clock, TickInterval: time.Hour, JobTimeout: time.Second}
	if locker != nil {
		cfg.Locker = locker
	}
	return NewScheduler(cfg)
}

func TestScheduler_RunsDueJobs(t *testing.T) {
	clock := timeutil.NewFixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := newTestScheduler(clock, nil)
	job := &fakeJob{name: "count"}

	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Minute)))
	assert.ErrorIs(t, s.Register(job, NewIntervalSchedule(time.Minute)), ErrJobAlreadyExists)
	assert.ErrorIs(t, s.Register(nil, NewIntervalSchedule(time.Minute)), ErrNilJob)

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	s.Tick()
	clock.Advance(time.Minute)
	s.Tick()
	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)

	assert.Equal(t, 1, job.runs())
	info := s.ListJobs()
	require.Len(t, info, 1)
	assert.Equal(t, int64(1), info[0].RunCount)
	assert.Equal(t, clock.Now().Add(time.Minute), info[0].NextRun)
	assert.Equal(t, int64(1), s.GetMetrics().Snapshot().TotalExecutions)
}

func TestScheduler_DisabledJobDoesNotRun(t *testing.T) {
	clock := timeutil.NewFixedClock(time.Unix(0, 0))
	s := newTestScheduler(clock, nil)
	job := &fakeJob{name: "off"}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Minute)))
	require.NoError(t, s.DisableJob("off"))
	assert.ErrorIs(t, s.DisableJob("missing"), ErrJobNotFound)

	require.NoError(t, s.Start(context.Background()))
	clock.Advance(time.Hour)
	s.Tick()
	require.NoError(t, s.Stop())
	assert.Zero(t, job.runs())
}

func TestScheduler_RunNow(t *testing.T) {
	s := newTestScheduler(nil, nil)
	boom := errors.New("boom")
	require.NoError(t, s.Register(&fakeJob{name: "fail", run: func(context.Context) error { return boom }}, NewIntervalSchedule(time.Hour)))
	require.NoError(t, s.Register(&fakeJob{name: "panic", run: func(context.Context) error { panic("bad") }}, NewIntervalSchedule(time.Hour)))

	res, err := s.RunNow(context.Background(), "fail")
	assert.ErrorIs(t, err, boom)
	assert.False(t, res.Success)
	assert.True(t, res.Manual)

	_, err = s.RunNow(context.Background(), "panic")
	assert.ErrorIs(t, err, ErrJobPanicked)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	history := s.GetHistory(0)
	require.Len(t, history, 2)
	assert.Equal(t, "fail", history[0].JobName)
	assert.Equal(t, int64(2), s.GetMetrics().Snapshot().TotalFailures)
}

func TestScheduler_RejectsOverlappingRuns(t *testing.T) {
	s := newTestScheduler(nil, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, s.Register(&fakeJob{name: "slow", run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}, NewIntervalSchedule(time.Hour)))

	done := make(chan error, 1)
	go func() {
		_, err := s.RunNow(context.Background(), "slow")
		done <- err
	}()
	<-started

	_, err := s.RunNow(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrJobRunning)

	close(release)
	require.NoError(t, <-done)
}

func TestScheduler_LeaseHeldElsewhereSkipsRun(t *testing.T) {
	job := &fakeJob{name: "leased"}
	s := newTestScheduler(nil, &fakeLocker{ok: false})
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Hour)))

	res, err := s.RunNow(context.Background(), "leased")
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Zero(t, job.runs())
}

func TestScheduler_LeaseReleasedAfterRun(t *testing.T) {
	locker := &fakeLocker{ok: true}
	job := &fakeJob{name: "leased"}
	s := newTestScheduler(nil, locker)
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Hour)))

	_, err := s.RunNow(context.Background(), "leased")
	require.NoError(t, err)
	assert.Equal(t, 1, job.runs())
	assert.Equal(t, 1, locker.released)
}

func TestScheduler_LockerErrorStillRuns(t *testing.T) {
	job := &fakeJob{name: "degraded"}
	s := newTestScheduler(nil, &fakeLocker{err: errors.New("redis down")})
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Hour)))

	_, err := s.RunNow(context.Background(), "degraded")
	require.NoError(t, err)
	assert.Equal(t, 1, job.runs())
}

func TestIntervalSchedule(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 7, 30, 0, time.UTC)

	assert.Equal(t, base.Add(5*time.Minute), NewIntervalSchedule(5*time.Minute).Next(base))
	assert.Equal(t, time.Date(2026, 3, 1, 10, 10, 0, 0, time.UTC), NewAlignedSchedule(5*time.Minute).Next(base))
	assert.Equal(t, time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC),
		NewAlignedSchedule(5*time.Minute).Next(time.Date(2026, 3, 1, 10, 10, 0, 0, time.UTC)))
	assert.True(t, NewIntervalSchedule(0).Next(base).IsZero())
	assert.Equal(t, "@every 5m0s (aligned)", NewAlignedSchedule(5*time.Minute).String())
}

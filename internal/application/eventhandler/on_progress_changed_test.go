package eventhandler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursegate/progress-engine/internal/domain/shared"
)

type invalidations struct {
	courses []string
	err     error
}

func (i *invalidations) InvalidateCourse(_ context.Context, courseSlug string) error {
	i.courses = append(i.courses, courseSlug)
	return i.err
}

type subscriptions struct {
	types []shared.EventType
}

func (s *subscriptions) Subscribe(t shared.EventType, _ shared.EventHandler) error {
	s.types = append(s.types, t)
	return nil
}

func (s *subscriptions) SubscribeAll(shared.EventHandler) error { return nil }

func TestOnProgressChanged_InvalidatesCourse(t *testing.T) {
	cache := &invalidations{}
	h := NewOnProgressChangedHandler(cache, nil, OnProgressChangedConfig{})
	now := time.Now()

	require.NoError(t, h.Handle(shared.NewCourseProgressChangedEvent("u1", "go", shared.StatusNotStarted, shared.StatusInProgress, 10, now)))
	require.NoError(t, h.Handle(shared.NewKnowledgeCheckSubmittedEvent("u1", "rust", "m1", 2, 1, 50, now)))
	require.NoError(t, h.Handle(shared.NewLearnerEnrolledEvent("u2", "go", now)))
	require.NoError(t, h.Handle(shared.NewCourseCompletedEvent("u1", "go", 100, now)))
	require.NoError(t, h.Handle(shared.NewLessonCompletedEvent("u1", "go", "m1", "l1", 5, now)))

	assert.Equal(t, []string{"go", "rust", "go"}, cache.courses)
}

func TestOnProgressChanged_SwallowsCacheErrors(t *testing.T) {
	cache := &invalidations{err: errors.New("redis down")}
	h := NewOnProgressChangedHandler(cache, nil, DefaultOnProgressChangedConfig())

	err := h.Handle(shared.NewCourseProgressChangedEvent("u1", "go", shared.StatusInProgress, shared.StatusCompleted, 10, time.Now()))
	assert.NoError(t, err)
	assert.Len(t, cache.courses, 1)
}

func TestOnProgressChanged_Register(t *testing.T) {
	sub := &subscriptions{}
	h := NewOnProgressChangedHandler(nil, nil, OnProgressChangedConfig{})
	require.NoError(t, h.Register(sub))
	assert.Contains(t, sub.types, shared.EventCourseProgressChanged)
	assert.Contains(t, sub.types, shared.EventKnowledgeCheckSubmitted)
	assert.Len(t, sub.types, 4)
}

type payloadEvent struct {
	shared.BaseEvent
	payload map[string]interface{}
}

func (e payloadEvent) Payload() map[string]interface{} { return e.payload }

func TestOnProgressChanged_PayloadOnlyEvents(t *testing.T) {
	cache := &invalidations{}
	h := NewOnProgressChangedHandler(cache, nil, OnProgressChangedConfig{})
	now := time.Now()

	remote := payloadEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventCourseProgressChanged, "u1/go", now),
		payload:   map[string]interface{}{"user_id": "u1", "course_slug": "go"},
	}
	completed := payloadEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventCourseCompleted, "u1/go", now),
		payload:   map[string]interface{}{"user_id": "u1", "course_slug": "go"},
	}
	require.NoError(t, h.Handle(remote))
	require.NoError(t, h.Handle(completed))

	assert.Equal(t, []string{"go"}, cache.courses)
}

package messaging

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursegate/progress-engine/internal/domain/shared"
	"github.com/coursegate/progress-engine/pkg/retry"
)

func enrolled() shared.Event {
	return shared.NewLearnerEnrolledEvent("u1", "go", time.Unix(1700000000, 0).UTC())
}

func TestInMemoryEventBus_SyncDelivery(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{})
	var typed, all int

	require.NoError(t, bus.Subscribe(shared.EventLearnerEnrolled, func(shared.Event) error { typed++; return nil }))
	require.NoError(t, bus.Subscribe(shared.EventCourseCompleted, func(shared.Event) error { t.Fatal("wrong type"); return nil }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { all++; return errors.New("ignored") }))

	require.NoError(t, bus.Publish(enrolled()))
	assert.Equal(t, 1, typed)
	assert.Equal(t, 1, all)

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.Published[string(shared.EventLearnerEnrolled)])
	assert.Equal(t, int64(2), snap.HandlerExecutions)
	assert.Equal(t, int64(1), snap.HandlerFailures)
}

func TestInMemoryEventBus_AsyncDeliveryAndClose(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2})
	var calls atomic.Int32
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		calls.Add(1)
		return nil
	}))

	for i := 0; i < 20; i++ {
		require.NoError(t, bus.Publish(enrolled()))
	}
	require.NoError(t, bus.Close())
	assert.Equal(t, int32(20), calls.Load())

	assert.ErrorIs(t, bus.Publish(enrolled()), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventLearnerEnrolled, func(shared.Event) error { return nil }), ErrEventBusClosed)
}

func TestInMemoryEventBus_RecoversPanics(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{})
	var after bool
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("boom") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { after = true; return nil }))

	require.NoError(t, bus.Publish(enrolled()))
	assert.True(t, after)
	assert.Equal(t, int64(1), bus.Metrics().Snapshot().HandlerFailures)
}

func TestRetryMiddleware(t *testing.T) {
	r := retry.New(retry.WithMaxAttempts(3), retry.WithInitialDelay(time.Millisecond), retry.WithJitter(0))

	var attempts int
	h := Chain(func(shared.Event) error {
		attempts++
		if attempts < 3 {
			return shared.StorageError("progress", "Upsert", errors.New("conn reset"))
		}
		return nil
	}, RetryMiddleware(r))
	require.NoError(t, h(enrolled()))
	assert.Equal(t, 3, attempts)

	attempts = 0
	h = Chain(func(shared.Event) error {
		attempts++
		return errors.New("permanent")
	}, RetryMiddleware(r))
	require.Error(t, h(enrolled()))
	assert.Equal(t, 1, attempts)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	ev := shared.NewKnowledgeCheckSubmittedEvent("u1", "go", "m1", 4, 3, 75, time.Unix(1700000000, 0).UTC())

	data, err := EncodeEnvelope("node-a", ev)
	require.NoError(t, err)

	origin, got, err := DecodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, "node-a", origin)
	assert.NotEmpty(t, got.ID())
	assert.Equal(t, shared.EventKnowledgeCheckSubmitted, got.EventType())
	assert.Equal(t, "u1/go", got.AggregateID())
	assert.True(t, ev.OccurredAt().Equal(got.OccurredAt()))
	assert.Equal(t, "m1", got.String("module_slug"))
	assert.Equal(t, float64(75), got.Payload()["score_percent"])

	_, _, err = DecodeEnvelope([]byte(`{"origin":"x"}`))
	assert.Error(t, err)
}

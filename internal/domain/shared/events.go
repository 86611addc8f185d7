package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Heartbeats intentionally produce no events: they only
// touch one lesson progress row.
const (
	// Enrollment events
	EventLearnerEnrolled EventType = "enrollment.learner_enrolled"

	// Lesson events
	EventLessonCompleted EventType = "progress.lesson_completed"

	// Knowledge check events
	EventKnowledgeCheckSubmitted EventType = "knowledge_check.submitted"

	// Course events
	EventCourseProgressChanged EventType = "course_progress.changed"
	EventCourseCompleted       EventType = "course.completed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// CourseAggregateID is the aggregate identity of a learner's course progress.
func CourseAggregateID(userID, courseSlug string) string {
	return userID + "/" + courseSlug
}

// ═══════════════════════════════════════════════════════════════════════════
// Enrollment Events
// ═══════════════════════════════════════════════════════════════════════════

// LearnerEnrolledEvent is emitted the first time a learner enrolls into a course.
type LearnerEnrolledEvent struct {
	BaseEvent
	UserID     string `json:"user_id"`
	CourseSlug string `json:"course_slug"`
}

// Payload implements Event interface.
func (e LearnerEnrolledEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":     e.UserID,
		"course_slug": e.CourseSlug,
	}
}

// NewLearnerEnrolledEvent creates a new LearnerEnrolledEvent.
func NewLearnerEnrolledEvent(userID, courseSlug string, at time.Time) LearnerEnrolledEvent {
	return LearnerEnrolledEvent{
		BaseEvent:  NewBaseEvent(EventLearnerEnrolled, CourseAggregateID(userID, courseSlug), at),
		UserID:     userID,
		CourseSlug: courseSlug,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Lesson Events
// ═══════════════════════════════════════════════════════════════════════════

// LessonCompletedEvent is emitted when a lesson transitions into completed.
type LessonCompletedEvent struct {
	BaseEvent
	UserID           string `json:"user_id"`
	CourseSlug       string `json:"course_slug"`
	ModuleSlug       string `json:"module_slug"`
	LessonSlug       string `json:"lesson_slug"`
	TimeSpentSeconds int    `json:"time_spent_seconds"`
}

// Payload implements Event interface.
func (e LessonCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":            e.UserID,
		"course_slug":        e.CourseSlug,
		"module_slug":        e.ModuleSlug,
		"lesson_slug":        e.LessonSlug,
		"time_spent_seconds": e.TimeSpentSeconds,
	}
}

// NewLessonCompletedEvent creates a new LessonCompletedEvent.
func NewLessonCompletedEvent(userID, courseSlug, moduleSlug, lessonSlug string, timeSpent int, at time.Time) LessonCompletedEvent {
	return LessonCompletedEvent{
		BaseEvent:        NewBaseEvent(EventLessonCompleted, CourseAggregateID(userID, courseSlug), at),
		UserID:           userID,
		CourseSlug:       courseSlug,
		ModuleSlug:       moduleSlug,
		LessonSlug:       lessonSlug,
		TimeSpentSeconds: timeSpent,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Knowledge Check Events
// ═══════════════════════════════════════════════════════════════════════════

// KnowledgeCheckSubmittedEvent is emitted exactly once per finalized session.
type KnowledgeCheckSubmittedEvent struct {
	BaseEvent
	UserID       string `json:"user_id"`
	CourseSlug   string `json:"course_slug"`
	ModuleSlug   string `json:"module_slug"`
	Total        int    `json:"total"`
	Correct      int    `json:"correct"`
	ScorePercent int    `json:"score_percent"`
}

// Payload implements Event interface.
func (e KnowledgeCheckSubmittedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":       e.UserID,
		"course_slug":   e.CourseSlug,
		"module_slug":   e.ModuleSlug,
		"total":         e.Total,
		"correct":       e.Correct,
		"score_percent": e.ScorePercent,
	}
}

// NewKnowledgeCheckSubmittedEvent creates a new KnowledgeCheckSubmittedEvent.
func NewKnowledgeCheckSubmittedEvent(userID, courseSlug, moduleSlug string, total, correct, score int, at time.Time) KnowledgeCheckSubmittedEvent {
	return KnowledgeCheckSubmittedEvent{
		BaseEvent:    NewBaseEvent(EventKnowledgeCheckSubmitted, CourseAggregateID(userID, courseSlug), at),
		UserID:       userID,
		CourseSlug:   courseSlug,
		ModuleSlug:   moduleSlug,
		Total:        total,
		Correct:      correct,
		ScorePercent: score,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Course Events
// ═══════════════════════════════════════════════════════════════════════════

// CourseProgressChangedEvent is emitted when a recompute changes the stored course status.
type CourseProgressChangedEvent struct {
	BaseEvent
	UserID           string         `json:"user_id"`
	CourseSlug       string         `json:"course_slug"`
	PreviousStatus   ProgressStatus `json:"previous_status"`
	Status           ProgressStatus `json:"status"`
	TotalTimeSeconds int            `json:"total_time_seconds"`
}

// Payload implements Event interface.
func (e CourseProgressChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":            e.UserID,
		"course_slug":        e.CourseSlug,
		"previous_status":    string(e.PreviousStatus),
		"status":             string(e.Status),
		"total_time_seconds": e.TotalTimeSeconds,
	}
}

// NewCourseProgressChangedEvent creates a new CourseProgressChangedEvent.
func NewCourseProgressChangedEvent(userID, courseSlug string, previous, status ProgressStatus, totalTime int, at time.Time) CourseProgressChangedEvent {
	return CourseProgressChangedEvent{
		BaseEvent:        NewBaseEvent(EventCourseProgressChanged, CourseAggregateID(userID, courseSlug), at),
		UserID:           userID,
		CourseSlug:       courseSlug,
		PreviousStatus:   previous,
		Status:           status,
		TotalTimeSeconds: totalTime,
	}
}

// CourseCompletedEvent is emitted on the transition of a course into completed.
type CourseCompletedEvent struct {
	BaseEvent
	UserID           string `json:"user_id"`
	CourseSlug       string `json:"course_slug"`
	TotalTimeSeconds int    `json:"total_time_seconds"`
}

// Payload implements Event interface.
func (e CourseCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":            e.UserID,
		"course_slug":        e.CourseSlug,
		"total_time_seconds": e.TotalTimeSeconds,
	}
}

// NewCourseCompletedEvent creates a new CourseCompletedEvent.
func NewCourseCompletedEvent(userID, courseSlug string, totalTime int, at time.Time) CourseCompletedEvent {
	return CourseCompletedEvent{
		BaseEvent:        NewBaseEvent(EventCourseCompleted, CourseAggregateID(userID, courseSlug), at),
		UserID:           userID,
		CourseSlug:       courseSlug,
		TotalTimeSeconds: totalTime,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/coursegate/progress-engine/internal/domain/course"
	"github.com/coursegate/progress-engine/internal/domain/progress"
	"github.com/coursegate/progress-engine/internal/domain/shared"
	"github.com/coursegate/progress-engine/pkg/logger"
	"github.com/coursegate/progress-engine/pkg/timeutil"
)

// FeatureGate reports whether a rollout-controlled behaviour is on for a user.
type FeatureGate func(userID string) bool

func (g FeatureGate) enabled(userID string, fallback bool) bool {
	if g == nil {
		return fallback
	}
	return g(userID)
}

// ══════════════════════════════════════════════════════════════════════════════
// RECOMPUTE COURSE PROGRESS COMMAND
// Rebuilds a learner's CourseProgress from lesson rows and finalized knowledge
// checks. Called after lesson completion, after a winning knowledge check
// submission, lazily on reads and by the background worker.
// ══════════════════════════════════════════════════════════════════════════════

// RecomputeCourseProgressCommand identifies the (user, course) to recompute.
type RecomputeCourseProgressCommand struct {
	UserID        string
	CourseSlug    string
	CorrelationID string
}

// Validate validates the command.
func (c RecomputeCourseProgressCommand) Validate() error {
	if _, err := shared.NewUserID(c.UserID); err != nil {
		return err
	}
	return requireFields("recompute_course_progress", "course", c.CourseSlug)
}

// RecomputeCourseProgressResult contains the recomputed row.
type RecomputeCourseProgressResult struct {
	Progress        *progress.CourseProgress
	PreviousStatus  shared.ProgressStatus
	Changed         bool
	BecameCompleted bool
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RecomputeCourseProgressHandler handles RecomputeCourseProgressCommand.
type RecomputeCourseProgressHandler struct {
	courses        course.Repository
	recomputer     *progress.Recomputer
	eventPublisher shared.EventPublisher
	clock          timeutil.Clock
	logger         *logger.Logger
}

// NewRecomputeCourseProgressHandler creates a new handler.
func NewRecomputeCourseProgressHandler(
	courses course.Repository,
	recomputer *progress.Recomputer,
	eventPublisher shared.EventPublisher,
	clock timeutil.Clock,
	log *logger.Logger,
) *RecomputeCourseProgressHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &RecomputeCourseProgressHandler{
		courses:        courses,
		recomputer:     recomputer,
		eventPublisher: eventPublisher,
		clock:          timeutil.OrSystem(clock),
		logger:         log.With(logger.Component("recompute_course_progress")),
	}
}

// Handle executes the command.
func (h *RecomputeCourseProgressHandler) Handle(ctx context.Context, cmd RecomputeCourseProgressCommand) (*RecomputeCourseProgressResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("recompute_course_progress: validation failed: %w", err)
	}
	c, err := h.courses.Get(ctx, cmd.CourseSlug)
	if err != nil {
		return nil, fmt.Errorf("recompute_course_progress: %w", err)
	}
	return h.recompute(ctx, c, cmd.UserID, cmd.CorrelationID)
}

// RecomputeCourse recomputes for an already loaded course and returns the row.
func (h *RecomputeCourseProgressHandler) RecomputeCourse(ctx context.Context, c *course.Course, userID string) (*progress.CourseProgress, error) {
	res, err := h.recompute(ctx, c, userID, "")
	if err != nil {
		return nil, err
	}
	return res.Progress, nil
}

func (h *RecomputeCourseProgressHandler) recompute(ctx context.Context, c *course.Course, userID, correlationID string) (*RecomputeCourseProgressResult, error) {
	rc, err := h.recomputer.Recompute(ctx, c, userID, h.clock.Now())
	if err != nil {
		h.logger.Error("recompute failed", logger.UserID(userID), logger.Course(c.Slug), logger.Err(err))
		return nil, fmt.Errorf("recompute_course_progress: %w", err)
	}

	result := &RecomputeCourseProgressResult{
		Progress:        rc.Progress,
		PreviousStatus:  rc.PreviousStatus,
		Changed:         rc.Changed,
		BecameCompleted: rc.Changed && rc.BecameCompleted(),
	}

	if !rc.Changed {
		return result, nil
	}

	cp := rc.Progress
	events := []shared.Event{
		withCorrelation(shared.NewCourseProgressChangedEvent(userID, c.Slug, rc.PreviousStatus, cp.Status, cp.TotalTimeSeconds, cp.UpdatedAt), correlationID),
	}
	if result.BecameCompleted {
		events = append(events, withCorrelation(shared.NewCourseCompletedEvent(userID, c.Slug, cp.TotalTimeSeconds, cp.UpdatedAt), correlationID))
		h.logger.Info("course completed", logger.UserID(userID), logger.Course(c.Slug), logger.Int("total_time_seconds", cp.TotalTimeSeconds))
	}
	publish(h.eventPublisher, h.logger, events...)

	return result, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// helpers shared by command handlers
// ─────────────────────────────────────────────────────────────────────────────

func publish(pub shared.EventPublisher, log *logger.Logger, events ...shared.Event) {
	if pub == nil {
		return
	}
	for _, e := range events {
		if err := pub.Publish(e); err != nil {
			log.Warn("failed to publish event", logger.EventType(string(e.EventType())), logger.Err(err))
		}
	}
}

func withCorrelation(e shared.Event, id string) shared.Event {
	if id == "" {
		return e
	}
	switch ev := e.(type) {
	case shared.CourseProgressChangedEvent:
		ev.BaseEvent = ev.WithCorrelationID(id)
		return ev
	case shared.CourseCompletedEvent:
		ev.BaseEvent = ev.WithCorrelationID(id)
		return ev
	case shared.LessonCompletedEvent:
		ev.BaseEvent = ev.WithCorrelationID(id)
		return ev
	case shared.KnowledgeCheckSubmittedEvent:
		ev.BaseEvent = ev.WithCorrelationID(id)
		return ev
	case shared.LearnerEnrolledEvent:
		ev.BaseEvent = ev.WithCorrelationID(id)
		return ev
	}
	return e
}

// requireFields takes name/value pairs and rejects the first empty value.
func requireFields(op string, pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return shared.NewDomainError(op, "Validate", shared.ErrEmptyValue, pairs[i]+" is required")
		}
	}
	return nil
}

func isNotFound(err error) bool {
	return err != nil && errors.Is(err, shared.ErrNotFound)
}

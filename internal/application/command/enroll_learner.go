package command

import (
	"context"
	"fmt"

	"github.com/coursegate/progress-engine/internal/domain/course"
	"github.com/coursegate/progress-engine/internal/domain/progress"
	"github.com/coursegate/progress-engine/internal/domain/shared"
	"github.com/coursegate/progress-engine/pkg/logger"
	"github.com/coursegate/progress-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENROLL LEARNER COMMAND
// Explicit enrollment. A learner with lesson progress counts as enrolled even
// without calling this; the command exists so dashboards see learners who
// registered but never opened a lesson.
// ══════════════════════════════════════════════════════════════════════════════

// EnrollLearnerCommand identifies the learner and course.
type EnrollLearnerCommand struct {
	UserID        string
	CourseSlug    string
	CorrelationID string
}

// Validate validates the command.
func (c EnrollLearnerCommand) Validate() error {
	if _, err := shared.NewUserID(c.UserID); err != nil {
		return err
	}
	return requireFields("enroll_learner", "course", c.CourseSlug)
}

// EnrollLearnerResult reports whether a new enrollment was created.
type EnrollLearnerResult struct {
	Created  bool
	Progress *progress.CourseProgress
}

// EnrollLearnerHandler handles EnrollLearnerCommand.
type EnrollLearnerHandler struct {
	courses        course.Repository
	enrollments    progress.EnrollmentRepository
	recompute      *RecomputeCourseProgressHandler
	eventPublisher shared.EventPublisher
	clock          timeutil.Clock
	logger         *logger.Logger
}

// NewEnrollLearnerHandler creates a new EnrollLearnerHandler.
func NewEnrollLearnerHandler(
	courses course.Repository,
	enrollments progress.EnrollmentRepository,
	recompute *RecomputeCourseProgressHandler,
	eventPublisher shared.EventPublisher,
	clock timeutil.Clock,
	log *logger.Logger,
) *EnrollLearnerHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &EnrollLearnerHandler{
		courses:        courses,
		enrollments:    enrollments,
		recompute:      recompute,
		eventPublisher: eventPublisher,
		clock:          timeutil.OrSystem(clock),
		logger:         log.With(logger.Component("enroll_learner")),
	}
}

// Handle executes the command.
func (h *EnrollLearnerHandler) Handle(ctx context.Context, cmd EnrollLearnerCommand) (*EnrollLearnerResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("enroll_learner: validation failed: %w", err)
	}

	c, err := h.courses.Get(ctx, cmd.CourseSlug)
	if err != nil {
		return nil, fmt.Errorf("enroll_learner: %w", err)
	}

	now := h.clock.Now()
	created, err := h.enrollments.Enroll(ctx, cmd.UserID, cmd.CourseSlug, now)
	if err != nil {
		return nil, fmt.Errorf("enroll_learner: %w", err)
	}

	result := &EnrollLearnerResult{Created: created}
	if created {
		publish(h.eventPublisher, h.logger, withCorrelation(
			shared.NewLearnerEnrolledEvent(cmd.UserID, cmd.CourseSlug, now),
			cmd.CorrelationID,
		))
		h.logger.Info("learner enrolled", logger.UserID(cmd.UserID), logger.Course(cmd.CourseSlug))
	}

	cp, err := h.recompute.RecomputeCourse(ctx, c, cmd.UserID)
	if err != nil {
		h.logger.Warn("initial course progress not computed",
			logger.UserID(cmd.UserID), logger.Course(cmd.CourseSlug), logger.Err(err))
		return result, nil
	}
	result.Progress = cp
	return result, nil
}

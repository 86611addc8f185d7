package command

import (
	"context"
	"fmt"

	"github.com/coursegate/progress-engine/internal/domain/course"
	"github.com/coursegate/progress-engine/internal/domain/gating"
	"github.com/coursegate/progress-engine/internal/domain/progress"
	"github.com/coursegate/progress-engine/internal/domain/shared"
	"github.com/coursegate/progress-engine/pkg/logger"
	"github.com/coursegate/progress-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETE LESSON COMMAND
// Marks a lesson completed when the learner finishes or navigates away from it.
// Idempotent; the first completion triggers a course progress recompute.
// ══════════════════════════════════════════════════════════════════════════════

// CompleteLessonCommand identifies the lesson to complete.
type CompleteLessonCommand struct {
	UserID        string
	CourseSlug    string
	ModuleSlug    string
	LessonSlug    string
	CorrelationID string
}

// Validate validates the command.
func (c CompleteLessonCommand) Validate() error {
	if _, err := shared.NewUserID(c.UserID); err != nil {
		return err
	}
	return requireFields("complete_lesson", "course", c.CourseSlug, "module", c.ModuleSlug, "lesson", c.LessonSlug)
}

// CompleteLessonResult contains the lesson and course state after completion.
type CompleteLessonResult struct {
	Lesson           *progress.LessonProgress
	Course           *progress.CourseProgress
	AlreadyCompleted bool
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// CompleteLessonHandlerConfig contains configuration for the handler.
type CompleteLessonHandlerConfig struct {
	// EnforceAccess rejects completion of lessons the gating resolver locks.
	EnforceAccess FeatureGate
}

// CompleteLessonHandler handles CompleteLessonCommand.
type CompleteLessonHandler struct {
	courses        course.Repository
	lessons        progress.LessonRepository
	resolver       *gating.Resolver
	recompute      *RecomputeCourseProgressHandler
	eventPublisher shared.EventPublisher
	clock          timeutil.Clock
	logger         *logger.Logger
	config         CompleteLessonHandlerConfig
}

// NewCompleteLessonHandler creates a new CompleteLessonHandler.
func NewCompleteLessonHandler(
	courses course.Repository,
	lessons progress.LessonRepository,
	resolver *gating.Resolver,
	recompute *RecomputeCourseProgressHandler,
	eventPublisher shared.EventPublisher,
	clock timeutil.Clock,
	log *logger.Logger,
	config CompleteLessonHandlerConfig,
) *CompleteLessonHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &CompleteLessonHandler{
		courses:        courses,
		lessons:        lessons,
		resolver:       resolver,
		recompute:      recompute,
		eventPublisher: eventPublisher,
		clock:          timeutil.OrSystem(clock),
		logger:         log.With(logger.Component("complete_lesson")),
		config:         config,
	}
}

// Handle executes the command.
func (h *CompleteLessonHandler) Handle(ctx context.Context, cmd CompleteLessonCommand) (*CompleteLessonResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("complete_lesson: validation failed: %w", err)
	}

	c, err := h.courses.Get(ctx, cmd.CourseSlug)
	if err != nil {
		return nil, fmt.Errorf("complete_lesson: %w", err)
	}
	if _, _, err := c.Lesson(cmd.ModuleSlug, cmd.LessonSlug); err != nil {
		return nil, fmt.Errorf("complete_lesson: %w", err)
	}

	key := progress.LessonKey{
		UserID:     cmd.UserID,
		CourseSlug: cmd.CourseSlug,
		ModuleSlug: cmd.ModuleSlug,
		LessonSlug: cmd.LessonSlug,
	}

	existing, err := h.lessons.Get(ctx, key)
	if err != nil && !isNotFound(err) {
		return nil, fmt.Errorf("complete_lesson: %w", err)
	}
	if existing != nil && existing.IsCompleted() {
		return &CompleteLessonResult{Lesson: existing, AlreadyCompleted: true}, nil
	}

	if h.config.EnforceAccess.enabled(cmd.UserID, true) {
		if err := h.resolver.CheckLesson(ctx, c, cmd.UserID, cmd.ModuleSlug, cmd.LessonSlug); err != nil {
			return nil, fmt.Errorf("complete_lesson: %w", err)
		}
	}
	if err := existing.CanComplete(c.Config.MinLessonTimeSeconds); err != nil {
		return nil, fmt.Errorf("complete_lesson: %w", err)
	}

	now := h.clock.Now()
	lp, changed, err := h.lessons.MarkCompleted(ctx, key, now)
	if err != nil {
		return nil, fmt.Errorf("complete_lesson: %w", err)
	}
	result := &CompleteLessonResult{Lesson: lp, AlreadyCompleted: !changed}
	if !changed {
		return result, nil
	}

	publish(h.eventPublisher, h.logger, withCorrelation(
		shared.NewLessonCompletedEvent(cmd.UserID, cmd.CourseSlug, cmd.ModuleSlug, cmd.LessonSlug, lp.TimeSpentSeconds, now),
		cmd.CorrelationID,
	))

	rc, err := h.recompute.recompute(ctx, c, cmd.UserID, cmd.CorrelationID)
	if err != nil {
		// The lesson is stored; course progress will be rebuilt lazily.
		h.logger.Error("course recompute after lesson completion failed",
			logger.UserID(cmd.UserID), logger.Course(cmd.CourseSlug), logger.Err(err))
		return result, nil
	}
	result.Course = rc.Progress

	h.logger.Debug("lesson completed",
		logger.UserID(cmd.UserID), logger.Course(cmd.CourseSlug),
		logger.Module(cmd.ModuleSlug), logger.Lesson(cmd.LessonSlug))
	return result, nil
}

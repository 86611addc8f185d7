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
// APPLY HEARTBEAT COMMAND
// Folds one client heartbeat into the lesson progress row. Deltas are additive
// and commutative, so duplicated or reordered deliveries are safe. Course
// progress is not touched here; it is recomputed on completion or lazily.
// ══════════════════════════════════════════════════════════════════════════════

// ApplyHeartbeatCommand contains one heartbeat sample.
type ApplyHeartbeatCommand struct {
	UserID     string
	CourseSlug string
	ModuleSlug string
	LessonSlug string

	// TotalDeltaSeconds is wall time since the previous delivery.
	TotalDeltaSeconds int

	// ActiveDeltaSeconds is the client-computed non-idle portion.
	ActiveDeltaSeconds int

	// SecondsSinceInteraction, when set and the server idle split is enabled,
	// replaces ActiveDeltaSeconds with a server-side split.
	SecondsSinceInteraction *int

	// ScrollDepth is the current scroll position in percent.
	ScrollDepth int
}

// Validate validates the command.
func (c ApplyHeartbeatCommand) Validate() error {
	if _, err := shared.NewUserID(c.UserID); err != nil {
		return err
	}
	if err := requireFields("apply_heartbeat", "course", c.CourseSlug, "module", c.ModuleSlug, "lesson", c.LessonSlug); err != nil {
		return err
	}
	if c.TotalDeltaSeconds < 0 || c.ActiveDeltaSeconds < 0 {
		return progress.ErrNegativeDelta
	}
	if c.SecondsSinceInteraction != nil && *c.SecondsSinceInteraction < 0 {
		return progress.ErrNegativeDelta
	}
	return nil
}

// ApplyHeartbeatResult contains the updated lesson row.
type ApplyHeartbeatResult struct {
	Progress *progress.LessonProgress

	// Applied is the normalized sample that was stored.
	Applied progress.Heartbeat
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// ApplyHeartbeatHandlerConfig contains configuration for the handler.
type ApplyHeartbeatHandlerConfig struct {
	MaxDeltaSeconds      int
	IdleThresholdSeconds int

	// ServerIdleSplit gates the server-side idle computation per user.
	ServerIdleSplit FeatureGate
}

// DefaultApplyHeartbeatHandlerConfig returns default configuration.
func DefaultApplyHeartbeatHandlerConfig() ApplyHeartbeatHandlerConfig {
	return ApplyHeartbeatHandlerConfig{
		MaxDeltaSeconds:      progress.MaxHeartbeatDeltaSeconds,
		IdleThresholdSeconds: progress.IdleThresholdSeconds,
	}
}

// ApplyHeartbeatHandler handles ApplyHeartbeatCommand.
type ApplyHeartbeatHandler struct {
	courses course.Repository
	lessons progress.LessonRepository
	clock   timeutil.Clock
	logger  *logger.Logger
	config  ApplyHeartbeatHandlerConfig
}

// NewApplyHeartbeatHandler creates a new ApplyHeartbeatHandler.
func NewApplyHeartbeatHandler(
	courses course.Repository,
	lessons progress.LessonRepository,
	clock timeutil.Clock,
	log *logger.Logger,
	config ApplyHeartbeatHandlerConfig,
) *ApplyHeartbeatHandler {
	if config.MaxDeltaSeconds == 0 {
		config.MaxDeltaSeconds = progress.MaxHeartbeatDeltaSeconds
	}
	if config.IdleThresholdSeconds == 0 {
		config.IdleThresholdSeconds = progress.IdleThresholdSeconds
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ApplyHeartbeatHandler{
		courses: courses,
		lessons: lessons,
		clock:   timeutil.OrSystem(clock),
		logger:  log.With(logger.Component("apply_heartbeat")),
		config:  config,
	}
}

// Handle executes the heartbeat command.
func (h *ApplyHeartbeatHandler) Handle(ctx context.Context, cmd ApplyHeartbeatCommand) (*ApplyHeartbeatResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("apply_heartbeat: validation failed: %w", err)
	}

	c, err := h.courses.Get(ctx, cmd.CourseSlug)
	if err != nil {
		return nil, fmt.Errorf("apply_heartbeat: %w", err)
	}
	if _, _, err := c.Lesson(cmd.ModuleSlug, cmd.LessonSlug); err != nil {
		return nil, fmt.Errorf("apply_heartbeat: %w", err)
	}

	sample := progress.Heartbeat{
		TotalDeltaSeconds:  cmd.TotalDeltaSeconds,
		ActiveDeltaSeconds: cmd.ActiveDeltaSeconds,
		ScrollDepth:        cmd.ScrollDepth,
	}
	if cmd.SecondsSinceInteraction != nil && h.config.ServerIdleSplit.enabled(cmd.UserID, false) {
		sample.ActiveDeltaSeconds = progress.SplitIdle(cmd.TotalDeltaSeconds, *cmd.SecondsSinceInteraction, h.config.IdleThresholdSeconds)
	}

	applied, err := sample.Normalize(h.config.MaxDeltaSeconds)
	if err != nil {
		return nil, fmt.Errorf("apply_heartbeat: %w", err)
	}

	key := progress.LessonKey{
		UserID:     cmd.UserID,
		CourseSlug: cmd.CourseSlug,
		ModuleSlug: cmd.ModuleSlug,
		LessonSlug: cmd.LessonSlug,
	}
	lp, err := h.lessons.ApplyHeartbeat(ctx, key, applied, h.clock.Now())
	if err != nil {
		// Heartbeats are best-effort telemetry; the caller may drop or retry.
		h.logger.Warn("heartbeat not stored",
			logger.UserID(cmd.UserID), logger.Course(cmd.CourseSlug),
			logger.Module(cmd.ModuleSlug), logger.Lesson(cmd.LessonSlug), logger.Err(err))
		return nil, fmt.Errorf("apply_heartbeat: %w", err)
	}

	h.logger.Debug("heartbeat applied",
		logger.UserID(cmd.UserID), logger.Lesson(cmd.LessonSlug),
		logger.Int("total_delta", applied.TotalDeltaSeconds),
		logger.Int("time_spent", lp.TimeSpentSeconds))

	return &ApplyHeartbeatResult{Progress: lp, Applied: applied}, nil
}

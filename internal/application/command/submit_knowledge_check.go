package command

import (
	"context"
	"fmt"

	"github.com/coursegate/progress-engine/internal/domain/course"
	"github.com/coursegate/progress-engine/internal/domain/gating"
	"github.com/coursegate/progress-engine/internal/domain/knowledgecheck"
	"github.com/coursegate/progress-engine/internal/domain/shared"
	"github.com/coursegate/progress-engine/pkg/logger"
	"github.com/coursegate/progress-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUBMIT KNOWLEDGE CHECK COMMAND
// Final scored submission. The finalize transition is one atomic conditional
// write in the store: exactly one concurrent submission wins, every other
// submission (and every later one) gets the stored result flagged as
// already completed. Only the winner recomputes course progress.
// ══════════════════════════════════════════════════════════════════════════════

// SubmitKnowledgeCheckCommand contains the full answer set.
type SubmitKnowledgeCheckCommand struct {
	UserID        string
	CourseSlug    string
	ModuleSlug    string
	Answers       []knowledgecheck.SubmittedAnswer
	CorrelationID string
}

// Validate validates the command.
func (c SubmitKnowledgeCheckCommand) Validate() error {
	if _, err := shared.NewUserID(c.UserID); err != nil {
		return err
	}
	return requireFields("submit_knowledge_check", "course", c.CourseSlug, "module", c.ModuleSlug)
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// SubmitKnowledgeCheckHandlerConfig contains configuration for the handler.
type SubmitKnowledgeCheckHandlerConfig struct {
	EnforceAccess    FeatureGate
	RemediationLinks FeatureGate
}

// SubmitKnowledgeCheckHandler handles SubmitKnowledgeCheckCommand.
type SubmitKnowledgeCheckHandler struct {
	courses        course.Repository
	checks         knowledgecheck.Repository
	resolver       *gating.Resolver
	recompute      *RecomputeCourseProgressHandler
	eventPublisher shared.EventPublisher
	clock          timeutil.Clock
	logger         *logger.Logger
	config         SubmitKnowledgeCheckHandlerConfig
}

// NewSubmitKnowledgeCheckHandler creates a new SubmitKnowledgeCheckHandler.
func NewSubmitKnowledgeCheckHandler(
	courses course.Repository,
	checks knowledgecheck.Repository,
	resolver *gating.Resolver,
	recompute *RecomputeCourseProgressHandler,
	eventPublisher shared.EventPublisher,
	clock timeutil.Clock,
	log *logger.Logger,
	config SubmitKnowledgeCheckHandlerConfig,
) *SubmitKnowledgeCheckHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &SubmitKnowledgeCheckHandler{
		courses:        courses,
		checks:         checks,
		resolver:       resolver,
		recompute:      recompute,
		eventPublisher: eventPublisher,
		clock:          timeutil.OrSystem(clock),
		logger:         log.With(logger.Component("submit_knowledge_check")),
		config:         config,
	}
}

// Handle executes the command.
func (h *SubmitKnowledgeCheckHandler) Handle(ctx context.Context, cmd SubmitKnowledgeCheckCommand) (*knowledgecheck.Result, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("submit_knowledge_check: validation failed: %w", err)
	}

	c, err := h.courses.Get(ctx, cmd.CourseSlug)
	if err != nil {
		return nil, fmt.Errorf("submit_knowledge_check: %w", err)
	}
	kc, err := c.KnowledgeCheck(cmd.ModuleSlug)
	if err != nil {
		return nil, fmt.Errorf("submit_knowledge_check: %w", err)
	}

	key := knowledgecheck.SessionKey{UserID: cmd.UserID, CourseSlug: cmd.CourseSlug, ModuleSlug: cmd.ModuleSlug}
	withRemediation := h.config.RemediationLinks.enabled(cmd.UserID, true)

	// Re-submission short-circuits before any validation.
	if res, done, err := h.storedResult(ctx, kc, key, withRemediation); err != nil || done {
		return res, err
	}

	if h.config.EnforceAccess.enabled(cmd.UserID, true) {
		if err := h.resolver.CheckKnowledgeCheck(ctx, c, cmd.UserID, cmd.ModuleSlug); err != nil {
			return nil, fmt.Errorf("submit_knowledge_check: %w", err)
		}
	}

	now := h.clock.Now()
	answers, score, err := knowledgecheck.Grade(kc, cmd.Answers, now)
	if err != nil {
		return nil, fmt.Errorf("submit_knowledge_check: %w", err)
	}

	won, err := h.checks.Finalize(ctx, key, answers, score, now)
	if err != nil {
		h.logger.Error("finalize failed",
			logger.UserID(cmd.UserID), logger.Course(cmd.CourseSlug), logger.Module(cmd.ModuleSlug), logger.Err(err))
		return nil, fmt.Errorf("submit_knowledge_check: %w", err)
	}
	if !won {
		res, done, err := h.storedResult(ctx, kc, key, withRemediation)
		if err != nil {
			return nil, err
		}
		if !done {
			return nil, fmt.Errorf("submit_knowledge_check: %w",
				shared.WrapError("knowledgecheck", "Finalize", shared.ErrConcurrentModification, "lost finalize but session is not finalized", nil))
		}
		return res, nil
	}

	session := &knowledgecheck.Session{SessionKey: key, Finalized: true, Answers: answers, Score: score, SubmittedAt: &now}
	result := knowledgecheck.BuildResult(kc, session, withRemediation)

	publish(h.eventPublisher, h.logger, withCorrelation(
		shared.NewKnowledgeCheckSubmittedEvent(cmd.UserID, cmd.CourseSlug, cmd.ModuleSlug, score.Total, score.Correct, score.ScorePercent, now),
		cmd.CorrelationID,
	))

	if _, err := h.recompute.recompute(ctx, c, cmd.UserID, cmd.CorrelationID); err != nil {
		// The attempt is finalized; course progress will be rebuilt lazily.
		h.logger.Error("course recompute after submission failed",
			logger.UserID(cmd.UserID), logger.Course(cmd.CourseSlug), logger.Err(err))
	}

	h.logger.Info("knowledge check submitted",
		logger.UserID(cmd.UserID), logger.Course(cmd.CourseSlug), logger.Module(cmd.ModuleSlug),
		logger.Int("correct", score.Correct), logger.Int("total", score.Total))
	return &result, nil
}

// storedResult returns the stored result when the session is already finalized.
func (h *SubmitKnowledgeCheckHandler) storedResult(
	ctx context.Context,
	kc *course.KnowledgeCheck,
	key knowledgecheck.SessionKey,
	withRemediation bool,
) (*knowledgecheck.Result, bool, error) {
	session, err := h.checks.GetSession(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("submit_knowledge_check: %w", err)
	}
	if session == nil || !session.Finalized {
		return nil, false, nil
	}
	res := knowledgecheck.BuildResult(kc, session, withRemediation)
	res.AlreadyCompleted = true
	return &res, true, nil
}

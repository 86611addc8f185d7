package command

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coursegate/progress-engine/internal/domain/course"
	"github.com/coursegate/progress-engine/internal/domain/gating"
	"github.com/coursegate/progress-engine/internal/domain/knowledgecheck"
	"github.com/coursegate/progress-engine/internal/domain/shared"
	"github.com/coursegate/progress-engine/pkg/logger"
	"github.com/coursegate/progress-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// SAVE DRAFT ANSWER COMMAND
// "Check" on a single question: grades it and stores it as a draft so the
// session can be resumed. Rejected once the session is finalized.
// ══════════════════════════════════════════════════════════════════════════════

// SaveDraftAnswerCommand contains one draft answer.
type SaveDraftAnswerCommand struct {
	UserID     string
	CourseSlug string
	ModuleSlug string
	QuestionID string
	Answer     json.RawMessage
}

// Validate validates the command.
func (c SaveDraftAnswerCommand) Validate() error {
	if _, err := shared.NewUserID(c.UserID); err != nil {
		return err
	}
	if err := requireFields("save_draft_answer", "course", c.CourseSlug, "module", c.ModuleSlug, "question", c.QuestionID); err != nil {
		return err
	}
	if len(c.Answer) == 0 {
		return shared.NewDomainError("save_draft_answer", "Validate", shared.ErrEmptyValue, "answer is required")
	}
	return nil
}

// SaveDraftAnswerResult reports the correctness of the saved draft.
type SaveDraftAnswerResult struct {
	QuestionID string
	Correct    bool
	Status     shared.ProgressStatus
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// SaveDraftAnswerHandlerConfig contains configuration for the handler.
type SaveDraftAnswerHandlerConfig struct {
	EnforceAccess FeatureGate
}

// SaveDraftAnswerHandler handles SaveDraftAnswerCommand.
type SaveDraftAnswerHandler struct {
	courses  course.Repository
	checks   knowledgecheck.Repository
	resolver *gating.Resolver
	clock    timeutil.Clock
	logger   *logger.Logger
	config   SaveDraftAnswerHandlerConfig
}

// NewSaveDraftAnswerHandler creates a new SaveDraftAnswerHandler.
func NewSaveDraftAnswerHandler(
	courses course.Repository,
	checks knowledgecheck.Repository,
	resolver *gating.Resolver,
	clock timeutil.Clock,
	log *logger.Logger,
	config SaveDraftAnswerHandlerConfig,
) *SaveDraftAnswerHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &SaveDraftAnswerHandler{
		courses:  courses,
		checks:   checks,
		resolver: resolver,
		clock:    timeutil.OrSystem(clock),
		logger:   log.With(logger.Component("save_draft_answer")),
		config:   config,
	}
}

// Handle executes the command.
func (h *SaveDraftAnswerHandler) Handle(ctx context.Context, cmd SaveDraftAnswerCommand) (*SaveDraftAnswerResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("save_draft_answer: validation failed: %w", err)
	}

	c, err := h.courses.Get(ctx, cmd.CourseSlug)
	if err != nil {
		return nil, fmt.Errorf("save_draft_answer: %w", err)
	}
	kc, err := c.KnowledgeCheck(cmd.ModuleSlug)
	if err != nil {
		return nil, fmt.Errorf("save_draft_answer: %w", err)
	}
	q, _, ok := kc.Question(cmd.QuestionID)
	if !ok {
		return nil, fmt.Errorf("save_draft_answer: %w",
			shared.Detail(shared.ErrQuestionNotFound, "%s/%s/%s", cmd.CourseSlug, cmd.ModuleSlug, cmd.QuestionID))
	}

	if h.config.EnforceAccess.enabled(cmd.UserID, true) {
		if err := h.resolver.CheckKnowledgeCheck(ctx, c, cmd.UserID, cmd.ModuleSlug); err != nil {
			return nil, fmt.Errorf("save_draft_answer: %w", err)
		}
	}

	correct, err := knowledgecheck.Check(q, cmd.Answer)
	if err != nil {
		return nil, fmt.Errorf("save_draft_answer: %w", err)
	}

	key := knowledgecheck.SessionKey{UserID: cmd.UserID, CourseSlug: cmd.CourseSlug, ModuleSlug: cmd.ModuleSlug}
	answer := knowledgecheck.Answer{
		QuestionID:  cmd.QuestionID,
		Selected:    cmd.Answer,
		IsCorrect:   correct,
		AttemptedAt: h.clock.Now(),
	}
	if err := h.checks.SaveDraft(ctx, key, answer); err != nil {
		h.logger.Warn("draft answer not saved",
			logger.UserID(cmd.UserID), logger.Course(cmd.CourseSlug),
			logger.Module(cmd.ModuleSlug), logger.Question(cmd.QuestionID), logger.Err(err))
		return nil, fmt.Errorf("save_draft_answer: %w", err)
	}

	return &SaveDraftAnswerResult{
		QuestionID: cmd.QuestionID,
		Correct:    correct,
		Status:     shared.StatusInProgress,
	}, nil
}

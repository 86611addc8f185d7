package query

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coursegate/progress-engine/internal/domain/course"
	"github.com/coursegate/progress-engine/internal/domain/gating"
	"github.com/coursegate/progress-engine/internal/domain/knowledgecheck"
	"github.com/coursegate/progress-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET SESSION STATE QUERY
// Состояние проверки знаний для возобновления: вопросы без правильных
// ответов, сохранённые черновики, позиция первого неотвеченного вопроса
// и итог, если сессия уже финализирована.
// ══════════════════════════════════════════════════════════════════════════════

// GetSessionStateQuery содержит параметры запроса.
type GetSessionStateQuery struct {
	UserID     string
	CourseSlug string
	ModuleSlug string

	// WithRemediation - включать ссылки на повторение в итог.
	WithRemediation bool
}

// Validate проверяет корректность параметров.
func (q GetSessionStateQuery) Validate() error {
	if _, err := shared.NewUserID(q.UserID); err != nil {
		return err
	}
	if q.CourseSlug == "" || q.ModuleSlug == "" {
		return shared.NewDomainError("get_session_state", "Validate", shared.ErrEmptyValue, "course and module are required")
	}
	return nil
}

// SavedAnswerDTO - сохранённый ответ.
type SavedAnswerDTO struct {
	QuestionID  string          `json:"question_id"`
	Selected    json.RawMessage `json:"selected"`
	Correct     bool            `json:"correct"`
	AttemptedAt time.Time       `json:"attempted_at"`
}

// SessionStateDTO - состояние сессии проверки знаний.
type SessionStateDTO struct {
	CourseSlug string                `json:"course_slug"`
	ModuleSlug string                `json:"module_slug"`
	Title      string                `json:"title,omitempty"`
	Status     shared.ProgressStatus `json:"status"`
	Locked     bool                  `json:"locked"`

	// Questions сериализуются без правильных ответов.
	Questions []course.Question `json:"questions"`
	Answers   []SavedAnswerDTO  `json:"answers"`

	ResumeIndex      int    `json:"resume_index"`
	ResumeQuestionID string `json:"resume_question_id,omitempty"`

	Result *knowledgecheck.Result `json:"result,omitempty"`
}

// GetSessionStateHandler обрабатывает запрос.
type GetSessionStateHandler struct {
	courses  course.Repository
	checks   knowledgecheck.Repository
	resolver *gating.Resolver
}

// NewGetSessionStateHandler создаёт обработчик.
func NewGetSessionStateHandler(courses course.Repository, checks knowledgecheck.Repository, resolver *gating.Resolver) *GetSessionStateHandler {
	return &GetSessionStateHandler{courses: courses, checks: checks, resolver: resolver}
}

// Handle выполняет запрос.
func (h *GetSessionStateHandler) Handle(ctx context.Context, q GetSessionStateQuery) (*SessionStateDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_session_state: validation failed: %w", err)
	}

	c, err := h.courses.Get(ctx, q.CourseSlug)
	if err != nil {
		return nil, fmt.Errorf("get_session_state: %w", err)
	}
	kc, err := c.KnowledgeCheck(q.ModuleSlug)
	if err != nil {
		return nil, fmt.Errorf("get_session_state: %w", err)
	}

	session, err := h.checks.GetSession(ctx, knowledgecheck.SessionKey{
		UserID: q.UserID, CourseSlug: q.CourseSlug, ModuleSlug: q.ModuleSlug,
	})
	if err != nil {
		return nil, fmt.Errorf("get_session_state: %w", err)
	}

	_, locks, err := h.resolver.Resolve(ctx, c, q.UserID)
	if err != nil {
		return nil, fmt.Errorf("get_session_state: %w", err)
	}

	dto := &SessionStateDTO{
		CourseSlug: q.CourseSlug,
		ModuleSlug: q.ModuleSlug,
		Title:      kc.Title,
		Status:     session.Status(),
		Locked:     locks.KnowledgeCheckLocked(q.ModuleSlug),
		Questions:  kc.Questions,
		Answers:    make([]SavedAnswerDTO, 0, len(kc.Questions)),
	}
	for _, question := range kc.Questions {
		if a, ok := session.AnswerFor(question.ID); ok {
			dto.Answers = append(dto.Answers, SavedAnswerDTO{
				QuestionID:  a.QuestionID,
				Selected:    a.Selected,
				Correct:     a.IsCorrect,
				AttemptedAt: a.AttemptedAt,
			})
		}
	}
	dto.ResumeIndex, dto.ResumeQuestionID = knowledgecheck.ResumePosition(kc, session)

	if session != nil && session.Finalized {
		res := knowledgecheck.BuildResult(kc, session, q.WithRemediation)
		res.AlreadyCompleted = true
		dto.Result = &res
	}
	return dto, nil
}

package knowledgecheck

import (
	"encoding/json"
	"time"

	"github.com/coursegate/progress-engine/internal/domain/course"
	"github.com/coursegate/progress-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSION
// Сессия (ученик, курс, модуль): NotStarted -> InProgress -> Completed.
// Набор ответов модуля либо целиком черновой, либо целиком финализирован.
// ══════════════════════════════════════════════════════════════════════════════

// SessionKey - ключ сессии.
type SessionKey struct {
	UserID     string
	CourseSlug string
	ModuleSlug string
}

// Answer - сохранённый ответ на вопрос.
type Answer struct {
	QuestionID  string          `json:"question_id"`
	Selected    json.RawMessage `json:"selected"`
	IsCorrect   bool            `json:"is_correct"`
	AttemptedAt time.Time       `json:"attempted_at"`
}

// Score - итог финализированной попытки.
type Score struct {
	Total        int
	Correct      int
	ScorePercent int
}

// NewScore считает процент с округлением до целого.
func NewScore(correct, total int) Score {
	return Score{Total: total, Correct: correct, ScorePercent: shared.Percent(correct, total)}
}

// Session - состояние сессии, восстановленное из хранилища.
type Session struct {
	SessionKey
	Finalized   bool
	Answers     []Answer
	Score       Score
	SubmittedAt *time.Time
}

// Status вычисляет статус сессии. nil-сессия - не начата.
func (s *Session) Status() shared.ProgressStatus {
	switch {
	case s == nil:
		return shared.StatusNotStarted
	case s.Finalized:
		return shared.StatusCompleted
	case len(s.Answers) > 0:
		return shared.StatusInProgress
	default:
		return shared.StatusNotStarted
	}
}

// AnswerFor возвращает ответ на вопрос, если он сохранён.
func (s *Session) AnswerFor(questionID string) (Answer, bool) {
	if s == nil {
		return Answer{}, false
	}
	for _, a := range s.Answers {
		if a.QuestionID == questionID {
			return a, true
		}
	}
	return Answer{}, false
}

// ResumePosition возвращает индекс и id первого вопроса без черновика.
// Если отвечены все, индекс равен числу вопросов, а id пуст.
func ResumePosition(kc *course.KnowledgeCheck, s *Session) (int, string) {
	for i, q := range kc.Questions {
		if _, ok := s.AnswerFor(q.ID); !ok {
			return i, q.ID
		}
	}
	return len(kc.Questions), ""
}

// ══════════════════════════════════════════════════════════════════════════════
// SUBMISSION
// ══════════════════════════════════════════════════════════════════════════════

// SubmittedAnswer - ответ в составе финальной отправки.
type SubmittedAnswer struct {
	QuestionID string          `json:"question_id"`
	Answer     json.RawMessage `json:"answer"`
}

// Grade проверяет набор ответов и оценивает его. Отправка должна содержать
// ровно по одному ответу на каждый вопрос. Ответы возвращаются в порядке вопросов.
func Grade(kc *course.KnowledgeCheck, submitted []SubmittedAnswer, now time.Time) ([]Answer, Score, error) {
	if len(submitted) != len(kc.Questions) {
		return nil, Score{}, shared.Detail(shared.ErrAnswerCountMismatch, "got %d answers for %d questions", len(submitted), len(kc.Questions))
	}

	byID := make(map[string]json.RawMessage, len(submitted))
	for _, sa := range submitted {
		if _, _, ok := kc.Question(sa.QuestionID); !ok {
			return nil, Score{}, shared.Detail(shared.ErrUnknownQuestionInSubmission, "question %q", sa.QuestionID)
		}
		if _, dup := byID[sa.QuestionID]; dup {
			return nil, Score{}, shared.Detail(shared.ErrDuplicateAnswer, "question %q", sa.QuestionID)
		}
		byID[sa.QuestionID] = sa.Answer
	}

	answers := make([]Answer, 0, len(kc.Questions))
	correct := 0
	for i := range kc.Questions {
		q := &kc.Questions[i]
		raw := byID[q.ID]
		ok, err := Check(q, raw)
		if err != nil {
			return nil, Score{}, err
		}
		if ok {
			correct++
		}
		answers = append(answers, Answer{
			QuestionID:  q.ID,
			Selected:    append(json.RawMessage(nil), raw...),
			IsCorrect:   ok,
			AttemptedAt: now,
		})
	}
	return answers, NewScore(correct, len(kc.Questions)), nil
}

// QuestionResult - результат по одному вопросу.
type QuestionResult struct {
	QuestionID  string              `json:"question_id"`
	Correct     bool                `json:"correct"`
	Remediation *course.Remediation `json:"remediation,omitempty"`
}

// Result - итог проверки знаний.
type Result struct {
	Total            int              `json:"total"`
	Correct          int              `json:"correct"`
	ScorePercent     int              `json:"score_percent"`
	Questions        []QuestionResult `json:"questions"`
	AlreadyCompleted bool             `json:"already_completed"`
	SubmittedAt      *time.Time       `json:"submitted_at,omitempty"`
}

// BuildResult строит результат по финализированной сессии.
// Ссылки на повторение выдаются только для неверных ответов.
func BuildResult(kc *course.KnowledgeCheck, s *Session, withRemediation bool) Result {
	res := Result{
		Total:        s.Score.Total,
		Correct:      s.Score.Correct,
		ScorePercent: s.Score.ScorePercent,
		SubmittedAt:  s.SubmittedAt,
		Questions:    make([]QuestionResult, 0, len(kc.Questions)),
	}
	for i := range kc.Questions {
		q := &kc.Questions[i]
		a, _ := s.AnswerFor(q.ID)
		qr := QuestionResult{QuestionID: q.ID, Correct: a.IsCorrect}
		if !a.IsCorrect && withRemediation && q.Remediation != nil {
			r := *q.Remediation
			qr.Remediation = &r
		}
		res.Questions = append(res.Questions, qr)
	}
	return res
}

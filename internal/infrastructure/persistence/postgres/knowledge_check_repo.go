package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/coursegate/progress-engine/internal/domain/knowledgecheck"
	"github.com/coursegate/progress-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// KNOWLEDGE CHECK REPOSITORY
// The session row is the lock for everything under its key: drafts take it
// FOR UPDATE, and finalization is a conditional upsert on finalized = false.
// ══════════════════════════════════════════════════════════════════════════════

// KnowledgeCheckRepository implements knowledgecheck.Repository.
type KnowledgeCheckRepository struct {
	conn *Connection
}

var _ knowledgecheck.Repository = (*KnowledgeCheckRepository)(nil)

// NewKnowledgeCheckRepository creates a new KnowledgeCheckRepository.
func NewKnowledgeCheckRepository(conn *Connection) *KnowledgeCheckRepository {
	return &KnowledgeCheckRepository{conn: conn}
}

const upsertAnswerSQL = `
	INSERT INTO knowledge_check_answers (user_id, course_slug, module_slug, question_id, selected, is_correct, attempted_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (user_id, course_slug, module_slug, question_id) DO UPDATE SET
		selected = EXCLUDED.selected,
		is_correct = EXCLUDED.is_correct,
		attempted_at = EXCLUDED.attempted_at
`

// SaveDraft stores a draft answer unless the session is finalized.
func (r *KnowledgeCheckRepository) SaveDraft(ctx context.Context, key knowledgecheck.SessionKey, answer knowledgecheck.Answer) error {
	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO knowledge_check_sessions (user_id, course_slug, module_slug)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id, course_slug, module_slug) DO NOTHING
		`, key.UserID, key.CourseSlug, key.ModuleSlug); err != nil {
			return err
		}

		var finalized bool
		if err := tx.QueryRow(ctx, `
			SELECT finalized FROM knowledge_check_sessions
			WHERE user_id = $1 AND course_slug = $2 AND module_slug = $3
			FOR UPDATE
		`, key.UserID, key.CourseSlug, key.ModuleSlug).Scan(&finalized); err != nil {
			return err
		}
		if finalized {
			return shared.ErrSessionAlreadyCompleted
		}

		_, err := tx.Exec(ctx, upsertAnswerSQL,
			key.UserID, key.CourseSlug, key.ModuleSlug,
			answer.QuestionID, []byte(answer.Selected), answer.IsCorrect, answer.AttemptedAt)
		return err
	})
	return storeErr("knowledgecheck", "SaveDraft", err)
}

// GetSession returns the session with its answers, or nil when none exists.
func (r *KnowledgeCheckRepository) GetSession(ctx context.Context, key knowledgecheck.SessionKey) (*knowledgecheck.Session, error) {
	var s *knowledgecheck.Session
	err := r.conn.Do(ctx, func(ctx context.Context, q Querier) error {
		s = &knowledgecheck.Session{SessionKey: key}
		err := q.QueryRow(ctx, `
			SELECT finalized, total_questions, correct_answers, score_percent, submitted_at
			FROM knowledge_check_sessions
			WHERE user_id = $1 AND course_slug = $2 AND module_slug = $3
		`, key.UserID, key.CourseSlug, key.ModuleSlug).Scan(
			&s.Finalized, &s.Score.Total, &s.Score.Correct, &s.Score.ScorePercent, &s.SubmittedAt)
		if err != nil {
			return err
		}

		rows, err := q.Query(ctx, `
			SELECT question_id, selected, is_correct, attempted_at
			FROM knowledge_check_answers
			WHERE user_id = $1 AND course_slug = $2 AND module_slug = $3
			ORDER BY question_id
		`, key.UserID, key.CourseSlug, key.ModuleSlug)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				a        knowledgecheck.Answer
				selected []byte
			)
			if err := rows.Scan(&a.QuestionID, &selected, &a.IsCorrect, &a.AttemptedAt); err != nil {
				return err
			}
			a.Selected = selected
			s.Answers = append(s.Answers, a)
		}
		return rows.Err()
	})
	if IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("knowledgecheck", "GetSession", err)
	}
	return s, nil
}

// Finalize flips the session to finalized only if it is not already, then
// replaces its answers in the same transaction. A losing concurrent
// submission sees zero affected rows and changes nothing.
func (r *KnowledgeCheckRepository) Finalize(ctx context.Context, key knowledgecheck.SessionKey, answers []knowledgecheck.Answer, score knowledgecheck.Score, now time.Time) (bool, error) {
	var won bool
	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		won = false
		tag, err := tx.Exec(ctx, `
			INSERT INTO knowledge_check_sessions (
				user_id, course_slug, module_slug, finalized,
				total_questions, correct_answers, score_percent, submitted_at
			) VALUES ($1, $2, $3, TRUE, $4, $5, $6, $7)
			ON CONFLICT (user_id, course_slug, module_slug) DO UPDATE SET
				finalized = TRUE,
				total_questions = EXCLUDED.total_questions,
				correct_answers = EXCLUDED.correct_answers,
				score_percent = EXCLUDED.score_percent,
				submitted_at = EXCLUDED.submitted_at
			WHERE knowledge_check_sessions.finalized = FALSE
		`, key.UserID, key.CourseSlug, key.ModuleSlug, score.Total, score.Correct, score.ScorePercent, now)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		if _, err := tx.Exec(ctx, `
			DELETE FROM knowledge_check_answers
			WHERE user_id = $1 AND course_slug = $2 AND module_slug = $3
		`, key.UserID, key.CourseSlug, key.ModuleSlug); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, a := range answers {
			batch.Queue(upsertAnswerSQL,
				key.UserID, key.CourseSlug, key.ModuleSlug,
				a.QuestionID, []byte(a.Selected), a.IsCorrect, a.AttemptedAt)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}
		won = true
		return nil
	})
	if err != nil {
		return false, storeErr("knowledgecheck", "Finalize", err)
	}
	return won, nil
}

// ListFinalizedModules lists modules with a finalized session.
func (r *KnowledgeCheckRepository) ListFinalizedModules(ctx context.Context, userID, courseSlug string) ([]string, error) {
	var out []string
	err := r.conn.Do(ctx, func(ctx context.Context, q Querier) error {
		out = out[:0]
		rows, err := q.Query(ctx, `
			SELECT module_slug FROM knowledge_check_sessions
			WHERE user_id = $1 AND course_slug = $2 AND finalized
			ORDER BY module_slug
		`, userID, courseSlug)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var m string
			if err := rows.Scan(&m); err != nil {
				return err
			}
			out = append(out, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, storeErr("knowledgecheck", "ListFinalizedModules", err)
	}
	return out, nil
}

// ListSessionStatuses maps module slug to the finalized flag for sessions
// that are finalized or hold at least one draft.
func (r *KnowledgeCheckRepository) ListSessionStatuses(ctx context.Context, userID, courseSlug string) (map[string]bool, error) {
	out := make(map[string]bool)
	err := r.conn.Do(ctx, func(ctx context.Context, q Querier) error {
		clear(out)
		rows, err := q.Query(ctx, `
			SELECT s.module_slug, s.finalized
			FROM knowledge_check_sessions s
			WHERE s.user_id = $1 AND s.course_slug = $2
			  AND (s.finalized OR EXISTS (
				SELECT 1 FROM knowledge_check_answers a
				WHERE a.user_id = s.user_id AND a.course_slug = s.course_slug AND a.module_slug = s.module_slug))
		`, userID, courseSlug)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				m         string
				finalized bool
			)
			if err := rows.Scan(&m, &finalized); err != nil {
				return err
			}
			out[m] = finalized
		}
		return rows.Err()
	})
	if err != nil {
		return nil, storeErr("knowledgecheck", "ListSessionStatuses", err)
	}
	return out, nil
}

package memory

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/coursegate/progress-engine/internal/domain/knowledgecheck"
	"github.com/coursegate/progress-engine/internal/domain/shared"
)

// KnowledgeCheckRepository implements knowledgecheck.Repository.
type KnowledgeCheckRepository struct{ s *Store }

var _ knowledgecheck.Repository = (*KnowledgeCheckRepository)(nil)

// SaveDraft stores a draft answer unless the session is finalized.
func (r *KnowledgeCheckRepository) SaveDraft(_ context.Context, key knowledgecheck.SessionKey, answer knowledgecheck.Answer) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.sessions[key]
	if !ok {
		rec = &sessionRecord{answers: make(map[string]knowledgecheck.Answer)}
		r.s.sessions[key] = rec
	}
	if rec.finalized {
		return shared.ErrSessionAlreadyCompleted
	}
	rec.answers[answer.QuestionID] = cloneAnswer(answer)
	return nil
}

// GetSession returns the session or nil when none exists.
func (r *KnowledgeCheckRepository) GetSession(_ context.Context, key knowledgecheck.SessionKey) (*knowledgecheck.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	rec, ok := r.s.sessions[key]
	if !ok {
		return nil, nil
	}
	s := &knowledgecheck.Session{
		SessionKey:  key,
		Finalized:   rec.finalized,
		Score:       rec.score,
		SubmittedAt: rec.submittedAt,
		Answers:     make([]knowledgecheck.Answer, 0, len(rec.answers)),
	}
	for _, a := range rec.answers {
		s.Answers = append(s.Answers, cloneAnswer(a))
	}
	sort.Slice(s.Answers, func(i, j int) bool { return s.Answers[i].QuestionID < s.Answers[j].QuestionID })
	return s, nil
}

// Finalize replaces the answers and flips the finalized flag in one critical section.
func (r *KnowledgeCheckRepository) Finalize(_ context.Context, key knowledgecheck.SessionKey, answers []knowledgecheck.Answer, score knowledgecheck.Score, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.sessions[key]
	if ok && rec.finalized {
		return false, nil
	}
	rec = &sessionRecord{
		finalized:   true,
		answers:     make(map[string]knowledgecheck.Answer, len(answers)),
		score:       score,
		submittedAt: &now,
	}
	for _, a := range answers {
		rec.answers[a.QuestionID] = cloneAnswer(a)
	}
	r.s.sessions[key] = rec
	return true, nil
}

// ListFinalizedModules lists modules with a finalized session.
func (r *KnowledgeCheckRepository) ListFinalizedModules(ctx context.Context, userID, courseSlug string) ([]string, error) {
	statuses, err := r.ListSessionStatuses(ctx, userID, courseSlug)
	if err != nil {
		return nil, err
	}
	var out []string
	for m, finalized := range statuses {
		if finalized {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out, nil
}

// ListSessionStatuses maps module slug to the finalized flag.
func (r *KnowledgeCheckRepository) ListSessionStatuses(_ context.Context, userID, courseSlug string) (map[string]bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make(map[string]bool)
	for k, rec := range r.s.sessions {
		if k.UserID == userID && k.CourseSlug == courseSlug && (rec.finalized || len(rec.answers) > 0) {
			out[k.ModuleSlug] = rec.finalized
		}
	}
	return out, nil
}

func cloneAnswer(a knowledgecheck.Answer) knowledgecheck.Answer {
	a.Selected = append(json.RawMessage(nil), a.Selected...)
	return a
}

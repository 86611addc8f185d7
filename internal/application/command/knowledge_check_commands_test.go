package command

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursegate/progress-engine/internal/domain/knowledgecheck"
	"github.com/coursegate/progress-engine/internal/domain/shared"
)

func submission(pairs ...string) []knowledgecheck.SubmittedAnswer {
	out := make([]knowledgecheck.SubmittedAnswer, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, knowledgecheck.SubmittedAnswer{QuestionID: pairs[i], Answer: json.RawMessage(pairs[i+1])})
	}
	return out
}

func unlockCheck(t *testing.T, f *fixture, user string) {
	t.Helper()
	f.completeLesson(t, user, "m1", "intro")
	f.completeLesson(t, user, "m1", "vars")
}

func TestSaveDraftAnswer(t *testing.T) {
	f := newFixture(t)
	h := NewSaveDraftAnswerHandler(f.store.Courses(), f.store.KnowledgeChecks(), f.resolver, f.clock, nil, SaveDraftAnswerHandlerConfig{})
	ctx := context.Background()
	cmd := SaveDraftAnswerCommand{UserID: "u1", CourseSlug: "go-basics", ModuleSlug: "m1", QuestionID: "q1", Answer: json.RawMessage(`"b"`)}

	_, err := h.Handle(ctx, cmd)
	assert.True(t, errors.Is(err, shared.ErrKnowledgeCheckLocked))

	unlockCheck(t, f, "u1")

	res, err := h.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.True(t, res.Correct)

	cmd.Answer = json.RawMessage(`"a"`)
	res, err = h.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.False(t, res.Correct)

	s, err := f.store.KnowledgeChecks().GetSession(ctx, knowledgecheck.SessionKey{UserID: "u1", CourseSlug: "go-basics", ModuleSlug: "m1"})
	require.NoError(t, err)
	require.Len(t, s.Answers, 1)
	assert.False(t, s.Answers[0].IsCorrect)
	assert.Equal(t, shared.StatusInProgress, s.Status())

	cmd.QuestionID = "ghost"
	_, err = h.Handle(ctx, cmd)
	assert.True(t, errors.Is(err, shared.ErrQuestionNotFound))

	cmd.QuestionID = "q2"
	cmd.Answer = json.RawMessage(`"yes"`)
	_, err = h.Handle(ctx, cmd)
	assert.True(t, shared.IsValidation(err))
}

func TestSubmitKnowledgeCheck_GradesAndFinalizes(t *testing.T) {
	f := newFixture(t)
	unlockCheck(t, f, "u1")
	h := f.submitHandler()
	ctx := context.Background()

	_, err := h.Handle(ctx, SubmitKnowledgeCheckCommand{
		UserID: "u1", CourseSlug: "go-basics", ModuleSlug: "m1", Answers: submission("q1", `"a"`),
	})
	assert.True(t, errors.Is(err, shared.ErrAnswerCountMismatch))
	s, err := f.store.KnowledgeChecks().GetSession(ctx, knowledgecheck.SessionKey{UserID: "u1", CourseSlug: "go-basics", ModuleSlug: "m1"})
	require.NoError(t, err)
	assert.Nil(t, s)

	res, err := h.Handle(ctx, SubmitKnowledgeCheckCommand{
		UserID: "u1", CourseSlug: "go-basics", ModuleSlug: "m1", Answers: submission("q2", `true`, "q1", `"a"`),
	})
	require.NoError(t, err)
	assert.False(t, res.AlreadyCompleted)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 1, res.Correct)
	assert.Equal(t, 50, res.ScorePercent)
	require.Len(t, res.Questions, 2)
	assert.Equal(t, "q1", res.Questions[0].QuestionID)
	require.NotNil(t, res.Questions[0].Remediation)
	assert.Equal(t, "m1", res.Questions[0].Remediation.ModuleSlug)
	assert.Equal(t, "vars", res.Questions[0].Remediation.LessonSlug)
	assert.Nil(t, res.Questions[1].Remediation)
	assert.Equal(t, 1, f.pub.count(shared.EventKnowledgeCheckSubmitted))

	// Re-submission returns the stored result untouched, even when malformed.
	again, err := h.Handle(ctx, SubmitKnowledgeCheckCommand{
		UserID: "u1", CourseSlug: "go-basics", ModuleSlug: "m1", Answers: submission("q1", `"b"`),
	})
	require.NoError(t, err)
	assert.True(t, again.AlreadyCompleted)
	assert.Equal(t, 1, again.Correct)
	assert.Equal(t, 1, f.pub.count(shared.EventKnowledgeCheckSubmitted))

	// Drafts are rejected once finalized.
	draft := NewSaveDraftAnswerHandler(f.store.Courses(), f.store.KnowledgeChecks(), f.resolver, f.clock, nil, SaveDraftAnswerHandlerConfig{})
	_, err = draft.Handle(ctx, SaveDraftAnswerCommand{UserID: "u1", CourseSlug: "go-basics", ModuleSlug: "m1", QuestionID: "q1", Answer: json.RawMessage(`"b"`)})
	assert.True(t, shared.IsConflict(err))

	// The finalized check unlocks the next module.
	f.completeLesson(t, "u1", "m2", "loops")
	cp, err := f.store.CourseProgress().Get(ctx, "u1", "go-basics")
	require.NoError(t, err)
	assert.Equal(t, shared.StatusCompleted, cp.Status)
	assert.Equal(t, 1, f.pub.count(shared.EventCourseCompleted))
}

func TestSubmitKnowledgeCheck_RemediationLinksGate(t *testing.T) {
	f := newFixture(t)
	unlockCheck(t, f, "u1")
	h := NewSubmitKnowledgeCheckHandler(f.store.Courses(), f.store.KnowledgeChecks(), f.resolver, f.recompute, f.pub, f.clock, nil,
		SubmitKnowledgeCheckHandlerConfig{RemediationLinks: func(string) bool { return false }})

	res, err := h.Handle(context.Background(), SubmitKnowledgeCheckCommand{
		UserID: "u1", CourseSlug: "go-basics", ModuleSlug: "m1", Answers: submission("q1", `"a"`, "q2", `false`),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Correct)
	for _, q := range res.Questions {
		assert.Nil(t, q.Remediation)
	}
}

func TestSubmitKnowledgeCheck_ConcurrentSubmissionsHaveOneWinner(t *testing.T) {
	f := newFixture(t)
	unlockCheck(t, f, "u1")
	h := f.submitHandler()

	const n = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		errs    []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			answer := `"b"`
			if i%2 == 0 {
				answer = `"a"`
			}
			res, err := h.Handle(context.Background(), SubmitKnowledgeCheckCommand{
				UserID: "u1", CourseSlug: "go-basics", ModuleSlug: "m1", Answers: submission("q1", answer, "q2", `true`),
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if !res.AlreadyCompleted {
				winners++
			}
		}(i)
	}
	wg.Wait()

	assert.Empty(t, errs)
	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, f.pub.count(shared.EventKnowledgeCheckSubmitted))
}

package knowledgecheck

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursegate/progress-engine/internal/domain/course"
	"github.com/coursegate/progress-engine/internal/domain/shared"
)

func testCheck() *course.KnowledgeCheck {
	q1 := singleQ
	q1.Remediation = &course.Remediation{ModuleSlug: "m1", LessonSlug: "intro"}
	return &course.KnowledgeCheck{Questions: []course.Question{q1, trueFalseQ, rankingQ}}
}

func answers(pairs ...string) []SubmittedAnswer {
	out := make([]SubmittedAnswer, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, SubmittedAnswer{QuestionID: pairs[i], Answer: json.RawMessage(pairs[i+1])})
	}
	return out
}

func TestGrade_ScoresInQuestionOrder(t *testing.T) {
	now := time.Now()
	graded, score, err := Grade(testCheck(), answers(
		"rank", `["z","x","y"]`,
		"single", `"a"`,
		"tf", `false`,
	), now)
	require.NoError(t, err)

	assert.Equal(t, Score{Total: 3, Correct: 2, ScorePercent: 67}, score)
	require.Len(t, graded, 3)
	assert.Equal(t, "single", graded[0].QuestionID)
	assert.False(t, graded[0].IsCorrect)
	assert.Equal(t, "rank", graded[2].QuestionID)
	assert.True(t, graded[2].IsCorrect)
}

func TestGrade_RejectsInvalidAnswerSets(t *testing.T) {
	now := time.Now()

	_, _, err := Grade(testCheck(), answers("single", `"b"`, "tf", `false`), now)
	assert.True(t, errors.Is(err, shared.ErrAnswerCountMismatch))

	_, _, err = Grade(testCheck(), answers("single", `"b"`, "single", `"a"`, "tf", `true`), now)
	assert.True(t, errors.Is(err, shared.ErrDuplicateAnswer))

	_, _, err = Grade(testCheck(), answers("single", `"b"`, "tf", `true`, "ghost", `"x"`), now)
	assert.True(t, errors.Is(err, shared.ErrUnknownQuestionInSubmission))

	assert.True(t, shared.IsValidation(err))
}

func TestSessionStatusAndResume(t *testing.T) {
	kc := testCheck()

	var none *Session
	assert.Equal(t, shared.StatusNotStarted, none.Status())
	idx, id := ResumePosition(kc, none)
	assert.Equal(t, 0, idx)
	assert.Equal(t, "single", id)

	s := &Session{Answers: []Answer{{QuestionID: "single", IsCorrect: true}}}
	assert.Equal(t, shared.StatusInProgress, s.Status())
	idx, id = ResumePosition(kc, s)
	assert.Equal(t, 1, idx)
	assert.Equal(t, "tf", id)

	s.Answers = append(s.Answers, Answer{QuestionID: "rank"}, Answer{QuestionID: "tf"})
	idx, id = ResumePosition(kc, s)
	assert.Equal(t, 3, idx)
	assert.Empty(t, id)

	s.Finalized = true
	assert.Equal(t, shared.StatusCompleted, s.Status())
}

func TestBuildResult_RemediationOnlyForWrongAnswers(t *testing.T) {
	kc := testCheck()
	s := &Session{
		Finalized: true,
		Score:     NewScore(1, 3),
		Answers: []Answer{
			{QuestionID: "single", IsCorrect: false},
			{QuestionID: "tf", IsCorrect: true},
			{QuestionID: "rank", IsCorrect: false},
		},
	}

	res := BuildResult(kc, s, true)
	assert.Equal(t, 33, res.ScorePercent)
	require.Len(t, res.Questions, 3)
	require.NotNil(t, res.Questions[0].Remediation)
	assert.Equal(t, "intro", res.Questions[0].Remediation.LessonSlug)
	assert.Nil(t, res.Questions[1].Remediation)
	assert.Nil(t, res.Questions[2].Remediation, "no remediation configured")

	res = BuildResult(kc, s, false)
	assert.Nil(t, res.Questions[0].Remediation)
}

package course

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursegate/progress-engine/internal/domain/shared"
)

func validCourse() *Course {
	return &Course{
		Slug:   "go-basics",
		Config: Config{NavigationMode: NavigationLinear, MinLessonTimeSeconds: 30},
		Modules: []Module{
			{
				Slug:    "intro",
				Lessons: []Lesson{{Slug: "hello"}, {Slug: "tooling"}},
				KnowledgeCheck: &KnowledgeCheck{Questions: []Question{
					{ID: "q1", Kind: KindSingleChoice, Options: []Option{{ID: "a"}, {ID: "b"}}, CorrectOption: "a",
						Remediation: &Remediation{LessonSlug: "hello"}},
					{ID: "q2", Kind: KindTrueFalse, CorrectAnswer: true},
				}},
			},
			{Slug: "types", Lessons: []Lesson{{Slug: "structs"}}},
		},
	}
}

func TestCourseValidate(t *testing.T) {
	c := validCourse()
	require.NoError(t, c.Validate())
	assert.Equal(t, "intro", c.Modules[0].KnowledgeCheck.Questions[0].Remediation.ModuleSlug, "remediation defaults to own module")
	assert.Equal(t, 3, c.TotalLessons())
	assert.Equal(t, []string{"intro"}, c.ModulesWithKnowledgeChecks())
}

func TestCourseValidate_Rejects(t *testing.T) {
	tests := map[string]func(c *Course){
		"bad slug":           func(c *Course) { c.Slug = "Go Basics" },
		"unknown mode":       func(c *Course) { c.Config.NavigationMode = "spiral" },
		"negative min time":  func(c *Course) { c.Config.MinLessonTimeSeconds = -1 },
		"duplicate module":   func(c *Course) { c.Modules[1].Slug = "intro" },
		"duplicate lesson":   func(c *Course) { c.Modules[0].Lessons[1].Slug = "hello" },
		"duplicate question": func(c *Course) { c.Modules[0].KnowledgeCheck.Questions[1].ID = "q1" },
		"bad correct option": func(c *Course) { c.Modules[0].KnowledgeCheck.Questions[0].CorrectOption = "z" },
		"bad remediation":    func(c *Course) { c.Modules[0].KnowledgeCheck.Questions[0].Remediation.LessonSlug = "nope" },
		"unknown kind":       func(c *Course) { c.Modules[0].KnowledgeCheck.Questions[1].Kind = "essay" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := validCourse()
			mutate(c)
			err := c.Validate()
			assert.True(t, errors.Is(err, shared.ErrInvalidCourseDefinition))
			assert.True(t, shared.IsValidation(err))
		})
	}
}

func TestQuestionValidate_KindSpecific(t *testing.T) {
	assert.Error(t, (&Question{ID: "m", Kind: KindMultiChoice, Options: []Option{{ID: "a"}}}).Validate())
	assert.Error(t, (&Question{ID: "r", Kind: KindRanking, Items: []Option{{ID: "a"}, {ID: "b"}}, CorrectOrder: []string{"a"}}).Validate())
	assert.Error(t, (&Question{ID: "f", Kind: KindFillBlank, Segments: []Segment{{Text: "no blanks"}}}).Validate())
	assert.Error(t, (&Question{ID: "p", Kind: KindMatching, Pairs: []MatchPair{{ID: "x"}, {ID: "x"}}}).Validate())
	assert.NoError(t, (&Question{ID: "f", Kind: KindFillBlank, Segments: []Segment{{Blank: &Blank{Value: "go"}}}}).Validate())
}

func TestCourseLookups(t *testing.T) {
	c := validCourse()

	_, err := c.Module("missing")
	assert.True(t, errors.Is(err, shared.ErrModuleNotFound))
	assert.True(t, shared.IsNotFound(err))

	_, _, err = c.Lesson("intro", "missing")
	assert.True(t, errors.Is(err, shared.ErrLessonNotFound))

	_, err = c.KnowledgeCheck("types")
	assert.True(t, errors.Is(err, shared.ErrKnowledgeCheckNotFound))

	kc, err := c.KnowledgeCheck("intro")
	require.NoError(t, err)
	q, idx, ok := kc.Question("q2")
	assert.True(t, ok)
	assert.Equal(t, 1, idx)
	assert.Equal(t, KindTrueFalse, q.Kind)
}

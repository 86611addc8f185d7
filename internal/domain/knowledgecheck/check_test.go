package knowledgecheck

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursegate/progress-engine/internal/domain/course"
	"github.com/coursegate/progress-engine/internal/domain/shared"
)

var (
	singleQ = course.Question{
		ID: "single", Kind: course.KindSingleChoice,
		Options:       []course.Option{{ID: "a"}, {ID: "b"}},
		CorrectOption: "b",
	}
	multiQ = course.Question{
		ID: "multi", Kind: course.KindMultiChoice,
		Options:        []course.Option{{ID: "a"}, {ID: "b"}, {ID: "c"}},
		CorrectOptions: []string{"a", "c"},
	}
	trueFalseQ = course.Question{ID: "tf", Kind: course.KindTrueFalse, CorrectAnswer: false}
	matchingQ  = course.Question{
		ID: "match", Kind: course.KindMatching,
		Pairs: []course.MatchPair{{ID: "p1", Left: "map", Right: "hash"}, {ID: "p2", Left: "slice", Right: "array view"}},
	}
	rankingQ = course.Question{
		ID: "rank", Kind: course.KindRanking,
		Items:        []course.Option{{ID: "x"}, {ID: "y"}, {ID: "z"}},
		CorrectOrder: []string{"z", "x", "y"},
	}
	fillQ = course.Question{
		ID: "fill", Kind: course.KindFillBlank,
		Segments: []course.Segment{
			{Text: "The "},
			{Blank: &course.Blank{Value: "quick", Accept: []string{"fast", "quick"}}},
			{Text: " fox"},
		},
	}
)

func check(t *testing.T, q course.Question, answer string) bool {
	t.Helper()
	ok, err := Check(&q, json.RawMessage(answer))
	require.NoError(t, err)
	return ok
}

func TestCheck_SingleChoice(t *testing.T) {
	assert.True(t, check(t, singleQ, `"b"`))
	assert.False(t, check(t, singleQ, `"a"`))
}

func TestCheck_MultiChoiceIsOrderInsensitive(t *testing.T) {
	assert.True(t, check(t, multiQ, `["a","c"]`))
	assert.True(t, check(t, multiQ, `["c","a"]`))
	assert.False(t, check(t, multiQ, `["a"]`), "no partial credit")
	assert.False(t, check(t, multiQ, `["a","b","c"]`))
	assert.False(t, check(t, multiQ, `[]`))
}

func TestCheck_TrueFalse(t *testing.T) {
	assert.True(t, check(t, trueFalseQ, `false`))
	assert.False(t, check(t, trueFalseQ, `true`))
}

func TestCheck_MatchingComparesEachPairAgainstItself(t *testing.T) {
	assert.True(t, check(t, matchingQ, `{"p1":"p1","p2":"p2"}`))
	assert.False(t, check(t, matchingQ, `{"p1":"p2","p2":"p1"}`))
	assert.False(t, check(t, matchingQ, `{"p1":"p1"}`), "missing pair")
}

func TestCheck_RankingIsOrderSensitive(t *testing.T) {
	assert.True(t, check(t, rankingQ, `["z","x","y"]`))
	assert.False(t, check(t, rankingQ, `["x","y","z"]`))
	assert.False(t, check(t, rankingQ, `["z","x"]`))
}

func TestCheck_FillBlank(t *testing.T) {
	assert.True(t, check(t, fillQ, `{"0":"Quick"}`), "case-insensitive accept list")
	assert.True(t, check(t, fillQ, `{"0":"  fast "}`))
	assert.False(t, check(t, fillQ, `{"0":"slow"}`))
	assert.False(t, check(t, fillQ, `{}`))

	canonicalOnly := course.Question{
		ID: "fill2", Kind: course.KindFillBlank,
		Segments: []course.Segment{{Blank: &course.Blank{Value: "Goroutine"}}, {Text: " and "}, {Blank: &course.Blank{Value: "channel"}}},
	}
	assert.True(t, check(t, canonicalOnly, `{"0":"goroutine","1":"CHANNEL"}`))
	assert.False(t, check(t, canonicalOnly, `{"0":"goroutine","2":"channel"}`), "blank indices follow segment order")
}

func TestCheck_IsDeterministic(t *testing.T) {
	for i := 0; i < 5; i++ {
		assert.True(t, check(t, multiQ, `["c","a"]`))
		assert.False(t, check(t, rankingQ, `["y","z","x"]`))
	}
}

func TestCheck_MalformedPayload(t *testing.T) {
	cases := map[string]struct {
		q      course.Question
		answer string
	}{
		"single as array":  {singleQ, `["b"]`},
		"multi as string":  {multiQ, `"a"`},
		"multi duplicate":  {multiQ, `["a","a","c"]`},
		"tf as string":     {trueFalseQ, `"false"`},
		"fill bad index":   {fillQ, `{"first":"quick"}`},
		"empty":            {singleQ, ``},
		"null":             {rankingQ, `null`},
		"matching as list": {matchingQ, `["p1"]`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			q := tc.q
			_, err := Check(&q, json.RawMessage(tc.answer))
			assert.True(t, errors.Is(err, shared.ErrMalformedAnswer))
			assert.True(t, shared.IsValidation(err))
		})
	}
}

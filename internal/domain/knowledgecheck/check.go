// Package knowledgecheck содержит проверку ответов и машину состояний
// сессии проверки знаний: черновики, возобновление, финальная отправка.
package knowledgecheck

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/coursegate/progress-engine/internal/domain/course"
	"github.com/coursegate/progress-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ANSWER VALIDATION
// Чистая функция (вопрос, ответ) -> верно/неверно. Форма ответа зависит от типа:
//
//	single_choice  "option-id"
//	multi_choice   ["a", "c"]
//	true_false     true
//	matching       {"pair-id": "selected-pair-id", ...}
//	ranking        ["first", "second", ...]
//	fill_blank     {"0": "text", "1": "text"}
// ══════════════════════════════════════════════════════════════════════════════

// Check проверяет ответ. Ответ неподходящей формы - ошибка валидации
// (ErrMalformedAnswer), а не просто неверный ответ.
func Check(q *course.Question, answer json.RawMessage) (bool, error) {
	answer = bytes.TrimSpace(answer)
	if len(answer) == 0 || bytes.Equal(answer, []byte("null")) {
		return false, malformed(q, "empty answer")
	}

	switch q.Kind {
	case course.KindSingleChoice:
		var v string
		if err := json.Unmarshal(answer, &v); err != nil {
			return false, malformed(q, "expected a string")
		}
		return v == q.CorrectOption, nil

	case course.KindMultiChoice:
		var v []string
		if err := json.Unmarshal(answer, &v); err != nil {
			return false, malformed(q, "expected an array of strings")
		}
		if dup, ok := firstDuplicate(v); ok {
			return false, malformed(q, "option "+strconv.Quote(dup)+" selected more than once")
		}
		return sameSet(v, q.CorrectOptions), nil

	case course.KindTrueFalse:
		var v bool
		if err := json.Unmarshal(answer, &v); err != nil {
			return false, malformed(q, "expected a boolean")
		}
		return v == q.CorrectAnswer, nil

	case course.KindMatching:
		var v map[string]string
		if err := json.Unmarshal(answer, &v); err != nil {
			return false, malformed(q, "expected an object of pair ids")
		}
		for _, p := range q.Pairs {
			if v[p.ID] != p.ID {
				return false, nil
			}
		}
		return true, nil

	case course.KindRanking:
		var v []string
		if err := json.Unmarshal(answer, &v); err != nil {
			return false, malformed(q, "expected an ordered array of item ids")
		}
		if len(v) != len(q.CorrectOrder) {
			return false, nil
		}
		for i := range v {
			if v[i] != q.CorrectOrder[i] {
				return false, nil
			}
		}
		return true, nil

	case course.KindFillBlank:
		var raw map[string]string
		if err := json.Unmarshal(answer, &raw); err != nil {
			return false, malformed(q, "expected an object of blank index to text")
		}
		filled := make(map[int]string, len(raw))
		for k, text := range raw {
			idx, err := strconv.Atoi(k)
			if err != nil {
				return false, malformed(q, "blank index "+strconv.Quote(k)+" is not a number")
			}
			filled[idx] = text
		}
		blanks := q.Blanks()
		if len(blanks) == 0 {
			return false, nil
		}
		for i, b := range blanks {
			text, ok := filled[i]
			if !ok || !acceptsBlank(b, text) {
				return false, nil
			}
		}
		return true, nil
	}

	return false, malformed(q, "unsupported question kind "+string(q.Kind))
}

// acceptsBlank: обрезанный текст в нижнем регистре должен совпасть
// с одним из допустимых ответов (или с каноническим значением).
func acceptsBlank(b course.Blank, text string) bool {
	got := strings.ToLower(strings.TrimSpace(text))
	accept := b.Accept
	if len(accept) == 0 {
		accept = []string{b.Value}
	}
	for _, a := range accept {
		if strings.EqualFold(strings.TrimSpace(a), got) {
			return true
		}
	}
	return false
}

func sameSet(a, b []string) bool {
	x := normalizeSet(a)
	y := normalizeSet(b)
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

func firstDuplicate(v []string) (string, bool) {
	seen := make(map[string]struct{}, len(v))
	for _, s := range v {
		if _, ok := seen[s]; ok {
			return s, true
		}
		seen[s] = struct{}{}
	}
	return "", false
}

func normalizeSet(v []string) []string {
	out := append([]string(nil), v...)
	sort.Strings(out)
	n := 0
	for i, s := range out {
		if i > 0 && s == out[n-1] {
			continue
		}
		out[n] = s
		n++
	}
	return out[:n]
}

func malformed(q *course.Question, reason string) error {
	return shared.Detail(shared.ErrMalformedAnswer, "question %s (%s): %s", q.ID, q.Kind, reason)
}

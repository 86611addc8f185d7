package course

import (
	"errors"
	"fmt"
)

// QuestionKind - тип вопроса проверки знаний.
type QuestionKind string

const (
	KindSingleChoice QuestionKind = "single_choice"
	KindMultiChoice  QuestionKind = "multi_choice"
	KindTrueFalse    QuestionKind = "true_false"
	KindMatching     QuestionKind = "matching"
	KindRanking      QuestionKind = "ranking"
	KindFillBlank    QuestionKind = "fill_blank"
)

// IsValid проверяет тип вопроса.
func (k QuestionKind) IsValid() bool {
	switch k {
	case KindSingleChoice, KindMultiChoice, KindTrueFalse, KindMatching, KindRanking, KindFillBlank:
		return true
	}
	return false
}

// Option - вариант ответа или элемент для ранжирования.
type Option struct {
	ID   string `json:"id" yaml:"id"`
	Text string `json:"text" yaml:"text"`
}

// MatchPair - пара для сопоставления. Правильный ответ для левой части
// пары - это собственный ID пары.
type MatchPair struct {
	ID    string `json:"id" yaml:"id"`
	Left  string `json:"left" yaml:"left"`
	Right string `json:"right" yaml:"right"`
}

// Blank - пропуск в тексте. Accept - список допустимых ответов;
// если он пуст, используется Value.
type Blank struct {
	Value  string   `json:"value" yaml:"value"`
	Accept []string `json:"accept,omitempty" yaml:"accept"`
}

// Segment - фрагмент текста либо пропуск. Индексы пропусков
// назначаются в порядке следования сегментов.
type Segment struct {
	Text  string `json:"text,omitempty" yaml:"text"`
	Blank *Blank `json:"blank,omitempty" yaml:"blank"`
}

// Remediation - ссылка на урок, который стоит повторить при неверном ответе.
type Remediation struct {
	ModuleSlug string `json:"module_slug" yaml:"module"`
	LessonSlug string `json:"lesson_slug" yaml:"lesson"`
}

// Question - вопрос проверки знаний. Заполняются только поля,
// относящиеся к его типу.
type Question struct {
	ID     string       `json:"id" yaml:"id"`
	Kind   QuestionKind `json:"kind" yaml:"kind"`
	Prompt string       `json:"prompt" yaml:"prompt"`

	// single_choice / multi_choice
	Options        []Option `json:"options,omitempty" yaml:"options"`
	CorrectOption  string   `json:"-" yaml:"correct_option"`
	CorrectOptions []string `json:"-" yaml:"correct_options"`

	// true_false
	CorrectAnswer bool `json:"-" yaml:"correct_answer"`

	// matching
	Pairs []MatchPair `json:"pairs,omitempty" yaml:"pairs"`

	// ranking
	Items        []Option `json:"items,omitempty" yaml:"items"`
	CorrectOrder []string `json:"-" yaml:"correct_order"`

	// fill_blank
	Segments []Segment `json:"segments,omitempty" yaml:"segments"`

	Remediation *Remediation `json:"remediation,omitempty" yaml:"remediation"`
}

// Blanks возвращает пропуски в порядке сегментов.
func (q *Question) Blanks() []Blank {
	var out []Blank
	for _, s := range q.Segments {
		if s.Blank != nil {
			out = append(out, *s.Blank)
		}
	}
	return out
}

// Validate проверяет, что вопрос содержит всё необходимое для своего типа.
func (q *Question) Validate() error {
	if q.ID == "" {
		return errors.New("question id is required")
	}
	if !q.Kind.IsValid() {
		return fmt.Errorf("question %s: unknown kind %q", q.ID, q.Kind)
	}

	switch q.Kind {
	case KindSingleChoice:
		if !hasOption(q.Options, q.CorrectOption) {
			return fmt.Errorf("question %s: correct_option %q is not an option", q.ID, q.CorrectOption)
		}
	case KindMultiChoice:
		if len(q.CorrectOptions) == 0 {
			return fmt.Errorf("question %s: correct_options is empty", q.ID)
		}
		for _, id := range q.CorrectOptions {
			if !hasOption(q.Options, id) {
				return fmt.Errorf("question %s: correct option %q is not an option", q.ID, id)
			}
		}
	case KindMatching:
		if len(q.Pairs) == 0 {
			return fmt.Errorf("question %s: pairs are empty", q.ID)
		}
		seen := make(map[string]struct{}, len(q.Pairs))
		for _, p := range q.Pairs {
			if _, dup := seen[p.ID]; dup || p.ID == "" {
				return fmt.Errorf("question %s: invalid or duplicate pair id %q", q.ID, p.ID)
			}
			seen[p.ID] = struct{}{}
		}
	case KindRanking:
		if len(q.CorrectOrder) == 0 || len(q.CorrectOrder) != len(q.Items) {
			return fmt.Errorf("question %s: correct_order must list every item", q.ID)
		}
		for _, id := range q.CorrectOrder {
			if !hasOption(q.Items, id) {
				return fmt.Errorf("question %s: correct_order references unknown item %q", q.ID, id)
			}
		}
	case KindFillBlank:
		blanks := q.Blanks()
		if len(blanks) == 0 {
			return fmt.Errorf("question %s: no blanks", q.ID)
		}
		for i, b := range blanks {
			if b.Value == "" && len(b.Accept) == 0 {
				return fmt.Errorf("question %s: blank %d has no accepted answer", q.ID, i)
			}
		}
	}
	return nil
}

func hasOption(opts []Option, id string) bool {
	for _, o := range opts {
		if o.ID == id {
			return true
		}
	}
	return false
}

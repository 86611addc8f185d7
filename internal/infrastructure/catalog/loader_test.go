package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursegate/progress-engine/internal/domain/course"
	"github.com/coursegate/progress-engine/internal/domain/shared"
	"github.com/coursegate/progress-engine/internal/infrastructure/persistence/memory"
)

const goBasics = `
slug: go-basics
title: Go Basics
config:
  navigation_mode: linear
  require_knowledge_checks: true
  min_lesson_time_seconds: 30
modules:
  - slug: intro
    title: Intro
    lessons:
      - slug: hello
        title: Hello
      - slug: types
        title: Types
    knowledge_check:
      questions:
        - id: q1
          kind: single_choice
          prompt: Which keyword declares a constant?
          options:
            - {id: a, text: var}
            - {id: b, text: const}
          correct_option: b
          remediation:
            lesson: types
        - id: q2
          kind: fill_blank
          prompt: Complete the statement
          segments:
            - text: "x "
            - blank: {value: ":=", accept: [":="]}
            - text: " 1"
`

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "go.yaml", goBasics)
	writeFile(t, dir, "README.md", "ignored")
	writeFile(t, dir, "empty.yml", `
slug: empty
title: Empty
`)

	store := memory.NewStore()
	n, err := NewLoader(store.Courses(), nil).LoadDir(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	c, err := store.Courses().Get(context.Background(), "go-basics")
	require.NoError(t, err)
	assert.True(t, c.Config.IsLinear())
	assert.Equal(t, 30, c.Config.MinLessonTimeSeconds)
	assert.Equal(t, 2, c.TotalLessons())

	mod, err := c.Module("intro")
	require.NoError(t, err)
	require.True(t, mod.HasKnowledgeCheck())
	q, _, ok := mod.KnowledgeCheck.Question("q1")
	require.True(t, ok)
	assert.Equal(t, "b", q.CorrectOption)
	require.NotNil(t, q.Remediation)
	assert.Equal(t, "intro", q.Remediation.ModuleSlug, "remediation defaults to the owning module")

	blank, _, ok := mod.KnowledgeCheck.Question("q2")
	require.True(t, ok)
	assert.Len(t, blank.Blanks(), 1)

	empty, err := store.Courses().Get(context.Background(), "empty")
	require.NoError(t, err)
	assert.Equal(t, course.NavigationOpen, empty.Config.NavigationMode)
}

func TestLoadDir_MissingDirectory(t *testing.T) {
	n, err := NewLoader(memory.NewStore().Courses(), nil).LoadDir(context.Background(), filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLoadDir_InvalidCourse(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.yaml", `
slug: bad
title: Bad
modules:
  - slug: m1
    lessons: [{slug: a}, {slug: a}]
`)
	_, err := NewLoader(memory.NewStore().Courses(), nil).LoadDir(context.Background(), dir)
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))
	assert.Contains(t, err.Error(), "bad.yaml")
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("slug: x\ntitle: X\ncorect_option: a\n"))
	require.Error(t, err)

	_, err = Parse(nil)
	require.Error(t, err)
}

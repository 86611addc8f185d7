package gating

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/coursegate/progress-engine/internal/domain/course"
	"github.com/coursegate/progress-engine/internal/domain/shared"
)

const (
	done    = shared.StatusCompleted
	started = shared.StatusInProgress
	fresh   = shared.StatusNotStarted
)

func module(slug string, kc shared.ProgressStatus, lessons ...shared.ProgressStatus) ModuleNode {
	m := ModuleNode{Slug: slug}
	for i, st := range lessons {
		m.Lessons = append(m.Lessons, LessonNode{Slug: string(rune('a' + i)), Status: st})
	}
	if kc != "" {
		m.HasKnowledgeCheck = true
		m.KnowledgeCheckStatus = kc
	}
	return m
}

var (
	linear      = course.Config{NavigationMode: course.NavigationLinear}
	open        = course.Config{NavigationMode: course.NavigationOpen}
	gated       = course.Config{NavigationMode: course.NavigationOpen, RequireKnowledgeChecks: true}
	linearGated = course.Config{NavigationMode: course.NavigationLinear, RequireKnowledgeChecks: true}
)

func TestComputeLocks_OpenNavigationLocksNothing(t *testing.T) {
	tree := NavigationTree{Modules: []ModuleNode{
		module("m1", fresh, fresh, fresh),
		module("m2", fresh, fresh),
	}}
	assert.True(t, ComputeLocks(open, tree).IsEmpty())
}

func TestComputeLocks_LinearFirstIncompleteStaysOpen(t *testing.T) {
	tree := NavigationTree{Modules: []ModuleNode{module("m1", "", done, fresh, fresh)}}
	locks := ComputeLocks(linear, tree)

	assert.False(t, locks.LessonLocked("m1", "a"))
	assert.False(t, locks.LessonLocked("m1", "b"))
	assert.True(t, locks.LessonLocked("m1", "c"))
}

func TestComputeLocks_LinearSpansModules(t *testing.T) {
	tree := NavigationTree{Modules: []ModuleNode{
		module("m1", fresh, done, done),
		module("m2", fresh, started, fresh),
		module("m3", "", fresh),
	}}
	locks := ComputeLocks(linear, tree)

	assert.False(t, locks.KnowledgeCheckLocked("m1"), "all m1 lessons completed")
	assert.False(t, locks.LessonLocked("m2", "a"))
	assert.True(t, locks.LessonLocked("m2", "b"))
	assert.True(t, locks.KnowledgeCheckLocked("m2"))
	assert.True(t, locks.LessonLocked("m3", "a"))
}

func TestComputeLocks_KnowledgeCheckGate(t *testing.T) {
	tree := NavigationTree{Modules: []ModuleNode{
		module("m1", started, done, fresh),
		module("m2", fresh, fresh, fresh),
		module("m3", "", fresh),
	}}
	locks := ComputeLocks(gated, tree)

	assert.False(t, locks.LessonLocked("m1", "a"))
	assert.False(t, locks.LessonLocked("m1", "b"), "gating module's own lessons stay open")
	assert.False(t, locks.KnowledgeCheckLocked("m1"))
	assert.True(t, locks.LessonLocked("m2", "a"))
	assert.True(t, locks.LessonLocked("m2", "b"))
	assert.True(t, locks.KnowledgeCheckLocked("m2"))
	assert.True(t, locks.LessonLocked("m3", "a"))
}

func TestComputeLocks_GateMovesPastCompletedChecks(t *testing.T) {
	tree := NavigationTree{Modules: []ModuleNode{
		module("m1", done, done),
		module("m2", "", fresh),
		module("m3", fresh, fresh),
		module("m4", "", fresh),
	}}
	locks := ComputeLocks(gated, tree)

	assert.False(t, locks.LessonLocked("m2", "a"))
	assert.False(t, locks.LessonLocked("m3", "a"))
	assert.True(t, locks.LessonLocked("m4", "a"))
}

func TestComputeLocks_RulesCombineWithOr(t *testing.T) {
	tree := NavigationTree{Modules: []ModuleNode{
		module("m1", fresh, done, done),
		module("m2", "", fresh),
	}}

	// The linear rule alone leaves m2/a open; the gate closes it.
	assert.False(t, ComputeLocks(linear, tree).LessonLocked("m2", "a"))
	assert.True(t, ComputeLocks(linearGated, tree).LessonLocked("m2", "a"))
}

func TestComputeLocks_FullyCompletedCourseIsUnlocked(t *testing.T) {
	tree := NavigationTree{Modules: []ModuleNode{
		module("m1", done, done, done),
		module("m2", "", done),
		module("m3", done, done),
	}}
	for _, cfg := range []course.Config{linear, open, gated, linearGated} {
		assert.True(t, ComputeLocks(cfg, tree).IsEmpty(), "mode=%s gate=%v", cfg.NavigationMode, cfg.RequireKnowledgeChecks)
	}
}

func TestComputeLocks_EmptyModuleLocksNothingLinearly(t *testing.T) {
	tree := NavigationTree{Modules: []ModuleNode{
		module("m1", fresh),
		module("m2", "", fresh),
	}}
	locks := ComputeLocks(linear, tree)
	assert.False(t, locks.KnowledgeCheckLocked("m1"))
	assert.False(t, locks.LessonLocked("m2", "a"))
}

func TestBuildTreeAndAnnotate(t *testing.T) {
	c := &course.Course{
		Slug:   "go",
		Config: linear,
		Modules: []course.Module{
			{Slug: "m1", Lessons: []course.Lesson{{Slug: "intro"}, {Slug: "vars"}}},
		},
	}
	tree := BuildTree(c, map[LessonKey]shared.ProgressStatus{{Module: "m1", Lesson: "intro"}: done}, nil)
	out := Annotate(tree, ComputeLocks(c.Config, tree))

	assert.Equal(t, done, out.Modules[0].Lessons[0].Status)
	assert.Equal(t, fresh, out.Modules[0].Lessons[1].Status)
	assert.False(t, out.Modules[0].Lessons[1].Locked)
	assert.False(t, out.Modules[0].HasKnowledgeCheck)
}

package command

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coursegate/progress-engine/internal/domain/course"
	"github.com/coursegate/progress-engine/internal/domain/gating"
	"github.com/coursegate/progress-engine/internal/domain/progress"
	"github.com/coursegate/progress-engine/internal/domain/shared"
	"github.com/coursegate/progress-engine/internal/infrastructure/persistence/memory"
	"github.com/coursegate/progress-engine/pkg/logger"
	"github.com/coursegate/progress-engine/pkg/timeutil"
)

// recordingPublisher collects published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) count(t shared.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.EventType() == t {
			n++
		}
	}
	return n
}

type fixture struct {
	store     *memory.Store
	clock     *timeutil.FixedClock
	pub       *recordingPublisher
	resolver  *gating.Resolver
	recompute *RecomputeCourseProgressHandler
	course    *course.Course
}

// goBasics is a linear course with a gating knowledge check in the first module.
func goBasics() *course.Course {
	return &course.Course{
		Slug:  "go-basics",
		Title: "Go Basics",
		Config: course.Config{
			NavigationMode:         course.NavigationLinear,
			RequireKnowledgeChecks: true,
		},
		Modules: []course.Module{
			{
				Slug:    "m1",
				Title:   "Syntax",
				Lessons: []course.Lesson{{Slug: "intro", Title: "Intro"}, {Slug: "vars", Title: "Variables"}},
				KnowledgeCheck: &course.KnowledgeCheck{Questions: []course.Question{
					{
						ID:            "q1",
						Kind:          course.KindSingleChoice,
						Options:       []course.Option{{ID: "a"}, {ID: "b"}},
						CorrectOption: "b",
						Remediation:   &course.Remediation{LessonSlug: "vars"},
					},
					{ID: "q2", Kind: course.KindTrueFalse, CorrectAnswer: true},
				}},
			},
			{
				Slug:    "m2",
				Title:   "Control flow",
				Lessons: []course.Lesson{{Slug: "loops", Title: "Loops"}},
			},
		},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	c := goBasics()
	require.NoError(t, store.Courses().Save(context.Background(), c))

	clock := timeutil.NewFixedClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	pub := &recordingPublisher{}
	recomputer := progress.NewRecomputer(store.Lessons(), store.CourseProgress(), store.KnowledgeChecks())

	return &fixture{
		store:     store,
		clock:     clock,
		pub:       pub,
		resolver:  gating.NewResolver(store.Lessons(), store.KnowledgeChecks()),
		recompute: NewRecomputeCourseProgressHandler(store.Courses(), recomputer, pub, clock, logger.Nop()),
		course:    c,
	}
}

func (f *fixture) completeLesson(t *testing.T, user, module, lesson string) *CompleteLessonResult {
	t.Helper()
	h := NewCompleteLessonHandler(f.store.Courses(), f.store.Lessons(), f.resolver, f.recompute, f.pub, f.clock, nil, CompleteLessonHandlerConfig{})
	res, err := h.Handle(context.Background(), CompleteLessonCommand{
		UserID: user, CourseSlug: "go-basics", ModuleSlug: module, LessonSlug: lesson,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) submitHandler() *SubmitKnowledgeCheckHandler {
	return NewSubmitKnowledgeCheckHandler(f.store.Courses(), f.store.KnowledgeChecks(), f.resolver, f.recompute, f.pub, f.clock, nil, SubmitKnowledgeCheckHandlerConfig{})
}

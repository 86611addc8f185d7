// Package memory provides an in-process Progress Store used in development mode
// and by application tests. Every repository shares one Store so that a single
// mutex gives the same atomicity guarantees as the postgres transactions.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/coursegate/progress-engine/internal/domain/course"
	"github.com/coursegate/progress-engine/internal/domain/knowledgecheck"
	"github.com/coursegate/progress-engine/internal/domain/progress"
	"github.com/coursegate/progress-engine/internal/domain/shared"
)

type courseKey struct{ user, course string }

type sessionRecord struct {
	finalized   bool
	answers     map[string]knowledgecheck.Answer
	score       knowledgecheck.Score
	submittedAt *time.Time
}

// Store holds all progress state in maps guarded by one mutex.
type Store struct {
	mu          sync.RWMutex
	courses     map[string]*course.Course
	lessons     map[progress.LessonKey]*progress.LessonProgress
	courseRows  map[courseKey]*progress.CourseProgress
	sessions    map[knowledgecheck.SessionKey]*sessionRecord
	enrollments map[courseKey]time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		courses:     make(map[string]*course.Course),
		lessons:     make(map[progress.LessonKey]*progress.LessonProgress),
		courseRows:  make(map[courseKey]*progress.CourseProgress),
		sessions:    make(map[knowledgecheck.SessionKey]*sessionRecord),
		enrollments: make(map[courseKey]time.Time),
	}
}

// Courses returns the course catalog view of the store.
func (s *Store) Courses() *CourseRepository { return &CourseRepository{s: s} }

// Lessons returns the lesson progress view of the store.
func (s *Store) Lessons() *LessonRepository { return &LessonRepository{s: s} }

// CourseProgress returns the course progress view of the store.
func (s *Store) CourseProgress() *CourseProgressRepository { return &CourseProgressRepository{s: s} }

// KnowledgeChecks returns the knowledge check session view of the store.
func (s *Store) KnowledgeChecks() *KnowledgeCheckRepository { return &KnowledgeCheckRepository{s: s} }

// Enrollments returns the enrollment view of the store.
func (s *Store) Enrollments() *EnrollmentRepository { return &EnrollmentRepository{s: s} }

// ══════════════════════════════════════════════════════════════════════════════
// COURSE CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// CourseRepository implements course.Repository.
type CourseRepository struct{ s *Store }

var _ course.Repository = (*CourseRepository)(nil)

// Get returns a course by slug.
func (r *CourseRepository) Get(_ context.Context, slug string) (*course.Course, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.courses[slug]
	if !ok {
		return nil, shared.Detail(shared.ErrCourseNotFound, "%s", slug)
	}
	return c, nil
}

// List returns all courses sorted by slug.
func (r *CourseRepository) List(_ context.Context) ([]*course.Course, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*course.Course, 0, len(r.s.courses))
	for _, c := range r.s.courses {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

// Save validates and stores a course definition.
func (r *CourseRepository) Save(_ context.Context, c *course.Course) error {
	if err := c.Validate(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.courses[c.Slug] = c
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LESSON PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// LessonRepository implements progress.LessonRepository.
type LessonRepository struct{ s *Store }

var _ progress.LessonRepository = (*LessonRepository)(nil)

// ApplyHeartbeat creates or increments the lesson row.
func (r *LessonRepository) ApplyHeartbeat(_ context.Context, key progress.LessonKey, hb progress.Heartbeat, now time.Time) (*progress.LessonProgress, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	lp, ok := r.s.lessons[key]
	if !ok {
		lp = progress.NewLessonProgress(key, now)
		r.s.lessons[key] = lp
	}
	lp.Apply(hb, now)
	cp := *lp
	return &cp, nil
}

// MarkCompleted completes the lesson, creating the row if needed.
func (r *LessonRepository) MarkCompleted(_ context.Context, key progress.LessonKey, now time.Time) (*progress.LessonProgress, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	lp, ok := r.s.lessons[key]
	if !ok {
		lp = progress.NewLessonProgress(key, now)
		r.s.lessons[key] = lp
	}
	changed := lp.MarkCompleted(now)
	cp := *lp
	return &cp, changed, nil
}

// Get returns the lesson row.
func (r *LessonRepository) Get(_ context.Context, key progress.LessonKey) (*progress.LessonProgress, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	lp, ok := r.s.lessons[key]
	if !ok {
		return nil, progress.ErrLessonProgressNotFound
	}
	cp := *lp
	return &cp, nil
}

// ListByCourse returns the learner's rows for a course.
func (r *LessonRepository) ListByCourse(_ context.Context, userID, courseSlug string) ([]*progress.LessonProgress, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*progress.LessonProgress
	for k, lp := range r.s.lessons {
		if k.UserID == userID && k.CourseSlug == courseSlug {
			cp := *lp
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ModuleSlug != out[j].ModuleSlug {
			return out[i].ModuleSlug < out[j].ModuleSlug
		}
		return out[i].LessonSlug < out[j].LessonSlug
	})
	return out, nil
}

// ListLearners returns users with any lesson row in the course, or in any course when slug is empty.
func (r *LessonRepository) ListLearners(_ context.Context, courseSlug string) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	seen := make(map[string]struct{})
	for k := range r.s.lessons {
		if courseSlug == "" || k.CourseSlug == courseSlug {
			seen[k.UserID] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	sort.Strings(out)
	return out, nil
}

// CompletionCounts groups completed lessons by user, course and module.
func (r *LessonRepository) CompletionCounts(_ context.Context, filter progress.Filter) ([]progress.CompletionCount, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	type group struct{ user, course, module string }
	counts := make(map[group]int)
	for k, lp := range r.s.lessons {
		if !filter.MatchesCourse(k.CourseSlug) || !filter.MatchesUser(k.UserID) || !lp.IsCompleted() {
			continue
		}
		counts[group{k.UserID, k.CourseSlug, k.ModuleSlug}]++
	}
	out := make([]progress.CompletionCount, 0, len(counts))
	for g, n := range counts {
		out = append(out, progress.CompletionCount{UserID: g.user, CourseSlug: g.course, ModuleSlug: g.module, Completed: n})
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// COURSE PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// CourseProgressRepository implements progress.CourseRepository.
type CourseProgressRepository struct{ s *Store }

var _ progress.CourseRepository = (*CourseProgressRepository)(nil)

// Get returns the stored course progress.
func (r *CourseProgressRepository) Get(_ context.Context, userID, courseSlug string) (*progress.CourseProgress, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	cp, ok := r.s.courseRows[courseKey{userID, courseSlug}]
	if !ok {
		return nil, progress.ErrCourseProgressNotFound
	}
	out := *cp
	return &out, nil
}

// Upsert stores the row and returns the previous status.
func (r *CourseProgressRepository) Upsert(_ context.Context, cp *progress.CourseProgress) (shared.ProgressStatus, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := courseKey{cp.UserID, cp.CourseSlug}
	prev := shared.StatusNotStarted
	if old, ok := r.s.courseRows[key]; ok {
		prev = old.Status
	}
	row := *cp
	r.s.courseRows[key] = &row
	return prev, nil
}

// List returns rows matching the filter.
func (r *CourseProgressRepository) List(_ context.Context, filter progress.Filter) ([]*progress.CourseProgress, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*progress.CourseProgress
	for k, cp := range r.s.courseRows {
		if filter.MatchesCourse(k.course) && filter.MatchesUser(k.user) {
			row := *cp
			out = append(out, &row)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CourseSlug != out[j].CourseSlug {
			return out[i].CourseSlug < out[j].CourseSlug
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ENROLLMENTS
// ══════════════════════════════════════════════════════════════════════════════

// EnrollmentRepository implements progress.EnrollmentRepository.
type EnrollmentRepository struct{ s *Store }

var _ progress.EnrollmentRepository = (*EnrollmentRepository)(nil)

// Enroll records an enrollment once.
func (r *EnrollmentRepository) Enroll(_ context.Context, userID, courseSlug string, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := courseKey{userID, courseSlug}
	if _, ok := r.s.enrollments[key]; ok {
		return false, nil
	}
	r.s.enrollments[key] = now
	return true, nil
}

// CountEnrolled counts (user, course) pairs that are enrolled or have lesson progress.
func (r *EnrollmentRepository) CountEnrolled(_ context.Context, filter progress.Filter) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	pairs := make(map[courseKey]struct{})
	for k := range r.s.enrollments {
		if filter.MatchesCourse(k.course) && filter.MatchesUser(k.user) {
			pairs[k] = struct{}{}
		}
	}
	for k := range r.s.lessons {
		if filter.MatchesCourse(k.CourseSlug) && filter.MatchesUser(k.UserID) {
			pairs[courseKey{k.UserID, k.CourseSlug}] = struct{}{}
		}
	}
	return len(pairs), nil
}

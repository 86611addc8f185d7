package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/coursegate/progress-engine/internal/domain/progress"
	"github.com/coursegate/progress-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LESSON PROGRESS REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

const lessonColumns = `user_id, course_slug, module_slug, lesson_slug, status,
	time_spent_seconds, active_time_seconds, max_scroll_depth,
	first_viewed_at, last_viewed_at, completed_at`

// LessonRepository implements progress.LessonRepository.
type LessonRepository struct {
	conn *Connection
}

var _ progress.LessonRepository = (*LessonRepository)(nil)

// NewLessonRepository creates a new LessonRepository.
func NewLessonRepository(conn *Connection) *LessonRepository {
	return &LessonRepository{conn: conn}
}

// ApplyHeartbeat creates or increments the row in one statement. Increments
// are relative to the stored values, so concurrent heartbeats never lose time.
func (r *LessonRepository) ApplyHeartbeat(ctx context.Context, key progress.LessonKey, hb progress.Heartbeat, now time.Time) (*progress.LessonProgress, error) {
	var lp *progress.LessonProgress
	err := r.conn.Do(ctx, func(ctx context.Context, q Querier) error {
		var err error
		lp, err = scanLesson(q.QueryRow(ctx, `
			INSERT INTO lesson_progress (
				user_id, course_slug, module_slug, lesson_slug, status,
				time_spent_seconds, active_time_seconds, max_scroll_depth,
				first_viewed_at, last_viewed_at
			) VALUES ($1, $2, $3, $4, 'in_progress', $5, LEAST($6, $5), $7, $8, $8)
			ON CONFLICT (user_id, course_slug, module_slug, lesson_slug) DO UPDATE SET
				time_spent_seconds = lesson_progress.time_spent_seconds + EXCLUDED.time_spent_seconds,
				active_time_seconds = LEAST(
					lesson_progress.active_time_seconds + EXCLUDED.active_time_seconds,
					lesson_progress.time_spent_seconds + EXCLUDED.time_spent_seconds),
				max_scroll_depth = GREATEST(lesson_progress.max_scroll_depth, EXCLUDED.max_scroll_depth),
				status = CASE WHEN lesson_progress.status = 'not_started'
					THEN 'in_progress' ELSE lesson_progress.status END,
				last_viewed_at = GREATEST(lesson_progress.last_viewed_at, EXCLUDED.last_viewed_at)
			RETURNING `+lessonColumns,
			key.UserID, key.CourseSlug, key.ModuleSlug, key.LessonSlug,
			hb.TotalDeltaSeconds, hb.ActiveDeltaSeconds, hb.ScrollDepth, now,
		))
		return err
	})
	if err != nil {
		return nil, storeErr("progress", "ApplyHeartbeat", err)
	}
	return lp, nil
}

// MarkCompleted locks the row (creating it first if needed) and applies the
// domain transition, so concurrent completions report exactly one change.
func (r *LessonRepository) MarkCompleted(ctx context.Context, key progress.LessonKey, now time.Time) (*progress.LessonProgress, bool, error) {
	var (
		lp      *progress.LessonProgress
		changed bool
	)
	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO lesson_progress (user_id, course_slug, module_slug, lesson_slug, status, first_viewed_at, last_viewed_at)
			VALUES ($1, $2, $3, $4, 'in_progress', $5, $5)
			ON CONFLICT (user_id, course_slug, module_slug, lesson_slug) DO NOTHING
		`, key.UserID, key.CourseSlug, key.ModuleSlug, key.LessonSlug, now)
		if err != nil {
			return err
		}

		lp, err = scanLesson(tx.QueryRow(ctx, `
			SELECT `+lessonColumns+` FROM lesson_progress
			WHERE user_id = $1 AND course_slug = $2 AND module_slug = $3 AND lesson_slug = $4
			FOR UPDATE
		`, key.UserID, key.CourseSlug, key.ModuleSlug, key.LessonSlug))
		if err != nil {
			return err
		}

		changed = lp.MarkCompleted(now)
		if !changed {
			return nil
		}
		_, err = tx.Exec(ctx, `
			UPDATE lesson_progress SET status = $5, completed_at = $6, first_viewed_at = $7, last_viewed_at = $8
			WHERE user_id = $1 AND course_slug = $2 AND module_slug = $3 AND lesson_slug = $4
		`, key.UserID, key.CourseSlug, key.ModuleSlug, key.LessonSlug,
			string(lp.Status), lp.CompletedAt, lp.FirstViewedAt, lp.LastViewedAt)
		return err
	})
	if err != nil {
		return nil, false, storeErr("progress", "MarkCompleted", err)
	}
	return lp, changed, nil
}

// Get returns the lesson row.
func (r *LessonRepository) Get(ctx context.Context, key progress.LessonKey) (*progress.LessonProgress, error) {
	var lp *progress.LessonProgress
	err := r.conn.Do(ctx, func(ctx context.Context, q Querier) error {
		var err error
		lp, err = scanLesson(q.QueryRow(ctx, `
			SELECT `+lessonColumns+` FROM lesson_progress
			WHERE user_id = $1 AND course_slug = $2 AND module_slug = $3 AND lesson_slug = $4
		`, key.UserID, key.CourseSlug, key.ModuleSlug, key.LessonSlug))
		return err
	})
	if IsNoRows(err) {
		return nil, progress.ErrLessonProgressNotFound
	}
	if err != nil {
		return nil, storeErr("progress", "GetLesson", err)
	}
	return lp, nil
}

// ListByCourse returns the learner's rows for a course.
func (r *LessonRepository) ListByCourse(ctx context.Context, userID, courseSlug string) ([]*progress.LessonProgress, error) {
	var out []*progress.LessonProgress
	err := r.conn.Do(ctx, func(ctx context.Context, q Querier) error {
		out = out[:0]
		rows, err := q.Query(ctx, `
			SELECT `+lessonColumns+` FROM lesson_progress
			WHERE user_id = $1 AND course_slug = $2
			ORDER BY module_slug, lesson_slug
		`, userID, courseSlug)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			lp, err := scanLesson(rows)
			if err != nil {
				return err
			}
			out = append(out, lp)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, storeErr("progress", "ListByCourse", err)
	}
	return out, nil
}

// ListLearners returns users with any lesson row in the course,
// or in any course when the slug is empty.
func (r *LessonRepository) ListLearners(ctx context.Context, courseSlug string) ([]string, error) {
	var out []string
	err := r.conn.Do(ctx, func(ctx context.Context, q Querier) error {
		out = out[:0]
		rows, err := q.Query(ctx, `
			SELECT DISTINCT user_id FROM lesson_progress
			WHERE ($1::text = '' OR course_slug = $1)
			ORDER BY user_id
		`, courseSlug)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			out = append(out, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, storeErr("progress", "ListLearners", err)
	}
	return out, nil
}

// CompletionCounts groups completed lessons by user, course and module.
func (r *LessonRepository) CompletionCounts(ctx context.Context, filter progress.Filter) ([]progress.CompletionCount, error) {
	var out []progress.CompletionCount
	err := r.conn.Do(ctx, func(ctx context.Context, q Querier) error {
		out = out[:0]
		rows, err := q.Query(ctx, `
			SELECT user_id, course_slug, module_slug, COUNT(*)
			FROM lesson_progress
			WHERE status = 'completed'
			  AND ($1::text = '' OR course_slug = $1)
			  AND (cardinality($2::text[]) = 0 OR user_id = ANY($2))
			GROUP BY user_id, course_slug, module_slug
		`, filter.CourseSlug, filterUsers(filter))
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var c progress.CompletionCount
			if err := rows.Scan(&c.UserID, &c.CourseSlug, &c.ModuleSlug, &c.Completed); err != nil {
				return err
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, storeErr("progress", "CompletionCounts", err)
	}
	return out, nil
}

func scanLesson(row pgx.Row) (*progress.LessonProgress, error) {
	var (
		lp     progress.LessonProgress
		status string
	)
	err := row.Scan(
		&lp.UserID, &lp.CourseSlug, &lp.ModuleSlug, &lp.LessonSlug, &status,
		&lp.TimeSpentSeconds, &lp.ActiveTimeSeconds, &lp.MaxScrollDepth,
		&lp.FirstViewedAt, &lp.LastViewedAt, &lp.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	lp.Status = shared.ProgressStatus(status)
	return &lp, nil
}

// filterUsers never returns nil: a NULL array would make cardinality() NULL.
func filterUsers(f progress.Filter) []string {
	if f.UserIDs == nil {
		return []string{}
	}
	return f.UserIDs
}

// ══════════════════════════════════════════════════════════════════════════════
// COURSE PROGRESS REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

const courseColumns = `user_id, course_slug, status, current_module_slug, current_lesson_slug,
	started_at, completed_at, total_time_seconds, completed_lessons, total_lessons, updated_at`

// CourseProgressRepository implements progress.CourseRepository.
type CourseProgressRepository struct {
	conn *Connection
}

var _ progress.CourseRepository = (*CourseProgressRepository)(nil)

// NewCourseProgressRepository creates a new CourseProgressRepository.
func NewCourseProgressRepository(conn *Connection) *CourseProgressRepository {
	return &CourseProgressRepository{conn: conn}
}

// Get returns the stored course progress.
func (r *CourseProgressRepository) Get(ctx context.Context, userID, courseSlug string) (*progress.CourseProgress, error) {
	var cp *progress.CourseProgress
	err := r.conn.Do(ctx, func(ctx context.Context, q Querier) error {
		var err error
		cp, err = scanCourse(q.QueryRow(ctx, `
			SELECT `+courseColumns+` FROM course_progress WHERE user_id = $1 AND course_slug = $2
		`, userID, courseSlug))
		return err
	})
	if IsNoRows(err) {
		return nil, progress.ErrCourseProgressNotFound
	}
	if err != nil {
		return nil, storeErr("progress", "GetCourse", err)
	}
	return cp, nil
}

// Upsert stores the row and returns the status it replaced. The previous
// status is read under a row lock so two recomputations cannot both observe
// the transition into completed.
func (r *CourseProgressRepository) Upsert(ctx context.Context, cp *progress.CourseProgress) (shared.ProgressStatus, error) {
	prev := shared.StatusNotStarted
	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO course_progress (user_id, course_slug, status, updated_at)
			VALUES ($1, $2, 'not_started', $3)
			ON CONFLICT (user_id, course_slug) DO NOTHING
		`, cp.UserID, cp.CourseSlug, cp.UpdatedAt)
		if err != nil {
			return err
		}

		var status string
		if err := tx.QueryRow(ctx, `
			SELECT status FROM course_progress WHERE user_id = $1 AND course_slug = $2 FOR UPDATE
		`, cp.UserID, cp.CourseSlug).Scan(&status); err != nil {
			return err
		}
		prev = shared.ProgressStatus(status)

		_, err = tx.Exec(ctx, `
			UPDATE course_progress SET
				status = $3,
				current_module_slug = $4,
				current_lesson_slug = $5,
				started_at = $6,
				completed_at = $7,
				total_time_seconds = $8,
				completed_lessons = $9,
				total_lessons = $10,
				updated_at = $11
			WHERE user_id = $1 AND course_slug = $2
		`, cp.UserID, cp.CourseSlug, string(cp.Status), cp.CurrentModuleSlug, cp.CurrentLessonSlug,
			cp.StartedAt, cp.CompletedAt, cp.TotalTimeSeconds, cp.CompletedLessons, cp.TotalLessons, cp.UpdatedAt)
		return err
	})
	if err != nil {
		return "", storeErr("progress", "UpsertCourse", err)
	}
	return prev, nil
}

// List returns rows matching the filter.
func (r *CourseProgressRepository) List(ctx context.Context, filter progress.Filter) ([]*progress.CourseProgress, error) {
	var out []*progress.CourseProgress
	err := r.conn.Do(ctx, func(ctx context.Context, q Querier) error {
		out = out[:0]
		rows, err := q.Query(ctx, `
			SELECT `+courseColumns+` FROM course_progress
			WHERE ($1::text = '' OR course_slug = $1)
			  AND (cardinality($2::text[]) = 0 OR user_id = ANY($2))
			ORDER BY course_slug, user_id
		`, filter.CourseSlug, filterUsers(filter))
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			cp, err := scanCourse(rows)
			if err != nil {
				return err
			}
			out = append(out, cp)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, storeErr("progress", "ListCourses", err)
	}
	return out, nil
}

func scanCourse(row pgx.Row) (*progress.CourseProgress, error) {
	var (
		cp     progress.CourseProgress
		status string
	)
	err := row.Scan(
		&cp.UserID, &cp.CourseSlug, &status, &cp.CurrentModuleSlug, &cp.CurrentLessonSlug,
		&cp.StartedAt, &cp.CompletedAt, &cp.TotalTimeSeconds, &cp.CompletedLessons, &cp.TotalLessons, &cp.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	cp.Status = shared.ProgressStatus(status)
	return &cp, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ENROLLMENT REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// EnrollmentRepository implements progress.EnrollmentRepository.
type EnrollmentRepository struct {
	conn *Connection
}

var _ progress.EnrollmentRepository = (*EnrollmentRepository)(nil)

// NewEnrollmentRepository creates a new EnrollmentRepository.
func NewEnrollmentRepository(conn *Connection) *EnrollmentRepository {
	return &EnrollmentRepository{conn: conn}
}

// Enroll records an enrollment once.
func (r *EnrollmentRepository) Enroll(ctx context.Context, userID, courseSlug string, now time.Time) (bool, error) {
	var created bool
	err := r.conn.Do(ctx, func(ctx context.Context, q Querier) error {
		tag, err := q.Exec(ctx, `
			INSERT INTO enrollments (user_id, course_slug, enrolled_at) VALUES ($1, $2, $3)
			ON CONFLICT (user_id, course_slug) DO NOTHING
		`, userID, courseSlug, now)
		if err != nil {
			return err
		}
		created = tag.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return false, storeErr("progress", "Enroll", err)
	}
	return created, nil
}

// CountEnrolled counts (user, course) pairs that are enrolled or have lesson progress.
func (r *EnrollmentRepository) CountEnrolled(ctx context.Context, filter progress.Filter) (int, error) {
	var n int
	err := r.conn.Do(ctx, func(ctx context.Context, q Querier) error {
		return q.QueryRow(ctx, `
			SELECT COUNT(*) FROM (
				SELECT user_id, course_slug FROM enrollments
				UNION
				SELECT user_id, course_slug FROM lesson_progress
			) pairs
			WHERE ($1::text = '' OR course_slug = $1)
			  AND (cardinality($2::text[]) = 0 OR user_id = ANY($2))
		`, filter.CourseSlug, filterUsers(filter)).Scan(&n)
	})
	if err != nil {
		return 0, storeErr("progress", "CountEnrolled", err)
	}
	return n, nil
}

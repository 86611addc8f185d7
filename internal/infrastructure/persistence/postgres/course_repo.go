package postgres

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coursegate/progress-engine/internal/domain/course"
	"github.com/coursegate/progress-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// COURSE CATALOG REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// CourseRepository implements course.Repository. Definitions are stored in
// their YAML form because the JSON form omits answer keys.
type CourseRepository struct {
	conn *Connection
}

var _ course.Repository = (*CourseRepository)(nil)

// NewCourseRepository creates a new CourseRepository.
func NewCourseRepository(conn *Connection) *CourseRepository {
	return &CourseRepository{conn: conn}
}

// Get returns a course by slug.
func (r *CourseRepository) Get(ctx context.Context, slug string) (*course.Course, error) {
	var raw []byte
	var updatedAt time.Time
	err := r.conn.Do(ctx, func(ctx context.Context, q Querier) error {
		return q.QueryRow(ctx, `SELECT definition, updated_at FROM courses WHERE slug = $1`, slug).Scan(&raw, &updatedAt)
	})
	if IsNoRows(err) {
		return nil, shared.Detail(shared.ErrCourseNotFound, "%s", slug)
	}
	if err != nil {
		return nil, storeErr("course", "Get", err)
	}
	return decodeCourse(raw, updatedAt)
}

// List returns all courses sorted by slug.
func (r *CourseRepository) List(ctx context.Context) ([]*course.Course, error) {
	var out []*course.Course
	err := r.conn.Do(ctx, func(ctx context.Context, q Querier) error {
		out = out[:0]
		rows, err := q.Query(ctx, `SELECT definition, updated_at FROM courses ORDER BY slug`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var raw []byte
			var updatedAt time.Time
			if err := rows.Scan(&raw, &updatedAt); err != nil {
				return err
			}
			c, err := decodeCourse(raw, updatedAt)
			if err != nil {
				return err
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, storeErr("course", "List", err)
	}
	return out, nil
}

// Save validates and upserts a course definition.
func (r *CourseRepository) Save(ctx context.Context, c *course.Course) error {
	if err := c.Validate(); err != nil {
		return err
	}
	raw, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal course %s: %w", c.Slug, err)
	}

	err = r.conn.Do(ctx, func(ctx context.Context, q Querier) error {
		_, err := q.Exec(ctx, `
			INSERT INTO courses (slug, title, definition, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (slug) DO UPDATE SET
				title = EXCLUDED.title,
				definition = EXCLUDED.definition,
				updated_at = EXCLUDED.updated_at
		`, c.Slug, c.Title, string(raw))
		return err
	})
	return storeErr("course", "Save", err)
}

func decodeCourse(raw []byte, updatedAt time.Time) (*course.Course, error) {
	var c course.Course
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("failed to decode course definition: %w", err)
	}
	c.UpdatedAt = updatedAt
	return &c, nil
}

package postgres

// GetMigrations returns all embedded migrations in order.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_courses", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_progress", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_knowledge_checks", UpSQL: migration003Up, DownSQL: migration003Down},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: COURSE CATALOG
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Course definitions are stored whole, in the same YAML form the catalog loads.
CREATE TABLE IF NOT EXISTS courses (
    slug VARCHAR(100) PRIMARY KEY,
    title VARCHAR(255) NOT NULL,
    definition TEXT NOT NULL,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
`

const migration001Down = `
DROP TABLE IF EXISTS courses;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: LESSON AND COURSE PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS lesson_progress (
    user_id VARCHAR(255) NOT NULL,
    course_slug VARCHAR(100) NOT NULL,
    module_slug VARCHAR(100) NOT NULL,
    lesson_slug VARCHAR(100) NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'in_progress',
    time_spent_seconds INTEGER NOT NULL DEFAULT 0,
    active_time_seconds INTEGER NOT NULL DEFAULT 0,
    max_scroll_depth INTEGER NOT NULL DEFAULT 0,
    first_viewed_at TIMESTAMP WITH TIME ZONE NOT NULL,
    last_viewed_at TIMESTAMP WITH TIME ZONE NOT NULL,
    completed_at TIMESTAMP WITH TIME ZONE,

    PRIMARY KEY (user_id, course_slug, module_slug, lesson_slug),

    CONSTRAINT valid_lesson_status CHECK (status IN ('not_started', 'in_progress', 'completed')),
    CONSTRAINT valid_time CHECK (time_spent_seconds >= 0 AND active_time_seconds >= 0),
    CONSTRAINT active_within_total CHECK (active_time_seconds <= time_spent_seconds),
    CONSTRAINT valid_scroll CHECK (max_scroll_depth BETWEEN 0 AND 100),
    CONSTRAINT completed_has_timestamp CHECK (status <> 'completed' OR completed_at IS NOT NULL)
);

CREATE INDEX IF NOT EXISTS idx_lesson_progress_course ON lesson_progress(course_slug, user_id);
CREATE INDEX IF NOT EXISTS idx_lesson_progress_completed ON lesson_progress(course_slug, module_slug) WHERE status = 'completed';

CREATE TABLE IF NOT EXISTS course_progress (
    user_id VARCHAR(255) NOT NULL,
    course_slug VARCHAR(100) NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'not_started',
    current_module_slug VARCHAR(100) NOT NULL DEFAULT '',
    current_lesson_slug VARCHAR(100) NOT NULL DEFAULT '',
    started_at TIMESTAMP WITH TIME ZONE,
    completed_at TIMESTAMP WITH TIME ZONE,
    total_time_seconds INTEGER NOT NULL DEFAULT 0,
    completed_lessons INTEGER NOT NULL DEFAULT 0,
    total_lessons INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (user_id, course_slug),

    CONSTRAINT valid_course_status CHECK (status IN ('not_started', 'in_progress', 'completed'))
);

CREATE INDEX IF NOT EXISTS idx_course_progress_course ON course_progress(course_slug, status);

CREATE TABLE IF NOT EXISTS enrollments (
    user_id VARCHAR(255) NOT NULL,
    course_slug VARCHAR(100) NOT NULL,
    enrolled_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (user_id, course_slug)
);

CREATE INDEX IF NOT EXISTS idx_enrollments_course ON enrollments(course_slug);
`

const migration002Down = `
DROP TABLE IF EXISTS enrollments;
DROP TABLE IF EXISTS course_progress;
DROP TABLE IF EXISTS lesson_progress;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: KNOWLEDGE CHECKS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- One row per (user, course, module). finalized flips exactly once.
CREATE TABLE IF NOT EXISTS knowledge_check_sessions (
    user_id VARCHAR(255) NOT NULL,
    course_slug VARCHAR(100) NOT NULL,
    module_slug VARCHAR(100) NOT NULL,
    finalized BOOLEAN NOT NULL DEFAULT FALSE,
    total_questions INTEGER NOT NULL DEFAULT 0,
    correct_answers INTEGER NOT NULL DEFAULT 0,
    score_percent INTEGER NOT NULL DEFAULT 0,
    submitted_at TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (user_id, course_slug, module_slug),

    CONSTRAINT finalized_has_timestamp CHECK (NOT finalized OR submitted_at IS NOT NULL),
    CONSTRAINT valid_score CHECK (score_percent BETWEEN 0 AND 100)
);

CREATE TABLE IF NOT EXISTS knowledge_check_answers (
    user_id VARCHAR(255) NOT NULL,
    course_slug VARCHAR(100) NOT NULL,
    module_slug VARCHAR(100) NOT NULL,
    question_id VARCHAR(100) NOT NULL,
    selected JSONB NOT NULL,
    is_correct BOOLEAN NOT NULL,
    attempted_at TIMESTAMP WITH TIME ZONE NOT NULL,

    PRIMARY KEY (user_id, course_slug, module_slug, question_id),
    FOREIGN KEY (user_id, course_slug, module_slug)
        REFERENCES knowledge_check_sessions(user_id, course_slug, module_slug) ON DELETE CASCADE
);
`

const migration003Down = `
DROP TABLE IF EXISTS knowledge_check_answers;
DROP TABLE IF EXISTS knowledge_check_sessions;
`

package progress

import (
	"context"
	"time"

	"github.com/coursegate/progress-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Контракт хранилища прогресса. Реализации находятся в
// infrastructure/persistence (postgres, memory).
// ══════════════════════════════════════════════════════════════════════════════

// Filter ограничивает выборки аналитики курсом и/или списком учеников.
// Пустые поля означают "без ограничения".
type Filter struct {
	CourseSlug string
	UserIDs    []string
}

// MatchesUser сообщает, попадает ли ученик в фильтр.
func (f Filter) MatchesUser(userID string) bool {
	if len(f.UserIDs) == 0 {
		return true
	}
	for _, id := range f.UserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// MatchesCourse сообщает, попадает ли курс в фильтр.
func (f Filter) MatchesCourse(courseSlug string) bool {
	return f.CourseSlug == "" || f.CourseSlug == courseSlug
}

// CompletionCount - число завершённых уроков ученика в модуле.
type CompletionCount struct {
	UserID     string
	CourseSlug string
	ModuleSlug string
	Completed  int
}

// LessonRepository хранит прогресс уроков.
type LessonRepository interface {
	// ApplyHeartbeat атомарно добавляет нормализованный heartbeat:
	// создаёт запись (in_progress, first_viewed_at = now) или увеличивает счётчики.
	// Дельты коммутативны, поэтому порядок доставки не важен.
	ApplyHeartbeat(ctx context.Context, key LessonKey, hb Heartbeat, now time.Time) (*LessonProgress, error)

	// MarkCompleted идемпотентно переводит урок в completed, создавая запись при
	// необходимости. Второе значение - произошёл ли переход сейчас.
	MarkCompleted(ctx context.Context, key LessonKey, now time.Time) (*LessonProgress, bool, error)

	// Get возвращает запись урока.
	// Возвращает ErrLessonProgressNotFound, если записи нет.
	Get(ctx context.Context, key LessonKey) (*LessonProgress, error)

	// ListByCourse возвращает все записи ученика по курсу.
	ListByCourse(ctx context.Context, userID, courseSlug string) ([]*LessonProgress, error)

	// ListLearners возвращает учеников, у которых есть прогресс по курсу.
	ListLearners(ctx context.Context, courseSlug string) ([]string, error)

	// CompletionCounts возвращает число завершённых уроков по (ученик, курс, модуль).
	CompletionCounts(ctx context.Context, filter Filter) ([]CompletionCount, error)
}

// CourseRepository хранит производный прогресс курсов.
type CourseRepository interface {
	// Get возвращает прогресс курса.
	// Возвращает ErrCourseProgressNotFound, если записи нет.
	Get(ctx context.Context, userID, courseSlug string) (*CourseProgress, error)

	// Upsert сохраняет запись и возвращает предыдущий статус
	// (StatusNotStarted, если записи не было).
	Upsert(ctx context.Context, cp *CourseProgress) (shared.ProgressStatus, error)

	// List возвращает записи, попадающие в фильтр.
	List(ctx context.Context, filter Filter) ([]*CourseProgress, error)
}

// EnrollmentRepository хранит явные записи на курс.
type EnrollmentRepository interface {
	// Enroll идемпотентно записывает ученика на курс.
	// Возвращает true, если запись создана сейчас.
	Enroll(ctx context.Context, userID, courseSlug string, now time.Time) (bool, error)

	// CountEnrolled считает пары (ученик, курс), которые либо записаны явно,
	// либо имеют прогресс по урокам.
	CountEnrolled(ctx context.Context, filter Filter) (int, error)
}

// FinalizedChecks отдаёт модули с финализированной проверкой знаний.
// Реализуется хранилищем проверок знаний.
type FinalizedChecks interface {
	ListFinalizedModules(ctx context.Context, userID, courseSlug string) ([]string, error)
}

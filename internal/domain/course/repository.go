package course

import "context"

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Каталог курсов. Описание курса приходит извне (YAML, админка) и
// движком только читается.
// ══════════════════════════════════════════════════════════════════════════════

// Repository определяет доступ к описаниям курсов.
type Repository interface {
	// Get возвращает курс по slug.
	// Возвращает ErrCourseNotFound, если курса нет.
	Get(ctx context.Context, slug string) (*Course, error)

	// List возвращает все курсы, отсортированные по slug.
	List(ctx context.Context) ([]*Course, error)

	// Save создаёт или заменяет описание курса. Курс должен пройти Validate.
	Save(ctx context.Context, c *Course) error
}

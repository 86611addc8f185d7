package knowledgecheck

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Финализация - единственная операция с конкуренцией по одному ключу.
// Она выполняется одной атомарной условной записью, без блокировок в приложении.
// ══════════════════════════════════════════════════════════════════════════════

// Repository хранит сессии проверки знаний и их ответы.
type Repository interface {
	// SaveDraft сохраняет или заменяет черновой ответ.
	// Возвращает ErrSessionAlreadyCompleted, если сессия уже финализирована.
	SaveDraft(ctx context.Context, key SessionKey, answer Answer) error

	// GetSession возвращает сессию со всеми ответами или nil, если её нет.
	GetSession(ctx context.Context, key SessionKey) (*Session, error)

	// Finalize атомарно заменяет ответы сессии и помечает её финализированной,
	// только если она ещё не финализирована. won=false означает, что
	// другая отправка уже выиграла, и состояние не изменено.
	Finalize(ctx context.Context, key SessionKey, answers []Answer, score Score, now time.Time) (won bool, err error)

	// ListFinalizedModules возвращает модули курса с финализированной сессией.
	ListFinalizedModules(ctx context.Context, userID, courseSlug string) ([]string, error)

	// ListSessionStatuses возвращает для каждого модуля, где есть сессия
	// с ответами, флаг финализации.
	ListSessionStatuses(ctx context.Context, userID, courseSlug string) (map[string]bool, error)
}

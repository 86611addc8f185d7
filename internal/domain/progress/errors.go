package progress

import "github.com/coursegate/progress-engine/internal/domain/shared"

// Ошибки домена прогресса (псевдонимы shared для удобства вызывающих).
var (
	ErrLessonProgressNotFound = shared.ErrLessonProgressNotFound
	ErrCourseProgressNotFound = shared.ErrCourseProgressNotFound
	ErrNegativeDelta          = shared.ErrNegativeDelta
	ErrMinLessonTimeNotMet    = shared.ErrMinLessonTimeNotMet
)

// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// State errors
	ErrInvalidState     = errors.New("invalid state")
	ErrAlreadyProcessed = errors.New("already processed")

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Storage errors
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrServiceUnavailable     = errors.New("service unavailable")
	ErrTimeout                = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "progress", "knowledgecheck", "course"
	Op      string // Operation that failed, e.g., "ApplyHeartbeat", "Submit"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if t, ok := target.(*DomainError); ok && e.Domain == t.Domain && e.Op == t.Op && e.Message == t.Message {
		return true
	}
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Detail returns a copy of a sentinel domain error with a more specific message.
// The copy still matches the sentinel and its kind via errors.Is.
func Detail(base *DomainError, format string, args ...any) *DomainError {
	return &DomainError{
		Domain:  base.Domain,
		Op:      base.Op,
		Kind:    base.Kind,
		Message: base.Message,
		Err:     fmt.Errorf(format, args...),
	}
}

// StorageError wraps a Progress Store failure as a retryable error.
func StorageError(domain, op string, err error) *DomainError {
	return WrapError(domain, op, ErrServiceUnavailable, "progress store unavailable", err)
}

// Course definition errors
var (
	ErrCourseNotFound          = NewDomainError("course", "Find", ErrNotFound, "course not found")
	ErrModuleNotFound          = NewDomainError("course", "FindModule", ErrNotFound, "module not found")
	ErrLessonNotFound          = NewDomainError("course", "FindLesson", ErrNotFound, "lesson not found")
	ErrKnowledgeCheckNotFound  = NewDomainError("course", "FindKnowledgeCheck", ErrNotFound, "module has no knowledge check")
	ErrQuestionNotFound        = NewDomainError("course", "FindQuestion", ErrNotFound, "question not found")
	ErrInvalidCourseDefinition = NewDomainError("course", "Validate", ErrValidation, "invalid course definition")
)

// Progress domain errors
var (
	ErrLessonProgressNotFound = NewDomainError("progress", "Find", ErrNotFound, "lesson progress not found")
	ErrCourseProgressNotFound = NewDomainError("progress", "FindCourse", ErrNotFound, "course progress not found")
	ErrNegativeDelta          = NewDomainError("progress", "ApplyHeartbeat", ErrNegativeValue, "heartbeat deltas cannot be negative")
	ErrMinLessonTimeNotMet    = NewDomainError("progress", "CompleteLesson", ErrValidation, "minimum lesson time not reached")
	ErrInvalidUserID          = NewDomainError("progress", "Validate", ErrInvalidID, "invalid user id")
)

// Knowledge check domain errors
var (
	ErrAnswerCountMismatch         = NewDomainError("knowledgecheck", "Submit", ErrValidation, "answer count does not match question count")
	ErrDuplicateAnswer             = NewDomainError("knowledgecheck", "Submit", ErrValidation, "question answered more than once")
	ErrUnknownQuestionInSubmission = NewDomainError("knowledgecheck", "Submit", ErrInvalidInput, "submission references an unknown question")
	ErrMalformedAnswer             = NewDomainError("knowledgecheck", "Check", ErrInvalidFormat, "answer payload does not match question kind")
	ErrSessionAlreadyCompleted     = NewDomainError("knowledgecheck", "SaveDraft", ErrAlreadyProcessed, "knowledge check already completed")
)

// Gating errors
var (
	ErrLessonLocked         = NewDomainError("gating", "CheckAccess", ErrForbidden, "lesson is locked")
	ErrKnowledgeCheckLocked = NewDomainError("gating", "CheckAccess", ErrForbidden, "knowledge check is locked")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange) ||
		errors.Is(err, ErrInvalidFormat)
}

// IsConflict checks if the error reports an already-finished state transition.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyProcessed) || errors.Is(err, ErrAlreadyExists)
}

// IsForbidden checks if the error is an access (gating) refusal.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden) || errors.Is(err, ErrUnauthorized)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConcurrentModification)
}

package shared

import (
	"math"
	"regexp"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// PROGRESS STATUS
// ═══════════════════════════════════════════════════════════════════════════

// ProgressStatus is shared by lessons, courses and knowledge check sessions.
type ProgressStatus string

const (
	StatusNotStarted ProgressStatus = "not_started"
	StatusInProgress ProgressStatus = "in_progress"
	StatusCompleted  ProgressStatus = "completed"
)

// IsValid checks if the status is one of the known values.
func (s ProgressStatus) IsValid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// IsCompleted reports whether the status is terminal.
func (s ProgressStatus) IsCompleted() bool {
	return s == StatusCompleted
}

// String returns the string value.
func (s ProgressStatus) String() string {
	return string(s)
}

// ParseProgressStatus parses a stored status, treating empty as not started.
func ParseProgressStatus(v string) (ProgressStatus, error) {
	if v == "" {
		return StatusNotStarted, nil
	}
	s := ProgressStatus(v)
	if !s.IsValid() {
		return "", NewDomainError("shared", "ParseStatus", ErrInvalidFormat, "unknown progress status "+v)
	}
	return s, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// IDENTIFIERS
// ═══════════════════════════════════════════════════════════════════════════

// UserID is the opaque learner identifier supplied by the auth collaborator.
type UserID string

// MaxUserIDLength bounds identifiers coming from tokens or headers.
const MaxUserIDLength = 128

// IsValid checks if the user ID is usable as a storage key.
func (u UserID) IsValid() bool {
	s := string(u)
	return strings.TrimSpace(s) != "" && len(s) <= MaxUserIDLength
}

// String returns the string value.
func (u UserID) String() string {
	return string(u)
}

// NewUserID validates and creates a UserID.
func NewUserID(id string) (UserID, error) {
	u := UserID(strings.TrimSpace(id))
	if !u.IsValid() {
		return "", ErrInvalidUserID
	}
	return u, nil
}

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// IsValidSlug reports whether s is a usable course/module/lesson slug.
func IsValidSlug(s string) bool {
	return len(s) <= 128 && slugPattern.MatchString(s)
}

// ═══════════════════════════════════════════════════════════════════════════
// PERCENTAGES
// ═══════════════════════════════════════════════════════════════════════════

// Percent returns part/whole*100 rounded to the nearest integer, 0 when whole is 0.
func Percent(part, whole int) int {
	if whole <= 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(whole) * 100))
}

// ClampInt bounds v to [lo, hi].
func ClampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

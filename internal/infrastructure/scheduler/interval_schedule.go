package scheduler

import (
	"fmt"
	"time"
)

// IntervalSchedule runs a job every Interval. With Aligned set, runs land on
// multiples of Interval since the Unix epoch, so every worker replica wakes
// at the same instant and the job lease decides which one runs.
type IntervalSchedule struct {
	Interval time.Duration
	Aligned  bool
}

// NewIntervalSchedule creates an unaligned IntervalSchedule.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{Interval: interval}
}

// NewAlignedSchedule creates an IntervalSchedule aligned to wall-clock boundaries.
func NewAlignedSchedule(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{Interval: interval, Aligned: true}
}

// Next returns the next scheduled time strictly after t.
// A non-positive interval never fires.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	if s.Interval <= 0 {
		return time.Time{}
	}
	if !s.Aligned {
		return t.Add(s.Interval)
	}
	return t.Truncate(s.Interval).Add(s.Interval)
}

// String returns the string representation of the schedule.
func (s *IntervalSchedule) String() string {
	if s.Aligned {
		return fmt.Sprintf("@every %s (aligned)", s.Interval)
	}
	return fmt.Sprintf("@every %s", s.Interval)
}

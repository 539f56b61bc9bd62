package appointment

import (
	"fmt"
	"time"
)

// Slot is a contiguous half-open time interval [Start, End) on a single day
// for one expert.
type Slot struct {
	Date  time.Time
	Start time.Time
	End   time.Time
}

// NewSlot builds a slot from its boundaries. The date is derived from the
// start timestamp, truncated to midnight UTC.
func NewSlot(start, end time.Time) Slot {
	start = start.UTC()
	end = end.UTC()
	return Slot{
		Date:  DateOnly(start),
		Start: start,
		End:   end,
	}
}

// DateOnly truncates a timestamp to midnight UTC.
func DateOnly(t time.Time) time.Time {
	t = t.UTC()
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Duration returns the slot length.
func (s Slot) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// Minutes returns the slot length in whole minutes.
func (s Slot) Minutes() int {
	return int(s.Duration() / time.Minute)
}

// Overlaps reports whether two half-open intervals intersect:
// a.Start < b.End && b.Start < a.End. Back-to-back slots do not overlap.
func (s Slot) Overlaps(o Slot) bool {
	return s.Start.Before(o.End) && o.Start.Before(s.End)
}

// Policy holds the scheduling policy bounds the validator and the state
// machine enforce.
type Policy struct {
	MinDuration   time.Duration
	MaxDuration   time.Duration
	RescheduleCap int
	PendingExpiry time.Duration
}

// Validate checks that a candidate slot is structurally bookable: boundaries
// set and ordered, not in the past, and duration within policy bounds.
// Conflict checking against existing appointments is the store's job.
func (p Policy) Validate(s Slot, now time.Time) error {
	if s.Start.IsZero() || s.End.IsZero() {
		return fmt.Errorf("%w: start and end times are required", ErrInvalidSlot)
	}
	if !s.Start.Before(s.End) {
		return fmt.Errorf("%w: start time must precede end time", ErrInvalidSlot)
	}
	if s.Start.Before(now) {
		return fmt.Errorf("%w: slot is in the past", ErrInvalidSlot)
	}
	// A slot lives on a single calendar day; conflict lookups are keyed by
	// that day. The end may touch midnight exactly because the interval is
	// half-open.
	if !DateOnly(s.Start).Equal(DateOnly(s.End)) && !s.End.Equal(DateOnly(s.End)) {
		return fmt.Errorf("%w: slot must not cross midnight UTC", ErrInvalidSlot)
	}
	if d := s.Duration(); d < p.MinDuration || d > p.MaxDuration {
		return fmt.Errorf("%w: duration %s outside allowed range %s to %s",
			ErrInvalidSlot, d, p.MinDuration, p.MaxDuration)
	}
	return nil
}

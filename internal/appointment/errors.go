package appointment

import "errors"

// Scheduling failure taxonomy. All of these are recoverable, caller-facing
// conditions; persistence failures are returned as-is and treated as
// infrastructure errors.
var (
	// ErrInvalidSlot marks a malformed or past time range.
	ErrInvalidSlot = errors.New("invalid slot")

	// ErrSlotUnavailable marks a conflict with an existing blocking
	// appointment for the same expert.
	ErrSlotUnavailable = errors.New("slot unavailable")

	// ErrInvalidTransition marks an action that is not legal from the
	// appointment's current status.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrRescheduleLimit marks a re-proposal past the configured cap.
	ErrRescheduleLimit = errors.New("reschedule limit exceeded")

	// ErrNotFound marks a lookup of a nonexistent appointment.
	ErrNotFound = errors.New("appointment not found")

	// ErrUnauthorized marks an actor that is neither a party to the
	// appointment nor the system.
	ErrUnauthorized = errors.New("actor not authorized")
)

package appointment

import "fmt"

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusPending      Status = "pending"
	StatusApproved     Status = "approved"
	StatusRejected     Status = "rejected"
	StatusRescheduled  Status = "rescheduled"
	StatusConfirmed    Status = "confirmed"
	StatusInProgress   Status = "in_progress"
	StatusCompleted    Status = "completed"
	StatusCancelled    Status = "cancelled"
	StatusNoShowFarmer Status = "no_show_farmer"
	StatusNoShowExpert Status = "no_show_expert"
)

// blockingStatuses are the statuses that reserve the expert's time slot
// against new bookings.
var blockingStatuses = []Status{
	StatusPending,
	StatusApproved,
	StatusRescheduled,
	StatusConfirmed,
	StatusInProgress,
}

// BlockingStatuses returns the statuses that reserve an expert slot, as
// strings for use in store queries.
func BlockingStatuses() []string {
	out := make([]string, len(blockingStatuses))
	for i, s := range blockingStatuses {
		out[i] = string(s)
	}
	return out
}

// Blocking reports whether the status reserves the expert's slot.
func (s Status) Blocking() bool {
	for _, b := range blockingStatuses {
		if s == b {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is defined from the status.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusCompleted, StatusCancelled, StatusNoShowFarmer, StatusNoShowExpert:
		return true
	}
	return false
}

// ParseStatus validates a stored status string.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(raw); s {
	case StatusPending, StatusApproved, StatusRejected, StatusRescheduled,
		StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled,
		StatusNoShowFarmer, StatusNoShowExpert:
		return s, nil
	}
	return "", fmt.Errorf("unknown appointment status %q", raw)
}

// Mode is the consultation modality.
type Mode string

const (
	ModeAudio Mode = "audio"
	ModeVideo Mode = "video"
	ModeChat  Mode = "chat"
)

// ValidMode reports whether the modality is one of audio, video or chat.
func ValidMode(raw string) bool {
	switch Mode(raw) {
	case ModeAudio, ModeVideo, ModeChat:
		return true
	}
	return false
}

// ValidUrgency reports whether the urgency label is recognised. Urgency is
// informational only and never interpreted by the scheduling core.
func ValidUrgency(raw string) bool {
	switch raw {
	case "low", "medium", "high", "urgent":
		return true
	}
	return false
}

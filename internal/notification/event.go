package notification

import (
	"time"

	"agriconsult-backend/internal/model"
)

// EventKind names a logical appointment event emitted by the scheduling core.
type EventKind string

const (
	EventRequested   EventKind = "appointment.requested"
	EventApproved    EventKind = "appointment.approved"
	EventRejected    EventKind = "appointment.rejected"
	EventRescheduled EventKind = "appointment.rescheduled"
	EventConfirmed   EventKind = "appointment.confirmed"
	EventStarting    EventKind = "appointment.starting"
	EventCompleted   EventKind = "appointment.completed"
	EventCancelled   EventKind = "appointment.cancelled"
	EventNoShow      EventKind = "appointment.no_show"
)

// Event is the payload handed to the dispatcher. Delivery and user-facing
// formatting are the dispatcher's responsibility, not the core's.
type Event struct {
	Kind           EventKind  `json:"kind"`
	AppointmentID  int64      `json:"appointment_id"`
	Code           string     `json:"code"`
	FarmerID       string     `json:"farmer_id"`
	ExpertID       string     `json:"expert_id"`
	Status         string     `json:"status"`
	ScheduledStart time.Time  `json:"scheduled_start_time"`
	ScheduledEnd   time.Time  `json:"scheduled_end_time"`
	ProposedStart  *time.Time `json:"proposed_start_time,omitempty"`
	ProposedEnd    *time.Time `json:"proposed_end_time,omitempty"`
	OccurredAt     time.Time  `json:"occurred_at"`
}

// NewEvent builds an event from the appointment record after a transition.
func NewEvent(kind EventKind, rec *model.Appointment, occurredAt time.Time) Event {
	return Event{
		Kind:           kind,
		AppointmentID:  rec.ID,
		Code:           rec.Code,
		FarmerID:       rec.FarmerID,
		ExpertID:       rec.ExpertID,
		Status:         rec.Status,
		ScheduledStart: rec.ScheduledStart,
		ScheduledEnd:   rec.ScheduledEnd,
		ProposedStart:  rec.ProposedStart,
		ProposedEnd:    rec.ProposedEnd,
		OccurredAt:     occurredAt,
	}
}

// Dispatcher delivers appointment events to the parties involved.
type Dispatcher interface {
	Dispatch(event Event)
}

package appointment

import (
	"fmt"
	"time"

	"agriconsult-backend/internal/model"
)

// CallRoom is the live session resource allocated by the realtime provider.
type CallRoom struct {
	ID        string
	Channel   string
	Token     string
	ExpiresAt time.Time
}

// Phase is the status-specific view of an appointment. The persisted record
// is a flat row with many nullable columns; the phase layer narrows it to the
// fields that may legally be populated for the current status, so impossible
// combinations (a pending appointment with a room, a proposal outside
// rescheduled) are caught instead of silently carried around.
type Phase interface {
	Status() Status
}

// PendingPhase: awaiting the expert's first response.
type PendingPhase struct {
	RequestedAt time.Time
}

func (PendingPhase) Status() Status { return StatusPending }

// ApprovedPhase: expert accepted the requested slot.
type ApprovedPhase struct {
	RespondedAt time.Time
}

func (ApprovedPhase) Status() Status { return StatusApproved }

// RejectedPhase: expert declined the request outright.
type RejectedPhase struct {
	RespondedAt time.Time
}

func (RejectedPhase) Status() Status { return StatusRejected }

// RescheduledPhase: expert countered with a different slot; awaiting the
// farmer's decision.
type RescheduledPhase struct {
	Proposal Slot
	Reason   string
	Count    int
}

func (RescheduledPhase) Status() Status { return StatusRescheduled }

// ConfirmedPhase: farmer accepted a proposed slot; the schedule fields now
// hold the agreed window.
type ConfirmedPhase struct {
	RespondedAt time.Time
}

func (ConfirmedPhase) Status() Status { return StatusConfirmed }

// InProgressPhase: the session is live and a call room is allocated.
type InProgressPhase struct {
	Room      CallRoom
	StartedAt time.Time
}

func (InProgressPhase) Status() Status { return StatusInProgress }

// CompletedPhase: the session ran and ended.
type CompletedPhase struct {
	StartedAt time.Time
	EndedAt   time.Time
}

func (CompletedPhase) Status() Status { return StatusCompleted }

// CancelledPhase: terminated before a session ran.
type CancelledPhase struct {
	Reason string
	By     Role
}

func (CancelledPhase) Status() Status { return StatusCancelled }

// NoShowPhase: the window elapsed without a session; Absent names the party
// the absence is attributed to.
type NoShowPhase struct {
	Absent Role
}

func (p NoShowPhase) Status() Status {
	if p.Absent == RoleExpert {
		return StatusNoShowExpert
	}
	return StatusNoShowFarmer
}

// PhaseOf converts a persisted record into its status-specific view,
// validating that no field illegal for the status is populated.
func PhaseOf(rec *model.Appointment) (Phase, error) {
	status, err := ParseStatus(rec.Status)
	if err != nil {
		return nil, err
	}

	if status != StatusRescheduled && rec.ProposedStart != nil {
		return nil, fmt.Errorf("appointment %s: proposal present in status %s", rec.Code, status)
	}
	if status != StatusInProgress && rec.AgoraToken != "" {
		return nil, fmt.Errorf("appointment %s: live token present in status %s", rec.Code, status)
	}

	switch status {
	case StatusPending:
		return PendingPhase{RequestedAt: rec.RequestedAt}, nil

	case StatusApproved:
		if rec.RespondedAt == nil {
			return nil, fmt.Errorf("appointment %s: approved without responded_at", rec.Code)
		}
		return ApprovedPhase{RespondedAt: *rec.RespondedAt}, nil

	case StatusRejected:
		if rec.RespondedAt == nil {
			return nil, fmt.Errorf("appointment %s: rejected without responded_at", rec.Code)
		}
		return RejectedPhase{RespondedAt: *rec.RespondedAt}, nil

	case StatusRescheduled:
		if rec.ProposedStart == nil || rec.ProposedEnd == nil {
			return nil, fmt.Errorf("appointment %s: rescheduled without a proposed window", rec.Code)
		}
		return RescheduledPhase{
			Proposal: NewSlot(*rec.ProposedStart, *rec.ProposedEnd),
			Reason:   rec.RescheduleReason,
			Count:    rec.RescheduleCount,
		}, nil

	case StatusConfirmed:
		if rec.RespondedAt == nil {
			return nil, fmt.Errorf("appointment %s: confirmed without responded_at", rec.Code)
		}
		return ConfirmedPhase{RespondedAt: *rec.RespondedAt}, nil

	case StatusInProgress:
		if rec.RoomID == nil || rec.AgoraToken == "" || rec.TokenExpiresAt == nil || rec.StartedAt == nil {
			return nil, fmt.Errorf("appointment %s: in_progress without a complete call room", rec.Code)
		}
		return InProgressPhase{
			Room: CallRoom{
				ID:        *rec.RoomID,
				Channel:   rec.AgoraChannel,
				Token:     rec.AgoraToken,
				ExpiresAt: *rec.TokenExpiresAt,
			},
			StartedAt: *rec.StartedAt,
		}, nil

	case StatusCompleted:
		if rec.StartedAt == nil || rec.EndedAt == nil {
			return nil, fmt.Errorf("appointment %s: completed without session timestamps", rec.Code)
		}
		return CompletedPhase{StartedAt: *rec.StartedAt, EndedAt: *rec.EndedAt}, nil

	case StatusCancelled:
		return CancelledPhase{Reason: rec.CancellationReason, By: Role(rec.CancelledBy)}, nil

	case StatusNoShowFarmer:
		return NoShowPhase{Absent: RoleFarmer}, nil
	case StatusNoShowExpert:
		return NoShowPhase{Absent: RoleExpert}, nil
	}

	return nil, fmt.Errorf("appointment %s: unhandled status %s", rec.Code, status)
}

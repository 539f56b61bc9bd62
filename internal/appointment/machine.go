package appointment

import (
	"fmt"
	"time"

	"agriconsult-backend/internal/model"
)

// Machine owns the appointment status lifecycle. Every method validates the
// acting party and the current status before mutating the record, and leaves
// the record untouched on failure (the store persists only after a method
// returns, so a failed transition never produces a partial write).
//
//	pending      --expert approve-->            approved
//	pending      --expert reject-->             rejected
//	pending      --expert propose-->            rescheduled
//	pending/approved/confirmed --either cancel--> cancelled
//	approved/confirmed --system start-->        in_progress
//	rescheduled  --farmer confirm-->            confirmed
//	rescheduled  --farmer decline-->            cancelled
//	rescheduled  --expert propose (within cap)--> rescheduled
//	in_progress  --system complete-->           completed
//	approved/confirmed --sweeper, window gone--> no_show_farmer | no_show_expert
type Machine struct {
	policy Policy
	clock  Clock
}

// NewMachine creates a state machine with the given policy and clock.
func NewMachine(policy Policy, clock Clock) *Machine {
	if clock == nil {
		clock = SystemClock()
	}
	return &Machine{policy: policy, clock: clock}
}

// Policy returns the machine's scheduling policy.
func (m *Machine) Policy() Policy { return m.policy }

// Now returns the machine's current time.
func (m *Machine) Now() time.Time { return m.clock.Now() }

// BookingRequest carries the farmer's input for a new appointment.
type BookingRequest struct {
	FarmerID    string
	ExpertID    string
	Slot        Slot
	Mode        Mode
	Topic       string
	Description string
	CropType    string
	Urgency     string
}

// NewRequest validates a booking request and builds the initial pending
// record. The code and id are assigned by the store on insert.
func (m *Machine) NewRequest(req BookingRequest) (*model.Appointment, error) {
	now := m.clock.Now()
	if err := m.policy.Validate(req.Slot, now); err != nil {
		return nil, err
	}
	if !ValidMode(string(req.Mode)) {
		return nil, fmt.Errorf("%w: unknown consultation mode %q", ErrInvalidSlot, req.Mode)
	}
	urgency := req.Urgency
	if urgency == "" {
		urgency = "medium"
	}
	if !ValidUrgency(urgency) {
		return nil, fmt.Errorf("%w: unknown urgency %q", ErrInvalidSlot, urgency)
	}

	return &model.Appointment{
		FarmerID:        req.FarmerID,
		ExpertID:        req.ExpertID,
		ScheduledDate:   req.Slot.Date,
		ScheduledStart:  req.Slot.Start,
		ScheduledEnd:    req.Slot.End,
		DurationMinutes: req.Slot.Minutes(),
		Mode:            string(req.Mode),
		Status:          string(StatusPending),
		Topic:           req.Topic,
		Description:     req.Description,
		CropType:        req.CropType,
		Urgency:         urgency,
		RequestedAt:     now,
	}, nil
}

// Party resolves the actor's role on this appointment. The system actor is
// always authorized; anyone else must be the farmer or the expert.
func (m *Machine) Party(rec *model.Appointment, actor Actor) (Role, error) {
	switch actor.Role {
	case RoleSystem:
		return RoleSystem, nil
	case RoleFarmer:
		if actor.ID == rec.FarmerID {
			return RoleFarmer, nil
		}
	case RoleExpert:
		if actor.ID == rec.ExpertID {
			return RoleExpert, nil
		}
	}
	return "", fmt.Errorf("%w: %s %q is not a party to appointment %s",
		ErrUnauthorized, actor.Role, actor.ID, rec.Code)
}

func (m *Machine) require(rec *model.Appointment, action string, allowed ...Status) error {
	current := Status(rec.Status)
	for _, s := range allowed {
		if current == s {
			return nil
		}
	}
	return fmt.Errorf("%w: cannot %s appointment %s in status %s",
		ErrInvalidTransition, action, rec.Code, current)
}

// markResponded records the expert's first response time.
func (m *Machine) markResponded(rec *model.Appointment) {
	if rec.RespondedAt == nil {
		now := m.clock.Now()
		rec.RespondedAt = &now
	}
}

// Approve moves a pending appointment to approved. Expert only.
func (m *Machine) Approve(rec *model.Appointment, actor Actor) error {
	role, err := m.Party(rec, actor)
	if err != nil {
		return err
	}
	if role != RoleExpert {
		return fmt.Errorf("%w: only the expert may approve", ErrUnauthorized)
	}
	if err := m.require(rec, "approve", StatusPending); err != nil {
		return err
	}
	m.markResponded(rec)
	rec.Status = string(StatusApproved)
	return nil
}

// Reject moves a pending appointment to the terminal rejected status.
// Expert only.
func (m *Machine) Reject(rec *model.Appointment, actor Actor) error {
	role, err := m.Party(rec, actor)
	if err != nil {
		return err
	}
	if role != RoleExpert {
		return fmt.Errorf("%w: only the expert may reject", ErrUnauthorized)
	}
	if err := m.require(rec, "reject", StatusPending); err != nil {
		return err
	}
	m.markResponded(rec)
	rec.Status = string(StatusRejected)
	return nil
}

// Propose counters with a different slot, moving the appointment to
// rescheduled and incrementing the counter. Re-proposing past the cap fails
// with ErrRescheduleLimit and force-cancels the appointment; the mutated
// record must still be persisted in that case.
func (m *Machine) Propose(rec *model.Appointment, actor Actor, proposal Slot, reason string) error {
	role, err := m.Party(rec, actor)
	if err != nil {
		return err
	}
	if role != RoleExpert {
		return fmt.Errorf("%w: only the expert may propose a new time", ErrUnauthorized)
	}
	if err := m.require(rec, "propose a new time for", StatusPending, StatusRescheduled); err != nil {
		return err
	}

	if rec.RescheduleCount >= m.policy.RescheduleCap {
		m.forceCancel(rec, RoleSystem, "reschedule limit exceeded")
		return fmt.Errorf("%w: cap of %d reached for appointment %s",
			ErrRescheduleLimit, m.policy.RescheduleCap, rec.Code)
	}

	if err := m.policy.Validate(proposal, m.clock.Now()); err != nil {
		return err
	}

	m.markResponded(rec)
	rec.Status = string(StatusRescheduled)
	rec.ProposedDate = &proposal.Date
	rec.ProposedStart = &proposal.Start
	rec.ProposedEnd = &proposal.End
	rec.RescheduleReason = reason
	rec.RescheduleCount++
	return nil
}

// ConfirmProposal accepts the expert's proposed slot, making it the
// authoritative schedule. Farmer only.
func (m *Machine) ConfirmProposal(rec *model.Appointment, actor Actor) error {
	role, err := m.Party(rec, actor)
	if err != nil {
		return err
	}
	if role != RoleFarmer {
		return fmt.Errorf("%w: only the farmer may confirm a proposed time", ErrUnauthorized)
	}
	if err := m.require(rec, "confirm the proposal for", StatusRescheduled); err != nil {
		return err
	}
	if rec.ProposedStart == nil || rec.ProposedEnd == nil {
		return fmt.Errorf("%w: appointment %s has no proposed window", ErrInvalidTransition, rec.Code)
	}

	slot := NewSlot(*rec.ProposedStart, *rec.ProposedEnd)
	rec.ScheduledDate = slot.Date
	rec.ScheduledStart = slot.Start
	rec.ScheduledEnd = slot.End
	rec.DurationMinutes = slot.Minutes()
	m.clearProposal(rec)
	rec.Status = string(StatusConfirmed)
	return nil
}

// DeclineProposal rejects the expert's proposed slot, cancelling the
// appointment. Farmer only.
func (m *Machine) DeclineProposal(rec *model.Appointment, actor Actor) error {
	role, err := m.Party(rec, actor)
	if err != nil {
		return err
	}
	if role != RoleFarmer {
		return fmt.Errorf("%w: only the farmer may decline a proposed time", ErrUnauthorized)
	}
	if err := m.require(rec, "decline the proposal for", StatusRescheduled); err != nil {
		return err
	}
	m.forceCancel(rec, RoleFarmer, "farmer declined the proposed time")
	return nil
}

// Cancel terminates an appointment before its session runs. Either party or
// the system may cancel from pending, approved or confirmed.
func (m *Machine) Cancel(rec *model.Appointment, actor Actor, reason string) error {
	role, err := m.Party(rec, actor)
	if err != nil {
		return err
	}
	if err := m.require(rec, "cancel", StatusPending, StatusApproved, StatusConfirmed); err != nil {
		return err
	}
	if reason == "" {
		reason = "cancelled by " + string(role)
	}
	m.forceCancel(rec, role, reason)
	return nil
}

func (m *Machine) forceCancel(rec *model.Appointment, by Role, reason string) {
	m.clearProposal(rec)
	rec.Status = string(StatusCancelled)
	rec.CancellationReason = reason
	rec.CancelledBy = string(by)
}

func (m *Machine) clearProposal(rec *model.Appointment) {
	rec.ProposedDate = nil
	rec.ProposedStart = nil
	rec.ProposedEnd = nil
	rec.RescheduleReason = ""
}

// RecordJoin notes a party's presence signal. Legal while the session is
// upcoming or live, and idempotent per party.
func (m *Machine) RecordJoin(rec *model.Appointment, actor Actor) error {
	role, err := m.Party(rec, actor)
	if err != nil {
		return err
	}
	if role == RoleSystem {
		return fmt.Errorf("%w: join signals come from participants", ErrUnauthorized)
	}
	if err := m.require(rec, "join", StatusApproved, StatusConfirmed, StatusInProgress); err != nil {
		return err
	}
	now := m.clock.Now()
	switch role {
	case RoleFarmer:
		if rec.FarmerJoinedAt == nil {
			rec.FarmerJoinedAt = &now
		}
	case RoleExpert:
		if rec.ExpertJoinedAt == nil {
			rec.ExpertJoinedAt = &now
		}
	}
	return nil
}

// ReadyToStart reports whether the session may go live now: both parties
// present and the current time inside the scheduled window.
func (m *Machine) ReadyToStart(rec *model.Appointment) bool {
	if Status(rec.Status) != StatusApproved && Status(rec.Status) != StatusConfirmed {
		return false
	}
	if rec.FarmerJoinedAt == nil || rec.ExpertJoinedAt == nil {
		return false
	}
	now := m.clock.Now()
	return !now.Before(rec.ScheduledStart) && now.Before(rec.ScheduledEnd)
}

// Start moves an approved or confirmed appointment into in_progress and
// attaches the freshly provisioned call room. System only, at or after the
// scheduled start.
func (m *Machine) Start(rec *model.Appointment, room CallRoom) error {
	if err := m.require(rec, "start", StatusApproved, StatusConfirmed); err != nil {
		return err
	}
	now := m.clock.Now()
	if now.Before(rec.ScheduledStart) {
		return fmt.Errorf("%w: appointment %s starts at %s",
			ErrInvalidTransition, rec.Code, rec.ScheduledStart.Format(time.RFC3339))
	}
	if !now.Before(rec.ScheduledEnd) {
		return fmt.Errorf("%w: the scheduled window for %s has already elapsed",
			ErrInvalidTransition, rec.Code)
	}
	rec.Status = string(StatusInProgress)
	rec.StartedAt = &now
	rec.RoomID = &room.ID
	rec.AgoraChannel = room.Channel
	rec.AgoraToken = room.Token
	rec.TokenExpiresAt = &room.ExpiresAt
	return nil
}

// Complete ends a live session. The access token is invalidated and is never
// reissued for this appointment.
func (m *Machine) Complete(rec *model.Appointment) error {
	if err := m.require(rec, "complete", StatusInProgress); err != nil {
		return err
	}
	now := m.clock.Now()
	rec.Status = string(StatusCompleted)
	rec.EndedAt = &now
	rec.AgoraToken = ""
	return nil
}

// MarkNoShow demotes an approved or confirmed appointment whose window
// elapsed without a session. Absence is attributed to the expert only when
// the farmer joined and the expert did not; in every other case, including
// neither party joining, it falls to the farmer as the requesting party.
func (m *Machine) MarkNoShow(rec *model.Appointment) error {
	if err := m.require(rec, "mark no-show for", StatusApproved, StatusConfirmed); err != nil {
		return err
	}
	if m.clock.Now().Before(rec.ScheduledEnd) {
		return fmt.Errorf("%w: the scheduled window for %s has not elapsed",
			ErrInvalidTransition, rec.Code)
	}
	if rec.FarmerJoinedAt != nil && rec.ExpertJoinedAt == nil {
		rec.Status = string(StatusNoShowExpert)
	} else {
		rec.Status = string(StatusNoShowFarmer)
	}
	return nil
}

// ExpirePending cancels a pending appointment the expert never responded to
// within the policy threshold.
func (m *Machine) ExpirePending(rec *model.Appointment) error {
	if err := m.require(rec, "expire", StatusPending); err != nil {
		return err
	}
	if m.clock.Now().Before(rec.RequestedAt.Add(m.policy.PendingExpiry)) {
		return fmt.Errorf("%w: appointment %s is still within the response window",
			ErrInvalidTransition, rec.Code)
	}
	m.forceCancel(rec, RoleSystem, "expert did not respond")
	return nil
}

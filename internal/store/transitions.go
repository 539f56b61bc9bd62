package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"agriconsult-backend/internal/appointment"
	"agriconsult-backend/internal/model"
)

// Approve records the expert's acceptance of a pending request.
func (s *gormStore) Approve(ctx context.Context, id int64, actor appointment.Actor) (*model.Appointment, error) {
	return s.withAppointment(ctx, id, func(_ *gorm.DB, rec *model.Appointment) error {
		return s.machine.Approve(rec, actor)
	})
}

// Reject records the expert's refusal of a pending request.
func (s *gormStore) Reject(ctx context.Context, id int64, actor appointment.Actor) (*model.Appointment, error) {
	return s.withAppointment(ctx, id, func(_ *gorm.DB, rec *model.Appointment) error {
		return s.machine.Reject(rec, actor)
	})
}

// Propose stores the expert's counter-offer. The conflict check runs against
// the newly proposed window, excluding the appointment's own reservation.
// When the reschedule cap is hit the forced cancellation is persisted and
// ErrRescheduleLimit is still returned to the caller.
func (s *gormStore) Propose(ctx context.Context, id int64, actor appointment.Actor, slot appointment.Slot, reason string) (*model.Appointment, error) {
	var rec model.Appointment
	var capErr error

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := locked(tx).First(&rec, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: id %d", appointment.ErrNotFound, id)
			}
			return fmt.Errorf("failed to load appointment %d: %w", id, err)
		}

		if err := s.machine.Propose(&rec, actor, slot, reason); err != nil {
			if errors.Is(err, appointment.ErrRescheduleLimit) {
				capErr = err
				return persist(tx, &rec)
			}
			return err
		}

		conflict, err := hasBlockingConflict(tx, rec.ExpertID, slot, rec.ID)
		if err != nil {
			return err
		}
		if conflict {
			return fmt.Errorf("%w: the proposed window overlaps another booking",
				appointment.ErrSlotUnavailable)
		}
		return persist(tx, &rec)
	})
	if err != nil {
		return nil, err
	}
	if capErr != nil {
		return &rec, capErr
	}
	return &rec, nil
}

// ConfirmProposal applies the farmer's acceptance of the proposed slot.
func (s *gormStore) ConfirmProposal(ctx context.Context, id int64, actor appointment.Actor) (*model.Appointment, error) {
	return s.withAppointment(ctx, id, func(_ *gorm.DB, rec *model.Appointment) error {
		return s.machine.ConfirmProposal(rec, actor)
	})
}

// DeclineProposal applies the farmer's refusal of the proposed slot.
func (s *gormStore) DeclineProposal(ctx context.Context, id int64, actor appointment.Actor) (*model.Appointment, error) {
	return s.withAppointment(ctx, id, func(_ *gorm.DB, rec *model.Appointment) error {
		return s.machine.DeclineProposal(rec, actor)
	})
}

// Cancel terminates an appointment on behalf of either party or the system.
func (s *gormStore) Cancel(ctx context.Context, id int64, actor appointment.Actor, reason string) (*model.Appointment, error) {
	return s.withAppointment(ctx, id, func(_ *gorm.DB, rec *model.Appointment) error {
		return s.machine.Cancel(rec, actor, reason)
	})
}

// Join records a party's presence signal. If both parties are present inside
// the scheduled window the session starts and the call room is provisioned in
// the same transaction; started reports whether that happened. Joining an
// already-live session is a no-op that returns the existing room.
func (s *gormStore) Join(ctx context.Context, id int64, actor appointment.Actor) (*model.Appointment, bool, error) {
	var started bool
	rec, err := s.withAppointment(ctx, id, func(_ *gorm.DB, rec *model.Appointment) error {
		if err := s.machine.RecordJoin(rec, actor); err != nil {
			return err
		}
		if s.machine.ReadyToStart(rec) {
			if err := s.provision(rec); err != nil {
				return err
			}
			started = true
		}
		return nil
	})
	return rec, started, err
}

// StartSession is the time-triggered start path used by the sweeper: if both
// parties have joined and the window is open, the session goes live. Already
// live or no longer startable appointments are left untouched.
func (s *gormStore) StartSession(ctx context.Context, id int64) (*model.Appointment, bool, error) {
	var started bool
	rec, err := s.withAppointment(ctx, id, func(_ *gorm.DB, rec *model.Appointment) error {
		if appointment.Status(rec.Status) == appointment.StatusInProgress {
			return nil // idempotent: the room already exists
		}
		if !s.machine.ReadyToStart(rec) {
			return nil
		}
		if err := s.provision(rec); err != nil {
			return err
		}
		started = true
		return nil
	})
	return rec, started, err
}

// provision allocates the call room and applies the start transition. The
// token is valid until the scheduled end plus the configured grace period.
func (s *gormStore) provision(rec *model.Appointment) error {
	room, err := s.rooms.CreateRoom(rec.Code, rec.ScheduledEnd.Add(s.tokenGrace))
	if err != nil {
		return fmt.Errorf("failed to provision call room for %s: %w", rec.Code, err)
	}
	return s.machine.Start(rec, room)
}

// Complete ends a live session, invalidating its access token. Either party
// may signal the end; the sweeper completes sessions whose duration elapsed.
func (s *gormStore) Complete(ctx context.Context, id int64, actor appointment.Actor) (*model.Appointment, error) {
	return s.withAppointment(ctx, id, func(_ *gorm.DB, rec *model.Appointment) error {
		if _, err := s.machine.Party(rec, actor); err != nil {
			return err
		}
		return s.machine.Complete(rec)
	})
}

// MarkNoShow demotes an elapsed appointment to the applicable no-show status.
func (s *gormStore) MarkNoShow(ctx context.Context, id int64) (*model.Appointment, error) {
	return s.withAppointment(ctx, id, func(_ *gorm.DB, rec *model.Appointment) error {
		return s.machine.MarkNoShow(rec)
	})
}

// ExpirePending cancels a request the expert never answered.
func (s *gormStore) ExpirePending(ctx context.Context, id int64) (*model.Appointment, error) {
	return s.withAppointment(ctx, id, func(_ *gorm.DB, rec *model.Appointment) error {
		return s.machine.ExpirePending(rec)
	})
}

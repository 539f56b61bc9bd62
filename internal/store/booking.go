package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"agriconsult-backend/internal/appointment"
	"agriconsult-backend/internal/model"
)

// Book validates the requested slot, checks the expert's calendar for a
// conflict and inserts the pending record, all inside one transaction so two
// concurrent bookings for an overlapping slot cannot both succeed. The
// human-readable code is assigned from the inserted id before commit.
func (s *gormStore) Book(ctx context.Context, req appointment.BookingRequest) (*model.Appointment, error) {
	rec, err := s.machine.NewRequest(req)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conflict, err := hasBlockingConflict(tx, req.ExpertID, req.Slot, 0)
		if err != nil {
			return err
		}
		if conflict {
			return fmt.Errorf("%w: expert %s already has a booking overlapping %s-%s",
				appointment.ErrSlotUnavailable, req.ExpertID,
				req.Slot.Start.Format("15:04"), req.Slot.End.Format("15:04"))
		}

		if err := tx.Create(rec).Error; err != nil {
			if isExclusionViolation(err) {
				return fmt.Errorf("%w: expert %s already has a booking overlapping %s-%s",
					appointment.ErrSlotUnavailable, req.ExpertID,
					req.Slot.Start.Format("15:04"), req.Slot.End.Format("15:04"))
			}
			return fmt.Errorf("failed to create appointment: %w", err)
		}

		rec.Code = appointment.FormatCode(rec.RequestedAt.Year(), rec.ID)
		if err := tx.Model(rec).Update("code", rec.Code).Error; err != nil {
			return fmt.Errorf("failed to assign appointment code: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// isExclusionViolation reports whether the insert tripped the database
// exclusion constraint guarding the expert's calendar. Two concurrent
// bookings with no existing rows to lock can both pass the application-level
// check; the loser surfaces here and must still see a slot conflict, not an
// infrastructure failure.
func isExclusionViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

// hasBlockingConflict reports whether the expert already holds a blocking
// reservation intersecting the candidate slot. A rescheduled appointment
// reserves its proposed window rather than its original one; excludeID keeps
// an appointment's own row out of its re-proposal check. The matching rows
// are read under a row lock so a concurrent transition on them serialises
// with this booking.
func hasBlockingConflict(tx *gorm.DB, expertID string, slot appointment.Slot, excludeID int64) (bool, error) {
	scheduledStatuses := make([]string, 0, 4)
	for _, st := range appointment.BlockingStatuses() {
		if st != string(appointment.StatusRescheduled) {
			scheduledStatuses = append(scheduledStatuses, st)
		}
	}

	q := locked(tx).Model(&model.Appointment{}).
		Where("expert_id = ?", expertID)
	if excludeID > 0 {
		q = q.Where("id <> ?", excludeID)
	}
	q = q.Where(
		tx.Where("status IN ? AND scheduled_date = ?", scheduledStatuses, slot.Date).
			Or("status = ? AND proposed_date = ?", string(appointment.StatusRescheduled), slot.Date),
	)

	var candidates []model.Appointment
	if err := q.Find(&candidates).Error; err != nil {
		return false, fmt.Errorf("conflict check failed: %w", err)
	}

	for _, c := range candidates {
		reserved := appointment.NewSlot(c.ScheduledStart, c.ScheduledEnd)
		if c.Status == string(appointment.StatusRescheduled) && c.ProposedStart != nil && c.ProposedEnd != nil {
			reserved = appointment.NewSlot(*c.ProposedStart, *c.ProposedEnd)
		}
		if slot.Overlaps(reserved) {
			return true, nil
		}
	}
	return false, nil
}

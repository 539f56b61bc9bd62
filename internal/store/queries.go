package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"agriconsult-backend/internal/appointment"
	"agriconsult-backend/internal/model"
)

// Get fetches one appointment by id.
func (s *gormStore) Get(ctx context.Context, id int64) (*model.Appointment, error) {
	var rec model.Appointment
	if err := s.db.WithContext(ctx).First(&rec, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: id %d", appointment.ErrNotFound, id)
		}
		return nil, err
	}
	return &rec, nil
}

// GetByCode fetches one appointment by its human-readable code.
func (s *gormStore) GetByCode(ctx context.Context, code string) (*model.Appointment, error) {
	var rec model.Appointment
	if err := s.db.WithContext(ctx).First(&rec, "code = ?", code).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: code %s", appointment.ErrNotFound, code)
		}
		return nil, err
	}
	return &rec, nil
}

// ListForUser returns the appointments the actor is a party to, newest
// schedule first, optionally filtered by status.
func (s *gormStore) ListForUser(ctx context.Context, actor appointment.Actor, status string) ([]model.Appointment, error) {
	q := s.db.WithContext(ctx).Model(&model.Appointment{})
	switch actor.Role {
	case appointment.RoleFarmer:
		q = q.Where("farmer_id = ?", actor.ID)
	case appointment.RoleExpert:
		q = q.Where("expert_id = ?", actor.ID)
	default:
		return nil, fmt.Errorf("%w: listing requires a farmer or expert identity", appointment.ErrUnauthorized)
	}
	if status != "" {
		if _, err := appointment.ParseStatus(status); err != nil {
			return nil, fmt.Errorf("%w: %v", appointment.ErrInvalidTransition, err)
		}
		q = q.Where("status = ?", status)
	}

	var recs []model.Appointment
	if err := q.Order("scheduled_start_time DESC").Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// DueNoShowIDs lists approved or confirmed appointments whose scheduled
// window has fully elapsed without a session starting.
func (s *gormStore) DueNoShowIDs(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	return s.pluckIDs(ctx, limit, "status IN ? AND scheduled_end_time <= ?",
		[]string{string(appointment.StatusApproved), string(appointment.StatusConfirmed)}, now)
}

// StalePendingIDs lists pending appointments requested before the cutoff.
func (s *gormStore) StalePendingIDs(ctx context.Context, cutoff time.Time, limit int) ([]int64, error) {
	return s.pluckIDs(ctx, limit, "status = ? AND requested_at <= ?",
		string(appointment.StatusPending), cutoff)
}

// OverdueSessionIDs lists live sessions whose scheduled window has elapsed.
func (s *gormStore) OverdueSessionIDs(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	return s.pluckIDs(ctx, limit, "status = ? AND scheduled_end_time <= ?",
		string(appointment.StatusInProgress), now)
}

// ReadyToStartIDs lists appointments whose window is open and where both
// parties have signalled presence.
func (s *gormStore) ReadyToStartIDs(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	return s.pluckIDs(ctx, limit,
		"status IN ? AND farmer_joined_at IS NOT NULL AND expert_joined_at IS NOT NULL AND scheduled_start_time <= ? AND scheduled_end_time > ?",
		[]string{string(appointment.StatusApproved), string(appointment.StatusConfirmed)}, now, now)
}

func (s *gormStore) pluckIDs(ctx context.Context, limit int, cond string, args ...any) ([]int64, error) {
	var ids []int64
	q := s.db.WithContext(ctx).Model(&model.Appointment{}).Where(cond, args...).Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

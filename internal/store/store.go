package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"agriconsult-backend/internal/appointment"
	"agriconsult-backend/internal/model"
	"agriconsult-backend/internal/rtc"
)

// Store defines the interface for all appointment persistence and the
// transactional transition operations built on it. Every mutating method runs
// as a single atomic unit: the row is locked, the state machine validates,
// and the write happens only if validation passed.
type Store interface {
	DB() *gorm.DB

	Book(ctx context.Context, req appointment.BookingRequest) (*model.Appointment, error)
	Get(ctx context.Context, id int64) (*model.Appointment, error)
	GetByCode(ctx context.Context, code string) (*model.Appointment, error)
	ListForUser(ctx context.Context, actor appointment.Actor, status string) ([]model.Appointment, error)

	Approve(ctx context.Context, id int64, actor appointment.Actor) (*model.Appointment, error)
	Reject(ctx context.Context, id int64, actor appointment.Actor) (*model.Appointment, error)
	Propose(ctx context.Context, id int64, actor appointment.Actor, slot appointment.Slot, reason string) (*model.Appointment, error)
	ConfirmProposal(ctx context.Context, id int64, actor appointment.Actor) (*model.Appointment, error)
	DeclineProposal(ctx context.Context, id int64, actor appointment.Actor) (*model.Appointment, error)
	Cancel(ctx context.Context, id int64, actor appointment.Actor, reason string) (*model.Appointment, error)
	Join(ctx context.Context, id int64, actor appointment.Actor) (*model.Appointment, bool, error)
	StartSession(ctx context.Context, id int64) (*model.Appointment, bool, error)
	Complete(ctx context.Context, id int64, actor appointment.Actor) (*model.Appointment, error)
	MarkNoShow(ctx context.Context, id int64) (*model.Appointment, error)
	ExpirePending(ctx context.Context, id int64) (*model.Appointment, error)

	DueNoShowIDs(ctx context.Context, now time.Time, limit int) ([]int64, error)
	StalePendingIDs(ctx context.Context, cutoff time.Time, limit int) ([]int64, error)
	OverdueSessionIDs(ctx context.Context, now time.Time, limit int) ([]int64, error)
	ReadyToStartIDs(ctx context.Context, now time.Time, limit int) ([]int64, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db         *gorm.DB
	machine    *appointment.Machine
	rooms      rtc.Provider
	tokenGrace time.Duration
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB, machine *appointment.Machine, rooms rtc.Provider, tokenGrace time.Duration) Store {
	return &gormStore{db: db, machine: machine, rooms: rooms, tokenGrace: tokenGrace}
}

// DB exposes the underlying handle for components that manage their own
// tables, such as the subscription handlers and the notification workers.
func (s *gormStore) DB() *gorm.DB { return s.db }

// locked adds a row-level lock on dialects that support it. SQLite, used in
// tests, serialises writers on its own.
func locked(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// persist writes the record back after checking it still has a coherent
// status-specific shape. A field populated outside its legal status (a
// proposal on a pending row, a live token outside in_progress) aborts the
// transaction instead of being written.
func persist(tx *gorm.DB, rec *model.Appointment) error {
	if _, err := appointment.PhaseOf(rec); err != nil {
		return fmt.Errorf("refusing to persist inconsistent appointment: %w", err)
	}
	return tx.Save(rec).Error
}

// withAppointment runs fn against the locked row inside one transaction and
// persists the record afterwards. fn must leave the record unchanged when it
// fails.
func (s *gormStore) withAppointment(ctx context.Context, id int64, fn func(tx *gorm.DB, rec *model.Appointment) error) (*model.Appointment, error) {
	var rec model.Appointment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := locked(tx).First(&rec, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: id %d", appointment.ErrNotFound, id)
			}
			return fmt.Errorf("failed to load appointment %d: %w", id, err)
		}
		if err := fn(tx, &rec); err != nil {
			return err
		}
		return persist(tx, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Package sweeper runs the periodic scan that enforces time-based
// transitions no user action triggers: session auto-start and auto-complete,
// no-show demotion, and expiry of unanswered requests.
package sweeper

import (
	"context"
	"errors"
	"log"
	"time"

	"agriconsult-backend/config"
	"agriconsult-backend/internal/appointment"
	"agriconsult-backend/internal/notification"
	"agriconsult-backend/internal/store"
)

// Service orchestrates the periodic sweep.
type Service struct {
	cfg        *config.Config
	store      store.Store
	dispatcher notification.Dispatcher
	clock      appointment.Clock
}

// NewService creates a sweeper over the given store and dispatcher. A nil
// clock means wall-clock time.
func NewService(cfg *config.Config, st store.Store, dispatcher notification.Dispatcher, clock appointment.Clock) *Service {
	if clock == nil {
		clock = appointment.SystemClock()
	}
	return &Service{cfg: cfg, store: st, dispatcher: dispatcher, clock: clock}
}

// Run starts the sweep loop. It returns when the context is cancelled.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Sweeper.Enabled {
		log.Println("Sweeper is disabled. Not starting.")
		return
	}
	log.Println("Starting sweeper service...")

	s.SweepOnce(ctx)

	timer := time.NewTimer(s.cfg.Sweeper.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Sweeper service shutting down.")
			return
		case <-timer.C:
			s.SweepOnce(ctx)
			timer.Reset(s.cfg.Sweeper.Interval)
		}
	}
}

// SweepOnce performs a single sweep cycle. Each appointment's decision is
// self-contained and processed in its own transaction, so one failure never
// aborts the rest of the sweep, and re-running over already-terminal rows is
// a no-op.
func (s *Service) SweepOnce(ctx context.Context) {
	now := s.clock.Now()
	batch := s.cfg.Sweeper.BatchSize

	s.startDueSessions(ctx, now, batch)
	s.completeOverdueSessions(ctx, now, batch)
	s.markNoShows(ctx, now, batch)
	s.expireStalePending(ctx, now, batch)
}

// startDueSessions goes live on appointments whose window is open and where
// both parties have already joined.
func (s *Service) startDueSessions(ctx context.Context, now time.Time, batch int) {
	ids, err := s.store.ReadyToStartIDs(ctx, now, batch)
	if err != nil {
		log.Printf("sweep: listing startable sessions failed: %v", err)
		return
	}
	for _, id := range ids {
		rec, started, err := s.store.StartSession(ctx, id)
		if s.skip("start session", id, err) {
			continue
		}
		if started {
			s.dispatcher.Dispatch(notification.NewEvent(notification.EventStarting, rec, now))
		}
	}
}

// completeOverdueSessions ends live sessions whose scheduled duration has
// elapsed.
func (s *Service) completeOverdueSessions(ctx context.Context, now time.Time, batch int) {
	ids, err := s.store.OverdueSessionIDs(ctx, now, batch)
	if err != nil {
		log.Printf("sweep: listing overdue sessions failed: %v", err)
		return
	}
	for _, id := range ids {
		rec, err := s.store.Complete(ctx, id, appointment.System)
		if s.skip("complete session", id, err) {
			continue
		}
		s.dispatcher.Dispatch(notification.NewEvent(notification.EventCompleted, rec, now))
	}
}

// markNoShows demotes approved or confirmed appointments whose window
// elapsed without a session.
func (s *Service) markNoShows(ctx context.Context, now time.Time, batch int) {
	ids, err := s.store.DueNoShowIDs(ctx, now, batch)
	if err != nil {
		log.Printf("sweep: listing no-shows failed: %v", err)
		return
	}
	for _, id := range ids {
		rec, err := s.store.MarkNoShow(ctx, id)
		if s.skip("mark no-show", id, err) {
			continue
		}
		s.dispatcher.Dispatch(notification.NewEvent(notification.EventNoShow, rec, now))
	}
}

// expireStalePending cancels requests the expert never answered within the
// policy threshold.
func (s *Service) expireStalePending(ctx context.Context, now time.Time, batch int) {
	cutoff := now.Add(-time.Duration(s.cfg.Policy.PendingExpiryHours) * time.Hour)
	ids, err := s.store.StalePendingIDs(ctx, cutoff, batch)
	if err != nil {
		log.Printf("sweep: listing stale pending failed: %v", err)
		return
	}
	for _, id := range ids {
		rec, err := s.store.ExpirePending(ctx, id)
		if s.skip("expire pending", id, err) {
			continue
		}
		s.dispatcher.Dispatch(notification.NewEvent(notification.EventCancelled, rec, now))
	}
}

// skip logs a per-row failure and tells the caller to move on. A concurrent
// user transition winning the race surfaces as an invalid transition here and
// is not worth a log line.
func (s *Service) skip(action string, id int64, err error) bool {
	if err == nil {
		return false
	}
	if !errors.Is(err, appointment.ErrInvalidTransition) {
		log.Printf("sweep: %s for appointment %d failed: %v", action, id, err)
	}
	return true
}

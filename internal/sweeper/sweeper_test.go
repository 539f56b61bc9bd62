package sweeper

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"agriconsult-backend/config"
	"agriconsult-backend/internal/appointment"
	dbpkg "agriconsult-backend/internal/db"
	"agriconsult-backend/internal/notification"
	"agriconsult-backend/internal/rtc"
	"agriconsult-backend/internal/store"
)

var (
	testFarmer = appointment.Actor{ID: "farmer-1", Role: appointment.RoleFarmer}
	testExpert = appointment.Actor{ID: "expert-1", Role: appointment.RoleExpert}
)

// captureDispatcher records every event SweepOnce emits. The sweep is
// synchronous, so no locking is needed.
type captureDispatcher struct {
	events []notification.Event
}

func (d *captureDispatcher) Dispatch(event notification.Event) {
	d.events = append(d.events, event)
}

func (d *captureDispatcher) kinds() []notification.EventKind {
	out := make([]notification.EventKind, len(d.events))
	for i, e := range d.events {
		out[i] = e.Kind
	}
	return out
}

type fixture struct {
	svc        *Service
	store      store.Store
	clock      *appointment.FixedClock
	dispatcher *captureDispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, dbpkg.Migrate(db))

	clock := &appointment.FixedClock{Instant: time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)}
	machine := appointment.NewMachine(appointment.Policy{
		MinDuration:   15 * time.Minute,
		MaxDuration:   2 * time.Hour,
		RescheduleCap: 3,
		PendingExpiry: 48 * time.Hour,
	}, clock)

	st := store.NewGormStore(db, machine, rtc.NewTokenProvider("test-app", "test-secret", clock), 10*time.Minute)

	cfg := &config.Config{}
	cfg.Sweeper.Enabled = true
	cfg.Sweeper.Interval = time.Minute
	cfg.Sweeper.BatchSize = 50
	cfg.Policy.PendingExpiryHours = 48

	dispatcher := &captureDispatcher{}
	return &fixture{
		svc:        NewService(cfg, st, dispatcher, clock),
		store:      st,
		clock:      clock,
		dispatcher: dispatcher,
	}
}

func (f *fixture) book(t *testing.T, offset, length time.Duration) int64 {
	t.Helper()
	start := f.clock.Instant.Add(offset)
	rec, err := f.store.Book(context.Background(), appointment.BookingRequest{
		FarmerID: testFarmer.ID,
		ExpertID: testExpert.ID,
		Slot:     appointment.NewSlot(start, start.Add(length)),
		Mode:     appointment.ModeVideo,
		Topic:    "soil acidity",
	})
	require.NoError(t, err)
	return rec.ID
}

func TestSweepMarksNoShows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.book(t, 2*time.Hour, time.Hour) // 10:00-11:00
	_, err := f.store.Approve(ctx, id, testExpert)
	require.NoError(t, err)

	// Still inside the window: nothing to do.
	f.clock.Advance(2*time.Hour + 30*time.Minute)
	f.svc.SweepOnce(ctx)
	assert.Empty(t, f.dispatcher.events)

	f.clock.Advance(time.Hour) // 11:30, window elapsed
	f.svc.SweepOnce(ctx)

	rec, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, string(appointment.StatusNoShowFarmer), rec.Status,
		"neither party joined, absence falls to the farmer")
	assert.Equal(t, []notification.EventKind{notification.EventNoShow}, f.dispatcher.kinds())

	// A second sweep over the now-terminal row emits nothing.
	f.svc.SweepOnce(ctx)
	assert.Len(t, f.dispatcher.events, 1)
}

func TestSweepAttributesExpertAbsence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.book(t, 2*time.Hour, time.Hour)
	_, err := f.store.Approve(ctx, id, testExpert)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	_, _, err = f.store.Join(ctx, id, testFarmer)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	f.svc.SweepOnce(ctx)

	rec, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, string(appointment.StatusNoShowExpert), rec.Status,
		"the farmer waited, the expert never came")
}

func TestSweepStartsAndCompletesSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.book(t, 2*time.Hour, time.Hour) // 10:00-11:00
	_, err := f.store.Approve(ctx, id, testExpert)
	require.NoError(t, err)

	// Both parties signal presence before the window opens; nothing starts.
	_, _, err = f.store.Join(ctx, id, testFarmer)
	require.NoError(t, err)
	_, _, err = f.store.Join(ctx, id, testExpert)
	require.NoError(t, err)

	f.svc.SweepOnce(ctx)
	assert.Empty(t, f.dispatcher.events)

	// Window opens: the sweeper takes the session live.
	f.clock.Advance(2 * time.Hour)
	f.svc.SweepOnce(ctx)

	rec, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, string(appointment.StatusInProgress), rec.Status)
	assert.NotNil(t, rec.RoomID)
	assert.Equal(t, []notification.EventKind{notification.EventStarting}, f.dispatcher.kinds())

	// Window elapses: the sweeper ends the session.
	f.clock.Advance(90 * time.Minute)
	f.svc.SweepOnce(ctx)

	rec, err = f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, string(appointment.StatusCompleted), rec.Status)
	assert.Empty(t, rec.AgoraToken)
	assert.Equal(t,
		[]notification.EventKind{notification.EventStarting, notification.EventCompleted},
		f.dispatcher.kinds())
}

func TestSweepExpiresStalePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stale := f.book(t, 72*time.Hour, time.Hour)
	fresh := f.book(t, 96*time.Hour, time.Hour)

	f.clock.Advance(47 * time.Hour)
	f.svc.SweepOnce(ctx)
	assert.Empty(t, f.dispatcher.events, "both requests still within the response window")

	f.clock.Advance(2 * time.Hour) // 49h after both requests
	f.svc.SweepOnce(ctx)

	rec, err := f.store.Get(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, string(appointment.StatusCancelled), rec.Status)
	assert.Equal(t, "expert did not respond", rec.CancellationReason)

	rec, err = f.store.Get(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, string(appointment.StatusCancelled), rec.Status,
		"both were requested at the same instant, so both expire")
	assert.Equal(t,
		[]notification.EventKind{notification.EventCancelled, notification.EventCancelled},
		f.dispatcher.kinds())
}

func TestSweepDisabledRunReturns(t *testing.T) {
	f := newFixture(t)
	f.svc.cfg.Sweeper.Enabled = false

	done := make(chan struct{})
	go func() {
		f.svc.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return for a disabled sweeper")
	}
}

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"agriconsult-backend/config"
	"agriconsult-backend/internal/appointment"
	dbpkg "agriconsult-backend/internal/db"
	"agriconsult-backend/internal/model"
	"agriconsult-backend/internal/mw"
	"agriconsult-backend/internal/notification"
	"agriconsult-backend/internal/rtc"
	"agriconsult-backend/internal/store"
)

const testSecret = "test-jwt-secret"

type apiFixture struct {
	router *gin.Engine
	clock  *appointment.FixedClock
	store  store.Store
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

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
	cfg.Auth.JWTSecret = testSecret
	cfg.Server.RateLimitPerSec = 1000
	cfg.Server.RateLimitBurst = 1000
	cfg.Server.CacheTTLSeconds = 1

	router := NewRouter(cfg, st, notification.LogDispatcher{}, nil)
	return &apiFixture{router: router, clock: clock, store: st}
}

func token(t *testing.T, userID string, role appointment.Role) string {
	t.Helper()
	tok, err := mw.IssueToken(testSecret, userID, role)
	require.NoError(t, err)
	return tok
}

func (f *apiFixture) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeAppointment(t *testing.T, w *httptest.ResponseRecorder) model.Appointment {
	t.Helper()
	var rec model.Appointment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	return rec
}

func bookingBody(clock *appointment.FixedClock, offset, length time.Duration) gin.H {
	start := clock.Instant.Add(offset)
	return gin.H{
		"expert_id":            "expert-1",
		"scheduled_start_time": start.Format(time.RFC3339),
		"scheduled_end_time":   start.Add(length).Format(time.RFC3339),
		"mode":                 "video",
		"topic":                "yellowing tomato leaves",
		"urgency":              "high",
	}
}

func TestAuthRequired(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/api/appointments", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodGet, "/api/appointments", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodGet, "/api/vapid_public_key", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "public endpoint reachable, keys unset")
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "push_unconfigured", resp["kind"])
}

func TestBookingLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	farmer := token(t, "farmer-1", appointment.RoleFarmer)
	expert := token(t, "expert-1", appointment.RoleExpert)

	w := f.do(t, http.MethodPost, "/api/appointments", farmer, bookingBody(f.clock, 2*time.Hour, time.Hour))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	rec := decodeAppointment(t, w)
	assert.Equal(t, "pending", rec.Status)
	assert.True(t, strings.HasPrefix(rec.Code, "APT-2025-"), rec.Code)

	w = f.do(t, http.MethodPost, fmt.Sprintf("/api/appointments/%d/approve", rec.ID), expert, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "approved", decodeAppointment(t, w).Status)

	f.clock.Advance(2 * time.Hour) // the scheduled window opens

	w = f.do(t, http.MethodPost, fmt.Sprintf("/api/appointments/%d/join", rec.ID), farmer, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var joinResp struct {
		Appointment model.Appointment `json:"appointment"`
		Started     bool              `json:"started"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &joinResp))
	assert.False(t, joinResp.Started)

	w = f.do(t, http.MethodPost, fmt.Sprintf("/api/appointments/%d/join", rec.ID), expert, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &joinResp))
	assert.True(t, joinResp.Started)
	assert.Equal(t, "in_progress", joinResp.Appointment.Status)
	assert.NotEmpty(t, joinResp.Appointment.AgoraToken)
	require.NotNil(t, joinResp.Appointment.RoomID)

	w = f.do(t, http.MethodPost, fmt.Sprintf("/api/appointments/%d/complete", rec.ID), farmer, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	completed := decodeAppointment(t, w)
	assert.Equal(t, "completed", completed.Status)
	assert.Empty(t, completed.AgoraToken, "token never leaves the server after completion")
}

func TestBookingConflict(t *testing.T) {
	f := newAPIFixture(t)
	farmer := token(t, "farmer-1", appointment.RoleFarmer)
	other := token(t, "farmer-2", appointment.RoleFarmer)

	w := f.do(t, http.MethodPost, "/api/appointments", farmer, bookingBody(f.clock, 2*time.Hour, time.Hour))
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do(t, http.MethodPost, "/api/appointments", other, bookingBody(f.clock, 2*time.Hour+30*time.Minute, time.Hour))
	assert.Equal(t, http.StatusConflict, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "slot_unavailable", resp["kind"])
}

func TestRoleEnforcement(t *testing.T) {
	f := newAPIFixture(t)
	farmer := token(t, "farmer-1", appointment.RoleFarmer)
	expert := token(t, "expert-1", appointment.RoleExpert)
	stranger := token(t, "farmer-99", appointment.RoleFarmer)

	w := f.do(t, http.MethodPost, "/api/appointments", expert, bookingBody(f.clock, 2*time.Hour, time.Hour))
	assert.Equal(t, http.StatusForbidden, w.Code, "experts do not book consultations")

	w = f.do(t, http.MethodPost, "/api/appointments", farmer, bookingBody(f.clock, 2*time.Hour, time.Hour))
	require.Equal(t, http.StatusCreated, w.Code)
	rec := decodeAppointment(t, w)

	w = f.do(t, http.MethodPost, fmt.Sprintf("/api/appointments/%d/approve", rec.ID), farmer, nil)
	assert.Equal(t, http.StatusForbidden, w.Code, "only the expert approves")

	w = f.do(t, http.MethodGet, fmt.Sprintf("/api/appointments/%d", rec.ID), stranger, nil)
	assert.Equal(t, http.StatusForbidden, w.Code, "outsiders cannot read the appointment")
}

func TestRescheduleOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	farmer := token(t, "farmer-1", appointment.RoleFarmer)
	expert := token(t, "expert-1", appointment.RoleExpert)

	w := f.do(t, http.MethodPost, "/api/appointments", farmer, bookingBody(f.clock, 2*time.Hour, time.Hour))
	require.Equal(t, http.StatusCreated, w.Code)
	rec := decodeAppointment(t, w)

	newStart := f.clock.Instant.Add(26 * time.Hour)
	w = f.do(t, http.MethodPost, fmt.Sprintf("/api/appointments/%d/reschedule", rec.ID), expert, gin.H{
		"proposed_start_time": newStart.Format(time.RFC3339),
		"proposed_end_time":   newStart.Add(time.Hour).Format(time.RFC3339),
		"reason":              "field visit that morning",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "rescheduled", decodeAppointment(t, w).Status)

	// The record is reachable by code as well as by id.
	w = f.do(t, http.MethodGet, "/api/appointments/"+rec.Code, farmer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decodeAppointment(t, w).RescheduleCount)

	w = f.do(t, http.MethodPost, fmt.Sprintf("/api/appointments/%d/confirm", rec.ID), farmer, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	confirmed := decodeAppointment(t, w)
	assert.Equal(t, "confirmed", confirmed.Status)
	assert.True(t, confirmed.ScheduledStart.Equal(newStart))
}

func TestCancelWithReason(t *testing.T) {
	f := newAPIFixture(t)
	farmer := token(t, "farmer-1", appointment.RoleFarmer)

	w := f.do(t, http.MethodPost, "/api/appointments", farmer, bookingBody(f.clock, 2*time.Hour, time.Hour))
	require.Equal(t, http.StatusCreated, w.Code)
	rec := decodeAppointment(t, w)

	w = f.do(t, http.MethodPost, fmt.Sprintf("/api/appointments/%d/cancel", rec.ID), farmer, gin.H{
		"reason": "rain stopped the harvest",
	})
	require.Equal(t, http.StatusOK, w.Code)
	cancelled := decodeAppointment(t, w)
	assert.Equal(t, "cancelled", cancelled.Status)
	assert.Equal(t, "rain stopped the harvest", cancelled.CancellationReason)

	w = f.do(t, http.MethodPost, fmt.Sprintf("/api/appointments/%d/cancel", rec.ID), farmer, nil)
	assert.Equal(t, http.StatusConflict, w.Code, "cancelled is terminal")
}

func TestValidationErrors(t *testing.T) {
	f := newAPIFixture(t)
	farmer := token(t, "farmer-1", appointment.RoleFarmer)

	t.Run("slot in the past", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/appointments", farmer, bookingBody(f.clock, -2*time.Hour, time.Hour))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		var resp map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "invalid_slot", resp["kind"])
	})

	t.Run("missing fields", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/appointments", farmer, gin.H{"expert_id": "expert-1"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown appointment", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/api/appointments/424242", farmer, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("unknown status filter", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/api/appointments?status=limbo", farmer, nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestSubscriptionsScopedToCaller(t *testing.T) {
	f := newAPIFixture(t)
	farmer := token(t, "farmer-1", appointment.RoleFarmer)
	expert := token(t, "expert-1", appointment.RoleExpert)

	body := gin.H{"endpoint": "https://push.example/abc", "p256dh": "key", "auth": "auth"}
	w := f.do(t, http.MethodPut, "/api/subscriptions", farmer, body)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = f.do(t, http.MethodGet, "/api/subscriptions?endpoint=https://push.example/abc", farmer, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/subscriptions?endpoint=https://push.example/abc", expert, nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "another user's endpoint is invisible")

	w = f.do(t, http.MethodDelete, "/api/subscriptions", farmer, gin.H{"endpoint": "https://push.example/abc"})
	assert.Equal(t, http.StatusNoContent, w.Code)
}

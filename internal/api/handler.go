package api

import (
	"agriconsult-backend/internal/appointment"
	"agriconsult-backend/internal/model"
	"agriconsult-backend/internal/notification"
	"agriconsult-backend/internal/store"

	"github.com/SherClockHolmes/webpush-go"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store      store.Store
	dispatcher notification.Dispatcher
	webpush    *webpush.Options
	clock      appointment.Clock
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, dispatcher notification.Dispatcher, webpushOptions *webpush.Options, clock appointment.Clock) *Handler {
	if clock == nil {
		clock = appointment.SystemClock()
	}
	return &Handler{
		store:      s,
		dispatcher: dispatcher,
		webpush:    webpushOptions,
		clock:      clock,
	}
}

// notify emits a logical appointment event to the dispatcher.
func (h *Handler) notify(kind notification.EventKind, rec *model.Appointment) {
	h.dispatcher.Dispatch(notification.NewEvent(kind, rec, h.clock.Now()))
}

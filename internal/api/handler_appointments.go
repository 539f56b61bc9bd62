package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"agriconsult-backend/internal/appointment"
	"agriconsult-backend/internal/model"
	"agriconsult-backend/internal/mw"
	"agriconsult-backend/internal/notification"
)

type createAppointmentRequest struct {
	ExpertID    string    `json:"expert_id" binding:"required"`
	Start       time.Time `json:"scheduled_start_time" binding:"required"`
	End         time.Time `json:"scheduled_end_time" binding:"required"`
	Mode        string    `json:"mode" binding:"required"`
	Topic       string    `json:"topic" binding:"required"`
	Description string    `json:"description"`
	CropType    string    `json:"crop_type"`
	Urgency     string    `json:"urgency"`
}

// CreateAppointment handles a farmer's booking request.
func (h *Handler) CreateAppointment(c *gin.Context) {
	actor, ok := mw.ActorFromContext(c)
	if !ok || actor.Role != appointment.RoleFarmer {
		c.JSON(http.StatusForbidden, gin.H{"kind": "unauthorized", "error": "only farmers may request a consultation"})
		return
	}

	var req createAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.store.Book(c.Request.Context(), appointment.BookingRequest{
		FarmerID:    actor.ID,
		ExpertID:    req.ExpertID,
		Slot:        appointment.NewSlot(req.Start, req.End),
		Mode:        appointment.Mode(req.Mode),
		Topic:       req.Topic,
		Description: req.Description,
		CropType:    req.CropType,
		Urgency:     req.Urgency,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	h.notify(notification.EventRequested, rec)
	c.JSON(http.StatusCreated, rec)
}

// ListAppointments returns the caller's appointments, optionally filtered by
// status.
func (h *Handler) ListAppointments(c *gin.Context) {
	actor, ok := mw.ActorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	recs, err := h.store.ListForUser(c.Request.Context(), actor, c.Query("status"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, recs)
}

// GetAppointment fetches a single appointment by numeric id or by code.
// Only the parties involved may read it.
func (h *Handler) GetAppointment(c *gin.Context) {
	actor, ok := mw.ActorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	rec, err := h.lookup(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if rec.FarmerID != actor.ID && rec.ExpertID != actor.ID {
		c.JSON(http.StatusForbidden, gin.H{"kind": "unauthorized", "error": "you are not a party to this appointment"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Approve handles the expert's acceptance of a pending request.
func (h *Handler) Approve(c *gin.Context) {
	h.transition(c, notification.EventApproved, h.store.Approve)
}

// Reject handles the expert's refusal of a pending request.
func (h *Handler) Reject(c *gin.Context) {
	h.transition(c, notification.EventRejected, h.store.Reject)
}

type proposeRequest struct {
	Start  time.Time `json:"proposed_start_time" binding:"required"`
	End    time.Time `json:"proposed_end_time" binding:"required"`
	Reason string    `json:"reason"`
}

// Propose handles the expert's counter-offer of a different slot.
func (h *Handler) Propose(c *gin.Context) {
	actor, ok := mw.ActorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	var req proposeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.resolveID(c)
	if err != nil {
		respondError(c, err)
		return
	}

	rec, err := h.store.Propose(c.Request.Context(), id, actor, appointment.NewSlot(req.Start, req.End), req.Reason)
	if err != nil {
		// Hitting the cap cancels the appointment; tell the parties.
		if errors.Is(err, appointment.ErrRescheduleLimit) && rec != nil {
			h.notify(notification.EventCancelled, rec)
		}
		respondError(c, err)
		return
	}

	h.notify(notification.EventRescheduled, rec)
	c.JSON(http.StatusOK, rec)
}

// ConfirmProposal handles the farmer's acceptance of the proposed slot.
func (h *Handler) ConfirmProposal(c *gin.Context) {
	h.transition(c, notification.EventConfirmed, h.store.ConfirmProposal)
}

// DeclineProposal handles the farmer's refusal of the proposed slot.
func (h *Handler) DeclineProposal(c *gin.Context) {
	h.transition(c, notification.EventCancelled, h.store.DeclineProposal)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// Cancel terminates an appointment on behalf of either party.
func (h *Handler) Cancel(c *gin.Context) {
	actor, ok := mw.ActorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	// The body is optional; a missing one means no reason given.
	var req cancelRequest
	_ = c.ShouldBindJSON(&req)

	id, err := h.resolveID(c)
	if err != nil {
		respondError(c, err)
		return
	}

	rec, err := h.store.Cancel(c.Request.Context(), id, actor, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	h.notify(notification.EventCancelled, rec)
	c.JSON(http.StatusOK, rec)
}

// Join records the caller's presence signal. When both parties are present
// inside the scheduled window the session goes live and the response carries
// the freshly provisioned call room.
func (h *Handler) Join(c *gin.Context) {
	actor, ok := mw.ActorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	id, err := h.resolveID(c)
	if err != nil {
		respondError(c, err)
		return
	}

	rec, started, err := h.store.Join(c.Request.Context(), id, actor)
	if err != nil {
		respondError(c, err)
		return
	}

	if started {
		h.notify(notification.EventStarting, rec)
	}
	c.JSON(http.StatusOK, gin.H{"appointment": rec, "started": started})
}

// Complete ends a live session on behalf of the leaving party.
func (h *Handler) Complete(c *gin.Context) {
	h.transition(c, notification.EventCompleted, h.store.Complete)
}

// transition runs a body-less transition endpoint: resolve, apply, notify.
func (h *Handler) transition(
	c *gin.Context,
	kind notification.EventKind,
	apply func(ctx context.Context, id int64, actor appointment.Actor) (*model.Appointment, error),
) {
	actor, ok := mw.ActorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	id, err := h.resolveID(c)
	if err != nil {
		respondError(c, err)
		return
	}

	rec, err := apply(c.Request.Context(), id, actor)
	if err != nil {
		respondError(c, err)
		return
	}

	h.notify(kind, rec)
	c.JSON(http.StatusOK, rec)
}

// resolveID turns the :id path parameter, numeric or APT code, into the
// database id.
func (h *Handler) resolveID(c *gin.Context) (int64, error) {
	raw := c.Param("id")
	if strings.HasPrefix(raw, "APT-") {
		rec, err := h.store.GetByCode(c.Request.Context(), raw)
		if err != nil {
			return 0, err
		}
		return rec.ID, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid appointment id %q", appointment.ErrNotFound, raw)
	}
	return id, nil
}

// lookup fetches the record behind the :id parameter.
func (h *Handler) lookup(c *gin.Context) (*model.Appointment, error) {
	raw := c.Param("id")
	if strings.HasPrefix(raw, "APT-") {
		return h.store.GetByCode(c.Request.Context(), raw)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid appointment id %q", appointment.ErrNotFound, raw)
	}
	return h.store.Get(c.Request.Context(), id)
}

package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"agriconsult-backend/internal/appointment"
)

// respondError maps the scheduling error taxonomy to HTTP responses. The
// "kind" field lets the front end distinguish "someone already booked this
// slot" from "this appointment can no longer be changed".
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, appointment.ErrInvalidSlot):
		c.JSON(http.StatusBadRequest, gin.H{"kind": "invalid_slot", "error": err.Error()})
	case errors.Is(err, appointment.ErrSlotUnavailable):
		c.JSON(http.StatusConflict, gin.H{"kind": "slot_unavailable", "error": err.Error()})
	case errors.Is(err, appointment.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"kind": "invalid_transition", "error": err.Error()})
	case errors.Is(err, appointment.ErrRescheduleLimit):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"kind": "reschedule_limit_exceeded", "error": err.Error()})
	case errors.Is(err, appointment.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"kind": "not_found", "error": err.Error()})
	case errors.Is(err, appointment.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"kind": "unauthorized", "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"kind": "internal", "error": err.Error()})
	}
}

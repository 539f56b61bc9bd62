package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"agriconsult-backend/config"
	"agriconsult-backend/internal/mw"
	"agriconsult-backend/internal/notification"
	"agriconsult-backend/internal/store"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg *config.Config, s store.Store, dispatcher notification.Dispatcher, webpushOptions *webpush.Options) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(s, dispatcher, webpushOptions, nil)

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.Server.RateLimitPerSec), cfg.Server.RateLimitBurst)

	// Listings go stale quickly during negotiation, so the cache is short-lived.
	cacheTTL := time.Duration(cfg.Server.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(cacheTTL, 5*time.Minute)
	caching := mw.Cache(cacheStore, cacheTTL)

	api := r.Group("/api")
	api.Use(rateLimiter)

	// GET /api/vapid_public_key is the only endpoint served without identity.
	api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)

	authed := api.Group("")
	authed.Use(mw.Auth(cfg.Auth.JWTSecret))
	{
		authed.POST("/appointments", handler.CreateAppointment)
		authed.GET("/appointments", caching, handler.ListAppointments)
		authed.GET("/appointments/:id", handler.GetAppointment)

		authed.POST("/appointments/:id/approve", handler.Approve)
		authed.POST("/appointments/:id/reject", handler.Reject)
		authed.POST("/appointments/:id/reschedule", handler.Propose)
		authed.POST("/appointments/:id/confirm", handler.ConfirmProposal)
		authed.POST("/appointments/:id/decline", handler.DeclineProposal)
		authed.POST("/appointments/:id/cancel", handler.Cancel)
		authed.POST("/appointments/:id/join", handler.Join)
		authed.POST("/appointments/:id/complete", handler.Complete)

		authed.GET("/subscriptions", handler.GetSubscription)
		authed.PUT("/subscriptions", handler.PutSubscription)
		authed.DELETE("/subscriptions", handler.DeleteSubscription)
	}

	return r
}

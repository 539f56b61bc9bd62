// Package rtc provisions call rooms with the external realtime communication
// provider. The media transport itself is out of scope; the core only needs a
// room identifier, a channel name and a time-boxed access token.
package rtc

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"agriconsult-backend/internal/appointment"
)

// Provider allocates call rooms for appointments.
type Provider interface {
	// CreateRoom provisions a room for the given channel name, with an
	// access token valid until expiresAt.
	CreateRoom(channel string, expiresAt time.Time) (appointment.CallRoom, error)
}

// roomClaims is the token payload the client presents when joining a channel.
type roomClaims struct {
	Channel string `json:"channel"`
	RoomID  string `json:"room_id"`
	jwt.RegisteredClaims
}

// TokenProvider mints HS256 room tokens against the provider's app secret,
// the way the provider's own token builders do.
type TokenProvider struct {
	appID  string
	secret []byte
	clock  appointment.Clock
}

// NewTokenProvider creates a TokenProvider for the given app credentials.
// A nil clock means wall-clock time.
func NewTokenProvider(appID, appSecret string, clock appointment.Clock) *TokenProvider {
	if clock == nil {
		clock = appointment.SystemClock()
	}
	return &TokenProvider{appID: appID, secret: []byte(appSecret), clock: clock}
}

// CreateRoom allocates a fresh room id and signs an access token bound to the
// channel. Each appointment gets exactly one room; reissuing for a finished
// session is the caller's responsibility to prevent.
func (p *TokenProvider) CreateRoom(channel string, expiresAt time.Time) (appointment.CallRoom, error) {
	roomID := uuid.NewString()

	claims := &roomClaims{
		Channel: channel,
		RoomID:  roomID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.appID,
			Subject:   channel,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(p.clock.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(p.secret)
	if err != nil {
		return appointment.CallRoom{}, fmt.Errorf("failed to sign room token: %w", err)
	}

	return appointment.CallRoom{
		ID:        roomID,
		Channel:   channel,
		Token:     signed,
		ExpiresAt: expiresAt,
	}, nil
}

// ParseToken validates a room token and returns its channel and room id.
// Used by tests and by the join endpoint to sanity-check issued credentials.
func (p *TokenProvider) ParseToken(raw string) (channel, roomID string, err error) {
	token, err := jwt.ParseWithClaims(raw, &roomClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.secret, nil
	}, jwt.WithTimeFunc(p.clock.Now))
	if err != nil {
		return "", "", err
	}
	claims, ok := token.Claims.(*roomClaims)
	if !ok || !token.Valid {
		return "", "", fmt.Errorf("invalid room token")
	}
	return claims.Channel, claims.RoomID, nil
}

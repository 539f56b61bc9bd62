package rtc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agriconsult-backend/internal/appointment"
)

func TestCreateRoom(t *testing.T) {
	p := NewTokenProvider("app-1", "secret-1", nil)
	expires := time.Now().Add(time.Hour).UTC()

	room, err := p.CreateRoom("APT-2025-000007", expires)
	require.NoError(t, err)
	assert.Equal(t, "APT-2025-000007", room.Channel)
	assert.NotEmpty(t, room.ID)
	assert.NotEmpty(t, room.Token)
	assert.True(t, room.ExpiresAt.Equal(expires))

	channel, roomID, err := p.ParseToken(room.Token)
	require.NoError(t, err)
	assert.Equal(t, room.Channel, channel)
	assert.Equal(t, room.ID, roomID)
}

func TestCreateRoomIDsAreUnique(t *testing.T) {
	p := NewTokenProvider("app-1", "secret-1", nil)
	expires := time.Now().Add(time.Hour)

	a, err := p.CreateRoom("chan-a", expires)
	require.NoError(t, err)
	b, err := p.CreateRoom("chan-a", expires)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, a.Token, b.Token)
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	p := NewTokenProvider("app-1", "secret-1", nil)
	room, err := p.CreateRoom("chan", time.Now().Add(time.Hour))
	require.NoError(t, err)

	other := NewTokenProvider("app-1", "another-secret", nil)
	_, _, err = other.ParseToken(room.Token)
	assert.Error(t, err)
}

func TestTokenLifetimeFollowsClock(t *testing.T) {
	clock := &appointment.FixedClock{Instant: time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)}
	p := NewTokenProvider("app-1", "secret-1", clock)

	room, err := p.CreateRoom("chan", clock.Instant.Add(time.Hour))
	require.NoError(t, err)

	// Issuance and validation both run on the injected clock, so a pinned
	// clock far from the wall clock still round-trips.
	_, _, err = p.ParseToken(room.Token)
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	_, _, err = p.ParseToken(room.Token)
	assert.Error(t, err, "expired once the clock passes the expiry")
}

package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cryptex-im/cryptex/internal"
)

func TestSessionStoreExpiry(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	store := NewSessionStoreWithClock(func() time.Time { return now })

	store.Install(Session{
		AccessToken:  "access",
		RefreshToken: "refresh",
		UserID:       "u1",
		Email:        "u1@example.com",
		ExpiresAt:    now.Unix() + 3600,
	})

	userID, err := store.UserID()
	assert.NoError(t, err)
	assert.Equal(t, "u1", userID)

	token, ok := store.AccessToken()
	assert.True(t, ok)
	assert.Equal(t, "access", token)

	info, ok := store.Info()
	assert.True(t, ok)
	assert.Equal(t, SessionInfo{UserID: "u1", Email: "u1@example.com", IsAuthenticated: true}, info)

	// advance past the expiry instant: every reader now reports the session
	// as absent, but the slot itself is not cleared
	now = now.Add(2 * time.Hour)

	_, err = store.UserID()
	assert.True(t, errors.Is(err, internal.ErrSessionExpired))

	_, ok = store.AccessToken()
	assert.False(t, ok)

	_, ok = store.Info()
	assert.False(t, ok)

	// the refresh credential is still readable: that is how an expired
	// session gets renewed
	refreshToken, ok := store.RefreshToken()
	assert.True(t, ok)
	assert.Equal(t, "refresh", refreshToken)

	// rewind the clock: the stale value is still in the slot
	now = now.Add(-2 * time.Hour)
	userID, err = store.UserID()
	assert.NoError(t, err)
	assert.Equal(t, "u1", userID)
}

func TestSessionStoreExpiryBoundary(t *testing.T) {
	now := time.Unix(5000, 0)
	store := NewSessionStoreWithClock(func() time.Time { return now })

	// expiry exactly at the current instant counts as expired: validity
	// requires now < expiresAt strictly
	store.Install(Session{AccessToken: "a", UserID: "u1", ExpiresAt: now.Unix()})
	_, err := store.UserID()
	assert.True(t, errors.Is(err, internal.ErrSessionExpired))
}

func TestSessionStoreClear(t *testing.T) {
	store := NewSessionStore()
	store.Install(Session{AccessToken: "a", UserID: "u1", ExpiresAt: time.Now().Unix() + 3600})

	store.Clear()
	_, err := store.UserID()
	assert.True(t, errors.Is(err, internal.ErrNotAuthenticated))
	_, ok := store.RefreshToken()
	assert.False(t, ok)

	// second clear is a no-op
	store.Clear()
	_, err = store.UserID()
	assert.True(t, errors.Is(err, internal.ErrNotAuthenticated))
}

func TestSessionStoreUpdateTokens(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	store := NewSessionStoreWithClock(func() time.Time { return now })

	// nothing held: nothing to update
	assert.False(t, store.UpdateTokens("a", "i", "u1", "u1@example.com", now.Unix()+60))

	store.Install(Session{
		AccessToken:  "old-access",
		RefreshToken: "refresh",
		IDToken:      "old-id",
		UserID:       "u1",
		Email:        "u1@example.com",
		ExpiresAt:    now.Unix() + 60,
	})
	assert.True(t, store.UpdateTokens("new-access", "new-id", "u1", "u1@new.example.com", now.Unix()+3600))

	token, ok := store.AccessToken()
	assert.True(t, ok)
	assert.Equal(t, "new-access", token)

	// refresh credential survives an in-place update
	refreshToken, ok := store.RefreshToken()
	assert.True(t, ok)
	assert.Equal(t, "refresh", refreshToken)

	info, _ := store.Info()
	assert.Equal(t, "u1@new.example.com", info.Email)
}

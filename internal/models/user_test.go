package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSessionValid(t *testing.T) {
	now := time.Now().UTC()

	live := &Session{ExpiresAt: now.Add(time.Hour)}
	assert.True(t, live.Valid(now))

	expired := &Session{ExpiresAt: now.Add(-time.Second)}
	assert.False(t, expired.Valid(now))

	// Expiry is exclusive: a session expiring exactly now is dead.
	boundary := &Session{ExpiresAt: now}
	assert.False(t, boundary.Valid(now))

	var missing *Session
	assert.False(t, missing.Valid(now))
}

func TestUserVerified(t *testing.T) {
	now := time.Now().UTC()
	assert.False(t, (&User{}).Verified())
	assert.True(t, (&User{EmailVerifiedAt: &now}).Verified())
}

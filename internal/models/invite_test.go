package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInviteExpired(t *testing.T) {
	now := time.Now().UTC()

	assert.False(t, (&Invite{}).Expired(now), "no expiry never expires")

	future := now.Add(time.Hour)
	assert.False(t, (&Invite{ExpiresAt: &future}).Expired(now))

	past := now.Add(-time.Minute)
	assert.True(t, (&Invite{ExpiresAt: &past}).Expired(now))

	// The boundary instant counts as expired.
	assert.True(t, (&Invite{ExpiresAt: &now}).Expired(now))
}

func TestInviteExhausted(t *testing.T) {
	assert.False(t, (&Invite{MaxUses: 3, UseCount: 2}).Exhausted())
	assert.True(t, (&Invite{MaxUses: 3, UseCount: 3}).Exhausted())
	assert.True(t, (&Invite{MaxUses: 1, UseCount: 1}).Exhausted())
}

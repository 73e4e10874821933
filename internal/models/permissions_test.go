package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolvePermissions_Anonymous(t *testing.T) {
	p := ResolvePermissions(StatusAnonymous, 0, 0, "")

	assert.True(t, p.CanAccessChat)
	assert.True(t, p.CanReadCommunity)
	assert.False(t, p.CanAsk)
	assert.False(t, p.CanAnswer)
	assert.False(t, p.CanComment)
	assert.False(t, p.CanUpvote)
	assert.False(t, p.CanDownvote)
	assert.False(t, p.CanInvite)
	assert.False(t, p.CanModerate)
	assert.Equal(t, 0, p.InviteSlots)
}

func TestResolvePermissions_AuthenticatedButUnverified(t *testing.T) {
	// Reputation is irrelevant until the account is verified.
	p := ResolvePermissions(StatusAuthenticated, 5000, 10, RoleMember)

	assert.True(t, p.CanAccessChat)
	assert.True(t, p.CanReadCommunity)
	assert.False(t, p.CanAsk)
	assert.False(t, p.CanUpvote)
	assert.False(t, p.CanInvite)
}

func TestResolvePermissions_ReputationThresholds(t *testing.T) {
	tests := []struct {
		name       string
		reputation int
		upvote     bool
		comment    bool
		downvote   bool
		moderate   bool
	}{
		{"fresh account", 0, false, false, false, false},
		{"just below upvote", RepUpvote - 1, false, false, false, false},
		{"at upvote", RepUpvote, true, false, false, false},
		{"at comment", RepComment, true, true, false, false},
		{"at downvote", RepDownvote, true, true, true, false},
		{"at moderate", RepModerate, true, true, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ResolvePermissions(StatusVerified, tt.reputation, 0, RoleMember)
			assert.Equal(t, tt.upvote, p.CanUpvote, "upvote")
			assert.Equal(t, tt.comment, p.CanComment, "comment")
			assert.Equal(t, tt.downvote, p.CanDownvote, "downvote")
			assert.Equal(t, tt.moderate, p.CanModerate, "moderate")
			assert.True(t, p.CanAsk)
			assert.True(t, p.CanAnswer)
		})
	}
}

func TestResolvePermissions_InviteSlots(t *testing.T) {
	withSlots := ResolvePermissions(StatusVerified, 0, 3, RoleMember)
	assert.True(t, withSlots.CanInvite)
	assert.Equal(t, 3, withSlots.InviteSlots)

	noSlots := ResolvePermissions(StatusVerified, 0, 0, RoleMember)
	assert.False(t, noSlots.CanInvite)
	assert.Equal(t, 0, noSlots.InviteSlots)
}

func TestResolvePermissions_AdminOverlay(t *testing.T) {
	// Admins moderate and invite regardless of reputation or slots.
	admin := ResolvePermissions(StatusVerified, 0, 0, RoleAdmin)
	assert.True(t, admin.CanModerate)
	assert.True(t, admin.CanInvite)

	owner := ResolvePermissions(StatusVerified, 0, 5, RoleOwner)
	assert.True(t, owner.CanModerate)
	assert.Equal(t, 5, owner.InviteSlots)

	// The overlay does not grant the verified-only capabilities.
	unverifiedAdmin := ResolvePermissions(StatusAuthenticated, 0, 0, RoleAdmin)
	assert.True(t, unverifiedAdmin.CanModerate)
	assert.False(t, unverifiedAdmin.CanAsk)
}

func TestRoleAtLeast(t *testing.T) {
	assert.True(t, RoleOwner.AtLeast(RoleAdmin))
	assert.True(t, RoleAdmin.AtLeast(RoleApprover))
	assert.True(t, RoleApprover.AtLeast(RoleMember))
	assert.True(t, RoleMember.AtLeast(RoleMember))

	assert.False(t, RoleMember.AtLeast(RoleApprover))
	assert.False(t, RoleApprover.AtLeast(RoleAdmin))
	assert.False(t, RoleAdmin.AtLeast(RoleOwner))

	// Unknown roles rank below member.
	assert.False(t, Role("intern").AtLeast(RoleMember))
}

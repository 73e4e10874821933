package models

// AuthStatus is the coarse authentication level of a request principal.
type AuthStatus string

const (
	StatusAnonymous     AuthStatus = "anonymous"
	StatusAuthenticated AuthStatus = "authenticated"
	StatusVerified      AuthStatus = "verified"
)

// Reputation thresholds gating community capabilities.
const (
	RepUpvote   = 50
	RepComment  = 100
	RepDownvote = 250
	RepModerate = 1000
)

// Permissions is the flat capability record returned to clients on every
// authenticated request.
type Permissions struct {
	CanAccessChat    bool `json:"can_access_chat"`
	CanReadCommunity bool `json:"can_read_community"`
	CanAsk           bool `json:"can_ask"`
	CanAnswer        bool `json:"can_answer"`
	CanComment       bool `json:"can_comment"`
	CanUpvote        bool `json:"can_upvote"`
	CanDownvote      bool `json:"can_downvote"`
	CanInvite        bool `json:"can_invite"`
	CanModerate      bool `json:"can_moderate"`
	InviteSlots      int  `json:"invite_slots"`
}

// ResolvePermissions derives the effective capability set. It is pure:
// monotone in status and reputation, with an admin/owner overlay. It never
// touches the store.
func ResolvePermissions(status AuthStatus, reputation, inviteSlots int, role Role) Permissions {
	p := Permissions{
		CanAccessChat:    true,
		CanReadCommunity: true,
	}

	if status == StatusVerified {
		p.CanAsk = true
		p.CanAnswer = true
		p.CanUpvote = reputation >= RepUpvote
		p.CanComment = reputation >= RepComment
		p.CanDownvote = reputation >= RepDownvote
		p.CanModerate = reputation >= RepModerate
		p.CanInvite = inviteSlots > 0
		p.InviteSlots = inviteSlots
	}

	if role == RoleAdmin || role == RoleOwner {
		p.CanModerate = true
		p.CanInvite = true
		if p.InviteSlots < inviteSlots {
			p.InviteSlots = inviteSlots
		}
	}

	return p
}

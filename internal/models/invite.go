package models

import (
	"time"

	"github.com/google/uuid"
)

// InviteType classifies how an invite may be redeemed.
type InviteType string

const (
	// InviteTypeDirect is addressed to a single recipient, optionally
	// restricted to one email address.
	InviteTypeDirect InviteType = "direct"
	// InviteTypeLink is a shareable link; email restrictions are ignored.
	InviteTypeLink InviteType = "link"
	// InviteTypeCompany seats a new member into an existing company.
	InviteTypeCompany InviteType = "company"
)

// Invite is a grant to register. Codes are 8 uppercase alphanumerics and
// unique. UseCount never exceeds MaxUses; once equal the invite is terminal.
type Invite struct {
	ID        uuid.UUID      `json:"id" db:"id"`
	Code      string         `json:"code" db:"code"`
	Type      InviteType     `json:"type" db:"type"`
	Email     *string        `json:"email,omitempty" db:"email"`
	InviterID uuid.UUID      `json:"inviter_id" db:"inviter_id"`
	CompanyID *uuid.UUID     `json:"company_id,omitempty" db:"company_id"`
	MaxUses   int            `json:"max_uses" db:"max_uses"`
	UseCount  int            `json:"use_count" db:"use_count"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty" db:"expires_at"`
	Metadata  map[string]any `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}

// Expired reports whether the invite has lapsed at the given instant.
func (i *Invite) Expired(now time.Time) bool {
	return i.ExpiresAt != nil && !i.ExpiresAt.After(now)
}

// Exhausted reports whether every use has been consumed.
func (i *Invite) Exhausted() bool {
	return i.UseCount >= i.MaxUses
}

// InviteUse records a single consumption of an invite by a user. Unique on
// (invite_id, user_id); written atomically with the use_count increment.
type InviteUse struct {
	ID       uuid.UUID `json:"id" db:"id"`
	InviteID uuid.UUID `json:"invite_id" db:"invite_id"`
	UserID   uuid.UUID `json:"user_id" db:"user_id"`
	UsedAt   time.Time `json:"used_at" db:"used_at"`
}

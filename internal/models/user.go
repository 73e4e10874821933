// Package models defines the data models for the TenderHQ core API.
package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents a principal. Email is stored lowercased; case-insensitive
// uniqueness is enforced by a functional index at the store level.
type User struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	Email           string     `json:"email" db:"email"`
	PasswordHash    *string    `json:"-" db:"password_hash"`
	EmailVerifiedAt *time.Time `json:"email_verified_at,omitempty" db:"email_verified_at"`
	InvitedByID     *uuid.UUID `json:"invited_by_id,omitempty" db:"invited_by_id"`
	InviteID        *uuid.UUID `json:"invite_id,omitempty" db:"invite_id"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// Verified reports whether the user has completed email verification.
func (u *User) Verified() bool {
	return u.EmailVerifiedAt != nil
}

// Profile carries display fields, company affiliation and community standing.
// 1:1 with User, created in the same transaction as the user row.
type Profile struct {
	UserID         uuid.UUID  `json:"user_id" db:"user_id"`
	DisplayName    string     `json:"display_name" db:"display_name"`
	CompanyID      *uuid.UUID `json:"company_id,omitempty" db:"company_id"`
	Role           Role       `json:"role" db:"role"`
	Reputation     int        `json:"reputation" db:"reputation"`
	StreakDays     int        `json:"streak_days" db:"streak_days"`
	InviteSlots    int        `json:"invite_slots" db:"invite_slots"`
	OnboardingStep int        `json:"onboarding_step" db:"onboarding_step"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// Session is an opaque bearer token bound to a user. A session is valid iff
// it exists and ExpiresAt is in the future. Multiple concurrent sessions per
// user are allowed.
type Session struct {
	ID        uuid.UUID `json:"id" db:"id"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	Token     string    `json:"-" db:"token"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Valid reports whether the session is usable at the given instant.
func (s *Session) Valid(now time.Time) bool {
	return s != nil && s.ExpiresAt.After(now)
}

// VisitorClaim maps a pseudonymous visitor ID to the user that claimed it.
// Written at most once per visitor ID.
type VisitorClaim struct {
	VisitorID string    `json:"visitor_id" db:"visitor_id"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	ClaimedAt time.Time `json:"claimed_at" db:"claimed_at"`
}

// Role represents a user's role within a company.
type Role string

const (
	RoleMember   Role = "member"
	RoleApprover Role = "approver"
	RoleAdmin    Role = "admin"
	RoleOwner    Role = "owner"
)

// AtLeast reports whether the role grants the privileges of other.
func (r Role) AtLeast(other Role) bool {
	return roleRank(r) >= roleRank(other)
}

func roleRank(r Role) int {
	switch r {
	case RoleOwner:
		return 4
	case RoleAdmin:
		return 3
	case RoleApprover:
		return 2
	case RoleMember:
		return 1
	default:
		return 0
	}
}

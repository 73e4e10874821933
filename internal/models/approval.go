package models

import (
	"time"

	"github.com/google/uuid"
)

// ApprovalStatus is the lifecycle state of an approval request.
type ApprovalStatus string

const (
	StatusDraft     ApprovalStatus = "draft"
	StatusPending   ApprovalStatus = "pending"
	StatusApproved  ApprovalStatus = "approved"
	StatusDenied    ApprovalStatus = "denied"
	StatusCancelled ApprovalStatus = "cancelled"
	StatusFulfilled ApprovalStatus = "fulfilled"
	StatusExpired   ApprovalStatus = "expired"
)

// Terminal reports whether no further transitions are possible from s,
// other than approved→fulfilled.
func (s ApprovalStatus) Terminal() bool {
	switch s {
	case StatusDenied, StatusCancelled, StatusFulfilled, StatusExpired:
		return true
	}
	return false
}

// ApprovalAction is a requested transition on an approval request.
type ApprovalAction string

const (
	ActionSubmit   ApprovalAction = "submit"
	ActionApprove  ApprovalAction = "approve"
	ActionDeny     ApprovalAction = "deny"
	ActionCancel   ApprovalAction = "cancel"
	ActionFulfill  ApprovalAction = "fulfill"
	ActionExpire   ApprovalAction = "expire"
	ActionEscalate ApprovalAction = "escalate"
)

// ApproverTier is the role tier a rule routes a request to.
type ApproverTier string

const (
	TierAuto         ApproverTier = "auto"
	TierApproverRole ApproverTier = "approver"
	TierAdminRole    ApproverTier = "admin"
)

// ApprovalRequest is a unit of work flowing through the approval state
// machine. ExpiresAt is only meaningful while status is pending.
type ApprovalRequest struct {
	ID               uuid.UUID      `json:"id" db:"id"`
	CompanyID        uuid.UUID      `json:"company_id" db:"company_id"`
	TeamID           *uuid.UUID     `json:"team_id,omitempty" db:"team_id"`
	RequesterID      uuid.UUID      `json:"requester_id" db:"requester_id"`
	RequestType      string         `json:"request_type" db:"request_type"`
	Status           ApprovalStatus `json:"status" db:"status"`
	Title            string         `json:"title" db:"title"`
	Description      string         `json:"description" db:"description"`
	EstimatedCredits int64          `json:"estimated_credits" db:"estimated_credits"`
	ActualCredits    *int64         `json:"actual_credits,omitempty" db:"actual_credits"`
	ApproverTier     ApproverTier   `json:"approver_tier" db:"approver_tier"`
	CurrentApprover  *uuid.UUID     `json:"current_approver,omitempty" db:"current_approver"`
	EscalationCount  int            `json:"escalation_count" db:"escalation_count"`
	DecisionReason   *string        `json:"decision_reason,omitempty" db:"decision_reason"`
	DecidedBy        *uuid.UUID     `json:"decided_by,omitempty" db:"decided_by"`
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
	SubmittedAt      *time.Time     `json:"submitted_at,omitempty" db:"submitted_at"`
	DecidedAt        *time.Time     `json:"decided_at,omitempty" db:"decided_at"`
	FulfilledAt      *time.Time     `json:"fulfilled_at,omitempty" db:"fulfilled_at"`
	ExpiresAt        *time.Time     `json:"expires_at,omitempty" db:"expires_at"`
}

// ApprovalRule routes a credit range to an approver tier. The highest
// matching Priority wins.
type ApprovalRule struct {
	ID              uuid.UUID    `json:"id" db:"id"`
	CompanyID       uuid.UUID    `json:"company_id" db:"company_id"`
	MinCredits      int64        `json:"min_credits" db:"min_credits"`
	MaxCredits      int64        `json:"max_credits" db:"max_credits"`
	Tier            ApproverTier `json:"tier" db:"tier"`
	EscalationHours *int         `json:"escalation_hours,omitempty" db:"escalation_hours"`
	Priority        int          `json:"priority" db:"priority"`
	CreatedAt       time.Time    `json:"created_at" db:"created_at"`
}

// Matches reports whether the rule brackets the given credit amount.
func (r *ApprovalRule) Matches(credits int64) bool {
	return credits >= r.MinCredits && credits <= r.MaxCredits
}

// ApprovalEvent is an append-only audit row for a transition, written in the
// same transaction as the state change it describes.
type ApprovalEvent struct {
	ID         uuid.UUID      `json:"id" db:"id"`
	RequestID  uuid.UUID      `json:"request_id" db:"request_id"`
	FromStatus ApprovalStatus `json:"from_status" db:"from_status"`
	ToStatus   ApprovalStatus `json:"to_status" db:"to_status"`
	ActorID    uuid.UUID      `json:"actor_id" db:"actor_id"`
	Reason     *string        `json:"reason,omitempty" db:"reason"`
	Metadata   map[string]any `json:"metadata,omitempty" db:"metadata"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
}

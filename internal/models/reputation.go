package models

import (
	"time"

	"github.com/google/uuid"
)

// ReputationLog records a single reputation delta, appended in the same
// transaction as the profiles.reputation update.
type ReputationLog struct {
	ID            uuid.UUID `json:"id" db:"id"`
	UserID        uuid.UUID `json:"user_id" db:"user_id"`
	Delta         int       `json:"delta" db:"delta"`
	Reason        string    `json:"reason" db:"reason"`
	ReferenceType *string   `json:"reference_type,omitempty" db:"reference_type"`
	ReferenceID   *string   `json:"reference_id,omitempty" db:"reference_id"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// BadgeCriterion identifies the predicate class a badge is awarded on.
type BadgeCriterion string

const (
	CriterionFirstQuestion     BadgeCriterion = "first_question"
	CriterionFirstAnswer       BadgeCriterion = "first_answer"
	CriterionQuestionCount     BadgeCriterion = "question_count"
	CriterionAnswerCount       BadgeCriterion = "answer_count"
	CriterionAcceptedCount     BadgeCriterion = "accepted_count"
	CriterionUpvotesReceived   BadgeCriterion = "upvotes_received"
	CriterionReputationReached BadgeCriterion = "reputation"
)

// Badge is a catalog row. Threshold is the N in count-style criteria and is
// ignored by the first_* criteria.
type Badge struct {
	ID          uuid.UUID      `json:"id" db:"id"`
	Slug        string         `json:"slug" db:"slug"`
	Name        string         `json:"name" db:"name"`
	Criterion   BadgeCriterion `json:"criterion" db:"criterion"`
	Threshold   int            `json:"threshold" db:"threshold"`
	BonusPoints int            `json:"bonus_points" db:"bonus_points"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
}

// UserBadge is the award record. (user_id, badge_id) is unique so a badge
// can never be awarded twice, even under races.
type UserBadge struct {
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	BadgeID   uuid.UUID `json:"badge_id" db:"badge_id"`
	AwardedAt time.Time `json:"awarded_at" db:"awarded_at"`
}

// CommunityStats is the freshly computed counters the badge predicates
// evaluate against.
type CommunityStats struct {
	Questions       int
	Answers         int
	Accepted        int
	UpvotesReceived int
	Reputation      int
}

// VoteTarget is the kind of content a vote lands on.
type VoteTarget string

const (
	VoteTargetQuestion VoteTarget = "question"
	VoteTargetAnswer   VoteTarget = "answer"
)

// Vote records one user's vote on one target. (user_id, target_type,
// target_id) is unique.
type Vote struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	UserID     uuid.UUID  `json:"user_id" db:"user_id"`
	TargetType VoteTarget `json:"target_type" db:"target_type"`
	TargetID   uuid.UUID  `json:"target_id" db:"target_id"`
	Value      int        `json:"value" db:"value"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

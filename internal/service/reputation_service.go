package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tenderhq/core/internal/models"
	apierrors "github.com/tenderhq/core/internal/pkg/errors"
	"github.com/tenderhq/core/internal/repository"
)

// Reputation deltas for community actions.
const (
	DeltaUpvoteReceived   = 10
	DeltaDownvoteReceived = -2
	DeltaAnswerAccepted   = 15
	DeltaDownvoteCast     = -1
)

// ReputationService applies reputation deltas, evaluates badge criteria and
// records community votes.
type ReputationService interface {
	// ApplyDelta writes the reputation change, its audit log row and any
	// newly earned badges in one transaction. Returns the reputation after
	// the change.
	ApplyDelta(ctx context.Context, userID uuid.UUID, delta int, reason string, refType, refID string) (int, error)

	// RecordVote stores a vote, credits the content author's reputation and
	// debits the downvoter's. A duplicate vote is a no-op reported to the
	// caller.
	RecordVote(ctx context.Context, vote *models.Vote, authorID uuid.UUID) (bool, error)

	Badges(ctx context.Context) ([]*models.Badge, error)
	UserBadges(ctx context.Context, userID uuid.UUID) ([]*models.UserBadge, error)
	Stats(ctx context.Context, userID uuid.UUID) (*models.CommunityStats, error)
}

type reputationService struct {
	store  repository.TxRunner
	users  repository.UserRepository
	repute repository.ReputationRepository
	logger *slog.Logger
}

// NewReputationService creates a new reputation service.
func NewReputationService(store repository.TxRunner, users repository.UserRepository, repute repository.ReputationRepository, logger *slog.Logger) ReputationService {
	return &reputationService{store: store, users: users, repute: repute, logger: logger}
}

func (s *reputationService) ApplyDelta(ctx context.Context, userID uuid.UUID, delta int, reason string, refType, refID string) (int, error) {
	if delta == 0 {
		return 0, apierrors.NewValidationError("delta", "must be non-zero")
	}
	var reputation int
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		reputation, err = s.applyDeltaTx(ctx, tx, userID, delta, reason, refType, refID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return reputation, nil
}

func (s *reputationService) applyDeltaTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, delta int, reason string, refType, refID string) (int, error) {
	users := s.users.WithTx(tx)
	repute := s.repute.WithTx(tx)

	reputation, err := users.AddReputation(ctx, userID, delta)
	if err != nil {
		return 0, err
	}
	log := &models.ReputationLog{
		UserID:        userID,
		Delta:         delta,
		Reason:        reason,
		ReferenceType: strPtr(refType),
		ReferenceID:   strPtr(refID),
	}
	if err := repute.AppendLog(ctx, log); err != nil {
		return 0, err
	}

	return reputation, s.evaluateBadges(ctx, tx, userID)
}

// evaluateBadges walks the catalog and awards every badge whose criterion now
// holds. The (user, badge) unique constraint makes re-evaluation harmless.
func (s *reputationService) evaluateBadges(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error {
	repute := s.repute.WithTx(tx)

	badges, err := repute.ListBadges(ctx)
	if err != nil {
		return err
	}
	stats, err := repute.Stats(ctx, userID)
	if err != nil {
		return err
	}

	for _, badge := range badges {
		if !criterionMet(badge, stats) {
			continue
		}
		awarded, err := repute.AwardBadge(ctx, userID, badge.ID)
		if err != nil {
			return err
		}
		if !awarded {
			continue
		}
		s.logger.Info("badge awarded", "user_id", userID, "badge", badge.Slug)

		if badge.BonusPoints > 0 {
			users := s.users.WithTx(tx)
			if _, err := users.AddReputation(ctx, userID, badge.BonusPoints); err != nil {
				return err
			}
			bonus := &models.ReputationLog{
				UserID:        userID,
				Delta:         badge.BonusPoints,
				Reason:        "badge bonus",
				ReferenceType: strPtr("badge"),
				ReferenceID:   strPtr(badge.Slug),
			}
			if err := repute.AppendLog(ctx, bonus); err != nil {
				return err
			}
		}
	}
	return nil
}

// criterionMet evaluates one badge predicate against fresh stats. Unknown
// criteria are skipped so new catalog rows cannot break evaluation.
func criterionMet(badge *models.Badge, stats *models.CommunityStats) bool {
	switch badge.Criterion {
	case models.CriterionFirstQuestion:
		return stats.Questions >= 1
	case models.CriterionFirstAnswer:
		return stats.Answers >= 1
	case models.CriterionQuestionCount:
		return stats.Questions >= badge.Threshold
	case models.CriterionAnswerCount:
		return stats.Answers >= badge.Threshold
	case models.CriterionAcceptedCount:
		return stats.Accepted >= badge.Threshold
	case models.CriterionUpvotesReceived:
		return stats.UpvotesReceived >= badge.Threshold
	case models.CriterionReputationReached:
		return stats.Reputation >= badge.Threshold
	default:
		return false
	}
}

func (s *reputationService) RecordVote(ctx context.Context, vote *models.Vote, authorID uuid.UUID) (bool, error) {
	if vote.Value != 1 && vote.Value != -1 {
		return false, apierrors.NewValidationError("value", "must be 1 or -1")
	}
	if vote.UserID == authorID {
		return false, apierrors.ErrBadRequest.WithMessage("You cannot vote on your own content")
	}

	var recorded bool
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		repute := s.repute.WithTx(tx)

		inserted, err := repute.RecordVote(ctx, vote)
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}
		recorded = true

		refID := vote.TargetID.String()
		if vote.Value > 0 {
			_, err = s.applyDeltaTx(ctx, tx, authorID, DeltaUpvoteReceived, "upvote received", string(vote.TargetType), refID)
			return err
		}
		if _, err := s.applyDeltaTx(ctx, tx, authorID, DeltaDownvoteReceived, "downvote received", string(vote.TargetType), refID); err != nil {
			return err
		}
		// Downvoting costs the voter a point as well.
		_, err = s.applyDeltaTx(ctx, tx, vote.UserID, DeltaDownvoteCast, "downvote cast", string(vote.TargetType), refID)
		return err
	})
	if err != nil {
		return false, err
	}
	return recorded, nil
}

func (s *reputationService) Badges(ctx context.Context) ([]*models.Badge, error) {
	return s.repute.ListBadges(ctx)
}

func (s *reputationService) UserBadges(ctx context.Context, userID uuid.UUID) ([]*models.UserBadge, error) {
	return s.repute.ListUserBadges(ctx, userID)
}

func (s *reputationService) Stats(ctx context.Context, userID uuid.UUID) (*models.CommunityStats, error) {
	return s.repute.Stats(ctx, userID)
}

// Compile-time check to ensure reputationService implements ReputationService.
var _ ReputationService = (*reputationService)(nil)

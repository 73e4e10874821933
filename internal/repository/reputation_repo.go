package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tenderhq/core/internal/models"
)

// ReputationRepository defines the interface for reputation logs, badges and
// votes.
type ReputationRepository interface {
	WithTx(tx pgx.Tx) ReputationRepository

	AppendLog(ctx context.Context, log *models.ReputationLog) error

	ListBadges(ctx context.Context) ([]*models.Badge, error)
	// AwardBadge inserts the (user, badge) award row. Reports false when the
	// badge was already awarded; the unique constraint makes this race-proof.
	AwardBadge(ctx context.Context, userID, badgeID uuid.UUID) (bool, error)
	ListUserBadges(ctx context.Context, userID uuid.UUID) ([]*models.UserBadge, error)

	// Stats computes the community counters badge predicates evaluate against.
	Stats(ctx context.Context, userID uuid.UUID) (*models.CommunityStats, error)

	// RecordVote inserts a vote. Reports false on a duplicate
	// (user, target_type, target_id).
	RecordVote(ctx context.Context, vote *models.Vote) (bool, error)
}

type reputationRepo struct {
	db DBTX
}

// NewReputationRepository creates a new reputation repository.
func NewReputationRepository(db DBTX) ReputationRepository {
	return &reputationRepo{db: db}
}

func (r *reputationRepo) WithTx(tx pgx.Tx) ReputationRepository {
	return &reputationRepo{db: tx}
}

func (r *reputationRepo) AppendLog(ctx context.Context, log *models.ReputationLog) error {
	query := `
		INSERT INTO reputation_log (id, user_id, delta, reason, reference_type, reference_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	return r.db.QueryRow(ctx, query,
		log.ID,
		log.UserID,
		log.Delta,
		log.Reason,
		log.ReferenceType,
		log.ReferenceID,
	).Scan(&log.CreatedAt)
}

func (r *reputationRepo) ListBadges(ctx context.Context) ([]*models.Badge, error) {
	query := `
		SELECT id, slug, name, criterion, threshold, bonus_points, created_at
		FROM badges ORDER BY slug`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var badges []*models.Badge
	for rows.Next() {
		var b models.Badge
		if err := rows.Scan(
			&b.ID,
			&b.Slug,
			&b.Name,
			&b.Criterion,
			&b.Threshold,
			&b.BonusPoints,
			&b.CreatedAt,
		); err != nil {
			return nil, err
		}
		badges = append(badges, &b)
	}
	return badges, rows.Err()
}

func (r *reputationRepo) AwardBadge(ctx context.Context, userID, badgeID uuid.UUID) (bool, error) {
	query := `
		INSERT INTO user_badges (user_id, badge_id, awarded_at)
		VALUES ($1, $2, $3)`
	return insertWithSavepoint(ctx, r.db, "user_badges_pkey", query, userID, badgeID, time.Now().UTC())
}

func (r *reputationRepo) ListUserBadges(ctx context.Context, userID uuid.UUID) ([]*models.UserBadge, error) {
	query := `SELECT user_id, badge_id, awarded_at FROM user_badges WHERE user_id = $1 ORDER BY awarded_at`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var awards []*models.UserBadge
	for rows.Next() {
		var ub models.UserBadge
		if err := rows.Scan(&ub.UserID, &ub.BadgeID, &ub.AwardedAt); err != nil {
			return nil, err
		}
		awards = append(awards, &ub)
	}
	return awards, rows.Err()
}

func (r *reputationRepo) Stats(ctx context.Context, userID uuid.UUID) (*models.CommunityStats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM questions WHERE author_id = $1),
			(SELECT COUNT(*) FROM answers WHERE author_id = $1),
			(SELECT COUNT(*) FROM answers WHERE author_id = $1 AND accepted_at IS NOT NULL),
			(SELECT COALESCE(SUM(v.value), 0) FROM votes v
				JOIN answers a ON v.target_type = 'answer' AND v.target_id = a.id
				WHERE a.author_id = $1 AND v.value > 0),
			(SELECT reputation FROM profiles WHERE user_id = $1)`

	var stats models.CommunityStats
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&stats.Questions,
		&stats.Answers,
		&stats.Accepted,
		&stats.UpvotesReceived,
		&stats.Reputation,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return &stats, nil
	}
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (r *reputationRepo) RecordVote(ctx context.Context, vote *models.Vote) (bool, error) {
	query := `
		INSERT INTO votes (id, user_id, target_type, target_id, value)
		VALUES ($1, $2, $3, $4, $5)`

	if vote.ID == uuid.Nil {
		vote.ID = uuid.New()
	}
	inserted, err := insertWithSavepoint(ctx, r.db, "votes_user_id_target_type_target_id_key", query,
		vote.ID,
		vote.UserID,
		vote.TargetType,
		vote.TargetID,
		vote.Value,
	)
	if err != nil {
		return false, err
	}
	if inserted {
		vote.CreatedAt = time.Now().UTC()
	}
	return inserted, nil
}

// Compile-time check to ensure reputationRepo implements ReputationRepository.
var _ ReputationRepository = (*reputationRepo)(nil)

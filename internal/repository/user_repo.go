package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tenderhq/core/internal/models"
)

// UserRepository defines the interface for user and profile operations.
type UserRepository interface {
	// WithTx returns a copy of the repository bound to the transaction.
	WithTx(tx pgx.Tx) UserRepository

	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	// GetByEmail matches the canonical (lowercased) email.
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Delete(ctx context.Context, id uuid.UUID) error

	CreateProfile(ctx context.Context, profile *models.Profile) error
	GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error)
	// AddReputation applies a delta to profiles.reputation, flooring at zero,
	// and returns the resulting value.
	AddReputation(ctx context.Context, userID uuid.UUID, delta int) (int, error)
	DecrementInviteSlots(ctx context.Context, userID uuid.UUID) error

	// ClaimVisitor writes the one-time visitor_id→user_id mapping. Reports
	// false if the visitor ID was already claimed.
	ClaimVisitor(ctx context.Context, visitorID string, userID uuid.UUID) (bool, error)
}

type userRepo struct {
	db DBTX
	tx pgx.Tx
}

// NewUserRepository creates a new user repository bound to the pool.
func NewUserRepository(db DBTX) UserRepository {
	return &userRepo{db: db}
}

func (r *userRepo) WithTx(tx pgx.Tx) UserRepository {
	return &userRepo{db: tx, tx: tx}
}

const userColumns = `id, email, password_hash, email_verified_at, invited_by_id, invite_id, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.EmailVerifiedAt,
		&u.InvitedByID,
		&u.InviteID,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts a new user. Email is normalized to lowercase here as well,
// but the lower(email) unique index is what actually enforces uniqueness.
func (r *userRepo) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, email, password_hash, email_verified_at, invited_by_id, invite_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))

	return r.db.QueryRow(ctx, query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.EmailVerifiedAt,
		user.InvitedByID,
		user.InviteID,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
}

func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRow(ctx, query, id))
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = lower($1)`
	return scanUser(r.db.QueryRow(ctx, query, strings.TrimSpace(email)))
}

func (r *userRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	return err
}

func (r *userRepo) CreateProfile(ctx context.Context, profile *models.Profile) error {
	query := `
		INSERT INTO profiles (user_id, display_name, company_id, role, reputation, streak_days, invite_slots, onboarding_step)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`

	if profile.Role == "" {
		profile.Role = models.RoleMember
	}
	return r.db.QueryRow(ctx, query,
		profile.UserID,
		profile.DisplayName,
		profile.CompanyID,
		profile.Role,
		profile.Reputation,
		profile.StreakDays,
		profile.InviteSlots,
		profile.OnboardingStep,
	).Scan(&profile.CreatedAt, &profile.UpdatedAt)
}

func (r *userRepo) GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	query := `
		SELECT user_id, display_name, company_id, role, reputation, streak_days, invite_slots, onboarding_step, created_at, updated_at
		FROM profiles WHERE user_id = $1`

	var p models.Profile
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&p.UserID,
		&p.DisplayName,
		&p.CompanyID,
		&p.Role,
		&p.Reputation,
		&p.StreakDays,
		&p.InviteSlots,
		&p.OnboardingStep,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *userRepo) AddReputation(ctx context.Context, userID uuid.UUID, delta int) (int, error) {
	query := `
		UPDATE profiles
		SET reputation = GREATEST(reputation + $2, 0), updated_at = NOW()
		WHERE user_id = $1
		RETURNING reputation`

	var reputation int
	err := r.db.QueryRow(ctx, query, userID, delta).Scan(&reputation)
	return reputation, err
}

func (r *userRepo) DecrementInviteSlots(ctx context.Context, userID uuid.UUID) error {
	query := `
		UPDATE profiles
		SET invite_slots = GREATEST(invite_slots - 1, 0), updated_at = NOW()
		WHERE user_id = $1`
	_, err := r.db.Exec(ctx, query, userID)
	return err
}

func (r *userRepo) ClaimVisitor(ctx context.Context, visitorID string, userID uuid.UUID) (bool, error) {
	query := `
		INSERT INTO visitor_claims (visitor_id, user_id, claimed_at)
		VALUES ($1, $2, $3)`
	return insertWithSavepoint(ctx, r.db, "visitor_claims_pkey", query, visitorID, userID, time.Now().UTC())
}

// Compile-time check to ensure userRepo implements UserRepository.
var _ UserRepository = (*userRepo)(nil)

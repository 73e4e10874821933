package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tenderhq/core/internal/models"
)

// InviteRepository defines the interface for invite operations.
type InviteRepository interface {
	WithTx(tx pgx.Tx) InviteRepository

	// Create inserts an invite. Reports false without error when the code
	// collides with an existing one, so the caller can retry with a new code.
	Create(ctx context.Context, invite *models.Invite) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Invite, error)
	GetByCode(ctx context.Context, code string) (*models.Invite, error)
	// GetForUpdate reads the invite row under an exclusive lock, serializing
	// concurrent consumers behind it.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Invite, error)
	// IncrementUse bumps use_count by one.
	IncrementUse(ctx context.Context, id uuid.UUID) error
	// RecordUse inserts the (invite, user) use row. A duplicate by the same
	// user reports false: that is a defect in the caller, not a race.
	RecordUse(ctx context.Context, inviteID, userID uuid.UUID) (bool, error)
	ListByInviter(ctx context.Context, inviterID uuid.UUID) ([]*models.Invite, error)
}

type inviteRepo struct {
	db DBTX
}

// NewInviteRepository creates a new invite repository.
func NewInviteRepository(db DBTX) InviteRepository {
	return &inviteRepo{db: db}
}

func (r *inviteRepo) WithTx(tx pgx.Tx) InviteRepository {
	return &inviteRepo{db: tx}
}

const inviteColumns = `id, code, type, email, inviter_id, company_id, max_uses, use_count, expires_at, metadata, created_at, updated_at`

func scanInvite(row pgx.Row) (*models.Invite, error) {
	var inv models.Invite
	err := row.Scan(
		&inv.ID,
		&inv.Code,
		&inv.Type,
		&inv.Email,
		&inv.InviterID,
		&inv.CompanyID,
		&inv.MaxUses,
		&inv.UseCount,
		&inv.ExpiresAt,
		&inv.Metadata,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *inviteRepo) Create(ctx context.Context, invite *models.Invite) (bool, error) {
	query := `
		INSERT INTO invites (id, code, type, email, inviter_id, company_id, max_uses, use_count, expires_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	if invite.ID == uuid.Nil {
		invite.ID = uuid.New()
	}
	inserted, err := insertWithSavepoint(ctx, r.db, "invites_code_key", query,
		invite.ID,
		invite.Code,
		invite.Type,
		invite.Email,
		invite.InviterID,
		invite.CompanyID,
		invite.MaxUses,
		invite.UseCount,
		invite.ExpiresAt,
		invite.Metadata,
	)
	if err != nil {
		return false, err
	}
	if inserted {
		invite.CreatedAt = time.Now().UTC()
		invite.UpdatedAt = invite.CreatedAt
	}
	return inserted, nil
}

func (r *inviteRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Invite, error) {
	query := `SELECT ` + inviteColumns + ` FROM invites WHERE id = $1`
	return scanInvite(r.db.QueryRow(ctx, query, id))
}

func (r *inviteRepo) GetByCode(ctx context.Context, code string) (*models.Invite, error) {
	query := `SELECT ` + inviteColumns + ` FROM invites WHERE code = $1`
	return scanInvite(r.db.QueryRow(ctx, query, code))
}

func (r *inviteRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Invite, error) {
	query := `SELECT ` + inviteColumns + ` FROM invites WHERE id = $1 FOR UPDATE`
	return scanInvite(r.db.QueryRow(ctx, query, id))
}

func (r *inviteRepo) IncrementUse(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE invites SET use_count = use_count + 1, updated_at = NOW() WHERE id = $1`
	_, err := r.db.Exec(ctx, query, id)
	return err
}

func (r *inviteRepo) RecordUse(ctx context.Context, inviteID, userID uuid.UUID) (bool, error) {
	query := `
		INSERT INTO invite_uses (id, invite_id, user_id, used_at)
		VALUES ($1, $2, $3, $4)`
	return insertWithSavepoint(ctx, r.db, "invite_uses_invite_id_user_id_key", query,
		uuid.New(), inviteID, userID, time.Now().UTC())
}

func (r *inviteRepo) ListByInviter(ctx context.Context, inviterID uuid.UUID) ([]*models.Invite, error) {
	query := `SELECT ` + inviteColumns + ` FROM invites WHERE inviter_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, inviterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invites []*models.Invite
	for rows.Next() {
		inv, err := scanInvite(rows)
		if err != nil {
			return nil, err
		}
		invites = append(invites, inv)
	}
	return invites, rows.Err()
}

// Compile-time check to ensure inviteRepo implements InviteRepository.
var _ InviteRepository = (*inviteRepo)(nil)

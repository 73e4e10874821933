package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tenderhq/core/internal/models"
)

// SessionRepository defines the interface for session operations.
type SessionRepository interface {
	WithTx(tx pgx.Tx) SessionRepository

	Create(ctx context.Context, session *models.Session) error
	// GetByToken resolves a session by its opaque bearer token. Expiry is not
	// filtered here; validity is the caller's decision.
	GetByToken(ctx context.Context, token string) (*models.Session, error)
	// DeleteByToken destroys a session. Deleting an absent token is not an error.
	DeleteByToken(ctx context.Context, token string) error
	DeleteExpired(ctx context.Context) (int64, error)
}

type sessionRepo struct {
	db DBTX
}

// NewSessionRepository creates a new session repository.
func NewSessionRepository(db DBTX) SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) WithTx(tx pgx.Tx) SessionRepository {
	return &sessionRepo{db: tx}
}

func (r *sessionRepo) Create(ctx context.Context, session *models.Session) error {
	query := `
		INSERT INTO sessions (id, user_id, token, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`

	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	return r.db.QueryRow(ctx, query,
		session.ID,
		session.UserID,
		session.Token,
		session.ExpiresAt,
	).Scan(&session.CreatedAt)
}

func (r *sessionRepo) GetByToken(ctx context.Context, token string) (*models.Session, error) {
	query := `
		SELECT id, user_id, token, expires_at, created_at
		FROM sessions WHERE token = $1`

	var s models.Session
	err := r.db.QueryRow(ctx, query, token).Scan(
		&s.ID,
		&s.UserID,
		&s.Token,
		&s.ExpiresAt,
		&s.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *sessionRepo) DeleteByToken(ctx context.Context, token string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE token = $1`, token)
	return err
}

func (r *sessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE expires_at < NOW()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Compile-time check to ensure sessionRepo implements SessionRepository.
var _ SessionRepository = (*sessionRepo)(nil)

// Package service provides business logic for the TenderHQ core API.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tenderhq/core/internal/models"
	apierrors "github.com/tenderhq/core/internal/pkg/errors"
	"github.com/tenderhq/core/internal/pkg/secrets"
	"github.com/tenderhq/core/internal/repository"
)

// Invite usability verdicts, checked in a fixed order.
var (
	ErrInviteExpired       = errors.New("invite expired")
	ErrInviteUsedUp        = errors.New("invite fully used")
	ErrInviteEmailRequired = errors.New("invite requires an email")
	ErrInviteEmailMismatch = errors.New("invite restricted to another email")
)

// codeGenAttempts bounds retries when a freshly minted code collides.
const codeGenAttempts = 5

// CreateInviteInput carries the fields for issuing an invite. Zero MaxUses
// defaults to 1.
type CreateInviteInput struct {
	Type      models.InviteType
	Email     string
	CompanyID *uuid.UUID
	MaxUses   int
	ExpiresAt *time.Time
	Metadata  map[string]any
}

// InviteService defines the invite lifecycle interface.
type InviteService interface {
	Create(ctx context.Context, inviterID uuid.UUID, in CreateInviteInput) (*models.Invite, error)
	GetByCode(ctx context.Context, code string) (*models.Invite, error)
	ListByInviter(ctx context.Context, inviterID uuid.UUID) ([]*models.Invite, error)

	// CanUse evaluates the pure usability predicate against an invite
	// snapshot. forEmail may be empty for link invites.
	CanUse(invite *models.Invite, forEmail string) error

	// AtomicConsume consumes one use inside the caller's transaction. The
	// invite row is read under an exclusive lock and the snapshot rechecked;
	// the competitor that arrives once use_count == max_uses gets
	// ErrInviteRaceLost and the caller must roll back its own work.
	AtomicConsume(ctx context.Context, tx pgx.Tx, inviteID, userID uuid.UUID) error
}

type inviteService struct {
	invites repository.InviteRepository
	logger  *slog.Logger
}

// NewInviteService creates a new invite service.
func NewInviteService(invites repository.InviteRepository, logger *slog.Logger) InviteService {
	return &inviteService{invites: invites, logger: logger}
}

// NormalizeCode canonicalizes a raw invite code: trim, uppercase.
func NormalizeCode(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// IsValidCodeFormat reports whether code is exactly 8 characters from
// [A-Z0-9]. Callers normalize first.
func IsValidCodeFormat(code string) bool {
	if len(code) != secrets.InviteCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

func (s *inviteService) Create(ctx context.Context, inviterID uuid.UUID, in CreateInviteInput) (*models.Invite, error) {
	if in.MaxUses <= 0 {
		in.MaxUses = 1
	}
	switch in.Type {
	case models.InviteTypeDirect, models.InviteTypeLink, models.InviteTypeCompany:
	default:
		return nil, apierrors.NewValidationError("type", "unknown invite type")
	}

	var email *string
	if in.Type == models.InviteTypeDirect && in.Email != "" {
		normalized := strings.ToLower(strings.TrimSpace(in.Email))
		email = &normalized
	}

	for attempt := 0; attempt < codeGenAttempts; attempt++ {
		code, err := secrets.RandomInviteCode()
		if err != nil {
			return nil, fmt.Errorf("failed to mint invite code: %w", err)
		}

		invite := &models.Invite{
			Code:      code,
			Type:      in.Type,
			Email:     email,
			InviterID: inviterID,
			CompanyID: in.CompanyID,
			MaxUses:   in.MaxUses,
			ExpiresAt: in.ExpiresAt,
			Metadata:  in.Metadata,
		}
		inserted, err := s.invites.Create(ctx, invite)
		if err != nil {
			return nil, err
		}
		if inserted {
			return invite, nil
		}
		// Code collision; extraordinarily rare at 36^8. Retry with a new code.
		s.logger.Warn("invite code collision, retrying", slog.Int("attempt", attempt+1))
	}
	return nil, fmt.Errorf("exhausted %d invite code attempts", codeGenAttempts)
}

func (s *inviteService) GetByCode(ctx context.Context, code string) (*models.Invite, error) {
	return s.invites.GetByCode(ctx, NormalizeCode(code))
}

func (s *inviteService) ListByInviter(ctx context.Context, inviterID uuid.UUID) ([]*models.Invite, error) {
	return s.invites.ListByInviter(ctx, inviterID)
}

// CanUse checks expiry first, then exhaustion, then the email restriction.
// Link invites ignore email entirely.
func (s *inviteService) CanUse(invite *models.Invite, forEmail string) error {
	if invite.Expired(time.Now()) {
		return ErrInviteExpired
	}
	if invite.Exhausted() {
		return ErrInviteUsedUp
	}
	if invite.Type == models.InviteTypeLink {
		return nil
	}
	if invite.Email != nil {
		if forEmail == "" {
			return ErrInviteEmailRequired
		}
		if !strings.EqualFold(strings.TrimSpace(forEmail), *invite.Email) {
			return ErrInviteEmailMismatch
		}
	}
	return nil
}

func (s *inviteService) AtomicConsume(ctx context.Context, tx pgx.Tx, inviteID, userID uuid.UUID) error {
	invites := s.invites.WithTx(tx)

	// Exclusive row lock; every concurrent consumer serializes behind it.
	invite, err := invites.GetForUpdate(ctx, inviteID)
	if err != nil {
		return err
	}
	if invite == nil {
		return apierrors.ErrInviteInvalid
	}

	// Recheck against the frozen snapshot. The loser of the race observes
	// the winner's committed increment here.
	if invite.Expired(time.Now()) {
		return apierrors.ErrInviteInvalid
	}
	if invite.Exhausted() {
		return apierrors.ErrInviteRaceLost
	}

	if err := invites.IncrementUse(ctx, inviteID); err != nil {
		return err
	}

	inserted, err := invites.RecordUse(ctx, inviteID, userID)
	if err != nil {
		return err
	}
	if !inserted {
		// Same user consuming the same invite twice is a caller defect, not
		// a race; surface it loudly.
		return apierrors.NewInvariantViolation("duplicate invite use for user " + userID.String())
	}
	return nil
}

// Compile-time check to ensure inviteService implements InviteService.
var _ InviteService = (*inviteService)(nil)

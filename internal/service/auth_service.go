package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tenderhq/core/internal/models"
	apierrors "github.com/tenderhq/core/internal/pkg/errors"
	"github.com/tenderhq/core/internal/pkg/secrets"
	"github.com/tenderhq/core/internal/pkg/timing"
	"github.com/tenderhq/core/internal/pkg/ulid"
	"github.com/tenderhq/core/internal/repository"
)

// dummyHash is a bcrypt digest of an unguessable throwaway value. Login runs
// a verify against it when the email does not resolve, so both failure paths
// do the same amount of work.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// RegisterInput carries the fields for account creation. The invite code is
// mandatory: registration is invite-gated.
type RegisterInput struct {
	Email       string
	Password    string
	DisplayName string
	InviteCode  string
	VisitorID   string
}

// AuthResult is the outcome of a successful register or login.
type AuthResult struct {
	User    *models.User    `json:"user"`
	Profile *models.Profile `json:"profile"`
	Session *models.Session `json:"-"`
}

// Principal is the resolved identity of an authenticated request, computed
// once per request and threaded through context to handlers.
type Principal struct {
	User        *models.User       `json:"user"`
	Profile     *models.Profile    `json:"profile"`
	Session     *models.Session    `json:"-"`
	Status      models.AuthStatus  `json:"status"`
	Permissions models.Permissions `json:"permissions"`
}

// AuthService defines the identity and session lifecycle interface.
type AuthService interface {
	Register(ctx context.Context, in RegisterInput) (*AuthResult, error)
	Login(ctx context.Context, email, password string) (*AuthResult, error)
	// Logout destroys the session for the given token. Unknown tokens are
	// not an error.
	Logout(ctx context.Context, token string) error
	ValidateSession(ctx context.Context, token string) (*Principal, error)
	PurgeExpiredSessions(ctx context.Context) (int64, error)

	// IssueVisitorToken mints a signed pseudonymous visitor token for
	// pre-registration activity.
	IssueVisitorToken() (token string, visitorID string, err error)
	// VerifyVisitorToken checks the signature and expiry of a visitor token
	// and returns the embedded visitor ID.
	VerifyVisitorToken(token string) (string, error)
}

type authService struct {
	store      repository.TxRunner
	users      repository.UserRepository
	sessions   repository.SessionRepository
	invites    InviteService
	signer     *secrets.Signer
	equalizer  *timing.Equalizer
	sessionTTL time.Duration
	visitorTTL time.Duration
	logger     *slog.Logger
}

// NewAuthService creates a new auth service.
func NewAuthService(
	store repository.TxRunner,
	users repository.UserRepository,
	sessions repository.SessionRepository,
	invites InviteService,
	signer *secrets.Signer,
	equalizer *timing.Equalizer,
	sessionTTL, visitorTTL time.Duration,
	logger *slog.Logger,
) AuthService {
	return &authService{
		store:      store,
		users:      users,
		sessions:   sessions,
		invites:    invites,
		signer:     signer,
		equalizer:  equalizer,
		sessionTTL: sessionTTL,
		visitorTTL: visitorTTL,
		logger:     logger,
	}
}

func (s *authService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	var result *AuthResult

	// The same latency floor as login: invite-code probes and the pre-hash
	// early exits must not be distinguishable from a full registration by
	// response time.
	err := s.equalizer.Do(ctx, func() error {
		var err error
		result, err = s.register(ctx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *authService) register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	if err := secrets.ValidatePassword(in.Password); err != nil {
		return nil, apierrors.NewValidationError("password", err.Error())
	}

	code := NormalizeCode(in.InviteCode)
	if !IsValidCodeFormat(code) {
		return nil, apierrors.ErrInviteInvalid
	}
	invite, err := s.invites.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if invite == nil {
		return nil, apierrors.ErrInviteInvalid
	}
	if err := s.invites.CanUse(invite, in.Email); err != nil {
		return nil, mapInviteVerdict(err)
	}

	hash, err := secrets.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Email:        in.Email,
		PasswordHash: &hash,
		InvitedByID:  &invite.InviterID,
		InviteID:     &invite.ID,
	}
	profile := &models.Profile{
		DisplayName: in.DisplayName,
		Role:        models.RoleMember,
	}
	if invite.Type == models.InviteTypeCompany {
		profile.CompanyID = invite.CompanyID
	}

	var session *models.Session
	err = s.store.WithTx(ctx, func(tx pgx.Tx) error {
		users := s.users.WithTx(tx)

		if err := users.Create(ctx, user); err != nil {
			if repository.IsUniqueViolation(err, "users_email_lower_key") {
				return apierrors.ErrEmailTaken
			}
			return err
		}
		profile.UserID = user.ID
		if err := users.CreateProfile(ctx, profile); err != nil {
			return err
		}

		// Losing the last-use race rolls back the user row as well.
		if err := s.invites.AtomicConsume(ctx, tx, invite.ID, user.ID); err != nil {
			return err
		}

		if ulid.IsValid(in.VisitorID) {
			// First claim wins; a visitor ID already bound elsewhere, or a
			// malformed one, is silently skipped.
			if _, err := users.ClaimVisitor(ctx, in.VisitorID, user.ID); err != nil {
				return err
			}
		}

		var err error
		session, err = s.createSession(ctx, s.sessions.WithTx(tx), user.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered",
		"user_id", user.ID,
		"invite_id", invite.ID,
		"invite_type", invite.Type)
	return &AuthResult{User: user, Profile: profile, Session: session}, nil
}

// mapInviteVerdict translates usability verdicts into API errors without
// leaking which check failed for email-restricted invites.
func mapInviteVerdict(err error) error {
	switch {
	case errors.Is(err, ErrInviteExpired):
		return apierrors.ErrInviteInvalid.WithMessage("This invite has expired")
	case errors.Is(err, ErrInviteUsedUp):
		return apierrors.ErrInviteInvalid.WithMessage("This invite has no uses remaining")
	case errors.Is(err, ErrInviteEmailRequired), errors.Is(err, ErrInviteEmailMismatch):
		return apierrors.ErrInviteInvalid
	default:
		return err
	}
}

func (s *authService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	var result *AuthResult

	// The equalizer pads the whole attempt to a constant floor so that
	// unknown-email and wrong-password responses are indistinguishable by
	// latency.
	err := s.equalizer.Do(ctx, func() error {
		user, err := s.users.GetByEmail(ctx, email)
		if err != nil {
			return err
		}
		if user == nil || user.PasswordHash == nil {
			secrets.VerifyPassword(password, dummyHash)
			return apierrors.ErrInvalidCredentials
		}
		if !secrets.VerifyPassword(password, *user.PasswordHash) {
			return apierrors.ErrInvalidCredentials
		}

		profile, err := s.users.GetProfile(ctx, user.ID)
		if err != nil {
			return err
		}
		session, err := s.createSession(ctx, s.sessions, user.ID)
		if err != nil {
			return err
		}
		result = &AuthResult{User: user, Profile: profile, Session: session}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user logged in", "user_id", result.User.ID)
	return result, nil
}

func (s *authService) createSession(ctx context.Context, sessions repository.SessionRepository, userID uuid.UUID) (*models.Session, error) {
	token, err := secrets.RandomToken(secrets.SessionTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to mint session token: %w", err)
	}
	session := &models.Session{
		UserID:    userID,
		Token:     token,
		ExpiresAt: time.Now().UTC().Add(s.sessionTTL),
	}
	if err := sessions.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *authService) Logout(ctx context.Context, token string) error {
	return s.sessions.DeleteByToken(ctx, token)
}

func (s *authService) ValidateSession(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, apierrors.ErrUnauthenticated
	}
	session, err := s.sessions.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if !session.Valid(now) {
		return nil, apierrors.ErrUnauthenticated
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apierrors.ErrUnauthenticated
	}
	profile, err := s.users.GetProfile(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		profile = &models.Profile{UserID: user.ID, Role: models.RoleMember}
	}

	status := models.StatusAuthenticated
	if user.Verified() {
		status = models.StatusVerified
	}
	return &Principal{
		User:        user,
		Profile:     profile,
		Session:     session,
		Status:      status,
		Permissions: models.ResolvePermissions(status, profile.Reputation, profile.InviteSlots, profile.Role),
	}, nil
}

func (s *authService) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	return s.sessions.DeleteExpired(ctx)
}

// visitorPayload is the signed body of a visitor token.
type visitorPayload struct {
	VisitorID string `json:"vid"`
	ExpiresAt int64  `json:"exp"`
}

// IssueVisitorToken mints a ULID visitor ID so pre-registration activity
// sorts by time, and wraps it in a signed, expiring token.
func (s *authService) IssueVisitorToken() (string, string, error) {
	visitorID := ulid.New()
	payload, err := json.Marshal(visitorPayload{
		VisitorID: visitorID,
		ExpiresAt: time.Now().UTC().Add(s.visitorTTL).Unix(),
	})
	if err != nil {
		return "", "", err
	}
	return s.signer.Sign(string(payload)), visitorID, nil
}

func (s *authService) VerifyVisitorToken(token string) (string, error) {
	body, err := s.signer.Verify(token)
	if err != nil {
		return "", apierrors.ErrUnauthenticated
	}
	var payload visitorPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return "", apierrors.ErrUnauthenticated
	}
	if payload.VisitorID == "" || time.Now().UTC().Unix() >= payload.ExpiresAt {
		return "", apierrors.ErrUnauthenticated
	}
	return payload.VisitorID, nil
}

// Compile-time check to ensure authService implements AuthService.
var _ AuthService = (*authService)(nil)

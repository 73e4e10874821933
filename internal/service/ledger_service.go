package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tenderhq/core/internal/models"
	apierrors "github.com/tenderhq/core/internal/pkg/errors"
	"github.com/tenderhq/core/internal/repository"
)

// EntryInput carries the shared fields of a ledger mutation.
type EntryInput struct {
	AccountID      uuid.UUID
	Amount         int64
	Type           models.TransactionType
	ReferenceType  string
	ReferenceID    string
	Description    string
	IdempotencyKey string
	ActorID        uuid.UUID
}

// ReleaseOutcome distinguishes a fresh release from an idempotent no-op on
// an already-terminal hold.
type ReleaseOutcome struct {
	HoldID          uuid.UUID `json:"hold_id"`
	AlreadyTerminal bool      `json:"already_terminal"`
	Status          models.HoldStatus `json:"status"`
}

// LedgerService defines the double-entry credit ledger interface. Every
// public operation is one transaction; the Tx variants run inside a caller's
// transaction so the approval state machine can couple ledger actions to
// status changes atomically.
type LedgerService interface {
	ProvisionAccount(ctx context.Context, companyID uuid.UUID, tier models.SubscriptionTier, periodStart time.Time) (*models.CreditAccount, error)
	Balance(ctx context.Context, accountID uuid.UUID) (*models.BalanceSnapshot, error)
	ListEntries(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.LedgerEntry, error)

	PlaceHold(ctx context.Context, accountID, requestID uuid.UUID, amount int64, idempotencyKey string, actorID uuid.UUID) (uuid.UUID, error)
	ReleaseHold(ctx context.Context, holdID uuid.UUID, actorID uuid.UUID) (*ReleaseOutcome, error)
	ConvertHold(ctx context.Context, holdID uuid.UUID, actualAmount int64, refType, refID, idempotencyKey string, actorID uuid.UUID) (uuid.UUID, error)
	DirectDebit(ctx context.Context, in EntryInput) (uuid.UUID, error)
	Credit(ctx context.Context, in EntryInput) (uuid.UUID, error)

	// GrantAllocation posts a bonus allocation as a credit entry, keyed per
	// account and month. The baseline allocation stays on the account header
	// and never appears in the ledger.
	GrantAllocation(ctx context.Context, accountID uuid.UUID, amount int64, periodStart, periodEnd time.Time, actorID uuid.UUID) (uuid.UUID, error)

	PlaceHoldTx(ctx context.Context, tx pgx.Tx, accountID, requestID uuid.UUID, amount int64, idempotencyKey string, actorID uuid.UUID) (uuid.UUID, error)
	ReleaseHoldTx(ctx context.Context, tx pgx.Tx, holdID uuid.UUID, actorID uuid.UUID) (*ReleaseOutcome, error)
	ConvertHoldTx(ctx context.Context, tx pgx.Tx, holdID uuid.UUID, actualAmount int64, refType, refID, idempotencyKey string, actorID uuid.UUID) (uuid.UUID, error)
}

type ledgerService struct {
	store   repository.TxRunner
	credits repository.CreditRepository
	logger  *slog.Logger
}

// NewLedgerService creates a new ledger service.
func NewLedgerService(store repository.TxRunner, credits repository.CreditRepository, logger *slog.Logger) LedgerService {
	return &ledgerService{store: store, credits: credits, logger: logger}
}

func (s *ledgerService) ProvisionAccount(ctx context.Context, companyID uuid.UUID, tier models.SubscriptionTier, periodStart time.Time) (*models.CreditAccount, error) {
	account := &models.CreditAccount{
		CompanyID:    companyID,
		Tier:         tier,
		PeriodStart:  periodStart,
		PeriodEnd:    periodStart.AddDate(0, 1, 0),
		TotalCredits: models.TierAllocation(tier),
	}
	if err := s.credits.CreateAccount(ctx, account); err != nil {
		if repository.IsUniqueViolation(err, "credit_accounts_company_id_key") {
			return s.credits.GetAccountByCompany(ctx, companyID)
		}
		return nil, err
	}
	return account, nil
}

func (s *ledgerService) Balance(ctx context.Context, accountID uuid.UUID) (*models.BalanceSnapshot, error) {
	snap, err := s.credits.Balance(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, apierrors.NewNotFoundError("Credit account")
	}
	return snap, nil
}

func (s *ledgerService) ListEntries(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	return s.credits.ListEntries(ctx, accountID, limit)
}

// lockedAvailable computes the available balance after taking the account
// row lock, so the result stays true until commit.
func (s *ledgerService) lockedAvailable(ctx context.Context, credits repository.CreditRepository, accountID uuid.UUID) (int64, error) {
	account, err := credits.GetAccountForUpdate(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if account == nil {
		return 0, apierrors.NewNotFoundError("Credit account")
	}
	snap, err := credits.Balance(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if snap.Available < 0 {
		// The account lock should make this unreachable; a negative balance
		// means the books are corrupt.
		return 0, apierrors.NewInvariantViolation(
			fmt.Sprintf("account %s has negative available balance %d", accountID, snap.Available))
	}
	return snap.Available, nil
}

func (s *ledgerService) PlaceHold(ctx context.Context, accountID, requestID uuid.UUID, amount int64, idempotencyKey string, actorID uuid.UUID) (uuid.UUID, error) {
	var holdID uuid.UUID
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		holdID, err = s.PlaceHoldTx(ctx, tx, accountID, requestID, amount, idempotencyKey, actorID)
		return err
	})
	return holdID, err
}

func (s *ledgerService) PlaceHoldTx(ctx context.Context, tx pgx.Tx, accountID, requestID uuid.UUID, amount int64, idempotencyKey string, actorID uuid.UUID) (uuid.UUID, error) {
	if amount <= 0 {
		return uuid.Nil, apierrors.NewValidationError("amount", "must be positive")
	}
	credits := s.credits.WithTx(tx)

	available, err := s.lockedAvailable(ctx, credits, accountID)
	if err != nil {
		return uuid.Nil, err
	}

	// Retry with the same key returns the prior hold without reserving twice.
	if existing, err := credits.GetHoldByRequest(ctx, requestID); err != nil {
		return uuid.Nil, err
	} else if existing != nil {
		if existing.IdempotencyKey == idempotencyKey {
			return existing.ID, nil
		}
		return uuid.Nil, apierrors.ErrInvalidTransition.WithMessage("request already has a hold")
	}

	if amount > available {
		return uuid.Nil, apierrors.NewInsufficientFunds(available)
	}

	hold := &models.CreditHold{
		AccountID:      accountID,
		RequestID:      requestID,
		Amount:         amount,
		Status:         models.HoldActive,
		IdempotencyKey: idempotencyKey,
	}
	if err := credits.InsertHold(ctx, hold); err != nil {
		return uuid.Nil, err
	}
	return hold.ID, nil
}

func (s *ledgerService) ReleaseHold(ctx context.Context, holdID uuid.UUID, actorID uuid.UUID) (*ReleaseOutcome, error) {
	var outcome *ReleaseOutcome
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		outcome, err = s.ReleaseHoldTx(ctx, tx, holdID, actorID)
		return err
	})
	return outcome, err
}

func (s *ledgerService) ReleaseHoldTx(ctx context.Context, tx pgx.Tx, holdID uuid.UUID, actorID uuid.UUID) (*ReleaseOutcome, error) {
	credits := s.credits.WithTx(tx)

	hold, err := credits.GetHoldForUpdate(ctx, holdID)
	if err != nil {
		return nil, err
	}
	if hold == nil {
		return nil, apierrors.NewNotFoundError("Credit hold")
	}
	if hold.Terminal() {
		// Idempotent: releasing an already-terminal hold is a no-op the
		// caller can distinguish.
		return &ReleaseOutcome{HoldID: holdID, AlreadyTerminal: true, Status: hold.Status}, nil
	}
	if err := credits.MarkHold(ctx, holdID, models.HoldReleased); err != nil {
		return nil, err
	}
	return &ReleaseOutcome{HoldID: holdID, Status: models.HoldReleased}, nil
}

func (s *ledgerService) ConvertHold(ctx context.Context, holdID uuid.UUID, actualAmount int64, refType, refID, idempotencyKey string, actorID uuid.UUID) (uuid.UUID, error) {
	var entryID uuid.UUID
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		entryID, err = s.ConvertHoldTx(ctx, tx, holdID, actualAmount, refType, refID, idempotencyKey, actorID)
		return err
	})
	return entryID, err
}

func (s *ledgerService) ConvertHoldTx(ctx context.Context, tx pgx.Tx, holdID uuid.UUID, actualAmount int64, refType, refID, idempotencyKey string, actorID uuid.UUID) (uuid.UUID, error) {
	credits := s.credits.WithTx(tx)

	hold, err := credits.GetHoldForUpdate(ctx, holdID)
	if err != nil {
		return uuid.Nil, err
	}
	if hold == nil {
		return uuid.Nil, apierrors.NewNotFoundError("Credit hold")
	}
	if hold.Status != models.HoldActive {
		// A converted hold with the same idempotency key is a retry; hand
		// back the debit that conversion wrote.
		if hold.Status == models.HoldConverted {
			existing, err := credits.GetEntryByIdempotencyKey(ctx, hold.AccountID, idempotencyKey)
			if err != nil {
				return uuid.Nil, err
			}
			if existing != nil {
				return existing.ID, nil
			}
		}
		return uuid.Nil, apierrors.ErrHoldNotActive
	}
	if actualAmount <= 0 {
		return uuid.Nil, apierrors.NewValidationError("actual_amount", "must be positive")
	}
	// The reservation ceiling: a conversion can never exceed what was held.
	if actualAmount > hold.Amount {
		return uuid.Nil, apierrors.ErrAmountExceedsHold
	}

	// Lock the account after the hold, per the request→hold→account order.
	if _, err := credits.GetAccountForUpdate(ctx, hold.AccountID); err != nil {
		return uuid.Nil, err
	}

	entry := &models.LedgerEntry{
		AccountID:      hold.AccountID,
		Direction:      models.DirectionDebit,
		Amount:         actualAmount,
		Type:           models.TxTypeHoldConversion,
		ReferenceType:  strPtr(refType),
		ReferenceID:    strPtr(refID),
		Description:    "hold conversion",
		IdempotencyKey: idempotencyKey,
		ActorID:        actorID,
	}
	written, _, err := credits.InsertEntry(ctx, entry)
	if err != nil {
		return uuid.Nil, err
	}

	if err := credits.MarkHold(ctx, holdID, models.HoldConverted); err != nil {
		return uuid.Nil, err
	}
	// The unreserved remainder (hold.Amount − actualAmount) returns to the
	// available balance implicitly: the hold no longer counts once converted.
	return written.ID, nil
}

func (s *ledgerService) DirectDebit(ctx context.Context, in EntryInput) (uuid.UUID, error) {
	if in.Amount <= 0 {
		return uuid.Nil, apierrors.NewValidationError("amount", "must be positive")
	}
	var entryID uuid.UUID
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		credits := s.credits.WithTx(tx)

		available, err := s.lockedAvailable(ctx, credits, in.AccountID)
		if err != nil {
			return err
		}

		// An idempotent retry must succeed even if the balance has since
		// been drained, so probe the key before the funds check.
		if existing, err := credits.GetEntryByIdempotencyKey(ctx, in.AccountID, in.IdempotencyKey); err != nil {
			return err
		} else if existing != nil {
			entryID = existing.ID
			return nil
		}

		if in.Amount > available {
			return apierrors.NewInsufficientFunds(available)
		}

		entry := s.buildEntry(in, models.DirectionDebit)
		written, _, err := credits.InsertEntry(ctx, entry)
		if err != nil {
			return err
		}
		entryID = written.ID
		return nil
	})
	return entryID, err
}

func (s *ledgerService) Credit(ctx context.Context, in EntryInput) (uuid.UUID, error) {
	if in.Amount <= 0 {
		return uuid.Nil, apierrors.NewValidationError("amount", "must be positive")
	}
	var entryID uuid.UUID
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		credits := s.credits.WithTx(tx)

		// Credits never fail for balance reasons, but still serialize on the
		// account row so commit order is total per account.
		if _, err := s.lockedAvailable(ctx, credits, in.AccountID); err != nil {
			return err
		}

		entry := s.buildEntry(in, models.DirectionCredit)
		written, _, err := credits.InsertEntry(ctx, entry)
		if err != nil {
			return err
		}
		entryID = written.ID
		return nil
	})
	return entryID, err
}

func (s *ledgerService) GrantAllocation(ctx context.Context, accountID uuid.UUID, amount int64, periodStart, periodEnd time.Time, actorID uuid.UUID) (uuid.UUID, error) {
	key := fmt.Sprintf("allocation:%s:%s", accountID, periodStart.UTC().Format("2006-01"))
	return s.Credit(ctx, EntryInput{
		AccountID:      accountID,
		Amount:         amount,
		Type:           models.TxTypeAllocation,
		Description:    "monthly allocation grant",
		IdempotencyKey: key,
		ActorID:        actorID,
	})
}

func (s *ledgerService) buildEntry(in EntryInput, direction models.EntryDirection) *models.LedgerEntry {
	return &models.LedgerEntry{
		AccountID:      in.AccountID,
		Direction:      direction,
		Amount:         in.Amount,
		Type:           in.Type,
		ReferenceType:  strPtr(in.ReferenceType),
		ReferenceID:    strPtr(in.ReferenceID),
		Description:    in.Description,
		IdempotencyKey: in.IdempotencyKey,
		ActorID:        in.ActorID,
	}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Compile-time check to ensure ledgerService implements LedgerService.
var _ LedgerService = (*ledgerService)(nil)

package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tenderhq/core/internal/models"
)

// CreditRepository defines the interface for credit account, ledger entry
// and hold operations.
type CreditRepository interface {
	WithTx(tx pgx.Tx) CreditRepository

	CreateAccount(ctx context.Context, account *models.CreditAccount) error
	GetAccount(ctx context.Context, id uuid.UUID) (*models.CreditAccount, error)
	GetAccountByCompany(ctx context.Context, companyID uuid.UUID) (*models.CreditAccount, error)
	// GetAccountForUpdate locks the account header row; this lock serializes
	// every balance-changing operation on the account.
	GetAccountForUpdate(ctx context.Context, id uuid.UUID) (*models.CreditAccount, error)

	// Balance computes the derived balance from the header, the entry sums
	// and the active hold sum, all through the same querier for consistency.
	Balance(ctx context.Context, accountID uuid.UUID) (*models.BalanceSnapshot, error)

	// InsertEntry appends a ledger entry. On an (account_id, idempotency_key)
	// conflict it returns the previously written entry and inserted=false.
	InsertEntry(ctx context.Context, entry *models.LedgerEntry) (result *models.LedgerEntry, inserted bool, err error)
	GetEntryByIdempotencyKey(ctx context.Context, accountID uuid.UUID, key string) (*models.LedgerEntry, error)
	ListEntries(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.LedgerEntry, error)
	// SumDebitsByReference totals debit entries referencing a given object.
	SumDebitsByReference(ctx context.Context, refType, refID string) (int64, error)

	InsertHold(ctx context.Context, hold *models.CreditHold) error
	GetHold(ctx context.Context, id uuid.UUID) (*models.CreditHold, error)
	GetHoldByRequest(ctx context.Context, requestID uuid.UUID) (*models.CreditHold, error)
	// GetHoldForUpdate locks the hold row for a status transition.
	GetHoldForUpdate(ctx context.Context, id uuid.UUID) (*models.CreditHold, error)
	// MarkHold flips an active hold to a terminal status, stamping the
	// matching terminal timestamp.
	MarkHold(ctx context.Context, id uuid.UUID, status models.HoldStatus) error
}

type creditRepo struct {
	db DBTX
}

// NewCreditRepository creates a new credit repository.
func NewCreditRepository(db DBTX) CreditRepository {
	return &creditRepo{db: db}
}

func (r *creditRepo) WithTx(tx pgx.Tx) CreditRepository {
	return &creditRepo{db: tx}
}

const accountColumns = `id, company_id, tier, period_start, period_end, total_credits, bonus_credits, created_at, updated_at`

func scanAccount(row pgx.Row) (*models.CreditAccount, error) {
	var a models.CreditAccount
	err := row.Scan(
		&a.ID,
		&a.CompanyID,
		&a.Tier,
		&a.PeriodStart,
		&a.PeriodEnd,
		&a.TotalCredits,
		&a.BonusCredits,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *creditRepo) CreateAccount(ctx context.Context, account *models.CreditAccount) error {
	query := `
		INSERT INTO credit_accounts (id, company_id, tier, period_start, period_end, total_credits, bonus_credits)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`

	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	return r.db.QueryRow(ctx, query,
		account.ID,
		account.CompanyID,
		account.Tier,
		account.PeriodStart,
		account.PeriodEnd,
		account.TotalCredits,
		account.BonusCredits,
	).Scan(&account.CreatedAt, &account.UpdatedAt)
}

func (r *creditRepo) GetAccount(ctx context.Context, id uuid.UUID) (*models.CreditAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM credit_accounts WHERE id = $1`
	return scanAccount(r.db.QueryRow(ctx, query, id))
}

func (r *creditRepo) GetAccountByCompany(ctx context.Context, companyID uuid.UUID) (*models.CreditAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM credit_accounts WHERE company_id = $1`
	return scanAccount(r.db.QueryRow(ctx, query, companyID))
}

func (r *creditRepo) GetAccountForUpdate(ctx context.Context, id uuid.UUID) (*models.CreditAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM credit_accounts WHERE id = $1 FOR UPDATE`
	return scanAccount(r.db.QueryRow(ctx, query, id))
}

func (r *creditRepo) Balance(ctx context.Context, accountID uuid.UUID) (*models.BalanceSnapshot, error) {
	account, err := r.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, nil
	}

	entryQuery := `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE direction = 'credit'), 0),
			COALESCE(SUM(amount) FILTER (WHERE direction = 'debit'), 0)
		FROM ledger_entries WHERE account_id = $1`

	snap := &models.BalanceSnapshot{
		AccountID:    accountID,
		TotalCredits: account.TotalCredits,
		BonusCredits: account.BonusCredits,
		AsOf:         time.Now().UTC(),
	}
	if err := r.db.QueryRow(ctx, entryQuery, accountID).Scan(&snap.CreditEntries, &snap.DebitEntries); err != nil {
		return nil, err
	}

	holdQuery := `
		SELECT COALESCE(SUM(amount), 0)
		FROM credit_holds WHERE account_id = $1 AND status = 'active'`
	if err := r.db.QueryRow(ctx, holdQuery, accountID).Scan(&snap.ActiveHolds); err != nil {
		return nil, err
	}

	snap.Available = snap.TotalCredits + snap.BonusCredits + snap.CreditEntries - snap.DebitEntries - snap.ActiveHolds
	return snap, nil
}

const entryColumns = `id, account_id, direction, amount, type, reference_type, reference_id, description, idempotency_key, actor_id, created_at`

func scanEntry(row pgx.Row) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := row.Scan(
		&e.ID,
		&e.AccountID,
		&e.Direction,
		&e.Amount,
		&e.Type,
		&e.ReferenceType,
		&e.ReferenceID,
		&e.Description,
		&e.IdempotencyKey,
		&e.ActorID,
		&e.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *creditRepo) InsertEntry(ctx context.Context, entry *models.LedgerEntry) (*models.LedgerEntry, bool, error) {
	query := `
		INSERT INTO ledger_entries (id, account_id, direction, amount, type, reference_type, reference_id, description, idempotency_key, actor_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	inserted, err := insertWithSavepoint(ctx, r.db, "ledger_entries_account_id_idempotency_key_key", query,
		entry.ID,
		entry.AccountID,
		entry.Direction,
		entry.Amount,
		entry.Type,
		entry.ReferenceType,
		entry.ReferenceID,
		entry.Description,
		entry.IdempotencyKey,
		entry.ActorID,
	)
	if err != nil {
		return nil, false, err
	}
	if !inserted {
		existing, err := r.GetEntryByIdempotencyKey(ctx, entry.AccountID, entry.IdempotencyKey)
		return existing, false, err
	}
	entry.CreatedAt = time.Now().UTC()
	return entry, true, nil
}

func (r *creditRepo) GetEntryByIdempotencyKey(ctx context.Context, accountID uuid.UUID, key string) (*models.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE account_id = $1 AND idempotency_key = $2`
	return scanEntry(r.db.QueryRow(ctx, query, accountID, key))
}

func (r *creditRepo) ListEntries(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2`

	rows, err := r.db.Query(ctx, query, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *creditRepo) SumDebitsByReference(ctx context.Context, refType, refID string) (int64, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM ledger_entries
		WHERE direction = 'debit' AND reference_type = $1 AND reference_id = $2`

	var total int64
	err := r.db.QueryRow(ctx, query, refType, refID).Scan(&total)
	return total, err
}

const holdColumns = `id, account_id, request_id, amount, status, idempotency_key, created_at, converted_at, released_at`

func scanHold(row pgx.Row) (*models.CreditHold, error) {
	var h models.CreditHold
	err := row.Scan(
		&h.ID,
		&h.AccountID,
		&h.RequestID,
		&h.Amount,
		&h.Status,
		&h.IdempotencyKey,
		&h.CreatedAt,
		&h.ConvertedAt,
		&h.ReleasedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (r *creditRepo) InsertHold(ctx context.Context, hold *models.CreditHold) error {
	query := `
		INSERT INTO credit_holds (id, account_id, request_id, amount, status, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	if hold.ID == uuid.Nil {
		hold.ID = uuid.New()
	}
	return r.db.QueryRow(ctx, query,
		hold.ID,
		hold.AccountID,
		hold.RequestID,
		hold.Amount,
		hold.Status,
		hold.IdempotencyKey,
	).Scan(&hold.CreatedAt)
}

func (r *creditRepo) GetHold(ctx context.Context, id uuid.UUID) (*models.CreditHold, error) {
	query := `SELECT ` + holdColumns + ` FROM credit_holds WHERE id = $1`
	return scanHold(r.db.QueryRow(ctx, query, id))
}

func (r *creditRepo) GetHoldByRequest(ctx context.Context, requestID uuid.UUID) (*models.CreditHold, error) {
	query := `SELECT ` + holdColumns + ` FROM credit_holds WHERE request_id = $1`
	return scanHold(r.db.QueryRow(ctx, query, requestID))
}

func (r *creditRepo) GetHoldForUpdate(ctx context.Context, id uuid.UUID) (*models.CreditHold, error) {
	query := `SELECT ` + holdColumns + ` FROM credit_holds WHERE id = $1 FOR UPDATE`
	return scanHold(r.db.QueryRow(ctx, query, id))
}

func (r *creditRepo) MarkHold(ctx context.Context, id uuid.UUID, status models.HoldStatus) error {
	var query string
	switch status {
	case models.HoldConverted:
		query = `UPDATE credit_holds SET status = $2, converted_at = NOW() WHERE id = $1`
	case models.HoldReleased:
		query = `UPDATE credit_holds SET status = $2, released_at = NOW() WHERE id = $1`
	default:
		return errors.New("holds only transition to converted or released")
	}
	_, err := r.db.Exec(ctx, query, id, status)
	return err
}

// Compile-time check to ensure creditRepo implements CreditRepository.
var _ CreditRepository = (*creditRepo)(nil)

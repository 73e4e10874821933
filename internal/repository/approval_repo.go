package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tenderhq/core/internal/models"
)

// ApprovalRepository defines the interface for approval request, rule and
// event operations.
type ApprovalRepository interface {
	WithTx(tx pgx.Tx) ApprovalRepository

	Create(ctx context.Context, req *models.ApprovalRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ApprovalRequest, error)
	// GetForUpdate locks the request row. Transition code takes this lock
	// first, then the hold, then the account; never the reverse.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.ApprovalRequest, error)
	Update(ctx context.Context, req *models.ApprovalRequest) error
	ListPendingExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)

	// MatchRule returns the highest-priority rule bracketing the credit
	// amount for the company, or nil when no rule matches.
	MatchRule(ctx context.Context, companyID uuid.UUID, credits int64) (*models.ApprovalRule, error)
	CreateRule(ctx context.Context, rule *models.ApprovalRule) error
	ListRules(ctx context.Context, companyID uuid.UUID) ([]*models.ApprovalRule, error)
	DeleteRule(ctx context.Context, id uuid.UUID) error

	AppendEvent(ctx context.Context, event *models.ApprovalEvent) error
	ListEvents(ctx context.Context, requestID uuid.UUID) ([]*models.ApprovalEvent, error)
}

type approvalRepo struct {
	db DBTX
}

// NewApprovalRepository creates a new approval repository.
func NewApprovalRepository(db DBTX) ApprovalRepository {
	return &approvalRepo{db: db}
}

func (r *approvalRepo) WithTx(tx pgx.Tx) ApprovalRepository {
	return &approvalRepo{db: tx}
}

const requestColumns = `id, company_id, team_id, requester_id, request_type, status, title, description,
	estimated_credits, actual_credits, approver_tier, current_approver, escalation_count,
	decision_reason, decided_by, created_at, submitted_at, decided_at, fulfilled_at, expires_at`

func scanRequest(row pgx.Row) (*models.ApprovalRequest, error) {
	var req models.ApprovalRequest
	err := row.Scan(
		&req.ID,
		&req.CompanyID,
		&req.TeamID,
		&req.RequesterID,
		&req.RequestType,
		&req.Status,
		&req.Title,
		&req.Description,
		&req.EstimatedCredits,
		&req.ActualCredits,
		&req.ApproverTier,
		&req.CurrentApprover,
		&req.EscalationCount,
		&req.DecisionReason,
		&req.DecidedBy,
		&req.CreatedAt,
		&req.SubmittedAt,
		&req.DecidedAt,
		&req.FulfilledAt,
		&req.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *approvalRepo) Create(ctx context.Context, req *models.ApprovalRequest) error {
	query := `
		INSERT INTO approval_requests (id, company_id, team_id, requester_id, request_type, status, title, description, estimated_credits)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`

	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.Status == "" {
		req.Status = models.StatusDraft
	}
	return r.db.QueryRow(ctx, query,
		req.ID,
		req.CompanyID,
		req.TeamID,
		req.RequesterID,
		req.RequestType,
		req.Status,
		req.Title,
		req.Description,
		req.EstimatedCredits,
	).Scan(&req.CreatedAt)
}

func (r *approvalRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.ApprovalRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM approval_requests WHERE id = $1`
	return scanRequest(r.db.QueryRow(ctx, query, id))
}

func (r *approvalRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.ApprovalRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM approval_requests WHERE id = $1 FOR UPDATE`
	return scanRequest(r.db.QueryRow(ctx, query, id))
}

func (r *approvalRepo) Update(ctx context.Context, req *models.ApprovalRequest) error {
	query := `
		UPDATE approval_requests SET
			status = $2,
			actual_credits = $3,
			approver_tier = $4,
			current_approver = $5,
			escalation_count = $6,
			decision_reason = $7,
			decided_by = $8,
			submitted_at = $9,
			decided_at = $10,
			fulfilled_at = $11,
			expires_at = $12
		WHERE id = $1`

	_, err := r.db.Exec(ctx, query,
		req.ID,
		req.Status,
		req.ActualCredits,
		req.ApproverTier,
		req.CurrentApprover,
		req.EscalationCount,
		req.DecisionReason,
		req.DecidedBy,
		req.SubmittedAt,
		req.DecidedAt,
		req.FulfilledAt,
		req.ExpiresAt,
	)
	return err
}

func (r *approvalRepo) ListPendingExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id FROM approval_requests
		WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const ruleColumns = `id, company_id, min_credits, max_credits, tier, escalation_hours, priority, created_at`

func scanRule(row pgx.Row) (*models.ApprovalRule, error) {
	var rule models.ApprovalRule
	err := row.Scan(
		&rule.ID,
		&rule.CompanyID,
		&rule.MinCredits,
		&rule.MaxCredits,
		&rule.Tier,
		&rule.EscalationHours,
		&rule.Priority,
		&rule.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *approvalRepo) MatchRule(ctx context.Context, companyID uuid.UUID, credits int64) (*models.ApprovalRule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM approval_rules
		WHERE company_id = $1 AND min_credits <= $2 AND max_credits >= $2
		ORDER BY priority DESC
		LIMIT 1`
	return scanRule(r.db.QueryRow(ctx, query, companyID, credits))
}

func (r *approvalRepo) CreateRule(ctx context.Context, rule *models.ApprovalRule) error {
	query := `
		INSERT INTO approval_rules (id, company_id, min_credits, max_credits, tier, escalation_hours, priority)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`

	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	return r.db.QueryRow(ctx, query,
		rule.ID,
		rule.CompanyID,
		rule.MinCredits,
		rule.MaxCredits,
		rule.Tier,
		rule.EscalationHours,
		rule.Priority,
	).Scan(&rule.CreatedAt)
}

func (r *approvalRepo) ListRules(ctx context.Context, companyID uuid.UUID) ([]*models.ApprovalRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM approval_rules WHERE company_id = $1 ORDER BY priority DESC`

	rows, err := r.db.Query(ctx, query, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*models.ApprovalRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r *approvalRepo) DeleteRule(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM approval_rules WHERE id = $1`, id)
	return err
}

func (r *approvalRepo) AppendEvent(ctx context.Context, event *models.ApprovalEvent) error {
	query := `
		INSERT INTO approval_events (id, request_id, from_status, to_status, actor_id, reason, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	return r.db.QueryRow(ctx, query,
		event.ID,
		event.RequestID,
		event.FromStatus,
		event.ToStatus,
		event.ActorID,
		event.Reason,
		event.Metadata,
	).Scan(&event.CreatedAt)
}

func (r *approvalRepo) ListEvents(ctx context.Context, requestID uuid.UUID) ([]*models.ApprovalEvent, error) {
	query := `
		SELECT id, request_id, from_status, to_status, actor_id, reason, metadata, created_at
		FROM approval_events WHERE request_id = $1 ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.ApprovalEvent
	for rows.Next() {
		var e models.ApprovalEvent
		if err := rows.Scan(
			&e.ID,
			&e.RequestID,
			&e.FromStatus,
			&e.ToStatus,
			&e.ActorID,
			&e.Reason,
			&e.Metadata,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// Compile-time check to ensure approvalRepo implements ApprovalRepository.
var _ ApprovalRepository = (*approvalRepo)(nil)

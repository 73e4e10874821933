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

// defaultEscalationWindow applies when the matched rule carries no
// escalation_hours; pending requests never sit unbounded.
const defaultEscalationWindow = 72 * time.Hour

// CreateRequestInput carries the fields for drafting an approval request.
type CreateRequestInput struct {
	CompanyID        uuid.UUID
	TeamID           *uuid.UUID
	RequesterID      uuid.UUID
	RequestType      string
	Title            string
	Description      string
	EstimatedCredits int64
}

// Actor identifies who is driving a transition and with what authority.
type Actor struct {
	ID   uuid.UUID
	Role models.Role
}

// ApprovalService drives the approval request state machine. Every
// transition couples its status change and its ledger action (hold
// placement, release or conversion) in one transaction.
type ApprovalService interface {
	CreateDraft(ctx context.Context, in CreateRequestInput) (*models.ApprovalRequest, error)
	Get(ctx context.Context, id uuid.UUID) (*models.ApprovalRequest, error)
	Events(ctx context.Context, id uuid.UUID) ([]*models.ApprovalEvent, error)

	Submit(ctx context.Context, requestID uuid.UUID, actor Actor) (*models.ApprovalRequest, error)
	Approve(ctx context.Context, requestID uuid.UUID, actor Actor) (*models.ApprovalRequest, error)
	Deny(ctx context.Context, requestID uuid.UUID, actor Actor, reason string) (*models.ApprovalRequest, error)
	Cancel(ctx context.Context, requestID uuid.UUID, actor Actor) (*models.ApprovalRequest, error)
	Fulfill(ctx context.Context, requestID uuid.UUID, actualCredits int64, refType, refID string, actor Actor) (*models.ApprovalRequest, error)
	Escalate(ctx context.Context, requestID uuid.UUID, actor Actor) (*models.ApprovalRequest, error)

	// ExpireOverdue sweeps pending requests whose expiry has passed,
	// releasing their holds. Returns how many were expired.
	ExpireOverdue(ctx context.Context) (int, error)

	CreateRule(ctx context.Context, rule *models.ApprovalRule) error
	ListRules(ctx context.Context, companyID uuid.UUID) ([]*models.ApprovalRule, error)
	DeleteRule(ctx context.Context, id uuid.UUID) error
}

type approvalService struct {
	store      repository.TxRunner
	approvals  repository.ApprovalRepository
	credits    repository.CreditRepository
	ledger     LedgerService
	sweepBatch int
	logger     *slog.Logger
}

// NewApprovalService creates a new approval service.
func NewApprovalService(
	store repository.TxRunner,
	approvals repository.ApprovalRepository,
	credits repository.CreditRepository,
	ledger LedgerService,
	sweepBatch int,
	logger *slog.Logger,
) ApprovalService {
	if sweepBatch <= 0 {
		sweepBatch = 100
	}
	return &approvalService{
		store:      store,
		approvals:  approvals,
		credits:    credits,
		ledger:     ledger,
		sweepBatch: sweepBatch,
		logger:     logger,
	}
}

func (s *approvalService) CreateDraft(ctx context.Context, in CreateRequestInput) (*models.ApprovalRequest, error) {
	if in.EstimatedCredits <= 0 {
		return nil, apierrors.NewValidationError("estimated_credits", "must be positive")
	}
	req := &models.ApprovalRequest{
		CompanyID:        in.CompanyID,
		TeamID:           in.TeamID,
		RequesterID:      in.RequesterID,
		RequestType:      in.RequestType,
		Status:           models.StatusDraft,
		Title:            in.Title,
		Description:      in.Description,
		EstimatedCredits: in.EstimatedCredits,
	}
	if err := s.approvals.Create(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

func (s *approvalService) Get(ctx context.Context, id uuid.UUID) (*models.ApprovalRequest, error) {
	req, err := s.approvals.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, apierrors.NewNotFoundError("Approval request")
	}
	return req, nil
}

func (s *approvalService) Events(ctx context.Context, id uuid.UUID) ([]*models.ApprovalEvent, error) {
	return s.approvals.ListEvents(ctx, id)
}

// lockRequest fetches the request row under an exclusive lock. Transition
// code always takes this lock before touching the hold or the account.
func lockRequest(ctx context.Context, approvals repository.ApprovalRepository, id uuid.UUID) (*models.ApprovalRequest, error) {
	req, err := approvals.GetForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, apierrors.NewNotFoundError("Approval request")
	}
	return req, nil
}

func transitionRefused(req *models.ApprovalRequest, action models.ApprovalAction) error {
	return apierrors.ErrInvalidTransition.WithMessage(
		fmt.Sprintf("cannot %s a request in status %q", action, req.Status))
}

func (s *approvalService) Submit(ctx context.Context, requestID uuid.UUID, actor Actor) (*models.ApprovalRequest, error) {
	var out *models.ApprovalRequest
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		approvals := s.approvals.WithTx(tx)

		req, err := lockRequest(ctx, approvals, requestID)
		if err != nil {
			return err
		}
		if req.RequesterID != actor.ID && !actor.Role.AtLeast(models.RoleAdmin) {
			return apierrors.ErrUnauthorized
		}
		// A retried submit is a no-op: the hold and the submitted event from
		// the first attempt stand.
		if req.Status == models.StatusPending || req.Status == models.StatusApproved {
			out = req
			return nil
		}
		if req.Status != models.StatusDraft {
			return transitionRefused(req, models.ActionSubmit)
		}

		rule, err := approvals.MatchRule(ctx, req.CompanyID, req.EstimatedCredits)
		if err != nil {
			return err
		}
		// Unrouted amounts go to the strictest tier rather than slipping
		// through auto-approval.
		tier := models.TierAdminRole
		window := defaultEscalationWindow
		if rule != nil {
			tier = rule.Tier
			if rule.EscalationHours != nil {
				window = time.Duration(*rule.EscalationHours) * time.Hour
			}
		}

		account, err := s.credits.WithTx(tx).GetAccountByCompany(ctx, req.CompanyID)
		if err != nil {
			return err
		}
		if account == nil {
			return apierrors.NewNotFoundError("Credit account")
		}

		// Insufficient funds aborts the whole transaction and the request
		// stays in draft.
		key := fmt.Sprintf("request:submit:%s", req.ID)
		if _, err := s.ledger.PlaceHoldTx(ctx, tx, account.ID, req.ID, req.EstimatedCredits, key, actor.ID); err != nil {
			return err
		}

		now := time.Now().UTC()
		expiry := now.Add(window)
		req.Status = models.StatusPending
		req.ApproverTier = tier
		req.SubmittedAt = &now
		req.ExpiresAt = &expiry

		if err := appendTransition(ctx, approvals, req, models.StatusDraft, models.StatusPending, actor.ID, nil); err != nil {
			return err
		}

		if tier == models.TierAuto {
			reason := "auto-approved by rule"
			req.Status = models.StatusApproved
			req.DecidedAt = &now
			req.DecisionReason = &reason
			if err := appendTransition(ctx, approvals, req, models.StatusPending, models.StatusApproved, actor.ID, &reason); err != nil {
				return err
			}
		}

		if err := approvals.Update(ctx, req); err != nil {
			return err
		}
		out = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("approval request submitted",
		"request_id", out.ID,
		"status", out.Status,
		"tier", out.ApproverTier,
		"estimated_credits", out.EstimatedCredits)
	return out, nil
}

// roleSatisfiesTier reports whether a role may decide requests routed to the
// given tier. Auto-tier requests never reach a human decision path.
func roleSatisfiesTier(role models.Role, tier models.ApproverTier) bool {
	switch tier {
	case models.TierApproverRole:
		return role.AtLeast(models.RoleApprover)
	case models.TierAdminRole:
		return role.AtLeast(models.RoleAdmin)
	default:
		return false
	}
}

func (s *approvalService) authorizeDecision(req *models.ApprovalRequest, actor Actor) error {
	if req.CurrentApprover != nil && *req.CurrentApprover == actor.ID {
		return nil
	}
	if roleSatisfiesTier(actor.Role, req.ApproverTier) {
		return nil
	}
	return apierrors.ErrUnauthorized
}

func (s *approvalService) Approve(ctx context.Context, requestID uuid.UUID, actor Actor) (*models.ApprovalRequest, error) {
	var out *models.ApprovalRequest
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		approvals := s.approvals.WithTx(tx)

		req, err := lockRequest(ctx, approvals, requestID)
		if err != nil {
			return err
		}
		if req.Status != models.StatusPending {
			return transitionRefused(req, models.ActionApprove)
		}
		if err := s.authorizeDecision(req, actor); err != nil {
			return err
		}

		now := time.Now().UTC()
		req.Status = models.StatusApproved
		req.DecidedBy = &actor.ID
		req.DecidedAt = &now

		// The hold stays active until fulfillment converts it.
		if err := appendTransition(ctx, approvals, req, models.StatusPending, models.StatusApproved, actor.ID, nil); err != nil {
			return err
		}
		if err := approvals.Update(ctx, req); err != nil {
			return err
		}
		out = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("approval request approved", "request_id", out.ID, "decided_by", actor.ID)
	return out, nil
}

func (s *approvalService) Deny(ctx context.Context, requestID uuid.UUID, actor Actor, reason string) (*models.ApprovalRequest, error) {
	var out *models.ApprovalRequest
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		approvals := s.approvals.WithTx(tx)

		req, err := lockRequest(ctx, approvals, requestID)
		if err != nil {
			return err
		}
		if req.Status != models.StatusPending {
			return transitionRefused(req, models.ActionDeny)
		}
		if err := s.authorizeDecision(req, actor); err != nil {
			return err
		}

		if err := s.releaseRequestHold(ctx, tx, req.ID, actor.ID); err != nil {
			return err
		}

		now := time.Now().UTC()
		req.Status = models.StatusDenied
		req.DecidedBy = &actor.ID
		req.DecidedAt = &now
		req.DecisionReason = &reason

		if err := appendTransition(ctx, approvals, req, models.StatusPending, models.StatusDenied, actor.ID, &reason); err != nil {
			return err
		}
		if err := approvals.Update(ctx, req); err != nil {
			return err
		}
		out = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("approval request denied", "request_id", out.ID, "decided_by", actor.ID)
	return out, nil
}

func (s *approvalService) Cancel(ctx context.Context, requestID uuid.UUID, actor Actor) (*models.ApprovalRequest, error) {
	var out *models.ApprovalRequest
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		approvals := s.approvals.WithTx(tx)

		req, err := lockRequest(ctx, approvals, requestID)
		if err != nil {
			return err
		}
		if req.Status != models.StatusDraft && req.Status != models.StatusPending {
			return transitionRefused(req, models.ActionCancel)
		}
		if req.RequesterID != actor.ID && !actor.Role.AtLeast(models.RoleAdmin) {
			return apierrors.ErrUnauthorized
		}

		from := req.Status
		// Draft requests have no hold yet.
		if from == models.StatusPending {
			if err := s.releaseRequestHold(ctx, tx, req.ID, actor.ID); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		req.Status = models.StatusCancelled
		req.DecidedBy = &actor.ID
		req.DecidedAt = &now

		if err := appendTransition(ctx, approvals, req, from, models.StatusCancelled, actor.ID, nil); err != nil {
			return err
		}
		if err := approvals.Update(ctx, req); err != nil {
			return err
		}
		out = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("approval request cancelled", "request_id", out.ID, "actor_id", actor.ID)
	return out, nil
}

func (s *approvalService) Fulfill(ctx context.Context, requestID uuid.UUID, actualCredits int64, refType, refID string, actor Actor) (*models.ApprovalRequest, error) {
	var out *models.ApprovalRequest
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		approvals := s.approvals.WithTx(tx)

		req, err := lockRequest(ctx, approvals, requestID)
		if err != nil {
			return err
		}
		if req.Status != models.StatusApproved {
			return transitionRefused(req, models.ActionFulfill)
		}
		// Fulfillment is for the requester, someone who could have decided
		// the request, or an admin. Auto-approved requests carry the auto
		// tier, which no role satisfies, so the admin check stands alone.
		if req.RequesterID != actor.ID &&
			!roleSatisfiesTier(actor.Role, req.ApproverTier) &&
			!actor.Role.AtLeast(models.RoleAdmin) {
			return apierrors.ErrUnauthorized
		}

		hold, err := s.credits.WithTx(tx).GetHoldByRequest(ctx, req.ID)
		if err != nil {
			return err
		}
		if hold == nil {
			return apierrors.NewInvariantViolation(
				fmt.Sprintf("approved request %s has no hold", req.ID))
		}

		// Conversion debits the actual spend; the unspent remainder of the
		// hold returns to the available balance implicitly.
		key := fmt.Sprintf("request:fulfill:%s", req.ID)
		if _, err := s.ledger.ConvertHoldTx(ctx, tx, hold.ID, actualCredits, refType, refID, key, actor.ID); err != nil {
			return err
		}

		now := time.Now().UTC()
		req.Status = models.StatusFulfilled
		req.ActualCredits = &actualCredits
		req.FulfilledAt = &now

		if err := appendTransition(ctx, approvals, req, models.StatusApproved, models.StatusFulfilled, actor.ID, nil); err != nil {
			return err
		}
		if err := approvals.Update(ctx, req); err != nil {
			return err
		}
		out = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("approval request fulfilled",
		"request_id", out.ID,
		"actual_credits", actualCredits)
	return out, nil
}

func (s *approvalService) Escalate(ctx context.Context, requestID uuid.UUID, actor Actor) (*models.ApprovalRequest, error) {
	var out *models.ApprovalRequest
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		approvals := s.approvals.WithTx(tx)

		req, err := lockRequest(ctx, approvals, requestID)
		if err != nil {
			return err
		}
		if req.Status != models.StatusPending {
			return transitionRefused(req, models.ActionEscalate)
		}
		if req.ApproverTier == models.TierAdminRole {
			return apierrors.ErrInvalidTransition.WithMessage("request is already at the highest approver tier")
		}

		now := time.Now().UTC()
		expiry := now.Add(defaultEscalationWindow)
		req.ApproverTier = models.TierAdminRole
		req.CurrentApprover = nil
		req.EscalationCount++
		req.ExpiresAt = &expiry

		event := &models.ApprovalEvent{
			RequestID:  req.ID,
			FromStatus: models.StatusPending,
			ToStatus:   models.StatusPending,
			ActorID:    actor.ID,
			Metadata: map[string]any{
				"action":           string(models.ActionEscalate),
				"escalation_count": req.EscalationCount,
				"tier":             string(req.ApproverTier),
			},
		}
		if err := approvals.AppendEvent(ctx, event); err != nil {
			return err
		}
		if err := approvals.Update(ctx, req); err != nil {
			return err
		}
		out = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("approval request escalated",
		"request_id", out.ID,
		"escalation_count", out.EscalationCount)
	return out, nil
}

func (s *approvalService) ExpireOverdue(ctx context.Context) (int, error) {
	ids, err := s.approvals.ListPendingExpired(ctx, time.Now().UTC(), s.sweepBatch)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, id := range ids {
		// One transaction per request; a failure on one does not wedge the
		// rest of the sweep.
		err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
			approvals := s.approvals.WithTx(tx)

			req, err := approvals.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			// Someone may have decided it between the list and the lock.
			if req == nil || req.Status != models.StatusPending ||
				req.ExpiresAt == nil || req.ExpiresAt.After(time.Now().UTC()) {
				return nil
			}

			if err := s.releaseRequestHold(ctx, tx, req.ID, uuid.Nil); err != nil {
				return err
			}

			now := time.Now().UTC()
			req.Status = models.StatusExpired
			req.DecidedAt = &now
			if err := appendTransition(ctx, approvals, req, models.StatusPending, models.StatusExpired, uuid.Nil, nil); err != nil {
				return err
			}
			if err := approvals.Update(ctx, req); err != nil {
				return err
			}
			expired++
			return nil
		})
		if err != nil {
			s.logger.Error("failed to expire approval request", "request_id", id, "error", err)
		}
	}
	if expired > 0 {
		s.logger.Info("expired overdue approval requests", "count", expired)
	}
	return expired, nil
}

// releaseRequestHold releases the hold backing a request, tolerating holds
// already terminal from a prior attempt at the same transition.
func (s *approvalService) releaseRequestHold(ctx context.Context, tx pgx.Tx, requestID, actorID uuid.UUID) error {
	hold, err := s.credits.WithTx(tx).GetHoldByRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if hold == nil {
		return apierrors.NewInvariantViolation(
			fmt.Sprintf("pending request %s has no hold", requestID))
	}
	_, err = s.ledger.ReleaseHoldTx(ctx, tx, hold.ID, actorID)
	return err
}

func appendTransition(ctx context.Context, approvals repository.ApprovalRepository, req *models.ApprovalRequest, from, to models.ApprovalStatus, actorID uuid.UUID, reason *string) error {
	return approvals.AppendEvent(ctx, &models.ApprovalEvent{
		RequestID:  req.ID,
		FromStatus: from,
		ToStatus:   to,
		ActorID:    actorID,
		Reason:     reason,
	})
}

func (s *approvalService) CreateRule(ctx context.Context, rule *models.ApprovalRule) error {
	if rule.MinCredits < 0 || rule.MaxCredits < rule.MinCredits {
		return apierrors.NewValidationError("max_credits", "range must satisfy 0 <= min <= max")
	}
	switch rule.Tier {
	case models.TierAuto, models.TierApproverRole, models.TierAdminRole:
	default:
		return apierrors.NewValidationError("tier", "must be auto, approver or admin")
	}
	return s.approvals.CreateRule(ctx, rule)
}

func (s *approvalService) ListRules(ctx context.Context, companyID uuid.UUID) ([]*models.ApprovalRule, error) {
	return s.approvals.ListRules(ctx, companyID)
}

func (s *approvalService) DeleteRule(ctx context.Context, id uuid.UUID) error {
	return s.approvals.DeleteRule(ctx, id)
}

// Compile-time check to ensure approvalService implements ApprovalService.
var _ ApprovalService = (*approvalService)(nil)

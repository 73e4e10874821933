package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenderhq/core/internal/models"
	apierrors "github.com/tenderhq/core/internal/pkg/errors"
)

type approvalFixture struct {
	svc       ApprovalService
	ledger    LedgerService
	approvals *fakeApprovals
	credits   *fakeCredits
	companyID uuid.UUID
	account   *models.CreditAccount
	requester Actor
	approver  Actor
	admin     Actor
}

func newApprovalFixture(t *testing.T) *approvalFixture {
	t.Helper()
	runner := &fakeTxRunner{}
	approvals := newFakeApprovals()
	credits := newFakeCredits()
	ledger := NewLedgerService(runner, credits, testLogger())
	svc := NewApprovalService(runner, approvals, credits, ledger, 100, testLogger())

	companyID := uuid.New()
	account, err := ledger.ProvisionAccount(context.Background(), companyID, models.TierTeam, time.Now().UTC()) // 10000
	require.NoError(t, err)

	return &approvalFixture{
		svc:       svc,
		ledger:    ledger,
		approvals: approvals,
		credits:   credits,
		companyID: companyID,
		account:   account,
		requester: Actor{ID: uuid.New(), Role: models.RoleMember},
		approver:  Actor{ID: uuid.New(), Role: models.RoleApprover},
		admin:     Actor{ID: uuid.New(), Role: models.RoleAdmin},
	}
}

func (f *approvalFixture) draft(t *testing.T, credits int64) *models.ApprovalRequest {
	t.Helper()
	req, err := f.svc.CreateDraft(context.Background(), CreateRequestInput{
		CompanyID:        f.companyID,
		RequesterID:      f.requester.ID,
		RequestType:      "deep_report",
		Title:            "Market deep-dive",
		EstimatedCredits: credits,
	})
	require.NoError(t, err)
	return req
}

func (f *approvalFixture) addRule(t *testing.T, min, max int64, tier models.ApproverTier, priority int) {
	t.Helper()
	require.NoError(t, f.svc.CreateRule(context.Background(), &models.ApprovalRule{
		CompanyID:  f.companyID,
		MinCredits: min,
		MaxCredits: max,
		Tier:       tier,
		Priority:   priority,
	}))
}

func (f *approvalFixture) available(t *testing.T) int64 {
	t.Helper()
	snap, err := f.ledger.Balance(context.Background(), f.account.ID)
	require.NoError(t, err)
	return snap.Available
}

func TestCreateDraft(t *testing.T) {
	f := newApprovalFixture(t)

	req := f.draft(t, 500)
	assert.Equal(t, models.StatusDraft, req.Status)
	assert.Nil(t, req.SubmittedAt)

	_, err := f.svc.CreateDraft(context.Background(), CreateRequestInput{
		CompanyID:        f.companyID,
		RequesterID:      f.requester.ID,
		EstimatedCredits: 0,
	})
	assert.Error(t, err, "estimate must be positive")
}

func TestSubmit_RoutedToApproverTier(t *testing.T) {
	f := newApprovalFixture(t)
	f.addRule(t, 0, 1000, models.TierApproverRole, 10)
	req := f.draft(t, 500)

	out, err := f.svc.Submit(context.Background(), req.ID, f.requester)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, out.Status)
	assert.Equal(t, models.TierApproverRole, out.ApproverTier)
	assert.NotNil(t, out.SubmittedAt)
	assert.NotNil(t, out.ExpiresAt)

	// The estimate is reserved the moment the request leaves draft.
	assert.Equal(t, int64(9500), f.available(t))

	events, err := f.svc.Events(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.StatusDraft, events[0].FromStatus)
	assert.Equal(t, models.StatusPending, events[0].ToStatus)
}

func TestSubmit_AutoApproved(t *testing.T) {
	f := newApprovalFixture(t)
	f.addRule(t, 0, 1000, models.TierAuto, 10)
	req := f.draft(t, 500)

	out, err := f.svc.Submit(context.Background(), req.ID, f.requester)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, out.Status)
	require.NotNil(t, out.DecisionReason)
	assert.Equal(t, "auto-approved by rule", *out.DecisionReason)

	// Auto-approval keeps the hold; only fulfillment converts it.
	assert.Equal(t, int64(9500), f.available(t))

	events, err := f.svc.Events(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestSubmit_HighestPriorityRuleWins(t *testing.T) {
	f := newApprovalFixture(t)
	f.addRule(t, 0, 5000, models.TierAuto, 1)
	f.addRule(t, 400, 1000, models.TierApproverRole, 20)
	req := f.draft(t, 500)

	out, err := f.svc.Submit(context.Background(), req.ID, f.requester)
	require.NoError(t, err)
	assert.Equal(t, models.TierApproverRole, out.ApproverTier)
	assert.Equal(t, models.StatusPending, out.Status)
}

func TestSubmit_NoRuleRoutesToAdmin(t *testing.T) {
	f := newApprovalFixture(t)
	req := f.draft(t, 500)

	out, err := f.svc.Submit(context.Background(), req.ID, f.requester)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, out.Status)
	assert.Equal(t, models.TierAdminRole, out.ApproverTier)
}

func TestSubmit_InsufficientFundsKeepsDraft(t *testing.T) {
	f := newApprovalFixture(t)
	req := f.draft(t, 10001)

	_, err := f.svc.Submit(context.Background(), req.ID, f.requester)
	require.Error(t, err)

	stored, err := f.svc.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraft, stored.Status, "failed submit leaves the draft untouched")
	assert.Equal(t, int64(10000), f.available(t), "nothing reserved")
}

func TestSubmit_OnlyRequesterOrAdmin(t *testing.T) {
	f := newApprovalFixture(t)

	req := f.draft(t, 500)
	stranger := Actor{ID: uuid.New(), Role: models.RoleApprover}
	_, err := f.svc.Submit(context.Background(), req.ID, stranger)
	assert.ErrorIs(t, err, apierrors.ErrUnauthorized)

	// Admins may submit on the requester's behalf.
	_, err = f.svc.Submit(context.Background(), req.ID, f.admin)
	assert.NoError(t, err)
}

func TestSubmit_RetryIsNoOp(t *testing.T) {
	f := newApprovalFixture(t)
	req := f.draft(t, 500)

	_, err := f.svc.Submit(context.Background(), req.ID, f.requester)
	require.NoError(t, err)
	firstHold, err := f.credits.GetHoldByRequest(context.Background(), req.ID)
	require.NoError(t, err)

	// A client retrying after a dropped response gets the same outcome back.
	second, err := f.svc.Submit(context.Background(), req.ID, f.requester)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, second.Status)

	retryHold, err := f.credits.GetHoldByRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, firstHold.ID, retryHold.ID)
	assert.Equal(t, int64(9500), f.available(t), "reserved once, not twice")

	events, err := f.svc.Events(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1, "exactly one submitted event")
}

func TestSubmit_TerminalRefused(t *testing.T) {
	f := newApprovalFixture(t)
	req := f.draft(t, 500)
	_, err := f.svc.Submit(context.Background(), req.ID, f.requester)
	require.NoError(t, err)
	_, err = f.svc.Cancel(context.Background(), req.ID, f.requester)
	require.NoError(t, err)

	_, err = f.svc.Submit(context.Background(), req.ID, f.requester)
	assert.ErrorIs(t, err, apierrors.ErrInvalidTransition)
}

func submitPending(t *testing.T, f *approvalFixture, credits int64) *models.ApprovalRequest {
	t.Helper()
	f.addRule(t, 0, 10000, models.TierApproverRole, 10)
	req := f.draft(t, credits)
	out, err := f.svc.Submit(context.Background(), req.ID, f.requester)
	require.NoError(t, err)
	return out
}

func TestApprove(t *testing.T) {
	f := newApprovalFixture(t)
	req := submitPending(t, f, 500)

	out, err := f.svc.Approve(context.Background(), req.ID, f.approver)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, out.Status)
	assert.Equal(t, f.approver.ID, *out.DecidedBy)
	assert.NotNil(t, out.DecidedAt)

	// Approval does not touch the ledger; the hold stays until fulfillment.
	assert.Equal(t, int64(9500), f.available(t))
}

func TestApprove_Unauthorized(t *testing.T) {
	f := newApprovalFixture(t)
	req := submitPending(t, f, 500)

	member := Actor{ID: uuid.New(), Role: models.RoleMember}
	_, err := f.svc.Approve(context.Background(), req.ID, member)
	assert.ErrorIs(t, err, apierrors.ErrUnauthorized)

	// The requester cannot approve their own request with a member role.
	_, err = f.svc.Approve(context.Background(), req.ID, f.requester)
	assert.ErrorIs(t, err, apierrors.ErrUnauthorized)
}

func TestApprove_AdminSatisfiesApproverTier(t *testing.T) {
	f := newApprovalFixture(t)
	req := submitPending(t, f, 500)

	_, err := f.svc.Approve(context.Background(), req.ID, f.admin)
	assert.NoError(t, err)
}

func TestDeny_ReleasesHold(t *testing.T) {
	f := newApprovalFixture(t)
	req := submitPending(t, f, 500)

	out, err := f.svc.Deny(context.Background(), req.ID, f.approver, "no budget this quarter")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDenied, out.Status)
	assert.Equal(t, "no budget this quarter", *out.DecisionReason)

	assert.Equal(t, int64(10000), f.available(t), "denied request frees its reservation")

	hold, err := f.credits.GetHoldByRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HoldReleased, hold.Status)
}

func TestCancel(t *testing.T) {
	f := newApprovalFixture(t)

	t.Run("draft has no hold to release", func(t *testing.T) {
		req := f.draft(t, 500)
		out, err := f.svc.Cancel(context.Background(), req.ID, f.requester)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, out.Status)
	})

	t.Run("pending releases the hold", func(t *testing.T) {
		req := submitPending(t, f, 700)
		out, err := f.svc.Cancel(context.Background(), req.ID, f.requester)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, out.Status)
		assert.Equal(t, int64(10000), f.available(t))
	})

	t.Run("stranger cannot cancel", func(t *testing.T) {
		req := f.draft(t, 500)
		_, err := f.svc.Cancel(context.Background(), req.ID, Actor{ID: uuid.New(), Role: models.RoleMember})
		assert.ErrorIs(t, err, apierrors.ErrUnauthorized)
	})

	t.Run("terminal request cannot be cancelled", func(t *testing.T) {
		req := submitPending(t, f, 500)
		_, err := f.svc.Deny(context.Background(), req.ID, f.approver, "no")
		require.NoError(t, err)
		_, err = f.svc.Cancel(context.Background(), req.ID, f.requester)
		assert.ErrorIs(t, err, apierrors.ErrInvalidTransition)
	})
}

func TestFulfill(t *testing.T) {
	f := newApprovalFixture(t)
	req := submitPending(t, f, 500)
	_, err := f.svc.Approve(context.Background(), req.ID, f.approver)
	require.NoError(t, err)

	out, err := f.svc.Fulfill(context.Background(), req.ID, 320, "report", "rep-42", f.admin)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFulfilled, out.Status)
	assert.Equal(t, int64(320), *out.ActualCredits)
	assert.NotNil(t, out.FulfilledAt)

	// 320 spent, the reserved remainder of 180 back in circulation.
	assert.Equal(t, int64(9680), f.available(t))

	hold, err := f.credits.GetHoldByRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HoldConverted, hold.Status)
}

func TestFulfill_ActualCannotExceedEstimate(t *testing.T) {
	f := newApprovalFixture(t)
	req := submitPending(t, f, 500)
	_, err := f.svc.Approve(context.Background(), req.ID, f.approver)
	require.NoError(t, err)

	_, err = f.svc.Fulfill(context.Background(), req.ID, 501, "report", "rep-42", f.admin)
	assert.ErrorIs(t, err, apierrors.ErrAmountExceedsHold)

	stored, err := f.svc.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, stored.Status)
}

func TestFulfill_Unauthorized(t *testing.T) {
	f := newApprovalFixture(t)
	req := submitPending(t, f, 500)
	_, err := f.svc.Approve(context.Background(), req.ID, f.approver)
	require.NoError(t, err)

	// A member from anywhere must not be able to convert the hold.
	stranger := Actor{ID: uuid.New(), Role: models.RoleMember}
	_, err = f.svc.Fulfill(context.Background(), req.ID, 300, "report", "rep-42", stranger)
	assert.ErrorIs(t, err, apierrors.ErrUnauthorized)

	stored, err := f.svc.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, stored.Status)
	assert.Nil(t, stored.ActualCredits)
	assert.Equal(t, int64(9500), f.available(t), "hold untouched")

	// The requester may fulfill their own approved request.
	_, err = f.svc.Fulfill(context.Background(), req.ID, 300, "report", "rep-42", f.requester)
	assert.NoError(t, err)
}

func TestFulfill_RequiresApprovedStatus(t *testing.T) {
	f := newApprovalFixture(t)
	req := submitPending(t, f, 500)

	_, err := f.svc.Fulfill(context.Background(), req.ID, 100, "report", "rep-42", f.admin)
	assert.ErrorIs(t, err, apierrors.ErrInvalidTransition)
}

func TestEscalate(t *testing.T) {
	f := newApprovalFixture(t)
	req := submitPending(t, f, 500)

	out, err := f.svc.Escalate(context.Background(), req.ID, f.approver)
	require.NoError(t, err)
	assert.Equal(t, models.TierAdminRole, out.ApproverTier)
	assert.Equal(t, 1, out.EscalationCount)
	assert.Nil(t, out.CurrentApprover)
	assert.Equal(t, models.StatusPending, out.Status)

	// Already at the top tier.
	_, err = f.svc.Escalate(context.Background(), req.ID, f.approver)
	assert.ErrorIs(t, err, apierrors.ErrInvalidTransition)

	// After escalation only admins may decide.
	_, err = f.svc.Approve(context.Background(), req.ID, f.approver)
	assert.ErrorIs(t, err, apierrors.ErrUnauthorized)
	_, err = f.svc.Approve(context.Background(), req.ID, f.admin)
	assert.NoError(t, err)
}

func TestExpireOverdue(t *testing.T) {
	f := newApprovalFixture(t)
	overdue := submitPending(t, f, 500)
	fresh := submitPending(t, f, 300)

	// Backdate one expiry.
	past := time.Now().UTC().Add(-time.Hour)
	stored := f.approvals.requests[overdue.ID]
	stored.ExpiresAt = &past

	count, err := f.svc.ExpireOverdue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	expired, err := f.svc.Get(context.Background(), overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, expired.Status)

	untouched, err := f.svc.Get(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, untouched.Status)

	// Only the fresh request's reservation remains.
	assert.Equal(t, int64(9700), f.available(t))

	// The sweep writes a system-actor audit event.
	events, err := f.svc.Events(context.Background(), overdue.ID)
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, models.StatusExpired, last.ToStatus)
	assert.Equal(t, uuid.Nil, last.ActorID)

	// A second sweep finds nothing.
	count, err = f.svc.ExpireOverdue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRuleValidation(t *testing.T) {
	f := newApprovalFixture(t)

	err := f.svc.CreateRule(context.Background(), &models.ApprovalRule{
		CompanyID:  f.companyID,
		MinCredits: 100,
		MaxCredits: 50,
		Tier:       models.TierAuto,
	})
	assert.Error(t, err, "inverted range")

	err = f.svc.CreateRule(context.Background(), &models.ApprovalRule{
		CompanyID:  f.companyID,
		MinCredits: -1,
		MaxCredits: 50,
		Tier:       models.TierAuto,
	})
	assert.Error(t, err, "negative min")

	err = f.svc.CreateRule(context.Background(), &models.ApprovalRule{
		CompanyID:  f.companyID,
		MinCredits: 0,
		MaxCredits: 50,
		Tier:       "vp-of-approvals",
	})
	assert.Error(t, err, "unknown tier")
}

func TestRuleCRUD(t *testing.T) {
	f := newApprovalFixture(t)
	f.addRule(t, 0, 100, models.TierAuto, 1)
	f.addRule(t, 100, 1000, models.TierApproverRole, 2)

	rules, err := f.svc.ListRules(context.Background(), f.companyID)
	require.NoError(t, err)
	require.Len(t, rules, 2)

	require.NoError(t, f.svc.DeleteRule(context.Background(), rules[0].ID))
	rules, err = f.svc.ListRules(context.Background(), f.companyID)
	require.NoError(t, err)
	assert.Len(t, rules, 1)
}

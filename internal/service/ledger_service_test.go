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

func newTestLedger(t *testing.T) (LedgerService, *fakeCredits) {
	t.Helper()
	credits := newFakeCredits()
	return NewLedgerService(&fakeTxRunner{}, credits, testLogger()), credits
}

func provisionTestAccount(t *testing.T, svc LedgerService, tier models.SubscriptionTier) *models.CreditAccount {
	t.Helper()
	account, err := svc.ProvisionAccount(context.Background(), uuid.New(), tier, time.Now().UTC())
	require.NoError(t, err)
	return account
}

func TestProvisionAccount(t *testing.T) {
	svc, _ := newTestLedger(t)
	companyID := uuid.New()
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	account, err := svc.ProvisionAccount(context.Background(), companyID, models.TierTeam, start)
	require.NoError(t, err)
	assert.Equal(t, models.TierAllocation(models.TierTeam), account.TotalCredits)
	assert.Equal(t, start.AddDate(0, 1, 0), account.PeriodEnd)

	// Provisioning twice for the same company hands back the original.
	again, err := svc.ProvisionAccount(context.Background(), companyID, models.TierEnterprise, start)
	require.NoError(t, err)
	assert.Equal(t, account.ID, again.ID)
	assert.Equal(t, models.TierTeam, again.Tier)
}

func TestBalance_FreshAccount(t *testing.T) {
	svc, _ := newTestLedger(t)
	account := provisionTestAccount(t, svc, models.TierStarter)

	snap, err := svc.Balance(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TierAllocation(models.TierStarter), snap.Available)
	assert.Zero(t, snap.ActiveHolds)
}

func TestBalance_UnknownAccount(t *testing.T) {
	svc, _ := newTestLedger(t)
	_, err := svc.Balance(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apierrors.ErrNotFound)
}

func TestPlaceHold(t *testing.T) {
	svc, _ := newTestLedger(t)
	account := provisionTestAccount(t, svc, models.TierStarter) // 2000
	requestID := uuid.New()
	actor := uuid.New()

	holdID, err := svc.PlaceHold(context.Background(), account.ID, requestID, 500, "key-1", actor)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, holdID)

	snap, err := svc.Balance(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), snap.Available)
	assert.Equal(t, int64(500), snap.ActiveHolds)
}

func TestPlaceHold_IdempotentRetry(t *testing.T) {
	svc, _ := newTestLedger(t)
	account := provisionTestAccount(t, svc, models.TierStarter)
	requestID := uuid.New()

	first, err := svc.PlaceHold(context.Background(), account.ID, requestID, 500, "key-1", uuid.New())
	require.NoError(t, err)

	// Same request, same key: the prior hold comes back, nothing doubles.
	retry, err := svc.PlaceHold(context.Background(), account.ID, requestID, 500, "key-1", uuid.New())
	require.NoError(t, err)
	assert.Equal(t, first, retry)

	snap, err := svc.Balance(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), snap.ActiveHolds)

	// Same request under a different key is a conflict, not a retry.
	_, err = svc.PlaceHold(context.Background(), account.ID, requestID, 500, "key-2", uuid.New())
	assert.ErrorIs(t, err, apierrors.ErrInvalidTransition)
}

func TestPlaceHold_InsufficientFunds(t *testing.T) {
	svc, _ := newTestLedger(t)
	account := provisionTestAccount(t, svc, models.TierStarter) // 2000

	_, err := svc.PlaceHold(context.Background(), account.ID, uuid.New(), 2001, "key-1", uuid.New())
	require.Error(t, err)

	var apiErr *apierrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierrors.NewInsufficientFunds(0).Code, apiErr.Code)

	// Holds count against subsequent holds.
	_, err = svc.PlaceHold(context.Background(), account.ID, uuid.New(), 1500, "key-2", uuid.New())
	require.NoError(t, err)
	_, err = svc.PlaceHold(context.Background(), account.ID, uuid.New(), 501, "key-3", uuid.New())
	assert.Error(t, err)
}

func TestPlaceHold_RejectsNonPositiveAmount(t *testing.T) {
	svc, _ := newTestLedger(t)
	account := provisionTestAccount(t, svc, models.TierStarter)

	for _, amount := range []int64{0, -10} {
		_, err := svc.PlaceHold(context.Background(), account.ID, uuid.New(), amount, "k", uuid.New())
		assert.Error(t, err)
	}
}

func TestReleaseHold(t *testing.T) {
	svc, _ := newTestLedger(t)
	account := provisionTestAccount(t, svc, models.TierStarter)

	holdID, err := svc.PlaceHold(context.Background(), account.ID, uuid.New(), 500, "key-1", uuid.New())
	require.NoError(t, err)

	outcome, err := svc.ReleaseHold(context.Background(), holdID, uuid.New())
	require.NoError(t, err)
	assert.False(t, outcome.AlreadyTerminal)
	assert.Equal(t, models.HoldReleased, outcome.Status)

	snap, err := svc.Balance(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), snap.Available, "released hold returns to available")

	// Releasing again is an idempotent no-op the caller can see.
	again, err := svc.ReleaseHold(context.Background(), holdID, uuid.New())
	require.NoError(t, err)
	assert.True(t, again.AlreadyTerminal)
	assert.Equal(t, models.HoldReleased, again.Status)
}

func TestReleaseHold_Unknown(t *testing.T) {
	svc, _ := newTestLedger(t)
	_, err := svc.ReleaseHold(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, apierrors.ErrNotFound)
}

func TestConvertHold(t *testing.T) {
	svc, _ := newTestLedger(t)
	account := provisionTestAccount(t, svc, models.TierStarter) // 2000

	holdID, err := svc.PlaceHold(context.Background(), account.ID, uuid.New(), 500, "hold-key", uuid.New())
	require.NoError(t, err)

	// Convert for less than was held; the remainder frees up.
	entryID, err := svc.ConvertHold(context.Background(), holdID, 300, "report", "r-1", "convert-key", uuid.New())
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, entryID)

	snap, err := svc.Balance(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1700), snap.Available)
	assert.Zero(t, snap.ActiveHolds)
	assert.Equal(t, int64(300), snap.DebitEntries)
}

func TestConvertHold_IdempotentRetry(t *testing.T) {
	svc, _ := newTestLedger(t)
	account := provisionTestAccount(t, svc, models.TierStarter)

	holdID, err := svc.PlaceHold(context.Background(), account.ID, uuid.New(), 500, "hold-key", uuid.New())
	require.NoError(t, err)

	first, err := svc.ConvertHold(context.Background(), holdID, 300, "report", "r-1", "convert-key", uuid.New())
	require.NoError(t, err)

	retry, err := svc.ConvertHold(context.Background(), holdID, 300, "report", "r-1", "convert-key", uuid.New())
	require.NoError(t, err)
	assert.Equal(t, first, retry)

	snap, err := svc.Balance(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(300), snap.DebitEntries, "debit written once")

	// A different key against the converted hold is refused.
	_, err = svc.ConvertHold(context.Background(), holdID, 300, "report", "r-1", "other-key", uuid.New())
	assert.ErrorIs(t, err, apierrors.ErrHoldNotActive)
}

func TestConvertHold_ExceedsReservation(t *testing.T) {
	svc, _ := newTestLedger(t)
	account := provisionTestAccount(t, svc, models.TierStarter)

	holdID, err := svc.PlaceHold(context.Background(), account.ID, uuid.New(), 500, "hold-key", uuid.New())
	require.NoError(t, err)

	_, err = svc.ConvertHold(context.Background(), holdID, 501, "report", "r-1", "convert-key", uuid.New())
	assert.ErrorIs(t, err, apierrors.ErrAmountExceedsHold)
}

func TestConvertHold_ReleasedHoldRefused(t *testing.T) {
	svc, _ := newTestLedger(t)
	account := provisionTestAccount(t, svc, models.TierStarter)

	holdID, err := svc.PlaceHold(context.Background(), account.ID, uuid.New(), 500, "hold-key", uuid.New())
	require.NoError(t, err)
	_, err = svc.ReleaseHold(context.Background(), holdID, uuid.New())
	require.NoError(t, err)

	_, err = svc.ConvertHold(context.Background(), holdID, 500, "report", "r-1", "convert-key", uuid.New())
	assert.ErrorIs(t, err, apierrors.ErrHoldNotActive)
}

func TestDirectDebit(t *testing.T) {
	svc, _ := newTestLedger(t)
	account := provisionTestAccount(t, svc, models.TierStarter) // 2000

	entryID, err := svc.DirectDebit(context.Background(), EntryInput{
		AccountID:      account.ID,
		Amount:         800,
		Type:           models.TxTypeSpend,
		Description:    "chat usage",
		IdempotencyKey: "debit-1",
		ActorID:        uuid.New(),
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, entryID)

	snap, err := svc.Balance(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1200), snap.Available)
}

func TestDirectDebit_IdempotentAfterDrain(t *testing.T) {
	svc, _ := newTestLedger(t)
	account := provisionTestAccount(t, svc, models.TierStarter) // 2000

	in := EntryInput{
		AccountID:      account.ID,
		Amount:         1500,
		Type:           models.TxTypeSpend,
		IdempotencyKey: "debit-1",
		ActorID:        uuid.New(),
	}
	first, err := svc.DirectDebit(context.Background(), in)
	require.NoError(t, err)

	// Drain the rest so a naive retry would fail the funds check.
	_, err = svc.DirectDebit(context.Background(), EntryInput{
		AccountID:      account.ID,
		Amount:         500,
		Type:           models.TxTypeSpend,
		IdempotencyKey: "debit-2",
		ActorID:        uuid.New(),
	})
	require.NoError(t, err)

	retry, err := svc.DirectDebit(context.Background(), in)
	require.NoError(t, err, "retry of a committed debit must succeed")
	assert.Equal(t, first, retry)

	snap, err := svc.Balance(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Zero(t, snap.Available)
}

func TestDirectDebit_InsufficientFunds(t *testing.T) {
	svc, _ := newTestLedger(t)
	account := provisionTestAccount(t, svc, models.TierStarter)

	_, err := svc.DirectDebit(context.Background(), EntryInput{
		AccountID:      account.ID,
		Amount:         2001,
		Type:           models.TxTypeSpend,
		IdempotencyKey: "debit-1",
		ActorID:        uuid.New(),
	})
	require.Error(t, err)
	var apiErr *apierrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, int64(2000), apiErr.Details.(map[string]int64)["available"])
}

func TestCredit(t *testing.T) {
	svc, _ := newTestLedger(t)
	account := provisionTestAccount(t, svc, models.TierStarter)

	_, err := svc.Credit(context.Background(), EntryInput{
		AccountID:      account.ID,
		Amount:         250,
		Type:           models.TxTypeRefund,
		Description:    "refund",
		IdempotencyKey: "credit-1",
		ActorID:        uuid.New(),
	})
	require.NoError(t, err)

	snap, err := svc.Balance(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2250), snap.Available)
}

func TestGrantAllocation_IdempotentPerMonth(t *testing.T) {
	svc, _ := newTestLedger(t)
	account := provisionTestAccount(t, svc, models.TierStarter)

	start := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	first, err := svc.GrantAllocation(context.Background(), account.ID, 1000, start, end, uuid.New())
	require.NoError(t, err)

	// Re-running the grant for the same month is absorbed by the key.
	retry, err := svc.GrantAllocation(context.Background(), account.ID, 1000, start, end, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, first, retry)

	snap, err := svc.Balance(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), snap.Available)

	// The next month grants again.
	_, err = svc.GrantAllocation(context.Background(), account.ID, 1000, end, end.AddDate(0, 1, 0), uuid.New())
	require.NoError(t, err)
	snap, err = svc.Balance(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4000), snap.Available)
}

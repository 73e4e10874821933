package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApprovalRuleMatches(t *testing.T) {
	rule := &ApprovalRule{MinCredits: 100, MaxCredits: 500}

	assert.True(t, rule.Matches(100), "min is inclusive")
	assert.True(t, rule.Matches(500), "max is inclusive")
	assert.True(t, rule.Matches(250))
	assert.False(t, rule.Matches(99))
	assert.False(t, rule.Matches(501))
}

func TestApprovalStatusTerminal(t *testing.T) {
	for _, s := range []ApprovalStatus{StatusDenied, StatusCancelled, StatusFulfilled, StatusExpired} {
		assert.True(t, s.Terminal(), string(s))
	}
	for _, s := range []ApprovalStatus{StatusDraft, StatusPending, StatusApproved} {
		assert.False(t, s.Terminal(), string(s))
	}
}

func TestHoldTerminal(t *testing.T) {
	assert.False(t, (&CreditHold{Status: HoldActive}).Terminal())
	assert.True(t, (&CreditHold{Status: HoldConverted}).Terminal())
	assert.True(t, (&CreditHold{Status: HoldReleased}).Terminal())
}

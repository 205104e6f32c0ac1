package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestCategorizeBrokerMessages verifies the boundary categorizer maps
// raw broker errors to the right category and retryability
func TestCategorizeBrokerMessages(t *testing.T) {
	cases := []struct {
		message   string
		category  ErrorCategory
		retryable bool
	}{
		{"context deadline exceeded", ErrorCategoryTimeout, true},
		{"dial tcp: connection refused", ErrorCategoryNetwork, true},
		{"rate limit exceeded, slow down", ErrorCategoryRateLimit, true},
		{"insufficient margin for order", ErrorCategoryOrder, false},
		{"order rejected by exchange", ErrorCategoryBroker, false},
		{"something unexpected happened", ErrorCategoryTemporary, true},
	}

	for _, tc := range cases {
		coreErr := Categorize(errors.New(tc.message), "broker", "place_order")
		assert.Equal(t, tc.category, coreErr.Category, tc.message)
		assert.Equal(t, tc.retryable, coreErr.IsRetryable(), tc.message)
	}
}

// TestCategorizePassesThroughCoreErrors verifies already-categorized
// errors are not re-wrapped
func TestCategorizePassesThroughCoreErrors(t *testing.T) {
	original := NewFatalError("worker", "unwind", "position stranded")
	assert.Same(t, original, Categorize(original, "broker", "place_order"))
}

// TestErrorUnwrapping verifies wrapped errors stay reachable through
// errors.Is / errors.As
func TestErrorUnwrapping(t *testing.T) {
	underlying := errors.New("socket closed")
	wrapped := Wrap(underlying, ErrorCategoryNetwork, "broker", "get_positions")

	assert.ErrorIs(t, wrapped, underlying)
	assert.True(t, wrapped.IsRetryable())
}

// TestRecoveryActions verifies the category to action mapping used by
// supervisors
func TestRecoveryActions(t *testing.T) {
	assert.Equal(t, RecoveryActionStop, NewFatalError("w", "op", "boom").GetRecoveryAction())
	assert.Equal(t, RecoveryActionWait, New(ErrorCategoryRateLimit, "w", "op", "slow").GetRecoveryAction())
	assert.Equal(t, RecoveryActionRetry, NewNetworkError("w", "op", errors.New("down")).GetRecoveryAction())
	assert.Equal(t, RecoveryActionSkip, NewValidationError("w", "op", "bad").GetRecoveryAction())
}

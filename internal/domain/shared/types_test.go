package shared

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestRole(t *testing.T) {
	assert.True(t, RoleAdmin.Privileged())
	assert.False(t, RoleUser.Privileged())
	assert.False(t, Role("owner").Valid())
	assert.True(t, RoleUser.Valid())
}

func TestTransactionType_Valid(t *testing.T) {
	assert.True(t, TransactionTypeCharge.Valid())
	assert.False(t, TransactionType("expense").Valid())
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(fmt.Errorf("create intent: %w", ErrGatewayUnavailable)))
	assert.True(t, Retryable(fmt.Errorf("charge: %w", ErrLedgerUnavailable)))
	assert.False(t, Retryable(ErrInsufficientBalance))
	assert.False(t, Retryable(errors.New("boom")))
}

func TestUsageEvent_Validate(t *testing.T) {
	valid := UsageEvent{EventID: uuid.New(), AccountID: uuid.New(), DurationSeconds: 30}
	assert.NoError(t, valid.Validate())
	assert.Equal(t, valid.AccountID.String(), valid.Key())

	noAccount := valid
	noAccount.AccountID = uuid.Nil
	assert.ErrorIs(t, noAccount.Validate(), ErrInvalidUsage)

	negative := valid
	negative.DurationSeconds = -1
	assert.ErrorIs(t, negative.Validate(), ErrInvalidUsage)

	longCall := valid
	longCall.CallID = strings.Repeat("c", 129)
	assert.ErrorIs(t, longCall.Validate(), ErrInvalidUsage)
}

package balance

import (
	"errors"
	"testing"
	"time"

	"github.com/campaign-billing-ledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestNewAccountBalance(t *testing.T) {
	accountID := uuid.New()
	b := NewAccountBalance(accountID)

	assert.Equal(t, accountID, b.AccountID)
	assert.True(t, b.Balance.IsZero())
	assert.True(t, b.TotalSpent.IsZero())
	assert.Equal(t, 1, b.Version, "Initial version should be 1")
}

func TestAccountBalance_Credit(t *testing.T) {
	t.Run("SuccessfulCredit", func(t *testing.T) {
		b := &AccountBalance{AccountID: uuid.New(), Balance: dec("5"), Version: 3, UpdatedAt: time.Now().Add(-time.Hour)}

		require.NoError(t, b.Credit(dec("100")))
		assert.True(t, dec("105").Equal(b.Balance))
		assert.True(t, b.TotalSpent.IsZero(), "Credits never count as spend")
		assert.Equal(t, 4, b.Version)
		assert.WithinDuration(t, time.Now(), b.UpdatedAt, time.Second)
	})

	t.Run("RejectsNonPositive", func(t *testing.T) {
		b := NewAccountBalance(uuid.New())
		assert.ErrorIs(t, b.Credit(decimal.Zero), shared.ErrInvalidAmount)
		assert.ErrorIs(t, b.Credit(dec("-1")), shared.ErrInvalidAmount)
		assert.Equal(t, 1, b.Version)
	})
}

func TestAccountBalance_Debit(t *testing.T) {
	t.Run("SuccessfulDebit", func(t *testing.T) {
		b := &AccountBalance{AccountID: uuid.New(), Balance: dec("100"), TotalSpent: dec("1"), Version: 1}

		require.NoError(t, b.Debit(dec("0.06")))
		assert.True(t, dec("99.94").Equal(b.Balance))
		assert.True(t, dec("1.06").Equal(b.TotalSpent))
		assert.Equal(t, 2, b.Version)
	})

	t.Run("ExactBalanceIsAllowed", func(t *testing.T) {
		b := &AccountBalance{AccountID: uuid.New(), Balance: dec("10")}
		require.NoError(t, b.Debit(dec("10")))
		assert.True(t, b.Balance.IsZero())
	})

	t.Run("InsufficientBalanceLeavesStateUntouched", func(t *testing.T) {
		accountID := uuid.New()
		b := &AccountBalance{AccountID: accountID, Balance: dec("100"), Version: 7}

		err := b.Debit(dec("150"))
		require.Error(t, err)
		assert.ErrorIs(t, err, shared.ErrInsufficientBalance)

		var insufficient *InsufficientBalanceError
		require.True(t, errors.As(err, &insufficient))
		assert.Equal(t, accountID, insufficient.AccountID)
		assert.True(t, dec("150").Equal(insufficient.Required))
		assert.True(t, dec("100").Equal(insufficient.Available))
		assert.Contains(t, err.Error(), "required 150.00, available 100.00")

		assert.True(t, dec("100").Equal(b.Balance))
		assert.Equal(t, 7, b.Version)
	})
}

func TestErrBalanceNotFound_Is(t *testing.T) {
	id := uuid.New()
	err := ErrBalanceNotFound{AccountID: id}

	assert.True(t, errors.Is(err, ErrBalanceNotFound{}))
	assert.True(t, errors.Is(err, ErrBalanceNotFound{AccountID: id}))
	assert.False(t, errors.Is(err, ErrBalanceNotFound{AccountID: uuid.New()}))
}

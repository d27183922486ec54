package balance

import (
	"fmt"
	"time"

	"github.com/campaign-billing-ledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountBalance is the materialized balance aggregate for one account.
// It only changes together with a completed transaction write.
type AccountBalance struct {
	AccountID  uuid.UUID       `json:"account_id"`
	Balance    decimal.Decimal `json:"balance"`
	TotalSpent decimal.Decimal `json:"total_spent"`
	Version    int             `json:"version"` // For optimistic locking
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// NewAccountBalance returns the zero aggregate used for accounts that have never transacted
func NewAccountBalance(accountID uuid.UUID) *AccountBalance {
	now := time.Now().UTC()
	return &AccountBalance{
		AccountID:  accountID,
		Balance:    decimal.Zero,
		TotalSpent: decimal.Zero,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// InsufficientBalanceError carries the amounts shown to the user when a charge is blocked
type InsufficientBalanceError struct {
	AccountID uuid.UUID
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for account %s: required %s, available %s",
		e.AccountID, e.Required.StringFixed(2), e.Available.StringFixed(2))
}

// Unwrap lets callers match with errors.Is(err, shared.ErrInsufficientBalance)
func (e *InsufficientBalanceError) Unwrap() error {
	return shared.ErrInsufficientBalance
}

// Credit adds a positive amount to the balance
func (b *AccountBalance) Credit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return shared.ErrInvalidAmount
	}

	b.Balance = b.Balance.Add(amount)
	b.touch()
	return nil
}

// Debit subtracts a positive amount, refusing to go below zero.
// Debited amounts count towards total spent.
func (b *AccountBalance) Debit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return shared.ErrInvalidAmount
	}

	if !b.CanCover(amount) {
		return &InsufficientBalanceError{AccountID: b.AccountID, Required: amount, Available: b.Balance}
	}

	b.Balance = b.Balance.Sub(amount)
	b.TotalSpent = b.TotalSpent.Add(amount)
	b.touch()
	return nil
}

// CanCover checks whether the balance covers the amount
func (b *AccountBalance) CanCover(amount decimal.Decimal) bool {
	return b.Balance.GreaterThanOrEqual(amount)
}

func (b *AccountBalance) touch() {
	b.UpdatedAt = time.Now().UTC()
	b.Version++
}

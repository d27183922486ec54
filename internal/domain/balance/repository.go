package balance

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines account balance persistence operations
type Repository interface {
	// Get returns ErrBalanceNotFound when the account has never transacted
	Get(ctx context.Context, accountID uuid.UUID) (*AccountBalance, error)

	// LockForUpdate creates the aggregate if missing and holds a row lock until the unit of work ends
	LockForUpdate(ctx context.Context, accountID uuid.UUID) (*AccountBalance, error)

	// Update persists the aggregate, checking the previous version
	Update(ctx context.Context, b *AccountBalance) error
}

// ErrConcurrentModification indicates optimistic lock failure
type ErrConcurrentModification struct {
	AccountID uuid.UUID
}

func (e ErrConcurrentModification) Error() string {
	return "concurrent modification detected for account balance: " + e.AccountID.String()
}

// ErrBalanceNotFound indicates the account has no balance record yet
type ErrBalanceNotFound struct {
	AccountID uuid.UUID
}

func (e ErrBalanceNotFound) Error() string {
	return "account balance not found: " + e.AccountID.String()
}

// Is matches any ErrBalanceNotFound when the target carries no account id
func (e ErrBalanceNotFound) Is(target error) bool {
	t, ok := target.(ErrBalanceNotFound)
	if !ok {
		return false
	}
	return t.AccountID == uuid.Nil || t.AccountID == e.AccountID
}

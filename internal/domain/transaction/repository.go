package transaction

import (
	"context"
	"time"

	"github.com/campaign-billing-ledger/internal/domain/shared"
	"github.com/google/uuid"
)

// Repository manages the transaction log
type Repository interface {
	Create(ctx context.Context, tx *Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error)
	GetByExternalReference(ctx context.Context, reference string) (*Transaction, error)

	// Lock variants hold a row lock until the unit of work ends
	LockByID(ctx context.Context, id uuid.UUID) (*Transaction, error)
	LockByExternalReference(ctx context.Context, reference string) (*Transaction, error)

	// Update finalizes a pending row; completed and failed rows are never rewritten
	Update(ctx context.Context, tx *Transaction) error

	ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*Transaction, error)
	CountByAccount(ctx context.Context, accountID uuid.UUID) (int64, error)
	ListPending(ctx context.Context, method shared.PaymentMethod, createdBefore time.Time, limit int) ([]*Transaction, error)
}

// ErrTransactionNotFound indicates a missing transaction, by id or by reference
type ErrTransactionNotFound struct {
	ID        uuid.UUID
	Reference string
}

func (e ErrTransactionNotFound) Error() string {
	if e.Reference != "" {
		return "transaction not found for reference: " + e.Reference
	}
	return "transaction not found: " + e.ID.String()
}

// Is matches any ErrTransactionNotFound when the target is empty
func (e ErrTransactionNotFound) Is(target error) bool {
	t, ok := target.(ErrTransactionNotFound)
	if !ok {
		return false
	}
	if t.ID == uuid.Nil && t.Reference == "" {
		return true
	}
	return t.ID == e.ID && t.Reference == e.Reference
}

// ErrDuplicateReference indicates the external reference is already recorded
type ErrDuplicateReference struct {
	Reference string
}

func (e ErrDuplicateReference) Error() string {
	return "transaction already exists for reference: " + e.Reference
}

// Unwrap lets callers match with errors.Is(err, shared.ErrDuplicateIdempotencyKey)
func (e ErrDuplicateReference) Unwrap() error {
	return shared.ErrDuplicateIdempotencyKey
}

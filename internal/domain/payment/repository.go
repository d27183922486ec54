package payment

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the external-payment idempotency index
type Repository interface {
	Create(ctx context.Context, record *Record) error
	GetByIntentID(ctx context.Context, intentID string) (*Record, error)
	GetByTransactionID(ctx context.Context, transactionID uuid.UUID) (*Record, error)
	Update(ctx context.Context, record *Record) error
}

// ErrRecordNotFound indicates no payment record for the intent or transaction
type ErrRecordNotFound struct {
	IntentID      string
	TransactionID uuid.UUID
}

func (e ErrRecordNotFound) Error() string {
	if e.IntentID != "" {
		return "payment record not found for intent: " + e.IntentID
	}
	return "payment record not found for transaction: " + e.TransactionID.String()
}

// Is matches any ErrRecordNotFound when the target is empty
func (e ErrRecordNotFound) Is(target error) bool {
	t, ok := target.(ErrRecordNotFound)
	if !ok {
		return false
	}
	if t.IntentID == "" && t.TransactionID == uuid.Nil {
		return true
	}
	return t.IntentID == e.IntentID && t.TransactionID == e.TransactionID
}

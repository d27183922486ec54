package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Repository is the write side of the reporting projection. Reports aggregate over the same
// collection through report.Source.
type Repository interface {
	// Upsert stores the entry keyed by its transaction id. A pending snapshot never replaces a
	// stored entry, so a late redelivery cannot move a completed or failed transaction back.
	Upsert(ctx context.Context, entry *Entry) error
	GetByTransactionID(ctx context.Context, transactionID uuid.UUID) (*Entry, error)
}

type ErrEntryNotFound struct {
	TransactionID uuid.UUID
}

func (e ErrEntryNotFound) Error() string {
	return fmt.Sprintf("no projection for transaction %s", e.TransactionID)
}

// Is matches any missing entry when the target carries uuid.Nil
func (e ErrEntryNotFound) Is(target error) bool {
	t, ok := target.(ErrEntryNotFound)
	if !ok {
		return false
	}
	return t.TransactionID == uuid.Nil || t.TransactionID == e.TransactionID
}

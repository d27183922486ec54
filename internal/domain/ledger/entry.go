package ledger

import (
	"time"

	"github.com/campaign-billing-ledger/internal/domain/shared"
	"github.com/campaign-billing-ledger/internal/domain/transaction"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Entry is the reporting read model's copy of a transaction. It is rebuilt from outbox
// snapshots and is never consulted on the write path.
type Entry struct {
	TransactionID uuid.UUID                `json:"transaction_id"`
	AccountID     uuid.UUID                `json:"account_id"`
	CampaignID    *uuid.UUID               `json:"campaign_id,omitempty"`
	Type          shared.TransactionType   `json:"type"`
	Status        shared.TransactionStatus `json:"status"`
	PaymentMethod shared.PaymentMethod     `json:"payment_method"`
	BilledAmount  decimal.Decimal          `json:"billed_amount"`
	RealAmount    decimal.Decimal          `json:"real_amount"`
	FailureReason string                   `json:"failure_reason,omitempty"`
	CreatedAt     time.Time                `json:"created_at"`
	CompletedAt   *time.Time               `json:"completed_at,omitempty"`
	ProjectedAt   time.Time                `json:"projected_at"`
}

// FromTransaction builds the projection of a transaction snapshot
func FromTransaction(tx *transaction.Transaction) *Entry {
	return &Entry{
		TransactionID: tx.ID,
		AccountID:     tx.AccountID,
		CampaignID:    tx.CampaignID,
		Type:          tx.Type,
		Status:        tx.Status,
		PaymentMethod: tx.PaymentMethod,
		BilledAmount:  tx.BilledAmount,
		RealAmount:    tx.RealAmount,
		FailureReason: tx.FailureReason,
		CreatedAt:     tx.CreatedAt,
		CompletedAt:   tx.CompletedAt,
		ProjectedAt:   time.Now().UTC(),
	}
}

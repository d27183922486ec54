package transaction

import (
	"time"

	"github.com/campaign-billing-ledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PublicView is the only shape of a transaction regular account owners ever receive.
// It has no real-cost field at all.
type PublicView struct {
	ID           uuid.UUID                `json:"id"`
	Date         time.Time                `json:"date"`
	Type         shared.TransactionType   `json:"type"`
	BilledAmount decimal.Decimal          `json:"billed_amount"`
	Description  string                   `json:"description"`
	Status       shared.TransactionStatus `json:"status"`
	CampaignID   *uuid.UUID               `json:"campaign_id,omitempty"`
}

// PrivilegedView adds provider cost and gateway details for admins
type PrivilegedView struct {
	PublicView
	AccountID         uuid.UUID            `json:"account_id"`
	RealAmount        decimal.Decimal      `json:"real_amount"`
	Margin            decimal.Decimal      `json:"margin"`
	PaymentMethod     shared.PaymentMethod `json:"payment_method"`
	ExternalReference string               `json:"external_reference,omitempty"`
	FailureReason     string               `json:"failure_reason,omitempty"`
	Metadata          map[string]any       `json:"metadata,omitempty"`
}

// Public projects the transaction for a non-privileged caller
func (t *Transaction) Public() PublicView {
	return PublicView{
		ID:           t.ID,
		Date:         t.CreatedAt,
		Type:         t.Type,
		BilledAmount: t.BilledAmount,
		Description:  t.Description,
		Status:       t.Status,
		CampaignID:   t.CampaignID,
	}
}

// Privileged projects the transaction for an admin
func (t *Transaction) Privileged() PrivilegedView {
	margin := decimal.Zero
	if t.Type == shared.TransactionTypeCharge {
		margin = t.BilledAmount.Abs().Sub(t.RealAmount)
	}
	return PrivilegedView{
		PublicView:        t.Public(),
		AccountID:         t.AccountID,
		RealAmount:        t.RealAmount,
		Margin:            margin,
		PaymentMethod:     t.PaymentMethod,
		ExternalReference: t.Reference(),
		FailureReason:     t.FailureReason,
		Metadata:          t.Metadata,
	}
}

// Project picks the projection for the caller's role
func Project(txs []*Transaction, role shared.Role) any {
	if role.Privileged() {
		views := make([]PrivilegedView, 0, len(txs))
		for _, tx := range txs {
			views = append(views, tx.Privileged())
		}
		return views
	}
	views := make([]PublicView, 0, len(txs))
	for _, tx := range txs {
		views = append(views, tx.Public())
	}
	return views
}

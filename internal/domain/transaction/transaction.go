package transaction

import (
	"errors"
	"fmt"
	"time"

	"github.com/campaign-billing-ledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidTransition = errors.New("transaction is no longer pending")
	ErrNotRefundable     = errors.New("only completed charges can be refunded")
)

// Transaction is one entry of the ledger. BilledAmount is signed (charges negative) and is what
// the customer sees; RealAmount is the unsigned provider cost and only leaves this package
// through the privileged projection.
type Transaction struct {
	ID                uuid.UUID                `json:"id"`
	AccountID         uuid.UUID                `json:"account_id"`
	CampaignID        *uuid.UUID               `json:"campaign_id,omitempty"`
	Type              shared.TransactionType   `json:"type"`
	BilledAmount      decimal.Decimal          `json:"billed_amount"`
	RealAmount        decimal.Decimal          `json:"real_amount"`
	Status            shared.TransactionStatus `json:"status"`
	PaymentMethod     shared.PaymentMethod     `json:"payment_method"`
	ExternalReference *string                  `json:"external_reference,omitempty"`
	Description       string                   `json:"description"`
	Metadata          map[string]any           `json:"metadata,omitempty"`
	FailureReason     string                   `json:"failure_reason,omitempty"`
	CreatedAt         time.Time                `json:"created_at"`
	UpdatedAt         time.Time                `json:"updated_at"`
	CompletedAt       *time.Time               `json:"completed_at,omitempty"`
}

// Reference builds an idempotency key namespaced by its origin, e.g. "call:abc" or "transfer:TR-1"
func Reference(namespace, value string) *string {
	ref := namespace + ":" + value
	return &ref
}

func newTransaction(accountID uuid.UUID, txType shared.TransactionType, method shared.PaymentMethod) *Transaction {
	now := time.Now().UTC()
	return &Transaction{
		ID:            uuid.New(),
		AccountID:     accountID,
		Type:          txType,
		Status:        shared.TransactionStatusPending,
		PaymentMethod: method,
		RealAmount:    decimal.Zero,
		Metadata:      map[string]any{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// NewDeposit creates a pending deposit of a positive amount
func NewDeposit(accountID uuid.UUID, amount decimal.Decimal, method shared.PaymentMethod, reference *string) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, shared.ErrInvalidAmount
	}

	tx := newTransaction(accountID, shared.TransactionTypeDeposit, method)
	tx.BilledAmount = amount
	tx.ExternalReference = reference
	tx.Description = depositDescription(method)
	return tx, nil
}

// NewCharge creates a pending usage charge. billed and real are positive costs; the billed
// amount is stored negated.
func NewCharge(accountID uuid.UUID, campaignID *uuid.UUID, billed, realCost decimal.Decimal, reference *string) (*Transaction, error) {
	if !billed.IsPositive() || realCost.IsNegative() {
		return nil, shared.ErrInvalidAmount
	}

	tx := newTransaction(accountID, shared.TransactionTypeCharge, shared.PaymentMethodBalance)
	tx.CampaignID = campaignID
	tx.BilledAmount = billed.Neg()
	tx.RealAmount = realCost
	tx.ExternalReference = reference
	return tx, nil
}

// NewRefund creates a pending refund that gives back the billed amount of a completed charge.
// The provider cost was still incurred, so the refund carries no real amount.
func NewRefund(charge *Transaction) (*Transaction, error) {
	if charge.Type != shared.TransactionTypeCharge || charge.Status != shared.TransactionStatusCompleted {
		return nil, ErrNotRefundable
	}

	tx := newTransaction(charge.AccountID, shared.TransactionTypeRefund, shared.PaymentMethodBalance)
	tx.CampaignID = charge.CampaignID
	tx.BilledAmount = charge.BilledAmount.Abs()
	tx.ExternalReference = Reference("refund", charge.ID.String())
	tx.Description = "Refund: " + charge.Description
	tx.Metadata["refunded_transaction_id"] = charge.ID.String()
	return tx, nil
}

// Complete finalizes a pending transaction. Amounts are immutable from here on.
func (t *Transaction) Complete() error {
	if t.Status != shared.TransactionStatusPending {
		return fmt.Errorf("complete %s: %w", t.ID, ErrInvalidTransition)
	}
	now := time.Now().UTC()
	t.Status = shared.TransactionStatusCompleted
	t.UpdatedAt = now
	t.CompletedAt = &now
	return nil
}

// Fail finalizes a pending transaction without any balance effect
func (t *Transaction) Fail(reason shared.FailureReason) error {
	if t.Status != shared.TransactionStatusPending {
		return fmt.Errorf("fail %s: %w", t.ID, ErrInvalidTransition)
	}
	t.Status = shared.TransactionStatusFailed
	t.FailureReason = string(reason)
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// AttachReference links a pending transaction to its gateway reference
func (t *Transaction) AttachReference(reference string) error {
	if t.Status != shared.TransactionStatusPending {
		return fmt.Errorf("attach reference to %s: %w", t.ID, ErrInvalidTransition)
	}
	t.ExternalReference = &reference
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// Reference returns the external reference or an empty string
func (t *Transaction) Reference() string {
	if t.ExternalReference == nil {
		return ""
	}
	return *t.ExternalReference
}

// IsCompleted reports whether the transaction counts towards the balance
func (t *Transaction) IsCompleted() bool {
	return t.Status == shared.TransactionStatusCompleted
}

// DescribeCall sets the user-facing description of a usage charge
func (t *Transaction) DescribeCall(destination string, durationSeconds int64) {
	d := time.Duration(durationSeconds) * time.Second
	if destination == "" {
		t.Description = fmt.Sprintf("Call (%s)", d)
		return
	}
	t.Description = fmt.Sprintf("Call to %s (%s)", destination, d)
}

func depositDescription(method shared.PaymentMethod) string {
	switch method {
	case shared.PaymentMethodCard:
		return "Card deposit"
	case shared.PaymentMethodBankTransfer:
		return "Bank transfer"
	default:
		return "Balance adjustment"
	}
}

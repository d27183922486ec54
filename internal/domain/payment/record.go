package payment

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GatewayStatus mirrors the card processor's payment intent status
type GatewayStatus string

const (
	GatewayStatusCreating        GatewayStatus = "creating" // internal: pending row written, gateway not yet called
	GatewayStatusRequiresPayment GatewayStatus = "requires_payment_method"
	GatewayStatusProcessing      GatewayStatus = "processing"
	GatewayStatusSucceeded       GatewayStatus = "succeeded"
	GatewayStatusCanceled        GatewayStatus = "canceled"
	GatewayStatusFailed          GatewayStatus = "failed"
)

// Final reports whether the gateway will not change the status anymore
func (s GatewayStatus) Final() bool {
	return s == GatewayStatusSucceeded || s == GatewayStatusCanceled || s == GatewayStatusFailed
}

// Record links a gateway payment intent to exactly one internal transaction
type Record struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	IntentID      *string         `json:"intent_id,omitempty"`
	AccountID     uuid.UUID       `json:"account_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	GatewayStatus GatewayStatus   `json:"gateway_status"`
	Commission    decimal.Decimal `json:"commission"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// NewRecord is written together with the pending transaction, before the gateway is contacted
func NewRecord(transactionID, accountID uuid.UUID, amount, commission decimal.Decimal, currency string) *Record {
	now := time.Now().UTC()
	return &Record{
		TransactionID: transactionID,
		AccountID:     accountID,
		Amount:        amount,
		Currency:      currency,
		GatewayStatus: GatewayStatusCreating,
		Commission:    commission,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Link attaches the gateway intent id once the gateway has answered
func (r *Record) Link(intentID string, status GatewayStatus) {
	r.IntentID = &intentID
	r.SetStatus(status)
}

// SetStatus records the latest gateway status
func (r *Record) SetStatus(status GatewayStatus) {
	r.GatewayStatus = status
	r.UpdatedAt = time.Now().UTC()
}

// Commission computes the processor fee for an amount: percent of the amount plus a fixed part
func Commission(amount, percent, fixed decimal.Decimal) decimal.Decimal {
	return amount.Mul(percent).Div(decimal.NewFromInt(100)).Add(fixed).Round(2)
}

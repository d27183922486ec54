// Package gateway wraps the card processor. Amounts cross this boundary as decimals in major
// currency units; the processor's minor units never leak out.
package gateway

import (
	"github.com/campaign-billing-ledger/internal/domain/payment"
	"github.com/shopspring/decimal"
)

// Event types the billing core reacts to. Everything else is acknowledged and ignored.
const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
	EventPaymentCanceled  = "payment_intent.canceled"
)

// Metadata keys written on every intent so a webhook can be matched without the local index
const (
	MetadataTransactionID = "transaction_id"
	MetadataAccountID     = "account_id"
)

// IntentParams describes a payment intent to create
type IntentParams struct {
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

// Intent is the processor's view of one payment
type Intent struct {
	ID           string
	ClientSecret string
	Status       payment.GatewayStatus
	Amount       decimal.Decimal
	Received     decimal.Decimal
	Currency     string
	Metadata     map[string]string
}

// Event is a verified webhook delivery
type Event struct {
	ID     string
	Type   string
	Intent *Intent // nil for event types that do not carry a payment intent
}

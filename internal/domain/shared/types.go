package shared

// TransactionType defines the kind of ledger movement
type TransactionType string

const (
	TransactionTypeDeposit TransactionType = "deposit"
	TransactionTypeCharge  TransactionType = "charge"
	TransactionTypeRefund  TransactionType = "refund"
)

// Valid reports whether the type is one of the known ledger movements
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeDeposit, TransactionTypeCharge, TransactionTypeRefund:
		return true
	}
	return false
}

// TransactionStatus defines transaction lifecycle states.
// pending -> completed | failed, never back.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// PaymentMethod identifies where the money for a transaction came from
type PaymentMethod string

const (
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodManual       PaymentMethod = "manual"
	PaymentMethodBalance      PaymentMethod = "balance" // usage charges and refunds settle against the balance itself
)

// FailureReason defines transaction failure categories
type FailureReason string

const (
	FailureReasonInsufficientBalance FailureReason = "INSUFFICIENT_BALANCE"
	FailureReasonGatewayUnavailable  FailureReason = "GATEWAY_UNAVAILABLE"
	FailureReasonGatewayRejected     FailureReason = "GATEWAY_REJECTED"
	FailureReasonPaymentFailed       FailureReason = "PAYMENT_FAILED"
	FailureReasonPaymentCanceled     FailureReason = "PAYMENT_CANCELED"
	FailureReasonSuperseded          FailureReason = "SUPERSEDED"
)

// OutboxStatus defines message publishing states
type OutboxStatus string

const (
	OutboxStatusPending         OutboxStatus = "PENDING"
	OutboxStatusProcessed       OutboxStatus = "PROCESSED"
	OutboxStatusFailedToPublish OutboxStatus = "FAILED_TO_PUBLISH"
)

// Role is the caller's role as asserted by the authentication layer
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Privileged reports whether the role may see real provider costs
func (r Role) Privileged() bool {
	return r == RoleAdmin
}

// Valid reports whether the role is known
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

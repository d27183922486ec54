package shared

import "errors"

// Billing error taxonomy. Packages wrap these with context; callers match with errors.Is.
var (
	ErrInvalidAmount           = errors.New("amount must be positive")
	ErrInsufficientBalance     = errors.New("insufficient balance")
	ErrBelowMinimum            = errors.New("amount is below the minimum recharge")
	ErrConfigurationMissing    = errors.New("no active pricing configuration")
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
	ErrInvalidSignature        = errors.New("invalid webhook signature")
	ErrGatewayUnavailable      = errors.New("payment gateway unavailable")
	ErrGatewayRejected         = errors.New("payment gateway rejected the request")
	ErrLedgerUnavailable       = errors.New("ledger write failed")
	ErrForbidden               = errors.New("operation requires a privileged role")
	ErrInvalidUsage            = errors.New("invalid usage")
)

// Retryable reports whether the caller may safely retry the operation that produced err
func Retryable(err error) bool {
	return errors.Is(err, ErrGatewayUnavailable) || errors.Is(err, ErrLedgerUnavailable)
}

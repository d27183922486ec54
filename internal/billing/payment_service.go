package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/campaign-billing-ledger/internal/domain/balance"
	"github.com/campaign-billing-ledger/internal/domain/payment"
	"github.com/campaign-billing-ledger/internal/domain/shared"
	"github.com/campaign-billing-ledger/internal/domain/transaction"
	"github.com/campaign-billing-ledger/internal/platform/gateway"
	"github.com/campaign-billing-ledger/internal/platform/metrics"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentIntent is what the client needs to complete a card payment
type PaymentIntent struct {
	ClientToken   string                `json:"client_token"`
	IntentID      string                `json:"intent_id"`
	TransactionID uuid.UUID             `json:"transaction_id"`
	Amount        decimal.Decimal       `json:"amount"`
	Status        payment.GatewayStatus `json:"status"`
}

// WebhookOutcome describes what a verified delivery did
type WebhookOutcome struct {
	EventID   string
	EventType string
	Handled   bool // false for ignored event types and intents this service never created
	Result    *LedgerResult
}

// Confirmation is the answer to a client-triggered payment check
type Confirmation struct {
	IntentID    string
	Status      payment.GatewayStatus
	Transaction *transaction.Transaction
	Balance     *balance.AccountBalance
	Applied     bool // this call credited the balance
}

// PaymentOptions configure the card processor integration
type PaymentOptions struct {
	Currency          string
	CommissionPercent decimal.Decimal
	CommissionFixed   decimal.Decimal
	Timeout           time.Duration // per gateway call, shorter than the caller's request timeout
}

// PaymentServiceImpl implements the PaymentService interface
type PaymentServiceImpl struct {
	balances BalanceService
	pricing  PricingService
	gateway  PaymentGateway
	opts     PaymentOptions
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(logger *slog.Logger, balances BalanceService, pricingService PricingService, gw PaymentGateway, opts PaymentOptions, m *metrics.Metrics) PaymentService {
	return &PaymentServiceImpl{
		balances: balances,
		pricing:  pricingService,
		gateway:  gw,
		opts:     opts,
		metrics:  m,
		logger:   logger,
	}
}

// CreatePaymentIntent records a pending deposit first, so a failed gateway call still leaves a
// traceable row, then asks the gateway for an intent keyed by the deposit id
func (s *PaymentServiceImpl) CreatePaymentIntent(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (*PaymentIntent, error) {
	if !amount.IsPositive() || !amount.Round(2).Equal(amount) {
		return nil, fmt.Errorf("%w: card amounts must be positive with at most 2 decimals", shared.ErrInvalidAmount)
	}

	cfg, err := s.pricing.GetActiveConfig(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.BelowMinimum(amount) {
		return nil, fmt.Errorf("%w: minimum recharge is %s", shared.ErrBelowMinimum, cfg.MinimumRecharge.StringFixed(2))
	}

	commission := payment.Commission(amount, s.opts.CommissionPercent, s.opts.CommissionFixed)
	deposit, err := s.balances.OpenDeposit(ctx, DepositRequest{
		AccountID:  accountID,
		Amount:     amount,
		Commission: commission,
		Currency:   s.opts.Currency,
	})
	if err != nil {
		return nil, err
	}

	intent, err := s.createIntent(ctx, deposit)
	if err != nil {
		// A timed out call may still have created the intent, so the deposit stays pending for
		// the reconciler; only an explicit rejection closes it now.
		if errors.Is(err, shared.ErrGatewayRejected) {
			if _, failErr := s.balances.FailDeposit(ctx, deposit.ID, shared.FailureReasonGatewayRejected); failErr != nil {
				s.logger.Error("Failed to close rejected deposit", "transaction_id", deposit.ID, "error", failErr)
			}
		}
		return nil, err
	}

	if _, err := s.balances.LinkDeposit(ctx, deposit.ID, intent.ID, intent.Status); err != nil {
		if errors.Is(err, shared.ErrDuplicateIdempotencyKey) {
			if _, failErr := s.balances.FailDeposit(ctx, deposit.ID, shared.FailureReasonSuperseded); failErr != nil {
				s.logger.Error("Failed to close superseded deposit", "transaction_id", deposit.ID, "error", failErr)
			}
		}
		return nil, err
	}

	s.logger.Info("Payment intent created",
		"account_id", accountID,
		"transaction_id", deposit.ID,
		"intent_id", intent.ID,
		"amount", amount,
		"commission", commission,
	)

	return &PaymentIntent{
		ClientToken:   intent.ClientSecret,
		IntentID:      intent.ID,
		TransactionID: deposit.ID,
		Amount:        amount,
		Status:        intent.Status,
	}, nil
}

func (s *PaymentServiceImpl) createIntent(ctx context.Context, deposit *transaction.Transaction) (*gateway.Intent, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	defer s.metrics.ObserveGateway("create_intent", time.Now())

	return s.gateway.CreateIntent(ctx, gateway.IntentParams{
		Amount:         deposit.BilledAmount,
		Currency:       s.opts.Currency,
		IdempotencyKey: deposit.ID.String(),
		Metadata: map[string]string{
			gateway.MetadataTransactionID: deposit.ID.String(),
			gateway.MetadataAccountID:     deposit.AccountID.String(),
		},
	})
}

func (s *PaymentServiceImpl) getIntent(ctx context.Context, intentID string) (*gateway.Intent, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	defer s.metrics.ObserveGateway("get_intent", time.Now())

	return s.gateway.GetIntent(ctx, intentID)
}

func (s *PaymentServiceImpl) HandleWebhookEvent(ctx context.Context, payload []byte, signature string) (*WebhookOutcome, error) {
	event, err := s.gateway.ParseEvent(payload, signature)
	if err != nil {
		if errors.Is(err, shared.ErrInvalidSignature) {
			s.metrics.WebhookOutcome("unverified", "invalid_signature")
			s.logger.Warn("Rejected webhook with invalid signature", "error", err)
		} else {
			s.metrics.WebhookOutcome("unverified", "undecodable")
			s.logger.Error("Failed to decode verified webhook", "error", err)
		}
		return nil, err
	}

	logger := s.logger.With("event_id", event.ID, "event_type", event.Type)
	out := &WebhookOutcome{EventID: event.ID, EventType: event.Type}

	if event.Intent == nil {
		s.metrics.WebhookOutcome(event.Type, "ignored")
		logger.Debug("Ignoring webhook event")
		return out, nil
	}
	logger = logger.With("intent_id", event.Intent.ID)

	switch event.Type {
	case gateway.EventPaymentSucceeded:
		out.Result, err = s.applyIntent(ctx, event.Intent)

	case gateway.EventPaymentFailed:
		// The customer may retry on the same intent, so the deposit stays pending
		err = s.balances.RecordGatewayStatus(ctx, event.Intent.ID, event.Intent.Status)

	case gateway.EventPaymentCanceled:
		var tx *transaction.Transaction
		tx, err = s.closeIntent(ctx, event.Intent, shared.FailureReasonPaymentCanceled)
		if err == nil {
			out.Result = &LedgerResult{Transaction: tx}
		}

	default:
		s.metrics.WebhookOutcome(event.Type, "ignored")
		logger.Debug("Ignoring webhook event")
		return out, nil
	}

	if errors.Is(err, errForeignIntent) ||
		errors.Is(err, payment.ErrRecordNotFound{}) ||
		errors.Is(err, transaction.ErrTransactionNotFound{}) {
		s.metrics.WebhookOutcome(event.Type, "ignored")
		logger.Warn("Ignoring webhook for an intent this service did not create", "error", err)
		return out, nil
	}
	if err != nil {
		s.metrics.WebhookOutcome(event.Type, "failed")
		logger.Error("Failed to process webhook event", "retryable", shared.Retryable(err), "error", err)
		return nil, err
	}

	out.Handled = true
	s.metrics.WebhookOutcome(event.Type, "processed")
	logger.Info("Webhook event processed")
	return out, nil
}

func (s *PaymentServiceImpl) ConfirmPayment(ctx context.Context, intentID string, caller shared.Identity) (*Confirmation, error) {
	record, err := s.balances.PaymentRecord(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if !caller.Role.Privileged() && record.AccountID != caller.AccountID {
		return nil, payment.ErrRecordNotFound{IntentID: intentID}
	}

	intent, err := s.getIntent(ctx, intentID)
	if err != nil {
		s.logger.Warn("Failed to poll payment intent", "intent_id", intentID, "error", err)
		return nil, err
	}

	c := &Confirmation{IntentID: intentID, Status: intent.Status}
	switch intent.Status {
	case payment.GatewayStatusSucceeded:
		res, err := s.applyIntent(ctx, intent)
		if err != nil {
			return nil, err
		}
		c.Transaction, c.Balance, c.Applied = res.Transaction, res.Balance, !res.Replayed

	case payment.GatewayStatusCanceled:
		c.Transaction, err = s.balances.FailDeposit(ctx, record.TransactionID, shared.FailureReasonPaymentCanceled)
		if err != nil {
			return nil, err
		}

	default:
		if err := s.balances.RecordGatewayStatus(ctx, intentID, intent.Status); err != nil {
			return nil, err
		}
		if c.Transaction, err = s.balances.GetTransaction(ctx, record.TransactionID); err != nil {
			return nil, err
		}
	}

	if c.Balance == nil {
		if c.Balance, err = s.balances.GetBalance(ctx, record.AccountID); err != nil {
			return nil, err
		}
	}

	s.logger.Info("Payment confirmation checked",
		"intent_id", intentID,
		"account_id", record.AccountID,
		"status", string(intent.Status),
		"applied", c.Applied,
	)
	return c, nil
}

var errForeignIntent = errors.New("payment intent carries no known deposit")

// applyIntent credits a succeeded intent through the idempotent ledger entry point
func (s *PaymentServiceImpl) applyIntent(ctx context.Context, intent *gateway.Intent) (*LedgerResult, error) {
	p := ExternalPayment{
		Reference: intent.ID,
		Amount:    intent.Received,
		Method:    shared.PaymentMethodCard,
		Metadata:  map[string]any{"gateway_status": string(intent.Status)},
	}
	if !p.Amount.IsPositive() {
		p.Amount = intent.Amount
	}

	record, err := s.balances.PaymentRecord(ctx, intent.ID)
	switch {
	case err == nil:
		p.AccountID, p.TransactionID, p.Commission = record.AccountID, record.TransactionID, record.Commission
	case errors.Is(err, payment.ErrRecordNotFound{}):
		p.TransactionID, p.AccountID, err = depositFromMetadata(intent)
		if err != nil {
			return nil, err
		}
		p.Commission = payment.Commission(p.Amount, s.opts.CommissionPercent, s.opts.CommissionFixed)
	default:
		return nil, err
	}

	return s.balances.ApplyExternalPayment(ctx, p)
}

func (s *PaymentServiceImpl) closeIntent(ctx context.Context, intent *gateway.Intent, reason shared.FailureReason) (*transaction.Transaction, error) {
	record, err := s.balances.PaymentRecord(ctx, intent.ID)
	if err == nil {
		return s.balances.FailDeposit(ctx, record.TransactionID, reason)
	}
	if !errors.Is(err, payment.ErrRecordNotFound{}) {
		return nil, err
	}

	txID, _, err := depositFromMetadata(intent)
	if err != nil {
		return nil, err
	}
	return s.balances.FailDeposit(ctx, txID, reason)
}

func depositFromMetadata(intent *gateway.Intent) (uuid.UUID, uuid.UUID, error) {
	txID, err := uuid.Parse(intent.Metadata[gateway.MetadataTransactionID])
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("intent %s: %w", intent.ID, errForeignIntent)
	}
	accountID, err := uuid.Parse(intent.Metadata[gateway.MetadataAccountID])
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("intent %s: %w", intent.ID, errForeignIntent)
	}
	return txID, accountID, nil
}

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/campaign-billing-ledger/internal/domain/payment"
	"github.com/campaign-billing-ledger/internal/domain/shared"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/webhook"
)

var minorUnits = decimal.NewFromInt(100)

// Config for the Stripe client
type Config struct {
	SecretKey     string
	WebhookSecret string
	Timeout       time.Duration // applied to every HTTP call to Stripe
	URL           string        // overrides the API base URL, used in tests
}

// StripeClient creates and reads payment intents and verifies webhooks
type StripeClient struct {
	intents       *paymentintent.Client
	webhookSecret string
	logger        *slog.Logger
}

// NewStripeClient builds a client with its own backend so the timeout never touches the
// package level stripe defaults
func NewStripeClient(logger *slog.Logger, cfg Config) *StripeClient {
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if cfg.URL != "" {
		backendCfg.URL = stripe.String(cfg.URL)
	}

	return &StripeClient{
		intents: &paymentintent.Client{
			B:   stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
			Key: cfg.SecretKey,
		},
		webhookSecret: cfg.WebhookSecret,
		logger:        logger,
	}
}

// CreateIntent creates a card payment intent. The idempotency key makes a retried call return
// the intent created by the first one.
func (c *StripeClient) CreateIntent(ctx context.Context, p IntentParams) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(toMinor(p.Amount)),
		Currency: stripe.String(strings.ToLower(p.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: p.Metadata,
	}
	params.Context = ctx
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}

	pi, err := c.intents.New(params)
	if err != nil {
		c.logger.Error("Failed to create payment intent",
			"idempotency_key", p.IdempotencyKey,
			"error", err,
		)
		return nil, classify("create payment intent", err)
	}

	return fromStripe(pi), nil
}

// GetIntent reads the current state of an intent
func (c *StripeClient) GetIntent(ctx context.Context, intentID string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := c.intents.Get(intentID, params)
	if err != nil {
		return nil, classify("get payment intent "+intentID, err)
	}
	return fromStripe(pi), nil
}

// ParseEvent verifies the signature header and decodes the event. Any verification problem
// yields shared.ErrInvalidSignature and nothing else is inspected.
func (c *StripeClient) ParseEvent(payload []byte, signature string) (*Event, error) {
	evt, err := webhook.ConstructEventWithOptions(payload, signature, c.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrInvalidSignature, err)
	}

	event := &Event{ID: evt.ID, Type: string(evt.Type)}
	if !strings.HasPrefix(event.Type, "payment_intent.") || evt.Data == nil {
		return event, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("failed to decode payment intent of event %s: %w", evt.ID, err)
	}
	event.Intent = fromStripe(&pi)
	return event, nil
}

// classify splits processor errors into rejected (the request itself is wrong, retrying
// cannot help) and unavailable (network, timeouts, rate limits, 5xx)
func classify(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) &&
		stripeErr.HTTPStatusCode > 0 &&
		stripeErr.HTTPStatusCode < http.StatusInternalServerError &&
		stripeErr.HTTPStatusCode != http.StatusTooManyRequests {
		return fmt.Errorf("%s: %w: %s", op, shared.ErrGatewayRejected, stripeErr.Msg)
	}
	return fmt.Errorf("%s: %w: %v", op, shared.ErrGatewayUnavailable, err)
}

func fromStripe(pi *stripe.PaymentIntent) *Intent {
	return &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       payment.GatewayStatus(pi.Status),
		Amount:       fromMinor(pi.Amount),
		Received:     fromMinor(pi.AmountReceived),
		Currency:     string(pi.Currency),
		Metadata:     pi.Metadata,
	}
}

func toMinor(amount decimal.Decimal) int64 {
	return amount.Mul(minorUnits).Round(0).IntPart()
}

func fromMinor(amount int64) decimal.Decimal {
	return decimal.NewFromInt(amount).Div(minorUnits)
}

package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/campaign-billing-ledger/internal/domain/payment"
	"github.com/campaign-billing-ledger/internal/domain/shared"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
)

const testWebhookSecret = "whsec_test"

const intentJSON = `{
	"id": "pi_123",
	"object": "payment_intent",
	"amount": 5000,
	"amount_received": 0,
	"currency": "usd",
	"client_secret": "pi_123_secret_abc",
	"status": "requires_payment_method",
	"metadata": {"transaction_id": "tx-1", "account_id": "acct-1"}
}`

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *StripeClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewStripeClient(newTestLogger(), Config{
		SecretKey:     "sk_test_123",
		WebhookSecret: testWebhookSecret,
		Timeout:       timeout,
		URL:           server.URL,
	})
}

func TestStripeClient_CreateIntent(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		var gotKey, gotAmount, gotMetadata string
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "/v1/payment_intents", r.URL.Path)
			gotKey = r.Header.Get("Idempotency-Key")
			gotAmount = r.PostForm.Get("amount")
			gotMetadata = r.PostForm.Get("metadata[transaction_id]")
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(intentJSON))
		}, time.Second)

		intent, err := client.CreateIntent(context.Background(), IntentParams{
			Amount:         decimal.RequireFromString("50.00"),
			Currency:       "USD",
			IdempotencyKey: "tx-1",
			Metadata:       map[string]string{MetadataTransactionID: "tx-1"},
		})

		require.NoError(t, err)
		assert.Equal(t, "tx-1", gotKey)
		assert.Equal(t, "5000", gotAmount)
		assert.Equal(t, "tx-1", gotMetadata)
		assert.Equal(t, "pi_123", intent.ID)
		assert.Equal(t, "pi_123_secret_abc", intent.ClientSecret)
		assert.Equal(t, payment.GatewayStatusRequiresPayment, intent.Status)
		assert.True(t, decimal.NewFromInt(50).Equal(intent.Amount))
		assert.Equal(t, "acct-1", intent.Metadata[MetadataAccountID])
	})

	t.Run("CardErrorIsRejected", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error": {"type": "invalid_request_error", "message": "Amount must be at least $0.50"}}`))
		}, time.Second)

		_, err := client.CreateIntent(context.Background(), IntentParams{Amount: decimal.RequireFromString("0.10"), Currency: "usd"})

		require.Error(t, err)
		assert.ErrorIs(t, err, shared.ErrGatewayRejected)
		assert.False(t, shared.Retryable(err))
	})

	t.Run("ServerErrorIsUnavailable", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error": {"type": "api_error", "message": "try later"}}`))
		}, time.Second)

		_, err := client.CreateIntent(context.Background(), IntentParams{Amount: decimal.NewFromInt(10), Currency: "usd"})

		assert.ErrorIs(t, err, shared.ErrGatewayUnavailable)
		assert.True(t, shared.Retryable(err))
	})

	t.Run("TimeoutIsUnavailable", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
			_, _ = w.Write([]byte(intentJSON))
		}, 20*time.Millisecond)

		_, err := client.CreateIntent(context.Background(), IntentParams{Amount: decimal.NewFromInt(10), Currency: "usd"})

		assert.ErrorIs(t, err, shared.ErrGatewayUnavailable)
	})
}

func TestStripeClient_GetIntent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/payment_intents/pi_123", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "pi_123", "object": "payment_intent", "amount": 2500, "amount_received": 2500, "currency": "usd", "status": "succeeded"}`))
	}, time.Second)

	intent, err := client.GetIntent(context.Background(), "pi_123")

	require.NoError(t, err)
	assert.Equal(t, payment.GatewayStatusSucceeded, intent.Status)
	assert.True(t, decimal.NewFromInt(25).Equal(intent.Received))
}

func TestStripeClient_ParseEvent(t *testing.T) {
	client := NewStripeClient(newTestLogger(), Config{WebhookSecret: testWebhookSecret, Timeout: time.Second})
	payload := []byte(`{
		"id": "evt_1",
		"object": "event",
		"type": "payment_intent.succeeded",
		"data": {"object": ` + intentJSON + `}
	}`)

	t.Run("ValidSignature", func(t *testing.T) {
		signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
			Payload:   payload,
			Secret:    testWebhookSecret,
			Timestamp: time.Now(),
		})

		event, err := client.ParseEvent(signed.Payload, signed.Header)

		require.NoError(t, err)
		assert.Equal(t, "evt_1", event.ID)
		assert.Equal(t, EventPaymentSucceeded, event.Type)
		require.NotNil(t, event.Intent)
		assert.Equal(t, "pi_123", event.Intent.ID)
		assert.Equal(t, "tx-1", event.Intent.Metadata[MetadataTransactionID])
	})

	t.Run("WrongSecret", func(t *testing.T) {
		signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
			Payload:   payload,
			Secret:    "whsec_other",
			Timestamp: time.Now(),
		})

		event, err := client.ParseEvent(signed.Payload, signed.Header)

		assert.Nil(t, event)
		assert.ErrorIs(t, err, shared.ErrInvalidSignature)
	})

	t.Run("TamperedPayload", func(t *testing.T) {
		signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
			Payload:   payload,
			Secret:    testWebhookSecret,
			Timestamp: time.Now(),
		})
		tampered := []byte(`{"id": "evt_1", "object": "event", "type": "payment_intent.succeeded", "data": {"object": {"id": "pi_evil", "amount": 999999}}}`)

		_, err := client.ParseEvent(tampered, signed.Header)

		assert.ErrorIs(t, err, shared.ErrInvalidSignature)
	})

	t.Run("MissingHeader", func(t *testing.T) {
		_, err := client.ParseEvent(payload, "")
		assert.ErrorIs(t, err, shared.ErrInvalidSignature)
	})

	t.Run("NonIntentEvent", func(t *testing.T) {
		signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
			Payload:   []byte(`{"id": "evt_2", "object": "event", "type": "customer.created", "data": {"object": {"id": "cus_1"}}}`),
			Secret:    testWebhookSecret,
			Timestamp: time.Now(),
		})

		event, err := client.ParseEvent(signed.Payload, signed.Header)

		require.NoError(t, err)
		assert.Equal(t, "customer.created", event.Type)
		assert.Nil(t, event.Intent)
	})
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(1999), toMinor(decimal.RequireFromString("19.99")))
	assert.True(t, decimal.RequireFromString("19.99").Equal(fromMinor(1999)))
}

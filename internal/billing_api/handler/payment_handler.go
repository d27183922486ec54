package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campaign-billing-ledger/internal/billing"
	"github.com/campaign-billing-ledger/internal/billing_api/middleware"
	"github.com/campaign-billing-ledger/internal/domain/shared"
)

const (
	// StripeSignatureHeader carries the webhook signature
	StripeSignatureHeader = "Stripe-Signature"

	maxWebhookBody = 64 << 10
)

// PaymentHandler serves card recharges and the gateway webhook
type PaymentHandler struct {
	payments billing.PaymentService
	logger   *slog.Logger
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(logger *slog.Logger, payments billing.PaymentService) *PaymentHandler {
	return &PaymentHandler{
		payments: payments,
		logger:   logger,
	}
}

// CreateIntent opens a card deposit for the caller and returns the client token
func (h *PaymentHandler) CreateIntent(c *gin.Context) {
	var req CreatePaymentIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	identity, _ := middleware.GetIdentity(c)
	intent, err := h.payments.CreatePaymentIntent(c.Request.Context(), identity.AccountID, req.Amount)
	if err != nil {
		RespondDomainError(c, err)
		return
	}

	RespondCreated(c, intent)
}

// Confirm asks the gateway for the intent status and applies it when it succeeded
func (h *PaymentHandler) Confirm(c *gin.Context) {
	identity, _ := middleware.GetIdentity(c)
	confirmation, err := h.payments.ConfirmPayment(c.Request.Context(), c.Param("id"), identity)
	if err != nil {
		RespondDomainError(c, err)
		return
	}

	RespondOK(c, gin.H{
		"intent_id":   confirmation.IntentID,
		"status":      confirmation.Status,
		"applied":     confirmation.Applied,
		"transaction": project(confirmation.Transaction, identity.Role),
		"balance":     newBalanceResponse(confirmation.Balance),
	})
}

// Webhook acknowledges every verified delivery with 200. Forged deliveries get 400 and
// transient ledger or gateway failures get 500 so that the gateway redelivers.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		RespondBadRequest(c, "Unreadable webhook body")
		return
	}

	outcome, err := h.payments.HandleWebhookEvent(c.Request.Context(), payload, c.GetHeader(StripeSignatureHeader))
	switch {
	case errors.Is(err, shared.ErrInvalidSignature):
		h.logger.Warn("Rejected webhook with invalid signature", "client_ip", c.ClientIP())
		RespondDomainError(c, err)
		return
	case err != nil && shared.Retryable(err):
		h.logger.Error("Webhook processing failed, gateway will redeliver", "error", err)
		RespondWithError(c, http.StatusInternalServerError, "WEBHOOK_RETRY", "Webhook could not be applied, redeliver later")
		return
	case err != nil:
		// Permanent failures are not fixed by redelivery
		h.logger.Error("Webhook processing failed permanently", "error", err)
		RespondOK(c, gin.H{"received": true, "handled": false})
		return
	}

	h.logger.Info("Webhook processed",
		"event_id", outcome.EventID,
		"event_type", outcome.EventType,
		"handled", outcome.Handled,
	)
	RespondOK(c, gin.H{"received": true, "handled": outcome.Handled})
}

package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/campaign-billing-ledger/internal/billing"
	"github.com/campaign-billing-ledger/internal/billing_api/middleware"
	"github.com/campaign-billing-ledger/internal/domain/pricing"
	"github.com/campaign-billing-ledger/internal/domain/shared"
	"github.com/campaign-billing-ledger/internal/platform/messaging/producers"
)

// UsageHandler bills completed calls, synchronously or through the usage topic
type UsageHandler struct {
	balances  billing.BalanceService
	publisher producers.UsagePublisher // nil when Kafka ingestion is disabled
	logger    *slog.Logger
}

// NewUsageHandler creates a new usage handler
func NewUsageHandler(logger *slog.Logger, balances billing.BalanceService, publisher producers.UsagePublisher) *UsageHandler {
	return &UsageHandler{
		balances:  balances,
		publisher: publisher,
		logger:    logger,
	}
}

// Charge prices and debits one call
func (h *UsageHandler) Charge(c *gin.Context) {
	var req ChargeUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	identity, _ := middleware.GetIdentity(c)
	accountID, err := usageAccount(identity, req.AccountID)
	if err != nil {
		RespondDomainError(c, err)
		return
	}

	result, err := h.balances.Charge(c.Request.Context(), billing.ChargeRequest{
		AccountID:  accountID,
		CampaignID: req.CampaignID,
		Usage: pricing.Usage{
			DurationSeconds: *req.DurationSeconds,
			Destination:     req.Destination,
		},
		CallID:        req.CallID,
		CorrelationID: middleware.GetCorrelationID(c),
	})
	if err != nil {
		if !errors.Is(err, shared.ErrInsufficientBalance) {
			h.logger.Error("Failed to charge usage", "account_id", accountID.String(), "call_id", req.CallID, "error", err)
		}
		RespondDomainError(c, err)
		return
	}

	response := ChargeResponse{
		LedgerResponse: LedgerResponse{
			Transaction: project(result.Transaction, identity.Role),
			Balance:     newBalanceResponse(result.Balance),
			Replayed:    result.Replayed,
		},
		Billed:  result.Cost.Billed,
		Skipped: result.Skipped,
	}
	if identity.Role.Privileged() {
		realCost := result.Cost.Real
		response.Real = &realCost
	}

	status := http.StatusCreated
	if result.Replayed || result.Skipped {
		status = http.StatusOK
	}
	RespondWithData(c, status, response)
}

// Enqueue hands the call to the usage processor and answers 202 once Kafka has it
func (h *UsageHandler) Enqueue(c *gin.Context) {
	if h.publisher == nil {
		RespondWithError(c, http.StatusServiceUnavailable, "INGESTION_DISABLED", "Asynchronous usage ingestion is not configured")
		return
	}

	var req UsageEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	if *req.DurationSeconds < 0 {
		RespondDomainError(c, shared.ErrInvalidUsage)
		return
	}

	identity, _ := middleware.GetIdentity(c)
	accountID, err := usageAccount(identity, req.AccountID)
	if err != nil {
		RespondDomainError(c, err)
		return
	}

	event := shared.UsageEvent{
		EventID:         uuid.New(),
		CallID:          req.CallID,
		AccountID:       accountID,
		CampaignID:      req.CampaignID,
		DurationSeconds: *req.DurationSeconds,
		Destination:     req.Destination,
		CorrelationID:   middleware.GetCorrelationID(c),
		OccurredAt:      time.Now().UTC(),
	}
	if req.OccurredAt != nil {
		event.OccurredAt = req.OccurredAt.UTC()
	}

	if err := h.publisher.PublishUsage(c.Request.Context(), event); err != nil {
		h.logger.Error("Failed to enqueue usage event", "account_id", accountID.String(), "error", err)
		RespondWithError(c, http.StatusServiceUnavailable, "INGESTION_UNAVAILABLE", "Usage event could not be queued, retry later")
		return
	}

	RespondAccepted(c, gin.H{"event_id": event.EventID, "call_id": event.CallID})
}

// usageAccount lets admins bill any account; users only bill their own
func usageAccount(identity shared.Identity, requested *uuid.UUID) (uuid.UUID, error) {
	if requested == nil || *requested == identity.AccountID {
		return identity.AccountID, nil
	}
	if !identity.Role.Privileged() {
		return uuid.Nil, shared.ErrForbidden
	}
	return *requested, nil
}

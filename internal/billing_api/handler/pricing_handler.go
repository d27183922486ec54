package handler

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/campaign-billing-ledger/internal/billing"
	"github.com/campaign-billing-ledger/internal/billing_api/middleware"
)

// PricingHandler serves the admin pricing endpoints
type PricingHandler struct {
	pricing billing.PricingService
	logger  *slog.Logger
}

// NewPricingHandler creates a new pricing handler
func NewPricingHandler(logger *slog.Logger, pricingService billing.PricingService) *PricingHandler {
	return &PricingHandler{
		pricing: pricingService,
		logger:  logger,
	}
}

func (h *PricingHandler) Get(c *gin.Context) {
	cfg, err := h.pricing.GetActiveConfig(c.Request.Context())
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, cfg)
}

// Update installs a new active configuration; the previous one stays in the history
func (h *PricingHandler) Update(c *gin.Context) {
	var req PricingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	identity, _ := middleware.GetIdentity(c)
	cfg, err := h.pricing.UpdateConfig(c.Request.Context(), req, identity)
	if err != nil {
		RespondDomainError(c, err)
		return
	}

	h.logger.Info("Pricing configuration replaced", "configuration_id", cfg.ID.String(), "updated_by", cfg.UpdatedBy)
	RespondOK(c, cfg)
}

func (h *PricingHandler) History(c *gin.Context) {
	var pagination PaginationParams
	if err := c.ShouldBindQuery(&pagination); err != nil {
		RespondBadRequest(c, "Invalid pagination parameters")
		return
	}

	history, err := h.pricing.History(c.Request.Context(), pagination.Page, pagination.PerPage)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, history)
}

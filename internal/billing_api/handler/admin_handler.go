package handler

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/campaign-billing-ledger/internal/billing"
	"github.com/campaign-billing-ledger/internal/billing_api/middleware"
	"github.com/campaign-billing-ledger/internal/domain/shared"
	"github.com/campaign-billing-ledger/internal/domain/transaction"
)

// AdminHandler serves manual balance operations. Routes are mounted behind RequireAdmin.
type AdminHandler struct {
	balances billing.BalanceService
	logger   *slog.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(logger *slog.Logger, balances billing.BalanceService) *AdminHandler {
	return &AdminHandler{
		balances: balances,
		logger:   logger,
	}
}

// Credit adds a manual credit or adjustment to :id
func (h *AdminHandler) Credit(c *gin.Context) {
	accountID, ok := accountParam(c)
	if !ok {
		return
	}

	var req CreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	identity, _ := middleware.GetIdentity(c)
	result, err := h.balances.Credit(c.Request.Context(), billing.CreditRequest{
		AccountID:      accountID,
		Amount:         req.Amount,
		Source:         shared.PaymentMethodManual,
		Description:    req.Description,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       map[string]any{"credited_by": identity.AccountID.String()},
	})
	if err != nil {
		RespondDomainError(c, err)
		return
	}

	h.logger.Info("Manual credit applied",
		"account_id", accountID.String(),
		"amount", req.Amount.String(),
		"admin_id", identity.AccountID.String(),
		"replayed", result.Replayed,
	)
	respondLedger(c, result, identity.Role)
}

// Transfer confirms a bank transfer. The reference makes repeated confirmations harmless.
func (h *AdminHandler) Transfer(c *gin.Context) {
	accountID, ok := accountParam(c)
	if !ok {
		return
	}

	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	identity, _ := middleware.GetIdentity(c)
	result, err := h.balances.ApplyExternalPayment(c.Request.Context(), billing.ExternalPayment{
		Reference: *transaction.Reference("transfer", req.Reference),
		AccountID: accountID,
		Amount:    req.Amount,
		Method:    shared.PaymentMethodBankTransfer,
		Metadata: map[string]any{
			"bank_reference": req.Reference,
			"confirmed_by":   identity.AccountID.String(),
		},
	})
	if err != nil {
		RespondDomainError(c, err)
		return
	}

	h.logger.Info("Bank transfer applied",
		"account_id", accountID.String(),
		"bank_reference", req.Reference,
		"replayed", result.Replayed,
	)
	respondLedger(c, result, identity.Role)
}

// Refund reverses a completed charge
func (h *AdminHandler) Refund(c *gin.Context) {
	chargeID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondBadRequest(c, "Invalid transaction ID")
		return
	}

	result, err := h.balances.Refund(c.Request.Context(), chargeID)
	if err != nil {
		RespondDomainError(c, err)
		return
	}

	identity, _ := middleware.GetIdentity(c)
	respondLedger(c, result, identity.Role)
}

// Transaction returns any transaction with its internal fields
func (h *AdminHandler) Transaction(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondBadRequest(c, "Invalid transaction ID")
		return
	}

	tx, err := h.balances.GetTransaction(c.Request.Context(), id)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, tx.Privileged())
}

func accountParam(c *gin.Context) (uuid.UUID, bool) {
	accountID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondBadRequest(c, "Invalid account ID")
		return uuid.Nil, false
	}
	return accountID, true
}

// respondLedger answers 201 for a new entry and 200 for a replay
func respondLedger(c *gin.Context, result *billing.LedgerResult, role shared.Role) {
	response := LedgerResponse{
		Transaction: project(result.Transaction, role),
		Balance:     newBalanceResponse(result.Balance),
		Replayed:    result.Replayed,
	}
	if result.Replayed {
		RespondOK(c, response)
		return
	}
	RespondCreated(c, response)
}

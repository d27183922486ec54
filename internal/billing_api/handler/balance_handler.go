package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/campaign-billing-ledger/internal/billing"
	"github.com/campaign-billing-ledger/internal/billing_api/middleware"
	"github.com/campaign-billing-ledger/internal/domain/shared"
	"github.com/campaign-billing-ledger/internal/domain/transaction"
)

// BalanceHandler serves the caller's balance and transaction history
type BalanceHandler struct {
	balances billing.BalanceService
	logger   *slog.Logger
}

// NewBalanceHandler creates a new balance handler
func NewBalanceHandler(logger *slog.Logger, balances billing.BalanceService) *BalanceHandler {
	return &BalanceHandler{
		balances: balances,
		logger:   logger,
	}
}

// Get returns the balance summary of the caller, or of ?account_id= for admins
func (h *BalanceHandler) Get(c *gin.Context) {
	accountID, ok := targetAccount(c)
	if !ok {
		return
	}

	b, err := h.balances.GetBalance(c.Request.Context(), accountID)
	if err != nil {
		h.logger.Error("Failed to get balance", "account_id", accountID.String(), "error", err)
		RespondDomainError(c, err)
		return
	}

	RespondOK(c, newBalanceResponse(b))
}

// Check answers whether the balance covers ?amount=
func (h *BalanceHandler) Check(c *gin.Context) {
	accountID, ok := targetAccount(c)
	if !ok {
		return
	}

	amount, err := decimal.NewFromString(c.Query("amount"))
	if err != nil {
		RespondBadRequest(c, "Query parameter amount must be a decimal")
		return
	}

	sufficiency, err := h.balances.HasSufficientBalance(c.Request.Context(), accountID, amount)
	if err != nil {
		RespondDomainError(c, err)
		return
	}

	RespondOK(c, sufficiency)
}

// Transactions returns the paginated history projected for the caller's role
func (h *BalanceHandler) Transactions(c *gin.Context) {
	accountID, ok := targetAccount(c)
	if !ok {
		return
	}

	var pagination PaginationParams
	if err := c.ShouldBindQuery(&pagination); err != nil {
		RespondBadRequest(c, "Invalid pagination parameters")
		return
	}

	txs, total, err := h.balances.History(c.Request.Context(), accountID, pagination.Page, pagination.PerPage)
	if err != nil {
		h.logger.Error("Failed to list transactions", "account_id", accountID.String(), "error", err)
		RespondDomainError(c, err)
		return
	}

	identity, _ := middleware.GetIdentity(c)
	RespondWithPaginatedData(c, transaction.Project(txs, identity.Role), pagination.Page, pagination.PerPage, int(total))
}

// targetAccount is the caller's own account; admins may look at another one with ?account_id=
func targetAccount(c *gin.Context) (uuid.UUID, bool) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		RespondWithError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
		return uuid.Nil, false
	}

	raw := c.Query("account_id")
	if raw == "" {
		return identity.AccountID, true
	}
	if !identity.Role.Privileged() {
		RespondDomainError(c, shared.ErrForbidden)
		return uuid.Nil, false
	}
	accountID, err := uuid.Parse(raw)
	if err != nil {
		RespondBadRequest(c, "Invalid account ID")
		return uuid.Nil, false
	}
	return accountID, true
}

package handler

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/campaign-billing-ledger/internal/domain/balance"
	"github.com/campaign-billing-ledger/internal/domain/pricing"
	"github.com/campaign-billing-ledger/internal/domain/shared"
	"github.com/campaign-billing-ledger/internal/domain/transaction"
)

// BalanceResponse is the balance summary shown to the account owner
type BalanceResponse struct {
	AccountID  uuid.UUID       `json:"account_id"`
	Balance    decimal.Decimal `json:"balance"`
	TotalSpent decimal.Decimal `json:"total_spent"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func newBalanceResponse(b *balance.AccountBalance) *BalanceResponse {
	if b == nil {
		return nil
	}
	return &BalanceResponse{
		AccountID:  b.AccountID,
		Balance:    b.Balance,
		TotalSpent: b.TotalSpent,
		UpdatedAt:  b.UpdatedAt,
	}
}

// LedgerResponse is a committed transaction with the balance right after it
type LedgerResponse struct {
	Transaction any              `json:"transaction"`
	Balance     *BalanceResponse `json:"balance"`
	Replayed    bool             `json:"replayed,omitempty"`
}

// project picks the transaction view for the caller's role
func project(tx *transaction.Transaction, role shared.Role) any {
	if tx == nil {
		return nil
	}
	if role.Privileged() {
		return tx.Privileged()
	}
	return tx.Public()
}

// ChargeUsageRequest bills one completed call synchronously
type ChargeUsageRequest struct {
	AccountID       *uuid.UUID `json:"account_id"` // admins only; defaults to the caller
	CampaignID      *uuid.UUID `json:"campaign_id"`
	CallID          string     `json:"call_id" binding:"max=128"`
	DurationSeconds *int64     `json:"duration_seconds" binding:"required"`
	Destination     string     `json:"destination" binding:"max=32"`
}

// ChargeResponse hides the real cost from non-privileged callers
type ChargeResponse struct {
	LedgerResponse
	Billed  decimal.Decimal  `json:"billed"`
	Real    *decimal.Decimal `json:"real,omitempty"`
	Skipped bool             `json:"skipped,omitempty"`
}

// UsageEventRequest enqueues one completed call for asynchronous billing
type UsageEventRequest struct {
	AccountID       *uuid.UUID `json:"account_id"`
	CampaignID      *uuid.UUID `json:"campaign_id"`
	CallID          string     `json:"call_id" binding:"max=128"`
	DurationSeconds *int64     `json:"duration_seconds" binding:"required"`
	Destination     string     `json:"destination" binding:"max=32"`
	OccurredAt      *time.Time `json:"occurred_at"`
}

// CreatePaymentIntentRequest starts a card recharge
type CreatePaymentIntentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// CreditRequest is an admin credit or adjustment
type CreditRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description" binding:"max=255"`
	IdempotencyKey string          `json:"idempotency_key" binding:"max=128"`
}

// TransferRequest confirms a received bank transfer
type TransferRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference" binding:"required,max=128"`
}

// PricingRequest is the full set of editable pricing rates
type PricingRequest = pricing.Rates

// PaginationParams represents pagination parameters for list endpoints
type PaginationParams struct {
	Page    int `form:"page,default=1" binding:"min=1"`
	PerPage int `form:"per_page,default=20" binding:"min=1,max=100"`
}

// ReportQuery selects a report window and scope
type ReportQuery struct {
	AccountID   string    `form:"account_id"`
	CampaignID  string    `form:"campaign_id"`
	From        time.Time `form:"from" time_format:"2006-01-02"`
	To          time.Time `form:"to" time_format:"2006-01-02"`
	Granularity string    `form:"granularity" binding:"omitempty,oneof=day month"`
	RankBy      string    `form:"rank_by" binding:"omitempty,oneof=account campaign"`
	Limit       int       `form:"limit" binding:"omitempty,min=1,max=100"`
}

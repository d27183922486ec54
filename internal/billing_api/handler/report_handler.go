package handler

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/campaign-billing-ledger/internal/billing"
	"github.com/campaign-billing-ledger/internal/billing_api/middleware"
	"github.com/campaign-billing-ledger/internal/domain/report"
)

// ReportHandler serves spending reports. Users always get their own account;
// admins may filter or aggregate across accounts.
type ReportHandler struct {
	reports billing.ReportService
	logger  *slog.Logger
}

// NewReportHandler creates a new report handler
func NewReportHandler(logger *slog.Logger, reports billing.ReportService) *ReportHandler {
	return &ReportHandler{
		reports: reports,
		logger:  logger,
	}
}

func (h *ReportHandler) Summary(c *gin.Context) {
	f, ok := reportFilter(c)
	if !ok {
		return
	}

	identity, _ := middleware.GetIdentity(c)
	summary, err := h.reports.Summary(c.Request.Context(), f, identity.Role)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, summary)
}

func (h *ReportHandler) Rollup(c *gin.Context) {
	f, ok := reportFilter(c)
	if !ok {
		return
	}

	identity, _ := middleware.GetIdentity(c)
	buckets, err := h.reports.Rollup(c.Request.Context(), f, identity.Role)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, buckets)
}

// Top ranks accounts or campaigns by billed amount
func (h *ReportHandler) Top(c *gin.Context) {
	f, ok := reportFilter(c)
	if !ok {
		return
	}

	rankings, err := h.reports.Top(c.Request.Context(), f)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, rankings)
}

// reportFilter binds the query. Non-privileged callers are pinned to their own account
// whatever account_id they pass.
func reportFilter(c *gin.Context) (report.Filter, bool) {
	var q ReportQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		RespondBadRequest(c, "Invalid report parameters: "+err.Error())
		return report.Filter{}, false
	}

	f := report.Filter{
		From:        q.From,
		To:          q.To,
		Granularity: report.Granularity(q.Granularity),
		RankBy:      report.RankBy(q.RankBy),
		Limit:       q.Limit,
	}

	identity, _ := middleware.GetIdentity(c)
	if identity.Role.Privileged() {
		if q.AccountID != "" {
			id, err := uuid.Parse(q.AccountID)
			if err != nil {
				RespondBadRequest(c, "Invalid account ID")
				return report.Filter{}, false
			}
			f.AccountID = &id
		}
	} else {
		own := identity.AccountID
		f.AccountID = &own
	}

	if q.CampaignID != "" {
		id, err := uuid.Parse(q.CampaignID)
		if err != nil {
			RespondBadRequest(c, "Invalid campaign ID")
			return report.Filter{}, false
		}
		f.CampaignID = &id
	}
	return f, true
}

package billing_api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/campaign-billing-ledger/internal/billing_api/handler"
	"github.com/campaign-billing-ledger/internal/billing_api/middleware"
)

type handlers struct {
	balance *handler.BalanceHandler
	usage   *handler.UsageHandler
	payment *handler.PaymentHandler
	pricing *handler.PricingHandler
	admin   *handler.AdminHandler
	report  *handler.ReportHandler
	metrics http.Handler
}

// setupRouter configures API routes and middleware for the application
func setupRouter(logger *slog.Logger, r *gin.Engine, h handlers) {
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CorrelationID())

	v1 := r.Group("/api/v1")

	// The gateway authenticates itself with the webhook signature, not with identity headers
	v1.POST("/webhooks/stripe", h.payment.Webhook)

	api := v1.Group("", middleware.Identity())
	{
		api.GET("/balance", h.balance.Get)
		api.GET("/balance/check", h.balance.Check)
		api.GET("/transactions", h.balance.Transactions)

		payments := api.Group("/payments/intents")
		{
			payments.POST("", h.payment.CreateIntent)
			payments.POST("/:id/confirm", h.payment.Confirm)
		}

		usage := api.Group("/usage")
		{
			usage.POST("/charges", h.usage.Charge)
			usage.POST("/events", h.usage.Enqueue)
		}

		reports := api.Group("/reports")
		{
			reports.GET("/summary", h.report.Summary)
			reports.GET("/rollup", h.report.Rollup)
		}
	}

	admin := api.Group("/admin", middleware.RequireAdmin())
	{
		admin.GET("/pricing", h.pricing.Get)
		admin.PUT("/pricing", h.pricing.Update)
		admin.GET("/pricing/history", h.pricing.History)

		admin.POST("/accounts/:id/credits", h.admin.Credit)
		admin.POST("/accounts/:id/transfers", h.admin.Transfer)
		admin.GET("/transactions/:id", h.admin.Transaction)
		admin.POST("/transactions/:id/refund", h.admin.Refund)

		admin.GET("/reports/summary", h.report.Summary)
		admin.GET("/reports/rollup", h.report.Rollup)
		admin.GET("/reports/top", h.report.Top)
	}

	// Health check endpoint for monitoring
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})
	r.GET("/metrics", gin.WrapH(h.metrics))
}

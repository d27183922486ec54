package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campaign-billing-ledger/internal/billing_api/middleware"
	"github.com/campaign-billing-ledger/internal/domain/balance"
	"github.com/campaign-billing-ledger/internal/domain/payment"
	"github.com/campaign-billing-ledger/internal/domain/shared"
	"github.com/campaign-billing-ledger/internal/domain/transaction"
)

// Response represents a standard API response
type Response struct {
	Data          interface{} `json:"data,omitempty"`
	Error         *ErrorInfo  `json:"error,omitempty"`
	CorrelationID string      `json:"correlation_id,omitempty"`
	Meta          *MetaInfo   `json:"meta,omitempty"`
}

// ErrorInfo represents error information in a response
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// MetaInfo represents pagination metadata in a response
type MetaInfo struct {
	Page       int `json:"page,omitempty"`
	PerPage    int `json:"per_page,omitempty"`
	TotalPages int `json:"total_pages,omitempty"`
	TotalItems int `json:"total_items,omitempty"`
}

// NewPaginatedResponse creates a new paginated response
func NewPaginatedResponse(data interface{}, page, perPage, totalItems int) *Response {
	totalPages := totalItems / perPage
	if totalItems%perPage > 0 {
		totalPages++
	}

	return &Response{
		Data: data,
		Meta: &MetaInfo{
			Page:       page,
			PerPage:    perPage,
			TotalPages: totalPages,
			TotalItems: totalItems,
		},
	}
}

// RespondWithData sends a JSON response with data
func RespondWithData(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, &Response{
		Data:          data,
		CorrelationID: middleware.GetCorrelationID(c),
	})
}

// RespondWithError sends a JSON response with an error
func RespondWithError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, &Response{
		Error:         &ErrorInfo{Code: code, Message: message},
		CorrelationID: middleware.GetCorrelationID(c),
	})
}

// RespondWithPaginatedData sends a JSON response with paginated data
func RespondWithPaginatedData(c *gin.Context, data interface{}, page, perPage, totalItems int) {
	response := NewPaginatedResponse(data, page, perPage, totalItems)
	response.CorrelationID = middleware.GetCorrelationID(c)
	c.JSON(http.StatusOK, response)
}

// RespondOK sends a 200 OK response with data
func RespondOK(c *gin.Context, data interface{}) {
	RespondWithData(c, http.StatusOK, data)
}

// RespondCreated sends a 201 Created response with data
func RespondCreated(c *gin.Context, data interface{}) {
	RespondWithData(c, http.StatusCreated, data)
}

// RespondAccepted sends a 202 Accepted response with data
func RespondAccepted(c *gin.Context, data interface{}) {
	RespondWithData(c, http.StatusAccepted, data)
}

// RespondBadRequest sends a 400 Bad Request response with an error
func RespondBadRequest(c *gin.Context, message string) {
	RespondWithError(c, http.StatusBadRequest, "BAD_REQUEST", message)
}

// RespondNotFound sends a 404 Not Found response with an error
func RespondNotFound(c *gin.Context, message string) {
	if message == "" {
		message = "Resource not found"
	}
	RespondWithError(c, http.StatusNotFound, "NOT_FOUND", message)
}

// RespondInternalError sends a 500 Internal Server Error response with an error
func RespondInternalError(c *gin.Context) {
	RespondWithError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "An internal server error occurred")
}

type errorMapping struct {
	target  error
	status  int
	code    string
	message string // empty keeps err.Error()
}

var errorMappings = []errorMapping{
	{shared.ErrInvalidAmount, http.StatusBadRequest, "INVALID_AMOUNT", ""},
	{shared.ErrInvalidUsage, http.StatusBadRequest, "INVALID_USAGE", ""},
	{shared.ErrBelowMinimum, http.StatusBadRequest, "BELOW_MINIMUM", ""},
	{shared.ErrInvalidSignature, http.StatusBadRequest, "INVALID_SIGNATURE", "Webhook signature verification failed"},
	{shared.ErrInsufficientBalance, http.StatusPaymentRequired, "INSUFFICIENT_BALANCE", ""},
	{shared.ErrForbidden, http.StatusForbidden, "FORBIDDEN", "Operation requires a privileged role"},
	{transaction.ErrTransactionNotFound{}, http.StatusNotFound, "NOT_FOUND", "Transaction not found"},
	{payment.ErrRecordNotFound{}, http.StatusNotFound, "NOT_FOUND", "Payment not found"},
	{shared.ErrDuplicateIdempotencyKey, http.StatusConflict, "DUPLICATE_IDEMPOTENCY_KEY", ""},
	{transaction.ErrNotRefundable, http.StatusConflict, "NOT_REFUNDABLE", ""},
	{transaction.ErrInvalidTransition, http.StatusConflict, "INVALID_TRANSITION", ""},
	{shared.ErrGatewayRejected, http.StatusBadGateway, "GATEWAY_REJECTED", ""},
	{shared.ErrGatewayUnavailable, http.StatusServiceUnavailable, "GATEWAY_UNAVAILABLE", "Payment gateway unavailable, retry later"},
	{shared.ErrLedgerUnavailable, http.StatusServiceUnavailable, "LEDGER_UNAVAILABLE", "Ledger temporarily unavailable, retry later"},
	{shared.ErrConfigurationMissing, http.StatusServiceUnavailable, "CONFIGURATION_MISSING", "No active pricing configuration"},
	{balance.ErrBalanceNotFound{}, http.StatusNotFound, "NOT_FOUND", "Balance not found"},
}

// RespondDomainError maps a billing error onto the envelope. Unknown errors are 500s.
func RespondDomainError(c *gin.Context, err error) {
	for _, m := range errorMappings {
		if !errors.Is(err, m.target) {
			continue
		}
		message := m.message
		if message == "" {
			message = err.Error()
		}
		retryable := shared.Retryable(err)
		if retryable {
			c.Header("Retry-After", "1")
		}
		c.JSON(m.status, &Response{
			Error:         &ErrorInfo{Code: m.code, Message: message, Retryable: retryable},
			CorrelationID: middleware.GetCorrelationID(c),
		})
		return
	}
	RespondInternalError(c)
}

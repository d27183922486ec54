package postgres

import (
	"context"
	"regexp"
	"testing"

	"github.com/campaign-billing-ledger/internal/domain/payment"
	"github.com/campaign-billing-ledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var paymentRowColumns = []string{"transaction_id", "intent_id", "account_id", "amount", "currency", "gateway_status", "commission", "created_at", "updated_at"}

func paymentRow(r *payment.Record) []any {
	return []any{r.TransactionID, r.IntentID, r.AccountID, r.Amount, r.Currency, r.GatewayStatus, r.Commission, r.CreatedAt, r.UpdatedAt}
}

func TestPaymentRepository_Create(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPaymentRepository(newTestLogger(), mock)
	record := payment.NewRecord(uuid.New(), uuid.New(), dec("50"), dec("1.75"), "usd")

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(createPaymentQuery)).
			WithArgs(paymentRow(record)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		assert.NoError(t, repo.Create(ctx, record))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(createPaymentQuery)).
			WithArgs(paymentRow(record)...).
			WillReturnError(&pgconn.PgError{Code: "23505"})

		assert.ErrorIs(t, repo.Create(ctx, record), shared.ErrDuplicateIdempotencyKey)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPaymentRepository_Lookups(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPaymentRepository(newTestLogger(), mock)
	record := payment.NewRecord(uuid.New(), uuid.New(), dec("50"), dec("1.75"), "usd")
	record.Link("pi_abc", payment.GatewayStatusRequiresPayment)

	t.Run("GetByIntentID", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(getPaymentByIntentQuery)).
			WithArgs("pi_abc").
			WillReturnRows(pgxmock.NewRows(paymentRowColumns).AddRow(paymentRow(record)...))

		got, err := repo.GetByIntentID(ctx, "pi_abc")
		require.NoError(t, err)
		assert.Equal(t, record.TransactionID, got.TransactionID)
		require.NotNil(t, got.IntentID)
		assert.Equal(t, "pi_abc", *got.IntentID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("GetByTransactionID not found", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(getPaymentByTransactionQuery)).
			WithArgs(record.TransactionID).
			WillReturnError(pgx.ErrNoRows)

		_, err := repo.GetByTransactionID(ctx, record.TransactionID)
		assert.ErrorIs(t, err, payment.ErrRecordNotFound{})
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPaymentRepository_Update(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPaymentRepository(newTestLogger(), mock)
	record := payment.NewRecord(uuid.New(), uuid.New(), dec("50"), dec("1.75"), "usd")
	record.Link("pi_abc", payment.GatewayStatusSucceeded)
	args := []any{record.IntentID, record.GatewayStatus, record.Commission, record.UpdatedAt, record.TransactionID}

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(updatePaymentQuery)).WithArgs(args...).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		assert.NoError(t, repo.Update(ctx, record))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("intent claimed by another transaction", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(updatePaymentQuery)).WithArgs(args...).WillReturnError(&pgconn.PgError{Code: "23505"})
		assert.ErrorIs(t, repo.Update(ctx, record), shared.ErrDuplicateIdempotencyKey)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(updatePaymentQuery)).WithArgs(args...).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		assert.ErrorIs(t, repo.Update(ctx, record), payment.ErrRecordNotFound{})
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

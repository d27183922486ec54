package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/campaign-billing-ledger/internal/domain/outbox"
	"github.com/campaign-billing-ledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboxRepository_WithTx(t *testing.T) {
	repo := NewOutboxRepository(newTestLogger(), nil)

	mockTx := pgx.Tx(nil)
	txRepo := repo.WithTx(mockTx)

	require.NotNil(t, txRepo)
	assert.Equal(t, mockTx, txRepo.querier)
	assert.Equal(t, repo.logger, txRepo.logger)
}

func TestOutboxRepository_Create(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewOutboxRepository(newTestLogger(), mock)
	tx := newCharge(t)
	message, err := outbox.NewMessage(tx)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(createOutboxQuery)).
		WithArgs(message.TransactionID, message.AccountID, message.Payload, message.Status, message.Attempts, message.CreatedAt).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	require.NoError(t, repo.Create(ctx, message))
	assert.Equal(t, int64(7), message.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepository_GetPending(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewOutboxRepository(newTestLogger(), mock)
	columns := []string{"id", "transaction_id", "account_id", "payload", "status", "attempts", "created_at", "last_attempt_at"}
	now := time.Now()

	t.Run("success", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(pendingOutboxQuery)).
			WithArgs(shared.OutboxStatusPending, 10).
			WillReturnRows(pgxmock.NewRows(columns).
				AddRow(int64(1), uuid.New(), uuid.New(), []byte(`{}`), shared.OutboxStatusPending, 0, now, (*time.Time)(nil)).
				AddRow(int64(2), uuid.New(), uuid.New(), []byte(`{}`), shared.OutboxStatusPending, 2, now, &now))

		messages, err := repo.GetPending(ctx, 10)
		require.NoError(t, err)
		require.Len(t, messages, 2)
		assert.Equal(t, int64(1), messages[0].ID)
		assert.Nil(t, messages[0].LastAttemptAt)
		assert.Equal(t, 2, messages[1].Attempts)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query error", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(pendingOutboxQuery)).
			WithArgs(shared.OutboxStatusPending, 10).
			WillReturnError(errors.New("boom"))

		_, err := repo.GetPending(ctx, 10)
		assert.ErrorContains(t, err, "failed to get pending outbox messages")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestOutboxRepository_StatusUpdates(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewOutboxRepository(newTestLogger(), mock)

	t.Run("UpdateStatus", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(updateOutboxStatusQuery)).
			WithArgs(shared.OutboxStatusProcessed, pgxmock.AnyArg(), int64(3)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		assert.NoError(t, repo.UpdateStatus(ctx, 3, shared.OutboxStatusProcessed))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("UpdateStatus missing", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(updateOutboxStatusQuery)).
			WithArgs(shared.OutboxStatusProcessed, pgxmock.AnyArg(), int64(4)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		var notFound outbox.ErrMessageNotFound
		assert.ErrorAs(t, repo.UpdateStatus(ctx, 4, shared.OutboxStatusProcessed), &notFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("IncrementAttempts", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(incrementOutboxAttemptsQuery)).
			WithArgs(pgxmock.AnyArg(), int64(3)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		assert.NoError(t, repo.IncrementAttempts(ctx, 3))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

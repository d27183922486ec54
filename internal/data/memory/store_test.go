package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/campaign-billing-ledger/internal/domain/balance"
	"github.com/campaign-billing-ledger/internal/domain/outbox"
	"github.com/campaign-billing-ledger/internal/domain/payment"
	"github.com/campaign-billing-ledger/internal/domain/pricing"
	"github.com/campaign-billing-ledger/internal/domain/shared"
	"github.com/campaign-billing-ledger/internal/domain/transaction"
	"github.com/campaign-billing-ledger/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestStore_WithinCommitsOnSuccess(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	accountID := uuid.New()

	err := s.Within(ctx, func(ctx context.Context, repos store.Repositories) error {
		b, err := repos.Balances.LockForUpdate(ctx, accountID)
		require.NoError(t, err)
		require.NoError(t, b.Credit(dec("25")))
		return repos.Balances.Update(ctx, b)
	})
	require.NoError(t, err)

	b, err := s.Repositories().Balances.Get(ctx, accountID)
	require.NoError(t, err)
	assert.True(t, dec("25").Equal(b.Balance))
	assert.Equal(t, 2, b.Version)
}

func TestStore_WithinDiscardsOnError(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	accountID := uuid.New()
	boom := errors.New("boom")

	err := s.Within(ctx, func(ctx context.Context, repos store.Repositories) error {
		b, _ := repos.Balances.LockForUpdate(ctx, accountID)
		_ = b.Credit(dec("25"))
		require.NoError(t, repos.Balances.Update(ctx, b))

		tx, _ := transaction.NewDeposit(accountID, dec("25"), shared.PaymentMethodManual, nil)
		require.NoError(t, repos.Transactions.Create(ctx, tx))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.Repositories().Balances.Get(ctx, accountID)
	assert.ErrorIs(t, err, balance.ErrBalanceNotFound{})
	count, _ := s.Repositories().Transactions.CountByAccount(ctx, accountID)
	assert.Zero(t, count)
}

func TestStore_WithinDiscardsOnPanic(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	accountID := uuid.New()

	assert.Panics(t, func() {
		_ = s.Within(ctx, func(ctx context.Context, repos store.Repositories) error {
			_, _ = repos.Balances.LockForUpdate(ctx, accountID)
			panic("half-applied")
		})
	})

	_, err := s.Repositories().Balances.Get(ctx, accountID)
	assert.ErrorIs(t, err, balance.ErrBalanceNotFound{})

	// the store is still usable
	require.NoError(t, s.Within(ctx, func(ctx context.Context, repos store.Repositories) error { return nil }))
}

func TestStore_BalanceVersionCheck(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	repos := s.Repositories()
	accountID := uuid.New()

	b, err := repos.Balances.LockForUpdate(ctx, accountID)
	require.NoError(t, err)
	stale := *b

	require.NoError(t, b.Credit(dec("1")))
	require.NoError(t, repos.Balances.Update(ctx, b))

	require.NoError(t, stale.Credit(dec("2")))
	err = repos.Balances.Update(ctx, &stale)
	assert.ErrorAs(t, err, &balance.ErrConcurrentModification{})
}

func TestStore_Transactions(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	repos := s.Repositories()
	accountID := uuid.New()

	tx, err := transaction.NewDeposit(accountID, dec("50"), shared.PaymentMethodCard, nil)
	require.NoError(t, err)
	require.NoError(t, repos.Transactions.Create(ctx, tx))

	t.Run("ReturnsCopies", func(t *testing.T) {
		got, err := repos.Transactions.GetByID(ctx, tx.ID)
		require.NoError(t, err)
		got.Metadata["mutated"] = true
		got.Status = shared.TransactionStatusCompleted

		again, _ := repos.Transactions.GetByID(ctx, tx.ID)
		assert.Equal(t, shared.TransactionStatusPending, again.Status)
		assert.NotContains(t, again.Metadata, "mutated")
	})

	t.Run("ReferenceIndex", func(t *testing.T) {
		require.NoError(t, tx.AttachReference("pi_1"))
		require.NoError(t, repos.Transactions.Update(ctx, tx))

		got, err := repos.Transactions.GetByExternalReference(ctx, "pi_1")
		require.NoError(t, err)
		assert.Equal(t, tx.ID, got.ID)

		other, _ := transaction.NewDeposit(accountID, dec("5"), shared.PaymentMethodCard, transaction.Reference("x", "1"))
		other.ExternalReference = tx.ExternalReference
		assert.ErrorIs(t, repos.Transactions.Create(ctx, other), shared.ErrDuplicateIdempotencyKey)
	})

	t.Run("FinalRowsAreImmutable", func(t *testing.T) {
		require.NoError(t, tx.Complete())
		require.NoError(t, repos.Transactions.Update(ctx, tx))

		tx.Status = shared.TransactionStatusFailed
		assert.ErrorIs(t, repos.Transactions.Update(ctx, tx), transaction.ErrInvalidTransition)

		got, _ := repos.Transactions.GetByID(ctx, tx.ID)
		assert.Equal(t, shared.TransactionStatusCompleted, got.Status)
	})

	t.Run("ListAndPending", func(t *testing.T) {
		pending, _ := transaction.NewDeposit(accountID, dec("20"), shared.PaymentMethodCard, nil)
		pending.CreatedAt = time.Now().Add(-time.Hour)
		require.NoError(t, repos.Transactions.Create(ctx, pending))

		all, err := repos.Transactions.ListByAccount(ctx, accountID, 10, 0)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, tx.ID, all[0].ID, "newest first")

		second, _ := repos.Transactions.ListByAccount(ctx, accountID, 1, 1)
		require.Len(t, second, 1)
		assert.Equal(t, pending.ID, second[0].ID)

		stale, err := repos.Transactions.ListPending(ctx, shared.PaymentMethodCard, time.Now().Add(-time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, pending.ID, stale[0].ID)
	})
}

func TestStore_Payments(t *testing.T) {
	ctx := context.Background()
	repos := NewStore().Repositories()

	first := payment.NewRecord(uuid.New(), uuid.New(), dec("50"), dec("1.75"), "usd")
	second := payment.NewRecord(uuid.New(), uuid.New(), dec("50"), dec("1.75"), "usd")
	require.NoError(t, repos.Payments.Create(ctx, first))
	require.NoError(t, repos.Payments.Create(ctx, second))

	first.Link("pi_1", payment.GatewayStatusRequiresPayment)
	require.NoError(t, repos.Payments.Update(ctx, first))

	got, err := repos.Payments.GetByIntentID(ctx, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, first.TransactionID, got.TransactionID)

	second.Link("pi_1", payment.GatewayStatusRequiresPayment)
	assert.ErrorIs(t, repos.Payments.Update(ctx, second), shared.ErrDuplicateIdempotencyKey)

	_, err = repos.Payments.GetByIntentID(ctx, "pi_missing")
	assert.ErrorIs(t, err, payment.ErrRecordNotFound{})
}

func TestStore_Pricing(t *testing.T) {
	ctx := context.Background()
	repos := NewStore().Repositories()

	_, err := repos.Pricing.GetActive(ctx)
	assert.ErrorIs(t, err, shared.ErrConfigurationMissing)

	rates := pricing.Rates{RealPerMinute: dec("0.01"), InflationFactor: dec("2"), FallbackMinimumCost: dec("0.05")}
	first, _ := pricing.NewConfiguration(rates, "admin")
	require.NoError(t, repos.Pricing.Create(ctx, first))

	second, _ := pricing.NewConfiguration(rates, "admin")
	second.EffectiveFrom = first.EffectiveFrom.Add(time.Second)
	assert.Error(t, repos.Pricing.Create(ctx, second), "only one active configuration")

	require.NoError(t, repos.Pricing.DeactivateAll(ctx))
	require.NoError(t, repos.Pricing.Create(ctx, second))

	active, err := repos.Pricing.GetActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)

	history, _ := repos.Pricing.List(ctx, 10, 0)
	require.Len(t, history, 2)
	assert.Equal(t, second.ID, history[0].ID)
	assert.False(t, history[1].IsActive)
}

func TestStore_Outbox(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	repos := s.Repositories()

	tx, _ := transaction.NewDeposit(uuid.New(), dec("1"), shared.PaymentMethodManual, nil)
	first, _ := outbox.NewMessage(tx)
	second, _ := outbox.NewMessage(tx)
	require.NoError(t, repos.Outbox.Create(ctx, first))
	require.NoError(t, repos.Outbox.Create(ctx, second))
	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)

	require.NoError(t, repos.Outbox.UpdateStatus(ctx, first.ID, shared.OutboxStatusProcessed))
	require.NoError(t, repos.Outbox.IncrementAttempts(ctx, second.ID))

	pending, err := repos.Outbox.GetPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].ID)
	assert.Equal(t, 1, pending[0].Attempts)

	var notFound outbox.ErrMessageNotFound
	assert.ErrorAs(t, repos.Outbox.UpdateStatus(ctx, 99, shared.OutboxStatusProcessed), &notFound)

	t.Run("InjectedFailure", func(t *testing.T) {
		boom := errors.New("outbox down")
		s.FailOutboxWrites(boom)
		defer s.FailOutboxWrites(nil)

		err := s.Within(ctx, func(ctx context.Context, repos store.Repositories) error {
			msg, _ := outbox.NewMessage(tx)
			return repos.Outbox.Create(ctx, msg)
		})
		assert.ErrorIs(t, err, boom)
		assert.Len(t, s.OutboxMessages(), 2)
	})
}

func TestStore_Rates(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	s.SetDestinationRate("+1", dec("0.01"))
	s.SetDestinationRate("+1907", dec("0.09"))

	rate, found, err := s.Rates().RealPerMinute(ctx, "+19075551234")
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, dec("0.09").Equal(rate))

	_, found, _ = s.Rates().RealPerMinute(ctx, "+44")
	assert.False(t, found)
}

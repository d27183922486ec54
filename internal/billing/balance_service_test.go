package billing

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/campaign-billing-ledger/internal/domain/balance"
	"github.com/campaign-billing-ledger/internal/domain/payment"
	"github.com/campaign-billing-ledger/internal/domain/pricing"
	"github.com/campaign-billing-ledger/internal/domain/shared"
	"github.com/campaign-billing-ledger/internal/domain/transaction"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalanceService_GetBalance(t *testing.T) {
	f := newFixture(t, nil)
	accountID := uuid.New()

	b, err := f.balances.GetBalance(context.Background(), accountID)

	require.NoError(t, err)
	assert.Equal(t, accountID, b.AccountID)
	assert.True(t, b.Balance.IsZero(), "Unknown accounts have a zero balance, not an error")
}

func TestBalanceService_HasSufficientBalance(t *testing.T) {
	rates := defaultRates()
	f := newFixture(t, &rates)
	ctx := context.Background()
	accountID := uuid.New()
	f.credit(t, accountID, "25")

	ok, err := f.balances.HasSufficientBalance(ctx, accountID, dec("25"))
	require.NoError(t, err)
	assert.True(t, ok.Sufficient)

	notOk, err := f.balances.HasSufficientBalance(ctx, accountID, dec("25.01"))
	require.NoError(t, err)
	assert.False(t, notOk.Sufficient)
	assert.True(t, dec("25").Equal(notOk.Available))
	assert.True(t, dec("25.01").Equal(notOk.Required))

	_, err = f.balances.HasSufficientBalance(ctx, accountID, decimal.Zero)
	assert.ErrorIs(t, err, shared.ErrInvalidAmount)
}

func TestBalanceService_Credit(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	accountID := uuid.New()

	t.Run("CompletedDeposit", func(t *testing.T) {
		res, err := f.balances.Credit(ctx, CreditRequest{
			AccountID:   accountID,
			Amount:      dec("100"),
			Description: "Welcome bonus",
			Metadata:    map[string]any{"ticket": "SUP-1"},
		})

		require.NoError(t, err)
		assert.Equal(t, shared.TransactionStatusCompleted, res.Transaction.Status)
		assert.Equal(t, shared.TransactionTypeDeposit, res.Transaction.Type)
		assert.Equal(t, shared.PaymentMethodManual, res.Transaction.PaymentMethod)
		assert.Equal(t, "Welcome bonus", res.Transaction.Description)
		assert.Equal(t, "SUP-1", res.Transaction.Metadata["ticket"])
		assert.True(t, dec("100").Equal(res.Balance.Balance))
		assert.Len(t, f.store.OutboxMessages(), 1)
	})

	t.Run("RejectsNonPositive", func(t *testing.T) {
		for _, amount := range []string{"0", "-5"} {
			_, err := f.balances.Credit(ctx, CreditRequest{AccountID: accountID, Amount: dec(amount)})
			assert.ErrorIs(t, err, shared.ErrInvalidAmount)
		}
		b, _ := f.balances.GetBalance(ctx, accountID)
		assert.True(t, dec("100").Equal(b.Balance))
	})

	t.Run("IdempotencyKeyReplays", func(t *testing.T) {
		req := CreditRequest{AccountID: accountID, Amount: dec("5"), IdempotencyKey: "adj-7"}

		first, err := f.balances.Credit(ctx, req)
		require.NoError(t, err)
		second, err := f.balances.Credit(ctx, req)
		require.NoError(t, err)

		assert.False(t, first.Replayed)
		assert.True(t, second.Replayed)
		assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
		assert.True(t, dec("105").Equal(second.Balance.Balance))
	})
}

func TestBalanceService_Charge_Scenario(t *testing.T) {
	rates := defaultRates()
	f := newFixture(t, &rates)
	ctx := context.Background()
	accountID := uuid.New()
	campaignID := uuid.New()

	credit, err := f.balances.Credit(ctx, CreditRequest{AccountID: accountID, Amount: dec("100"), Source: shared.PaymentMethodManual})
	require.NoError(t, err)
	assert.True(t, dec("100").Equal(credit.Balance.Balance))

	res, err := f.balances.Charge(ctx, ChargeRequest{
		AccountID:  accountID,
		CampaignID: &campaignID,
		Usage:      pricing.Usage{DurationSeconds: 180, Destination: "US"},
	})

	require.NoError(t, err)
	assert.True(t, dec("0.06").Equal(res.Cost.Billed))
	assert.True(t, dec("0.03").Equal(res.Cost.Real))
	assert.True(t, dec("99.94").Equal(res.Balance.Balance))
	assert.True(t, dec("0.06").Equal(res.Balance.TotalSpent))

	tx := res.Transaction
	assert.Equal(t, shared.TransactionTypeCharge, tx.Type)
	assert.Equal(t, shared.TransactionStatusCompleted, tx.Status)
	assert.True(t, dec("-0.06").Equal(tx.BilledAmount))
	assert.True(t, dec("0.03").Equal(tx.RealAmount))
	assert.Equal(t, &campaignID, tx.CampaignID)
	assert.Equal(t, "Call to US (3m0s)", tx.Description)

	stored, err := f.balances.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.True(t, dec("0.03").Equal(stored.RealAmount))
	assert.True(t, dec("99.94").Equal(f.completedSum(t, accountID)))
}

func TestBalanceService_Charge_InsufficientBalance(t *testing.T) {
	rates := defaultRates()
	f := newFixture(t, &rates)
	ctx := context.Background()
	accountID := uuid.New()
	f.credit(t, accountID, "100")

	// 7500 minutes at 0.02 bill 150.00
	_, err := f.balances.Charge(ctx, ChargeRequest{AccountID: accountID, Usage: minutes(7500), CallID: "big-call"})

	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrInsufficientBalance)
	var insufficient *balance.InsufficientBalanceError
	require.True(t, errors.As(err, &insufficient))
	assert.True(t, dec("150").Equal(insufficient.Required))
	assert.True(t, dec("100").Equal(insufficient.Available))

	b, err := f.balances.GetBalance(ctx, accountID)
	require.NoError(t, err)
	assert.True(t, dec("100").Equal(b.Balance))
	assert.True(t, b.TotalSpent.IsZero())

	var failed []*transaction.Transaction
	for _, tx := range f.transactions(t, accountID) {
		if tx.Type == shared.TransactionTypeCharge {
			assert.NotEqual(t, shared.TransactionStatusCompleted, tx.Status, "A blocked charge never completes")
			failed = append(failed, tx)
		}
	}
	require.Len(t, failed, 1)
	assert.Equal(t, string(shared.FailureReasonInsufficientBalance), failed[0].FailureReason)
	assert.Nil(t, failed[0].ExternalReference, "The failed record must not consume the call id")

	// After a top-up the same call can be charged
	f.credit(t, accountID, "100")
	res, err := f.balances.Charge(ctx, ChargeRequest{AccountID: accountID, Usage: minutes(7500), CallID: "big-call"})
	require.NoError(t, err)
	assert.True(t, dec("50").Equal(res.Balance.Balance))
}

func TestBalanceService_Charge_CallIDIsIdempotent(t *testing.T) {
	rates := defaultRates()
	f := newFixture(t, &rates)
	ctx := context.Background()
	accountID := uuid.New()
	f.credit(t, accountID, "10")

	req := ChargeRequest{AccountID: accountID, Usage: minutes(5), CallID: "call-42"}
	first, err := f.balances.Charge(ctx, req)
	require.NoError(t, err)
	second, err := f.balances.Charge(ctx, req)
	require.NoError(t, err)

	assert.False(t, first.Replayed)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
	assert.True(t, dec("0.10").Equal(second.Cost.Billed))
	assert.True(t, dec("9.90").Equal(second.Balance.Balance))
	assert.Equal(t, "call:call-42", first.Transaction.Reference())
}

func TestBalanceService_Charge_EventKeyIsIdempotent(t *testing.T) {
	rates := defaultRates()
	f := newFixture(t, &rates)
	ctx := context.Background()
	accountID := uuid.New()
	f.credit(t, accountID, "10")

	req := ChargeRequest{AccountID: accountID, Usage: minutes(5), EventKey: "evt-9"}
	first, err := f.balances.Charge(ctx, req)
	require.NoError(t, err)
	second, err := f.balances.Charge(ctx, req)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
	assert.True(t, dec("9.90").Equal(second.Balance.Balance))
	assert.Equal(t, "event:evt-9", first.Transaction.Reference())

	withCall, err := f.balances.Charge(ctx, ChargeRequest{AccountID: accountID, Usage: minutes(5), CallID: "call-9", EventKey: "evt-10"})
	require.NoError(t, err)
	assert.Equal(t, "call:call-9", withCall.Transaction.Reference())
}

func TestBalanceService_Charge_ConcurrentChargesNeverOverdraw(t *testing.T) {
	rates := defaultRates()
	f := newFixture(t, &rates)
	ctx := context.Background()
	accountID := uuid.New()

	const n, m = 25, 10
	// Each 3 minute call bills 0.06; the balance covers exactly m of them
	f.credit(t, accountID, "0.60")

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		succeeded    int
		insufficient int
		other        []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.balances.Charge(ctx, ChargeRequest{AccountID: accountID, Usage: minutes(3)})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, shared.ErrInsufficientBalance):
				insufficient++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, other)
	assert.Equal(t, m, succeeded)
	assert.Equal(t, n-m, insufficient)

	b, err := f.balances.GetBalance(ctx, accountID)
	require.NoError(t, err)
	assert.True(t, b.Balance.IsZero())
	assert.False(t, b.Balance.IsNegative())
	assert.True(t, b.Balance.Equal(f.completedSum(t, accountID)))
}

func TestBalanceService_Charge_PricingChangeIsNotRetroactive(t *testing.T) {
	rates := pricing.Rates{
		RealPerMinute:       dec("0.01"),
		InflationFactor:     dec("2"),
		MinimumRecharge:     dec("10"),
		FallbackMinimumCost: dec("0.05"),
	}
	f := newFixture(t, &rates)
	ctx := context.Background()
	accountID := uuid.New()
	f.credit(t, accountID, "100")

	before, err := f.balances.Charge(ctx, ChargeRequest{AccountID: accountID, Usage: minutes(3)})
	require.NoError(t, err)
	assert.True(t, dec("0.06").Equal(before.Cost.Billed))

	rates.InflationFactor = dec("3")
	_, err = f.pricing.UpdateConfig(ctx, rates, admin)
	require.NoError(t, err)

	after, err := f.balances.Charge(ctx, ChargeRequest{AccountID: accountID, Usage: minutes(3)})
	require.NoError(t, err)
	assert.True(t, dec("0.09").Equal(after.Cost.Billed))

	refetched, err := f.balances.GetTransaction(ctx, before.Transaction.ID)
	require.NoError(t, err)
	assert.True(t, dec("-0.06").Equal(refetched.BilledAmount))
	assert.True(t, dec("0.03").Equal(refetched.RealAmount))
}

func TestBalanceService_Charge_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("ConfigurationMissing", func(t *testing.T) {
		f := newFixture(t, nil)
		accountID := uuid.New()
		f.credit(t, accountID, "10")

		_, err := f.balances.Charge(ctx, ChargeRequest{AccountID: accountID, Usage: minutes(1)})

		assert.ErrorIs(t, err, shared.ErrConfigurationMissing)
		b, _ := f.balances.GetBalance(ctx, accountID)
		assert.True(t, dec("10").Equal(b.Balance))
	})

	t.Run("InvalidUsage", func(t *testing.T) {
		rates := defaultRates()
		f := newFixture(t, &rates)

		_, err := f.balances.Charge(ctx, ChargeRequest{AccountID: uuid.New(), Usage: pricing.Usage{DurationSeconds: -1}})
		assert.ErrorIs(t, err, shared.ErrInvalidUsage)

		_, err = f.balances.Charge(ctx, ChargeRequest{Usage: minutes(1)})
		assert.ErrorIs(t, err, shared.ErrInvalidUsage)
	})

	t.Run("UnansweredCallIsSkipped", func(t *testing.T) {
		rates := defaultRates()
		f := newFixture(t, &rates)
		accountID := uuid.New()
		f.credit(t, accountID, "10")

		res, err := f.balances.Charge(ctx, ChargeRequest{AccountID: accountID, Usage: pricing.Usage{DurationSeconds: 0}})

		require.NoError(t, err)
		assert.True(t, res.Skipped)
		assert.Nil(t, res.Transaction)
		assert.True(t, dec("10").Equal(res.Balance.Balance))
	})

	t.Run("LedgerFailureLeavesNoTrace", func(t *testing.T) {
		rates := defaultRates()
		f := newFixture(t, &rates)
		accountID := uuid.New()
		f.credit(t, accountID, "10")
		before := len(f.transactions(t, accountID))

		f.store.FailOutboxWrites(errors.New("disk full"))
		_, err := f.balances.Charge(ctx, ChargeRequest{AccountID: accountID, Usage: minutes(1)})
		f.store.FailOutboxWrites(nil)

		assert.ErrorIs(t, err, shared.ErrLedgerUnavailable)
		assert.True(t, shared.Retryable(err))
		b, _ := f.balances.GetBalance(ctx, accountID)
		assert.True(t, dec("10").Equal(b.Balance))
		assert.True(t, b.TotalSpent.IsZero())
		assert.Len(t, f.transactions(t, accountID), before)
	})
}

func TestBalanceService_ApplyExternalPayment(t *testing.T) {
	ctx := context.Background()

	t.Run("AppliedOnce", func(t *testing.T) {
		f := newFixture(t, nil)
		accountID := uuid.New()
		p := ExternalPayment{Reference: "intent_abc", AccountID: accountID, Amount: dec("50"), Commission: dec("1.75")}

		first, err := f.balances.ApplyExternalPayment(ctx, p)
		require.NoError(t, err)
		second, err := f.balances.ApplyExternalPayment(ctx, p)
		require.NoError(t, err)

		assert.False(t, first.Replayed)
		assert.True(t, second.Replayed)
		assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
		assert.True(t, dec("50").Equal(second.Balance.Balance))
		assert.Equal(t, "1.75", first.Transaction.Metadata["gateway_commission"])
		assert.Len(t, f.transactions(t, accountID), 1)
	})

	t.Run("ConcurrentDeliveriesApplyOnce", func(t *testing.T) {
		f := newFixture(t, nil)
		accountID := uuid.New()
		p := ExternalPayment{Reference: "transfer:TR-9", AccountID: accountID, Amount: dec("20"), Method: shared.PaymentMethodBankTransfer}

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.balances.ApplyExternalPayment(ctx, p)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		b, _ := f.balances.GetBalance(ctx, accountID)
		assert.True(t, dec("20").Equal(b.Balance))
		assert.Len(t, f.transactions(t, accountID), 1)
	})

	t.Run("CompletesPendingDeposit", func(t *testing.T) {
		f := newFixture(t, nil)
		accountID := uuid.New()
		deposit, err := f.balances.OpenDeposit(ctx, DepositRequest{AccountID: accountID, Amount: dec("30"), Commission: dec("1.17"), Currency: "usd"})
		require.NoError(t, err)
		_, err = f.balances.LinkDeposit(ctx, deposit.ID, "pi_1", payment.GatewayStatusRequiresPayment)
		require.NoError(t, err)

		res, err := f.balances.ApplyExternalPayment(ctx, ExternalPayment{Reference: "pi_1", AccountID: accountID, Amount: dec("30")})

		require.NoError(t, err)
		assert.Equal(t, deposit.ID, res.Transaction.ID)
		assert.Equal(t, shared.TransactionStatusCompleted, res.Transaction.Status)
		assert.True(t, dec("30").Equal(res.Balance.Balance))

		record, err := f.balances.PaymentRecord(ctx, "pi_1")
		require.NoError(t, err)
		assert.Equal(t, payment.GatewayStatusSucceeded, record.GatewayStatus)
	})

	t.Run("AdoptsUnlinkedDeposit", func(t *testing.T) {
		f := newFixture(t, nil)
		accountID := uuid.New()
		deposit, err := f.balances.OpenDeposit(ctx, DepositRequest{AccountID: accountID, Amount: dec("30"), Currency: "usd"})
		require.NoError(t, err)

		res, err := f.balances.ApplyExternalPayment(ctx, ExternalPayment{
			Reference:     "pi_lost",
			TransactionID: deposit.ID,
			AccountID:     accountID,
			Amount:        dec("30"),
		})

		require.NoError(t, err)
		assert.Equal(t, deposit.ID, res.Transaction.ID)
		assert.Equal(t, "pi_lost", res.Transaction.Reference())
		assert.Len(t, f.transactions(t, accountID), 1)
	})

	t.Run("AmountMismatchIsRejected", func(t *testing.T) {
		f := newFixture(t, nil)
		accountID := uuid.New()
		deposit, err := f.balances.OpenDeposit(ctx, DepositRequest{AccountID: accountID, Amount: dec("30"), Currency: "usd"})
		require.NoError(t, err)
		_, err = f.balances.LinkDeposit(ctx, deposit.ID, "pi_2", payment.GatewayStatusRequiresPayment)
		require.NoError(t, err)

		_, err = f.balances.ApplyExternalPayment(ctx, ExternalPayment{Reference: "pi_2", AccountID: accountID, Amount: dec("300")})

		assert.ErrorIs(t, err, shared.ErrInvalidAmount)
		b, _ := f.balances.GetBalance(ctx, accountID)
		assert.True(t, b.Balance.IsZero())
	})

	t.Run("ReferenceOfAnotherAccount", func(t *testing.T) {
		f := newFixture(t, nil)
		p := ExternalPayment{Reference: "intent_x", AccountID: uuid.New(), Amount: dec("10")}
		_, err := f.balances.ApplyExternalPayment(ctx, p)
		require.NoError(t, err)

		p.AccountID = uuid.New()
		_, err = f.balances.ApplyExternalPayment(ctx, p)
		assert.ErrorIs(t, err, shared.ErrDuplicateIdempotencyKey)
	})

	t.Run("Validation", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.balances.ApplyExternalPayment(ctx, ExternalPayment{AccountID: uuid.New(), Amount: dec("10")})
		assert.ErrorIs(t, err, shared.ErrInvalidAmount)
		_, err = f.balances.ApplyExternalPayment(ctx, ExternalPayment{Reference: "r", AccountID: uuid.New(), Amount: dec("-1")})
		assert.ErrorIs(t, err, shared.ErrInvalidAmount)
	})
}

func TestBalanceService_Refund(t *testing.T) {
	rates := defaultRates()
	f := newFixture(t, &rates)
	ctx := context.Background()
	accountID := uuid.New()
	f.credit(t, accountID, "10")

	charge, err := f.balances.Charge(ctx, ChargeRequest{AccountID: accountID, Usage: minutes(10)})
	require.NoError(t, err)

	refund, err := f.balances.Refund(ctx, charge.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, shared.TransactionTypeRefund, refund.Transaction.Type)
	assert.True(t, dec("0.20").Equal(refund.Transaction.BilledAmount))
	assert.True(t, dec("10").Equal(refund.Balance.Balance))
	assert.True(t, dec("0.20").Equal(refund.Balance.TotalSpent), "Refunds do not reduce total spent")

	again, err := f.balances.Refund(ctx, charge.Transaction.ID)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, refund.Transaction.ID, again.Transaction.ID)

	deposits := f.transactions(t, accountID)
	var depositID uuid.UUID
	for _, tx := range deposits {
		if tx.Type == shared.TransactionTypeDeposit {
			depositID = tx.ID
		}
	}
	_, err = f.balances.Refund(ctx, depositID)
	assert.ErrorIs(t, err, transaction.ErrNotRefundable)

	_, err = f.balances.Refund(ctx, uuid.New())
	assert.ErrorIs(t, err, transaction.ErrTransactionNotFound{})

	assert.True(t, dec("10").Equal(f.completedSum(t, accountID)))
}

func TestBalanceService_DepositLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	accountID := uuid.New()

	deposit, err := f.balances.OpenDeposit(ctx, DepositRequest{AccountID: accountID, Amount: dec("40"), Commission: dec("1.46"), Currency: "usd"})
	require.NoError(t, err)
	assert.Equal(t, shared.TransactionStatusPending, deposit.Status)

	linked, err := f.balances.LinkDeposit(ctx, deposit.ID, "pi_9", payment.GatewayStatusRequiresPayment)
	require.NoError(t, err)
	assert.Equal(t, "pi_9", linked.Reference())

	require.NoError(t, f.balances.RecordGatewayStatus(ctx, "pi_9", payment.GatewayStatusProcessing))
	record, err := f.balances.PaymentRecord(ctx, "pi_9")
	require.NoError(t, err)
	assert.Equal(t, payment.GatewayStatusProcessing, record.GatewayStatus)
	assert.True(t, dec("1.46").Equal(record.Commission))

	failed, err := f.balances.FailDeposit(ctx, deposit.ID, shared.FailureReasonPaymentCanceled)
	require.NoError(t, err)
	assert.Equal(t, shared.TransactionStatusFailed, failed.Status)

	again, err := f.balances.FailDeposit(ctx, deposit.ID, shared.FailureReasonGatewayUnavailable)
	require.NoError(t, err)
	assert.Equal(t, string(shared.FailureReasonPaymentCanceled), again.FailureReason, "Closed deposits are not rewritten")

	_, err = f.balances.ApplyExternalPayment(ctx, ExternalPayment{Reference: "pi_9", AccountID: accountID, Amount: dec("40")})
	assert.ErrorIs(t, err, transaction.ErrInvalidTransition)

	b, _ := f.balances.GetBalance(ctx, accountID)
	assert.True(t, b.Balance.IsZero(), "Pending and failed deposits never affect the balance")
}

func TestBalanceService_HistoryAndInvariant(t *testing.T) {
	rates := defaultRates()
	f := newFixture(t, &rates)
	ctx := context.Background()
	accountID := uuid.New()

	f.credit(t, accountID, "5")
	_, err := f.balances.ApplyExternalPayment(ctx, ExternalPayment{Reference: "pi_h", AccountID: accountID, Amount: dec("12.5")})
	require.NoError(t, err)
	for i := int64(1); i <= 4; i++ {
		_, err := f.balances.Charge(ctx, ChargeRequest{AccountID: accountID, Usage: pricing.Usage{DurationSeconds: i * 37}})
		require.NoError(t, err)
	}
	_, err = f.balances.OpenDeposit(ctx, DepositRequest{AccountID: accountID, Amount: dec("99"), Currency: "usd"})
	require.NoError(t, err)

	page, total, err := f.balances.History(ctx, accountID, 1, 3)
	require.NoError(t, err)
	assert.Len(t, page, 3)
	assert.Equal(t, int64(7), total)

	b, err := f.balances.GetBalance(ctx, accountID)
	require.NoError(t, err)
	assert.True(t, b.Balance.Equal(f.completedSum(t, accountID)),
		"balance %s must equal the sum of completed transactions %s", b.Balance, f.completedSum(t, accountID))
}

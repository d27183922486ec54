package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/campaign-billing-ledger/internal/domain/balance"
	"github.com/campaign-billing-ledger/internal/domain/outbox"
	"github.com/campaign-billing-ledger/internal/domain/payment"
	"github.com/campaign-billing-ledger/internal/domain/pricing"
	"github.com/campaign-billing-ledger/internal/domain/shared"
	"github.com/campaign-billing-ledger/internal/domain/transaction"
	"github.com/campaign-billing-ledger/internal/platform/metrics"
	"github.com/campaign-billing-ledger/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LedgerResult is a committed (or replayed) transaction and the balance right after it
type LedgerResult struct {
	Transaction *transaction.Transaction
	Balance     *balance.AccountBalance
	Replayed    bool // the idempotency key was already applied; nothing changed
}

// ChargeResult adds the priced cost to a charge. Skipped charges had nothing to bill and
// carry no transaction.
type ChargeResult struct {
	LedgerResult
	Cost    pricing.Cost
	Skipped bool
}

// Sufficiency is the answer to a pre-flight balance check
type Sufficiency struct {
	Sufficient bool            `json:"sufficient"`
	Required   decimal.Decimal `json:"required"`
	Available  decimal.Decimal `json:"available"`
}

// CreditRequest is a manual credit or adjustment
type CreditRequest struct {
	AccountID      uuid.UUID
	Amount         decimal.Decimal
	Source         shared.PaymentMethod
	Description    string
	Metadata       map[string]any
	IdempotencyKey string // optional; repeats return the first credit
}

// ChargeRequest is one completed call to bill
type ChargeRequest struct {
	AccountID     uuid.UUID
	CampaignID    *uuid.UUID
	Usage         pricing.Usage
	CallID        string // optional; repeats return the first charge
	EventKey      string // optional; used as the reference when CallID is empty
	CorrelationID string
}

// ExternalPayment is money received outside the ledger: a card payment or a bank transfer
type ExternalPayment struct {
	Reference     string    // idempotency key, e.g. the payment intent id
	TransactionID uuid.UUID // optional pending deposit to finalize when the reference is not linked yet
	AccountID     uuid.UUID
	Amount        decimal.Decimal
	Commission    decimal.Decimal
	Method        shared.PaymentMethod
	Metadata      map[string]any
}

// DepositRequest opens a pending card deposit before the gateway is contacted
type DepositRequest struct {
	AccountID  uuid.UUID
	Amount     decimal.Decimal
	Commission decimal.Decimal
	Currency   string
}

// BalanceOptions bound every atomic unit
type BalanceOptions struct {
	WriteTimeout     time.Duration
	MaxRetryAttempts int
}

// BalanceServiceImpl implements the BalanceService interface
type BalanceServiceImpl struct {
	uow          store.UnitOfWork
	balances     balance.Repository
	transactions transaction.Repository
	payments     payment.Repository
	pricing      PricingService
	opts         BalanceOptions
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// NewBalanceService creates a new balance service. The repositories are used for reads only;
// every write goes through uow.
func NewBalanceService(
	logger *slog.Logger,
	uow store.UnitOfWork,
	reads store.Repositories,
	pricingService PricingService,
	opts BalanceOptions,
	m *metrics.Metrics,
) BalanceService {
	if opts.MaxRetryAttempts < 1 {
		opts.MaxRetryAttempts = 1
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &BalanceServiceImpl{
		uow:          uow,
		balances:     reads.Balances,
		transactions: reads.Transactions,
		payments:     reads.Payments,
		pricing:      pricingService,
		opts:         opts,
		metrics:      m,
		logger:       logger,
	}
}

// GetBalance returns the zero balance for accounts that never transacted
func (s *BalanceServiceImpl) GetBalance(ctx context.Context, accountID uuid.UUID) (*balance.AccountBalance, error) {
	b, err := s.balances.Get(ctx, accountID)
	if err != nil {
		if errors.Is(err, balance.ErrBalanceNotFound{}) {
			return balance.NewAccountBalance(accountID), nil
		}
		s.logger.Error("Failed to read balance", "account_id", accountID, "error", err)
		return nil, err
	}
	return b, nil
}

// HasSufficientBalance is a pre-flight check only; Charge validates again under the lock
func (s *BalanceServiceImpl) HasSufficientBalance(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (*Sufficiency, error) {
	if !amount.IsPositive() {
		return nil, shared.ErrInvalidAmount
	}
	b, err := s.GetBalance(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &Sufficiency{Sufficient: b.CanCover(amount), Required: amount, Available: b.Balance}, nil
}

func (s *BalanceServiceImpl) Credit(ctx context.Context, req CreditRequest) (*LedgerResult, error) {
	if !req.Amount.IsPositive() {
		return nil, shared.ErrInvalidAmount
	}
	if req.Source == "" {
		req.Source = shared.PaymentMethodManual
	}

	var ref *string
	if req.IdempotencyKey != "" {
		ref = transaction.Reference("credit", req.IdempotencyKey)
	}

	var result *LedgerResult
	err := s.within(ctx, "credit", func(ctx context.Context, repos store.Repositories) error {
		result = nil
		b, err := repos.Balances.LockForUpdate(ctx, req.AccountID)
		if err != nil {
			return err
		}

		if ref != nil {
			existing, err := findByReference(ctx, repos.Transactions, *ref)
			if err != nil {
				return err
			}
			if existing != nil {
				if existing.AccountID != req.AccountID {
					return transaction.ErrDuplicateReference{Reference: *ref}
				}
				result = &LedgerResult{Transaction: existing, Balance: b, Replayed: true}
				return nil
			}
		}

		tx, err := transaction.NewDeposit(req.AccountID, req.Amount, req.Source, ref)
		if err != nil {
			return err
		}
		if req.Description != "" {
			tx.Description = req.Description
		}
		for k, v := range req.Metadata {
			tx.Metadata[k] = v
		}

		if err := settle(ctx, repos, b, tx, b.Credit); err != nil {
			return err
		}
		result = &LedgerResult{Transaction: tx, Balance: b}
		return nil
	})
	if err != nil {
		s.metrics.CreditOutcome(string(req.Source), "failed")
		s.logger.Error("Credit failed",
			"account_id", req.AccountID,
			"amount", req.Amount,
			"source", string(req.Source),
			"error", err,
		)
		return nil, err
	}

	s.metrics.CreditOutcome(string(req.Source), outcome(result.Replayed, "applied"))
	s.logger.Info("Balance credited",
		"account_id", req.AccountID,
		"transaction_id", result.Transaction.ID,
		"amount", req.Amount,
		"balance", result.Balance.Balance,
		"replayed", result.Replayed,
	)
	return result, nil
}

func (s *BalanceServiceImpl) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	logger := s.logger.With("account_id", req.AccountID, "call_id", req.CallID)
	if req.CorrelationID != "" {
		logger = logger.With("correlation_id", req.CorrelationID)
	}

	if req.AccountID == uuid.Nil {
		return nil, fmt.Errorf("%w: account id is required", shared.ErrInvalidUsage)
	}

	var ref *string
	switch {
	case req.CallID != "":
		ref = transaction.Reference("call", req.CallID)
	case req.EventKey != "":
		ref = transaction.Reference("event", req.EventKey)
	}
	if ref != nil {
		// A replay is answered with the stored charge, priced with the configuration of its time
		if existing, err := findByReference(ctx, s.transactions, *ref); err == nil && existing != nil && existing.AccountID == req.AccountID {
			b, err := s.GetBalance(ctx, req.AccountID)
			if err != nil {
				return nil, err
			}
			s.metrics.ChargeOutcome("replayed")
			return &ChargeResult{
				LedgerResult: LedgerResult{Transaction: existing, Balance: b, Replayed: true},
				Cost:         pricing.Cost{Real: existing.RealAmount, Billed: existing.BilledAmount.Abs()},
			}, nil
		}
	}

	cost, err := s.pricing.ResolveUsageCost(ctx, req.Usage)
	if err != nil {
		logger.Error("Failed to price usage", "error", err)
		s.metrics.ChargeOutcome("failed")
		return nil, err
	}

	if !cost.Billed.IsPositive() {
		b, err := s.GetBalance(ctx, req.AccountID)
		if err != nil {
			return nil, err
		}
		logger.Info("Usage has no billable cost, nothing charged", "duration_seconds", req.Usage.DurationSeconds)
		s.metrics.ChargeOutcome("skipped")
		return &ChargeResult{LedgerResult: LedgerResult{Balance: b}, Cost: cost, Skipped: true}, nil
	}

	newCharge := func() (*transaction.Transaction, error) {
		tx, err := transaction.NewCharge(req.AccountID, req.CampaignID, cost.Billed, cost.Real, ref)
		if err != nil {
			return nil, err
		}
		tx.DescribeCall(req.Usage.Destination, req.Usage.DurationSeconds)
		tx.Metadata["duration_seconds"] = req.Usage.DurationSeconds
		if req.Usage.Destination != "" {
			tx.Metadata["destination"] = req.Usage.Destination
		}
		if req.CallID != "" {
			tx.Metadata["call_id"] = req.CallID
		}
		if req.CorrelationID != "" {
			tx.Metadata["correlation_id"] = req.CorrelationID
		}
		if cost.Fallback {
			tx.Metadata["priced_with_fallback"] = true
		}
		if cost.Clamped {
			tx.Metadata["billed_at_cost"] = true
		}
		return tx, nil
	}

	var result *ChargeResult
	err = s.within(ctx, "charge", func(ctx context.Context, repos store.Repositories) error {
		result = nil
		b, err := repos.Balances.LockForUpdate(ctx, req.AccountID)
		if err != nil {
			return err
		}

		if ref != nil {
			existing, err := findByReference(ctx, repos.Transactions, *ref)
			if err != nil {
				return err
			}
			if existing != nil {
				if existing.AccountID != req.AccountID {
					return transaction.ErrDuplicateReference{Reference: *ref}
				}
				result = &ChargeResult{
					LedgerResult: LedgerResult{Transaction: existing, Balance: b, Replayed: true},
					Cost:         pricing.Cost{Real: existing.RealAmount, Billed: existing.BilledAmount.Abs()},
				}
				return nil
			}
		}

		tx, err := newCharge()
		if err != nil {
			return err
		}
		if err := settle(ctx, repos, b, tx, b.Debit); err != nil {
			return err
		}
		result = &ChargeResult{LedgerResult: LedgerResult{Transaction: tx, Balance: b}, Cost: cost}
		return nil
	})

	if err != nil {
		var insufficient *balance.InsufficientBalanceError
		if errors.As(err, &insufficient) {
			logger.Warn("Charge blocked by insufficient balance",
				"required", insufficient.Required,
				"available", insufficient.Available,
			)
			s.metrics.ChargeOutcome("insufficient")
			if tx, buildErr := newCharge(); buildErr == nil {
				s.recordFailedCharge(ctx, tx, logger)
			}
			return nil, err
		}

		logger.Error("Charge failed", "billed", cost.Billed, "error", err)
		s.metrics.ChargeOutcome("failed")
		return nil, err
	}

	s.metrics.ChargeOutcome(outcome(result.Replayed, "charged"))
	logger.Info("Usage charged",
		"transaction_id", result.Transaction.ID,
		"billed", cost.Billed,
		"balance", result.Balance.Balance,
		"replayed", result.Replayed,
	)
	return result, nil
}

// recordFailedCharge keeps a visible trace of a blocked charge. It has no balance effect and
// carries no reference, so the same call can be charged once the account is topped up.
func (s *BalanceServiceImpl) recordFailedCharge(ctx context.Context, tx *transaction.Transaction, logger *slog.Logger) {
	tx.ExternalReference = nil
	if err := tx.Fail(shared.FailureReasonInsufficientBalance); err != nil {
		return
	}

	err := s.within(ctx, "record_failed_charge", func(ctx context.Context, repos store.Repositories) error {
		if err := repos.Transactions.Create(ctx, tx); err != nil {
			return err
		}
		return enqueue(ctx, repos, tx)
	})
	if err != nil {
		logger.Error("Failed to record blocked charge", "transaction_id", tx.ID, "error", err)
	}
}

// ApplyExternalPayment credits money received outside the ledger exactly once per reference
func (s *BalanceServiceImpl) ApplyExternalPayment(ctx context.Context, p ExternalPayment) (*LedgerResult, error) {
	if p.Reference == "" {
		return nil, fmt.Errorf("%w: external reference is required", shared.ErrInvalidAmount)
	}
	if !p.Amount.IsPositive() {
		return nil, shared.ErrInvalidAmount
	}
	if p.Method == "" {
		p.Method = shared.PaymentMethodCard
	}
	logger := s.logger.With("account_id", p.AccountID, "reference", p.Reference)

	var result *LedgerResult
	err := s.within(ctx, "apply_external_payment", func(ctx context.Context, repos store.Repositories) error {
		result = nil
		b, err := repos.Balances.LockForUpdate(ctx, p.AccountID)
		if err != nil {
			return err
		}

		tx, err := lockByReference(ctx, repos.Transactions, p.Reference)
		if err != nil {
			return err
		}
		if tx == nil && p.TransactionID != uuid.Nil {
			tx, err = adoptUnlinkedDeposit(ctx, repos.Transactions, p.TransactionID, p.Reference)
			if err != nil {
				return err
			}
		}

		switch {
		case tx == nil:
			tx, err = transaction.NewDeposit(p.AccountID, p.Amount, p.Method, &p.Reference)
			if err != nil {
				return err
			}
			annotatePayment(tx, p)
			if err := settle(ctx, repos, b, tx, b.Credit); err != nil {
				return err
			}

		case tx.AccountID != p.AccountID:
			return fmt.Errorf("reference %s belongs to another account: %w", p.Reference, shared.ErrDuplicateIdempotencyKey)

		case tx.IsCompleted():
			result = &LedgerResult{Transaction: tx, Balance: b, Replayed: true}
			return nil

		case tx.Status == shared.TransactionStatusFailed:
			return fmt.Errorf("payment %s arrived for a closed deposit: %w", p.Reference, transaction.ErrInvalidTransition)

		default:
			if !tx.BilledAmount.Equal(p.Amount) {
				return fmt.Errorf("%w: payment of %s does not match pending deposit of %s",
					shared.ErrInvalidAmount, p.Amount, tx.BilledAmount)
			}
			annotatePayment(tx, p)
			if err := tx.Complete(); err != nil {
				return err
			}
			if err := repos.Transactions.Update(ctx, tx); err != nil {
				return err
			}
			if err := b.Credit(tx.BilledAmount); err != nil {
				return err
			}
			if err := repos.Balances.Update(ctx, b); err != nil {
				return err
			}
			if err := enqueue(ctx, repos, tx); err != nil {
				return err
			}
		}

		if err := syncPaymentRecord(ctx, repos.Payments, tx.ID, payment.GatewayStatusSucceeded); err != nil {
			return err
		}
		result = &LedgerResult{Transaction: tx, Balance: b}
		return nil
	})

	// Two deliveries racing past the lookup: the loser hits the unique reference
	if errors.Is(err, transaction.ErrDuplicateReference{Reference: p.Reference}) {
		existing, getErr := s.transactions.GetByExternalReference(ctx, p.Reference)
		if getErr == nil && existing.IsCompleted() && existing.AccountID == p.AccountID {
			b, balErr := s.GetBalance(ctx, p.AccountID)
			if balErr == nil {
				err = nil
				result = &LedgerResult{Transaction: existing, Balance: b, Replayed: true}
			}
		}
	}

	if err != nil {
		s.metrics.CreditOutcome(string(p.Method), "failed")
		logger.Error("Failed to apply external payment", "amount", p.Amount, "error", err)
		return nil, err
	}

	s.metrics.CreditOutcome(string(p.Method), outcome(result.Replayed, "applied"))
	logger.Info("External payment applied",
		"transaction_id", result.Transaction.ID,
		"amount", p.Amount,
		"commission", p.Commission,
		"balance", result.Balance.Balance,
		"replayed", result.Replayed,
	)
	return result, nil
}

// Refund gives back the billed amount of a completed charge, once
func (s *BalanceServiceImpl) Refund(ctx context.Context, chargeID uuid.UUID) (*LedgerResult, error) {
	charge, err := s.transactions.GetByID(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	ref := *transaction.Reference("refund", chargeID.String())

	var result *LedgerResult
	err = s.within(ctx, "refund", func(ctx context.Context, repos store.Repositories) error {
		result = nil
		b, err := repos.Balances.LockForUpdate(ctx, charge.AccountID)
		if err != nil {
			return err
		}

		existing, err := findByReference(ctx, repos.Transactions, ref)
		if err != nil {
			return err
		}
		if existing != nil {
			result = &LedgerResult{Transaction: existing, Balance: b, Replayed: true}
			return nil
		}

		locked, err := repos.Transactions.LockByID(ctx, chargeID)
		if err != nil {
			return err
		}
		refund, err := transaction.NewRefund(locked)
		if err != nil {
			return err
		}
		if err := settle(ctx, repos, b, refund, b.Credit); err != nil {
			return err
		}
		result = &LedgerResult{Transaction: refund, Balance: b}
		return nil
	})
	if err != nil {
		s.metrics.CreditOutcome("refund", "failed")
		s.logger.Error("Refund failed", "charge_id", chargeID, "error", err)
		return nil, err
	}

	s.metrics.CreditOutcome("refund", outcome(result.Replayed, "applied"))
	s.logger.Info("Charge refunded",
		"charge_id", chargeID,
		"transaction_id", result.Transaction.ID,
		"amount", result.Transaction.BilledAmount,
		"replayed", result.Replayed,
	)
	return result, nil
}

func (s *BalanceServiceImpl) GetTransaction(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error) {
	return s.transactions.GetByID(ctx, id)
}

func (s *BalanceServiceImpl) History(ctx context.Context, accountID uuid.UUID, page, perPage int) ([]*transaction.Transaction, int64, error) {
	limit, offset := pageBounds(page, perPage)

	txs, err := s.transactions.ListByAccount(ctx, accountID, limit, offset)
	if err != nil {
		s.logger.Error("Failed to list transactions",
			"account_id", accountID,
			"page", page,
			"per_page", perPage,
			"error", err,
		)
		return nil, 0, err
	}

	total, err := s.transactions.CountByAccount(ctx, accountID)
	if err != nil {
		s.logger.Error("Failed to count transactions", "account_id", accountID, "error", err)
		return nil, 0, err
	}
	return txs, total, nil
}

// OpenDeposit writes the pending deposit and its payment record in one unit
func (s *BalanceServiceImpl) OpenDeposit(ctx context.Context, req DepositRequest) (*transaction.Transaction, error) {
	tx, err := transaction.NewDeposit(req.AccountID, req.Amount, shared.PaymentMethodCard, nil)
	if err != nil {
		return nil, err
	}
	tx.Metadata["gateway_commission"] = req.Commission.StringFixed(2)
	record := payment.NewRecord(tx.ID, req.AccountID, req.Amount, req.Commission, req.Currency)

	err = s.within(ctx, "open_deposit", func(ctx context.Context, repos store.Repositories) error {
		if err := repos.Transactions.Create(ctx, tx); err != nil {
			return err
		}
		if err := repos.Payments.Create(ctx, record); err != nil {
			return err
		}
		return enqueue(ctx, repos, tx)
	})
	if err != nil {
		s.logger.Error("Failed to open card deposit", "account_id", req.AccountID, "amount", req.Amount, "error", err)
		return nil, err
	}
	return tx, nil
}

// LinkDeposit attaches the gateway intent to a pending deposit
func (s *BalanceServiceImpl) LinkDeposit(ctx context.Context, transactionID uuid.UUID, intentID string, status payment.GatewayStatus) (*transaction.Transaction, error) {
	var tx *transaction.Transaction
	err := s.within(ctx, "link_deposit", func(ctx context.Context, repos store.Repositories) error {
		var err error
		tx, err = repos.Transactions.LockByID(ctx, transactionID)
		if err != nil {
			return err
		}
		if tx.Reference() == intentID {
			return nil
		}
		if err := tx.AttachReference(intentID); err != nil {
			return err
		}
		if err := repos.Transactions.Update(ctx, tx); err != nil {
			return err
		}

		record, err := repos.Payments.GetByTransactionID(ctx, transactionID)
		if err != nil {
			return err
		}
		record.Link(intentID, status)
		if err := repos.Payments.Update(ctx, record); err != nil {
			return err
		}
		return enqueue(ctx, repos, tx)
	})
	if err != nil {
		s.logger.Error("Failed to link card deposit", "transaction_id", transactionID, "intent_id", intentID, "error", err)
		return nil, err
	}
	return tx, nil
}

// FailDeposit closes a pending deposit without balance effect. Closed deposits are returned
// unchanged.
func (s *BalanceServiceImpl) FailDeposit(ctx context.Context, transactionID uuid.UUID, reason shared.FailureReason) (*transaction.Transaction, error) {
	var tx *transaction.Transaction
	err := s.within(ctx, "fail_deposit", func(ctx context.Context, repos store.Repositories) error {
		var err error
		tx, err = repos.Transactions.LockByID(ctx, transactionID)
		if err != nil {
			return err
		}
		if tx.Status != shared.TransactionStatusPending {
			return nil
		}
		if err := tx.Fail(reason); err != nil {
			return err
		}
		if err := repos.Transactions.Update(ctx, tx); err != nil {
			return err
		}
		status := payment.GatewayStatusFailed
		if reason == shared.FailureReasonPaymentCanceled {
			status = payment.GatewayStatusCanceled
		}
		if err := syncPaymentRecord(ctx, repos.Payments, tx.ID, status); err != nil {
			return err
		}
		return enqueue(ctx, repos, tx)
	})
	if err != nil {
		s.logger.Error("Failed to close card deposit", "transaction_id", transactionID, "reason", string(reason), "error", err)
		return nil, err
	}

	s.logger.Info("Card deposit closed", "transaction_id", transactionID, "status", string(tx.Status), "reason", tx.FailureReason)
	return tx, nil
}

// RecordGatewayStatus stores the latest gateway status without touching the transaction
func (s *BalanceServiceImpl) RecordGatewayStatus(ctx context.Context, intentID string, status payment.GatewayStatus) error {
	return s.within(ctx, "record_gateway_status", func(ctx context.Context, repos store.Repositories) error {
		record, err := repos.Payments.GetByIntentID(ctx, intentID)
		if err != nil {
			return err
		}
		if record.GatewayStatus == status || record.GatewayStatus.Final() {
			return nil
		}
		record.SetStatus(status)
		return repos.Payments.Update(ctx, record)
	})
}

func (s *BalanceServiceImpl) StaleDeposits(ctx context.Context, createdBefore time.Time, limit int) ([]*transaction.Transaction, error) {
	return s.transactions.ListPending(ctx, shared.PaymentMethodCard, createdBefore, limit)
}

func (s *BalanceServiceImpl) PaymentRecord(ctx context.Context, intentID string) (*payment.Record, error) {
	return s.payments.GetByIntentID(ctx, intentID)
}

// within runs fn as one atomic unit that the caller cannot cancel once started, bounded by the
// write timeout and retried on optimistic lock conflicts
func (s *BalanceServiceImpl) within(ctx context.Context, op string, fn func(ctx context.Context, repos store.Repositories) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.WriteTimeout)
	defer cancel()

	var err error
	for attempt := 1; attempt <= s.opts.MaxRetryAttempts; attempt++ {
		err = s.uow.Within(ctx, fn)
		var conflict balance.ErrConcurrentModification
		if !errors.As(err, &conflict) {
			break
		}
		s.logger.Warn("Concurrent balance modification, retrying",
			"operation", op,
			"account_id", conflict.AccountID,
			"attempt", attempt,
		)
	}
	return ledgerError(err)
}

// settle completes tx, applies it to the locked balance and persists both with an outbox message
func settle(ctx context.Context, repos store.Repositories, b *balance.AccountBalance, tx *transaction.Transaction, apply func(decimal.Decimal) error) error {
	if err := apply(tx.BilledAmount.Abs()); err != nil {
		return err
	}
	if err := tx.Complete(); err != nil {
		return err
	}
	if err := repos.Transactions.Create(ctx, tx); err != nil {
		return err
	}
	if err := repos.Balances.Update(ctx, b); err != nil {
		return err
	}
	return enqueue(ctx, repos, tx)
}

func enqueue(ctx context.Context, repos store.Repositories, tx *transaction.Transaction) error {
	msg, err := outbox.NewMessage(tx)
	if err != nil {
		return err
	}
	return repos.Outbox.Create(ctx, msg)
}

func findByReference(ctx context.Context, repo transaction.Repository, reference string) (*transaction.Transaction, error) {
	tx, err := repo.GetByExternalReference(ctx, reference)
	if errors.Is(err, transaction.ErrTransactionNotFound{}) {
		return nil, nil
	}
	return tx, err
}

func lockByReference(ctx context.Context, repo transaction.Repository, reference string) (*transaction.Transaction, error) {
	tx, err := repo.LockByExternalReference(ctx, reference)
	if errors.Is(err, transaction.ErrTransactionNotFound{}) {
		return nil, nil
	}
	return tx, err
}

// adoptUnlinkedDeposit picks up a pending deposit whose gateway link was never persisted
func adoptUnlinkedDeposit(ctx context.Context, repo transaction.Repository, id uuid.UUID, reference string) (*transaction.Transaction, error) {
	tx, err := repo.LockByID(ctx, id)
	if errors.Is(err, transaction.ErrTransactionNotFound{}) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if tx.ExternalReference != nil {
		return nil, fmt.Errorf("deposit %s is linked to %s, not %s: %w", id, tx.Reference(), reference, shared.ErrDuplicateIdempotencyKey)
	}
	if tx.Status == shared.TransactionStatusPending {
		if err := tx.AttachReference(reference); err != nil {
			return nil, err
		}
	}
	return tx, nil
}

func annotatePayment(tx *transaction.Transaction, p ExternalPayment) {
	for k, v := range p.Metadata {
		tx.Metadata[k] = v
	}
	if !p.Commission.IsZero() {
		tx.Metadata["gateway_commission"] = p.Commission.StringFixed(2)
	}
}

func syncPaymentRecord(ctx context.Context, repo payment.Repository, transactionID uuid.UUID, status payment.GatewayStatus) error {
	record, err := repo.GetByTransactionID(ctx, transactionID)
	if errors.Is(err, payment.ErrRecordNotFound{}) {
		return nil
	}
	if err != nil {
		return err
	}
	if record.GatewayStatus == status {
		return nil
	}
	record.SetStatus(status)
	return repo.Update(ctx, record)
}

var domainErrors = []error{
	shared.ErrInvalidAmount,
	shared.ErrInsufficientBalance,
	shared.ErrDuplicateIdempotencyKey,
	shared.ErrInvalidUsage,
	shared.ErrForbidden,
	shared.ErrConfigurationMissing,
	transaction.ErrInvalidTransition,
	transaction.ErrNotRefundable,
	transaction.ErrTransactionNotFound{},
	payment.ErrRecordNotFound{},
}

// ledgerError passes domain errors through and marks everything else as a retryable
// ledger failure; the unit was rolled back so retrying is safe
func ledgerError(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range domainErrors {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", shared.ErrLedgerUnavailable, err)
}

func outcome(replayed bool, applied string) string {
	if replayed {
		return "replayed"
	}
	return applied
}

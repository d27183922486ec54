package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/campaign-billing-ledger/internal/domain/balance"
	"github.com/campaign-billing-ledger/internal/domain/outbox"
	"github.com/campaign-billing-ledger/internal/domain/payment"
	"github.com/campaign-billing-ledger/internal/domain/pricing"
	"github.com/campaign-billing-ledger/internal/domain/shared"
	"github.com/campaign-billing-ledger/internal/domain/transaction"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var errActiveConflict = errors.New("another pricing configuration is already active")

type balanceRepository struct{ h *handle }

func (r *balanceRepository) Get(_ context.Context, accountID uuid.UUID) (*balance.AccountBalance, error) {
	r.h.lock.Lock()
	defer r.h.lock.Unlock()

	b, ok := r.h.state().balances[accountID]
	if !ok {
		return nil, balance.ErrBalanceNotFound{AccountID: accountID}
	}
	return &b, nil
}

func (r *balanceRepository) LockForUpdate(_ context.Context, accountID uuid.UUID) (*balance.AccountBalance, error) {
	r.h.lock.Lock()
	defer r.h.lock.Unlock()

	st := r.h.state()
	b, ok := st.balances[accountID]
	if !ok {
		b = *balance.NewAccountBalance(accountID)
		st.balances[accountID] = b
	}
	return &b, nil
}

func (r *balanceRepository) Update(_ context.Context, b *balance.AccountBalance) error {
	r.h.lock.Lock()
	defer r.h.lock.Unlock()

	st := r.h.state()
	current, ok := st.balances[b.AccountID]
	if !ok || current.Version != b.Version-1 {
		return balance.ErrConcurrentModification{AccountID: b.AccountID}
	}
	st.balances[b.AccountID] = *b
	return nil
}

type transactionRepository struct{ h *handle }

func (r *transactionRepository) Create(_ context.Context, tx *transaction.Transaction) error {
	r.h.lock.Lock()
	defer r.h.lock.Unlock()

	st := r.h.state()
	if _, exists := st.transactions[tx.ID]; exists {
		return fmt.Errorf("transaction %s already exists", tx.ID)
	}
	if ref := tx.Reference(); ref != "" {
		if _, taken := st.references[ref]; taken {
			return transaction.ErrDuplicateReference{Reference: ref}
		}
		st.references[ref] = tx.ID
	}
	st.transactions[tx.ID] = copyTransaction(tx)
	return nil
}

func (r *transactionRepository) GetByID(_ context.Context, id uuid.UUID) (*transaction.Transaction, error) {
	r.h.lock.Lock()
	defer r.h.lock.Unlock()

	tx, ok := r.h.state().transactions[id]
	if !ok {
		return nil, transaction.ErrTransactionNotFound{ID: id}
	}
	return copyTransaction(tx), nil
}

func (r *transactionRepository) GetByExternalReference(_ context.Context, reference string) (*transaction.Transaction, error) {
	r.h.lock.Lock()
	defer r.h.lock.Unlock()

	st := r.h.state()
	id, ok := st.references[reference]
	if !ok {
		return nil, transaction.ErrTransactionNotFound{Reference: reference}
	}
	return copyTransaction(st.transactions[id]), nil
}

// Units are serialized, so holding the unit is already holding every row lock
func (r *transactionRepository) LockByID(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error) {
	return r.GetByID(ctx, id)
}

func (r *transactionRepository) LockByExternalReference(ctx context.Context, reference string) (*transaction.Transaction, error) {
	return r.GetByExternalReference(ctx, reference)
}

func (r *transactionRepository) Update(_ context.Context, tx *transaction.Transaction) error {
	r.h.lock.Lock()
	defer r.h.lock.Unlock()

	st := r.h.state()
	current, ok := st.transactions[tx.ID]
	if !ok || current.Status != shared.TransactionStatusPending {
		return fmt.Errorf("update %s: %w", tx.ID, transaction.ErrInvalidTransition)
	}

	if ref := tx.Reference(); ref != current.Reference() {
		if owner, taken := st.references[ref]; taken && owner != tx.ID {
			return transaction.ErrDuplicateReference{Reference: ref}
		}
		delete(st.references, current.Reference())
		if ref != "" {
			st.references[ref] = tx.ID
		}
	}

	updated := copyTransaction(current)
	updated.Status = tx.Status
	updated.ExternalReference = tx.ExternalReference
	updated.Description = tx.Description
	updated.Metadata = copyTransaction(tx).Metadata
	updated.FailureReason = tx.FailureReason
	updated.UpdatedAt = tx.UpdatedAt
	updated.CompletedAt = tx.CompletedAt
	st.transactions[tx.ID] = updated
	return nil
}

func (r *transactionRepository) ListByAccount(_ context.Context, accountID uuid.UUID, limit, offset int) ([]*transaction.Transaction, error) {
	r.h.lock.Lock()
	defer r.h.lock.Unlock()

	txs := r.filter(func(tx *transaction.Transaction) bool { return tx.AccountID == accountID })
	slices.SortStableFunc(txs, func(a, b *transaction.Transaction) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return page(txs, limit, offset), nil
}

func (r *transactionRepository) CountByAccount(_ context.Context, accountID uuid.UUID) (int64, error) {
	r.h.lock.Lock()
	defer r.h.lock.Unlock()

	return int64(len(r.filter(func(tx *transaction.Transaction) bool { return tx.AccountID == accountID }))), nil
}

func (r *transactionRepository) ListPending(_ context.Context, method shared.PaymentMethod, createdBefore time.Time, limit int) ([]*transaction.Transaction, error) {
	r.h.lock.Lock()
	defer r.h.lock.Unlock()

	txs := r.filter(func(tx *transaction.Transaction) bool {
		return tx.Status == shared.TransactionStatusPending && tx.PaymentMethod == method && tx.CreatedAt.Before(createdBefore)
	})
	slices.SortStableFunc(txs, func(a, b *transaction.Transaction) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return page(txs, limit, 0), nil
}

func (r *transactionRepository) filter(keep func(*transaction.Transaction) bool) []*transaction.Transaction {
	out := make([]*transaction.Transaction, 0)
	for _, tx := range r.h.state().transactions {
		if keep(tx) {
			out = append(out, copyTransaction(tx))
		}
	}
	return out
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return items[:0]
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

type paymentRepository struct{ h *handle }

func (r *paymentRepository) Create(_ context.Context, record *payment.Record) error {
	r.h.lock.Lock()
	defer r.h.lock.Unlock()

	st := r.h.state()
	if _, exists := st.payments[record.TransactionID]; exists {
		return fmt.Errorf("payment record for %s: %w", record.TransactionID, shared.ErrDuplicateIdempotencyKey)
	}
	if record.IntentID != nil {
		if _, taken := st.intents[*record.IntentID]; taken {
			return fmt.Errorf("intent already linked: %w", shared.ErrDuplicateIdempotencyKey)
		}
		st.intents[*record.IntentID] = record.TransactionID
	}
	st.payments[record.TransactionID] = *record
	return nil
}

func (r *paymentRepository) GetByIntentID(_ context.Context, intentID string) (*payment.Record, error) {
	r.h.lock.Lock()
	defer r.h.lock.Unlock()

	st := r.h.state()
	txID, ok := st.intents[intentID]
	if !ok {
		return nil, payment.ErrRecordNotFound{IntentID: intentID}
	}
	record := st.payments[txID]
	return &record, nil
}

func (r *paymentRepository) GetByTransactionID(_ context.Context, transactionID uuid.UUID) (*payment.Record, error) {
	r.h.lock.Lock()
	defer r.h.lock.Unlock()

	record, ok := r.h.state().payments[transactionID]
	if !ok {
		return nil, payment.ErrRecordNotFound{TransactionID: transactionID}
	}
	return &record, nil
}

func (r *paymentRepository) Update(_ context.Context, record *payment.Record) error {
	r.h.lock.Lock()
	defer r.h.lock.Unlock()

	st := r.h.state()
	current, ok := st.payments[record.TransactionID]
	if !ok {
		return payment.ErrRecordNotFound{TransactionID: record.TransactionID}
	}
	if record.IntentID != nil {
		if owner, taken := st.intents[*record.IntentID]; taken && owner != record.TransactionID {
			return fmt.Errorf("intent already linked: %w", shared.ErrDuplicateIdempotencyKey)
		}
		st.intents[*record.IntentID] = record.TransactionID
	}
	current.IntentID = record.IntentID
	current.GatewayStatus = record.GatewayStatus
	current.Commission = record.Commission
	current.UpdatedAt = record.UpdatedAt
	st.payments[record.TransactionID] = current
	return nil
}

type pricingRepository struct{ h *handle }

func (r *pricingRepository) GetActive(_ context.Context) (*pricing.Configuration, error) {
	r.h.lock.Lock()
	defer r.h.lock.Unlock()

	for _, cfg := range r.h.state().pricing {
		if cfg.IsActive {
			return &cfg, nil
		}
	}
	return nil, shared.ErrConfigurationMissing
}

func (r *pricingRepository) DeactivateAll(_ context.Context) error {
	r.h.lock.Lock()
	defer r.h.lock.Unlock()

	st := r.h.state()
	for i := range st.pricing {
		st.pricing[i].IsActive = false
	}
	return nil
}

func (r *pricingRepository) Create(_ context.Context, cfg *pricing.Configuration) error {
	r.h.lock.Lock()
	defer r.h.lock.Unlock()

	st := r.h.state()
	if cfg.IsActive {
		for _, existing := range st.pricing {
			if existing.IsActive {
				return errActiveConflict
			}
		}
	}
	st.pricing = append(st.pricing, *cfg)
	return nil
}

func (r *pricingRepository) List(_ context.Context, limit, offset int) ([]*pricing.Configuration, error) {
	r.h.lock.Lock()
	defer r.h.lock.Unlock()

	configs := make([]*pricing.Configuration, 0, len(r.h.state().pricing))
	for _, cfg := range r.h.state().pricing {
		cfg := cfg
		configs = append(configs, &cfg)
	}
	slices.SortStableFunc(configs, func(a, b *pricing.Configuration) int { return b.EffectiveFrom.Compare(a.EffectiveFrom) })
	return page(configs, limit, offset), nil
}

type outboxRepository struct{ h *handle }

func (r *outboxRepository) Create(_ context.Context, message *outbox.Message) error {
	r.h.lock.Lock()
	defer r.h.lock.Unlock()

	if r.h.outboxErr != nil {
		return r.h.outboxErr
	}
	st := r.h.state()
	st.nextOutboxID++
	message.ID = st.nextOutboxID
	st.outbox = append(st.outbox, *message)
	return nil
}

func (r *outboxRepository) GetPending(_ context.Context, limit int) ([]*outbox.Message, error) {
	r.h.lock.Lock()
	defer r.h.lock.Unlock()

	var messages []*outbox.Message
	for _, m := range r.h.state().outbox {
		m := m
		if m.Status == shared.OutboxStatusPending {
			messages = append(messages, &m)
		}
	}
	return page(messages, limit, 0), nil
}

func (r *outboxRepository) UpdateStatus(_ context.Context, id int64, status shared.OutboxStatus) error {
	return r.modify(id, func(m *outbox.Message) {
		m.Status = status
		now := time.Now()
		m.LastAttemptAt = &now
	})
}

func (r *outboxRepository) IncrementAttempts(_ context.Context, id int64) error {
	return r.modify(id, func(m *outbox.Message) { m.IncrementAttempts() })
}

func (r *outboxRepository) modify(id int64, change func(*outbox.Message)) error {
	r.h.lock.Lock()
	defer r.h.lock.Unlock()

	st := r.h.state()
	for i := range st.outbox {
		if st.outbox[i].ID == id {
			change(&st.outbox[i])
			return nil
		}
	}
	return outbox.ErrMessageNotFound{ID: id}
}

type rateRepository struct{ s *Store }

func (r *rateRepository) RealPerMinute(_ context.Context, destination string) (decimal.Decimal, bool, error) {
	r.s.ratesMu.RLock()
	defer r.s.ratesMu.RUnlock()

	best, found := "", false
	for prefix := range r.s.rates {
		if strings.HasPrefix(destination, prefix) && (!found || len(prefix) > len(best)) {
			best, found = prefix, true
		}
	}
	if !found {
		return decimal.Zero, false, nil
	}
	return r.s.rates[best], true, nil
}

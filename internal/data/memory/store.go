// Package memory is an in-process Ledger Store. Units of work are serialized by one mutex and
// run against a copy of the state that replaces the live state only on success.
// It backs tests and local development; it is not durable.
package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/campaign-billing-ledger/internal/domain/balance"
	"github.com/campaign-billing-ledger/internal/domain/outbox"
	"github.com/campaign-billing-ledger/internal/domain/payment"
	"github.com/campaign-billing-ledger/internal/domain/pricing"
	"github.com/campaign-billing-ledger/internal/domain/transaction"
	"github.com/campaign-billing-ledger/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type state struct {
	balances     map[uuid.UUID]balance.AccountBalance
	transactions map[uuid.UUID]*transaction.Transaction
	references   map[string]uuid.UUID
	payments     map[uuid.UUID]payment.Record
	intents      map[string]uuid.UUID
	pricing      []pricing.Configuration
	outbox       []outbox.Message
	nextOutboxID int64
}

func newState() *state {
	return &state{
		balances:     make(map[uuid.UUID]balance.AccountBalance),
		transactions: make(map[uuid.UUID]*transaction.Transaction),
		references:   make(map[string]uuid.UUID),
		payments:     make(map[uuid.UUID]payment.Record),
		intents:      make(map[string]uuid.UUID),
	}
}

func (s *state) clone() *state {
	c := &state{
		balances:     maps.Clone(s.balances),
		transactions: make(map[uuid.UUID]*transaction.Transaction, len(s.transactions)),
		references:   maps.Clone(s.references),
		payments:     maps.Clone(s.payments),
		intents:      maps.Clone(s.intents),
		pricing:      append([]pricing.Configuration(nil), s.pricing...),
		outbox:       append([]outbox.Message(nil), s.outbox...),
		nextOutboxID: s.nextOutboxID,
	}
	for id, tx := range s.transactions {
		c.transactions[id] = copyTransaction(tx)
	}
	return c
}

// Store implements store.UnitOfWork and every ledger repository in memory
type Store struct {
	mu    sync.Mutex
	state *state

	ratesMu sync.RWMutex
	rates   map[string]decimal.Decimal

	outboxErr error
}

var _ store.UnitOfWork = (*Store)(nil)

func NewStore() *Store {
	return &Store{state: newState(), rates: make(map[string]decimal.Decimal)}
}

// Within runs fn against a private copy of the state and publishes it if fn succeeds
func (s *Store) Within(ctx context.Context, fn func(ctx context.Context, repos store.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.state.clone()
	h := &handle{lock: noLock{}, state: func() *state { return staged }, outboxErr: s.outboxErr}
	if err := fn(ctx, h.repositories()); err != nil {
		return err
	}
	s.state = staged
	return nil
}

// Repositories returns repositories that read and write the live state one call at a time.
// They must not be used from inside Within.
func (s *Store) Repositories() store.Repositories {
	h := &handle{lock: &s.mu, state: func() *state { return s.state }}
	return h.repositories()
}

// Rates returns a destination rate lookup backed by SetDestinationRate
func (s *Store) Rates() pricing.RateRepository {
	return &rateRepository{s: s}
}

// SetDestinationRate registers the provider's per-minute cost for a destination prefix
func (s *Store) SetDestinationRate(prefix string, realPerMinute decimal.Decimal) {
	s.ratesMu.Lock()
	defer s.ratesMu.Unlock()
	s.rates[prefix] = realPerMinute
}

// FailOutboxWrites makes every outbox write inside a unit fail with err until reset with nil
func (s *Store) FailOutboxWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outboxErr = err
}

// OutboxMessages returns a copy of every outbox message
func (s *Store) OutboxMessages() []outbox.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]outbox.Message(nil), s.state.outbox...)
}

type noLock struct{}

func (noLock) Lock()   {}
func (noLock) Unlock() {}

// handle binds repositories to either a staged copy or the live state
type handle struct {
	lock      sync.Locker
	state     func() *state
	outboxErr error
}

func (h *handle) repositories() store.Repositories {
	return store.Repositories{
		Balances:     &balanceRepository{h},
		Transactions: &transactionRepository{h},
		Payments:     &paymentRepository{h},
		Pricing:      &pricingRepository{h},
		Outbox:       &outboxRepository{h},
	}
}

func copyTransaction(tx *transaction.Transaction) *transaction.Transaction {
	c := *tx
	c.Metadata = maps.Clone(tx.Metadata)
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	return &c
}

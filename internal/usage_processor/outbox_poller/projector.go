package outbox_poller

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/campaign-billing-ledger/internal/domain/ledger"
	"github.com/campaign-billing-ledger/internal/domain/outbox"
	"github.com/campaign-billing-ledger/internal/domain/shared"
)

// LedgerProjector copies committed transaction snapshots into the reporting read model
type LedgerProjector interface {
	Project(ctx context.Context, message *outbox.Message) error
}

// LedgerProjectorImpl implements LedgerProjector
type LedgerProjectorImpl struct {
	outboxRepo outbox.Repository
	ledgerRepo ledger.Repository
	logger     *slog.Logger
}

// NewLedgerProjector creates a new projector
func NewLedgerProjector(
	outboxRepo outbox.Repository,
	ledgerRepo ledger.Repository,
	logger *slog.Logger,
) LedgerProjector {
	return &LedgerProjectorImpl{
		outboxRepo: outboxRepo,
		ledgerRepo: ledgerRepo,
		logger:     logger,
	}
}

// Project upserts the snapshot and then marks the message processed. A crash in between
// projects the same snapshot again, which the upsert absorbs.
func (p *LedgerProjectorImpl) Project(ctx context.Context, message *outbox.Message) error {
	logger := p.logger.With("outbox_id", message.ID, "transaction_id", message.TransactionID)

	tx, err := message.Transaction()
	if err != nil {
		logger.Error("Failed to decode transaction snapshot from outbox payload", "error", err)
		if updateErr := p.outboxRepo.UpdateStatus(ctx, message.ID, shared.OutboxStatusFailedToPublish); updateErr != nil {
			logger.Error("Also failed to mark undecodable outbox message", "update_error", updateErr)
		}
		return fmt.Errorf("decode payload of outbox %d: %w", message.ID, err)
	}

	if id, ok := tx.Metadata["correlation_id"].(string); ok && id != "" {
		logger = logger.With("correlation_id", id)
	}

	entry := ledger.FromTransaction(tx)
	if err := p.ledgerRepo.Upsert(ctx, entry); err != nil {
		logger.Error("Failed to project transaction into read model", "status", string(entry.Status), "error", err)
		return fmt.Errorf("failed to project transaction %s: %w", message.TransactionID, err)
	}

	if err := p.outboxRepo.UpdateStatus(ctx, message.ID, shared.OutboxStatusProcessed); err != nil {
		logger.Error("Failed to mark outbox message as PROCESSED", "error", err)
		return fmt.Errorf("projection of %s OK, but failed to mark outbox %d as PROCESSED: %w", message.TransactionID, message.ID, err)
	}

	logger.Debug("Transaction projected", "status", string(entry.Status), "type", string(entry.Type))
	return nil
}

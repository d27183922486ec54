package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/campaign-billing-ledger/internal/domain/ledger"
	"github.com/campaign-billing-ledger/internal/domain/shared"
)

const (
	// LedgerCollectionName is the name of the reporting projection collection in MongoDB
	LedgerCollectionName = "ledger_projection"
)

// entryDocument is the stored shape of a ledger.Entry. Money is Decimal128 so that the
// aggregation pipelines sum exactly.
type entryDocument struct {
	TransactionID string               `bson:"transaction_id"`
	AccountID     string               `bson:"account_id"`
	CampaignID    *string              `bson:"campaign_id"`
	Type          string               `bson:"type"`
	Status        string               `bson:"status"`
	PaymentMethod string               `bson:"payment_method"`
	BilledAmount  primitive.Decimal128 `bson:"billed_amount"`
	RealAmount    primitive.Decimal128 `bson:"real_amount"`
	FailureReason string               `bson:"failure_reason,omitempty"`
	CreatedAt     time.Time            `bson:"created_at"`
	CompletedAt   *time.Time           `bson:"completed_at"`
	ProjectedAt   time.Time            `bson:"projected_at"`
}

// LedgerRepository implements the ledger.Repository interface for MongoDB
type LedgerRepository struct {
	db     *mongo.Database
	logger *slog.Logger
}

// NewLedgerRepository creates a new MongoDB ledger projection repository
func NewLedgerRepository(logger *slog.Logger, db *mongo.Database) *LedgerRepository {
	return &LedgerRepository{
		db:     db,
		logger: logger,
	}
}

// EnsureIndexes creates the unique transaction index and the indexes the report pipelines filter on
func (r *LedgerRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.db.Collection(LedgerCollectionName).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "transaction_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "completed_at", Value: 1}}},
		{Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "completed_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create ledger projection indexes: %w", err)
	}
	return nil
}

// Upsert stores the latest snapshot of a transaction. A pending snapshot only ever inserts,
// so a late replay cannot move a finalized entry back to pending.
func (r *LedgerRepository) Upsert(ctx context.Context, entry *ledger.Entry) error {
	doc, err := toDocument(entry)
	if err != nil {
		return err
	}
	collection := r.db.Collection(LedgerCollectionName)
	filter := bson.M{"transaction_id": doc.TransactionID}

	if entry.Status == shared.TransactionStatusPending {
		_, err = collection.UpdateOne(ctx, filter, bson.M{"$setOnInsert": doc}, options.Update().SetUpsert(true))
	} else {
		_, err = collection.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	}
	if err != nil {
		r.logger.Error("Failed to upsert ledger entry",
			"transaction_id", doc.TransactionID,
			"status", doc.Status,
			"error", err)
		return fmt.Errorf("failed to upsert ledger entry: %w", err)
	}

	return nil
}

// GetByTransactionID retrieves a projected entry by its transaction ID.
// Returns ErrEntryNotFound if the transaction was not projected yet.
func (r *LedgerRepository) GetByTransactionID(ctx context.Context, transactionID uuid.UUID) (*ledger.Entry, error) {
	collection := r.db.Collection(LedgerCollectionName)

	var doc entryDocument
	err := collection.FindOne(ctx, bson.M{"transaction_id": transactionID.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ledger.ErrEntryNotFound{TransactionID: transactionID}
		}
		r.logger.Error("Failed to get ledger entry",
			"transaction_id", transactionID.String(),
			"error", err)
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}

	return fromDocument(&doc)
}

func toDocument(e *ledger.Entry) (*entryDocument, error) {
	billed, err := toDecimal128(e.BilledAmount)
	if err != nil {
		return nil, err
	}
	realAmount, err := toDecimal128(e.RealAmount)
	if err != nil {
		return nil, err
	}

	doc := &entryDocument{
		TransactionID: e.TransactionID.String(),
		AccountID:     e.AccountID.String(),
		Type:          string(e.Type),
		Status:        string(e.Status),
		PaymentMethod: string(e.PaymentMethod),
		BilledAmount:  billed,
		RealAmount:    realAmount,
		FailureReason: e.FailureReason,
		CreatedAt:     e.CreatedAt.UTC(),
		CompletedAt:   e.CompletedAt,
		ProjectedAt:   e.ProjectedAt.UTC(),
	}
	if e.CampaignID != nil {
		id := e.CampaignID.String()
		doc.CampaignID = &id
	}
	return doc, nil
}

func fromDocument(doc *entryDocument) (*ledger.Entry, error) {
	transactionID, err := uuid.Parse(doc.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction id in projection: %w", err)
	}
	accountID, err := uuid.Parse(doc.AccountID)
	if err != nil {
		return nil, fmt.Errorf("invalid account id in projection: %w", err)
	}
	billed, err := fromDecimal128(doc.BilledAmount)
	if err != nil {
		return nil, err
	}
	realAmount, err := fromDecimal128(doc.RealAmount)
	if err != nil {
		return nil, err
	}

	entry := &ledger.Entry{
		TransactionID: transactionID,
		AccountID:     accountID,
		Type:          shared.TransactionType(doc.Type),
		Status:        shared.TransactionStatus(doc.Status),
		PaymentMethod: shared.PaymentMethod(doc.PaymentMethod),
		BilledAmount:  billed,
		RealAmount:    realAmount,
		FailureReason: doc.FailureReason,
		CreatedAt:     doc.CreatedAt,
		CompletedAt:   doc.CompletedAt,
		ProjectedAt:   doc.ProjectedAt,
	}
	if doc.CampaignID != nil {
		campaignID, err := uuid.Parse(*doc.CampaignID)
		if err != nil {
			return nil, fmt.Errorf("invalid campaign id in projection: %w", err)
		}
		entry.CampaignID = &campaignID
	}
	return entry, nil
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("convert %s to decimal128: %w", d.String(), err)
	}
	return v, nil
}

func fromDecimal128(v primitive.Decimal128) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("convert decimal128 %s: %w", v.String(), err)
	}
	return d, nil
}

package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/campaign-billing-ledger/internal/domain/report"
	"github.com/campaign-billing-ledger/internal/domain/shared"
)

// decimalZero keeps $sum results Decimal128 even when no document contributes
var decimalZero, _ = primitive.ParseDecimal128("0")

// ReportSource aggregates the ledger projection for the reporting service.
// Only completed entries count, bucketed by completion time. Rollups and rankings
// report billed net of refunds, matching Totals.NetBilled.
type ReportSource struct {
	db     *mongo.Database
	logger *slog.Logger
}

// NewReportSource creates a report source over the ledger projection collection
func NewReportSource(logger *slog.Logger, db *mongo.Database) *ReportSource {
	return &ReportSource{db: db, logger: logger}
}

type totalsDocument struct {
	Deposits  primitive.Decimal128 `bson:"deposits"`
	Charges   primitive.Decimal128 `bson:"charges"`
	Refunds   primitive.Decimal128 `bson:"refunds"`
	RealCost  primitive.Decimal128 `bson:"real_cost"`
	CallCount int64                `bson:"call_count"`
}

type groupDocument struct {
	ID        any                  `bson:"_id"`
	CallCount int64                `bson:"call_count"`
	Billed    primitive.Decimal128 `bson:"billed"`
	RealCost  primitive.Decimal128 `bson:"real_cost"`
}

func (s *ReportSource) Totals(ctx context.Context, f report.Filter) (report.Totals, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match(f)}},
		{{Key: "$group", Value: bson.M{
			"_id":        nil,
			"deposits":   sumWhen(shared.TransactionTypeDeposit, "$billed_amount"),
			"charges":    sumWhen(shared.TransactionTypeCharge, bson.M{"$abs": "$billed_amount"}),
			"refunds":    sumWhen(shared.TransactionTypeRefund, "$billed_amount"),
			"real_cost":  sumWhen(shared.TransactionTypeCharge, "$real_amount"),
			"call_count": countWhen(shared.TransactionTypeCharge),
		}}},
	}

	var docs []totalsDocument
	if err := s.aggregate(ctx, "totals", pipeline, &docs); err != nil {
		return report.Totals{}, err
	}
	if len(docs) == 0 {
		return report.Totals{}, nil
	}

	d := docs[0]
	totals := report.Totals{CallCount: d.CallCount}
	var err error
	if totals.Deposits, err = fromDecimal128(d.Deposits); err != nil {
		return report.Totals{}, err
	}
	if totals.Charges, err = fromDecimal128(d.Charges); err != nil {
		return report.Totals{}, err
	}
	if totals.Refunds, err = fromDecimal128(d.Refunds); err != nil {
		return report.Totals{}, err
	}
	if totals.RealCost, err = fromDecimal128(d.RealCost); err != nil {
		return report.Totals{}, err
	}
	return totals, nil
}

func (s *ReportSource) Rollup(ctx context.Context, f report.Filter) ([]report.Bucket, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match(f, shared.TransactionTypeCharge, shared.TransactionTypeRefund)}},
		{{Key: "$group", Value: bson.M{
			"_id": bson.M{"$dateTrunc": bson.M{
				"date":     "$completed_at",
				"unit":     string(f.Granularity),
				"timezone": "UTC",
			}},
			"call_count": countWhen(shared.TransactionTypeCharge),
			"billed":     netBilled(),
			"real_cost":  sumWhen(shared.TransactionTypeCharge, "$real_amount"),
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	}

	var docs []groupDocument
	if err := s.aggregate(ctx, "rollup", pipeline, &docs); err != nil {
		return nil, err
	}

	buckets := make([]report.Bucket, 0, len(docs))
	for _, d := range docs {
		period, ok := d.ID.(primitive.DateTime)
		if !ok {
			return nil, fmt.Errorf("unexpected rollup period %T", d.ID)
		}
		billed, err := fromDecimal128(d.Billed)
		if err != nil {
			return nil, err
		}
		realCost, err := fromDecimal128(d.RealCost)
		if err != nil {
			return nil, err
		}
		buckets = append(buckets, report.Bucket{
			Period:    period.Time().UTC(),
			CallCount: d.CallCount,
			Billed:    billed,
			RealCost:  realCost,
		})
	}
	return buckets, nil
}

func (s *ReportSource) Top(ctx context.Context, f report.Filter) ([]report.Ranking, error) {
	field := "$account_id"
	m := match(f, shared.TransactionTypeCharge, shared.TransactionTypeRefund)
	if f.RankBy == report.RankByCampaign {
		field = "$campaign_id"
		if f.CampaignID == nil {
			m["campaign_id"] = bson.M{"$ne": nil}
		}
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: m}},
		{{Key: "$group", Value: bson.M{
			"_id":        field,
			"call_count": countWhen(shared.TransactionTypeCharge),
			"billed":     netBilled(),
			"real_cost":  sumWhen(shared.TransactionTypeCharge, "$real_amount"),
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "billed", Value: -1}, {Key: "_id", Value: 1}}}},
		{{Key: "$limit", Value: f.Limit}},
	}

	var docs []groupDocument
	if err := s.aggregate(ctx, "top", pipeline, &docs); err != nil {
		return nil, err
	}

	rankings := make([]report.Ranking, 0, len(docs))
	for _, d := range docs {
		raw, ok := d.ID.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected ranking id %T", d.ID)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid ranking id %q: %w", raw, err)
		}
		billed, err := fromDecimal128(d.Billed)
		if err != nil {
			return nil, err
		}
		realCost, err := fromDecimal128(d.RealCost)
		if err != nil {
			return nil, err
		}
		rankings = append(rankings, report.Ranking{ID: id, CallCount: d.CallCount, Billed: billed, RealCost: realCost})
	}
	return rankings, nil
}

func (s *ReportSource) aggregate(ctx context.Context, name string, pipeline mongo.Pipeline, out any) error {
	start := time.Now()
	cursor, err := s.db.Collection(LedgerCollectionName).Aggregate(ctx, pipeline)
	if err != nil {
		s.logger.Error("Failed to run report aggregation", "report", name, "error", err)
		return fmt.Errorf("failed to aggregate %s report: %w", name, err)
	}
	defer cursor.Close(ctx)

	if err := cursor.All(ctx, out); err != nil {
		s.logger.Error("Failed to decode report aggregation", "report", name, "error", err)
		return fmt.Errorf("failed to decode %s report: %w", name, err)
	}
	s.logger.Debug("Report aggregation finished", "report", name, "duration", time.Since(start))
	return nil
}

// match selects completed entries in [From, To) for the filter, optionally of the given types
func match(f report.Filter, types ...shared.TransactionType) bson.M {
	m := bson.M{
		"status":       string(shared.TransactionStatusCompleted),
		"completed_at": bson.M{"$gte": f.From, "$lt": f.To},
	}
	if len(types) > 0 {
		in := make(bson.A, 0, len(types))
		for _, t := range types {
			in = append(in, string(t))
		}
		m["type"] = bson.M{"$in": in}
	}
	if f.AccountID != nil {
		m["account_id"] = f.AccountID.String()
	}
	if f.CampaignID != nil {
		m["campaign_id"] = f.CampaignID.String()
	}
	return m
}

func isType(t shared.TransactionType) bson.M {
	return bson.M{"$eq": bson.A{"$type", string(t)}}
}

func sumWhen(t shared.TransactionType, value any) bson.M {
	return bson.M{"$sum": bson.M{"$cond": bson.A{isType(t), value, decimalZero}}}
}

func countWhen(t shared.TransactionType) bson.M {
	return bson.M{"$sum": bson.M{"$cond": bson.A{isType(t), 1, 0}}}
}

// netBilled adds charges and subtracts refunds
func netBilled() bson.M {
	amount := bson.M{"$abs": "$billed_amount"}
	return bson.M{"$sum": bson.M{"$cond": bson.A{
		isType(shared.TransactionTypeCharge),
		amount,
		bson.M{"$subtract": bson.A{decimalZero, amount}},
	}}}
}

package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/campaign-billing-ledger/internal/domain/shared"
	"github.com/google/uuid"
)

// Granularity is the width of a rollup bucket
type Granularity string

const (
	GranularityDay   Granularity = "day"
	GranularityMonth Granularity = "month"
)

// RankBy selects the dimension of a top-N ranking
type RankBy string

const (
	RankByAccount  RankBy = "account"
	RankByCampaign RankBy = "campaign"
)

const (
	DefaultWindow = 30 * 24 * time.Hour
	DefaultLimit  = 10
	MaxLimit      = 100
)

// Filter selects the ledger entries a report aggregates over. [From, To) in UTC.
type Filter struct {
	AccountID   *uuid.UUID
	CampaignID  *uuid.UUID
	From        time.Time
	To          time.Time
	Granularity Granularity
	RankBy      RankBy
	Limit       int
}

// Normalize fills defaults and aligns the window to whole days so that equivalent requests
// share a cache key.
func (f Filter) Normalize(now time.Time) (Filter, error) {
	if f.To.IsZero() {
		f.To = now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	}
	if f.From.IsZero() {
		f.From = f.To.Add(-DefaultWindow)
	}
	f.From = f.From.UTC().Truncate(24 * time.Hour)
	f.To = f.To.UTC()
	if !f.From.Before(f.To) {
		return f, fmt.Errorf("%w: report window start must be before its end", shared.ErrInvalidUsage)
	}

	switch f.Granularity {
	case "":
		f.Granularity = GranularityDay
	case GranularityDay, GranularityMonth:
	default:
		return f, fmt.Errorf("%w: unknown granularity %q", shared.ErrInvalidUsage, f.Granularity)
	}

	switch f.RankBy {
	case "":
		f.RankBy = RankByAccount
	case RankByAccount, RankByCampaign:
	default:
		return f, fmt.Errorf("%w: unknown ranking %q", shared.ErrInvalidUsage, f.RankBy)
	}

	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	return f, nil
}

// Key identifies the exact filter for a report kind
func (f Filter) Key(kind string) string {
	var b strings.Builder
	b.WriteString("report:")
	b.WriteString(kind)
	fmt.Fprintf(&b, ":account=%s", optionalID(f.AccountID))
	fmt.Fprintf(&b, ":campaign=%s", optionalID(f.CampaignID))
	fmt.Fprintf(&b, ":from=%d:to=%d", f.From.Unix(), f.To.Unix())
	fmt.Fprintf(&b, ":g=%s:by=%s:n=%d", f.Granularity, f.RankBy, f.Limit)
	return b.String()
}

func optionalID(id *uuid.UUID) string {
	if id == nil {
		return "*"
	}
	return id.String()
}

package handler

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/campaign-billing-ledger/internal/billing_api/middleware"
	"github.com/campaign-billing-ledger/internal/domain/report"
	"github.com/campaign-billing-ledger/internal/domain/shared"
)

func reportRouter(reports *MockReportService) *gin.Engine {
	h := NewReportHandler(newTestLogger(), reports)
	router := setupTestRouter()
	api := router.Group("/", middleware.Identity())
	api.GET("/reports/summary", h.Summary)
	api.GET("/reports/rollup", h.Rollup)
	admin := api.Group("/admin", middleware.RequireAdmin())
	admin.GET("/reports/summary", h.Summary)
	admin.GET("/reports/top", h.Top)
	return router
}

func TestReportHandler_Summary(t *testing.T) {
	t.Run("UserPinnedToOwnAccount", func(t *testing.T) {
		reports := new(MockReportService)
		user := userIdentity()
		reports.On("Summary", mock.Anything, mock.MatchedBy(func(f report.Filter) bool {
			return f.AccountID != nil && *f.AccountID == user.AccountID
		}), shared.RoleUser).Return(report.PublicSummary{TotalBilled: dec("4.2"), CallCount: 7}, nil)

		rr := serve(reportRouter(reports), http.MethodGet, "/reports/summary?account_id="+uuid.NewString(), nil, &user)

		require.Equal(t, http.StatusOK, rr.Code)
		var body map[string]any
		decodeData(t, rr, &body)
		assert.Equal(t, "4.2", body["total_billed"])
		assert.NotContains(t, body, "total_real")
		reports.AssertExpectations(t)
	})

	t.Run("AdminFiltersAccountAndWindow", func(t *testing.T) {
		reports := new(MockReportService)
		admin := adminIdentity()
		target := uuid.New()
		reports.On("Summary", mock.Anything, mock.MatchedBy(func(f report.Filter) bool {
			return f.AccountID != nil && *f.AccountID == target &&
				f.From.Equal(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)) &&
				f.To.Equal(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
		}), shared.RoleAdmin).Return(report.PrivilegedSummary{}, nil)

		rr := serve(reportRouter(reports), http.MethodGet,
			"/admin/reports/summary?account_id="+target.String()+"&from=2026-04-01&to=2026-05-01", nil, &admin)

		assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		reports.AssertExpectations(t)
	})

	t.Run("InvalidDate", func(t *testing.T) {
		reports := new(MockReportService)
		user := userIdentity()

		rr := serve(reportRouter(reports), http.MethodGet, "/reports/summary?from=April", nil, &user)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		reports.AssertNotCalled(t, "Summary", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("InvalidWindow", func(t *testing.T) {
		reports := new(MockReportService)
		user := userIdentity()
		reports.On("Summary", mock.Anything, mock.Anything, shared.RoleUser).Return(nil, shared.ErrInvalidUsage)

		rr := serve(reportRouter(reports), http.MethodGet, "/reports/summary?from=2026-05-01&to=2026-04-01", nil, &user)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("ReadModelDown", func(t *testing.T) {
		reports := new(MockReportService)
		user := userIdentity()
		reports.On("Summary", mock.Anything, mock.Anything, shared.RoleUser).Return(nil, errors.New("server selection timeout"))

		rr := serve(reportRouter(reports), http.MethodGet, "/reports/summary", nil, &user)

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})
}

func TestReportHandler_Rollup(t *testing.T) {
	reports := new(MockReportService)
	user := userIdentity()
	reports.On("Rollup", mock.Anything, mock.MatchedBy(func(f report.Filter) bool {
		return f.Granularity == report.GranularityMonth
	}), shared.RoleUser).Return([]report.PublicBucket{{Period: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), CallCount: 3}}, nil)

	rr := serve(reportRouter(reports), http.MethodGet, "/reports/rollup?granularity=month", nil, &user)

	require.Equal(t, http.StatusOK, rr.Code)
	var body []map[string]any
	decodeData(t, rr, &body)
	require.Len(t, body, 1)
	assert.EqualValues(t, 3, body[0]["call_count"])

	t.Run("UnknownGranularity", func(t *testing.T) {
		rr := serve(reportRouter(new(MockReportService)), http.MethodGet, "/reports/rollup?granularity=hour", nil, &user)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestReportHandler_Top(t *testing.T) {
	t.Run("Admin", func(t *testing.T) {
		reports := new(MockReportService)
		admin := adminIdentity()
		campaignID := uuid.New()
		reports.On("Top", mock.Anything, mock.MatchedBy(func(f report.Filter) bool {
			return f.RankBy == report.RankByCampaign && f.Limit == 5 && f.AccountID == nil
		})).Return([]report.PrivilegedRanking{{ID: campaignID, CallCount: 12}}, nil)

		rr := serve(reportRouter(reports), http.MethodGet, "/admin/reports/top?rank_by=campaign&limit=5", nil, &admin)

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		reports.AssertExpectations(t)
	})

	t.Run("UserForbidden", func(t *testing.T) {
		reports := new(MockReportService)
		user := userIdentity()

		rr := serve(reportRouter(reports), http.MethodGet, "/admin/reports/top", nil, &user)

		assert.Equal(t, http.StatusForbidden, rr.Code)
		reports.AssertNotCalled(t, "Top", mock.Anything, mock.Anything)
	})
}

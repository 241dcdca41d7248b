package service

import (
	"context"
	"time"

	"order-management/internal/redisclient"
	"order-management/internal/store"
	"order-management/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DashboardMetrics composes the analytical queries into one dashboard
// payload.
type DashboardMetrics struct {
	Summary          store.SummaryMetrics  `json:"summary"`
	StatusBreakdown  []store.StatusBucket  `json:"status_breakdown"`
	PaymentBreakdown []store.PaymentBucket `json:"payment_breakdown"`
	DailyRevenue     []store.DailyRevenue  `json:"daily_revenue"`
	TopProducts      []store.TopProduct    `json:"top_products"`
	TopCustomers     []store.TopCustomer   `json:"top_customers"`
	RevenueTrend     []RevenueTrendPoint   `json:"revenue_trend"`
}

// RevenueTrendPoint carries the running revenue total per day
type RevenueTrendPoint struct {
	Date              time.Time       `json:"date"`
	DailyRevenue      decimal.Decimal `json:"daily_revenue"`
	CumulativeRevenue decimal.Decimal `json:"cumulative_revenue"`
}

// AnalyticsService serves read-only dashboard metrics, cached in Redis
type AnalyticsService struct {
	store    *store.Store
	cache    *redisclient.Client
	logger   *zap.Logger
	cacheTTL time.Duration
}

// NewAnalyticsService creates a new analytics service
func NewAnalyticsService(store *store.Store, cache *redisclient.Client, cacheTTL time.Duration) *AnalyticsService {
	return &AnalyticsService{
		store:    store,
		cache:    cache,
		logger:   util.GetLogger(),
		cacheTTL: cacheTTL,
	}
}

// GetDashboardMetrics composes the dashboard, serving from cache when fresh
func (s *AnalyticsService) GetDashboardMetrics(ctx context.Context) (*DashboardMetrics, error) {
	ctx, span := util.StartSpan(ctx, "AnalyticsService.GetDashboardMetrics")
	defer span.End()

	if s.cache != nil {
		var cached DashboardMetrics
		hit, err := s.cache.GetDashboard(ctx, &cached)
		if err != nil {
			s.logger.Warn("Dashboard cache read failed", zap.Error(err))
		} else if hit {
			util.DashboardCacheHits.Inc()
			return &cached, nil
		}
		util.DashboardCacheMisses.Inc()
	}

	summary, err := s.store.GetSummaryMetrics(ctx)
	if err != nil {
		return nil, err
	}
	statusBreakdown, err := s.store.GetStatusBreakdown(ctx)
	if err != nil {
		return nil, err
	}
	paymentBreakdown, err := s.store.GetPaymentBreakdown(ctx)
	if err != nil {
		return nil, err
	}
	dailyRevenue, err := s.store.GetDailyRevenue(ctx)
	if err != nil {
		return nil, err
	}
	topProducts, err := s.store.GetTopProducts(ctx)
	if err != nil {
		return nil, err
	}
	topCustomers, err := s.store.GetTopCustomers(ctx)
	if err != nil {
		return nil, err
	}

	metrics := &DashboardMetrics{
		Summary:          *summary,
		StatusBreakdown:  statusBreakdown,
		PaymentBreakdown: paymentBreakdown,
		DailyRevenue:     dailyRevenue,
		TopProducts:      topProducts,
		TopCustomers:     topCustomers,
		RevenueTrend:     buildRevenueTrend(dailyRevenue),
	}

	if s.cache != nil {
		if err := s.cache.SetDashboard(ctx, metrics, s.cacheTTL); err != nil {
			s.logger.Warn("Dashboard cache write failed", zap.Error(err))
		}
	}

	return metrics, nil
}

// buildRevenueTrend accumulates the running total over the daily series
func buildRevenueTrend(days []store.DailyRevenue) []RevenueTrendPoint {
	trend := make([]RevenueTrendPoint, 0, len(days))
	cumulative := decimal.Zero
	for _, day := range days {
		cumulative = cumulative.Add(day.Revenue)
		trend = append(trend, RevenueTrendPoint{
			Date:              day.Date,
			DailyRevenue:      day.Revenue,
			CumulativeRevenue: cumulative,
		})
	}
	return trend
}

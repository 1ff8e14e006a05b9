package providers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	analyticsdata "google.golang.org/api/analyticsdata/v1beta"

	"github.com/tyemirov/insightdash/internal/oauthkit"
)

// DefaultOverviewDays is the reporting window when the caller does not pick one.
const DefaultOverviewDays = 30

// ErrMissingProperty indicates an overview was requested without a GA4 property.
var ErrMissingProperty = errors.New("analytics.missing_property")

var overviewMetrics = []string{
	"screenPageViews",
	"totalUsers",
	"bounceRate",
	"userEngagementDuration",
	"sessions",
}

// OverviewQuery selects the property and window of an analytics overview.
type OverviewQuery struct {
	PropertyID string
	Days       int
}

// Overview is the dashboard summary of one GA4 property.
type Overview struct {
	Pageviews          int64   `json:"pageviews"`
	Visitors           int64   `json:"visitors"`
	BounceRate         float64 `json:"bounce_rate"`
	AvgSessionDuration float64 `json:"avg_session_duration"`
}

// AnalyticsClient runs overview reports against the Analytics Data API.
type AnalyticsClient struct {
	options Options
}

// NewAnalyticsClient builds an Analytics Data API client.
func NewAnalyticsClient(options Options) *AnalyticsClient {
	return &AnalyticsClient{options: options}
}

// Overview reports page views, users, bounce rate, and average engagement per session.
func (client *AnalyticsClient) Overview(ctx context.Context, accessToken string, query OverviewQuery) (Overview, error) {
	property := propertyResourceName(query.PropertyID)
	if property == "" {
		return Overview{}, fmt.Errorf("analytics.overview: %w", ErrMissingProperty)
	}
	days := query.Days
	if days <= 0 {
		days = DefaultOverviewDays
	}

	service, err := analyticsdata.NewService(ctx, client.options.serviceOptions(ctx, accessToken)...)
	if err != nil {
		return Overview{}, fmt.Errorf("analytics.new_service: %w", err)
	}
	metrics := make([]*analyticsdata.Metric, 0, len(overviewMetrics))
	for _, name := range overviewMetrics {
		metrics = append(metrics, &analyticsdata.Metric{Name: name})
	}
	request := &analyticsdata.RunReportRequest{
		DateRanges: []*analyticsdata.DateRange{{
			StartDate: fmt.Sprintf("%ddaysAgo", days),
			EndDate:   "today",
		}},
		Metrics: metrics,
	}
	report, err := service.Properties.RunReport(property, request).Context(ctx).Do()
	if err != nil {
		return Overview{}, classifyError(oauthkit.ServiceAnalytics, err)
	}
	if len(report.Rows) == 0 || report.Rows[0] == nil {
		return Overview{}, nil
	}

	values := report.Rows[0].MetricValues
	sessions := metricFloat(values, 4)
	overview := Overview{
		Pageviews:  metricInt(values, 0),
		Visitors:   metricInt(values, 1),
		BounceRate: metricFloat(values, 2),
	}
	if sessions > 0 {
		overview.AvgSessionDuration = metricFloat(values, 3) / sessions
	}
	return overview, nil
}

func propertyResourceName(propertyID string) string {
	trimmed := strings.TrimSpace(propertyID)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "properties/") {
		return trimmed
	}
	return "properties/" + trimmed
}

func metricFloat(values []*analyticsdata.MetricValue, index int) float64 {
	if index >= len(values) || values[index] == nil {
		return 0
	}
	parsed, err := strconv.ParseFloat(values[index].Value, 64)
	if err != nil {
		return 0
	}
	return parsed
}

func metricInt(values []*analyticsdata.MetricValue, index int) int64 {
	return int64(metricFloat(values, index))
}

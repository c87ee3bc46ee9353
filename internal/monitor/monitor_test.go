package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viktor-monitor/viktor/internal/metrics"
	"github.com/viktor-monitor/viktor/internal/models"
	"github.com/viktor-monitor/viktor/internal/storage"
)

func mustStorage(t *testing.T, maxRuns, maxReports int) *storage.Storage {
	t.Helper()
	s, err := storage.New(maxRuns, maxReports, ":memory:")
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type fakeSource struct {
	runs  []models.AnalysisRun
	err   error
	calls int
}

func (f *fakeSource) Fetch(_ context.Context, _ models.Source, _ bool, _ int) ([]models.AnalysisRun, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.runs, nil
}

// clock is a controllable time source for cache and cooldown tests.
type clock struct{ t time.Time }

func newClock() *clock { return &clock{t: time.Now().Add(-24 * time.Hour)} }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func twoRuns() []models.AnalysisRun {
	created := time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)
	return []models.AnalysisRun{
		{
			ID:        1,
			CreatedAt: created,
			Results: []models.FormattedResult{
				{Token: "A", Price: "$1.00", BuyingConfidence: "60%"},
			},
			Performance: []models.TokenPerformance{
				{Token: "A", InitialPrice: 1, CurrentPrice: 0.9, PriceChange: -0.1, PercentageChange: -10},
			},
		},
		{
			ID:        2,
			CreatedAt: created.Add(time.Hour),
			Results: []models.FormattedResult{
				{Token: "B", Price: "$2.00", BuyingConfidence: "80%"},
			},
			Performance: []models.TokenPerformance{
				{Token: "B", InitialPrice: 2, CurrentPrice: 2.2, PriceChange: 0.2, PercentageChange: 10},
			},
		},
	}
}

func newTestMonitor(t *testing.T, src RunSource, opts Options) (*Monitor, *clock) {
	t.Helper()
	m := New(mustStorage(t, 100, 50), src, opts)
	c := newClock()
	m.now = c.now
	return m, c
}

func TestRuns_CachesWithinTTL(t *testing.T) {
	src := &fakeSource{runs: twoRuns()}
	m, c := newTestMonitor(t, src, Options{CacheTTL: 10 * time.Minute})
	ctx := context.Background()

	runs, err := m.Runs(ctx, models.SourceDaily)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, int64(2), runs[0].ID, "newest first")
	assert.Equal(t, 1, src.calls)

	c.advance(5 * time.Minute)
	_, err = m.Runs(ctx, models.SourceDaily)
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls, "served from cache")

	c.advance(6 * time.Minute)
	_, err = m.Runs(ctx, models.SourceDaily)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls, "refetched after TTL")
}

func TestRuns_SkipsInvalidRuns(t *testing.T) {
	runs := twoRuns()
	runs = append(runs, models.AnalysisRun{ID: 0, CreatedAt: time.Now()})
	m, _ := newTestMonitor(t, &fakeSource{runs: runs}, Options{})

	got, err := m.Runs(context.Background(), models.SourceDaily)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestRuns_ZeroTTLAlwaysFetches(t *testing.T) {
	src := &fakeSource{runs: twoRuns()}
	m, _ := newTestMonitor(t, src, Options{})

	for i := 0; i < 3; i++ {
		_, err := m.Runs(context.Background(), models.SourceWeekly)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, src.calls)
}

func TestRefresh_ForcesRefetch(t *testing.T) {
	src := &fakeSource{runs: twoRuns()}
	m, _ := newTestMonitor(t, src, Options{CacheTTL: time.Hour})
	ctx := context.Background()

	_, err := m.Runs(ctx, models.SourceDaily)
	require.NoError(t, err)
	require.NoError(t, m.Refresh(ctx, models.SourceDaily))
	_, err = m.Runs(ctx, models.SourceDaily)
	require.NoError(t, err)

	assert.Equal(t, 2, src.calls)
	assert.Error(t, m.Refresh(ctx, models.Source("monthly")))
}

func TestRuns_ServesStaleOnFetchFailure(t *testing.T) {
	src := &fakeSource{runs: twoRuns()}
	m, c := newTestMonitor(t, src, Options{CacheTTL: time.Minute})
	ctx := context.Background()

	_, err := m.Runs(ctx, models.SourceDaily)
	require.NoError(t, err)

	src.err = errors.New("backend down")
	c.advance(time.Hour)

	runs, err := m.Runs(ctx, models.SourceDaily)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
	assert.Equal(t, 2, src.calls)
}

func TestRuns_FetchFailureWithoutCache(t *testing.T) {
	src := &fakeSource{err: errors.New("backend down")}
	m, _ := newTestMonitor(t, src, Options{CacheTTL: time.Minute})

	_, err := m.Runs(context.Background(), models.SourceDaily)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend down")
}

func TestRuns_FetchAndCacheFailureCountsAsError(t *testing.T) {
	src := &fakeSource{err: errors.New("backend down")}
	m, _ := newTestMonitor(t, src, Options{})
	require.NoError(t, m.storage.Close())

	before := testutil.ToFloat64(metrics.Fetches.WithLabelValues("daily", "error"))
	_, err := m.Runs(context.Background(), models.SourceDaily)
	require.Error(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.Fetches.WithLabelValues("daily", "error")))
}

func TestRuns_InvalidSource(t *testing.T) {
	m, _ := newTestMonitor(t, &fakeSource{}, Options{})
	_, err := m.Runs(context.Background(), models.Source(""))
	assert.Error(t, err)
}

func TestBuildReport(t *testing.T) {
	m, c := newTestMonitor(t, &fakeSource{}, Options{})
	runs := twoRuns()

	report := m.BuildReport(models.SourceDaily, runs, 0)

	require.NoError(t, report.Validate())
	assert.NotEmpty(t, report.ID)
	assert.Equal(t, models.SourceDaily, report.Source)
	assert.Equal(t, c.now(), report.GeneratedAt)
	assert.Equal(t, 2, report.RunCount)
	assert.Equal(t, runs[1].CreatedAt, report.LatestRunAt)

	require.Len(t, report.Points, 2)
	assert.InDelta(t, 70.0, report.Metrics.AvgConfidence, 1e-9)
	assert.InDelta(t, 0.0, report.Metrics.AvgPerformance, 1e-9)
	assert.InDelta(t, 50.0, report.Metrics.PositiveRate, 1e-9)
	assert.InDelta(t, 1.0, report.Metrics.Correlation, 1e-9)

	assert.Len(t, report.PercentageBrackets, 2)
	assert.Len(t, report.RangeBrackets, 10)

	other := m.BuildReport(models.SourceDaily, runs, 0)
	assert.NotEqual(t, report.ID, other.ID)
}

func TestBuildReport_MinConfidenceFilters(t *testing.T) {
	m, _ := newTestMonitor(t, &fakeSource{}, Options{})

	report := m.BuildReport(models.SourceDaily, twoRuns(), 70)

	require.Len(t, report.Points, 1)
	assert.Equal(t, "B", report.Points[0].Token)
	assert.Equal(t, 2, report.RunCount)
}

func TestRunCycle_StoresReport(t *testing.T) {
	src := &fakeSource{runs: twoRuns()}
	m, _ := newTestMonitor(t, src, Options{CacheTTL: time.Minute})
	ctx := context.Background()

	report, err := m.RunCycle(ctx, models.SourceWeekly, 0)
	require.NoError(t, err)

	stored, err := m.storage.LatestReport(ctx, models.SourceWeekly)
	require.NoError(t, err)
	assert.Equal(t, report.ID, stored.ID)
	assert.Len(t, stored.Points, 2)
}

func TestRunCycle_PropagatesFetchError(t *testing.T) {
	src := &fakeSource{err: errors.New("unauthorized")}
	m, _ := newTestMonitor(t, src, Options{})

	report, err := m.RunCycle(context.Background(), models.SourceDaily, 0)
	assert.Error(t, err)
	assert.Nil(t, report)
}

func TestShouldNotify(t *testing.T) {
	base := models.AverageMetrics{AvgConfidence: 70, AvgPerformance: 2, PositiveRate: 50, Correlation: 0.30}

	tests := []struct {
		name     string
		metrics  models.AverageMetrics
		points   int
		elapsed  time.Duration
		expected bool
	}{
		{"unchanged within cooldown", base, 4, time.Minute, false},
		{"correlation moved", withCorrelation(base, 0.36), 4, time.Minute, true},
		{"correlation moved below delta", withCorrelation(base, 0.33), 4, time.Minute, false},
		{"positive rate moved", withPositiveRate(base, 56), 4, time.Minute, true},
		{"average performance moved", withAvgPerformance(base, -4), 4, time.Minute, true},
		{"cooldown elapsed with new points", base, 5, 7 * time.Hour, true},
		{"cooldown elapsed without new points", base, 4, 7 * time.Hour, false},
		{"new points within cooldown", base, 5, time.Hour, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, c := newTestMonitor(t, &fakeSource{}, Options{NotifyMinDelta: 0.05, Cooldown: 6 * time.Hour})

			first := reportWith(base, 4)
			assert.True(t, m.ShouldNotify(first), "first report is always sent")
			m.RecordNotified(first)

			c.advance(tt.elapsed)
			assert.Equal(t, tt.expected, m.ShouldNotify(reportWith(tt.metrics, tt.points)))
		})
	}
}

func TestShouldNotify_EmptyReport(t *testing.T) {
	m, _ := newTestMonitor(t, &fakeSource{}, Options{NotifyMinDelta: 0.05})
	assert.False(t, m.ShouldNotify(reportWith(models.AverageMetrics{}, 0)))
}

func TestShouldNotify_PerSource(t *testing.T) {
	m, _ := newTestMonitor(t, &fakeSource{}, Options{NotifyMinDelta: 0.05, Cooldown: time.Hour})

	daily := reportWith(models.AverageMetrics{Correlation: 0.5}, 3)
	m.RecordNotified(daily)

	weekly := reportWith(models.AverageMetrics{Correlation: 0.5}, 3)
	weekly.Source = models.SourceWeekly
	assert.True(t, m.ShouldNotify(weekly))
	assert.False(t, m.ShouldNotify(daily))
}

func reportWith(m models.AverageMetrics, points int) *models.Report {
	return &models.Report{
		ID:      "r",
		Source:  models.SourceDaily,
		Points:  make([]models.ScatterDataPoint, points),
		Metrics: m,
	}
}

func withCorrelation(m models.AverageMetrics, v float64) models.AverageMetrics {
	m.Correlation = v
	return m
}

func withPositiveRate(m models.AverageMetrics, v float64) models.AverageMetrics {
	m.PositiveRate = v
	return m
}

func withAvgPerformance(m models.AverageMetrics, v float64) models.AverageMetrics {
	m.AvgPerformance = v
	return m
}

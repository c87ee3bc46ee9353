// Package monitor turns cached analysis runs into confidence/performance
// reports and decides when a report is worth announcing.
//
// Runs are read through a time-based cache: a source is refetched from the
// backend only when its last successful fetch is older than the cache TTL or
// has been invalidated with Refresh. If the backend is unavailable, the last
// cached runs are served instead.
//
// A report is announced when nothing has been sent for its source yet, when
// one of its headline metrics (correlation, positive rate, average
// performance) moved by at least the configured delta, or when the cooldown
// elapsed and the number of points changed.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/viktor-monitor/viktor/internal/confidence"
	"github.com/viktor-monitor/viktor/internal/logger"
	"github.com/viktor-monitor/viktor/internal/metrics"
	"github.com/viktor-monitor/viktor/internal/models"
	"github.com/viktor-monitor/viktor/internal/storage"
)

// RunSource fetches analysis runs from the backend.
type RunSource interface {
	Fetch(ctx context.Context, source models.Source, fromCloud bool, limit int) ([]models.AnalysisRun, error)
}

// Options configures a Monitor.
type Options struct {
	CacheTTL       time.Duration
	FromCloud      bool
	PageLimit      int
	NotifyMinDelta float64 // absolute change in correlation; scaled x100 for percent metrics
	Cooldown       time.Duration
}

// notifiedRecord tracks the last announced report of a source.
type notifiedRecord struct {
	Metrics    models.AverageMetrics
	PointCount int
	SentAt     time.Time
}

// Monitor handles run caching, report generation and notification dedupe
type Monitor struct {
	storage *storage.Storage
	source  RunSource
	opts    Options
	now     func() time.Time

	mu       sync.Mutex
	notified map[models.Source]notifiedRecord
}

// New creates a new Monitor instance
func New(s *storage.Storage, src RunSource, opts Options) *Monitor {
	return &Monitor{
		storage:  s,
		source:   src,
		opts:     opts,
		now:      time.Now,
		notified: make(map[models.Source]notifiedRecord),
	}
}

// Runs returns the runs of a source, newest first, fetching from the backend
// when the cache is missing or older than the TTL.
func (m *Monitor) Runs(ctx context.Context, source models.Source) ([]models.AnalysisRun, error) {
	if !source.Valid() {
		return nil, fmt.Errorf("invalid source %q", source)
	}

	fresh, err := m.cacheFresh(ctx, source)
	if err != nil {
		return nil, err
	}
	if fresh {
		logger.Debug("Serving %s runs from cache", source)
		metrics.RecordCacheHit(source)
		return m.storage.GetRuns(ctx, source)
	}

	logger.Debug("Fetching %s runs from analysis backend", source)
	fetched, fetchErr := m.source.Fetch(ctx, source, m.opts.FromCloud, m.opts.PageLimit)
	if fetchErr != nil {
		cached, err := m.storage.GetRuns(ctx, source)
		if err != nil || len(cached) == 0 {
			metrics.RecordFetch(source, "error")
			return nil, fmt.Errorf("failed to fetch %s runs: %w", source, fetchErr)
		}
		metrics.RecordFetch(source, "stale")
		logger.Warn("Failed to fetch %s runs, serving %d cached runs: %v", source, len(cached), fetchErr)
		return cached, nil
	}
	metrics.RecordFetch(source, "success")

	valid := make([]models.AnalysisRun, 0, len(fetched))
	for i := range fetched {
		fetched[i].Source = source
		if err := fetched[i].Validate(); err != nil {
			logger.Warn("Skipping %s run %d: %v", source, fetched[i].ID, err)
			continue
		}
		valid = append(valid, fetched[i])
	}

	if err := m.storage.SaveRuns(ctx, source, valid, m.now()); err != nil {
		return nil, fmt.Errorf("failed to cache %s runs: %w", source, err)
	}
	logger.Info("Fetched %d %s runs from analysis backend", len(valid), source)

	return m.storage.GetRuns(ctx, source)
}

func (m *Monitor) cacheFresh(ctx context.Context, source models.Source) (bool, error) {
	if m.opts.CacheTTL <= 0 {
		return false, nil
	}
	last, err := m.storage.LastFetched(ctx, source)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return m.now().Sub(last) < m.opts.CacheTTL, nil
}

// Refresh invalidates the cache of a source so the next read refetches.
func (m *Monitor) Refresh(ctx context.Context, source models.Source) error {
	if !source.Valid() {
		return fmt.Errorf("invalid source %q", source)
	}
	logger.Info("Invalidating %s run cache", source)
	return m.storage.Invalidate(ctx, source)
}

// BuildReport runs the confidence engine over runs and packages the result.
func (m *Monitor) BuildReport(source models.Source, runs []models.AnalysisRun, minConfidence float64) *models.Report {
	result := confidence.Aggregate(runs, minConfidence)

	report := &models.Report{
		ID:                 uuid.New().String(),
		Source:             source,
		MinConfidence:      minConfidence,
		GeneratedAt:        m.now(),
		RunCount:           len(runs),
		Points:             result.Points,
		Metrics:            result.Metrics,
		PercentageBrackets: confidence.PercentageBrackets(result.Points),
		RangeBrackets:      confidence.RangeBrackets(result.Points),
	}
	for _, run := range runs {
		if run.CreatedAt.After(report.LatestRunAt) {
			report.LatestRunAt = run.CreatedAt
		}
	}
	return report
}

// RunCycle reads the runs of a source, builds a report and stores it.
func (m *Monitor) RunCycle(ctx context.Context, source models.Source, minConfidence float64) (report *models.Report, err error) {
	start := time.Now()
	defer func() { metrics.RecordCycle(source, time.Since(start), err) }()

	runs, err := m.Runs(ctx, source)
	if err != nil {
		return nil, err
	}

	report = m.BuildReport(source, runs, minConfidence)
	if err := m.storage.AddReport(ctx, report); err != nil {
		return nil, fmt.Errorf("failed to store report: %w", err)
	}
	metrics.RecordReport(report)

	logger.Info("Built %s report: %d runs, %d points, correlation %.3f, positive rate %.1f%%",
		source, report.RunCount, len(report.Points), report.Metrics.Correlation, report.Metrics.PositiveRate)
	return report, nil
}

// ShouldNotify reports whether a report differs enough from the last
// announced report of its source.
func (m *Monitor) ShouldNotify(report *models.Report) bool {
	if len(report.Points) == 0 {
		return false
	}

	m.mu.Lock()
	rec, exists := m.notified[report.Source]
	m.mu.Unlock()
	if !exists {
		return true
	}

	delta := m.opts.NotifyMinDelta
	cur, prev := report.Metrics, rec.Metrics
	if math.Abs(cur.Correlation-prev.Correlation) >= delta ||
		math.Abs(cur.PositiveRate-prev.PositiveRate) >= delta*100 ||
		math.Abs(cur.AvgPerformance-prev.AvgPerformance) >= delta*100 {
		return true
	}

	return m.now().Sub(rec.SentAt) >= m.opts.Cooldown && len(report.Points) != rec.PointCount
}

// RecordNotified records a report as announced at the current time.
// Call this after a successful Telegram send to enable deduplication.
func (m *Monitor) RecordNotified(report *models.Report) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notified[report.Source] = notifiedRecord{
		Metrics:    report.Metrics,
		PointCount: len(report.Points),
		SentAt:     m.now(),
	}
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viktor-monitor/viktor/internal/models"
)

type fakeAnalyzer struct {
	runs      map[models.Source][]models.AnalysisRun
	err       error
	refreshed []models.Source
	lastMin   float64
}

func (f *fakeAnalyzer) Runs(_ context.Context, source models.Source) ([]models.AnalysisRun, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.runs[source], nil
}

func (f *fakeAnalyzer) Refresh(_ context.Context, source models.Source) error {
	f.refreshed = append(f.refreshed, source)
	return nil
}

func (f *fakeAnalyzer) BuildReport(source models.Source, runs []models.AnalysisRun, minConfidence float64) *models.Report {
	f.lastMin = minConfidence
	return &models.Report{
		ID:            "report-1",
		Source:        source,
		MinConfidence: minConfidence,
		RunCount:      len(runs),
	}
}

func sampleRuns() []models.AnalysisRun {
	return []models.AnalysisRun{{
		ID:        9,
		Source:    models.SourceDaily,
		CreatedAt: time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC),
		Results:   []models.FormattedResult{{Token: "PEPE", Price: "$1", BuyingConfidence: "75%"}},
	}}
}

type fakeWallet struct {
	balances  map[string]json.RawMessage
	snapshots json.RawMessage
	err       error
}

func (f *fakeWallet) WalletTransactions(_ context.Context, from string) (json.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.balances[from], nil
}

func (f *fakeWallet) WalletSnapshots(_ context.Context) (json.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.snapshots, nil
}

type fakeCoins struct {
	coins     []models.Coin
	fetchedAt time.Time
	err       error
}

func (f *fakeCoins) Coins(_ context.Context) ([]models.Coin, time.Time, error) {
	return f.coins, f.fetchedAt, f.err
}

func newTestServer(t *testing.T, a Analyzer, cfg Config) http.Handler {
	t.Helper()
	return newTestServerWith(t, a, cfg, nil, nil)
}

func newTestServerWith(t *testing.T, a Analyzer, cfg Config, wallet WalletSource, coins CoinSource) http.Handler {
	t.Helper()
	if cfg.DefaultSource == "" {
		cfg.DefaultSource = models.SourceWeekly
	}
	return New(cfg, a, wallet, coins).Handler()
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func do(t *testing.T, h http.Handler, method, target string, header map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body envelope
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

// getRaw serves target without decoding the body.
func getRaw(h http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestConfidence(t *testing.T) {
	a := &fakeAnalyzer{runs: map[models.Source][]models.AnalysisRun{models.SourceDaily: sampleRuns()}}
	h := newTestServer(t, a, Config{DefaultMinConfidence: 50})

	rec, body := do(t, h, http.MethodGet, "/api/confidence?source=daily&minConfidence=65.5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, body.Success)

	var report models.Report
	require.NoError(t, json.Unmarshal(body.Data, &report))
	assert.Equal(t, models.SourceDaily, report.Source)
	assert.Equal(t, 1, report.RunCount)
	assert.InDelta(t, 65.5, a.lastMin, 1e-9)
}

func TestConfidence_Defaults(t *testing.T) {
	a := &fakeAnalyzer{}
	h := newTestServer(t, a, Config{DefaultMinConfidence: 50})

	rec, body := do(t, h, http.MethodGet, "/api/confidence", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var report models.Report
	require.NoError(t, json.Unmarshal(body.Data, &report))
	assert.Equal(t, models.SourceWeekly, report.Source)
	assert.InDelta(t, 50.0, a.lastMin, 1e-9)
}

func TestConfidence_BadRequest(t *testing.T) {
	h := newTestServer(t, &fakeAnalyzer{}, Config{})

	for _, target := range []string{
		"/api/confidence?minConfidence=abc",
		"/api/confidence?minConfidence=-1",
		"/api/confidence?minConfidence=101",
		"/api/confidence?source=monthly",
	} {
		rec, body := do(t, h, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.False(t, body.Success, target)
		assert.NotEmpty(t, body.Message, target)
	}
}

func TestConfidence_UpstreamFailure(t *testing.T) {
	h := newTestServer(t, &fakeAnalyzer{err: errors.New("backend down")}, Config{})

	rec, body := do(t, h, http.MethodGet, "/api/confidence", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.False(t, body.Success)
}

func TestRunsEndpoints(t *testing.T) {
	a := &fakeAnalyzer{runs: map[models.Source][]models.AnalysisRun{models.SourceDaily: sampleRuns()}}
	h := newTestServer(t, a, Config{})

	rec, body := do(t, h, http.MethodGet, "/api/analysis", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []models.AnalysisRun
	require.NoError(t, json.Unmarshal(body.Data, &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, int64(9), runs[0].ID)

	rec, _ = do(t, h, http.MethodGet, "/api/week-analysis", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/api/analysis", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRunsEndpoints_DailyOutliersZeroed(t *testing.T) {
	run := sampleRuns()[0]
	run.Results = append(run.Results, models.FormattedResult{Token: "MOON", Price: "$0.01", BuyingConfidence: "90%"})
	run.Performance = []models.TokenPerformance{
		{Token: "PEPE", CurrentPrice: 1.2, PriceChange: 0.2, PercentageChange: 20},
		{Token: "MOON", CurrentPrice: 0.025, PriceChange: 0.015, PercentageChange: 150},
	}
	weekly := run
	weekly.Source = models.SourceWeekly
	a := &fakeAnalyzer{runs: map[models.Source][]models.AnalysisRun{
		models.SourceDaily:  {run},
		models.SourceWeekly: {weekly},
	}}
	h := newTestServer(t, a, Config{})

	rec, body := do(t, h, http.MethodGet, "/api/analysis", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []models.AnalysisRun
	require.NoError(t, json.Unmarshal(body.Data, &runs))
	require.Len(t, runs, 1)
	require.Len(t, runs[0].Performance, 2)
	assert.InDelta(t, 20.0, runs[0].Performance[0].PercentageChange, 1e-9)
	assert.InDelta(t, 0.0, runs[0].Performance[1].PercentageChange, 1e-9)
	assert.InDelta(t, 0.025, runs[0].Performance[1].CurrentPrice, 1e-9)

	// The cached runs are left untouched.
	assert.InDelta(t, 150.0, a.runs[models.SourceDaily][0].Performance[1].PercentageChange, 1e-9)

	// The weekly feed is served as stored.
	rec, body = do(t, h, http.MethodGet, "/api/week-analysis", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(body.Data, &runs))
	require.Len(t, runs, 1)
	assert.InDelta(t, 150.0, runs[0].Performance[1].PercentageChange, 1e-9)
}

func TestRefresh(t *testing.T) {
	a := &fakeAnalyzer{}
	h := newTestServer(t, a, Config{})

	rec, body := do(t, h, http.MethodPost, "/api/analysis/refresh?source=weekly", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, body.Success)
	assert.Equal(t, []models.Source{models.SourceWeekly}, a.refreshed)

	a.refreshed = nil
	rec, _ = do(t, h, http.MethodPost, "/api/analysis/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []models.Source{models.SourceDaily, models.SourceWeekly}, a.refreshed)

	rec, _ = do(t, h, http.MethodPost, "/api/analysis/refresh?source=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWalletEndpoints(t *testing.T) {
	w := &fakeWallet{
		balances:  map[string]json.RawMessage{"0xabc": json.RawMessage(`{"balance":"12.5","transactions":[]}`)},
		snapshots: json.RawMessage(`[{"date":"2025-01-02","total":100}]`),
	}
	h := newTestServerWith(t, &fakeAnalyzer{}, Config{}, w, nil)

	rec := getRaw(h, "/api/wallet/balance?from=0xabc")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"balance":"12.5","transactions":[]}`, rec.Body.String())

	rec = getRaw(h, "/api/wallet/snapshots")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"date":"2025-01-02","total":100}]`, rec.Body.String())

	rec, body := do(t, h, http.MethodGet, "/api/wallet/balance", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, body.Success)
	assert.Equal(t, "from is required", body.Message)
}

func TestWalletEndpoints_UpstreamFailure(t *testing.T) {
	h := newTestServerWith(t, &fakeAnalyzer{}, Config{}, &fakeWallet{err: errors.New("backend down")}, nil)

	for _, target := range []string{"/api/wallet/balance?from=0xabc", "/api/wallet/snapshots"} {
		rec, body := do(t, h, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusBadGateway, rec.Code, target)
		assert.False(t, body.Success, target)
	}
}

func TestTokens(t *testing.T) {
	fetchedAt := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	c := &fakeCoins{
		coins: []models.Coin{
			{Symbol: "BTC", Name: "Bitcoin", MarketCapRank: 1},
			{Symbol: "ETH", Name: "Ethereum", MarketCapRank: 2},
		},
		fetchedAt: fetchedAt,
	}
	h := newTestServerWith(t, &fakeAnalyzer{}, Config{}, nil, c)

	rec, body := do(t, h, http.MethodGet, "/api/tokens", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, body.Success)

	var got struct {
		Data      []models.Coin `json:"data"`
		Timestamp string        `json:"timestamp"`
		Count     int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 2, got.Count)
	assert.Equal(t, "2025-03-04T05:06:07Z", got.Timestamp)
	require.Len(t, got.Data, 2)
	assert.Equal(t, "BTC", got.Data[0].Symbol)

	c.err = errors.New("listing unavailable")
	rec, body = do(t, h, http.MethodGet, "/api/tokens", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.False(t, body.Success)
}

func TestOptionalRoutesDisabled(t *testing.T) {
	h := newTestServer(t, &fakeAnalyzer{}, Config{})

	for _, target := range []string{"/api/wallet/balance?from=0xabc", "/api/wallet/snapshots", "/api/tokens"} {
		rec := getRaw(h, target)
		assert.Equal(t, http.StatusNotFound, rec.Code, target)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestServer(t, &fakeAnalyzer{}, Config{})

	rec, body := do(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, body.Success)

	rec, _ = do(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	h := newTestServer(t, &fakeAnalyzer{}, Config{RateLimit: 1, RateBurst: 2})
	client := map[string]string{"X-Forwarded-For": "203.0.113.7"}

	for i := 0; i < 2; i++ {
		rec, _ := do(t, h, http.MethodGet, "/healthz", client)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec, _ := do(t, h, http.MethodGet, "/healthz", client)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "Too many requests")

	// Other clients have their own bucket.
	rec, _ = do(t, h, http.MethodGet, "/healthz", map[string]string{"X-Forwarded-For": "198.51.100.1"})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Without the header nothing is limited.
	for i := 0; i < 5; i++ {
		rec, _ = do(t, h, http.MethodGet, "/healthz", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestClientLimiter_RefillsAndPrunes(t *testing.T) {
	l := newClientLimiter(1, 1)
	now := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))

	now = now.Add(time.Second)
	assert.True(t, l.allow("a"))

	now = now.Add(idleTTL + time.Second)
	assert.True(t, l.allow("b"))
	_, kept := l.visitors["a"]
	assert.False(t, kept, "idle visitor pruned")
}

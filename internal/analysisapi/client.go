// Package analysisapi is a client for the viktor analysis backend. It fetches
// analysis runs (daily token analyses and weekly observations) and exposes the
// backend's admin operations. Every request is authenticated with the shared
// API secret as a bearer token.
package analysisapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/viktor-monitor/viktor/internal/models"
)

// ErrUnauthorized is returned when the backend rejects the API secret.
var ErrUnauthorized = errors.New("analysis api: unauthorized")

// APIError is a non-2xx answer from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("analysis api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("analysis api: status %d: %s", e.StatusCode, e.Message)
}

// Client provides access to the analysis backend
type Client struct {
	http *resty.Client
}

// ClientConfig holds transport tuning parameters for the client.
type ClientConfig struct {
	MaxRetries     int
	RetryDelayBase time.Duration
}

// wireRun is a run as the backend serializes it.
type wireRun struct {
	ID        int64  `json:"id"`
	CreatedAt string `json:"created_at"`
	Analysis  struct {
		FormattedResults []models.FormattedResult `json:"formattedResults"`
	} `json:"analysis"`
	Performance       []models.TokenPerformance `json:"performance"`
	FearAndGreedIndex string                    `json:"fear_and_greed_index"`
}

// errorBody is the backend's error envelope.
type errorBody struct {
	Message string `json:"message"`
}

// NewClient creates a new analysis backend client
func NewClient(baseURL, apiSecret string, timeout time.Duration, cfg ClientConfig) *Client {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = time.Second
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetAuthToken(apiSecret).
		SetHeader("Accept", "application/json").
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(cfg.RetryDelayBase).
		SetRetryMaxWaitTime(cfg.RetryDelayBase * time.Duration(cfg.MaxRetries+1)).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || resp.StatusCode() >= http.StatusInternalServerError
		})

	return &Client{http: httpClient}
}

// FetchAnalyses retrieves daily analysis runs, newest first.
func (c *Client) FetchAnalyses(ctx context.Context, fromCloud bool) ([]models.AnalysisRun, error) {
	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("fromCloud", strconv.FormatBool(fromCloud))

	resp, err := req.Get("/agent/analysis")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch analyses: %w", err)
	}
	return decodeRuns(resp, models.SourceDaily)
}

// FetchWeekAnalyses retrieves weekly analysis runs, newest first. Paging is
// only sent when both page and limit are positive.
func (c *Client) FetchWeekAnalyses(ctx context.Context, page, limit int) ([]models.AnalysisRun, error) {
	req := c.http.R().SetContext(ctx)
	if page > 0 && limit > 0 {
		req.SetQueryParams(map[string]string{
			"page":  strconv.Itoa(page),
			"limit": strconv.Itoa(limit),
		})
	}

	resp, err := req.Get("/analysis")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch week analyses: %w", err)
	}
	return decodeRuns(resp, models.SourceWeekly)
}

// Fetch retrieves the runs of the given source with default paging.
func (c *Client) Fetch(ctx context.Context, source models.Source, fromCloud bool, limit int) ([]models.AnalysisRun, error) {
	switch source {
	case models.SourceDaily:
		return c.FetchAnalyses(ctx, fromCloud)
	case models.SourceWeekly:
		page := 0
		if limit > 0 {
			page = 1
		}
		return c.FetchWeekAnalyses(ctx, page, limit)
	default:
		return nil, fmt.Errorf("unknown source %q", source)
	}
}

// WhitelistedChains returns the chains the backend analyses tokens on.
func (c *Client) WhitelistedChains(ctx context.Context) ([]string, error) {
	resp, err := c.http.R().SetContext(ctx).Get("/settings/whitelisted-chains")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch whitelisted chains: %w", err)
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	var body struct {
		Data []string `json:"data"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("failed to decode whitelisted chains: %w", err)
	}
	if body.Data == nil {
		body.Data = []string{}
	}
	return body.Data, nil
}

// UpdateWhitelistedChains replaces the backend's chain whitelist. An empty
// list clears it.
func (c *Client) UpdateWhitelistedChains(ctx context.Context, chains []string) error {
	// An empty list clears the whitelist; it must go out as [] rather than null.
	if chains == nil {
		chains = []string{}
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string][]string{"chains": chains}).
		Post("/settings/whitelisted-chains")
	if err != nil {
		return fmt.Errorf("failed to update whitelisted chains: %w", err)
	}
	return checkResponse(resp)
}

// TriggerAnalysis asks the backend to start an analysis run in the given mode.
func (c *Client) TriggerAnalysis(ctx context.Context, mode string) error {
	if mode == "" {
		return errors.New("mode must not be empty")
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"mode": mode}).
		Post("/cron")
	if err != nil {
		return fmt.Errorf("failed to trigger analysis: %w", err)
	}
	return checkResponse(resp)
}

// WalletTransactions returns the backend's wallet balance history starting
// at from (a Unix timestamp in milliseconds, as the backend expects). The
// payload is passed through undecoded.
func (c *Client) WalletTransactions(ctx context.Context, from string) (json.RawMessage, error) {
	if from == "" {
		return nil, errors.New("from must not be empty")
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("from", from).
		Get("/transaction/wallet/{from}")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch wallet transactions: %w", err)
	}
	return rawBody(resp)
}

// WalletSnapshots returns the backend's periodic wallet portfolio snapshots,
// undecoded.
func (c *Client) WalletSnapshots(ctx context.Context) (json.RawMessage, error) {
	resp, err := c.http.R().SetContext(ctx).Get("/wallet/snapshots")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch wallet snapshots: %w", err)
	}
	return rawBody(resp)
}

func rawBody(resp *resty.Response) (json.RawMessage, error) {
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	body := resp.Body()
	if !json.Valid(body) {
		return nil, errors.New("analysis api: response is not valid JSON")
	}
	return json.RawMessage(body), nil
}

func decodeRuns(resp *resty.Response, source models.Source) ([]models.AnalysisRun, error) {
	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	var wire []wireRun
	if err := json.Unmarshal(resp.Body(), &wire); err != nil {
		return nil, fmt.Errorf("failed to decode runs: %w", err)
	}

	runs := make([]models.AnalysisRun, 0, len(wire))
	for _, w := range wire {
		createdAt, err := parseTimestamp(w.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("run %d: %w", w.ID, err)
		}
		results := w.Analysis.FormattedResults
		if results == nil {
			results = []models.FormattedResult{}
		}
		runs = append(runs, models.AnalysisRun{
			ID:                w.ID,
			Source:            source,
			CreatedAt:         createdAt,
			Results:           results,
			Performance:       w.Performance,
			FearAndGreedIndex: w.FearAndGreedIndex,
		})
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	return runs, nil
}

// checkResponse maps non-2xx answers onto errors.
func checkResponse(resp *resty.Response) error {
	if !resp.IsError() && resp.StatusCode() < http.StatusMultipleChoices {
		return nil
	}

	var body errorBody
	_ = json.Unmarshal(resp.Body(), &body)
	if resp.StatusCode() == http.StatusUnauthorized || body.Message == "Unauthorized" {
		return ErrUnauthorized
	}
	return &APIError{StatusCode: resp.StatusCode(), Message: body.Message}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
}

// parseTimestamp accepts RFC 3339 and the Postgres timestamp renderings the
// backend has been seen to emit. Timestamps without a zone are taken as UTC.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid created_at %q", s)
}

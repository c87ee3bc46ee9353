// Package server exposes reports and cached runs over a small JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/viktor-monitor/viktor/internal/logger"
	"github.com/viktor-monitor/viktor/internal/metrics"
	"github.com/viktor-monitor/viktor/internal/models"
)

// Analyzer is the monitor surface the API needs.
type Analyzer interface {
	Runs(ctx context.Context, source models.Source) ([]models.AnalysisRun, error)
	Refresh(ctx context.Context, source models.Source) error
	BuildReport(source models.Source, runs []models.AnalysisRun, minConfidence float64) *models.Report
}

// WalletSource proxies the backend's wallet endpoints.
type WalletSource interface {
	WalletTransactions(ctx context.Context, from string) (json.RawMessage, error)
	WalletSnapshots(ctx context.Context) (json.RawMessage, error)
}

// CoinSource provides the market listing behind /api/tokens.
type CoinSource interface {
	Coins(ctx context.Context) ([]models.Coin, time.Time, error)
}

// Config contains configuration for the HTTP server
type Config struct {
	ListenAddr           string
	RateLimit            float64 // requests per second per client, 0 disables
	RateBurst            int
	ReadTimeout          time.Duration
	WriteTimeout         time.Duration
	DefaultSource        models.Source
	DefaultMinConfidence float64
}

// Server wraps HTTP server with lifecycle management
type Server struct {
	httpServer *http.Server
	analyzer   Analyzer
	wallet     WalletSource
	coins      CoinSource
	cfg        Config
}

// New creates and configures the HTTP server with all routes. A nil wallet
// or coins source leaves its routes unregistered.
func New(cfg Config, analyzer Analyzer, wallet WalletSource, coins CoinSource) *Server {
	s := &Server{analyzer: analyzer, wallet: wallet, coins: coins, cfg: cfg}

	mux := http.NewServeMux()
	mux.Handle("GET /api/confidence", instrument("/api/confidence", s.handleConfidence))
	mux.Handle("GET /api/analysis", instrument("/api/analysis", s.handleRuns(models.SourceDaily, true)))
	mux.Handle("GET /api/week-analysis", instrument("/api/week-analysis", s.handleRuns(models.SourceWeekly, false)))
	mux.Handle("POST /api/analysis/refresh", instrument("/api/analysis/refresh", s.handleRefresh))
	if wallet != nil {
		mux.Handle("GET /api/wallet/balance", instrument("/api/wallet/balance", s.handleWalletBalance))
		mux.Handle("GET /api/wallet/snapshots", instrument("/api/wallet/snapshots", s.handleWalletSnapshots))
	}
	if coins != nil {
		mux.Handle("GET /api/tokens", instrument("/api/tokens", s.handleTokens))
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, response{Success: true, Data: map[string]string{"status": "ok"}})
	})
	mux.Handle("GET /metrics", metrics.Handler())

	var handler http.Handler = mux
	if cfg.RateLimit > 0 {
		handler = rateLimit(newClientLimiter(cfg.RateLimit, cfg.RateBurst), handler)
	}

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the root handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests.
// Blocks until server is stopped or encounters an error
func (s *Server) Start() error {
	logger.Info("Starting HTTP server on %s", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("Stopping HTTP server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	return nil
}

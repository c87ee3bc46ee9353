package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/viktor-monitor/viktor/internal/confidence"
	"github.com/viktor-monitor/viktor/internal/logger"
	"github.com/viktor-monitor/viktor/internal/metrics"
	"github.com/viktor-monitor/viktor/internal/models"
)

type response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func (s *Server) handleConfidence(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	source, err := parseSource(q.Get("source"), s.cfg.DefaultSource)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	minConfidence := s.cfg.DefaultMinConfidence
	if raw := q.Get("minConfidence"); raw != "" {
		minConfidence, err = strconv.ParseFloat(raw, 64)
		if err != nil || minConfidence < 0 || minConfidence > 100 {
			writeError(w, http.StatusBadRequest, "minConfidence must be a number between 0 and 100")
			return
		}
	}

	runs, err := s.analyzer.Runs(r.Context(), source)
	if err != nil {
		logger.Error("Failed to load %s runs: %v", source, err)
		writeError(w, http.StatusBadGateway, "Failed to load analysis data")
		return
	}

	writeJSON(w, http.StatusOK, response{
		Success: true,
		Data:    s.analyzer.BuildReport(source, runs, minConfidence),
	})
}

// handleRuns serves the cached runs of a source. With sanitize set, outlier
// performance records are zeroed in the response; the cache stays raw.
func (s *Server) handleRuns(source models.Source, sanitize bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runs, err := s.analyzer.Runs(r.Context(), source)
		if err != nil {
			logger.Error("Failed to load %s runs: %v", source, err)
			writeError(w, http.StatusBadGateway, "Failed to load analysis data")
			return
		}
		if sanitize {
			runs = confidence.SanitizeRuns(runs)
		}
		writeJSON(w, http.StatusOK, response{Success: true, Data: runs})
	}
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	sources := []models.Source{models.SourceDaily, models.SourceWeekly}
	if raw := r.URL.Query().Get("source"); raw != "" {
		source, err := parseSource(raw, "")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		sources = []models.Source{source}
	}

	for _, source := range sources {
		if err := s.analyzer.Refresh(r.Context(), source); err != nil {
			logger.Error("Failed to refresh %s: %v", source, err)
			writeError(w, http.StatusInternalServerError, "Failed to refresh cache")
			return
		}
	}
	writeJSON(w, http.StatusOK, response{Success: true, Message: "Cache invalidated"})
}

func (s *Server) handleWalletBalance(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	if from == "" {
		writeError(w, http.StatusBadRequest, "from is required")
		return
	}

	data, err := s.wallet.WalletTransactions(r.Context(), from)
	if err != nil {
		logger.Error("Failed to fetch wallet balance: %v", err)
		writeError(w, http.StatusBadGateway, "Failed to fetch wallet balance")
		return
	}
	writeRaw(w, data)
}

func (s *Server) handleWalletSnapshots(w http.ResponseWriter, r *http.Request) {
	data, err := s.wallet.WalletSnapshots(r.Context())
	if err != nil {
		logger.Error("Failed to fetch wallet snapshots: %v", err)
		writeError(w, http.StatusBadGateway, "Failed to fetch wallet snapshots")
		return
	}
	writeRaw(w, data)
}

type tokensResponse struct {
	Success   bool          `json:"success"`
	Data      []models.Coin `json:"data"`
	Timestamp time.Time     `json:"timestamp"`
	Count     int           `json:"count"`
}

func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	coins, fetchedAt, err := s.coins.Coins(r.Context())
	if err != nil {
		logger.Error("Failed to fetch coin data: %v", err)
		writeError(w, http.StatusBadGateway, "Failed to fetch coin data")
		return
	}
	writeJSON(w, http.StatusOK, tokensResponse{
		Success:   true,
		Data:      coins,
		Timestamp: fetchedAt.UTC(),
		Count:     len(coins),
	})
}

func parseSource(raw string, fallback models.Source) (models.Source, error) {
	if raw == "" {
		return fallback, nil
	}
	source := models.Source(strings.ToLower(raw))
	if !source.Valid() {
		return "", fmt.Errorf("unknown source %q, expected daily or weekly", raw)
	}
	return source, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("Failed to encode response: %v", err)
	}
}

// writeRaw relays an upstream JSON payload unchanged.
func writeRaw(w http.ResponseWriter, data json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		logger.Warn("Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, response{Success: false, Message: message})
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func instrument(route string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		metrics.RecordHTTPRequest(route, rec.status)
	})
}

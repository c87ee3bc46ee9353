package main

import (
	"os"

	"github.com/urfave/cli/v2"

	"github.com/viktor-monitor/viktor/internal/analysisapi"
	"github.com/viktor-monitor/viktor/internal/config"
	"github.com/viktor-monitor/viktor/internal/logger"
	"github.com/viktor-monitor/viktor/internal/monitor"
	"github.com/viktor-monitor/viktor/internal/storage"
)

// loadConfig loads, validates and applies the logging configuration. The
// default config file is optional; an explicit --config must exist.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if !c.IsSet("config") {
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, cli.Exit("failed to load config: "+err.Error(), 1)
	}
	if err := cfg.Validate(); err != nil {
		return nil, cli.Exit("invalid configuration: "+err.Error(), 1)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	if path != "" {
		logger.Debug("Configuration loaded from %s", path)
	}
	return cfg, nil
}

func newAPIClient(cfg *config.Config) *analysisapi.Client {
	return analysisapi.NewClient(
		cfg.API.BaseURL,
		cfg.API.APISecret,
		cfg.API.Timeout,
		analysisapi.ClientConfig{
			MaxRetries:     cfg.API.MaxRetries,
			RetryDelayBase: cfg.API.RetryDelayBase,
		},
	)
}

func newStorage(cfg *config.Config) (*storage.Storage, error) {
	return storage.New(cfg.Storage.MaxRuns, cfg.Storage.MaxReports, cfg.Storage.DBPath)
}

func newMonitor(cfg *config.Config, store *storage.Storage, client *analysisapi.Client) *monitor.Monitor {
	return monitor.New(store, client, monitor.Options{
		CacheTTL:       cfg.Monitor.CacheTTL,
		FromCloud:      cfg.API.FromCloud,
		PageLimit:      cfg.API.PageLimit,
		NotifyMinDelta: cfg.Monitor.NotifyMinDelta,
		Cooldown:       cfg.Monitor.Cooldown,
	})
}

func closeStorage(store *storage.Storage) {
	if err := store.Close(); err != nil {
		logger.Error("Failed to close storage: %v", err)
	}
}

package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/viktor-monitor/viktor/internal/coincodex"
	"github.com/viktor-monitor/viktor/internal/config"
	"github.com/viktor-monitor/viktor/internal/logger"
	"github.com/viktor-monitor/viktor/internal/metrics"
	"github.com/viktor-monitor/viktor/internal/models"
	"github.com/viktor-monitor/viktor/internal/monitor"
	"github.com/viktor-monitor/viktor/internal/server"
	"github.com/viktor-monitor/viktor/internal/storage"
	"github.com/viktor-monitor/viktor/internal/telegram"
)

func runService(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	metrics.Init()

	// Initialize storage
	store, err := newStorage(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer closeStorage(store)

	apiClient := newAPIClient(cfg)
	mon := newMonitor(cfg, store, apiClient)
	source := cfg.MonitorSource()

	// Initialize Telegram client
	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Server.Enabled {
		srv := server.New(server.Config{
			ListenAddr:           cfg.Server.ListenAddr,
			RateLimit:            cfg.Server.RateLimit,
			RateBurst:            cfg.Server.RateBurst,
			ReadTimeout:          cfg.Server.ReadTimeout,
			WriteTimeout:         cfg.Server.WriteTimeout,
			DefaultSource:        source,
			DefaultMinConfidence: cfg.Monitor.MinConfidence,
		}, mon, apiClient, coincodex.NewClient(cfg.Tokens.URL, cfg.Tokens.Timeout, cfg.Tokens.CacheTTL))

		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("HTTP server stopped: %v", err)
				cancel()
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Failed to stop HTTP server: %v", err)
			}
		}()
	}

	// Start Telegram command listener
	if telegramClient != nil {
		telegramClient.ListenForCommands(ctx, func(ctx context.Context, src models.Source) (*models.Report, error) {
			runs, err := mon.Runs(ctx, src)
			if err != nil {
				return nil, err
			}
			return mon.BuildReport(src, runs, cfg.Monitor.MinConfidence), nil
		}, source)
	}

	if !cfg.Monitor.Enabled {
		logger.Info("Report loop disabled, serving API only")
		<-ctx.Done()
		logger.Info("Service stopped")
		return nil
	}

	logger.Info("Starting report loop (interval: %v, source: %s, min_confidence: %.1f, cache_ttl: %v)",
		cfg.Monitor.PollInterval,
		source,
		cfg.Monitor.MinConfidence,
		cfg.Monitor.CacheTTL,
	)

	ticker := time.NewTicker(cfg.Monitor.PollInterval)
	defer ticker.Stop()

	consecutiveFailures := 0

	handleCycleResult := func(err error) {
		if err != nil {
			consecutiveFailures++
			logger.Error("Report cycle failed: %v", err)
			if consecutiveFailures == 1 && telegramClient != nil {
				if sendErr := telegramClient.SendError(err); sendErr != nil {
					logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
				}
			}
		} else {
			if consecutiveFailures > 0 && telegramClient != nil {
				if sendErr := telegramClient.SendRecovery(consecutiveFailures); sendErr != nil {
					logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
				}
			}
			consecutiveFailures = 0
		}
	}

	// Run initial cycle immediately
	logger.Debug("Running initial report cycle")
	handleCycleResult(runReportCycle(ctx, mon, telegramClient, cfg))

	for {
		select {
		case <-ctx.Done():
			logger.Info("Service stopped")
			return nil

		case <-ticker.C:
			logger.Debug("Starting scheduled report cycle")
			handleCycleResult(runReportCycle(ctx, mon, telegramClient, cfg))

			// Rotate old data
			rotate(ctx, store)
		}
	}
}

func runReportCycle(ctx context.Context, mon *monitor.Monitor, telegramClient *telegram.Client, cfg *config.Config) error {
	startTime := time.Now()

	report, err := mon.RunCycle(ctx, cfg.MonitorSource(), cfg.Monitor.MinConfidence)
	if err != nil {
		return err
	}

	if !mon.ShouldNotify(report) {
		logger.Debug("Report unchanged since last notification, not sending")
	} else if telegramClient != nil {
		if err := telegramClient.Send(report); err != nil {
			logger.Error("Failed to send Telegram notification: %v", err)
		} else {
			logger.Info("Sent Telegram report %s", report.ID)
			mon.RecordNotified(report)
		}
	} else {
		logger.Debug("Report changed but Telegram notifications disabled")
	}

	logger.Info("Report cycle completed in %v", time.Since(startTime))
	return nil
}

func rotate(ctx context.Context, store *storage.Storage) {
	if err := store.RotateRuns(ctx); err != nil {
		logger.Warn("Failed to rotate runs: %v", err)
	}
	if err := store.RotateReports(ctx); err != nil {
		logger.Warn("Failed to rotate reports: %v", err)
	}
}

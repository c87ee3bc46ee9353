package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/viktor-monitor/viktor/internal/logger"
	"github.com/viktor-monitor/viktor/internal/models"
)

func printReport(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	source := cfg.MonitorSource()
	if raw := c.String("source"); raw != "" {
		source = models.Source(strings.ToLower(raw))
		if !source.Valid() {
			return cli.Exit(fmt.Sprintf("unknown source %q, expected daily or weekly", raw), 2)
		}
	}
	minConfidence := cfg.Monitor.MinConfidence
	if c.IsSet("min-confidence") {
		minConfidence = c.Float64("min-confidence")
		if minConfidence < 0 || minConfidence > 100 {
			return cli.Exit("--min-confidence must be between 0 and 100", 2)
		}
	}

	store, err := newStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer closeStorage(store)

	mon := newMonitor(cfg, store, newAPIClient(cfg))
	if c.Bool("refresh") {
		if err := mon.Refresh(c.Context, source); err != nil {
			return err
		}
	}

	runs, err := mon.Runs(c.Context, source)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(mon.BuildReport(source, runs, minConfidence))
}

func manageChains(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	client := newAPIClient(cfg)

	if c.IsSet("set") {
		var chains []string
		for _, chain := range c.StringSlice("set") {
			if chain = strings.TrimSpace(chain); chain != "" {
				chains = append(chains, chain)
			}
		}
		if err := client.UpdateWhitelistedChains(c.Context, chains); err != nil {
			return err
		}
		logger.Info("Updated whitelisted chains: %s", strings.Join(chains, ", "))
	}

	chains, err := client.WhitelistedChains(c.Context)
	if err != nil {
		return err
	}
	for _, chain := range chains {
		fmt.Println(chain)
	}
	return nil
}

func triggerAnalysis(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	mode := c.String("mode")
	if err := newAPIClient(cfg).TriggerAnalysis(c.Context, mode); err != nil {
		return err
	}
	logger.Info("Triggered %s analysis", mode)
	return nil
}

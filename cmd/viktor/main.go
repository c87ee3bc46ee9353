package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "viktor: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "viktor",
		Usage: "track how buying confidence predicts token performance",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   defaultConfigPath,
				Usage:   "path to configuration file",
				EnvVars: []string{"VIKTOR_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "run the report loop and the HTTP API",
				Action: runService,
			},
			{
				Name:  "report",
				Usage: "print a confidence/performance report as JSON",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "source", Usage: "daily or weekly (default from config)"},
					&cli.Float64Flag{Name: "min-confidence", Usage: "drop results at or below this confidence (default from config)"},
					&cli.BoolFlag{Name: "refresh", Usage: "ignore the local cache"},
				},
				Action: printReport,
			},
			{
				Name:  "chains",
				Usage: "show or replace the backend's whitelisted chains",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "set", Usage: "replace the whitelist, e.g. --set solana,base"},
				},
				Action: manageChains,
			},
			{
				Name:  "trigger",
				Usage: "start an analysis run on the backend",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "mode", Required: true, Usage: "analysis mode understood by the backend cron"},
				},
				Action: triggerAnalysis,
			},
		},
	}
}

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pcrawford/filescout/internal/config"
	"github.com/pcrawford/filescout/internal/crawler"
	"github.com/pcrawford/filescout/internal/export"
	"github.com/pcrawford/filescout/internal/fetcher/headless"
	"github.com/pcrawford/filescout/internal/logging"
)

func newCrawlCmd() *cobra.Command {
	var (
		seeds  []string
		exts   []string
		output string
		format string
	)

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one discovery crawl and write the file inventory",
		Long: `Crawls the configured (or flag-provided) seed URLs, discovers
file-like resources, and writes the deduplicated inventory to the output
path as CSV or JSON. Interrupt with Ctrl-C for a cooperative stop; results
gathered so far are still written.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if len(seeds) > 0 {
				cfg.Crawler.Seeds = seeds
			}
			if len(exts) > 0 {
				cfg.Crawler.AllowedExts = exts
			}
			if output != "" {
				cfg.Output.Path = output
			}
			if format != "" {
				cfg.Output.Format = format
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			if len(cfg.Crawler.Seeds) == 0 {
				return fmt.Errorf("no seed URLs: set crawler.seeds or pass --seed")
			}

			logger, err := logging.New("crawl", cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer logger.Sync() //nolint:errcheck

			return runCrawl(cmd, cfg, logger)
		},
	}

	cmd.Flags().StringSliceVar(&seeds, "seed", nil, "seed URL (repeatable)")
	cmd.Flags().StringSliceVar(&exts, "ext", nil, "allowed file extension, e.g. .pdf (repeatable; empty accepts all)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file path")
	cmd.Flags().StringVar(&format, "format", "", "output format: csv or json")

	return cmd
}

func runCrawl(cmd *cobra.Command, cfg config.Config, logger *zap.Logger) error {
	policy := cfg.Policy()

	engine, err := buildEngine(cfg, policy, logger)
	if err != nil {
		return err
	}

	// SIGINT flips the stop flag; the engine drains cooperatively.
	var stopRequested atomic.Bool
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		logger.Warn("stop requested; draining in-flight fetches")
		stopRequested.Store(true)
	}()

	records := engine.Run(cmd.Context(), cfg.Crawler.Seeds,
		stopRequested.Load,
		func(pct int, status string) {
			logger.Info("progress", zap.Int("percent", pct), zap.String("status", status))
		},
	)

	out, err := os.Create(cfg.Output.Path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer out.Close() //nolint:errcheck

	switch cfg.Output.Format {
	case "json":
		err = export.WriteJSON(out, records)
	default:
		err = export.WriteCSV(out, records)
	}
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	logger.Info("inventory written",
		zap.String("path", cfg.Output.Path),
		zap.Int("files", len(records)),
	)
	return nil
}

// buildEngine assembles the engine, swapping in the browser-backed fetcher
// when headless rendering is enabled.
func buildEngine(cfg config.Config, policy crawler.Policy, logger *zap.Logger) (*crawler.Engine, error) {
	if !cfg.Headless.Enabled {
		return crawler.NewDefaultEngine(policy, logger)
	}

	fetcher, err := headless.New(headless.Config{
		MaxParallel:       cfg.Headless.MaxParallel,
		UserAgent:         policy.UserAgent,
		NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSecs) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("init headless fetcher: %w", err)
	}

	return crawler.NewEngine(
		policy,
		fetcher,
		crawler.NewHTTPProber(policy.Timeout, policy.UserAgent, logger),
		crawler.NewXMLSitemapExpander(policy.Timeout, policy.UserAgent, logger),
		crawler.NewRobotsChecker(policy.RespectRobots, policy.UserAgent, logger),
		logger,
	)
}

package crawler

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Discover is the one-call entry point consumed by the CLI and the API
// layer: it wires the default network-backed components for the policy and
// runs a single crawl. allowedExts, when non-empty, overrides the policy's
// allowed-extension filter. The returned error reflects configuration
// problems only; crawl-time failures are absorbed per the best-effort
// contract.
func Discover(
	ctx context.Context,
	seeds []string,
	allowedExts []string,
	policy Policy,
	stop StopFunc,
	progress ProgressFunc,
	logger *zap.Logger,
) ([]Record, error) {
	if len(allowedExts) > 0 {
		policy.AllowedExts = allowedExts
	}
	engine, err := NewDefaultEngine(policy, logger)
	if err != nil {
		return nil, err
	}
	return engine.Run(ctx, seeds, stop, progress), nil
}

// NewDefaultEngine builds an engine with the HTTP-backed fetcher, prober,
// sitemap expander, and robots gate for the policy.
func NewDefaultEngine(policy Policy, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fetcher, err := NewCollyFetcher(policy, logger)
	if err != nil {
		return nil, fmt.Errorf("init fetcher: %w", err)
	}
	return NewEngine(
		policy,
		fetcher,
		NewHTTPProber(policy.Timeout, policy.UserAgent, logger),
		NewXMLSitemapExpander(policy.Timeout, policy.UserAgent, logger),
		NewRobotsChecker(policy.RespectRobots, policy.UserAgent, logger),
		logger,
	)
}

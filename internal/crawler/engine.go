package crawler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pcrawford/filescout/internal/metrics"
)

// frontierEntry is one pending page: its URL, its link-hop distance from a
// seed, and the host of the seed lineage it belongs to. The root stays fixed
// across redirects so same-domain enforcement cannot drift.
type frontierEntry struct {
	url   string
	depth int
	root  string
}

// pageResult is what a worker hands back to the coordinator for one entry.
type pageResult struct {
	entry frontierEntry
	links []string
	err   error
}

// Engine is the frontier scheduler: it owns the depth-levelled queue, the
// visited set, the probe cache, and the result set for the duration of one
// Run. Workers only fetch and extract; all shared state is written by the
// coordinating goroutine after each batch, so none of it needs locks.
type Engine struct {
	policy    Policy
	fetcher   Fetcher
	prober    Prober
	sitemaps  SitemapExpander
	robots    RobotsGate
	extractor *LinkExtractor
	logger    *zap.Logger
}

// NewEngine validates the policy and assembles an engine. The prober,
// sitemap expander, and robots gate may be nil, disabling deep detection,
// sitemap seeding, and the robots check respectively.
func NewEngine(
	policy Policy,
	fetcher Fetcher,
	prober Prober,
	sitemaps SitemapExpander,
	robots RobotsGate,
	logger *zap.Logger,
) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("crawl policy: %w", err)
	}
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Engine{
		policy:    policy,
		fetcher:   fetcher,
		prober:    prober,
		sitemaps:  sitemaps,
		robots:    robots,
		extractor: NewLinkExtractor(policy.JSNavPatterns),
		logger:    logger,
	}, nil
}

// Run executes one crawl: seeds are optionally expanded through sitemaps,
// then processed as a breadth-first frontier in strictly non-decreasing
// depth order. The stop predicate is polled cooperatively at batch
// boundaries and inside link loops; once it fires no new fetches are
// dispatched and results already computed are still incorporated.
//
// Run never fails for ordinary network flakiness; it always returns the
// (possibly empty) records discovered so far.
func (e *Engine) Run(ctx context.Context, seeds []string, stop StopFunc, progress ProgressFunc) []Record {
	if stop == nil {
		stop = func() bool { return false }
	}
	if progress == nil {
		progress = func(int, string) {}
	}

	level := e.expandSeeds(ctx, seeds, stop)
	visited := make(map[string]struct{})
	probeCache := make(map[string]*ProbeResult)
	results := NewResultSet()
	allowed := e.policy.allowedSet()
	pagesDone := 0
	halted := false

levels:
	for len(level) > 0 {
		if stop() || ctx.Err() != nil {
			halted = true
			break
		}
		if e.pageBudgetSpent(pagesDone) {
			break
		}

		depth := level[0].depth
		batch := e.takeBatch(&level, pagesDone)

		var jobs []frontierEntry
		for _, en := range batch {
			if _, ok := visited[en.url]; ok {
				continue
			}
			visited[en.url] = struct{}{}
			jobs = append(jobs, en)
		}

		var next []frontierEntry
		for _, pr := range e.fetchBatch(ctx, jobs) {
			pagesDone++
			if pr.err != nil {
				// Best-effort contract: a failed page contributes nothing.
				metrics.PageFetched("error")
				e.logger.Debug("page fetch failed",
					zap.String("url", pr.entry.url),
					zap.Int("depth", pr.entry.depth),
					zap.Error(pr.err),
				)
				continue
			}
			metrics.PageFetched("ok")

			for _, link := range pr.links {
				if stop() {
					halted = true
					break
				}
				entry, isFile := e.resolveLink(ctx, pr.entry, link, probeCache, allowed, results)
				if isFile {
					if e.fileBudgetSpent(results.Len()) {
						break levels
					}
					continue
				}
				if entry != nil {
					if _, seen := visited[entry.url]; !seen {
						next = append(next, *entry)
					}
				}
			}
			if halted || e.pageBudgetSpent(pagesDone) {
				break
			}
		}

		e.reportProgress(progress, depth, pagesDone, results.Len())
		if halted {
			break
		}

		level = appendNextLevel(level, next, visited)
		if len(level) > 0 && e.policy.Delay > 0 {
			pause(ctx, e.policy.Delay)
		}
	}

	state := "completed"
	if halted || ctx.Err() != nil {
		state = "canceled"
	}
	metrics.RunFinished(state)
	progress(100, fmt.Sprintf("done: pages=%d files=%d", pagesDone, results.Len()))
	e.logger.Info("crawl finished",
		zap.String("state", state),
		zap.Int("pages", pagesDone),
		zap.Int("files", results.Len()),
	)
	return results.Records()
}

// expandSeeds validates seeds, applies the robots gate, and optionally
// unions in sitemap candidates (once per domain), building the depth-0
// frontier. Invalid seeds are logged and skipped; everything else about a
// seed failing is silent best-effort.
func (e *Engine) expandSeeds(ctx context.Context, seeds []string, stop StopFunc) []frontierEntry {
	var entries []frontierEntry
	seen := make(map[string]struct{})
	expandedDomains := make(map[string]struct{})

	add := func(u, root string) {
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		entries = append(entries, frontierEntry{url: u, depth: 0, root: root})
	}

	for _, seed := range seeds {
		if stop() {
			break
		}
		if !IsValidURL(seed) {
			e.logger.Warn("skipping invalid seed URL", zap.String("url", seed))
			continue
		}
		if e.robots != nil && !e.robots.Allowed(ctx, seed) {
			e.logger.Warn("robots.txt blocked seed", zap.String("url", seed))
			continue
		}
		root := Host(seed)
		add(seed, root)

		if !e.policy.UseSitemaps || e.sitemaps == nil {
			continue
		}
		if _, done := expandedDomains[root]; done {
			continue
		}
		expandedDomains[root] = struct{}{}

		urls := e.sitemaps.Expand(ctx, seed, e.policy.MaxSitemapURLs)
		metrics.SitemapURLs(len(urls))
		for _, u := range urls {
			if !IsValidURL(u) {
				continue
			}
			if e.policy.SameDomainOnly && Host(u) != root {
				continue
			}
			add(u, root)
		}
	}
	return entries
}

// takeBatch slices the current level down to the remaining page budget.
func (e *Engine) takeBatch(level *[]frontierEntry, pagesDone int) []frontierEntry {
	n := len(*level)
	if e.policy.MaxPages > 0 {
		if remaining := e.policy.MaxPages - pagesDone; remaining < n {
			n = remaining
		}
		if n < 1 {
			n = 1
		}
	}
	batch := (*level)[:n]
	*level = (*level)[n:]
	return batch
}

// fetchBatch runs one level slice across the fixed-width worker pool. Each
// worker owns its request lifecycle; the coordinator blocks until the whole
// batch resolves. Result order is not meaningful.
func (e *Engine) fetchBatch(ctx context.Context, jobs []frontierEntry) []pageResult {
	if len(jobs) == 0 {
		return nil
	}
	workers := e.policy.Workers
	if workers > len(jobs) {
		workers = len(jobs)
	}

	jobCh := make(chan frontierEntry)
	resCh := make(chan pageResult, len(jobs))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for en := range jobCh {
				metrics.WorkersActive(1)
				page, err := e.fetcher.Fetch(ctx, en.url)
				metrics.WorkersActive(-1)
				if err != nil {
					resCh <- pageResult{entry: en, err: err}
					continue
				}
				base := page.FinalURL
				if base == "" {
					base = page.URL
				}
				resCh <- pageResult{entry: en, links: e.extractor.Extract(base, page.Body)}
			}
		}()
	}

dispatch:
	for _, en := range jobs {
		select {
		case jobCh <- en:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobCh)
	wg.Wait()
	close(resCh)

	out := make([]pageResult, 0, len(jobs))
	for pr := range resCh {
		out = append(out, pr)
	}
	return out
}

// resolveLink classifies one extracted link. It either records a discovered
// file (first write wins) and reports isFile=true, or returns the next-level
// frontier entry the link should become, or neither.
func (e *Engine) resolveLink(
	ctx context.Context,
	from frontierEntry,
	link string,
	probeCache map[string]*ProbeResult,
	allowed map[string]struct{},
	results *ResultSet,
) (*frontierEntry, bool) {
	if e.policy.SameDomainOnly && Host(link) != from.root {
		return nil, false
	}

	ext := NormalizeExt(link)
	resolved := link
	filename := ""

	if ext == "" && e.policy.DeepDetect && e.prober != nil &&
		LooksLikeDownloadEndpoint(link, e.policy.DownloadParams, e.policy.ListingParams) {
		if probed := e.probeCached(ctx, probeCache, link); probed != nil {
			ext = probed.Ext
			resolved = probed.FinalURL
			filename = probed.Filename
		}
	}

	if ext != "" {
		_, ok := allowed[ext]
		if allowed == nil || ok {
			if filename == "" {
				filename = basenameOf(resolved)
			}
			if filename == "" {
				filename = resolved
			}
			added := results.Add(DiscoveredFile{
				File:   filename,
				Type:   ext,
				URL:    resolved,
				Source: from.url,
			})
			if added {
				metrics.FileDiscovered()
			}
			return nil, true
		}
		// Filtered out by extension: fall through and crawl it like any
		// other link, since pages behind it may hold allowed files.
	}

	if from.depth >= e.policy.MaxDepth {
		return nil, false
	}
	return &frontierEntry{url: resolved, depth: from.depth + 1, root: from.root}, false
}

// probeCached memoizes probe outcomes for the run, including misses, so one
// ambiguous URL referenced from many pages costs at most one network probe.
func (e *Engine) probeCached(ctx context.Context, cache map[string]*ProbeResult, link string) *ProbeResult {
	if cached, ok := cache[link]; ok {
		metrics.ProbeCacheHit()
		return cached
	}
	metrics.ProbeIssued()
	res, ok := e.prober.Probe(ctx, link)
	if !ok {
		cache[link] = nil
		return nil
	}
	cache[link] = &res
	return &res
}

func (e *Engine) pageBudgetSpent(pagesDone int) bool {
	return e.policy.MaxPages > 0 && pagesDone >= e.policy.MaxPages
}

func (e *Engine) fileBudgetSpent(files int) bool {
	return e.policy.MaxFiles > 0 && files >= e.policy.MaxFiles
}

func (e *Engine) reportProgress(progress ProgressFunc, depth, pagesDone, files int) {
	pct := 0
	if e.policy.MaxPages > 0 {
		pct = pagesDone * 100 / e.policy.MaxPages
		if pct > 99 {
			pct = 99
		}
	}
	progress(pct, fmt.Sprintf(
		"crawling depth=%d pages=%d/%d files=%d",
		depth, pagesDone, e.policy.MaxPages, files,
	))
}

// appendNextLevel merges newly discovered entries onto the frontier,
// dropping anything already queued or visited.
func appendNextLevel(level, next []frontierEntry, visited map[string]struct{}) []frontierEntry {
	queued := make(map[string]struct{}, len(level))
	for _, en := range level {
		queued[en.url] = struct{}{}
	}
	for _, en := range next {
		if _, ok := queued[en.url]; ok {
			continue
		}
		if _, ok := visited[en.url]; ok {
			continue
		}
		queued[en.url] = struct{}{}
		level = append(level, en)
	}
	return level
}

// pause blocks for the politeness delay, waking early on cancellation.
func pause(ctx context.Context, delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

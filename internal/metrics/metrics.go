// Package metrics exposes Prometheus collectors for the crawl engine.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pagesFetchedTotal   *prometheus.CounterVec
	filesDiscoveredTotal prometheus.Counter
	probesIssuedTotal   prometheus.Counter
	probeCacheHitsTotal prometheus.Counter
	sitemapURLsTotal    prometheus.Counter
	runsTotal           *prometheus.CounterVec
	activeWorkers       prometheus.Gauge

	once sync.Once
)

// Init registers the collectors with the default registry. Safe to call
// multiple times.
func Init() {
	once.Do(func() {
		pagesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filescout_pages_fetched_total",
				Help: "Total pages fetched, labeled by outcome (ok, error, skipped).",
			},
			[]string{"outcome"},
		)

		filesDiscoveredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "filescout_files_discovered_total",
				Help: "Total unique files added to discovery result sets.",
			},
		)

		probesIssuedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "filescout_probes_issued_total",
				Help: "Total network probes issued for ambiguous download endpoints.",
			},
		)

		probeCacheHitsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "filescout_probe_cache_hits_total",
				Help: "Total probe lookups served from the per-run cache.",
			},
		)

		sitemapURLsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "filescout_sitemap_urls_total",
				Help: "Total candidate URLs contributed by sitemap expansion.",
			},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filescout_runs_total",
				Help: "Total crawl runs, labeled by terminal state.",
			},
			[]string{"state"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "filescout_active_workers",
				Help: "Workers currently fetching pages.",
			},
		)
	})
}

// PageFetched counts one page fetch with the given outcome.
func PageFetched(outcome string) {
	if pagesFetchedTotal != nil {
		pagesFetchedTotal.WithLabelValues(outcome).Inc()
	}
}

// FileDiscovered counts one unique discovered file.
func FileDiscovered() {
	if filesDiscoveredTotal != nil {
		filesDiscoveredTotal.Inc()
	}
}

// ProbeIssued counts one network probe.
func ProbeIssued() {
	if probesIssuedTotal != nil {
		probesIssuedTotal.Inc()
	}
}

// ProbeCacheHit counts one memoized probe lookup.
func ProbeCacheHit() {
	if probeCacheHitsTotal != nil {
		probeCacheHitsTotal.Inc()
	}
}

// SitemapURLs counts candidate URLs produced by sitemap expansion.
func SitemapURLs(n int) {
	if sitemapURLsTotal != nil && n > 0 {
		sitemapURLsTotal.Add(float64(n))
	}
}

// RunFinished counts a run reaching a terminal state.
func RunFinished(state string) {
	if runsTotal != nil {
		runsTotal.WithLabelValues(state).Inc()
	}
}

// WorkersActive adjusts the active worker gauge.
func WorkersActive(delta int) {
	if activeWorkers != nil {
		activeWorkers.Add(float64(delta))
	}
}

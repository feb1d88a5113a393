package crawler

import (
	"context"
	"net/http"
)

// Page is a fetched document ready for link extraction. FinalURL reflects any
// redirects followed during the fetch.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// ProbeResult describes what a network probe learned about an ambiguous URL.
type ProbeResult struct {
	FinalURL string
	Filename string
	Ext      string
}

// DiscoveredFile is one entry in the discovery result set. URL is the
// post-redirect canonical location and is unique within a run.
type DiscoveredFile struct {
	File   string
	Type   string
	URL    string
	Source string
	Select bool
}

// Record is the per-file shape handed to downstream consumers (export,
// bundling). Type carries the leading dot, or "unknown" when classification
// came up empty.
type Record struct {
	File   string `json:"File"`
	Type   string `json:"Type"`
	URL    string `json:"URL"`
	Source string `json:"Source"`
}

// StopFunc is the cooperative stop predicate. It is polled at batch
// boundaries and inside long link-resolution loops, never pushed.
type StopFunc func() bool

// ProgressFunc receives a completion percentage and a human-readable status
// line after each batch. It is a notification, not a control signal.
type ProgressFunc func(percent int, status string)

// Fetcher retrieves a page and validates it is a processable document.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// Prober resolves an ambiguous URL's true type via a lightweight network
// request. The second return is false when no extension could be determined.
type Prober interface {
	Probe(ctx context.Context, url string) (ProbeResult, bool)
}

// SitemapExpander resolves a seed into candidate URLs from its sitemaps.
type SitemapExpander interface {
	Expand(ctx context.Context, seed string, limit int) []string
}

// RobotsGate is the boolean robots-policy check consulted per seed.
type RobotsGate interface {
	Allowed(ctx context.Context, url string) bool
}

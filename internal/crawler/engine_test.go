package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
)

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]Page
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) (Page, error) {
	f.mu.Lock()
	f.calls = append(f.calls, rawURL)
	f.mu.Unlock()
	p, ok := f.pages[rawURL]
	if !ok {
		return Page{}, errors.New("no such page")
	}
	return p, nil
}

func (f *fakeFetcher) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func htmlPage(rawURL string, hrefs ...string) Page {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, h := range hrefs {
		fmt.Fprintf(&b, `<a href=%q>link</a>`, h)
	}
	b.WriteString("</body></html>")
	return Page{URL: rawURL, StatusCode: 200, Body: []byte(b.String())}
}

type fakeProber struct {
	mu      sync.Mutex
	calls   int
	results map[string]ProbeResult
}

func (p *fakeProber) Probe(_ context.Context, rawURL string) (ProbeResult, bool) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	res, ok := p.results[rawURL]
	return res, ok
}

func (p *fakeProber) probeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeSitemaps struct{ urls []string }

func (s fakeSitemaps) Expand(context.Context, string, int) []string { return s.urls }

type denyGate struct{}

func (denyGate) Allowed(context.Context, string) bool { return false }

func testPolicy() Policy {
	p := DefaultPolicy()
	p.Delay = 0
	p.UseSitemaps = false
	return p
}

func mustEngine(t *testing.T, policy Policy, fetcher Fetcher, prober Prober, sitemaps SitemapExpander, robots RobotsGate) *Engine {
	t.Helper()
	eng, err := NewEngine(policy, fetcher, prober, sitemaps, robots, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return eng
}

func TestRunDiscoversDirectFileLinks(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]Page{
		"https://x.test/":      htmlPage("https://x.test/", "/docs/report.pdf", "/about"),
		"https://x.test/about": htmlPage("https://x.test/about", "/docs/report.pdf"),
	}}
	policy := testPolicy()
	policy.MaxDepth = 1
	policy.MaxPages = 5
	policy.AllowedExts = []string{".pdf"}

	eng := mustEngine(t, policy, fetcher, nil, nil, nil)
	records := eng.Run(context.Background(), []string{"https://x.test/"}, nil, nil)

	if len(records) != 1 {
		t.Fatalf("records = %+v, want exactly one", records)
	}
	r := records[0]
	if r.File != "report.pdf" || r.Type != ".pdf" {
		t.Fatalf("record = %+v", r)
	}
	if r.URL != "https://x.test/docs/report.pdf" {
		t.Fatalf("record URL = %q", r.URL)
	}
	if r.Source != "https://x.test/" {
		t.Fatalf("record Source = %q, want the first page that linked it", r.Source)
	}
	if fetcher.fetchCount() != 2 {
		t.Fatalf("fetched %d pages, want 2", fetcher.fetchCount())
	}
}

func TestRunProbesAmbiguousEndpointOnce(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]Page{
		"https://x.test/a": htmlPage("https://x.test/a", "/download/42/"),
		"https://x.test/b": htmlPage("https://x.test/b", "/download/42/"),
	}}
	prober := &fakeProber{results: map[string]ProbeResult{
		"https://x.test/download/42/": {
			FinalURL: "https://x.test/files/budget.xlsx",
			Filename: "budget.xlsx",
			Ext:      ".xlsx",
		},
	}}
	policy := testPolicy()
	policy.MaxDepth = 0
	policy.MaxPages = 10

	eng := mustEngine(t, policy, fetcher, prober, nil, nil)
	records := eng.Run(context.Background(), []string{"https://x.test/a", "https://x.test/b"}, nil, nil)

	if prober.probeCount() != 1 {
		t.Fatalf("probe count = %d, want 1 for a repeated endpoint", prober.probeCount())
	}
	if len(records) != 1 {
		t.Fatalf("records = %+v, want one deduplicated file", records)
	}
	if records[0].URL != "https://x.test/files/budget.xlsx" {
		t.Fatalf("record URL = %q, want the post-redirect location", records[0].URL)
	}
}

func TestRunCachesProbeMisses(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]Page{
		"https://x.test/a": htmlPage("https://x.test/a", "/download/9/"),
		"https://x.test/b": htmlPage("https://x.test/b", "/download/9/"),
	}}
	prober := &fakeProber{}
	policy := testPolicy()
	policy.MaxDepth = 0
	policy.MaxPages = 10

	eng := mustEngine(t, policy, fetcher, prober, nil, nil)
	eng.Run(context.Background(), []string{"https://x.test/a", "https://x.test/b"}, nil, nil)

	if prober.probeCount() != 1 {
		t.Fatalf("probe count = %d, want misses memoized too", prober.probeCount())
	}
}

func TestRunSkipsProbeWithoutDownloadShape(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]Page{
		"https://x.test/": htmlPage("https://x.test/", "/news", "/contact"),
	}}
	prober := &fakeProber{}
	policy := testPolicy()
	policy.MaxDepth = 0
	policy.MaxPages = 1

	eng := mustEngine(t, policy, fetcher, prober, nil, nil)
	eng.Run(context.Background(), []string{"https://x.test/"}, nil, nil)

	if prober.probeCount() != 0 {
		t.Fatalf("probe count = %d, want 0 for plain page links", prober.probeCount())
	}
}

func TestRunHonorsPageBudget(t *testing.T) {
	pages := map[string]Page{"https://x.test/p0": htmlPage("https://x.test/p0", "/p1")}
	for i := 1; i < 10; i++ {
		u := fmt.Sprintf("https://x.test/p%d", i)
		pages[u] = htmlPage(u, fmt.Sprintf("/p%d", i+1))
	}
	fetcher := &fakeFetcher{pages: pages}
	policy := testPolicy()
	policy.MaxDepth = 20
	policy.MaxPages = 3

	eng := mustEngine(t, policy, fetcher, nil, nil, nil)
	eng.Run(context.Background(), []string{"https://x.test/p0"}, nil, nil)

	if fetcher.fetchCount() > 3 {
		t.Fatalf("fetched %d pages, budget is 3", fetcher.fetchCount())
	}
}

func TestRunHonorsFileBudget(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]Page{
		"https://x.test/": htmlPage("https://x.test/",
			"/a.pdf", "/b.pdf", "/c.pdf", "/d.pdf", "/e.pdf"),
	}}
	policy := testPolicy()
	policy.MaxPages = 5
	policy.MaxFiles = 2

	eng := mustEngine(t, policy, fetcher, nil, nil, nil)
	records := eng.Run(context.Background(), []string{"https://x.test/"}, nil, nil)

	if len(records) != 2 {
		t.Fatalf("records = %d, want the file budget of 2", len(records))
	}
}

func TestRunStaysOnSeedDomain(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]Page{
		"https://x.test/": htmlPage("https://x.test/",
			"https://other.test/page", "https://other.test/leak.pdf", "/local.pdf"),
		"https://other.test/page": htmlPage("https://other.test/page", "/far.pdf"),
	}}
	policy := testPolicy()
	policy.MaxDepth = 2
	policy.MaxPages = 10
	policy.SameDomainOnly = true

	eng := mustEngine(t, policy, fetcher, nil, nil, nil)
	records := eng.Run(context.Background(), []string{"https://x.test/"}, nil, nil)

	if fetcher.fetchCount() != 1 {
		t.Fatalf("fetched %d pages, the off-domain page must not be crawled", fetcher.fetchCount())
	}
	if len(records) != 1 || records[0].URL != "https://x.test/local.pdf" {
		t.Fatalf("records = %+v, want only the on-domain file", records)
	}
}

func TestRunAllowsCrossDomainWhenConfigured(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]Page{
		"https://x.test/": htmlPage("https://x.test/", "https://other.test/far.pdf"),
	}}
	policy := testPolicy()
	policy.MaxPages = 5
	policy.SameDomainOnly = false

	eng := mustEngine(t, policy, fetcher, nil, nil, nil)
	records := eng.Run(context.Background(), []string{"https://x.test/"}, nil, nil)

	if len(records) != 1 || records[0].URL != "https://other.test/far.pdf" {
		t.Fatalf("records = %+v, want the off-domain file recorded", records)
	}
}

func TestRunRespectsDepthLimit(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]Page{
		"https://x.test/":     htmlPage("https://x.test/", "/deep"),
		"https://x.test/deep": htmlPage("https://x.test/deep", "/deeper.pdf"),
	}}
	policy := testPolicy()
	policy.MaxDepth = 0
	policy.MaxPages = 10

	eng := mustEngine(t, policy, fetcher, nil, nil, nil)
	records := eng.Run(context.Background(), []string{"https://x.test/"}, nil, nil)

	if fetcher.fetchCount() != 1 {
		t.Fatalf("fetched %d pages, depth 0 allows only seeds", fetcher.fetchCount())
	}
	if len(records) != 0 {
		t.Fatalf("records = %+v, want none", records)
	}
}

func TestRunFiltersDisallowedExtensions(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]Page{
		"https://x.test/": htmlPage("https://x.test/", "/photo.jpg", "/report.pdf"),
	}}
	policy := testPolicy()
	policy.MaxDepth = 1
	policy.MaxPages = 10
	policy.AllowedExts = []string{".pdf"}

	eng := mustEngine(t, policy, fetcher, nil, nil, nil)
	records := eng.Run(context.Background(), []string{"https://x.test/"}, nil, nil)

	if len(records) != 1 || records[0].Type != ".pdf" {
		t.Fatalf("records = %+v, want only the pdf", records)
	}
}

func TestRunCrawlsThroughFilteredExtensionLinks(t *testing.T) {
	// A link with a disallowed extension is not recorded, but the resource
	// behind it may still be a page holding allowed files.
	fetcher := &fakeFetcher{pages: map[string]Page{
		"https://x.test/":         htmlPage("https://x.test/", "/list.xml"),
		"https://x.test/list.xml": htmlPage("https://x.test/list.xml", "/hidden.pdf"),
	}}
	policy := testPolicy()
	policy.MaxDepth = 1
	policy.MaxPages = 5
	policy.AllowedExts = []string{".pdf"}

	eng := mustEngine(t, policy, fetcher, nil, nil, nil)
	records := eng.Run(context.Background(), []string{"https://x.test/"}, nil, nil)

	if fetcher.fetchCount() != 2 {
		t.Fatalf("fetched %d pages, the filtered link must still be crawled", fetcher.fetchCount())
	}
	if len(records) != 1 || records[0].File != "hidden.pdf" {
		t.Fatalf("records = %+v, want the pdf behind the filtered link", records)
	}
}

func TestRunEnqueuesProbedFinalURLWhenFiltered(t *testing.T) {
	// When a probed endpoint resolves to a disallowed file type, crawling
	// continues at the post-redirect location, mirroring the recorded case.
	fetcher := &fakeFetcher{pages: map[string]Page{
		"https://x.test/":           htmlPage("https://x.test/", "/download/42/"),
		"https://x.test/archive.7z": htmlPage("https://x.test/archive.7z"),
	}}
	prober := &fakeProber{results: map[string]ProbeResult{
		"https://x.test/download/42/": {
			FinalURL: "https://x.test/archive.7z",
			Filename: "archive.7z",
			Ext:      ".7z",
		},
	}}
	policy := testPolicy()
	policy.MaxDepth = 1
	policy.MaxPages = 5
	policy.AllowedExts = []string{".pdf"}

	eng := mustEngine(t, policy, fetcher, prober, nil, nil)
	records := eng.Run(context.Background(), []string{"https://x.test/"}, nil, nil)

	if len(records) != 0 {
		t.Fatalf("records = %+v, want none", records)
	}
	found := false
	for _, u := range fetcher.calls {
		if u == "https://x.test/archive.7z" {
			found = true
		}
	}
	if !found {
		t.Fatalf("fetches = %v, want the probed final URL crawled", fetcher.calls)
	}
}

func TestRunStopPredicateHalts(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]Page{
		"https://x.test/":   htmlPage("https://x.test/", "/p1", "/p2", "/p3"),
		"https://x.test/p1": htmlPage("https://x.test/p1"),
		"https://x.test/p2": htmlPage("https://x.test/p2"),
		"https://x.test/p3": htmlPage("https://x.test/p3"),
	}}
	policy := testPolicy()
	policy.MaxDepth = 3
	policy.MaxPages = 10

	stop := func() bool { return fetcher.fetchCount() >= 1 }

	eng := mustEngine(t, policy, fetcher, nil, nil, nil)
	records := eng.Run(context.Background(), []string{"https://x.test/"}, stop, nil)

	if fetcher.fetchCount() != 1 {
		t.Fatalf("fetched %d pages after stop fired, want 1", fetcher.fetchCount())
	}
	if records == nil {
		t.Fatal("records must be non-nil even when halted early")
	}
}

func TestRunContextCancellation(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]Page{
		"https://x.test/": htmlPage("https://x.test/", "/report.pdf"),
	}}
	policy := testPolicy()
	policy.MaxPages = 10

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	eng := mustEngine(t, policy, fetcher, nil, nil, nil)
	records := eng.Run(ctx, []string{"https://x.test/"}, nil, nil)

	if fetcher.fetchCount() != 0 {
		t.Fatalf("fetched %d pages with a canceled context, want 0", fetcher.fetchCount())
	}
	if len(records) != 0 {
		t.Fatalf("records = %+v, want none", records)
	}
}

func TestRunToleratesFetchErrors(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]Page{
		"https://x.test/ok": htmlPage("https://x.test/ok", "/fine.pdf"),
	}}
	policy := testPolicy()
	policy.MaxPages = 10

	eng := mustEngine(t, policy, fetcher, nil, nil, nil)
	records := eng.Run(context.Background(),
		[]string{"https://x.test/broken", "https://x.test/ok"}, nil, nil)

	if len(records) != 1 || records[0].File != "fine.pdf" {
		t.Fatalf("records = %+v, a failing page must not abort the run", records)
	}
}

func TestRunSkipsInvalidSeeds(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]Page{}}
	policy := testPolicy()

	eng := mustEngine(t, policy, fetcher, nil, nil, nil)
	records := eng.Run(context.Background(),
		[]string{"not a url", "ftp://x.test/", ""}, nil, nil)

	if fetcher.fetchCount() != 0 {
		t.Fatalf("fetched %d pages from invalid seeds", fetcher.fetchCount())
	}
	if len(records) != 0 {
		t.Fatalf("records = %+v", records)
	}
}

func TestRunSeedsFromSitemaps(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]Page{
		"https://x.test/":      htmlPage("https://x.test/"),
		"https://x.test/docs/": htmlPage("https://x.test/docs/", "/docs/guide.pdf"),
	}}
	sitemaps := fakeSitemaps{urls: []string{
		"https://x.test/docs/",
		"https://other.test/away", // dropped by the same-domain filter
	}}
	policy := testPolicy()
	policy.UseSitemaps = true
	policy.MaxPages = 10

	eng := mustEngine(t, policy, fetcher, nil, sitemaps, nil)
	records := eng.Run(context.Background(), []string{"https://x.test/"}, nil, nil)

	if fetcher.fetchCount() != 2 {
		t.Fatalf("fetched %d pages, want seed plus sitemap entry", fetcher.fetchCount())
	}
	if len(records) != 1 || records[0].File != "guide.pdf" {
		t.Fatalf("records = %+v", records)
	}
}

func TestRunRobotsGateBlocksSeeds(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]Page{
		"https://x.test/": htmlPage("https://x.test/"),
	}}
	policy := testPolicy()

	eng := mustEngine(t, policy, fetcher, nil, nil, denyGate{})
	eng.Run(context.Background(), []string{"https://x.test/"}, nil, nil)

	if fetcher.fetchCount() != 0 {
		t.Fatalf("fetched %d pages past a denying robots gate", fetcher.fetchCount())
	}
}

func TestRunProgressIsMonotonicAndTerminal(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]Page{
		"https://x.test/":   htmlPage("https://x.test/", "/p1"),
		"https://x.test/p1": htmlPage("https://x.test/p1", "/p2"),
		"https://x.test/p2": htmlPage("https://x.test/p2"),
	}}
	policy := testPolicy()
	policy.MaxDepth = 5
	policy.MaxPages = 4

	var pcts []int
	progress := func(pct int, _ string) { pcts = append(pcts, pct) }

	eng := mustEngine(t, policy, fetcher, nil, nil, nil)
	eng.Run(context.Background(), []string{"https://x.test/"}, nil, progress)

	if len(pcts) == 0 {
		t.Fatal("no progress reported")
	}
	for i := 1; i < len(pcts); i++ {
		if pcts[i] < pcts[i-1] {
			t.Fatalf("progress went backwards: %v", pcts)
		}
	}
	for _, pct := range pcts[:len(pcts)-1] {
		if pct > 99 {
			t.Fatalf("intermediate progress %d exceeds 99: %v", pct, pcts)
		}
	}
	if final := pcts[len(pcts)-1]; final != 100 {
		t.Fatalf("final progress = %d, want 100", final)
	}
}

func TestRunNeverRevisitsPages(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]Page{
		"https://x.test/":  htmlPage("https://x.test/", "/a", "/b"),
		"https://x.test/a": htmlPage("https://x.test/a", "/b", "/"),
		"https://x.test/b": htmlPage("https://x.test/b", "/a", "/"),
	}}
	policy := testPolicy()
	policy.MaxDepth = 5
	policy.MaxPages = 20

	eng := mustEngine(t, policy, fetcher, nil, nil, nil)
	eng.Run(context.Background(), []string{"https://x.test/"}, nil, nil)

	seen := map[string]int{}
	for _, u := range fetcher.calls {
		seen[u]++
		if seen[u] > 1 {
			t.Fatalf("page %q fetched %d times", u, seen[u])
		}
	}
}

package crawler

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"
)

const (
	maxSitemapBody  = 8 << 20
	maxSitemapDepth = 5
)

// XMLSitemapExpander discovers sitemap locations for a seed (robots.txt
// directives plus the conventional root paths), resolves sitemap indexes
// recursively, and returns a bounded set of candidate URLs.
type XMLSitemapExpander struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger
}

// NewXMLSitemapExpander builds an expander sharing one HTTP client.
func NewXMLSitemapExpander(timeout time.Duration, userAgent string, logger *zap.Logger) *XMLSitemapExpander {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &XMLSitemapExpander{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		logger:    logger,
	}
}

// Expand implements SitemapExpander. Failures of any single sitemap source
// contribute nothing without aborting the others.
func (x *XMLSitemapExpander) Expand(ctx context.Context, seed string, limit int) []string {
	root := DomainRoot(seed)
	if root == "" || limit <= 0 {
		return nil
	}

	var out []string
	seen := make(map[string]struct{})
	for _, sm := range x.discover(ctx, root) {
		out = append(out, x.fetchURLs(ctx, sm, limit-len(out), seen, 0)...)
		if len(out) >= limit {
			break
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// discover unions robots.txt sitemap directives with the two conventional
// default locations at the root.
func (x *XMLSitemapExpander) discover(ctx context.Context, root string) []string {
	seen := make(map[string]struct{})
	var sitemaps []string
	add := func(u string) {
		if u == "" {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		sitemaps = append(sitemaps, u)
	}

	if body, ok := x.get(ctx, root+"/robots.txt"); ok {
		for _, line := range strings.Split(body, "\n") {
			if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "sitemap:") {
				continue
			}
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				add(strings.TrimSpace(parts[1]))
			}
		}
	}

	add(root + "/sitemap.xml")
	add(root + "/sitemap_index.xml")
	return sitemaps
}

// fetchURLs resolves one sitemap into leaf URLs. When two or more entries
// are themselves .xml locations the sitemap is treated as an index and each
// child is expanded until the budget runs out. Every sitemap URL is fetched
// at most once per expansion and recursion is depth-capped, so indexes that
// reference each other (or themselves) terminate.
func (x *XMLSitemapExpander) fetchURLs(ctx context.Context, sitemapURL string, budget int, seen map[string]struct{}, depth int) []string {
	if budget <= 0 || depth > maxSitemapDepth {
		return nil
	}
	if _, ok := seen[sitemapURL]; ok {
		return nil
	}
	seen[sitemapURL] = struct{}{}
	body, ok := x.get(ctx, sitemapURL)
	if !ok || body == "" {
		return nil
	}
	candidates := parseSitemapLocs(body)

	var children []string
	for _, c := range candidates {
		if strings.HasSuffix(strings.ToLower(c), ".xml") {
			children = append(children, c)
		}
	}
	if len(children) >= 2 {
		var out []string
		for _, child := range children {
			out = append(out, x.fetchURLs(ctx, child, budget-len(out), seen, depth+1)...)
			if len(out) >= budget {
				break
			}
		}
		if len(out) > budget {
			out = out[:budget]
		}
		return out
	}

	if len(candidates) > budget {
		candidates = candidates[:budget]
	}
	return candidates
}

func (x *XMLSitemapExpander) get(ctx context.Context, rawURL string) (string, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", false
	}
	req.Header.Set("User-Agent", x.userAgent)
	resp, err := x.client.Do(req)
	if err != nil {
		x.logger.Debug("sitemap fetch failed", zap.String("url", rawURL), zap.Error(err))
		return "", false
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= 400 {
		return "", false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSitemapBody))
	if err != nil {
		return "", false
	}
	return string(body), true
}

// parseSitemapLocs collects every <loc> text value, ignoring namespace
// prefixes. Malformed XML yields nil.
func parseSitemapLocs(xmlText string) []string {
	doc, err := xmlquery.Parse(strings.NewReader(strings.TrimSpace(xmlText)))
	if err != nil {
		return nil
	}
	var urls []string
	for _, node := range xmlquery.Find(doc, "//*[local-name()='loc']") {
		if text := strings.TrimSpace(node.InnerText()); text != "" {
			urls = append(urls, text)
		}
	}
	return urls
}

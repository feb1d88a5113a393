package crawler

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// LinkExtractor pulls outbound navigation targets from a fetched page:
// anchor hrefs plus a best-effort scan of inline event handlers and raw
// script text for client-side navigation assignments. The JS scan is
// heuristic and lossy on purpose; it is not a script interpreter.
type LinkExtractor struct {
	jsPatterns []*regexp.Regexp
}

// NewLinkExtractor compiles the configured JS navigation patterns. Patterns
// that fail to compile are dropped.
func NewLinkExtractor(patterns []string) *LinkExtractor {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(`(?i)` + p)
		if err != nil {
			continue
		}
		compiled = append(compiled, re)
	}
	return &LinkExtractor{jsPatterns: compiled}
}

// Extract resolves every discovered target against the page's own URL and
// filters through IsValidURL. Fragment, mailto, and javascript pseudo-links
// are discarded silently. Order follows first appearance; duplicates are
// collapsed.
func (e *LinkExtractor) Extract(pageURL string, body []byte) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var links []string
	add := func(raw string) {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") ||
			strings.HasPrefix(raw, "mailto:") || strings.HasPrefix(raw, "javascript:") {
			return
		}
		ref, err := url.Parse(raw)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref).String()
		if !IsValidURL(resolved) {
			return
		}
		if _, ok := seen[resolved]; ok {
			return
		}
		seen[resolved] = struct{}{}
		links = append(links, resolved)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err == nil {
		doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
			if href, ok := s.Attr("href"); ok {
				add(href)
			}
		})
		doc.Find("[onclick]").Each(func(_ int, s *goquery.Selection) {
			if onclick, ok := s.Attr("onclick"); ok {
				for _, m := range e.jsMatches(onclick) {
					add(m)
				}
			}
		})
	}

	// Raw markup scan catches navigation targets buried in script blocks.
	for _, m := range e.jsMatches(string(body)) {
		add(m)
	}

	return links
}

func (e *LinkExtractor) jsMatches(s string) []string {
	var out []string
	for _, re := range e.jsPatterns {
		for _, m := range re.FindAllStringSubmatch(s, -1) {
			if len(m) > 1 && m[1] != "" {
				out = append(out, m[1])
			}
		}
	}
	return out
}

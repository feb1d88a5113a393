package crawler

import (
	"fmt"
	"strings"
	"time"
)

// Policy captures every knob that influences one crawl run. It is immutable
// for the run's duration; construct via DefaultPolicy and adjust before
// handing it to NewEngine.
type Policy struct {
	Delay          time.Duration
	Timeout        time.Duration
	MaxDepth       int
	MaxPages       int
	MaxFiles       int
	Workers        int
	SameDomainOnly bool
	DeepDetect     bool
	UseSitemaps    bool
	RespectRobots  bool
	MaxSitemapURLs int
	UserAgent      string

	// AllowedExts filters discovered files. Empty means accept any
	// classified file.
	AllowedExts []string

	// DownloadParams and ListingParams configure the download-endpoint
	// heuristic. Download markers are checked first; a listing param marks a
	// page that enumerates files and is not an endpoint on its own.
	DownloadParams []string
	ListingParams  []string

	// JSNavPatterns are regexes applied to onclick attributes and raw markup
	// to pick up client-side navigation targets. Heuristic and lossy.
	JSNavPatterns []string
}

// DefaultPolicy returns the policy used when configuration supplies nothing.
func DefaultPolicy() Policy {
	return Policy{
		Delay:          time.Second,
		Timeout:        20 * time.Second,
		MaxDepth:       2,
		MaxPages:       60,
		MaxFiles:       500,
		Workers:        8,
		SameDomainOnly: true,
		DeepDetect:     true,
		UseSitemaps:    true,
		RespectRobots:  true,
		MaxSitemapURLs: 50,
		UserAgent:      "filescout/1.0 (+https://github.com/pcrawford/filescout)",
		DownloadParams: []string{"download", "dlm_download", "attachment_id", "file"},
		ListingParams:  []string{"dlm_download_category"},
		JSNavPatterns: []string{
			`window\.location\s*=\s*['"]([^'"]+)['"]`,
			`location\.href\s*=\s*['"]([^'"]+)['"]`,
			`document\.location\s*=\s*['"]([^'"]+)['"]`,
		},
	}
}

// Validate rejects configurations the engine cannot run with. A violation
// here is a programmer/config error and is fatal at setup, never mid-run.
func (p Policy) Validate() error {
	if p.Delay < 0 {
		return fmt.Errorf("crawler.delay must be >= 0")
	}
	if p.Timeout <= 0 {
		return fmt.Errorf("crawler.timeout must be > 0")
	}
	if p.MaxDepth < 0 {
		return fmt.Errorf("crawler.max_depth must be >= 0")
	}
	if p.MaxPages < 0 {
		return fmt.Errorf("crawler.max_pages must be >= 0")
	}
	if p.MaxFiles < 0 {
		return fmt.Errorf("crawler.max_files must be >= 0")
	}
	if p.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if p.MaxSitemapURLs < 0 {
		return fmt.Errorf("crawler.max_sitemap_urls must be >= 0")
	}
	if p.UserAgent == "" {
		return fmt.Errorf("crawler.user_agent must be set")
	}
	return nil
}

// allowedSet lowercases the allowed-extension filter for membership checks.
func (p Policy) allowedSet() map[string]struct{} {
	if len(p.AllowedExts) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(p.AllowedExts))
	for _, e := range p.AllowedExts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		set[e] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

package api

import (
	"time"

	"github.com/pcrawford/filescout/internal/crawler"
)

// submitRunRequest carries the per-run knobs a client may override. Absent
// fields fall back to the server's base policy.
type submitRunRequest struct {
	Seeds          []string `json:"seeds"`
	AllowedExts    []string `json:"allowed_exts"`
	MaxDepth       *int     `json:"max_depth"`
	MaxPages       *int     `json:"max_pages"`
	MaxFiles       *int     `json:"max_files"`
	Workers        *int     `json:"workers"`
	SameDomainOnly *bool    `json:"same_domain_only"`
	DeepDetect     *bool    `json:"deep_detect"`
	UseSitemaps    *bool    `json:"use_sitemaps"`
}

// applyTo overlays the request's overrides on the base policy.
func (r submitRunRequest) applyTo(base crawler.Policy) crawler.Policy {
	p := base
	if len(r.AllowedExts) > 0 {
		p.AllowedExts = r.AllowedExts
	}
	if r.MaxDepth != nil {
		p.MaxDepth = *r.MaxDepth
	}
	if r.MaxPages != nil {
		p.MaxPages = *r.MaxPages
	}
	if r.MaxFiles != nil {
		p.MaxFiles = *r.MaxFiles
	}
	if r.Workers != nil {
		p.Workers = *r.Workers
	}
	if r.SameDomainOnly != nil {
		p.SameDomainOnly = *r.SameDomainOnly
	}
	if r.DeepDetect != nil {
		p.DeepDetect = *r.DeepDetect
	}
	if r.UseSitemaps != nil {
		p.UseSitemaps = *r.UseSitemaps
	}
	return p
}

type statusResponse struct {
	RunID     string     `json:"run_id"`
	State     string     `json:"state"`
	Percent   int        `json:"percent"`
	Status    string     `json:"status"`
	Submitted time.Time  `json:"submitted_at"`
	Finished  *time.Time `json:"finished_at,omitempty"`
	Files     int        `json:"files"`
}

type resultResponse struct {
	RunID   string           `json:"run_id"`
	State   string           `json:"state"`
	Records []crawler.Record `json:"records"`
}

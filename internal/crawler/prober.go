package crawler

import (
	"context"
	"mime"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// contentTypeExts maps response content types to catalog extensions. An
// octet-stream tells us nothing and is deliberately absent.
var contentTypeExts = map[string]string{
	"application/pdf": ".pdf",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":   ".xlsx",
	"application/vnd.ms-excel":                                            ".xls",
	"text/csv":                                                            ".csv",
	"application/zip":                                                     ".zip",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   ".docx",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": ".pptx",
}

var (
	dispExtendedRe = regexp.MustCompile(`(?i)filename\*\s*=\s*([^']*)''([^;]+)`)
	dispQuotedRe   = regexp.MustCompile(`(?i)filename\s*=\s*"([^"]+)"`)
	dispBareRe     = regexp.MustCompile(`(?i)filename\s*=\s*([^;]+)`)
)

// ParseDispositionFilename extracts a filename from a Content-Disposition
// header, supporting both the plain filename= form and the extended
// filename*=charset''value form (percent-decoded). Returns "" when absent.
func ParseDispositionFilename(cd string) string {
	if cd == "" {
		return ""
	}
	if _, params, err := mime.ParseMediaType(cd); err == nil {
		if name := strings.TrimSpace(params["filename"]); name != "" {
			return name
		}
	}
	// Regex fallbacks for the malformed headers real servers emit.
	if m := dispExtendedRe.FindStringSubmatch(cd); m != nil {
		if decoded, err := url.QueryUnescape(m[2]); err == nil {
			return strings.Trim(strings.TrimSpace(decoded), `"'`)
		}
	}
	if m := dispQuotedRe.FindStringSubmatch(cd); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := dispBareRe.FindStringSubmatch(cd); m != nil {
		return strings.Trim(strings.TrimSpace(m[1]), `"'`)
	}
	return ""
}

// HTTPProber resolves ambiguous download endpoints with a HEAD request,
// falling back to a streamed GET for servers that reject HEAD. It performs
// no caching; the engine coordinator memoizes outcomes per run.
type HTTPProber struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger
}

// NewHTTPProber builds a prober sharing one redirect-following client.
func NewHTTPProber(timeout time.Duration, userAgent string, logger *zap.Logger) *HTTPProber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPProber{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		logger:    logger,
	}
}

// Probe implements Prober. The reported FinalURL is the post-redirect
// location; ok is false when neither request produced a usable extension.
func (p *HTTPProber) Probe(ctx context.Context, rawURL string) (ProbeResult, bool) {
	if res, ok := p.request(ctx, http.MethodHead, rawURL); ok {
		return res, true
	}
	return p.request(ctx, http.MethodGet, rawURL)
}

func (p *HTTPProber) request(ctx context.Context, method, rawURL string) (ProbeResult, bool) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return ProbeResult{}, false
	}
	req.Header.Set("User-Agent", p.userAgent)
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("probe request failed",
			zap.String("method", method),
			zap.String("url", rawURL),
			zap.Error(err),
		)
		return ProbeResult{}, false
	}
	// The GET body is never read; closing immediately keeps the probe cheap.
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= 400 {
		return ProbeResult{}, false
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	filename, ext := extFromHeaders(finalURL, resp.Header)
	if ext == "" {
		return ProbeResult{}, false
	}
	if filename == "" {
		filename = basenameOf(finalURL)
	}
	if filename == "" {
		filename = finalURL
	}
	return ProbeResult{FinalURL: finalURL, Filename: filename, Ext: ext}, true
}

// extFromHeaders resolves (filename, ext) from the final response: the
// Content-Disposition filename wins when its extension is in the catalog,
// then the content-type table, then the final URL's path.
func extFromHeaders(finalURL string, headers http.Header) (string, string) {
	filename := ParseDispositionFilename(headers.Get("Content-Disposition"))
	if filename != "" {
		ext := strings.ToLower(path.Ext(filename))
		if inCatalog(ext) {
			return filename, ext
		}
	}

	ct := strings.ToLower(headers.Get("Content-Type"))
	for k, v := range contentTypeExts {
		if strings.Contains(ct, k) {
			return filename, v
		}
	}

	return filename, NormalizeExt(finalURL)
}

func inCatalog(ext string) bool {
	for _, e := range DefaultFileExts {
		if e == ext {
			return true
		}
	}
	return false
}

func basenameOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "/" || base == "." {
		return ""
	}
	return base
}

// Package bundle packages resolved file URLs into a single downloadable
// archive. It consumes the crawler's output and never feeds back into it.
package bundle

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pcrawford/filescout/internal/crawler"
)

// Options controls the archive packager.
type Options struct {
	Timeout   time.Duration
	Delay     time.Duration
	UserAgent string
}

// Packager fetches each URL and streams the bodies into a zip archive.
type Packager struct {
	client *http.Client
	opts   Options
	logger *zap.Logger
}

// New builds a Packager sharing one HTTP client.
func New(opts Options, logger *zap.Logger) *Packager {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Packager{
		client: &http.Client{Timeout: opts.Timeout},
		opts:   opts,
		logger: logger,
	}
}

// Download fetches every URL and writes a zip stream to w. Individual
// download failures are skipped; the stop predicate halts between files.
// Archive entry names come from Content-Disposition, then the URL basename,
// deduplicated with a numeric suffix.
func (p *Packager) Download(
	ctx context.Context,
	urls []string,
	stop crawler.StopFunc,
	progress crawler.ProgressFunc,
	w io.Writer,
) error {
	if stop == nil {
		stop = func() bool { return false }
	}
	if progress == nil {
		progress = func(int, string) {}
	}

	zw := zip.NewWriter(w)
	names := make(map[string]int)
	total := len(urls)

	for i, u := range urls {
		if stop() || ctx.Err() != nil {
			break
		}
		progress((i+1)*100/maxInt(1, total), fmt.Sprintf("downloading %d/%d", i+1, total))

		if err := p.addFile(ctx, zw, u, names); err != nil {
			p.logger.Warn("bundle download skipped", zap.String("url", u), zap.Error(err))
			continue
		}

		if p.opts.Delay > 0 && i < total-1 {
			timer := time.NewTimer(p.opts.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	return nil
}

func (p *Packager) addFile(ctx context.Context, zw *zip.Writer, rawURL string, names map[string]int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if p.opts.UserAgent != "" {
		req.Header.Set("User-Agent", p.opts.UserAgent)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= 400 {
		return fmt.Errorf("fetch: status %d", resp.StatusCode)
	}

	name := entryName(rawURL, resp.Header, names)
	entry, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create entry: %w", err)
	}
	if _, err := io.Copy(entry, resp.Body); err != nil {
		return fmt.Errorf("copy body: %w", err)
	}
	return nil
}

// entryName picks a stable archive name for a download and suffixes
// collisions.
func entryName(rawURL string, headers http.Header, names map[string]int) string {
	name := crawler.ParseDispositionFilename(headers.Get("Content-Disposition"))
	if name == "" {
		if u, err := url.Parse(rawURL); err == nil {
			name = path.Base(u.Path)
		}
	}
	if name == "" || name == "/" || name == "." {
		name = fmt.Sprintf("file_%d", time.Now().Unix())
	}

	if n, taken := names[name]; taken {
		names[name] = n + 1
		ext := path.Ext(name)
		name = fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ext), n, ext)
	} else {
		names[name] = 1
	}
	return name
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

package crawler

import (
	"net/url"
	"strings"
)

// DefaultFileExts is the fixed catalog of extensions the classifier and the
// prober recognize, checked in order.
var DefaultFileExts = []string{
	".pdf", ".doc", ".docx", ".ppt", ".pptx", ".xls", ".xlsx", ".csv", ".txt", ".rtf",
	".jpg", ".jpeg", ".png", ".gif", ".webp",
	".mp4", ".mp3", ".wav", ".avi",
	".json", ".xml", ".zip", ".rar", ".7z",
}

// IsValidURL reports whether s parses as an absolute http(s) URL with a host.
func IsValidURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// NormalizeExt returns the catalog extension the URL's path ends with,
// case-insensitively, or "" when none matches. Query and fragment are
// ignored.
func NormalizeExt(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	path := strings.ToLower(u.Path)
	for _, ext := range DefaultFileExts {
		if strings.HasSuffix(path, ext) {
			return ext
		}
	}
	return ""
}

// LooksLikeDownloadEndpoint reports whether the URL's shape suggests it
// serves a single file despite lacking an extension. The download markers
// (path segment, then query parameters) are checked first; a listing
// parameter (e.g. a download-category selector) marks a page enumerating
// several files and is explicitly not an endpoint on its own.
func LooksLikeDownloadEndpoint(rawURL string, downloadParams, listingParams []string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if strings.Contains(strings.ToLower(u.Path), "/download/") {
		return true
	}
	qs := u.Query()
	for _, p := range downloadParams {
		if qs.Has(p) {
			return true
		}
	}
	for _, p := range listingParams {
		if qs.Has(p) {
			return false
		}
	}
	return false
}

// SameDomain reports whether two URLs share the exact same host component.
// Subdomains count as different domains.
func SameDomain(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return ua.Host != "" && strings.EqualFold(ua.Host, ub.Host)
}

// Host returns the lowercase host component of a URL, or "".
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

// DomainRoot returns scheme://host for a URL, or "" when unparsable.
func DomainRoot(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// GuessFilename derives a display filename from a URL path, falling back to
// "download" for bare roots. Long names are trimmed from the left so the
// extension survives.
func GuessFilename(rawURL string) string {
	s := rawURL
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimRight(s, "/")
	name := s
	if i := strings.LastIndex(s, "/"); i >= 0 {
		name = s[i+1:]
	}
	if name == "" {
		name = "download"
	}
	if len(name) > 120 {
		name = name[len(name)-120:]
	}
	return name
}

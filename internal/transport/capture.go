// Package transport decorates the outbound HTTP transport with response
// header capture for media segment fetches. The wrapper is purely an
// observer: it never alters, delays, or suppresses the underlying request's
// outcome.
package transport

import (
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/vidinfra/metaview/internal/metadata"
)

// segmentSuffixes are the media segment extensions whose responses get their
// headers captured. Everything else bypasses capture entirely.
var segmentSuffixes = []string{".ts", ".m4s"}

// CapturingTransport wraps a base http.RoundTripper and routes the response
// headers of successful segment fetches into the metadata log.
type CapturingTransport struct {
	base    http.RoundTripper
	log     *metadata.Log
	tracker *metadata.CacheTracker
}

// NewCapturing creates a capturing transport around base. The tracker is
// optional; when set it receives cache headers for every captured response.
func NewCapturing(base http.RoundTripper, log *metadata.Log, tracker *metadata.CacheTracker) *CapturingTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &CapturingTransport{
		base:    base,
		log:     log,
		tracker: tracker,
	}
}

// RoundTrip implements http.RoundTripper. The response is returned exactly as
// produced by the base transport; header capture happens on the side, and
// errors pass through unmodified.
func (t *CapturingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp == nil {
		return resp, err
	}

	if !IsSegmentURL(req.URL) {
		return resp, nil
	}

	headers := make(map[string]string, len(resp.Header))
	for k, v := range resp.Header {
		headers[k] = strings.Join(v, ", ")
	}

	t.log.Record(FormatHeaders("Headers for", req.URL.String(), headers))
	if t.tracker != nil {
		t.tracker.Observe(resp.Header)
	}

	return resp, nil
}

var _ http.RoundTripper = (*CapturingTransport)(nil)

// CaptureRaw records a raw header block captured off the wire by an external
// player for the given resource URL. Non-segment URLs are ignored.
func (t *CapturingTransport) CaptureRaw(rawURL, rawHeaders string) {
	u, err := url.Parse(rawURL)
	if err != nil || !IsSegmentURL(u) {
		return
	}

	headers := ParseHeaderBlock(rawHeaders)
	if len(headers) == 0 {
		return
	}

	t.log.Record(FormatHeaders("Headers for", rawURL, headers))
	if t.tracker != nil {
		hdr := make(http.Header, len(headers))
		for k, v := range headers {
			hdr.Set(k, v)
		}
		t.tracker.Observe(hdr)
	}
}

// IsSegmentURL reports whether the URL path names a media segment.
func IsSegmentURL(u *url.URL) bool {
	if u == nil {
		return false
	}
	p := strings.ToLower(u.Path)
	for _, suffix := range segmentSuffixes {
		if strings.HasSuffix(p, suffix) {
			return true
		}
	}
	return false
}

// ParseHeaderBlock parses a newline-delimited block of "Key: Value" pairs
// into a map. Lines are split on the first colon only, so values containing
// colons survive intact. Both \r\n and \n delimiters are accepted; blank and
// malformed lines are skipped.
func ParseHeaderBlock(raw string) map[string]string {
	headers := make(map[string]string)

	for _, line := range strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(key) == "" {
			continue
		}
		headers[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	return headers
}

// FormatHeaders renders a header map as one metadata entry body, labeled with
// the resource filename. Keys are sorted for stable output.
func FormatHeaders(label, rawURL string, headers map[string]string) string {
	var b strings.Builder
	b.WriteString(label)
	b.WriteString(" ")
	b.WriteString(Filename(rawURL))
	b.WriteString(":")

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		b.WriteString("\n")
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(headers[k])
	}

	return b.String()
}

// Filename returns the last path segment of a URL, query stripped.
func Filename(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	// Not a parseable URL; fall back to raw string handling.
	if idx := strings.Index(rawURL, "?"); idx >= 0 {
		rawURL = rawURL[:idx]
	}
	if idx := strings.LastIndex(rawURL, "/"); idx >= 0 {
		return rawURL[idx+1:]
	}
	return rawURL
}

// Package manifest fetches HLS manifests and scans them for diagnostic
// metadata: response headers, SCTE-35 ad markers, generic playlist tags, and
// resolution variants. Everything here is best-effort; failures degrade to a
// metadata log entry and never affect playback.
package manifest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/vidinfra/metaview/internal/metadata"
	"github.com/vidinfra/metaview/internal/transport"
)

// DefaultMaxManifestBytes caps the size of a fetched manifest.
const DefaultMaxManifestBytes = 256 * 1024

// scteMarkers are the substrings that classify a line as an SCTE/ad marker.
// Checked before the generic #EXT rule: a marker line never lands in the
// generic bucket even when it is #EXT-prefixed.
var scteMarkers = []string{"SCTE", "CUE-OUT", "CUE-IN", "DATERANGE", "MARKER"}

// LineClass is the classification of one manifest line.
type LineClass int

const (
	// LineIgnored lines are discarded.
	LineIgnored LineClass = iota
	// LineSCTE lines carry ad insertion cues.
	LineSCTE
	// LineMetadata lines are generic playlist tags worth surfacing.
	LineMetadata
)

// ClassifyLine classifies a single manifest line. First match wins: SCTE
// markers take priority, then #EXT tags except the per-segment noise of
// #EXTINF and #EXT-X-BYTERANGE.
func ClassifyLine(line string) LineClass {
	for _, marker := range scteMarkers {
		if strings.Contains(line, marker) {
			return LineSCTE
		}
	}

	if strings.HasPrefix(line, "#EXT") &&
		!strings.HasPrefix(line, "#EXTINF") &&
		!strings.HasPrefix(line, "#EXT-X-BYTERANGE") {
		return LineMetadata
	}

	return LineIgnored
}

// Parser fetches manifests and feeds scan results into the metadata log.
type Parser struct {
	client   *http.Client
	log      *metadata.Log
	logger   *slog.Logger
	maxBytes int
}

// Option configures a Parser.
type Option func(*Parser)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Parser) { p.logger = logger }
}

// WithMaxManifestBytes caps fetched manifest sizes.
func WithMaxManifestBytes(n int) Option {
	return func(p *Parser) { p.maxBytes = n }
}

// NewParser creates a manifest parser. The client is typically the resilient
// client's StandardClient wrapped in the capturing transport.
func NewParser(client *http.Client, log *metadata.Log, opts ...Option) *Parser {
	p := &Parser{
		client:   client,
		log:      log,
		logger:   slog.Default(),
		maxBytes: DefaultMaxManifestBytes,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		p.client = http.DefaultClient
	}
	return p
}

// FetchAndParse retrieves the manifest at url, records its response headers,
// and scans the body for SCTE markers and generic metadata tags. All findings
// and all failures are recorded in the metadata log; nothing is returned
// because this path must never be able to halt playback.
func (p *Parser) FetchAndParse(ctx context.Context, url string) {
	body, header, err := p.fetch(ctx, url)
	if ctx.Err() != nil {
		// The session was torn down while the fetch was in flight; stale
		// continuations stay out of the log.
		return
	}
	if err != nil {
		p.logger.Debug("manifest fetch failed",
			slog.String("url", url),
			slog.String("error", err.Error()),
		)
		p.log.RecordError(fmt.Sprintf("Error fetching manifest %s: %s", url, err))
		return
	}

	headers := make(map[string]string, len(header))
	for k, v := range header {
		headers[k] = strings.Join(v, ", ")
	}
	p.log.Record(transport.FormatHeaders("Manifest headers for", url, headers))

	scteLines, metadataLines := scan(body)
	filename := transport.Filename(url)

	if len(scteLines) > 0 {
		p.log.RecordHighlighted(fmt.Sprintf("SCTE markers in %s:\n%s",
			filename, strings.Join(scteLines, "\n")))
	}

	if len(metadataLines) > 0 {
		p.log.Record(fmt.Sprintf("Metadata in %s:\n%s",
			filename, strings.Join(metadataLines, "\n")))
	}
}

// scan buckets manifest lines by classification.
func scan(body string) (scteLines, metadataLines []string) {
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		switch ClassifyLine(line) {
		case LineSCTE:
			scteLines = append(scteLines, line)
		case LineMetadata:
			metadataLines = append(metadataLines, line)
		}
	}
	return scteLines, metadataLines
}

// fetch retrieves the manifest body and response headers.
func (p *Parser) fetch(ctx context.Context, url string) (string, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(p.maxBytes)))
	if err != nil {
		return "", nil, fmt.Errorf("reading body: %w", err)
	}

	return string(data), resp.Header, nil
}

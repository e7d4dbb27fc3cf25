// Package export assembles a downloadable diagnostic snapshot from a playback
// session: the metadata timeline, cache metrics, resolution list, stream info
// and an optional screenshot, serialized as pretty-printed JSON plus a PNG
// file on disk.
package export

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vidinfra/metaview/internal/metadata"
	"github.com/vidinfra/metaview/internal/observability"
	"github.com/vidinfra/metaview/internal/session"
	"github.com/vidinfra/metaview/internal/version"
)

// ResolutionEntry is one variant row in the export document.
type ResolutionEntry struct {
	Resolution string `json:"resolution"`
	Bandwidth  int    `json:"bandwidth"`
	Text       string `json:"text"`
}

// StreamInfo is the playback summary embedded in the export document.
// Position and Duration are in seconds; Duration is the wall time the
// session has been playing.
type StreamInfo struct {
	State          string  `json:"state"`
	ReadyState     string  `json:"readyState"`
	Buffering      bool    `json:"buffering"`
	Position       float64 `json:"position"`
	Duration       float64 `json:"duration"`
	SegmentsLoaded int     `json:"segmentsLoaded"`
	CurrentLevel   int     `json:"currentLevel"`
	UserAgent      string  `json:"userAgent"`
	CaptureTime    string  `json:"captureTime"`
}

// Screenshot is the optional embedded capture. ImageData is a base64 PNG
// data URI.
type Screenshot struct {
	Filename    string `json:"filename"`
	CaptureTime string `json:"captureTime"`
	ImageData   string `json:"imageData"`
}

// Snapshot is the full export document.
type Snapshot struct {
	Timestamp    string                 `json:"timestamp"`
	URL          string                 `json:"url"`
	Metadata     []string               `json:"metadata"`
	CacheMetrics *metadata.CacheMetrics `json:"cacheMetrics,omitempty"`
	CacheTTL     *metadata.TTLInfo      `json:"cacheTTL,omitempty"`
	Resolutions  []ResolutionEntry      `json:"resolutions"`
	StreamInfo   StreamInfo             `json:"streamInfo"`
	Screenshot   *Screenshot            `json:"screenshot,omitempty"`
}

// ToFile serializes a snapshot as pretty-printed JSON with stable key order.
func ToFile(snap *Snapshot) ([]byte, error) {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling snapshot: %w", err)
	}
	return append(data, '\n'), nil
}

// FileTimestamp renders t the way export filenames need it: RFC 3339 with
// colons replaced by dashes so the name is filesystem-safe.
func FileTimestamp(t time.Time) string {
	return strings.ReplaceAll(t.UTC().Format(time.RFC3339), ":", "-")
}

// ScreenshotFilename returns the on-disk name for a capture taken at t.
func ScreenshotFilename(t time.Time) string {
	return "metaview_screenshot_" + FileTimestamp(t) + ".png"
}

// ExportFilename returns the on-disk name for a JSON export taken at t.
func ExportFilename(t time.Time) string {
	return "hls-metaview-export-" + FileTimestamp(t) + ".json"
}

// Assembler builds snapshots for sessions. The capturer is optional; without
// one, snapshots simply carry no screenshot.
type Assembler struct {
	capturer Capturer
	dir      string
	logger   *slog.Logger
	now      func() time.Time
}

// NewAssembler creates an assembler writing files into dir.
func NewAssembler(capturer Capturer, dir string, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		capturer: capturer,
		dir:      dir,
		logger:   logger,
		now:      time.Now,
	}
}

// Assemble freezes the session's diagnostic state into a snapshot. The
// screenshot step runs first and is awaited; its failure degrades to a
// snapshot without an image and never fails the export.
func (a *Assembler) Assemble(ctx context.Context, sess *session.Session) *Snapshot {
	defer observability.TimedOperation(ctx, a.logger, "assemble snapshot")()

	captureTime := a.now()

	var shot *Screenshot
	if a.capturer != nil {
		pngData, err := a.capturer.Capture(ctx)
		if err != nil {
			observability.WithError(a.logger, err).Warn("screen capture failed, exporting without image",
				slog.String("session_id", sess.ID),
			)
			sess.Log().RecordError("Screen capture failed: " + err.Error())
		} else {
			shot = &Screenshot{
				Filename:    ScreenshotFilename(captureTime),
				CaptureTime: captureTime.UTC().Format(time.RFC3339),
				ImageData:   DataURI(pngData),
			}
		}
	}

	info := sess.Info()
	snap := &Snapshot{
		Timestamp:   captureTime.UTC().Format(time.RFC3339),
		URL:         sess.URL,
		Metadata:    sess.Log().Rendered(),
		Resolutions: resolutionEntries(sess.Resolutions()),
		StreamInfo: StreamInfo{
			State:          info.State,
			ReadyState:     info.ReadyState,
			Buffering:      info.Buffering,
			Position:       info.Position.Seconds(),
			Duration:       info.Duration.Seconds(),
			SegmentsLoaded: info.SegmentsLoaded,
			CurrentLevel:   info.CurrentLevel,
			UserAgent:      version.UserAgent(),
			CaptureTime:    captureTime.UTC().Format(time.RFC3339),
		},
		Screenshot: shot,
	}

	if metrics := sess.Tracker().Metrics(); metrics.Total > 0 {
		snap.CacheMetrics = &metrics
	}
	if ttl := sess.Tracker().TTL(); ttl.HasDirectives {
		snap.CacheTTL = &ttl
	}

	return snap
}

// WriteFiles writes the JSON document and, when present, the screenshot PNG
// into the assembler's directory. Returns the JSON path and the image path
// (empty without a screenshot).
func (a *Assembler) WriteFiles(snap *Snapshot) (jsonPath, imagePath string, err error) {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", "", fmt.Errorf("creating export directory: %w", err)
	}

	ts, err := time.Parse(time.RFC3339, snap.Timestamp)
	if err != nil {
		ts = a.now()
	}

	data, err := ToFile(snap)
	if err != nil {
		return "", "", err
	}
	jsonPath = filepath.Join(a.dir, ExportFilename(ts))
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return "", "", fmt.Errorf("writing export file: %w", err)
	}

	if snap.Screenshot != nil {
		pngData, err := DecodeDataURI(snap.Screenshot.ImageData)
		if err != nil {
			// Image trouble must not fail the JSON export.
			observability.WithError(a.logger, err).Warn("skipping screenshot file")
			return jsonPath, "", nil
		}
		imagePath = filepath.Join(a.dir, snap.Screenshot.Filename)
		if err := os.WriteFile(imagePath, pngData, 0o644); err != nil {
			observability.WithError(a.logger, err).Warn("skipping screenshot file")
			return jsonPath, "", nil
		}
	}

	return jsonPath, imagePath, nil
}

// DataURI wraps PNG bytes as a base64 data URI.
func DataURI(pngData []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngData)
}

// DecodeDataURI extracts the PNG bytes from a base64 data URI.
func DecodeDataURI(uri string) ([]byte, error) {
	_, encoded, ok := strings.Cut(uri, ";base64,")
	if !ok {
		return nil, fmt.Errorf("not a base64 data URI")
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding data URI: %w", err)
	}
	return data, nil
}

func resolutionEntries(list session.ResolutionList) []ResolutionEntry {
	entries := make([]ResolutionEntry, 0, len(list.Variants))
	for _, v := range list.Variants {
		entries = append(entries, ResolutionEntry{
			Resolution: v.Resolution,
			Bandwidth:  v.BandwidthKbps,
			Text:       v.Text(),
		})
	}
	return entries
}

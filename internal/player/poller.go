// Package player provides the built-in playback engine. The Poller drives an
// HLS stream the way a player would: it fetches the master playlist, selects
// the highest-bandwidth variant, then polls the media playlist at target
// duration pace and fetches each new segment, reporting every step as a
// session event.
package player

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
	"log/slog"

	"github.com/vidinfra/metaview/internal/session"
)

// Config holds poller tuning.
type Config struct {
	// PollInterval is the fallback poll interval when the playlist does not
	// advertise a target duration.
	PollInterval time.Duration
	// MaxPlaylistBytes caps fetched playlist sizes.
	MaxPlaylistBytes int
	// MaxFetchErrors is the number of consecutive fetch failures before the
	// poller reports a fatal network error.
	MaxFetchErrors int
}

// DefaultConfig returns sensible poller defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:     2 * time.Second,
		MaxPlaylistBytes: 256 * 1024,
		MaxFetchErrors:   6,
	}
}

// stallThreshold is the number of consecutive empty polls before the poller
// reports a buffer stall.
const stallThreshold = 3

// Poller implements session.Player over plain playlist polling. Segment
// bodies are fetched through the provided client (normally wrapped in the
// capturing transport) and discarded; the point is the traffic, not the
// media.
type Poller struct {
	client *http.Client
	cfg    Config
	logger *slog.Logger

	sinkMu sync.RWMutex
	sink   func(session.Event)

	mu        sync.Mutex
	masterURL string
	mediaURL  string
	level     int
	cancel    context.CancelFunc
	done      chan struct{}

	shutdown atomic.Bool
}

// NewPoller creates a poller around the given HTTP client.
func NewPoller(client *http.Client, cfg Config, logger *slog.Logger) *Poller {
	if client == nil {
		client = http.DefaultClient
	}
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxPlaylistBytes <= 0 {
		cfg.MaxPlaylistBytes = def.MaxPlaylistBytes
	}
	if cfg.MaxFetchErrors <= 0 {
		cfg.MaxFetchErrors = def.MaxFetchErrors
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		client: client,
		cfg:    cfg,
		logger: logger,
		level:  -1,
	}
}

// SetSink installs the event consumer. Must be called before Load.
func (p *Poller) SetSink(sink func(session.Event)) {
	p.sinkMu.Lock()
	defer p.sinkMu.Unlock()
	p.sink = sink
}

func (p *Poller) emit(ev session.Event) {
	if p.shutdown.Load() {
		return
	}
	p.sinkMu.RLock()
	sink := p.sink
	p.sinkMu.RUnlock()
	if sink != nil {
		sink(ev)
	}
}

// Load fetches and parses the master playlist, selects a variant, and starts
// the polling loop. The context covers the initial fetch only; the loop runs
// until Destroy.
func (p *Poller) Load(ctx context.Context, rawURL string) error {
	if p.shutdown.Load() {
		return fmt.Errorf("player destroyed")
	}

	p.emit(session.Event{Type: session.EventManifestLoading, URL: rawURL})

	body, err := p.fetch(ctx, rawURL)
	if err != nil {
		return fmt.Errorf("fetching playlist: %w", err)
	}
	p.emit(session.Event{Type: session.EventManifestLoaded, URL: rawURL})

	pl, err := playlist.Unmarshal(body)
	if err != nil {
		return fmt.Errorf("parsing playlist: %w", err)
	}

	var mediaURL string
	level := -1
	switch parsed := pl.(type) {
	case *playlist.Multivariant:
		if len(parsed.Variants) == 0 {
			return fmt.Errorf("multivariant playlist has no variants")
		}
		idx := highestBandwidth(parsed.Variants)
		mediaURL = absolutize(rawURL, parsed.Variants[idx].URI)
		level = idx
	case *playlist.Media:
		mediaURL = rawURL
	default:
		return fmt.Errorf("unknown playlist type")
	}

	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return fmt.Errorf("player already loaded")
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	p.masterURL = rawURL
	p.mediaURL = mediaURL
	p.level = level
	p.cancel = cancel
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	p.emit(session.Event{Type: session.EventManifestParsed, URL: rawURL})
	p.logger.Debug("playback starting",
		slog.String("media_url", mediaURL),
		slog.Int("level", level),
	)

	go func() {
		defer close(done)
		p.runLoop(loopCtx)
	}()

	return nil
}

// StartLoad restarts the polling loop after a fatal network error. The
// current media URL is kept; counters start fresh.
func (p *Poller) StartLoad() {
	if p.shutdown.Load() {
		return
	}

	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	done := p.done
	mediaURL := p.mediaURL
	p.mu.Unlock()

	if mediaURL == "" {
		return
	}
	if done != nil {
		<-done
	}

	p.mu.Lock()
	loopCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	done = p.done
	p.mu.Unlock()

	p.logger.Debug("restarting load", slog.String("media_url", mediaURL))
	go func() {
		defer close(done)
		p.runLoop(loopCtx)
	}()
}

// RecoverMediaError resets decoder-side state. The poller has no decoder, so
// this only reports that playback resumes.
func (p *Poller) RecoverMediaError() {
	if p.shutdown.Load() {
		return
	}
	p.logger.Debug("media error recovery requested")
	p.emit(session.Event{Type: session.EventPlaybackPlaying})
}

// Destroy stops the loop and silences the poller. Idempotent.
func (p *Poller) Destroy() {
	if p.shutdown.Swap(true) {
		return
	}
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// runLoop polls the media playlist and fetches new segments until cancelled.
func (p *Poller) runLoop(ctx context.Context) {
	p.mu.Lock()
	mediaURL := p.mediaURL
	level := p.level
	p.mu.Unlock()

	seenSequences := make(map[int64]struct{})
	seenSegments := make(map[string]struct{})
	var fetchErrors, emptyPolls int
	pollInterval := p.cfg.PollInterval
	started := false

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		fetchStart := time.Now()

		p.emit(session.Event{Type: session.EventLevelLoading, URL: mediaURL})

		media, targetDuration, err := p.fetchMedia(ctx, mediaURL)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			fetchErrors++
			if fetchErrors >= p.cfg.MaxFetchErrors {
				p.emit(session.Event{Type: session.EventError, Err: &session.PlaybackError{
					Category: session.CategoryNetwork,
					Fatal:    true,
					Detail:   fmt.Sprintf("playlist fetch failed after %d attempts: %v", fetchErrors, err),
				}})
				return
			}
			p.emit(session.Event{Type: session.EventError, Err: &session.PlaybackError{
				Category: session.CategoryNetwork,
				Fatal:    false,
				Detail:   fmt.Sprintf("playlist fetch failed: %v", err),
			}})
			if !sleepCtx(ctx, 500*time.Millisecond) {
				return
			}
			continue
		}
		fetchErrors = 0

		if targetDuration > 0 {
			pollInterval = targetDuration / 2
			if pollInterval < 800*time.Millisecond {
				pollInterval = 800 * time.Millisecond
			}
		}

		var emittedAny bool
		mediaSequence := int64(media.MediaSequence)
		for i, seg := range media.Segments {
			if seg == nil {
				continue
			}
			select {
			case <-ctx.Done():
				return
			default:
			}

			seq := mediaSequence + int64(i)
			if _, ok := seenSequences[seq]; ok {
				continue
			}
			if _, ok := seenSegments[seg.URI]; ok {
				continue
			}
			seenSequences[seq] = struct{}{}
			seenSegments[seg.URI] = struct{}{}

			segURL := absolutize(mediaURL, seg.URI)
			p.emit(session.Event{Type: session.EventFragLoading, URL: segURL, Sequence: seq})

			if err := p.fetchSegment(ctx, segURL); err != nil {
				if ctx.Err() != nil {
					return
				}
				fetchErrors++
				if fetchErrors >= p.cfg.MaxFetchErrors {
					p.emit(session.Event{Type: session.EventError, Err: &session.PlaybackError{
						Category: session.CategoryNetwork,
						Fatal:    true,
						Detail:   fmt.Sprintf("segment fetch failed after %d attempts: %v", fetchErrors, err),
					}})
					return
				}
				p.emit(session.Event{Type: session.EventError, Err: &session.PlaybackError{
					Category: session.CategoryNetwork,
					Fatal:    false,
					Detail:   fmt.Sprintf("segment fetch failed: %v", err),
				}})
				continue
			}
			fetchErrors = 0
			emittedAny = true

			p.emit(session.Event{
				Type:     session.EventFragLoaded,
				URL:      segURL,
				Sequence: seq,
				Duration: seg.Duration,
				Level:    level,
			})
			p.emit(session.Event{Type: session.EventBufferAppended, BufferAhead: seg.Duration})
		}

		if emittedAny {
			emptyPolls = 0
			if !started {
				started = true
				p.emit(session.Event{Type: session.EventPlaybackPlaying})
			}
		} else {
			emptyPolls++
			if started && emptyPolls == stallThreshold {
				p.emit(session.Event{Type: session.EventBufferStalling})
			}
		}

		elapsed := time.Since(fetchStart)
		wait := pollInterval
		if !emittedAny {
			// Poll a little sooner when the playlist has not advanced.
			wait = wait * 85 / 100
		}
		if wait > elapsed {
			if !sleepCtx(ctx, wait-elapsed) {
				return
			}
		}
	}
}

// fetchMedia fetches and parses a media playlist.
func (p *Poller) fetchMedia(ctx context.Context, rawURL string) (*playlist.Media, time.Duration, error) {
	body, err := p.fetch(ctx, rawURL)
	if err != nil {
		return nil, 0, err
	}

	pl, err := playlist.Unmarshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("parsing media playlist: %w", err)
	}
	media, ok := pl.(*playlist.Media)
	if !ok {
		return nil, 0, fmt.Errorf("expected media playlist, got multivariant")
	}

	return media, time.Duration(media.TargetDuration) * time.Second, nil
}

// fetchSegment fetches a segment body and discards it.
func (p *Poller) fetchSegment(ctx context.Context, rawURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	_, err = io.Copy(io.Discard, resp.Body)
	return err
}

// fetch retrieves a playlist with a size cap.
func (p *Poller) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	limited := io.LimitReader(resp.Body, int64(p.cfg.MaxPlaylistBytes))
	return io.ReadAll(limited)
}

// highestBandwidth returns the index of the highest-bandwidth variant.
func highestBandwidth(variants []*playlist.MultivariantVariant) int {
	indices := make([]int, len(variants))
	for i := range indices {
		indices[i] = i
	}
	sort.Slice(indices, func(i, j int) bool {
		return variants[indices[i]].Bandwidth > variants[indices[j]].Bandwidth
	})
	return indices[0]
}

// absolutize resolves a possibly relative playlist reference against its
// parent URL.
func absolutize(parentURL, ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}

	base, err := url.Parse(parentURL)
	if err != nil {
		if idx := strings.LastIndex(parentURL, "/"); idx >= 0 {
			return parentURL[:idx+1] + ref
		}
		return ref
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(parsed).String()
}

// sleepCtx sleeps for d unless the context is cancelled first. Returns false
// on cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// Package session implements the playback session controller. A Session owns
// one player instance, drives a small state machine over its lifecycle
// events, and feeds the metadata log, cache tracker and manifest parser that
// together make up the diagnostic state for one playback.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vidinfra/metaview/internal/manifest"
	"github.com/vidinfra/metaview/internal/metadata"
	"github.com/vidinfra/metaview/internal/observability"
)

// State is the controller state.
type State int

const (
	// StateIdle means no playback is in progress.
	StateIdle State = iota
	// StateAttaching means a play request was accepted and the player is
	// loading the manifest.
	StateAttaching
	// StateActive means the manifest parsed and playback is running.
	StateActive
	// StateRecovering means a fatal recoverable error occurred and a recovery
	// action has been issued.
	StateRecovering
	// StateTerminated means an unrecoverable error tore the session down.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAttaching:
		return "attaching"
	case StateActive:
		return "active"
	case StateRecovering:
		return "recovering"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Player is the playback engine driven by a Session. Implementations deliver
// lifecycle events back through Session.HandleEvent.
type Player interface {
	// Load attaches the player to the given playlist URL and begins playback.
	Load(ctx context.Context, url string) error
	// StartLoad retries the current load after a network error.
	StartLoad()
	// RecoverMediaError resets the decoder after a media error.
	RecoverMediaError()
	// Destroy releases the player. Safe to call more than once.
	Destroy()
}

// sufficientBuffer is the buffered duration past the playhead that counts as
// healthy when deciding to clear the buffering indicator.
const sufficientBuffer = time.Second

// ResolutionState describes the resolution list lifecycle.
type ResolutionState int

const (
	// ResolutionsPending means extraction has not completed yet.
	ResolutionsPending ResolutionState = iota
	// ResolutionsLoaded means at least one variant was found.
	ResolutionsLoaded
	// ResolutionsEmpty means the manifest carried no RESOLUTION tokens.
	ResolutionsEmpty
	// ResolutionsFailed means the manifest could not be fetched.
	ResolutionsFailed
)

func (s ResolutionState) String() string {
	switch s {
	case ResolutionsPending:
		return "pending"
	case ResolutionsLoaded:
		return "loaded"
	case ResolutionsEmpty:
		return "empty"
	default:
		return "failed"
	}
}

// ResolutionList is the displayed variant list. Each refresh replaces the
// previous contents.
type ResolutionList struct {
	State    ResolutionState
	Variants []manifest.Variant
}

// StreamInfo is a point-in-time playback summary. Duration is the wall time
// since playback started; ReadyState is the advisory readiness signal
// ("ready", "buffering", or the machine state while not active).
type StreamInfo struct {
	State          string        `json:"state"`
	ReadyState     string        `json:"readyState"`
	Buffering      bool          `json:"buffering"`
	Position       time.Duration `json:"position"`
	Duration       time.Duration `json:"duration"`
	SegmentsLoaded int           `json:"segmentsLoaded"`
	CurrentLevel   int           `json:"currentLevel"`
	LastSequence   int64         `json:"lastSequence"`
}

// Session is the playback session controller. All methods are safe for
// concurrent use; events may arrive from the player goroutine while the API
// reads state.
type Session struct {
	ID        string
	URL       string
	StartedAt time.Time

	log     *metadata.Log
	tracker *metadata.CacheTracker
	parser  *manifest.Parser
	player  Player
	logger  *slog.Logger

	// ctx is cancelled on Close so in-flight diagnostic fetches abort and
	// their continuations are dropped.
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       State
	buffering   bool
	resolutions ResolutionList
	position    time.Duration
	segments    int
	level       int
	sequence    int64
	closed      bool
}

// New creates an idle session around the given collaborators. The parser must
// share the same metadata log so its entries land in this session's timeline.
func New(log *metadata.Log, tracker *metadata.CacheTracker, parser *manifest.Parser, player Player, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &Session{
		ID:      id,
		log:     log,
		tracker: tracker,
		parser:  parser,
		player:  player,
		logger:  observability.WithSession(logger, id),
		ctx:     ctx,
		cancel:  cancel,
		state:   StateIdle,
		level:   -1,
	}
}

// Start validates the playback URL and begins playback. A URL without a
// .m3u8 path suffix is rejected with a ValidationError and the session stays
// idle; nothing is fetched.
func (s *Session) Start(ctx context.Context, rawURL string) error {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return &ValidationError{Field: "url", Reason: "must not be empty"}
	}
	base := trimmed
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	if !strings.HasSuffix(base, ".m3u8") {
		return &ValidationError{Field: "url", Reason: "must reference an .m3u8 playlist"}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("session %s is closed", s.ID)
	}
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("session %s already started (state %s)", s.ID, state)
	}
	s.state = StateAttaching
	s.URL = trimmed
	s.StartedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting playback", slog.String("url", trimmed))
	s.log.Record("Loading stream: " + trimmed)

	if err := s.player.Load(ctx, trimmed); err != nil {
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
		s.log.RecordError("Failed to start playback: " + err.Error())
		return fmt.Errorf("loading %s: %w", trimmed, err)
	}

	// Diagnostic passes over the master manifest run independently of
	// playback and must never affect it.
	go s.parser.FetchAndParse(s.ctx, trimmed)
	go s.refreshResolutions(trimmed)

	return nil
}

// HandleEvent applies one player event to the state machine. Events arriving
// after termination or teardown are dropped.
func (s *Session) HandleEvent(ev Event) {
	s.mu.Lock()
	if s.closed || s.state == StateTerminated || s.state == StateIdle {
		s.mu.Unlock()
		return
	}

	switch ev.Type {
	case EventManifestLoading, EventLevelLoading:
		s.mu.Unlock()
		// Each manifest and level load gets a fresh diagnostic pass.
		go s.parser.FetchAndParse(s.ctx, ev.URL)

	case EventManifestLoaded:
		s.mu.Unlock()

	case EventManifestParsed:
		if s.state == StateAttaching || s.state == StateRecovering {
			s.state = StateActive
		}
		s.mu.Unlock()

	case EventFragLoading:
		s.sequence = ev.Sequence
		s.mu.Unlock()
		s.log.Record(fmt.Sprintf("Loading segment %d: %s", ev.Sequence, ev.URL))

	case EventFragLoaded:
		if s.state == StateRecovering {
			s.state = StateActive
		}
		s.segments++
		s.position += ev.Duration
		s.level = ev.Level
		s.sequence = ev.Sequence
		s.mu.Unlock()
		s.log.Record(fmt.Sprintf("Loaded segment %d (%.3fs, level %d): %s",
			ev.Sequence, ev.Duration.Seconds(), ev.Level, ev.URL))

	case EventBufferStalling, EventPlaybackWaiting:
		s.buffering = true
		s.mu.Unlock()

	case EventBufferAppended:
		if ev.BufferAhead >= sufficientBuffer {
			s.buffering = false
		}
		s.mu.Unlock()

	case EventPlaybackPlaying:
		s.buffering = false
		if s.state == StateRecovering {
			s.state = StateActive
		}
		s.mu.Unlock()

	case EventError:
		s.handleErrorLocked(ev.Err)

	default:
		s.mu.Unlock()
	}
}

// handleErrorLocked applies the recovery policy. The caller holds s.mu; this
// method releases it.
func (s *Session) handleErrorLocked(perr *PlaybackError) {
	if perr == nil {
		s.mu.Unlock()
		return
	}

	if !perr.Fatal {
		s.mu.Unlock()
		s.log.Record("Player warning (" + perr.Category.String() + "): " + perr.Detail)
		if strings.Contains(strings.ToLower(perr.Detail), "stall") {
			s.mu.Lock()
			s.buffering = true
			s.mu.Unlock()
		}
		return
	}

	switch perr.Category {
	case CategoryNetwork:
		s.state = StateRecovering
		s.mu.Unlock()
		s.log.RecordError("Fatal network error, retrying load: " + perr.Detail)
		s.logger.Warn("recovering from network error", slog.String("detail", perr.Detail))
		s.player.StartLoad()

	case CategoryMedia:
		s.state = StateRecovering
		s.mu.Unlock()
		s.log.RecordError("Fatal media error, recovering decoder: " + perr.Detail)
		s.logger.Warn("recovering from media error", slog.String("detail", perr.Detail))
		s.player.RecoverMediaError()

	default:
		s.state = StateTerminated
		s.buffering = false
		s.cancel()
		s.mu.Unlock()
		s.log.RecordError("Unrecoverable error, stopping playback: " + perr.Detail)
		s.logger.Error("terminating session", slog.String("detail", perr.Detail))
		s.player.Destroy()
	}
}

// refreshResolutions runs one extraction pass and replaces the stored list.
// Results arriving after teardown are dropped.
func (s *Session) refreshResolutions(url string) {
	variants, err := s.parser.ExtractResolutions(s.ctx, url)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	switch {
	case err != nil:
		s.resolutions = ResolutionList{State: ResolutionsFailed}
	case len(variants) == 0:
		s.resolutions = ResolutionList{State: ResolutionsEmpty}
	default:
		s.resolutions = ResolutionList{State: ResolutionsLoaded, Variants: variants}
	}
}

// RefreshResolutions re-runs resolution extraction against the session's
// master URL.
func (s *Session) RefreshResolutions() {
	s.mu.Lock()
	url := s.URL
	closed := s.closed
	s.mu.Unlock()
	if closed || url == "" {
		return
	}
	s.refreshResolutions(url)
}

// Close tears the session down: the player is destroyed, pending diagnostic
// fetches are cancelled, and the machine returns to idle. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.state = StateIdle
	s.buffering = false
	s.mu.Unlock()

	s.cancel()
	s.player.Destroy()
	s.logger.Info("session closed")
}

// State returns the current machine state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Buffering reports the advisory buffering indicator.
func (s *Session) Buffering() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffering
}

// Resolutions returns the current resolution list.
func (s *Session) Resolutions() ResolutionList {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := ResolutionList{State: s.resolutions.State}
	out.Variants = append(out.Variants, s.resolutions.Variants...)
	return out
}

// Log exposes the session's metadata log.
func (s *Session) Log() *metadata.Log { return s.log }

// Tracker exposes the session's cache tracker.
func (s *Session) Tracker() *metadata.CacheTracker { return s.tracker }

// Info returns a point-in-time playback summary.
func (s *Session) Info() StreamInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	var elapsed time.Duration
	if !s.StartedAt.IsZero() {
		elapsed = time.Since(s.StartedAt)
	}

	return StreamInfo{
		State:          s.state.String(),
		ReadyState:     s.readyStateLocked(),
		Buffering:      s.buffering,
		Position:       s.position,
		Duration:       elapsed,
		SegmentsLoaded: s.segments,
		CurrentLevel:   s.level,
		LastSequence:   s.sequence,
	}
}

// readyStateLocked maps the machine state and buffering indicator onto the
// readiness signal reported in stream info.
func (s *Session) readyStateLocked() string {
	switch {
	case s.buffering:
		return "buffering"
	case s.state == StateActive:
		return "ready"
	default:
		return s.state.String()
	}
}

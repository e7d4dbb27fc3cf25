package session

import (
	"fmt"
	"time"
)

// EventType enumerates the playback lifecycle events the controller reacts
// to. The set is closed; players must not invent event kinds outside it.
type EventType int

const (
	// EventManifestLoading fires when the player begins fetching a master
	// playlist.
	EventManifestLoading EventType = iota
	// EventManifestLoaded fires when the master playlist body has arrived.
	EventManifestLoaded
	// EventManifestParsed fires when the master playlist has been parsed and
	// playback can begin.
	EventManifestParsed
	// EventLevelLoading fires when the player begins fetching a media
	// playlist for a quality level.
	EventLevelLoading
	// EventFragLoading fires when a segment fetch starts.
	EventFragLoading
	// EventFragLoaded fires when a segment fetch completes.
	EventFragLoaded
	// EventBufferStalling fires when playback stalls waiting for data.
	EventBufferStalling
	// EventBufferAppended fires after buffered data is appended; BufferAhead
	// carries the buffered duration past the playhead.
	EventBufferAppended
	// EventPlaybackWaiting fires when the playback surface reports it is
	// waiting for data.
	EventPlaybackWaiting
	// EventPlaybackPlaying fires when the playback surface reports active
	// playback.
	EventPlaybackPlaying
	// EventError carries a playback error; Err must be set.
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventManifestLoading:
		return "manifest-loading"
	case EventManifestLoaded:
		return "manifest-loaded"
	case EventManifestParsed:
		return "manifest-parsed"
	case EventLevelLoading:
		return "level-loading"
	case EventFragLoading:
		return "frag-loading"
	case EventFragLoaded:
		return "frag-loaded"
	case EventBufferStalling:
		return "buffer-stalling"
	case EventBufferAppended:
		return "buffer-appended"
	case EventPlaybackWaiting:
		return "playback-waiting"
	case EventPlaybackPlaying:
		return "playback-playing"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is one playback lifecycle notification from a Player. Fields beyond
// Type are populated per event kind.
type Event struct {
	Type EventType

	// URL is set for manifest, level and frag events.
	URL string
	// Sequence is the media sequence number for frag events.
	Sequence int64
	// Duration is the segment duration for EventFragLoaded.
	Duration time.Duration
	// Level is the quality level index for EventFragLoaded.
	Level int
	// BufferAhead is the buffered duration past the playhead for
	// EventBufferAppended.
	BufferAhead time.Duration
	// Err is set for EventError.
	Err *PlaybackError
}

// ErrorCategory classifies playback errors for the recovery policy.
type ErrorCategory int

const (
	// CategoryNetwork covers fetch failures and bad upstream statuses.
	CategoryNetwork ErrorCategory = iota
	// CategoryMedia covers decode and buffer append failures.
	CategoryMedia
	// CategoryOther covers everything else. Fatal errors in this category
	// are unrecoverable.
	CategoryOther
)

func (c ErrorCategory) String() string {
	switch c {
	case CategoryNetwork:
		return "network"
	case CategoryMedia:
		return "media"
	default:
		return "other"
	}
}

// PlaybackError is a categorized player error. Fatal errors drive the
// recovery policy; non-fatal errors are logged only.
type PlaybackError struct {
	Category ErrorCategory
	Fatal    bool
	Detail   string
}

func (e *PlaybackError) Error() string {
	fatality := "non-fatal"
	if e.Fatal {
		fatality = "fatal"
	}
	return fmt.Sprintf("%s %s error: %s", fatality, e.Category, e.Detail)
}

// ValidationError reports bad user input rejected before any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

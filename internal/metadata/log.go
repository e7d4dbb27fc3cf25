// Package metadata maintains the diagnostic metadata log for a playback
// session. Entries are appended by the manifest parser, the header-capturing
// transport, and the session controller, and are read back for display and
// export. The log is a side channel: recording never fails and never panics.
package metadata

import (
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Severity classifies how an entry should be rendered.
type Severity int

const (
	// SeverityNormal is a plain diagnostic entry.
	SeverityNormal Severity = iota
	// SeverityError renders with error styling.
	SeverityError
	// SeverityHighlighted renders with highlight styling (SCTE markers).
	SeverityHighlighted
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityHighlighted:
		return "highlighted"
	default:
		return "normal"
	}
}

// Entry is a single immutable metadata log entry.
type Entry struct {
	// ID is a ULID; lexical order matches capture order.
	ID string `json:"id"`
	// Timestamp is the capture time.
	Timestamp time.Time `json:"timestamp"`
	// Body is the free-form entry text; may contain embedded line breaks.
	Body string `json:"body"`
	// Severity selects the rendering style.
	Severity Severity `json:"severity"`
}

// Rendered returns the display form of the entry: a bracketed wall-clock
// timestamp prefix followed by the body.
func (e Entry) Rendered() string {
	return "[" + e.Timestamp.Format("15:04:05") + "] " + e.Body
}

// Log is an append-ordered, display-ordered record of diagnostic entries.
// Newest entries are first. Safe for concurrent use.
type Log struct {
	mu      sync.Mutex
	entries []Entry // newest first
	logger  *slog.Logger

	// now is replaceable for tests.
	now func() time.Time
}

// NewLog creates an empty metadata log.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{
		logger: logger,
		now:    time.Now,
	}
}

// Record appends a normal-severity entry.
func (l *Log) Record(body string) {
	l.record(body, SeverityNormal)
}

// RecordError appends an error-severity entry.
func (l *Log) RecordError(body string) {
	l.record(body, SeverityError)
}

// RecordHighlighted appends a highlighted entry.
func (l *Log) RecordHighlighted(body string) {
	l.record(body, SeverityHighlighted)
}

// record inserts the entry at the head of the sequence. It must never fail:
// the log is a diagnostic side channel and a logging problem must not be able
// to affect playback.
func (l *Log) record(body string, severity Severity) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Warn("metadata record dropped", slog.Any("panic", r))
		}
	}()

	entry := Entry{
		ID:        ulid.Make().String(),
		Timestamp: l.now(),
		Body:      body,
		Severity:  severity,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append([]Entry{entry}, l.entries...)
}

// Entries returns a copy of the entries, newest first.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Snapshot returns an immutable copy of the log for export. The returned
// slice shares no mutable state with the live log: later records do not
// alter an already-produced snapshot.
func (l *Log) Snapshot() []Entry {
	return l.Entries()
}

// Rendered returns the rendered form of every entry, newest first.
func (l *Log) Rendered() []string {
	entries := l.Entries()
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Rendered()
	}
	return out
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

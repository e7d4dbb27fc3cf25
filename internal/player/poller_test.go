package player

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidinfra/metaview/internal/session"
)

const (
	testMaster = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-STREAM-INF:BANDWIDTH=500000,RESOLUTION=640x360
low.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2000000,RESOLUTION=1920x1080
high.m3u8
`
	testMedia = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:1
#EXT-X-MEDIA-SEQUENCE:0
#EXTINF:1.000,
seg0.ts
#EXTINF:1.000,
seg1.ts
`
)

// eventRecorder collects emitted events.
type eventRecorder struct {
	mu     sync.Mutex
	events []session.Event
}

func (r *eventRecorder) sink(ev session.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) all() []session.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.Event(nil), r.events...)
}

func (r *eventRecorder) count(t session.EventType) int {
	n := 0
	for _, ev := range r.all() {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func newStreamServer(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var segmentHits atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testMaster))
	})
	mux.HandleFunc("/high.m3u8", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testMedia))
	})
	mux.HandleFunc("/low.m3u8", func(w http.ResponseWriter, r *http.Request) {
		t.Error("poller selected the low-bandwidth variant")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		segmentHits.Add(1)
		w.Write([]byte("segmentdata"))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, &segmentHits
}

func TestPollerPlaysHighestBandwidthVariant(t *testing.T) {
	server, segmentHits := newStreamServer(t)

	rec := &eventRecorder{}
	p := NewPoller(server.Client(), DefaultConfig(), nil)
	p.SetSink(rec.sink)
	defer p.Destroy()

	require.NoError(t, p.Load(context.Background(), server.URL+"/master.m3u8"))

	require.Eventually(t, func() bool {
		return rec.count(session.EventFragLoaded) == 2
	}, 5*time.Second, 20*time.Millisecond)

	events := rec.all()
	assert.Equal(t, session.EventManifestLoading, events[0].Type)
	assert.Equal(t, session.EventManifestLoaded, events[1].Type)
	assert.Equal(t, session.EventManifestParsed, events[2].Type)

	var loaded []session.Event
	for _, ev := range events {
		if ev.Type == session.EventFragLoaded {
			loaded = append(loaded, ev)
		}
	}
	require.Len(t, loaded, 2)
	assert.Equal(t, int64(0), loaded[0].Sequence)
	assert.Equal(t, int64(1), loaded[1].Sequence)
	assert.Contains(t, loaded[0].URL, "seg0.ts")
	assert.Equal(t, time.Second, loaded[0].Duration)
	assert.Equal(t, 1, loaded[0].Level, "highest bandwidth variant index")

	assert.Equal(t, 1, rec.count(session.EventPlaybackPlaying))
	assert.GreaterOrEqual(t, rec.count(session.EventBufferAppended), 2)
	assert.EqualValues(t, 2, segmentHits.Load())
}

func TestPollerDeduplicatesAcrossPolls(t *testing.T) {
	server, segmentHits := newStreamServer(t)

	rec := &eventRecorder{}
	p := NewPoller(server.Client(), DefaultConfig(), nil)
	p.SetSink(rec.sink)
	defer p.Destroy()

	require.NoError(t, p.Load(context.Background(), server.URL+"/master.m3u8"))

	require.Eventually(t, func() bool {
		return rec.count(session.EventLevelLoading) >= 3
	}, 10*time.Second, 20*time.Millisecond)

	// The playlist never advanced, so the two segments were fetched once.
	assert.Equal(t, 2, rec.count(session.EventFragLoaded))
	assert.EqualValues(t, 2, segmentHits.Load())
}

func TestPollerLoadDirectMediaPlaylist(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/chunklist.m3u8", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testMedia))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("segmentdata"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	rec := &eventRecorder{}
	p := NewPoller(server.Client(), DefaultConfig(), nil)
	p.SetSink(rec.sink)
	defer p.Destroy()

	require.NoError(t, p.Load(context.Background(), server.URL+"/chunklist.m3u8"))

	require.Eventually(t, func() bool {
		return rec.count(session.EventFragLoaded) == 2
	}, 5*time.Second, 20*time.Millisecond)
}

func TestPollerLoadFailures(t *testing.T) {
	t.Run("http error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "not here", http.StatusNotFound)
		}))
		defer server.Close()

		p := NewPoller(server.Client(), DefaultConfig(), nil)
		p.SetSink(func(session.Event) {})
		defer p.Destroy()

		assert.Error(t, p.Load(context.Background(), server.URL+"/master.m3u8"))
	})

	t.Run("not a playlist", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html>not hls</html>"))
		}))
		defer server.Close()

		p := NewPoller(server.Client(), DefaultConfig(), nil)
		p.SetSink(func(session.Event) {})
		defer p.Destroy()

		assert.Error(t, p.Load(context.Background(), server.URL+"/master.m3u8"))
	})
}

func TestPollerFatalAfterConsecutiveFailures(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)

	mux := http.NewServeMux()
	mux.HandleFunc("/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testMaster))
	})
	mux.HandleFunc("/high.m3u8", func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			http.Error(w, "origin down", http.StatusBadGateway)
			return
		}
		w.Write([]byte(testMedia))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("segmentdata"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	rec := &eventRecorder{}
	cfg := DefaultConfig()
	cfg.MaxFetchErrors = 2
	p := NewPoller(server.Client(), cfg, nil)
	p.SetSink(rec.sink)
	defer p.Destroy()

	require.NoError(t, p.Load(context.Background(), server.URL+"/master.m3u8"))
	require.Eventually(t, func() bool {
		return rec.count(session.EventFragLoaded) == 2
	}, 5*time.Second, 20*time.Millisecond)

	healthy.Store(false)

	require.Eventually(t, func() bool {
		for _, ev := range rec.all() {
			if ev.Type == session.EventError && ev.Err != nil && ev.Err.Fatal {
				return true
			}
		}
		return false
	}, 10*time.Second, 20*time.Millisecond)

	var fatal *session.PlaybackError
	for _, ev := range rec.all() {
		if ev.Type == session.EventError && ev.Err != nil && ev.Err.Fatal {
			fatal = ev.Err
		}
	}
	require.NotNil(t, fatal)
	assert.Equal(t, session.CategoryNetwork, fatal.Category)

	// StartLoad resumes once the origin recovers.
	healthy.Store(true)
	before := rec.count(session.EventFragLoaded)
	p.StartLoad()

	require.Eventually(t, func() bool {
		return rec.count(session.EventFragLoaded) > before
	}, 10*time.Second, 20*time.Millisecond)
}

func TestPollerDestroySilences(t *testing.T) {
	server, _ := newStreamServer(t)

	rec := &eventRecorder{}
	p := NewPoller(server.Client(), DefaultConfig(), nil)
	p.SetSink(rec.sink)

	require.NoError(t, p.Load(context.Background(), server.URL+"/master.m3u8"))
	require.Eventually(t, func() bool {
		return rec.count(session.EventFragLoaded) == 2
	}, 5*time.Second, 20*time.Millisecond)

	p.Destroy()
	before := len(rec.all())
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, rec.all(), before)

	// Destroy is idempotent and silences later calls.
	p.Destroy()
	p.StartLoad()
	p.RecoverMediaError()
	assert.Len(t, rec.all(), before)
}

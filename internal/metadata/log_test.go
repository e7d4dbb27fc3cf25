package metadata

import (
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog_Record(t *testing.T) {
	t.Run("newest entry first", func(t *testing.T) {
		log := NewLog(nil)
		log.Record("first")
		log.Record("second")
		log.Record("third")

		entries := log.Entries()
		require.Len(t, entries, 3)
		assert.Equal(t, "third", entries[0].Body)
		assert.Equal(t, "second", entries[1].Body)
		assert.Equal(t, "first", entries[2].Body)
	})

	t.Run("severities", func(t *testing.T) {
		log := NewLog(nil)
		log.Record("plain")
		log.RecordError("boom")
		log.RecordHighlighted("scte")

		entries := log.Entries()
		require.Len(t, entries, 3)
		assert.Equal(t, SeverityHighlighted, entries[0].Severity)
		assert.Equal(t, SeverityError, entries[1].Severity)
		assert.Equal(t, SeverityNormal, entries[2].Severity)
	})

	t.Run("ids are unique and time ordered", func(t *testing.T) {
		log := NewLog(nil)
		for i := 0; i < 10; i++ {
			log.Record(fmt.Sprintf("entry %d", i))
		}

		entries := log.Entries()
		seen := make(map[string]bool)
		for _, e := range entries {
			assert.False(t, seen[e.ID], "duplicate id %s", e.ID)
			seen[e.ID] = true
		}
		// Entries are newest-first, so IDs must be non-increasing.
		for i := 1; i < len(entries); i++ {
			assert.GreaterOrEqual(t, entries[i-1].ID, entries[i].ID)
		}
	})
}

func TestEntry_Rendered(t *testing.T) {
	log := NewLog(nil)
	log.now = func() time.Time {
		return time.Date(2024, 3, 1, 15, 4, 5, 0, time.UTC)
	}
	log.Record("Loading manifest: http://example.com/a.m3u8")

	entries := log.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "[15:04:05] Loading manifest: http://example.com/a.m3u8", entries[0].Rendered())
}

func TestLog_Snapshot(t *testing.T) {
	log := NewLog(nil)
	log.Record("one")

	snap := log.Snapshot()
	require.Len(t, snap, 1)

	// Mutating the live log must not alter the snapshot.
	log.Record("two")
	assert.Len(t, snap, 1)
	assert.Equal(t, "one", snap[0].Body)
	assert.Equal(t, 2, log.Len())
}

func TestLog_ConcurrentRecord(t *testing.T) {
	log := NewLog(nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			log.Record(fmt.Sprintf("entry %d", n))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, log.Len())
}

func TestCacheTracker(t *testing.T) {
	t.Run("counts hits and misses", func(t *testing.T) {
		tracker := NewCacheTracker()

		hit := http.Header{"X-Cache": []string{"HIT"}}
		miss := http.Header{"X-Cache": []string{"Miss from cloudfront"}}
		tracker.Observe(hit)
		tracker.Observe(hit)
		tracker.Observe(hit)
		tracker.Observe(miss)

		m := tracker.Metrics()
		assert.Equal(t, 3, m.Hits)
		assert.Equal(t, 1, m.Misses)
		assert.Equal(t, 4, m.Total)
		assert.InDelta(t, 75.0, m.HitRatio, 0.001)
	})

	t.Run("ignores responses without cache headers", func(t *testing.T) {
		tracker := NewCacheTracker()
		tracker.Observe(http.Header{"Content-Type": []string{"video/mp2t"}})

		m := tracker.Metrics()
		assert.Equal(t, 0, m.Total)
		assert.Equal(t, 0.0, m.HitRatio)
	})

	t.Run("captures cache-control directives", func(t *testing.T) {
		tracker := NewCacheTracker()
		tracker.Observe(http.Header{"Cache-Control": []string{"public, max-age=21600"}})

		ttl := tracker.TTL()
		assert.True(t, ttl.HasDirectives)
		assert.Equal(t, 21600, ttl.MaxAge)
		assert.Equal(t, "public, max-age=21600", ttl.Directives)
	})

	t.Run("no directives by default", func(t *testing.T) {
		tracker := NewCacheTracker()
		assert.False(t, tracker.TTL().HasDirectives)
	})
}

func TestParseMaxAge(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"max-age=300", 300},
		{"public, max-age=21600", 21600},
		{"no-cache", 0},
		{"max-age=bogus", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseMaxAge(tt.in))
		})
	}
}

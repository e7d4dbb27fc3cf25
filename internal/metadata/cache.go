package metadata

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// CacheMetrics summarizes CDN cache behaviour observed during a session.
type CacheMetrics struct {
	Hits     int     `json:"hits"`
	Misses   int     `json:"misses"`
	Total    int     `json:"total"`
	HitRatio float64 `json:"hitRatio"` // percentage, 0-100
}

// TTLInfo captures the most recent Cache-Control directive information.
type TTLInfo struct {
	HasDirectives bool      `json:"hasDirectives"`
	MaxAge        int       `json:"maxAge,omitempty"` // seconds
	Directives    string    `json:"directives,omitempty"`
	CapturedAt    time.Time `json:"capturedAt,omitzero"`
}

// CacheTracker accumulates cache hit/miss counts and TTL directives from
// response headers observed by the capturing transport. Safe for concurrent
// use.
type CacheTracker struct {
	mu     sync.Mutex
	hits   int
	misses int
	ttl    TTLInfo
}

// NewCacheTracker creates an empty tracker.
func NewCacheTracker() *CacheTracker {
	return &CacheTracker{}
}

// Observe inspects the response headers of one captured fetch. X-Cache style
// headers feed the hit/miss counters; Cache-Control feeds the TTL info.
func (t *CacheTracker) Observe(header http.Header) {
	status := header.Get("X-Cache")
	if status == "" {
		status = header.Get("X-Cache-Status")
	}

	cacheControl := header.Get("Cache-Control")

	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case strings.Contains(strings.ToLower(status), "hit"):
		t.hits++
	case strings.Contains(strings.ToLower(status), "miss"):
		t.misses++
	}

	if cacheControl != "" {
		t.ttl = TTLInfo{
			HasDirectives: true,
			MaxAge:        parseMaxAge(cacheControl),
			Directives:    cacheControl,
			CapturedAt:    time.Now(),
		}
	}
}

// Metrics returns the accumulated counters.
func (t *CacheTracker) Metrics() CacheMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := CacheMetrics{
		Hits:   t.hits,
		Misses: t.misses,
		Total:  t.hits + t.misses,
	}
	if m.Total > 0 {
		m.HitRatio = float64(m.Hits) / float64(m.Total) * 100
	}
	return m
}

// TTL returns the most recently observed TTL info.
func (t *CacheTracker) TTL() TTLInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ttl
}

// parseMaxAge extracts the max-age value from a Cache-Control header.
// Returns 0 when absent or malformed.
func parseMaxAge(cacheControl string) int {
	for _, directive := range strings.Split(cacheControl, ",") {
		directive = strings.TrimSpace(directive)
		if v, ok := strings.CutPrefix(directive, "max-age="); ok {
			age, err := strconv.Atoi(v)
			if err != nil {
				return 0
			}
			return age
		}
	}
	return 0
}

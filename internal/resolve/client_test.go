package resolve

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidinfra/metaview/internal/config"
)

func testResolverConfig(endpoint string) config.ResolverConfig {
	return config.ResolverConfig{
		Environments: map[string]map[string]config.EnvironmentConfig{
			"sports": {
				"prod": {Path: endpoint + "/v1/live/prod?"},
				"qa":   {Path: endpoint + "/v1/live/qa?"},
			},
		},
		Patterns: map[string]string{
			"sports": "https://{cdn}.example.com/live/{channel}/master.m3u8",
		},
		Channels: map[string]config.ChannelConfig{
			"foxsports1": {Category: "sports"},
			"foxsports2": {
				Category: "sports",
				Pattern:  "https://{cdn}.example.com/alt/{channel}/index.m3u8",
			},
			"orphan": {Category: "news"},
			"bare":   {Category: "sports"},
		},
	}
}

func TestResolve(t *testing.T) {
	type received struct {
		path    string
		query   map[string]string
		pattern string
		auth    string
	}

	var last received
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body lookupRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		last = received{
			path: r.URL.Path,
			query: map[string]string{
				"cdn":        r.URL.Query().Get("cdn"),
				"channel":    r.URL.Query().Get("channel"),
				"mcl_region": r.URL.Query().Get("mcl_region"),
			},
			pattern: body.Pattern,
			auth:    r.Header.Get("Authorization"),
		}
		json.NewEncoder(w).Encode(map[string]string{
			"playURL": "https://edge.example.com/live/signed/master.m3u8?hdnts=abc",
		})
	}))
	defer server.Close()

	t.Run("resolves prod channel with category pattern", func(t *testing.T) {
		client := NewClient(server.Client(), testResolverConfig(server.URL), nil)

		playURL, err := client.Resolve(context.Background(), Request{
			Channel:     "FoxSports1",
			Region:      "ue1",
			Environment: "prod",
			CDN:         "cf",
		})
		require.NoError(t, err)
		assert.Equal(t, "https://edge.example.com/live/signed/master.m3u8?hdnts=abc", playURL)

		assert.Equal(t, "/v1/live/prod", last.path)
		assert.Equal(t, "cf", last.query["cdn"])
		assert.Equal(t, "foxsports1", last.query["channel"])
		assert.Equal(t, "ue1", last.query["mcl_region"])
		assert.Equal(t, "https://{cdn}.example.com/live/{channel}/master.m3u8", last.pattern)
	})

	t.Run("qa environment appends -qa to wire channel", func(t *testing.T) {
		client := NewClient(server.Client(), testResolverConfig(server.URL), nil)

		_, err := client.Resolve(context.Background(), Request{
			Channel:     "FoxSports1",
			Region:      "uw2",
			Environment: "qa",
			CDN:         "ak",
		})
		require.NoError(t, err)

		assert.Equal(t, "/v1/live/qa", last.path)
		assert.Equal(t, "foxsports1-qa", last.query["channel"])
	})

	t.Run("channel pattern overrides category pattern", func(t *testing.T) {
		client := NewClient(server.Client(), testResolverConfig(server.URL), nil)

		_, err := client.Resolve(context.Background(), Request{
			Channel:     "foxsports2",
			Region:      "ue1",
			Environment: "prod",
			CDN:         "cf",
		})
		require.NoError(t, err)
		assert.Equal(t, "https://{cdn}.example.com/alt/{channel}/index.m3u8", last.pattern)
	})

	t.Run("channel env override beats category endpoint", func(t *testing.T) {
		cfg := testResolverConfig(server.URL)
		cfg.Channels["foxsports1"] = config.ChannelConfig{
			Category: "sports",
			Env: map[string]config.EnvironmentConfig{
				"prod": {Path: server.URL + "/v1/live/special?"},
			},
		}
		client := NewClient(server.Client(), cfg, nil)

		_, err := client.Resolve(context.Background(), Request{
			Channel:     "foxsports1",
			Region:      "ue1",
			Environment: "prod",
			CDN:         "cf",
		})
		require.NoError(t, err)
		assert.Equal(t, "/v1/live/special", last.path)
	})

	t.Run("api key is sent as bearer credential", func(t *testing.T) {
		cfg := testResolverConfig(server.URL)
		cfg.APIKey = "secret-token"
		client := NewClient(server.Client(), cfg, nil)

		_, err := client.Resolve(context.Background(), Request{
			Channel:     "foxsports1",
			Region:      "ue1",
			Environment: "prod",
			CDN:         "cf",
		})
		require.NoError(t, err)
		assert.Equal(t, "Bearer secret-token", last.auth)
	})
}

func TestResolveFailures(t *testing.T) {
	t.Run("unknown channel fails before any network call", func(t *testing.T) {
		requests := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests++
		}))
		defer server.Close()

		client := NewClient(server.Client(), testResolverConfig(server.URL), nil)
		_, err := client.Resolve(context.Background(), Request{
			Channel:     "NoSuchChannel",
			Region:      "ue1",
			Environment: "prod",
			CDN:         "cf",
		})
		assert.ErrorIs(t, err, ErrChannelNotFound)
		assert.Zero(t, requests)
	})

	t.Run("empty channel name", func(t *testing.T) {
		client := NewClient(nil, testResolverConfig("http://unused"), nil)
		_, err := client.Resolve(context.Background(), Request{Environment: "prod"})
		assert.ErrorIs(t, err, ErrChannelNotFound)
	})

	t.Run("category without environment entry", func(t *testing.T) {
		client := NewClient(nil, testResolverConfig("http://unused"), nil)
		_, err := client.Resolve(context.Background(), Request{
			Channel:     "orphan",
			Region:      "ue1",
			Environment: "prod",
			CDN:         "cf",
		})
		assert.ErrorIs(t, err, ErrCategoryNotConfigured)
	})

	t.Run("channel override cannot bypass missing category environment", func(t *testing.T) {
		requests := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests++
		}))
		defer server.Close()

		cfg := testResolverConfig(server.URL)
		delete(cfg.Environments["sports"], "qa")
		cfg.Channels["special"] = config.ChannelConfig{
			Category: "sports",
			Env: map[string]config.EnvironmentConfig{
				"qa": {Path: server.URL + "/override?"},
			},
		}
		client := NewClient(server.Client(), cfg, nil)

		_, err := client.Resolve(context.Background(), Request{
			Channel:     "special",
			Region:      "ue1",
			Environment: "qa",
			CDN:         "cf",
		})
		assert.ErrorIs(t, err, ErrCategoryNotConfigured)
		assert.Zero(t, requests)
	})

	t.Run("no pattern anywhere", func(t *testing.T) {
		cfg := testResolverConfig("http://unused")
		delete(cfg.Patterns, "sports")
		client := NewClient(nil, cfg, nil)
		_, err := client.Resolve(context.Background(), Request{
			Channel:     "bare",
			Region:      "ue1",
			Environment: "prod",
			CDN:         "cf",
		})
		assert.ErrorIs(t, err, ErrNoPatternAvailable)
	})

	t.Run("upstream non-success status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "channel offline", http.StatusServiceUnavailable)
		}))
		defer server.Close()

		client := NewClient(server.Client(), testResolverConfig(server.URL), nil)
		_, err := client.Resolve(context.Background(), Request{
			Channel:     "foxsports1",
			Region:      "ue1",
			Environment: "prod",
			CDN:         "cf",
		})
		assert.ErrorIs(t, err, ErrUpstream)

		var upErr *UpstreamError
		require.ErrorAs(t, err, &upErr)
		assert.Equal(t, http.StatusServiceUnavailable, upErr.Status)
		assert.Contains(t, upErr.Body, "channel offline")
	})

	t.Run("upstream payload missing playURL", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status":"ok"}`))
		}))
		defer server.Close()

		client := NewClient(server.Client(), testResolverConfig(server.URL), nil)
		_, err := client.Resolve(context.Background(), Request{
			Channel:     "foxsports1",
			Region:      "ue1",
			Environment: "prod",
			CDN:         "cf",
		})
		assert.ErrorIs(t, err, ErrUpstream)
	})

	t.Run("upstream payload is not JSON", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html>gateway</html>"))
		}))
		defer server.Close()

		client := NewClient(server.Client(), testResolverConfig(server.URL), nil)
		_, err := client.Resolve(context.Background(), Request{
			Channel:     "foxsports1",
			Region:      "ue1",
			Environment: "prod",
			CDN:         "cf",
		})
		assert.ErrorIs(t, err, ErrUpstream)
	})
}

func TestCDNName(t *testing.T) {
	assert.Equal(t, "Cloudfront", CDNName("cf"))
	assert.Equal(t, "Akamai", CDNName("ak"))
	assert.Equal(t, "Fastly", CDNName("fa"))
	assert.Equal(t, "Unknown", CDNName("xx"))
}

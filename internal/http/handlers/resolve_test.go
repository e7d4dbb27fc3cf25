package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidinfra/metaview/internal/config"
	"github.com/vidinfra/metaview/internal/service"
)

func newResolveService(t *testing.T) *service.SessionService {
	t.Helper()

	lookup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"playURL": "https://edge.example.com/live/foxsports1/master.m3u8?hdnts=tok",
		})
	}))
	t.Cleanup(lookup.Close)

	cfg := &config.Config{}
	cfg.Client.Timeout = 5 * time.Second
	cfg.Resolver = config.ResolverConfig{
		Environments: map[string]map[string]config.EnvironmentConfig{
			"sports": {
				"prod": {Path: lookup.URL + "/v1/live?"},
				"qa":   {Path: lookup.URL + "/v1/live?"},
			},
		},
		Patterns: map[string]string{
			"sports": "https://{cdn}.example.com/live/{channel}/master.m3u8",
		},
		Channels: map[string]config.ChannelConfig{
			"foxsports1": {Category: "sports"},
		},
	}

	svc := service.NewSessionService(cfg, nil)
	t.Cleanup(svc.Close)
	return svc
}

func TestResolveChannel(t *testing.T) {
	h := NewResolveHandler(newResolveService(t), nil)

	in := &ResolveInput{}
	in.Body.Channel = "FoxSports1"
	in.Body.Region = "ue1"
	in.Body.Environment = "qa"
	in.Body.CDN = "cf"

	out, err := h.Resolve(context.Background(), in)
	require.NoError(t, err)
	assert.Contains(t, out.Body.PlayURL, "master.m3u8")
	assert.Equal(t, "Cloudfront", out.Body.CDN)
}

func TestResolveChannelFailures(t *testing.T) {
	h := NewResolveHandler(newResolveService(t), nil)

	t.Run("unknown channel", func(t *testing.T) {
		in := &ResolveInput{}
		in.Body.Channel = "nosuch"
		in.Body.Environment = "prod"
		_, err := h.Resolve(context.Background(), in)
		assert.Equal(t, http.StatusNotFound, statusOf(t, err))
	})

	t.Run("unconfigured environment", func(t *testing.T) {
		cfg := &config.Config{}
		cfg.Resolver = config.ResolverConfig{
			Environments: map[string]map[string]config.EnvironmentConfig{
				"sports": {"prod": {Path: "http://unused/v1/live?"}},
			},
			Patterns: map[string]string{"sports": "pattern"},
			Channels: map[string]config.ChannelConfig{
				"foxsports1": {Category: "sports"},
			},
		}
		svc := service.NewSessionService(cfg, nil)
		defer svc.Close()

		in := &ResolveInput{}
		in.Body.Channel = "foxsports1"
		in.Body.Environment = "qa"
		_, err := NewResolveHandler(svc, nil).Resolve(context.Background(), in)
		assert.Equal(t, http.StatusUnprocessableEntity, statusOf(t, err))
	})
}

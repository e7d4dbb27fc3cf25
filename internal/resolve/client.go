// Package resolve turns a human-friendly channel name into a signed playback
// URL via the backend lookup service. Resolution is table-driven: a channel
// belongs to a category, the category maps environments to lookup endpoints
// and carries a default request pattern, and channels may override either.
package resolve

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vidinfra/metaview/internal/config"
)

// Resolution failure taxonomy. All are returned before or instead of a
// playback URL; callers surface them to the user.
var (
	// ErrChannelNotFound is returned when the channel name is not in the
	// channel table. No network call is made.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrCategoryNotConfigured is returned when the channel's category has no
	// entry for the requested environment.
	ErrCategoryNotConfigured = errors.New("category not configured for environment")

	// ErrNoPatternAvailable is returned when neither the channel nor its
	// category provides a request pattern.
	ErrNoPatternAvailable = errors.New("no request pattern available")

	// ErrUpstream is returned when the lookup service responds with a
	// non-success status or an unusable payload.
	ErrUpstream = errors.New("upstream lookup failed")
)

// UpstreamError carries the upstream status and body for diagnosis.
// It unwraps to ErrUpstream.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upstream lookup failed: HTTP %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("upstream lookup failed: %s", e.Body)
}

func (e *UpstreamError) Unwrap() error { return ErrUpstream }

// Request identifies one resolution attempt.
type Request struct {
	// Channel is the human-friendly channel name; matched case-insensitively.
	Channel string
	// Region is the delivery region code (e.g. ue1, uw2).
	Region string
	// Environment selects the lookup environment (prod, qa).
	Environment string
	// CDN selects the delivery path (cf, ak, fa).
	CDN string
}

// Client resolves channel names against the lookup service.
type Client struct {
	httpClient *http.Client
	cfg        config.ResolverConfig
	logger     *slog.Logger
}

// NewClient creates a resolution client. The httpClient is typically the
// resilient client's StandardClient.
func NewClient(httpClient *http.Client, cfg config.ResolverConfig, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		cfg:        cfg,
		logger:     logger,
	}
}

// lookupResponse is the expected lookup service payload.
type lookupResponse struct {
	PlayURL string `json:"playURL"`
}

// lookupRequest is the lookup service request body.
type lookupRequest struct {
	Pattern string `json:"pattern"`
}

// Resolve returns the signed playback URL for the request, or one of the
// package's resolution errors. Table lookups happen before any network I/O.
func (c *Client) Resolve(ctx context.Context, req Request) (string, error) {
	name := strings.ToLower(strings.TrimSpace(req.Channel))
	if name == "" {
		return "", fmt.Errorf("%w: empty channel name", ErrChannelNotFound)
	}

	channel, ok := c.cfg.Channels[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrChannelNotFound, name)
	}

	endpoint, err := c.endpointFor(name, channel, req.Environment)
	if err != nil {
		return "", err
	}

	pattern, err := c.patternFor(name, channel)
	if err != nil {
		return "", err
	}

	// QA channels carry a -qa suffix on the wire.
	wireChannel := name
	if req.Environment == "qa" {
		wireChannel = name + "-qa"
	}

	lookupURL := fmt.Sprintf("%scdn=%s&channel=%s&mcl_region=%s",
		endpoint,
		url.QueryEscape(req.CDN),
		url.QueryEscape(wireChannel),
		url.QueryEscape(req.Region),
	)

	c.logger.Debug("resolving channel",
		slog.String("channel", wireChannel),
		slog.String("environment", req.Environment),
		slog.String("region", req.Region),
		slog.String("cdn", req.CDN),
	)

	body, err := json.Marshal(lookupRequest{Pattern: pattern})
	if err != nil {
		return "", fmt.Errorf("encoding lookup request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, lookupURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating lookup request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("lookup request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", fmt.Errorf("reading lookup response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &UpstreamError{Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var result lookupResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", &UpstreamError{Status: resp.StatusCode, Body: fmt.Sprintf("invalid JSON payload: %v", err)}
	}
	if result.PlayURL == "" {
		return "", &UpstreamError{Status: resp.StatusCode, Body: "response missing playURL field"}
	}

	return result.PlayURL, nil
}

// endpointFor resolves the lookup endpoint. The category must carry an entry
// for the requested environment before any channel override is considered; a
// channel-specific override then takes precedence over the category default.
func (c *Client) endpointFor(name string, channel config.ChannelConfig, environment string) (string, error) {
	env, ok := c.cfg.Environments[channel.Category][environment]
	if !ok || env.Path == "" {
		return "", fmt.Errorf("%w: category %q, environment %q (channel %q)",
			ErrCategoryNotConfigured, channel.Category, environment, name)
	}
	if override, ok := channel.Env[environment]; ok && override.Path != "" {
		return override.Path, nil
	}
	return env.Path, nil
}

// patternFor resolves the request pattern: channel override over category
// default.
func (c *Client) patternFor(name string, channel config.ChannelConfig) (string, error) {
	if channel.Pattern != "" {
		return channel.Pattern, nil
	}
	if pattern, ok := c.cfg.Patterns[channel.Category]; ok && pattern != "" {
		return pattern, nil
	}
	return "", fmt.Errorf("%w: channel %q, category %q", ErrNoPatternAvailable, name, channel.Category)
}

// CDNName returns the display name for a CDN code.
func CDNName(code string) string {
	switch code {
	case "cf":
		return "Cloudfront"
	case "ak":
		return "Akamai"
	case "fa":
		return "Fastly"
	default:
		return "Unknown"
	}
}

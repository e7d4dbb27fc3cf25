// Package service provides the business logic layer for metaview: it wires
// sessions together from their parts (resilient client, capturing transport,
// parser, player) and fronts the registry for the API and CLI surfaces.
package service

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/vidinfra/metaview/internal/config"
	"github.com/vidinfra/metaview/internal/export"
	"github.com/vidinfra/metaview/internal/httpclient"
	"github.com/vidinfra/metaview/internal/manifest"
	"github.com/vidinfra/metaview/internal/metadata"
	"github.com/vidinfra/metaview/internal/observability"
	"github.com/vidinfra/metaview/internal/player"
	"github.com/vidinfra/metaview/internal/resolve"
	"github.com/vidinfra/metaview/internal/session"
	"github.com/vidinfra/metaview/internal/transport"
)

// SessionService creates and manages playback sessions.
type SessionService struct {
	cfg       *config.Config
	logger    *slog.Logger
	resilient *httpclient.Client
	registry  *session.Registry
	resolver  *resolve.Client
}

// NewSessionService builds the service from configuration. One resilient
// client is shared across sessions; each session gets its own capturing
// transport so its diagnostics stay isolated.
func NewSessionService(cfg *config.Config, logger *slog.Logger) *SessionService {
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := httpclient.DefaultConfig()
	if cfg.Client.Timeout > 0 {
		clientCfg.Timeout = cfg.Client.Timeout
	}
	if cfg.Client.RetryAttempts > 0 {
		clientCfg.RetryAttempts = cfg.Client.RetryAttempts
	}
	if cfg.Client.RetryDelay > 0 {
		clientCfg.RetryDelay = cfg.Client.RetryDelay
	}
	if cfg.Client.CircuitThreshold > 0 {
		clientCfg.CircuitThreshold = cfg.Client.CircuitThreshold
	}
	if cfg.Client.CircuitTimeout > 0 {
		clientCfg.CircuitTimeout = cfg.Client.CircuitTimeout
	}
	if cfg.Client.UserAgent != "" {
		clientCfg.UserAgent = cfg.Client.UserAgent
	}
	clientCfg.Logger = observability.WithComponent(logger, "httpclient")
	resilient := httpclient.New(clientCfg)

	resolver := resolve.NewClient(
		resilient.StandardClient(),
		cfg.Resolver,
		observability.WithComponent(logger, "resolver"),
	)

	return &SessionService{
		cfg:       cfg,
		logger:    logger,
		resilient: resilient,
		registry:  session.NewRegistry(),
		resolver:  resolver,
	}
}

// Start creates a session for the given playlist URL and begins playback.
func (s *SessionService) Start(ctx context.Context, url string) (*session.Session, error) {
	sess := s.buildSession()

	if err := sess.Start(ctx, url); err != nil {
		sess.Close()
		return nil, err
	}

	s.registry.Add(sess)
	return sess, nil
}

// buildSession assembles one session's component stack.
func (s *SessionService) buildSession() *session.Session {
	log := metadata.NewLog(s.logger)
	tracker := metadata.NewCacheTracker()

	capturing := transport.NewCapturing(s.resilient.Transport(), log, tracker)
	httpClient := &http.Client{
		Transport: capturing,
		Timeout:   s.cfg.Client.Timeout,
	}

	parser := manifest.NewParser(httpClient, log,
		manifest.WithLogger(observability.WithComponent(s.logger, "manifest")),
		manifest.WithMaxManifestBytes(s.cfg.Session.MaxPlaylistBytes),
	)

	poller := player.NewPoller(httpClient, player.Config{
		PollInterval:     s.cfg.Session.PollInterval,
		MaxPlaylistBytes: s.cfg.Session.MaxPlaylistBytes,
		MaxFetchErrors:   s.cfg.Session.MaxFetchErrors,
	}, observability.WithComponent(s.logger, "player"))

	sess := session.New(log, tracker, parser, poller, s.logger)
	poller.SetSink(sess.HandleEvent)

	return sess
}

// Get returns the session with the given ID.
func (s *SessionService) Get(id string) (*session.Session, error) {
	return s.registry.Get(id)
}

// List returns all live sessions.
func (s *SessionService) List() []*session.Session {
	return s.registry.List()
}

// Stop tears down and forgets the session with the given ID.
func (s *SessionService) Stop(id string) error {
	return s.registry.Remove(id)
}

// Export assembles a snapshot for the session and, when writeFiles is set,
// writes the JSON and screenshot files into the export directory.
func (s *SessionService) Export(ctx context.Context, id string, writeFiles bool) (*export.Snapshot, string, string, error) {
	sess, err := s.registry.Get(id)
	if err != nil {
		return nil, "", "", err
	}

	capturer := export.NewFrameCapturer(func() []string {
		info := sess.Info()
		lines := []string{
			"HLS MetaView",
			"url: " + sess.URL,
			"state: " + info.State,
		}
		lines = append(lines, sess.Log().Rendered()...)
		return lines
	})

	assembler := export.NewAssembler(capturer, s.cfg.Export.Dir,
		observability.WithComponent(s.logger, "export"))

	snap := assembler.Assemble(ctx, sess)
	if !writeFiles {
		return snap, "", "", nil
	}

	jsonPath, imagePath, err := assembler.WriteFiles(snap)
	if err != nil {
		return nil, "", "", err
	}
	return snap, jsonPath, imagePath, nil
}

// CaptureRaw feeds an externally captured header block into the session's
// timeline, for players that do their own fetching.
func (s *SessionService) CaptureRaw(id, url, rawHeaders string) error {
	sess, err := s.registry.Get(id)
	if err != nil {
		return err
	}

	capturing := transport.NewCapturing(nil, sess.Log(), sess.Tracker())
	capturing.CaptureRaw(url, rawHeaders)
	return nil
}

// Resolve turns a channel name into a signed playback URL.
func (s *SessionService) Resolve(ctx context.Context, req resolve.Request) (string, error) {
	return s.resolver.Resolve(ctx, req)
}

// CircuitState exposes the shared client's breaker state for health checks.
func (s *SessionService) CircuitState() httpclient.CircuitState {
	return s.resilient.CircuitState()
}

// Close tears down every live session.
func (s *SessionService) Close() {
	s.registry.CloseAll()
}

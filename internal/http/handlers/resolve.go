package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/vidinfra/metaview/internal/resolve"
	"github.com/vidinfra/metaview/internal/service"
)

// ResolveHandler handles channel resolution endpoints.
type ResolveHandler struct {
	sessions *service.SessionService
	logger   *slog.Logger
}

// NewResolveHandler creates a resolve handler.
func NewResolveHandler(sessions *service.SessionService, logger *slog.Logger) *ResolveHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResolveHandler{sessions: sessions, logger: logger}
}

// ResolveInput is the channel resolution request.
type ResolveInput struct {
	Body struct {
		Channel     string `json:"channel" doc:"Channel name, case-insensitive"`
		Region      string `json:"region,omitempty" doc:"Delivery region code"`
		Environment string `json:"environment,omitempty" doc:"Lookup environment (prod, qa)" enum:"prod,qa"`
		CDN         string `json:"cdn,omitempty" doc:"CDN code (cf, ak, fa)"`
	}
}

// ResolveOutput carries the resolved playback URL.
type ResolveOutput struct {
	Body struct {
		PlayURL string `json:"playURL"`
		CDN     string `json:"cdn"`
	}
}

// Register registers the resolve route with the API.
func (h *ResolveHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "resolveChannel",
		Method:      "POST",
		Path:        "/api/v1/resolve",
		Summary:     "Resolve a channel to a playback URL",
		Description: "Looks the channel up in the configured tables and queries the lookup service",
		Tags:        []string{"Resolution"},
	}, h.Resolve)
}

// Resolve turns a channel name into a signed playback URL.
func (h *ResolveHandler) Resolve(ctx context.Context, input *ResolveInput) (*ResolveOutput, error) {
	req := resolve.Request{
		Channel:     input.Body.Channel,
		Region:      input.Body.Region,
		Environment: input.Body.Environment,
		CDN:         input.Body.CDN,
	}
	if req.Environment == "" {
		req.Environment = "prod"
	}

	playURL, err := h.sessions.Resolve(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, resolve.ErrChannelNotFound):
			return nil, huma.Error404NotFound(err.Error())
		case errors.Is(err, resolve.ErrCategoryNotConfigured),
			errors.Is(err, resolve.ErrNoPatternAvailable):
			return nil, huma.Error422UnprocessableEntity(err.Error())
		case errors.Is(err, resolve.ErrUpstream):
			return nil, huma.Error502BadGateway(err.Error())
		default:
			return nil, huma.Error500InternalServerError("failed to resolve channel", err)
		}
	}

	out := &ResolveOutput{}
	out.Body.PlayURL = playURL
	out.Body.CDN = resolve.CDNName(req.CDN)
	return out, nil
}

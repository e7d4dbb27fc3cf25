// Package handlers provides the HTTP API handlers for metaview.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/vidinfra/metaview/internal/export"
	"github.com/vidinfra/metaview/internal/metadata"
	"github.com/vidinfra/metaview/internal/service"
	"github.com/vidinfra/metaview/internal/session"
)

// SessionHandler handles playback session endpoints.
type SessionHandler struct {
	sessions *service.SessionService
	logger   *slog.Logger
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(sessions *service.SessionService, logger *slog.Logger) *SessionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionHandler{sessions: sessions, logger: logger}
}

// SessionSummary describes one session in API responses.
type SessionSummary struct {
	ID         string             `json:"id"`
	URL        string             `json:"url"`
	StartedAt  string             `json:"startedAt"`
	StreamInfo session.StreamInfo `json:"streamInfo"`
}

func summarize(s *session.Session) SessionSummary {
	return SessionSummary{
		ID:         s.ID,
		URL:        s.URL,
		StartedAt:  s.StartedAt.UTC().Format(time.RFC3339),
		StreamInfo: s.Info(),
	}
}

// CreateSessionInput is the request for starting a session.
type CreateSessionInput struct {
	Body struct {
		URL string `json:"url" doc:"HLS playlist URL, must end in .m3u8"`
	}
}

// CreateSessionOutput is the response for starting a session.
type CreateSessionOutput struct {
	Status int
	Body   SessionSummary
}

// GetSessionInput identifies one session.
type GetSessionInput struct {
	ID string `path:"id" doc:"Session ID"`
}

// GetSessionOutput is the single-session response.
type GetSessionOutput struct {
	Body SessionSummary
}

// ListSessionsOutput is the session list response.
type ListSessionsOutput struct {
	Body struct {
		Sessions []SessionSummary `json:"sessions"`
	}
}

// DeleteSessionOutput is the teardown response.
type DeleteSessionOutput struct {
	Status int
}

// MetadataOutput carries a session's metadata timeline, newest first.
type MetadataOutput struct {
	Body struct {
		Entries      []metadata.Entry       `json:"entries"`
		Rendered     []string               `json:"rendered"`
		CacheMetrics *metadata.CacheMetrics `json:"cacheMetrics,omitempty"`
		CacheTTL     *metadata.TTLInfo      `json:"cacheTTL,omitempty"`
	}
}

// ResolutionsOutput carries the variant list or its placeholder state.
type ResolutionsOutput struct {
	Body struct {
		State    string   `json:"state"`
		Variants []string `json:"variants"`
	}
}

// ExportSessionInput requests a snapshot export.
type ExportSessionInput struct {
	ID   string `path:"id" doc:"Session ID"`
	Body struct {
		WriteFiles bool `json:"writeFiles,omitempty" doc:"Also write JSON and screenshot files to the export directory"`
	}
}

// ExportSessionOutput is the export response.
type ExportSessionOutput struct {
	Body struct {
		Snapshot *export.Snapshot `json:"snapshot"`
		JSONFile string           `json:"jsonFile,omitempty"`
		PNGFile  string           `json:"pngFile,omitempty"`
	}
}

// CaptureRawInput pushes an externally captured header block.
type CaptureRawInput struct {
	ID   string `path:"id" doc:"Session ID"`
	Body struct {
		URL     string `json:"url" doc:"Resource URL the headers belong to"`
		Headers string `json:"headers" doc:"Newline-delimited Key: Value block"`
	}
}

// CaptureRawOutput is the raw capture response.
type CaptureRawOutput struct {
	Status int
}

// Register registers the session routes with the API.
func (h *SessionHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "createSession",
		Method:        "POST",
		Path:          "/api/v1/sessions",
		Summary:       "Start a playback session",
		Description:   "Validates the playlist URL and starts playback with diagnostics",
		Tags:          []string{"Sessions"},
		DefaultStatus: 201,
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "listSessions",
		Method:      "GET",
		Path:        "/api/v1/sessions",
		Summary:     "List sessions",
		Tags:        []string{"Sessions"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getSession",
		Method:      "GET",
		Path:        "/api/v1/sessions/{id}",
		Summary:     "Get session state",
		Tags:        []string{"Sessions"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID:   "deleteSession",
		Method:        "DELETE",
		Path:          "/api/v1/sessions/{id}",
		Summary:       "Tear down a session",
		Tags:          []string{"Sessions"},
		DefaultStatus: 204,
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "getSessionMetadata",
		Method:      "GET",
		Path:        "/api/v1/sessions/{id}/metadata",
		Summary:     "Get the metadata timeline",
		Description: "Returns the session's metadata entries, newest first, with cache metrics",
		Tags:        []string{"Sessions"},
	}, h.Metadata)

	huma.Register(api, huma.Operation{
		OperationID: "getSessionResolutions",
		Method:      "GET",
		Path:        "/api/v1/sessions/{id}/resolutions",
		Summary:     "Get the resolution list",
		Tags:        []string{"Sessions"},
	}, h.Resolutions)

	huma.Register(api, huma.Operation{
		OperationID: "exportSession",
		Method:      "POST",
		Path:        "/api/v1/sessions/{id}/export",
		Summary:     "Export a diagnostic snapshot",
		Description: "Assembles metadata, cache metrics, resolutions and a screenshot into a snapshot",
		Tags:        []string{"Sessions"},
	}, h.Export)

	huma.Register(api, huma.Operation{
		OperationID:   "captureRawHeaders",
		Method:        "POST",
		Path:          "/api/v1/sessions/{id}/capture",
		Summary:       "Record externally captured headers",
		Description:   "Feeds a raw response header block into the session's timeline",
		Tags:          []string{"Sessions"},
		DefaultStatus: 204,
	}, h.CaptureRaw)
}

// Create starts a new playback session.
func (h *SessionHandler) Create(ctx context.Context, input *CreateSessionInput) (*CreateSessionOutput, error) {
	sess, err := h.sessions.Start(ctx, input.Body.URL)
	if err != nil {
		var verr *session.ValidationError
		if errors.As(err, &verr) {
			return nil, huma.Error422UnprocessableEntity(verr.Error())
		}
		return nil, huma.Error500InternalServerError("failed to start session", err)
	}

	return &CreateSessionOutput{Status: 201, Body: summarize(sess)}, nil
}

// List returns all live sessions.
func (h *SessionHandler) List(ctx context.Context, _ *struct{}) (*ListSessionsOutput, error) {
	out := &ListSessionsOutput{}
	out.Body.Sessions = make([]SessionSummary, 0)
	for _, sess := range h.sessions.List() {
		out.Body.Sessions = append(out.Body.Sessions, summarize(sess))
	}
	return out, nil
}

// Get returns one session.
func (h *SessionHandler) Get(ctx context.Context, input *GetSessionInput) (*GetSessionOutput, error) {
	sess, err := h.lookup(input.ID)
	if err != nil {
		return nil, err
	}
	return &GetSessionOutput{Body: summarize(sess)}, nil
}

// Delete tears down one session.
func (h *SessionHandler) Delete(ctx context.Context, input *GetSessionInput) (*DeleteSessionOutput, error) {
	if err := h.sessions.Stop(input.ID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return nil, huma.Error404NotFound(fmt.Sprintf("session %s not found", input.ID))
		}
		return nil, huma.Error500InternalServerError("failed to stop session", err)
	}
	return &DeleteSessionOutput{Status: 204}, nil
}

// Metadata returns the session's diagnostic timeline.
func (h *SessionHandler) Metadata(ctx context.Context, input *GetSessionInput) (*MetadataOutput, error) {
	sess, err := h.lookup(input.ID)
	if err != nil {
		return nil, err
	}

	out := &MetadataOutput{}
	out.Body.Entries = sess.Log().Entries()
	out.Body.Rendered = sess.Log().Rendered()
	if metrics := sess.Tracker().Metrics(); metrics.Total > 0 {
		out.Body.CacheMetrics = &metrics
	}
	if ttl := sess.Tracker().TTL(); ttl.HasDirectives {
		out.Body.CacheTTL = &ttl
	}
	return out, nil
}

// Resolutions returns the variant list or its placeholder state.
func (h *SessionHandler) Resolutions(ctx context.Context, input *GetSessionInput) (*ResolutionsOutput, error) {
	sess, err := h.lookup(input.ID)
	if err != nil {
		return nil, err
	}

	list := sess.Resolutions()
	out := &ResolutionsOutput{}
	out.Body.State = list.State.String()
	out.Body.Variants = make([]string, 0, len(list.Variants))
	for _, v := range list.Variants {
		out.Body.Variants = append(out.Body.Variants, v.Text())
	}
	return out, nil
}

// Export assembles and returns a snapshot.
func (h *SessionHandler) Export(ctx context.Context, input *ExportSessionInput) (*ExportSessionOutput, error) {
	snap, jsonPath, pngPath, err := h.sessions.Export(ctx, input.ID, input.Body.WriteFiles)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return nil, huma.Error404NotFound(fmt.Sprintf("session %s not found", input.ID))
		}
		return nil, huma.Error500InternalServerError("failed to export session", err)
	}

	out := &ExportSessionOutput{}
	out.Body.Snapshot = snap
	out.Body.JSONFile = jsonPath
	out.Body.PNGFile = pngPath
	return out, nil
}

// CaptureRaw records an externally captured header block.
func (h *SessionHandler) CaptureRaw(ctx context.Context, input *CaptureRawInput) (*CaptureRawOutput, error) {
	if input.Body.URL == "" {
		return nil, huma.Error422UnprocessableEntity("url is required")
	}

	if err := h.sessions.CaptureRaw(input.ID, input.Body.URL, input.Body.Headers); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return nil, huma.Error404NotFound(fmt.Sprintf("session %s not found", input.ID))
		}
		return nil, huma.Error500InternalServerError("failed to record headers", err)
	}
	return &CaptureRawOutput{Status: 204}, nil
}

func (h *SessionHandler) lookup(id string) (*session.Session, error) {
	sess, err := h.sessions.Get(id)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return nil, huma.Error404NotFound(fmt.Sprintf("session %s not found", id))
		}
		return nil, huma.Error500InternalServerError("failed to load session", err)
	}
	return sess, nil
}

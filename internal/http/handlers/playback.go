// Package handlers provides the control API handlers for chunkplay.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/chunkplay/internal/backend"
	"github.com/jmylchreest/chunkplay/internal/manifest"
	"github.com/jmylchreest/chunkplay/internal/observability"
	"github.com/jmylchreest/chunkplay/internal/playback"
)

// PlaybackController is the controller surface the API drives.
type PlaybackController interface {
	Load(ctx context.Context, assetID string) error
	Advance(ctx context.Context) error
	Play()
	Pause()
	Stop() error
	Reset()
	Status() playback.Status
}

// PlaybackHandler exposes the playback controller over HTTP.
type PlaybackHandler struct {
	controller PlaybackController
}

// NewPlaybackHandler creates a playback handler.
func NewPlaybackHandler(controller PlaybackController) *PlaybackHandler {
	return &PlaybackHandler{controller: controller}
}

// Register registers the playback routes with the API.
func (h *PlaybackHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getPlaybackStatus",
		Method:      http.MethodGet,
		Path:        "/api/v1/playback/status",
		Summary:     "Get playback status",
		Tags:        []string{"Playback"},
	}, h.GetStatus)

	huma.Register(api, huma.Operation{
		OperationID:   "loadPlayback",
		Method:        http.MethodPost,
		Path:          "/api/v1/playback/load",
		Summary:       "Load an asset",
		Description:   "Opens a buffer, loads the asset manifest and buffers the first chunk. Only valid when idle.",
		Tags:          []string{"Playback"},
		DefaultStatus: http.StatusOK,
	}, h.Load)

	h.registerAction(api, "playPlayback", "play", "Resume playback", func(context.Context) error {
		h.controller.Play()
		return nil
	})
	h.registerAction(api, "pausePlayback", "pause", "Pause playback", func(context.Context) error {
		h.controller.Pause()
		return nil
	})
	h.registerAction(api, "stopPlayback", "stop", "Stop fetching and end the stream", func(context.Context) error {
		return h.controller.Stop()
	})
	h.registerAction(api, "resetPlayback", "reset", "Abandon the session and return to idle", func(context.Context) error {
		h.controller.Reset()
		return nil
	})
	h.registerAction(api, "advancePlayback", "advance", "Fetch the next chunk now", func(ctx context.Context) error {
		err := h.controller.Advance(ctx)
		if errors.Is(err, playback.ErrEndOfStream) {
			return nil
		}
		return err
	})
}

func (h *PlaybackHandler) registerAction(api huma.API, id, action, summary string, fn func(context.Context) error) {
	huma.Register(api, huma.Operation{
		OperationID:   id,
		Method:        http.MethodPost,
		Path:          "/api/v1/playback/" + action,
		Summary:       summary,
		Tags:          []string{"Playback"},
		DefaultStatus: http.StatusOK,
	}, func(ctx context.Context, _ *PlaybackActionInput) (*PlaybackStatusOutput, error) {
		if err := fn(ctx); err != nil {
			return nil, playbackError(ctx, action, err)
		}
		return h.statusOutput(), nil
	})
}

// GetStatus returns the controller status.
func (h *PlaybackHandler) GetStatus(_ context.Context, _ *PlaybackActionInput) (*PlaybackStatusOutput, error) {
	return h.statusOutput(), nil
}

// Load starts a session for the requested asset.
func (h *PlaybackHandler) Load(ctx context.Context, input *LoadPlaybackInput) (*PlaybackStatusOutput, error) {
	if err := h.controller.Load(ctx, input.Body.AssetID); err != nil {
		return nil, playbackError(ctx, "load", err)
	}
	return h.statusOutput(), nil
}

func (h *PlaybackHandler) statusOutput() *PlaybackStatusOutput {
	return &PlaybackStatusOutput{Body: PlaybackStatusFromController(h.controller.Status())}
}

// playbackError maps controller errors onto HTTP statuses.
func playbackError(ctx context.Context, action string, err error) error {
	observability.WithError(observability.LoggerFromContext(ctx), err).Warn("playback action failed",
		"action", action,
	)

	switch {
	case errors.Is(err, playback.ErrInvalidState),
		errors.Is(err, playback.ErrAlreadyInFlight):
		return huma.Error409Conflict(action+" not allowed in current state", err)
	case errors.Is(err, playback.ErrRetryBackoff):
		return huma.Error429TooManyRequests("chunk retry is backing off", err)
	case errors.Is(err, playback.ErrSourceTimeout):
		return huma.Error504GatewayTimeout("playback source did not open", err)
	case errors.Is(err, manifest.ErrManifestFetch),
		errors.Is(err, manifest.ErrManifestParse),
		errors.Is(err, backend.ErrChunkFetch):
		return huma.Error502BadGateway(action+" failed against backend", err)
	default:
		return huma.Error500InternalServerError(action+" failed", err)
	}
}

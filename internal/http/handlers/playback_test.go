package handlers_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/chunkplay/internal/backend"
	"github.com/jmylchreest/chunkplay/internal/http/handlers"
	"github.com/jmylchreest/chunkplay/internal/manifest"
	"github.com/jmylchreest/chunkplay/internal/playback"
)

type fakeController struct {
	loadErr    error
	advanceErr error
	stopErr    error
	loaded     string
	calls      []string
	status     playback.Status
}

func (f *fakeController) Load(_ context.Context, assetID string) error {
	f.calls = append(f.calls, "load")
	f.loaded = assetID
	return f.loadErr
}

func (f *fakeController) Advance(context.Context) error {
	f.calls = append(f.calls, "advance")
	return f.advanceErr
}

func (f *fakeController) Play()  { f.calls = append(f.calls, "play") }
func (f *fakeController) Pause() { f.calls = append(f.calls, "pause") }
func (f *fakeController) Reset() { f.calls = append(f.calls, "reset") }

func (f *fakeController) Stop() error {
	f.calls = append(f.calls, "stop")
	return f.stopErr
}

func (f *fakeController) Status() playback.Status {
	return f.status
}

func setupPlaybackRouter(ctrl handlers.PlaybackController) *chi.Mux {
	router := chi.NewRouter()
	api := humachi.New(router, huma.DefaultConfig("Test API", "1.0.0"))
	handlers.NewPlaybackHandler(ctrl).Register(api)
	return router
}

func doRequest(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestPlaybackHandler_Status(t *testing.T) {
	ctrl := &fakeController{status: playback.Status{
		SessionID:       "01J0000000000000000000000",
		AssetID:         "song",
		State:           "streaming",
		Message:         "chunk 2 buffered",
		Cursor:          2,
		LastIndex:       5,
		InFlight:        []int{3},
		Position:        1500 * time.Millisecond,
		BufferedThrough: 10 * time.Second,
		Stats:           playback.Stats{ChunksAppended: 2},
	}}
	router := setupPlaybackRouter(ctrl)

	rec := doRequest(router, http.MethodGet, "/api/v1/playback/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp handlers.PlaybackStatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "streaming", resp.State)
	assert.Equal(t, "song", resp.AssetID)
	assert.Equal(t, 2, resp.Cursor)
	assert.Equal(t, 5, resp.LastIndex)
	assert.Equal(t, []int{3}, resp.InFlight)
	assert.InDelta(t, 1.5, resp.PositionSeconds, 0.0001)
	assert.InDelta(t, 10.0, resp.BufferedThroughSeconds, 0.0001)
	assert.Equal(t, 2, resp.Stats.ChunksAppended)
}

func TestPlaybackHandler_Load(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		ctrl := &fakeController{status: playback.Status{State: "streaming"}}
		rec := doRequest(setupPlaybackRouter(ctrl), http.MethodPost, "/api/v1/playback/load", `{"asset_id": "song"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "song", ctrl.loaded)
	})

	t.Run("missing asset id", func(t *testing.T) {
		ctrl := &fakeController{}
		rec := doRequest(setupPlaybackRouter(ctrl), http.MethodPost, "/api/v1/playback/load", `{"asset_id": ""}`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Empty(t, ctrl.calls)
	})

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not idle", fmt.Errorf("%w: cannot load while streaming", playback.ErrInvalidState), http.StatusConflict},
		{"manifest fetch", fmt.Errorf("%w: 404", manifest.ErrManifestFetch), http.StatusBadGateway},
		{"manifest parse", manifest.ErrManifestParse, http.StatusBadGateway},
		{"first chunk", &playback.ChunkError{Index: 1, Op: playback.OpFetch, Err: backend.ErrChunkFetch}, http.StatusBadGateway},
		{"source timeout", playback.ErrSourceTimeout, http.StatusGatewayTimeout},
		{"other", assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &fakeController{loadErr: tt.err}
			rec := doRequest(setupPlaybackRouter(ctrl), http.MethodPost, "/api/v1/playback/load", `{"asset_id": "song"}`)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestPlaybackHandler_Actions(t *testing.T) {
	ctrl := &fakeController{status: playback.Status{State: "streaming"}}
	router := setupPlaybackRouter(ctrl)

	for _, action := range []string{"play", "pause", "advance", "stop", "reset"} {
		rec := doRequest(router, http.MethodPost, "/api/v1/playback/"+action, "")
		assert.Equal(t, http.StatusOK, rec.Code, action)
	}
	assert.Equal(t, []string{"play", "pause", "advance", "stop", "reset"}, ctrl.calls)
}

func TestPlaybackHandler_AdvanceErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"end of stream", playback.ErrEndOfStream, http.StatusOK},
		{"in flight", playback.ErrAlreadyInFlight, http.StatusConflict},
		{"backoff", playback.ErrRetryBackoff, http.StatusTooManyRequests},
		{"fetch", &playback.ChunkError{Index: 2, Op: playback.OpFetch, Err: backend.ErrChunkFetch}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &fakeController{advanceErr: tt.err, status: playback.Status{State: "ended"}}
			rec := doRequest(setupPlaybackRouter(ctrl), http.MethodPost, "/api/v1/playback/advance", "")
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestPlaybackHandler_StopInvalidState(t *testing.T) {
	ctrl := &fakeController{stopErr: playback.ErrInvalidState}
	rec := doRequest(setupPlaybackRouter(ctrl), http.MethodPost, "/api/v1/playback/stop", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

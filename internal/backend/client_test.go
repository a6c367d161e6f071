package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/chunkplay/internal/config"
	"github.com/jmylchreest/chunkplay/internal/manifest"
	"github.com/jmylchreest/chunkplay/pkg/httpclient"
)

func testBackendConfig(baseURL string) config.BackendConfig {
	return config.BackendConfig{
		BaseURL:                 baseURL,
		Timeout:                 5 * time.Second,
		RetryDelay:              10 * time.Millisecond,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   time.Second,
		MaxChunkSize:            config.ByteSize(1024),
	}
}

func newTestBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(MetadataPath, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") != "song" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"file_size": 6, "chunks": {"1": {"id": "a"}, "2": {"id": "b"}}}`))
	})
	mux.HandleFunc(ChunkPath, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("id") {
		case "a":
			w.Write([]byte("aaa"))
		case "b":
			w.WriteHeader(http.StatusPartialContent)
			w.Write([]byte("bbb"))
		case "big":
			w.Write([]byte(strings.Repeat("x", 4096)))
		case "auth":
			if r.Header.Get("Authorization") != "Bearer token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte("ok"))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestClient_FetchManifest(t *testing.T) {
	server := newTestBackend(t)
	client, err := NewClient(testBackendConfig(server.URL+"/"), nil)
	require.NoError(t, err)

	data, err := client.FetchManifest(context.Background(), "song")
	require.NoError(t, err)

	m, err := manifest.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, 2, m.LastIndex())

	_, err = client.FetchManifest(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, manifest.ErrManifestFetch)

	var statusErr *httpclient.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}

func TestClient_FetchChunk(t *testing.T) {
	server := newTestBackend(t)
	client, err := NewClient(testBackendConfig(server.URL), nil)
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("ok", func(t *testing.T) {
		data, err := client.FetchChunk(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "aaa", string(data))
	})

	t.Run("partial content", func(t *testing.T) {
		data, err := client.FetchChunk(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, "bbb", string(data))
	})

	t.Run("server error", func(t *testing.T) {
		_, err := client.FetchChunk(ctx, "broken")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrChunkFetch)
	})

	t.Run("too large", func(t *testing.T) {
		_, err := client.FetchChunk(ctx, "big")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrChunkFetch)
		assert.ErrorIs(t, err, httpclient.ErrResponseTooLarge)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := client.FetchChunk(cctx, "a")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrChunkFetch)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestClient_BearerToken(t *testing.T) {
	server := newTestBackend(t)

	anon, err := NewClient(testBackendConfig(server.URL), nil)
	require.NoError(t, err)
	_, err = anon.FetchChunk(context.Background(), "auth")
	assert.ErrorIs(t, err, ErrChunkFetch)

	cfg := testBackendConfig(server.URL)
	cfg.AuthToken = "token"
	authed, err := NewClient(cfg, nil)
	require.NoError(t, err)
	data, err := authed.FetchChunk(context.Background(), "auth")
	require.NoError(t, err)
	assert.Equal(t, "ok", string(data))
}

func TestClient_QueryEscaping(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query().Get("id")
		w.Write([]byte("x"))
	}))
	defer server.Close()

	client, err := NewClient(testBackendConfig(server.URL), nil)
	require.NoError(t, err)
	_, err = client.FetchChunk(context.Background(), "a b&c")
	require.NoError(t, err)
	assert.Equal(t, "a b&c", got)
}

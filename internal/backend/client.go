// Package backend talks to the chunking backend that serves asset manifests
// at /metadata and chunk bytes at /chunk.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/jmylchreest/chunkplay/internal/config"
	"github.com/jmylchreest/chunkplay/internal/manifest"
	"github.com/jmylchreest/chunkplay/internal/version"
	"github.com/jmylchreest/chunkplay/pkg/httpclient"
)

// ErrChunkFetch is returned when chunk bytes cannot be retrieved.
var ErrChunkFetch = errors.New("chunk fetch failed")

// Endpoint paths relative to the base URL.
const (
	MetadataPath = "/metadata"
	ChunkPath    = "/chunk"
)

// Client fetches manifests and chunks from the backend.
type Client struct {
	baseURL *url.URL
	http    *httpclient.Client
	logger  *slog.Logger
}

// NewClient creates a backend client from configuration.
func NewClient(cfg config.BackendConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing backend base url: %w", err)
	}

	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = cfg.Timeout
	httpCfg.RetryAttempts = cfg.RetryAttempts
	httpCfg.RetryDelay = cfg.RetryDelay
	httpCfg.CircuitThreshold = cfg.CircuitBreakerThreshold
	httpCfg.CircuitTimeout = cfg.CircuitBreakerTimeout
	httpCfg.MaxResponseSize = cfg.MaxChunkSize.Bytes()
	httpCfg.BearerToken = cfg.AuthToken
	httpCfg.UserAgent = version.UserAgent()
	httpCfg.Logger = logger.With(slog.String("component", "httpclient"))

	return &Client{
		baseURL: base,
		http:    httpclient.New(httpCfg),
		logger:  logger,
	}, nil
}

// FetchManifest retrieves the raw manifest JSON for an asset.
func (c *Client) FetchManifest(ctx context.Context, assetID string) ([]byte, error) {
	data, err := c.get(ctx, MetadataPath, assetID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", manifest.ErrManifestFetch, err)
	}
	return data, nil
}

// FetchChunk retrieves the bytes of one chunk. It makes a single request;
// retrying is the caller's decision.
func (c *Client) FetchChunk(ctx context.Context, id manifest.ChunkID) ([]byte, error) {
	start := time.Now()
	data, err := c.get(ctx, ChunkPath, id.String())
	if err != nil {
		return nil, fmt.Errorf("%w: chunk %s: %w", ErrChunkFetch, id, err)
	}

	c.logger.Debug("chunk fetched",
		slog.String("chunk_id", id.String()),
		slog.Int("bytes", len(data)),
		slog.Duration("duration", time.Since(start)),
	)
	return data, nil
}

// CircuitStats exposes the transport's circuit breaker counters.
func (c *Client) CircuitStats() httpclient.CircuitBreakerStats {
	return c.http.CircuitStats()
}

// ResetCircuit forces the backend circuit breaker closed.
func (c *Client) ResetCircuit() {
	c.http.ResetCircuit()
	c.logger.Info("backend circuit reset")
}

func (c *Client) get(ctx context.Context, path, id string) ([]byte, error) {
	u := c.baseURL.JoinPath(path)
	u.RawQuery = url.Values{"id": []string{id}}.Encode()
	return c.http.GetBytes(ctx, u.String())
}

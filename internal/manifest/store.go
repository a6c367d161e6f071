package manifest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Source fetches raw manifest JSON for an asset.
type Source interface {
	FetchManifest(ctx context.Context, assetID string) ([]byte, error)
}

// Store holds the manifest of the active session. It is written once by Load
// and read-only afterwards until Reset.
type Store struct {
	mu       sync.RWMutex
	manifest *Manifest
	assetID  string
	logger   *slog.Logger
}

// NewStore creates an empty store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{logger: logger}
}

// Load fetches and parses the manifest for assetID and makes it current.
func (s *Store) Load(ctx context.Context, src Source, assetID string) (*Manifest, error) {
	data, err := src.FetchManifest(ctx, assetID)
	if err != nil {
		return nil, fmt.Errorf("%w: asset %s: %w", ErrManifestFetch, assetID, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.manifest = m
	s.assetID = assetID
	s.mu.Unlock()

	s.logger.Debug("manifest loaded",
		slog.String("asset_id", assetID),
		slog.Int("chunks", m.Len()),
		slog.Int64("total_size", m.TotalSize),
	)
	return m, nil
}

// Lookup returns the descriptor for index from the current manifest.
func (s *Store) Lookup(index int) (ChunkDescriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.manifest.Lookup(index)
}

// Has reports whether index exists in the current manifest.
func (s *Store) Has(index int) bool {
	_, ok := s.Lookup(index)
	return ok
}

// Manifest returns the current manifest, nil when none is loaded.
func (s *Store) Manifest() *Manifest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.manifest
}

// AssetID returns the asset of the current manifest.
func (s *Store) AssetID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.assetID
}

// Reset discards the current manifest.
func (s *Store) Reset() {
	s.mu.Lock()
	s.manifest = nil
	s.assetID = ""
	s.mu.Unlock()
}

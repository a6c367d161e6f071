package manifest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	data := []byte(`{
		"file_size": 1000,
		"chunks": {
			"2": {"id": 7, "size": 512, "startOffset": 10.0, "endOffset": 20.5},
			"1": {"id": "a", "startOffset": 0, "endOffset": 10}
		}
	}`)

	m, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, int64(1000), m.TotalSize)
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, 2, m.LastIndex())

	first, ok := m.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, ChunkID("a"), first.ID)
	assert.Equal(t, int64(0), first.ByteLength)
	assert.Equal(t, 10*time.Second, first.Duration())

	second, ok := m.Lookup(2)
	require.True(t, ok)
	assert.Equal(t, ChunkID("7"), second.ID)
	assert.Equal(t, int64(512), second.ByteLength)
	assert.Equal(t, 10500*time.Millisecond, second.Duration())

	_, ok = m.Lookup(3)
	assert.False(t, ok)

	chunks := m.Chunks()
	require.Len(t, chunks, 2)
	assert.Equal(t, 1, chunks[0].Index)
	assert.Equal(t, 2, chunks[1].Index)
	assert.Equal(t, 20500*time.Millisecond, m.TotalDuration())
}

func TestParse_CamelCaseFileSize(t *testing.T) {
	m, err := Parse([]byte(`{"fileSize": 42, "chunks": {"1": {"id": "x"}}}`))
	require.NoError(t, err)
	assert.Equal(t, int64(42), m.TotalSize)
}

func TestParse_MissingFileSizeIsZero(t *testing.T) {
	m, err := Parse([]byte(`{"chunks": {"1": {"id": "x"}}}`))
	require.NoError(t, err)
	assert.Zero(t, m.TotalSize)
}

func TestParse_EmptyChunks(t *testing.T) {
	m, err := Parse([]byte(`{"file_size": 0, "chunks": {}}`))
	require.NoError(t, err)
	assert.Zero(t, m.LastIndex())
	_, ok := m.Lookup(1)
	assert.False(t, ok)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"malformed json", `{"chunks":`},
		{"missing chunks", `{"file_size": 10}`},
		{"null chunks", `{"chunks": null}`},
		{"non integer key", `{"chunks": {"one": {"id": "a"}}}`},
		{"zero key", `{"chunks": {"0": {"id": "a"}}}`},
		{"missing id", `{"chunks": {"1": {"size": 3}}}`},
		{"empty id", `{"chunks": {"1": {"id": ""}}}`},
		{"boolean id", `{"chunks": {"1": {"id": true}}}`},
		{"negative size", `{"chunks": {"1": {"id": "a", "size": -1}}}`},
		{"negative file size", `{"file_size": -5, "chunks": {"1": {"id": "a"}}}`},
		{"gap", `{"chunks": {"1": {"id": "a"}, "3": {"id": "c"}}}`},
		{"does not start at one", `{"chunks": {"2": {"id": "b"}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrManifestParse)
		})
	}
}

func TestChunkDescriptor_Duration(t *testing.T) {
	assert.Zero(t, ChunkDescriptor{}.Duration())
	assert.Zero(t, ChunkDescriptor{Start: 5 * time.Second, End: 2 * time.Second}.Duration())
	assert.Equal(t, 3*time.Second, ChunkDescriptor{Start: 2 * time.Second, End: 5 * time.Second}.Duration())
}

func TestNilManifest(t *testing.T) {
	var m *Manifest
	_, ok := m.Lookup(1)
	assert.False(t, ok)
	assert.Zero(t, m.LastIndex())
	assert.Zero(t, m.Len())
	assert.Nil(t, m.Chunks())
}

type stubSource struct {
	data []byte
	err  error
	ids  []string
}

func (s *stubSource) FetchManifest(_ context.Context, assetID string) ([]byte, error) {
	s.ids = append(s.ids, assetID)
	return s.data, s.err
}

func TestStore(t *testing.T) {
	t.Run("load and lookup", func(t *testing.T) {
		store := NewStore(nil)
		src := &stubSource{data: []byte(`{"file_size": 1000, "chunks": {"1": {"id": "a"}, "2": {"id": "b"}}}`)}

		m, err := store.Load(context.Background(), src, "asset-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"asset-1"}, src.ids)
		assert.Same(t, m, store.Manifest())
		assert.Equal(t, "asset-1", store.AssetID())

		desc, ok := store.Lookup(2)
		require.True(t, ok)
		assert.Equal(t, ChunkID("b"), desc.ID)
		assert.True(t, store.Has(1))
		assert.False(t, store.Has(3))
	})

	t.Run("fetch failure", func(t *testing.T) {
		store := NewStore(nil)
		_, err := store.Load(context.Background(), &stubSource{err: errors.New("connection refused")}, "asset-1")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrManifestFetch)
		assert.Nil(t, store.Manifest())
	})

	t.Run("parse failure", func(t *testing.T) {
		store := NewStore(nil)
		_, err := store.Load(context.Background(), &stubSource{data: []byte("not json")}, "asset-1")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrManifestParse)
		assert.NotErrorIs(t, err, ErrManifestFetch)
	})

	t.Run("reset discards manifest", func(t *testing.T) {
		store := NewStore(nil)
		_, err := store.Load(context.Background(), &stubSource{data: []byte(`{"chunks": {"1": {"id": "a"}}}`)}, "asset-1")
		require.NoError(t, err)

		store.Reset()
		assert.Nil(t, store.Manifest())
		assert.Empty(t, store.AssetID())
		assert.False(t, store.Has(1))
	})
}

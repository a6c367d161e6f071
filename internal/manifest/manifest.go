// Package manifest holds the chunk manifest of a streamable asset: the ordered
// list of chunk descriptors the backend publishes at /metadata.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

// Manifest errors.
var (
	ErrManifestFetch = errors.New("manifest fetch failed")
	ErrManifestParse = errors.New("manifest parse failed")
)

// ChunkID is the opaque backend identifier of a chunk.
type ChunkID string

// UnmarshalJSON accepts both JSON strings and numbers.
func (id *ChunkID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return errors.New("chunk id is null")
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ChunkID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("chunk id must be a string or number: %w", err)
	}
	*id = ChunkID(n.String())
	return nil
}

// String returns the identifier as a string.
func (id ChunkID) String() string {
	return string(id)
}

// ChunkDescriptor describes one chunk of the asset.
type ChunkDescriptor struct {
	Index int
	ID    ChunkID
	// ByteLength is 0 when the backend did not report a size.
	ByteLength int64
	Start      time.Duration
	End        time.Duration
}

// Duration returns the playable duration of the chunk, or 0 when the
// manifest carries no usable offsets.
func (c ChunkDescriptor) Duration() time.Duration {
	if d := c.End - c.Start; d > 0 {
		return d
	}
	return 0
}

// Manifest is the immutable chunk table of one asset. Indices run
// contiguously from 1 to LastIndex.
type Manifest struct {
	TotalSize int64
	chunks    map[int]ChunkDescriptor
	last      int
}

// Lookup returns the descriptor for index. False means the index is past the
// end of the asset.
func (m *Manifest) Lookup(index int) (ChunkDescriptor, bool) {
	if m == nil {
		return ChunkDescriptor{}, false
	}
	c, ok := m.chunks[index]
	return c, ok
}

// LastIndex returns the highest chunk index, 0 for an empty manifest.
func (m *Manifest) LastIndex() int {
	if m == nil {
		return 0
	}
	return m.last
}

// Len returns the number of chunks.
func (m *Manifest) Len() int {
	if m == nil {
		return 0
	}
	return len(m.chunks)
}

// Chunks returns the descriptors in index order.
func (m *Manifest) Chunks() []ChunkDescriptor {
	if m == nil {
		return nil
	}
	out := make([]ChunkDescriptor, 0, len(m.chunks))
	for i := 1; i <= m.last; i++ {
		out = append(out, m.chunks[i])
	}
	return out
}

// TotalDuration sums the known chunk durations.
func (m *Manifest) TotalDuration() time.Duration {
	var total time.Duration
	for _, c := range m.Chunks() {
		total += c.Duration()
	}
	return total
}

type wireChunk struct {
	ID          *ChunkID `json:"id"`
	Size        *int64   `json:"size"`
	StartOffset *float64 `json:"startOffset"`
	EndOffset   *float64 `json:"endOffset"`
}

type wireManifest struct {
	FileSize      *int64                `json:"file_size"`
	FileSizeCamel *int64                `json:"fileSize"`
	Chunks        map[string]*wireChunk `json:"chunks"`
}

// Parse decodes the backend's manifest JSON. All failures wrap ErrManifestParse.
func Parse(data []byte) (*Manifest, error) {
	var wire wireManifest
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrManifestParse, err)
	}
	if wire.Chunks == nil {
		return nil, fmt.Errorf("%w: missing chunks", ErrManifestParse)
	}

	m := &Manifest{chunks: make(map[int]ChunkDescriptor, len(wire.Chunks))}

	switch {
	case wire.FileSize != nil:
		m.TotalSize = *wire.FileSize
	case wire.FileSizeCamel != nil:
		m.TotalSize = *wire.FileSizeCamel
	}
	if m.TotalSize < 0 {
		return nil, fmt.Errorf("%w: negative file size %d", ErrManifestParse, m.TotalSize)
	}

	indices := make([]int, 0, len(wire.Chunks))
	for key, wc := range wire.Chunks {
		index, err := strconv.Atoi(key)
		if err != nil || index < 1 {
			return nil, fmt.Errorf("%w: invalid chunk index %q", ErrManifestParse, key)
		}
		desc, err := decodeChunk(index, wc)
		if err != nil {
			return nil, fmt.Errorf("%w: chunk %d: %w", ErrManifestParse, index, err)
		}
		m.chunks[index] = desc
		indices = append(indices, index)
	}

	sort.Ints(indices)
	for i, index := range indices {
		if index != i+1 {
			return nil, fmt.Errorf("%w: chunk %d missing", ErrManifestParse, i+1)
		}
	}
	m.last = len(indices)

	return m, nil
}

func decodeChunk(index int, wc *wireChunk) (ChunkDescriptor, error) {
	if wc == nil || wc.ID == nil || *wc.ID == "" {
		return ChunkDescriptor{}, errors.New("missing id")
	}

	desc := ChunkDescriptor{Index: index, ID: *wc.ID}
	if wc.Size != nil {
		if *wc.Size < 0 {
			return ChunkDescriptor{}, fmt.Errorf("negative size %d", *wc.Size)
		}
		desc.ByteLength = *wc.Size
	}
	if wc.StartOffset != nil {
		desc.Start = seconds(*wc.StartOffset)
	}
	if wc.EndOffset != nil {
		desc.End = seconds(*wc.EndOffset)
	}
	return desc, nil
}

func seconds(s float64) time.Duration {
	if math.IsNaN(s) || s < 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}

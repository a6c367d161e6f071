package playback

import (
	"errors"
	"fmt"

	"github.com/jmylchreest/chunkplay/internal/manifest"
)

// Controller errors.
var (
	// ErrEndOfStream reports that there is no chunk after the cursor. It is
	// control flow, not a failure.
	ErrEndOfStream      = errors.New("end of stream")
	ErrInvalidState     = errors.New("invalid playback state")
	ErrAlreadyInFlight  = errors.New("chunk already in flight")
	ErrRetriesExhausted = errors.New("chunk retries exhausted")
	ErrRetryBackoff     = errors.New("chunk retry backing off")
	ErrSourceTimeout    = errors.New("timed out waiting for source to open")
	errStaleSession     = errors.New("session no longer active")
)

// Chunk operations reported in ChunkError.
const (
	OpFetch  = "fetch"
	OpAppend = "append"
)

// ChunkError carries the chunk a fetch or append failed for.
type ChunkError struct {
	Index   int
	ChunkID manifest.ChunkID
	Op      string
	Err     error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("%s chunk %d (id %s): %v", e.Op, e.Index, e.ChunkID, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

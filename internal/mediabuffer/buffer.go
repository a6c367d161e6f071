// Package mediabuffer defines the append-only playback buffer a controller
// feeds chunks into, an in-memory implementation, and the serializer that
// keeps appends from overlapping.
package mediabuffer

import (
	"errors"
	"time"
)

// Buffer errors.
var (
	ErrAppend        = errors.New("append failed")
	ErrBufferNotOpen = errors.New("buffer not open")
	ErrBufferBusy    = errors.New("buffer is still processing an append")
	ErrAborted       = errors.New("append aborted")
)

// State is the lifecycle state of a buffer.
type State int

const (
	// StateOpening means the engine has not attached the buffer yet.
	StateOpening State = iota
	// StateOpen accepts appends.
	StateOpen
	// StateEnded means end of stream was signalled or the buffer was aborted.
	StateEnded
	// StateErrored means the buffer failed and accepts nothing further.
	StateErrored
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateEnded:
		return "ended"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Segment is one chunk's worth of media appended to a buffer.
type Segment struct {
	Index    int
	Data     []byte
	Duration time.Duration
}

// Buffer is an append-only media buffer with a single asynchronous writer.
//
// Append issues the write and returns a channel that receives exactly one
// value when the write completes: nil on success or the failure. Issuing a
// second Append before the first completes fails with ErrBufferBusy.
type Buffer interface {
	Append(seg Segment) (<-chan error, error)
	// BufferedThrough is the playback time up to which media is buffered.
	// It never decreases.
	BufferedThrough() time.Duration
	State() State
	// Ready is closed once the engine has opened the buffer.
	Ready() <-chan struct{}
	// EndOfStream marks the buffer complete; no appends are accepted afterwards.
	EndOfStream() error
	// Abort cancels any outstanding append, which then completes with
	// ErrAborted, and closes the buffer.
	Abort()
}

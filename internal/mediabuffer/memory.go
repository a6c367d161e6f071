package mediabuffer

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// MemoryOptions configures a MemoryBuffer.
type MemoryOptions struct {
	MimeType string
	// Sink receives appended bytes in order. Optional.
	Sink io.Writer
	// Validate rejects corrupt or undecodable segments. Optional.
	Validate func(Segment) error
	// AppendDelay simulates decode time for each append.
	AppendDelay time.Duration
	Logger      *slog.Logger
}

// MemoryStats is a snapshot of a MemoryBuffer's counters.
type MemoryStats struct {
	Segments        int           `json:"segments"`
	Bytes           int64         `json:"bytes"`
	BufferedThrough time.Duration `json:"buffered_through"`
	// OverlappingAppends counts Append calls made while another was outstanding.
	OverlappingAppends int `json:"overlapping_appends"`
}

// MemoryBuffer is an in-process Buffer. Appends complete on their own
// goroutine, mimicking an engine that decodes asynchronously.
type MemoryBuffer struct {
	opts   MemoryOptions
	logger *slog.Logger

	mu              sync.Mutex
	state           State
	ready           chan struct{}
	updating        bool
	abort           chan struct{}
	bufferedThrough time.Duration
	segments        []int
	bytes           int64
	overlaps        int
}

// NewMemoryBuffer creates a buffer in the opening state.
func NewMemoryBuffer(opts MemoryOptions) *MemoryBuffer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryBuffer{
		opts:   opts,
		logger: logger,
		state:  StateOpening,
		ready:  make(chan struct{}),
		abort:  make(chan struct{}),
	}
}

// MimeType returns the media type the buffer was created for.
func (b *MemoryBuffer) MimeType() string {
	return b.opts.MimeType
}

// Open moves the buffer from opening to open and closes Ready.
func (b *MemoryBuffer) Open() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpening {
		return
	}
	b.state = StateOpen
	close(b.ready)
}

// Ready implements Buffer.
func (b *MemoryBuffer) Ready() <-chan struct{} {
	return b.ready
}

// State implements Buffer.
func (b *MemoryBuffer) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// BufferedThrough implements Buffer.
func (b *MemoryBuffer) BufferedThrough() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bufferedThrough
}

// Updating reports whether an append is outstanding.
func (b *MemoryBuffer) Updating() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.updating
}

// Append implements Buffer.
func (b *MemoryBuffer) Append(seg Segment) (<-chan error, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return nil, fmt.Errorf("%w: state %s", ErrBufferNotOpen, b.state)
	}
	if b.updating {
		b.overlaps++
		return nil, ErrBufferBusy
	}

	b.updating = true
	done := make(chan error, 1)
	go b.process(seg, b.abort, done)
	return done, nil
}

func (b *MemoryBuffer) process(seg Segment, abort <-chan struct{}, done chan<- error) {
	err := b.decode(seg, abort)

	b.mu.Lock()
	b.updating = false
	select {
	case <-abort:
		err = ErrAborted
	default:
	}
	if err == nil {
		b.segments = append(b.segments, seg.Index)
		b.bytes += int64(len(seg.Data))
		b.bufferedThrough += seg.Duration
	}
	b.mu.Unlock()

	if err != nil && !errors.Is(err, ErrAborted) {
		b.logger.Warn("segment rejected",
			slog.Int("index", seg.Index),
			slog.String("error", err.Error()),
		)
	}
	done <- err
}

func (b *MemoryBuffer) decode(seg Segment, abort <-chan struct{}) error {
	if b.opts.AppendDelay > 0 {
		timer := time.NewTimer(b.opts.AppendDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-abort:
			return ErrAborted
		}
	}

	if b.opts.Validate != nil {
		if err := b.opts.Validate(seg); err != nil {
			return err
		}
	}

	if b.opts.Sink != nil {
		if _, err := b.opts.Sink.Write(seg.Data); err != nil {
			b.mu.Lock()
			b.state = StateErrored
			b.mu.Unlock()
			return fmt.Errorf("writing segment %d: %w", seg.Index, err)
		}
	}
	return nil
}

// EndOfStream implements Buffer.
func (b *MemoryBuffer) EndOfStream() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case b.state == StateEnded:
		return nil
	case b.state != StateOpen:
		return fmt.Errorf("%w: state %s", ErrBufferNotOpen, b.state)
	case b.updating:
		return ErrBufferBusy
	}
	b.state = StateEnded
	return nil
}

// Abort implements Buffer.
func (b *MemoryBuffer) Abort() {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.abort:
		return
	default:
	}
	close(b.abort)
	if b.state == StateOpening || b.state == StateOpen {
		b.state = StateEnded
	}
}

// AppendedIndices returns the indices of successfully appended segments in append order.
func (b *MemoryBuffer) AppendedIndices() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int(nil), b.segments...)
}

// Stats returns a snapshot of the buffer counters.
func (b *MemoryBuffer) Stats() MemoryStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return MemoryStats{
		Segments:           len(b.segments),
		Bytes:              b.bytes,
		BufferedThrough:    b.bufferedThrough,
		OverlappingAppends: b.overlaps,
	}
}

// Package engine is an in-process playback engine. It owns a media buffer,
// advances a playback clock while playing, stalls when the clock reaches the
// end of buffered media, and reports position updates to a listener.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/chunkplay/internal/config"
	"github.com/jmylchreest/chunkplay/internal/mediabuffer"
)

// ErrUnsupportedMimeType is returned by NewBuffer for non-audio media types.
var ErrUnsupportedMimeType = errors.New("unsupported mime type")

// Engine simulates a media element driven by a ticker.
type Engine struct {
	tick       time.Duration
	speed      float64
	readyDelay time.Duration
	bufOpts    mediabuffer.MemoryOptions
	logger     *slog.Logger

	mu       sync.Mutex
	buf      *mediabuffer.MemoryBuffer
	playing  bool
	stalled  bool
	position time.Duration
	drained  chan struct{}
	listener func(time.Duration)
}

// Option configures an Engine.
type Option func(*Engine)

// WithSink writes appended media to w.
func WithSink(w io.Writer) Option {
	return func(e *Engine) { e.bufOpts.Sink = w }
}

// WithValidator installs a segment validator on created buffers.
func WithValidator(fn func(mediabuffer.Segment) error) Option {
	return func(e *Engine) { e.bufOpts.Validate = fn }
}

// WithAppendDelay simulates decode time per append.
func WithAppendDelay(d time.Duration) Option {
	return func(e *Engine) { e.bufOpts.AppendDelay = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates a paused engine with no buffer.
func New(cfg config.EngineConfig, opts ...Option) *Engine {
	e := &Engine{
		tick:       cfg.TickInterval,
		speed:      cfg.Speed,
		readyDelay: cfg.ReadyDelay,
		logger:     slog.Default(),
		drained:    make(chan struct{}),
	}
	if e.tick <= 0 {
		e.tick = 250 * time.Millisecond
	}
	if e.speed <= 0 {
		e.speed = 1
	}
	for _, opt := range opts {
		opt(e)
	}
	e.bufOpts.Logger = e.logger
	return e
}

// SetPositionListener registers the callback that receives position updates.
func (e *Engine) SetPositionListener(fn func(time.Duration)) {
	e.mu.Lock()
	e.listener = fn
	e.mu.Unlock()
}

// NewBuffer replaces the engine's buffer with a fresh one and rewinds the
// clock. The buffer opens after the configured ready delay.
func (e *Engine) NewBuffer(mimeType string) (mediabuffer.Buffer, error) {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrUnsupportedMimeType, mimeType, err)
	}
	if !strings.HasPrefix(mediaType, "audio/") {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMimeType, mimeType)
	}

	opts := e.bufOpts
	opts.MimeType = mimeType
	buf := mediabuffer.NewMemoryBuffer(opts)

	e.mu.Lock()
	e.buf = buf
	e.position = 0
	e.stalled = false
	e.drained = make(chan struct{})
	e.mu.Unlock()

	if e.readyDelay > 0 {
		time.AfterFunc(e.readyDelay, buf.Open)
	} else {
		buf.Open()
	}

	e.logger.Debug("buffer created", slog.String("mime_type", mimeType))
	return buf, nil
}

// Play starts the clock.
func (e *Engine) Play() {
	e.mu.Lock()
	e.playing = true
	e.mu.Unlock()
}

// Pause stops the clock.
func (e *Engine) Pause() {
	e.mu.Lock()
	e.playing = false
	e.mu.Unlock()
}

// Playing reports whether the clock is running.
func (e *Engine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

// Position returns the current playback position.
func (e *Engine) Position() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.position
}

// Stalled reports whether playback is waiting for more media.
func (e *Engine) Stalled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stalled
}

// Drained is closed once the current buffer has ended and been played in full.
func (e *Engine) Drained() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.drained
}

// Run advances the clock every tick until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.Tick(e.tick)
		}
	}
}

// Tick advances the clock by elapsed wall time scaled by speed and notifies
// the listener. It does nothing while paused or without an open buffer.
func (e *Engine) Tick(elapsed time.Duration) {
	e.mu.Lock()
	buf := e.buf
	if !e.playing || buf == nil {
		e.mu.Unlock()
		return
	}

	state := buf.State()
	if state == mediabuffer.StateOpening {
		e.mu.Unlock()
		return
	}

	buffered := buf.BufferedThrough()
	position := e.position + time.Duration(float64(elapsed)*e.speed)
	if position > buffered {
		position = buffered
	}
	e.position = position

	atEnd := position >= buffered
	wasStalled := e.stalled
	stalled := atEnd && state == mediabuffer.StateOpen
	e.stalled = stalled
	if atEnd && state != mediabuffer.StateOpen {
		select {
		case <-e.drained:
		default:
			close(e.drained)
			e.logger.Debug("buffer drained", slog.Duration("position", position))
		}
	}
	listener := e.listener
	e.mu.Unlock()

	if stalled != wasStalled {
		e.logger.Debug("playback stall changed",
			slog.Bool("stalled", stalled),
			slog.Duration("position", position),
		)
	}
	if listener != nil {
		listener(position)
	}
}

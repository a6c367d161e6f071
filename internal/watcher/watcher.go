// Package watcher decides, from playback position updates, when the next
// chunk must be prefetched.
package watcher

import (
	"log/slog"
	"time"
)

// DefaultThreshold is the buffered-ahead time below which a prefetch fires.
const DefaultThreshold = 3 * time.Second

// Observation is one position update together with buffer and cursor state.
type Observation struct {
	Position        time.Duration
	BufferedThrough time.Duration
	NextIndex       int
}

// Remaining returns how much buffered media is left ahead of the position.
func (o Observation) Remaining() time.Duration {
	return o.BufferedThrough - o.Position
}

// Watcher fires a trigger whenever buffered-ahead time drops below the
// threshold and the next chunk is neither reserved nor past the end.
// It is level-triggered: every qualifying update fires, and the in-flight
// tracker makes repeats harmless.
type Watcher struct {
	threshold time.Duration
	reserved  func(index int) bool
	exists    func(index int) bool
	trigger   func(index int)
	logger    *slog.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithThreshold overrides DefaultThreshold.
func WithThreshold(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.threshold = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// New creates a watcher. reserved and exists query the in-flight tracker and
// manifest; trigger receives the index to prefetch.
func New(reserved, exists func(int) bool, trigger func(int), opts ...Option) *Watcher {
	w := &Watcher{
		threshold: DefaultThreshold,
		reserved:  reserved,
		exists:    exists,
		trigger:   trigger,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Threshold returns the configured threshold.
func (w *Watcher) Threshold() time.Duration {
	return w.threshold
}

// Observe evaluates one update and reports whether it fired.
func (w *Watcher) Observe(obs Observation) bool {
	remaining := obs.Remaining()
	if remaining >= w.threshold {
		return false
	}
	if w.reserved(obs.NextIndex) || !w.exists(obs.NextIndex) {
		return false
	}

	w.logger.Debug("prefetch needed",
		slog.Int("index", obs.NextIndex),
		slog.Duration("position", obs.Position),
		slog.Duration("remaining", remaining),
	)
	w.trigger(obs.NextIndex)
	return true
}

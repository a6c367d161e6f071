package playback

import (
	"log/slog"
	"time"

	"github.com/jmylchreest/chunkplay/internal/config"
	"github.com/jmylchreest/chunkplay/internal/watcher"
)

// Defaults for Options fields left zero.
const (
	DefaultMimeType          = `audio/webm; codecs="opus"`
	DefaultChunkDuration     = 5 * time.Second
	DefaultSourceOpenTimeout = 10 * time.Second
)

// Options configures a Controller.
type Options struct {
	MimeType          string
	PrefetchThreshold time.Duration
	// DefaultChunkDuration is used for chunks whose manifest entry has no offsets.
	DefaultChunkDuration time.Duration
	// MaxChunkRetries is how many consecutive failures of one chunk are
	// tolerated before the session errors. Zero retries forever.
	MaxChunkRetries int
	// RetryBackoff is the wait after the first failure of a chunk. It doubles
	// per failure up to RetryMaxBackoff. Zero disables backoff.
	RetryBackoff      time.Duration
	RetryMaxBackoff   time.Duration
	SourceOpenTimeout time.Duration
	Logger            *slog.Logger
}

// OptionsFromConfig builds Options from the playback and engine config sections.
func OptionsFromConfig(pc config.PlaybackConfig, ec config.EngineConfig, logger *slog.Logger) Options {
	return Options{
		MimeType:             pc.MimeType,
		PrefetchThreshold:    pc.PrefetchThreshold,
		DefaultChunkDuration: pc.DefaultChunkDuration,
		MaxChunkRetries:      pc.MaxChunkRetries,
		RetryBackoff:         pc.RetryBackoff,
		RetryMaxBackoff:      pc.RetryMaxBackoff,
		SourceOpenTimeout:    ec.SourceOpenTimeout,
		Logger:               logger,
	}
}

func (o Options) withDefaults() Options {
	if o.MimeType == "" {
		o.MimeType = DefaultMimeType
	}
	if o.PrefetchThreshold <= 0 {
		o.PrefetchThreshold = watcher.DefaultThreshold
	}
	if o.DefaultChunkDuration <= 0 {
		o.DefaultChunkDuration = DefaultChunkDuration
	}
	if o.MaxChunkRetries < 0 {
		o.MaxChunkRetries = 0
	}
	if o.SourceOpenTimeout <= 0 {
		o.SourceOpenTimeout = DefaultSourceOpenTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// backoff returns the wait after the given number of consecutive failures.
func (o Options) backoff(failures int) time.Duration {
	if o.RetryBackoff <= 0 || failures <= 0 {
		return 0
	}
	d := o.RetryBackoff
	for i := 1; i < failures; i++ {
		d *= 2
		if o.RetryMaxBackoff > 0 && d >= o.RetryMaxBackoff {
			return o.RetryMaxBackoff
		}
	}
	if o.RetryMaxBackoff > 0 && d > o.RetryMaxBackoff {
		return o.RetryMaxBackoff
	}
	return d
}

// Package playback implements the controller that streams an asset chunk by
// chunk into a playback engine's buffer, staying just ahead of the listening
// position.
//
// The controller owns the cursor (the highest chunk appended so far) and only
// ever fetches cursor+1, so appends are strictly ordered. A per-session
// in-flight tracker keeps a chunk from being fetched twice at once, and a
// serializer keeps appends to the buffer from overlapping.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/chunkplay/internal/inflight"
	"github.com/jmylchreest/chunkplay/internal/manifest"
	"github.com/jmylchreest/chunkplay/internal/mediabuffer"
	"github.com/jmylchreest/chunkplay/internal/observability"
	"github.com/jmylchreest/chunkplay/internal/watcher"
)

// Engine is the playback engine the controller drives.
type Engine interface {
	// NewBuffer creates a buffer for the given media type. The buffer's Ready
	// channel closes once the engine has attached it.
	NewBuffer(mimeType string) (mediabuffer.Buffer, error)
	Play()
	Pause()
}

// Fetcher retrieves chunk bytes.
type Fetcher interface {
	FetchChunk(ctx context.Context, id manifest.ChunkID) ([]byte, error)
}

// session is the state of one Load. Reset replaces it, so work belonging to
// an old session can recognise itself and discard its results.
type session struct {
	id      string
	assetID string
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger

	store      *manifest.Store
	tracker    *inflight.Tracker
	watcher    *watcher.Watcher
	buf        mediabuffer.Buffer
	serializer *mediabuffer.Serializer

	failures map[int]int
	retryAt  map[int]time.Time
}

// Controller is the chunked playback state machine.
type Controller struct {
	source  manifest.Source
	fetcher Fetcher
	engine  Engine
	opts    Options
	logger  *slog.Logger
	now     func() time.Time

	// pipelines counts background pipelines of every session, current or not.
	pipelines sync.WaitGroup

	mu       sync.Mutex
	state    State
	message  string
	lastErr  error
	cursor   int
	position time.Duration
	stats    Stats
	sess     *session
}

// NewController creates an idle controller.
func NewController(source manifest.Source, fetcher Fetcher, engine Engine, opts Options) *Controller {
	opts = opts.withDefaults()
	return &Controller{
		source:  source,
		fetcher: fetcher,
		engine:  engine,
		opts:    opts,
		logger:  observability.WithComponent(opts.Logger, "playback"),
		now:     time.Now,
		state:   StateIdle,
		message: "idle",
	}
}

// Load starts a session for assetID: it creates a buffer, waits for the
// engine to open it, loads the manifest and appends chunk 1. Load is only
// valid when idle. Any failure leaves the controller errored.
func (c *Controller) Load(ctx context.Context, assetID string) (err error) {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot load while %s", ErrInvalidState, state)
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	sess := &session{
		id:       ulid.Make().String(),
		assetID:  assetID,
		ctx:      sessCtx,
		cancel:   cancel,
		store:    manifest.NewStore(c.logger),
		tracker:  inflight.New(),
		failures: make(map[int]int),
		retryAt:  make(map[int]time.Time),
	}
	sess.logger = observability.WithSession(c.logger, sess.id).With(slog.String("asset_id", assetID))
	sess.watcher = watcher.New(
		sess.tracker.Reserved,
		sess.store.Has,
		func(index int) { c.spawn(sess, index) },
		watcher.WithThreshold(c.opts.PrefetchThreshold),
		watcher.WithLogger(sess.logger),
	)

	c.sess = sess
	c.cursor = 0
	c.position = 0
	c.stats = Stats{}
	c.lastErr = nil
	c.setStateLocked(StateOpening, "opening source")
	c.mu.Unlock()

	defer observability.TimedOperationWithError(ctx, sess.logger, "load", &err)()

	loadCtx, stop := mergeContext(ctx, sess)
	defer stop()

	if err := c.open(loadCtx, sess); err != nil {
		return c.fail(sess, err)
	}

	m, err := sess.store.Load(loadCtx, c.source, assetID)
	if err != nil {
		return c.fail(sess, err)
	}
	sess.logger.Info("manifest loaded",
		slog.Int("chunks", m.Len()),
		slog.Int64("total_size", m.TotalSize),
	)

	if m.LastIndex() == 0 {
		c.mu.Lock()
		if c.sess == sess {
			c.endLocked(sess)
		}
		c.mu.Unlock()
		return nil
	}

	if err := c.runPipeline(loadCtx, sess, 1); err != nil {
		if errors.Is(err, errStaleSession) {
			return fmt.Errorf("%w: %w", ErrInvalidState, err)
		}
		return c.fail(sess, err)
	}
	return nil
}

// open creates the session buffer and waits for the engine to attach it.
func (c *Controller) open(ctx context.Context, sess *session) error {
	buf, err := c.engine.NewBuffer(c.opts.MimeType)
	if err != nil {
		return fmt.Errorf("creating buffer: %w", err)
	}

	c.mu.Lock()
	if c.sess != sess {
		c.mu.Unlock()
		buf.Abort()
		return errStaleSession
	}
	sess.buf = buf
	sess.serializer = mediabuffer.NewSerializer(buf)
	c.mu.Unlock()

	timer := time.NewTimer(c.opts.SourceOpenTimeout)
	defer timer.Stop()

	select {
	case <-buf.Ready():
		return nil
	case <-timer.C:
		return fmt.Errorf("%w after %s", ErrSourceTimeout, c.opts.SourceOpenTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnPositionUpdate is called by the engine as playback progresses. When the
// next chunk does not exist the session ends; otherwise the watcher decides
// whether to prefetch it.
func (c *Controller) OnPositionUpdate(position time.Duration) {
	c.mu.Lock()
	if c.state != StateStreaming {
		c.mu.Unlock()
		return
	}
	sess := c.sess
	c.position = position
	next := c.cursor + 1
	if !sess.store.Has(next) {
		c.endLocked(sess)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	sess.watcher.Observe(watcher.Observation{
		Position:        position,
		BufferedThrough: sess.buf.BufferedThrough(),
		NextIndex:       next,
	})
}

// spawn runs the pipeline for index in the background.
func (c *Controller) spawn(sess *session, index int) {
	c.mu.Lock()
	if c.sess != sess || c.state != StateStreaming || c.backingOffLocked(sess, index) {
		c.mu.Unlock()
		return
	}
	c.pipelines.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.pipelines.Done()
		if err := c.runPipeline(sess.ctx, sess, index); err != nil {
			sess.logger.Debug("prefetch pipeline finished without append",
				slog.Int("index", index),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Advance fetches and appends the next chunk now, ignoring the prefetch
// threshold. It still honours the in-flight tracker and retry backoff.
func (c *Controller) Advance(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateStreaming:
	case StateEnded:
		c.mu.Unlock()
		return ErrEndOfStream
	default:
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot advance while %s", ErrInvalidState, state)
	}
	sess := c.sess
	next := c.cursor + 1
	c.mu.Unlock()

	runCtx, stop := mergeContext(ctx, sess)
	defer stop()

	err := c.runPipeline(runCtx, sess, next)
	if errors.Is(err, errStaleSession) {
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	return err
}

// runPipeline reserves, fetches and appends chunk index for sess.
func (c *Controller) runPipeline(ctx context.Context, sess *session, index int) error {
	if !sess.tracker.TryReserve(index) {
		c.mu.Lock()
		if c.sess == sess {
			c.stats.DuplicateTriggers++
		}
		c.mu.Unlock()
		return ErrAlreadyInFlight
	}

	desc, err := c.admit(sess, index)
	if err != nil {
		sess.tracker.Release(index)
		return err
	}

	log := sess.logger.With(slog.Int("index", index), slog.String("chunk_id", desc.ID.String()))
	log.Debug("fetching chunk")

	data, err := c.fetcher.FetchChunk(ctx, desc.ID)
	if err != nil {
		return c.chunkFailed(sess, desc, OpFetch, err)
	}

	c.mu.Lock()
	if c.sess == sess {
		c.stats.ChunksFetched++
	}
	c.mu.Unlock()

	duration := desc.Duration()
	if duration == 0 {
		duration = c.opts.DefaultChunkDuration
	}
	seg := mediabuffer.Segment{Index: index, Data: data, Duration: duration}
	if err := sess.serializer.AppendAndAwait(ctx, seg); err != nil {
		return c.chunkFailed(sess, desc, OpAppend, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	sess.tracker.Release(index)

	if c.sess != sess {
		return errStaleSession
	}

	c.cursor = index
	delete(sess.failures, index)
	delete(sess.retryAt, index)
	c.stats.ChunksAppended++
	c.stats.BytesAppended += int64(len(data))

	if c.state == StateOpening {
		c.setStateLocked(StateStreaming, "streaming")
	}
	c.message = fmt.Sprintf("chunk %d buffered", index)
	log.Debug("chunk appended",
		slog.Int("bytes", len(data)),
		slog.Duration("buffered_through", sess.buf.BufferedThrough()),
	)

	if !sess.store.Has(index + 1) {
		c.endLocked(sess)
	}
	return nil
}

// admit checks that index may be fetched now and returns its descriptor.
func (c *Controller) admit(sess *session, index int) (manifest.ChunkDescriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess != sess {
		return manifest.ChunkDescriptor{}, errStaleSession
	}
	streaming := c.state == StateStreaming || (c.state == StateOpening && index == 1)
	if !streaming {
		return manifest.ChunkDescriptor{}, fmt.Errorf("%w: %s", ErrInvalidState, c.state)
	}
	if index != c.cursor+1 {
		return manifest.ChunkDescriptor{}, fmt.Errorf("%w: chunk %d is not next after %d", ErrInvalidState, index, c.cursor)
	}
	if c.backingOffLocked(sess, index) {
		return manifest.ChunkDescriptor{}, fmt.Errorf("%w: chunk %d until %s", ErrRetryBackoff, index,
			sess.retryAt[index].Format(time.RFC3339Nano))
	}

	desc, ok := sess.store.Lookup(index)
	if !ok {
		c.endLocked(sess)
		return manifest.ChunkDescriptor{}, ErrEndOfStream
	}
	return desc, nil
}

// chunkFailed releases the reservation and records a failed fetch or append.
// Failures are local to the chunk until MaxChunkRetries is reached; during
// Load the caller treats them as fatal.
func (c *Controller) chunkFailed(sess *session, desc manifest.ChunkDescriptor, op string, cause error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess.tracker.Release(desc.Index)

	if c.sess != sess || (c.state != StateStreaming && c.state != StateOpening) {
		return fmt.Errorf("%w: %w", errStaleSession, cause)
	}

	chunkErr := &ChunkError{Index: desc.Index, ChunkID: desc.ID, Op: op, Err: cause}
	if op == OpFetch {
		c.stats.FetchFailures++
	} else {
		c.stats.AppendFailures++
	}

	sess.failures[desc.Index]++
	failures := sess.failures[desc.Index]
	if backoff := c.opts.backoff(failures); backoff > 0 {
		sess.retryAt[desc.Index] = c.now().Add(backoff)
	}

	if c.state == StateOpening {
		return chunkErr
	}

	if c.opts.MaxChunkRetries > 0 && failures >= c.opts.MaxChunkRetries {
		chunkErr.Err = fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, failures, cause)
		c.errorLocked(sess, chunkErr)
		return chunkErr
	}
	if errors.Is(cause, mediabuffer.ErrBufferNotOpen) {
		// The buffer is gone; retrying cannot succeed.
		c.errorLocked(sess, chunkErr)
		return chunkErr
	}

	c.lastErr = chunkErr
	c.message = fmt.Sprintf("chunk %d %s failed (attempt %d), will retry", desc.Index, op, failures)
	observability.WithError(sess.logger, cause).Warn("chunk failed, will retry",
		slog.Int("index", desc.Index),
		slog.String("chunk_id", desc.ID.String()),
		slog.String("op", op),
		slog.Int("attempt", failures),
	)
	return chunkErr
}

func (c *Controller) backingOffLocked(sess *session, index int) bool {
	until, ok := sess.retryAt[index]
	return ok && c.now().Before(until)
}

// fail moves sess to errored and returns err. A session that was stopped
// while loading stays ended.
func (c *Controller) fail(sess *session, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess != sess || c.state == StateEnded {
		return fmt.Errorf("%w: %w: %w", ErrInvalidState, errStaleSession, err)
	}
	c.errorLocked(sess, err)
	return err
}

func (c *Controller) errorLocked(sess *session, err error) {
	if c.state == StateErrored || c.state == StateEnded {
		return
	}
	c.lastErr = err
	c.setStateLocked(StateErrored, "error: "+err.Error())
	sess.cancel()
	sess.tracker.Clear()
	observability.WithError(sess.logger, err).Error("playback failed")
}

// endLocked marks the buffer complete and moves to ended.
func (c *Controller) endLocked(sess *session) {
	if c.state == StateEnded {
		return
	}
	if sess.buf != nil {
		if err := sess.buf.EndOfStream(); err != nil {
			sess.logger.Warn("end of stream rejected, aborting buffer", slog.String("error", err.Error()))
			sess.buf.Abort()
		}
	}
	c.setStateLocked(StateEnded, "end of stream")
	sess.logger.Info("playback stream complete", slog.Int("cursor", c.cursor))
}

func (c *Controller) setStateLocked(state State, message string) {
	if c.state != state {
		c.logger.Debug("state change",
			slog.String("from", c.state.String()),
			slog.String("to", state.String()),
		)
	}
	c.state = state
	c.message = message
}

// Play resumes the engine.
func (c *Controller) Play() {
	c.engine.Play()
}

// Pause pauses the engine.
func (c *Controller) Pause() {
	c.engine.Pause()
}

// Stop cancels outstanding fetches, closes the buffer and pauses the engine.
// The session ends; already buffered media stays playable.
func (c *Controller) Stop() error {
	c.mu.Lock()
	switch c.state {
	case StateEnded:
		c.mu.Unlock()
		return nil
	case StateOpening, StateStreaming:
	default:
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot stop while %s", ErrInvalidState, state)
	}

	sess := c.sess
	sess.cancel()
	sess.tracker.Clear()
	c.endLocked(sess)
	c.message = "stopped"
	c.mu.Unlock()

	c.engine.Pause()
	return nil
}

// Reset abandons the current session from any state: fetches are cancelled,
// reservations cleared, the buffer aborted and the manifest discarded.
func (c *Controller) Reset() {
	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.cursor = 0
	c.position = 0
	c.stats = Stats{}
	c.lastErr = nil
	c.setStateLocked(StateIdle, "idle")
	c.mu.Unlock()

	if sess == nil {
		return
	}
	sess.cancel()
	sess.tracker.Clear()
	sess.store.Reset()
	if sess.buf != nil {
		sess.buf.Abort()
	}
	c.engine.Pause()
	sess.logger.Info("playback reset")
}

// Wait blocks until all background pipelines finish, including those of
// sessions abandoned by Reset.
func (c *Controller) Wait() {
	c.pipelines.Wait()
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Cursor returns the highest appended chunk index, 0 when unset.
func (c *Controller) Cursor() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

// Stats returns the counters of the current session.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Err returns the last failure recorded for the session, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// SessionID returns the id of the current session, empty when idle.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ""
	}
	return c.sess.id
}

// Manifest returns the manifest of the current session, nil when none is loaded.
func (c *Controller) Manifest() *manifest.Manifest {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	return c.sess.store.Manifest()
}

// InFlight returns the reserved chunk indices of the current session.
func (c *Controller) InFlight() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return []int{}
	}
	return c.sess.tracker.Indices()
}

// Buffer returns the buffer of the current session, nil when none exists.
func (c *Controller) Buffer() mediabuffer.Buffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	return c.sess.buf
}

// Status returns a display snapshot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		State:    c.state.String(),
		Message:  c.message,
		Cursor:   c.cursor,
		InFlight: []int{},
		Position: c.position,
		Stats:    c.stats,
	}
	if c.lastErr != nil {
		st.Error = c.lastErr.Error()
	}
	if sess := c.sess; sess != nil {
		st.SessionID = sess.id
		st.AssetID = sess.assetID
		st.LastIndex = sess.store.Manifest().LastIndex()
		st.InFlight = sess.tracker.Indices()
		if sess.buf != nil {
			st.BufferedThrough = sess.buf.BufferedThrough()
		}
	}
	return st
}

// mergeContext returns a context cancelled when either ctx or the session ends.
func mergeContext(ctx context.Context, sess *session) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(sess.ctx, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}

package engine

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/chunkplay/internal/config"
	"github.com/jmylchreest/chunkplay/internal/mediabuffer"
)

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{TickInterval: 10 * time.Millisecond, Speed: 1}
}

func appendSegment(t *testing.T, buf mediabuffer.Buffer, seg mediabuffer.Segment) {
	t.Helper()
	require.NoError(t, mediabuffer.NewSerializer(buf).AppendAndAwait(context.Background(), seg))
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestEngine_NewBuffer(t *testing.T) {
	e := New(testEngineConfig())

	buf, err := e.NewBuffer(`audio/webm; codecs="opus"`)
	require.NoError(t, err)
	assert.Equal(t, mediabuffer.StateOpen, buf.State())
	assert.True(t, isClosed(buf.Ready()))

	for _, bad := range []string{"video/mp4", "", "not a mime"} {
		_, err := e.NewBuffer(bad)
		assert.ErrorIs(t, err, ErrUnsupportedMimeType, bad)
	}
}

func TestEngine_ReadyDelay(t *testing.T) {
	cfg := testEngineConfig()
	cfg.ReadyDelay = 20 * time.Millisecond
	e := New(cfg)

	buf, err := e.NewBuffer("audio/ogg")
	require.NoError(t, err)
	assert.Equal(t, mediabuffer.StateOpening, buf.State())

	select {
	case <-buf.Ready():
	case <-time.After(time.Second):
		t.Fatal("buffer never opened")
	}
	assert.Equal(t, mediabuffer.StateOpen, buf.State())
}

func TestEngine_TickAdvancesAndStalls(t *testing.T) {
	var sink bytes.Buffer
	e := New(testEngineConfig(), WithSink(&sink))

	var positions []time.Duration
	e.SetPositionListener(func(p time.Duration) { positions = append(positions, p) })

	buf, err := e.NewBuffer("audio/webm")
	require.NoError(t, err)
	appendSegment(t, buf, mediabuffer.Segment{Index: 1, Data: []byte("abc"), Duration: 2 * time.Second})
	assert.Equal(t, "abc", sink.String())

	// Paused: nothing moves.
	e.Tick(time.Second)
	assert.Zero(t, e.Position())
	assert.Empty(t, positions)

	e.Play()
	assert.True(t, e.Playing())
	e.Tick(time.Second)
	assert.Equal(t, time.Second, e.Position())
	assert.False(t, e.Stalled())

	e.Tick(5 * time.Second)
	assert.Equal(t, 2*time.Second, e.Position())
	assert.True(t, e.Stalled())
	assert.False(t, isClosed(e.Drained()))

	appendSegment(t, buf, mediabuffer.Segment{Index: 2, Duration: 2 * time.Second})
	e.Tick(time.Second)
	assert.Equal(t, 3*time.Second, e.Position())
	assert.False(t, e.Stalled())

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, positions)

	e.Pause()
	e.Tick(time.Second)
	assert.Equal(t, 3*time.Second, e.Position())
}

func TestEngine_Drained(t *testing.T) {
	e := New(config.EngineConfig{TickInterval: time.Millisecond, Speed: 2})
	buf, err := e.NewBuffer("audio/webm")
	require.NoError(t, err)
	appendSegment(t, buf, mediabuffer.Segment{Index: 1, Duration: 2 * time.Second})
	require.NoError(t, buf.EndOfStream())

	e.Play()
	e.Tick(500 * time.Millisecond)
	assert.Equal(t, time.Second, e.Position())
	assert.False(t, isClosed(e.Drained()))

	e.Tick(500 * time.Millisecond)
	assert.True(t, isClosed(e.Drained()))
	assert.False(t, e.Stalled())

	// A new buffer rewinds and re-arms drain detection.
	_, err = e.NewBuffer("audio/webm")
	require.NoError(t, err)
	assert.Zero(t, e.Position())
	assert.False(t, isClosed(e.Drained()))
}

func TestEngine_Run(t *testing.T) {
	e := New(config.EngineConfig{TickInterval: time.Millisecond, Speed: 100})
	buf, err := e.NewBuffer("audio/webm")
	require.NoError(t, err)
	appendSegment(t, buf, mediabuffer.Segment{Index: 1, Duration: time.Second})
	require.NoError(t, buf.EndOfStream())
	e.Play()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go e.Run(ctx)

	select {
	case <-e.Drained():
	case <-ctx.Done():
		t.Fatal("engine never drained")
	}
	assert.Equal(t, time.Second, e.Position())
}

func TestNew_Defaults(t *testing.T) {
	e := New(config.EngineConfig{})
	assert.Equal(t, 250*time.Millisecond, e.tick)
	assert.Equal(t, 1.0, e.speed)
}

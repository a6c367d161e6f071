package mediabuffer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializer_NotOpen(t *testing.T) {
	buf := NewMemoryBuffer(MemoryOptions{})
	s := NewSerializer(buf)

	err := s.AppendAndAwait(context.Background(), Segment{Index: 1})
	assert.ErrorIs(t, err, ErrBufferNotOpen)
	assert.True(t, s.Idle())
	assert.Empty(t, buf.AppendedIndices())
}

func TestSerializer_AppendFailureWrapsErrAppend(t *testing.T) {
	buf := openBuffer(t, MemoryOptions{
		Validate: func(Segment) error { return assert.AnError },
	})
	s := NewSerializer(buf)

	err := s.AppendAndAwait(context.Background(), Segment{Index: 1})
	assert.ErrorIs(t, err, ErrAppend)
	assert.ErrorIs(t, err, assert.AnError)
	assert.True(t, s.Idle())
}

func TestSerializer_ConcurrentAppendsNeverOverlap(t *testing.T) {
	buf := openBuffer(t, MemoryOptions{AppendDelay: 2 * time.Millisecond})
	s := NewSerializer(buf)
	assert.Same(t, buf, s.Buffer())

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			assert.NoError(t, s.AppendAndAwait(context.Background(), Segment{Index: index, Duration: time.Second}))
		}(i)
	}
	wg.Wait()

	stats := buf.Stats()
	assert.Equal(t, 20, stats.Segments)
	assert.Zero(t, stats.OverlappingAppends)
	assert.Equal(t, 20*time.Second, buf.BufferedThrough())
}

func TestSerializer_CancelAfterIssueReturnsOutcome(t *testing.T) {
	buf := openBuffer(t, MemoryOptions{AppendDelay: 100 * time.Millisecond})
	s := NewSerializer(buf)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	// The segment is accepted by the buffer, so the caller must hear success
	// even though its context expired mid-append.
	require.NoError(t, s.AppendAndAwait(ctx, Segment{Index: 1, Duration: time.Second}))
	assert.True(t, s.Idle())
	assert.Equal(t, []int{1}, buf.AppendedIndices())

	require.NoError(t, s.AppendAndAwait(context.Background(), Segment{Index: 2, Duration: time.Second}))
	assert.Equal(t, []int{1, 2}, buf.AppendedIndices())
	assert.Zero(t, buf.Stats().OverlappingAppends)
}

func TestSerializer_CancelWhileWaitingForSlot(t *testing.T) {
	buf := openBuffer(t, MemoryOptions{AppendDelay: 100 * time.Millisecond})
	s := NewSerializer(buf)

	first := make(chan error, 1)
	go func() {
		first <- s.AppendAndAwait(context.Background(), Segment{Index: 1, Duration: time.Second})
	}()
	require.Eventually(t, buf.Updating, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := s.AppendAndAwait(ctx, Segment{Index: 2, Duration: time.Second})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, <-first)
	assert.Equal(t, []int{1}, buf.AppendedIndices())
	assert.Zero(t, buf.Stats().OverlappingAppends)
}

func TestSerializer_AbortCompletesOutstandingAppend(t *testing.T) {
	buf := openBuffer(t, MemoryOptions{AppendDelay: time.Minute})
	s := NewSerializer(buf)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.AppendAndAwait(context.Background(), Segment{Index: 1})
	}()

	require.Eventually(t, buf.Updating, time.Second, time.Millisecond)
	buf.Abort()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrAppend)
		assert.ErrorIs(t, err, ErrAborted)
	case <-time.After(time.Second):
		t.Fatal("append did not return after abort")
	}
	assert.True(t, s.Idle())
}

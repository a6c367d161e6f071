package mediabuffer

import (
	"context"
	"fmt"
)

// Serializer issues appends to a Buffer one at a time and waits for each to
// complete. A slot is held from issue until the buffer reports completion,
// so appends on the buffer never overlap.
type Serializer struct {
	buf  Buffer
	slot chan struct{}
}

// NewSerializer wraps buf.
func NewSerializer(buf Buffer) *Serializer {
	return &Serializer{
		buf:  buf,
		slot: make(chan struct{}, 1),
	}
}

// Buffer returns the wrapped buffer.
func (s *Serializer) Buffer() Buffer {
	return s.buf
}

// AppendAndAwait appends seg and blocks until the buffer has processed it.
// It fails with ErrBufferNotOpen without issuing anything when the buffer is
// not open. Append-time failures wrap ErrAppend. ctx only bounds the wait for
// the slot: once an append is issued its real outcome is returned, since the
// buffer may accept the segment after the caller has gone. Abort on the
// buffer resolves an outstanding append.
func (s *Serializer) AppendAndAwait(ctx context.Context, seg Segment) error {
	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	if state := s.buf.State(); state != StateOpen {
		s.releaseSlot()
		return fmt.Errorf("%w: state %s", ErrBufferNotOpen, state)
	}

	done, err := s.buf.Append(seg)
	if err != nil {
		s.releaseSlot()
		return fmt.Errorf("%w: segment %d: %w", ErrAppend, seg.Index, err)
	}

	err = <-done
	s.releaseSlot()
	if err != nil {
		return fmt.Errorf("%w: segment %d: %w", ErrAppend, seg.Index, err)
	}
	return nil
}

// Idle reports whether no append is currently held by the serializer.
func (s *Serializer) Idle() bool {
	return len(s.slot) == 0
}

func (s *Serializer) releaseSlot() {
	<-s.slot
}

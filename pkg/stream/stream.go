// Package stream implements the lazy, single-pass sequence abstraction
// that carries both output-streaming command results and input-streaming
// command arguments (spec §9 "generators as streams").
package stream

import (
	"context"
	"io"
	"sync"
)

// chunk mirrors the provider StreamChunk{Payload, Err} shape used
// throughout the teacher's executor package, generalized from raw bytes
// to an arbitrary decoded value.
type chunk struct {
	value any
	err   error
}

// Sequence is a single-pass, cancelable lazy sequence of values. Both
// directions of streaming use the same type: output-streaming commands
// return one, input-streaming commands consume one fed by the
// dispatcher/proxy as CHUNK frames arrive.
type Sequence struct {
	ch       chan chunk
	cancelFn func()
	once     sync.Once

	mu     sync.Mutex
	closed bool
}

// NewSequence builds a Sequence whose values are pushed by a producer
// via Send/SendError/CloseOK, and whose consumer-side cancellation invokes
// onCancel (e.g. to emit a CANCEL wire message) at most once.
func NewSequence(onCancel func()) *Sequence {
	if onCancel == nil {
		onCancel = func() {}
	}
	return &Sequence{ch: make(chan chunk, 1), cancelFn: onCancel}
}

// Next blocks until a value, a terminal error, or ctx cancellation.
// A clean end is reported as (nil, io.EOF).
func (s *Sequence) Next(ctx context.Context) (any, error) {
	select {
	case c, ok := <-s.ch:
		if !ok {
			return nil, io.EOF
		}
		if c.err != nil {
			return nil, c.err
		}
		return c.value, nil
	case <-ctx.Done():
		s.Cancel()
		return nil, ctx.Err()
	}
}

// Cancel requests the producer terminate the sequence early. Per spec
// §4.6, dropping an output sequence before END sends CANCEL; calling
// Cancel more than once is a no-op.
func (s *Sequence) Cancel() {
	s.once.Do(func() {
		s.cancelFn()
	})
}

// Send delivers one value to the consumer. It blocks if the consumer
// hasn't drained the previous value, providing the backpressure spec §4.5
// requires ("no unbounded queueing").
func (s *Sequence) Send(ctx context.Context, v any) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return io.EOF
	}
	s.mu.Unlock()
	select {
	case s.ch <- chunk{value: v}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendError delivers a terminal error and closes the sequence. Safe to
// call more than once, or after CloseOK has already terminated the
// sequence — a misbehaving peer sending a late CHUNK/ERROR/END for a
// call that already ended must not panic the producer goroutine; only
// the first terminal call has any effect.
func (s *Sequence) SendError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.ch <- chunk{err: err}
	close(s.ch)
}

// CloseOK delivers a clean end (io.EOF on the consumer side). Safe to
// call more than once, or after SendError has already terminated the
// sequence.
func (s *Sequence) CloseOK() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Collect drains the sequence into a slice; used by tests and by
// non-streaming callers that want the whole result in memory.
func Collect(ctx context.Context, s *Sequence) ([]any, error) {
	var out []any
	for {
		v, err := s.Next(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
}

// FromSlice builds an already-complete Sequence over a fixed slice of
// values, useful for tests and for adapting in-memory data to the
// streaming Handler contract.
func FromSlice(values []any) *Sequence {
	s := NewSequence(nil)
	go func() {
		for _, v := range values {
			s.ch <- chunk{value: v}
		}
		close(s.ch)
	}()
	return s
}

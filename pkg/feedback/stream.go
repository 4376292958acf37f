// Package feedback implements the ordered event channel between a run and its client.
//
// A Stream delivers Processing events in emission order and ends with exactly one
// terminal pair: Result or Error, immediately followed by EndOfStream. Nothing is
// delivered after EndOfStream, and nothing at all after Abort.
package feedback

import (
	"context"
	"errors"
	"sync"

	"github.com/aretw0/tendril/pkg/domain"
)

// ErrStreamClosed is returned when pushing to a finished or aborted stream.
var ErrStreamClosed = errors.New("feedback stream closed")

// DefaultBuffer is the channel capacity used by New when size <= 0.
const DefaultBuffer = 16

// Stream is a push-based, single-consumer event channel.
type Stream struct {
	mu     sync.Mutex
	ch     chan domain.FeedbackEvent
	closed bool

	abort     chan struct{}
	abortOnce sync.Once
}

// New creates a stream with the given buffer size.
func New(size int) *Stream {
	if size <= 0 {
		size = DefaultBuffer
	}
	return &Stream{
		ch:    make(chan domain.FeedbackEvent, size),
		abort: make(chan struct{}),
	}
}

// Events returns the receive side. It is closed after EndOfStream or Abort.
func (s *Stream) Events() <-chan domain.FeedbackEvent {
	return s.ch
}

// Aborted is closed when the consumer went away.
func (s *Stream) Aborted() <-chan struct{} {
	return s.abort
}

// Closed reports whether no further events will be delivered.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Push delivers ev. Result and Error events are terminal: EndOfStream is appended
// and the stream is closed. Pushing EndOfStream directly closes the stream as well.
func (s *Stream) Push(ctx context.Context, ev domain.FeedbackEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStreamClosed
	}

	switch ev.Kind {
	case domain.FeedbackProcessing:
		return s.send(ctx, ev)
	case domain.FeedbackEndOfStream:
		return s.end(ctx)
	default:
		if err := s.send(ctx, ev); err != nil {
			return err
		}
		return s.end(ctx)
	}
}

// Progress pushes a Processing event.
func (s *Stream) Progress(ctx context.Context, text string) error {
	return s.Push(ctx, domain.Processing(text))
}

// Finish pushes the final Result followed by EndOfStream.
func (s *Stream) Finish(ctx context.Context, text string) error {
	return s.Push(ctx, domain.Result(text))
}

// Fail pushes an Error event for err followed by EndOfStream.
func (s *Stream) Fail(ctx context.Context, err error) error {
	return s.Push(ctx, domain.Failure(err.Error()))
}

// Abort closes the stream without EndOfStream. Pending and future pushes fail
// with ErrStreamClosed. Safe to call more than once and concurrently with Push.
func (s *Stream) Abort() {
	s.abortOnce.Do(func() { close(s.abort) })

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// send must be called with s.mu held.
func (s *Stream) send(ctx context.Context, ev domain.FeedbackEvent) error {
	select {
	case <-s.abort:
		return ErrStreamClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case s.ch <- ev:
		return nil
	case <-s.abort:
		return ErrStreamClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// end must be called with s.mu held.
func (s *Stream) end(ctx context.Context) error {
	err := s.send(ctx, domain.EndOfStream())
	s.closed = true
	close(s.ch)
	return err
}

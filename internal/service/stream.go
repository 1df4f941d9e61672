package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nuhaa333/chat-app/internal/fanout"
)

// Stream is a cancellable sequence of values backed by a goroutine.
type Stream[T any] struct {
	ch     chan T
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// C returns the value channel. It is closed when the stream ends.
func (s *Stream[T]) C() <-chan T { return s.ch }

// Done is closed once the stream has stopped.
func (s *Stream[T]) Done() <-chan struct{} { return s.done }

// Err reports why the stream ended; nil after Close or context cancellation.
func (s *Stream[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the stream and waits for its goroutine to exit.
func (s *Stream[T]) Close() {
	s.cancel()
	<-s.done
}

// newStream runs produce until it returns or ctx ends. produce sends with emit,
// which reports false once the stream is cancelled.
func newStream[T any](ctx context.Context, produce func(ctx context.Context, emit func(T) bool) error) *Stream[T] {
	sctx, cancel := context.WithCancel(ctx)
	s := &Stream[T]{ch: make(chan T), cancel: cancel, done: make(chan struct{})}
	emit := func(v T) bool {
		select {
		case s.ch <- v:
			return true
		case <-sctx.Done():
			return false
		}
	}
	go func() {
		defer close(s.done)
		defer close(s.ch)
		if err := produce(sctx, emit); err != nil && sctx.Err() == nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
		}
	}()
	return s
}

// follow reads sub until ctx ends, resubscribing through resubscribe when
// the subscription is dropped as a slow consumer. handle returns false to stop.
func follow(ctx context.Context, sub *fanout.Subscription, resubscribe func() (*fanout.Subscription, error), handle func(fanout.Event) bool) error {
	return followTicking(ctx, sub, resubscribe, handle, nil, nil)
}

// followTicking is follow with onTick called on every value from tick.
// A nil tick never fires.
func followTicking(ctx context.Context, sub *fanout.Subscription, resubscribe func() (*fanout.Subscription, error), handle func(fanout.Event) bool, tick <-chan time.Time, onTick func() bool) error {
	defer func() { sub.Close() }()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			if !onTick() {
				return nil
			}
		case ev, ok := <-sub.C():
			if !ok {
				if !errors.Is(sub.Err(), fanout.ErrSlowConsumer) {
					return sub.Err()
				}
				next, err := resubscribe()
				if err != nil {
					return err
				}
				sub = next
				continue
			}
			if !handle(ev) {
				return nil
			}
		}
	}
}

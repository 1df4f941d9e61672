// Package debounce coalesces bursts of keyed writes into a single trailing write.
package debounce

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// FlushFunc receives the last value submitted for a key.
type FlushFunc[K comparable, V any] func(key K, value V)

// Queue holds at most one pending value per key. A key is flushed once no new
// value has arrived for Wait, or once MaxWait has elapsed since the first
// pending submission, whichever comes first.
type Queue[K comparable, V any] struct {
	clock   clockwork.Clock
	wait    time.Duration
	maxWait time.Duration
	flush   FlushFunc[K, V]

	mu      sync.Mutex
	pending map[K]*entry[V]
	closed  bool
}

type entry[V any] struct {
	value V
	first time.Time
	gen   uint64
	timer clockwork.Timer
}

// Option configures a Queue.
type Option func(*options)

type options struct {
	clock   clockwork.Clock
	maxWait time.Duration
}

// WithClock sets the clock used for timers.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithMaxWait bounds how long a continuously updated key can stay pending.
func WithMaxWait(d time.Duration) Option {
	return func(o *options) { o.maxWait = d }
}

// New creates a Queue that calls flush after wait of quiet per key.
func New[K comparable, V any](wait time.Duration, flush FlushFunc[K, V], opts ...Option) *Queue[K, V] {
	if flush == nil {
		panic("debounce: flush func cannot be nil")
	}
	o := options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Queue[K, V]{
		clock:   o.clock,
		wait:    wait,
		maxWait: o.maxWait,
		flush:   flush,
		pending: make(map[K]*entry[V]),
	}
}

// Submit records value as the latest for key and (re)arms its timer.
// It returns false once the queue is closed.
func (q *Queue[K, V]) Submit(key K, value V) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}

	now := q.clock.Now()
	e, ok := q.pending[key]
	if !ok {
		e = &entry[V]{first: now}
		q.pending[key] = e
	} else {
		e.timer.Stop()
	}
	e.value = value
	e.gen++

	delay := q.wait
	if q.maxWait > 0 {
		if left := q.maxWait - now.Sub(e.first); left < delay {
			delay = left
		}
		if delay < 0 {
			delay = 0
		}
	}
	gen := e.gen
	e.timer = q.clock.AfterFunc(delay, func() { q.fire(key, gen) })
	return true
}

func (q *Queue[K, V]) fire(key K, gen uint64) {
	q.mu.Lock()
	e, ok := q.pending[key]
	if !ok || e.gen != gen {
		q.mu.Unlock()
		return
	}
	delete(q.pending, key)
	q.mu.Unlock()

	q.flush(key, e.value)
}

// Cancel drops the pending value of key without flushing it.
func (q *Queue[K, V]) Cancel(key K) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.pending[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(q.pending, key)
	return true
}

// Pending returns the number of keys waiting to be flushed.
func (q *Queue[K, V]) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops all timers and flushes every pending value synchronously.
func (q *Queue[K, V]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	pending := q.pending
	q.pending = make(map[K]*entry[V])
	q.mu.Unlock()

	for key, e := range pending {
		e.timer.Stop()
		q.flush(key, e.value)
	}
}

package debounce

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

type recorder struct {
	mu     sync.Mutex
	writes map[string][]bool
}

func newRecorder() *recorder { return &recorder{writes: make(map[string][]bool)} }

func (r *recorder) flush(key string, v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes[key] = append(r.writes[key], v)
}

func (r *recorder) get(key string) []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.writes[key]...)
}

const wait = 300 * time.Millisecond

func TestQueue_BurstCollapsesToTrailingWrite(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := newRecorder()
	q := New[string, bool](wait, rec.flush, WithClock(clock))

	q.Submit("room:alice", true)
	clock.Advance(100 * time.Millisecond)
	q.Submit("room:alice", true)
	clock.Advance(100 * time.Millisecond)
	q.Submit("room:alice", false)

	clock.Advance(299 * time.Millisecond)
	assert.Empty(t, rec.get("room:alice"))

	clock.Advance(time.Millisecond)
	assert.Eventually(t, func() bool { return len(rec.get("room:alice")) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []bool{false}, rec.get("room:alice"))
	assert.Zero(t, q.Pending())
}

func TestQueue_KeysAreIndependent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := newRecorder()
	q := New[string, bool](wait, rec.flush, WithClock(clock))

	q.Submit("a", true)
	q.Submit("b", true)
	clock.Advance(wait)

	assert.Eventually(t, func() bool {
		return len(rec.get("a")) == 1 && len(rec.get("b")) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestQueue_MaxWaitBoundsContinuousUpdates(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := newRecorder()
	q := New[string, bool](wait, rec.flush, WithClock(clock), WithMaxWait(time.Second))

	for i := 0; i < 5; i++ {
		q.Submit("k", true)
		clock.Advance(200 * time.Millisecond)
	}
	// Five submissions 200ms apart never leave 300ms of quiet; the 1s cap fires.
	assert.Eventually(t, func() bool { return len(rec.get("k")) == 1 }, time.Second, 5*time.Millisecond)
}

func TestQueue_CancelDropsPendingValue(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := newRecorder()
	q := New[string, bool](wait, rec.flush, WithClock(clock))

	q.Submit("k", true)
	assert.True(t, q.Cancel("k"))
	assert.False(t, q.Cancel("k"))
	clock.Advance(time.Second)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec.get("k"))
}

func TestQueue_CloseFlushesAndRejects(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := newRecorder()
	q := New[string, bool](wait, rec.flush, WithClock(clock))

	q.Submit("k", true)
	q.Close()
	assert.Equal(t, []bool{true}, rec.get("k"))
	assert.False(t, q.Submit("k", false))
}

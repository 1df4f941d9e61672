package fanout

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEvent(t *testing.T, topic string, v any) Event {
	t.Helper()
	ev, err := NewEvent(topic, KindMessage, v)
	require.NoError(t, err)
	return ev
}

func TestBroker_DeliversToTopicSubscribersOnly(t *testing.T) {
	b := NewBroker(4)
	ctx := context.Background()

	a := b.Subscribe(RoomMessagesTopic("r1"))
	other := b.Subscribe(RoomMessagesTopic("r2"))
	defer a.Close()
	defer other.Close()

	require.NoError(t, b.Publish(ctx, mustEvent(t, RoomMessagesTopic("r1"), map[string]string{"text": "hi"})))

	select {
	case ev := <-a.C():
		var payload map[string]string
		require.NoError(t, ev.Decode(&payload))
		assert.Equal(t, "hi", payload["text"])
	default:
		t.Fatal("expected event on r1 subscriber")
	}
	assert.Len(t, other.C(), 0)
}

func TestBroker_SlowConsumerIsDropped(t *testing.T) {
	b := NewBroker(1)
	ctx := context.Background()
	sub := b.Subscribe("t")

	require.NoError(t, b.Publish(ctx, mustEvent(t, "t", 1)))
	require.NoError(t, b.Publish(ctx, mustEvent(t, "t", 2)))

	_, ok := <-sub.C()
	assert.True(t, ok, "buffered event is still readable")
	_, ok = <-sub.C()
	assert.False(t, ok, "channel closed after overflow")
	assert.ErrorIs(t, sub.Err(), ErrSlowConsumer)
	assert.Zero(t, b.Subscribers("t"))
}

func TestBroker_CloseSubscriptionIsIdempotent(t *testing.T) {
	b := NewBroker(1)
	sub := b.Subscribe("t")
	sub.Close()
	sub.Close()

	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.NoError(t, sub.Err())
	assert.NoError(t, b.Publish(context.Background(), mustEvent(t, "t", 1)))
}

func TestBroker_CloseEndsEverything(t *testing.T) {
	b := NewBroker(1)
	sub := b.Subscribe("t")
	b.Close()

	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.ErrorIs(t, sub.Err(), ErrClosed)
	assert.ErrorIs(t, b.Publish(context.Background(), mustEvent(t, "t", 1)), ErrClosed)

	late := b.Subscribe("t")
	_, ok = <-late.C()
	assert.False(t, ok)
}

package fanout

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultBuffer is the per-subscription queue length used when none is given.
const DefaultBuffer = 64

var (
	// ErrSlowConsumer ends a subscription whose queue overflowed.
	ErrSlowConsumer = errors.New("fanout: subscriber too slow")
	// ErrClosed ends subscriptions when the broker shuts down.
	ErrClosed = errors.New("fanout: broker closed")
)

// Broker is an in-process topic broker. Publish never blocks on subscribers.
type Broker struct {
	buffer int

	mu     sync.RWMutex
	topics map[string]map[*Subscription]struct{}
	closed bool
}

var _ Publisher = (*Broker)(nil)

// NewBroker creates a Broker whose subscriptions buffer up to buffer events.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broker{
		buffer: buffer,
		topics: make(map[string]map[*Subscription]struct{}),
	}
}

// Subscription is a bounded stream of events for one topic.
type Subscription struct {
	topic  string
	ch     chan Event
	broker *Broker
	err    error // guarded by broker.mu
}

// C returns the event channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan Event { return s.ch }

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string { return s.topic }

// Err reports why the subscription ended: nil after Close, ErrSlowConsumer or ErrClosed.
func (s *Subscription) Err() error {
	s.broker.mu.RLock()
	defer s.broker.mu.RUnlock()
	return s.err
}

// Close ends the subscription. It is safe to call more than once.
func (s *Subscription) Close() { s.broker.remove(s, nil) }

// Subscribe registers a new subscription for topic. On a closed broker the
// returned subscription is already ended with ErrClosed.
func (b *Broker) Subscribe(topic string) *Subscription {
	sub := &Subscription{topic: topic, ch: make(chan Event, b.buffer), broker: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.err = ErrClosed
		close(sub.ch)
		return sub
	}
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[*Subscription]struct{})
		b.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	return sub
}

// Publish delivers ev to the current subscribers of ev.Topic. Subscribers
// whose queue is full are dropped with ErrSlowConsumer.
func (b *Broker) Publish(_ context.Context, ev Event) error {
	var slow []*Subscription

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	for sub := range b.topics[ev.Topic] {
		select {
		case sub.ch <- ev:
		default:
			slow = append(slow, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range slow {
		logrus.WithFields(logrus.Fields{
			"component": "fanout",
			"topic":     ev.Topic,
		}).Warn("Dropping slow subscriber")
		b.remove(sub, ErrSlowConsumer)
	}
	return nil
}

// Subscribers returns the number of live subscriptions on topic.
func (b *Broker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Close ends every subscription with ErrClosed and rejects further publishes.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for topic, subs := range b.topics {
		for sub := range subs {
			sub.err = ErrClosed
			close(sub.ch)
		}
		delete(b.topics, topic)
	}
}

func (b *Broker) remove(sub *Subscription, reason error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.topics[sub.topic]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(b.topics, sub.topic)
	}
	sub.err = reason
	close(sub.ch)
}

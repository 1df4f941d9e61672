package service

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nuhaa333/chat-app/internal/domain"
	"github.com/nuhaa333/chat-app/internal/fanout"
)

// TailUpdate is one item of a room tail: either a message or a read change.
type TailUpdate struct {
	Message *domain.Message
	Read    *domain.ReadEvent
}

// Tail is a live, ordered view of a room's log. It first replays the full
// history, then live appends and read changes. Messages are delivered in
// Seq order without duplicates or gaps.
type Tail struct {
	roomID  string
	updates chan TailUpdate
	cancel  context.CancelFunc
	done    chan struct{}

	mu  sync.Mutex
	err error
}

// Updates returns the update channel. It is closed when the tail ends.
func (t *Tail) Updates() <-chan TailUpdate { return t.updates }

// Done is closed once the tail has stopped.
func (t *Tail) Done() <-chan struct{} { return t.done }

// Err reports why the tail ended; nil after Close or context cancellation.
func (t *Tail) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Close stops delivery and releases the subscription. It waits for the
// tail goroutine to exit.
func (t *Tail) Close() {
	t.cancel()
	<-t.done
}

func (t *Tail) fail(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
}

// SubscribeTail opens a tail on the room for a participant.
func (s *MessageService) SubscribeTail(ctx context.Context, roomID, viewerID string) (*Tail, error) {
	if _, err := s.rooms.GetRoom(ctx, roomID, viewerID); err != nil {
		return nil, err
	}

	// Subscribe before reading history so nothing appended in between is lost.
	msgSub := s.broker.Subscribe(fanout.RoomMessagesTopic(roomID))
	evSub := s.broker.Subscribe(fanout.RoomEventsTopic(roomID))

	history, err := s.listAfter(ctx, roomID, 0, 0)
	if err != nil {
		msgSub.Close()
		evSub.Close()
		return nil, err
	}

	tctx, cancel := context.WithCancel(ctx)
	t := &Tail{
		roomID:  roomID,
		updates: make(chan TailUpdate),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go s.runTail(tctx, t, history, msgSub, evSub)
	return t, nil
}

func (s *MessageService) runTail(ctx context.Context, t *Tail, history []domain.Message, msgSub, evSub *fanout.Subscription) {
	logCtx := logrus.WithFields(logrus.Fields{"component": "tail", "room_id": t.roomID})
	defer func() {
		msgSub.Close()
		evSub.Close()
		close(t.updates)
		close(t.done)
	}()

	var lastSeq uint64
	emitMessages := func(msgs []domain.Message) bool {
		for i := range msgs {
			m := msgs[i]
			if m.Seq <= lastSeq {
				continue
			}
			select {
			case t.updates <- TailUpdate{Message: &m}:
				lastSeq = m.Seq
			case <-ctx.Done():
				return false
			}
		}
		return true
	}
	catchUp := func() bool {
		msgs, err := s.listAfter(ctx, t.roomID, lastSeq, 0)
		if err != nil {
			if ctx.Err() == nil {
				logCtx.WithError(err).Warn("Tail catch-up failed")
				t.fail(err)
			}
			return false
		}
		return emitMessages(msgs)
	}

	if !emitMessages(history) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-evSub.C():
			if !ok {
				if !errors.Is(evSub.Err(), fanout.ErrSlowConsumer) {
					t.fail(evSub.Err())
					return
				}
				evSub = s.broker.Subscribe(fanout.RoomEventsTopic(t.roomID))
				continue
			}
			if ev.Kind == fanout.KindRoomDeleted {
				t.fail(ErrRoomNotFound)
				return
			}

		case ev, ok := <-msgSub.C():
			if !ok {
				if !errors.Is(msgSub.Err(), fanout.ErrSlowConsumer) {
					t.fail(msgSub.Err())
					return
				}
				// Fell behind: resubscribe, then repair from the store.
				logCtx.Debug("Tail dropped as slow consumer, resubscribing")
				msgSub = s.broker.Subscribe(fanout.RoomMessagesTopic(t.roomID))
				if !catchUp() {
					return
				}
				continue
			}

			switch ev.Kind {
			case fanout.KindMessage:
				var m domain.Message
				if err := ev.Decode(&m); err != nil {
					logCtx.WithError(err).Warn("Dropping undecodable message event")
					continue
				}
				switch {
				case m.Seq <= lastSeq:
					// Already delivered by history or catch-up.
				case m.Seq == lastSeq+1:
					if !emitMessages([]domain.Message{m}) {
						return
					}
				default:
					if !catchUp() {
						return
					}
				}

			case fanout.KindMessageRead:
				var re domain.ReadEvent
				if err := ev.Decode(&re); err != nil {
					logCtx.WithError(err).Warn("Dropping undecodable read event")
					continue
				}
				select {
				case t.updates <- TailUpdate{Read: &re}:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

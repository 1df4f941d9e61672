// Package hub connects WebSocket clients to the chat services.
package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/nuhaa333/chat-app/internal/domain"
	"github.com/nuhaa333/chat-app/internal/service"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	// Frames a client may have waiting for processing.
	frameBacklog = 64

	frameTimeout = 10 * time.Second
)

// HubMessage is an event on the hub's internal queue.
type HubMessage struct {
	Type   string // "register", "unregister"
	Client *Client
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithPingPeriod sets how often clients are pinged. Each pong touches the
// client's presence session, so the period must stay below the presence grace.
func WithPingPeriod(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.pingPeriod = d
		}
	}
}

// Hub tracks connected clients and dispatches their frames to the services.
type Hub struct {
	messageChan chan HubMessage
	quit        chan struct{}
	stopOnce    sync.Once

	clients   map[string]map[*Client]struct{}
	clientsMu sync.RWMutex

	messages *service.MessageService
	typing   *service.TypingService
	presence *service.PresenceService

	pingPeriod time.Duration // below the presence grace
	pongWait   time.Duration // read deadline, half a period past pingPeriod
}

// NewHub creates a Hub. Without WithPingPeriod clients are pinged three
// times per presence grace period.
func NewHub(messages *service.MessageService, typing *service.TypingService, presence *service.PresenceService, opts ...HubOption) *Hub {
	if messages == nil {
		panic("MessageService cannot be nil for Hub")
	}
	if typing == nil {
		panic("TypingService cannot be nil for Hub")
	}
	if presence == nil {
		panic("PresenceService cannot be nil for Hub")
	}
	h := &Hub{
		messageChan: make(chan HubMessage, 512),
		quit:        make(chan struct{}),
		clients:     make(map[string]map[*Client]struct{}),
		messages:    messages,
		typing:      typing,
		presence:    presence,
		pingPeriod:  presence.Grace() / 3,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.pongWait = h.pingPeriod + h.pingPeriod/2
	return h
}

// PingPeriod returns the keep-alive interval used for clients.
func (h *Hub) PingPeriod() time.Duration { return h.pingPeriod }

// Run processes the hub queue until Shutdown.
func (h *Hub) Run() {
	log := logrus.WithField("component", "hub")
	log.Info("Hub is running...")
	for {
		select {
		case <-h.quit:
			log.Info("Hub is shutting down...")
			return
		case msg := <-h.messageChan:
			switch msg.Type {
			case "register":
				h.registerClient(msg.Client)
			case "unregister":
				h.unregisterClient(msg.Client)
			default:
				log.Warnf("Hub: Received unknown message type: %s", msg.Type)
			}
		}
	}
}

// QueueMessage puts msg on the hub queue without blocking.
func (h *Hub) QueueMessage(msg HubMessage) bool {
	select {
	case <-h.quit:
		return false
	default:
	}
	select {
	case h.messageChan <- msg:
		return true
	default:
		return false
	}
}

// ConnectedClients returns the number of open connections of userID.
func (h *Hub) ConnectedClients(userID string) int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients[userID])
}

// Shutdown closes every client gracefully and stops Run.
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() {
		close(h.quit)
		h.clientsMu.Lock()
		// Collected under the lock; client shutdown waits on its streams.
		var all []*Client
		for _, set := range h.clients {
			for c := range set {
				all = append(all, c)
			}
		}
		h.clients = make(map[string]map[*Client]struct{})
		h.clientsMu.Unlock()

		for _, c := range all {
			c.mu.Lock()
			// Graceful closes end presence immediately, no grace period.
			c.graceful = true
			c.mu.Unlock()
			c.shutdown()
		}
		logrus.WithField("clients", len(all)).Info("Hub closed all clients")
	})
}

func (h *Hub) registerClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: Attempted to register a nil client")
		return
	}
	h.clientsMu.Lock()
	if h.clients[client.userID] == nil {
		h.clients[client.userID] = make(map[*Client]struct{})
	}
	h.clients[client.userID][client] = struct{}{}
	n := len(h.clients[client.userID])
	h.clientsMu.Unlock()
	client.logCtx().WithField("connections", n).Info("Client registered")
}

func (h *Hub) unregisterClient(client *Client) {
	if client == nil {
		return
	}
	h.clientsMu.Lock()
	if set, ok := h.clients[client.userID]; ok {
		delete(set, client)
		if len(set) == 0 {
			delete(h.clients, client.userID)
		}
	}
	h.clientsMu.Unlock()
	client.shutdown() // idempotent
	client.logCtx().Info("Client unregistered")
}

func (h *Hub) handleFrame(c *Client, raw []byte) {
	if !gjson.ValidBytes(raw) {
		c.sendError("", "invalid JSON frame")
		return
	}
	frame := gjson.ParseBytes(raw)
	kind := frame.Get("type").String()
	ctx, cancel := context.WithTimeout(c.ctx, frameTimeout)
	defer cancel()
	ctx = service.WithUserID(ctx, c.userID)
	logCtx := c.logCtx().WithField("frame", kind)

	// Runs on the client's frame worker, so frames apply in arrival order.

	switch kind {
	case FrameSubscribeRoom:
		h.subscribeRoom(c, frame.Get("room_id").String())

	case FrameUnsubscribeRoom:
		h.unsubscribeRoom(c, frame.Get("room_id").String())

	case FrameSendMessage:
		draft := parseDraft(frame)
		_, err := h.messages.Append(ctx, service.AppendRequest{
			RoomID:      draft.RoomID,
			SenderID:    c.userID,
			Text:        draft.Text,
			Media:       draft.media(),
			ClientMsgID: draft.ClientMsgID,
		})
		// Success is confirmed by the message arriving on the room tail.
		if err != nil {
			logCtx.WithField("room_id", draft.RoomID).WithError(err).Warn("Send failed, returning draft")
			c.deliver(FrameSendFailed, sendFailedFrame{Draft: draft, Error: publicError(err)})
		}

	case FrameTyping:
		roomID := frame.Get("room_id").String()
		if err := h.typing.SetTyping(ctx, roomID, c.userID, c.displayName, frame.Get("is_typing").Bool()); err != nil {
			c.sendError(kind, publicError(err))
			return
		}
		// Remembered so the flag is cleared on disconnect.
		c.mu.Lock()
		c.typedIn[roomID] = struct{}{}
		c.mu.Unlock()

	case FrameMarkRead:
		if _, err := h.messages.MarkRead(ctx, frame.Get("message_id").String(), c.userID); err != nil {
			c.sendError(kind, publicError(err))
		}

	case FrameWatchPresence:
		h.watchPresence(c, frame.Get("user_id").String())

	default:
		logCtx.Debug("Unknown frame type")
		c.sendError(kind, "unknown frame type")
	}
}

type roomWatch struct {
	tail   *service.Tail
	typing *service.Stream[[]domain.Typist]
}

func (w *roomWatch) close() {
	w.tail.Close()
	w.typing.Close()
}

func (h *Hub) subscribeRoom(c *Client, roomID string) {
	c.mu.Lock()
	_, exists := c.rooms[roomID]
	c.mu.Unlock()
	if exists {
		// Already watching: just ack again.
		c.deliver(FrameSubscribed, map[string]string{"room_id": roomID})
		return
	}

	tail, err := h.messages.SubscribeTail(c.ctx, roomID, c.userID)
	if err != nil {
		c.sendError(FrameSubscribeRoom, publicError(err))
		return
	}
	typing, err := h.typing.SubscribeTyping(c.ctx, roomID, c.userID)
	if err != nil {
		tail.Close()
		c.sendError(FrameSubscribeRoom, publicError(err))
		return
	}
	w := &roomWatch{tail: tail, typing: typing}

	// The lock was released while subscribing; recheck.
	c.mu.Lock()
	if _, raced := c.rooms[roomID]; raced || c.ctx.Err() != nil {
		c.mu.Unlock()
		w.close()
		return
	}
	c.rooms[roomID] = w
	c.mu.Unlock()

	c.deliver(FrameSubscribed, map[string]string{"room_id": roomID})
	go h.pumpTail(c, roomID, w)
	go h.pumpTyping(c, roomID, w)
}

func (h *Hub) unsubscribeRoom(c *Client, roomID string) {
	c.mu.Lock()
	w, ok := c.rooms[roomID]
	delete(c.rooms, roomID)
	c.mu.Unlock()
	if ok {
		w.close()
	}
}

func (h *Hub) pumpTail(c *Client, roomID string, w *roomWatch) {
	for u := range w.tail.Updates() {
		switch {
		case u.Message != nil:
			c.deliver(FrameMessage, u.Message)
		case u.Read != nil:
			c.deliver(FrameMessageRead, u.Read)
		}
	}
	// A nil error means the client unsubscribed or went away.
	if err := w.tail.Err(); err != nil {
		c.mu.Lock()
		if c.rooms[roomID] == w {
			delete(c.rooms, roomID)
		}
		c.mu.Unlock()
		w.typing.Close()
		if errors.Is(err, service.ErrRoomNotFound) {
			c.deliver(FrameRoomDeleted, map[string]string{"room_id": roomID})
			return
		}
		c.logCtx().WithField("room_id", roomID).WithError(err).Warn("Room tail ended")
		c.sendError(FrameSubscribeRoom, publicError(err))
	}
}

func (h *Hub) pumpTyping(c *Client, roomID string, w *roomWatch) {
	for typists := range w.typing.C() {
		c.deliver(FrameTyping, typingFrame{RoomID: roomID, Typists: typists})
	}
}

func (h *Hub) watchPresence(c *Client, userID string) {
	if userID == "" {
		c.sendError(FrameWatchPresence, "user_id is required")
		return
	}
	c.mu.Lock()
	_, exists := c.watches[userID]
	c.mu.Unlock()
	if exists {
		return
	}
	stream, err := h.presence.Subscribe(c.ctx, userID)
	if err != nil {
		c.sendError(FrameWatchPresence, publicError(err))
		return
	}
	c.mu.Lock()
	if _, raced := c.watches[userID]; raced || c.ctx.Err() != nil {
		c.mu.Unlock()
		stream.Close()
		return
	}
	c.watches[userID] = stream
	c.mu.Unlock()

	go func() {
		for st := range stream.C() {
			c.deliver(FramePresence, st)
		}
	}()
}

var publicErrors = []error{
	service.ErrInvalidMessage,
	service.ErrInvalidRoom,
	service.ErrInvalidInput,
	service.ErrPermissionDenied,
	service.ErrNotFound,
	service.ErrUpload,
	service.ErrTransientStore,
}

// publicError hides internal details from clients.
func publicError(err error) string {
	for _, e := range publicErrors {
		if errors.Is(err, e) {
			return e.Error()
		}
	}
	return "internal error"
}

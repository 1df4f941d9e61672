package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/nuhaa333/chat-app/internal/domain"
	"github.com/nuhaa333/chat-app/internal/service"
)

// Client is one WebSocket connection of an authenticated user. The identity
// is fixed when the connection is upgraded.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	userID      string
	displayName string
	send        chan []byte
	frames      chan []byte // inbound, handled in order by processFrames

	ctx    context.Context
	cancel context.CancelFunc

	presence *service.PresenceSession

	mu        sync.Mutex
	rooms     map[string]*roomWatch
	watches   map[string]*service.Stream[domain.PresenceState]
	typedIn   map[string]struct{}
	closeOnce sync.Once
	graceful  bool
}

// NewClient creates a Client for an upgraded connection. presence may be nil.
func NewClient(hub *Hub, conn *websocket.Conn, userID, displayName string, presence *service.PresenceSession) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		hub:         hub,
		conn:        conn,
		userID:      userID,
		displayName: displayName,
		send:        make(chan []byte, 256),
		frames:      make(chan []byte, frameBacklog),
		ctx:         ctx,
		cancel:      cancel,
		presence:    presence,
		rooms:       make(map[string]*roomWatch),
		watches:     make(map[string]*service.Stream[domain.PresenceState]),
		typedIn:     make(map[string]struct{}),
	}
}

// Run starts the read and write pumps and the frame worker.
func (c *Client) Run() {
	go c.WritePump()
	go c.processFrames()
	go c.ReadPump()
}

func (c *Client) UserID() string { return c.userID }
func (c *Client) CloseConn()     { c.conn.Close() }

func (c *Client) logCtx() *logrus.Entry {
	return logrus.WithFields(logrus.Fields{"user_id": c.userID, "component": "ws_client"})
}

// touch tells the presence tracker the connection is alive.
func (c *Client) touch() {
	if c.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, writeWait)
	defer cancel()
	_ = c.presence.Touch(ctx)
}

// processFrames handles the client's frames one at a time, in the order they
// were read, so sends and typing toggles apply in order.
func (c *Client) processFrames() {
	for raw := range c.frames {
		if c.ctx.Err() != nil {
			continue // drain after shutdown
		}
		c.touch()
		c.hub.handleFrame(c, raw)
	}
}

// ReadPump reads frames from the connection and queues them for processFrames.
func (c *Client) ReadPump() {
	defer func() {
		close(c.frames) // sole writer
		if !c.hub.QueueMessage(HubMessage{Type: "unregister", Client: c}) {
			c.logCtx().Warn("Hub queue full, unregistering client directly")
			c.hub.unregisterClient(c)
		}
		c.conn.Close()
		c.logCtx().Info("readPump exited, unregistered client")
	}()

	pongWait := c.hub.pongWait
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.touch()
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.mu.Lock()
				c.graceful = true
				c.mu.Unlock()
				c.logCtx().Debug("WebSocket closed by client")
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logCtx().WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				c.logCtx().WithError(err).Debug("WebSocket connection lost")
			}
			return
		}
		// Any inbound traffic counts as a sign of life.
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if messageType != websocket.TextMessage {
			continue
		}
		// Never block the reader, or pongs stop being processed.
		select {
		case c.frames <- message:
		default:
			c.logCtx().Warn("Frame backlog full, dropping client frame")
			c.sendError("", "server busy, frame dropped")
		}
	}
}

// WritePump writes queued frames and pings to the connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.hub.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logCtx().WithError(err).Warn("Failed to write message to websocket")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logCtx().WithError(err).Debug("Failed to send ping message")
				return
			}
		case <-c.ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// deliver queues a frame. A client that cannot keep up is disconnected.
func (c *Client) deliver(kind string, data any) bool {
	payload, err := encodeFrame(kind, data)
	if err != nil {
		c.logCtx().WithError(err).Error("Failed to encode frame")
		return false
	}
	select {
	case <-c.ctx.Done():
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		// ReadPump sees the closed socket and unregisters the client.
		c.logCtx().Warn("Client send buffer full, closing connection")
		c.conn.Close()
		return false
	}
}

func (c *Client) sendError(ref, msg string) {
	c.deliver(FrameError, errorFrame{Ref: ref, Error: msg})
}

// shutdown releases every subscription and the presence session. It runs
// once; the write pump sees the cancelled context and closes the socket.
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		rooms := c.rooms
		watches := c.watches
		typed := c.typedIn
		graceful := c.graceful
		c.rooms = map[string]*roomWatch{}
		c.watches = map[string]*service.Stream[domain.PresenceState]{}
		c.typedIn = map[string]struct{}{}
		c.mu.Unlock()

		c.cancel()
		// Closed outside c.mu; pumpTail takes it on exit.
		for _, w := range rooms {
			w.close()
		}
		for _, s := range watches {
			s.Close()
		}

		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		for roomID := range typed {
			if err := c.hub.typing.ClearUser(ctx, roomID, c.userID); err != nil && !errors.Is(err, context.Canceled) {
				c.logCtx().WithField("room_id", roomID).WithError(err).Debug("Failed to clear typing on disconnect")
			}
		}
		// An abrupt loss keeps the user online for the grace period.
		if c.presence != nil {
			if graceful {
				_ = c.presence.Close(ctx)
			} else {
				c.presence.Drop()
			}
		}
	})
}

package websocket

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/nuhaa333/chat-app/internal/hub"
	"github.com/nuhaa333/chat-app/internal/middleware"
	"github.com/nuhaa333/chat-app/internal/service"
)

// WebSocketHandler upgrades authenticated requests and hands them to the hub.
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	hub      *hub.Hub
	auth     *service.AuthService
	presence *service.PresenceService
}

// NewWebSocketHandler creates a WebSocketHandler. allowedOrigin empty accepts any origin.
func NewWebSocketHandler(h *hub.Hub, auth *service.AuthService, presence *service.PresenceService, allowedOrigin string) *WebSocketHandler {
	if h == nil {
		panic("Hub cannot be nil for WebSocketHandler")
	}
	if auth == nil || presence == nil {
		panic("AuthService and PresenceService cannot be nil for WebSocketHandler")
	}
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowedOrigin == "" || allowedOrigin == "*" || origin == "" || strings.EqualFold(origin, allowedOrigin)
			},
		},
		hub:      h,
		auth:     auth,
		presence: presence,
	}
}

// HandleConnection handles GET /ws. The user is fixed for the life of the connection.
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	logCtx := logrus.WithField("user_id", userID)

	identity, err := h.auth.Lookup(c.Request.Context(), userID)
	if err != nil {
		logCtx.WithError(err).Warn("WS Handler: Unknown user")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not found"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		logCtx.WithError(err).Error("WS Handler: Failed to upgrade connection")
		return
	}

	session, err := h.presence.Connect(c.Request.Context(), userID)
	if err != nil {
		// Chat still works; the user just does not show as online.
		logCtx.WithError(err).Warn("WS Handler: Presence unavailable for connection")
		session = nil
	}

	client := hub.NewClient(h.hub, conn, userID, identity.DisplayName, session)
	if !h.hub.QueueMessage(hub.HubMessage{Type: "register", Client: client}) {
		logCtx.Error("WS Handler: Hub message channel full, failed to register client")
		if session != nil {
			_ = session.Close(c.Request.Context())
		}
		client.CloseConn()
		return
	}
	client.Run()
	logCtx.Info("WS Handler: Client connected")
}

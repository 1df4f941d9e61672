package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nuhaa333/chat-app/internal/service"
)

// PresenceHandler exposes user presence.
type PresenceHandler struct {
	presence *service.PresenceService
}

// NewPresenceHandler creates a PresenceHandler.
func NewPresenceHandler(presence *service.PresenceService) *PresenceHandler {
	return &PresenceHandler{presence: presence}
}

// Get handles GET /api/users/:id/presence.
func (h *PresenceHandler) Get(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}
	st, err := h.presence.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, st)
}

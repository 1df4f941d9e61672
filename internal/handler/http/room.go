package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nuhaa333/chat-app/internal/domain"
	"github.com/nuhaa333/chat-app/internal/service"
)

// RoomHandler serves the room directory.
type RoomHandler struct {
	roomService *service.RoomService
}

// NewRoomHandler creates a RoomHandler.
func NewRoomHandler(roomService *service.RoomService) *RoomHandler {
	return &RoomHandler{roomService: roomService}
}

type PrivateRoomRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

type GroupRequest struct {
	Name      string   `json:"name" binding:"required,max=100"`
	MemberIDs []string `json:"member_ids" binding:"required,min=1"`
	ImageURL  string   `json:"image_url"`
}

type MembersRequest struct {
	MemberIDs []string `json:"member_ids" binding:"required,min=1"`
}

// RoomResponse is a room with its participants.
type RoomResponse struct {
	*domain.Room
	Participants []string `json:"participants"`
}

func roomResponse(r *domain.Room) RoomResponse {
	return RoomResponse{Room: r, Participants: r.ParticipantIDs()}
}

// CreatePrivate handles POST /api/rooms/private.
func (h *RoomHandler) CreatePrivate(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req PrivateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: user_id required")
		return
	}
	room, err := h.roomService.GetOrCreatePrivateRoom(c.Request.Context(), userID, req.UserID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, roomResponse(room))
}

// CreateGroup handles POST /api/rooms/groups.
func (h *RoomHandler) CreateGroup(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req GroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input", "details": err.Error()})
		return
	}
	room, err := h.roomService.CreateGroup(c.Request.Context(), userID, req.Name, req.MemberIDs, req.ImageURL)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, roomResponse(room))
}

// List handles GET /api/rooms.
func (h *RoomHandler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	rooms, err := h.roomService.ListRooms(c.Request.Context(), userID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"rooms": rooms})
}

// Get handles GET /api/rooms/:id.
func (h *RoomHandler) Get(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	room, err := h.roomService.GetRoom(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, roomResponse(room))
}

// AddMembers handles POST /api/rooms/:id/members.
func (h *RoomHandler) AddMembers(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req MembersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: member_ids required")
		return
	}
	room, err := h.roomService.AddMembers(c.Request.Context(), userID, c.Param("id"), req.MemberIDs)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, roomResponse(room))
}

// Delete handles DELETE /api/rooms/:id.
func (h *RoomHandler) Delete(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.roomService.DeleteRoom(c.Request.Context(), userID, c.Param("id")); err != nil {
		HandleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

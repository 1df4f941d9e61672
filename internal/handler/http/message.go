package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/nuhaa333/chat-app/internal/domain"
	"github.com/nuhaa333/chat-app/internal/service"
)

// MessageHandler serves the message log and read tracking.
type MessageHandler struct {
	messageService *service.MessageService
}

// NewMessageHandler creates a MessageHandler.
func NewMessageHandler(messageService *service.MessageService) *MessageHandler {
	return &MessageHandler{messageService: messageService}
}

type SendMessageRequest struct {
	Text        string `json:"text" form:"text"`
	MediaURL    string `json:"media_url" form:"media_url"`
	MediaType   string `json:"media_type" form:"media_type"`
	ClientMsgID string `json:"client_msg_id" form:"client_msg_id"`
}

// History handles GET /api/rooms/:id/messages?after=&limit=.
func (h *MessageHandler) History(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	after, err := strconv.ParseUint(c.DefaultQuery("after", "0"), 10, 64)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "after must be a sequence number")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "limit must be a number")
		return
	}
	msgs, err := h.messageService.History(c.Request.Context(), c.Param("id"), userID, after, limit)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"messages": msgs})
}

// Send handles POST /api/rooms/:id/messages, as JSON or as multipart with a
// "file" part. A failed send echoes the draft so the client can restore it.
func (h *MessageHandler) Send(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req SendMessageRequest
	if err := c.ShouldBind(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid input")
		return
	}
	appendReq := service.AppendRequest{
		RoomID:      c.Param("id"),
		SenderID:    userID,
		Text:        req.Text,
		ClientMsgID: req.ClientMsgID,
	}
	if req.MediaURL != "" || req.MediaType != "" {
		appendReq.Media = &domain.Media{URL: req.MediaURL, Type: req.MediaType}
	}

	var (
		msg *domain.Message
		err error
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, ferr := c.FormFile("file")
		switch {
		case ferr == nil:
			if fh.Size > service.MaxUploadSize {
				sendFailed(c, http.StatusRequestEntityTooLarge, req, "file too large")
				return
			}
			f, openErr := fh.Open()
			if openErr != nil {
				sendFailed(c, http.StatusBadRequest, req, "cannot read file")
				return
			}
			defer f.Close()
			msg, err = h.messageService.AppendWithAttachment(c.Request.Context(), appendReq, service.Attachment{
				Filename:    fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Body:        f,
			})
		case errors.Is(ferr, http.ErrMissingFile):
			msg, err = h.messageService.Append(c.Request.Context(), appendReq)
		default:
			sendFailed(c, http.StatusBadRequest, req, "invalid multipart body")
			return
		}
	} else {
		msg, err = h.messageService.Append(c.Request.Context(), appendReq)
	}

	if err != nil {
		logrus.WithFields(logrus.Fields{"room_id": appendReq.RoomID, "user_id": userID}).WithError(err).Warn("Handler.Send: message not sent")
		code, reason := statusFor(err)
		sendFailed(c, code, req, reason)
		return
	}
	SuccessResponse(c, http.StatusCreated, msg)
}

// sendFailed reports a failed send together with the unsent draft.
func sendFailed(c *gin.Context, code int, draft SendMessageRequest, reason string) {
	c.JSON(code, gin.H{"error": reason, "draft": draft})
}

// MarkRead handles POST /api/messages/:id/read.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	msg, err := h.messageService.MarkRead(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, msg)
}

type MarkRoomReadRequest struct {
	UpToSeq uint64 `json:"up_to_seq"`
}

// MarkRoomRead handles POST /api/rooms/:id/read.
func (h *MessageHandler) MarkRoomRead(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req MarkRoomReadRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			ErrorResponse(c, http.StatusBadRequest, "Invalid input")
			return
		}
	}
	n, err := h.messageService.MarkRoomRead(c.Request.Context(), c.Param("id"), userID, req.UpToSeq)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"marked": n})
}

// Unread handles GET /api/rooms/:id/unread.
func (h *MessageHandler) Unread(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	n, err := h.messageService.UnreadCount(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"room_id": c.Param("id"), "unread": n})
}

// Search handles GET /api/search/messages?q=.
func (h *MessageHandler) Search(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	msgs, err := h.messageService.Search(c.Request.Context(), userID, c.Query("q"), limit)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"messages": msgs})
}

package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nuhaa333/chat-app/internal/service"
)

// UploadHandler stores attachments ahead of a send.
type UploadHandler struct {
	uploads *service.UploadService
}

// NewUploadHandler creates an UploadHandler.
func NewUploadHandler(uploads *service.UploadService) *UploadHandler {
	return &UploadHandler{uploads: uploads}
}

// Upload handles POST /api/uploads with a multipart "file" part.
func (h *UploadHandler) Upload(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "File is required")
		return
	}
	if fh.Size > service.MaxUploadSize {
		ErrorResponse(c, http.StatusRequestEntityTooLarge, "File too large")
		return
	}
	f, err := fh.Open()
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Cannot read file")
		return
	}
	defer f.Close()

	media, err := h.uploads.Upload(c.Request.Context(), userID, service.Attachment{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Body:        f,
	})
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, media)
}

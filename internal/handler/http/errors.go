package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/nuhaa333/chat-app/internal/service"
)

// HandleServiceError maps service errors to HTTP responses.
func HandleServiceError(c *gin.Context, err error) {
	code, message := statusFor(err)
	ErrorResponse(c, code, message)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrAuthenticationFailed):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, service.ErrRegistrationFailed):
		return http.StatusConflict, err.Error()
	case errors.Is(err, service.ErrInvalidMessage),
		errors.Is(err, service.ErrInvalidRoom),
		errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrPermissionDenied):
		return http.StatusForbidden, service.ErrPermissionDenied.Error()
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, service.ErrUpload):
		return http.StatusBadGateway, service.ErrUpload.Error()
	case errors.Is(err, service.ErrTransientStore):
		logrus.WithError(err).Warn("Store unavailable")
		return http.StatusServiceUnavailable, service.ErrTransientStore.Error()
	default:
		logrus.WithError(err).Error("Unhandled internal server error")
		return http.StatusInternalServerError, "An unexpected error occurred"
	}
}

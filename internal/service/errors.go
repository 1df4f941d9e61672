package service

import (
	"errors"
	"fmt"

	"github.com/nuhaa333/chat-app/internal/repository"
)

var (
	ErrInvalidMessage       = errors.New("invalid message: text or media is required")
	ErrInvalidRoom          = errors.New("invalid room request")
	ErrNotFound             = errors.New("not found")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrUpload               = errors.New("media upload failed")
	ErrTransientStore       = errors.New("store temporarily unavailable")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrRegistrationFailed   = errors.New("registration failed: email already exists")
	ErrInvalidInput         = errors.New("invalid input")
	ErrInternalServer       = errors.New("internal server error")
)

// Resource specific aliases.
var (
	ErrUserNotFound    = ErrNotFound
	ErrRoomNotFound    = ErrNotFound
	ErrMessageNotFound = ErrNotFound
)

// mapRepoError translates repository failures into service errors, keeping
// the underlying error in the chain for logging.
func mapRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case repository.IsTransient(err):
		return fmt.Errorf("%w: %w", ErrTransientStore, err)
	default:
		return fmt.Errorf("%w: %w", ErrInternalServer, err)
	}
}

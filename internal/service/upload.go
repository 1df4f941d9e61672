package service

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/nuhaa333/chat-app/internal/domain"
)

// MaxUploadSize caps attachments accepted for upload.
const MaxUploadSize = 20 << 20

// MediaUploader stores a file and returns its public URL.
type MediaUploader interface {
	Upload(ctx context.Context, ownerID, filename, contentType string, body io.Reader) (string, error)
}

// Attachment is a file to upload before sending a message.
type Attachment struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// UploadService validates attachments and forwards them to the configured uploader.
type UploadService struct {
	uploader MediaUploader
}

// NewUploadService creates an UploadService.
func NewUploadService(uploader MediaUploader) *UploadService {
	if uploader == nil {
		panic("MediaUploader cannot be nil for UploadService")
	}
	return &UploadService{uploader: uploader}
}

// Upload stores the attachment and returns the media reference. Any failure wraps ErrUpload.
func (s *UploadService) Upload(ctx context.Context, ownerID string, a Attachment) (*domain.Media, error) {
	if a.Body == nil || strings.TrimSpace(a.Filename) == "" {
		return nil, fmt.Errorf("%w: missing file", ErrUpload)
	}
	contentType := a.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	url, err := s.uploader.Upload(ctx, ownerID, a.Filename, contentType, io.LimitReader(a.Body, MaxUploadSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpload, err)
	}
	return &domain.Media{URL: url, Type: contentType}, nil
}

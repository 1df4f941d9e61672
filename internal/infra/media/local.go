// Package media stores message attachments and returns their public URLs.
package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nuhaa333/chat-app/internal/service"
)

// LocalUploader writes files under a directory served by the HTTP server.
type LocalUploader struct {
	dir     string
	baseURL string
}

var _ service.MediaUploader = (*LocalUploader)(nil)

// NewLocalUploader creates the directory if needed. baseURL is the public
// prefix the directory is served under, e.g. "/uploads".
func NewLocalUploader(dir, baseURL string) (*LocalUploader, error) {
	if dir == "" {
		return nil, fmt.Errorf("upload directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory %s: %w", dir, err)
	}
	return &LocalUploader{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Upload stores body as a new file and returns its URL.
func (u *LocalUploader) Upload(ctx context.Context, ownerID, filename, contentType string, body io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	owner := sanitize(ownerID)
	if owner == "" {
		owner = "anonymous"
	}
	name := uuid.NewString() + strings.ToLower(filepath.Ext(filepath.Base(filename)))

	if err := os.MkdirAll(filepath.Join(u.dir, owner), 0o755); err != nil {
		return "", fmt.Errorf("create owner directory: %w", err)
	}
	dst := filepath.Join(u.dir, owner, name)
	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", dst, err)
	}
	n, err := io.Copy(f, body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(dst)
		return "", fmt.Errorf("write %s: %w", dst, err)
	}

	logrus.WithFields(logrus.Fields{"user_id": ownerID, "file": name, "bytes": n, "content_type": contentType}).Debug("Attachment stored locally")
	return u.baseURL + "/" + path.Join(owner, name), nil
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return -1
	}, s)
}

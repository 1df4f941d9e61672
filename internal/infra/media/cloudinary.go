package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/nuhaa333/chat-app/internal/service"
)

const defaultCloudinaryEndpoint = "https://api.cloudinary.com/v1_1"

// CloudinaryUploader uploads with an unsigned upload preset.
type CloudinaryUploader struct {
	cloudName string
	preset    string
	endpoint  string
	client    *http.Client
}

var _ service.MediaUploader = (*CloudinaryUploader)(nil)

// CloudinaryOption configures a CloudinaryUploader.
type CloudinaryOption func(*CloudinaryUploader)

// WithCloudinaryEndpoint overrides the API base URL.
func WithCloudinaryEndpoint(url string) CloudinaryOption {
	return func(u *CloudinaryUploader) { u.endpoint = url }
}

// WithHTTPClient sets the client used for uploads.
func WithHTTPClient(c *http.Client) CloudinaryOption {
	return func(u *CloudinaryUploader) { u.client = c }
}

// NewCloudinaryUploader creates an uploader for the given cloud and preset.
func NewCloudinaryUploader(cloudName, preset string, opts ...CloudinaryOption) (*CloudinaryUploader, error) {
	if cloudName == "" || preset == "" {
		return nil, fmt.Errorf("cloudinary cloud name and upload preset are required")
	}
	u := &CloudinaryUploader{
		cloudName: cloudName,
		preset:    preset,
		endpoint:  defaultCloudinaryEndpoint,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(u)
	}
	return u, nil
}

// Upload posts the file to the auto upload endpoint and returns its secure_url.
func (u *CloudinaryUploader) Upload(ctx context.Context, ownerID, filename, contentType string, body io.Reader) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("upload_preset", u.preset); err != nil {
		return "", err
	}
	if err := w.WriteField("folder", "chat/"+sanitize(ownerID)); err != nil {
		return "", err
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, body); err != nil {
		return "", fmt.Errorf("read attachment: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/%s/auto/upload", u.endpoint, u.cloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("cloudinary request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read cloudinary response: %w", err)
	}

	logCtx := logrus.WithFields(logrus.Fields{"user_id": ownerID, "status": resp.StatusCode})
	if resp.StatusCode/100 != 2 {
		msg := gjson.GetBytes(raw, "error.message").String()
		logCtx.WithField("reason", msg).Warn("Cloudinary rejected upload")
		return "", fmt.Errorf("cloudinary upload failed with status %d: %s", resp.StatusCode, msg)
	}
	secureURL := gjson.GetBytes(raw, "secure_url").String()
	if secureURL == "" {
		return "", fmt.Errorf("cloudinary response has no secure_url")
	}
	logCtx.WithField("public_id", gjson.GetBytes(raw, "public_id").String()).Debug("Attachment uploaded to Cloudinary")
	return secureURL, nil
}

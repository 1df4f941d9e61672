package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nuhaa333/chat-app/internal/domain"
	"github.com/nuhaa333/chat-app/internal/fanout"
	"github.com/nuhaa333/chat-app/internal/repository"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
	defaultSearchLimit  = 20
	maxClientMsgID      = 64
)

// AppendRequest is a message a participant wants to send.
type AppendRequest struct {
	RoomID      string        `json:"room_id"`
	SenderID    string        `json:"-"`
	Text        string        `json:"text"`
	Media       *domain.Media `json:"media,omitempty"`
	ClientMsgID string        `json:"client_msg_id,omitempty"`
}

// Validate checks the request before anything is written.
func (r *AppendRequest) Validate() error {
	r.Text = strings.TrimSpace(r.Text)
	if r.Media != nil {
		r.Media.URL = strings.TrimSpace(r.Media.URL)
		r.Media.Type = strings.TrimSpace(r.Media.Type)
		if r.Media.URL == "" && r.Media.Type == "" {
			r.Media = nil
		} else if r.Media.URL == "" || r.Media.Type == "" {
			return fmt.Errorf("%w: media url and type must be set together", ErrInvalidMessage)
		}
	}
	if r.Text == "" && r.Media == nil {
		return ErrInvalidMessage
	}
	if len(r.ClientMsgID) > maxClientMsgID {
		return fmt.Errorf("%w: client_msg_id longer than %d", ErrInvalidMessage, maxClientMsgID)
	}
	return nil
}

// MessageService is the message log plus read tracking.
type MessageService struct {
	msgRepo repository.MessageRepository
	rooms   *RoomService
	pub     fanout.Publisher
	broker  *fanout.Broker
	uploads *UploadService // optional
	retry   RetryPolicy
}

// NewMessageService creates a MessageService. pub sends events (possibly
// across nodes) and broker is the local broker tails subscribe to.
func NewMessageService(msgRepo repository.MessageRepository, rooms *RoomService, pub fanout.Publisher, broker *fanout.Broker, uploads *UploadService) *MessageService {
	if msgRepo == nil {
		panic("MessageRepository cannot be nil for MessageService")
	}
	if rooms == nil {
		panic("RoomService cannot be nil for MessageService")
	}
	if pub == nil || broker == nil {
		panic("Publisher and Broker cannot be nil for MessageService")
	}
	return &MessageService{msgRepo: msgRepo, rooms: rooms, pub: pub, broker: broker, uploads: uploads, retry: DefaultRetryPolicy}
}

// Append validates and stores a message, then notifies the room's subscribers.
// A repeated ClientMsgID returns the stored message without a second write.
// Append is never retried automatically.
func (s *MessageService) Append(ctx context.Context, req AppendRequest) (*domain.Message, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	room, err := s.rooms.GetRoom(ctx, req.RoomID, req.SenderID)
	if err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ID:       uuid.NewString(),
		RoomID:   room.ID,
		SenderID: req.SenderID,
		Text:     req.Text,
	}
	if req.Media != nil {
		msg.MediaURL = req.Media.URL
		msg.MediaType = req.Media.Type
	}
	if req.ClientMsgID != "" {
		id := req.ClientMsgID
		msg.ClientMsgID = &id
	}

	logCtx := logrus.WithFields(logrus.Fields{"room_id": room.ID, "user_id": req.SenderID})
	stored, created, err := s.msgRepo.Append(ctx, msg, room.ParticipantIDs())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		logCtx.WithError(err).Error("Failed to append message")
		return nil, mapRepoError(err)
	}
	if !created {
		logCtx.WithField("message_id", stored.ID).Info("Duplicate send, returning stored message")
		return stored, nil
	}

	publish(ctx, s.pub, fanout.RoomMessagesTopic(room.ID), fanout.KindMessage, stored, logCtx)
	logCtx.WithFields(logrus.Fields{"message_id": stored.ID, "seq": stored.Seq}).Debug("Message appended")
	return stored, nil
}

// AppendWithAttachment uploads the attachment and sends it with the message.
// A failed upload blocks the send with ErrUpload.
func (s *MessageService) AppendWithAttachment(ctx context.Context, req AppendRequest, att Attachment) (*domain.Message, error) {
	if s.uploads == nil {
		return nil, fmt.Errorf("%w: uploads are not configured", ErrUpload)
	}
	// Check access before spending an upload.
	if _, err := s.rooms.GetRoom(ctx, req.RoomID, req.SenderID); err != nil {
		return nil, err
	}
	media, err := s.uploads.Upload(ctx, req.SenderID, att)
	if err != nil {
		logrus.WithFields(logrus.Fields{"room_id": req.RoomID, "user_id": req.SenderID}).WithError(err).Warn("Attachment upload failed, send blocked")
		return nil, err
	}
	req.Media = media
	return s.Append(ctx, req)
}

// History returns up to limit messages after afterSeq in order.
func (s *MessageService) History(ctx context.Context, roomID, viewerID string, afterSeq uint64, limit int) ([]domain.Message, error) {
	if _, err := s.rooms.GetRoom(ctx, roomID, viewerID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	msgs, err := s.listAfter(ctx, roomID, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *MessageService) listAfter(ctx context.Context, roomID string, afterSeq uint64, limit int) ([]domain.Message, error) {
	var msgs []domain.Message
	err := retryIdempotent(ctx, s.retry, func() error {
		var err error
		msgs, err = s.msgRepo.ListAfter(ctx, roomID, afterSeq, limit)
		return err
	})
	if err != nil {
		logrus.WithField("room_id", roomID).WithError(err).Error("Failed to list messages")
		return nil, mapRepoError(err)
	}
	return msgs, nil
}

// MarkRead sets read[readerID] on one message. Already-read messages and
// members who joined after the message was sent are no-ops. Readers outside
// the room get ErrPermissionDenied, and messages of deleted rooms ErrNotFound.
func (s *MessageService) MarkRead(ctx context.Context, messageID, readerID string) (*domain.Message, error) {
	logCtx := logrus.WithFields(logrus.Fields{"message_id": messageID, "user_id": readerID})

	var target *domain.Message
	err := retryIdempotent(ctx, s.retry, func() error {
		var err error
		target, err = s.msgRepo.FindByID(ctx, messageID)
		return err
	})
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logCtx.WithError(err).Error("Failed to load message")
		}
		return nil, mapRepoError(err)
	}
	// Access is checked before anything is written or returned.
	if _, err := s.rooms.GetRoom(ctx, target.RoomID, readerID); err != nil {
		return nil, err
	}

	var (
		msg     *domain.Message
		changed bool
	)
	err = retryIdempotent(ctx, s.retry, func() error {
		var err error
		msg, changed, err = s.msgRepo.MarkRead(ctx, messageID, readerID)
		return err
	})
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logCtx.WithError(err).Error("Failed to mark message read")
		}
		return nil, mapRepoError(err)
	}
	if changed {
		publish(ctx, s.pub, fanout.RoomMessagesTopic(msg.RoomID), fanout.KindMessageRead,
			domain.ReadEvent{RoomID: msg.RoomID, ReaderID: readerID, MessageIDs: []string{msg.ID}}, logCtx)
	}
	return msg, nil
}

// MarkRoomRead marks every message up to uptoSeq read for the reader
// (uptoSeq 0 means the whole room) and returns how many flipped.
func (s *MessageService) MarkRoomRead(ctx context.Context, roomID, readerID string, uptoSeq uint64) (int, error) {
	room, err := s.rooms.GetRoom(ctx, roomID, readerID)
	if err != nil {
		return 0, err
	}
	if uptoSeq == 0 || uptoSeq > room.LastSeq {
		uptoSeq = room.LastSeq
	}
	var ids []string
	err = retryIdempotent(ctx, s.retry, func() error {
		var err error
		ids, err = s.msgRepo.MarkReadUpTo(ctx, roomID, readerID, uptoSeq)
		return err
	})
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": readerID})
	if err != nil {
		logCtx.WithError(err).Error("Failed to mark room read")
		return 0, mapRepoError(err)
	}
	if len(ids) > 0 {
		publish(ctx, s.pub, fanout.RoomMessagesTopic(roomID), fanout.KindMessageRead,
			domain.ReadEvent{RoomID: roomID, ReaderID: readerID, MessageIDs: ids}, logCtx)
	}
	return len(ids), nil
}

// UnreadCount counts the room's messages still unread by userID.
func (s *MessageService) UnreadCount(ctx context.Context, roomID, userID string) (int64, error) {
	if _, err := s.rooms.GetRoom(ctx, roomID, userID); err != nil {
		return 0, err
	}
	return s.rooms.unreadCount(ctx, roomID, userID)
}

// Search finds messages starting with prefix across the user's rooms, newest first.
func (s *MessageService) Search(ctx context.Context, userID, prefix string, limit int) ([]domain.Message, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, fmt.Errorf("%w: empty search query", ErrInvalidInput)
	}
	if limit <= 0 || limit > maxHistoryLimit {
		limit = defaultSearchLimit
	}
	roomIDs, err := s.rooms.RoomIDsFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(roomIDs) == 0 {
		return []domain.Message{}, nil
	}
	msgs, err := s.msgRepo.SearchPrefix(ctx, roomIDs, prefix, limit)
	if err != nil {
		logrus.WithField("user_id", userID).WithError(err).Error("Message search failed")
		return nil, mapRepoError(err)
	}
	return msgs, nil
}

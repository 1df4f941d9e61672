package hub

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/nuhaa333/chat-app/internal/domain"
)

// Client frame types.
const (
	FrameSubscribeRoom   = "subscribe_room"
	FrameUnsubscribeRoom = "unsubscribe_room"
	FrameSendMessage     = "send_message"
	FrameTyping          = "typing"
	FrameMarkRead        = "mark_read"
	FrameWatchPresence   = "watch_presence"
)

// Server frame types.
const (
	FrameMessage     = "message"
	FrameMessageRead = "message_read"
	FramePresence    = "presence"
	FrameRoomDeleted = "room_deleted"
	FrameSendFailed  = "send_failed"
	FrameError       = "error"
	FrameSubscribed  = "subscribed"
)

// Draft is the content of a send_message frame, echoed back when the send fails.
type Draft struct {
	RoomID      string `json:"room_id"`
	Text        string `json:"text"`
	MediaURL    string `json:"media_url,omitempty"`
	MediaType   string `json:"media_type,omitempty"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
}

func parseDraft(frame gjson.Result) Draft {
	return Draft{
		RoomID:      frame.Get("room_id").String(),
		Text:        frame.Get("text").String(),
		MediaURL:    frame.Get("media_url").String(),
		MediaType:   frame.Get("media_type").String(),
		ClientMsgID: frame.Get("client_msg_id").String(),
	}
}

func (d Draft) media() *domain.Media {
	if d.MediaURL == "" && d.MediaType == "" {
		return nil
	}
	return &domain.Media{URL: d.MediaURL, Type: d.MediaType}
}

type outFrame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type typingFrame struct {
	RoomID  string          `json:"room_id"`
	Typists []domain.Typist `json:"typists"`
}

type sendFailedFrame struct {
	Draft Draft  `json:"draft"`
	Error string `json:"error"`
}

type errorFrame struct {
	Ref   string `json:"ref,omitempty"`
	Error string `json:"error"`
}

func encodeFrame(kind string, data any) ([]byte, error) {
	return json.Marshal(outFrame{Type: kind, Data: data})
}

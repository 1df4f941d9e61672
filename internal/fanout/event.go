// Package fanout delivers change events to in-process subscribers by topic.
package fanout

import (
	"context"
	"encoding/json"
	"fmt"
)

// Event kinds.
const (
	KindMessage     = "message"
	KindMessageRead = "message_read"
	KindTyping      = "typing"
	KindPresence    = "presence"
	KindRoomDeleted = "room_deleted"
)

// Event is one change notification. Data holds the JSON encoded payload so
// events can cross process boundaries unchanged.
type Event struct {
	Topic string          `json:"topic"`
	Kind  string          `json:"kind"`
	Data  json.RawMessage `json:"data"`
}

// NewEvent encodes v as the event payload.
func NewEvent(topic, kind string, v any) (Event, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Event{}, fmt.Errorf("fanout: encode %s event: %w", kind, err)
	}
	return Event{Topic: topic, Kind: kind, Data: data}, nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("fanout: decode %s event: %w", e.Kind, err)
	}
	return nil
}

// Publisher sends events to every subscriber of their topic, possibly on other nodes.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Topic names.

func RoomMessagesTopic(roomID string) string { return "room:" + roomID + ":messages" }
func RoomTypingTopic(roomID string) string   { return "room:" + roomID + ":typing" }
func RoomEventsTopic(roomID string) string   { return "room:" + roomID + ":events" }
func UserPresenceTopic(userID string) string { return "user:" + userID + ":presence" }

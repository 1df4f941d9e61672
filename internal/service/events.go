package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/nuhaa333/chat-app/internal/fanout"
)

// RoomDeletedEvent is published on the room events topic when a room goes away.
type RoomDeletedEvent struct {
	RoomID    string `json:"room_id"`
	DeletedBy string `json:"deleted_by"`
}

// publish sends one event. Failures are logged, not returned: the mutation
// is already durable and subscribers repair gaps from the store.
func publish(ctx context.Context, pub fanout.Publisher, topic, kind string, payload any, logCtx *logrus.Entry) {
	if pub == nil {
		return
	}
	ev, err := fanout.NewEvent(topic, kind, payload)
	if err == nil {
		err = pub.Publish(ctx, ev)
	}
	if err != nil {
		logCtx.WithError(err).WithFields(logrus.Fields{"topic": topic, "kind": kind}).Warn("Failed to publish event")
	}
}

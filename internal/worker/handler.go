package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/nuhaa333/chat-app/internal/service"
	"github.com/nuhaa333/chat-app/internal/tasks"
)

// RoomPurger hard-deletes a room's data.
type RoomPurger interface {
	Purge(ctx context.Context, roomID string) error
}

// PresenceSweeper flips stale online users to offline.
type PresenceSweeper interface {
	Sweep(ctx context.Context) (int, error)
}

func taskLogCtx(ctx context.Context, t *asynq.Task) *logrus.Entry {
	taskID := ""
	if rw := t.ResultWriter(); rw != nil {
		taskID = rw.TaskID()
	}
	queue, _ := asynq.GetQueueName(ctx)
	currentRetry, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	return logrus.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": t.Type(),
		"queue":     queue,
		"retry":     currentRetry,
		"max_retry": maxRetry,
	})
}

// RoomPurgeHandler processes room:purge tasks.
type RoomPurgeHandler struct {
	rooms RoomPurger
}

// NewRoomPurgeHandler creates a RoomPurgeHandler.
func NewRoomPurgeHandler(rooms RoomPurger) *RoomPurgeHandler {
	if rooms == nil {
		panic("RoomPurger cannot be nil for RoomPurgeHandler")
	}
	return &RoomPurgeHandler{rooms: rooms}
}

// ProcessTask implements asynq.Handler.
func (h *RoomPurgeHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := taskLogCtx(ctx, t)

	payload, err := tasks.ParseRoomPurgePayload(t.Payload())
	if err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	logCtx = logCtx.WithField("room_id", payload.RoomID)
	logCtx.Info("Processing room purge task...")

	if err := h.rooms.Purge(ctx, payload.RoomID); err != nil {
		logCtx.WithError(err).Error("Room purge failed")
		return fmt.Errorf("purge room %s: %w", payload.RoomID, err)
	}
	logCtx.Info("Room purge task processed successfully")
	return nil
}

// PresenceSweepHandler processes the periodic presence:sweep task.
type PresenceSweepHandler struct {
	presence PresenceSweeper
	timeout  time.Duration
}

// NewPresenceSweepHandler creates a PresenceSweepHandler.
func NewPresenceSweepHandler(presence PresenceSweeper) *PresenceSweepHandler {
	if presence == nil {
		panic("PresenceSweeper cannot be nil for PresenceSweepHandler")
	}
	return &PresenceSweepHandler{presence: presence, timeout: 30 * time.Second}
}

// ProcessTask implements asynq.Handler. The next run repeats the sweep, so
// failures are not retried.
func (h *PresenceSweepHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := taskLogCtx(ctx, t)
	sweepCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	flipped, err := h.presence.Sweep(sweepCtx)
	if err != nil {
		if errors.Is(err, service.ErrTransientStore) {
			logCtx.WithError(err).Warn("Presence sweep interrupted by store failure")
		} else {
			logCtx.WithError(err).Error("Presence sweep failed")
		}
		return fmt.Errorf("presence sweep: %v: %w", err, asynq.SkipRetry)
	}
	logCtx.WithField("flipped", flipped).Debug("Presence sweep task completed")
	return nil
}

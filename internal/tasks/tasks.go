// Package tasks defines the background task types and their payloads.
package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Task types.
const (
	// TypeRoomPurge hard-deletes a soft-deleted room and everything it owns.
	TypeRoomPurge = "room:purge"
	// TypePresenceSweep marks users offline whose session leases have all expired.
	TypePresenceSweep = "presence:sweep"
)

// Queue names, matching the worker's queue weights.
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// RoomPurgePayload identifies the room to purge.
type RoomPurgePayload struct {
	RoomID string `json:"room_id"`
}

// NewRoomPurgeTask builds a room:purge task. Purges are unique per room for
// an hour so repeated deletes enqueue once.
func NewRoomPurgeTask(roomID string) (*asynq.Task, error) {
	payload, err := json.Marshal(RoomPurgePayload{RoomID: roomID})
	if err != nil {
		return nil, fmt.Errorf("marshal room purge payload: %w", err)
	}
	return asynq.NewTask(TypeRoomPurge, payload, asynq.Queue(QueueLow), asynq.MaxRetry(10), asynq.Unique(time.Hour)), nil
}

// ParseRoomPurgePayload decodes a room:purge payload.
func ParseRoomPurgePayload(data []byte) (RoomPurgePayload, error) {
	var p RoomPurgePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("unmarshal room purge payload: %w", err)
	}
	if p.RoomID == "" {
		return p, fmt.Errorf("room purge payload without room_id")
	}
	return p, nil
}

// NewPresenceSweepTask builds the periodic presence:sweep task.
func NewPresenceSweepTask() *asynq.Task {
	return asynq.NewTask(TypePresenceSweep, nil, asynq.Queue(QueueCritical), asynq.MaxRetry(0))
}

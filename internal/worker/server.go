package worker

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/nuhaa333/chat-app/internal/tasks"
)

// WorkerServer runs the asynq server that processes background tasks.
type WorkerServer struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	log    *logrus.Entry
}

// NewWorkerServer creates a WorkerServer with the room purge and presence sweep handlers.
func NewWorkerServer(redisOpt asynq.RedisClientOpt, rooms RoomPurger, presence PresenceSweeper, logger *logrus.Logger, concurrency int) *WorkerServer {
	logEntry := logger.WithField("component", "worker_server")
	if concurrency <= 0 {
		concurrency = 10
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				tasks.QueueCritical: 6,
				tasks.QueueDefault:  3,
				tasks.QueueLow:      1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				taskLogCtx(ctx, task).WithField("component", "worker_server").Errorf("Task failed: %v", err)
			}),
			Logger: &asynqLogger{entry: logEntry.WithField("source", "asynq")},
		},
	)

	mux := asynq.NewServeMux()
	mux.Handle(tasks.TypeRoomPurge, NewRoomPurgeHandler(rooms))
	mux.Handle(tasks.TypePresenceSweep, NewPresenceSweepHandler(presence))

	return &WorkerServer{server: server, mux: mux, log: logEntry}
}

// Start runs the worker server. It should be called in its own goroutine.
func (ws *WorkerServer) Start() {
	ws.log.Info("Worker server starting...")
	if err := ws.server.Run(ws.mux); err != nil {
		if !errors.Is(err, asynq.ErrServerClosed) {
			ws.log.Errorf("Could not run worker server: %v", err)
		} else {
			ws.log.Info("Worker server stopped.")
		}
	}
}

// Shutdown stops the worker server gracefully.
func (ws *WorkerServer) Shutdown() {
	ws.log.Info("Shutting down worker server...")
	ws.server.Shutdown()
	ws.log.Info("Worker server shut down complete.")
}

// asynqLogger routes asynq's internal logs through logrus.
type asynqLogger struct {
	entry *logrus.Entry
}

func (l *asynqLogger) Debug(args ...interface{}) { l.entry.Debug(args...) }
func (l *asynqLogger) Info(args ...interface{})  { l.entry.Info(args...) }
func (l *asynqLogger) Warn(args ...interface{})  { l.entry.Warn(args...) }
func (l *asynqLogger) Error(args ...interface{}) { l.entry.Error(args...) }
func (l *asynqLogger) Fatal(args ...interface{}) { l.entry.Fatal(args...) }

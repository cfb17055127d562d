// Package keepalive schedules the periodic store touch that keeps hosted
// databases from pausing on inactivity.
package keepalive

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// TaskPing is the asynq task type of the keep-alive touch.
const TaskPing = "keepalive:ping"

const pingTimeout = 10 * time.Second

// Toucher performs a lightweight store query.
type Toucher interface {
	Touch(ctx context.Context) error
}

// NewTask builds a ping task. Missed pings are not retried; the next tick replaces them.
func NewTask() *asynq.Task {
	return asynq.NewTask(TaskPing, nil, asynq.MaxRetry(0), asynq.Timeout(pingTimeout))
}

// Handler runs ping tasks.
type Handler struct {
	Store  Toucher
	Logger zerolog.Logger
}

// ProcessTask touches the store. Failures are logged, never returned.
func (h Handler) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	if h.Store == nil {
		h.Logger.Warn().Msg("keep-alive store not configured")
		return nil
	}
	start := time.Now()
	if err := h.Store.Touch(ctx); err != nil {
		h.Logger.Warn().Err(err).Msg("keep-alive ping failed")
		return nil
	}
	h.Logger.Debug().Dur("took", time.Since(start)).Msg("keep-alive ping")
	return nil
}

// Register mounts h on mux.
func Register(mux *asynq.ServeMux, h Handler) {
	mux.Handle(TaskPing, h)
}

// Schedule registers the ping on a cron expression.
func Schedule(s *asynq.Scheduler, cronExpr string) (string, error) {
	return s.Register(cronExpr, NewTask())
}

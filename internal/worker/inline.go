package worker

import (
	"context"
	"errors"
	"log/slog"

	"media-relay/internal/domain"
)

// Inline runs each job synchronously in the caller's goroutine. The Lambda job
// invocation uses it, since work must finish before the invocation returns.
type Inline struct {
	handler Handler
	logger  *slog.Logger
}

func NewInline(handler Handler, logger *slog.Logger) (*Inline, error) {
	if handler == nil {
		return nil, errors.New("worker: handler must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Inline{handler: handler, logger: logger}, nil
}

// Dispatch runs job to completion. Handler errors are logged, not returned,
// since the handler reports its own outcome to the sender. Only a panic is
// returned so the caller can tell the sender something went wrong.
func (i *Inline) Dispatch(ctx context.Context, job domain.Job) error {
	err := runSafely(ctx, i.handler, job)
	if err == nil {
		return nil
	}
	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		i.logger.Error("job panicked", "job_id", job.ID, "err", err, "stack", string(panicErr.Stack))
		return err
	}
	i.logger.Error("job failed", "job_id", job.ID, "err", err)
	return nil
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"media-relay/internal/domain"
	"media-relay/internal/usecase"
)

// Invocation is the Lambda entry point. A single function serves both the API
// Gateway webhook and the asynchronous job events the webhook queues, so the
// webhook can acknowledge before the pipeline starts.
type Invocation struct {
	webhook *Handler
	jobs    usecase.Dispatcher
	logger  *slog.Logger
}

// NewInvocation routes webhook events to webhook and job events to jobs,
// which must run each job to completion.
func NewInvocation(webhook *Handler, jobs usecase.Dispatcher) (*Invocation, error) {
	if webhook == nil {
		return nil, errors.New("handler: webhook handler must not be nil")
	}
	if jobs == nil {
		return nil, errors.New("handler: job runner must not be nil")
	}
	return &Invocation{webhook: webhook, jobs: jobs, logger: webhook.logger}, nil
}

// Handle decodes the raw payload and routes it. Job failures are logged and
// not returned; Lambda would otherwise retry the event and message the sender again.
func (i *Invocation) Handle(ctx context.Context, payload json.RawMessage) (any, error) {
	var envelope struct {
		Source string `json:"source"`
	}
	if err := json.Unmarshal(payload, &envelope); err == nil && envelope.Source == domain.JobEventSource {
		var ev domain.JobEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			i.logger.Error("malformed job event", "err", err)
			return nil, nil
		}
		i.runJob(ctx, ev.Job)
		return nil, nil
	}

	var req events.APIGatewayProxyRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		corrID := newCorrelationID()
		i.logger.Warn("unrecognized invocation payload", "correlation_id", corrID, "err", err)
		return twimlResponse(corrID), nil
	}
	return i.webhook.Handle(ctx, req)
}

func (i *Invocation) runJob(ctx context.Context, job domain.Job) {
	logger := i.logger.With("job_id", job.ID, "sender", job.Sender)
	if job.ID == "" || job.Sender == "" {
		logger.Error("job event missing id or sender")
		return
	}
	logger.Info("job started")
	if err := i.jobs.Dispatch(ctx, job); err != nil {
		logger.Error("job aborted", "err", err)
	}
}

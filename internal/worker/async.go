package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"media-relay/internal/domain"
)

type lambdaAPI interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// AsyncInvoker hands each job to a separate Lambda invocation and returns as
// soon as Lambda has queued it. The receiving function runs the pipeline.
type AsyncInvoker struct {
	api      lambdaAPI
	function string
	logger   *slog.Logger
}

func NewAsyncInvoker(api lambdaAPI, function string, logger *slog.Logger) (*AsyncInvoker, error) {
	if api == nil {
		return nil, errors.New("worker: lambda client must not be nil")
	}
	function = strings.TrimSpace(function)
	if function == "" {
		return nil, errors.New("worker: job function name must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AsyncInvoker{api: api, function: function, logger: logger}, nil
}

// Dispatch queues job as an Event invocation of the job function.
func (a *AsyncInvoker) Dispatch(ctx context.Context, job domain.Job) error {
	payload, err := json.Marshal(domain.JobEvent{Source: domain.JobEventSource, Job: job})
	if err != nil {
		return fmt.Errorf("worker: marshal job event: %w", err)
	}

	out, err := a.api.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(a.function),
		InvocationType: types.InvocationTypeEvent,
		Payload:        payload,
	})
	if err != nil {
		return fmt.Errorf("worker: invoke %s: %w", a.function, err)
	}
	if out == nil || out.StatusCode != http.StatusAccepted {
		var status int32
		if out != nil {
			status = out.StatusCode
		}
		return fmt.Errorf("worker: invoke %s: unexpected status %d", a.function, status)
	}

	a.logger.Debug("job queued", "job_id", job.ID, "function", a.function)
	return nil
}

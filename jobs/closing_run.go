package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-close/internal/closing"
	jobmetrics "github.com/odyssey-erp/odyssey-close/internal/jobs"
)

// ClosingRunner executes closing steps.
type ClosingRunner interface {
	Run(ctx context.Context, req closing.Request) closing.Result
}

// ClosingRunJob runs queued closing steps.
type ClosingRunJob struct {
	Service ClosingRunner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewClosingRunJob initialises the closing step handler.
func NewClosingRunJob(service ClosingRunner, logger *slog.Logger, metrics *jobmetrics.Metrics) *ClosingRunJob {
	return &ClosingRunJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle executes one closing step. Failures that a retry cannot fix skip retry.
func (j *ClosingRunJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("closing run: handler not configured")
	}
	var payload ClosingRunPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	req, err := payload.Request()
	if err != nil {
		return fmt.Errorf("closing run: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskClosingRun)
	logger := j.logger().With(
		slog.String("step", payload.Step),
		slog.Int64("company_id", payload.CompanyID),
		slog.String("request_id", payload.RequestID),
	)

	res := j.Service.Run(ctx, req)
	if res.Success {
		logger.Info("queued closing step completed",
			slog.Int64("run_id", res.RunID),
			slog.Int64("journal_entry_id", res.JournalEntryID))
		return tracker.End(nil)
	}
	logger.Error("queued closing step failed", slog.String("error", res.Error))
	if permanent(res.Err) {
		return tracker.End(fmt.Errorf("%s: %w", res.Error, asynq.SkipRetry))
	}
	return tracker.End(errors.New(res.Error))
}

func permanent(err error) bool {
	return errors.Is(err, closing.ErrInvalidRequest) ||
		errors.Is(err, closing.ErrStepAlreadyRun) ||
		errors.Is(err, closing.ErrPrerequisite)
}

func (j *ClosingRunJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

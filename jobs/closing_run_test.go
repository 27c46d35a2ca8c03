package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-close/internal/closing"
	jobmetrics "github.com/odyssey-erp/odyssey-close/internal/jobs"
)

type stubRunner struct {
	result closing.Result
	reqs   []closing.Request
}

func (s *stubRunner) Run(ctx context.Context, req closing.Request) closing.Result {
	s.reqs = append(s.reqs, req)
	return s.result
}

func closingTask(t *testing.T) *asynq.Task {
	t.Helper()
	req := closing.Request{
		Step:            closing.StepExpenseClose,
		CompanyID:       4,
		FiscalYearStart: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		FiscalYearEnd:   time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
		ActorID:         9,
	}
	task, err := NewClosingRunTask(NewClosingRunPayload(req, "req-1"))
	require.NoError(t, err)
	return task
}

func TestClosingRunJobRunsDecodedRequest(t *testing.T) {
	runner := &stubRunner{result: closing.Result{Success: true, RunID: 1, JournalEntryID: 2}}
	registry := prometheus.NewRegistry()
	job := NewClosingRunJob(runner, nil, jobmetrics.NewMetrics(registry))

	require.NoError(t, job.Handle(context.Background(), closingTask(t)))
	require.Len(t, runner.reqs, 1)
	req := runner.reqs[0]
	assert.Equal(t, closing.StepExpenseClose, req.Step)
	assert.Equal(t, int64(4), req.CompanyID)
	assert.Equal(t, int64(9), req.ActorID)
	assert.Equal(t, time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), req.FiscalYearEnd)

	assert.Equal(t, float64(1), counterValue(t, registry, "odyssey_jobs_total"))
}

func TestClosingRunJobRetryPolicy(t *testing.T) {
	cases := []struct {
		err  error
		skip bool
	}{
		{closing.ErrStepAlreadyRun, true},
		{closing.ErrPrerequisite, true},
		{closing.ErrInvalidRequest, true},
		{closing.ErrStepInProgress, false},
		{errors.New("connection reset"), false},
	}
	for _, tc := range cases {
		runner := &stubRunner{result: closing.Result{Err: tc.err, Error: tc.err.Error()}}
		err := NewClosingRunJob(runner, nil, nil).Handle(context.Background(), closingTask(t))
		require.Error(t, err)
		assert.Equal(t, tc.skip, errors.Is(err, asynq.SkipRetry), tc.err.Error())
	}
}

func TestClosingRunJobRejectsBadPayload(t *testing.T) {
	runner := &stubRunner{}
	job := NewClosingRunJob(runner, nil, nil)

	err := job.Handle(context.Background(), asynq.NewTask(TaskClosingRun, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = job.Handle(context.Background(), asynq.NewTask(TaskClosingRun, []byte(`{"step":"revenue_close","fiscal_year_start":"2024","fiscal_year_end":"2024-12-31"}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, runner.reqs)

	assert.Error(t, (*ClosingRunJob)(nil).Handle(context.Background(), closingTask(t)))
}

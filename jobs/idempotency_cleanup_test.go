package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPruner struct {
	retention time.Duration
	err       error
}

func (s *stubPruner) Cleanup(ctx context.Context, olderThan time.Duration) error {
	s.retention = olderThan
	return s.err
}

func TestIdempotencyCleanupRetention(t *testing.T) {
	store := &stubPruner{}
	job := NewIdempotencyCleanupJob(store, nil, nil)

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)))
	assert.Equal(t, 7*24*time.Hour, store.retention)

	task, err := NewIdempotencyCleanupTask(48 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 48*time.Hour, store.retention)
}

func TestIdempotencyCleanupFailure(t *testing.T) {
	store := &stubPruner{err: errors.New("db down")}
	err := NewIdempotencyCleanupJob(store, nil, nil).Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil))
	require.Error(t, err)

	err = NewIdempotencyCleanupJob(store, nil, nil).Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, []byte("x")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	assert.Error(t, NewIdempotencyCleanupJob(nil, nil, nil).Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)))
}

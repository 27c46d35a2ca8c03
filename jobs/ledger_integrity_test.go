package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-close/internal/accounting"
	jobmetrics "github.com/odyssey-erp/odyssey-close/internal/jobs"
)

type stubIntegrityStore struct {
	issues []accounting.IntegrityIssue
	err    error
	limit  int
}

func (s *stubIntegrityStore) FindUnbalancedEntries(ctx context.Context, limit int) ([]accounting.IntegrityIssue, error) {
	s.limit = limit
	return s.issues, s.err
}

func TestLedgerIntegrityScanReportsIssues(t *testing.T) {
	store := &stubIntegrityStore{issues: []accounting.IntegrityIssue{
		{EntryID: 10, CompanyID: 3, Number: "CLS-000010", LineCount: 2, LineDebit: decimal.NewFromInt(100), LineCredit: decimal.NewFromInt(90)},
		{EntryID: 11, CompanyID: 3, Number: "CLS-000011"},
	}}
	registry := prometheus.NewRegistry()
	job := NewLedgerIntegrityJob(store, nil, jobmetrics.NewMetrics(registry))

	issues, err := job.Scan(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, issues, 2)
	assert.Equal(t, 500, store.limit)
	assert.Equal(t, float64(2), counterValue(t, registry, "odyssey_ledger_integrity_issues_total"))
}

func TestLedgerIntegrityHandleUsesPayloadLimit(t *testing.T) {
	store := &stubIntegrityStore{}
	task, err := NewLedgerIntegrityTask(25)
	require.NoError(t, err)
	require.NoError(t, NewLedgerIntegrityJob(store, nil, nil).Handle(context.Background(), task))
	assert.Equal(t, 25, store.limit)

	err = NewLedgerIntegrityJob(store, nil, nil).Handle(context.Background(), asynq.NewTask(TaskLedgerIntegrity, []byte("[")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestLedgerIntegrityPropagatesStoreError(t *testing.T) {
	store := &stubIntegrityStore{err: errors.New("db down")}
	_, err := NewLedgerIntegrityJob(store, nil, nil).Scan(context.Background(), 10)
	require.Error(t, err)

	_, err = NewLedgerIntegrityJob(nil, nil, nil).Scan(context.Background(), 10)
	require.Error(t, err)
}

// counterValue sums every series of a counter family.
func counterValue(t *testing.T, registry *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-close/internal/accounting"
	jobmetrics "github.com/odyssey-erp/odyssey-close/internal/jobs"
)

// IntegrityStore finds posted entries that break ledger invariants.
type IntegrityStore interface {
	FindUnbalancedEntries(ctx context.Context, limit int) ([]accounting.IntegrityIssue, error)
}

// LedgerIntegrityJob reports posted entries with no lines, unbalanced lines, or
// header totals that disagree with their lines.
type LedgerIntegrityJob struct {
	Store   IntegrityStore
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLedgerIntegrityJob initialises the integrity scan handler.
func NewLedgerIntegrityJob(store IntegrityStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerIntegrityJob {
	return &LedgerIntegrityJob{Store: store, Logger: logger, Metrics: metrics}
}

// Handle executes the scan.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload LedgerIntegrityPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	_, err := j.Scan(ctx, payload.Limit)
	return err
}

// Scan runs the integrity check and returns the offending entries.
func (j *LedgerIntegrityJob) Scan(ctx context.Context, limit int) ([]accounting.IntegrityIssue, error) {
	if j == nil || j.Store == nil {
		return nil, errors.New("ledger integrity: store not configured")
	}
	if limit <= 0 {
		limit = 500
	}
	start := time.Now()
	tracker := j.Metrics.Track(TaskLedgerIntegrity)
	logger := j.logger()

	issues, err := j.Store.FindUnbalancedEntries(ctx, limit)
	if err != nil {
		logger.Error("ledger integrity scan failed", slog.Any("error", err))
		return nil, tracker.End(err)
	}
	for _, issue := range issues {
		logger.Warn("ledger integrity violation",
			slog.Int64("journal_entry_id", issue.EntryID),
			slog.Int64("company_id", issue.CompanyID),
			slog.String("number", issue.Number),
			slog.Int("line_count", issue.LineCount),
			slog.String("line_debit", issue.LineDebit.StringFixed(2)),
			slog.String("line_credit", issue.LineCredit.StringFixed(2)),
			slog.String("total_debit", issue.TotalDebit.StringFixed(2)),
			slog.String("total_credit", issue.TotalCredit.StringFixed(2)),
		)
		j.Metrics.AddIntegrityIssues(issue.CompanyID, 1)
	}
	logger.Info("ledger integrity scan completed",
		slog.Int("issues", len(issues)),
		slog.Duration("duration", time.Since(start)),
	)
	return issues, tracker.End(nil)
}

func (j *LedgerIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

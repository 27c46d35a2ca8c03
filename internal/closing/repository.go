package closing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository persists closing runs.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository using the provided pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const runColumns = `id, company_id, fiscal_year_start, fiscal_year_end, step, status, journal_entry_id,
accounts_count, total_amount::text, COALESCE(error, ''), started_by, started_at, finished_at`

// ClaimRun inserts a RUNNING row for the request. The partial unique index on
// (company_id, fiscal_year_start, step) rejects a second live run with ErrStepAlreadyRun.
func (r *Repository) ClaimRun(ctx context.Context, req Request, startedAt time.Time) (Run, error) {
	if r == nil || r.pool == nil {
		return Run{}, errors.New("closing: repository not initialised")
	}
	row := r.pool.QueryRow(ctx, `INSERT INTO closing_runs (company_id, fiscal_year_start, fiscal_year_end, step, status, accounts_count, total_amount, started_by, started_at)
VALUES ($1,$2,$3,$4,'RUNNING',0,0,$5,$6)
RETURNING `+runColumns, req.CompanyID, req.FiscalYearStart, req.FiscalYearEnd, string(req.Step), req.ActorID, startedAt)
	run, err := scanRun(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Run{}, ErrStepAlreadyRun
		}
		return Run{}, err
	}
	return run, nil
}

// CompleteRun marks a run COMPLETED with its outcome.
func (r *Repository) CompleteRun(ctx context.Context, runID int64, entryID *int64, accountsCount int, total decimal.Decimal, finishedAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE closing_runs
SET status='COMPLETED', journal_entry_id=$2, accounts_count=$3, total_amount=$4, error=NULL, finished_at=$5
WHERE id=$1 AND status='RUNNING'`, runID, entryID, accountsCount, total.StringFixed(2), finishedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

// FailRun marks a run FAILED, releasing the unique slot for a retry.
func (r *Repository) FailRun(ctx context.Context, runID int64, message string, finishedAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE closing_runs SET status='FAILED', error=$2, finished_at=$3
WHERE id=$1 AND status='RUNNING'`, runID, message, finishedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

// CompletedSteps returns the steps already completed for a company fiscal year.
func (r *Repository) CompletedSteps(ctx context.Context, companyID int64, fiscalYearStart time.Time) (map[StepType]bool, error) {
	rows, err := r.pool.Query(ctx, `SELECT step FROM closing_runs
WHERE company_id=$1 AND fiscal_year_start=$2 AND status='COMPLETED'`, companyID, fiscalYearStart)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	done := make(map[StepType]bool)
	for rows.Next() {
		var step string
		if err := rows.Scan(&step); err != nil {
			return nil, err
		}
		done[StepType(step)] = true
	}
	return done, rows.Err()
}

// ListRuns returns the most recent runs for a company.
func (r *Repository) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var fiscalYear any
	if filter.FiscalYearStart != nil {
		fiscalYear = *filter.FiscalYearStart
	}
	rows, err := r.pool.Query(ctx, `SELECT `+runColumns+` FROM closing_runs
WHERE company_id=$1 AND ($2::date IS NULL OR fiscal_year_start=$2::date)
ORDER BY started_at DESC, id DESC
LIMIT $3`, filter.CompanyID, fiscalYear, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(row pgx.Row) (Run, error) {
	var (
		run    Run
		step   string
		status string
		total  string
	)
	if err := row.Scan(&run.ID, &run.CompanyID, &run.FiscalYearStart, &run.FiscalYearEnd, &step, &status,
		&run.JournalEntryID, &run.AccountsCount, &total, &run.Error, &run.StartedBy, &run.StartedAt, &run.FinishedAt); err != nil {
		return Run{}, err
	}
	amount, err := decimal.NewFromString(total)
	if err != nil {
		return Run{}, fmt.Errorf("closing: parse run total: %w", err)
	}
	run.Step = StepType(step)
	run.Status = RunStatus(status)
	run.TotalAmount = amount
	return run, nil
}

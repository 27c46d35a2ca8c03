package closing

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-close/internal/accounting"
	jobmetrics "github.com/odyssey-erp/odyssey-close/internal/jobs"
	"github.com/odyssey-erp/odyssey-close/internal/shared"
)

// SourceModule tags journal entries written by the closing steps.
const SourceModule = "CLOSING"

// BalanceSource reads aggregated account balances.
type BalanceSource interface {
	AccountBalances(ctx context.Context, companyID int64, from, to time.Time, prefix string) ([]accounting.AccountBalance, error)
	ClassBalances(ctx context.Context, companyID int64, from, to time.Time, prefixes ...string) ([]accounting.AccountBalance, error)
}

// AccountProvider resolves control accounts.
type AccountProvider interface {
	FindOrCreate(ctx context.Context, companyID int64, spec accounting.ControlAccount) (accounting.Account, error)
}

// EntryWriter persists posted journal entries.
type EntryWriter interface {
	CreateEntry(ctx context.Context, in accounting.EntryInput) (accounting.JournalEntry, error)
}

// RunStore persists closing runs.
type RunStore interface {
	ClaimRun(ctx context.Context, req Request, startedAt time.Time) (Run, error)
	CompleteRun(ctx context.Context, runID int64, entryID *int64, accountsCount int, total decimal.Decimal, finishedAt time.Time) error
	FailRun(ctx context.Context, runID int64, message string, finishedAt time.Time) error
	CompletedSteps(ctx context.Context, companyID int64, fiscalYearStart time.Time) (map[StepType]bool, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)
}

// AuditRecorder persists audit trail records.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Options tunes step orchestration.
type Options struct {
	EnforceOrder bool
	LockTTL      time.Duration
}

// Deps collects the collaborators of Service.
type Deps struct {
	Balances BalanceSource
	Accounts AccountProvider
	Writer   EntryWriter
	Runs     RunStore
	Locker   Locker
	Audit    AuditRecorder
	Metrics  *jobmetrics.Metrics
	Logger   *slog.Logger
	Policy   Policy
	Options  Options
}

// Service runs the closing steps.
type Service struct {
	balances BalanceSource
	accounts AccountProvider
	writer   EntryWriter
	runs     RunStore
	locker   Locker
	audit    AuditRecorder
	metrics  *jobmetrics.Metrics
	logger   *slog.Logger
	policy   Policy
	opts     Options
	now      func() time.Time
}

// NewService constructs a Service.
func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts := deps.Options
	if opts.LockTTL <= 0 {
		opts.LockTTL = 5 * time.Minute
	}
	return &Service{
		balances: deps.Balances,
		accounts: deps.Accounts,
		writer:   deps.Writer,
		runs:     deps.Runs,
		locker:   deps.Locker,
		audit:    deps.Audit,
		metrics:  deps.Metrics,
		logger:   logger,
		policy:   deps.Policy,
		opts:     opts,
		now:      time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// RevenueClose zeroes revenue accounts into the profit and loss account.
func (s *Service) RevenueClose(ctx context.Context, req Request) Result {
	req.Step = StepRevenueClose
	return s.Run(ctx, req)
}

// ExpenseClose zeroes expense accounts into the profit and loss account.
func (s *Service) ExpenseClose(ctx context.Context, req Request) Result {
	req.Step = StepExpenseClose
	return s.Run(ctx, req)
}

// ProfitLossClose moves the period result to the closing balance account.
func (s *Service) ProfitLossClose(ctx context.Context, req Request) Result {
	req.Step = StepProfitLossClose
	return s.Run(ctx, req)
}

// GenerateOpeningBalances carries balance sheet accounts into the next fiscal year.
func (s *Service) GenerateOpeningBalances(ctx context.Context, req Request) Result {
	req.Step = StepOpeningBalance
	return s.Run(ctx, req)
}

// ListRuns returns recorded closing runs.
func (s *Service) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	if filter.CompanyID <= 0 {
		return nil, fmt.Errorf("%w: company id required", ErrInvalidRequest)
	}
	return s.runs.ListRuns(ctx, filter)
}

// Run executes one closing step. Failures, including panics, are reported in the Result.
func (s *Service) Run(ctx context.Context, req Request) (res Result) {
	res = Result{Step: req.Step, TotalAmount: decimal.Zero}
	tracker := s.metrics.Track("closing:" + string(req.Step))
	defer func() {
		if r := recover(); r != nil {
			res = failed(res, fmt.Errorf("closing: %s panicked: %v", req.Step, r))
		}
		_ = tracker.End(res.Err)
	}()

	logger := s.logger.With(
		slog.String("step", string(req.Step)),
		slog.Int64("company_id", req.CompanyID),
		slog.String("fiscal_year_start", req.FiscalYearStart.Format("2006-01-02")),
	)

	if err := req.Validate(); err != nil {
		return failed(res, err)
	}

	if s.locker != nil {
		unlock, err := s.locker.Acquire(ctx, shared.ClosingLockKey(req.CompanyID, req.FiscalYearStart, string(req.Step)), s.opts.LockTTL)
		if err != nil {
			return failed(res, err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("release closing lock", slog.Any("error", err))
			}
		}()
	}

	if s.opts.EnforceOrder {
		if err := s.checkPrerequisites(ctx, req); err != nil {
			return failed(res, err)
		}
	}

	run, err := s.runs.ClaimRun(ctx, req, s.now())
	if err != nil {
		return failed(res, err)
	}
	res.RunID = run.ID

	plan, entry, err := s.execute(ctx, req, run)
	if err != nil {
		logger.Error("closing step failed", slog.Int64("run_id", run.ID), slog.Any("error", err))
		if ferr := s.runs.FailRun(context.WithoutCancel(ctx), run.ID, err.Error(), s.now()); ferr != nil {
			logger.Warn("mark closing run failed", slog.Int64("run_id", run.ID), slog.Any("error", ferr))
		}
		return failed(res, err)
	}

	var entryID *int64
	if entry.ID != 0 {
		entryID = &entry.ID
		res.JournalEntryID = entry.ID
	}
	res.AccountsCount = plan.AccountsCount
	res.TotalAmount = accounting.Round2(plan.TotalAmount)
	res.Warnings = plan.Warnings

	if err := s.runs.CompleteRun(context.WithoutCancel(ctx), run.ID, entryID, res.AccountsCount, res.TotalAmount, s.now()); err != nil {
		// The entry is already posted; the run row stays RUNNING and blocks a rerun.
		logger.Error("mark closing run completed", slog.Int64("run_id", run.ID), slog.Any("error", err))
		return failed(res, err)
	}
	res.Success = true

	for _, w := range plan.Warnings {
		logger.Warn("abnormal balance closed",
			slog.Int64("account_id", w.AccountID),
			slog.String("code", w.Code),
			slog.String("amount", w.Amount.StringFixed(2)))
	}
	s.metrics.AddClosedAccounts(string(req.Step), req.CompanyID, res.AccountsCount)
	s.recordAudit(ctx, req, run, res)
	logger.Info("closing step completed",
		slog.Int64("run_id", run.ID),
		slog.Int64("journal_entry_id", res.JournalEntryID),
		slog.Int("accounts_count", res.AccountsCount),
		slog.String("total_amount", res.TotalAmount.StringFixed(2)))
	return res
}

func (s *Service) checkPrerequisites(ctx context.Context, req Request) error {
	required := Prerequisites(req.Step)
	if len(required) == 0 {
		return nil
	}
	done, err := s.runs.CompletedSteps(ctx, req.CompanyID, req.FiscalYearStart)
	if err != nil {
		return err
	}
	var missing []string
	for _, step := range required {
		if !done[step] {
			missing = append(missing, string(step))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s requires %s", ErrPrerequisite, req.Step, strings.Join(missing, ", "))
	}
	return nil
}

// execute reads, builds and writes the step's entry. Panics are converted to errors.
func (s *Service) execute(ctx context.Context, req Request, run Run) (plan Plan, entry accounting.JournalEntry, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("closing: %s panicked: %v", req.Step, r)
		}
	}()

	date := req.FiscalYearEnd
	switch req.Step {
	case StepRevenueClose:
		plan, err = s.planClassClose(ctx, req, s.policy.RevenuePrefix, accounting.SideCredit)
	case StepExpenseClose:
		plan, err = s.planClassClose(ctx, req, s.policy.ExpensePrefix, accounting.SideDebit)
	case StepProfitLossClose:
		plan, err = s.planProfitLoss(ctx, req)
	case StepOpeningBalance:
		plan, err = s.planOpeningBalance(ctx, req)
		date = req.FiscalYearEnd.AddDate(0, 0, 1)
	default:
		err = fmt.Errorf("%w: unknown step %q", ErrInvalidRequest, req.Step)
	}
	if err != nil || plan.Empty() {
		return plan, accounting.JournalEntry{}, err
	}
	if !plan.Balanced() {
		return plan, accounting.JournalEntry{}, ErrPlanUnbalanced
	}

	entry, err = s.writer.CreateEntry(ctx, accounting.EntryInput{
		CompanyID:    req.CompanyID,
		ActorID:      req.ActorID,
		Date:         date,
		Description:  s.policy.Memo(req.Step),
		DocumentType: s.policy.DocumentType,
		NumberPrefix: s.policy.NumberPrefix,
		Currency:     s.policy.Currency,
		SourceModule: SourceModule,
		SourceID:     runSourceID(run),
		Lines:        plan.Lines,
	})
	return plan, entry, err
}

func (s *Service) planClassClose(ctx context.Context, req Request, prefix string, normal accounting.Side) (Plan, error) {
	balances, err := s.balances.AccountBalances(ctx, req.CompanyID, req.FiscalYearStart, req.FiscalYearEnd, prefix)
	if err != nil {
		return Plan{}, err
	}
	if len(balances) == 0 {
		return Plan{TotalAmount: decimal.Zero}, nil
	}
	control, err := s.accounts.FindOrCreate(ctx, req.CompanyID, s.policy.ProfitLoss)
	if err != nil {
		return Plan{}, err
	}
	return BuildClassClose(balances, normal, control.ID, s.policy.Memo(req.Step)), nil
}

func (s *Service) planProfitLoss(ctx context.Context, req Request) (Plan, error) {
	pl, err := s.accounts.FindOrCreate(ctx, req.CompanyID, s.policy.ProfitLoss)
	if err != nil {
		return Plan{}, err
	}
	balances, err := s.balances.AccountBalances(ctx, req.CompanyID, req.FiscalYearStart, req.FiscalYearEnd, pl.Code)
	if err != nil {
		return Plan{}, err
	}
	control := accounting.AccountBalance{AccountID: pl.ID, Code: pl.Code, Debit: decimal.Zero, Credit: decimal.Zero}
	for _, b := range balances {
		if b.AccountID == pl.ID {
			control = b
			break
		}
	}
	if accounting.Negligible(accounting.Round2(control.Credit.Sub(control.Debit))) {
		return Plan{TotalAmount: decimal.Zero}, nil
	}
	closingAccount, err := s.accounts.FindOrCreate(ctx, req.CompanyID, s.policy.ClosingBalance)
	if err != nil {
		return Plan{}, err
	}
	return BuildProfitLossClose(control, pl.ID, closingAccount.ID, s.policy.Memo(req.Step)), nil
}

func (s *Service) planOpeningBalance(ctx context.Context, req Request) (Plan, error) {
	balances, err := s.balances.ClassBalances(ctx, req.CompanyID, req.FiscalYearStart, req.FiscalYearEnd, s.policy.BalancePrefixes...)
	if err != nil {
		return Plan{}, err
	}
	if len(balances) == 0 {
		return Plan{TotalAmount: decimal.Zero}, nil
	}
	opening, err := s.accounts.FindOrCreate(ctx, req.CompanyID, s.policy.OpeningBalance)
	if err != nil {
		return Plan{}, err
	}
	return BuildOpeningBalance(balances, opening.ID, s.policy.Memo(req.Step)), nil
}

func (s *Service) recordAudit(ctx context.Context, req Request, run Run, res Result) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  req.ActorID,
		Action:   "closing." + string(req.Step),
		Entity:   "closing_run",
		EntityID: strconv.FormatInt(run.ID, 10),
		Meta: map[string]any{
			"company_id":        req.CompanyID,
			"fiscal_year_start": req.FiscalYearStart.Format("2006-01-02"),
			"fiscal_year_end":   req.FiscalYearEnd.Format("2006-01-02"),
			"journal_entry_id":  res.JournalEntryID,
			"accounts_count":    res.AccountsCount,
			"total_amount":      res.TotalAmount.StringFixed(2),
			"warnings":          len(res.Warnings),
		},
		At: s.now(),
	})
	if err != nil {
		s.logger.Warn("closing audit", slog.Int64("run_id", run.ID), slog.Any("error", err))
	}
}

// runSourceID ties the journal entry to its closing run.
func runSourceID(run Run) uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("closing-run:%d", run.ID)))
}

func failed(res Result, err error) Result {
	res.Success = false
	res.Err = err
	res.Error = err.Error()
	return res
}

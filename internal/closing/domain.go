package closing

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// StepType enumerates the closing operations.
type StepType string

const (
	StepRevenueClose    StepType = "revenue_close"
	StepExpenseClose    StepType = "expense_close"
	StepProfitLossClose StepType = "profit_loss_close"
	StepOpeningBalance  StepType = "opening_balance"
)

// Steps lists the closing operations in their natural order.
var Steps = []StepType{StepRevenueClose, StepExpenseClose, StepProfitLossClose, StepOpeningBalance}

// Valid reports whether the step is a known closing operation.
func (s StepType) Valid() bool {
	for _, known := range Steps {
		if s == known {
			return true
		}
	}
	return false
}

// RunStatus captures the lifecycle of a closing run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
)

// Request identifies a closing operation for one company and fiscal year.
type Request struct {
	Step            StepType
	CompanyID       int64
	FiscalYearStart time.Time
	FiscalYearEnd   time.Time
	ActorID         int64
}

// Validate ensures the request is coherent.
func (r Request) Validate() error {
	if !r.Step.Valid() {
		return fmt.Errorf("%w: unknown step %q", ErrInvalidRequest, r.Step)
	}
	if r.CompanyID <= 0 {
		return fmt.Errorf("%w: company id required", ErrInvalidRequest)
	}
	if r.ActorID <= 0 {
		return fmt.Errorf("%w: actor required", ErrInvalidRequest)
	}
	if r.FiscalYearStart.IsZero() || r.FiscalYearEnd.IsZero() {
		return fmt.Errorf("%w: fiscal year start and end required", ErrInvalidRequest)
	}
	if r.FiscalYearStart.After(r.FiscalYearEnd) {
		return fmt.Errorf("%w: fiscal year start after end", ErrInvalidRequest)
	}
	return nil
}

// Warning flags an account whose balance was on the unexpected side.
type Warning struct {
	AccountID int64           `json:"account_id"`
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	Amount    decimal.Decimal `json:"amount"`
}

// Result summarises a closing operation. Errors are reported here rather than returned.
type Result struct {
	Success        bool            `json:"success"`
	Step           StepType        `json:"type"`
	RunID          int64           `json:"run_id,omitempty"`
	JournalEntryID int64           `json:"journal_entry_id,omitempty"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	AccountsCount  int             `json:"accounts_count"`
	Warnings       []Warning       `json:"warnings,omitempty"`
	Error          string          `json:"error,omitempty"`
	Err            error           `json:"-"`
}

// Run is a persisted closing operation.
type Run struct {
	ID              int64
	CompanyID       int64
	FiscalYearStart time.Time
	FiscalYearEnd   time.Time
	Step            StepType
	Status          RunStatus
	JournalEntryID  *int64
	AccountsCount   int
	TotalAmount     decimal.Decimal
	Error           string
	StartedBy       int64
	StartedAt       time.Time
	FinishedAt      *time.Time
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	CompanyID       int64
	FiscalYearStart *time.Time
	Limit           int
}

var (
	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("closing: invalid request")
	// ErrStepAlreadyRun indicates the step already completed (or is running) for the fiscal year.
	ErrStepAlreadyRun = errors.New("closing: step already run for fiscal year")
	// ErrStepInProgress indicates another worker holds the step lock.
	ErrStepInProgress = errors.New("closing: step in progress")
	// ErrPrerequisite indicates an earlier step has not completed.
	ErrPrerequisite = errors.New("closing: prerequisite step not completed")
	// ErrPlanUnbalanced indicates a built plan does not balance.
	ErrPlanUnbalanced = errors.New("closing: plan does not balance")
	// ErrRunNotFound indicates a closing run could not be loaded.
	ErrRunNotFound = errors.New("closing: run not found")
)

var prerequisites = map[StepType][]StepType{
	StepProfitLossClose: {StepRevenueClose, StepExpenseClose},
	StepOpeningBalance:  {StepProfitLossClose},
}

// Prerequisites returns the steps that must be completed before step.
func Prerequisites(step StepType) []StepType {
	return prerequisites[step]
}

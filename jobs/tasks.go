package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-close/internal/closing"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueClosing carries closing steps so they never wait behind maintenance work.
	QueueClosing = "closing"

	// TaskClosingRun executes one closing step.
	TaskClosingRun = "closing:run"
	// TaskLedgerIntegrity scans posted journal entries for broken invariants.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// ClosingRunPayload describes a queued closing step.
type ClosingRunPayload struct {
	Step            string `json:"step"`
	CompanyID       int64  `json:"company_id"`
	FiscalYearStart string `json:"fiscal_year_start"`
	FiscalYearEnd   string `json:"fiscal_year_end"`
	ActorID         int64  `json:"actor_id"`
	RequestID       string `json:"request_id,omitempty"`
}

// Request converts the payload into a closing request.
func (p ClosingRunPayload) Request() (closing.Request, error) {
	start, err := time.Parse(time.DateOnly, p.FiscalYearStart)
	if err != nil {
		return closing.Request{}, err
	}
	end, err := time.Parse(time.DateOnly, p.FiscalYearEnd)
	if err != nil {
		return closing.Request{}, err
	}
	return closing.Request{
		Step:            closing.StepType(p.Step),
		CompanyID:       p.CompanyID,
		FiscalYearStart: start,
		FiscalYearEnd:   end,
		ActorID:         p.ActorID,
	}, nil
}

// NewClosingRunPayload builds the payload for req.
func NewClosingRunPayload(req closing.Request, requestID string) ClosingRunPayload {
	return ClosingRunPayload{
		Step:            string(req.Step),
		CompanyID:       req.CompanyID,
		FiscalYearStart: req.FiscalYearStart.Format(time.DateOnly),
		FiscalYearEnd:   req.FiscalYearEnd.Format(time.DateOnly),
		ActorID:         req.ActorID,
		RequestID:       requestID,
	}
}

// NewClosingRunTask constructs the closing step task.
func NewClosingRunTask(payload ClosingRunPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskClosingRun, data), nil
}

// LedgerIntegrityPayload bounds an integrity scan.
type LedgerIntegrityPayload struct {
	Limit int `json:"limit"`
}

// NewLedgerIntegrityTask constructs the ledger integrity task.
func NewLedgerIntegrityTask(limit int) (*asynq.Task, error) {
	data, err := json.Marshal(LedgerIntegrityPayload{Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, data), nil
}

// IdempotencyCleanupPayload sets the key retention window.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask constructs the idempotency cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: int(retention / time.Hour)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}

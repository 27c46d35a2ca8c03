package closinghttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-close/internal/accounting"
	"github.com/odyssey-erp/odyssey-close/internal/closing"
	"github.com/odyssey-erp/odyssey-close/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-close/internal/shared"
)

const idempotencyModule = "closing"

type closingService interface {
	Run(ctx context.Context, req closing.Request) closing.Result
	ListRuns(ctx context.Context, filter closing.RunFilter) ([]closing.Run, error)
}

type idempotencyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

type taskEnqueuer interface {
	EnqueueClosingRun(ctx context.Context, req closing.Request, requestID string) (*asynq.TaskInfo, error)
}

// Handler wires HTTP endpoints for closing operations.
type Handler struct {
	logger      *slog.Logger
	service     closingService
	idempotency idempotencyStore
	jobs        taskEnqueuer
	validator   *validator.Validate
}

// NewHandler builds the closing HTTP handler. idempotency and jobs may be nil.
func NewHandler(logger *slog.Logger, service closingService, idempotency idempotencyStore, jobs taskEnqueuer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:      logger,
		service:     service,
		idempotency: idempotency,
		jobs:        jobs,
		validator:   validator.New(),
	}
}

// MountRoutes registers closing routes on the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/operations", h.runOperation)
	r.Post("/operations/async", h.enqueueOperation)
	r.Get("/runs", h.listRuns)
}

type operationRequest struct {
	Type            string `json:"type" validate:"required,oneof=revenue_close expense_close profit_loss_close opening_balance"`
	CompanyID       int64  `json:"company_id" validate:"required,gt=0"`
	FiscalYearStart string `json:"fiscal_year_start" validate:"required,datetime=2006-01-02"`
	FiscalYearEnd   string `json:"fiscal_year_end" validate:"required,datetime=2006-01-02"`
}

type operationResponse struct {
	Success        bool              `json:"success"`
	Type           closing.StepType  `json:"type"`
	RunID          int64             `json:"run_id,omitempty"`
	JournalEntryID int64             `json:"journal_entry_id,omitempty"`
	AccountsCount  int               `json:"accounts_count"`
	TotalAmount    string            `json:"total_amount"`
	Warnings       []closing.Warning `json:"warnings,omitempty"`
}

type runView struct {
	ID              int64             `json:"id"`
	Type            closing.StepType  `json:"type"`
	Status          closing.RunStatus `json:"status"`
	FiscalYearStart string            `json:"fiscal_year_start"`
	FiscalYearEnd   string            `json:"fiscal_year_end"`
	JournalEntryID  *int64            `json:"journal_entry_id,omitempty"`
	AccountsCount   int               `json:"accounts_count"`
	TotalAmount     string            `json:"total_amount"`
	Error           string            `json:"error,omitempty"`
	StartedBy       int64             `json:"started_by"`
	StartedAt       time.Time         `json:"started_at"`
	FinishedAt      *time.Time        `json:"finished_at,omitempty"`
}

func (h *Handler) runOperation(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeRequest(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" && h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(r.Context(), idempotencyKey(key, req), idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrConflict, err))
				return
			}
			h.logger.Error("closing idempotency check", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
	}

	res := h.service.Run(r.Context(), req)
	if !res.Success {
		if key != "" && h.idempotency != nil {
			if err := h.idempotency.Delete(context.WithoutCancel(r.Context()), idempotencyKey(key, req)); err != nil {
				h.logger.Warn("release closing idempotency key", slog.Any("error", err))
			}
		}
		httpx.JSON(w, statusFor(res.Err), httpx.ErrorBody{Error: res.Error})
		return
	}
	httpx.JSON(w, http.StatusOK, operationResponse{
		Success:        true,
		Type:           res.Step,
		RunID:          res.RunID,
		JournalEntryID: res.JournalEntryID,
		AccountsCount:  res.AccountsCount,
		TotalAmount:    res.TotalAmount.StringFixed(2),
		Warnings:       res.Warnings,
	})
}

func (h *Handler) enqueueOperation(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		httpx.JSON(w, http.StatusServiceUnavailable, httpx.ErrorBody{Error: "closing: job queue not configured"})
		return
	}
	req, err := h.decodeRequest(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	requestID := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	info, err := h.jobs.EnqueueClosingRun(r.Context(), req, requestID)
	if err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) {
			httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrConflict, err))
			return
		}
		h.logger.Error("enqueue closing run", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]any{
		"task_id":    info.ID,
		"queue":      info.Queue,
		"request_id": requestID,
	})
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	companyID, err := strconv.ParseInt(r.URL.Query().Get("company_id"), 10, 64)
	if err != nil || companyID <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: company_id required", httpx.ErrValidation))
		return
	}
	filter := closing.RunFilter{CompanyID: companyID}
	if raw := strings.TrimSpace(r.URL.Query().Get("fiscal_year_start")); raw != "" {
		start, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: fiscal_year_start must be YYYY-MM-DD", httpx.ErrValidation))
			return
		}
		filter.FiscalYearStart = &start
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil {
			filter.Limit = limit
		}
	}
	runs, err := h.service.ListRuns(r.Context(), filter)
	if err != nil {
		h.logger.Error("list closing runs", slog.Any("error", err))
		httpx.JSON(w, statusFor(err), httpx.ErrorBody{Error: err.Error()})
		return
	}
	out := make([]runView, 0, len(runs))
	for _, run := range runs {
		out = append(out, runView{
			ID:              run.ID,
			Type:            run.Step,
			Status:          run.Status,
			FiscalYearStart: run.FiscalYearStart.Format(time.DateOnly),
			FiscalYearEnd:   run.FiscalYearEnd.Format(time.DateOnly),
			JournalEntryID:  run.JournalEntryID,
			AccountsCount:   run.AccountsCount,
			TotalAmount:     run.TotalAmount.StringFixed(2),
			Error:           run.Error,
			StartedBy:       run.StartedBy,
			StartedAt:       run.StartedAt,
			FinishedAt:      run.FinishedAt,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"runs": out})
}

func (h *Handler) decodeRequest(r *http.Request) (closing.Request, error) {
	actorID, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get("X-User-ID")), 10, 64)
	if err != nil || actorID <= 0 {
		return closing.Request{}, fmt.Errorf("%w: X-User-ID header required", httpx.ErrUnauthorized)
	}
	var body operationRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		return closing.Request{}, err
	}
	if err := h.validator.Struct(body); err != nil {
		var fields []string
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
		}
		return closing.Request{}, fmt.Errorf("%w: %s", httpx.ErrValidation, strings.Join(fields, "; "))
	}
	start, _ := time.Parse(time.DateOnly, body.FiscalYearStart)
	end, _ := time.Parse(time.DateOnly, body.FiscalYearEnd)
	req := closing.Request{
		Step:            closing.StepType(body.Type),
		CompanyID:       body.CompanyID,
		FiscalYearStart: start,
		FiscalYearEnd:   end,
		ActorID:         actorID,
	}
	if err := req.Validate(); err != nil {
		return closing.Request{}, fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	return req, nil
}

func idempotencyKey(key string, req closing.Request) string {
	return fmt.Sprintf("%s:%d:%s:%s", req.Step, req.CompanyID, req.FiscalYearStart.Format(time.DateOnly), key)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, closing.ErrInvalidRequest),
		errors.Is(err, accounting.ErrInvalidPrefix),
		errors.Is(err, accounting.ErrInvalidRange):
		return http.StatusBadRequest
	case errors.Is(err, closing.ErrStepAlreadyRun),
		errors.Is(err, closing.ErrStepInProgress),
		errors.Is(err, closing.ErrPrerequisite):
		return http.StatusConflict
	default:
		return httpx.StatusOf(err)
	}
}

// Package cli implements closectl, the operator command line for year-end closing.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-close/internal/accounting"
	"github.com/odyssey-erp/odyssey-close/internal/closing"
)

type closingService interface {
	Run(ctx context.Context, req closing.Request) closing.Result
	ListRuns(ctx context.Context, filter closing.RunFilter) ([]closing.Run, error)
}

type entryReader interface {
	GetJournalWithLines(ctx context.Context, entryID int64) (accounting.JournalEntry, error)
}

type integrityScanner interface {
	Scan(ctx context.Context, limit int) ([]accounting.IntegrityIssue, error)
}

type jobQueue interface {
	EnqueueClosing(ctx context.Context, req closing.Request, requestID string) (*asynq.TaskInfo, error)
	TriggerIntegrity(ctx context.Context, limit int) (*asynq.TaskInfo, error)
	InspectQueues(ctx context.Context) ([]QueueStats, error)
}

// Backend is what commands operate on. Fields a command does not need may be nil.
type Backend struct {
	Closing     closingService
	Entries     entryReader
	Integrity   integrityScanner
	Jobs        jobQueue
	ApplySchema func(ctx context.Context) error
	Close       func() error
}

// Opener builds a Backend once flags are parsed.
type Opener func(ctx context.Context, envFile string) (*Backend, error)

type rootState struct {
	open    Opener
	envFile string
	asJSON  bool
	backend *Backend
}

// Execute runs closectl with args and returns the process exit code. The
// backend, if one was opened, is closed before returning.
func Execute(ctx context.Context, open Opener, args []string, stdout, stderr io.Writer) int {
	state := &rootState{open: open}
	root := newRootCommand(state)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if state.backend != nil && state.backend.Close != nil {
		if closeErr := state.backend.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// NewRootCommand assembles closectl. open is called lazily by commands that
// need a backend.
func NewRootCommand(open Opener) *cobra.Command {
	return newRootCommand(&rootState{open: open})
}

func newRootCommand(state *rootState) *cobra.Command {
	root := &cobra.Command{
		Use:   "closectl",
		Short: "Run and inspect year-end ledger closing",
		Long: `closectl drives the closing steps of a fiscal year:

  revenue_close      class 6 balances into 710
  expense_close      class 5 balances into 710
  profit_loss_close  710 result into 702
  opening_balance    classes 0-4 carried to the next year against 701

Example:
  closectl run --step revenue_close --company 1 --year 2024 --actor 7
  closectl close-year --company 1 --year 2024 --actor 7
  closectl runs --company 1`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&state.envFile, "env-file", "", "env file to load (default .env when present)")
	root.PersistentFlags().BoolVar(&state.asJSON, "json", false, "print machine-readable JSON")

	root.AddCommand(
		newRunCommand(state),
		newCloseYearCommand(state),
		newRunsCommand(state),
		newEnqueueCommand(state),
		newQueuesCommand(state),
		newEntryCommand(state),
		newIntegrityCommand(state),
		newSchemaCommand(state),
	)
	return root
}

func (s *rootState) backendFor(cmd *cobra.Command) (*Backend, error) {
	if s.backend != nil {
		return s.backend, nil
	}
	if s.open == nil {
		return nil, fmt.Errorf("closectl: no backend configured")
	}
	backend, err := s.open(cmd.Context(), s.envFile)
	if err != nil {
		return nil, err
	}
	s.backend = backend
	return backend, nil
}

func (s *rootState) printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// requestFlags holds the flags that identify one closing step.
type requestFlags struct {
	step    string
	company int64
	year    int
	start   string
	end     string
	actor   int64
}

func (f *requestFlags) bind(cmd *cobra.Command, withStep bool) {
	if withStep {
		cmd.Flags().StringVar(&f.step, "step", "", "closing step: revenue_close, expense_close, profit_loss_close or opening_balance")
		_ = cmd.MarkFlagRequired("step")
	}
	cmd.Flags().Int64Var(&f.company, "company", 0, "company id")
	cmd.Flags().IntVar(&f.year, "year", 0, "calendar fiscal year, shorthand for --start YYYY-01-01 --end YYYY-12-31")
	cmd.Flags().StringVar(&f.start, "start", "", "fiscal year start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.end, "end", "", "fiscal year end (YYYY-MM-DD)")
	cmd.Flags().Int64Var(&f.actor, "actor", 0, "user id recorded as the actor")
	_ = cmd.MarkFlagRequired("company")
	_ = cmd.MarkFlagRequired("actor")
	cmd.MarkFlagsMutuallyExclusive("year", "start")
	cmd.MarkFlagsMutuallyExclusive("year", "end")
	cmd.MarkFlagsRequiredTogether("start", "end")
}

func (f *requestFlags) request(step closing.StepType) (closing.Request, error) {
	start, end, err := fiscalYear(f.year, f.start, f.end)
	if err != nil {
		return closing.Request{}, err
	}
	if step == "" {
		step = closing.StepType(f.step)
	}
	req := closing.Request{
		Step:            step,
		CompanyID:       f.company,
		FiscalYearStart: start,
		FiscalYearEnd:   end,
		ActorID:         f.actor,
	}
	return req, req.Validate()
}

func fiscalYear(year int, rawStart, rawEnd string) (time.Time, time.Time, error) {
	if year > 0 {
		return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC),
			time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC), nil
	}
	if rawStart == "" || rawEnd == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("closectl: --year or --start/--end required")
	}
	start, err := time.Parse(time.DateOnly, rawStart)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("closectl: --start: %w", err)
	}
	end, err := time.Parse(time.DateOnly, rawEnd)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("closectl: --end: %w", err)
	}
	return start, end, nil
}

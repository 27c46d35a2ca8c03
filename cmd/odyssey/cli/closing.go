package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-close/internal/closing"
)

func newRunCommand(state *rootState) *cobra.Command {
	var flags requestFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one closing step synchronously",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request("")
			if err != nil {
				return err
			}
			backend, err := state.backendFor(cmd)
			if err != nil {
				return err
			}
			if backend.Closing == nil {
				return fmt.Errorf("closectl: closing service not configured")
			}
			res := backend.Closing.Run(cmd.Context(), req)
			if err := state.printResult(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("%s failed: %s", req.Step, res.Error)
			}
			return nil
		},
	}
	flags.bind(cmd, true)
	return cmd
}

func newCloseYearCommand(state *rootState) *cobra.Command {
	var (
		flags requestFlags
		from  string
	)
	cmd := &cobra.Command{
		Use:   "close-year",
		Short: "Run every closing step in order, stopping at the first failure",
		Long: `close-year runs revenue_close, expense_close, profit_loss_close and
opening_balance in that order. Steps already completed for the fiscal year are
reported and skipped. Use --from to resume at a later step.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, err := stepsFrom(closing.StepType(from))
			if err != nil {
				return err
			}
			backend, err := state.backendFor(cmd)
			if err != nil {
				return err
			}
			if backend.Closing == nil {
				return fmt.Errorf("closectl: closing service not configured")
			}
			var results []closing.Result
			for _, step := range steps {
				req, err := flags.request(step)
				if err != nil {
					return err
				}
				res := backend.Closing.Run(cmd.Context(), req)
				results = append(results, res)
				if !state.asJSON {
					if err := state.printResult(cmd.OutOrStdout(), res); err != nil {
						return err
					}
				}
				if !res.Success && !alreadyRun(res) {
					if state.asJSON {
						_ = state.printJSON(cmd.OutOrStdout(), results)
					}
					return fmt.Errorf("%s failed: %s", step, res.Error)
				}
			}
			if state.asJSON {
				return state.printJSON(cmd.OutOrStdout(), results)
			}
			return nil
		},
	}
	flags.bind(cmd, false)
	cmd.Flags().StringVar(&from, "from", string(closing.StepRevenueClose), "first step to run")
	return cmd
}

func newRunsCommand(state *rootState) *cobra.Command {
	var (
		company int64
		start   string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List closing runs for a company",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := closing.RunFilter{CompanyID: company, Limit: limit}
			if start != "" {
				parsed, err := time.Parse(time.DateOnly, start)
				if err != nil {
					return fmt.Errorf("closectl: --start: %w", err)
				}
				filter.FiscalYearStart = &parsed
			}
			backend, err := state.backendFor(cmd)
			if err != nil {
				return err
			}
			if backend.Closing == nil {
				return fmt.Errorf("closectl: closing service not configured")
			}
			runs, err := backend.Closing.ListRuns(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if state.asJSON {
				return state.printJSON(cmd.OutOrStdout(), runs)
			}
			return printRuns(cmd.OutOrStdout(), runs)
		},
	}
	cmd.Flags().Int64Var(&company, "company", 0, "company id")
	cmd.Flags().StringVar(&start, "start", "", "only runs for the fiscal year starting on this date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	_ = cmd.MarkFlagRequired("company")
	return cmd
}

func stepsFrom(first closing.StepType) ([]closing.StepType, error) {
	if first == "" {
		return closing.Steps, nil
	}
	for i, step := range closing.Steps {
		if step == first {
			return closing.Steps[i:], nil
		}
	}
	return nil, fmt.Errorf("closectl: unknown step %q", first)
}

func alreadyRun(res closing.Result) bool {
	return errors.Is(res.Err, closing.ErrStepAlreadyRun)
}

func (s *rootState) printResult(w io.Writer, res closing.Result) error {
	if s.asJSON {
		return s.printJSON(w, res)
	}
	switch {
	case res.Success && res.JournalEntryID == 0:
		fmt.Fprintf(w, "%-18s nothing to post (run %d)\n", res.Step, res.RunID)
	case res.Success:
		fmt.Fprintf(w, "%-18s entry %d, %d accounts, total %s (run %d)\n",
			res.Step, res.JournalEntryID, res.AccountsCount, res.TotalAmount.StringFixed(2), res.RunID)
	case alreadyRun(res):
		fmt.Fprintf(w, "%-18s already completed\n", res.Step)
	default:
		fmt.Fprintf(w, "%-18s FAILED: %s\n", res.Step, res.Error)
	}
	for _, warning := range res.Warnings {
		fmt.Fprintf(w, "  warning %s: %s (%s)\n", warning.Code, warning.Message, warning.Amount.StringFixed(2))
	}
	return nil
}

func printRuns(w io.Writer, runs []closing.Run) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTEP\tFISCAL YEAR\tSTATUS\tENTRY\tACCOUNTS\tTOTAL\tSTARTED\tERROR")
	for _, run := range runs {
		entry := "-"
		if run.JournalEntryID != nil {
			entry = fmt.Sprint(*run.JournalEntryID)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s..%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			run.ID, run.Step,
			run.FiscalYearStart.Format(time.DateOnly), run.FiscalYearEnd.Format(time.DateOnly),
			run.Status, entry, run.AccountsCount, run.TotalAmount.StringFixed(2),
			run.StartedAt.Format(time.RFC3339), run.Error)
	}
	return tw.Flush()
}

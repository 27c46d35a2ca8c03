package cli

import (
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-close/internal/accounting"
	"github.com/odyssey-erp/odyssey-close/internal/platform/db"
)

func newEntryCommand(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "entry <journal-entry-id>",
		Short: "Print a journal entry with its lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("closectl: invalid journal entry id %q", args[0])
			}
			backend, err := state.backendFor(cmd)
			if err != nil {
				return err
			}
			if backend.Entries == nil {
				return errors.New("closectl: ledger not configured")
			}
			entry, err := backend.Entries.GetJournalWithLines(cmd.Context(), id)
			if err != nil {
				return err
			}
			if state.asJSON {
				return state.printJSON(cmd.OutOrStdout(), entry)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s  %s  %s  %s\n", entry.Number, entry.Date.Format(time.DateOnly), entry.Status, entry.Description)
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tACCOUNT\tDEBIT\tCREDIT\tMEMO")
			for _, line := range entry.Lines {
				debit, credit := line.Amount.StringFixed(2), ""
				if line.Side != accounting.SideDebit {
					debit, credit = "", line.Amount.StringFixed(2)
				}
				fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\n", line.Position, line.AccountID, debit, credit, line.Description)
			}
			fmt.Fprintf(tw, "\t\t%s\t%s\t\n", entry.TotalDebit.StringFixed(2), entry.TotalCredit.StringFixed(2))
			return tw.Flush()
		},
	}
}

func newIntegrityCommand(state *rootState) *cobra.Command {
	var (
		limit int
		async bool
	)
	cmd := &cobra.Command{
		Use:   "integrity",
		Short: "Scan posted journal entries for unbalanced lines or mismatched totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := state.backendFor(cmd)
			if err != nil {
				return err
			}
			if async {
				if backend.Jobs == nil {
					return errors.New("closectl: job queue not configured")
				}
				info, err := backend.Jobs.TriggerIntegrity(cmd.Context(), limit)
				if err != nil {
					return err
				}
				return state.printTask(cmd.OutOrStdout(), info, "")
			}
			if backend.Integrity == nil {
				return errors.New("closectl: ledger not configured")
			}
			issues, err := backend.Integrity.Scan(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if state.asJSON {
				if err := state.printJSON(cmd.OutOrStdout(), issues); err != nil {
					return err
				}
			} else {
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ENTRY\tCOMPANY\tNUMBER\tLINES\tLINE DR\tLINE CR\tHEADER DR\tHEADER CR")
				for _, i := range issues {
					fmt.Fprintf(tw, "%d\t%d\t%s\t%d\t%s\t%s\t%s\t%s\n", i.EntryID, i.CompanyID, i.Number, i.LineCount,
						i.LineDebit.StringFixed(2), i.LineCredit.StringFixed(2), i.TotalDebit.StringFixed(2), i.TotalCredit.StringFixed(2))
				}
				if err := tw.Flush(); err != nil {
					return err
				}
			}
			if len(issues) > 0 {
				return fmt.Errorf("%d journal entries failed the integrity scan", len(issues))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 500, "maximum entries to report")
	cmd.Flags().BoolVar(&async, "async", false, "queue the scan for the worker instead of running it here")
	return cmd
}

func newSchemaCommand(state *rootState) *cobra.Command {
	var apply bool
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the closing schema DDL, or apply it with --apply",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !apply {
				_, err := fmt.Fprint(cmd.OutOrStdout(), db.Schema())
				return err
			}
			backend, err := state.backendFor(cmd)
			if err != nil {
				return err
			}
			if backend.ApplySchema == nil {
				return errors.New("closectl: database not configured")
			}
			if err := backend.ApplySchema(cmd.Context()); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return err
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "apply the DDL to PG_DSN")
	return cmd
}

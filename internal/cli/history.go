package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/kubev2v/vmtag-sync/internal/store"
	"github.com/kubev2v/vmtag-sync/internal/store/model"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const defaultHistoryLimit = 20

type HistoryOptions struct {
	GlobalOptions

	Output     string
	Limit      int
	DryRunOnly bool
	Since      time.Duration
}

func DefaultHistoryOptions() *HistoryOptions {
	return &HistoryOptions{
		GlobalOptions: DefaultGlobalOptions(),
		Output:        tableFormat,
		Limit:         defaultHistoryLimit,
	}
}

func NewCmdHistory() *cobra.Command {
	o := DefaultHistoryOptions()
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the recorded sync runs.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			defer o.Close()
			if err := o.Validate(args); err != nil {
				return err
			}
			return o.Run(cmd.Context(), args)
		},
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	cmd.AddCommand(newCmdHistoryShow(), newCmdHistoryDelete())
	return cmd
}

func (o *HistoryOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)
	fs.StringVarP(&o.Output, "output", "o", o.Output, fmt.Sprintf("Output format. One of: (%s).", strings.Join(legalOutputTypes, ", ")))
	fs.IntVar(&o.Limit, "limit", o.Limit, "Maximum number of runs to list, 0 lists all")
	fs.BoolVar(&o.DryRunOnly, "dry-run-only", o.DryRunOnly, "Only list dry runs")
	fs.DurationVar(&o.Since, "since", o.Since, "Only list runs started within this duration")
}

func (o *HistoryOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	if o.Limit < 0 {
		return fmt.Errorf("limit must not be negative")
	}
	return validateOutput(o.Output)
}

func (o *HistoryOptions) Run(ctx context.Context, args []string) error {
	s, err := o.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	filter := store.NewRunQueryFilter()
	if o.DryRunOnly {
		filter = filter.ByDryRun(true)
	}
	if o.Since > 0 {
		filter = filter.StartedAfter(time.Now().Add(-o.Since))
	}
	opts := store.NewRunQueryOptions()
	if o.Limit > 0 {
		opts = opts.WithLimit(o.Limit)
	}

	runs, err := s.Runs().List(ctx, filter, opts)
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}
	if ok, err := printStructured(os.Stdout, o.Output, runs); ok {
		return err
	}
	printRuns(os.Stdout, runs)
	return nil
}

func printRuns(w io.Writer, runs model.RunList) {
	tw := tabwriter.NewWriter(w, 0, 8, 1, '\t', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tDURATION\tDRY-RUN\tROWS\tAPPLIED\tFAILED\tABORTED")
	for _, r := range runs {
		failed := r.NotFound + r.RemovalNotConfirmed + r.RemoteUnavailable + r.InvalidCategory + r.CreationDeclined
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%d\t%d\t%d\t%s\n",
			r.ID, r.StartedAt.Local().Format(time.RFC3339), r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond),
			r.DryRun, r.Rows, r.Applied, failed, r.Aborted)
	}
	tw.Flush()
}

type historyShowOptions struct {
	GlobalOptions

	Output string
}

func newCmdHistoryShow() *cobra.Command {
	o := &historyShowOptions{GlobalOptions: DefaultGlobalOptions(), Output: tableFormat}
	cmd := &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Print the entries of a recorded run.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			defer o.Close()
			if err := o.GlobalOptions.Validate(args); err != nil {
				return err
			}
			if err := validateOutput(o.Output); err != nil {
				return err
			}
			return o.Run(cmd.Context(), args)
		},
		SilenceUsage: true,
	}
	o.GlobalOptions.Bind(cmd.Flags())
	cmd.Flags().StringVarP(&o.Output, "output", "o", o.Output, fmt.Sprintf("Output format. One of: (%s).", strings.Join(legalOutputTypes, ", ")))
	return cmd
}

func (o *historyShowOptions) Run(ctx context.Context, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", args[0], err)
	}
	s, err := o.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	run, err := s.Runs().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return fmt.Errorf("run %s not found", id)
		}
		return err
	}
	if ok, err := printStructured(os.Stdout, o.Output, run); ok {
		return err
	}
	printRunEntries(os.Stdout, run)
	return nil
}

func printRunEntries(w io.Writer, run *model.Run) {
	printRuns(w, model.RunList{*run})
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 8, 1, '\t', 0)
	fmt.Fprintln(tw, "ROW\tENTITY\tSTATUS\tCATEGORY\tPREVIOUS\tDESIRED\tOUTCOME\tERROR")
	for _, e := range run.Entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Position, e.Entity, e.Status, e.Category, e.Previous, e.Desired, e.Outcome, e.Error)
	}
	tw.Flush()
}

func newCmdHistoryDelete() *cobra.Command {
	o := DefaultGlobalOptions()
	cmd := &cobra.Command{
		Use:   "delete RUN_ID",
		Short: "Delete a recorded run.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			defer o.Close()
			if err := o.Validate(args); err != nil {
				return err
			}
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid run id %q: %w", args[0], err)
			}
			s, err := o.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.Runs().Delete(cmd.Context(), id); err != nil {
				if errors.Is(err, store.ErrRecordNotFound) {
					return fmt.Errorf("run %s not found", id)
				}
				return err
			}
			fmt.Printf("run %s deleted\n", id)
			return nil
		},
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

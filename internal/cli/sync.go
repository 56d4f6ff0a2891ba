package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	apiserver "github.com/kubev2v/vmtag-sync/internal/api_server"
	"github.com/kubev2v/vmtag-sync/internal/catalog"
	"github.com/kubev2v/vmtag-sync/internal/events"
	"github.com/kubev2v/vmtag-sync/internal/inventory"
	"github.com/kubev2v/vmtag-sync/internal/reconcile"
	"github.com/kubev2v/vmtag-sync/internal/snapshot"
	"github.com/kubev2v/vmtag-sync/internal/spreadsheet"
	"github.com/kubev2v/vmtag-sync/internal/store"
	"github.com/kubev2v/vmtag-sync/internal/syncer"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

type SyncOptions struct {
	GlobalOptions

	File   string
	Output string
}

func DefaultSyncOptions() *SyncOptions {
	return &SyncOptions{
		GlobalOptions: DefaultGlobalOptions(),
		Output:        tableFormat,
	}
}

func NewCmdSync() *cobra.Command {
	o := DefaultSyncOptions()
	cmd := &cobra.Command{
		Use:   "sync --file FILE",
		Short: "Apply the tags of a spreadsheet to the vCenter virtual machines.",
		Example: "vmtag-sync sync --url https://vcenter.example.com --username admin@vsphere.local " +
			"--file desired.xlsx --dry-run",
		Args: cobra.NoArgs,
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
	return cmd
}

func (o *SyncOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)
	o.GlobalOptions.BindVsphere(fs)

	s := o.Config.Sync
	fs.StringVarP(&o.File, "file", "f", o.File, "Desired state spreadsheet (xlsx)")
	fs.StringVar(&s.Sheet, "sheet", s.Sheet, "Sheet to read, the first one when empty")
	fs.StringVar(&s.EntityColumn, "entity-column", s.EntityColumn, "Header of the column naming the virtual machine")
	fs.BoolVar(&s.DryRun, "dry-run", s.DryRun, "Report the changes without applying them")
	fs.BoolVarP(&s.AssumeYes, "yes", "y", s.AssumeYes, "Create missing tags without asking")
	fs.IntVar(&s.Workers, "workers", s.Workers, "Number of virtual machines reconciled concurrently")
	fs.DurationVar(&s.CallTimeout, "call-timeout", s.CallTimeout, "Timeout of every vCenter call made while syncing")
	fs.IntVar(&s.MaxConsecutiveFailures, "max-consecutive-failures", s.MaxConsecutiveFailures, "Abort after this many virtual machines failed in a row, 0 never aborts")
	fs.StringVar(&s.EventsFile, "events-file", s.EventsFile, "Append progress events to this file as JSON lines")
	fs.StringVar(&o.Config.Service.MetricsAddress, "metrics-address", o.Config.Service.MetricsAddress, "Serve prometheus metrics on this address while syncing")
	fs.BoolVar(&o.Config.Database.History, "history", o.Config.Database.History, "Record the run in the history database")
	fs.StringVarP(&o.Output, "output", "o", o.Output, fmt.Sprintf("Output format. One of: (%s).", strings.Join(legalOutputTypes, ", ")))
}

func (o *SyncOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	if err := o.validateVsphere(); err != nil {
		return err
	}
	if o.File == "" {
		return fmt.Errorf("a desired state file is required, use --file")
	}
	if o.Config.Sync.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	return validateOutput(o.Output)
}

func (o *SyncOptions) Run(ctx context.Context, args []string) error {
	log := zap.S().Named("cli")
	cfg := o.Config.Sync
	runID := uuid.New()

	ctx, stop := signalContext(ctx)
	defer stop()

	rows, err := readDesired(o.File, spreadsheet.ReadOptions{Sheet: cfg.Sheet, EntityColumn: cfg.EntityColumn})
	if err != nil {
		return err
	}

	if o.Config.Service.MetricsAddress != "" {
		stopMetrics, err := startMetricServer(ctx, o.Config.Service.MetricsAddress)
		if err != nil {
			return err
		}
		defer stopMetrics()
	}

	client, err := o.connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Logout(context.Background())
	}()

	entities, err := client.ListEntities(ctx)
	if err != nil {
		return fmt.Errorf("listing virtual machines: %w", err)
	}
	snap, err := snapshot.NewBuilder(client).Build(ctx)
	if err != nil {
		return fmt.Errorf("building tag snapshot: %w", err)
	}

	var inv inventory.Inventory = client
	var dry *inventory.DryRun
	if cfg.DryRun {
		dry = inventory.NewDryRun(client)
		inv = dry
	}

	catalogOpts := []catalog.Option{catalog.WithDryRun(cfg.DryRun), catalog.WithCallTimeout(cfg.CallTimeout)}
	switch {
	case cfg.AssumeYes:
	case isTerminal(os.Stdin):
		catalogOpts = append(catalogOpts, catalog.WithConfirmer(&promptConfirmer{}))
	default:
		catalogOpts = append(catalogOpts, catalog.WithConfirmer(declineAll{}))
	}

	var writer events.Writer = &events.StdoutWriter{}
	if cfg.EventsFile != "" {
		fw, err := events.NewFileWriter(cfg.EventsFile)
		if err != nil {
			return err
		}
		writer = fw
	}
	producer := events.NewEventProducer(writer)
	defer func() {
		_ = producer.Close()
	}()
	sinks := syncer.MultiSink{syncer.LogSink{}, syncer.MetricsSink{}, syncer.NewEventSink(producer, runID.String())}

	s := syncer.New(entities,
		catalog.New(inv, catalogOpts...),
		reconcile.New(inv, reconcile.WithCallTimeout(cfg.CallTimeout), reconcile.WithDryRun(cfg.DryRun)),
		syncer.WithSink(sinks),
		syncer.WithWorkers(cfg.Workers),
		syncer.WithMaxConsecutiveFailures(cfg.MaxConsecutiveFailures),
		syncer.WithDryRun(cfg.DryRun),
	)
	report, runErr := s.SyncAll(ctx, rows, snap)

	if o.Config.Database.History {
		o.record(runID, report, runErr)
	}

	if err := printReport(os.Stdout, o.Output, report); err != nil {
		return err
	}
	if dry != nil {
		printMutations(os.Stderr, dry.Mutations())
	}
	if errors.Is(runErr, context.Canceled) {
		log.Warnw("sync interrupted, remaining rows were not processed", "run", runID)
		return runErr
	}
	if runErr != nil {
		log.Errorw("sync aborted", "run", runID, "error", runErr)
		return runErr
	}
	return nil
}

// record never fails the run, the tags are already applied.
func (o *SyncOptions) record(runID uuid.UUID, report *syncer.Report, runErr error) {
	log := zap.S().Named("cli")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := o.openStore(ctx)
	if err != nil {
		log.Warnw("run not recorded", "error", err)
		return
	}
	defer s.Close()

	source, err := filepath.Abs(o.File)
	if err != nil {
		source = o.File
	}
	run := store.FromReport(report, source, runErr)
	run.ID = runID
	if _, err := s.Runs().Create(ctx, run); err != nil {
		log.Warnw("run not recorded", "error", err)
		return
	}
	log.Infow("run recorded", "run", runID)
}

func readDesired(path string, opts spreadsheet.ReadOptions) ([]syncer.DesiredRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening desired state: %w", err)
	}
	defer f.Close()
	return spreadsheet.ReadDesired(f, opts)
}

func startMetricServer(ctx context.Context, address string) (func(), error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", address, err)
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := apiserver.NewMetricServer(address, listener).Run(ctx); err != nil {
			zap.S().Named("cli").Errorw("metrics server failed", "error", err)
		}
	}()
	return func() {
		cancel()
		<-done
	}, nil
}

func printReport(w io.Writer, output string, report *syncer.Report) error {
	if ok, err := printStructured(w, output, report); ok {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 8, 1, '\t', 0)
	fmt.Fprintln(tw, "ENTITY\tSTATUS\tCATEGORY\tPREVIOUS\tDESIRED\tOUTCOME\tERROR")
	for _, e := range report.Failed() {
		if len(e.Categories) == 0 {
			fmt.Fprintf(tw, "%s\t%s\t\t\t\t\t%s\n", e.Entity, e.Status, e.Error)
			continue
		}
		for _, c := range e.Categories {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", e.Entity, e.Status, c.Category, c.Previous, c.Desired, c.Outcome, c.Error)
		}
	}
	tw.Flush()

	mode := ""
	if report.DryRun {
		mode = " (dry-run)"
	}
	fmt.Fprintf(w, "\n%d rows%s: %d unchanged, %d applied, %d already correct, %d not found, %d removal not confirmed, %d remote unavailable, %d invalid category, %d creation declined\n",
		report.Rows, mode, report.Unchanged, report.Applied, report.AlreadyCorrect, report.NotFound,
		report.RemovalNotConfirmed, report.RemoteUnavailable, report.InvalidCategory, report.CreationDeclined)
	return nil
}

func printMutations(w io.Writer, mutations []inventory.Mutation) {
	if len(mutations) == 0 {
		return
	}
	fmt.Fprintf(w, "\nwould issue %d changes:\n", len(mutations))
	for _, m := range mutations {
		fmt.Fprintf(w, "  %s %s on %s\n", m.Kind, m.Tag, m.Entity)
	}
}

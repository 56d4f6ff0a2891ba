package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/kubev2v/vmtag-sync/internal/export"
	"github.com/kubev2v/vmtag-sync/internal/hierarchy"
	"github.com/kubev2v/vmtag-sync/internal/snapshot"
	"github.com/kubev2v/vmtag-sync/internal/spreadsheet"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

type ExportOptions struct {
	GlobalOptions

	File        string
	NoLocations bool
}

func DefaultExportOptions() *ExportOptions {
	return &ExportOptions{
		GlobalOptions: DefaultGlobalOptions(),
		File:          "tags.xlsx",
	}
}

func NewCmdExport() *cobra.Command {
	o := DefaultExportOptions()
	cmd := &cobra.Command{
		Use:     "export [--file FILE]",
		Short:   "Write the current tags of every virtual machine to a spreadsheet.",
		Example: "vmtag-sync export --url https://vcenter.example.com --username admin@vsphere.local --file current.xlsx",
		Args:    cobra.NoArgs,
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

func (o *ExportOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)
	o.GlobalOptions.BindVsphere(fs)
	fs.StringVarP(&o.File, "file", "f", o.File, "Spreadsheet to write, overwritten when it exists")
	fs.BoolVar(&o.NoLocations, "no-locations", o.NoLocations, "Leave the Datacenter and Cluster columns empty")
}

func (o *ExportOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	if err := o.validateVsphere(); err != nil {
		return err
	}
	if o.File == "" {
		return fmt.Errorf("an output file is required, use --file")
	}
	return nil
}

func (o *ExportOptions) Run(ctx context.Context, args []string) error {
	log := zap.S().Named("cli")
	ctx, stop := signalContext(ctx)
	defer stop()

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
	table, values := export.Project(entities, snap)

	var locations map[string]hierarchy.Location
	if !o.NoLocations {
		locations, err = export.Locations(ctx, hierarchy.NewResolver(client), entities)
		if err != nil {
			return fmt.Errorf("resolving locations: %w", err)
		}
	}

	f, err := os.Create(o.File)
	if err != nil {
		return fmt.Errorf("creating %s: %w", o.File, err)
	}
	if err := spreadsheet.WriteExport(f, table, values, locations); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	log.Infow("export written", "file", o.File, "entities", len(table.Rows), "categories", len(table.Columns))
	return nil
}

package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/kubev2v/vmtag-sync/pkg/version"
	"github.com/spf13/cobra"
)

type VersionOptions struct {
	Output string
}

func DefaultVersionOptions() *VersionOptions {
	return &VersionOptions{
		Output: "",
	}
}

func NewCmdVersion() *cobra.Command {
	o := DefaultVersionOptions()
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print vmtag-sync version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutput(o.Output); err != nil {
				return err
			}
			return o.Run(cmd.Context(), args)
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVarP(&o.Output, "output", "o", o.Output, fmt.Sprintf("Output format. One of: (%s).", strings.Join(legalOutputTypes[1:], ", ")))
	return cmd
}

func (o *VersionOptions) Run(ctx context.Context, args []string) error {
	versionInfo := version.Get()
	if ok, err := printStructured(os.Stdout, o.Output, versionInfo); ok {
		return err
	}
	fmt.Printf("vmtag-sync Version: %s\n", versionInfo.String())
	return nil
}

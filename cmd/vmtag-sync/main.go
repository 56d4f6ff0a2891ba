package main

import (
	"os"

	"github.com/kubev2v/vmtag-sync/internal/cli"
	"github.com/spf13/cobra"
)

func main() {
	command := NewVmtagSyncCommand()
	if err := command.Execute(); err != nil {
		os.Exit(1)
	}
}

func NewVmtagSyncCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vmtag-sync [flags] [options]",
		Short: "vmtag-sync keeps vCenter virtual machine tags in line with a spreadsheet.",
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
			os.Exit(1)
		},
	}
	cmd.AddCommand(cli.NewCmdSync())
	cmd.AddCommand(cli.NewCmdExport())
	cmd.AddCommand(cli.NewCmdHistory())
	cmd.AddCommand(cli.NewCmdVersion())

	return cmd
}

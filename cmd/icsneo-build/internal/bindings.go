package internal

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/icsneo-go/icsneo-build/internal/pipeline"
)

var bindingsCmd = &cobra.Command{
	Use:   "bindings",
	Short: "Regenerate the Go bindings from the libicsneo header",
	Long:  `Bindings parses the public header of the located source tree and rewrites the binding file when it changed. The native library is not touched.`,
	Args:  cobra.NoArgs,
	RunE:  runBindings,
}

func init() {
	rootCmd.AddCommand(bindingsCmd)
}

func runBindings(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	d := &pipeline.Driver{Config: cfg, Logger: logger}
	report, err := d.Bindings(context.Background())
	if err != nil {
		return err
	}
	state := "unchanged"
	if report.BindingsChanged {
		state = "written"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s, %d symbol(s), %d skipped\n",
		report.Bindings, state, len(report.Symbols), len(report.Skipped))
	return nil
}

package internal

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/icsneo-go/icsneo-build/internal/pipeline"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Fetch and build libicsneo, then generate link flags and bindings",
	Long: `Build runs the full pipeline: it checks out libicsneo (falling back to a clone
of the upstream remote), builds it with CMake, writes the cgo link file for the
target platform and regenerates the bindings.`,
	Args: cobra.NoArgs,
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	d := &pipeline.Driver{Config: cfg, Logger: logger}
	if cfg.Verbose {
		d.Stream = os.Stderr
	}
	report, err := d.Run(context.Background())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, dir := range report.Directives {
		fmt.Fprintf(out, "icsneo-build:%s\n", dir)
	}
	if report.LinkFile != "" {
		fmt.Fprintf(out, "link file: %s\n", report.LinkFile)
	}
	fmt.Fprintf(out, "bindings: %s (%s)\n", report.Bindings, report)
	return nil
}

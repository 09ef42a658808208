package internal

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/icsneo-go/icsneo-build/internal/bindgen"
	"github.com/icsneo-go/icsneo-build/internal/pipeline"
	"github.com/icsneo-go/icsneo-build/internal/source"
)

var symbolsSkipped bool

var symbolsCmd = &cobra.Command{
	Use:   "symbols",
	Short: "List the allow-listed symbols the bindings would contain",
	Args:  cobra.NoArgs,
	RunE:  runSymbols,
}

func init() {
	symbolsCmd.Flags().BoolVar(&symbolsSkipped, "skipped", false, "List skipped declarations instead")
	rootCmd.AddCommand(symbolsCmd)
}

func runSymbols(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	d := &pipeline.Driver{Config: cfg, Logger: logger}
	out, err := d.Generate(source.Locate(cfg.SourcePath, cfg.ProjectDir))
	if err != nil {
		return err
	}
	if symbolsSkipped {
		renderSkipped(cmd.OutOrStdout(), out.Skipped)
		return nil
	}
	renderSymbols(cmd.OutOrStdout(), out.Symbols)
	return nil
}

func renderSymbols(w io.Writer, syms []bindgen.Symbol) {
	if len(syms) == 0 {
		fmt.Fprintln(w, "(no symbols)")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Kind", "C name", "Go name", "C type"})
	for _, s := range syms {
		t.AppendRow(table.Row{s.Kind, s.CName, s.GoName, s.CType})
	}
	t.Render()
	fmt.Fprintf(w, "(%d symbols)\n", len(syms))
}

func renderSkipped(w io.Writer, skipped []bindgen.Skip) {
	if len(skipped) == 0 {
		fmt.Fprintln(w, "(nothing skipped)")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Declaration", "Reason"})
	for _, s := range skipped {
		t.AppendRow(table.Row{s.Name, s.Reason})
	}
	t.Render()
}

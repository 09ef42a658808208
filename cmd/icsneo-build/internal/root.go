package internal

import (
	"log"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/icsneo-go/icsneo-build/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "icsneo-build",
	Short: "icsneo-build prepares libicsneo for cgo",
	Long: `icsneo-build locates or fetches the libicsneo source tree, builds it with CMake,
emits the linker flags the consuming cgo package needs and generates Go bindings
from the public C header.`,
	SilenceUsage: true,
}

func init() {
	addConfigFlags(rootCmd.PersistentFlags())
}

// addConfigFlags declares the flags config.Load understands. Only flags set on
// the command line take part in resolution, so the defaults here are never
// read.
func addConfigFlags(f *pflag.FlagSet) {
	f.String("config", "", "Configuration file (default <project>/"+config.FileName+")")
	f.String("project-dir", "", "Consuming Go project (default: nearest go.mod)")
	f.String("source", "", "Existing libicsneo source tree; skips checkout")
	f.String("out-dir", "", "Directory receiving the generated Go files")
	f.String("build-dir", "", "Directory owning the CMake tree")
	f.String("prebuilt-dir", "", "Directory holding already built libraries")
	f.Bool("docs-only", false, "Generate bindings only, never touch the native library")
	f.Bool("build-native", true, "Build the native library")
	f.String("profile", "", "Host build profile: debug or release")
	f.String("target-os", "", "Target operating system (default $GOOS)")
	f.String("link-mode", "", "static or dynamic")
	f.String("ninja", "", "Ninja generator use: off, auto or require")
	f.Int("parallel", 0, "Parallel build jobs (0 lets the build tool decide)")
	f.String("min-version", "", "Oldest accepted libicsneo version")
	f.String("upstream", "", "Remote cloned when the submodule checkout fails")
	f.String("ref", "", "Branch or tag cloned from upstream")
	f.Int("clone-attempts", 0, "Number of clone attempts")
	f.String("header", "", "Public header, relative to the source tree")
	f.String("package", "", "Package name of the generated files")
	f.BoolP("verbose", "v", false, "Enable debug logging and live build output")
}

// loadConfig resolves the configuration for cmd and builds the logger it
// asks for.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	file, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(config.Options{File: file, Flags: cmd.Flags()})
	if err != nil {
		return nil, nil, err
	}
	return cfg, newLogger(cfg.Verbose), nil
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		log.Fatal(err)
	}
}

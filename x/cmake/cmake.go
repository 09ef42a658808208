// Package cmake wraps the cmake configure/build workflow.
package cmake

import (
	"context"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/icsneo-go/icsneo-build/internal/command"
)

// Ninja is the generator name of the Ninja build tool.
const Ninja = "Ninja"

type defineValue struct {
	value    string
	typeName string
}

// CMake drives CMake-based builds.
type CMake struct {
	sourceDir string
	buildDir  string
	generator string
	buildType string
	defines   map[string]defineValue
	runner    command.Runner
	stream    io.Writer
}

// New returns a ready-to-use CMake executing through r.
func New(r command.Runner, sourceDir, buildDir string) *CMake {
	return &CMake{
		sourceDir: sourceDir,
		buildDir:  buildDir,
		defines:   make(map[string]defineValue),
		runner:    r,
	}
}

// Generator sets the CMake generator (e.g. "Ninja", "Unix Makefiles").
// Empty leaves the platform default.
func (c *CMake) Generator(name string) { c.generator = name }

// BuildType sets CMAKE_BUILD_TYPE and the multi-config --config value.
func (c *CMake) BuildType(name string) { c.buildType = name }

// Stream copies tool output to w while it runs.
func (c *CMake) Stream(w io.Writer) { c.stream = w }

// Define adds a -D<key>:STRING=<value> definition.
func (c *CMake) Define(key, value string) {
	c.defines[key] = defineValue{value: value, typeName: "STRING"}
}

// DefineBool adds a -D<key>:BOOL=ON/OFF definition.
func (c *CMake) DefineBool(key string, value bool) {
	v := "OFF"
	if value {
		v = "ON"
	}
	c.defines[key] = defineValue{value: v, typeName: "BOOL"}
}

// Step is one finished cmake invocation.
type Step struct {
	Cmd command.Cmd
	*command.Result
}

// Check returns nil on success and a descriptive error otherwise.
func (s Step) Check() error { return s.Failure(s.Cmd) }

// ConfigureCmd returns the "cmake -S <source> -B <build>" invocation with all
// configured options. Extra args are appended at the end.
func (c *CMake) ConfigureCmd(args ...string) command.Cmd {
	cmakeArgs := []string{"-S", c.sourceDir, "-B", c.buildDir}
	if c.generator != "" {
		cmakeArgs = append(cmakeArgs, "-G", c.generator)
	}
	if c.buildType != "" {
		c.Define("CMAKE_BUILD_TYPE", c.buildType)
	}
	cmakeArgs = append(cmakeArgs, c.definesArgs()...)
	cmakeArgs = append(cmakeArgs, args...)
	return c.cmd(cmakeArgs)
}

// Configure creates the build directory and runs ConfigureCmd.
func (c *CMake) Configure(ctx context.Context, args ...string) Step {
	cmd := c.ConfigureCmd(args...)
	if err := os.MkdirAll(c.buildDir, 0o755); err != nil {
		return Step{Cmd: cmd, Result: &command.Result{ExitCode: -1, Err: err}}
	}
	return Step{Cmd: cmd, Result: c.runner.Run(ctx, cmd)}
}

// BuildCmd returns the "cmake --build <build>" invocation for target. A
// positive parallel adds --parallel; native args follow "--" and go to the
// underlying build tool.
func (c *CMake) BuildCmd(target string, parallel int, native ...string) command.Cmd {
	cmakeArgs := []string{"--build", c.buildDir}
	if c.buildType != "" {
		cmakeArgs = append(cmakeArgs, "--config", c.buildType)
	}
	if target != "" {
		cmakeArgs = append(cmakeArgs, "--target", target)
	}
	if parallel > 0 {
		cmakeArgs = append(cmakeArgs, "--parallel", strconv.Itoa(parallel))
	}
	if len(native) > 0 {
		cmakeArgs = append(cmakeArgs, "--")
		cmakeArgs = append(cmakeArgs, native...)
	}
	return c.cmd(cmakeArgs)
}

// Build runs BuildCmd.
func (c *CMake) Build(ctx context.Context, target string, parallel int, native ...string) Step {
	cmd := c.BuildCmd(target, parallel, native...)
	return Step{Cmd: cmd, Result: c.runner.Run(ctx, cmd)}
}

// OutputDir returns the build directory.
func (c *CMake) OutputDir() string {
	return c.buildDir
}

// IsMultiConfig reports whether generator places outputs in per-config
// subdirectories and builds the ALL_BUILD aggregate. goos decides what an
// empty generator means.
func IsMultiConfig(generator, goos string) bool {
	if generator == "" {
		return goos == "windows"
	}
	return strings.HasPrefix(generator, "Visual Studio") ||
		generator == "Xcode" ||
		strings.HasPrefix(generator, "Ninja Multi-Config")
}

// AggregateTarget returns the target that builds everything for generator.
func AggregateTarget(generator, goos string) string {
	if IsMultiConfig(generator, goos) && !strings.HasPrefix(generator, "Ninja") {
		return "ALL_BUILD"
	}
	return "all"
}

func (c *CMake) cmd(args []string) command.Cmd {
	return command.Cmd{Name: "cmake", Args: args, Stream: c.stream}
}

func (c *CMake) definesArgs() []string {
	if len(c.defines) == 0 {
		return nil
	}
	keys := make([]string, 0, len(c.defines))
	for k := range c.defines {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]string, 0, len(keys))
	for _, k := range keys {
		d := c.defines[k]
		args = append(args, "-D"+k+":"+d.typeName+"="+d.value)
	}
	return args
}

// Package native drives the CMake build of libicsneo.
package native

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/icsneo-go/icsneo-build/internal/command"
	"github.com/icsneo-go/icsneo-build/internal/config"
	"github.com/icsneo-go/icsneo-build/x/cmake"
)

// Descriptor is the project file that must exist at the source root.
const Descriptor = "CMakeLists.txt"

var (
	ErrMissingDescriptor = errors.New("project descriptor not found")
	ErrBuildTool         = errors.New("native build failed")
	ErrToolNotFound      = errors.New("build tool not found")
	ErrVersion           = errors.New("libicsneo version too old")
	ErrMissingArtifact   = errors.New("library not found")
)

// Driver builds libicsneo into OutDir.
type Driver struct {
	Runner command.Runner
	Logger *slog.Logger

	// OutDir owns the CMake tree. Artifacts land in OutDir/build/<Profile>.
	OutDir string

	// Stream, when set, receives live cmake output.
	Stream io.Writer
}

// Build configures and builds the library found at sourcePath.
func (d *Driver) Build(ctx context.Context, sourcePath string, bc config.BuildConfig) (*ArtifactSet, error) {
	logger := d.logger()

	descriptor := filepath.Join(sourcePath, Descriptor)
	data, err := os.ReadFile(descriptor)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingDescriptor, descriptor)
	}
	logger.Info("found project descriptor", "path", descriptor)

	if err := checkVersion(logger, data, bc.MinVersion); err != nil {
		return nil, err
	}

	generator, err := d.generator(bc.Ninja)
	if err != nil {
		return nil, err
	}

	buildDir := filepath.Join(d.OutDir, "build")
	cm := cmake.New(d.Runner, sourcePath, buildDir)
	cm.Generator(generator)
	cm.BuildType(string(bc.Profile))
	if d.Stream != nil {
		cm.Stream(d.Stream)
	}
	defineOptions(cm, bc, buildDir)

	target := cmake.AggregateTarget(generator, bc.TargetOS)
	var native []string
	if bc.Parallel > 0 && bc.TargetOS == "windows" && target == "ALL_BUILD" {
		native = append(native, "/m")
	}

	logger.Info("configuring libicsneo", "generator", generatorName(generator), "profile", bc.Profile, "link", bc.LinkMode)
	if err := d.check(cm.Configure(ctx)); err != nil {
		return nil, err
	}
	logger.Info("building libicsneo", "target", target)
	if err := d.check(cm.Build(ctx, target, bc.Parallel, native...)); err != nil {
		return nil, err
	}

	dir := filepath.Join(buildDir, string(bc.Profile))
	logger.Info("library search path", "dir", dir)
	return Inspect(logger, dir, bc.LinkMode, bc.TargetOS)
}

func defineOptions(cm *cmake.CMake, bc config.BuildConfig, buildDir string) {
	cm.DefineBool("LIBICSNEO_BUILD_ICSNEOC_STATIC", bc.LinkMode == config.Static)
	cm.DefineBool("LIBICSNEO_BUILD_ICSNEOC", bc.LinkMode == config.Dynamic)
	for _, c := range bc.Components {
		cm.DefineBool("LIBICSNEO_BUILD_"+c.Name, c.Enabled)
	}
	out := filepath.ToSlash(buildDir) + "/$<CONFIG>"
	for _, kind := range []string{"ARCHIVE", "LIBRARY", "RUNTIME"} {
		cm.Define("CMAKE_"+kind+"_OUTPUT_DIRECTORY", out)
	}
}

// generator picks the CMake generator. Empty means the platform default.
func (d *Driver) generator(mode config.NinjaMode) (string, error) {
	if mode == config.NinjaOff {
		return "", nil
	}
	if _, err := d.Runner.LookPath("ninja"); err != nil {
		if mode == config.NinjaRequire {
			return "", fmt.Errorf("%w: ninja is required but not on PATH: %v", ErrToolNotFound, err)
		}
		d.logger().Debug("ninja not found, using the default generator")
		return "", nil
	}
	return cmake.Ninja, nil
}

func (d *Driver) check(step cmake.Step) error {
	if step.Success() {
		return nil
	}
	step.Warn(d.logger(), "cmake")
	return fmt.Errorf("%w: %v", ErrBuildTool, step.Check())
}

func (d *Driver) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func generatorName(g string) string {
	if g == "" {
		return "default"
	}
	return g
}

var projectRE = regexp.MustCompile(`(?is)\bproject\s*\(\s*([A-Za-z0-9_.+-]+)[^)]*?\bVERSION\s+([0-9]+(?:\.[0-9]+)*)`)

// ProjectVersion extracts the version from the project() call of a
// CMakeLists.txt. It returns a canonical semantic version, or "" when the
// project declares none.
func ProjectVersion(descriptor []byte) string {
	m := projectRE.FindSubmatch(descriptor)
	if m == nil {
		return ""
	}
	parts := strings.Split(string(m[2]), ".")
	for len(parts) < 3 {
		parts = append(parts, "0")
	}
	return "v" + strings.Join(parts[:3], ".")
}

func checkVersion(logger *slog.Logger, descriptor []byte, minVersion string) error {
	version := ProjectVersion(descriptor)
	if version == "" {
		if minVersion != "" {
			logger.Warn("cannot determine libicsneo version, skipping version check", "min_version", minVersion)
		}
		return nil
	}
	logger.Info("libicsneo version", "version", version)
	if minVersion == "" {
		return nil
	}
	want := config.CanonicalVersion(minVersion)
	if semver.Compare(version, want) < 0 {
		return fmt.Errorf("%w: found %s, need at least %s", ErrVersion, version, want)
	}
	return nil
}

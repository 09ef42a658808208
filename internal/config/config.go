// Package config resolves the pipeline configuration once, from defaults,
// an optional project file, the environment and command line flags.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/mod/semver"
)

const (
	// FileName is the optional per-project configuration file.
	FileName = "icsneo-build.yaml"

	// SourceSubdir is where the libicsneo checkout lives inside the
	// consuming project.
	SourceSubdir = "src/libicsneo"

	DefaultUpstream = "https://github.com/intrepidcs/libicsneo.git"
	DefaultHeader   = "include/icsneo/icsneoc.h"
	DefaultPackage  = "icsneo"
	DefaultOutDir   = "icsneo"
)

// ErrInvalid reports a configuration value outside its allowed set.
var ErrInvalid = errors.New("invalid configuration")

// LinkMode selects how the consumer links against libicsneo.
type LinkMode string

const (
	Static  LinkMode = "static"
	Dynamic LinkMode = "dynamic"
)

// NinjaMode controls the fast generator substitution.
type NinjaMode string

const (
	NinjaOff     NinjaMode = "off"
	NinjaAuto    NinjaMode = "auto"
	NinjaRequire NinjaMode = "require"
)

// Profile is a CMake build configuration name.
type Profile string

const (
	Debug          Profile = "Debug"
	Release        Profile = "Release"
	RelWithDebInfo Profile = "RelWithDebInfo"
)

// AllowList holds the symbol patterns bounding the generated bindings.
type AllowList struct {
	Functions []string `koanf:"functions" yaml:"functions"`
	Types     []string `koanf:"types" yaml:"types"`
	Vars      []string `koanf:"vars" yaml:"vars"`
}

// DefaultAllowList is the public surface exposed when no allow-list is
// configured.
func DefaultAllowList() AllowList {
	return AllowList{
		Functions: []string{"icsneo_.*"},
		Types:     []string{"neodevice_t", "neoversion_t", "neoevent_t", "neonetid_t"},
	}
}

// Config is the resolved configuration of one pipeline run.
type Config struct {
	ProjectDir string `koanf:"project_dir" yaml:"project_dir"`

	// SourcePath is the explicit libicsneo location. Empty means the
	// checkout under ProjectDir.
	SourcePath string `koanf:"source_path" yaml:"source_path,omitempty"`

	OutDir      string `koanf:"out_dir" yaml:"out_dir"`
	BuildDir    string `koanf:"build_dir" yaml:"build_dir"`
	DocsOnly    bool   `koanf:"docs_only" yaml:"docs_only"`
	BuildNative bool   `koanf:"build_native" yaml:"build_native"`
	PrebuiltDir string `koanf:"prebuilt_dir" yaml:"prebuilt_dir,omitempty"`

	Profile    string          `koanf:"profile" yaml:"profile"`
	TargetOS   string          `koanf:"target_os" yaml:"target_os"`
	LinkMode   LinkMode        `koanf:"link_mode" yaml:"link_mode"`
	Ninja      NinjaMode       `koanf:"ninja" yaml:"ninja"`
	Parallel   int             `koanf:"parallel" yaml:"parallel"`
	Components map[string]bool `koanf:"components" yaml:"components,omitempty"`
	MinVersion string          `koanf:"min_version" yaml:"min_version,omitempty"`

	Upstream      string `koanf:"upstream" yaml:"upstream"`
	Ref           string `koanf:"ref" yaml:"ref,omitempty"`
	CloneAttempts int    `koanf:"clone_attempts" yaml:"clone_attempts"`

	Header    string    `koanf:"header" yaml:"header"`
	Package   string    `koanf:"package" yaml:"package"`
	AllowList AllowList `koanf:"allowlist" yaml:"allowlist"`

	Verbose bool `koanf:"verbose" yaml:"verbose"`
}

// Validate checks enumerated values and numeric bounds.
func (c *Config) Validate() error {
	switch c.LinkMode {
	case Static, Dynamic:
	default:
		return fmt.Errorf("%w: link_mode %q (want static or dynamic)", ErrInvalid, c.LinkMode)
	}
	switch c.Ninja {
	case NinjaOff, NinjaAuto, NinjaRequire:
	default:
		return fmt.Errorf("%w: ninja %q (want off, auto or require)", ErrInvalid, c.Ninja)
	}
	if c.CloneAttempts < 1 {
		return fmt.Errorf("%w: clone_attempts must be at least 1, got %d", ErrInvalid, c.CloneAttempts)
	}
	if c.Parallel < 0 {
		return fmt.Errorf("%w: parallel must not be negative, got %d", ErrInvalid, c.Parallel)
	}
	if c.MinVersion != "" && !semver.IsValid(CanonicalVersion(c.MinVersion)) {
		return fmt.Errorf("%w: min_version %q is not a semantic version", ErrInvalid, c.MinVersion)
	}
	if c.Package == "" {
		return fmt.Errorf("%w: package name is empty", ErrInvalid)
	}
	return nil
}

// CanonicalVersion adds the "v" prefix x/mod/semver expects.
func CanonicalVersion(v string) string {
	if v == "" || strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

// Component is one optional libicsneo build component.
type Component struct {
	Name    string
	Enabled bool
}

// BuildConfig is the native build parameter set. It is derived once from a
// Config and is not modified afterwards.
type BuildConfig struct {
	Profile    Profile
	LinkMode   LinkMode
	Components []Component
	Ninja      NinjaMode
	Parallel   int
	TargetOS   string
	MinVersion string
}

// Build derives the native build parameters.
func (c *Config) Build() BuildConfig {
	comps := make([]Component, 0, len(c.Components))
	for name, on := range c.Components {
		comps = append(comps, Component{Name: strings.ToUpper(name), Enabled: on})
	}
	sort.Slice(comps, func(i, j int) bool { return comps[i].Name < comps[j].Name })

	return BuildConfig{
		Profile:    ResolveProfile(c.Profile, c.TargetOS),
		LinkMode:   c.LinkMode,
		Components: comps,
		Ninja:      c.Ninja,
		Parallel:   c.Parallel,
		TargetOS:   c.TargetOS,
		MinVersion: c.MinVersion,
	}
}

// ResolveProfile maps the host build profile onto a CMake configuration.
//
// On windows a debug build maps to RelWithDebInfo: MSVC debug builds link the
// debug C runtime, which the host toolchain does not. Unknown profiles are
// treated as debug.
func ResolveProfile(hostProfile, targetOS string) Profile {
	release := strings.EqualFold(hostProfile, "release")
	switch {
	case release:
		return Release
	case targetOS == "windows":
		return RelWithDebInfo
	default:
		return Debug
	}
}

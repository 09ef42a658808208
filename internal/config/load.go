package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	kenv "github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/icsneo-go/icsneo-build/internal/env"
)

// envKeys maps the environment variables the pipeline honours onto config keys.
var envKeys = map[string]string{
	"LIBICSNEO_PATH":        "source_path",
	"ICSNEO_PROJECT_DIR":    "project_dir",
	"ICSNEO_OUT_DIR":        "out_dir",
	"ICSNEO_BUILD_DIR":      "build_dir",
	"ICSNEO_DOCS_ONLY":      "docs_only",
	"ICSNEO_BUILD_NATIVE":   "build_native",
	"ICSNEO_PREBUILT_DIR":   "prebuilt_dir",
	"ICSNEO_PROFILE":        "profile",
	"ICSNEO_TARGET_OS":      "target_os",
	"ICSNEO_LINK_MODE":      "link_mode",
	"ICSNEO_NINJA":          "ninja",
	"ICSNEO_PARALLEL":       "parallel",
	"ICSNEO_MIN_VERSION":    "min_version",
	"ICSNEO_UPSTREAM":       "upstream",
	"ICSNEO_REF":            "ref",
	"ICSNEO_CLONE_ATTEMPTS": "clone_attempts",
	"ICSNEO_HEADER":         "header",
	"ICSNEO_PACKAGE":        "package",
}

// flagKeys overrides the kebab-to-snake mapping for flags whose name differs
// from their config key.
var flagKeys = map[string]string{
	"source": "source_path",
	"config": "",
}

// Options controls where Load looks for configuration.
type Options struct {
	// File is an explicit configuration file. Empty means FileName in the
	// project directory, if present.
	File string

	// Flags are the parsed command line flags. Only flags that were set
	// explicitly override other sources.
	Flags *pflag.FlagSet

	// Dir is where project discovery starts. Empty means the working directory.
	Dir string
}

// Load resolves the configuration.
// Precedence (highest to lowest): flags > env vars > config file > defaults.
func Load(opts Options) (*Config, error) {
	k := koanf.New(".")

	projectDir, err := projectDir(opts)
	if err != nil {
		return nil, err
	}

	allow := DefaultAllowList()
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"project_dir":         projectDir,
		"out_dir":             DefaultOutDir,
		"build_native":        true,
		"profile":             "release",
		"target_os":           runtime.GOOS,
		"link_mode":           string(Static),
		"ninja":               string(NinjaAuto),
		"upstream":            DefaultUpstream,
		"clone_attempts":      2,
		"header":              DefaultHeader,
		"package":             DefaultPackage,
		"allowlist.functions": allow.Functions,
		"allowlist.types":     allow.Types,
		"allowlist.vars":      allow.Vars,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	cfgFile := opts.File
	if cfgFile == "" {
		candidate := filepath.Join(projectDir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			cfgFile = candidate
		}
	}
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
	}

	// GOOS is only a fallback for ICSNEO_TARGET_OS, so it is loaded first.
	if err := k.Load(kenv.ProviderWithValue("GOOS", ".", func(key, value string) (string, interface{}) {
		if key != "GOOS" || value == "" {
			return "", nil
		}
		return "target_os", value
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}
	if err := k.Load(kenv.ProviderWithValue("", ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if opts.Flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				key = strings.ReplaceAll(f.Name, "-", "_")
			}
			if key == "" {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envValue maps known environment variables to config keys. ICSNEO_DOCS_ONLY
// counts as set, even when empty, unless it holds an explicit false value.
func envValue(key, value string) (string, interface{}) {
	name, ok := envKeys[key]
	switch {
	case !ok:
		return "", nil
	case name == "docs_only":
		on, err := strconv.ParseBool(value)
		return name, err != nil || on
	case value == "":
		return "", nil
	}
	return name, value
}

func projectDir(opts Options) (string, error) {
	if opts.Flags != nil && opts.Flags.Changed("project-dir") {
		if dir, _ := opts.Flags.GetString("project-dir"); dir != "" {
			return filepath.Abs(dir)
		}
	}
	if dir := os.Getenv("ICSNEO_PROJECT_DIR"); dir != "" {
		return filepath.Abs(dir)
	}
	start := opts.Dir
	if start == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		start = cwd
	}
	if root, err := env.ProjectRoot(start); err == nil {
		return root, nil
	}
	return filepath.Abs(start)
}

// resolvePaths anchors relative paths at the project directory and fills in
// the build directory.
func (c *Config) resolvePaths() error {
	abs, err := filepath.Abs(c.ProjectDir)
	if err != nil {
		return err
	}
	c.ProjectDir = abs
	c.SourcePath = resolveRelativeTo(c.SourcePath, abs)
	c.OutDir = resolveRelativeTo(c.OutDir, abs)
	c.PrebuiltDir = resolveRelativeTo(c.PrebuiltDir, abs)
	c.BuildDir = resolveRelativeTo(c.BuildDir, abs)
	if c.BuildDir == "" {
		work, err := env.WorkDir()
		if err != nil {
			return fmt.Errorf("resolve build dir: %w", err)
		}
		c.BuildDir = filepath.Join(work, "build", c.TargetOS+"-"+string(c.LinkMode))
	}
	return nil
}

func resolveRelativeTo(path, baseDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

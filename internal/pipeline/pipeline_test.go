package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/icsneo-go/icsneo-build/internal/bindgen"
	"github.com/icsneo-go/icsneo-build/internal/command"
	"github.com/icsneo-go/icsneo-build/internal/command/commandtest"
	"github.com/icsneo-go/icsneo-build/internal/config"
	"github.com/icsneo-go/icsneo-build/internal/link"
	"github.com/icsneo-go/icsneo-build/internal/native"
	"github.com/icsneo-go/icsneo-build/internal/testutil"
)

const header = `#pragma once
#include <stdint.h>
#include <stdbool.h>

typedef uint16_t neonetid_t;

typedef struct {
	uint32_t serial;
	int32_t handle;
} neodevice_t;

bool icsneo_openDevice(const neodevice_t* device);
void icsneo_close(void);
`

const cmakeLists = "project(libicsneo VERSION 0.3.0 LANGUAGES C CXX)\n"

// populate writes a minimal libicsneo tree into dir.
func populate(t *testing.T, dir string, descriptor bool) {
	t.Helper()
	inc := filepath.Join(dir, "include", "icsneo")
	if err := os.MkdirAll(inc, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(inc, "icsneoc.h"), []byte(header), 0o644); err != nil {
		t.Fatal(err)
	}
	if descriptor {
		if err := os.WriteFile(filepath.Join(dir, native.Descriptor), []byte(cmakeLists), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	project := t.TempDir()
	return &config.Config{
		ProjectDir:    project,
		OutDir:        filepath.Join(project, "icsneo"),
		BuildDir:      filepath.Join(project, "_build"),
		BuildNative:   true,
		Profile:       "release",
		TargetOS:      "linux",
		LinkMode:      config.Static,
		Ninja:         config.NinjaAuto,
		Upstream:      "https://example.com/libicsneo.git",
		CloneAttempts: 2,
		Header:        config.DefaultHeader,
		Package:       config.DefaultPackage,
		AllowList:     config.DefaultAllowList(),
	}
}

// fakeTools succeeds every call and produces the libraries when the build
// step runs. onGit, when set, answers git invocations instead.
func fakeTools(t *testing.T, artifactDir string, files []string, onGit func(n int, c command.Cmd) *command.Result) *commandtest.Runner {
	return &commandtest.Runner{
		Paths: map[string]string{"ninja": "/usr/bin/ninja"},
		Script: func(n int, c command.Cmd) *command.Result {
			switch {
			case c.Name == "git" && onGit != nil:
				return onGit(n, c)
			case c.Name == "cmake" && c.Args[0] == "--build":
				if err := os.MkdirAll(artifactDir, 0o755); err != nil {
					t.Error(err)
				}
				for _, f := range files {
					os.WriteFile(filepath.Join(artifactDir, f), nil, 0o644)
				}
			}
			return nil
		},
	}
}

var linuxStatic = []string{"libicsneoc-static.a", "libfatfs.a", "libicsneocpp.a"}

func stages(r *Report) string {
	var s []string
	for _, st := range r.Stages {
		s = append(s, string(st))
	}
	return strings.Join(s, " ")
}

func TestRunSubmodule(t *testing.T) {
	cfg := testConfig(t)
	src := filepath.Join(cfg.ProjectDir, config.SourceSubdir)
	populate(t, src, true)
	artifacts := filepath.Join(cfg.BuildDir, "build", "Release")
	r := fakeTools(t, artifacts, linuxStatic, nil)

	var observed []Stage
	d := &Driver{
		Config:   cfg,
		Logger:   testutil.NewTestLogger(t),
		Runner:   r,
		Observer: func(s Stage) { observed = append(observed, s) },
	}
	rep, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := "LocateSource AcquireSource BuildNative LinkArtifacts GenerateBindings"
	if got := stages(rep); got != want {
		t.Errorf("stages = %s, want %s", got, want)
	}
	if len(observed) != len(rep.Stages) {
		t.Errorf("observer saw %v", observed)
	}
	lines := r.Lines()
	if len(lines) != 3 || lines[0] != "git submodule update --init --recursive" {
		t.Fatalf("calls = %q", lines)
	}
	if calls := r.Calls(); calls[0].Dir != src {
		t.Errorf("submodule update ran in %q, want %q", calls[0].Dir, src)
	}
	if rep.Artifacts == nil || rep.Artifacts.Dir != artifacts {
		t.Errorf("artifacts = %+v", rep.Artifacts)
	}
	if rep.LinkFile != filepath.Join(cfg.OutDir, link.FileName("linux")) {
		t.Errorf("link file = %s", rep.LinkFile)
	}
	if rep.Bindings != filepath.Join(cfg.OutDir, bindgen.FileName) || !rep.BindingsChanged {
		t.Errorf("bindings = %s changed=%v", rep.Bindings, rep.BindingsChanged)
	}
	data, err := os.ReadFile(rep.Bindings)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range []string{"type Neodevice_t C.neodevice_t", "func Icsneo_openDevice(", "func Icsneo_close() {"} {
		if !strings.Contains(string(data), s) {
			t.Errorf("bindings miss %q", s)
		}
	}
}

func TestRunOverride(t *testing.T) {
	cfg := testConfig(t)
	cfg.SourcePath = filepath.Join(t.TempDir(), "libicsneo")
	populate(t, cfg.SourcePath, true)
	r := fakeTools(t, filepath.Join(cfg.BuildDir, "build", "Release"), linuxStatic, nil)

	d := &Driver{Config: cfg, Logger: testutil.NewTestLogger(t), Runner: r}
	rep, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if rep.Ran(AcquireSource) {
		t.Error("acquisition ran for an override path")
	}
	if !rep.Source.Override || rep.Source.Path != cfg.SourcePath {
		t.Errorf("source = %+v", rep.Source)
	}
	for _, c := range r.Calls() {
		if c.Name == "git" {
			t.Errorf("unexpected git call %s", c)
		}
	}
	if configure := r.Lines()[0]; !strings.Contains(configure, "-S "+cfg.SourcePath) {
		t.Errorf("configure = %s", configure)
	}
}

func TestRunDocsOnly(t *testing.T) {
	cfg := testConfig(t)
	cfg.DocsOnly = true
	// No descriptor: docs-only never looks for one.
	populate(t, filepath.Join(cfg.ProjectDir, config.SourceSubdir), false)
	r := &commandtest.Runner{}

	d := &Driver{Config: cfg, Logger: testutil.NewTestLogger(t), Runner: r}
	rep, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := stages(rep); got != "LocateSource GenerateBindings" {
		t.Errorf("stages = %s", got)
	}
	if len(r.Calls()) != 0 {
		t.Errorf("docs-only ran %q", r.Lines())
	}
	if rep.Artifacts != nil || rep.Directives != nil {
		t.Errorf("docs-only linked %+v", rep.Directives)
	}
	if _, err := os.Stat(filepath.Join(cfg.OutDir, link.FileName("linux"))); !os.IsNotExist(err) {
		t.Errorf("link file exists: %v", err)
	}
	if _, err := os.Stat(rep.Bindings); err != nil {
		t.Errorf("bindings missing: %v", err)
	}
}

func TestRunMissingDescriptor(t *testing.T) {
	cfg := testConfig(t)
	src := filepath.Join(cfg.ProjectDir, config.SourceSubdir)
	populate(t, src, false)
	r := fakeTools(t, t.TempDir(), nil, nil)

	d := &Driver{Config: cfg, Logger: testutil.NewTestLogger(t), Runner: r}
	rep, err := d.Run(context.Background())
	if !errors.Is(err, native.ErrMissingDescriptor) {
		t.Fatalf("err = %v, want ErrMissingDescriptor", err)
	}
	if !strings.Contains(err.Error(), filepath.Join(src, native.Descriptor)) {
		t.Errorf("error does not name the checked path: %v", err)
	}
	if rep.Ran(LinkArtifacts) || rep.Ran(GenerateBindings) {
		t.Errorf("stages after the failure ran: %s", stages(rep))
	}
	for _, c := range r.Calls() {
		if c.Name == "cmake" {
			t.Errorf("cmake ran without a descriptor: %s", c)
		}
	}
}

func TestRunCheckoutFallback(t *testing.T) {
	cfg := testConfig(t)
	src := filepath.Join(cfg.ProjectDir, config.SourceSubdir)
	r := fakeTools(t, filepath.Join(cfg.BuildDir, "build", "Release"), linuxStatic, func(n int, c command.Cmd) *command.Result {
		switch c.Args[0] {
		case "submodule":
			return commandtest.Fail(128, "", "fatal: not a git repository")
		case "clone":
			populate(t, c.Args[len(c.Args)-1], true)
		case "rev-parse":
			return &command.Result{Stdout: []byte("0123abcd\n")}
		}
		return nil
	})
	logger, rec := testutil.NewRecordingLogger()

	d := &Driver{Config: cfg, Logger: logger, Runner: r}
	rep, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !rep.Ran(GenerateBindings) {
		t.Errorf("stages = %s", stages(rep))
	}

	lines := r.Lines()
	if lines[1] != "git clone --recursive "+cfg.Upstream+" "+src {
		t.Errorf("clone = %s", lines[1])
	}
	logs := rec.String()
	for _, want := range []string{
		`level=WARN msg="git submodule stderr" line="fatal: not a git repository"`,
		"falling back to cloning upstream",
		"may differ from the pinned submodule revision",
	} {
		if !strings.Contains(logs, want) {
			t.Errorf("log is missing %q:\n%s", want, logs)
		}
	}
}

func TestRunWindowsDebug(t *testing.T) {
	cfg := testConfig(t)
	cfg.TargetOS = "windows"
	cfg.Profile = "debug"
	populate(t, filepath.Join(cfg.ProjectDir, config.SourceSubdir), true)
	artifacts := filepath.Join(cfg.BuildDir, "build", "RelWithDebInfo")
	r := fakeTools(t, artifacts, []string{"icsneoc-static.lib", "fatfs.lib", "icsneocpp.lib"}, nil)

	d := &Driver{Config: cfg, Logger: testutil.NewTestLogger(t), Runner: r}
	rep, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if configure := r.Lines()[1]; !strings.Contains(configure, "-DCMAKE_BUILD_TYPE:STRING=RelWithDebInfo") {
		t.Errorf("configure = %s", configure)
	}
	if rep.Artifacts.Dir != artifacts {
		t.Errorf("artifact dir = %s", rep.Artifacts.Dir)
	}
	if filepath.Base(rep.LinkFile) != "zz_icsneo_link_windows.go" {
		t.Errorf("link file = %s", rep.LinkFile)
	}
}

func TestRunUnsupportedPlatform(t *testing.T) {
	cfg := testConfig(t)
	cfg.TargetOS = "plan9"
	populate(t, filepath.Join(cfg.ProjectDir, config.SourceSubdir), true)
	r := fakeTools(t, filepath.Join(cfg.BuildDir, "build", "Release"), linuxStatic, nil)

	d := &Driver{Config: cfg, Logger: testutil.NewTestLogger(t), Runner: r}
	rep, err := d.Run(context.Background())
	if !errors.Is(err, link.ErrUnsupportedPlatform) {
		t.Fatalf("err = %v, want ErrUnsupportedPlatform", err)
	}
	if !strings.Contains(err.Error(), "plan9") {
		t.Errorf("error does not name the platform: %v", err)
	}
	if rep.Directives != nil || rep.Ran(GenerateBindings) {
		t.Errorf("report = %+v", rep)
	}
	entries, _ := os.ReadDir(cfg.OutDir)
	if len(entries) != 0 {
		t.Errorf("output dir holds %d file(s)", len(entries))
	}
}

func TestRunPrebuilt(t *testing.T) {
	cfg := testConfig(t)
	cfg.BuildNative = false
	cfg.PrebuiltDir = t.TempDir()
	for _, f := range linuxStatic[:1] {
		os.WriteFile(filepath.Join(cfg.PrebuiltDir, f), nil, 0o644)
	}
	populate(t, filepath.Join(cfg.ProjectDir, config.SourceSubdir), false)
	r := &commandtest.Runner{}

	d := &Driver{Config: cfg, Logger: testutil.NewTestLogger(t), Runner: r}
	rep, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := stages(rep); got != "LocateSource LinkArtifacts GenerateBindings" {
		t.Errorf("stages = %s", got)
	}
	if len(r.Calls()) != 0 {
		t.Errorf("prebuilt run invoked %q", r.Lines())
	}
	if rep.Directives[0].Value != cfg.PrebuiltDir {
		t.Errorf("search path = %+v", rep.Directives[0])
	}
}

func TestRunNoNativeBuild(t *testing.T) {
	cfg := testConfig(t)
	cfg.BuildNative = false
	populate(t, filepath.Join(cfg.ProjectDir, config.SourceSubdir), false)

	d := &Driver{Config: cfg, Logger: testutil.NewTestLogger(t), Runner: &commandtest.Runner{}}
	rep, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := stages(rep); got != "LocateSource GenerateBindings" {
		t.Errorf("stages = %s", got)
	}
}

func TestBindingsOnly(t *testing.T) {
	cfg := testConfig(t)
	populate(t, filepath.Join(cfg.ProjectDir, config.SourceSubdir), false)

	d := &Driver{Config: cfg, Logger: testutil.NewTestLogger(t)}
	rep, err := d.Bindings(context.Background())
	if err != nil {
		t.Fatalf("Bindings failed: %v", err)
	}
	if len(rep.Symbols) != 4 {
		t.Errorf("symbols = %+v", rep.Symbols)
	}
	if rep, err = d.Bindings(context.Background()); err != nil || rep.BindingsChanged {
		t.Errorf("second run changed=%v err=%v", rep.BindingsChanged, err)
	}
}

func TestRunPrebuiltMissingLibrary(t *testing.T) {
	cfg := testConfig(t)
	cfg.PrebuiltDir = t.TempDir()
	populate(t, filepath.Join(cfg.ProjectDir, config.SourceSubdir), false)

	d := &Driver{Config: cfg, Logger: testutil.NewTestLogger(t), Runner: &commandtest.Runner{}}
	rep, err := d.Run(context.Background())
	if !errors.Is(err, native.ErrMissingArtifact) {
		t.Fatalf("err = %v, want ErrMissingArtifact", err)
	}
	if rep.Ran(LinkArtifacts) || rep.Ran(GenerateBindings) {
		t.Errorf("stages = %s", stages(rep))
	}
}

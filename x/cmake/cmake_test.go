package cmake

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/icsneo-go/icsneo-build/internal/command"
	"github.com/icsneo-go/icsneo-build/internal/command/commandtest"
)

func TestOutputDir(t *testing.T) {
	if got := New(nil, "", "build").OutputDir(); got != "build" {
		t.Errorf("OutputDir = %q, want %q", got, "build")
	}
}

func TestDefinesArgs(t *testing.T) {
	c := New(nil, "", "")
	c.Define("FOO", "BAR")
	c.DefineBool("ENABLE", true)
	c.DefineBool("DISABLE", false)

	args := c.definesArgs()
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"-DDISABLE:BOOL=OFF",
		"-DENABLE:BOOL=ON",
		"-DFOO:STRING=BAR",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("definesArgs missing %q, got %q", want, joined)
		}
	}

	// Verify sorted order
	if args[0] != "-DDISABLE:BOOL=OFF" || args[1] != "-DENABLE:BOOL=ON" || args[2] != "-DFOO:STRING=BAR" {
		t.Errorf("definesArgs not sorted: %v", args)
	}
}

func TestDefinesArgsEmpty(t *testing.T) {
	c := New(nil, "", "")
	if args := c.definesArgs(); args != nil {
		t.Errorf("definesArgs on empty = %v, want nil", args)
	}
}

func TestConfigureCmd(t *testing.T) {
	c := New(nil, "/src", "/out/build")
	c.Generator(Ninja)
	c.BuildType("Release")
	c.DefineBool("LIBICSNEO_BUILD_ICSNEOC_STATIC", true)

	got := c.ConfigureCmd("--log-level=WARNING").String()
	want := "cmake -S /src -B /out/build -G Ninja -DCMAKE_BUILD_TYPE:STRING=Release -DLIBICSNEO_BUILD_ICSNEOC_STATIC:BOOL=ON --log-level=WARNING"
	if got != want {
		t.Errorf("ConfigureCmd =\n%s\nwant\n%s", got, want)
	}
}

func TestBuildCmd(t *testing.T) {
	c := New(nil, "/src", "/out/build")
	c.BuildType("RelWithDebInfo")

	tests := []struct {
		target   string
		parallel int
		native   []string
		want     string
	}{
		{"all", 0, nil, "cmake --build /out/build --config RelWithDebInfo --target all"},
		{"ALL_BUILD", 4, []string{"/m"}, "cmake --build /out/build --config RelWithDebInfo --target ALL_BUILD --parallel 4 -- /m"},
		{"", 0, nil, "cmake --build /out/build --config RelWithDebInfo"},
	}
	for _, tt := range tests {
		if got := c.BuildCmd(tt.target, tt.parallel, tt.native...).String(); got != tt.want {
			t.Errorf("BuildCmd(%q, %d, %v) = %q, want %q", tt.target, tt.parallel, tt.native, got, tt.want)
		}
	}
}

func TestConfigureAndBuildRun(t *testing.T) {
	r := &commandtest.Runner{
		Script: func(n int, c command.Cmd) *command.Result {
			if n == 1 {
				return commandtest.Fail(2, "", "ninja: build stopped: subcommand failed.")
			}
			return nil
		},
	}
	buildDir := filepath.Join(t.TempDir(), "build")
	c := New(r, "/src", buildDir)

	step := c.Configure(context.Background())
	if err := step.Check(); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if fi, err := os.Stat(buildDir); err != nil || !fi.IsDir() {
		t.Errorf("build dir not created: %v", err)
	}

	step = c.Build(context.Background(), "all", 0)
	err := step.Check()
	if err == nil {
		t.Fatal("Build should fail")
	}
	if !strings.Contains(err.Error(), "subcommand failed") || !strings.HasPrefix(err.Error(), "cmake --build") {
		t.Errorf("Build error = %v", err)
	}
	if step.ExitCode != 2 {
		t.Errorf("ExitCode = %d", step.ExitCode)
	}
}

func TestAggregateTarget(t *testing.T) {
	tests := []struct {
		generator, goos, want string
		multi                 bool
	}{
		{"", "windows", "ALL_BUILD", true},
		{"", "linux", "all", false},
		{"", "darwin", "all", false},
		{Ninja, "windows", "all", false},
		{"Visual Studio 17 2022", "windows", "ALL_BUILD", true},
		{"Xcode", "darwin", "ALL_BUILD", true},
		{"Ninja Multi-Config", "linux", "all", true},
	}
	for _, tt := range tests {
		if got := AggregateTarget(tt.generator, tt.goos); got != tt.want {
			t.Errorf("AggregateTarget(%q, %q) = %q, want %q", tt.generator, tt.goos, got, tt.want)
		}
		if got := IsMultiConfig(tt.generator, tt.goos); got != tt.multi {
			t.Errorf("IsMultiConfig(%q, %q) = %v, want %v", tt.generator, tt.goos, got, tt.multi)
		}
	}
}

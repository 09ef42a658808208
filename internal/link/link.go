// Copyright 2024 The icsneo-build Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package link turns a native build's artifacts into cgo linker flags.
package link

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/icsneo-go/icsneo-build/internal/config"
	"github.com/icsneo-go/icsneo-build/internal/env"
	"github.com/icsneo-go/icsneo-build/internal/native"
)

// ErrUnsupportedPlatform is returned for a target with no library mapping.
var ErrUnsupportedPlatform = errors.New("unsupported target platform")

// Kind classifies a Directive.
type Kind int

const (
	SearchPath Kind = iota
	StaticArchive
	DynamicLibrary
	RuntimePath
	Framework
	SystemLibrary
)

// Directive is one linker instruction.
type Directive struct {
	Kind Kind
	// Value is a directory for SearchPath and RuntimePath, a file path for
	// StaticArchive when the archive is linked by path, and a name otherwise.
	Value string
}

// String renders d as a build metadata line.
func (d Directive) String() string {
	switch d.Kind {
	case SearchPath:
		return "link-search=native=" + d.Value
	case StaticArchive:
		return "link-lib=static=" + d.Value
	case DynamicLibrary:
		return "link-lib=dylib=" + d.Value
	case RuntimePath:
		return "link-arg=-Wl,-rpath," + d.Value
	case Framework:
		return "link-lib=framework=" + d.Value
	default:
		return "link-lib=" + d.Value
	}
}

// Flags renders d as linker arguments.
func (d Directive) Flags() []string {
	switch d.Kind {
	case SearchPath:
		return []string{"-L" + d.Value}
	case StaticArchive:
		if filepath.IsAbs(d.Value) {
			return []string{d.Value}
		}
		return []string{"-l" + d.Value}
	case RuntimePath:
		return []string{"-Wl,-rpath," + d.Value}
	case Framework:
		return []string{"-framework", d.Value}
	default:
		return []string{"-l" + d.Value}
	}
}

var supported = map[string]bool{
	"windows": true,
	"linux":   true,
	"darwin":  true,
}

// Linker computes and emits link directives.
type Linker struct {
	Logger *slog.Logger

	// Package is the package clause of the emitted file.
	Package string
}

// Directives returns the directives needed to link set in mode for
// targetOS. An unsupported targetOS yields no directives and an error.
func (l *Linker) Directives(set *native.ArtifactSet, mode config.LinkMode, targetOS string) ([]Directive, error) {
	if !supported[targetOS] {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedPlatform, targetOS)
	}

	ds := []Directive{{Kind: SearchPath, Value: set.Dir}}
	switch mode {
	case config.Static:
		ds = append(ds, archive(set.Dir, set.Primary, targetOS))
		for _, lib := range []native.Library{set.Companion, set.Aux} {
			if lib.Present {
				ds = append(ds, archive(set.Dir, lib, targetOS))
			}
		}
		if targetOS == "darwin" {
			ds = append(ds, Directive{Kind: SystemLibrary, Value: "c++"})
		} else {
			ds = append(ds, Directive{Kind: SystemLibrary, Value: "stdc++"})
		}
		if targetOS == "linux" {
			ds = append(ds, Directive{Kind: SystemLibrary, Value: "pthread"})
		}
	case config.Dynamic:
		ds = append(ds, Directive{Kind: DynamicLibrary, Value: native.PrimaryDynamic})
		if targetOS != "windows" {
			ds = append(ds, Directive{Kind: RuntimePath, Value: set.Dir})
		}
	default:
		return nil, fmt.Errorf("%w: link mode %q", config.ErrInvalid, mode)
	}

	if targetOS == "darwin" {
		ds = append(ds,
			Directive{Kind: Framework, Value: "IOKit"},
			Directive{Kind: Framework, Value: "CoreFoundation"},
		)
	}
	return ds, nil
}

// archive links unix archives by path so the linker cannot pick a shared
// library of the same name. The windows linker finds .lib files by name.
func archive(dir string, lib native.Library, goos string) Directive {
	if goos == "windows" {
		return Directive{Kind: StaticArchive, Value: lib.Name}
	}
	return Directive{Kind: StaticArchive, Value: lib.Path(dir)}
}

// FileName returns the name of the generated link file for goos.
func FileName(goos string) string {
	return "zz_icsneo_link_" + goos + ".go"
}

// Emit computes the directives, logs each one and writes them into
// FileName(targetOS) under dir. It returns the written path.
func (l *Linker) Emit(dir string, set *native.ArtifactSet, mode config.LinkMode, targetOS string) (string, []Directive, error) {
	ds, err := l.Directives(set, mode, targetOS)
	if err != nil {
		return "", nil, err
	}
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, d := range ds {
		logger.Info("link directive", "directive", d.String())
	}

	path := filepath.Join(dir, FileName(targetOS))
	wrote, err := env.WriteFileIfChanged(path, l.Render(ds, targetOS))
	if err != nil {
		return "", nil, fmt.Errorf("write link directives: %w", err)
	}
	logger.Debug("link file", "path", path, "changed", wrote)
	return path, ds, nil
}

// Render returns the Go source of the link file.
func (l *Linker) Render(ds []Directive, goos string) []byte {
	var flags []string
	for _, d := range ds {
		for _, f := range d.Flags() {
			flags = append(flags, quote(f))
		}
	}
	pkg := l.Package
	if pkg == "" {
		pkg = config.DefaultPackage
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "// Code generated by icsneo-build. DO NOT EDIT.\n\n")
	fmt.Fprintf(&b, "//go:build %s\n\n", goos)
	fmt.Fprintf(&b, "package %s\n\n", pkg)
	fmt.Fprintf(&b, "// #cgo %s LDFLAGS: %s\n", goos, strings.Join(flags, " "))
	fmt.Fprintf(&b, "import \"C\"\n")
	return b.Bytes()
}

// quote protects arguments with blanks the way cgo splits #cgo lines.
func quote(s string) string {
	if !strings.ContainsAny(s, " \t'") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

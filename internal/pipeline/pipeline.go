// Copyright 2024 The icsneo-build Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pipeline runs the libicsneo preparation stages in order: locate
// the source tree, acquire it, build it, emit link directives and generate
// the cgo bindings.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/icsneo-go/icsneo-build/internal/bindgen"
	"github.com/icsneo-go/icsneo-build/internal/command"
	"github.com/icsneo-go/icsneo-build/internal/config"
	"github.com/icsneo-go/icsneo-build/internal/link"
	"github.com/icsneo-go/icsneo-build/internal/native"
	"github.com/icsneo-go/icsneo-build/internal/source"
	"github.com/icsneo-go/icsneo-build/internal/vcs"
)

// Stage names one step of a run.
type Stage string

const (
	LocateSource     Stage = "LocateSource"
	AcquireSource    Stage = "AcquireSource"
	BuildNative      Stage = "BuildNative"
	LinkArtifacts    Stage = "LinkArtifacts"
	GenerateBindings Stage = "GenerateBindings"
)

// Report describes what a run did.
type Report struct {
	Stages []Stage
	Source source.Location

	// Artifacts and Directives are nil when no library was linked.
	Artifacts  *native.ArtifactSet
	Directives []link.Directive
	LinkFile   string

	Bindings        string
	BindingsChanged bool
	Symbols         []bindgen.Symbol
	Skipped         []bindgen.Skip
}

// Ran reports whether s was executed.
func (r *Report) Ran(s Stage) bool {
	for _, x := range r.Stages {
		if x == s {
			return true
		}
	}
	return false
}

// Driver runs the pipeline for one resolved configuration.
type Driver struct {
	Config *config.Config
	Logger *slog.Logger

	// Runner executes git and cmake. Nil means the os/exec runner.
	Runner command.Runner

	// VCS defaults to git through Runner.
	VCS vcs.VCS

	// Stream, when set, receives live cmake output.
	Stream io.Writer

	// Observer, when set, is called as each stage starts.
	Observer func(Stage)

	// RetryDelay is the pause between clone attempts.
	RetryDelay time.Duration
}

func (d *Driver) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

func (d *Driver) runner() command.Runner {
	if d.Runner == nil {
		d.Runner = command.NewRunner()
	}
	return d.Runner
}

func (d *Driver) enter(r *Report, s Stage) {
	r.Stages = append(r.Stages, s)
	d.logger().Debug("stage", "name", s)
	if d.Observer != nil {
		d.Observer(s)
	}
}

// Run executes every stage the configuration asks for. The first failing
// stage aborts the run.
func (d *Driver) Run(ctx context.Context) (*Report, error) {
	cfg := d.Config
	log := d.logger()
	r := &Report{}

	d.enter(r, LocateSource)
	r.Source = source.Locate(cfg.SourcePath, cfg.ProjectDir)
	log.Info("libicsneo source", "path", r.Source.Path, "override", r.Source.Override)

	switch {
	case cfg.DocsOnly:
		log.Info("docs-only build, skipping the native library")
	case cfg.PrebuiltDir != "":
		log.Info("using prebuilt libicsneo", "dir", cfg.PrebuiltDir)
		set, err := native.Inspect(log, cfg.PrebuiltDir, cfg.LinkMode, cfg.TargetOS)
		if err != nil {
			return r, err
		}
		if err := d.link(r, set); err != nil {
			return r, err
		}
	case !cfg.BuildNative:
		log.Info("native build disabled, skipping the native library")
	default:
		if !r.Source.Override {
			if err := d.acquire(ctx, r); err != nil {
				return r, err
			}
		}
		d.enter(r, BuildNative)
		nd := &native.Driver{
			Runner: d.runner(),
			Logger: log,
			OutDir: cfg.BuildDir,
			Stream: d.Stream,
		}
		set, err := nd.Build(ctx, r.Source.Path, cfg.Build())
		if err != nil {
			return r, err
		}
		if err := d.link(r, set); err != nil {
			return r, err
		}
	}

	if err := d.generate(r); err != nil {
		return r, err
	}
	return r, nil
}

// Bindings locates the source tree and regenerates the bindings only.
func (d *Driver) Bindings(ctx context.Context) (*Report, error) {
	r := &Report{}
	d.enter(r, LocateSource)
	r.Source = source.Locate(d.Config.SourcePath, d.Config.ProjectDir)
	return r, d.generate(r)
}

// Generate renders the bindings for the tree at loc without writing them.
func (d *Driver) Generate(loc source.Location) (*bindgen.Output, error) {
	cfg := d.Config
	g := &bindgen.Generator{
		Logger:    d.logger(),
		Package:   cfg.Package,
		AllowList: cfg.AllowList,
		TargetOS:  cfg.TargetOS,
	}
	header := filepath.Join(loc.Path, filepath.FromSlash(cfg.Header))
	return g.Generate(header, []string{filepath.Join(loc.Path, "include")})
}

func (d *Driver) acquire(ctx context.Context, r *Report) error {
	d.enter(r, AcquireSource)
	v := d.VCS
	if v == nil {
		v = vcs.NewGitVCS(vcs.WithRunner(d.runner()))
	}
	a := &source.Acquirer{
		VCS:        v,
		Logger:     d.logger(),
		Upstream:   d.Config.Upstream,
		Ref:        d.Config.Ref,
		Attempts:   d.Config.CloneAttempts,
		RetryDelay: d.RetryDelay,
	}
	return a.Acquire(ctx, r.Source)
}

func (d *Driver) link(r *Report, set *native.ArtifactSet) error {
	d.enter(r, LinkArtifacts)
	l := &link.Linker{Logger: d.logger(), Package: d.Config.Package}
	path, ds, err := l.Emit(d.Config.OutDir, set, d.Config.LinkMode, d.Config.TargetOS)
	if err != nil {
		return err
	}
	r.Artifacts, r.Directives, r.LinkFile = set, ds, path
	return nil
}

func (d *Driver) generate(r *Report) error {
	d.enter(r, GenerateBindings)
	out, err := d.Generate(r.Source)
	if err != nil {
		return err
	}
	path, changed, err := out.Write(d.Config.OutDir)
	if err != nil {
		return err
	}
	r.Bindings, r.BindingsChanged = path, changed
	r.Symbols, r.Skipped = out.Symbols, out.Skipped
	d.logger().Info("bindings written", "path", path, "changed", changed,
		"symbols", len(out.Symbols), "skipped", len(out.Skipped))
	return nil
}

// String summarizes the report on one line.
func (r *Report) String() string {
	s := fmt.Sprintf("%d stage(s), %d symbol(s), %d skipped", len(r.Stages), len(r.Symbols), len(r.Skipped))
	if r.Artifacts != nil {
		s += ", libraries in " + r.Artifacts.Dir
	}
	return s
}

// Copyright 2024 The icsneo-build Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vcs

import (
	"context"
	"strings"

	"github.com/icsneo-go/icsneo-build/internal/command"
)

// VCS defines the version control operations the source acquirer needs.
// Every method returns the captured command result so that callers can
// surface the tool's output when it fails.
type VCS interface {
	// SubmoduleUpdate initializes the nested checkouts of the repository
	// that contains dir. dir is used as the working directory.
	SubmoduleUpdate(ctx context.Context, dir string) *command.Result

	// Clone clones remote into dir, including its own submodules.
	// An empty ref clones the remote's default branch.
	Clone(ctx context.Context, remote, ref, dir string) *command.Result

	// Head returns the commit checked out in dir.
	Head(ctx context.Context, dir string) (string, error)
}

// gitVCS implements VCS using git.
type gitVCS struct {
	git    string
	runner command.Runner
}

// GitOption configures gitVCS.
type GitOption func(*gitVCS)

// WithGitPath sets a custom git executable path.
func WithGitPath(path string) GitOption {
	return func(g *gitVCS) {
		g.git = path
	}
}

// WithRunner sets the runner used to execute git.
func WithRunner(r command.Runner) GitOption {
	return func(g *gitVCS) {
		g.runner = r
	}
}

// NewGitVCS creates a new git VCS instance.
func NewGitVCS(opts ...GitOption) VCS {
	g := &gitVCS{git: "git", runner: command.NewRunner()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *gitVCS) SubmoduleUpdate(ctx context.Context, dir string) *command.Result {
	return g.run(ctx, dir, "submodule", "update", "--init", "--recursive")
}

func (g *gitVCS) Clone(ctx context.Context, remote, ref, dir string) *command.Result {
	args := []string{"clone", "--recursive"}
	if ref != "" {
		args = append(args, "--branch", ref)
	}
	args = append(args, remote, dir)
	return g.run(ctx, "", args...)
}

func (g *gitVCS) Head(ctx context.Context, dir string) (string, error) {
	c := g.cmd(dir, "rev-parse", "HEAD")
	res := g.runner.Run(ctx, c)
	if err := res.Failure(c); err != nil {
		return "", err
	}
	return strings.TrimSpace(string(res.Stdout)), nil
}

func (g *gitVCS) run(ctx context.Context, dir string, args ...string) *command.Result {
	return g.runner.Run(ctx, g.cmd(dir, args...))
}

func (g *gitVCS) cmd(dir string, args ...string) command.Cmd {
	return command.Cmd{Name: g.git, Args: args, Dir: dir}
}

// Package commandtest provides a scripted command.Runner for tests.
package commandtest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/icsneo-go/icsneo-build/internal/command"
)

// Runner records every invocation and answers from Script.
type Runner struct {
	mu    sync.Mutex
	calls []command.Cmd

	// Script returns the result for a call. A nil Script, or a nil return,
	// means success with no output.
	Script func(n int, c command.Cmd) *command.Result

	// Paths maps executable names to LookPath results. Missing names are
	// reported as not found.
	Paths map[string]string
}

func (r *Runner) Run(ctx context.Context, c command.Cmd) *command.Result {
	r.mu.Lock()
	n := len(r.calls)
	r.calls = append(r.calls, c)
	r.mu.Unlock()

	if r.Script != nil {
		if res := r.Script(n, c); res != nil {
			return res
		}
	}
	return &command.Result{}
}

func (r *Runner) LookPath(file string) (string, error) {
	if p, ok := r.Paths[file]; ok {
		return p, nil
	}
	return "", errors.New("executable file not found in $PATH")
}

// Calls returns the recorded invocations in order.
func (r *Runner) Calls() []command.Cmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]command.Cmd(nil), r.calls...)
}

// Lines renders the recorded invocations as "name arg..." strings.
func (r *Runner) Lines() []string {
	var out []string
	for _, c := range r.Calls() {
		out = append(out, strings.TrimSpace(c.Name+" "+strings.Join(c.Args, " ")))
	}
	return out
}

// Fail is a Result with the given exit code and output.
func Fail(code int, stdout, stderr string) *command.Result {
	return &command.Result{ExitCode: code, Stdout: []byte(stdout), Stderr: []byte(stderr)}
}

// Package command runs external tools and classifies their outcome.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
)

// Cmd describes one external invocation.
type Cmd struct {
	Name string
	Args []string
	Dir  string
	Env  map[string]string

	// Stream, when set, receives a copy of stdout and stderr while the
	// command runs. Output is captured either way.
	Stream io.Writer
}

func (c Cmd) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result is the captured outcome of a Cmd.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	// Err is set when the process could not be started or did not exit
	// normally. A non-zero exit alone leaves Err nil.
	Err error
}

// Success reports whether the command started and exited with status 0.
func (r *Result) Success() bool {
	return r.Err == nil && r.ExitCode == 0
}

// Failure converts an unsuccessful result into an error. It returns nil on
// success.
func (r *Result) Failure(c Cmd) error {
	if r.Success() {
		return nil
	}
	if r.Err != nil {
		return fmt.Errorf("%s: %w", c, r.Err)
	}
	msg := strings.TrimSpace(string(r.Stderr))
	if msg == "" {
		return fmt.Errorf("%s: exit status %d", c, r.ExitCode)
	}
	if i := strings.LastIndexByte(msg, '\n'); i >= 0 {
		msg = msg[i+1:]
	}
	return fmt.Errorf("%s: exit status %d: %s", c, r.ExitCode, msg)
}

// Warn logs every captured output line as a warning, the same way a failed
// step is reported before the build aborts.
func (r *Result) Warn(logger *slog.Logger, tool string) {
	if r.Err != nil {
		logger.Warn(tool+" failed to run", "error", r.Err)
	} else {
		logger.Warn(tool+" returned non-zero status", "status", r.ExitCode)
	}
	for _, line := range lines(r.Stdout) {
		logger.Warn(tool+" stdout", "line", line)
	}
	for _, line := range lines(r.Stderr) {
		logger.Warn(tool+" stderr", "line", line)
	}
}

func lines(b []byte) []string {
	s := strings.TrimRight(string(b), "\r\n")
	if s == "" {
		return nil
	}
	return strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
}

// Runner executes commands. Implementations must not return a nil Result.
type Runner interface {
	Run(ctx context.Context, c Cmd) *Result
	LookPath(file string) (string, error)
}

type execRunner struct{}

// NewRunner returns a Runner backed by os/exec.
func NewRunner() Runner {
	return execRunner{}
}

func (execRunner) Run(ctx context.Context, c Cmd) *Result {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = mergeEnv(os.Environ(), c.Env)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if c.Stream != nil {
		cmd.Stdout = io.MultiWriter(&stdout, c.Stream)
		cmd.Stderr = io.MultiWriter(&stderr, c.Stream)
	}

	res := &Result{}
	err := cmd.Run()
	res.Stdout = stdout.Bytes()
	res.Stderr = stderr.Bytes()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr) && exitErr.Exited():
		res.ExitCode = exitErr.ExitCode()
	default:
		res.ExitCode = -1
		res.Err = err
	}
	return res
}

func (execRunner) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

func mergeEnv(base []string, override map[string]string) []string {
	envMap := make(map[string]string, len(base))
	for _, kv := range base {
		if k, v, ok := strings.Cut(kv, "="); ok {
			envMap[k] = v
		}
	}
	for k, v := range override {
		envMap[k] = v
	}
	keys := make([]string, 0, len(envMap))
	for k := range envMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+envMap[k])
	}
	return out
}

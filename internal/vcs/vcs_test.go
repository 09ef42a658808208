package vcs

import (
	"context"
	"strings"
	"testing"

	"github.com/icsneo-go/icsneo-build/internal/command"
	"github.com/icsneo-go/icsneo-build/internal/command/commandtest"
)

func TestGitVCS_SubmoduleUpdate(t *testing.T) {
	r := &commandtest.Runner{}
	v := NewGitVCS(WithRunner(r))

	res := v.SubmoduleUpdate(context.Background(), "/work/src/libicsneo")
	if !res.Success() {
		t.Fatalf("unexpected failure: %+v", res)
	}

	calls := r.Calls()
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	if calls[0].Dir != "/work/src/libicsneo" {
		t.Errorf("Dir = %q", calls[0].Dir)
	}
	if got := r.Lines()[0]; got != "git submodule update --init --recursive" {
		t.Errorf("command = %q", got)
	}
}

func TestGitVCS_Clone(t *testing.T) {
	r := &commandtest.Runner{}
	v := NewGitVCS(WithRunner(r), WithGitPath("/usr/bin/git"))
	ctx := context.Background()

	v.Clone(ctx, "https://example.com/libicsneo.git", "", "/dst")
	v.Clone(ctx, "https://example.com/libicsneo.git", "v0.3.0", "/dst")

	want := []string{
		"/usr/bin/git clone --recursive https://example.com/libicsneo.git /dst",
		"/usr/bin/git clone --recursive --branch v0.3.0 https://example.com/libicsneo.git /dst",
	}
	got := r.Lines()
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("commands =\n%s\nwant\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}
}

func TestGitVCS_Head(t *testing.T) {
	r := &commandtest.Runner{
		Script: func(n int, c command.Cmd) *command.Result {
			return &command.Result{Stdout: []byte("0123abcd\n")}
		},
	}
	v := NewGitVCS(WithRunner(r))

	head, err := v.Head(context.Background(), "/dst")
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	if head != "0123abcd" {
		t.Errorf("head = %q", head)
	}

	r.Script = func(n int, c command.Cmd) *command.Result {
		return commandtest.Fail(128, "", "fatal: not a git repository")
	}
	if _, err := v.Head(context.Background(), "/dst"); err == nil || !strings.Contains(err.Error(), "not a git repository") {
		t.Errorf("Head error = %v", err)
	}
}

// Package source locates the libicsneo tree and makes sure it is checked out.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/icsneo-go/icsneo-build/internal/command"
	"github.com/icsneo-go/icsneo-build/internal/config"
	"github.com/icsneo-go/icsneo-build/internal/vcs"
)

// ErrAcquire is returned when neither the submodule checkout nor the
// upstream clone produced a source tree.
var ErrAcquire = errors.New("failed to acquire libicsneo source")

// Location is a resolved source tree path.
type Location struct {
	Path string
	// Override is set when the path came from an explicit override. The
	// caller owns such a tree and it is never checked out or cloned.
	Override bool
}

// Locate resolves the source tree path. A non-empty override wins over the
// checkout under projectDir. The result is cleaned lexically; the filesystem
// is not consulted.
func Locate(override, projectDir string) Location {
	if override != "" {
		return Location{Path: filepath.Clean(override), Override: true}
	}
	return Location{Path: filepath.Clean(filepath.Join(projectDir, config.SourceSubdir))}
}

// Acquirer checks out the nested libicsneo repository, falling back to a
// direct clone of the upstream remote.
type Acquirer struct {
	VCS      vcs.VCS
	Logger   *slog.Logger
	Upstream string
	Ref      string

	// Attempts bounds the number of clone attempts. Values below 1 mean 1.
	Attempts int

	// RetryDelay is the pause between clone attempts.
	RetryDelay time.Duration

	removeAll func(string) error
}

// Acquire makes sure loc holds a complete source tree.
func (a *Acquirer) Acquire(ctx context.Context, loc Location) error {
	logger := a.logger()

	res := a.VCS.SubmoduleUpdate(ctx, loc.Path)
	if res.Success() {
		logger.Debug("submodules initialized", "path", loc.Path)
		return nil
	}
	res.Warn(logger, "git submodule")
	logger.Warn("falling back to cloning upstream", "remote", a.Upstream, "path", loc.Path)

	if err := a.clone(ctx, loc.Path); err != nil {
		return err
	}
	// The upstream default branch (or Ref) is not necessarily the revision
	// the parent repository pins for the submodule.
	logger.Warn("libicsneo was cloned from upstream and may differ from the pinned submodule revision",
		"remote", a.Upstream, "ref", a.Ref)
	head, err := a.VCS.Head(ctx, loc.Path)
	if err != nil {
		logger.Warn("cannot read the cloned commit", "path", loc.Path, "error", err)
		return nil
	}
	logger.Info("cloned libicsneo", "path", loc.Path, "commit", head)
	return nil
}

func (a *Acquirer) clone(ctx context.Context, dir string) error {
	attempts := a.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := a.RetryDelay
	if delay <= 0 {
		delay = time.Millisecond
	}
	logger := a.logger()
	// A populated directory is never removed; an empty submodule
	// placeholder is fair game.
	keep := nonEmpty(dir)

	var lastErr error
	n := 0
	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewConstant(delay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		n++
		if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
			return err
		}
		res := a.VCS.Clone(ctx, a.Upstream, a.Ref, dir)
		if res.Success() {
			return nil
		}
		res.Warn(logger, "git clone")
		lastErr = res.Failure(command.Cmd{Name: "git", Args: []string{"clone", a.Upstream, dir}})
		logger.Warn("clone attempt failed", "attempt", n, "of", attempts)
		if !keep {
			remove := a.removeAll
			if remove == nil {
				remove = os.RemoveAll
			}
			if err := remove(dir); err != nil {
				logger.Warn("cannot remove the failed clone", "path", dir, "error", err)
			}
		}
		return retry.RetryableError(lastErr)
	})
	if err == nil {
		return nil
	}
	if lastErr == nil {
		lastErr = err
	}
	return fmt.Errorf("%w into %s after %d attempt(s): %v", ErrAcquire, dir, n, lastErr)
}

func (a *Acquirer) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

func nonEmpty(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) > 0
}

package env

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
)

// WorkDir returns the per-user directory used for outputs when no output
// directory is configured. The directory is created with 0700 permissions.
func WorkDir() (string, error) {
	userCacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(userCacheDir, ".icsneo-build")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

// ProjectRoot walks up from start to the first directory holding a go.mod.
func ProjectRoot(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("could not find go.mod in " + start + " or any parent directory")
		}
		dir = parent
	}
}

// WriteFileIfChanged writes data to path unless the file already holds
// exactly data, so that unchanged generated files keep their mtime.
// It reports whether the file was written.
func WriteFileIfChanged(path string, data []byte) (bool, error) {
	if old, err := os.ReadFile(path); err == nil && bytes.Equal(old, data) {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, err
	}
	return true, nil
}

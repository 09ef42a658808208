package native

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/icsneo-go/icsneo-build/internal/config"
)

// Library names produced by the libicsneo build.
const (
	PrimaryStatic  = "icsneoc-static"
	PrimaryDynamic = "icsneoc"
	Aux            = "fatfs"
	Companion      = "icsneocpp"
)

// Library is one produced artifact.
type Library struct {
	// Name is the link name, without prefix or extension.
	Name string
	// File is the platform file name inside the artifact directory.
	File string
	// Present reports whether File existed when the set was inspected.
	Present bool
}

// Path returns the artifact path inside dir.
func (l Library) Path(dir string) string {
	return filepath.Join(dir, l.File)
}

// ArtifactSet is the output of one native build.
type ArtifactSet struct {
	Dir      string
	Mode     config.LinkMode
	TargetOS string

	Primary   Library
	Aux       Library
	Companion Library
}

// LibraryFile returns the file name goos uses for a library of the given mode.
// Dynamic libraries on windows are linked through their import library.
func LibraryFile(name string, mode config.LinkMode, goos string) string {
	switch {
	case goos == "windows":
		return name + ".lib"
	case mode == config.Dynamic && goos == "darwin":
		return "lib" + name + ".dylib"
	case mode == config.Dynamic:
		return "lib" + name + ".so"
	default:
		return "lib" + name + ".a"
	}
}

// Inspect describes the artifacts expected in dir. The primary library must
// exist; missing auxiliary and companion libraries are logged.
func Inspect(logger *slog.Logger, dir string, mode config.LinkMode, goos string) (*ArtifactSet, error) {
	set := &ArtifactSet{Dir: dir, Mode: mode, TargetOS: goos}
	if mode == config.Dynamic {
		set.Primary = library(dir, PrimaryDynamic, mode, goos)
	} else {
		set.Primary = library(dir, PrimaryStatic, mode, goos)
	}
	// The support libraries are always static archives.
	set.Aux = library(dir, Aux, config.Static, goos)
	set.Companion = library(dir, Companion, config.Static, goos)

	if !set.Primary.Present {
		return nil, fmt.Errorf("%w: primary library %s in %s", ErrMissingArtifact, set.Primary.File, dir)
	}
	for _, lib := range []Library{set.Aux, set.Companion} {
		if !lib.Present {
			logger.Warn("library not found", "file", lib.File, "dir", dir)
		}
	}
	return set, nil
}

func library(dir, name string, mode config.LinkMode, goos string) Library {
	lib := Library{Name: name, File: LibraryFile(name, mode, goos)}
	if fi, err := os.Stat(lib.Path(dir)); err == nil && !fi.IsDir() {
		lib.Present = true
	}
	return lib
}

// Package bindgen generates the cgo binding file for the libicsneo C API.
//
// The public header is read with package cheader. Only declarations whose
// names match the allow-list are emitted: enums become defined integer types
// with named constants, struct and scalar typedefs become defined types over
// their cgo counterparts, functions become Go wrappers and constants become
// Go constants. The output is deterministic for a given header and
// configuration.
package bindgen

import (
	"fmt"
	"go/format"
	"log/slog"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/icsneo-go/icsneo-build/internal/cheader"
	"github.com/icsneo-go/icsneo-build/internal/config"
	"github.com/icsneo-go/icsneo-build/internal/env"
)

// FileName is the generated binding file.
const FileName = "zz_icsneo_bindings.go"

// SymbolKind classifies an emitted symbol.
type SymbolKind string

const (
	KindType  SymbolKind = "type"
	KindEnum  SymbolKind = "enum"
	KindFunc  SymbolKind = "func"
	KindConst SymbolKind = "const"
)

// Symbol is one emitted declaration.
type Symbol struct {
	Kind   SymbolKind
	CName  string
	GoName string
	CType  string
}

// Skip is an allow-listed declaration that could not be bound.
type Skip struct {
	Name   string
	Reason string
}

// Output is a generated binding file.
type Output struct {
	Source  []byte
	Symbols []Symbol
	Skipped []Skip
}

// Write stores the bindings in dir. The file is left untouched when its
// content is already up to date.
func (o *Output) Write(dir string) (path string, changed bool, err error) {
	path = filepath.Join(dir, FileName)
	changed, err = env.WriteFileIfChanged(path, o.Source)
	if err != nil {
		return "", false, fmt.Errorf("write bindings: %w", err)
	}
	return path, changed, nil
}

// Generator produces bindings for one target.
type Generator struct {
	Logger    *slog.Logger
	Package   string
	AllowList config.AllowList
	TargetOS  string
}

func (g *Generator) logger() *slog.Logger {
	if g.Logger == nil {
		return slog.Default()
	}
	return g.Logger
}

// Generate parses header with includeDirs on the search path and renders
// the binding file. Header diagnostics are returned unchanged and match
// cheader.ErrParse.
func (g *Generator) Generate(header string, includeDirs []string) (*Output, error) {
	allow, err := compileAllowList(g.AllowList)
	if err != nil {
		return nil, err
	}
	h, err := cheader.Parse(header, cheader.Options{IncludeDirs: includeDirs, TargetOS: g.TargetOS})
	if err != nil {
		return nil, err
	}
	log := g.logger()
	for _, inc := range h.Skipped {
		log.Debug("system header not on the include path, skipped", "include", inc)
	}

	st := &gen{
		h:     h,
		allow: allow,
		goos:  g.TargetOS,
		types: make(map[string]string),
		tags:  make(map[string]string),
		names: make(map[string]bool),
		done:  make(map[string]bool),
		out:   &Output{},
	}
	st.plan()
	st.emit()

	pkg := g.Package
	if pkg == "" {
		pkg = config.DefaultPackage
	}
	var src strings.Builder
	src.WriteString("// Code generated by icsneo-build. DO NOT EDIT.\n\n")
	fmt.Fprintf(&src, "package %s\n\n", pkg)
	src.WriteString("/*\n")
	for _, dir := range includeDirs {
		fmt.Fprintf(&src, "#cgo CFLAGS: %s\n", cgoQuote("-I"+slashAbs(dir)))
	}
	fmt.Fprintf(&src, "#include %q\n", includeName(header, includeDirs))
	src.WriteString("*/\nimport \"C\"\n\n")

	body := st.b.String()
	var imports []string
	if strings.Contains(body, "fmt.") {
		imports = append(imports, `"fmt"`)
	}
	if strings.Contains(body, "unsafe.") {
		imports = append(imports, `"unsafe"`)
	}
	if len(imports) > 0 {
		fmt.Fprintf(&src, "import (\n%s\n)\n\n", strings.Join(imports, "\n"))
	}
	src.WriteString(body)

	formatted, err := format.Source([]byte(src.String()))
	if err != nil {
		return nil, fmt.Errorf("format generated bindings: %w", err)
	}
	st.out.Source = formatted

	for _, s := range st.out.Skipped {
		log.Warn("binding skipped", "symbol", s.Name, "reason", s.Reason)
	}
	log.Debug("bindings generated", "symbols", len(st.out.Symbols), "skipped", len(st.out.Skipped))
	return st.out, nil
}

type allowList struct {
	functions, types, vars []*regexp.Regexp
}

// compileAllowList anchors every pattern so it must match a whole name.
func compileAllowList(a config.AllowList) (*allowList, error) {
	compile := func(patterns []string) ([]*regexp.Regexp, error) {
		var res []*regexp.Regexp
		for _, p := range patterns {
			re, err := regexp.Compile("^(?:" + p + ")$")
			if err != nil {
				return nil, fmt.Errorf("%w: allow-list pattern %q: %v", config.ErrInvalid, p, err)
			}
			res = append(res, re)
		}
		return res, nil
	}
	var (
		l   allowList
		err error
	)
	if l.functions, err = compile(a.Functions); err != nil {
		return nil, err
	}
	if l.types, err = compile(a.Types); err != nil {
		return nil, err
	}
	if l.vars, err = compile(a.Vars); err != nil {
		return nil, err
	}
	return &l, nil
}

func matches(res []*regexp.Regexp, name string) bool {
	for _, re := range res {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

func slashAbs(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return filepath.ToSlash(path)
}

// includeName spells header relative to the first include directory that
// holds it.
func includeName(header string, includeDirs []string) string {
	abs := slashAbs(header)
	for _, dir := range includeDirs {
		rel, err := filepath.Rel(slashAbs(dir), abs)
		if err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(rel)
		}
	}
	return abs
}

func cgoQuote(s string) string {
	if strings.ContainsAny(s, " \t'\"") {
		return strconv.Quote(s)
	}
	return s
}

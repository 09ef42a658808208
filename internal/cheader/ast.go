// Package cheader reads C header files into a declaration list.
//
// It implements the subset of C needed for library API headers: a
// preprocessor with include, macro and conditional support, and a
// declaration parser for typedefs, records, enums, constants and function
// prototypes. Function bodies and initializers other than integer
// constants are skipped.
package cheader

import (
	"errors"
	"fmt"
	"strings"
)

// ErrParse matches every *Error with errors.Is.
var ErrParse = errors.New("header parse error")

// Pos is a source position.
type Pos struct {
	File string
	Line int
	Col  int
}

func (p Pos) String() string {
	if p.Col > 0 {
		return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Col)
	}
	return fmt.Sprintf("%s:%d", p.File, p.Line)
}

// Error is a diagnostic with the position it refers to.
type Error struct {
	Pos Pos
	Msg string
}

func (e *Error) Error() string { return e.Pos.String() + ": " + e.Msg }

func (e *Error) Is(target error) bool { return target == ErrParse }

func errorf(pos Pos, format string, args ...any) error {
	return &Error{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// TypeKind classifies a Type.
type TypeKind int

const (
	Builtin TypeKind = iota
	Named
	Pointer
	Array
	Struct
	Union
	EnumType
	Func
)

// Type is a C type.
type Type struct {
	Kind TypeKind

	// Name is the canonical spelling of a Builtin ("unsigned int",
	// "uint8_t") or the typedef name of a Named type.
	Name string

	// Tag is the struct, union or enum tag. Empty for anonymous ones.
	Tag string

	Const bool

	// Elem is the pointee or element type.
	Elem *Type

	// Len is the array length, -1 when unknown or not constant.
	Len int64

	// Record is set for Struct and Union when the definition is known.
	Record *Record

	// Enum is set for EnumType when the definition is known.
	Enum *Enum

	// Sig is set for Func.
	Sig *Signature
}

// Signature is a function type.
type Signature struct {
	Result   *Type
	Params   []Param
	Variadic bool
}

// Param is one function parameter. Name may be empty.
type Param struct {
	Name string
	Type *Type
}

// String renders t in C-like notation.
func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}
	var s string
	switch t.Kind {
	case Builtin, Named:
		s = t.Name
	case Pointer:
		s = t.Elem.String() + "*"
	case Array:
		if t.Len >= 0 {
			s = fmt.Sprintf("%s[%d]", t.Elem, t.Len)
		} else {
			s = t.Elem.String() + "[]"
		}
	case Struct, Union, EnumType:
		kw := map[TypeKind]string{Struct: "struct", Union: "union", EnumType: "enum"}[t.Kind]
		s = strings.TrimSpace(kw + " " + t.Tag)
	case Func:
		var ps []string
		for _, p := range t.Sig.Params {
			ps = append(ps, p.Type.String())
		}
		if t.Sig.Variadic {
			ps = append(ps, "...")
		}
		s = fmt.Sprintf("%s(%s)", t.Sig.Result, strings.Join(ps, ", "))
	}
	if t.Const {
		if t.Kind == Pointer {
			return s + " const"
		}
		s = "const " + s
	}
	return s
}

// Decl is a top-level declaration.
type Decl interface {
	DeclName() string
	Position() Pos
}

// Typedef is "typedef <Type> <Name>".
type Typedef struct {
	Name string
	Type *Type
	Pos  Pos
}

// Field is a struct or union member. Name is empty for anonymous members
// and unnamed bit-fields.
type Field struct {
	Name     string
	Type     *Type
	BitField bool
	Bits     int64
}

// Record is a struct or union definition.
type Record struct {
	Tag    string
	Union  bool
	Fields []Field
	Pos    Pos
}

// EnumValue is one enumerator.
type EnumValue struct {
	Name  string
	Value int64
}

// Enum is an enum definition.
type Enum struct {
	Tag    string
	Values []EnumValue
	Pos    Pos
}

// Function is a function prototype.
type Function struct {
	Name string
	Sig  *Signature
	Pos  Pos
}

// Const is a named integer constant from a "static const" declaration or
// an object-like macro. Type is nil for macros.
type Const struct {
	Name  string
	Type  *Type
	Value int64
	Pos   Pos
}

func (d *Typedef) DeclName() string  { return d.Name }
func (d *Record) DeclName() string   { return d.Tag }
func (d *Enum) DeclName() string     { return d.Tag }
func (d *Function) DeclName() string { return d.Name }
func (d *Const) DeclName() string    { return d.Name }

func (d *Typedef) Position() Pos  { return d.Pos }
func (d *Record) Position() Pos   { return d.Pos }
func (d *Enum) Position() Pos     { return d.Pos }
func (d *Function) Position() Pos { return d.Pos }
func (d *Const) Position() Pos    { return d.Pos }

// Header is a parsed translation unit.
type Header struct {
	// Decls lists declarations in source order, followed by macro constants.
	Decls []Decl

	Typedefs map[string]*Typedef
	Records  map[string]*Record
	Enums    map[string]*Enum

	// Files lists every file read, the entry header first.
	Files []string

	// Skipped lists angled includes that were not found and skipped.
	Skipped []string

	// values holds enumerators and constants for constant expressions.
	values map[string]int64
	goos   string
}

// Resolve follows typedefs until t is not a Named type with a known
// definition. Qualifiers of the outermost type are kept.
func (h *Header) Resolve(t *Type) *Type {
	for i := 0; t != nil && t.Kind == Named && i < 64; i++ {
		td, ok := h.Typedefs[t.Name]
		if !ok {
			return t
		}
		next := *td.Type
		next.Const = next.Const || t.Const
		t = &next
	}
	return t
}

package bindgen

import (
	"fmt"
	"go/token"
	"math"
	"unicode"
	"unicode/utf8"

	"github.com/icsneo-go/icsneo-build/internal/cheader"
)

// conv describes how one C value crosses the cgo boundary.
type conv struct {
	goType string
	cType  string
	ptr    bool // converted through unsafe.Pointer
}

// toC returns the expression converting the Go value x for C.
func (c conv) toC(x string) string {
	switch {
	case c.goType == c.cType:
		return x
	case c.ptr && c.goType == "unsafe.Pointer":
		return "(" + c.cType + ")(" + x + ")"
	case c.ptr:
		return "(" + c.cType + ")(unsafe.Pointer(" + x + "))"
	}
	return c.cType + "(" + x + ")"
}

// toGo returns the expression converting the C value x for Go.
func (c conv) toGo(x string) string {
	switch {
	case c.goType == c.cType:
		return x
	case c.ptr && c.cType == "unsafe.Pointer":
		return "(" + c.goType + ")(" + x + ")"
	case c.ptr:
		return "(" + c.goType + ")(unsafe.Pointer(" + x + "))"
	}
	return c.goType + "(" + x + ")"
}

var cgoBuiltins = map[string]string{
	"char":               "C.char",
	"signed char":        "C.schar",
	"unsigned char":      "C.uchar",
	"short":              "C.short",
	"unsigned short":     "C.ushort",
	"int":                "C.int",
	"unsigned int":       "C.uint",
	"long":               "C.long",
	"unsigned long":      "C.ulong",
	"long long":          "C.longlong",
	"unsigned long long": "C.ulonglong",
	"float":              "C.float",
	"double":             "C.double",
	"_Bool":              "C._Bool",
	"bool":               "C._Bool",
}

// goName exports a C identifier by upper-casing its first rune.
func goName(name string) string {
	r, n := utf8.DecodeRuneInString(name)
	return string(unicode.ToUpper(r)) + name[n:]
}

func paramName(name string, i int) string {
	switch {
	case name == "":
		return fmt.Sprintf("p%d", i)
	case token.IsKeyword(name), name == "C", name == "unsafe", name == "fmt":
		return name + "_"
	}
	return name
}

// scalar maps a builtin arithmetic type to a Go type.
func scalar(name, goos string) (string, error) {
	switch name {
	case "_Bool", "bool":
		return "bool", nil
	case "char":
		return "byte", nil
	case "void":
		return "", fmt.Errorf("void used as a value type")
	}
	s, ok := cheader.ScalarOf(name, goos)
	if !ok {
		return "", fmt.Errorf("unknown builtin type %q", name)
	}
	switch {
	case s.Float && s.Size == 4:
		return "float32", nil
	case s.Float && s.Size == 8:
		return "float64", nil
	case s.Float:
		return "", fmt.Errorf("%s has no Go equivalent", name)
	case s.Signed:
		return fmt.Sprintf("int%d", s.Size*8), nil
	}
	return fmt.Sprintf("uint%d", s.Size*8), nil
}

func cBuiltin(name string) string {
	if c, ok := cgoBuiltins[name]; ok {
		return c
	}
	return "C." + name
}

// cSpelling returns the cgo name of t regardless of the allow-list.
func cSpelling(t *cheader.Type) (string, bool) {
	switch t.Kind {
	case cheader.Builtin:
		if t.Name == "void" {
			return "", false
		}
		return cBuiltin(t.Name), true
	case cheader.Named:
		return "C." + t.Name, true
	case cheader.Struct, cheader.Union, cheader.EnumType:
		if t.Tag == "" {
			return "", false
		}
		kw := map[cheader.TypeKind]string{cheader.Struct: "struct_", cheader.Union: "union_", cheader.EnumType: "enum_"}[t.Kind]
		return "C." + kw + t.Tag, true
	case cheader.Pointer:
		if e, ok := cSpelling(t.Elem); ok {
			return "*" + e, true
		}
		return "unsafe.Pointer", true
	}
	return "", false
}

// enumBase picks the Go integer type able to hold every enumerator.
func enumBase(e *cheader.Enum) string {
	var lo, hi int64
	if e != nil {
		for _, v := range e.Values {
			lo, hi = min(lo, v.Value), max(hi, v.Value)
		}
	}
	switch {
	case lo >= 0 && hi <= math.MaxUint32:
		return "uint32"
	case lo >= math.MinInt32 && hi <= math.MaxInt32:
		return "int32"
	}
	return "int64"
}

// mapType describes how t is passed by value between Go and C.
func (g *gen) mapType(t *cheader.Type) (conv, error) {
	switch t.Kind {
	case cheader.Named:
		if name, ok := g.types[t.Name]; ok {
			return conv{goType: name, cType: "C." + t.Name}, nil
		}
		r := g.h.Resolve(t)
		if r.Kind == cheader.Named {
			return conv{}, fmt.Errorf("unknown type %s", t.Name)
		}
		switch r.Kind {
		case cheader.Struct, cheader.Union:
			return conv{}, fmt.Errorf("passes non-allow-listed aggregate %s by value", t.Name)
		case cheader.Array, cheader.Func:
			return conv{}, fmt.Errorf("unsupported type %s", t.Name)
		case cheader.Pointer:
			inner, err := g.mapPointer(r)
			if err != nil {
				return conv{}, err
			}
			if inner.goType == "unsafe.Pointer" {
				return conv{goType: inner.goType, cType: "C." + t.Name}, nil
			}
			return conv{goType: inner.goType, cType: "C." + t.Name, ptr: true}, nil
		}
		inner, err := g.mapType(r)
		if err != nil {
			return conv{}, err
		}
		return conv{goType: inner.goType, cType: "C." + t.Name}, nil

	case cheader.Builtin:
		gt, err := scalar(t.Name, g.goos)
		if err != nil {
			return conv{}, err
		}
		return conv{goType: gt, cType: cBuiltin(t.Name)}, nil

	case cheader.EnumType:
		if t.Tag == "" {
			return conv{}, fmt.Errorf("anonymous enum used as a type")
		}
		if name, ok := g.tags["enum "+t.Tag]; ok {
			return conv{goType: name, cType: "C.enum_" + t.Tag}, nil
		}
		return conv{goType: enumBase(g.h.Enums[t.Tag]), cType: "C.enum_" + t.Tag}, nil

	case cheader.Struct, cheader.Union:
		kw, prefix := "struct ", "C.struct_"
		if t.Kind == cheader.Union {
			kw, prefix = "union ", "C.union_"
		}
		if name, ok := g.tags[kw+t.Tag]; ok && t.Tag != "" {
			return conv{goType: name, cType: prefix + t.Tag}, nil
		}
		return conv{}, fmt.Errorf("passes non-allow-listed aggregate %s by value", t)

	case cheader.Pointer:
		return g.mapPointer(t)
	}
	return conv{}, fmt.Errorf("unsupported type %s", t)
}

func (g *gen) mapPointer(t *cheader.Type) (conv, error) {
	elem := g.h.Resolve(t.Elem)
	switch {
	case elem.Kind == cheader.Builtin && elem.Name == "void":
		return conv{goType: "unsafe.Pointer", cType: "unsafe.Pointer", ptr: true}, nil
	case elem.Kind == cheader.Func:
		return conv{goType: "unsafe.Pointer", cType: "*[0]byte", ptr: true}, nil
	}
	inner, err := g.mapType(t.Elem)
	if err != nil {
		// Pointers to types without a Go mirror stay opaque.
		c, ok := cSpelling(t)
		if !ok {
			return conv{}, err
		}
		return conv{goType: "unsafe.Pointer", cType: c, ptr: true}, nil
	}
	return conv{goType: "*" + inner.goType, cType: "*" + inner.cType, ptr: true}, nil
}

// pod reports whether a record holds only scalars, data pointers, arrays
// and nested POD records.
func (g *gen) pod(r *cheader.Record, depth int) bool {
	if r == nil || r.Union || depth > 16 {
		return false
	}
	for _, f := range r.Fields {
		if f.BitField || !g.podType(f.Type, depth) {
			return false
		}
	}
	return true
}

func (g *gen) podType(t *cheader.Type, depth int) bool {
	t = g.h.Resolve(t)
	switch t.Kind {
	case cheader.Builtin, cheader.EnumType:
		return true
	case cheader.Pointer:
		return g.h.Resolve(t.Elem).Kind != cheader.Func
	case cheader.Array:
		return g.podType(t.Elem, depth)
	case cheader.Struct:
		rec := t.Record
		if rec == nil && t.Tag != "" {
			rec = g.h.Records[t.Tag]
		}
		return g.pod(rec, depth+1)
	}
	return false
}

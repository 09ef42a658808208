package cheader

import "strings"

// Scalar describes an arithmetic C type on a 64-bit target.
type Scalar struct {
	Size   int64
	Signed bool
	Float  bool
}

// systemTypes are typedef names from the standard headers. They are known
// without reading those headers.
var systemTypes = map[string]bool{
	"int8_t": true, "uint8_t": true, "int16_t": true, "uint16_t": true,
	"int32_t": true, "uint32_t": true, "int64_t": true, "uint64_t": true,
	"size_t": true, "ssize_t": true, "ptrdiff_t": true,
	"intptr_t": true, "uintptr_t": true, "time_t": true,
	"wchar_t": true, "char16_t": true, "char32_t": true, "bool": true,
}

// ScalarOf returns the layout of the builtin type name for goos.
func ScalarOf(name, goos string) (Scalar, bool) {
	long := int64(8)
	wchar := Scalar{Size: 4, Signed: true}
	if goos == "windows" {
		long = 4
		wchar = Scalar{Size: 2}
	}
	switch name {
	case "_Bool", "bool", "unsigned char", "uint8_t":
		return Scalar{Size: 1}, true
	case "char", "signed char", "int8_t":
		return Scalar{Size: 1, Signed: true}, true
	case "short", "int16_t":
		return Scalar{Size: 2, Signed: true}, true
	case "unsigned short", "uint16_t", "char16_t":
		return Scalar{Size: 2}, true
	case "int", "int32_t":
		return Scalar{Size: 4, Signed: true}, true
	case "unsigned int", "uint32_t", "char32_t":
		return Scalar{Size: 4}, true
	case "long":
		return Scalar{Size: long, Signed: true}, true
	case "unsigned long":
		return Scalar{Size: long}, true
	case "long long", "int64_t", "ssize_t", "ptrdiff_t", "intptr_t", "time_t":
		return Scalar{Size: 8, Signed: true}, true
	case "unsigned long long", "uint64_t", "size_t", "uintptr_t":
		return Scalar{Size: 8}, true
	case "wchar_t":
		return wchar, true
	case "float":
		return Scalar{Size: 4, Signed: true, Float: true}, true
	case "double":
		return Scalar{Size: 8, Signed: true, Float: true}, true
	case "long double":
		return Scalar{Size: 16, Signed: true, Float: true}, true
	}
	return Scalar{}, false
}

var typeKeywords = map[string]bool{
	"void": true, "char": true, "short": true, "int": true, "long": true,
	"float": true, "double": true, "signed": true, "unsigned": true,
	"_Bool": true, "_Complex": true, "__int8": true, "__int16": true,
	"__int32": true, "__int64": true,
}

var qualifiers = map[string]bool{
	"const": true, "__const": true, "__const__": true, "volatile": true,
	"__volatile__": true, "restrict": true, "__restrict": true,
	"__restrict__": true, "_Atomic": true,
}

// ignored are storage and calling convention words that do not change
// the declared type.
var ignored = map[string]bool{
	"register": true, "auto": true, "_Thread_local": true, "__thread": true,
	"_Noreturn": true, "__extension__": true, "__cdecl": true, "_cdecl": true,
	"__stdcall": true, "_stdcall": true, "__fastcall": true,
	"__vectorcall": true, "__w64": true, "__ptr32": true, "__ptr64": true,
	"__unaligned": true,
}

var attributes = map[string]bool{
	"__attribute__": true, "__attribute": true, "__declspec": true,
	"__asm__": true, "__asm": true, "asm": true, "_Alignas": true,
	"alignas": true,
}

// builtinFromWords folds the type keywords of one declaration into a
// canonical builtin type.
func builtinFromWords(words []string, pos Pos) (*Type, error) {
	n := map[string]int{}
	for _, w := range words {
		switch w {
		case "__int8":
			w = "char"
		case "__int16":
			w = "short"
		case "__int32":
			w = "int"
		case "__int64":
			n["long"] += 2
			continue
		}
		n[w]++
	}
	if n["signed"] > 0 && n["unsigned"] > 0 {
		return nil, errorf(pos, "both 'signed' and 'unsigned' in declaration specifiers")
	}
	prefix := ""
	if n["unsigned"] > 0 {
		prefix = "unsigned "
	}

	var name string
	switch {
	case n["void"] > 0:
		name = "void"
	case n["_Bool"] > 0:
		name = "_Bool"
	case n["float"] > 0:
		name = "float"
	case n["double"] > 0 && n["long"] > 0:
		name = "long double"
	case n["double"] > 0:
		name = "double"
	case n["char"] > 0:
		switch {
		case n["unsigned"] > 0:
			name = "unsigned char"
		case n["signed"] > 0:
			name = "signed char"
		default:
			name = "char"
		}
	case n["short"] > 0:
		name = prefix + "short"
	case n["long"] == 1:
		name = prefix + "long"
	case n["long"] >= 2:
		name = prefix + "long long"
	default:
		name = prefix + "int"
	}
	return &Type{Kind: Builtin, Name: strings.TrimSpace(name)}, nil
}

// sizeOf computes sizeof for scalar, pointer, array and complete record
// types. Incomplete records and records with bit-fields have no size here.
func (h *Header) sizeOf(t *Type) (int64, bool) {
	n, _, ok := h.layout(t)
	return n, ok
}

func (h *Header) layout(t *Type) (size, align int64, ok bool) {
	t = h.Resolve(t)
	switch t.Kind {
	case Builtin:
		if t.Name == "void" {
			return 1, 1, true
		}
		s, ok := ScalarOf(t.Name, h.goos)
		return s.Size, s.Size, ok
	case Pointer:
		return 8, 8, true
	case EnumType:
		return 4, 4, true
	case Array:
		if t.Len < 0 {
			return 0, 0, false
		}
		n, a, ok := h.layout(t.Elem)
		return n * t.Len, a, ok
	case Struct, Union:
		rec := t.Record
		if rec == nil && t.Tag != "" {
			rec = h.Records[t.Tag]
		}
		if rec == nil {
			return 0, 0, false
		}
		return h.recordLayout(rec)
	}
	return 0, 0, false
}

func (h *Header) recordLayout(r *Record) (size, align int64, ok bool) {
	align = 1
	for _, f := range r.Fields {
		if f.BitField {
			return 0, 0, false
		}
		n, a, ok := h.layout(f.Type)
		if !ok {
			return 0, 0, false
		}
		align = max(align, a)
		if r.Union {
			size = max(size, n)
		} else {
			size = alignUp(size, a) + n
		}
	}
	return alignUp(size, align), align, true
}

func alignUp(n, a int64) int64 {
	if a <= 1 {
		return n
	}
	return (n + a - 1) / a * a
}

// convert truncates v to the integer type t, the way a cast does.
func (h *Header) convert(t *Type, v int64) int64 {
	t = h.Resolve(t)
	if t.Kind != Builtin {
		return v
	}
	if t.Name == "_Bool" || t.Name == "bool" {
		if v != 0 {
			return 1
		}
		return 0
	}
	s, ok := ScalarOf(t.Name, h.goos)
	if !ok || s.Float || s.Size >= 8 {
		return v
	}
	bits := uint(s.Size * 8)
	if s.Signed {
		return v << (64 - bits) >> (64 - bits)
	}
	return int64(uint64(v) & (1<<bits - 1))
}

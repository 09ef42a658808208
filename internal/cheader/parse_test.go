package cheader

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeHeader(t *testing.T, name, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func parseString(t *testing.T, src string, opts Options) *Header {
	t.Helper()
	h, err := Parse(writeHeader(t, "test.h", src), opts)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return h
}

func declNames(h *Header) []string {
	var names []string
	for _, d := range h.Decls {
		names = append(names, d.DeclName())
	}
	return names
}

func TestParseFixture(t *testing.T) {
	path := filepath.Join("testdata", "include", "icsneo", "icsneoc.h")
	h, err := Parse(path, Options{
		IncludeDirs: []string{filepath.Join("testdata", "include")},
		TargetOS:    "linux",
	})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	want := []string{
		"neonetid_t", "devicehandle_t", "devicetype_t",
		"ICSNEO_DEVICETYPE_UNKNOWN", "ICSNEO_DEVICETYPE_FIRE3",
		"EventSeverity", "neodevice_t", "neomessage_t", "_neoio_t", "neoio_t",
		"icsneo_openDevice", "icsneo_findAllDevices", "icsneo_addMessageCallback", "icsneo_getIO",
		"ICSNEO_SERIAL_LEN", "ICSNEO_PLATFORM_UNIX", "ICSNEO_NETID_HSCAN", "ICSNEO_NETID_MAX",
	}
	if got := strings.Join(declNames(h), " "); got != strings.Join(want, " ") {
		t.Errorf("decls =\n%s\nwant\n%s", got, strings.Join(want, " "))
	}

	if got, want := strings.Join(h.Skipped, ","), "stddef.h,stdint.h,stdbool.h"; got != want {
		t.Errorf("skipped = %s, want %s", got, want)
	}
	if len(h.Files) != 2 || filepath.Base(h.Files[1]) != "platform.h" {
		t.Errorf("files = %v", h.Files)
	}

	dev := h.Resolve(&Type{Kind: Named, Name: "neodevice_t"})
	if dev.Kind != Struct || dev.Record == nil {
		t.Fatalf("neodevice_t resolves to %v", dev)
	}
	var fields []string
	for _, f := range dev.Record.Fields {
		fields = append(fields, f.Name+" "+f.Type.String())
	}
	if got, want := strings.Join(fields, "; "), "device devicehandle_t; handle int32_t; type devicetype_t; serial char[7]"; got != want {
		t.Errorf("neodevice_t fields = %s, want %s", got, want)
	}

	msg := h.Resolve(&Type{Kind: Named, Name: "neomessage_t"})
	if n := msg.Record.Fields[2].Type.Len; n != 25 {
		t.Errorf("_reserved2 length = %d, want 25", n)
	}

	io := h.Enums["_neoio_t"]
	if io == nil || len(io.Values) != 3 || io.Values[2].Value != 2 {
		t.Errorf("_neoio_t = %+v", io)
	}

	for _, d := range h.Decls {
		switch d := d.(type) {
		case *Function:
			if d.Name == "icsneo_addMessageCallback" {
				cb := d.Sig.Params[1].Type
				if got := cb.String(); got != "void(neomessage_t)*" {
					t.Errorf("callback type = %s", got)
				}
				if got := d.Sig.Params[2].Type.String(); got != "void*" {
					t.Errorf("user data type = %s", got)
				}
			}
			if d.Name == "icsneo_helper" {
				t.Error("static inline function was declared")
			}
		case *Const:
			switch d.Name {
			case "ICSNEO_DEVICETYPE_FIRE3":
				if d.Value != 15 || d.Type.Name != "devicetype_t" {
					t.Errorf("FIRE3 = %+v", d)
				}
			case "ICSNEO_NETID_MAX":
				if d.Value != 256 || d.Type != nil {
					t.Errorf("NETID_MAX = %+v", d)
				}
			}
		}
	}
}

func TestParseTargetOS(t *testing.T) {
	path := filepath.Join("testdata", "include", "icsneo", "icsneoc.h")
	for goos, macro := range map[string]string{
		"windows": "ICSNEO_PLATFORM_WINDOWS",
		"darwin":  "ICSNEO_PLATFORM_DARWIN",
		"linux":   "ICSNEO_PLATFORM_UNIX",
	} {
		h, err := Parse(path, Options{TargetOS: goos})
		if err != nil {
			t.Fatalf("%s: %v", goos, err)
		}
		names := strings.Join(declNames(h), " ")
		if !strings.Contains(names, macro) {
			t.Errorf("%s: %s missing from %s", goos, macro, names)
		}
	}
}

func TestParseExternC(t *testing.T) {
	path := filepath.Join("testdata", "include", "icsneo", "icsneoc.h")
	h, err := Parse(path, Options{TargetOS: "linux", Defines: map[string]string{"__cplusplus": "201703L"}})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(h.Decls) == 0 {
		t.Fatal("no declarations")
	}
}

func TestConstantExpressions(t *testing.T) {
	h := parseString(t, `
enum values {
	A = 1 << 4,
	B = A | 1,
	C = (unsigned char)0x1ff,
	D = sizeof(int) * 2,
	E = A > 8 ? -1 : 1,
	F = 'x',
	G = ~0,
	H = (7 % 4) - !0,
	I = 0xffffffffu
};
`, Options{TargetOS: "linux"})

	want := map[string]int64{"A": 16, "B": 17, "C": 255, "D": 8, "E": -1, "F": 'x', "G": -1, "H": 2, "I": 0xffffffff}
	for _, v := range h.Enums["values"].Values {
		if v.Value != want[v.Name] {
			t.Errorf("%s = %d, want %d", v.Name, v.Value, want[v.Name])
		}
	}
}

func TestSizeofLongPerTarget(t *testing.T) {
	src := "enum { L = sizeof(long), W = sizeof(wchar_t) };\n"
	for goos, want := range map[string][2]int64{"windows": {4, 2}, "linux": {8, 4}} {
		h := parseString(t, src, Options{TargetOS: goos})
		e := h.Decls[0].(*Enum)
		if e.Values[0].Value != want[0] || e.Values[1].Value != want[1] {
			t.Errorf("%s: sizes = %+v, want %v", goos, e.Values, want)
		}
	}
}

func TestSizeofRecords(t *testing.T) {
	h := parseString(t, `
struct pair { char c; int i; };
union either { char c[5]; short s; };
struct outer { struct pair p; char tail[sizeof(struct pair) - 1]; };
enum { P = sizeof(struct pair), U = sizeof(union either), O = sizeof(struct outer) };
`, Options{TargetOS: "linux"})
	e := h.Decls[len(h.Decls)-1].(*Enum)
	want := map[string]int64{"P": 8, "U": 6, "O": 16}
	for _, v := range e.Values {
		if v.Value != want[v.Name] {
			t.Errorf("%s = %d, want %d", v.Name, v.Value, want[v.Name])
		}
	}
}

func TestDeclarators(t *testing.T) {
	h := parseString(t, `
typedef int *arrp_t[3];
typedef int (*parr_t)[4];
typedef void (*cb_t)(int, ...);
typedef const char *const name_t;
typedef unsigned long long u64;
typedef long unsigned int ulong_t;
void g(char buf[16], int cb(int));
`, Options{TargetOS: "linux"})

	for name, want := range map[string]string{
		"arrp_t":  "int*[3]",
		"parr_t":  "int[4]*",
		"cb_t":    "void(int, ...)*",
		"name_t":  "const char* const",
		"u64":     "unsigned long long",
		"ulong_t": "unsigned long",
	} {
		td := h.Typedefs[name]
		if td == nil {
			t.Errorf("%s not declared", name)
			continue
		}
		if got := td.Type.String(); got != want {
			t.Errorf("%s = %s, want %s", name, got, want)
		}
	}

	g := h.Decls[len(h.Decls)-1].(*Function)
	if got := g.Sig.Params[0].Type.String(); got != "char*" {
		t.Errorf("array parameter = %s, want char*", got)
	}
	if got := g.Sig.Params[1].Type.String(); got != "int(int)*" {
		t.Errorf("function parameter = %s, want int(int)*", got)
	}
}

func TestRecords(t *testing.T) {
	h := parseString(t, `
struct flags {
	unsigned a : 1;
	unsigned : 3;
	union { int i; float f; } u;
	struct { int x; };
} __attribute__((packed));
`, Options{TargetOS: "linux"})

	r := h.Records["flags"]
	if r == nil {
		t.Fatal("struct flags not recorded")
	}
	if len(r.Fields) != 4 {
		t.Fatalf("fields = %+v", r.Fields)
	}
	if f := r.Fields[0]; !f.BitField || f.Bits != 1 || f.Name != "a" {
		t.Errorf("field 0 = %+v", f)
	}
	if f := r.Fields[1]; !f.BitField || f.Bits != 3 || f.Name != "" {
		t.Errorf("field 1 = %+v", f)
	}
	if f := r.Fields[2]; f.Type.Kind != Union || len(f.Type.Record.Fields) != 2 {
		t.Errorf("field 2 = %+v", f)
	}
	if f := r.Fields[3]; f.Name != "" || f.Type.Kind != Struct {
		t.Errorf("field 3 = %+v", f)
	}
}

func TestUnknownTypeName(t *testing.T) {
	h := parseString(t, "API_EXPORT int f(FILE *fp);\n", Options{})
	f, ok := h.Decls[0].(*Function)
	if !ok || f.Name != "f" {
		t.Fatalf("decls = %v", declNames(h))
	}
	if got := f.Sig.Result.String(); got != "int" {
		t.Errorf("result = %s", got)
	}
	if got := f.Sig.Params[0].Type.String(); got != "FILE*" {
		t.Errorf("param = %s", got)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"syntax", "typedef int a;\nint f(int x;\n", `:2:12: expected ",", found ";"`},
		{"error directive", "#ifndef FOO\n#error FOO is required\n#endif\n", ":2:1: #error FOO is required"},
		{"missing include", "#include \"missing.h\"\n", ":1:1: 'missing.h' file not found"},
		{"unterminated if", "#if 1\nint x;\n", ":1:1: unterminated conditional directive"},
		{"else without if", "#else\n", ":1:1: #else without #if"},
		{"division by zero", "enum { A = 1 / 0 };\n", "division by zero"},
		{"unclosed struct", "struct s { int a;\n", "expected '}'"},
		{"unterminated comment", "int icsneo_a(void);\n  /* truncated doc\nint icsneo_b(void);\n", ":2:3: unterminated comment"},
		{"sizeof incomplete record", "typedef struct s { char b[sizeof(struct s)]; } s_t;\n", "cannot evaluate sizeof(struct s)"},
		{"array length", "int a[n];\n", "use of undeclared identifier"},
		{"negative array length", "int a[-1];\n", "array has negative size -1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(writeHeader(t, "bad.h", tt.src), Options{})
			if err == nil {
				t.Fatal("Parse succeeded")
			}
			if !errors.Is(err, ErrParse) {
				t.Errorf("error %v is not ErrParse", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestParseMissingFile(t *testing.T) {
	_, err := Parse(filepath.Join(t.TempDir(), "nope.h"), Options{})
	if !errors.Is(err, ErrParse) || !strings.Contains(err.Error(), "file not found") {
		t.Errorf("err = %v", err)
	}
}

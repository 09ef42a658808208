package cheader

import (
	"strings"
	"testing"
)

func preprocessString(t *testing.T, src string, opts Options) *Unit {
	t.Helper()
	u, err := Preprocess(writeHeader(t, "pp.h", src), opts)
	if err != nil {
		t.Fatalf("Preprocess failed: %v", err)
	}
	return u
}

func joined(toks []Token) string {
	var b strings.Builder
	for i, t := range toks {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(t.Text)
	}
	return b.String()
}

func TestMacroExpansion(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"object", "#define N 4\nint a[N];", "int a [ 4 ] ;"},
		{"function", "#define SQ(x) ((x)*(x))\nint b = SQ(1+2);", "int b = ( ( 1 + 2 ) * ( 1 + 2 ) ) ;"},
		{"stringify", "#define STR(x) #x\nconst char *s = STR(a + b);", `const char * s = "a + b" ;`},
		{"paste", "#define CAT(a, b) a##b\nint CAT(foo, 1);", "int foo1 ;"},
		{"self reference", "#define R R + 1\nint x = R;", "int x = R + 1 ;"},
		{"mutual recursion", "#define A B\n#define B A\nint A;", "int A ;"},
		{"variadic", "#define CALL(f, ...) f(__VA_ARGS__)\nCALL(g, 1, 2);", "g ( 1 , 2 ) ;"},
		{"not invoked", "#define F(x) x\nint F;", "int F ;"},
		{"undef", "#define X 1\n#undef X\nint X;", "int X ;"},
		{"continuation", "#define LONG 1 + \\\n 2\nint y = LONG;", "int y = 1 + 2 ;"},
		{"comments", "int /* gone */ z; // also gone\n", "int z ;"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := preprocessString(t, tt.src, Options{})
			if got := joined(u.Tokens); got != tt.want {
				t.Errorf("tokens = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConditionals(t *testing.T) {
	src := `
#if (2 + 3) * 2 == 10 && defined(FOO)
int foo;
#elif defined BAR
int bar;
#else
int none;
#endif
#ifndef FOO
int missing;
#endif
#if 0
#bogus directive in skipped block
#if 1
int nested;
#endif
#endif
`
	tests := []struct {
		defines map[string]string
		want    string
	}{
		{map[string]string{"FOO": ""}, "int foo ;"},
		{map[string]string{"BAR": "1"}, "int bar ; int missing ;"},
		{nil, "int none ; int missing ;"},
	}
	for _, tt := range tests {
		u := preprocessString(t, src, Options{Defines: tt.defines})
		if got := joined(u.Tokens); got != tt.want {
			t.Errorf("defines %v: tokens = %q, want %q", tt.defines, got, tt.want)
		}
	}
}

func TestSurvivingMacros(t *testing.T) {
	u := preprocessString(t, `
#define GUARD
#define ONE 1
#define TWO (ONE + ONE)
#define F(x) x
#define GONE 3
#undef GONE
`, Options{TargetOS: "linux"})

	var names []string
	for _, m := range u.Macros {
		names = append(names, m.Name+"="+joined(m.Body))
	}
	if got, want := strings.Join(names, ", "), "ONE=1, TWO=( 1 + 1 )"; got != want {
		t.Errorf("macros = %s, want %s", got, want)
	}
}

func TestLexPositions(t *testing.T) {
	toks, err := lex("f.h", 3, "  int x=0x10u;")
	if err != nil {
		t.Fatal(err)
	}
	if got := joined(toks); got != "int x = 0x10u ;" {
		t.Errorf("tokens = %q", got)
	}
	if p := toks[1].Pos; p.Line != 3 || p.Col != 7 {
		t.Errorf("x at %v, want 3:7", p)
	}
	if toks[2].Space || !toks[1].Space {
		t.Errorf("spacing = %v %v", toks[1].Space, toks[2].Space)
	}
	if toks[3].Kind != Int {
		t.Errorf("0x10u kind = %v", toks[3].Kind)
	}
}

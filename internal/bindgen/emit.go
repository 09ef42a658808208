package bindgen

import (
	"fmt"
	"strings"

	"github.com/icsneo-go/icsneo-build/internal/cheader"
)

type gen struct {
	h     *cheader.Header
	allow *allowList
	goos  string

	// types maps emitted typedef names to Go names; tags maps "enum x",
	// "struct x" and "union x" the same way.
	types map[string]string
	tags  map[string]string

	names map[string]bool // Go names already declared
	done  map[string]bool // C functions already wrapped

	out *Output
	b   strings.Builder
}

func (g *gen) skip(name, format string, args ...any) {
	g.out.Skipped = append(g.out.Skipped, Skip{Name: name, Reason: fmt.Sprintf(format, args...)})
}

func (g *gen) symbol(kind SymbolKind, cName, goName, cType string) {
	g.out.Symbols = append(g.out.Symbols, Symbol{Kind: kind, CName: cName, GoName: goName, CType: cType})
}

// declare reserves a Go name, reporting a clash when it is taken.
func (g *gen) declare(cName, goName string) bool {
	if g.names[goName] {
		g.skip(cName, "Go name %s is already declared", goName)
		return false
	}
	g.names[goName] = true
	return true
}

func recordKeyword(r *cheader.Record) string {
	if r.Union {
		return "union "
	}
	return "struct "
}

// plan decides which allow-listed types get a Go mirror so that function
// signatures can refer to them.
func (g *gen) plan() {
	for _, d := range g.h.Decls {
		switch d := d.(type) {
		case *cheader.Typedef:
			if matches(g.allow.types, d.Name) && g.typedefKind(d) != "" {
				g.types[d.Name] = goName(d.Name)
			}
		case *cheader.Enum:
			if d.Tag != "" && matches(g.allow.types, d.Tag) {
				g.tags["enum "+d.Tag] = goName(d.Tag)
			}
		case *cheader.Record:
			if matches(g.allow.types, d.Tag) {
				g.tags[recordKeyword(d)+d.Tag] = goName(d.Tag)
			}
		}
	}
}

// typedefKind classifies what a typedef can be emitted as, or "" when it
// has no Go mirror.
func (g *gen) typedefKind(td *cheader.Typedef) string {
	r := g.h.Resolve(td.Type)
	switch r.Kind {
	case cheader.EnumType:
		return "enum"
	case cheader.Struct, cheader.Union:
		return "record"
	case cheader.Builtin:
		if _, err := scalar(r.Name, g.goos); err == nil {
			return "scalar"
		}
	case cheader.Pointer:
		if e := g.h.Resolve(r.Elem); e.Kind == cheader.Builtin && e.Name == "void" {
			return "opaque"
		}
	}
	return ""
}

func (g *gen) emit() {
	for _, d := range g.h.Decls {
		switch d := d.(type) {
		case *cheader.Typedef:
			if matches(g.allow.types, d.Name) && !g.sameAsTag(d) {
				g.typedef(d)
			}
		case *cheader.Enum:
			switch {
			case d.Tag != "" && matches(g.allow.types, d.Tag):
				name := goName(d.Tag)
				if g.declare(d.Tag, name) {
					g.enum(name, d)
					g.symbol(KindEnum, "enum "+d.Tag, name, enumBase(d))
				}
			case d.Tag == "":
				for _, v := range d.Values {
					if matches(g.allow.vars, v.Name) {
						g.constant(v.Name, nil, v.Value)
					}
				}
			}
		case *cheader.Record:
			if !matches(g.allow.types, d.Tag) {
				continue
			}
			name := goName(d.Tag)
			kw := recordKeyword(d)
			if g.declare(d.Tag, name) {
				g.record(name, "C."+strings.TrimSpace(kw)+"_"+d.Tag, d)
				g.symbol(KindType, kw+d.Tag, name, kw+d.Tag)
			}
		case *cheader.Function:
			if matches(g.allow.functions, d.Name) && !g.done[d.Name] {
				g.done[d.Name] = true
				g.function(d)
			}
		case *cheader.Const:
			if matches(g.allow.vars, d.Name) {
				g.constant(d.Name, d.Type, d.Value)
			}
		}
	}
}

// sameAsTag reports whether td merely repeats the tag of an emitted
// struct, union or enum ("typedef struct x x").
func (g *gen) sameAsTag(td *cheader.Typedef) bool {
	t := td.Type
	switch t.Kind {
	case cheader.Struct:
		_, ok := g.tags["struct "+t.Tag]
		return ok && t.Tag == td.Name
	case cheader.Union:
		_, ok := g.tags["union "+t.Tag]
		return ok && t.Tag == td.Name
	case cheader.EnumType:
		_, ok := g.tags["enum "+t.Tag]
		return ok && t.Tag == td.Name
	}
	return false
}

func (g *gen) typedef(td *cheader.Typedef) {
	kind := g.typedefKind(td)
	if kind == "" {
		g.skip(td.Name, "typedef of %s has no Go mirror", td.Type)
		return
	}
	name := g.types[td.Name]
	if !g.declare(td.Name, name) {
		return
	}
	r := g.h.Resolve(td.Type)
	switch kind {
	case "enum":
		e := r.Enum
		if e == nil {
			e = g.h.Enums[r.Tag]
		}
		g.enum(name, e)
		g.symbol(KindEnum, td.Name, name, td.Type.String())
		return
	case "record":
		rec := r.Record
		if rec == nil && r.Tag != "" {
			rec = g.h.Records[r.Tag]
		}
		g.record(name, "C."+td.Name, rec)
	case "scalar":
		gt, _ := scalar(r.Name, g.goos)
		fmt.Fprintf(&g.b, "type %s %s\n\n", name, gt)
	case "opaque":
		fmt.Fprintf(&g.b, "type %s unsafe.Pointer\n\n", name)
	}
	g.symbol(KindType, td.Name, name, td.Type.String())
}

func (g *gen) record(name, cType string, rec *cheader.Record) {
	fmt.Fprintf(&g.b, "type %s %s\n\n", name, cType)
	if !g.pod(rec, 0) {
		return
	}
	fmt.Fprintf(&g.b, "// String formats the fields of v for debugging.\n")
	fmt.Fprintf(&g.b, "func (v %s) String() string {\n\ttype raw %s\n\treturn fmt.Sprintf(\"%s%%+v\", raw(v))\n}\n\n", name, name, name)
}

func (g *gen) enum(name string, e *cheader.Enum) {
	fmt.Fprintf(&g.b, "type %s %s\n\n", name, enumBase(e))
	if e == nil || len(e.Values) == 0 {
		return
	}

	// Enumerators sharing a value are aliases; the first one names it.
	var distinct []string
	seen := make(map[int64]bool)
	g.b.WriteString("const (\n")
	for _, v := range e.Values {
		c := name + "_" + v.Name
		g.names[c] = true
		fmt.Fprintf(&g.b, "\t%s %s = %d\n", c, name, v.Value)
		if !seen[v.Value] {
			seen[v.Value] = true
			distinct = append(distinct, c)
		}
	}
	g.b.WriteString(")\n\n")

	fmt.Fprintf(&g.b, "// String returns the C name of the enumerator v.\n")
	fmt.Fprintf(&g.b, "func (v %s) String() string {\n\tswitch v {\n", name)
	for _, c := range distinct {
		fmt.Fprintf(&g.b, "\tcase %s:\n\t\treturn %q\n", c, strings.TrimPrefix(c, name+"_"))
	}
	fmt.Fprintf(&g.b, "\t}\n\treturn fmt.Sprintf(\"%s(%%d)\", int64(v))\n}\n\n", name)

	fmt.Fprintf(&g.b, "// Known reports whether v is one of the declared enumerators.\n")
	fmt.Fprintf(&g.b, "func (v %s) Known() bool {\n\tswitch v {\n\tcase %s:\n\t\treturn true\n\t}\n\treturn false\n}\n\n",
		name, strings.Join(distinct, ", "))
}

func (g *gen) function(f *cheader.Function) {
	if f.Sig.Variadic {
		g.skip(f.Name, "variadic function")
		return
	}
	var params, args []string
	for i, p := range f.Sig.Params {
		c, err := g.mapType(p.Type)
		if err != nil {
			g.skip(f.Name, "parameter %d: %v", i+1, err)
			return
		}
		n := paramName(p.Name, i)
		params = append(params, n+" "+c.goType)
		args = append(args, c.toC(n))
	}

	var result conv
	void := f.Sig.Result.Kind == cheader.Builtin && f.Sig.Result.Name == "void"
	if !void {
		var err error
		if result, err = g.mapType(f.Sig.Result); err != nil {
			g.skip(f.Name, "result: %v", err)
			return
		}
	}

	name := goName(f.Name)
	if !g.declare(f.Name, name) {
		return
	}
	call := fmt.Sprintf("C.%s(%s)", f.Name, strings.Join(args, ", "))
	fmt.Fprintf(&g.b, "// %s calls %s.\n", name, f.Name)
	if void {
		fmt.Fprintf(&g.b, "func %s(%s) {\n\t%s\n}\n\n", name, strings.Join(params, ", "), call)
	} else {
		fmt.Fprintf(&g.b, "func %s(%s) %s {\n\treturn %s\n}\n\n", name, strings.Join(params, ", "), result.goType, result.toGo(call))
	}
	g.symbol(KindFunc, f.Name, name, (&cheader.Type{Kind: cheader.Func, Sig: f.Sig}).String())
}

func (g *gen) constant(cName string, t *cheader.Type, v int64) {
	name := goName(cName)
	if !g.declare(cName, name) {
		return
	}
	typ := ""
	if t != nil {
		if c, err := g.mapType(t); err == nil && !c.ptr && c.goType != "bool" && c.goType != "unsafe.Pointer" {
			typ = " " + c.goType
		}
	}
	fmt.Fprintf(&g.b, "const %s%s = %d\n\n", name, typ, v)
	cType := "macro"
	if t != nil {
		cType = t.String()
	}
	g.symbol(KindConst, cName, name, cType)
}

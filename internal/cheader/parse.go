package cheader

import "strconv"

// Parse preprocesses the header at path and parses its declarations.
//
// Object-like macros whose expansion is an integer constant expression are
// appended to Decls as *Const after the source declarations.
func Parse(path string, opts Options) (*Header, error) {
	u, err := Preprocess(path, opts)
	if err != nil {
		return nil, err
	}
	h := &Header{
		Typedefs: make(map[string]*Typedef),
		Records:  make(map[string]*Record),
		Enums:    make(map[string]*Enum),
		Files:    u.Files,
		Skipped:  u.Skipped,
		values:   make(map[string]int64),
		goos:     opts.TargetOS,
	}
	p := newParser(u.Tokens, h)
	for !p.atEOF() {
		if err := p.externalDecl(); err != nil {
			return nil, err
		}
	}
	if p.externC > 0 {
		return nil, errorf(p.peek().Pos, "expected '}' at end of extern \"C\" block")
	}

	for _, m := range u.Macros {
		if _, ok := h.values[m.Name]; ok {
			continue
		}
		sub := newParser(m.Body, h)
		v, err := sub.constExpr()
		if err != nil || !sub.atEOF() {
			continue
		}
		h.values[m.Name] = v
		h.Decls = append(h.Decls, &Const{Name: m.Name, Value: v, Pos: m.Pos})
	}
	return h, nil
}

type parser struct {
	toks    []Token
	i       int
	h       *Header
	externC int
}

// newParser returns a parser over toks. h may be nil for #if expressions,
// in which case casts, sizeof and named constants are unavailable.
func newParser(toks []Token, h *Header) *parser {
	return &parser{toks: toks, h: h}
}

func (p *parser) peek() Token { return p.peekN(0) }

func (p *parser) peekN(n int) Token {
	if p.i+n < len(p.toks) {
		return p.toks[p.i+n]
	}
	var pos Pos
	if len(p.toks) > 0 {
		pos = p.toks[len(p.toks)-1].Pos
	}
	return Token{Kind: Punct, Pos: pos}
}

func (p *parser) next() Token {
	t := p.peek()
	if p.i < len(p.toks) {
		p.i++
	}
	return t
}

func (p *parser) atEOF() bool { return p.i >= len(p.toks) }

func (p *parser) accept(text string) bool {
	if p.peek().is(text) {
		p.i++
		return true
	}
	return false
}

func (p *parser) expect(text string) error {
	t := p.peek()
	if !t.is(text) {
		return errorf(t.Pos, "expected %q, found %s", text, describe(t))
	}
	p.i++
	return nil
}

func describe(t Token) string {
	if t.Text == "" {
		return "end of input"
	}
	return strconv.Quote(t.Text)
}

func (p *parser) word(text string) bool {
	t := p.peek()
	return t.Kind == Ident && t.Text == text
}

func (p *parser) externalDecl() error {
	t := p.peek()
	switch {
	case t.is(";"):
		p.next()
		return nil
	case p.word("extern") && p.peekN(1).Kind == String:
		p.i += 2
		if p.accept("{") {
			p.externC++
		}
		return nil
	case t.is("}") && p.externC > 0:
		p.next()
		p.externC--
		return nil
	case p.word("_Static_assert") || p.word("static_assert"):
		p.next()
		if err := p.skipBalanced("(", ")"); err != nil {
			return err
		}
		return p.expect(";")
	}

	s, err := p.specifiers()
	if err != nil {
		return err
	}
	if p.accept(";") {
		return nil
	}
	for {
		name, typ, err := p.declarator(s.typ)
		if err != nil {
			return err
		}
		if name.Text == "" {
			return errorf(p.peek().Pos, "expected identifier or '(', found %s", describe(p.peek()))
		}
		switch {
		case s.typedef:
			td := &Typedef{Name: name.Text, Type: typ, Pos: name.Pos}
			p.h.Typedefs[name.Text] = td
			p.h.Decls = append(p.h.Decls, td)
		case typ.Kind == Func:
			if p.peek().is("{") {
				return p.skipBalanced("{", "}")
			}
			if !s.static && !s.inline {
				p.h.Decls = append(p.h.Decls, &Function{Name: name.Text, Sig: typ.Sig, Pos: name.Pos})
			}
		default:
			if p.accept("=") {
				init, err := p.initializer()
				if err != nil {
					return err
				}
				if s.static && p.integralConst(typ) {
					sub := newParser(init, p.h)
					if v, err := sub.constExpr(); err == nil && sub.atEOF() {
						v = p.h.convert(typ, v)
						p.h.values[name.Text] = v
						p.h.Decls = append(p.h.Decls, &Const{Name: name.Text, Type: typ, Value: v, Pos: name.Pos})
					}
				}
			}
		}
		if p.accept(",") {
			continue
		}
		return p.expect(";")
	}
}

func (p *parser) integralConst(t *Type) bool {
	t = p.h.Resolve(t)
	if !t.Const {
		return false
	}
	switch t.Kind {
	case EnumType:
		return true
	case Builtin:
		s, ok := ScalarOf(t.Name, p.h.goos)
		return ok && !s.Float
	}
	return false
}

type specs struct {
	typ     *Type
	typedef bool
	static  bool
	inline  bool
}

func isConstWord(s string) bool {
	return s == "const" || s == "__const" || s == "__const__"
}

// specifiers reads declaration specifiers. An unknown identifier in type
// position is taken as a typedef name from an unread header unless a real
// type word follows it.
func (p *parser) specifiers() (*specs, error) {
	s := &specs{}
	start := p.peek()
	var words []string
	var isConst, guessed, seen bool
	dropGuess := func() {
		if guessed {
			s.typ, guessed = nil, false
		}
	}

loop:
	for {
		t := p.peek()
		if t.Kind != Ident {
			break
		}
		switch {
		case t.Text == "typedef":
			s.typedef = true
		case t.Text == "static":
			s.static = true
		case t.Text == "extern":
		case t.Text == "inline" || t.Text == "__inline" || t.Text == "__inline__" || t.Text == "__forceinline":
			s.inline = true
		case qualifiers[t.Text]:
			if isConstWord(t.Text) {
				isConst = true
			}
		case ignored[t.Text]:
		case attributes[t.Text]:
			p.skipAttributes()
			seen = true
			continue
		case typeKeywords[t.Text]:
			dropGuess()
			if s.typ != nil {
				return nil, errorf(t.Pos, "cannot combine %q with previous declaration specifier", t.Text)
			}
			words = append(words, t.Text)
		case t.Text == "struct" || t.Text == "union" || t.Text == "enum":
			dropGuess()
			if s.typ != nil || len(words) > 0 {
				return nil, errorf(t.Pos, "cannot combine %q with previous declaration specifier", t.Text)
			}
			var err error
			if t.Text == "enum" {
				s.typ, err = p.enumSpec()
			} else {
				s.typ, err = p.recordSpec()
			}
			if err != nil {
				return nil, err
			}
			seen = true
			continue
		default:
			_, known := p.h.Typedefs[t.Text]
			known = known || systemTypes[t.Text]
			if guessed && known {
				dropGuess()
			}
			if s.typ != nil || len(words) > 0 {
				break loop
			}
			switch {
			case systemTypes[t.Text]:
				s.typ = &Type{Kind: Builtin, Name: t.Text}
			case known:
				s.typ = &Type{Kind: Named, Name: t.Text}
			default:
				s.typ = &Type{Kind: Named, Name: t.Text}
				guessed = true
			}
		}
		seen = true
		p.next()
	}

	if len(words) > 0 {
		typ, err := builtinFromWords(words, start.Pos)
		if err != nil {
			return nil, err
		}
		s.typ = typ
	}
	if s.typ == nil {
		if !seen {
			return nil, errorf(start.Pos, "expected declaration specifiers, found %s", describe(start))
		}
		s.typ = &Type{Kind: Builtin, Name: "int"}
	}
	if isConst && !s.typ.Const {
		c := *s.typ
		c.Const = true
		s.typ = &c
	}
	return s, nil
}

// typeStart reports whether t begins a type name.
func (p *parser) typeStart(t Token) bool {
	if p.h == nil || t.Kind != Ident {
		return false
	}
	switch t.Text {
	case "struct", "union", "enum":
		return true
	}
	if typeKeywords[t.Text] || qualifiers[t.Text] || systemTypes[t.Text] {
		return true
	}
	_, ok := p.h.Typedefs[t.Text]
	return ok
}

func (p *parser) typeName() (*Type, error) {
	s, err := p.specifiers()
	if err != nil {
		return nil, err
	}
	name, t, err := p.declarator(s.typ)
	if err != nil {
		return nil, err
	}
	if name.Text != "" {
		return nil, errorf(name.Pos, "unexpected identifier %q in type name", name.Text)
	}
	return t, nil
}

// declarator applies a (possibly abstract) declarator to base and returns
// the declared name, which is empty for abstract declarators.
func (p *parser) declarator(base *Type) (Token, *Type, error) {
	typ := base
	for {
		p.skipAttributes()
		t := p.peek()
		switch {
		case t.is("*") || t.is("^"):
			p.next()
			typ = &Type{Kind: Pointer, Elem: typ}
			continue
		case t.Kind == Ident && qualifiers[t.Text]:
			p.next()
			if typ != base && isConstWord(t.Text) {
				typ.Const = true
			}
			continue
		case t.Kind == Ident && ignored[t.Text]:
			p.next()
			continue
		}
		break
	}

	var name Token
	if p.nestedDeclarator() {
		p.next()
		hole := &Type{}
		n, inner, err := p.declarator(hole)
		if err != nil {
			return Token{}, nil, err
		}
		if err := p.expect(")"); err != nil {
			return Token{}, nil, err
		}
		outer, err := p.suffixes(typ)
		if err != nil {
			return Token{}, nil, err
		}
		*hole = *outer
		p.skipAttributes()
		return n, inner, nil
	}
	if t := p.peek(); t.Kind == Ident {
		name = p.next()
	}
	typ, err := p.suffixes(typ)
	if err != nil {
		return Token{}, nil, err
	}
	p.skipAttributes()
	return name, typ, nil
}

func (p *parser) nestedDeclarator() bool {
	if !p.peek().is("(") {
		return false
	}
	n := p.peekN(1)
	switch {
	case n.is("*"), n.is("^"), n.is("("):
		return true
	case n.Kind == Ident:
		return ignored[n.Text] || !p.typeStart(n)
	}
	return false
}

// suffixes reads array and function suffixes. They bind left to right, so
// the first suffix is the outermost type.
func (p *parser) suffixes(base *Type) (*Type, error) {
	switch {
	case p.peek().is("["):
		expr, err := p.bracketed()
		if err != nil {
			return nil, err
		}
		n := int64(-1)
		// "[]" and "[*]" leave the length unspecified.
		if len(expr) > 0 && !(len(expr) == 1 && expr[0].is("*")) {
			sub := newParser(expr, p.h)
			if n, err = sub.constExpr(); err != nil {
				return nil, err
			}
			if !sub.atEOF() {
				return nil, errorf(sub.peek().Pos, "expected ']', found %s", describe(sub.peek()))
			}
			if n < 0 {
				return nil, errorf(expr[0].Pos, "array has negative size %d", n)
			}
		}
		elem, err := p.suffixes(base)
		if err != nil {
			return nil, err
		}
		return &Type{Kind: Array, Elem: elem, Len: n}, nil
	case p.peek().is("("):
		sig, err := p.params()
		if err != nil {
			return nil, err
		}
		if sig.Result, err = p.suffixes(base); err != nil {
			return nil, err
		}
		return &Type{Kind: Func, Sig: sig}, nil
	}
	return base, nil
}

// bracketed consumes "[ ... ]" and returns the tokens inside, without
// leading qualifiers or static.
func (p *parser) bracketed() ([]Token, error) {
	open := p.next()
	depth := 1
	var out []Token
	for {
		t := p.next()
		switch {
		case t.Text == "" && p.atEOF():
			return nil, errorf(open.Pos, "expected ']'")
		case t.is("["):
			depth++
		case t.is("]"):
			depth--
			if depth == 0 {
				return out, nil
			}
		case len(out) == 0 && t.Kind == Ident && (qualifiers[t.Text] || t.Text == "static"):
			continue
		}
		out = append(out, t)
	}
}

func (p *parser) params() (*Signature, error) {
	if err := p.expect("("); err != nil {
		return nil, err
	}
	sig := &Signature{}
	if p.accept(")") {
		return sig, nil
	}
	if p.word("void") && p.peekN(1).is(")") {
		p.i += 2
		return sig, nil
	}
	for {
		if p.accept("...") {
			sig.Variadic = true
			return sig, p.expect(")")
		}
		s, err := p.specifiers()
		if err != nil {
			return nil, err
		}
		name, typ, err := p.declarator(s.typ)
		if err != nil {
			return nil, err
		}
		switch typ.Kind {
		case Array:
			typ = &Type{Kind: Pointer, Elem: typ.Elem, Const: typ.Const}
		case Func:
			typ = &Type{Kind: Pointer, Elem: typ}
		}
		sig.Params = append(sig.Params, Param{Name: name.Text, Type: typ})
		if p.accept(")") {
			return sig, nil
		}
		if err := p.expect(","); err != nil {
			return nil, err
		}
	}
}

func (p *parser) recordSpec() (*Type, error) {
	kw := p.next()
	kind := Struct
	if kw.Text == "union" {
		kind = Union
	}
	p.skipAttributes()
	var tag string
	if p.peek().Kind == Ident {
		tag = p.next().Text
	}
	p.skipAttributes()
	t := &Type{Kind: kind, Tag: tag}
	if !p.peek().is("{") {
		if tag == "" {
			return nil, errorf(p.peek().Pos, "expected identifier or '{' after %q", kw.Text)
		}
		t.Record = p.h.Records[tag]
		return t, nil
	}
	p.next()

	rec := &Record{Tag: tag, Union: kind == Union, Pos: kw.Pos}
	for !p.accept("}") {
		if p.atEOF() {
			return nil, errorf(kw.Pos, "expected '}' to match this %s", kw.Text)
		}
		if p.accept(";") {
			continue
		}
		if p.word("_Static_assert") || p.word("static_assert") {
			p.next()
			if err := p.skipBalanced("(", ")"); err != nil {
				return nil, err
			}
			if err := p.expect(";"); err != nil {
				return nil, err
			}
			continue
		}
		s, err := p.specifiers()
		if err != nil {
			return nil, err
		}
		if p.accept(";") {
			rec.Fields = append(rec.Fields, Field{Type: s.typ})
			continue
		}
		for {
			var name Token
			typ := s.typ
			if !p.peek().is(":") {
				if name, typ, err = p.declarator(s.typ); err != nil {
					return nil, err
				}
			}
			f := Field{Name: name.Text, Type: typ}
			if p.accept(":") {
				if f.Bits, err = p.constExpr(); err != nil {
					return nil, err
				}
				f.BitField = true
			}
			p.skipAttributes()
			rec.Fields = append(rec.Fields, f)
			if p.accept(",") {
				continue
			}
			if err := p.expect(";"); err != nil {
				return nil, err
			}
			break
		}
	}
	p.skipAttributes()
	if tag != "" {
		p.h.Records[tag] = rec
		p.h.Decls = append(p.h.Decls, rec)
	}
	t.Record = rec
	return t, nil
}

func (p *parser) enumSpec() (*Type, error) {
	kw := p.next()
	p.skipAttributes()
	var tag string
	if p.peek().Kind == Ident {
		tag = p.next().Text
	}
	p.skipAttributes()
	t := &Type{Kind: EnumType, Tag: tag}
	if p.accept(":") {
		if _, err := p.specifiers(); err != nil {
			return nil, err
		}
	}
	if !p.peek().is("{") {
		if tag == "" {
			return nil, errorf(p.peek().Pos, "expected identifier or '{' after 'enum'")
		}
		t.Enum = p.h.Enums[tag]
		return t, nil
	}
	p.next()

	e := &Enum{Tag: tag, Pos: kw.Pos}
	var next int64
	for {
		if p.accept("}") {
			break
		}
		name := p.next()
		if name.Kind != Ident {
			return nil, errorf(name.Pos, "expected identifier in enumerator list, found %s", describe(name))
		}
		p.skipAttributes()
		v := next
		if p.accept("=") {
			var err error
			if v, err = p.constExpr(); err != nil {
				return nil, err
			}
		}
		e.Values = append(e.Values, EnumValue{Name: name.Text, Value: v})
		p.h.values[name.Text] = v
		next = v + 1
		if p.accept(",") {
			continue
		}
		if err := p.expect("}"); err != nil {
			return nil, err
		}
		break
	}
	p.skipAttributes()
	if tag != "" {
		p.h.Enums[tag] = e
	}
	p.h.Decls = append(p.h.Decls, e)
	t.Enum = e
	return t, nil
}

// initializer returns the tokens up to the next top-level ',' or ';'.
func (p *parser) initializer() ([]Token, error) {
	start := p.peek()
	depth := 0
	var out []Token
	for {
		t := p.peek()
		switch {
		case p.atEOF():
			return nil, errorf(start.Pos, "expected ';' after initializer")
		case depth == 0 && (t.is(",") || t.is(";")):
			return out, nil
		case t.is("(") || t.is("{") || t.is("["):
			depth++
		case t.is(")") || t.is("}") || t.is("]"):
			depth--
		}
		out = append(out, p.next())
	}
}

func (p *parser) skipAttributes() {
	for {
		t := p.peek()
		switch {
		case t.Kind == Ident && attributes[t.Text]:
			p.next()
			if p.peek().is("(") {
				_ = p.skipBalanced("(", ")")
			}
		case t.is("[") && p.peekN(1).is("["):
			_ = p.skipBalanced("[", "]")
		default:
			return
		}
	}
}

func (p *parser) skipBalanced(open, close string) error {
	start := p.peek()
	if err := p.expect(open); err != nil {
		return err
	}
	for depth := 1; depth > 0; {
		if p.atEOF() {
			return errorf(start.Pos, "expected %q to match %q", close, open)
		}
		t := p.next()
		switch {
		case t.is(open):
			depth++
		case t.is(close):
			depth--
		}
	}
	return nil
}

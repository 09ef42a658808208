package cheader

import (
	"os"
	"path/filepath"
	"strings"
)

const maxIncludeDepth = 200

// Options configure preprocessing.
type Options struct {
	// IncludeDirs are searched for quoted includes after the including
	// file's directory, and for angled includes.
	IncludeDirs []string

	// TargetOS selects the platform macros (_WIN32, __linux__, __APPLE__).
	TargetOS string

	// Defines are extra object-like macros. An empty value defines the
	// macro as 1.
	Defines map[string]string
}

type macro struct {
	name     string
	params   []string
	variadic bool
	funcLike bool
	body     []Token
	pos      Pos
	builtin  bool
}

func (m *macro) param(name string) int {
	for i, p := range m.params {
		if p == name {
			return i
		}
	}
	if m.variadic && name == "__VA_ARGS__" {
		return len(m.params)
	}
	return -1
}

type cond struct {
	parent   bool // the enclosing region is active
	active   bool
	taken    bool // some branch has been active
	elseSeen bool
	pos      Pos
}

// MacroDef is an object-like macro that survived to the end of the
// translation unit, with its body fully expanded.
type MacroDef struct {
	Name string
	Body []Token
	Pos  Pos
}

// Unit is the preprocessor output.
type Unit struct {
	Tokens  []Token
	Macros  []MacroDef
	Files   []string
	Skipped []string
}

type preprocessor struct {
	opts    Options
	macros  map[string]*macro
	order   []*macro
	once    map[string]bool
	conds   []cond
	out     []Token
	files   []string
	skipped []string
	depth   int
}

type srcFile struct {
	path string
	abs  string
}

// Preprocess reads path and everything it includes.
func Preprocess(path string, opts Options) (*Unit, error) {
	p := &preprocessor{
		opts:   opts,
		macros: make(map[string]*macro),
		once:   make(map[string]bool),
	}
	if err := p.predefine(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, errorf(Pos{File: path}, "'%s' file not found", path)
	}
	if err := p.file(path); err != nil {
		return nil, err
	}

	u := &Unit{Tokens: p.out, Files: p.files, Skipped: p.skipped}
	for _, m := range p.order {
		if m.builtin || m.funcLike || len(m.body) == 0 || p.macros[m.name] != m {
			continue
		}
		body, err := p.expand(m.body)
		if err != nil {
			continue
		}
		u.Macros = append(u.Macros, MacroDef{Name: m.name, Body: body, Pos: m.pos})
	}
	return u, nil
}

func (p *preprocessor) predefine() error {
	defs := map[string]string{
		"__STDC__":           "1",
		"__STDC_VERSION__":   "201112L",
		"__SIZEOF_POINTER__": "8",
	}
	switch p.opts.TargetOS {
	case "windows":
		defs["_WIN32"] = "1"
		defs["_WIN64"] = "1"
	case "linux":
		defs["__linux__"] = "1"
		defs["__linux"] = "1"
		defs["__unix__"] = "1"
		defs["__unix"] = "1"
	case "darwin":
		defs["__APPLE__"] = "1"
		defs["__MACH__"] = "1"
	}
	for k, v := range p.opts.Defines {
		if v == "" {
			v = "1"
		}
		defs[k] = v
	}
	for name, value := range defs {
		body, err := lex("<built-in>", 1, value)
		if err != nil {
			return err
		}
		p.macros[name] = &macro{name: name, body: body, pos: Pos{File: "<built-in>"}, builtin: true}
	}
	return nil
}

func (p *preprocessor) active() bool {
	return len(p.conds) == 0 || p.conds[len(p.conds)-1].active
}

func (p *preprocessor) file(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	if p.once[abs] {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return errorf(Pos{File: path}, "%v", err)
	}
	p.files = append(p.files, path)
	f := srcFile{path: path, abs: abs}

	base := len(p.conds)
	var pending []Token
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		toks, err := p.expand(pending)
		pending = nil
		if err != nil {
			return err
		}
		p.out = append(p.out, toks...)
		return nil
	}

	text, open := stripComments(string(data))
	if open >= 0 {
		return errorf(offsetPos(path, string(data), open), "unterminated comment")
	}
	lines := logicalLines(text)
	for _, ln := range lines {
		trimmed := strings.TrimLeft(ln.text, " \t")
		if strings.HasPrefix(trimmed, "#") {
			if err := flush(); err != nil {
				return err
			}
			col := len(ln.text) - len(trimmed) + 1
			if err := p.directive(f, Pos{File: path, Line: ln.line, Col: col}, trimmed[1:]); err != nil {
				return err
			}
			continue
		}
		if !p.active() || strings.TrimSpace(ln.text) == "" {
			continue
		}
		toks, err := lex(path, ln.line, ln.text)
		if err != nil {
			return err
		}
		pending = append(pending, toks...)
	}
	if err := flush(); err != nil {
		return err
	}
	if len(p.conds) > base {
		return errorf(p.conds[len(p.conds)-1].pos, "unterminated conditional directive")
	}
	return nil
}

func (p *preprocessor) directive(f srcFile, pos Pos, line string) error {
	line = strings.TrimLeft(line, " \t")
	n := 0
	for n < len(line) && isIdentByte(line[n]) {
		n++
	}
	name, args := line[:n], line[n:]

	switch name {
	case "if", "ifdef", "ifndef":
		if !p.active() {
			p.conds = append(p.conds, cond{taken: true, pos: pos})
			return nil
		}
		var ok bool
		var err error
		switch name {
		case "if":
			ok, err = p.evalIf(pos, args)
		case "ifdef":
			ok, err = p.isDefined(pos, args)
		default:
			ok, err = p.isDefined(pos, args)
			ok = !ok
		}
		if err != nil {
			return err
		}
		p.conds = append(p.conds, cond{parent: true, active: ok, taken: ok, pos: pos})
		return nil

	case "elif":
		c, err := p.top(pos, name)
		if err != nil {
			return err
		}
		if c.elseSeen {
			return errorf(pos, "#elif after #else")
		}
		if !c.parent || c.taken {
			c.active = false
			return nil
		}
		ok, err := p.evalIf(pos, args)
		if err != nil {
			return err
		}
		c.active, c.taken = ok, ok
		return nil

	case "else":
		c, err := p.top(pos, name)
		if err != nil {
			return err
		}
		if c.elseSeen {
			return errorf(pos, "#else after #else")
		}
		c.active = c.parent && !c.taken
		c.taken = true
		c.elseSeen = true
		return nil

	case "endif":
		if _, err := p.top(pos, name); err != nil {
			return err
		}
		p.conds = p.conds[:len(p.conds)-1]
		return nil
	}

	if !p.active() {
		return nil
	}

	switch name {
	case "define":
		return p.define(pos, args)
	case "undef":
		toks, err := lex(pos.File, pos.Line, args)
		if err != nil {
			return err
		}
		if len(toks) == 0 || toks[0].Kind != Ident {
			return errorf(pos, "no macro name given in #undef directive")
		}
		delete(p.macros, toks[0].Text)
		return nil
	case "include", "include_next", "import":
		return p.include(f, pos, args)
	case "pragma":
		if strings.TrimSpace(args) == "once" {
			p.once[f.abs] = true
		}
		return nil
	case "error":
		return errorf(pos, "#error %s", strings.TrimSpace(args))
	case "", "warning", "line", "ident", "sccs":
		return nil
	}
	return errorf(pos, "invalid preprocessing directive #%s", name)
}

func (p *preprocessor) top(pos Pos, name string) (*cond, error) {
	if len(p.conds) == 0 {
		return nil, errorf(pos, "#%s without #if", name)
	}
	return &p.conds[len(p.conds)-1], nil
}

func (p *preprocessor) isDefined(pos Pos, args string) (bool, error) {
	toks, err := lex(pos.File, pos.Line, args)
	if err != nil {
		return false, err
	}
	if len(toks) == 0 || toks[0].Kind != Ident {
		return false, errorf(pos, "no macro name given")
	}
	return p.macros[toks[0].Text] != nil, nil
}

func (p *preprocessor) define(pos Pos, args string) error {
	toks, err := lex(pos.File, pos.Line, args)
	if err != nil {
		return err
	}
	if len(toks) == 0 || toks[0].Kind != Ident {
		return errorf(pos, "macro name missing")
	}
	m := &macro{name: toks[0].Text, pos: toks[0].Pos}
	rest := toks[1:]
	if len(rest) > 0 && rest[0].is("(") && !rest[0].Space {
		m.funcLike = true
		i := 1
		for ; i < len(rest) && !rest[i].is(")"); i++ {
			t := rest[i]
			switch {
			case t.is(","):
			case t.is("..."):
				m.variadic = true
			case t.Kind == Ident:
				m.params = append(m.params, t.Text)
			default:
				return errorf(t.Pos, "unexpected %q in macro parameter list", t.Text)
			}
		}
		if i == len(rest) {
			return errorf(pos, "missing ')' in macro parameter list")
		}
		rest = rest[i+1:]
	}
	m.body = append([]Token(nil), rest...)
	if len(m.body) > 0 {
		m.body[0].Space = false
	}
	p.macros[m.name] = m
	p.order = append(p.order, m)
	return nil
}

func (p *preprocessor) evalIf(pos Pos, args string) (bool, error) {
	toks, err := lex(pos.File, pos.Line, args)
	if err != nil {
		return false, err
	}
	var in []Token
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if t.Kind != Ident || t.Text != "defined" {
			in = append(in, t)
			continue
		}
		j := i + 1
		paren := j < len(toks) && toks[j].is("(")
		if paren {
			j++
		}
		if j >= len(toks) || toks[j].Kind != Ident {
			return false, errorf(t.Pos, "operator \"defined\" requires an identifier")
		}
		v := "0"
		if p.macros[toks[j].Text] != nil {
			v = "1"
		}
		if paren {
			j++
			if j >= len(toks) || !toks[j].is(")") {
				return false, errorf(t.Pos, "missing ')' after \"defined\"")
			}
		}
		in = append(in, Token{Kind: Int, Text: v, Pos: t.Pos})
		i = j
	}

	out, err := p.expand(in)
	if err != nil {
		return false, err
	}
	for i := range out {
		if out[i].Kind == Ident {
			out[i] = Token{Kind: Int, Text: "0", Pos: out[i].Pos}
		}
	}
	if len(out) == 0 {
		return false, errorf(pos, "#if with no expression")
	}
	v, err := newParser(out, nil).constExpr()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

func (p *preprocessor) include(f srcFile, pos Pos, args string) error {
	args = strings.TrimSpace(args)
	if !strings.HasPrefix(args, "\"") && !strings.HasPrefix(args, "<") {
		// Computed include.
		toks, err := lex(pos.File, pos.Line, args)
		if err != nil {
			return err
		}
		toks, err = p.expand(toks)
		if err != nil {
			return err
		}
		var b strings.Builder
		for _, t := range toks {
			b.WriteString(t.Text)
		}
		args = b.String()
	}

	var name string
	angled := false
	switch {
	case strings.HasPrefix(args, "\""):
		end := strings.IndexByte(args[1:], '"')
		if end < 0 {
			return errorf(pos, "missing terminating \" character")
		}
		name = args[1 : 1+end]
	case strings.HasPrefix(args, "<"):
		end := strings.IndexByte(args, '>')
		if end < 0 {
			return errorf(pos, "missing terminating > character")
		}
		name = args[1:end]
		angled = true
	default:
		return errorf(pos, "#include expects \"FILENAME\" or <FILENAME>")
	}

	var dirs []string
	if !angled {
		dirs = append(dirs, filepath.Dir(f.path))
	}
	dirs = append(dirs, p.opts.IncludeDirs...)
	for _, dir := range dirs {
		candidate := filepath.Join(dir, filepath.FromSlash(name))
		if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
			if p.depth >= maxIncludeDepth {
				return errorf(pos, "#include nested too deeply")
			}
			p.depth++
			defer func() { p.depth-- }()
			return p.file(candidate)
		}
	}
	if angled {
		p.skipped = append(p.skipped, name)
		return nil
	}
	return errorf(pos, "'%s' file not found", name)
}

// expand performs macro replacement on toks.
func (p *preprocessor) expand(in []Token) ([]Token, error) {
	toks := append([]Token(nil), in...)
	var out []Token
	for len(toks) > 0 {
		t := toks[0]
		var m *macro
		if t.Kind == Ident && !t.hidden(t.Text) {
			m = p.macros[t.Text]
		}
		if m == nil {
			out = append(out, t)
			toks = toks[1:]
			continue
		}
		if !m.funcLike {
			body, err := p.subst(m, nil, t)
			if err != nil {
				return nil, err
			}
			toks = append(body, toks[1:]...)
			continue
		}
		if len(toks) < 2 || !toks[1].is("(") {
			out = append(out, t)
			toks = toks[1:]
			continue
		}
		args, next, ok := collectArgs(toks, 1)
		if !ok {
			return nil, errorf(t.Pos, "unterminated argument list invoking macro %q", m.name)
		}
		if len(m.params) == 0 && len(args) == 1 && len(args[0]) == 0 {
			args = nil
		}
		switch {
		case m.variadic && len(args) < len(m.params):
			return nil, errorf(t.Pos, "macro %q requires at least %d arguments, but only %d given", m.name, len(m.params), len(args))
		case !m.variadic && len(args) != len(m.params):
			return nil, errorf(t.Pos, "macro %q requires %d arguments, but %d given", m.name, len(m.params), len(args))
		}
		if m.variadic {
			var va []Token
			for i, a := range args[len(m.params):] {
				if i > 0 {
					va = append(va, Token{Kind: Punct, Text: ",", Pos: t.Pos})
				}
				va = append(va, a...)
			}
			args = append(args[:len(m.params):len(m.params)], va)
		}
		body, err := p.subst(m, args, t)
		if err != nil {
			return nil, err
		}
		toks = append(body, toks[next:]...)
	}
	return out, nil
}

// subst returns the replacement list of m for the invocation at inv.
func (p *preprocessor) subst(m *macro, args [][]Token, inv Token) ([]Token, error) {
	var out []Token
	body := m.body
	for i := 0; i < len(body); i++ {
		b := body[i]
		if m.funcLike && b.is("#") && i+1 < len(body) {
			if idx := m.param(body[i+1].Text); idx >= 0 && body[i+1].Kind == Ident {
				out = append(out, stringify(args[idx], b.Pos))
				i++
				continue
			}
		}
		if m.funcLike && b.Kind == Ident {
			if idx := m.param(b.Text); idx >= 0 {
				pasted := (i+1 < len(body) && body[i+1].is("##")) || (i > 0 && body[i-1].is("##"))
				arg := args[idx]
				if !pasted {
					var err error
					if arg, err = p.expand(arg); err != nil {
						return nil, err
					}
				}
				for j, a := range arg {
					if j == 0 {
						a.Space = b.Space
					}
					out = append(out, a)
				}
				continue
			}
		}
		out = append(out, b)
	}

	out, err := paste(out)
	if err != nil {
		return nil, err
	}
	hide := append(append([]string(nil), inv.hide...), m.name)
	for i := range out {
		out[i].hide = append(append([]string(nil), out[i].hide...), hide...)
		out[i].Pos = inv.Pos
	}
	if len(out) > 0 {
		out[0].Space = inv.Space
	}
	return out, nil
}

func paste(toks []Token) ([]Token, error) {
	var out []Token
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if !t.is("##") {
			out = append(out, t)
			continue
		}
		if i+1 >= len(toks) || len(out) == 0 {
			// Pasting with an empty argument leaves the other side alone.
			continue
		}
		left := out[len(out)-1]
		right := toks[i+1]
		i++
		joined, err := lex(left.Pos.File, left.Pos.Line, left.Text+right.Text)
		if err != nil || len(joined) != 1 {
			return nil, errorf(left.Pos, "pasting %q and %q does not give a valid preprocessing token", left.Text, right.Text)
		}
		joined[0].Pos = left.Pos
		joined[0].Space = left.Space
		out[len(out)-1] = joined[0]
	}
	return out, nil
}

func stringify(arg []Token, pos Pos) Token {
	var b strings.Builder
	for i, t := range arg {
		if i > 0 && t.Space {
			b.WriteByte(' ')
		}
		b.WriteString(t.Text)
	}
	s := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(b.String())
	return Token{Kind: String, Text: `"` + s + `"`, Pos: pos}
}

// collectArgs gathers the comma separated arguments of the invocation
// whose '(' is at toks[open]. It returns the index after the closing ')'.
func collectArgs(toks []Token, open int) ([][]Token, int, bool) {
	depth := 0
	var args [][]Token
	var cur []Token
	for i := open; i < len(toks); i++ {
		t := toks[i]
		switch {
		case t.is("("):
			depth++
			if depth == 1 {
				continue
			}
		case t.is(")"):
			depth--
			if depth == 0 {
				return append(args, cur), i + 1, true
			}
		case t.is(",") && depth == 1:
			args = append(args, cur)
			cur = nil
			continue
		}
		cur = append(cur, t)
	}
	return nil, 0, false
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

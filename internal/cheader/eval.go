package cheader

import (
	"strconv"
	"strings"
)

var precedence = map[string]int{
	"||": 1,
	"&&": 2,
	"|":  3,
	"^":  4,
	"&":  5,
	"==": 6, "!=": 6,
	"<": 7, ">": 7, "<=": 7, ">=": 7,
	"<<": 8, ">>": 8,
	"+": 9, "-": 9,
	"*": 10, "/": 10, "%": 10,
}

// constExpr evaluates an integer constant expression.
func (p *parser) constExpr() (int64, error) {
	c, err := p.binary(1)
	if err != nil {
		return 0, err
	}
	if !p.accept("?") {
		return c, nil
	}
	a, err := p.constExpr()
	if err != nil {
		return 0, err
	}
	if err := p.expect(":"); err != nil {
		return 0, err
	}
	b, err := p.constExpr()
	if err != nil {
		return 0, err
	}
	if c != 0 {
		return a, nil
	}
	return b, nil
}

func (p *parser) binary(minPrec int) (int64, error) {
	lhs, err := p.unary()
	if err != nil {
		return 0, err
	}
	for {
		op := p.peek()
		prec := 0
		if op.Kind == Punct {
			prec = precedence[op.Text]
		}
		if prec == 0 || prec < minPrec {
			return lhs, nil
		}
		p.next()
		rhs, err := p.binary(prec + 1)
		if err != nil {
			return 0, err
		}
		if lhs, err = apply(op, lhs, rhs); err != nil {
			return 0, err
		}
	}
}

func apply(op Token, a, b int64) (int64, error) {
	truth := func(c bool) int64 {
		if c {
			return 1
		}
		return 0
	}
	switch op.Text {
	case "||":
		return truth(a != 0 || b != 0), nil
	case "&&":
		return truth(a != 0 && b != 0), nil
	case "|":
		return a | b, nil
	case "^":
		return a ^ b, nil
	case "&":
		return a & b, nil
	case "==":
		return truth(a == b), nil
	case "!=":
		return truth(a != b), nil
	case "<":
		return truth(a < b), nil
	case ">":
		return truth(a > b), nil
	case "<=":
		return truth(a <= b), nil
	case ">=":
		return truth(a >= b), nil
	case "<<":
		if b < 0 || b > 63 {
			return 0, errorf(op.Pos, "shift count %d out of range", b)
		}
		return a << uint(b), nil
	case ">>":
		if b < 0 || b > 63 {
			return 0, errorf(op.Pos, "shift count %d out of range", b)
		}
		return a >> uint(b), nil
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "/", "%":
		if b == 0 {
			return 0, errorf(op.Pos, "division by zero in constant expression")
		}
		if op.Text == "/" {
			return a / b, nil
		}
		return a % b, nil
	}
	return 0, errorf(op.Pos, "unexpected operator %q", op.Text)
}

func (p *parser) unary() (int64, error) {
	t := p.peek()
	if t.Kind == Punct {
		switch t.Text {
		case "-", "+", "~", "!":
			p.next()
			v, err := p.unary()
			if err != nil {
				return 0, err
			}
			switch t.Text {
			case "-":
				return -v, nil
			case "~":
				return ^v, nil
			case "!":
				if v == 0 {
					return 1, nil
				}
				return 0, nil
			}
			return v, nil
		case "(":
			if p.h != nil && p.typeStart(p.peekN(1)) {
				p.next()
				typ, err := p.typeName()
				if err != nil {
					return 0, err
				}
				if err := p.expect(")"); err != nil {
					return 0, err
				}
				v, err := p.unary()
				if err != nil {
					return 0, err
				}
				return p.h.convert(typ, v), nil
			}
			p.next()
			v, err := p.constExpr()
			if err != nil {
				return 0, err
			}
			return v, p.expect(")")
		}
	}
	if t.Kind == Ident && t.Text == "sizeof" && p.h != nil {
		return p.sizeofExpr()
	}
	return p.primary()
}

func (p *parser) sizeofExpr() (int64, error) {
	kw := p.next()
	if p.peek().is("(") && p.typeStart(p.peekN(1)) {
		p.next()
		typ, err := p.typeName()
		if err != nil {
			return 0, err
		}
		if err := p.expect(")"); err != nil {
			return 0, err
		}
		n, ok := p.h.sizeOf(typ)
		if !ok {
			return 0, errorf(kw.Pos, "cannot evaluate sizeof(%s)", typ)
		}
		return n, nil
	}
	return 0, errorf(kw.Pos, "sizeof of an expression is not supported in constant expressions")
}

func (p *parser) primary() (int64, error) {
	t := p.next()
	switch t.Kind {
	case Int:
		return parseInt(t)
	case Char:
		return parseChar(t)
	case Float:
		return 0, errorf(t.Pos, "floating constant in integer constant expression")
	case Ident:
		if p.h != nil {
			if v, ok := p.h.values[t.Text]; ok {
				return v, nil
			}
		}
		return 0, errorf(t.Pos, "use of undeclared identifier %q", t.Text)
	}
	if t.Text == "" {
		return 0, errorf(t.Pos, "expected expression")
	}
	return 0, errorf(t.Pos, "expected expression before %q", t.Text)
}

func parseInt(t Token) (int64, error) {
	s := strings.TrimRight(t.Text, "uUlL")
	if v, err := strconv.ParseInt(s, 0, 64); err == nil {
		return v, nil
	}
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, errorf(t.Pos, "invalid integer constant %q", t.Text)
	}
	return int64(v), nil
}

func parseChar(t Token) (int64, error) {
	inner := strings.TrimPrefix(t.Text, "L")
	if len(inner) < 3 {
		return 0, errorf(t.Pos, "empty character constant")
	}
	v, _, _, err := strconv.UnquoteChar(inner[1:len(inner)-1], '\'')
	if err != nil {
		return 0, errorf(t.Pos, "invalid character constant %s", t.Text)
	}
	return int64(v), nil
}

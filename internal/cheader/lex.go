package cheader

import (
	"strings"
	"text/scanner"
)

// TokenKind classifies a Token.
type TokenKind int

const (
	Ident TokenKind = iota
	Int
	Float
	Char
	String
	Punct
)

// Token is a preprocessing token.
type Token struct {
	Kind TokenKind
	Text string
	Pos  Pos

	// Space is set when white space precedes the token on its line.
	Space bool

	// hide lists the macros this token was produced by; they do not expand
	// it again.
	hide []string
}

func (t Token) hidden(name string) bool {
	for _, h := range t.hide {
		if h == name {
			return true
		}
	}
	return false
}

func (t Token) is(text string) bool {
	return t.Kind == Punct && t.Text == text
}

var operators = map[string]bool{
	"<<": true, ">>": true, "<=": true, ">=": true, "==": true, "!=": true,
	"&&": true, "||": true, "->": true, "++": true, "--": true, "##": true,
	"+=": true, "-=": true, "*=": true, "/=": true, "%=": true, "&=": true,
	"|=": true, "^=": true, "<<=": true, ">>=": true, "..": true, "...": true,
	"::": true,
}

// lex splits one logical line into tokens. line is the line number of the
// first character.
func lex(file string, line int, src string) ([]Token, error) {
	var s scanner.Scanner
	s.Init(strings.NewReader(src))
	s.Filename = file
	s.Mode = scanner.ScanIdents | scanner.ScanInts | scanner.ScanFloats | scanner.ScanChars | scanner.ScanStrings
	s.Whitespace = 1<<' ' | 1<<'\t' | 1<<'\r' | 1<<'\f' | 1<<'\v' | 1<<'\n'

	var lexErr error
	s.Error = func(s *scanner.Scanner, msg string) {
		if lexErr == nil {
			p := s.Pos()
			lexErr = errorf(Pos{File: file, Line: line + p.Line - 1, Col: p.Column}, "%s", msg)
		}
	}

	var toks []Token
	prevEnd := 0
	for r := s.Scan(); r != scanner.EOF; r = s.Scan() {
		if lexErr != nil {
			return nil, lexErr
		}
		text := s.TokenText()
		off := s.Position.Offset
		space := off > prevEnd
		prevEnd = off + len(text)

		kind := Punct
		switch r {
		case scanner.Ident:
			kind = Ident
		case scanner.Int:
			kind = Int
		case scanner.Float:
			kind = Float
		case scanner.Char:
			kind = Char
		case scanner.String:
			kind = String
		}

		if n := len(toks); n > 0 && !space {
			last := &toks[n-1]
			if (last.Kind == Int || last.Kind == Float) && kind == Ident && isNumberSuffix(text) {
				last.Text += text
				continue
			}
			if last.Kind == Punct && kind == Punct && operators[last.Text+text] {
				last.Text += text
				continue
			}
		}

		toks = append(toks, Token{
			Kind:  kind,
			Text:  text,
			Pos:   Pos{File: file, Line: line + s.Position.Line - 1, Col: s.Position.Column},
			Space: space && len(toks) > 0,
		})
	}
	if lexErr != nil {
		return nil, lexErr
	}
	return toks, nil
}

func isNumberSuffix(s string) bool {
	for _, r := range s {
		switch r {
		case 'u', 'U', 'l', 'L', 'f', 'F':
		default:
			return false
		}
	}
	return s != ""
}

// logicalLine is a source line after continuation joining.
type logicalLine struct {
	line int
	text string
}

// stripComments replaces comments with a space, keeping newlines so that
// line numbers survive. unterminated is the offset of a block comment left
// open at the end of src, or -1.
func stripComments(src string) (out string, unterminated int) {
	unterminated = -1
	var b strings.Builder
	b.Grow(len(src))
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case c == '"' || c == '\'':
			// Literals end at their quote or at the end of the line.
			b.WriteByte(c)
			for i++; i < len(src); i++ {
				b.WriteByte(src[i])
				if src[i] == '\\' && i+1 < len(src) && src[i+1] != '\n' {
					i++
					b.WriteByte(src[i])
					continue
				}
				if src[i] == c || src[i] == '\n' {
					break
				}
			}
		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			for i < len(src) && src[i] != '\n' {
				// A continued line comment spans the next line too.
				if src[i] == '\\' && i+1 < len(src) && src[i+1] == '\n' {
					b.WriteByte('\n')
					i++
				}
				i++
			}
			b.WriteByte(' ')
			if i < len(src) {
				b.WriteByte('\n')
			}
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			b.WriteByte(' ')
			start, closed := i, false
			for i += 2; i < len(src); i++ {
				if src[i] == '*' && i+1 < len(src) && src[i+1] == '/' {
					i++
					closed = true
					break
				}
				if src[i] == '\n' {
					b.WriteByte('\n')
				}
			}
			if !closed {
				unterminated = start
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), unterminated
}

// offsetPos converts a byte offset of src into a line and column.
func offsetPos(path, src string, off int) Pos {
	line := 1 + strings.Count(src[:off], "\n")
	col := off - strings.LastIndexByte(src[:off], '\n')
	return Pos{File: path, Line: line, Col: col}
}

// logicalLines splits src into lines and joins backslash continuations.
func logicalLines(src string) []logicalLine {
	physical := strings.Split(strings.ReplaceAll(src, "\r\n", "\n"), "\n")
	var out []logicalLine
	for i := 0; i < len(physical); i++ {
		start := i
		text := physical[i]
		for strings.HasSuffix(text, "\\") && i+1 < len(physical) {
			i++
			text = text[:len(text)-1] + physical[i]
		}
		out = append(out, logicalLine{line: start + 1, text: text})
	}
	return out
}

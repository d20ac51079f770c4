package parse

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dosh-shell/dosh/pkg/diag"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNewline
	tokIdent
	tokNumber
	tokString
	tokPunct
)

type token struct {
	kind tokenKind
	// Raw text for idents and puncts; decoded value for strings; literal
	// text for numbers.
	text string
	diag.Ranging
}

// Multi-rune punctuation, longest first so that maximal munch works.
var puncts = []string{
	"===", "!==",
	"=>", "==", "!=", "<=", ">=", "&&", "||",
	"(", ")", "[", "]", "{", "}", ",", ";", ":", ".", "?",
	"=", "<", ">", "+", "-", "*", "/", "%", "!",
}

type lexer struct {
	ps  *parser
	src string
	pos int
}

func (lx *lexer) run() []token {
	var toks []token
	for {
		tok, ok := lx.next()
		if !ok {
			continue
		}
		toks = append(toks, tok)
		if tok.kind == tokEOF {
			return toks
		}
	}
}

// next scans one token. The second return value is false when the scan
// consumed input without producing a token (whitespace, comments).
func (lx *lexer) next() (token, bool) {
	start := lx.pos
	r := lx.peek()
	switch {
	case r == eof:
		return token{tokEOF, "", diag.PointRanging(lx.pos)}, true
	case r == '\n':
		lx.pos++
		return token{tokNewline, "\n", diag.Ranging{From: start, To: lx.pos}}, true
	case r == ' ' || r == '\t' || r == '\r':
		lx.pos++
		return token{}, false
	case r == '/' && lx.hasPrefix("//"):
		for lx.peek() != '\n' && lx.peek() != eof {
			lx.advance()
		}
		return token{}, false
	case r == '/' && lx.hasPrefix("/*"):
		lx.pos += 2
		for !lx.hasPrefix("*/") {
			if lx.peek() == eof {
				// Can be completed by more input.
				lx.ps.errorPartial(diag.Ranging{From: start, To: lx.pos},
					errUnterminatedComment)
				return token{tokEOF, "", diag.PointRanging(lx.pos)}, true
			}
			lx.advance()
		}
		lx.pos += 2
		return token{}, false
	case r == '"' || r == '\'':
		return lx.string(r), true
	case unicode.IsDigit(r):
		return lx.number(), true
	case isIdentStart(r):
		for isIdentCont(lx.peek()) {
			lx.advance()
		}
		return token{tokIdent, lx.src[start:lx.pos], diag.Ranging{From: start, To: lx.pos}}, true
	default:
		for _, p := range puncts {
			if lx.hasPrefix(p) {
				lx.pos += len(p)
				return token{tokPunct, p, diag.Ranging{From: start, To: lx.pos}}, true
			}
		}
		lx.advance()
		lx.ps.error(diag.Ranging{From: start, To: lx.pos},
			fmt.Errorf("unexpected character %q", r))
		return token{}, false
	}
}

func (lx *lexer) string(quote rune) token {
	start := lx.pos
	lx.pos++ // opening quote
	var sb strings.Builder
	for {
		r := lx.peek()
		switch r {
		case quote:
			lx.pos++
			return token{tokString, sb.String(), diag.Ranging{From: start, To: lx.pos}}
		case eof, '\n':
			// Strings cannot span lines, so this is never recoverable.
			lx.ps.error(diag.Ranging{From: start, To: lx.pos}, errUnterminatedString)
			return token{tokString, sb.String(), diag.Ranging{From: start, To: lx.pos}}
		case '\\':
			lx.pos++
			esc := lx.peek()
			switch esc {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case '\\', '\'', '"':
				sb.WriteRune(esc)
			case eof:
				continue
			default:
				lx.ps.error(diag.Ranging{From: lx.pos - 1, To: lx.pos + 1},
					fmt.Errorf("invalid escape sequence \\%c", esc))
			}
			lx.advance()
		default:
			sb.WriteRune(r)
			lx.advance()
		}
	}
}

func (lx *lexer) number() token {
	start := lx.pos
	digits := func() {
		for unicode.IsDigit(lx.peek()) {
			lx.advance()
		}
	}
	digits()
	if lx.peek() == '.' {
		lx.advance()
		digits()
	}
	if r := lx.peek(); r == 'e' || r == 'E' {
		lx.advance()
		if r := lx.peek(); r == '+' || r == '-' {
			lx.advance()
		}
		digits()
	}
	return token{tokNumber, lx.src[start:lx.pos], diag.Ranging{From: start, To: lx.pos}}
}

const eof rune = -1

func (lx *lexer) peek() rune {
	if lx.pos == len(lx.src) {
		return eof
	}
	r, _ := utf8.DecodeRuneInString(lx.src[lx.pos:])
	return r
}

func (lx *lexer) advance() {
	if lx.pos < len(lx.src) {
		_, s := utf8.DecodeRuneInString(lx.src[lx.pos:])
		lx.pos += s
	}
}

func (lx *lexer) hasPrefix(prefix string) bool {
	return strings.HasPrefix(lx.src[lx.pos:], prefix)
}

func isIdentStart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r)
}

func isIdentCont(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r)
}

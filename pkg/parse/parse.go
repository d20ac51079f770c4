// Package parse implements the parser for the dosh scripting language, a
// small dynamically typed expression language with a fluent method-call
// syntax.
//
// Parse errors carry the source range of the offending text. An error whose
// Partial field is true means the input is incomplete rather than wrong
// (e.g. an unterminated block at the end of input); interactive callers
// should respond by reading more input instead of reporting failure.
package parse

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/dosh-shell/dosh/pkg/diag"
)

// Error is a parse error.
type Error = diag.Error[ErrorTag]

// ErrorTag parameterizes [diag.Error] to define [Error].
type ErrorTag struct{}

// ErrorTag implements the [diag.ErrorTag] interface.
func (ErrorTag) ErrorTag() string { return "syntax error" }

// Config keeps configuration options for parsing.
type Config struct {
	// Reports whether a leading bare word starts a direct command
	// statement, like "show" in "show dbs". A nil function disables
	// direct-command parsing.
	IsDirectCommand func(name string) bool
}

var (
	errUnterminatedString  = errors.New("string not terminated")
	errUnterminatedComment = errors.New("comment not terminated")
)

// Parse parses the given source as a program. The returned error, if not
// nil, always unpacks to [Error] values via [UnpackErrors].
func Parse(src Source, cfg Config) (*Program, error) {
	ps := &parser{src: src, cfg: cfg}
	ps.toks = (&lexer{ps: ps, src: src.Code}).run()
	prog := &Program{Ranging: diag.Ranging{From: 0, To: len(src.Code)}}
	if len(ps.errors) == 0 {
		func() {
			defer func() {
				if r := recover(); r != nil && r != bailout {
					panic(r)
				}
			}()
			prog.Stmts = ps.program()
		}()
	}
	return prog, diag.PackErrors(ps.errors)
}

// UnpackErrors returns the constituent parse errors if the given error
// contains one or more parse errors. Otherwise it returns nil.
func UnpackErrors(e error) []*Error {
	return diag.UnpackErrors[ErrorTag](e)
}

// IsPartialError reports whether err is a parse error caused by incomplete
// input, meaning the caller should read more input rather than fail.
func IsPartialError(err error) bool {
	errs := UnpackErrors(err)
	if len(errs) == 0 {
		return false
	}
	for _, e := range errs {
		if !e.Partial {
			return false
		}
	}
	return true
}

// Sentinel used with panic to unwind the parser after an error.
var bailout = new(int)

type parser struct {
	src    Source
	cfg    Config
	toks   []token
	idx    int
	errors []*Error
}

func (ps *parser) error(r diag.Ranger, e error) {
	ps.errorf(r, false, e)
}

func (ps *parser) errorPartial(r diag.Ranger, e error) {
	ps.errorf(r, true, e)
}

func (ps *parser) errorf(r diag.Ranger, partial bool, e error) {
	ps.errors = append(ps.errors, &Error{
		Message: e.Error(),
		Context: *diag.NewContext(ps.src.Name, ps.src.Code, r),
		Partial: partial,
	})
}

// fail records an error and unwinds the parser. An error at end of input is
// partial: more input may complete the construct.
func (ps *parser) fail(r diag.Ranger, e error) {
	ps.errorf(r, ps.cur().kind == tokEOF, e)
	panic(bailout)
}

func (ps *parser) cur() token  { return ps.toks[ps.idx] }
func (ps *parser) next() token { t := ps.toks[ps.idx]; ps.advance(); return t }

func (ps *parser) advance() {
	if ps.idx < len(ps.toks)-1 {
		ps.idx++
	}
}

// skipn skips newline tokens, used at points where a line break does not
// terminate the current construct.
func (ps *parser) skipn() {
	for ps.cur().kind == tokNewline {
		ps.advance()
	}
}

func (ps *parser) atPunct(text string) bool {
	t := ps.cur()
	return t.kind == tokPunct && t.text == text
}

func (ps *parser) atKeyword(name string) bool {
	t := ps.cur()
	return t.kind == tokIdent && t.text == name
}

func (ps *parser) eatPunct(text string) bool {
	if ps.atPunct(text) {
		ps.advance()
		return true
	}
	return false
}

func (ps *parser) expectPunct(text string) token {
	if !ps.atPunct(text) {
		ps.fail(ps.cur(), fmt.Errorf("should be %q", text))
	}
	return ps.next()
}

func (ps *parser) expectIdent(what string) token {
	t := ps.cur()
	if t.kind != tokIdent || isReserved(t.text) {
		ps.fail(t, fmt.Errorf("should be %s", what))
	}
	return ps.next()
}

var reserved = map[string]bool{
	"let": true, "const": true, "if": true, "else": true, "while": true,
	"for": true, "of": true, "return": true, "true": true, "false": true,
	"null": true, "await": true,
}

func isReserved(name string) bool { return reserved[name] }

func (ps *parser) program() []Stmt {
	var stmts []Stmt
	ps.skipSeps()
	for ps.cur().kind != tokEOF {
		stmts = append(stmts, ps.stmt())
		ps.stmtEnd()
	}
	return stmts
}

// skipSeps skips statement separators: semicolons and newlines.
func (ps *parser) skipSeps() {
	for ps.cur().kind == tokNewline || ps.atPunct(";") {
		ps.advance()
	}
}

// stmtEnd checks that the current token may legally follow a statement, and
// skips any separators.
func (ps *parser) stmtEnd() {
	t := ps.cur()
	if t.kind == tokNewline || t.kind == tokEOF || ps.atPunct(";") || ps.atPunct("}") {
		ps.skipSeps()
		return
	}
	// A statement whose last token is a closing brace is self-delimiting;
	// the next statement may start on the same line.
	if ps.idx > 0 {
		prev := ps.toks[ps.idx-1]
		if prev.kind == tokPunct && prev.text == "}" {
			return
		}
	}
	ps.fail(t, errors.New("should be ';', newline or '}' after statement"))
}

func (ps *parser) stmt() Stmt {
	t := ps.cur()
	if t.kind == tokIdent {
		switch t.text {
		case "let", "const":
			return ps.decl()
		case "if":
			return ps.ifStmt()
		case "while":
			return ps.whileStmt()
		case "for":
			return ps.forStmt()
		case "return":
			return ps.returnStmt()
		default:
			if ps.cfg.IsDirectCommand != nil && ps.cfg.IsDirectCommand(t.text) &&
				ps.startsDirectCmd() {
				return ps.directCmd()
			}
		}
	}
	if ps.atPunct("{") {
		return ps.block()
	}
	x := ps.expr()
	return &ExprStmt{x.Range(), x}
}

// A bare word only starts a direct command when what follows cannot
// continue an ordinary expression: bareword arguments or the end of the
// statement.
func (ps *parser) startsDirectCmd() bool {
	next := ps.toks[ps.idx+1]
	switch next.kind {
	case tokIdent, tokString, tokNumber, tokNewline, tokEOF:
		return true
	case tokPunct:
		return next.text == ";"
	}
	return false
}

func (ps *parser) directCmd() Stmt {
	name := ps.next()
	cmd := &DirectCmd{Ranging: name.Ranging, Name: name.text}
	for {
		t := ps.cur()
		if t.kind != tokIdent && t.kind != tokString && t.kind != tokNumber {
			break
		}
		ps.advance()
		cmd.Args = append(cmd.Args, t.text)
		cmd.To = t.To
	}
	return cmd
}

func (ps *parser) decl() Stmt {
	kw := ps.next()
	isConst := kw.text == "const"
	name := ps.expectIdent("variable name")
	d := &Decl{Ranging: diag.Ranging{From: kw.From, To: name.To},
		Const: isConst, Name: name.text}
	if ps.atPunct("=") {
		ps.advance()
		ps.skipn()
		d.Init = ps.expr()
		d.To = d.Init.Range().To
	} else if isConst {
		ps.fail(ps.cur(), errors.New("should be '=': const declaration needs an initializer"))
	}
	return d
}

func (ps *parser) ifStmt() Stmt {
	kw := ps.next()
	ps.expectPunct("(")
	ps.skipn()
	cond := ps.expr()
	ps.skipn()
	ps.expectPunct(")")
	ps.skipn()
	then := ps.block()
	out := &If{Ranging: diag.MixedRanging(kw, then), Cond: cond, Then: then}
	// Allow the else on the next line.
	mark := ps.idx
	ps.skipn()
	if ps.atKeyword("else") {
		ps.advance()
		ps.skipn()
		if ps.atKeyword("if") {
			out.Else = ps.ifStmt()
		} else {
			out.Else = ps.block()
		}
		out.To = out.Else.Range().To
	} else {
		ps.idx = mark
	}
	return out
}

func (ps *parser) whileStmt() Stmt {
	kw := ps.next()
	ps.expectPunct("(")
	ps.skipn()
	cond := ps.expr()
	ps.skipn()
	ps.expectPunct(")")
	ps.skipn()
	body := ps.block()
	return &While{diag.MixedRanging(kw, body), cond, body}
}

func (ps *parser) forStmt() Stmt {
	kw := ps.next()
	ps.expectPunct("(")
	ps.skipn()
	if ps.atKeyword("let") || ps.atKeyword("const") {
		ps.advance()
	}
	name := ps.expectIdent("loop variable")
	if !ps.atKeyword("of") {
		ps.fail(ps.cur(), errors.New("should be 'of'"))
	}
	ps.advance()
	ps.skipn()
	iter := ps.expr()
	ps.skipn()
	ps.expectPunct(")")
	ps.skipn()
	body := ps.block()
	return &ForOf{diag.MixedRanging(kw, body), name.text, iter, body}
}

func (ps *parser) returnStmt() Stmt {
	kw := ps.next()
	out := &Return{Ranging: kw.Ranging}
	t := ps.cur()
	if t.kind != tokNewline && t.kind != tokEOF && !ps.atPunct(";") && !ps.atPunct("}") {
		out.Value = ps.expr()
		out.To = out.Value.Range().To
	}
	return out
}

func (ps *parser) block() *Block {
	open := ps.expectPunct("{")
	b := &Block{Ranging: open.Ranging}
	ps.skipSeps()
	for !ps.atPunct("}") {
		if ps.cur().kind == tokEOF {
			ps.fail(ps.cur(), errors.New("should be '}'"))
		}
		b.Stmts = append(b.Stmts, ps.stmt())
		ps.stmtEnd()
	}
	b.To = ps.next().To
	return b
}

// Expression parsing, precedence climbing.

func (ps *parser) expr() Expr { return ps.assignment() }

func (ps *parser) assignment() Expr {
	lhs := ps.conditional()
	if !ps.atPunct("=") {
		return lhs
	}
	switch lhs.(type) {
	case *Ident, *Member, *Index:
	default:
		ps.fail(lhs, errors.New("cannot assign to this expression"))
	}
	ps.advance()
	ps.skipn()
	rhs := ps.assignment()
	return &Assign{diag.MixedRanging(lhs, rhs), lhs, rhs}
}

func (ps *parser) conditional() Expr {
	cond := ps.binary(0)
	if !ps.atPunct("?") {
		return cond
	}
	ps.advance()
	ps.skipn()
	then := ps.assignment()
	ps.skipn()
	ps.expectPunct(":")
	ps.skipn()
	els := ps.assignment()
	return &Cond{diag.MixedRanging(cond, els), cond, then, els}
}

var binaryPrec = [][]string{
	{"||"},
	{"&&"},
	{"==", "!=", "===", "!=="},
	{"<", "<=", ">", ">="},
	{"+", "-"},
	{"*", "/", "%"},
}

func (ps *parser) binary(prec int) Expr {
	if prec == len(binaryPrec) {
		return ps.unary()
	}
	lhs := ps.binary(prec + 1)
	for {
		t := ps.cur()
		if t.kind != tokPunct || !contains(binaryPrec[prec], t.text) {
			return lhs
		}
		ps.advance()
		ps.skipn()
		rhs := ps.binary(prec + 1)
		lhs = &Binary{diag.MixedRanging(lhs, rhs), t.text, lhs, rhs}
	}
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

func (ps *parser) unary() Expr {
	t := ps.cur()
	if t.kind == tokPunct && (t.text == "!" || t.text == "-") {
		ps.advance()
		operand := ps.unary()
		return &Unary{diag.MixedRanging(t, operand), t.text, operand}
	}
	if ps.atKeyword("await") {
		ps.advance()
		operand := ps.unary()
		return &Await{diag.MixedRanging(t, operand), operand}
	}
	return ps.postfix()
}

func (ps *parser) postfix() Expr {
	x := ps.primary()
	for {
		switch {
		case ps.atPunct("."):
			ps.advance()
			ps.skipn()
			name := ps.cur()
			if name.kind != tokIdent {
				ps.fail(name, errors.New("should be property name"))
			}
			ps.advance()
			x = &Member{diag.MixedRanging(x, name), x, name.text, name.Ranging}
		case ps.atPunct("["):
			ps.advance()
			ps.skipn()
			idx := ps.expr()
			ps.skipn()
			close := ps.expectPunct("]")
			x = &Index{diag.MixedRanging(x, close), x, idx}
		case ps.atPunct("("):
			ps.advance()
			args, close := ps.callArgs()
			x = &Call{diag.MixedRanging(x, close), x, args}
		default:
			return x
		}
	}
}

func (ps *parser) callArgs() ([]Expr, token) {
	var args []Expr
	ps.skipn()
	for !ps.atPunct(")") {
		if ps.cur().kind == tokEOF {
			ps.fail(ps.cur(), errors.New("should be ')'"))
		}
		args = append(args, ps.assignment())
		ps.skipn()
		if ps.eatPunct(",") {
			ps.skipn()
		} else if !ps.atPunct(")") {
			ps.fail(ps.cur(), errors.New("should be ',' or ')'"))
		}
	}
	return args, ps.next()
}

func (ps *parser) primary() Expr {
	t := ps.cur()
	switch t.kind {
	case tokNumber:
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			ps.fail(t, fmt.Errorf("invalid number literal %q", t.text))
		}
		ps.advance()
		return &Number{t.Ranging, v}
	case tokString:
		ps.advance()
		return &String{t.Ranging, t.text}
	case tokIdent:
		switch t.text {
		case "true", "false":
			ps.advance()
			return &Bool{t.Ranging, t.text == "true"}
		case "null":
			ps.advance()
			return &Null{t.Ranging}
		}
		if isReserved(t.text) {
			ps.fail(t, fmt.Errorf("unexpected keyword %q", t.text))
		}
		if ps.toks[ps.idx+1].kind == tokPunct && ps.toks[ps.idx+1].text == "=>" {
			return ps.arrowFrom([]string{t.text}, t.Ranging)
		}
		ps.advance()
		return &Ident{t.Ranging, t.text}
	case tokPunct:
		switch t.text {
		case "(":
			if params, ok := ps.arrowParams(); ok {
				return ps.arrowFrom(params, t.Ranging)
			}
			ps.advance()
			ps.skipn()
			x := ps.expr()
			ps.skipn()
			ps.expectPunct(")")
			return x
		case "{":
			return ps.objectLit()
		case "[":
			return ps.arrayLit()
		}
	case tokEOF:
		ps.fail(t, errors.New("should be expression"))
	}
	ps.fail(t, fmt.Errorf("unexpected %q, should be expression", t.text))
	panic("unreachable")
}

// arrowParams checks whether the token stream at the current '(' is an arrow
// function parameter list. If so it consumes through the '=>' token's
// predecessor ')' and returns the parameter names.
func (ps *parser) arrowParams() ([]string, bool) {
	// Look ahead for ')' followed by '=>'. Parameter lists contain only
	// identifiers and commas, so the scan is cheap.
	i := ps.idx + 1
	var params []string
	for {
		t := ps.toks[i]
		if t.kind == tokIdent && !isReserved(t.text) {
			params = append(params, t.text)
			i++
			if ps.toks[i].kind == tokPunct && ps.toks[i].text == "," {
				i++
				continue
			}
		}
		break
	}
	if ps.toks[i].kind != tokPunct || ps.toks[i].text != ")" {
		return nil, false
	}
	if ps.toks[i+1].kind != tokPunct || ps.toks[i+1].text != "=>" {
		return nil, false
	}
	// Land on the ')'; arrowFrom advances onto the '=>'.
	ps.idx = i
	return params, true
}

// arrowFrom parses the remainder of an arrow function, with the current
// token being '=>'.
func (ps *parser) arrowFrom(params []string, start diag.Ranging) Expr {
	ps.advance() // the parameter or ')' before '=>'
	if !ps.atPunct("=>") {
		ps.fail(ps.cur(), errors.New("should be '=>'"))
	}
	ps.advance()
	ps.skipn()
	out := &Arrow{Ranging: start, Params: params}
	if ps.atPunct("{") {
		out.Body = ps.block()
		out.To = out.Body.To
	} else {
		out.Expr = ps.assignment()
		out.To = out.Expr.Range().To
	}
	return out
}

func (ps *parser) objectLit() Expr {
	open := ps.next()
	obj := &Object{Ranging: open.Ranging}
	ps.skipn()
	for !ps.atPunct("}") {
		if ps.cur().kind == tokEOF {
			ps.fail(ps.cur(), errors.New("should be '}'"))
		}
		key := ps.cur()
		if key.kind != tokIdent && key.kind != tokString {
			ps.fail(key, errors.New("should be property key"))
		}
		ps.advance()
		ps.skipn()
		ps.expectPunct(":")
		ps.skipn()
		val := ps.assignment()
		obj.Keys = append(obj.Keys, key.text)
		obj.Values = append(obj.Values, val)
		ps.skipn()
		if ps.eatPunct(",") {
			ps.skipn()
		} else if !ps.atPunct("}") {
			ps.fail(ps.cur(), errors.New("should be ',' or '}'"))
		}
	}
	obj.To = ps.next().To
	return obj
}

func (ps *parser) arrayLit() Expr {
	open := ps.next()
	arr := &Array{Ranging: open.Ranging}
	ps.skipn()
	for !ps.atPunct("]") {
		if ps.cur().kind == tokEOF {
			ps.fail(ps.cur(), errors.New("should be ']'"))
		}
		arr.Elems = append(arr.Elems, ps.assignment())
		ps.skipn()
		if ps.eatPunct(",") {
			ps.skipn()
		} else if !ps.atPunct("]") {
			ps.fail(ps.cur(), errors.New("should be ',' or ']'"))
		}
	}
	arr.To = ps.next().To
	return arr
}

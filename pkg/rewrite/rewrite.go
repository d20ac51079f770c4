// Package rewrite implements the type-directed source rewriter that turns
// synchronous-looking shell input into correctly sequenced asynchronous
// code.
//
// The rewriter walks the parsed input while tracking an inferred type for
// every lexical symbol, consults the signature catalog at each call site,
// and splices await wrappers into the original text where a call returns a
// deferred result. Builder-style call chains stay synchronous: only the
// terminal, result-producing call of a chain is awaited. Calls whose owner
// type cannot be inferred are routed through a runtime helper that awaits
// only actual deferred values.
//
// The inferred-type binding table persists across inputs within a session,
// so a variable assigned a cursor in one line is known to be a cursor in
// the next.
package rewrite

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dosh-shell/dosh/pkg/parse"
	"github.com/dosh-shell/dosh/pkg/sig"
)

// MaybeAwaitFn is the name of the injected runtime helper that resolves a
// value if and only if it is deferred.
const MaybeAwaitFn = "__maybeAwait"

// Rewriter rewrites shell input. It is not safe for concurrent use; a
// session evaluates one input at a time.
type Rewriter struct {
	catalog *sig.Catalog
	global  *scope
}

// New creates a Rewriter whose global binding table is seeded from the
// catalog's global symbols.
func New(catalog *sig.Catalog) *Rewriter {
	global := newScope(nil)
	for name, t := range catalog.SeedGlobals() {
		global.define(name, t)
	}
	return &Rewriter{catalog: catalog, global: global}
}

// Rewrite parses src and returns the rewritten text. Parse errors are
// returned unchanged, so callers can detect partial (incomplete input)
// errors with parse.IsPartialError. Any internal fault is recovered and
// reported as an error; the original text is never returned as a
// fallback.
func (rw *Rewriter) Rewrite(src parse.Source) (out string, err error) {
	prog, parseErr := parse.Parse(src, parse.Config{
		IsDirectCommand: rw.catalog.IsDirectCommand,
	})
	if parseErr != nil {
		return "", parseErr
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("internal rewriter error: %v", r)
		}
	}()
	w := &walker{rw: rw, src: src}
	for _, stmt := range prog.Stmts {
		w.stmt(stmt, rw.global)
	}
	return w.apply(), nil
}

// Binding returns the inferred type currently recorded for a session-level
// symbol, or sig.Unknown if there is none.
func (rw *Rewriter) Binding(name string) sig.TypeRef {
	if t, ok := rw.global.lookup(name); ok {
		return t
	}
	return sig.Unknown
}

// Scoped inferred-type bindings.

// env is the lookup/update surface shared by plain scopes and the
// copy-on-write views used for branch and loop bodies.
type env interface {
	lookup(name string) (sig.TypeRef, bool)
	// define binds a name here (declarations and parameters).
	define(name string, t sig.TypeRef)
	// set rebinds an existing name wherever it lives, or creates a
	// session-level binding when the name is new (assignment without
	// declaration).
	set(name string, t sig.TypeRef)
}

type scope struct {
	parent env
	vars   map[string]sig.TypeRef
}

func newScope(parent env) *scope {
	return &scope{parent: parent, vars: make(map[string]sig.TypeRef)}
}

func (s *scope) lookup(name string) (sig.TypeRef, bool) {
	if t, ok := s.vars[name]; ok {
		return t, true
	}
	if s.parent != nil {
		return s.parent.lookup(name)
	}
	return sig.Unknown, false
}

func (s *scope) define(name string, t sig.TypeRef) {
	s.vars[name] = t
}

func (s *scope) set(name string, t sig.TypeRef) {
	if _, ok := s.vars[name]; ok || s.parent == nil {
		s.vars[name] = t
		return
	}
	s.parent.set(name, t)
}

// branchView records assignments made inside a branch or loop body without
// letting them reach the underlying bindings, so the caller can merge them
// with widening afterwards.
type branchView struct {
	base   env
	locals map[string]sig.TypeRef
	writes map[string]sig.TypeRef
}

func newBranchView(base env) *branchView {
	return &branchView{
		base:   base,
		locals: make(map[string]sig.TypeRef),
		writes: make(map[string]sig.TypeRef),
	}
}

func (v *branchView) lookup(name string) (sig.TypeRef, bool) {
	if t, ok := v.locals[name]; ok {
		return t, true
	}
	if t, ok := v.writes[name]; ok {
		return t, true
	}
	return v.base.lookup(name)
}

func (v *branchView) define(name string, t sig.TypeRef) {
	v.locals[name] = t
}

func (v *branchView) set(name string, t sig.TypeRef) {
	if _, ok := v.locals[name]; ok {
		v.locals[name] = t
		return
	}
	v.writes[name] = t
}

func widen(a, b sig.TypeRef) sig.TypeRef {
	if a == b {
		return a
	}
	return sig.Unknown
}

// Text edits.

type edit struct {
	pos     int
	text    string
	seq     int
	replace int // length of replaced text; 0 for pure insertions
}

type walker struct {
	rw    *Rewriter
	src   parse.Source
	edits []edit
	seq   int
}

func (w *walker) insert(pos int, text string) {
	w.seq++
	w.edits = append(w.edits, edit{pos: pos, text: text, seq: w.seq})
}

func (w *walker) replaceRange(from, to int, text string) {
	w.seq++
	w.edits = append(w.edits, edit{pos: from, text: text, seq: w.seq, replace: to - from})
}

// apply splices the recorded edits into the original source, leaving all
// unaffected text byte-for-byte identical.
func (w *walker) apply() string {
	if len(w.edits) == 0 {
		return w.src.Code
	}
	edits := make([]edit, len(w.edits))
	copy(edits, w.edits)
	// At the same position, an edit recorded later belongs to an enclosing
	// expression and must be emitted first.
	sort.SliceStable(edits, func(i, j int) bool {
		if edits[i].pos != edits[j].pos {
			return edits[i].pos < edits[j].pos
		}
		return edits[i].seq > edits[j].seq
	})
	var sb strings.Builder
	prev := 0
	for _, e := range edits {
		if e.pos > prev {
			sb.WriteString(w.src.Code[prev:e.pos])
			prev = e.pos
		}
		sb.WriteString(e.text)
		prev += e.replace
	}
	sb.WriteString(w.src.Code[prev:])
	return sb.String()
}

// Statement walking.

func (w *walker) stmt(stmt parse.Stmt, sc env) {
	switch stmt := stmt.(type) {
	case *parse.Decl:
		t := sig.Unknown
		if stmt.Init != nil {
			t = w.expr(stmt.Init, sc, exprCtx{})
		}
		sc.define(stmt.Name, t)
	case *parse.ExprStmt:
		w.expr(stmt.X, sc, exprCtx{})
	case *parse.Block:
		inner := newScope(sc)
		for _, s := range stmt.Stmts {
			w.stmt(s, inner)
		}
	case *parse.If:
		w.expr(stmt.Cond, sc, exprCtx{})
		thenView := newBranchView(sc)
		w.stmtsIn(stmt.Then.Stmts, thenView)
		var elseWrites map[string]sig.TypeRef
		if stmt.Else != nil {
			elseView := newBranchView(sc)
			w.stmt(stmt.Else, elseView)
			elseWrites = elseView.writes
		}
		w.mergeJoin(sc, thenView.writes, elseWrites)
	case *parse.While:
		w.expr(stmt.Cond, sc, exprCtx{})
		w.loopBody(stmt.Body, sc, "")
	case *parse.ForOf:
		w.expr(stmt.Iter, sc, exprCtx{})
		w.loopBody(stmt.Body, sc, stmt.Name)
	case *parse.Return:
		if stmt.Value != nil {
			w.expr(stmt.Value, sc, exprCtx{})
		}
	case *parse.DirectCmd:
		w.directCmd(stmt)
	}
}

func (w *walker) stmtsIn(stmts []parse.Stmt, sc env) {
	for _, s := range stmts {
		w.stmt(s, sc)
	}
}

// mergeJoin merges the assignments of two branch arms back into sc. A name
// assigned the same type in every path keeps it; conflicting paths widen
// to unknown.
func (w *walker) mergeJoin(sc env, a, b map[string]sig.TypeRef) {
	names := make(map[string]bool)
	for k := range a {
		names[k] = true
	}
	for k := range b {
		names[k] = true
	}
	for name := range names {
		ta, aok := a[name]
		tb, bok := b[name]
		cur, bound := sc.lookup(name)
		// The arm that did not assign leaves the pre-branch binding in
		// place; a name new to both sides takes the assigning arm's type.
		if !aok {
			if bound {
				ta = cur
			} else {
				ta = tb
			}
		}
		if !bok {
			if bound {
				tb = cur
			} else {
				tb = ta
			}
		}
		sc.set(name, widen(ta, tb))
	}
}

// loopBody walks a loop body twice so that a binding changed late in the
// body is seen consistently from the start of the next iteration, then
// widens the post-loop bindings against the pre-loop ones (the loop may
// run zero times).
func (w *walker) loopBody(body *parse.Block, sc env, loopVar string) {
	for pass := 0; pass < 2; pass++ {
		view := newBranchView(sc)
		var walkEnv env = view
		if loopVar != "" {
			inner := newScope(view)
			// Element types are not modeled by the catalog.
			inner.define(loopVar, sig.Unknown)
			walkEnv = inner
		}
		w.stmtsIn(body.Stmts, walkEnv)
		for name, t := range view.writes {
			if cur, bound := sc.lookup(name); bound {
				sc.set(name, widen(cur, t))
			} else {
				sc.set(name, t)
			}
		}
	}
}

// directCmd rewrites a bare command statement into an ordinary call, with
// an await when the catalog marks the command deferred.
func (w *walker) directCmd(cmd *parse.DirectCmd) {
	entry := w.rw.catalog.Lookup(sig.ShellType, cmd.Name)
	var sb strings.Builder
	if entry.ReturnsDeferred {
		sb.WriteString("await ")
	}
	sb.WriteString(cmd.Name)
	sb.WriteByte('(')
	for i, arg := range cmd.Args {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(strconv.Quote(arg))
	}
	sb.WriteByte(')')
	w.replaceRange(cmd.From, cmd.To, sb.String())
}

// Expression walking.

type exprCtx struct {
	// Name of the member about to be accessed on this expression's result,
	// for the builder-chain exemption.
	chainedMember string
	// Whether the expression already sits under a user-written await.
	awaited bool
}

func (w *walker) expr(e parse.Expr, sc env, ctx exprCtx) sig.TypeRef {
	switch e := e.(type) {
	case *parse.Number:
		return "number"
	case *parse.String:
		return "string"
	case *parse.Bool:
		return "bool"
	case *parse.Null:
		return "null"
	case *parse.Object:
		for _, v := range e.Values {
			w.expr(v, sc, exprCtx{})
		}
		return "object"
	case *parse.Array:
		for _, el := range e.Elems {
			w.expr(el, sc, exprCtx{})
		}
		return "array"
	case *parse.Arrow:
		inner := newScope(sc)
		for _, p := range e.Params {
			inner.define(p, sig.Unknown)
		}
		if e.Body != nil {
			w.stmtsIn(e.Body.Stmts, inner)
		} else {
			w.expr(e.Expr, inner, exprCtx{})
		}
		return "function"
	case *parse.Ident:
		if t, ok := sc.lookup(e.Name); ok {
			return t
		}
		return sig.Unknown
	case *parse.Member:
		ownerT := w.expr(e.Recv, sc, exprCtx{chainedMember: e.Name})
		entry := w.rw.catalog.Lookup(ownerT, e.Name)
		if entry.Kind == sig.KindFunction {
			return "function"
		}
		return entry.ReturnType
	case *parse.Index:
		w.expr(e.Recv, sc, exprCtx{})
		w.expr(e.Idx, sc, exprCtx{})
		return sig.Unknown
	case *parse.Unary:
		w.expr(e.Operand, sc, exprCtx{})
		if e.Op == "!" {
			return "bool"
		}
		return "number"
	case *parse.Binary:
		lt := w.expr(e.LHS, sc, exprCtx{})
		rt := w.expr(e.RHS, sc, exprCtx{})
		switch e.Op {
		case "==", "!=", "===", "!==", "<", "<=", ">", ">=":
			return "bool"
		case "&&", "||", "+":
			return widen(lt, rt)
		default:
			return "number"
		}
	case *parse.Cond:
		w.expr(e.Cond, sc, exprCtx{})
		t1 := w.expr(e.Then, sc, exprCtx{})
		t2 := w.expr(e.Else, sc, exprCtx{})
		return widen(t1, t2)
	case *parse.Await:
		return w.expr(e.Operand, sc, exprCtx{awaited: true})
	case *parse.Assign:
		t := w.expr(e.Value, sc, exprCtx{})
		switch target := e.Target.(type) {
		case *parse.Ident:
			sc.set(target.Name, t)
		case *parse.Member:
			w.expr(target.Recv, sc, exprCtx{})
		case *parse.Index:
			w.expr(target.Recv, sc, exprCtx{})
			w.expr(target.Idx, sc, exprCtx{})
		}
		return t
	case *parse.Call:
		return w.call(e, sc, ctx)
	}
	return sig.Unknown
}

func (w *walker) call(e *parse.Call, sc env, ctx exprCtx) sig.TypeRef {
	var entry sig.Entry
	known := false

	switch fn := e.Fn.(type) {
	case *parse.Ident:
		if _, bound := sc.lookup(fn.Name); !bound && w.rw.catalog.HasMember(sig.ShellType, fn.Name) {
			entry = w.rw.catalog.Lookup(sig.ShellType, fn.Name)
			known = true
		}
	case *parse.Member:
		ownerT := w.expr(fn.Recv, sc, exprCtx{chainedMember: fn.Name})
		if ownerT != sig.Unknown {
			entry = w.rw.catalog.Lookup(ownerT, fn.Name)
			known = !entry.MaybeDeferred
		}
	default:
		w.expr(e.Fn, sc, exprCtx{})
	}

	for _, arg := range e.Args {
		w.expr(arg, sc, exprCtx{})
	}

	if !known {
		// The owner type is unknown, so the call might produce a deferred
		// result. Route it through the runtime helper, which awaits only
		// actual deferred values.
		if !ctx.awaited {
			w.insert(e.From, MaybeAwaitFn+"(")
			w.insert(e.To, ")")
		}
		return sig.Unknown
	}

	if entry.ReturnsDeferred && !ctx.awaited && !w.builderChained(entry.ReturnType, ctx) {
		w.insert(e.From, "(await ")
		w.insert(e.To, ")")
	}
	return entry.ReturnType
}

// builderChained reports whether a deferred-returning call may stay
// un-awaited because the member chained onto its result is a synchronous
// builder method of the result type. Only the terminal call of such a
// chain is awaited.
func (w *walker) builderChained(result sig.TypeRef, ctx exprCtx) bool {
	if ctx.chainedMember == "" {
		return false
	}
	if !w.rw.catalog.HasMember(result, ctx.chainedMember) {
		return false
	}
	return !w.rw.catalog.Lookup(result, ctx.chainedMember).ReturnsDeferred
}

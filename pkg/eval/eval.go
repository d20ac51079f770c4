// Package eval implements the tree-walking evaluator of the shell's
// scripting language. It runs rewritten source, so await expressions are
// already in all the places they need to be; the evaluator's job is to
// execute them cooperatively, racing each suspension against the frame's
// interrupt channel.
package eval

import (
	"fmt"
	"io"
	"os"

	"github.com/dosh-shell/dosh/pkg/diag"
	"github.com/dosh-shell/dosh/pkg/logutil"
	"github.com/dosh-shell/dosh/pkg/parse"
)

var logger = logutil.GetLogger("[eval] ")

// ErrorTag parameterizes diag.Error for evaluation errors.
type ErrorTag struct{}

func (ErrorTag) ErrorTag() string { return "evaluation error" }

// Error is the type of runtime errors carrying a source context.
type Error = diag.Error[ErrorTag]

// Evaluator holds the session-level evaluation state: the global namespace
// shared by all inputs of a session.
type Evaluator struct {
	global *Ns
}

// New creates an Evaluator with an empty global namespace. Callers populate
// it with the API globals and the runtime support bindings before the first
// input.
func New() *Evaluator {
	return &Evaluator{global: newNs(nil)}
}

// SetGlobal binds a name in the global namespace.
func (ev *Evaluator) SetGlobal(name string, value any) {
	ev.global.define(name, value, false)
}

// Global returns the current value of a global, for tests and completion.
func (ev *Evaluator) Global(name string) (any, bool) {
	b := ev.global.resolve(name)
	if b == nil {
		return nil, false
	}
	return b.value, true
}

// EvalCfg configures one evaluation.
type EvalCfg struct {
	// Interrupts aborts in-flight awaits when it becomes readable. A nil
	// channel never interrupts.
	Interrupts <-chan struct{}
	// Out receives print output. Defaults to os.Stdout.
	Out io.Writer
}

// Eval parses and executes src and returns the value of its final
// expression statement, for display. An interrupted await surfaces as
// async.ErrInterrupted.
func (ev *Evaluator) Eval(src parse.Source, cfg EvalCfg) (any, error) {
	prog, err := parse.Parse(src, parse.Config{})
	if err != nil {
		return nil, err
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	fm := &Frame{ev: ev, src: src, local: ev.global, intr: cfg.Interrupts, out: cfg.Out}
	var last any
	for _, stmt := range prog.Stmts {
		v, err := fm.exec(stmt)
		if err != nil {
			if ret, ok := err.(returnFlow); ok {
				return ret.value, nil
			}
			return nil, err
		}
		last = v
	}
	return last, nil
}

// Ns is a lexical namespace.
type Ns struct {
	parent *Ns
	vars   map[string]*binding
}

type binding struct {
	value any
	konst bool
}

func newNs(parent *Ns) *Ns {
	return &Ns{parent: parent, vars: make(map[string]*binding)}
}

func (ns *Ns) define(name string, v any, konst bool) {
	ns.vars[name] = &binding{value: v, konst: konst}
}

func (ns *Ns) resolve(name string) *binding {
	for n := ns; n != nil; n = n.parent {
		if b, ok := n.vars[name]; ok {
			return b
		}
	}
	return nil
}

// Frame is the state of one executing scope.
type Frame struct {
	ev    *Evaluator
	src   parse.Source
	local *Ns
	intr  <-chan struct{}
	out   io.Writer
}

// Interrupts returns the frame's interrupt channel. Native functions race
// their own suspensions against it.
func (fm *Frame) Interrupts() <-chan struct{} { return fm.intr }

// Out returns the frame's output writer.
func (fm *Frame) Out() io.Writer { return fm.out }

func (fm *Frame) child(ns *Ns) *Frame {
	return &Frame{ev: fm.ev, src: fm.src, local: ns, intr: fm.intr, out: fm.out}
}

func (fm *Frame) errorpf(r diag.Ranger, format string, args ...any) error {
	return &Error{
		Message: fmt.Sprintf(format, args...),
		Context: *diag.NewContext(fm.src.Name, fm.src.Code, r),
	}
}

// returnFlow carries a return statement's value up to the enclosing call.
type returnFlow struct{ value any }

func (returnFlow) Error() string { return "return outside function" }

// exec executes one statement. Expression statements report their value;
// other statements report nil.
func (fm *Frame) exec(stmt parse.Stmt) (any, error) {
	switch stmt := stmt.(type) {
	case *parse.Decl:
		var v any
		if stmt.Init != nil {
			var err error
			v, err = fm.eval(stmt.Init)
			if err != nil {
				return nil, err
			}
		}
		fm.local.define(stmt.Name, v, stmt.Const)
		return nil, nil
	case *parse.ExprStmt:
		return fm.eval(stmt.X)
	case *parse.Block:
		inner := fm.child(newNs(fm.local))
		for _, s := range stmt.Stmts {
			if _, err := inner.exec(s); err != nil {
				return nil, err
			}
		}
		return nil, nil
	case *parse.If:
		cond, err := fm.eval(stmt.Cond)
		if err != nil {
			return nil, err
		}
		if Truth(cond) {
			return fm.exec(stmt.Then)
		}
		if stmt.Else != nil {
			return fm.exec(stmt.Else)
		}
		return nil, nil
	case *parse.While:
		for {
			cond, err := fm.eval(stmt.Cond)
			if err != nil {
				return nil, err
			}
			if !Truth(cond) {
				return nil, nil
			}
			if _, err := fm.exec(stmt.Body); err != nil {
				return nil, err
			}
		}
	case *parse.ForOf:
		return nil, fm.forOf(stmt)
	case *parse.Return:
		var v any
		if stmt.Value != nil {
			var err error
			v, err = fm.eval(stmt.Value)
			if err != nil {
				return nil, err
			}
		}
		return nil, returnFlow{v}
	case *parse.DirectCmd:
		// Rewriting replaces direct commands before evaluation.
		return nil, fm.errorpf(stmt, "direct command %s reached the evaluator", stmt.Name)
	default:
		return nil, fm.errorpf(stmt, "cannot execute %T", stmt)
	}
}

func (fm *Frame) forOf(stmt *parse.ForOf) error {
	iter, err := fm.eval(stmt.Iter)
	if err != nil {
		return err
	}
	runBody := func(v any) error {
		inner := fm.child(newNs(fm.local))
		inner.local.define(stmt.Name, v, false)
		for _, s := range stmt.Body.Stmts {
			if _, err := inner.exec(s); err != nil {
				return err
			}
		}
		return nil
	}
	switch iter := iter.(type) {
	case *List:
		for _, el := range iter.Elems {
			if err := runBody(el); err != nil {
				return err
			}
		}
		return nil
	case []any:
		for _, el := range iter {
			if err := runBody(el); err != nil {
				return err
			}
		}
		return nil
	case string:
		for _, r := range iter {
			if err := runBody(string(r)); err != nil {
				return err
			}
		}
		return nil
	case Iterable:
		return iter.Iterate(fm, runBody)
	default:
		return fm.errorpf(stmt.Iter, "%s is not iterable", TypeName(iter))
	}
}

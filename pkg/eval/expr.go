package eval

import (
	"math"

	"github.com/dosh-shell/dosh/pkg/async"
	"github.com/dosh-shell/dosh/pkg/parse"
)

func (fm *Frame) eval(e parse.Expr) (any, error) {
	switch e := e.(type) {
	case *parse.Number:
		return e.Value, nil
	case *parse.String:
		return e.Value, nil
	case *parse.Bool:
		return e.Value, nil
	case *parse.Null:
		return nil, nil
	case *parse.Array:
		elems := make([]any, len(e.Elems))
		for i, el := range e.Elems {
			v, err := fm.eval(el)
			if err != nil {
				return nil, err
			}
			elems[i] = v
		}
		return NewList(elems...), nil
	case *parse.Object:
		obj := make(map[string]any, len(e.Keys))
		for i, k := range e.Keys {
			v, err := fm.eval(e.Values[i])
			if err != nil {
				return nil, err
			}
			obj[k] = v
		}
		return obj, nil
	case *parse.Ident:
		b := fm.local.resolve(e.Name)
		if b == nil {
			return nil, fm.errorpf(e, "%s is not defined", e.Name)
		}
		return b.value, nil
	case *parse.Member:
		recv, err := fm.eval(e.Recv)
		if err != nil {
			return nil, err
		}
		v, err := fm.member(recv, e.Name)
		if err != nil {
			return nil, fm.errorpf(&e.NameRange, "%v", err)
		}
		return v, nil
	case *parse.Index:
		return fm.index(e)
	case *parse.Call:
		return fm.call(e)
	case *parse.Unary:
		return fm.unary(e)
	case *parse.Binary:
		return fm.binary(e)
	case *parse.Cond:
		cond, err := fm.eval(e.Cond)
		if err != nil {
			return nil, err
		}
		if Truth(cond) {
			return fm.eval(e.Then)
		}
		return fm.eval(e.Else)
	case *parse.Arrow:
		return &closure{params: e.Params, body: e.Body, expr: e.Expr, captured: fm.local}, nil
	case *parse.Await:
		v, err := fm.eval(e.Operand)
		if err != nil {
			return nil, err
		}
		return fm.Await(v)
	case *parse.Assign:
		return fm.assign(e)
	default:
		return nil, fm.errorpf(e, "cannot evaluate %T", e)
	}
}

// Await resolves v if it is deferred, flattening chained deferred values,
// and passes anything else through unchanged. It races each suspension
// against the frame's interrupt channel.
func (fm *Frame) Await(v any) (any, error) {
	for {
		d, ok := v.(*async.Deferred)
		if !ok {
			return v, nil
		}
		var err error
		v, err = d.Await(fm.intr)
		if err != nil {
			return nil, err
		}
	}
}

// member resolves a named member on a value. Member access on a value that
// is still deferred composes: the result is a deferred that resolves to
// the member once the receiver settles.
func (fm *Frame) member(recv any, name string) (any, error) {
	switch recv := recv.(type) {
	case nil:
		return nil, errMemberOfNull(name)
	case *async.Deferred:
		return async.Then(recv, func(v any) (any, error) {
			return fm.member(v, name)
		}), nil
	case Memberer:
		return recv.Member(name)
	case map[string]any:
		return recv[name], nil
	case *List:
		return listMember(recv, name)
	case []any:
		// Arrays decoded from backend documents are not boxed.
		return listMember(&List{Elems: recv}, name)
	case string:
		return stringMember(recv, name)
	default:
		return nil, errNoMember(recv, name)
	}
}

func (fm *Frame) index(e *parse.Index) (any, error) {
	recv, err := fm.eval(e.Recv)
	if err != nil {
		return nil, err
	}
	idx, err := fm.eval(e.Idx)
	if err != nil {
		return nil, err
	}
	return fm.indexValue(recv, idx, e)
}

func (fm *Frame) indexValue(recv, idx any, e *parse.Index) (any, error) {
	switch recv := recv.(type) {
	case *List:
		i, ok := idx.(float64)
		if !ok {
			return nil, fm.errorpf(e.Idx, "array index must be a number, got %s", TypeName(idx))
		}
		n := int(i)
		if n < 0 || n >= len(recv.Elems) {
			return nil, nil
		}
		return recv.Elems[n], nil
	case []any:
		i, ok := idx.(float64)
		if !ok {
			return nil, fm.errorpf(e.Idx, "array index must be a number, got %s", TypeName(idx))
		}
		n := int(i)
		if n < 0 || n >= len(recv) {
			return nil, nil
		}
		return recv[n], nil
	case map[string]any:
		k, ok := idx.(string)
		if !ok {
			return nil, fm.errorpf(e.Idx, "object key must be a string, got %s", TypeName(idx))
		}
		return recv[k], nil
	case string:
		i, ok := idx.(float64)
		if !ok {
			return nil, fm.errorpf(e.Idx, "string index must be a number, got %s", TypeName(idx))
		}
		n := int(i)
		if n < 0 || n >= len(recv) {
			return nil, nil
		}
		return string(recv[n]), nil
	default:
		return nil, fm.errorpf(e.Recv, "cannot index %s", TypeName(recv))
	}
}

func (fm *Frame) call(e *parse.Call) (any, error) {
	fn, err := fm.eval(e.Fn)
	if err != nil {
		return nil, err
	}
	args := make([]any, len(e.Args))
	for i, a := range e.Args {
		v, err := fm.eval(a)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	switch fn := fn.(type) {
	case Callable:
		return fn.Call(fm, args)
	case *async.Deferred:
		// Calling a member looked up on an in-flight value: the call itself
		// composes onto the settlement.
		return async.Then(fn, func(v any) (any, error) {
			f, ok := v.(Callable)
			if !ok {
				return nil, errNotCallable(v)
			}
			return f.Call(fm, args)
		}), nil
	default:
		return nil, fm.errorpf(e.Fn, "%v", errNotCallable(fn))
	}
}

func (fm *Frame) unary(e *parse.Unary) (any, error) {
	v, err := fm.eval(e.Operand)
	if err != nil {
		return nil, err
	}
	switch e.Op {
	case "!":
		return !Truth(v), nil
	case "-":
		n, ok := v.(float64)
		if !ok {
			return nil, fm.errorpf(e, "cannot negate %s", TypeName(v))
		}
		return -n, nil
	default:
		return nil, fm.errorpf(e, "unknown operator %s", e.Op)
	}
}

func (fm *Frame) binary(e *parse.Binary) (any, error) {
	// && and || short-circuit and produce the deciding operand.
	if e.Op == "&&" || e.Op == "||" {
		lhs, err := fm.eval(e.LHS)
		if err != nil {
			return nil, err
		}
		if (e.Op == "&&") != Truth(lhs) {
			return lhs, nil
		}
		return fm.eval(e.RHS)
	}
	lhs, err := fm.eval(e.LHS)
	if err != nil {
		return nil, err
	}
	rhs, err := fm.eval(e.RHS)
	if err != nil {
		return nil, err
	}
	switch e.Op {
	case "==", "===":
		return equalValues(lhs, rhs), nil
	case "!=", "!==":
		return !equalValues(lhs, rhs), nil
	case "+":
		if ls, ok := lhs.(string); ok {
			return ls + ToString(rhs), nil
		}
		if rs, ok := rhs.(string); ok {
			return ToString(lhs) + rs, nil
		}
		ln, lok := lhs.(float64)
		rn, rok := rhs.(float64)
		if lok && rok {
			return ln + rn, nil
		}
		return nil, fm.errorpf(e, "cannot add %s and %s", TypeName(lhs), TypeName(rhs))
	case "-", "*", "/", "%", "<", "<=", ">", ">=":
		ln, lok := lhs.(float64)
		rn, rok := rhs.(float64)
		if e.Op[0] == '<' || e.Op[0] == '>' {
			if ls, ok := lhs.(string); ok {
				if rs, ok := rhs.(string); ok {
					return compareOrdered(e.Op, ls, rs), nil
				}
			}
		}
		if !lok || !rok {
			return nil, fm.errorpf(e, "operator %s wants numbers, got %s and %s",
				e.Op, TypeName(lhs), TypeName(rhs))
		}
		switch e.Op {
		case "-":
			return ln - rn, nil
		case "*":
			return ln * rn, nil
		case "/":
			if rn == 0 {
				return nil, fm.errorpf(e, "division by zero")
			}
			return ln / rn, nil
		case "%":
			if rn == 0 {
				return nil, fm.errorpf(e, "division by zero")
			}
			return math.Mod(ln, rn), nil
		default:
			return compareOrdered(e.Op, ln, rn), nil
		}
	default:
		return nil, fm.errorpf(e, "unknown operator %s", e.Op)
	}
}

func compareOrdered[T float64 | string](op string, a, b T) bool {
	switch op {
	case "<":
		return a < b
	case "<=":
		return a <= b
	case ">":
		return a > b
	default:
		return a >= b
	}
}

// targetRecv evaluates the receiver of an assignment target. Missing or
// null links along a member or string-keyed index path are created as
// empty objects, so a.b.c.d = 1 works with only a bound.
func (fm *Frame) targetRecv(e parse.Expr) (any, error) {
	switch e := e.(type) {
	case *parse.Member:
		recv, err := fm.targetRecv(e.Recv)
		if err != nil {
			return nil, err
		}
		if obj, ok := recv.(map[string]any); ok {
			if v, ok := obj[e.Name]; ok && v != nil {
				return v, nil
			}
			child := map[string]any{}
			obj[e.Name] = child
			return child, nil
		}
		v, err := fm.member(recv, e.Name)
		if err != nil {
			return nil, fm.errorpf(&e.NameRange, "%v", err)
		}
		return v, nil
	case *parse.Index:
		recv, err := fm.targetRecv(e.Recv)
		if err != nil {
			return nil, err
		}
		idx, err := fm.eval(e.Idx)
		if err != nil {
			return nil, err
		}
		if obj, ok := recv.(map[string]any); ok {
			k, ok := idx.(string)
			if !ok {
				return nil, fm.errorpf(e.Idx, "object key must be a string, got %s", TypeName(idx))
			}
			if v, ok := obj[k]; ok && v != nil {
				return v, nil
			}
			child := map[string]any{}
			obj[k] = child
			return child, nil
		}
		return fm.indexValue(recv, idx, e)
	default:
		return fm.eval(e)
	}
}

func (fm *Frame) assign(e *parse.Assign) (any, error) {
	v, err := fm.eval(e.Value)
	if err != nil {
		return nil, err
	}
	switch target := e.Target.(type) {
	case *parse.Ident:
		b := fm.local.resolve(target.Name)
		if b == nil {
			// Assignment without declaration binds at the session level.
			fm.ev.global.define(target.Name, v, false)
			return v, nil
		}
		if b.konst {
			return nil, fm.errorpf(target, "assignment to constant %s", target.Name)
		}
		b.value = v
		return v, nil
	case *parse.Member:
		recv, err := fm.targetRecv(target.Recv)
		if err != nil {
			return nil, err
		}
		obj, ok := recv.(map[string]any)
		if !ok {
			return nil, fm.errorpf(target, "cannot set member on %s", TypeName(recv))
		}
		obj[target.Name] = v
		return v, nil
	case *parse.Index:
		recv, err := fm.targetRecv(target.Recv)
		if err != nil {
			return nil, err
		}
		idx, err := fm.eval(target.Idx)
		if err != nil {
			return nil, err
		}
		switch recv := recv.(type) {
		case *List:
			i, ok := idx.(float64)
			if !ok || int(i) < 0 || int(i) >= len(recv.Elems) {
				return nil, fm.errorpf(target.Idx, "array index out of range")
			}
			recv.Elems[int(i)] = v
			return v, nil
		case map[string]any:
			k, ok := idx.(string)
			if !ok {
				return nil, fm.errorpf(target.Idx, "object key must be a string")
			}
			recv[k] = v
			return v, nil
		default:
			return nil, fm.errorpf(target, "cannot index-assign %s", TypeName(recv))
		}
	default:
		return nil, fm.errorpf(e, "invalid assignment target")
	}
}

// closure is a user-defined arrow function.
type closure struct {
	params   []string
	body     *parse.Block
	expr     parse.Expr
	captured *Ns
}

func (c *closure) Call(fm *Frame, args []any) (any, error) {
	ns := newNs(c.captured)
	for i, p := range c.params {
		var v any
		if i < len(args) {
			v = args[i]
		}
		ns.define(p, v, false)
	}
	inner := fm.child(ns)
	if c.expr != nil {
		return inner.eval(c.expr)
	}
	for _, s := range c.body.Stmts {
		if _, err := inner.exec(s); err != nil {
			if ret, ok := err.(returnFlow); ok {
				return ret.value, nil
			}
			return nil, err
		}
	}
	return nil, nil
}

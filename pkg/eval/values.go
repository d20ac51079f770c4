package eval

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/dosh-shell/dosh/pkg/async"
)

// Shell values are nil, bool, float64, string, *List, map[string]any,
// *async.Deferred and Callable implementations. Backend documents arrive as
// map[string]any and need no conversion; arrays are boxed in *List so that
// mutating methods work through shared references.

// List is a mutable array value.
type List struct {
	Elems []any
}

// NewList boxes the given elements.
func NewList(elems ...any) *List { return &List{Elems: elems} }

// Callable is anything the evaluator can call.
type Callable interface {
	Call(fm *Frame, args []any) (any, error)
}

// GoFn adapts a Go function into a Callable.
type GoFn struct {
	name string
	impl func(fm *Frame, args []any) (any, error)
}

// NewGoFn creates a named native function.
func NewGoFn(name string, impl func(fm *Frame, args []any) (any, error)) *GoFn {
	return &GoFn{name: name, impl: impl}
}

func (f *GoFn) Call(fm *Frame, args []any) (any, error) { return f.impl(fm, args) }

// Memberer lets API objects expose named members to the evaluator.
type Memberer interface {
	Member(name string) (any, error)
}

// Iterable lets API objects drive for-of loops (cursors, mainly). The
// callback's error stops the iteration and propagates.
type Iterable interface {
	Iterate(fm *Frame, f func(v any) error) error
}

// Truth follows the scripting language's truthiness: null, false, 0 and ""
// are false; everything else is true.
func Truth(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v != ""
	default:
		return true
	}
}

// equalValues compares scalars by value and reference values by identity.
func equalValues(a, b any) bool {
	switch a := a.(type) {
	case nil:
		return b == nil
	case bool, float64, string:
		return a == b
	default:
		ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
		if ra.Kind() != rb.Kind() {
			return false
		}
		switch ra.Kind() {
		case reflect.Map, reflect.Pointer, reflect.Chan, reflect.Func:
			return ra.Pointer() == rb.Pointer()
		}
		return false
	}
}

// TypeName names a value's type for error messages.
func TypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case float64:
		return "number"
	case string:
		return "string"
	case *List:
		return "array"
	case map[string]any:
		return "object"
	case *async.Deferred:
		return "deferred"
	case Callable:
		return "function"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// Builtin members of the scripting value types.

func listMember(l *List, name string) (any, error) {
	switch name {
	case "length":
		return float64(len(l.Elems)), nil
	case "push":
		return NewGoFn("push", func(fm *Frame, args []any) (any, error) {
			l.Elems = append(l.Elems, args...)
			return float64(len(l.Elems)), nil
		}), nil
	case "map":
		return NewGoFn("map", func(fm *Frame, args []any) (any, error) {
			f, err := oneCallable("map", args)
			if err != nil {
				return nil, err
			}
			out := make([]any, len(l.Elems))
			for i, el := range l.Elems {
				v, err := f.Call(fm, []any{el})
				if err != nil {
					return nil, err
				}
				out[i] = v
			}
			return NewList(out...), nil
		}), nil
	case "forEach":
		return NewGoFn("forEach", func(fm *Frame, args []any) (any, error) {
			f, err := oneCallable("forEach", args)
			if err != nil {
				return nil, err
			}
			for _, el := range l.Elems {
				if _, err := f.Call(fm, []any{el}); err != nil {
					return nil, err
				}
			}
			return nil, nil
		}), nil
	case "filter":
		return NewGoFn("filter", func(fm *Frame, args []any) (any, error) {
			f, err := oneCallable("filter", args)
			if err != nil {
				return nil, err
			}
			var out []any
			for _, el := range l.Elems {
				keep, err := f.Call(fm, []any{el})
				if err != nil {
					return nil, err
				}
				if Truth(keep) {
					out = append(out, el)
				}
			}
			return NewList(out...), nil
		}), nil
	case "join":
		return NewGoFn("join", func(fm *Frame, args []any) (any, error) {
			sep := ","
			if len(args) > 0 {
				if s, ok := args[0].(string); ok {
					sep = s
				}
			}
			parts := make([]string, len(l.Elems))
			for i, el := range l.Elems {
				parts[i] = ToString(el)
			}
			return strings.Join(parts, sep), nil
		}), nil
	default:
		return nil, fmt.Errorf("array has no member %q", name)
	}
}

func stringMember(s string, name string) (any, error) {
	switch name {
	case "length":
		return float64(len(s)), nil
	case "toUpperCase":
		return NewGoFn("toUpperCase", func(fm *Frame, args []any) (any, error) {
			return strings.ToUpper(s), nil
		}), nil
	case "toLowerCase":
		return NewGoFn("toLowerCase", func(fm *Frame, args []any) (any, error) {
			return strings.ToLower(s), nil
		}), nil
	case "includes":
		return NewGoFn("includes", func(fm *Frame, args []any) (any, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("includes wants one argument")
			}
			sub, ok := args[0].(string)
			if !ok {
				return nil, fmt.Errorf("includes wants a string, got %s", TypeName(args[0]))
			}
			return strings.Contains(s, sub), nil
		}), nil
	default:
		return nil, fmt.Errorf("string has no member %q", name)
	}
}

func errMemberOfNull(name string) error {
	return fmt.Errorf("cannot read member %q of null", name)
}

func errNoMember(recv any, name string) error {
	return fmt.Errorf("%s has no member %q", TypeName(recv), name)
}

func errNotCallable(v any) error {
	return fmt.Errorf("%s is not callable", TypeName(v))
}

func oneCallable(fn string, args []any) (Callable, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%s wants one argument", fn)
	}
	f, ok := args[0].(Callable)
	if !ok {
		return nil, fmt.Errorf("%s wants a function, got %s", fn, TypeName(args[0]))
	}
	return f, nil
}

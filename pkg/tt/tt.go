// Package tt supports table-driven tests with little boilerplate.
package tt

import (
	"fmt"
	"reflect"

	"github.com/google/go-cmp/cmp"
)

// Table represents a test table.
type Table []*Case

// Case represents a test case. It is created by the Args function, and
// offers setters that augment and return itself, so calls can be chained
// like Args(...).Rets(...).
type Case struct {
	args []any
	rets []any
}

// Args returns a new Case with the given arguments.
func Args(args ...any) *Case {
	return &Case{args: args}
}

// Rets modifies the test case so that it requires the return values to match
// the given values, and returns the receiver. An argument may implement the
// [Matcher] interface, in which case its Match method decides; otherwise
// values are compared with go-cmp, comparing errors by Error() string.
func (c *Case) Rets(rets ...any) *Case {
	c.rets = rets
	return c
}

// Matcher wraps the Match method.
type Matcher interface {
	// Match reports whether a return value is considered a match.
	Match(ret any) bool
}

// Any is a Matcher that matches any value.
var Any Matcher = anyMatcher{}

type anyMatcher struct{}

func (anyMatcher) Match(any) bool { return true }

// T is the interface for accessing testing.T.
type T interface {
	Helper()
	Errorf(format string, args ...any)
}

// Test tests fn against the given Table. The name is used in error messages.
func Test(t T, name string, fn any, tests Table) {
	t.Helper()
	for _, test := range tests {
		rets := call(fn, test.args)
		if !matchRets(test.rets, rets) {
			t.Errorf("%s(%s) -> %s, want %s", name,
				sprintVals(test.args), sprintVals(rets), sprintVals(test.rets))
		}
	}
}

func matchRets(want, got []any) bool {
	if len(want) != len(got) {
		return false
	}
	for i := range want {
		if !matchRet(want[i], got[i]) {
			return false
		}
	}
	return true
}

func matchRet(want, got any) bool {
	if m, ok := want.(Matcher); ok {
		return m.Match(got)
	}
	if wantErr, ok := want.(error); ok {
		gotErr, ok := got.(error)
		return ok && gotErr != nil && wantErr.Error() == gotErr.Error()
	}
	return cmp.Equal(want, got)
}

func call(fn any, args []any) []any {
	argsReflect := make([]reflect.Value, len(args))
	for i, arg := range args {
		if arg == nil {
			// reflect.ValueOf(nil) is invalid; use the zero value of the
			// parameter type instead.
			argsReflect[i] = reflect.New(reflect.TypeOf(fn).In(i)).Elem()
		} else {
			argsReflect[i] = reflect.ValueOf(arg)
		}
	}
	retsReflect := reflect.ValueOf(fn).Call(argsReflect)
	rets := make([]any, len(retsReflect))
	for i, ret := range retsReflect {
		rets[i] = ret.Interface()
	}
	return rets
}

func sprintVals(vals []any) string {
	s := ""
	for i, v := range vals {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%v", v)
	}
	return s
}

package diag

import (
	"fmt"
	"strings"
)

// ErrorTag is used to parameterize [Error] into different concrete types. The
// ErrorTag method is called to get the type of an error for display.
type ErrorTag interface {
	ErrorTag() string
}

// Error represents an error with a source context, parameterized by a tag
// type so that errors from different stages (parsing, rewriting, evaluation)
// remain distinct Go types.
type Error[T ErrorTag] struct {
	Message string
	Context Context
	// Whether the error may be caused by the input being incomplete, such as
	// an unterminated block at the end of the source. Such errors signal the
	// caller to keep buffering input instead of reporting failure.
	Partial bool
}

// Error returns a plain text representation of the error.
func (e *Error[T]) Error() string {
	return errorTag[T]() + ": " + e.errorNoType()
}

func (e *Error[T]) errorNoType() string {
	return fmt.Sprintf("%d-%d in %s: %s",
		e.Context.From, e.Context.To, e.Context.Name, e.Message)
}

// Range returns the range of the error.
func (e *Error[T]) Range() Ranging {
	return e.Context.Range()
}

// Show shows the error with its source context.
func (e *Error[T]) Show(indent string) string {
	header := fmt.Sprintf("%s: \033[31;1m%s\033[m\n", title(errorTag[T]()), e.Message)
	return header + e.Context.ShowCompact(indent+"  ")
}

func errorTag[T ErrorTag]() string {
	var t T
	return t.ErrorTag()
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// PackErrors packs a slice of errors into one error:
//
//   - If the slice is empty, it returns nil.
//   - If the slice has one element, it returns that element.
//   - Otherwise it returns a multiError wrapping all the errors.
func PackErrors[T ErrorTag](errs []*Error[T]) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return multiError[T]{errs}
	}
}

// UnpackErrors returns the constituent errors if the given error is built
// from one or more Error[T] instances. Otherwise it returns nil.
func UnpackErrors[T ErrorTag](err error) []*Error[T] {
	switch err := err.(type) {
	case *Error[T]:
		return []*Error[T]{err}
	case multiError[T]:
		return err.errs
	default:
		return nil
	}
}

type multiError[T ErrorTag] struct {
	errs []*Error[T]
}

func (me multiError[T]) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "multiple %ss: ", errorTag[T]())
	for i, e := range me.errs {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(e.errorNoType())
	}
	return sb.String()
}

func (me multiError[T]) Show(indent string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Multiple %ss:", errorTag[T]())
	for _, e := range me.errs {
		sb.WriteString("\n" + indent + "  ")
		sb.WriteString(e.Show(indent + "  "))
	}
	return sb.String()
}

package eval

import (
	"fmt"
	"strings"

	"github.com/dosh-shell/dosh/pkg/rewrite"
)

// InstallSupport binds the runtime support helpers that rewritten code
// depends on. It runs once per session, before the first input; installing
// twice is a no-op.
//
// The helpers live in the global namespace like ordinary bindings rather
// than being spliced into user source, so rewritten text stays a pure
// function of the input.
func InstallSupport(ev *Evaluator) {
	if _, ok := ev.Global(rewrite.MaybeAwaitFn); ok {
		return
	}
	logger.Println("installing runtime support bindings")

	// Awaits its argument only if the argument is actually deferred. The
	// rewriter routes calls with unknown owner types through this.
	ev.SetGlobal(rewrite.MaybeAwaitFn, NewGoFn(rewrite.MaybeAwaitFn,
		func(fm *Frame, args []any) (any, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("%s wants one argument", rewrite.MaybeAwaitFn)
			}
			return fm.Await(args[0])
		}))

	ev.SetGlobal("print", NewGoFn("print", func(fm *Frame, args []any) (any, error) {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = ToString(a)
		}
		fmt.Fprintln(fm.Out(), strings.Join(parts, " "))
		return nil, nil
	}))
}

// SupportSource returns the support helpers as source text. An embedder
// that evaluates user code in a separate context, where InstallSupport
// cannot reach, can evaluate this once instead.
func SupportSource() string {
	return "let " + rewrite.MaybeAwaitFn + " = v => await v\n"
}

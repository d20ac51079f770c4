package api

import (
	"github.com/dosh-shell/dosh/pkg/async"
	"github.com/dosh-shell/dosh/pkg/dbclient"
	"github.com/dosh-shell/dosh/pkg/eval"
)

// ChangeStreamCursor is the cursor over a change stream. It reads like an
// ordinary cursor, but the stream is unbounded, so every bulk
// materialization is rejected up front instead of hanging forever.
type ChangeStreamCursor struct {
	backend dbclient.Cursor
}

func errStreamBulk(op string) error {
	return dbclient.Errorf(dbclient.CodeUnimplemented,
		"%s is not supported on a change stream cursor", op)
}

func (c *ChangeStreamCursor) Member(name string) (any, error) {
	switch name {
	case "hasNext":
		return eval.NewGoFn("hasNext", func(fm *eval.Frame, args []any) (any, error) {
			return c.backend.HasNext(), nil
		}), nil
	case "next":
		return eval.NewGoFn("next", func(fm *eval.Frame, args []any) (any, error) {
			return c.backend.Next(), nil
		}), nil
	case "tryNext":
		return eval.NewGoFn("tryNext", func(fm *eval.Frame, args []any) (any, error) {
			doc, ok, err := c.backend.TryNext()
			if err != nil {
				return nil, err
			}
			if !ok {
				return async.Resolved(nil), nil
			}
			return async.Resolved(doc), nil
		}), nil
	case "close":
		return eval.NewGoFn("close", func(fm *eval.Frame, args []any) (any, error) {
			if c.backend.IsClosed() {
				return async.Resolved(nil), nil
			}
			return c.backend.Close(), nil
		}), nil
	case "isClosed":
		return eval.NewGoFn("isClosed", func(fm *eval.Frame, args []any) (any, error) {
			return c.backend.IsClosed(), nil
		}), nil
	case "toArray", "forEach", "map", "fetchBatch":
		op := name
		return eval.NewGoFn(op, func(fm *eval.Frame, args []any) (any, error) {
			return nil, errStreamBulk(op)
		}), nil
	default:
		return nil, errNoAPIMember("ChangeStreamCursor", name)
	}
}

// Iterate supports for-of over the stream. Each pull is interruptible,
// which is the only way such a loop ends other than closing the stream.
func (c *ChangeStreamCursor) Iterate(fm *eval.Frame, f func(v any) error) error {
	intr := fm.Interrupts()
	for {
		has, err := c.backend.HasNext().Await(intr)
		if err != nil {
			return err
		}
		if has != true {
			return nil
		}
		doc, err := c.backend.Next().Await(intr)
		if err != nil {
			return err
		}
		if err := f(doc); err != nil {
			return err
		}
	}
}

func (c *ChangeStreamCursor) ReprString() string {
	if c.backend.IsClosed() {
		return "[change stream (closed)]"
	}
	return "[change stream]"
}

package api

import (
	"sync"

	"github.com/dosh-shell/dosh/pkg/async"
	"github.com/dosh-shell/dosh/pkg/dbclient"
	"github.com/dosh-shell/dosh/pkg/eval"
)

// DefaultBatchSize is how many documents fetchBatch materializes when no
// count is given, matching what an interactive "it"-style display wants.
const DefaultBatchSize = 20

// Cursor is the scripting-level cursor. Its life has three phases:
// building (the builder methods may still shape the query), streaming
// (the first read pinned the query and reads proceed), and closed.
// Builder calls after the first read and reads after close both fail with
// the InvalidState code.
type Cursor struct {
	client dbclient.Client
	db     string
	coll   string
	filter dbclient.Document
	opts   dbclient.FindOptions

	mu      sync.Mutex
	backend dbclient.Cursor
	closed  bool
}

// newStartedCursor wraps a backend cursor that already exists (aggregate
// results); builder methods are rejected on it.
func newStartedCursor(backend dbclient.Cursor) *Cursor {
	return &Cursor{backend: backend}
}

func errCursorState(msg string) error {
	return dbclient.Errorf(dbclient.CodeInvalidState, "%s", msg)
}

// ensureStarted pins the query and opens the backend cursor.
func (c *Cursor) ensureStarted() (dbclient.Cursor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errCursorState("cursor is closed")
	}
	if c.backend == nil {
		backend, err := c.client.Find(c.db, c.coll, c.filter, c.opts)
		if err != nil {
			return nil, err
		}
		c.backend = backend
	}
	return c.backend, nil
}

// builder mutates the query options before the first read.
func (c *Cursor) builder(name string, f func(args []any) error) *eval.GoFn {
	return eval.NewGoFn(name, func(fm *eval.Frame, args []any) (any, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return nil, errCursorState("cursor is closed")
		}
		if c.backend != nil {
			return nil, errCursorState("cannot modify a cursor after reading from it")
		}
		if err := f(args); err != nil {
			return nil, err
		}
		return c, nil
	})
}

func (c *Cursor) Member(name string) (any, error) {
	switch name {
	case "sort":
		return c.builder("sort", func(args []any) error {
			spec, err := docArg(args, 0)
			if err != nil {
				return err
			}
			for field, dir := range spec {
				desc := false
				if n, ok := dir.(float64); ok && n < 0 {
					desc = true
				}
				c.opts.Sort = append(c.opts.Sort, dbclient.SortKey{Field: field, Desc: desc})
			}
			return nil
		}), nil
	case "limit":
		return c.builder("limit", func(args []any) error {
			n, err := numberArg("limit", args, 0)
			if err != nil {
				return err
			}
			c.opts.Limit = int(n)
			return nil
		}), nil
	case "skip":
		return c.builder("skip", func(args []any) error {
			n, err := numberArg("skip", args, 0)
			if err != nil {
				return err
			}
			c.opts.Skip = int(n)
			return nil
		}), nil
	case "batchSize":
		return c.builder("batchSize", func(args []any) error {
			n, err := numberArg("batchSize", args, 0)
			if err != nil {
				return err
			}
			c.opts.BatchSize = int(n)
			return nil
		}), nil
	case "projection":
		return c.builder("projection", func(args []any) error {
			proj, err := docArg(args, 0)
			if err != nil {
				return err
			}
			c.opts.Projection = projectionFields(proj)
			return nil
		}), nil
	case "hasNext":
		return eval.NewGoFn("hasNext", func(fm *eval.Frame, args []any) (any, error) {
			backend, err := c.ensureStarted()
			if err != nil {
				return nil, err
			}
			return backend.HasNext(), nil
		}), nil
	case "next":
		return eval.NewGoFn("next", func(fm *eval.Frame, args []any) (any, error) {
			backend, err := c.ensureStarted()
			if err != nil {
				return nil, err
			}
			return backend.Next(), nil
		}), nil
	case "tryNext":
		return eval.NewGoFn("tryNext", func(fm *eval.Frame, args []any) (any, error) {
			backend, err := c.ensureStarted()
			if err != nil {
				return nil, err
			}
			doc, ok, err := backend.TryNext()
			if err != nil {
				return nil, err
			}
			if !ok {
				// Absence is a sentinel, never an error.
				return async.Resolved(nil), nil
			}
			return async.Resolved(doc), nil
		}), nil
	case "toArray":
		return eval.NewGoFn("toArray", func(fm *eval.Frame, args []any) (any, error) {
			return c.collect(fm, 0, nil)
		}), nil
	case "fetchBatch":
		return eval.NewGoFn("fetchBatch", func(fm *eval.Frame, args []any) (any, error) {
			n := DefaultBatchSize
			if len(args) > 0 {
				f, err := numberArg("fetchBatch", args, 0)
				if err != nil {
					return nil, err
				}
				n = int(f)
			}
			return c.collect(fm, n, nil)
		}), nil
	case "forEach":
		return eval.NewGoFn("forEach", func(fm *eval.Frame, args []any) (any, error) {
			f, ok := argAt(args, 0).(eval.Callable)
			if !ok {
				return nil, errWant("forEach", "a function")
			}
			d, err := c.collect(fm, 0, func(fm *eval.Frame, doc any) (any, error) {
				return f.Call(fm, []any{doc})
			})
			if err != nil {
				return nil, err
			}
			return async.Then(d, func(any) (any, error) { return nil, nil }), nil
		}), nil
	case "map":
		return eval.NewGoFn("map", func(fm *eval.Frame, args []any) (any, error) {
			f, ok := argAt(args, 0).(eval.Callable)
			if !ok {
				return nil, errWant("map", "a function")
			}
			return c.collect(fm, 0, func(fm *eval.Frame, doc any) (any, error) {
				return f.Call(fm, []any{doc})
			})
		}), nil
	case "close":
		return eval.NewGoFn("close", func(fm *eval.Frame, args []any) (any, error) {
			c.mu.Lock()
			backend := c.backend
			c.closed = true
			c.mu.Unlock()
			if backend == nil || backend.IsClosed() {
				return async.Resolved(nil), nil
			}
			return backend.Close(), nil
		}), nil
	case "isClosed":
		return eval.NewGoFn("isClosed", func(fm *eval.Frame, args []any) (any, error) {
			c.mu.Lock()
			defer c.mu.Unlock()
			return c.closed || (c.backend != nil && c.backend.IsClosed()), nil
		}), nil
	default:
		return nil, errNoAPIMember("Cursor", name)
	}
}

// collect drains up to max documents (0 means all), mapping each through
// transform when given, as a deferred resolving to an array.
func (c *Cursor) collect(fm *eval.Frame, max int, transform func(*eval.Frame, any) (any, error)) (*async.Deferred, error) {
	backend, err := c.ensureStarted()
	if err != nil {
		return nil, err
	}
	intr := fm.Interrupts()
	return async.Go(func() (any, error) {
		var out []any
		for max == 0 || len(out) < max {
			has, err := backend.HasNext().Await(intr)
			if err != nil {
				return nil, err
			}
			if has != true {
				break
			}
			doc, err := backend.Next().Await(intr)
			if err != nil {
				return nil, err
			}
			if transform != nil {
				doc, err = transform(fm, doc)
				if err != nil {
					return nil, err
				}
			}
			out = append(out, doc)
		}
		return eval.NewList(out...), nil
	}), nil
}

// Iterate drives for-of loops: each document is pulled on demand,
// interruptibly.
func (c *Cursor) Iterate(fm *eval.Frame, f func(v any) error) error {
	backend, err := c.ensureStarted()
	if err != nil {
		return err
	}
	intr := fm.Interrupts()
	for {
		has, err := backend.HasNext().Await(intr)
		if err != nil {
			return err
		}
		if has != true {
			return nil
		}
		doc, err := backend.Next().Await(intr)
		if err != nil {
			return err
		}
		if err := f(doc); err != nil {
			return err
		}
	}
}

func (c *Cursor) ReprString() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "[cursor (closed)]"
	}
	return "[cursor]"
}

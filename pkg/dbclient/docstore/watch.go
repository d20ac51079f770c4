package docstore

import (
	"sync"

	"github.com/dosh-shell/dosh/pkg/async"
	"github.com/dosh-shell/dosh/pkg/dbclient"
)

// changeEvent describes one committed write, in the shape served to watch
// cursors.
type changeEvent struct {
	db   string
	coll string
	op   string
	doc  dbclient.Document
}

func (ev changeEvent) document() dbclient.Document {
	out := dbclient.Document{
		"operationType": ev.op,
		"ns":            dbclient.Document{"db": ev.db, "coll": ev.coll},
	}
	if ev.doc != nil {
		out["fullDocument"] = ev.doc
	}
	return out
}

// publish fans a batch of committed events out to matching watch cursors.
func (st *Store) publish(events []changeEvent) {
	if len(events) == 0 {
		return
	}
	st.mu.Lock()
	watchers := make([]*watchCursor, len(st.watchers))
	copy(watchers, st.watchers)
	st.mu.Unlock()
	for _, w := range watchers {
		for _, ev := range events {
			if w.matches(ev) {
				w.deliver(ev.document())
			}
		}
	}
}

func (st *Store) addWatcher(w *watchCursor) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.watchers = append(st.watchers, w)
}

func (st *Store) removeWatcher(w *watchCursor) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for i, x := range st.watchers {
		if x == w {
			st.watchers = append(st.watchers[:i], st.watchers[i+1:]...)
			return
		}
	}
}

// watchCursor is a change-stream cursor: reads block until a write commits
// in the watched namespace.
type watchCursor struct {
	st   *Store
	db   string
	coll string // empty watches the whole database

	events chan dbclient.Document
	done   chan struct{}

	mu      sync.Mutex
	pending dbclient.Document
	closed  bool
}

func newWatchCursor(st *Store, db, coll string) *watchCursor {
	w := &watchCursor{
		st: st, db: db, coll: coll,
		events: make(chan dbclient.Document, 64),
		done:   make(chan struct{}),
	}
	st.addWatcher(w)
	return w
}

func (w *watchCursor) matches(ev changeEvent) bool {
	return ev.db == w.db && (w.coll == "" || ev.coll == w.coll)
}

func (w *watchCursor) deliver(doc dbclient.Document) {
	select {
	case w.events <- doc:
	default:
		// A reader that far behind has lost its resume point anyway.
		logger.Println("watch cursor overflow, dropping event")
	}
}

// HasNext blocks until an event is available, holding it for the following
// Next.
func (w *watchCursor) HasNext() *async.Deferred {
	return async.Go(func() (any, error) {
		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			return nil, errCursorClosed
		}
		if w.pending != nil {
			w.mu.Unlock()
			return true, nil
		}
		w.mu.Unlock()
		select {
		case doc := <-w.events:
			w.mu.Lock()
			w.pending = doc
			w.mu.Unlock()
			return true, nil
		case <-w.done:
			return nil, errCursorClosed
		}
	})
}

func (w *watchCursor) Next() *async.Deferred {
	return async.Go(func() (any, error) {
		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			return nil, errCursorClosed
		}
		if doc := w.pending; doc != nil {
			w.pending = nil
			w.mu.Unlock()
			return doc, nil
		}
		w.mu.Unlock()
		select {
		case doc := <-w.events:
			return doc, nil
		case <-w.done:
			return nil, errCursorClosed
		}
	})
}

func (w *watchCursor) TryNext() (dbclient.Document, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, false, errCursorClosed
	}
	if doc := w.pending; doc != nil {
		w.pending = nil
		return doc, true, nil
	}
	select {
	case doc := <-w.events:
		return doc, true, nil
	default:
		return nil, false, nil
	}
}

func (w *watchCursor) Close() *async.Deferred {
	w.st.removeWatcher(w)
	w.shutdown()
	return async.Resolved(nil)
}

func (w *watchCursor) shutdown() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.done)
	}
}

func (w *watchCursor) IsClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

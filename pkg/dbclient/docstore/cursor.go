package docstore

import (
	"sync"

	"github.com/dosh-shell/dosh/pkg/async"
	"github.com/dosh-shell/dosh/pkg/dbclient"
)

// queryCursor serves the results of a find. The query runs lazily on the
// first read and the result set is then served incrementally.
type queryCursor struct {
	st     *Store
	db     string
	coll   string
	filter dbclient.Document
	opts   dbclient.FindOptions

	mu      sync.Mutex
	fetched bool
	docs    []dbclient.Document
	pos     int
	closed  bool
}

func (c *queryCursor) fetchLocked() error {
	if c.fetched {
		return nil
	}
	docs, err := c.st.scan(c.db, c.coll, c.filter)
	if err != nil {
		return dbclient.Errorf(dbclient.CodeTransport, "query failed: %v", err)
	}
	c.docs = applyFindOptions(docs, c.opts)
	c.fetched = true
	return nil
}

var errCursorClosed = dbclient.Errorf(dbclient.CodeInvalidState, "cursor is closed")

func (c *queryCursor) HasNext() *async.Deferred {
	return async.Go(func() (any, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return nil, errCursorClosed
		}
		if err := c.fetchLocked(); err != nil {
			return nil, err
		}
		if c.pos >= len(c.docs) {
			// Exhaustion releases the cursor.
			c.closed = true
			return false, nil
		}
		return true, nil
	})
}

func (c *queryCursor) Next() *async.Deferred {
	return async.Go(func() (any, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return nil, errCursorClosed
		}
		if err := c.fetchLocked(); err != nil {
			return nil, err
		}
		if c.pos >= len(c.docs) {
			c.closed = true
			return nil, errCursorClosed
		}
		doc := c.docs[c.pos]
		c.pos++
		return doc, nil
	})
}

func (c *queryCursor) TryNext() (dbclient.Document, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, false, errCursorClosed
	}
	if err := c.fetchLocked(); err != nil {
		return nil, false, err
	}
	if c.pos >= len(c.docs) {
		return nil, false, nil
	}
	doc := c.docs[c.pos]
	c.pos++
	return doc, true, nil
}

func (c *queryCursor) Close() *async.Deferred {
	c.mu.Lock()
	c.closed = true
	c.docs = nil
	c.mu.Unlock()
	return async.Resolved(nil)
}

func (c *queryCursor) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

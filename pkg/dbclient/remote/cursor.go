package remote

import (
	"sync"

	"github.com/dosh-shell/dosh/pkg/async"
	"github.com/dosh-shell/dosh/pkg/dbclient"
)

// cursor reads query results incrementally: the first read issues the
// find, later batches arrive through getMore.
type cursor struct {
	client *Client
	params findParams

	mu      sync.Mutex
	started bool
	id      string
	batch   []dbclient.Document
	done    bool
	closed  bool
}

type getMoreParams struct {
	CursorID string `json:"cursorId"`
	Size     int    `json:"size,omitempty"`
}

type getMoreResult struct {
	Batch []dbclient.Document `json:"batch"`
	Done  bool                `json:"done"`
}

var errCursorClosed = dbclient.Errorf(dbclient.CodeInvalidState, "cursor is closed")

// fill ensures at least one document is buffered, or reports exhaustion.
// Callers hold mu.
func (c *cursor) fill() error {
	for len(c.batch) == 0 {
		if c.closed {
			return errCursorClosed
		}
		if !c.started {
			var res findResult
			if err := c.client.call("find", c.params, &res); err != nil {
				return err
			}
			c.started = true
			c.id = res.CursorID
			c.batch = res.FirstBatch
			c.done = res.Done
			continue
		}
		if c.done {
			return nil
		}
		var res getMoreResult
		if err := c.client.call("getMore", getMoreParams{CursorID: c.id, Size: c.params.BatchSize}, &res); err != nil {
			return err
		}
		c.batch = res.Batch
		c.done = res.Done
		if len(res.Batch) == 0 && !res.Done {
			// Defensive: a server answering with neither data nor
			// completion would spin us forever.
			c.done = true
		}
	}
	return nil
}

func (c *cursor) HasNext() *async.Deferred {
	return async.Go(func() (any, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return nil, errCursorClosed
		}
		if err := c.fill(); err != nil {
			return nil, err
		}
		if len(c.batch) == 0 {
			c.closed = true
			return false, nil
		}
		return true, nil
	})
}

func (c *cursor) Next() *async.Deferred {
	return async.Go(func() (any, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return nil, errCursorClosed
		}
		if err := c.fill(); err != nil {
			return nil, err
		}
		if len(c.batch) == 0 {
			c.closed = true
			return nil, errCursorClosed
		}
		doc := c.batch[0]
		c.batch = c.batch[1:]
		return doc, nil
	})
}

func (c *cursor) TryNext() (dbclient.Document, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, false, errCursorClosed
	}
	// Only already-buffered documents; TryNext never goes to the wire.
	if len(c.batch) == 0 {
		return nil, false, nil
	}
	doc := c.batch[0]
	c.batch = c.batch[1:]
	return doc, true, nil
}

func (c *cursor) Close() *async.Deferred {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return async.Resolved(nil)
	}
	c.closed = true
	c.batch = nil
	id, started, done := c.id, c.started, c.done
	c.mu.Unlock()
	if !started || done || id == "" {
		return async.Resolved(nil)
	}
	return async.Go(func() (any, error) {
		var res struct{}
		if err := c.client.call("closeCursor", getMoreParams{CursorID: id}, &res); err != nil {
			logger.Println("closeCursor failed:", err)
		}
		return nil, nil
	})
}

func (c *cursor) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

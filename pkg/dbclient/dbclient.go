// Package dbclient defines the contract between the shell and the database
// backend it talks to: every operation that can suspend returns a deferred
// result, cursors expose incremental reads, and failures carry stable
// codes.
//
// The shell core never sees transport details; both the embedded docstore
// backend and the JSON-RPC remote backend implement Client.
package dbclient

import "github.com/dosh-shell/dosh/pkg/async"

// Document is a decoded database document. Values are strings, float64
// numbers, bools, nil, []any arrays and nested Documents.
type Document = map[string]any

// SortKey orders query results by one field.
type SortKey struct {
	Field string
	Desc  bool
}

// FindOptions shapes a query. The zero value asks for everything in
// natural order.
type FindOptions struct {
	Sort       []SortKey
	Limit      int
	Skip       int
	BatchSize  int
	Projection []string
	Session    Session
}

// WriteOptions shapes a write.
type WriteOptions struct {
	Session Session
}

// WriteResult reports the effect of a write.
type WriteResult struct {
	InsertedIDs   []string
	MatchedCount  int
	ModifiedCount int
	DeletedCount  int
}

// Cursor is an incremental read handle over query or change-stream
// results. Read operations return deferred results because fetching may
// suspend on the transport.
type Cursor interface {
	// HasNext resolves to a bool reporting whether another document is
	// available.
	HasNext() *async.Deferred
	// Next resolves to the next Document, or rejects with
	// CodeInvalidState once exhausted or closed.
	Next() *async.Deferred
	// TryNext returns the next document if one is immediately available.
	// It never suspends: absent data reports ok=false with a nil error.
	TryNext() (Document, bool, error)
	// Close releases the cursor. Closing twice is a no-op.
	Close() *async.Deferred
	IsClosed() bool
}

// Session is a transport-level logical session. Transaction and lifecycle
// *state* checks live in the shell wrapper; the backend enforces only that
// an ended session rejects further work.
type Session interface {
	ID() string
	Begin() error
	Commit() *async.Deferred
	Abort() *async.Deferred
	End() *async.Deferred
	Ended() bool
}

// Client is the database backend collaborator.
type Client interface {
	ListDatabases() *async.Deferred  // -> []string
	ListCollections(db string) *async.Deferred // -> []string
	RunCommand(db string, cmd Document) *async.Deferred // -> Document

	// Find returns a cursor immediately; the query itself runs lazily as
	// the cursor is read.
	Find(db, coll string, filter Document, opts FindOptions) (Cursor, error)
	// Aggregate starts server-side work, so the cursor itself arrives
	// deferred.
	Aggregate(db, coll string, pipeline []Document, opts FindOptions) *async.Deferred // -> Cursor

	InsertMany(db, coll string, docs []Document, opts WriteOptions) *async.Deferred // -> *WriteResult
	UpdateOne(db, coll string, filter, update Document, opts WriteOptions) *async.Deferred // -> *WriteResult
	Delete(db, coll string, filter Document, justOne bool, opts WriteOptions) *async.Deferred // -> *WriteResult
	Count(db, coll string, filter Document, opts FindOptions) *async.Deferred // -> float64

	Drop(db, coll string) *async.Deferred    // -> bool
	DropDatabase(db string) *async.Deferred  // -> Document

	// Watch opens a change-stream cursor over the collection, or the whole
	// database when coll is empty.
	Watch(db, coll string) (Cursor, error)

	StartSession() (Session, error)
	Close() error
}

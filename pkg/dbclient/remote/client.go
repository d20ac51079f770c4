// Package remote is the database backend that talks JSON-RPC 2.0 to a
// server over a TCP or unix socket. Every transport failure surfaces as a
// dbclient error with the Transport code; the shell core never sees the
// RPC machinery.
package remote

import (
	"context"
	"net"
	"strings"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/dosh-shell/dosh/pkg/async"
	"github.com/dosh-shell/dosh/pkg/dbclient"
	"github.com/dosh-shell/dosh/pkg/logutil"
)

var logger = logutil.GetLogger("[remote] ")

// Client implements dbclient.Client over a JSON-RPC connection.
type Client struct {
	conn *jsonrpc2.Conn
}

var _ dbclient.Client = (*Client)(nil)

// Dial connects to addr. An addr containing a path separator or ending in
// ".sock" is treated as a unix socket, anything else as TCP.
func Dial(addr string) (*Client, error) {
	network := "tcp"
	if strings.ContainsAny(addr, "/\\") || strings.HasSuffix(addr, ".sock") {
		network = "unix"
	}
	netConn, err := net.Dial(network, addr)
	if err != nil {
		return nil, dbclient.Errorf(dbclient.CodeTransport, "dial %s: %v", addr, err)
	}
	logger.Println("connected to", addr)
	stream := jsonrpc2.NewBufferedStream(netConn, jsonrpc2.PlainObjectCodec{})
	conn := jsonrpc2.NewConn(context.Background(), stream, noopHandler{})
	return &Client{conn: conn}, nil
}

// noopHandler drops server-initiated requests; the protocol is pure
// request/response from our side.
type noopHandler struct{}

func (noopHandler) Handle(context.Context, *jsonrpc2.Conn, *jsonrpc2.Request) {}

func (c *Client) Close() error { return c.conn.Close() }

// call performs one RPC, decoding the result into res.
func (c *Client) call(method string, params, res any) error {
	err := c.conn.Call(context.Background(), method, params, res)
	if err != nil {
		return dbclient.Errorf(dbclient.CodeTransport, "%s: %v", method, err)
	}
	return nil
}

// callDeferred runs the RPC on its own goroutine and hands back the
// decoded result through fn.
func callDeferred[T any](c *Client, method string, params any, fn func(T) (any, error)) *async.Deferred {
	return async.Go(func() (any, error) {
		var res T
		if err := c.call(method, params, &res); err != nil {
			return nil, err
		}
		return fn(res)
	})
}

type namespaceParams struct {
	DB   string `json:"db"`
	Coll string `json:"coll,omitempty"`
}

func (c *Client) ListDatabases() *async.Deferred {
	return callDeferred(c, "listDatabases", struct{}{}, func(res []string) (any, error) {
		return res, nil
	})
}

func (c *Client) ListCollections(db string) *async.Deferred {
	return callDeferred(c, "listCollections", namespaceParams{DB: db}, func(res []string) (any, error) {
		return res, nil
	})
}

type runCommandParams struct {
	DB  string            `json:"db"`
	Cmd dbclient.Document `json:"cmd"`
}

func (c *Client) RunCommand(db string, cmd dbclient.Document) *async.Deferred {
	return callDeferred(c, "runCommand", runCommandParams{db, cmd}, func(res dbclient.Document) (any, error) {
		return res, nil
	})
}

type findParams struct {
	DB         string             `json:"db"`
	Coll       string             `json:"coll"`
	Filter     dbclient.Document  `json:"filter"`
	Sort       []dbclient.SortKey `json:"sort,omitempty"`
	Limit      int                `json:"limit,omitempty"`
	Skip       int                `json:"skip,omitempty"`
	BatchSize  int                `json:"batchSize,omitempty"`
	Projection []string           `json:"projection,omitempty"`
	Session    string             `json:"session,omitempty"`
}

type findResult struct {
	CursorID   string              `json:"cursorId"`
	FirstBatch []dbclient.Document `json:"firstBatch"`
	Done       bool                `json:"done"`
}

func (c *Client) Find(db, coll string, filter dbclient.Document, opts dbclient.FindOptions) (dbclient.Cursor, error) {
	if err := sessionGuard(opts.Session); err != nil {
		return nil, err
	}
	return &cursor{
		client: c,
		params: findParams{
			DB: db, Coll: coll, Filter: filter,
			Sort: opts.Sort, Limit: opts.Limit, Skip: opts.Skip,
			BatchSize: opts.BatchSize, Projection: opts.Projection,
			Session: sessionID(opts.Session),
		},
	}, nil
}

func (c *Client) Aggregate(db, coll string, pipeline []dbclient.Document, opts dbclient.FindOptions) *async.Deferred {
	return async.Rejected(dbclient.Errorf(dbclient.CodeUnimplemented,
		"aggregate is not supported by the remote backend"))
}

type insertParams struct {
	DB      string              `json:"db"`
	Coll    string              `json:"coll"`
	Docs    []dbclient.Document `json:"docs"`
	Session string              `json:"session,omitempty"`
}

type writeResult struct {
	InsertedIDs   []string `json:"insertedIds,omitempty"`
	MatchedCount  int      `json:"matchedCount"`
	ModifiedCount int      `json:"modifiedCount"`
	DeletedCount  int      `json:"deletedCount"`
}

func (r writeResult) toAPI() *dbclient.WriteResult {
	return &dbclient.WriteResult{
		InsertedIDs:   r.InsertedIDs,
		MatchedCount:  r.MatchedCount,
		ModifiedCount: r.ModifiedCount,
		DeletedCount:  r.DeletedCount,
	}
}

func (c *Client) InsertMany(db, coll string, docs []dbclient.Document, opts dbclient.WriteOptions) *async.Deferred {
	if err := sessionGuard(opts.Session); err != nil {
		return async.Rejected(err)
	}
	params := insertParams{DB: db, Coll: coll, Docs: docs, Session: sessionID(opts.Session)}
	return callDeferred(c, "insert", params, func(res writeResult) (any, error) {
		return res.toAPI(), nil
	})
}

type updateParams struct {
	DB      string            `json:"db"`
	Coll    string            `json:"coll"`
	Filter  dbclient.Document `json:"filter"`
	Update  dbclient.Document `json:"update"`
	Session string            `json:"session,omitempty"`
}

func (c *Client) UpdateOne(db, coll string, filter, update dbclient.Document, opts dbclient.WriteOptions) *async.Deferred {
	if err := sessionGuard(opts.Session); err != nil {
		return async.Rejected(err)
	}
	params := updateParams{DB: db, Coll: coll, Filter: filter, Update: update, Session: sessionID(opts.Session)}
	return callDeferred(c, "update", params, func(res writeResult) (any, error) {
		return res.toAPI(), nil
	})
}

type deleteParams struct {
	DB      string            `json:"db"`
	Coll    string            `json:"coll"`
	Filter  dbclient.Document `json:"filter"`
	JustOne bool              `json:"justOne"`
	Session string            `json:"session,omitempty"`
}

func (c *Client) Delete(db, coll string, filter dbclient.Document, justOne bool, opts dbclient.WriteOptions) *async.Deferred {
	if err := sessionGuard(opts.Session); err != nil {
		return async.Rejected(err)
	}
	params := deleteParams{DB: db, Coll: coll, Filter: filter, JustOne: justOne, Session: sessionID(opts.Session)}
	return callDeferred(c, "delete", params, func(res writeResult) (any, error) {
		return res.toAPI(), nil
	})
}

type countParams struct {
	DB     string            `json:"db"`
	Coll   string            `json:"coll"`
	Filter dbclient.Document `json:"filter"`
}

func (c *Client) Count(db, coll string, filter dbclient.Document, opts dbclient.FindOptions) *async.Deferred {
	if err := sessionGuard(opts.Session); err != nil {
		return async.Rejected(err)
	}
	return callDeferred(c, "count", countParams{db, coll, filter}, func(res float64) (any, error) {
		return res, nil
	})
}

func (c *Client) Drop(db, coll string) *async.Deferred {
	return callDeferred(c, "runCommand",
		runCommandParams{db, dbclient.Document{"drop": coll}},
		func(res dbclient.Document) (any, error) {
			return res["ok"] == 1.0, nil
		})
}

func (c *Client) DropDatabase(db string) *async.Deferred {
	return callDeferred(c, "runCommand",
		runCommandParams{db, dbclient.Document{"dropDatabase": 1.0}},
		func(res dbclient.Document) (any, error) {
			return res, nil
		})
}

func (c *Client) Watch(db, coll string) (dbclient.Cursor, error) {
	return nil, dbclient.Errorf(dbclient.CodeUnimplemented,
		"change streams are not supported by the remote backend")
}

func (c *Client) StartSession() (dbclient.Session, error) {
	return nil, dbclient.Errorf(dbclient.CodeUnimplemented,
		"sessions are not supported by the remote backend")
}

func sessionGuard(s dbclient.Session) error {
	if s != nil && s.Ended() {
		return dbclient.Errorf(dbclient.CodeSessionExpired,
			"session %s has ended; operations on it are no longer valid", s.ID())
	}
	return nil
}

func sessionID(s dbclient.Session) string {
	if s == nil {
		return ""
	}
	return s.ID()
}

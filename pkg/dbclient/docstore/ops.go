package docstore

import (
	"errors"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/dosh-shell/dosh/pkg/async"
	"github.com/dosh-shell/dosh/pkg/dbclient"
)

// Store implements dbclient.Client.
var _ dbclient.Client = (*Store)(nil)

func sessionGuard(s dbclient.Session) error {
	if s != nil && s.Ended() {
		return dbclient.Errorf(dbclient.CodeSessionExpired,
			"session %s has ended; operations on it are no longer valid", s.ID())
	}
	return nil
}

func (st *Store) ListDatabases() *async.Deferred {
	return async.Go(func() (any, error) {
		var names []string
		err := st.bdb.View(func(tx *bolt.Tx) error {
			return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
				names = append(names, string(name))
				return nil
			})
		})
		if err != nil {
			return nil, dbclient.Errorf(dbclient.CodeTransport, "list databases: %v", err)
		}
		return names, nil
	})
}

func (st *Store) ListCollections(db string) *async.Deferred {
	return async.Go(func() (any, error) {
		var names []string
		err := st.bdb.View(func(tx *bolt.Tx) error {
			dbb := tx.Bucket([]byte(db))
			if dbb == nil {
				return nil
			}
			return dbb.ForEachBucket(func(name []byte) error {
				names = append(names, string(name))
				return nil
			})
		})
		if err != nil {
			return nil, dbclient.Errorf(dbclient.CodeTransport, "list collections: %v", err)
		}
		return names, nil
	})
}

func (st *Store) RunCommand(db string, cmd dbclient.Document) *async.Deferred {
	return async.Go(func() (any, error) {
		switch {
		case cmd["ping"] != nil:
			return dbclient.Document{"ok": 1.0}, nil
		case cmd["dbStats"] != nil:
			stats := dbclient.Document{"db": db, "collections": 0.0, "objects": 0.0, "ok": 1.0}
			err := st.bdb.View(func(tx *bolt.Tx) error {
				dbb := tx.Bucket([]byte(db))
				if dbb == nil {
					return nil
				}
				colls, objects := 0, 0
				err := dbb.ForEachBucket(func(name []byte) error {
					colls++
					objects += dbb.Bucket(name).Stats().KeyN
					return nil
				})
				stats["collections"] = float64(colls)
				stats["objects"] = float64(objects)
				return err
			})
			if err != nil {
				return nil, dbclient.Errorf(dbclient.CodeTransport, "dbStats: %v", err)
			}
			return stats, nil
		default:
			return nil, dbclient.Errorf(dbclient.CodeUnimplemented,
				"command not supported by the embedded store")
		}
	})
}

func (st *Store) Find(db, coll string, filter dbclient.Document, opts dbclient.FindOptions) (dbclient.Cursor, error) {
	if err := sessionGuard(opts.Session); err != nil {
		return nil, err
	}
	return &queryCursor{st: st, db: db, coll: coll, filter: filter, opts: opts}, nil
}

// Aggregate supports the $match, $sort, $limit and $skip stages by
// translating them onto a plain query.
func (st *Store) Aggregate(db, coll string, pipeline []dbclient.Document, opts dbclient.FindOptions) *async.Deferred {
	if err := sessionGuard(opts.Session); err != nil {
		return async.Rejected(err)
	}
	return async.Go(func() (any, error) {
		filter := dbclient.Document{}
		for _, stage := range pipeline {
			for name, arg := range stage {
				switch name {
				case "$match":
					m, ok := arg.(map[string]any)
					if !ok {
						return nil, dbclient.Errorf(dbclient.CodeInvalidState, "$match takes a document")
					}
					for k, v := range m {
						filter[k] = v
					}
				case "$sort":
					m, ok := arg.(map[string]any)
					if !ok {
						return nil, dbclient.Errorf(dbclient.CodeInvalidState, "$sort takes a document")
					}
					for k, v := range m {
						desc := false
						if n, ok := v.(float64); ok && n < 0 {
							desc = true
						}
						opts.Sort = append(opts.Sort, dbclient.SortKey{Field: k, Desc: desc})
					}
				case "$limit":
					if n, ok := arg.(float64); ok {
						opts.Limit = int(n)
					}
				case "$skip":
					if n, ok := arg.(float64); ok {
						opts.Skip = int(n)
					}
				default:
					return nil, dbclient.Errorf(dbclient.CodeUnimplemented,
						"aggregation stage %s not supported by the embedded store", name)
				}
			}
		}
		cur := &queryCursor{st: st, db: db, coll: coll, filter: filter, opts: opts}
		// Run the query now; aggregate starts server-side work.
		cur.mu.Lock()
		err := cur.fetchLocked()
		cur.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return dbclient.Cursor(cur), nil
	})
}

// A writeOp applies a mutation inside a bolt transaction and reports its
// result and the change events it produced.
type writeOp func(tx *bolt.Tx) (*dbclient.WriteResult, []changeEvent, error)

// Sentinel used to roll back dry-run transactions.
var errRollback = errors.New("rollback")

// runWrite executes a write, either directly or buffered into the
// session's active transaction.
func (st *Store) runWrite(sess dbclient.Session, op writeOp) *async.Deferred {
	if err := sessionGuard(sess); err != nil {
		return async.Rejected(err)
	}
	if ds, ok := sess.(*docSession); ok && ds.active() {
		return async.Go(func() (any, error) {
			// Dry-run for the result; the mutation itself applies at
			// commit.
			var res *dbclient.WriteResult
			err := st.bdb.Update(func(tx *bolt.Tx) error {
				var opErr error
				res, _, opErr = op(tx)
				if opErr != nil {
					return opErr
				}
				return errRollback
			})
			if err != nil && err != errRollback {
				return nil, wrapWriteErr(err)
			}
			ds.buffer(op)
			return res, nil
		})
	}
	return async.Go(func() (any, error) {
		var res *dbclient.WriteResult
		var events []changeEvent
		err := st.bdb.Update(func(tx *bolt.Tx) error {
			var opErr error
			res, events, opErr = op(tx)
			return opErr
		})
		if err != nil {
			return nil, wrapWriteErr(err)
		}
		st.publish(events)
		return res, nil
	})
}

func wrapWriteErr(err error) error {
	var de *dbclient.Error
	if errors.As(err, &de) {
		return err
	}
	return dbclient.Errorf(dbclient.CodeTransport, "write failed: %v", err)
}

func (st *Store) InsertMany(db, coll string, docs []dbclient.Document, opts dbclient.WriteOptions) *async.Deferred {
	return st.runWrite(opts.Session, func(tx *bolt.Tx) (*dbclient.WriteResult, []changeEvent, error) {
		b, err := collBucket(tx, db, coll, true)
		if err != nil {
			return nil, nil, err
		}
		res := &dbclient.WriteResult{}
		var events []changeEvent
		for _, doc := range docs {
			stored := make(dbclient.Document, len(doc)+1)
			for k, v := range doc {
				stored[k] = v
			}
			id, ok := stored["_id"].(string)
			if !ok {
				id = uuid.NewString()
				stored["_id"] = id
			}
			data, err := encodeDoc(stored)
			if err != nil {
				return nil, nil, err
			}
			if err := b.Put([]byte(id), data); err != nil {
				return nil, nil, err
			}
			res.InsertedIDs = append(res.InsertedIDs, id)
			events = append(events, changeEvent{db, coll, "insert", stored})
		}
		return res, events, nil
	})
}

func (st *Store) UpdateOne(db, coll string, filter, update dbclient.Document, opts dbclient.WriteOptions) *async.Deferred {
	return st.runWrite(opts.Session, func(tx *bolt.Tx) (*dbclient.WriteResult, []changeEvent, error) {
		b, err := collBucket(tx, db, coll, false)
		if err != nil {
			return nil, nil, err
		}
		res := &dbclient.WriteResult{}
		if b == nil {
			return res, nil, nil
		}
		var id []byte
		var doc dbclient.Document
		cur := b.Cursor()
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			d, err := decodeDoc(v)
			if err != nil {
				return nil, nil, err
			}
			if matchFilter(d, filter) {
				id, doc = append([]byte(nil), k...), d
				break
			}
		}
		if id == nil {
			return res, nil, nil
		}
		res.MatchedCount = 1
		updated := applyUpdate(doc, update)
		data, err := encodeDoc(updated)
		if err != nil {
			return nil, nil, err
		}
		if err := b.Put(id, data); err != nil {
			return nil, nil, err
		}
		res.ModifiedCount = 1
		return res, []changeEvent{{db, coll, "update", updated}}, nil
	})
}

// applyUpdate applies $set, $unset and $inc; a document without operators
// replaces everything but _id.
func applyUpdate(doc, update dbclient.Document) dbclient.Document {
	hasOp := false
	for k := range update {
		if len(k) > 0 && k[0] == '$' {
			hasOp = true
			break
		}
	}
	if !hasOp {
		out := make(dbclient.Document, len(update)+1)
		for k, v := range update {
			out[k] = v
		}
		out["_id"] = doc["_id"]
		return out
	}
	out := make(dbclient.Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	if set, ok := update["$set"].(map[string]any); ok {
		for k, v := range set {
			out[k] = v
		}
	}
	if unset, ok := update["$unset"].(map[string]any); ok {
		for k := range unset {
			delete(out, k)
		}
	}
	if inc, ok := update["$inc"].(map[string]any); ok {
		for k, v := range inc {
			n, _ := v.(float64)
			old, _ := out[k].(float64)
			out[k] = old + n
		}
	}
	return out
}

func (st *Store) Delete(db, coll string, filter dbclient.Document, justOne bool, opts dbclient.WriteOptions) *async.Deferred {
	return st.runWrite(opts.Session, func(tx *bolt.Tx) (*dbclient.WriteResult, []changeEvent, error) {
		b, err := collBucket(tx, db, coll, false)
		if err != nil {
			return nil, nil, err
		}
		res := &dbclient.WriteResult{}
		if b == nil {
			return res, nil, nil
		}
		var ids [][]byte
		var events []changeEvent
		cur := b.Cursor()
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			d, err := decodeDoc(v)
			if err != nil {
				return nil, nil, err
			}
			if matchFilter(d, filter) {
				ids = append(ids, append([]byte(nil), k...))
				events = append(events, changeEvent{db, coll, "delete", dbclient.Document{"_id": d["_id"]}})
				if justOne {
					break
				}
			}
		}
		for _, id := range ids {
			if err := b.Delete(id); err != nil {
				return nil, nil, err
			}
		}
		res.DeletedCount = len(ids)
		return res, events, nil
	})
}

func (st *Store) Count(db, coll string, filter dbclient.Document, opts dbclient.FindOptions) *async.Deferred {
	if err := sessionGuard(opts.Session); err != nil {
		return async.Rejected(err)
	}
	return async.Go(func() (any, error) {
		docs, err := st.scan(db, coll, filter)
		if err != nil {
			return nil, dbclient.Errorf(dbclient.CodeTransport, "count failed: %v", err)
		}
		return float64(len(applyFindOptions(docs, opts))), nil
	})
}

func (st *Store) Drop(db, coll string) *async.Deferred {
	return async.Go(func() (any, error) {
		dropped := false
		err := st.bdb.Update(func(tx *bolt.Tx) error {
			dbb := tx.Bucket([]byte(db))
			if dbb == nil || dbb.Bucket([]byte(coll)) == nil {
				return nil
			}
			dropped = true
			return dbb.DeleteBucket([]byte(coll))
		})
		if err != nil {
			return nil, dbclient.Errorf(dbclient.CodeTransport, "drop failed: %v", err)
		}
		return dropped, nil
	})
}

func (st *Store) DropDatabase(db string) *async.Deferred {
	return async.Go(func() (any, error) {
		err := st.bdb.Update(func(tx *bolt.Tx) error {
			if tx.Bucket([]byte(db)) == nil {
				return nil
			}
			return tx.DeleteBucket([]byte(db))
		})
		if err != nil {
			return nil, dbclient.Errorf(dbclient.CodeTransport, "dropDatabase failed: %v", err)
		}
		return dbclient.Document{"dropped": db, "ok": 1.0}, nil
	})
}

func (st *Store) Watch(db, coll string) (dbclient.Cursor, error) {
	st.mu.Lock()
	closed := st.closed
	st.mu.Unlock()
	if closed {
		return nil, dbclient.Errorf(dbclient.CodeInvalidState, "store is closed")
	}
	return newWatchCursor(st, db, coll), nil
}

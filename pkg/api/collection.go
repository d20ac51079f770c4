package api

import (
	"github.com/dosh-shell/dosh/pkg/async"
	"github.com/dosh-shell/dosh/pkg/dbclient"
	"github.com/dosh-shell/dosh/pkg/eval"
)

// Collection is a handle on one collection. Unknown members resolve to
// dotted sub-collections (db.blog.posts).
type Collection struct {
	client dbclient.Client
	db     string
	name   string
	sess   *Session
}

func (c *Collection) backendSession() dbclient.Session {
	if c.sess == nil {
		return nil
	}
	return c.sess.backend
}

func (c *Collection) writeOpts() dbclient.WriteOptions {
	return dbclient.WriteOptions{Session: c.backendSession()}
}

func (c *Collection) Member(name string) (any, error) {
	switch name {
	case "getName":
		return eval.NewGoFn("getName", func(fm *eval.Frame, args []any) (any, error) {
			return c.name, nil
		}), nil
	case "find":
		return eval.NewGoFn("find", c.find), nil
	case "aggregate":
		return eval.NewGoFn("aggregate", c.aggregate), nil
	case "findOne":
		return eval.NewGoFn("findOne", c.findOne), nil
	case "insertOne":
		return eval.NewGoFn("insertOne", func(fm *eval.Frame, args []any) (any, error) {
			doc, err := docArg(args, 0)
			if err != nil {
				return nil, err
			}
			return async.Then(
				c.client.InsertMany(c.db, c.name, []dbclient.Document{doc}, c.writeOpts()),
				func(v any) (any, error) {
					res := v.(*dbclient.WriteResult)
					return map[string]any{
						"acknowledged": true,
						"insertedId":   res.InsertedIDs[0],
					}, nil
				}), nil
		}), nil
	case "insertMany":
		return eval.NewGoFn("insertMany", func(fm *eval.Frame, args []any) (any, error) {
			list, ok := argAt(args, 0).(*eval.List)
			if !ok {
				return nil, errWant("insertMany", "an array of documents")
			}
			docs := make([]dbclient.Document, len(list.Elems))
			for i, el := range list.Elems {
				doc, err := toDocument(el)
				if err != nil {
					return nil, err
				}
				docs[i] = doc
			}
			return async.Then(
				c.client.InsertMany(c.db, c.name, docs, c.writeOpts()),
				func(v any) (any, error) {
					res := v.(*dbclient.WriteResult)
					ids := make([]any, len(res.InsertedIDs))
					for i, id := range res.InsertedIDs {
						ids[i] = id
					}
					return map[string]any{
						"acknowledged": true,
						"insertedIds":  eval.NewList(ids...),
					}, nil
				}), nil
		}), nil
	case "updateOne":
		return eval.NewGoFn("updateOne", func(fm *eval.Frame, args []any) (any, error) {
			filter, err := docArg(args, 0)
			if err != nil {
				return nil, err
			}
			update, err := docArg(args, 1)
			if err != nil {
				return nil, err
			}
			return async.Then(
				c.client.UpdateOne(c.db, c.name, filter, update, c.writeOpts()),
				func(v any) (any, error) {
					res := v.(*dbclient.WriteResult)
					return map[string]any{
						"acknowledged":  true,
						"matchedCount":  float64(res.MatchedCount),
						"modifiedCount": float64(res.ModifiedCount),
					}, nil
				}), nil
		}), nil
	case "deleteOne":
		return eval.NewGoFn("deleteOne", c.deleteFn(true)), nil
	case "deleteMany":
		return eval.NewGoFn("deleteMany", c.deleteFn(false)), nil
	case "countDocuments":
		return eval.NewGoFn("countDocuments", func(fm *eval.Frame, args []any) (any, error) {
			filter, err := docArg(args, 0)
			if err != nil {
				return nil, err
			}
			opts := dbclient.FindOptions{Session: c.backendSession()}
			return c.client.Count(c.db, c.name, filter, opts), nil
		}), nil
	case "drop":
		return eval.NewGoFn("drop", func(fm *eval.Frame, args []any) (any, error) {
			return c.client.Drop(c.db, c.name), nil
		}), nil
	case "watch":
		return eval.NewGoFn("watch", func(fm *eval.Frame, args []any) (any, error) {
			cur, err := c.client.Watch(c.db, c.name)
			if err != nil {
				return nil, err
			}
			return &ChangeStreamCursor{backend: cur}, nil
		}), nil
	default:
		return &Collection{client: c.client, db: c.db, name: c.name + "." + name, sess: c.sess}, nil
	}
}

// find returns a cursor immediately; it is a builder, not a read, and the
// query runs once the cursor is first consumed.
func (c *Collection) find(fm *eval.Frame, args []any) (any, error) {
	filter, err := docArg(args, 0)
	if err != nil {
		return nil, err
	}
	cur := &Cursor{
		client: c.client, db: c.db, coll: c.name, filter: filter,
		opts: dbclient.FindOptions{Session: c.backendSession()},
	}
	if len(args) > 1 {
		proj, err := docArg(args, 1)
		if err != nil {
			return nil, err
		}
		cur.opts.Projection = projectionFields(proj)
		return cur, nil
	}
	return cur, nil
}

func (c *Collection) aggregate(fm *eval.Frame, args []any) (any, error) {
	list, ok := argAt(args, 0).(*eval.List)
	if !ok {
		return nil, errWant("aggregate", "a pipeline array")
	}
	pipeline := make([]dbclient.Document, len(list.Elems))
	for i, el := range list.Elems {
		stage, err := toDocument(el)
		if err != nil {
			return nil, err
		}
		pipeline[i] = stage
	}
	opts := dbclient.FindOptions{Session: c.backendSession()}
	return async.Then(
		c.client.Aggregate(c.db, c.name, pipeline, opts),
		func(v any) (any, error) {
			return newStartedCursor(v.(dbclient.Cursor)), nil
		}), nil
}

func (c *Collection) findOne(fm *eval.Frame, args []any) (any, error) {
	filter, err := docArg(args, 0)
	if err != nil {
		return nil, err
	}
	opts := dbclient.FindOptions{Limit: 1, Session: c.backendSession()}
	backend, err := c.client.Find(c.db, c.name, filter, opts)
	if err != nil {
		return nil, err
	}
	return async.Then(backend.HasNext(), func(has any) (any, error) {
		if has != true {
			return nil, nil
		}
		doc, err := backend.Next().Await(nil)
		if err != nil {
			return nil, err
		}
		return doc, nil
	}), nil
}

func (c *Collection) deleteFn(justOne bool) func(fm *eval.Frame, args []any) (any, error) {
	return func(fm *eval.Frame, args []any) (any, error) {
		filter, err := docArg(args, 0)
		if err != nil {
			return nil, err
		}
		return async.Then(
			c.client.Delete(c.db, c.name, filter, justOne, c.writeOpts()),
			func(v any) (any, error) {
				res := v.(*dbclient.WriteResult)
				return map[string]any{
					"acknowledged": true,
					"deletedCount": float64(res.DeletedCount),
				}, nil
			}), nil
	}
}

// projectionFields keeps the fields a {field: 1} projection document
// includes.
func projectionFields(proj dbclient.Document) []string {
	var fields []string
	for k, v := range proj {
		if n, ok := v.(float64); ok && n != 0 {
			fields = append(fields, k)
		}
	}
	return fields
}

func (c *Collection) ReprString() string { return c.db + "." + c.name }

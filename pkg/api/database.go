package api

import (
	"github.com/dosh-shell/dosh/pkg/async"
	"github.com/dosh-shell/dosh/pkg/dbclient"
	"github.com/dosh-shell/dosh/pkg/eval"
)

// Database is a handle on one database. Any member that is not a method
// resolves to a collection handle, so db.users works without declaring
// users anywhere.
type Database struct {
	client dbclient.Client
	name   string
	// Session the handle is bound to; nil outside sessions.
	sess *Session
}

func (d *Database) collection(name string) *Collection {
	return &Collection{client: d.client, db: d.name, name: name, sess: d.sess}
}

func (d *Database) Member(name string) (any, error) {
	switch name {
	case "getName":
		return eval.NewGoFn("getName", func(fm *eval.Frame, args []any) (any, error) {
			return d.name, nil
		}), nil
	case "getCollection":
		return eval.NewGoFn("getCollection", func(fm *eval.Frame, args []any) (any, error) {
			coll, err := stringArg("getCollection", args, 0)
			if err != nil {
				return nil, err
			}
			return d.collection(coll), nil
		}), nil
	case "getSiblingDB":
		return eval.NewGoFn("getSiblingDB", func(fm *eval.Frame, args []any) (any, error) {
			db, err := stringArg("getSiblingDB", args, 0)
			if err != nil {
				return nil, err
			}
			return &Database{client: d.client, name: db, sess: d.sess}, nil
		}), nil
	case "listCollections":
		return eval.NewGoFn("listCollections", func(fm *eval.Frame, args []any) (any, error) {
			return async.Then(d.client.ListCollections(d.name), func(v any) (any, error) {
				names, _ := v.([]string)
				elems := make([]any, len(names))
				for i, n := range names {
					elems[i] = n
				}
				return eval.NewList(elems...), nil
			}), nil
		}), nil
	case "runCommand":
		return eval.NewGoFn("runCommand", func(fm *eval.Frame, args []any) (any, error) {
			cmd, err := docArg(args, 0)
			if err != nil {
				return nil, err
			}
			return d.client.RunCommand(d.name, cmd), nil
		}), nil
	case "dropDatabase":
		return eval.NewGoFn("dropDatabase", func(fm *eval.Frame, args []any) (any, error) {
			return d.client.DropDatabase(d.name), nil
		}), nil
	case "watch":
		return eval.NewGoFn("watch", func(fm *eval.Frame, args []any) (any, error) {
			cur, err := d.client.Watch(d.name, "")
			if err != nil {
				return nil, err
			}
			return &ChangeStreamCursor{backend: cur}, nil
		}), nil
	default:
		return d.collection(name), nil
	}
}

func (d *Database) ReprString() string { return d.name }

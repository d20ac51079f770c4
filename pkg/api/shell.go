// Package api implements the objects the shell exposes to scripts: the
// shell root, database and collection handles, the cursor wrapper with its
// lifecycle state machine, the change-stream cursor, and the session
// wrapper. All of them satisfy eval.Memberer, so the evaluator dispatches
// member access to them directly.
package api

import (
	"fmt"
	"strings"

	"github.com/dosh-shell/dosh/pkg/async"
	"github.com/dosh-shell/dosh/pkg/dbclient"
	"github.com/dosh-shell/dosh/pkg/eval"
	"github.com/dosh-shell/dosh/pkg/logutil"
)

var logger = logutil.GetLogger("[api] ")

// Shell is the root API object. Its members double as the global shell
// functions (use, show, ...).
type Shell struct {
	client dbclient.Client
	db     *Database

	// Rebinds a global in the session environment; use relies on it to
	// repoint db.
	setGlobal func(name string, value any)
	// Signals that the user asked to leave. The evaluation loop defers
	// acting on it until the current evaluation finishes.
	requestExit func(code int)
}

// NewShell creates the root object over the given backend, with dbName as
// the initial current database.
func NewShell(client dbclient.Client, dbName string, requestExit func(code int)) *Shell {
	sh := &Shell{client: client, requestExit: requestExit}
	sh.db = &Database{client: client, name: dbName}
	if sh.requestExit == nil {
		sh.requestExit = func(int) {}
	}
	return sh
}

// Install binds the shell globals into the evaluator: db and every global
// shell function.
func (sh *Shell) Install(ev *eval.Evaluator) {
	sh.setGlobal = ev.SetGlobal
	ev.SetGlobal("db", sh.db)
	for _, name := range []string{"use", "show", "exit", "help", "startSession"} {
		v, err := sh.Member(name)
		if err != nil {
			panic(err)
		}
		ev.SetGlobal(name, v)
	}
}

// DB returns the current database handle.
func (sh *Shell) DB() *Database { return sh.db }

func (sh *Shell) Member(name string) (any, error) {
	switch name {
	case "use":
		return eval.NewGoFn("use", sh.use), nil
	case "show":
		return eval.NewGoFn("show", sh.show), nil
	case "exit":
		return eval.NewGoFn("exit", func(fm *eval.Frame, args []any) (any, error) {
			code := 0
			if n, ok := argAt(args, 0).(float64); ok {
				code = int(n)
			}
			sh.requestExit(code)
			return nil, nil
		}), nil
	case "help":
		return eval.NewGoFn("help", func(fm *eval.Frame, args []any) (any, error) {
			return helpText, nil
		}), nil
	case "startSession":
		return eval.NewGoFn("startSession", func(fm *eval.Frame, args []any) (any, error) {
			backend, err := sh.client.StartSession()
			if err != nil {
				return nil, err
			}
			logger.Println("started session", backend.ID())
			return &Session{client: sh.client, backend: backend}, nil
		}), nil
	default:
		return nil, fmt.Errorf("Shell has no member %q", name)
	}
}

func (sh *Shell) use(fm *eval.Frame, args []any) (any, error) {
	name, err := stringArg("use", args, 0)
	if err != nil {
		return nil, err
	}
	sh.db = &Database{client: sh.client, name: name}
	if sh.setGlobal != nil {
		sh.setGlobal("db", sh.db)
	}
	fmt.Fprintln(fm.Out(), "switched to db "+name)
	return sh.db, nil
}

// show implements the rewritten form of the direct commands "show dbs" and
// "show collections". It suspends on the backend, so it returns a
// deferred; the rewriter awaits it.
func (sh *Shell) show(fm *eval.Frame, args []any) (any, error) {
	topic, err := stringArg("show", args, 0)
	if err != nil {
		return nil, err
	}
	var d *async.Deferred
	switch topic {
	case "dbs", "databases":
		d = sh.client.ListDatabases()
	case "collections":
		d = sh.client.ListCollections(sh.db.name)
	default:
		return nil, fmt.Errorf("don't know how to show %q", topic)
	}
	return async.Then(d, func(v any) (any, error) {
		names, _ := v.([]string)
		return strings.Join(names, "\n"), nil
	}), nil
}

func (sh *Shell) ReprString() string { return "[shell]" }

const helpText = `  use <db>                 switch current database
  show dbs                 list databases
  show collections         list collections in the current database
  db.<coll>.find(...)      query a collection
  db.<coll>.insertOne(...) insert a document
  startSession()           start a logical session
  exit                     leave the shell`

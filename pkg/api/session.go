package api

import (
	"sync"

	"github.com/dosh-shell/dosh/pkg/async"
	"github.com/dosh-shell/dosh/pkg/dbclient"
	"github.com/dosh-shell/dosh/pkg/eval"
)

// Session is the scripting-level session wrapper. It owns the transaction
// and lifecycle state machine; the backend session underneath only needs
// to reject work after the session ends.
type Session struct {
	client  dbclient.Client
	backend dbclient.Session

	mu    sync.Mutex
	inTx  bool
	ended bool
}

func errTxState(msg string) error {
	return dbclient.Errorf(dbclient.CodeTransaction, "%s", msg)
}

func (s *Session) Member(name string) (any, error) {
	switch name {
	case "getDatabase":
		return eval.NewGoFn("getDatabase", func(fm *eval.Frame, args []any) (any, error) {
			db, err := stringArg("getDatabase", args, 0)
			if err != nil {
				return nil, err
			}
			return &Database{client: s.client, name: db, sess: s}, nil
		}), nil
	case "startTransaction":
		return eval.NewGoFn("startTransaction", func(fm *eval.Frame, args []any) (any, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.ended {
				return nil, errSessionEnded(s.backend.ID())
			}
			if s.inTx {
				return nil, errTxState("transaction already in progress")
			}
			if err := s.backend.Begin(); err != nil {
				return nil, err
			}
			s.inTx = true
			return nil, nil
		}), nil
	case "commitTransaction":
		return eval.NewGoFn("commitTransaction", func(fm *eval.Frame, args []any) (any, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.ended {
				return nil, errSessionEnded(s.backend.ID())
			}
			if !s.inTx {
				return nil, errTxState("no transaction in progress")
			}
			s.inTx = false
			return s.backend.Commit(), nil
		}), nil
	case "abortTransaction":
		return eval.NewGoFn("abortTransaction", func(fm *eval.Frame, args []any) (any, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.ended {
				return nil, errSessionEnded(s.backend.ID())
			}
			if !s.inTx {
				return nil, errTxState("no transaction in progress")
			}
			s.inTx = false
			return s.backend.Abort(), nil
		}), nil
	case "endSession":
		return eval.NewGoFn("endSession", func(fm *eval.Frame, args []any) (any, error) {
			s.mu.Lock()
			if s.ended {
				s.mu.Unlock()
				// Ending twice is fine; the state is already terminal.
				return async.Resolved(nil), nil
			}
			s.ended = true
			s.inTx = false
			s.mu.Unlock()
			logger.Println("ending session", s.backend.ID())
			return s.backend.End(), nil
		}), nil
	case "hasEnded":
		return eval.NewGoFn("hasEnded", func(fm *eval.Frame, args []any) (any, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			return s.ended, nil
		}), nil
	default:
		return nil, errNoAPIMember("Session", name)
	}
}

func errSessionEnded(id string) error {
	return dbclient.Errorf(dbclient.CodeSessionExpired,
		"session %s has ended; operations on it are no longer valid", id)
}

func (s *Session) ReprString() string {
	return "[session " + s.backend.ID() + "]"
}

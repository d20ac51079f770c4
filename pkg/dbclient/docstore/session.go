package docstore

import (
	"sync"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/dosh-shell/dosh/pkg/async"
	"github.com/dosh-shell/dosh/pkg/dbclient"
)

// docSession is a logical session over the embedded store. While a
// transaction is active, writes routed through the session are buffered
// and applied atomically at commit.
type docSession struct {
	st *Store
	id string

	mu    sync.Mutex
	ended bool
	inTx  bool
	buf   []writeOp
}

func (st *Store) StartSession() (dbclient.Session, error) {
	return &docSession{st: st, id: uuid.NewString()}, nil
}

func (s *docSession) ID() string { return s.id }

func (s *docSession) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func (s *docSession) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx
}

func (s *docSession) buffer(op writeOp) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, op)
}

func (s *docSession) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return dbclient.Errorf(dbclient.CodeSessionExpired, "session %s has ended", s.id)
	}
	if s.inTx {
		return dbclient.Errorf(dbclient.CodeTransaction, "transaction already in progress")
	}
	s.inTx = true
	s.buf = nil
	return nil
}

func (s *docSession) Commit() *async.Deferred {
	s.mu.Lock()
	if !s.inTx {
		s.mu.Unlock()
		return async.Rejected(dbclient.Errorf(dbclient.CodeTransaction, "no transaction in progress"))
	}
	ops := s.buf
	s.inTx = false
	s.buf = nil
	s.mu.Unlock()

	return async.Go(func() (any, error) {
		var events []changeEvent
		err := s.st.bdb.Update(func(tx *bolt.Tx) error {
			for _, op := range ops {
				_, evs, err := op(tx)
				if err != nil {
					return err
				}
				events = append(events, evs...)
			}
			return nil
		})
		if err != nil {
			return nil, wrapWriteErr(err)
		}
		s.st.publish(events)
		return nil, nil
	})
}

func (s *docSession) Abort() *async.Deferred {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inTx {
		return async.Rejected(dbclient.Errorf(dbclient.CodeTransaction, "no transaction in progress"))
	}
	s.inTx = false
	s.buf = nil
	return async.Resolved(nil)
}

func (s *docSession) End() *async.Deferred {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
	s.inTx = false
	s.buf = nil
	return async.Resolved(nil)
}

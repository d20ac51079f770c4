// Package async provides the deferred-result primitive that underlies every
// suspending shell operation. A Deferred is resolved or rejected exactly
// once, usually from a backend goroutine, and awaited cooperatively with an
// interrupt channel.
package async

import (
	"errors"
	"sync"
)

// ErrInterrupted is returned by Await when the interrupt channel fires
// before the deferred settles.
var ErrInterrupted = errors.New("interrupted")

// Deferred represents a not-yet-complete asynchronous operation.
type Deferred struct {
	done chan struct{}
	once sync.Once

	// Written before done is closed; read only after done is closed.
	value any
	err   error
}

// New creates an unsettled Deferred.
func New() *Deferred {
	return &Deferred{done: make(chan struct{})}
}

// Resolved creates a Deferred already resolved with v.
func Resolved(v any) *Deferred {
	d := New()
	d.Resolve(v)
	return d
}

// Rejected creates a Deferred already rejected with err.
func Rejected(err error) *Deferred {
	d := New()
	d.Reject(err)
	return d
}

// Go runs fn on its own goroutine and returns a Deferred settled with its
// outcome.
func Go(fn func() (any, error)) *Deferred {
	d := New()
	go func() {
		v, err := fn()
		if err != nil {
			d.Reject(err)
		} else {
			d.Resolve(v)
		}
	}()
	return d
}

// Resolve settles the deferred with a value. Calls after the first
// settlement are no-ops.
func (d *Deferred) Resolve(v any) {
	d.once.Do(func() {
		d.value = v
		close(d.done)
	})
}

// Reject settles the deferred with an error. Calls after the first
// settlement are no-ops.
func (d *Deferred) Reject(err error) {
	d.once.Do(func() {
		d.err = err
		close(d.done)
	})
}

// Done returns a channel that is closed when the deferred settles.
func (d *Deferred) Done() <-chan struct{} { return d.done }

// Await blocks until the deferred settles or intr fires, whichever happens
// first. On interruption it returns ErrInterrupted; the deferred itself is
// left to settle on its own. A nil intr never fires.
func (d *Deferred) Await(intr <-chan struct{}) (any, error) {
	select {
	case <-d.done:
		return d.value, d.err
	case <-intr:
		return nil, ErrInterrupted
	}
}

// TryAwait returns the outcome if the deferred has already settled. The
// third return value reports whether it had.
func (d *Deferred) TryAwait() (any, error, bool) {
	select {
	case <-d.done:
		return d.value, d.err, true
	default:
		return nil, nil, false
	}
}

// Then returns a Deferred that, once d resolves, resolves with fn applied to
// d's value. A rejection of d propagates unchanged. This is how
// synchronous-looking transformations compose onto values that are still in
// flight.
func Then(d *Deferred, fn func(any) (any, error)) *Deferred {
	out := New()
	go func() {
		<-d.done
		if d.err != nil {
			out.Reject(d.err)
			return
		}
		v, err := fn(d.value)
		if err != nil {
			out.Reject(err)
		} else {
			out.Resolve(v)
		}
	}()
	return out
}

// Is reports whether v is a *Deferred.
func Is(v any) bool {
	_, ok := v.(*Deferred)
	return ok
}

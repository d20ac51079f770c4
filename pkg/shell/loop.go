// Package shell wires the interactive session together: the console, the
// rewrite pipeline, and the interruptible evaluation loop that mediates
// between them.
package shell

import (
	"errors"
	"sync"

	"github.com/dosh-shell/dosh/pkg/async"
	"github.com/dosh-shell/dosh/pkg/dbclient"
	"github.com/dosh-shell/dosh/pkg/logutil"
	"github.com/dosh-shell/dosh/pkg/parse"
)

var logger = logutil.GetLogger("[shell] ")

// EvalFunc evaluates one input. It must honor intr: when intr becomes
// readable the evaluation should wind down and return async.ErrInterrupted.
type EvalFunc func(src parse.Source, intr <-chan struct{}) (any, error)

// LoopOpts carries the optional observers of the loop's lifecycle.
type LoopOpts struct {
	// OnEvalStarted runs synchronously before the evaluation begins.
	OnEvalStarted func()
	// OnEvalFinished runs after the evaluation and its cleanup, with the
	// failure (nil on success) and whether the failure is recoverable
	// (incomplete input).
	OnEvalFinished func(err error, recoverable bool)
	// OnInterrupt runs when the user interrupts mid-evaluation. Returning
	// true means the interrupt was handled and the loop should wait for the
	// evaluation to resolve naturally; false makes the loop cancel the
	// evaluation and synthesize an Interrupted failure.
	OnInterrupt func() (handled bool)
	// OnExitRequested receives exit requests. Requests made during an
	// evaluation are deferred and re-emitted after it completes.
	OnExitRequested func(code int)
}

type loopState int

const (
	stateIdle loopState = iota
	stateEvaluating
)

// Loop is the interruptible evaluation loop: a decorator around an
// evaluation function and a console that owns prompt suppression, the
// interrupt race, and exit deferral. One evaluation may be in flight at a
// time; a concurrent Eval is a caller bug and panics.
type Loop struct {
	eval    EvalFunc
	console Console
	opts    LoopOpts

	mu          sync.Mutex
	state       loopState
	pendingExit *int
}

// NewLoop creates a Loop over the given evaluation function and console.
func NewLoop(eval EvalFunc, console Console, opts LoopOpts) *Loop {
	return &Loop{eval: eval, console: console, opts: opts}
}

// errInterrupted is the synthesized failure for an unhandled interrupt.
var errInterrupted = dbclient.Errorf(dbclient.CodeInterrupted, "interrupted")

// Eval runs one input through the evaluation function, racing it against
// console interrupts. It returns the evaluation's value and error; the
// error is also classified and dispatched to the console (NeedMoreInput
// for recoverable ones, ReportError for the rest).
func (l *Loop) Eval(src parse.Source) (any, error) {
	l.begin()
	defer l.finish()

	if l.opts.OnEvalStarted != nil {
		l.opts.OnEvalStarted()
	}

	// Suppress the prompt for the duration; restore the exact prior one.
	prompt := l.console.Prompt()
	l.console.SetPrompt("")
	defer l.console.SetPrompt(prompt)

	value, err := l.run(src)

	recoverable := parse.IsPartialError(err)
	if err != nil {
		if recoverable {
			l.console.NeedMoreInput()
		} else {
			l.console.ReportError(err)
		}
	}
	if l.opts.OnEvalFinished != nil {
		l.opts.OnEvalFinished(err, recoverable)
	}
	return value, err
}

// run performs the actual evaluation-versus-interrupt race.
func (l *Loop) run(src parse.Source) (any, error) {
	intr := make(chan struct{})
	type outcome struct {
		value any
		err   error
	}
	resultc := make(chan outcome, 1)
	go func() {
		v, err := l.eval(src, intr)
		resultc <- outcome{v, err}
	}()

	interrupting := false
	for {
		// Once the race has started resolving, stop taking further console
		// interrupts so a second Ctrl-C is not misrouted.
		var intrc <-chan struct{}
		if !interrupting {
			intrc = l.console.Interrupts()
		}
		select {
		case res := <-resultc:
			if errors.Is(res.err, async.ErrInterrupted) {
				return nil, errInterrupted
			}
			return res.value, res.err
		case <-intrc:
			interrupting = true
			handled := false
			if l.opts.OnInterrupt != nil {
				handled = l.opts.OnInterrupt()
			}
			if handled {
				// Wait for natural resolution.
				continue
			}
			close(intr)
			res := <-resultc
			if res.err == nil || errors.Is(res.err, async.ErrInterrupted) {
				return nil, errInterrupted
			}
			return nil, res.err
		}
	}
}

// RequestExit asks the loop to emit an exit request. During an evaluation
// the request is held back and re-emitted once evaluation and cleanup
// complete.
func (l *Loop) RequestExit(code int) {
	l.mu.Lock()
	if l.state == stateEvaluating {
		c := code
		l.pendingExit = &c
		l.mu.Unlock()
		logger.Println("exit requested mid-evaluation, deferred")
		return
	}
	l.mu.Unlock()
	if l.opts.OnExitRequested != nil {
		l.opts.OnExitRequested(code)
	}
}

func (l *Loop) begin() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != stateIdle {
		panic("Loop.Eval called while an evaluation is in flight")
	}
	l.state = stateEvaluating
}

func (l *Loop) finish() {
	l.mu.Lock()
	l.state = stateIdle
	pending := l.pendingExit
	l.pendingExit = nil
	l.mu.Unlock()
	if pending != nil && l.opts.OnExitRequested != nil {
		l.opts.OnExitRequested(*pending)
	}
}

package shell

import (
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dosh-shell/dosh/pkg/async"
	"github.com/dosh-shell/dosh/pkg/dbclient"
	"github.com/dosh-shell/dosh/pkg/parse"
)

// testConsole records everything the loop does to it. Interrupts are
// queued into a buffered channel so tests can stage them before Eval runs,
// keeping the race deterministic.
type testConsole struct {
	mu       sync.Mutex
	prompt   string
	setCalls []string
	needMore int
	reported []error

	intr chan struct{}
}

func newTestConsole() *testConsole {
	return &testConsole{prompt: "> ", intr: make(chan struct{}, 4)}
}

func (c *testConsole) Prompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prompt
}

func (c *testConsole) SetPrompt(prompt string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompt = prompt
	c.setCalls = append(c.setCalls, prompt)
}

func (c *testConsole) ReadLine() (string, error) { return "", io.EOF }

func (c *testConsole) Interrupts() <-chan struct{} { return c.intr }

func (c *testConsole) NeedMoreInput() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.needMore++
}

func (c *testConsole) ReportError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reported = append(c.reported, err)
}

func (c *testConsole) interrupt() { c.intr <- struct{}{} }

var testSrc = parse.Source{Name: "[test]", Code: "1"}

func TestLoop_SuccessSuppressesAndRestoresPrompt(t *testing.T) {
	console := newTestConsole()
	var events []string
	l := NewLoop(func(parse.Source, <-chan struct{}) (any, error) {
		return "value", nil
	}, console, LoopOpts{
		OnEvalStarted:  func() { events = append(events, "started") },
		OnEvalFinished: func(err error, recoverable bool) { events = append(events, "finished") },
	})

	v, err := l.Eval(testSrc)
	if v != "value" || err != nil {
		t.Fatalf("Eval -> (%v, %v)", v, err)
	}
	if !cmp.Equal(events, []string{"started", "finished"}) {
		t.Errorf("events: %v", events)
	}
	// The prompt is blanked during evaluation and the prior one restored.
	if !cmp.Equal(console.setCalls, []string{"", "> "}) {
		t.Errorf("SetPrompt calls: %v", console.setCalls)
	}
	if len(console.reported) != 0 || console.needMore != 0 {
		t.Errorf("console touched: reported=%v needMore=%d", console.reported, console.needMore)
	}
}

func TestLoop_PartialErrorAsksForMoreInput(t *testing.T) {
	console := newTestConsole()
	var gotRecoverable bool
	l := NewLoop(func(src parse.Source, _ <-chan struct{}) (any, error) {
		_, err := parse.Parse(src, parse.Config{})
		return nil, err
	}, console, LoopOpts{
		OnEvalFinished: func(err error, recoverable bool) { gotRecoverable = recoverable },
	})

	_, err := l.Eval(parse.Source{Name: "[test]", Code: "if (x) {"})
	if !parse.IsPartialError(err) {
		t.Fatalf("Eval -> %v, want a partial parse error", err)
	}
	if !gotRecoverable {
		t.Errorf("OnEvalFinished got recoverable=false")
	}
	if console.needMore != 1 {
		t.Errorf("NeedMoreInput called %d times, want 1", console.needMore)
	}
	if len(console.reported) != 0 {
		t.Errorf("partial error was reported: %v", console.reported)
	}
}

func TestLoop_FatalErrorIsReported(t *testing.T) {
	console := newTestConsole()
	boom := errors.New("boom")
	l := NewLoop(func(parse.Source, <-chan struct{}) (any, error) {
		return nil, boom
	}, console, LoopOpts{})

	_, err := l.Eval(testSrc)
	if err != boom {
		t.Fatalf("Eval -> %v, want boom", err)
	}
	if len(console.reported) != 1 || console.reported[0] != boom {
		t.Errorf("reported: %v", console.reported)
	}
	if console.needMore != 0 {
		t.Errorf("fatal error asked for more input")
	}
}

func TestLoop_UnhandledInterruptCancels(t *testing.T) {
	console := newTestConsole()
	l := NewLoop(func(_ parse.Source, intr <-chan struct{}) (any, error) {
		<-intr
		return nil, async.ErrInterrupted
	}, console, LoopOpts{})

	console.interrupt()
	_, err := l.Eval(testSrc)
	if !dbclient.HasCode(err, dbclient.CodeInterrupted) {
		t.Fatalf("Eval -> %v, want Interrupted", err)
	}
	if len(console.reported) != 1 {
		t.Errorf("interrupt not reported: %v", console.reported)
	}
}

func TestLoop_HandledInterruptWaitsForResolution(t *testing.T) {
	console := newTestConsole()
	release := make(chan struct{})
	interrupted := false
	l := NewLoop(func(_ parse.Source, intr <-chan struct{}) (any, error) {
		select {
		case <-release:
			return "done", nil
		case <-intr:
			interrupted = true
			return nil, async.ErrInterrupted
		}
	}, console, LoopOpts{
		// Handling the interrupt lets the evaluation run to completion.
		OnInterrupt: func() bool { close(release); return true },
	})

	console.interrupt()
	v, err := l.Eval(testSrc)
	if v != "done" || err != nil {
		t.Fatalf("Eval -> (%v, %v), want done", v, err)
	}
	if interrupted {
		t.Errorf("handled interrupt still cancelled the evaluation")
	}
}

func TestLoop_SecondInterruptNotMisrouted(t *testing.T) {
	console := newTestConsole()
	release := make(chan struct{})
	calls := 0
	l := NewLoop(func(_ parse.Source, intr <-chan struct{}) (any, error) {
		<-release
		return "done", nil
	}, console, LoopOpts{
		OnInterrupt: func() bool { calls++; close(release); return true },
	})

	console.interrupt()
	console.interrupt()
	v, err := l.Eval(testSrc)
	if v != "done" || err != nil {
		t.Fatalf("Eval -> (%v, %v), want done", v, err)
	}
	// Only the first interrupt reaches the loop; the second stays queued
	// for whoever listens next.
	if calls != 1 {
		t.Errorf("OnInterrupt called %d times, want 1", calls)
	}
	if len(console.intr) != 1 {
		t.Errorf("second interrupt consumed")
	}
}

func TestLoop_ConcurrentEvalPanics(t *testing.T) {
	console := newTestConsole()
	started := make(chan struct{})
	release := make(chan struct{})
	l := NewLoop(func(parse.Source, <-chan struct{}) (any, error) {
		close(started)
		<-release
		return nil, nil
	}, console, LoopOpts{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.Eval(testSrc)
	}()
	<-started

	func() {
		defer func() {
			if recover() == nil {
				t.Error("concurrent Eval did not panic")
			}
		}()
		l.Eval(testSrc)
	}()

	close(release)
	wg.Wait()
}

func TestLoop_ExitDeferredDuringEvaluation(t *testing.T) {
	console := newTestConsole()
	var mu sync.Mutex
	var events []string
	record := func(ev string) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	}

	var l *Loop
	l = NewLoop(func(parse.Source, <-chan struct{}) (any, error) {
		l.RequestExit(5)
		record("eval")
		return nil, nil
	}, console, LoopOpts{
		OnEvalFinished:  func(error, bool) { record("finished") },
		OnExitRequested: func(code int) { record("exit") },
	})

	if _, err := l.Eval(testSrc); err != nil {
		t.Fatal(err)
	}
	// The exit request made mid-evaluation is re-emitted only after the
	// evaluation and its cleanup complete.
	if !cmp.Equal(events, []string{"eval", "finished", "exit"}) {
		t.Errorf("events: %v", events)
	}
}

func TestLoop_ExitImmediateWhenIdle(t *testing.T) {
	console := newTestConsole()
	got := -1
	l := NewLoop(func(parse.Source, <-chan struct{}) (any, error) {
		return nil, nil
	}, console, LoopOpts{
		OnExitRequested: func(code int) { got = code },
	})
	l.RequestExit(2)
	if got != 2 {
		t.Errorf("exit code %d, want 2", got)
	}
}

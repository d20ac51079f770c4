package async

import (
	"errors"
	"testing"
	"time"
)

func TestAwait_Resolved(t *testing.T) {
	d := Resolved("x")
	v, err := d.Await(nil)
	if v != "x" || err != nil {
		t.Errorf("Await -> (%v, %v), want (x, nil)", v, err)
	}
}

func TestAwait_Rejected(t *testing.T) {
	rejection := errors.New("boom")
	d := Rejected(rejection)
	_, err := d.Await(nil)
	if err != rejection {
		t.Errorf("Await -> error %v, want %v", err, rejection)
	}
}

func TestAwait_BlocksUntilResolved(t *testing.T) {
	d := New()
	go func() {
		time.Sleep(time.Millisecond)
		d.Resolve(7)
	}()
	v, err := d.Await(nil)
	if v != 7 || err != nil {
		t.Errorf("Await -> (%v, %v), want (7, nil)", v, err)
	}
}

func TestAwait_Interrupted(t *testing.T) {
	d := New()
	intr := make(chan struct{})
	close(intr)
	_, err := d.Await(intr)
	if err != ErrInterrupted {
		t.Errorf("Await -> error %v, want ErrInterrupted", err)
	}
	// The deferred is left to settle on its own.
	d.Resolve(1)
	v, err := d.Await(nil)
	if v != 1 || err != nil {
		t.Errorf("Await after settle -> (%v, %v), want (1, nil)", v, err)
	}
}

func TestSettleTwice_FirstWins(t *testing.T) {
	d := New()
	d.Resolve(1)
	d.Resolve(2)
	d.Reject(errors.New("late"))
	v, err := d.Await(nil)
	if v != 1 || err != nil {
		t.Errorf("Await -> (%v, %v), want (1, nil)", v, err)
	}
}

func TestTryAwait(t *testing.T) {
	d := New()
	if _, _, ok := d.TryAwait(); ok {
		t.Errorf("TryAwait on unsettled deferred reports ok")
	}
	d.Resolve("v")
	v, err, ok := d.TryAwait()
	if !ok || v != "v" || err != nil {
		t.Errorf("TryAwait -> (%v, %v, %v), want (v, nil, true)", v, err, ok)
	}
}

func TestGo(t *testing.T) {
	d := Go(func() (any, error) { return 3, nil })
	v, err := d.Await(nil)
	if v != 3 || err != nil {
		t.Errorf("Await -> (%v, %v), want (3, nil)", v, err)
	}
}

func TestThen(t *testing.T) {
	d := Then(Resolved(3), func(v any) (any, error) {
		return v.(int) * 2, nil
	})
	v, err := d.Await(nil)
	if v != 6 || err != nil {
		t.Errorf("Await -> (%v, %v), want (6, nil)", v, err)
	}
}

func TestThen_PropagatesRejection(t *testing.T) {
	rejection := errors.New("boom")
	d := Then(Rejected(rejection), func(v any) (any, error) {
		t.Errorf("Then fn called on rejection")
		return nil, nil
	})
	_, err := d.Await(nil)
	if err != rejection {
		t.Errorf("Await -> error %v, want %v", err, rejection)
	}
}

func TestIs(t *testing.T) {
	if !Is(Resolved(nil)) {
		t.Errorf("Is(Resolved(nil)) -> false")
	}
	if Is(42) {
		t.Errorf("Is(42) -> true")
	}
}

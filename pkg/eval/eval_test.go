package eval

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dosh-shell/dosh/pkg/async"
	"github.com/dosh-shell/dosh/pkg/parse"
	"github.com/dosh-shell/dosh/pkg/tt"
)

func evalOne(code string) (any, error) {
	ev := New()
	InstallSupport(ev)
	return ev.Eval(parse.Source{Name: "[test]", Code: code}, EvalCfg{Out: io.Discard})
}

func mustEval(t *testing.T, code string) any {
	t.Helper()
	v, err := evalOne(code)
	if err != nil {
		t.Fatalf("eval %q -> error %v", code, err)
	}
	return v
}

func TestEval_Expressions(t *testing.T) {
	run := func(code string) any {
		v, err := evalOne(code)
		if err != nil {
			return "error: " + err.Error()
		}
		return v
	}
	tt.Test(t, "eval", run, tt.Table{
		tt.Args("1 + 2 * 3").Rets(7.0),
		tt.Args("10 % 3").Rets(1.0),
		tt.Args("-(2 + 3)").Rets(-5.0),
		tt.Args("'a' + 'b'").Rets("ab"),
		tt.Args("'n = ' + 4").Rets("n = 4"),
		tt.Args("1 < 2").Rets(true),
		tt.Args("'a' < 'b'").Rets(true),
		tt.Args("1 == 1").Rets(true),
		tt.Args("1 === 2").Rets(false),
		tt.Args("null == null").Rets(true),
		tt.Args("!null").Rets(true),
		tt.Args("true ? 'y' : 'n'").Rets("y"),
		tt.Args("0 || 'fallback'").Rets("fallback"),
		tt.Args("'x' && 'y'").Rets("y"),
		tt.Args("({a: 1}).a").Rets(1.0),
		tt.Args("[10, 20, 30][1]").Rets(20.0),
		tt.Args("'hello'.length").Rets(5.0),
		tt.Args("'hello'.toUpperCase()").Rets("HELLO"),
		tt.Args("'hello'.includes('ell')").Rets(true),
		tt.Args("[1, 2, 3].length").Rets(3.0),
	})
}

func TestEval_Statements(t *testing.T) {
	tests := []struct {
		code string
		want any
	}{
		{"let x = 3\nx * x", 9.0},
		{"let a = 1\na = a + 1\na", 2.0},
		{"let s = 0\nlet i = 0\nwhile (i < 5) { s = s + i; i = i + 1 }\ns", 10.0},
		{"let s = 0\nfor (x of [1, 2, 3]) { s = s + x }\ns", 6.0},
		{"if (1 > 2) { 'a' } else { 'b' }", nil}, // blocks are not expressions
		{"let f = (a, b) => a + b\nf(2, 3)", 5.0},
		{"let f = x => { if (x > 0) { return 'pos' } return 'neg' }\nf(1)", "pos"},
		{"let o = {}\no.k = 7\no.k", 7.0},
		{"let a = [0]\na[0] = 42\na[0]", 42.0},
	}
	for _, test := range tests {
		got := mustEval(t, test.code)
		if !cmp.Equal(got, test.want) {
			t.Errorf("eval %q -> %v, want %v", test.code, got, test.want)
		}
	}
}

func TestEval_Closures(t *testing.T) {
	got := mustEval(t, `
let make = start => {
  let n = start
  return () => { n = n + 1; return n }
}
let counter = make(10)
counter()
counter()`)
	if got != 12.0 {
		t.Errorf("counter -> %v, want 12", got)
	}
}

func TestEval_ArrayBuiltins(t *testing.T) {
	got := mustEval(t, "[1, 2, 3].map(x => x * 2)")
	want := NewList(2.0, 4.0, 6.0)
	if !cmp.Equal(got, want) {
		t.Errorf("map -> %v, want %v", got, want)
	}

	got = mustEval(t, "[1, 2, 3, 4].filter(x => x % 2 == 0)")
	want = NewList(2.0, 4.0)
	if !cmp.Equal(got, want) {
		t.Errorf("filter -> %v, want %v", got, want)
	}

	got = mustEval(t, "let a = [1]\na.push(2, 3)\na.length")
	if got != 3.0 {
		t.Errorf("push -> length %v, want 3", got)
	}

	got = mustEval(t, "['a', 'b'].join('-')")
	if got != "a-b" {
		t.Errorf("join -> %v, want a-b", got)
	}
}

func TestEval_Await(t *testing.T) {
	ev := New()
	InstallSupport(ev)
	ev.SetGlobal("d", async.Resolved(42.0))
	// Deferred values flatten through await.
	ev.SetGlobal("dd", async.Resolved(async.Resolved("deep")))

	run := func(code string) any {
		v, err := ev.Eval(parse.Source{Name: "[test]", Code: code}, EvalCfg{Out: io.Discard})
		if err != nil {
			return "error: " + err.Error()
		}
		return v
	}
	tt.Test(t, "eval", run, tt.Table{
		tt.Args("await d").Rets(42.0),
		tt.Args("await dd").Rets("deep"),
		tt.Args("await 5").Rets(5.0),
		tt.Args("__maybeAwait(5)").Rets(5.0),
		tt.Args("__maybeAwait(d)").Rets(42.0),
	})
}

func TestEval_AwaitInterrupted(t *testing.T) {
	ev := New()
	ev.SetGlobal("never", async.New())
	intr := make(chan struct{})
	close(intr)
	_, err := ev.Eval(parse.Source{Name: "[test]", Code: "await never"},
		EvalCfg{Interrupts: intr, Out: io.Discard})
	if !errors.Is(err, async.ErrInterrupted) {
		t.Errorf("got error %v, want ErrInterrupted", err)
	}
}

func TestEval_MemberOnDeferredComposes(t *testing.T) {
	ev := New()
	ev.SetGlobal("d", async.Resolved(map[string]any{"name": "ada"}))
	v, err := ev.Eval(parse.Source{Name: "[test]", Code: "await d.name"},
		EvalCfg{Out: io.Discard})
	if err != nil {
		t.Fatalf("eval -> error %v", err)
	}
	if v != "ada" {
		t.Errorf("d.name -> %v, want ada", v)
	}
}

func TestEval_Errors(t *testing.T) {
	wantError := func(code, substr string) {
		t.Helper()
		_, err := evalOne(code)
		if err == nil || !strings.Contains(err.Error(), substr) {
			t.Errorf("eval %q -> error %v, want one containing %q", code, err, substr)
		}
	}
	wantError("undefinedVar", "not defined")
	wantError("const c = 1\nc = 2", "constant")
	wantError("1 / 0", "division by zero")
	wantError("null.x", "null")
	wantError("5(1)", "not callable")
	wantError("for (x of 42) {}", "not iterable")
	wantError("'a' - 'b'", "wants numbers")
}

func TestEval_DeepMemberAssignCreatesPath(t *testing.T) {
	ev := New()
	cfg := EvalCfg{Out: io.Discard}
	// Two sequential inputs: assigning through a chain of missing members
	// creates the intermediate objects instead of erroring.
	if _, err := ev.Eval(parse.Source{Name: "[1]", Code: "a = {}"}, cfg); err != nil {
		t.Fatal(err)
	}
	if _, err := ev.Eval(parse.Source{Name: "[2]", Code: "a.b.c.d = 1"}, cfg); err != nil {
		t.Fatalf("deep member assignment -> error %v", err)
	}
	v, err := ev.Eval(parse.Source{Name: "[3]", Code: "a.b.c.d"}, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if v != 1.0 {
		t.Errorf("a.b.c.d -> %v, want 1", v)
	}

	// String-keyed index links are created the same way.
	if _, err := ev.Eval(parse.Source{Name: "[4]", Code: "a['x'].y = 2"}, cfg); err != nil {
		t.Fatalf("index-path assignment -> error %v", err)
	}
	if v := mustEval(t, "let o = {}\no.p.q = 3\no.p.q"); v != 3.0 {
		t.Errorf("o.p.q -> %v, want 3", v)
	}

	// Reading, as opposed to assigning, still fails on a missing link.
	if _, err := ev.Eval(parse.Source{Name: "[5]", Code: "a.missing.deep"}, cfg); err == nil {
		t.Errorf("member read through missing link succeeded")
	}
}

func TestEval_GlobalsPersistAcrossInputs(t *testing.T) {
	ev := New()
	cfg := EvalCfg{Out: io.Discard}
	if _, err := ev.Eval(parse.Source{Name: "[1]", Code: "let x = 5"}, cfg); err != nil {
		t.Fatal(err)
	}
	v, err := ev.Eval(parse.Source{Name: "[2]", Code: "x + 1"}, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if v != 6.0 {
		t.Errorf("x + 1 -> %v, want 6", v)
	}
}

func TestEval_PrintWritesToOut(t *testing.T) {
	ev := New()
	InstallSupport(ev)
	var sb strings.Builder
	_, err := ev.Eval(parse.Source{Name: "[test]", Code: "print('a', 1, [2])"},
		EvalCfg{Out: &sb})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(sb.String(), "a 1 ") {
		t.Errorf("print wrote %q", sb.String())
	}
}

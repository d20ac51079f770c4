package rewrite

import (
	"testing"

	"github.com/dosh-shell/dosh/pkg/parse"
	"github.com/dosh-shell/dosh/pkg/sig"
	"github.com/dosh-shell/dosh/pkg/tt"
)

func rewriteOne(code string) string {
	rw := New(sig.MustLoad())
	out, err := rw.Rewrite(parse.Source{Name: "[test]", Code: code})
	if err != nil {
		return "error: " + err.Error()
	}
	return out
}

func TestRewrite_AwaitInsertion(t *testing.T) {
	tt.Test(t, "rewriteOne", rewriteOne, tt.Table{
		// Deferred calls on known owners get awaited.
		tt.Args("db.users.insertOne({a: 1})").
			Rets("(await db.users.insertOne({a: 1}))"),
		tt.Args("db.users.countDocuments({})").
			Rets("(await db.users.countDocuments({}))"),
		tt.Args("db.dropDatabase()").
			Rets("(await db.dropDatabase())"),
		// Synchronous calls stay untouched.
		tt.Args("db.users.find({})").
			Rets("db.users.find({})"),
		tt.Args("db.getName()").
			Rets("db.getName()"),
		// A user-written await suppresses insertion.
		tt.Args("await db.users.insertOne({a: 1})").
			Rets("await db.users.insertOne({a: 1})"),
	})
}

func TestRewrite_BuilderChains(t *testing.T) {
	tt.Test(t, "rewriteOne", rewriteOne, tt.Table{
		// Builder chains stay synchronous throughout.
		tt.Args("db.users.find({}).sort({a: 1}).limit(5)").
			Rets("db.users.find({}).sort({a: 1}).limit(5)"),
		// Only the terminal producing call is awaited.
		tt.Args("db.users.find({}).limit(5).toArray()").
			Rets("(await db.users.find({}).limit(5).toArray())"),
		tt.Args("db.users.find({}).next()").
			Rets("(await db.users.find({}).next())"),
		// A deferred producer chained into a builder is exempt; the chain
		// composes on the deferred at runtime.
		tt.Args("db.users.aggregate([]).limit(5)").
			Rets("db.users.aggregate([]).limit(5)"),
		// Unchained deferred producer is awaited.
		tt.Args("db.users.aggregate([])").
			Rets("(await db.users.aggregate([]))"),
	})
}

func TestRewrite_UnknownOwners(t *testing.T) {
	tt.Test(t, "rewriteOne", rewriteOne, tt.Table{
		// Calls on values the catalog cannot type go through the runtime
		// helper.
		tt.Args("foo()").
			Rets("__maybeAwait(foo())"),
		tt.Args("foo.bar()").
			Rets("__maybeAwait(foo.bar())"),
		// Deep unmodeled chains widen to unknown without crashing.
		tt.Args("foo.bar.baz.qux()").
			Rets("__maybeAwait(foo.bar.baz.qux())"),
		// An explicit await already resolves the value.
		tt.Args("await foo()").
			Rets("await foo()"),
	})
}

func TestRewrite_DirectCommands(t *testing.T) {
	tt.Test(t, "rewriteOne", rewriteOne, tt.Table{
		tt.Args("show dbs").Rets(`await show("dbs")`),
		tt.Args("show collections").Rets(`await show("collections")`),
		tt.Args("use shop").Rets(`use("shop")`),
		// A bare command word with no arguments is still a command.
		tt.Args("help").Rets("help()"),
	})
}

func TestRewrite_BindingPropagation(t *testing.T) {
	rw := New(sig.MustLoad())
	rewrite := func(code string) string {
		out, err := rw.Rewrite(parse.Source{Name: "[test]", Code: code})
		if err != nil {
			t.Fatalf("Rewrite(%q) -> error %v", code, err)
		}
		return out
	}

	// The binding table persists across inputs within a session.
	if out := rewrite("let c = db.users.find({})"); out != "let c = db.users.find({})" {
		t.Errorf("first input rewritten to %q", out)
	}
	if got := rw.Binding("c"); got != "Cursor" {
		t.Errorf("Binding(c) = %q, want Cursor", got)
	}
	if out := rewrite("c.next()"); out != "(await c.next())" {
		t.Errorf("second input rewritten to %q, want await inserted", out)
	}
	// Rebinding updates the inferred type.
	rewrite("c = 1")
	if out := rewrite("c.next()"); out != "__maybeAwait(c.next())" {
		t.Errorf("after rebind rewritten to %q, want maybe-await routing", out)
	}
}

func TestRewrite_BranchJoins(t *testing.T) {
	rw := New(sig.MustLoad())
	rewrite := func(code string) {
		if _, err := rw.Rewrite(parse.Source{Name: "[test]", Code: code}); err != nil {
			t.Fatalf("Rewrite(%q) -> error %v", code, err)
		}
	}

	// Both arms agree: the type survives the join.
	rewrite("let a = 0\nif (a) { a = db.users.find({}) } else { a = db.pets.find({}) }")
	if got := rw.Binding("a"); got != "Cursor" {
		t.Errorf("Binding(a) = %q, want Cursor", got)
	}
	// Arms disagree: widened to unknown.
	rewrite("let b = 0\nif (b) { b = db.users.find({}) } else { b = 1 }")
	if got := rw.Binding("b"); got != sig.Unknown {
		t.Errorf("Binding(b) = %q, want unknown", got)
	}
	// One arm only: widened against the pre-branch binding.
	rewrite("let c = 0\nif (c) { c = db.users.find({}) }")
	if got := rw.Binding("c"); got != sig.Unknown {
		t.Errorf("Binding(c) = %q, want unknown", got)
	}
}

func TestRewrite_LoopWidening(t *testing.T) {
	rw := New(sig.MustLoad())
	// The loop body rebinds x late; the second pass sees the new type from
	// the start, and the post-loop type is widened against the pre-loop
	// one.
	_, err := rw.Rewrite(parse.Source{Name: "[test]", Code: `
let x = db.users.find({})
while (x) {
  x = 1
}`})
	if err != nil {
		t.Fatalf("Rewrite -> error %v", err)
	}
	if got := rw.Binding("x"); got != sig.Unknown {
		t.Errorf("Binding(x) = %q, want unknown", got)
	}
}

func TestRewrite_Idempotence(t *testing.T) {
	// Rewriting input that needs no awaits is the identity, byte for byte.
	for _, code := range []string{
		"let n = 1 + 2",
		"db.users.find({age: {$gt: 21}}).sort({name: 1})",
		"let s = 'a' + \"b\"",
		"let arrow = x => x + 1",
	} {
		if once := rewriteOne(code); once != code {
			t.Errorf("Rewrite(%q) = %q, want identity", code, once)
		}
	}
}

func TestRewrite_PartialErrorsPropagate(t *testing.T) {
	rw := New(sig.MustLoad())
	_, err := rw.Rewrite(parse.Source{Name: "[test]", Code: "if (x) {"})
	if !parse.IsPartialError(err) {
		t.Errorf("incomplete input -> %v, want a partial parse error", err)
	}
}

func TestRewrite_NestedAwaits(t *testing.T) {
	// The argument and the enclosing call both get their own await; edits
	// at the same position splice outer-first.
	got := rewriteOne("db.users.insertOne(db.stats.findOne({}))")
	want := "(await db.users.insertOne((await db.stats.findOne({}))))"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

package parse

import (
	"testing"

	"github.com/dosh-shell/dosh/pkg/tt"
)

func parseCode(code string) (*Program, error) {
	return Parse(Source{Name: "[test]", Code: code}, Config{
		IsDirectCommand: func(name string) bool {
			switch name {
			case "show", "use", "exit", "help":
				return true
			}
			return false
		},
	})
}

func TestParse_Valid(t *testing.T) {
	valid := []string{
		"1 + 2 * 3",
		"'single' + \"double\"",
		"let x = [1, 2, 3]",
		"const obj = {a: 1, b: {c: true}}",
		"db.users.find({age: {$gt: 21}}).sort({name: 1}).limit(5)",
		"x => x + 1",
		"(a, b) => { return a * b }",
		"() => null",
		"a ? b : c",
		"!done && count < 10",
		"if (x > 0) { y = 1 } else if (x < 0) { y = -1 } else { y = 0 }",
		"while (cursor.hasNext()) { print(cursor.next()) }",
		"for (doc of docs) { print(doc._id) }",
		"await db.users.insertOne({name: 'ada'})",
		"a.b[0].c('x')",
		"a[i] = a[i] + 1",
		"// comment\nx = 1 /* inline */ + 2",
		"x = 1; y = 2\nz = 3",
		// A block-terminated statement is self-delimiting: the next
		// statement may follow on the same line.
		"x => { if (x > 0) { return 'pos' } return 'neg' }",
		"if (a) { b = 1 } c = 2",
	}
	for _, code := range valid {
		if _, err := parseCode(code); err != nil {
			t.Errorf("Parse(%q) -> error %v, want success", code, err)
		}
	}
}

func TestParse_PartialErrors(t *testing.T) {
	isPartial := func(code string) bool {
		_, err := parseCode(code)
		return err != nil && IsPartialError(err)
	}
	tt.Test(t, "isPartial", isPartial, tt.Table{
		// Unterminated constructs at EOF can be completed by more input.
		tt.Args("if (x) {").Rets(true),
		tt.Args("while (x) {\n  y = 1").Rets(true),
		tt.Args("let obj = {a: 1,").Rets(true),
		tt.Args("f(1, 2").Rets(true),
		tt.Args("[1, 2").Rets(true),
		tt.Args("/* never closed").Rets(true),
		// Errors before EOF are fatal.
		tt.Args("let = 3").Rets(false),
		tt.Args("1 +* 2").Rets(false),
		tt.Args("'unterminated\nx = 1").Rets(false),
		// Valid input has no error at all.
		tt.Args("x = 1").Rets(false),
	})
}

func TestParse_DirectCmd(t *testing.T) {
	prog, err := parseCode("show dbs")
	if err != nil {
		t.Fatalf("Parse -> error %v", err)
	}
	if len(prog.Stmts) != 1 {
		t.Fatalf("got %d statements, want 1", len(prog.Stmts))
	}
	cmd, ok := prog.Stmts[0].(*DirectCmd)
	if !ok {
		t.Fatalf("got %T, want *DirectCmd", prog.Stmts[0])
	}
	if cmd.Name != "show" || len(cmd.Args) != 1 || cmd.Args[0] != "dbs" {
		t.Errorf("got %q %v, want show [dbs]", cmd.Name, cmd.Args)
	}
}

func TestParse_DirectCmdNameAsCall(t *testing.T) {
	// A direct-command word used as an ordinary call stays a call.
	prog, err := parseCode(`use("shop")`)
	if err != nil {
		t.Fatalf("Parse -> error %v", err)
	}
	es, ok := prog.Stmts[0].(*ExprStmt)
	if !ok {
		t.Fatalf("got %T, want *ExprStmt", prog.Stmts[0])
	}
	if _, ok := es.X.(*Call); !ok {
		t.Errorf("got %T, want *Call", es.X)
	}
}

func TestParse_Ranges(t *testing.T) {
	code := "let x = find()"
	prog, err := parseCode(code)
	if err != nil {
		t.Fatalf("Parse -> error %v", err)
	}
	decl := prog.Stmts[0].(*Decl)
	call := decl.Init.(*Call)
	if got := code[call.From:call.To]; got != "find()" {
		t.Errorf("call range covers %q, want %q", got, "find()")
	}
}

func TestParse_AwaitIsUnary(t *testing.T) {
	prog, err := parseCode("await f()")
	if err != nil {
		t.Fatalf("Parse -> error %v", err)
	}
	es := prog.Stmts[0].(*ExprStmt)
	aw, ok := es.X.(*Await)
	if !ok {
		t.Fatalf("got %T, want *Await", es.X)
	}
	if _, ok := aw.Operand.(*Call); !ok {
		t.Errorf("await operand is %T, want *Call", aw.Operand)
	}
}

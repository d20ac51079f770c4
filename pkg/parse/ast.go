package parse

import "github.com/dosh-shell/dosh/pkg/diag"

// Node is the interface of all AST nodes. Every node records the range of
// source text it was parsed from.
type Node interface {
	diag.Ranger
}

// Expr is the interface of expression nodes.
type Expr interface {
	Node
	expr()
}

// Stmt is the interface of statement nodes.
type Stmt interface {
	Node
	stmt()
}

// Program is the root node: a sequence of statements.
type Program struct {
	diag.Ranging
	Stmts []Stmt
}

// Ident is a variable reference.
type Ident struct {
	diag.Ranging
	Name string
}

// Number is a numeric literal.
type Number struct {
	diag.Ranging
	Value float64
}

// String is a string literal.
type String struct {
	diag.Ranging
	Value string
}

// Bool is a true or false literal.
type Bool struct {
	diag.Ranging
	Value bool
}

// Null is a null literal.
type Null struct {
	diag.Ranging
}

// Object is an object literal. Keys and Values are parallel.
type Object struct {
	diag.Ranging
	Keys   []string
	Values []Expr
}

// Array is an array literal.
type Array struct {
	diag.Ranging
	Elems []Expr
}

// Member is a property access, recv.Name.
type Member struct {
	diag.Ranging
	Recv Expr
	Name string
	// Range of the member name itself, for precise diagnostics.
	NameRange diag.Ranging
}

// Index is a computed access, recv[idx].
type Index struct {
	diag.Ranging
	Recv Expr
	Idx  Expr
}

// Call is a function or method call.
type Call struct {
	diag.Ranging
	Fn   Expr
	Args []Expr
}

// Unary is a prefix operation, ! or -.
type Unary struct {
	diag.Ranging
	Op      string
	Operand Expr
}

// Binary is an infix operation.
type Binary struct {
	diag.Ranging
	Op       string
	LHS, RHS Expr
}

// Cond is a conditional expression, cond ? then : else.
type Cond struct {
	diag.Ranging
	Cond, Then, Else Expr
}

// Arrow is an arrow function. Exactly one of Body and Expr is set.
type Arrow struct {
	diag.Ranging
	Params []string
	Body   *Block
	Expr   Expr
}

// Await is an await expression. User input rarely contains these; the
// rewriter inserts them.
type Await struct {
	diag.Ranging
	Operand Expr
}

// Assign is an assignment expression. Target is an Ident, Member or Index.
type Assign struct {
	diag.Ranging
	Target Expr
	Value  Expr
}

// Decl is a let or const declaration.
type Decl struct {
	diag.Ranging
	Const bool
	Name  string
	Init  Expr
}

// ExprStmt is an expression used as a statement.
type ExprStmt struct {
	diag.Ranging
	X Expr
}

// Block is a braced sequence of statements.
type Block struct {
	diag.Ranging
	Stmts []Stmt
}

// If is a conditional statement. Else is nil, a *Block, or another *If.
type If struct {
	diag.Ranging
	Cond Expr
	Then *Block
	Else Stmt
}

// While is a while loop.
type While struct {
	diag.Ranging
	Cond Expr
	Body *Block
}

// ForOf is a for (x of e) loop.
type ForOf struct {
	diag.Ranging
	Name string
	Iter Expr
	Body *Block
}

// Return is a return statement. Value may be nil.
type Return struct {
	diag.Ranging
	Value Expr
}

// DirectCmd is a shell-style bare command: a leading word the signature
// catalog marks as a direct command, followed by bareword or string
// arguments, e.g. "show dbs".
type DirectCmd struct {
	diag.Ranging
	Name string
	Args []string
}

func (*Ident) expr()  {}
func (*Number) expr() {}
func (*String) expr() {}
func (*Bool) expr()   {}
func (*Null) expr()   {}
func (*Object) expr() {}
func (*Array) expr()  {}
func (*Member) expr() {}
func (*Index) expr()  {}
func (*Call) expr()   {}
func (*Unary) expr()  {}
func (*Binary) expr() {}
func (*Cond) expr()   {}
func (*Arrow) expr()  {}
func (*Await) expr()  {}
func (*Assign) expr() {}

func (*Decl) stmt()      {}
func (*ExprStmt) stmt()  {}
func (*Block) stmt()     {}
func (*If) stmt()        {}
func (*While) stmt()     {}
func (*ForOf) stmt()     {}
func (*Return) stmt()    {}
func (*DirectCmd) stmt() {}

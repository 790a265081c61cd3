package dsl

import "fmt"

// CompileError is a structured, line-numbered diagnostic from lexing,
// parsing, or validation (spec.md §4.4 "all emit structured errors with
// a line number").
type CompileError struct {
	Line    int
	Kind    string // e.g. "SyntaxError", "UnknownEvent", "UnknownField"
	Message string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("line %d: %s: %s", e.Line, e.Kind, e.Message)
}

func newError(line int, kind, format string, args ...interface{}) *CompileError {
	return &CompileError{Line: line, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ExprKind tags the variant held by an Expr node.
type ExprKind int

const (
	ExprIntLit ExprKind = iota
	ExprStringLit
	ExprBoolLit
	ExprIdentLit // bareword doc-id literal, e.g. insert @users:alice
	ExprFieldAccess
	ExprCompare
)

// Expr is a tagged expression node. Only the fields relevant to Kind are
// populated.
type Expr struct {
	Kind ExprKind
	Line int

	IntVal  int64
	StrVal  string
	BoolVal bool

	EventName string // ExprFieldAccess: "events.<EventName>.<FieldName>"
	FieldName string

	Op          string // ExprCompare: "==", "!=", "<", "<=", ">", ">="
	Left, Right *Expr
}

// FieldAssign is one `name: <expr>` pair inside an insert/update body.
type FieldAssign struct {
	Name  string
	Value Expr
	Line  int
}

// NodeKind tags the variant held by a Node.
type NodeKind int

const (
	NodeSeq NodeKind = iota
	NodeIf
	NodeInsert
	NodeUpdate
	NodeDelete
)

// Node is a tagged RuleTree node (spec.md §4.4 Output).
type Node struct {
	Kind NodeKind
	Line int

	// NodeSeq
	Stmts []Node

	// NodeIf
	Cond Expr
	Then *Node
	Else *Node

	// NodeInsert / NodeUpdate / NodeDelete
	Collection string
	DocID      *Expr // nil for insert => auto-generate UUID at evaluation time
	Fields     []FieldAssign
}

// RuleTree is the compiled output of a trigger's DSL source: the bound
// event name (the single event the trigger's body references) plus the
// executable statement tree.
type RuleTree struct {
	BoundEvent string
	Root       Node
	Source     string // comment-stripped source, persisted on the Trigger
}

// declaredEvent is the parsed `const events = [...]` block, kept only for
// syntax validation; the runtime always resolves fields against the
// project's contract schema instead (spec.md §4.4 rule 4).
type declaredEvent struct {
	Name   string
	Fields []string
	Line   int
}

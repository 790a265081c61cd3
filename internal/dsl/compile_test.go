package dsl

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/triggr/node/internal/registry"
)

func schemaWithDeposited() []registry.EventDecl {
	return []registry.EventDecl{
		{
			Name: "Deposited",
			Fields: []registry.FieldDecl{
				{Name: "amount", Type: registry.TypeUint64},
				{Name: "depositor", Type: registry.TypeAccount},
				{Name: "memo", Type: registry.TypeBytes},
			},
		},
	}
}

func TestCompileSimpleInsert(t *testing.T) {
	src := `
	// a trigger that records every deposit
	fn main(events) {
		insert @deposits {
			amount: events.Deposited.amount,
			who: events.Deposited.depositor
		}
	}`
	tree, err := Compile(src, schemaWithDeposited())
	require.NoError(t, err)
	require.Equal(t, "Deposited", tree.BoundEvent)
	require.Len(t, tree.Root.Stmts, 1)
	require.Equal(t, NodeInsert, tree.Root.Stmts[0].Kind)
	require.Equal(t, "deposits", tree.Root.Stmts[0].Collection)
	require.Nil(t, tree.Root.Stmts[0].DocID)
}

func TestCompileWithSynonymAndExplicitID(t *testing.T) {
	src := `fn main(events) {
		insert @deposits:events.Deposited.depositor with {
			amount: events.Deposited.amount
		}
	}`
	tree, err := Compile(src, schemaWithDeposited())
	require.NoError(t, err)
	require.NotNil(t, tree.Root.Stmts[0].DocID)
	require.Equal(t, ExprFieldAccess, tree.Root.Stmts[0].DocID.Kind)
}

func TestCompileLegacyShortFormResolvesToSingleEvent(t *testing.T) {
	src := `fn main(events) {
		if (event.amount > 100) {
			insert @deposits { who: events.Deposited.depositor, amt: event.amount }
		}
	}`
	tree, err := Compile(src, schemaWithDeposited())
	require.NoError(t, err)
	require.Equal(t, "Deposited", tree.BoundEvent)
	require.Equal(t, "Deposited", tree.Root.Stmts[0].Cond.Left.EventName)
}

func TestCompileDeleteStatement(t *testing.T) {
	src := `fn main(events) {
		delete @deposits:events.Deposited.depositor
	}`
	tree, err := Compile(src, schemaWithDeposited())
	require.NoError(t, err)
	require.Equal(t, NodeDelete, tree.Root.Stmts[0].Kind)
}

func TestCompileRejectsUnknownEvent(t *testing.T) {
	src := `fn main(events) {
		insert @deposits { x: events.Withdrawn.amount }
	}`
	_, err := Compile(src, schemaWithDeposited())
	require.Error(t, err)
	cerr, ok := err.(*CompileError)
	require.True(t, ok)
	require.Equal(t, "UnknownEvent", cerr.Kind)
}

func TestCompileRejectsUnknownField(t *testing.T) {
	src := `fn main(events) {
		insert @deposits { x: events.Deposited.nonexistent }
	}`
	_, err := Compile(src, schemaWithDeposited())
	require.Error(t, err)
	cerr, ok := err.(*CompileError)
	require.True(t, ok)
	require.Equal(t, "UnknownField", cerr.Kind)
}

func TestCompileRejectsMultipleEvents(t *testing.T) {
	schema := append(schemaWithDeposited(), registry.EventDecl{
		Name:   "Withdrawn",
		Fields: []registry.FieldDecl{{Name: "amount", Type: registry.TypeUint64}},
	})
	src := `fn main(events) {
		insert @a { x: events.Deposited.amount }
		insert @b { y: events.Withdrawn.amount }
	}`
	_, err := Compile(src, schema)
	require.Error(t, err)
	cerr, ok := err.(*CompileError)
	require.True(t, ok)
	require.Equal(t, "MultipleEvents", cerr.Kind)
}

func TestCompileRejectsInvalidCollectionName(t *testing.T) {
	src := `fn main(events) {
		insert @BadName { x: events.Deposited.amount }
	}`
	_, err := Compile(src, schemaWithDeposited())
	require.Error(t, err)
	cerr, ok := err.(*CompileError)
	require.True(t, ok)
	require.Equal(t, "ValidationError", cerr.Kind)
}

func TestCompileRejectsComparisonTypeMismatch(t *testing.T) {
	src := `fn main(events) {
		if (events.Deposited.amount == "not a number") {
			delete @deposits:events.Deposited.depositor
		}
	}`
	_, err := Compile(src, schemaWithDeposited())
	require.Error(t, err)
	cerr, ok := err.(*CompileError)
	require.True(t, ok)
	require.Equal(t, "TypeError", cerr.Kind)
}

func TestCompileRejectsUnbalancedBraces(t *testing.T) {
	src := `fn main(events) {
		insert @deposits { x: events.Deposited.amount }
	`
	_, err := Compile(src, schemaWithDeposited())
	require.Error(t, err)
}

func TestCompileWithConstEventsBlockSyntaxOnly(t *testing.T) {
	src := `
	const events = [
		Deposited { amount, depositor }
	];
	fn main(events) {
		insert @deposits { amount: events.Deposited.amount }
	}`
	tree, err := Compile(src, schemaWithDeposited())
	require.NoError(t, err)
	require.Equal(t, "Deposited", tree.BoundEvent)
}

func TestCompileRejectsDuplicateDeclaredEvent(t *testing.T) {
	src := `
	const events = [
		Deposited { amount },
		Deposited { amount }
	];
	fn main(events) {
		insert @deposits { amount: events.Deposited.amount }
	}`
	_, err := Compile(src, schemaWithDeposited())
	require.Error(t, err)
}

func TestCompileAcceptsDanglingColonAsAutoID(t *testing.T) {
	src := `fn main(events) {
		insert @transactions: { v: events.Deposited.amount }
	}`
	tree, err := Compile(src, schemaWithDeposited())
	require.NoError(t, err)
	require.Nil(t, tree.Root.Stmts[0].DocID)
}

func TestCompileDeterministic(t *testing.T) {
	src := `fn main(events) {
		if (events.Deposited.amount > 200) {
			update @users:u1 { score: events.Deposited.amount }
		} else {
			delete @users:u9
		}
	}`
	first, err := Compile(src, schemaWithDeposited())
	require.NoError(t, err)
	second, err := Compile(src, schemaWithDeposited())
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestStripCommentsLeavesStringLiteralsAlone(t *testing.T) {
	src := `fn main(events) {
		insert @links { url: "https://example.com/path" }
	}`
	tree, err := Compile(src, schemaWithDeposited())
	require.Error(t, err) // no event reference, AmbiguousEvent
	require.Nil(t, tree)

	stripped, err := StripComments(src)
	require.NoError(t, err)
	require.Contains(t, stripped, "https://example.com/path")
}

func TestStripCommentsPreservesLineNumbers(t *testing.T) {
	src := "fn main(events) { /* line 1\nstill comment */\n insert @x { y: 1 } }"
	stripped, err := StripComments(src)
	require.NoError(t, err)
	require.Contains(t, stripped, "\n")
	require.NotContains(t, stripped, "/*")
}

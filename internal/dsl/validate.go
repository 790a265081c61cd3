package dsl

import (
	"github.com/triggr/node/internal/registry"
	"github.com/triggr/node/internal/store"
)

// exprClass is the coarse type bucket used for comparison type-checking
// (spec.md §4.4 rule: "numeric↔numeric, string↔string, boolean↔boolean").
type exprClass int

const (
	classUnknown exprClass = iota
	classNumeric
	classString
	classBoolean
)

// validator threads the bound-event resolution and schema across one
// compile pass.
type validator struct {
	schema     []registry.EventDecl
	boundEvent string
}

// validateAndBuild resolves field references, the trigger's single bound
// event, collection-name grammar, and comparison type-checking, producing
// the final RuleTree. declared is the (already syntax-checked) `const
// events` block; it has no further semantic role (spec.md §4.4 rule 4).
func validateAndBuild(declared []declaredEvent, body Node, schema []registry.EventDecl, source string) (*RuleTree, error) {
	v := &validator{schema: schema}

	if err := v.findBoundEvent(&body); err != nil {
		return nil, err
	}
	if v.boundEvent == "" {
		return nil, newError(body.Line, "AmbiguousEvent", "trigger body does not reference any event field")
	}
	if err := v.resolveAndCheck(&body); err != nil {
		return nil, err
	}

	return &RuleTree{BoundEvent: v.boundEvent, Root: body, Source: source}, nil
}

// findBoundEvent walks the tree collecting every explicit events.<E>.<f>
// event name; exactly one distinct name may appear (rule 6).
func (v *validator) findBoundEvent(n *Node) error {
	names := map[string]bool{}
	var walkExpr func(e *Expr)
	walkExpr = func(e *Expr) {
		if e == nil {
			return
		}
		if e.Kind == ExprFieldAccess && e.EventName != "" {
			names[e.EventName] = true
		}
		walkExpr(e.Left)
		walkExpr(e.Right)
	}
	var walk func(n *Node)
	walk = func(n *Node) {
		if n == nil {
			return
		}
		switch n.Kind {
		case NodeSeq:
			for i := range n.Stmts {
				walk(&n.Stmts[i])
			}
		case NodeIf:
			walkExpr(&n.Cond)
			walk(n.Then)
			walk(n.Else)
		case NodeInsert, NodeUpdate, NodeDelete:
			walkExpr(n.DocID)
			for i := range n.Fields {
				walkExpr(&n.Fields[i].Value)
			}
		}
	}
	walk(n)

	if len(names) > 1 {
		return newError(n.Line, "MultipleEvents", "trigger references more than one event; a trigger must bind to exactly one")
	}
	for name := range names {
		v.boundEvent = name
	}
	return nil
}

// resolveAndCheck rewrites legacy `event.<f>` references to the resolved
// bound event, validates every field reference against the schema,
// checks collection-name grammar, and type-checks comparisons.
func (v *validator) resolveAndCheck(n *Node) error {
	var walkExpr func(e *Expr) error
	walkExpr = func(e *Expr) error {
		if e == nil {
			return nil
		}
		if e.Kind == ExprFieldAccess {
			if e.EventName == "" {
				e.EventName = v.boundEvent
			}
			decl, ok := eventByName(v.schema, e.EventName)
			if !ok {
				return newError(e.Line, "UnknownEvent", "event %q is not declared in the project's contract schema", e.EventName)
			}
			if _, ok := decl.FieldByName(e.FieldName); !ok {
				return newError(e.Line, "UnknownField", "event %q has no field %q", e.EventName, e.FieldName)
			}
		}
		if err := walkExpr(e.Left); err != nil {
			return err
		}
		return walkExpr(e.Right)
	}

	var checkCompare func(e *Expr) error
	checkCompare = func(e *Expr) error {
		if e == nil || e.Kind != ExprCompare {
			return nil
		}
		lc := v.classOf(e.Left)
		rc := v.classOf(e.Right)
		if lc != classUnknown && rc != classUnknown && lc != rc {
			return newError(e.Line, "TypeError", "cannot compare %s with %s", classLabel(lc), classLabel(rc))
		}
		return nil
	}

	var walk func(n *Node) error
	walk = func(n *Node) error {
		if n == nil {
			return nil
		}
		switch n.Kind {
		case NodeSeq:
			for i := range n.Stmts {
				if err := walk(&n.Stmts[i]); err != nil {
					return err
				}
			}
		case NodeIf:
			if err := walkExpr(&n.Cond); err != nil {
				return err
			}
			if err := checkCompare(&n.Cond); err != nil {
				return err
			}
			if err := walk(n.Then); err != nil {
				return err
			}
			if err := walk(n.Else); err != nil {
				return err
			}
		case NodeInsert, NodeUpdate, NodeDelete:
			if !store.ValidCollectionName(n.Collection) {
				return newError(n.Line, "ValidationError", "invalid collection name %q", n.Collection)
			}
			if err := walkExpr(n.DocID); err != nil {
				return err
			}
			for i := range n.Fields {
				if err := walkExpr(&n.Fields[i].Value); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return walk(n)
}

func (v *validator) classOf(e *Expr) exprClass {
	if e == nil {
		return classUnknown
	}
	switch e.Kind {
	case ExprIntLit:
		return classNumeric
	case ExprStringLit, ExprIdentLit:
		return classString
	case ExprBoolLit:
		return classBoolean
	case ExprFieldAccess:
		decl, ok := eventByName(v.schema, e.EventName)
		if !ok {
			return classUnknown
		}
		field, ok := decl.FieldByName(e.FieldName)
		if !ok {
			return classUnknown
		}
		return classOfScalar(field.Type)
	default:
		return classUnknown
	}
}

func classOfScalar(t registry.ScalarType) exprClass {
	switch t {
	case registry.TypeUint8, registry.TypeUint16, registry.TypeUint32, registry.TypeUint64, registry.TypeUint128,
		registry.TypeInt8, registry.TypeInt16, registry.TypeInt32, registry.TypeInt64, registry.TypeInt128:
		return classNumeric
	case registry.TypeBool:
		return classBoolean
	case registry.TypeBytes, registry.TypeFixedHex, registry.TypeAccount, registry.TypeOpaque:
		return classString
	default:
		return classUnknown
	}
}

func classLabel(c exprClass) string {
	switch c {
	case classNumeric:
		return "numeric"
	case classString:
		return "string"
	case classBoolean:
		return "boolean"
	default:
		return "unknown"
	}
}

func eventByName(schema []registry.EventDecl, name string) (registry.EventDecl, bool) {
	for _, e := range schema {
		if e.Name == name {
			return e, true
		}
	}
	return registry.EventDecl{}, false
}

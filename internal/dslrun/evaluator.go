// Package dslrun implements the DSL Evaluator (C5): it walks a compiled
// dsl.RuleTree against a decoded event and a Document Store handle,
// applying mutations immediately and in textual order (spec.md §4.5).
package dslrun

import (
	"context"
	"fmt"

	"github.com/triggr/node/internal/apierr"
	"github.com/triggr/node/internal/dsl"
	"github.com/triggr/node/internal/event"
	"github.com/triggr/node/internal/store"
	"github.com/triggr/node/internal/value"
)

// Evaluate executes tree.Root against ev, applying insert/update/delete
// statements to docs as they are encountered. Statements run strictly in
// order; a failing statement aborts the remaining statements of this
// trigger and returns the error (the caller — C7 — logs it and moves on
// to the next trigger; spec.md §4.5). ctx carries the per-invocation
// wall-clock budget; its expiry is observed between statements, aborting
// the rest of the trigger.
func Evaluate(ctx context.Context, tree *dsl.RuleTree, ev event.Decoded, docs *store.Store, projectID string) error {
	if ev.Name != tree.BoundEvent {
		return apierr.Newf(apierr.CodeValidation, "event %q does not match trigger's bound event %q", ev.Name, tree.BoundEvent)
	}
	return execNode(ctx, &tree.Root, ev, docs, projectID)
}

func execNode(ctx context.Context, n *dsl.Node, ev event.Decoded, docs *store.Store, projectID string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("dslrun: evaluation budget exhausted: %w", err)
	}
	switch n.Kind {
	case dsl.NodeSeq:
		for i := range n.Stmts {
			if err := execNode(ctx, &n.Stmts[i], ev, docs, projectID); err != nil {
				return err
			}
		}
		return nil

	case dsl.NodeIf:
		ok, err := evalCond(&n.Cond, ev)
		if err != nil {
			return err
		}
		if ok {
			return execNode(ctx, n.Then, ev, docs, projectID)
		}
		if n.Else != nil {
			return execNode(ctx, n.Else, ev, docs, projectID)
		}
		return nil

	case dsl.NodeInsert:
		docID, err := docIDLiteral(n.DocID, ev)
		if err != nil {
			return err
		}
		data, err := buildFields(n.Fields, ev)
		if err != nil {
			return err
		}
		_, err = docs.InsertDoc(projectID, n.Collection, docID, data)
		return err

	case dsl.NodeUpdate:
		docID, err := docIDLiteral(n.DocID, ev)
		if err != nil {
			return err
		}
		data, err := buildFields(n.Fields, ev)
		if err != nil {
			return err
		}
		_, err = docs.PatchDoc(projectID, n.Collection, docID, data)
		return err

	case dsl.NodeDelete:
		docID, err := docIDLiteral(n.DocID, ev)
		if err != nil {
			return err
		}
		return docs.DeleteDoc(projectID, n.Collection, docID)

	default:
		return fmt.Errorf("dslrun: unknown node kind %v", n.Kind)
	}
}

func docIDLiteral(e *dsl.Expr, ev event.Decoded) (string, error) {
	if e == nil {
		return "", nil // insert auto-generates; update/delete never have a nil DocID post-validation
	}
	v, err := evalExpr(e, ev)
	if err != nil {
		return "", err
	}
	return stringify(v), nil
}

func buildFields(fields []dsl.FieldAssign, ev event.Decoded) (value.Value, error) {
	b := value.Object()
	for _, f := range fields {
		v, err := evalExpr(&f.Value, ev)
		if err != nil {
			return value.Value{}, err
		}
		b.Set(f.Name, v)
	}
	return b.Build(), nil
}

// evalExpr evaluates a leaf expression (literal or field reference) to a
// storable value.Value. Event field values are substituted verbatim; no
// implicit coercion occurs (spec.md §4.5).
func evalExpr(e *dsl.Expr, ev event.Decoded) (value.Value, error) {
	switch e.Kind {
	case dsl.ExprIntLit:
		return value.Int(e.IntVal), nil
	case dsl.ExprStringLit, dsl.ExprIdentLit:
		return value.String(e.StrVal), nil
	case dsl.ExprBoolLit:
		return value.Bool(e.BoolVal), nil
	case dsl.ExprFieldAccess:
		v, ok := ev.Fields[e.FieldName]
		if !ok {
			return value.Value{}, apierr.Newf(apierr.CodeValidation, "event %q carried no field %q", ev.Name, e.FieldName)
		}
		return v, nil
	default:
		return value.Value{}, fmt.Errorf("dslrun: expression kind %v is not a value-producing leaf", e.Kind)
	}
}

func evalCond(e *dsl.Expr, ev event.Decoded) (bool, error) {
	if e.Kind != dsl.ExprCompare {
		return false, fmt.Errorf("dslrun: condition is not a comparison")
	}
	left, err := evalExpr(e.Left, ev)
	if err != nil {
		return false, err
	}
	right, err := evalExpr(e.Right, ev)
	if err != nil {
		return false, err
	}
	return compare(left, right, e.Op)
}

func compare(left, right value.Value, op string) (bool, error) {
	if li, ok := left.Int(); ok {
		if ri, ok := right.Int(); ok {
			return intCompare(li, ri, op), nil
		}
	}
	if ld, lok := numericDigits(left); lok {
		if rd, rok := numericDigits(right); rok {
			return intCompare(int64(decimalCompare(ld, rd)), 0, op), nil
		}
	}
	if lb, ok := left.Bool(); ok {
		if rb, ok := right.Bool(); ok {
			return boolCompare(lb, rb, op)
		}
	}
	ls, lok := left.Str()
	rs, rok := right.Str()
	if lok && rok {
		return stringCompare(ls, rs, op), nil
	}
	return false, fmt.Errorf("dslrun: incomparable operand kinds %v / %v", left.Kind(), right.Kind())
}

// numericDigits renders a numeric value as base-10 digits so an Int
// operand can be compared against a Decimal one (wide u128 event fields).
func numericDigits(v value.Value) (string, bool) {
	if d, ok := v.Dec(); ok {
		return d, true
	}
	if i, ok := v.Int(); ok {
		return fmt.Sprintf("%d", i), true
	}
	return "", false
}

// decimalCompare orders two base-10 integer strings without parsing them
// into machine words: -1, 0, or 1.
func decimalCompare(l, r string) int {
	lNeg := len(l) > 0 && l[0] == '-'
	rNeg := len(r) > 0 && r[0] == '-'
	if lNeg != rNeg {
		if lNeg {
			return -1
		}
		return 1
	}
	lm := trimLeadingZeros(trimSign(l))
	rm := trimLeadingZeros(trimSign(r))
	cmp := 0
	switch {
	case len(lm) != len(rm):
		if len(lm) < len(rm) {
			cmp = -1
		} else {
			cmp = 1
		}
	case lm < rm:
		cmp = -1
	case lm > rm:
		cmp = 1
	}
	if lNeg {
		return -cmp
	}
	return cmp
}

func trimSign(s string) string {
	if len(s) > 0 && s[0] == '-' {
		return s[1:]
	}
	return s
}

func trimLeadingZeros(s string) string {
	for len(s) > 1 && s[0] == '0' {
		s = s[1:]
	}
	return s
}

func intCompare(l, r int64, op string) bool {
	switch op {
	case "==":
		return l == r
	case "!=":
		return l != r
	case "<":
		return l < r
	case "<=":
		return l <= r
	case ">":
		return l > r
	case ">=":
		return l >= r
	default:
		return false
	}
}

func stringCompare(l, r string, op string) bool {
	switch op {
	case "==":
		return l == r
	case "!=":
		return l != r
	case "<":
		return l < r
	case "<=":
		return l <= r
	case ">":
		return l > r
	case ">=":
		return l >= r
	default:
		return false
	}
}

func boolCompare(l, r bool, op string) (bool, error) {
	switch op {
	case "==":
		return l == r, nil
	case "!=":
		return l != r, nil
	default:
		return false, fmt.Errorf("dslrun: operator %q is not valid for booleans", op)
	}
}

func stringify(v value.Value) string {
	if s, ok := v.Str(); ok {
		return s
	}
	if i, ok := v.Int(); ok {
		return fmt.Sprintf("%d", i)
	}
	if d, ok := v.Dec(); ok {
		return d
	}
	if b, ok := v.Bool(); ok {
		return fmt.Sprintf("%t", b)
	}
	return ""
}

// Package value implements the tagged document-body type shared by the
// document store, the DSL evaluator, and the chain decoder.
package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Kind identifies the concrete shape a Value carries.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindDecimal
	KindString
	KindArray
	KindObject
)

// Value is a JSON-like tagged value tree. Integers that fit in 53 bits are
// carried as Int; wider integers (e.g. u128 chain fields) are carried as
// Decimal, a base-10 string, so round-tripping through JSON never loses
// precision (spec.md §4.5).
type Value struct {
	kind Kind
	b    bool
	i    int64
	dec  string
	s    string
	arr  []Value
	obj  map[string]Value
	// keys preserves object insertion order for deterministic serialization.
	keys []string
}

func Null() Value { return Value{kind: KindNull} }

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

func Int(i int64) Value { return Value{kind: KindInt, i: i} }

func Decimal(dec string) Value { return Value{kind: KindDecimal, dec: dec} }

func String(s string) Value { return Value{kind: KindString, s: s} }

func Array(items []Value) Value { return Value{kind: KindArray, arr: items} }

// Object builds an Object value, preserving the order keys were supplied.
func Object() *Builder {
	return &Builder{v: Value{kind: KindObject, obj: map[string]Value{}}}
}

// Builder incrementally constructs an Object Value.
type Builder struct{ v Value }

func (b *Builder) Set(key string, val Value) *Builder {
	if _, exists := b.v.obj[key]; !exists {
		b.v.keys = append(b.v.keys, key)
	}
	b.v.obj[key] = val
	return b
}

func (b *Builder) Build() Value { return b.v }

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) Bool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

func (v Value) Int() (int64, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.i, true
}

func (v Value) Str() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

// Dec returns the base-10 digits of a Decimal value (wide integers that
// do not fit in 53 bits, e.g. u128 chain fields).
func (v Value) Dec() (string, bool) {
	if v.kind != KindDecimal {
		return "", false
	}
	return v.dec, true
}

// Get looks up a key on an Object value; the zero Value and false are
// returned for non-objects or missing keys.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	val, ok := v.obj[key]
	return val, ok
}

// Keys returns the object's keys in insertion order. Empty for non-objects.
func (v Value) Keys() []string {
	if v.kind != KindObject {
		return nil
	}
	out := make([]string, len(v.keys))
	copy(out, v.keys)
	return out
}

// Merge performs the shallow-merge semantics required by patch_doc
// (spec.md §4.2): keys in patch overwrite keys in base; a base that is not
// an Object is treated as empty. Neither argument is mutated.
func Merge(base, patch Value) Value {
	if base.kind != KindObject {
		base = Object().Build()
	}
	result := Object()
	for _, k := range base.keys {
		result.Set(k, base.obj[k])
	}
	for _, k := range patch.keys {
		result.Set(k, patch.obj[k])
	}
	return result.Build()
}

// FromJSON decodes arbitrary JSON into a Value tree. Numbers are decoded
// as json.Number: integers that fit in 53 bits become Int, and every other
// number (wider integers and non-integral numbers) becomes Decimal holding
// its literal text. Object keys are inserted in sorted order; the key order
// of the source text is not kept.
func FromJSON(data []byte) (Value, error) {
	var raw interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return Value{}, fmt.Errorf("value: decode json: %w", err)
	}
	return fromAny(raw), nil
}

func fromAny(raw interface{}) Value {
	switch t := raw.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case json.Number:
		if i, err := t.Int64(); err == nil && isSafeInt(i) {
			return Int(i)
		}
		return Decimal(t.String())
	case string:
		return String(t)
	case []interface{}:
		items := make([]Value, len(t))
		for i, e := range t {
			items[i] = fromAny(e)
		}
		return Array(items)
	case map[string]interface{}:
		b := Object()
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.Set(k, fromAny(t[k]))
		}
		return b.Build()
	default:
		return Null()
	}
}

func isSafeInt(i int64) bool {
	const maxSafe = int64(1) << 53
	return i > -maxSafe && i < maxSafe
}

// MarshalJSON implements json.Marshaler, preserving object key order.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		if v.b {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case KindInt:
		return json.Marshal(v.i)
	case KindDecimal:
		return json.Marshal(v.dec)
	case KindString:
		return json.Marshal(v.s)
	case KindArray:
		return json.Marshal(v.arr)
	case KindObject:
		buf := []byte{'{'}
		for idx, k := range v.keys {
			if idx > 0 {
				buf = append(buf, ',')
			}
			kb, _ := json.Marshal(k)
			buf = append(buf, kb...)
			buf = append(buf, ':')
			vb, err := v.obj[k].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf = append(buf, vb...)
		}
		buf = append(buf, '}')
		return buf, nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler via FromJSON's decode path.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := FromJSON(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Package registry implements the Contract Registry (C3): project
// records, API-key issuance, and contract descriptor parsing into a typed
// event schema (spec.md §3, §4.3).
package registry

import "time"

// ScalarType enumerates the argument types spec.md §4.3 says the
// descriptor walker can resolve. Anything else becomes Opaque.
type ScalarType string

const (
	TypeUint8    ScalarType = "u8"
	TypeUint16   ScalarType = "u16"
	TypeUint32   ScalarType = "u32"
	TypeUint64   ScalarType = "u64"
	TypeUint128  ScalarType = "u128"
	TypeInt8     ScalarType = "i8"
	TypeInt16    ScalarType = "i16"
	TypeInt32    ScalarType = "i32"
	TypeInt64    ScalarType = "i64"
	TypeInt128   ScalarType = "i128"
	TypeBool     ScalarType = "bool"
	TypeFixedHex ScalarType = "fixed_hex" // [u8;N] rendered as a hex string
	TypeBytes    ScalarType = "bytes"     // variable-length byte string
	TypeAccount  ScalarType = "account"   // 32-byte account id
	TypeOpaque   ScalarType = "opaque"    // unresolved; decoded as raw hex
)

// FieldDecl is one resolved event argument.
type FieldDecl struct {
	Name     string     `json:"name"`
	Type     ScalarType `json:"type"`
	FixedLen int        `json:"fixed_len,omitempty"` // byte length for TypeFixedHex
}

// EventDecl is one event in the project's parsed contract schema.
type EventDecl struct {
	Name   string      `json:"name"`
	Index  int         `json:"index"` // dispatch index within the contract's event variant
	Fields []FieldDecl `json:"fields"`
}

// FieldByName looks up a declared field by name.
func (e EventDecl) FieldByName(name string) (FieldDecl, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDecl{}, false
}

// Project is the persistent record described in spec.md §3.
type Project struct {
	ID              string      `json:"id"`
	APIKeyHash      string      `json:"api_key_hash"`
	ProjectName     string      `json:"project_name"`
	Description     string      `json:"description"`
	ContractAddress string      `json:"contract_address"`
	ContractHash    string      `json:"contract_hash"`
	OwnerID         string      `json:"owner_id"`
	CreatedAt       time.Time   `json:"created_at"`
	EventSchema     []EventDecl `json:"event_schema"`
}

// EventByName finds a declared event by name.
func (p Project) EventByName(name string) (EventDecl, bool) {
	for _, e := range p.EventSchema {
		if e.Name == name {
			return e, true
		}
	}
	return EventDecl{}, false
}

package registry

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"github.com/triggr/node/internal/apierr"
)

// descriptorFile mirrors the required top-level shape of contracts.json
// (spec.md §6). Fields are raw JSON so parseEvents can walk spec.events
// without committing to a full scale-info object model; the walk reads
// only event names, argument names and argument types.
type descriptorFile struct {
	Source *struct {
		Hash string `json:"hash"`
	} `json:"source"`
	Contract *struct {
		Name string `json:"name"`
	} `json:"contract"`
	Spec    json.RawMessage `json:"spec"`
	Types   json.RawMessage `json:"types"`
	Version json.RawMessage `json:"version"`
}

type descriptorSpec struct {
	Events []descriptorEvent `json:"events"`
}

type descriptorEvent struct {
	Name string               `json:"name"`
	Args []descriptorArgument `json:"args"`
}

type descriptorArgument struct {
	Name string          `json:"name"`
	Type json.RawMessage `json:"type"`
}

// typeTableEntry is a flattened scale-info-style type table row: an id the
// spec's argument types can reference, naming a primitive or composite
// shape. Real scale-info metadata nests this far deeper; Triggr resolves
// only what §4.3 lists as supported scalars and opaques everything else.
type typeTableEntry struct {
	ID   int    `json:"id"`
	Type string `json:"type"`
}

var fixedBytesPattern = regexp.MustCompile(`^\[u8;\s*(\d+)\s*\]$`)

// parseDescriptor validates the five required top-level keys and resolves
// spec.events into a typed EventDecl list. Any missing required key is a
// ValidationError naming it (SPEC_FULL.md §7 supplement).
func parseDescriptor(raw []byte) ([]EventDecl, string, string, error) {
	var df descriptorFile
	if err := json.Unmarshal(raw, &df); err != nil {
		return nil, "", "", apierr.Validation("contract descriptor is not valid JSON: %v", err)
	}

	var missing []string
	if df.Source == nil || df.Source.Hash == "" {
		missing = append(missing, "source.hash")
	}
	if df.Contract == nil || df.Contract.Name == "" {
		missing = append(missing, "contract.name")
	}
	if len(df.Spec) == 0 {
		missing = append(missing, "spec")
	}
	if len(df.Types) == 0 {
		missing = append(missing, "types")
	}
	if len(df.Version) == 0 {
		missing = append(missing, "version")
	}
	if len(missing) > 0 {
		return nil, "", "", apierr.Validation("contract descriptor missing required key(s): %v", missing)
	}

	var spec descriptorSpec
	if err := json.Unmarshal(df.Spec, &spec); err != nil {
		return nil, "", "", apierr.Validation("contract descriptor spec is malformed: %v", err)
	}
	var types []typeTableEntry
	if err := json.Unmarshal(df.Types, &types); err != nil {
		return nil, "", "", apierr.Validation("contract descriptor types table is malformed: %v", err)
	}
	typesByID := make(map[int]string, len(types))
	for _, t := range types {
		typesByID[t.ID] = t.Type
	}

	events := make([]EventDecl, 0, len(spec.Events))
	for idx, ev := range spec.Events {
		decl := EventDecl{Name: ev.Name, Index: idx}
		for _, arg := range ev.Args {
			decl.Fields = append(decl.Fields, resolveField(arg, typesByID))
		}
		events = append(events, decl)
	}

	return events, df.Source.Hash, df.Contract.Name, nil
}

// resolveField turns one descriptor argument into a FieldDecl. The type
// is either a literal string (e.g. "u64", "[u8;32]") or a numeric index
// into the types table; anything it can't place becomes TypeOpaque
// (spec.md §4.3).
func resolveField(arg descriptorArgument, typesByID map[int]string) FieldDecl {
	literal := string(arg.Type)
	var asString string
	if json.Unmarshal(arg.Type, &asString) == nil {
		literal = asString
	} else if idx, err := strconv.Atoi(string(arg.Type)); err == nil {
		if resolved, ok := typesByID[idx]; ok {
			literal = resolved
		}
	}

	return FieldDecl{Name: arg.Name, Type: scalarFromLiteral(literal), FixedLen: fixedLenFromLiteral(literal)}
}

func scalarFromLiteral(literal string) ScalarType {
	switch literal {
	case "u8":
		return TypeUint8
	case "u16":
		return TypeUint16
	case "u32":
		return TypeUint32
	case "u64":
		return TypeUint64
	case "u128":
		return TypeUint128
	case "i8":
		return TypeInt8
	case "i16":
		return TypeInt16
	case "i32":
		return TypeInt32
	case "i64":
		return TypeInt64
	case "i128":
		return TypeInt128
	case "bool":
		return TypeBool
	case "AccountId", "account_id":
		return TypeAccount
	case "Vec<u8>", "bytes", "Bytes":
		return TypeBytes
	}
	if fixedBytesPattern.MatchString(literal) {
		return TypeFixedHex
	}
	return TypeOpaque
}

func fixedLenFromLiteral(literal string) int {
	m := fixedBytesPattern.FindStringSubmatch(literal)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// describeResolution summarizes a parsed schema for log/diagnostic output.
func describeResolution(events []EventDecl) string {
	opaque := 0
	for _, e := range events {
		for _, f := range e.Fields {
			if f.Type == TypeOpaque {
				opaque++
			}
		}
	}
	return fmt.Sprintf("%d events, %d opaque field(s)", len(events), opaque)
}

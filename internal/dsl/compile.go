package dsl

import "github.com/triggr/node/internal/registry"

// MaxSourceBytes is the maximum DSL source length (spec.md §6: "Max
// source length 32 KB") and §8: "exceeding 32 KB -> ValidationError, not
// truncated".
const MaxSourceBytes = 32 * 1024

// Compile lexes, parses, and validates trigger source against a project's
// contract schema, producing a RuleTree ready for C5 to evaluate. schema
// is authoritative for field resolution; any `const events` block in the
// source is checked for syntax only (spec.md §4.4 rule 4).
func Compile(source string, schema []registry.EventDecl) (*RuleTree, error) {
	if len(source) > MaxSourceBytes {
		return nil, newError(0, "ValidationError", "trigger source exceeds maximum length of %d bytes", MaxSourceBytes)
	}

	stripped, err := StripComments(source)
	if err != nil {
		return nil, &CompileError{Line: 0, Kind: "SyntaxError", Message: err.Error()}
	}

	parser, err := NewParser(stripped)
	if err != nil {
		return nil, err
	}
	declared, body, err := parser.ParseProgram()
	if err != nil {
		return nil, err
	}

	return validateAndBuild(declared, body, schema, stripped)
}

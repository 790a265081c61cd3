// Package event defines the DecodedEvent value passed from the Chain
// Ingester (C6) through the Trigger Router (C7) into the DSL Evaluator
// (C5) — spec.md §4.6 step 4.
package event

import "github.com/triggr/node/internal/value"

// Decoded is one fully decoded on-chain event, ready for trigger dispatch.
type Decoded struct {
	ProjectID      string
	Name           string
	Fields         map[string]value.Value
	BlockNumber    uint64
	ExtrinsicIndex uint32
}

// Package router implements the Trigger Router (C7): persistence for
// Trigger records and the in-memory (project_id, bound_event_name) →
// []trigger_id dispatch index (spec.md §4.7).
package router

import "time"

// Trigger is the persistent record described in spec.md §3. Compiled is
// derived at load/compile time and never persisted.
type Trigger struct {
	ProjectID   string    `json:"project_id"`
	TriggerID   string    `json:"trigger_id"`
	Description string    `json:"description"`
	Source      string    `json:"source"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	LastRunAt   time.Time `json:"last_run_at"`
	BoundEvent  string    `json:"bound_event"`
	// CompileError is set when startup recompilation failed; the trigger
	// is then forced inactive (spec.md §4.7).
	CompileError string `json:"compile_error,omitempty"`
}

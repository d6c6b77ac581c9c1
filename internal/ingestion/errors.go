package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Build diagnostics. None of them aborts a build: the affected trigger or
// step is either kept as an opaque node or contributes nothing.
var (
	// ErrUnknownTriggerKind marks a trigger outside the known taxonomy. It
	// still becomes an Event node with a generic label.
	ErrUnknownTriggerKind = errors.New("unknown trigger kind")

	// ErrUnknownActionKind marks a step outside the known taxonomy. It
	// becomes an uncataloged Action node.
	ErrUnknownActionKind = errors.New("unknown action kind")

	// ErrMissingCatalogEntry marks a service call with no effect entry. The
	// Action node has no resulting state.
	ErrMissingCatalogEntry = errors.New("service not in effect catalog")

	// ErrMalformedRule marks a control structure missing required children.
	// It contributes no actions.
	ErrMalformedRule = errors.New("malformed rule structure")

	// ErrNoTriggers marks an automation without usable triggers.
	ErrNoTriggers = errors.New("automation has no triggers")

	// ErrNoActions marks an automation with no reachable actions.
	ErrNoActions = errors.New("automation has no reachable actions")

	// ErrBlueprint marks a use_blueprint automation, which is not expanded.
	ErrBlueprint = errors.New("blueprint automations are not expanded")
)

// Diagnostic records a non-fatal problem found while building the graph.
type Diagnostic struct {
	Automation string `json:"automation"`
	Path       string `json:"path,omitempty"`
	Err        error  `json:"-"`
}

// Error implements error.
func (d Diagnostic) Error() string {
	if d.Path == "" {
		return fmt.Sprintf("%s: %v", d.Automation, d.Err)
	}
	return fmt.Sprintf("%s: %s: %v", d.Automation, d.Path, d.Err)
}

// Unwrap returns the underlying sentinel.
func (d Diagnostic) Unwrap() error {
	return d.Err
}

// Message is the diagnostic's error text, for serialisation.
func (d Diagnostic) Message() string {
	if d.Err == nil {
		return ""
	}
	return d.Err.Error()
}

// MarshalJSON includes the error text as "message".
func (d Diagnostic) MarshalJSON() ([]byte, error) {
	type plain Diagnostic
	return json.Marshal(struct {
		plain
		Message string `json:"message"`
	}{plain(d), d.Message()})
}

// Kind returns a short, stable name for the diagnostic's class, for
// counting and metrics labels.
func (d Diagnostic) Kind() string {
	switch {
	case errors.Is(d.Err, ErrUnknownTriggerKind):
		return "unknown_trigger"
	case errors.Is(d.Err, ErrUnknownActionKind):
		return "unknown_action"
	case errors.Is(d.Err, ErrMissingCatalogEntry):
		return "missing_catalog_entry"
	case errors.Is(d.Err, ErrMalformedRule):
		return "malformed_rule"
	case errors.Is(d.Err, ErrNoTriggers):
		return "no_triggers"
	case errors.Is(d.Err, ErrNoActions):
		return "no_actions"
	case errors.Is(d.Err, ErrBlueprint):
		return "blueprint"
	default:
		return "other"
	}
}

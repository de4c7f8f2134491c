package types

import (
	"errors"
	"fmt"
)

/*
 * Error taxonomy.
 *
 * Three fatal error classes, each scoped to a single unit of work:
 *   - ConfigError: pattern expansion rejected the configuration. Names the
 *     offending key; no partial expansion is ever returned.
 *   - CompileError: forward emission referenced a field or entity absent from
 *     the schema registry. Names the action and the reference.
 *   - ParseError: malformed source (unbalanced block, unterminated string or
 *     cursor). Aborts the unit and returns no result; malformed input is never
 *     degraded into a low-confidence ParseResult.
 *
 * Unit failures never abort a batch; the batch driver collects per-unit
 * outcomes. Non-fatal degradations are Warning values on a ParseResult.
 */

// Sentinel errors for SpecForge operations.
var (
	// ErrUnknownPattern indicates a pattern id absent from the template registry.
	ErrUnknownPattern = errors.New("unknown pattern id")

	// ErrUnknownEntity indicates an entity absent from the schema registry.
	ErrUnknownEntity = errors.New("unknown entity")

	// ErrUnknownBackend indicates an unregistered emitter backend name.
	ErrUnknownBackend = errors.New("unknown backend")

	// ErrNoDualKey indicates an entity without a dual-key mapping was used
	// where external-to-internal identifier resolution is required.
	ErrNoDualKey = errors.New("entity has no dual-key mapping")
)

// ConfigError reports invalid or incomplete pattern configuration.
type ConfigError struct {
	Pattern string // pattern id being expanded
	Key     string // offending config key
	Reason  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("pattern %s: config key %q: %s", e.Pattern, e.Key, e.Reason)
}

// CompileError reports an unresolvable reference during forward emission.
type CompileError struct {
	Action string // action being emitted
	Entity string // entity reference, if the entity itself is unknown
	Field  string // field reference, if a field is unknown
	Reason string
}

func (e *CompileError) Error() string {
	ref := e.Field
	if ref == "" {
		ref = e.Entity
	}
	return fmt.Sprintf("action %s: %s: %s", e.Action, ref, e.Reason)
}

// ParseError reports malformed source that cannot produce a ParseResult.
type ParseError struct {
	Line      int
	Construct string // construct being parsed when the failure occurred
	Reason    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s: %s", e.Line, e.Construct, e.Reason)
}

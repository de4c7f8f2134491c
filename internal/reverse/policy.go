// internal/reverse/policy.go
package reverse

/*
 * Confidence scoring policy.
 *
 * Scoring starts at 1.0 and subtracts a weighted penalty per construct whose
 * recovery was lossy or ambiguous, clamped to [0,1]. Constructs the parser
 * decomposes losslessly (dynamic EXECUTE, explicit cursors, nested CTEs)
 * never cost confidence; a string-built EXECUTE surfaces as a warning
 * instead, because its statement text is opaque to every later stage even
 * though the step itself round-trips. The weights are a calibratable policy
 * table, not a law: callers tuning against a labeled corpus override
 * Penalties or pass their own table on the Parser.
 */

// PenaltyPolicy holds the per-construct confidence penalties.
type PenaltyPolicy struct {
	// Fallback applies per opaque step the parser could not decompose.
	Fallback float64

	// CursorLifecycle applies per open/fetch-loop/close lifecycle folded
	// into a for_query step; the fold rewrites the step structure.
	CursorLifecycle float64

	// BareLoop applies per LOOP with no condition that did not fold into a
	// cursor lifecycle.
	BareLoop float64
}

// Penalties is the default policy table.
var Penalties = PenaltyPolicy{
	Fallback:        0.15,
	CursorLifecycle: 0.05,
	BareLoop:        0.05,
}

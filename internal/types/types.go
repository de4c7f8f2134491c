// Package types provides domain models shared across SpecForge components.
//
// Zero-dependency design: types.go, action.go, result.go and errors.go use only
// encoding/json so the IR can be embedded in external tools without pulling in
// compiler internals. ID utilities in ids.go import uuid but are isolated for
// selective inclusion.
//
// The Step kind set is closed. Both compiler directions may only produce kinds
// defined here; every emitter implements one method per kind, so adding a kind
// is a deliberate multi-site breaking change rather than a silent extension.
package types

/*
 * IR step model.
 *
 * A Step is a tagged union over the closed primitive vocabulary. Three shapes:
 *   - Leaf: declare, assign, return, insert, validate, ... carry typed operands.
 *   - Block: if, switch, while, for_query, foreach, cte, exception carry
 *     ordered nested step lists plus a condition/iterable/handler expression.
 *   - Fallback: raw source text plus a reason code. Produced only by the
 *     reverse parser; the forward path never emits one.
 *
 * Block lists are always materialized, never nil: an empty else branch is an
 * empty slice, so canonical serialization round-trips structure losslessly.
 * Normalize() enforces this after hand construction or decoding.
 */

// StepKind identifies one primitive in the closed IR vocabulary.
type StepKind int

const (
	KindInvalid StepKind = iota
	KindDeclare
	KindAssign
	KindReturn
	KindReturnEarly
	KindInsert
	KindUpdate
	KindPartialUpdate
	KindDelete
	KindSelect
	KindAggregate
	KindValidate
	KindDuplicateCheck
	KindFKResolve
	KindNotify
	KindJSONBuild
	KindCallFunction
	KindCallService
	KindRefresh
	KindIf
	KindSwitch
	KindWhile
	KindForQuery
	KindForeach
	KindCTE
	KindException
	KindCursorDeclare
	KindCursorOpen
	KindCursorFetch
	KindCursorClose
	KindContinue
	KindExit
	KindFallback
)

// kindNames maps StepKind to its stable wire name. Indexed by kind value;
// order must match the const block above.
var kindNames = [...]string{
	KindInvalid:        "invalid",
	KindDeclare:        "declare",
	KindAssign:         "assign",
	KindReturn:         "return",
	KindReturnEarly:    "return_early",
	KindInsert:         "insert",
	KindUpdate:         "update",
	KindPartialUpdate:  "partial_update",
	KindDelete:         "delete",
	KindSelect:         "select",
	KindAggregate:      "aggregate",
	KindValidate:       "validate",
	KindDuplicateCheck: "duplicate_check",
	KindFKResolve:      "fk_resolve",
	KindNotify:         "notify",
	KindJSONBuild:      "json_build",
	KindCallFunction:   "call_function",
	KindCallService:    "call_service",
	KindRefresh:        "refresh",
	KindIf:             "if",
	KindSwitch:         "switch",
	KindWhile:          "while",
	KindForQuery:       "for_query",
	KindForeach:        "foreach",
	KindCTE:            "cte",
	KindException:      "exception",
	KindCursorDeclare:  "cursor_declare",
	KindCursorOpen:     "cursor_open",
	KindCursorFetch:    "cursor_fetch",
	KindCursorClose:    "cursor_close",
	KindContinue:       "continue",
	KindExit:           "exit",
	KindFallback:       "fallback",
}

// String returns the stable wire name of the kind.
func (k StepKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "invalid"
	}
	return kindNames[k]
}

// KindFromName resolves a wire name back to its StepKind.
// Returns KindInvalid for unknown names.
func KindFromName(name string) StepKind {
	for k, n := range kindNames {
		if n == name {
			return StepKind(k)
		}
	}
	return KindInvalid
}

// IsBlock reports whether the kind carries nested step lists.
func (k StepKind) IsBlock() bool {
	switch k {
	case KindIf, KindSwitch, KindWhile, KindForQuery, KindForeach, KindCTE, KindException:
		return true
	}
	return false
}

// FieldValue is one ordered field assignment (field name -> expression text).
// A slice of FieldValue replaces a map so serialization and emission order are
// deterministic and follow declaration order.
type FieldValue struct {
	Name string `json:"name"`
	Expr string `json:"expr"`
}

// SwitchCase is one WHEN branch of a switch step.
type SwitchCase struct {
	Expr string `json:"expr"`
	Body []Step `json:"body"`
}

// CatchBranch is one handler branch of an exception step.
// Codes are the matched error categories, preserved in declaration order.
type CatchBranch struct {
	Codes []string `json:"codes"`
	Body  []Step   `json:"body"`
}

// Step is one IR node. The populated fields depend on Kind; canonical
// serialization in canonical.go emits only the fields the kind defines.
type Step struct {
	Kind StepKind

	// Leaf operands.
	Name      string       // variable, function, cursor, channel, or view name
	DataType  string       // declared type (declare)
	Entity    string       // target entity reference
	Fields    []FieldValue // ordered field assignments
	Expr      string       // expression, condition, iterable, or argument text
	Where     string       // filter expression (update, delete, select, aggregate)
	Into      string       // receiving variable (select, fk_resolve, call, fetch)
	ErrorCode string       // stable error-code string surfaced on failure
	Query     string       // query text (for_query, cte, cursor_declare)
	Recursive bool         // recursive CTE marker

	// Block bodies.
	Then     []Step        // if
	Else     []Step        // if (always materialized, possibly empty)
	Cases    []SwitchCase  // switch
	Default  []Step        // switch
	Body     []Step        // while, for_query, foreach, cte, exception try-list
	Handlers []CatchBranch // exception

	// Fallback payload.
	Raw    string // raw source text the parser could not decompose
	Reason string // reason code for the fallback

	// Source location recovered by the reverse parser. Zero for forward-built
	// steps; excluded from structural equality.
	Line int
}

// Normalize materializes nil block lists so structural encoding is stable.
// Returns the receiver for chaining.
func (s *Step) Normalize() *Step {
	switch s.Kind {
	case KindIf:
		if s.Then == nil {
			s.Then = []Step{}
		}
		if s.Else == nil {
			s.Else = []Step{}
		}
		NormalizeSteps(s.Then)
		NormalizeSteps(s.Else)
	case KindSwitch:
		if s.Cases == nil {
			s.Cases = []SwitchCase{}
		}
		if s.Default == nil {
			s.Default = []Step{}
		}
		for i := range s.Cases {
			if s.Cases[i].Body == nil {
				s.Cases[i].Body = []Step{}
			}
			NormalizeSteps(s.Cases[i].Body)
		}
		NormalizeSteps(s.Default)
	case KindWhile, KindForQuery, KindForeach, KindCTE:
		if s.Body == nil {
			s.Body = []Step{}
		}
		NormalizeSteps(s.Body)
	case KindException:
		if s.Body == nil {
			s.Body = []Step{}
		}
		if s.Handlers == nil {
			s.Handlers = []CatchBranch{}
		}
		NormalizeSteps(s.Body)
		for i := range s.Handlers {
			if s.Handlers[i].Body == nil {
				s.Handlers[i].Body = []Step{}
			}
			NormalizeSteps(s.Handlers[i].Body)
		}
	}
	return s
}

// NormalizeSteps normalizes every step in a list in place.
func NormalizeSteps(steps []Step) {
	for i := range steps {
		steps[i].Normalize()
	}
}

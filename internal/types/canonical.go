// internal/types/canonical.go
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

/*
 * Canonical serialization and structural equality.
 *
 * Requirements served here:
 *   - Deterministic byte output: fields are written in a fixed per-kind order
 *     with no map iteration anywhere, so encoding the same Action twice yields
 *     identical bytes.
 *   - Only the fields a kind defines are encoded; optional operands are
 *     omitted when empty, block lists are always present (an empty else is
 *     encoded as [], never dropped).
 *   - Source locations (Step.Line) are excluded: two structurally identical
 *     actions recovered from different source layouts compare equal.
 *
 * Structural equality is canonical-byte equality. This is the foundation of
 * the round-trip and idempotence guarantees.
 */

// MarshalJSON encodes the step in canonical form.
func (s Step) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	w := objWriter{buf: &b}
	w.open()
	w.str("kind", s.Kind.String())

	switch s.Kind {
	case KindDeclare:
		w.str("name", s.Name)
		w.str("data_type", s.DataType)
		w.optStr("expr", s.Expr)
	case KindAssign:
		w.str("name", s.Name)
		w.str("expr", s.Expr)
	case KindReturn:
		w.optStr("expr", s.Expr)
	case KindReturnEarly:
		w.optStr("expr", s.Expr)
		w.optStr("error_code", s.ErrorCode)
	case KindInsert:
		w.str("entity", s.Entity)
		w.fields("fields", s.Fields)
	case KindUpdate, KindPartialUpdate:
		w.str("entity", s.Entity)
		w.fields("fields", s.Fields)
		w.optStr("where", s.Where)
	case KindDelete:
		w.str("entity", s.Entity)
		w.optStr("where", s.Where)
	case KindSelect, KindAggregate:
		w.str("into", s.Into)
		w.str("expr", s.Expr)
		w.str("entity", s.Entity)
		w.optStr("where", s.Where)
	case KindValidate:
		w.str("expr", s.Expr)
		w.str("error_code", s.ErrorCode)
	case KindDuplicateCheck:
		w.str("entity", s.Entity)
		w.fields("fields", s.Fields)
		w.str("error_code", s.ErrorCode)
	case KindFKResolve:
		w.str("entity", s.Entity)
		w.str("expr", s.Expr)
		w.str("into", s.Into)
		w.optStr("error_code", s.ErrorCode)
	case KindNotify:
		w.str("name", s.Name)
		w.str("expr", s.Expr)
	case KindJSONBuild:
		w.str("into", s.Into)
		w.fields("fields", s.Fields)
	case KindCallFunction:
		w.str("name", s.Name)
		w.optStr("expr", s.Expr)
		w.optStr("into", s.Into)
	case KindCallService:
		w.optStr("name", s.Name)
		w.str("expr", s.Expr)
		w.optStr("into", s.Into)
	case KindRefresh:
		w.str("name", s.Name)
	case KindIf:
		w.str("expr", s.Expr)
		w.steps("then", s.Then)
		w.steps("else", s.Else)
	case KindSwitch:
		w.optStr("expr", s.Expr)
		w.cases("cases", s.Cases)
		w.steps("default", s.Default)
	case KindWhile:
		w.str("expr", s.Expr)
		w.steps("body", s.Body)
	case KindForQuery:
		w.str("name", s.Name)
		w.str("query", s.Query)
		w.steps("body", s.Body)
	case KindForeach:
		w.str("name", s.Name)
		w.str("expr", s.Expr)
		w.steps("body", s.Body)
	case KindCTE:
		w.str("name", s.Name)
		w.bool("recursive", s.Recursive)
		w.str("query", s.Query)
		w.steps("body", s.Body)
	case KindException:
		w.steps("body", s.Body)
		w.handlers("handlers", s.Handlers)
	case KindCursorDeclare:
		w.str("name", s.Name)
		w.str("query", s.Query)
	case KindCursorOpen:
		w.str("name", s.Name)
		w.optStr("expr", s.Expr)
	case KindCursorFetch:
		w.str("name", s.Name)
		w.str("into", s.Into)
	case KindCursorClose:
		w.str("name", s.Name)
	case KindContinue, KindExit:
		w.optStr("expr", s.Expr)
	case KindFallback:
		w.str("raw", s.Raw)
		w.str("reason", s.Reason)
	default:
		return nil, fmt.Errorf("cannot encode step kind %d", int(s.Kind))
	}

	w.close()
	return b.Bytes(), w.err
}

// stepJSON mirrors Step for decoding. Every field is optional on the wire;
// Normalize materializes block lists after decode.
type stepJSON struct {
	Kind      string        `json:"kind"`
	Name      string        `json:"name"`
	DataType  string        `json:"data_type"`
	Entity    string        `json:"entity"`
	Fields    []FieldValue  `json:"fields"`
	Expr      string        `json:"expr"`
	Where     string        `json:"where"`
	Into      string        `json:"into"`
	ErrorCode string        `json:"error_code"`
	Query     string        `json:"query"`
	Recursive bool          `json:"recursive"`
	Then      []Step        `json:"then"`
	Else      []Step        `json:"else"`
	Cases     []SwitchCase  `json:"cases"`
	Default   []Step        `json:"default"`
	Body      []Step        `json:"body"`
	Handlers  []CatchBranch `json:"handlers"`
	Raw       string        `json:"raw"`
	Reason    string        `json:"reason"`
}

// UnmarshalJSON decodes a canonical step and normalizes its block lists.
func (s *Step) UnmarshalJSON(data []byte) error {
	var sj stepJSON
	if err := json.Unmarshal(data, &sj); err != nil {
		return err
	}
	kind := KindFromName(sj.Kind)
	if kind == KindInvalid {
		return fmt.Errorf("unknown step kind %q", sj.Kind)
	}
	*s = Step{
		Kind:      kind,
		Name:      sj.Name,
		DataType:  sj.DataType,
		Entity:    sj.Entity,
		Fields:    sj.Fields,
		Expr:      sj.Expr,
		Where:     sj.Where,
		Into:      sj.Into,
		ErrorCode: sj.ErrorCode,
		Query:     sj.Query,
		Recursive: sj.Recursive,
		Then:      sj.Then,
		Else:      sj.Else,
		Cases:     sj.Cases,
		Default:   sj.Default,
		Body:      sj.Body,
		Handlers:  sj.Handlers,
		Raw:       sj.Raw,
		Reason:    sj.Reason,
	}
	s.Normalize()
	return nil
}

// Canonical returns the canonical JSON encoding of the action.
// The input is not mutated; a normalized copy is encoded.
func (a Action) Canonical() ([]byte, error) {
	norm := NewAction(a.Name, a.Entity, a.Schema, a.Params, a.Result, cloneSteps(a.Steps))
	return json.Marshal(norm)
}

// Equal reports structural equivalence of two actions: same primitive
// sequence and operands, ignoring source locations.
func Equal(a, b Action) bool {
	ab, err := a.Canonical()
	if err != nil {
		return false
	}
	bb, err := b.Canonical()
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

// DecodeAction decodes a canonical action document.
func DecodeAction(data []byte) (Action, error) {
	var a Action
	if err := json.Unmarshal(data, &a); err != nil {
		return Action{}, err
	}
	return NewAction(a.Name, a.Entity, a.Schema, a.Params, a.Result, a.Steps), nil
}

func cloneSteps(steps []Step) []Step {
	if steps == nil {
		return nil
	}
	out := make([]Step, len(steps))
	for i, s := range steps {
		out[i] = s
		out[i].Fields = append([]FieldValue(nil), s.Fields...)
		out[i].Then = cloneSteps(s.Then)
		out[i].Else = cloneSteps(s.Else)
		out[i].Default = cloneSteps(s.Default)
		out[i].Body = cloneSteps(s.Body)
		if s.Cases != nil {
			cs := make([]SwitchCase, len(s.Cases))
			for j, c := range s.Cases {
				cs[j] = SwitchCase{Expr: c.Expr, Body: cloneSteps(c.Body)}
			}
			out[i].Cases = cs
		}
		if s.Handlers != nil {
			hs := make([]CatchBranch, len(s.Handlers))
			for j, h := range s.Handlers {
				hs[j] = CatchBranch{Codes: append([]string(nil), h.Codes...), Body: cloneSteps(h.Body)}
			}
			out[i].Handlers = hs
		}
	}
	return out
}

// objWriter writes a JSON object with fields in call order.
// First write error sticks; subsequent writes are no-ops.
type objWriter struct {
	buf   *bytes.Buffer
	wrote bool
	err   error
}

func (w *objWriter) open()  { w.buf.WriteByte('{') }
func (w *objWriter) close() { w.buf.WriteByte('}') }

func (w *objWriter) key(name string) {
	if w.wrote {
		w.buf.WriteByte(',')
	}
	w.wrote = true
	w.buf.WriteByte('"')
	w.buf.WriteString(name)
	w.buf.WriteString(`":`)
}

func (w *objWriter) raw(name string, v any) {
	if w.err != nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		w.err = err
		return
	}
	w.key(name)
	w.buf.Write(data)
}

func (w *objWriter) str(name, v string) { w.raw(name, v) }

func (w *objWriter) optStr(name, v string) {
	if v != "" {
		w.raw(name, v)
	}
}

func (w *objWriter) bool(name string, v bool) { w.raw(name, v) }

func (w *objWriter) fields(name string, v []FieldValue) {
	if v == nil {
		v = []FieldValue{}
	}
	w.raw(name, v)
}

func (w *objWriter) steps(name string, v []Step) {
	if v == nil {
		v = []Step{}
	}
	w.raw(name, v)
}

func (w *objWriter) cases(name string, v []SwitchCase) {
	if v == nil {
		v = []SwitchCase{}
	}
	w.raw(name, v)
}

func (w *objWriter) handlers(name string, v []CatchBranch) {
	if v == nil {
		v = []CatchBranch{}
	}
	w.raw(name, v)
}

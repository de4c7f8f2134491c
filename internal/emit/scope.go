// internal/emit/scope.go
package emit

import (
	"github.com/solatis/specforge/internal/schema"
	"github.com/solatis/specforge/internal/types"
)

/*
 * Scope / symbol table.
 *
 * Maps variable names to inferred types during emission. Scopes nest per
 * block with inner shadowing outer; one table lives for one action and is
 * discarded afterward, never shared across actions.
 *
 * Declaration hoisting: Declarations walks the action once and returns the
 * ordered list a backend hoists into its header position. Explicit declare
 * and cursor_declare steps come first in IR order; variables introduced
 * implicitly (fk_resolve, select INTO, json_build, calls, foreach targets)
 * follow in first-use order with inferred types. Loop-record variables of
 * for_query are excluded: the target backend declares those implicitly.
 */

// Scope is one lexical level of the symbol table.
type Scope struct {
	parent *Scope
	vars   map[string]string // name -> type
	order  []string
}

// NewScope creates a root scope for one action.
func NewScope() *Scope {
	return &Scope{vars: make(map[string]string)}
}

// Child opens a nested scope; names defined here shadow the parent.
func (s *Scope) Child() *Scope {
	return &Scope{parent: s, vars: make(map[string]string)}
}

// Define binds a name in this scope. The first binding of a name wins;
// rebinding is ignored so first-assignment type inference is stable.
func (s *Scope) Define(name, typ string) {
	if name == "" {
		return
	}
	if _, ok := s.vars[name]; ok {
		return
	}
	s.vars[name] = typ
	s.order = append(s.order, name)
}

// Lookup resolves a name through the scope chain.
func (s *Scope) Lookup(name string) (string, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if t, ok := cur.vars[name]; ok {
			return t, true
		}
	}
	return "", false
}

// Decl is one hoisted declaration.
type Decl struct {
	Name    string
	Type    string
	Default string // empty when the variable has no initializer
	Cursor  bool   // cursor declarations render differently
	Query   string // cursor query text
}

// Declarations walks the action once and returns the hoisted declaration
// list in deterministic order.
func Declarations(action types.Action, reg *schema.Registry) []Decl {
	var decls []Decl
	seen := make(map[string]bool)
	add := func(d Decl) {
		if d.Name == "" || seen[d.Name] {
			return
		}
		seen[d.Name] = true
		decls = append(decls, d)
	}

	// Parameters shadow nothing but occupy the namespace.
	for _, p := range action.Params {
		seen[p.Name] = true
	}

	var walk func(steps []types.Step)
	walk = func(steps []types.Step) {
		for _, s := range steps {
			switch s.Kind {
			case types.KindDeclare:
				add(Decl{Name: s.Name, Type: s.DataType, Default: s.Expr})
			case types.KindCursorDeclare:
				add(Decl{Name: s.Name, Cursor: true, Query: s.Query})
			case types.KindFKResolve:
				add(Decl{Name: s.Into, Type: internalKeyType(s.Entity, reg)})
			case types.KindSelect, types.KindAggregate:
				add(Decl{Name: s.Into, Type: inferSelectType(s, reg)})
			case types.KindJSONBuild:
				add(Decl{Name: s.Into, Type: "jsonb"})
			case types.KindCallFunction, types.KindCallService:
				if s.Into != "" {
					add(Decl{Name: s.Into, Type: "jsonb"})
				}
			case types.KindCursorFetch:
				add(Decl{Name: s.Into, Type: "record"})
			case types.KindForeach:
				add(Decl{Name: s.Name, Type: "text"})
			case types.KindAssign:
				add(Decl{Name: s.Name, Type: "text"})
			}
			walk(s.Then)
			walk(s.Else)
			for _, c := range s.Cases {
				walk(c.Body)
			}
			walk(s.Default)
			walk(s.Body)
			for _, h := range s.Handlers {
				walk(h.Body)
			}
		}
	}
	walk(action.Steps)
	return decls
}

// internalKeyType resolves the column type of an entity's internal key.
func internalKeyType(entity string, reg *schema.Registry) string {
	if reg == nil {
		return "uuid"
	}
	e, ok := reg.Entity(entity)
	if !ok {
		return "uuid"
	}
	dk := e.DualKey
	if f, ok := e.Field(dk.Internal); ok {
		return f.Type
	}
	return "uuid"
}

// inferSelectType infers the receiving type of a select/aggregate step:
// a bare entity-field projection takes the field's declared type, json
// projections take jsonb, everything else defaults to text.
func inferSelectType(s types.Step, reg *schema.Registry) string {
	if reg != nil {
		if e, ok := reg.Entity(s.Entity); ok {
			if f, ok := e.Field(s.Expr); ok {
				return f.Type
			}
		}
	}
	if containsJSON(s.Expr) {
		return "jsonb"
	}
	return "text"
}

func containsJSON(expr string) bool {
	for i := 0; i+4 <= len(expr); i++ {
		if expr[i] == 'j' && i+4 <= len(expr) && expr[i:i+4] == "json" {
			return true
		}
	}
	return false
}

// internal/expand/expand.go
package expand

import (
	"fmt"

	"github.com/solatis/specforge/internal/schema"
	"github.com/solatis/specforge/internal/types"
)

/*
 * Template registry and expansion entry point.
 *
 * The registry is built once at startup and read-only afterward; concurrent
 * expansions share it without locking. Each template is a pure function from
 * validated config to an ordered step list.
 *
 * Canonical mutation ordering every family follows:
 *   pre-validation checks -> duplicate/dependency checks -> foreign-key
 *   resolution (external identifier -> internal key) -> mutating primitives ->
 *   declared side effects (config order) -> audit-field assignment ->
 *   projection refresh -> result construction.
 * State-machine and composite families evaluate guards, in declared order with
 * short-circuit on first failure, before the transition primitive.
 */

// ExpandFunc is one template's expansion function. Config has already passed
// manifest validation when this is called.
type ExpandFunc func(cfg Config, entity schema.Entity, reg *schema.Registry) ([]types.Step, error)

// Template is one registered pattern.
type Template struct {
	ID       string
	Manifest Manifest
	Expand   ExpandFunc
}

// Registry holds the process-wide template set. Immutable after NewRegistry.
type Registry struct {
	templates map[string]Template
	order     []string
}

// NewRegistry builds a registry with every builtin pattern family registered.
func NewRegistry() *Registry {
	r := &Registry{templates: make(map[string]Template)}
	r.register(crudTemplates()...)
	r.register(stateMachineTemplates()...)
	r.register(validationTemplates()...)
	r.register(batchTemplates()...)
	r.register(sagaTemplates()...)
	r.register(workflowTemplates()...)
	r.bindWorkflow()
	return r
}

func (r *Registry) register(templates ...Template) {
	for _, t := range templates {
		if _, dup := r.templates[t.ID]; dup {
			panic(fmt.Sprintf("duplicate template id %q", t.ID))
		}
		r.templates[t.ID] = t
		r.order = append(r.order, t.ID)
	}
}

// Lookup returns the template registered under the id.
func (r *Registry) Lookup(id string) (Template, bool) {
	t, ok := r.templates[id]
	return t, ok
}

// Patterns returns registered pattern ids in registration order.
func (r *Registry) Patterns() []string {
	return append([]string(nil), r.order...)
}

// Expand validates config against the template manifest and runs the
// expansion. The returned steps are normalized and ready for an Action.
func (r *Registry) Expand(patternID string, cfg Config, entityRef string, reg *schema.Registry) ([]types.Step, error) {
	t, ok := r.templates[patternID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownPattern, patternID)
	}
	entity, err := reg.MustEntity(entityRef)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = Config{}
	}
	if err := t.Manifest.Validate(patternID, cfg); err != nil {
		return nil, err
	}
	steps, err := t.Expand(cfg, entity, reg)
	if err != nil {
		return nil, err
	}
	types.NormalizeSteps(steps)
	return steps, nil
}

// BuildAction expands a pattern and wraps the result in a complete Action
// with derived parameters and result contract.
func (r *Registry) BuildAction(name, patternID string, cfg Config, entityRef string, reg *schema.Registry) (types.Action, error) {
	steps, err := r.Expand(patternID, cfg, entityRef, reg)
	if err != nil {
		return types.Action{}, err
	}
	entity, _ := reg.Entity(entityRef)
	params := deriveParams(steps)
	result := types.ResultContract{
		Success: []types.FieldValue{{Name: "status", Expr: "'success'"}},
	}
	action := types.NewAction(name, entityRef, entity.Schema, params, result, steps)
	action.Result.Errors = action.ErrorCodes()
	return action, nil
}

// deriveParams collects p_-prefixed references from step operands, in first
// occurrence order. Parameters are typed text unless a declare step narrows
// them; the emitter's symbol table refines types further.
func deriveParams(steps []types.Step) []types.Param {
	seen := make(map[string]bool)
	var params []types.Param
	add := func(expr string) {
		for _, name := range paramRefs(expr) {
			if !seen[name] {
				seen[name] = true
				params = append(params, types.Param{Name: name, Type: "text"})
			}
		}
	}
	var walk func([]types.Step)
	walk = func(list []types.Step) {
		for _, s := range list {
			add(s.Expr)
			add(s.Where)
			add(s.Query)
			for _, f := range s.Fields {
				add(f.Expr)
			}
			walk(s.Then)
			walk(s.Else)
			for _, c := range s.Cases {
				add(c.Expr)
				walk(c.Body)
			}
			walk(s.Default)
			walk(s.Body)
			for _, h := range s.Handlers {
				walk(h.Body)
			}
		}
	}
	walk(steps)
	if params == nil {
		params = []types.Param{}
	}
	return params
}

// paramRefs extracts p_xxx identifiers from expression text, left to right.
func paramRefs(expr string) []string {
	var refs []string
	for i := 0; i+2 < len(expr); i++ {
		if expr[i] == 'p' && expr[i+1] == '_' && (i == 0 || !isIdentChar(expr[i-1])) {
			j := i + 2
			for j < len(expr) && isIdentChar(expr[j]) {
				j++
			}
			if j > i+2 {
				refs = append(refs, expr[i:j])
				i = j
			}
		}
	}
	return refs
}

func isIdentChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// internal/types/action.go
package types

/*
 * Action model.
 *
 * An Action is one compiled unit: a named business operation against an owning
 * entity, with declared parameters, a declared result contract, and an ordered
 * top-level step list. Actions are constructed either by the pattern expander
 * or from hand-authored step lists, then treated as immutable values: emitters
 * read them, nothing patches them. A changed action is a rebuilt action.
 */

// Param is one declared action parameter.
type Param struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ResultContract declares the shape of a successful result and the stable
// error-code strings the action can surface. Error codes are assigned by the
// pattern family and never vary by configuration.
type ResultContract struct {
	Success []FieldValue `json:"success"`
	Errors  []string     `json:"errors"`
}

// Action is one compiled business operation.
type Action struct {
	Name   string         `json:"name"`
	Entity string         `json:"entity"`
	Schema string         `json:"schema"`
	Params []Param        `json:"params"`
	Result ResultContract `json:"result"`
	Steps  []Step         `json:"steps"`
}

// NewAction builds a normalized action. Step block lists are materialized so
// the value is canonical from construction onward.
func NewAction(name, entity, schema string, params []Param, result ResultContract, steps []Step) Action {
	if params == nil {
		params = []Param{}
	}
	if result.Success == nil {
		result.Success = []FieldValue{}
	}
	if result.Errors == nil {
		result.Errors = []string{}
	}
	if steps == nil {
		steps = []Step{}
	}
	NormalizeSteps(steps)
	return Action{
		Name:   name,
		Entity: entity,
		Schema: schema,
		Params: params,
		Result: result,
		Steps:  steps,
	}
}

// WalkSteps visits every step in the action depth-first, in document order.
// The visitor sees blocks before their bodies. Read-only traversal.
func (a Action) WalkSteps(visit func(Step)) {
	walkSteps(a.Steps, visit)
}

func walkSteps(steps []Step, visit func(Step)) {
	for _, s := range steps {
		visit(s)
		walkSteps(s.Then, visit)
		walkSteps(s.Else, visit)
		for _, c := range s.Cases {
			walkSteps(c.Body, visit)
		}
		walkSteps(s.Default, visit)
		walkSteps(s.Body, visit)
		for _, h := range s.Handlers {
			walkSteps(h.Body, visit)
		}
	}
}

// HasFallback reports whether any step in the action is a fallback step.
// Round-trip guarantees only hold for fallback-free actions.
func (a Action) HasFallback() bool {
	found := false
	a.WalkSteps(func(s Step) {
		if s.Kind == KindFallback {
			found = true
		}
	})
	return found
}

// ErrorCodes collects the distinct error-code strings reachable from the
// action's steps, in first-occurrence order. This is the set callers document
// and test against.
func (a Action) ErrorCodes() []string {
	seen := make(map[string]bool)
	var codes []string
	a.WalkSteps(func(s Step) {
		if s.ErrorCode != "" && !seen[s.ErrorCode] {
			seen[s.ErrorCode] = true
			codes = append(codes, s.ErrorCode)
		}
	})
	return codes
}

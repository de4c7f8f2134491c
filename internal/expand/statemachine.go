// internal/expand/statemachine.go
package expand

import (
	"strings"

	"github.com/solatis/specforge/internal/schema"
	"github.com/solatis/specforge/internal/types"
)

/*
 * State-machine transition family.
 *
 * Guard conditions are evaluated in declared order before the transition
 * primitive; the first failing guard short-circuits with the stable
 * guard-failed code. The current state is checked against the declared
 * from-states with the invalid-transition code.
 */

func stateMachineTemplates() []Template {
	return []Template{
		{
			ID: "state_machine/transition",
			Manifest: Manifest{
				Required: []Key{
					{Name: "from", Type: KeyStringList},
					{Name: "to", Type: KeyString},
				},
				Optional: append([]Key{
					{Name: "field", Type: KeyString},
					{Name: "guards", Type: KeyConfigList},
					{Name: "audit", Type: KeyBool},
				}, mutationOptionalKeys...),
			},
			Expand: expandTransition,
		},
	}
}

func expandTransition(cfg Config, entity schema.Entity, reg *schema.Registry) ([]types.Step, error) {
	field := cfg.str("field", "status")
	if !entity.HasField(field) {
		return nil, &types.ConfigError{
			Pattern: "state_machine/transition",
			Key:     "field",
			Reason:  "entity " + entity.Name + " has no field " + field,
		}
	}

	var steps []types.Step

	steps = append(steps, validationSteps(cfg.configList("validations"), CodeValidationFailed)...)

	self, err := selfResolve(entity, reg)
	if err != nil {
		return nil, err
	}
	steps = append(steps, self)

	from := cfg.strList("from")
	quoted := make([]string, len(from))
	for i, s := range from {
		quoted[i] = "'" + s + "'"
	}
	dk, _ := reg.ResolveDualKey(entity.Name)
	stateVar := "v_" + field
	steps = append(steps, types.Step{
		Kind:   types.KindSelect,
		Into:   stateVar,
		Expr:   field,
		Entity: entity.Name,
		Where:  dk.Internal + " = " + self.Into,
	})
	steps = append(steps, types.Step{
		Kind:      types.KindValidate,
		Expr:      stateVar + " IN (" + strings.Join(quoted, ", ") + ")",
		ErrorCode: CodeInvalidTransition,
	})

	for _, g := range cfg.configList("guards") {
		steps = append(steps, types.Step{
			Kind:      types.KindValidate,
			Expr:      g.str("expr", ""),
			ErrorCode: g.str("code", CodeGuardFailed),
		})
	}

	assigns := []types.FieldValue{{Name: field, Expr: "'" + cfg.str("to", "") + "'"}}
	if cfg.boolean("audit", true) {
		assigns = append(assigns, auditAssigns(entity, false)...)
	}
	steps = append(steps, types.Step{
		Kind:   types.KindUpdate,
		Entity: entity.Name,
		Fields: assigns,
		Where:  dk.Internal + " = " + self.Into,
	})

	steps = append(steps, sideEffectSteps(cfg.configList("side_effects"))...)
	steps = append(steps, refreshSteps(cfg)...)
	steps = append(steps, successReturn())
	return steps, nil
}

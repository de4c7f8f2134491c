// internal/expand/saga.go
package expand

import (
	"github.com/solatis/specforge/internal/schema"
	"github.com/solatis/specforge/internal/types"
)

/*
 * Multi-entity saga family.
 *
 * Declared steps expand into a flat forward sequence wrapped in an exception
 * block. The handler carries one compensating step per declared step, in
 * reverse declaration order; compensations exist only on the failure path.
 * Every declared step must carry an explicit compensate block so the failure
 * path is total and reviewable.
 */

func sagaTemplates() []Template {
	return []Template{
		{
			ID: "saga/multi_entity",
			Manifest: Manifest{
				Required: []Key{
					{Name: "steps", Type: KeyConfigList},
				},
				Optional: []Key{
					{Name: "side_effects", Type: KeyConfigList},
				},
			},
			Expand: expandSaga,
		},
	}
}

func expandSaga(cfg Config, entity schema.Entity, reg *schema.Registry) ([]types.Step, error) {
	declared := cfg.configList("steps")
	if len(declared) == 0 {
		return nil, &types.ConfigError{Pattern: "saga/multi_entity", Key: "steps", Reason: "at least one step is required"}
	}

	var forward []types.Step
	var compensations []types.Step

	for _, sc := range declared {
		step, err := sagaMutation(sc, reg)
		if err != nil {
			return nil, err
		}
		forward = append(forward, step)

		comp, ok := sc.config("compensate")
		if !ok {
			return nil, &types.ConfigError{
				Pattern: "saga/multi_entity",
				Key:     "compensate",
				Reason:  "every saga step must declare a compensating step",
			}
		}
		compStep, err := sagaMutation(comp, reg)
		if err != nil {
			return nil, err
		}
		// Reverse declaration order: prepend.
		compensations = append([]types.Step{compStep}, compensations...)
	}

	forward = append(forward, sideEffectSteps(cfg.configList("side_effects"))...)
	forward = append(forward, successReturn())

	handlerBody := append(compensations, types.Step{
		Kind:      types.KindReturnEarly,
		Expr:      "jsonb_build_object('status', 'error', 'code', '" + CodeSagaFailed + "')",
		ErrorCode: CodeSagaFailed,
	})

	return []types.Step{{
		Kind: types.KindException,
		Body: forward,
		Handlers: []types.CatchBranch{
			{Codes: []string{"OTHERS"}, Body: handlerBody},
		},
	}}, nil
}

// sagaMutation builds one mutating primitive from a saga step or compensate
// config. Action is one of insert, update, delete.
func sagaMutation(sc Config, reg *schema.Registry) (types.Step, error) {
	entityName := sc.str("entity", "")
	if _, err := reg.MustEntity(entityName); err != nil {
		return types.Step{}, &types.ConfigError{Pattern: "saga/multi_entity", Key: "entity", Reason: err.Error()}
	}
	fields := sc.assignList("saga/multi_entity", "fields")
	where := sc.str("where", "")

	switch action := sc.str("action", ""); action {
	case "insert":
		return types.Step{Kind: types.KindInsert, Entity: entityName, Fields: fields}, nil
	case "update":
		return types.Step{Kind: types.KindUpdate, Entity: entityName, Fields: fields, Where: where}, nil
	case "delete":
		return types.Step{Kind: types.KindDelete, Entity: entityName, Where: where}, nil
	default:
		return types.Step{}, &types.ConfigError{
			Pattern: "saga/multi_entity",
			Key:     "action",
			Reason:  "must be insert, update, or delete",
		}
	}
}

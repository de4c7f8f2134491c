// internal/expand/batchop.go
package expand

import (
	"github.com/solatis/specforge/internal/schema"
	"github.com/solatis/specforge/internal/types"
)

/*
 * Batch operation family.
 *
 * batch/update iterates matching rows with a for_query loop and applies the
 * configured assignment per row. A counter tracks affected rows for the
 * result; per-row side effects run inside the loop in config order.
 */

func batchTemplates() []Template {
	return []Template{
		{
			ID: "batch/update",
			Manifest: Manifest{
				Required: []Key{
					{Name: "fields", Type: KeyAssignList},
				},
				Optional: append([]Key{
					{Name: "filter", Type: KeyString},
					{Name: "audit", Type: KeyBool},
				}, mutationOptionalKeys...),
			},
			Expand: expandBatchUpdate,
		},
	}
}

func expandBatchUpdate(cfg Config, entity schema.Entity, reg *schema.Registry) ([]types.Step, error) {
	dk, err := reg.ResolveDualKey(entity.Name)
	if err != nil {
		return nil, err
	}

	var steps []types.Step
	steps = append(steps, types.Step{Kind: types.KindDeclare, Name: "v_count", DataType: "integer", Expr: "0"})
	steps = append(steps, validationSteps(cfg.configList("validations"), CodeValidationFailed)...)

	assigns := cfg.assignList("batch/update", "fields")
	if cfg.boolean("audit", true) {
		assigns = append(assigns, auditAssigns(entity, false)...)
	}

	query := "SELECT " + dk.Internal + " FROM " + entity.Table()
	if filter := cfg.str("filter", ""); filter != "" {
		query += " WHERE " + filter
	}

	body := []types.Step{
		{
			Kind:   types.KindUpdate,
			Entity: entity.Name,
			Fields: assigns,
			Where:  dk.Internal + " = r." + dk.Internal,
		},
		{Kind: types.KindAssign, Name: "v_count", Expr: "v_count + 1"},
	}
	body = append(body, sideEffectSteps(cfg.configList("side_effects"))...)

	steps = append(steps, types.Step{
		Kind:  types.KindForQuery,
		Name:  "r",
		Query: query,
		Body:  body,
	})

	steps = append(steps, refreshSteps(cfg)...)
	steps = append(steps, types.Step{
		Kind: types.KindReturn,
		Expr: "jsonb_build_object('status', 'success', 'count', v_count)",
	})
	return steps, nil
}

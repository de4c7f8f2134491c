// internal/expand/workflow.go
package expand

import (
	"github.com/solatis/specforge/internal/schema"
	"github.com/solatis/specforge/internal/types"
)

/*
 * Composite workflow family.
 *
 * workflow/composite sequences sub-pattern expansions into one action. Guards
 * run first, in declared order with short-circuit; each stage names another
 * registered pattern and its config. Stage results are concatenated with the
 * per-stage success returns stripped so only the composite's tail returns.
 */

func workflowTemplates() []Template {
	return []Template{
		{
			ID: "workflow/composite",
			Manifest: Manifest{
				Required: []Key{
					{Name: "stages", Type: KeyConfigList},
				},
				Optional: []Key{
					{Name: "guards", Type: KeyConfigList},
					{Name: "side_effects", Type: KeyConfigList},
				},
			},
			Expand: nil, // bound in NewRegistry via closure below
		},
	}
}

// bindWorkflow attaches the registry-aware expansion closure. Composite
// expansion recurses into the same template registry, so it cannot be a free
// function over config alone.
func (r *Registry) bindWorkflow() {
	t := r.templates["workflow/composite"]
	t.Expand = func(cfg Config, entity schema.Entity, reg *schema.Registry) ([]types.Step, error) {
		return r.expandComposite(cfg, entity, reg)
	}
	r.templates["workflow/composite"] = t
}

func (r *Registry) expandComposite(cfg Config, entity schema.Entity, reg *schema.Registry) ([]types.Step, error) {
	var steps []types.Step

	for _, g := range cfg.configList("guards") {
		steps = append(steps, types.Step{
			Kind:      types.KindValidate,
			Expr:      g.str("expr", ""),
			ErrorCode: g.str("code", CodeGuardFailed),
		})
	}

	stages := cfg.configList("stages")
	if len(stages) == 0 {
		return nil, &types.ConfigError{Pattern: "workflow/composite", Key: "stages", Reason: "at least one stage is required"}
	}
	for _, stage := range stages {
		pattern := stage.str("pattern", "")
		if pattern == "" {
			return nil, &types.ConfigError{Pattern: "workflow/composite", Key: "pattern", Reason: "stage missing pattern id"}
		}
		stageEntity := stage.str("entity", entity.Name)
		stageCfg, _ := stage.config("config")
		expanded, err := r.Expand(pattern, stageCfg, stageEntity, reg)
		if err != nil {
			return nil, err
		}
		steps = append(steps, stripTailReturn(expanded)...)
	}

	steps = append(steps, sideEffectSteps(cfg.configList("side_effects"))...)
	steps = append(steps, successReturn())
	return steps, nil
}

// stripTailReturn drops a trailing return step from a stage expansion so the
// composite controls the single result construction.
func stripTailReturn(steps []types.Step) []types.Step {
	if n := len(steps); n > 0 && steps[n-1].Kind == types.KindReturn {
		return steps[:n-1]
	}
	return steps
}

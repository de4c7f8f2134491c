// internal/expand/validation.go
package expand

import (
	"github.com/solatis/specforge/internal/schema"
	"github.com/solatis/specforge/internal/types"
)

// validation/chain expands an ordered list of checks into validate steps.
// Evaluation short-circuits on the first failure by construction: generated
// backends raise on the first unmet condition.
func validationTemplates() []Template {
	return []Template{
		{
			ID: "validation/chain",
			Manifest: Manifest{
				Required: []Key{
					{Name: "checks", Type: KeyConfigList},
				},
			},
			Expand: expandValidationChain,
		},
	}
}

func expandValidationChain(cfg Config, entity schema.Entity, reg *schema.Registry) ([]types.Step, error) {
	checks := cfg.configList("checks")
	if len(checks) == 0 {
		return nil, &types.ConfigError{
			Pattern: "validation/chain",
			Key:     "checks",
			Reason:  "at least one check is required",
		}
	}
	steps := validationSteps(checks, CodeValidationFailed)
	steps = append(steps, successReturn())
	return steps, nil
}

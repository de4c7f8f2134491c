// internal/expand/crud.go
package expand

import (
	"github.com/solatis/specforge/internal/schema"
	"github.com/solatis/specforge/internal/types"
)

/*
 * CRUD pattern family.
 *
 * crud/create, crud/update, crud/delete, crud/get. All mutation expansions
 * follow the canonical ordering; delete resolves the acted-on row before its
 * dependency checks because the checks compare child rows against the
 * resolved internal key.
 */

func crudTemplates() []Template {
	return []Template{
		{
			ID: "crud/create",
			Manifest: Manifest{
				Optional: append([]Key{
					{Name: "duplicate_check", Type: KeyConfig},
					{Name: "fields", Type: KeyAssignList},
					{Name: "audit", Type: KeyBool},
				}, mutationOptionalKeys...),
			},
			Expand: expandCreate,
		},
		{
			ID: "crud/update",
			Manifest: Manifest{
				Optional: append([]Key{
					{Name: "fields", Type: KeyAssignList},
					{Name: "partial", Type: KeyBool},
					{Name: "audit", Type: KeyBool},
				}, mutationOptionalKeys...),
			},
			Expand: expandUpdate,
		},
		{
			ID: "crud/delete",
			Manifest: Manifest{
				Optional: append([]Key{
					{Name: "dependency_checks", Type: KeyConfigList},
					{Name: "soft", Type: KeyBool},
				}, mutationOptionalKeys...),
			},
			Expand: expandDelete,
		},
		{
			ID: "crud/get",
			Manifest: Manifest{
				Optional: []Key{
					{Name: "projection", Type: KeyString},
				},
			},
			Expand: expandGet,
		},
	}
}

func expandCreate(cfg Config, entity schema.Entity, reg *schema.Registry) ([]types.Step, error) {
	var steps []types.Step

	steps = append(steps, validationSteps(cfg.configList("validations"), CodeValidationFailed)...)

	if dup, ok := cfg.config("duplicate_check"); ok {
		steps = append(steps, duplicateCheckStep(entity, dup.strList("fields")))
	}

	assigns := cfg.assignList("crud/create", "fields")
	if assigns == nil {
		assigns = defaultAssigns(entity, reg)
	}
	resolves, assigns := fkResolveSteps(entity, reg, assigns)
	steps = append(steps, resolves...)

	if cfg.boolean("audit", true) {
		assigns = append(assigns, auditAssigns(entity, true)...)
	}
	steps = append(steps, types.Step{Kind: types.KindInsert, Entity: entity.Name, Fields: assigns})

	steps = append(steps, sideEffectSteps(cfg.configList("side_effects"))...)
	steps = append(steps, refreshSteps(cfg)...)
	steps = append(steps, successReturn())
	return steps, nil
}

func expandUpdate(cfg Config, entity schema.Entity, reg *schema.Registry) ([]types.Step, error) {
	var steps []types.Step

	steps = append(steps, validationSteps(cfg.configList("validations"), CodeValidationFailed)...)

	self, err := selfResolve(entity, reg)
	if err != nil {
		return nil, err
	}
	steps = append(steps, self)

	assigns := cfg.assignList("crud/update", "fields")
	if assigns == nil {
		assigns = defaultAssigns(entity, reg)
	}
	resolves, assigns := fkResolveSteps(entity, reg, assigns)
	steps = append(steps, resolves...)

	if cfg.boolean("audit", true) {
		assigns = append(assigns, auditAssigns(entity, false)...)
	}

	kind := types.KindUpdate
	if cfg.boolean("partial", false) {
		kind = types.KindPartialUpdate
	}
	dk, _ := reg.ResolveDualKey(entity.Name)
	steps = append(steps, types.Step{
		Kind:   kind,
		Entity: entity.Name,
		Fields: assigns,
		Where:  dk.Internal + " = " + self.Into,
	})

	steps = append(steps, sideEffectSteps(cfg.configList("side_effects"))...)
	steps = append(steps, refreshSteps(cfg)...)
	steps = append(steps, successReturn())
	return steps, nil
}

func expandDelete(cfg Config, entity schema.Entity, reg *schema.Registry) ([]types.Step, error) {
	var steps []types.Step

	steps = append(steps, validationSteps(cfg.configList("validations"), CodeValidationFailed)...)

	self, err := selfResolve(entity, reg)
	if err != nil {
		return nil, err
	}
	steps = append(steps, self)

	for _, dep := range cfg.configList("dependency_checks") {
		steps = append(steps, types.Step{
			Kind:   types.KindDuplicateCheck,
			Entity: dep.str("entity", ""),
			Fields: []types.FieldValue{
				{Name: dep.str("field", ""), Expr: self.Into},
			},
			ErrorCode: CodeDependenciesExist,
		})
	}

	dk, _ := reg.ResolveDualKey(entity.Name)
	where := dk.Internal + " = " + self.Into

	soft := cfg.boolean("soft", entity.HasField("deleted_at"))
	if soft && entity.HasField("deleted_at") {
		assigns := []types.FieldValue{{Name: "deleted_at", Expr: "now()"}}
		assigns = append(assigns, auditAssigns(entity, false)...)
		steps = append(steps, types.Step{Kind: types.KindUpdate, Entity: entity.Name, Fields: assigns, Where: where})
	} else {
		steps = append(steps, types.Step{Kind: types.KindDelete, Entity: entity.Name, Where: where})
	}

	steps = append(steps, sideEffectSteps(cfg.configList("side_effects"))...)
	steps = append(steps, refreshSteps(cfg)...)
	steps = append(steps, successReturn())
	return steps, nil
}

func expandGet(cfg Config, entity schema.Entity, reg *schema.Registry) ([]types.Step, error) {
	self, err := selfResolve(entity, reg)
	if err != nil {
		return nil, err
	}
	dk, _ := reg.ResolveDualKey(entity.Name)

	projection := cfg.str("projection", "to_jsonb("+entity.Name+")")
	return []types.Step{
		self,
		{
			Kind:   types.KindSelect,
			Into:   "v_result",
			Expr:   projection,
			Entity: entity.Name,
			Where:  dk.Internal + " = " + self.Into,
		},
		{Kind: types.KindReturn, Expr: "v_result"},
	}, nil
}

// internal/expand/helpers.go
package expand

import (
	"github.com/solatis/specforge/internal/schema"
	"github.com/solatis/specforge/internal/types"
)

// validationSteps builds validate steps from a "validations" config list.
// Declared order is preserved; each check carries its configured code or the
// family default.
func validationSteps(checks []Config, defaultCode string) []types.Step {
	var steps []types.Step
	for _, c := range checks {
		steps = append(steps, types.Step{
			Kind:      types.KindValidate,
			Expr:      c.str("expr", ""),
			ErrorCode: c.str("code", defaultCode),
		})
	}
	return steps
}

// duplicateCheckStep builds one duplicate_check over the configured fields.
// Each field is compared against its parameter expression.
func duplicateCheckStep(entity schema.Entity, fields []string) types.Step {
	fvs := make([]types.FieldValue, 0, len(fields))
	for _, f := range fields {
		fvs = append(fvs, types.FieldValue{Name: f, Expr: "p_" + f})
	}
	return types.Step{
		Kind:      types.KindDuplicateCheck,
		Entity:    entity.Name,
		Fields:    fvs,
		ErrorCode: CodeDuplicate,
	}
}

// selfResolve resolves the acted-on row's external identifier to its internal
// key. Missing rows surface the stable not-found code.
func selfResolve(entity schema.Entity, reg *schema.Registry) (types.Step, error) {
	dk, err := reg.ResolveDualKey(entity.Name)
	if err != nil {
		return types.Step{}, err
	}
	return types.Step{
		Kind:      types.KindFKResolve,
		Entity:    entity.Name,
		Expr:      "p_" + dk.External,
		Into:      "v_" + dk.Internal,
		ErrorCode: CodeNotFound,
	}, nil
}

// fkResolveSteps builds fk_resolve steps for every foreign-key field present
// in the assignment list, in assignment order, and rewrites the assignment to
// use the resolved variable. Foreign targets without a dual-key mapping keep
// their original expression; nothing needs resolving for them.
func fkResolveSteps(entity schema.Entity, reg *schema.Registry, assigns []types.FieldValue) ([]types.Step, []types.FieldValue) {
	var resolves []types.Step
	out := make([]types.FieldValue, len(assigns))
	copy(out, assigns)
	for i, fv := range out {
		fk, ok := entity.ForeignKey(fv.Name)
		if !ok {
			continue
		}
		if _, err := reg.ResolveDualKey(fk.Target); err != nil {
			continue
		}
		into := "v_" + fv.Name
		resolves = append(resolves, types.Step{
			Kind:      types.KindFKResolve,
			Entity:    fk.Target,
			Expr:      fv.Expr,
			Into:      into,
			ErrorCode: CodeNotFound,
		})
		out[i] = types.FieldValue{Name: fv.Name, Expr: into}
	}
	return resolves, out
}

// defaultAssigns derives the insert/update assignment list from entity fields
// when the config omits one: every field except the internal key and audit
// columns, each bound to its parameter.
func defaultAssigns(entity schema.Entity, reg *schema.Registry) []types.FieldValue {
	internal := ""
	if dk, err := reg.ResolveDualKey(entity.Name); err == nil {
		internal = dk.Internal
	}
	var out []types.FieldValue
	for _, f := range entity.Fields {
		if f.Name == internal || isAuditField(f.Name) || f.Name == "deleted_at" {
			continue
		}
		out = append(out, types.FieldValue{Name: f.Name, Expr: "p_" + f.Name})
	}
	return out
}

func isAuditField(name string) bool {
	switch name {
	case "created_at", "updated_at", "created_by", "updated_by":
		return true
	}
	return false
}

// auditAssigns appends audit-field assignments for the columns the entity
// actually declares. Create touches created_* and updated_*; update touches
// only updated_*.
func auditAssigns(entity schema.Entity, create bool) []types.FieldValue {
	var out []types.FieldValue
	if create {
		if entity.HasField("created_at") {
			out = append(out, types.FieldValue{Name: "created_at", Expr: "now()"})
		}
		if entity.HasField("created_by") {
			out = append(out, types.FieldValue{Name: "created_by", Expr: "p_actor"})
		}
	}
	if entity.HasField("updated_at") {
		out = append(out, types.FieldValue{Name: "updated_at", Expr: "now()"})
	}
	if entity.HasField("updated_by") {
		out = append(out, types.FieldValue{Name: "updated_by", Expr: "p_actor"})
	}
	return out
}

// sideEffectSteps builds notify and call_function steps from a "side_effects"
// config list, preserving declared order.
func sideEffectSteps(effects []Config) []types.Step {
	var steps []types.Step
	for _, e := range effects {
		if n, ok := e.config("notify"); ok {
			steps = append(steps, types.Step{
				Kind: types.KindNotify,
				Name: n.str("channel", ""),
				Expr: n.str("payload", ""),
			})
			continue
		}
		if c, ok := e.config("call"); ok {
			steps = append(steps, types.Step{
				Kind: types.KindCallFunction,
				Name: c.str("function", ""),
				Expr: c.str("args", ""),
			})
		}
	}
	return steps
}

// refreshSteps builds projection/cache refresh steps when configured.
func refreshSteps(cfg Config) []types.Step {
	view := cfg.str("refresh", "")
	if view == "" {
		return nil
	}
	return []types.Step{{Kind: types.KindRefresh, Name: view}}
}

// successReturn is the shared result-construction tail.
func successReturn() types.Step {
	return types.Step{Kind: types.KindReturn, Expr: "jsonb_build_object('status', 'success')"}
}

// Shared manifest fragments. Every mutation family accepts these.
var mutationOptionalKeys = []Key{
	{Name: "validations", Type: KeyConfigList},
	{Name: "side_effects", Type: KeyConfigList},
	{Name: "refresh", Type: KeyString},
}

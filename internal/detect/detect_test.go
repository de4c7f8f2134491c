package detect

import (
	"testing"

	"github.com/solatis/specforge/internal/schema"
	"github.com/solatis/specforge/internal/types"
)

func transitionAction() types.Action {
	return types.NewAction("approve_order", "order", "app", nil,
		types.ResultContract{},
		[]types.Step{
			{Kind: types.KindValidate, Expr: "v_status IN ('pending', 'review')", ErrorCode: "invalid state transition"},
			{Kind: types.KindUpdate, Entity: "order", Fields: []types.FieldValue{{Name: "status", Expr: "'approved'"}}},
			{Kind: types.KindReturn},
		})
}

func TestDetectAuditTrail(t *testing.T) {
	fields := []string{"order_id", "created_at", "updated_at", "created_by", "updated_by"}
	got := Detect(transitionAction(), fields)
	if !hasPattern(got, AuditTrail, 1.0) {
		t.Errorf("patterns = %v, want audit_trail", got)
	}

	partial := []string{"order_id", "created_at", "updated_at"}
	if hasPattern(Detect(transitionAction(), partial), AuditTrail, 1.0) {
		t.Error("audit_trail reported without the full field set")
	}
}

func TestDetectSoftDelete(t *testing.T) {
	got := Detect(transitionAction(), []string{"order_id", "deleted_at"})
	if !hasPattern(got, SoftDelete, 1.0) {
		t.Errorf("patterns = %v, want soft_delete", got)
	}
}

func TestDetectStateMachine(t *testing.T) {
	got := Detect(transitionAction(), []string{"order_id", "status"})
	if !hasPattern(got, StateMachine, 0.8) {
		t.Errorf("patterns = %v, want state_machine", got)
	}

	// status present on the entity but never branched on
	plain := types.NewAction("touch_order", "order", "app", nil,
		types.ResultContract{},
		[]types.Step{
			{Kind: types.KindUpdate, Entity: "order", Fields: []types.FieldValue{{Name: "total", Expr: "0"}}},
			{Kind: types.KindReturn},
		})
	if hasPattern(Detect(plain, []string{"order_id", "status"}), StateMachine, 0.8) {
		t.Error("state_machine reported without a branch on the field")
	}
}

func TestDetectStateMachineWholeWord(t *testing.T) {
	// status_code references must not count as a status branch
	a := types.NewAction("check", "order", "app", nil,
		types.ResultContract{},
		[]types.Step{
			{Kind: types.KindIf, Expr: "v_status_code = 200", Then: []types.Step{
				{Kind: types.KindReturnEarly},
			}},
			{Kind: types.KindReturn},
		})
	if hasPattern(Detect(a, []string{"order_id", "status"}), StateMachine, 0.8) {
		t.Error("state_machine matched a longer identifier")
	}
}

func TestDetectMultiTenant(t *testing.T) {
	for _, f := range []string{"tenant_id", "organization_id"} {
		got := Detect(transitionAction(), []string{"order_id", f})
		if !hasPattern(got, MultiTenant, 1.0) {
			t.Errorf("field %s: patterns = %v, want multi_tenant", f, got)
		}
	}
}

func TestDetectStableOrder(t *testing.T) {
	fields := []string{
		"order_id", "status", "deleted_at", "tenant_id",
		"created_at", "updated_at", "created_by", "updated_by",
	}
	got := Detect(transitionAction(), fields)
	want := []string{AuditTrail, SoftDelete, StateMachine, MultiTenant}
	if len(got) != len(want) {
		t.Fatalf("patterns = %v, want %v", got, want)
	}
	for i, name := range want {
		if got[i].Name != name {
			t.Errorf("patterns[%d] = %s, want %s", i, got[i].Name, name)
		}
	}
}

func TestDetectEmptyResultNonNil(t *testing.T) {
	got := Detect(transitionAction(), []string{"order_id"})
	if got == nil {
		t.Fatal("Detect returned nil, want empty slice")
	}
	if len(got) != 0 {
		t.Errorf("patterns = %v, want none", got)
	}
}

func TestForEntity(t *testing.T) {
	reg, err := schema.NewRegistry([]schema.Entity{{
		Name:   "order",
		Schema: "app",
		Fields: []schema.Field{
			{Name: "order_id", Type: "uuid"},
			{Name: "status", Type: "text"},
			{Name: "deleted_at", Type: "timestamptz"},
		},
	}})
	if err != nil {
		t.Fatalf("schema registry: %v", err)
	}

	got := ForEntity(transitionAction(), reg, "order")
	if !hasPattern(got, SoftDelete, 1.0) || !hasPattern(got, StateMachine, 0.8) {
		t.Errorf("patterns = %v", got)
	}

	if got := ForEntity(transitionAction(), reg, "missing"); len(got) != 0 {
		t.Errorf("unknown entity: patterns = %v, want none", got)
	}
	if got := ForEntity(transitionAction(), nil, "order"); len(got) != 0 {
		t.Errorf("nil registry: patterns = %v, want none", got)
	}
}

func hasPattern(ps []types.DetectedPattern, name string, confidence float64) bool {
	for _, p := range ps {
		if p.Name == name && p.Confidence == confidence {
			return true
		}
	}
	return false
}

package batch

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/solatis/specforge/internal/emit/plpgsql"
	"github.com/solatis/specforge/internal/reverse"
	"github.com/solatis/specforge/internal/schema"
	"github.com/solatis/specforge/internal/types"
)

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.NewRegistry([]schema.Entity{{
		Name:   "order",
		Schema: "app",
		Fields: []schema.Field{
			{Name: "order_id", Type: "uuid"},
			{Name: "order_ref", Type: "text"},
			{Name: "status", Type: "text"},
			{Name: "deleted_at", Type: "timestamptz"},
		},
		DualKey: schema.DualKey{External: "order_ref", Internal: "order_id"},
	}})
	if err != nil {
		t.Fatalf("schema registry: %v", err)
	}
	return reg
}

func insertAction(name string) types.Action {
	return types.NewAction(name, "order", "app",
		[]types.Param{{Name: "p_order_ref", Type: "text"}},
		types.ResultContract{Success: []types.FieldValue{{Name: "status", Expr: "'success'"}}},
		[]types.Step{
			{Kind: types.KindInsert, Entity: "order", Fields: []types.FieldValue{{Name: "order_ref", Expr: "p_order_ref"}}},
			{Kind: types.KindReturn, Expr: "jsonb_build_object('status', 'success')"},
		})
}

func TestCompileOutcomesIndexAligned(t *testing.T) {
	reg := testRegistry(t)
	actions := []types.Action{
		insertAction("create_a"),
		insertAction("create_b"),
		insertAction("create_c"),
	}

	out := Compile(context.Background(), plpgsql.New(), reg, actions, 2)
	if len(out) != len(actions) {
		t.Fatalf("got %d outcomes, want %d", len(out), len(actions))
	}
	for i, o := range out {
		if o.Action != actions[i].Name {
			t.Errorf("outcomes[%d].Action = %q, want %q", i, o.Action, actions[i].Name)
		}
		if o.Err != nil {
			t.Errorf("outcomes[%d].Err = %v", i, o.Err)
		}
		if !strings.Contains(o.Source, "FUNCTION app."+actions[i].Name) {
			t.Errorf("outcomes[%d] missing function header:\n%s", i, o.Source)
		}
	}
}

func TestCompileIsolatesFailures(t *testing.T) {
	reg := testRegistry(t)
	bad := insertAction("create_bad")
	bad.Steps[0].Entity = "ghost"
	actions := []types.Action{insertAction("create_ok"), bad}

	out := Compile(context.Background(), plpgsql.New(), reg, actions, 0)
	if out[0].Err != nil {
		t.Errorf("healthy action failed: %v", out[0].Err)
	}
	var ce *types.CompileError
	if !errors.As(out[1].Err, &ce) {
		t.Fatalf("outcomes[1].Err = %v, want CompileError", out[1].Err)
	}
	if ce.Entity != "ghost" {
		t.Errorf("CompileError.Entity = %q, want ghost", ce.Entity)
	}
}

func TestCompileCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := Compile(ctx, plpgsql.New(), testRegistry(t), []types.Action{insertAction("create_a")}, 1)
	if !errors.Is(out[0].Err, context.Canceled) {
		t.Errorf("outcomes[0].Err = %v, want context.Canceled", out[0].Err)
	}
}

const goodUnit = `CREATE FUNCTION app.mark_done(p_order_ref text)
RETURNS jsonb
LANGUAGE plpgsql
AS $$
BEGIN
    UPDATE app.tb_order SET status = 'done' WHERE order_ref = p_order_ref;
    RETURN jsonb_build_object('status', 'success');
END;
$$;`

func TestParseMultipleFiles(t *testing.T) {
	reg := testRegistry(t)
	files := []SourceFile{
		{Name: "a.sql", Source: goodUnit},
		{Name: "b.sql", Source: goodUnit + "\n\n" + goodUnit},
	}

	out := Parse(context.Background(), reverse.New(reg), nil, files, 2)
	if len(out) != 3 {
		t.Fatalf("got %d outcomes, want 3", len(out))
	}
	wantFiles := []string{"a.sql", "b.sql", "b.sql"}
	for i, o := range out {
		if o.File != wantFiles[i] {
			t.Errorf("outcomes[%d].File = %q, want %q", i, o.File, wantFiles[i])
		}
		if o.Err != nil {
			t.Fatalf("outcomes[%d].Err = %v", i, o.Err)
		}
		if o.Result.IR.Name != "mark_done" {
			t.Errorf("outcomes[%d] action = %q", i, o.Result.IR.Name)
		}
	}
}

func TestParseMalformedFileBecomesOutcome(t *testing.T) {
	reg := testRegistry(t)
	files := []SourceFile{
		{Name: "broken.sql", Source: "CREATE FUNCTION app.f()\nRETURNS jsonb AS $$\nBEGIN"},
		{Name: "good.sql", Source: goodUnit},
	}

	out := Parse(context.Background(), reverse.New(reg), nil, files, 0)
	if len(out) != 2 {
		t.Fatalf("got %d outcomes, want 2", len(out))
	}
	var pe *types.ParseError
	if out[0].File != "broken.sql" || !errors.As(out[0].Err, &pe) {
		t.Errorf("outcomes[0] = %+v, want ParseError for broken.sql", out[0])
	}
	if out[1].Err != nil || out[1].Result == nil {
		t.Errorf("outcomes[1] = %+v, want parsed result", out[1])
	}
}

func TestParseAttachesDetectedPatterns(t *testing.T) {
	reg := testRegistry(t)
	out := Parse(context.Background(), reverse.New(reg), nil, []SourceFile{{Name: "a.sql", Source: goodUnit}}, 1)
	if out[0].Err != nil {
		t.Fatalf("err = %v", out[0].Err)
	}
	found := false
	for _, p := range out[0].Result.DetectedPatterns {
		if p.Name == "soft_delete" {
			found = true
		}
	}
	if !found {
		t.Errorf("patterns = %v, want soft_delete", out[0].Result.DetectedPatterns)
	}
}

type liftEnhancer struct {
	calls int
}

func (e *liftEnhancer) Enhance(ctx context.Context, source string, r *types.ParseResult) *types.ParseResult {
	e.calls++
	r.Confidence = 0.95
	return r
}

func TestParseRunsEnhancer(t *testing.T) {
	reg := testRegistry(t)
	enh := &liftEnhancer{}
	out := Parse(context.Background(), reverse.New(reg), enh, []SourceFile{{Name: "a.sql", Source: goodUnit}}, 1)
	if out[0].Err != nil {
		t.Fatalf("err = %v", out[0].Err)
	}
	if enh.calls != 1 {
		t.Errorf("enhancer calls = %d, want 1", enh.calls)
	}
	if out[0].Result.Confidence != 0.95 {
		t.Errorf("confidence = %v, want the enhancer's value", out[0].Result.Confidence)
	}
}

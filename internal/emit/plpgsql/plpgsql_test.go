package plpgsql

import (
	"errors"
	"strings"
	"testing"

	"github.com/solatis/specforge/internal/schema"
	"github.com/solatis/specforge/internal/types"
)

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.NewRegistry([]schema.Entity{
		{
			Name:   "customer",
			Schema: "app",
			Fields: []schema.Field{
				{Name: "customer_id", Type: "uuid"},
				{Name: "customer_ref", Type: "text"},
				{Name: "name", Type: "text"},
			},
			DualKey: schema.DualKey{External: "customer_ref", Internal: "customer_id"},
		},
		{
			Name:   "order",
			Schema: "app",
			Fields: []schema.Field{
				{Name: "order_id", Type: "uuid"},
				{Name: "order_ref", Type: "text"},
				{Name: "customer_id", Type: "uuid"},
				{Name: "status", Type: "text"},
				{Name: "total", Type: "numeric"},
			},
			ForeignKeys: []schema.ForeignKey{{Field: "customer_id", Target: "customer"}},
			DualKey:     schema.DualKey{External: "order_ref", Internal: "order_id"},
		},
	})
	if err != nil {
		t.Fatalf("schema registry: %v", err)
	}
	return reg
}

func createOrderAction() types.Action {
	return types.NewAction("create_order", "order", "app",
		[]types.Param{
			{Name: "p_order_ref", Type: "text"},
			{Name: "p_customer_ref", Type: "text"},
			{Name: "p_total", Type: "text"},
		},
		types.ResultContract{Success: []types.FieldValue{{Name: "status", Expr: "'success'"}}},
		[]types.Step{
			{Kind: types.KindValidate, Expr: "p_total IS NOT NULL", ErrorCode: "validation failed"},
			{Kind: types.KindDuplicateCheck, Entity: "order", Fields: []types.FieldValue{{Name: "order_ref", Expr: "p_order_ref"}}, ErrorCode: "duplicate found"},
			{Kind: types.KindFKResolve, Entity: "customer", Expr: "p_customer_ref", Into: "v_customer_id", ErrorCode: "record not found"},
			{Kind: types.KindInsert, Entity: "order", Fields: []types.FieldValue{
				{Name: "order_ref", Expr: "p_order_ref"},
				{Name: "customer_id", Expr: "v_customer_id"},
				{Name: "total", Expr: "p_total"},
			}},
			{Kind: types.KindNotify, Name: "orders", Expr: "p_order_ref"},
			{Kind: types.KindReturn, Expr: "jsonb_build_object('status', 'success')"},
		})
}

func TestEmitCreateOrder(t *testing.T) {
	src, err := New().Emit(createOrderAction(), testRegistry(t))
	if err != nil {
		t.Fatalf("Emit() error = %v", err)
	}

	wantLines := []string{
		"CREATE OR REPLACE FUNCTION app.create_order(p_order_ref text, p_customer_ref text, p_total text)",
		"RETURNS jsonb",
		"LANGUAGE plpgsql",
		"DECLARE",
		"v_customer_id uuid;",
		"IF NOT (p_total IS NOT NULL) THEN",
		"RAISE EXCEPTION 'validation failed';",
		"IF EXISTS (SELECT 1 FROM app.tb_order WHERE order_ref = p_order_ref) THEN",
		"RAISE EXCEPTION 'duplicate found';",
		"SELECT customer_id INTO v_customer_id FROM app.tb_customer WHERE customer_ref = p_customer_ref;",
		"IF v_customer_id IS NULL THEN",
		"RAISE EXCEPTION 'record not found';",
		"INSERT INTO app.tb_order (order_ref, customer_id, total) VALUES (p_order_ref, v_customer_id, p_total);",
		"PERFORM pg_notify('orders', p_order_ref);",
		"RETURN jsonb_build_object('status', 'success');",
	}
	for _, want := range wantLines {
		if !strings.Contains(src, want) {
			t.Errorf("output missing %q\n%s", want, src)
		}
	}
}

func TestEmitDeterministic(t *testing.T) {
	e := New()
	reg := testRegistry(t)
	first, err := e.Emit(createOrderAction(), reg)
	if err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	second, err := e.Emit(createOrderAction(), reg)
	if err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if first != second {
		t.Error("emission is not byte-identical across calls")
	}
}

func TestEmitControlFlow(t *testing.T) {
	action := types.NewAction("sweep", "order", "app", nil,
		types.ResultContract{},
		[]types.Step{
			{Kind: types.KindIf, Expr: "v_total > 100", Then: []types.Step{
				{Kind: types.KindAssign, Name: "v_flag", Expr: "'big'"},
			}, Else: []types.Step{
				{Kind: types.KindAssign, Name: "v_flag", Expr: "'small'"},
			}},
			{Kind: types.KindSwitch, Expr: "v_flag", Cases: []types.SwitchCase{
				{Expr: "'big'", Body: []types.Step{{Kind: types.KindNotify, Name: "big_orders", Expr: "v_flag"}}},
			}, Default: []types.Step{{Kind: types.KindContinue}}},
			{Kind: types.KindWhile, Expr: "v_n < 10", Body: []types.Step{
				{Kind: types.KindAssign, Name: "v_n", Expr: "v_n + 1"},
				{Kind: types.KindExit, Expr: "v_n = 5"},
			}},
			{Kind: types.KindForeach, Name: "v_item", Expr: "p_items", Body: []types.Step{
				{Kind: types.KindNotify, Name: "items", Expr: "v_item"},
			}},
			{Kind: types.KindReturn},
		})

	src, err := New().Emit(action, testRegistry(t))
	if err != nil {
		t.Fatalf("Emit() error = %v", err)
	}

	wantLines := []string{
		"IF v_total > 100 THEN",
		"ELSE",
		"END IF;",
		"CASE v_flag",
		"WHEN 'big' THEN",
		"END CASE;",
		"WHILE v_n < 10 LOOP",
		"EXIT WHEN v_n = 5;",
		"END LOOP;",
		"FOREACH v_item IN ARRAY p_items LOOP",
		"RETURN;",
	}
	for _, want := range wantLines {
		if !strings.Contains(src, want) {
			t.Errorf("output missing %q\n%s", want, src)
		}
	}
}

func TestEmitExceptionBlock(t *testing.T) {
	action := types.NewAction("guarded", "order", "app", nil,
		types.ResultContract{},
		[]types.Step{
			{Kind: types.KindException,
				Body: []types.Step{
					{Kind: types.KindDelete, Entity: "order", Where: "status = 'stale'"},
					{Kind: types.KindReturn, Expr: "jsonb_build_object('status', 'success')"},
				},
				Handlers: []types.CatchBranch{
					{Codes: []string{"unique_violation", "foreign_key_violation"}, Body: []types.Step{
						{Kind: types.KindReturnEarly, Expr: "jsonb_build_object('status', 'conflict')"},
					}},
				},
			},
		})

	src, err := New().Emit(action, testRegistry(t))
	if err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	for _, want := range []string{
		"BEGIN",
		"DELETE FROM app.tb_order WHERE status = 'stale';",
		"EXCEPTION",
		"WHEN unique_violation OR foreign_key_violation THEN",
	} {
		if !strings.Contains(src, want) {
			t.Errorf("output missing %q\n%s", want, src)
		}
	}
}

func TestEmitCursorDeclarations(t *testing.T) {
	action := types.NewAction("drain", "order", "app", nil,
		types.ResultContract{},
		[]types.Step{
			{Kind: types.KindCursorDeclare, Name: "c_orders", Query: "SELECT * FROM app.tb_order"},
			{Kind: types.KindCursorOpen, Name: "c_orders"},
			{Kind: types.KindWhile, Expr: "true", Body: []types.Step{
				{Kind: types.KindCursorFetch, Name: "c_orders", Into: "v_row"},
				{Kind: types.KindExit, Expr: "NOT FOUND"},
			}},
			{Kind: types.KindCursorClose, Name: "c_orders"},
			{Kind: types.KindReturn},
		})

	src, err := New().Emit(action, testRegistry(t))
	if err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	for _, want := range []string{
		"c_orders CURSOR FOR SELECT * FROM app.tb_order;",
		"v_row record;",
		"OPEN c_orders;",
		"FETCH c_orders INTO v_row;",
		"EXIT WHEN NOT FOUND;",
		"CLOSE c_orders;",
	} {
		if !strings.Contains(src, want) {
			t.Errorf("output missing %q\n%s", want, src)
		}
	}
}

func TestEmitCTE(t *testing.T) {
	action := types.NewAction("tally", "order", "app", nil,
		types.ResultContract{},
		[]types.Step{
			{Kind: types.KindCTE, Name: "recent", Query: "SELECT order_id FROM app.tb_order WHERE created_at > now() - interval '1 day'",
				Body: []types.Step{
					{Kind: types.KindAggregate, Expr: "count(*)", Into: "v_count", Entity: "order"},
				}},
			{Kind: types.KindReturn, Expr: "jsonb_build_object('count', v_count)"},
		})

	src, err := New().Emit(action, testRegistry(t))
	if err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if !strings.Contains(src, "WITH recent AS (SELECT order_id FROM app.tb_order WHERE created_at > now() - interval '1 day') SELECT count(*) INTO v_count FROM app.tb_order;") {
		t.Errorf("CTE shape wrong:\n%s", src)
	}
}

func TestEmitUnknownEntity(t *testing.T) {
	action := types.NewAction("bad", "ghost", "", nil,
		types.ResultContract{},
		[]types.Step{
			{Kind: types.KindInsert, Entity: "ghost", Fields: []types.FieldValue{{Name: "x", Expr: "1"}}},
		})

	_, err := New().Emit(action, testRegistry(t))
	var ce *types.CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CompileError, got %v", err)
	}
	if ce.Entity != "ghost" {
		t.Errorf("CompileError.Entity = %q", ce.Entity)
	}
}

func TestEmitUnknownField(t *testing.T) {
	action := types.NewAction("bad", "order", "app", nil,
		types.ResultContract{},
		[]types.Step{
			{Kind: types.KindInsert, Entity: "order", Fields: []types.FieldValue{{Name: "ghost_col", Expr: "1"}}},
		})

	_, err := New().Emit(action, testRegistry(t))
	var ce *types.CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CompileError, got %v", err)
	}
	if ce.Field != "ghost_col" {
		t.Errorf("CompileError.Field = %q", ce.Field)
	}
}

func TestEmitPartialUpdateCoalesce(t *testing.T) {
	action := types.NewAction("patch_order", "order", "app",
		[]types.Param{{Name: "p_status", Type: "text"}},
		types.ResultContract{},
		[]types.Step{
			{Kind: types.KindPartialUpdate, Entity: "order", Fields: []types.FieldValue{
				{Name: "status", Expr: "p_status"},
				{Name: "total", Expr: "p_total"},
			}, Where: "order_id = v_order_id"},
			{Kind: types.KindReturn},
		})

	src, err := New().Emit(action, testRegistry(t))
	if err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if !strings.Contains(src, "UPDATE app.tb_order SET status = COALESCE(p_status, status), total = COALESCE(p_total, total) WHERE order_id = v_order_id;") {
		t.Errorf("partial update shape wrong:\n%s", src)
	}
}

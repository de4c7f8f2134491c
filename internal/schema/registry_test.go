package schema

import (
	"errors"
	"testing"

	"github.com/solatis/specforge/internal/types"
)

func testEntities() []Entity {
	return []Entity{
		{
			Name:   "customer",
			Schema: "app",
			Fields: []Field{
				{Name: "customer_id", Type: "uuid"},
				{Name: "customer_ref", Type: "text"},
				{Name: "name", Type: "text"},
			},
			DualKey: DualKey{External: "customer_ref", Internal: "customer_id"},
		},
		{
			Name:   "order",
			Schema: "app",
			Fields: []Field{
				{Name: "order_id", Type: "uuid"},
				{Name: "order_ref", Type: "text"},
				{Name: "customer_id", Type: "uuid"},
				{Name: "status", Type: "text"},
			},
			ForeignKeys: []ForeignKey{{Field: "customer_id", Target: "customer"}},
			DualKey:     DualKey{External: "order_ref", Internal: "order_id"},
		},
	}
}

func TestRegistryLookup(t *testing.T) {
	reg, err := NewRegistry(testEntities())
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	e, ok := reg.Entity("order")
	if !ok {
		t.Fatal("order entity not found")
	}
	if e.Table() != "app.tb_order" {
		t.Errorf("Table() = %q, want app.tb_order", e.Table())
	}
	if !e.HasField("status") || e.HasField("missing") {
		t.Error("HasField misreported")
	}

	fk, ok := e.ForeignKey("customer_id")
	if !ok || fk.Target != "customer" {
		t.Errorf("ForeignKey(customer_id) = %+v, %v", fk, ok)
	}

	if _, ok := reg.Entity("nope"); ok {
		t.Error("unknown entity resolved")
	}
	if _, err := reg.MustEntity("nope"); !errors.Is(err, types.ErrUnknownEntity) {
		t.Errorf("MustEntity error = %v, want ErrUnknownEntity", err)
	}
}

func TestRegistryOrder(t *testing.T) {
	reg, err := NewRegistry(testEntities())
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	names := reg.Entities()
	if len(names) != 2 || names[0] != "customer" || names[1] != "order" {
		t.Errorf("Entities() = %v, want registration order", names)
	}
}

func TestResolveDualKey(t *testing.T) {
	entities := testEntities()
	entities = append(entities, Entity{
		Name:   "audit_log",
		Fields: []Field{{Name: "id", Type: "bigint"}},
	})
	reg, err := NewRegistry(entities)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	dk, err := reg.ResolveDualKey("order")
	if err != nil {
		t.Fatalf("ResolveDualKey(order) error = %v", err)
	}
	if dk.External != "order_ref" || dk.Internal != "order_id" {
		t.Errorf("ResolveDualKey(order) = %+v", dk)
	}

	if _, err := reg.ResolveDualKey("audit_log"); !errors.Is(err, types.ErrNoDualKey) {
		t.Errorf("expected ErrNoDualKey, got %v", err)
	}
}

func TestRegistryValidation(t *testing.T) {
	t.Run("duplicate entity", func(t *testing.T) {
		entities := testEntities()
		entities = append(entities, Entity{Name: "order", Fields: []Field{{Name: "x", Type: "text"}}})
		if _, err := NewRegistry(entities); err == nil {
			t.Error("expected error for duplicate entity")
		}
	})

	t.Run("foreign key to unknown entity", func(t *testing.T) {
		entities := []Entity{{
			Name:        "order",
			Fields:      []Field{{Name: "customer_id", Type: "uuid"}},
			ForeignKeys: []ForeignKey{{Field: "customer_id", Target: "ghost"}},
		}}
		if _, err := NewRegistry(entities); err == nil {
			t.Error("expected error for dangling foreign key")
		}
	})

	t.Run("foreign key on unknown field", func(t *testing.T) {
		entities := testEntities()
		entities[1].ForeignKeys = append(entities[1].ForeignKeys, ForeignKey{Field: "ghost_id", Target: "customer"})
		if _, err := NewRegistry(entities); err == nil {
			t.Error("expected error for foreign key on missing field")
		}
	})
}

func TestLoadYAML(t *testing.T) {
	doc := []byte(`
entities:
  - entity: customer
    schema: app
    fields:
      - {name: customer_id, type: uuid}
      - {name: customer_ref, type: text}
      - {name: name, type: text, nullable: true}
    dual_key: {external: customer_ref, internal: customer_id}
  - entity: order
    schema: app
    fields:
      - {name: order_id, type: uuid}
      - {name: order_ref, type: text}
      - {name: customer_id, type: uuid}
    foreign_keys:
      - {field: customer_id, target: customer}
    dual_key: {external: order_ref, internal: order_id}
`)
	reg, err := LoadYAML(doc)
	if err != nil {
		t.Fatalf("LoadYAML() error = %v", err)
	}
	e, ok := reg.Entity("order")
	if !ok {
		t.Fatal("order entity not loaded")
	}
	if fk, ok := e.ForeignKey("customer_id"); !ok || fk.Target != "customer" {
		t.Errorf("foreign key not loaded: %+v, %v", fk, ok)
	}
	c, _ := reg.Entity("customer")
	f, _ := c.Field("name")
	if !f.Nullable {
		t.Error("nullable flag not loaded")
	}
}

func TestLoadYAMLRejectsEmpty(t *testing.T) {
	if _, err := LoadYAML([]byte("entities: []")); err == nil {
		t.Error("expected error for empty registry")
	}
	if _, err := LoadYAML([]byte("{")); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

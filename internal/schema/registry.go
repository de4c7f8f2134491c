// internal/schema/registry.go

// Package schema provides the read-only entity registry consumed by both
// compiler directions.
//
// The registry is owned by the front-end deserializer: it is constructed once
// at process start, validated, and never mutated afterward, so concurrent
// compilations share it without locking.
package schema

import (
	"fmt"

	"github.com/solatis/specforge/internal/types"
)

// Field describes one entity column.
type Field struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Nullable bool   `yaml:"nullable"`
}

// ForeignKey links a local field to a target entity.
type ForeignKey struct {
	Field  string `yaml:"field"`
	Target string `yaml:"target"`
}

// DualKey pairs an entity's externally-stable identifier field with its
// internal ordinal key field. Field references to the external identifier of
// a foreign entity are rewritten to the internal key during emission.
type DualKey struct {
	External string `yaml:"external"`
	Internal string `yaml:"internal"`
}

// Entity is one registry entry.
type Entity struct {
	Name        string       `yaml:"entity"`
	Schema      string       `yaml:"schema"`
	Fields      []Field      `yaml:"fields"`
	ForeignKeys []ForeignKey `yaml:"foreign_keys"`
	DualKey     DualKey      `yaml:"dual_key"`
}

// Field looks up a field by name.
func (e Entity) Field(name string) (Field, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// HasField reports whether the entity declares the named field.
func (e Entity) HasField(name string) bool {
	_, ok := e.Field(name)
	return ok
}

// FieldNames returns the entity's field names in declaration order.
func (e Entity) FieldNames() []string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Name
	}
	return names
}

// ForeignKey looks up the foreign key declared on the named local field.
func (e Entity) ForeignKey(field string) (ForeignKey, bool) {
	for _, fk := range e.ForeignKeys {
		if fk.Field == field {
			return fk, true
		}
	}
	return ForeignKey{}, false
}

// Table returns the schema-qualified table name for the entity.
func (e Entity) Table() string {
	if e.Schema == "" {
		return "tb_" + e.Name
	}
	return e.Schema + ".tb_" + e.Name
}

// Registry is the immutable entity lookup shared across compilations.
type Registry struct {
	entities map[string]Entity
	order    []string
}

// NewRegistry validates entities and builds a registry. Duplicate entity
// names and foreign keys pointing at unregistered entities are rejected here
// rather than surfacing later as emission failures.
func NewRegistry(entities []Entity) (*Registry, error) {
	r := &Registry{entities: make(map[string]Entity, len(entities))}
	for _, e := range entities {
		if e.Name == "" {
			return nil, fmt.Errorf("entity with empty name")
		}
		if _, dup := r.entities[e.Name]; dup {
			return nil, fmt.Errorf("duplicate entity %q", e.Name)
		}
		r.entities[e.Name] = e
		r.order = append(r.order, e.Name)
	}
	for _, e := range entities {
		for _, fk := range e.ForeignKeys {
			if !e.HasField(fk.Field) {
				return nil, fmt.Errorf("entity %q: foreign key on unknown field %q", e.Name, fk.Field)
			}
			if _, ok := r.entities[fk.Target]; !ok {
				return nil, fmt.Errorf("entity %q: foreign key %q targets unknown entity %q", e.Name, fk.Field, fk.Target)
			}
		}
	}
	return r, nil
}

// Entity looks up an entity by name.
func (r *Registry) Entity(name string) (Entity, bool) {
	e, ok := r.entities[name]
	return e, ok
}

// MustEntity looks up an entity or returns ErrUnknownEntity.
func (r *Registry) MustEntity(name string) (Entity, error) {
	e, ok := r.entities[name]
	if !ok {
		return Entity{}, fmt.Errorf("%w: %s", types.ErrUnknownEntity, name)
	}
	return e, nil
}

// Entities returns entity names in registration order.
func (r *Registry) Entities() []string {
	return append([]string(nil), r.order...)
}

// ResolveDualKey returns the dual-key mapping for the named entity.
// Returns ErrNoDualKey when the entity declares none.
func (r *Registry) ResolveDualKey(entity string) (DualKey, error) {
	e, err := r.MustEntity(entity)
	if err != nil {
		return DualKey{}, err
	}
	if e.DualKey.External == "" || e.DualKey.Internal == "" {
		return DualKey{}, fmt.Errorf("%w: %s", types.ErrNoDualKey, entity)
	}
	return e.DualKey, nil
}

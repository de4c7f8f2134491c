// internal/expand/manifest.go

// Package expand turns (pattern id, config) pairs into ordered IR step lists.
//
// Expansion is pure and deterministic: identical (pattern, config, entity)
// inputs yield byte-identical step sequences. Config is validated against the
// template's manifest before any step is built; an invalid config produces a
// ConfigError naming the offending key and no partial expansion.
package expand

import (
	"fmt"

	"github.com/solatis/specforge/internal/types"
)

// KeyType constrains the value shape of one config key.
type KeyType int

const (
	KeyString KeyType = iota
	KeyBool
	KeyStringList
	KeyAssignList // ordered list of field assignments
	KeyConfigList // ordered list of nested config objects
	KeyConfig     // one nested config object
)

// Key is one entry in a template manifest.
type Key struct {
	Name string
	Type KeyType
}

// Manifest declares the required and optional config keys of a template.
type Manifest struct {
	Required []Key
	Optional []Key
}

// Config is a decoded pattern configuration. Values come from YAML or JSON
// deserialization; accessors validate shape and never iterate map order.
type Config map[string]any

// Validate checks the config against the manifest: required keys present,
// all keys known, all values of the declared type. Fails fast on the first
// offending key.
func (m Manifest) Validate(pattern string, cfg Config) error {
	for _, k := range m.Required {
		v, ok := cfg[k.Name]
		if !ok {
			return &types.ConfigError{Pattern: pattern, Key: k.Name, Reason: "required key missing"}
		}
		if err := checkType(pattern, k, v); err != nil {
			return err
		}
	}
	for _, k := range m.Optional {
		v, ok := cfg[k.Name]
		if !ok {
			continue
		}
		if err := checkType(pattern, k, v); err != nil {
			return err
		}
	}
	known := make(map[string]bool, len(m.Required)+len(m.Optional))
	for _, k := range m.Required {
		known[k.Name] = true
	}
	for _, k := range m.Optional {
		known[k.Name] = true
	}
	for name := range cfg {
		if !known[name] {
			return &types.ConfigError{Pattern: pattern, Key: name, Reason: "unknown key"}
		}
	}
	return nil
}

func checkType(pattern string, k Key, v any) error {
	bad := func(want string) error {
		return &types.ConfigError{Pattern: pattern, Key: k.Name, Reason: fmt.Sprintf("expected %s, got %T", want, v)}
	}
	switch k.Type {
	case KeyString:
		if _, ok := v.(string); !ok {
			return bad("string")
		}
	case KeyBool:
		if _, ok := v.(bool); !ok {
			return bad("bool")
		}
	case KeyStringList:
		items, ok := v.([]any)
		if !ok {
			return bad("list of strings")
		}
		for _, it := range items {
			if _, ok := it.(string); !ok {
				return bad("list of strings")
			}
		}
	case KeyAssignList:
		items, ok := v.([]any)
		if !ok {
			return bad("list of field assignments")
		}
		for _, it := range items {
			if _, err := assignFromAny(pattern, k.Name, it); err != nil {
				return err
			}
		}
	case KeyConfigList:
		items, ok := v.([]any)
		if !ok {
			return bad("list of objects")
		}
		for _, it := range items {
			if _, ok := asConfig(it); !ok {
				return bad("list of objects")
			}
		}
	case KeyConfig:
		if _, ok := asConfig(v); !ok {
			return bad("object")
		}
	}
	return nil
}

func asConfig(v any) (Config, bool) {
	switch m := v.(type) {
	case Config:
		return m, true
	case map[string]any:
		return Config(m), true
	}
	return nil, false
}

// assignFromAny accepts either {name: f, expr: e} or a single-pair {f: e}.
// Multi-pair shorthand maps are rejected: their iteration order would make
// expansion nondeterministic.
func assignFromAny(pattern, key string, v any) (types.FieldValue, error) {
	m, ok := asConfig(v)
	if !ok {
		return types.FieldValue{}, &types.ConfigError{Pattern: pattern, Key: key, Reason: fmt.Sprintf("expected field assignment object, got %T", v)}
	}
	if name, ok := m["name"].(string); ok {
		expr, ok := m["expr"].(string)
		if !ok {
			return types.FieldValue{}, &types.ConfigError{Pattern: pattern, Key: key, Reason: "field assignment missing expr"}
		}
		return types.FieldValue{Name: name, Expr: expr}, nil
	}
	if len(m) != 1 {
		return types.FieldValue{}, &types.ConfigError{Pattern: pattern, Key: key, Reason: "shorthand field assignment must have exactly one pair"}
	}
	for name, val := range m {
		expr, ok := val.(string)
		if !ok {
			return types.FieldValue{}, &types.ConfigError{Pattern: pattern, Key: key, Reason: "field assignment value must be a string expression"}
		}
		return types.FieldValue{Name: name, Expr: expr}, nil
	}
	return types.FieldValue{}, nil // unreachable; len(m) == 1 above
}

// Typed accessors. Manifest validation runs first, so shape failures here are
// programming errors and the accessors return zero values for absent keys.

func (c Config) str(key, def string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return def
}

func (c Config) boolean(key string, def bool) bool {
	if v, ok := c[key].(bool); ok {
		return v
	}
	return def
}

func (c Config) strList(key string) []string {
	items, ok := c[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (c Config) assignList(pattern, key string) []types.FieldValue {
	items, ok := c[key].([]any)
	if !ok {
		return nil
	}
	out := make([]types.FieldValue, 0, len(items))
	for _, it := range items {
		fv, err := assignFromAny(pattern, key, it)
		if err != nil {
			continue // shape already checked by Validate
		}
		out = append(out, fv)
	}
	return out
}

func (c Config) configList(key string) []Config {
	items, ok := c[key].([]any)
	if !ok {
		return nil
	}
	out := make([]Config, 0, len(items))
	for _, it := range items {
		if m, ok := asConfig(it); ok {
			out = append(out, m)
		}
	}
	return out
}

func (c Config) config(key string) (Config, bool) {
	v, ok := c[key]
	if !ok {
		return nil, false
	}
	return asConfig(v)
}

// internal/schema/yaml.go
package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// registryDoc is the on-disk registry document shape produced by the
// front-end deserializer.
type registryDoc struct {
	Entities []Entity `yaml:"entities"`
}

// LoadYAML parses a registry document from YAML bytes.
func LoadYAML(data []byte) (*Registry, error) {
	var doc registryDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid registry document: %w", err)
	}
	if len(doc.Entities) == 0 {
		return nil, fmt.Errorf("registry document declares no entities")
	}
	return NewRegistry(doc.Entities)
}

// LoadFile reads and parses a registry document from disk.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	return LoadYAML(data)
}

package metadata

import (
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

// Schema is the on-disk shape of a schema file.
type Schema struct {
	Entities  []*Entity   `yaml:"entities"`
	Relations []*Relation `yaml:"relations"`
}

// LoadSchema parses a YAML schema file.
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}
	return ParseSchema(data)
}

// ParseSchema parses schema YAML and applies structural checks that do not
// need a registry (names, tables, primary keys, relation endpoints).
func ParseSchema(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}

	seen := make(map[string]bool, len(s.Entities))
	for _, e := range s.Entities {
		if e.Name == "" {
			return nil, &ConfigError{Entity: "?", Message: "entity without a name"}
		}
		if seen[e.Name] {
			return nil, &ConfigError{Entity: e.Name, Message: "duplicate entity name"}
		}
		seen[e.Name] = true
		if e.Table == "" {
			e.Table = e.Name + "s"
		}
		if e.PrimaryKey.Field == "" {
			e.PrimaryKey = PrimaryKey{Field: "id", Type: "uuid", Generated: true}
		}
		if !e.HasField(e.PrimaryKey.Field) {
			return nil, &ConfigError{Entity: e.Name, Message: fmt.Sprintf("primary key field %q not declared in fields", e.PrimaryKey.Field)}
		}
	}

	for _, rel := range s.Relations {
		if rel.Name == "" {
			return nil, &ConfigError{Entity: rel.Source, Message: "relation without a name"}
		}
		if !seen[rel.Source] || !seen[rel.Target] {
			return nil, &ConfigError{Entity: rel.Name, Message: fmt.Sprintf("relation endpoints %s -> %s must both be declared entities", rel.Source, rel.Target)}
		}
		if rel.IsManyToMany() && rel.JoinTable == "" {
			return nil, &ConfigError{Entity: rel.Name, Message: "many_to_many relation requires join_table"}
		}
	}

	return &s, nil
}

// LoadAll reads the schema file and replaces the registry content. Used both
// at startup (errors are fatal) and on hot reload (errors keep the old schema).
func LoadAll(path string, reg *Registry) error {
	schema, err := LoadSchema(path)
	if err != nil {
		return err
	}
	if err := reg.Load(schema.Entities, schema.Relations); err != nil {
		return err
	}
	log.Printf("Loaded %d entities, %d relations from %s", len(schema.Entities), len(schema.Relations), path)
	return nil
}

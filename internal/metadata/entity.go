package metadata

// AccessConfig lists the roles allowed to read or write an entity. An
// empty list leaves that action open; the admin role always passes.
type AccessConfig struct {
	Read  []string `json:"read,omitempty" yaml:"read,omitempty"`
	Write []string `json:"write,omitempty" yaml:"write,omitempty"`
}

type SlugConfig struct {
	Field              string `json:"field" yaml:"field"`                                             // slug field name (must exist in fields, must be unique)
	Source             string `json:"source,omitempty" yaml:"source,omitempty"`                       // auto-generate from this field
	MaxLength          int    `json:"max_length,omitempty" yaml:"max_length,omitempty"`               // truncate the generated base to this many bytes
	RegenerateOnUpdate bool   `json:"regenerate_on_update,omitempty" yaml:"regenerate_on_update,omitempty"` // re-generate slug on update when source changes
}

type Entity struct {
	Name         string          `json:"name" yaml:"name"`
	Table        string          `json:"table" yaml:"table"`
	PrimaryKey   PrimaryKey      `json:"primary_key" yaml:"primary_key"`
	SoftDelete   bool            `json:"soft_delete" yaml:"soft_delete"`
	DisplayField string          `json:"display_field,omitempty" yaml:"display_field,omitempty"`
	Slug         *SlugConfig     `json:"slug,omitempty" yaml:"slug,omitempty"`
	Access       *AccessConfig   `json:"access,omitempty" yaml:"access,omitempty"`
	Fields       []Field         `json:"fields" yaml:"fields"`
	Related      []*RelatedField `json:"related,omitempty" yaml:"related,omitempty"`
}

type PrimaryKey struct {
	Field     string `json:"field" yaml:"field"`
	Type      string `json:"type" yaml:"type"` // uuid, int, bigint, string
	Generated bool   `json:"generated" yaml:"generated"`
}

// GetField returns a pointer to the field with the given name, or nil.
func (e *Entity) GetField(name string) *Field {
	for i := range e.Fields {
		if e.Fields[i].Name == name {
			return &e.Fields[i]
		}
	}
	return nil
}

// HasField returns true if the entity has a field with the given name.
func (e *Entity) HasField(name string) bool {
	return e.GetField(name) != nil
}

// GetRelated returns the related-field configuration with the given name, or nil.
func (e *Entity) GetRelated(name string) *RelatedField {
	for _, rf := range e.Related {
		if rf.Name == name {
			return rf
		}
	}
	return nil
}

// FieldNames returns all field names.
func (e *Entity) FieldNames() []string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Name
	}
	return names
}

// WritableFields returns fields that can be set by the client.
// Excludes auto-generated PKs and auto-timestamp fields.
func (e *Entity) WritableFields() []Field {
	var fields []Field
	for _, f := range e.Fields {
		if f.Name == e.PrimaryKey.Field && e.PrimaryKey.Generated {
			continue
		}
		if f.IsAuto() {
			continue
		}
		fields = append(fields, f)
	}
	return fields
}

// UpdatableFields returns fields that can be set on UPDATE.
// Excludes PK and auto fields; auto="update" fields are filled by the engine.
func (e *Entity) UpdatableFields() []Field {
	var fields []Field
	for _, f := range e.Fields {
		if f.Name == e.PrimaryKey.Field {
			continue
		}
		if f.IsAuto() {
			continue
		}
		if f.Name == "deleted_at" {
			continue
		}
		fields = append(fields, f)
	}
	return fields
}

// DisplayValue returns the human-readable string for a record of this entity.
func (e *Entity) DisplayValue(record map[string]any) any {
	if e.DisplayField != "" {
		if v, ok := record[e.DisplayField]; ok {
			return v
		}
	}
	if v, ok := record["name"]; ok {
		return v
	}
	return record[e.PrimaryKey.Field]
}

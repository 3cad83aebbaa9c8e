package metadata

type Field struct {
	Name      string   `json:"name" yaml:"name"`
	Type      string   `json:"type" yaml:"type"`
	Required  bool     `json:"required,omitempty" yaml:"required,omitempty"`
	Unique    bool     `json:"unique,omitempty" yaml:"unique,omitempty"`
	Default   any      `json:"default,omitempty" yaml:"default,omitempty"`
	Nullable  bool     `json:"nullable,omitempty" yaml:"nullable,omitempty"`
	Enum      []string `json:"enum,omitempty" yaml:"enum,omitempty"`
	Precision int      `json:"precision,omitempty" yaml:"precision,omitempty"`
	Auto      string   `json:"auto,omitempty" yaml:"auto,omitempty"` // "create" or "update"
}

// IsAuto returns true if the field is auto-managed by the engine.
func (f Field) IsAuto() bool {
	return f.Auto == "create" || f.Auto == "update"
}

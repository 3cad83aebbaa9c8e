package metadata

// Relation kinds as seen from the entity that declares a related field.
const (
	KindAuto       = "auto"
	KindGeneric    = "generic"
	KindFK         = "fk"
	KindM2M        = "m2m"
	KindReverseFK  = "reverse_fk"
	KindReverseM2M = "reverse_m2m"
)

// Write ordering for related-field values.
const (
	OrderAuto            = "auto"
	OrderDependencyFirst = "dependency_first"
	OrderRootFirst       = "root_first"
)

// Sync modes for many-valued relations.
const (
	SyncAppend  = "append"
	SyncReplace = "replace"
	SyncSync    = "sync"
)

type Relation struct {
	Name          string `json:"name" yaml:"name"`
	Type          string `json:"type" yaml:"type"` // one_to_one, one_to_many, many_to_many
	Source        string `json:"source" yaml:"source"`
	Target        string `json:"target" yaml:"target"`
	SourceKey     string `json:"source_key" yaml:"source_key"`
	TargetKey     string `json:"target_key,omitempty" yaml:"target_key,omitempty"`
	JoinTable     string `json:"join_table,omitempty" yaml:"join_table,omitempty"`
	SourceJoinKey string `json:"source_join_key,omitempty" yaml:"source_join_key,omitempty"`
	TargetJoinKey string `json:"target_join_key,omitempty" yaml:"target_join_key,omitempty"`
	OnDelete      string `json:"on_delete" yaml:"on_delete"` // cascade, set_null, restrict, detach
}

func (r *Relation) IsManyToMany() bool {
	return r.Type == "many_to_many"
}

func (r *Relation) IsOneToMany() bool {
	return r.Type == "one_to_many"
}

func (r *Relation) IsOneToOne() bool {
	return r.Type == "one_to_one"
}

// Descriptor captures the shape of a relationship as seen from one entity,
// independent of how the schema declares it. It is the sole input to Classify.
type Descriptor struct {
	OneToMany       bool
	ManyToMany      bool
	ManyToOne       bool
	OneToOne        bool
	AutoCreated     bool   // the side not declared by this entity (reverse)
	SourceFieldName string // back-reference column on the child, for reverse sides
	Nullable        bool   // whether that column is nullable
}

// Classify maps a descriptor plus an explicit override to a concrete relation
// kind and the inferred child link field. The override always wins. A nil or
// unrecognizable descriptor classifies as generic; this never errors.
func Classify(d *Descriptor, override string) (kind string, childLink string) {
	if override != "" && override != KindAuto {
		if d != nil {
			return override, d.SourceFieldName
		}
		return override, ""
	}
	if d == nil {
		return KindGeneric, ""
	}
	switch {
	case d.OneToMany && d.AutoCreated:
		return KindReverseFK, d.SourceFieldName
	case d.ManyToMany && d.AutoCreated:
		return KindReverseM2M, ""
	case d.ManyToOne || d.OneToOne:
		return KindFK, ""
	case d.ManyToMany:
		return KindM2M, ""
	default:
		return KindGeneric, ""
	}
}

// DefaultWriteOrder returns the write order implied by a relation kind.
// Reverse relations need the parent row to exist before children can point
// at it; everything else persists children first.
func DefaultWriteOrder(kind string) string {
	switch kind {
	case KindReverseFK, KindReverseM2M:
		return OrderRootFirst
	default:
		return OrderDependencyFirst
	}
}

// IsManyValued reports whether values of this kind are lists.
func IsManyValued(kind string) bool {
	switch kind {
	case KindM2M, KindReverseM2M, KindReverseFK:
		return true
	default:
		return false
	}
}

package metadata

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Input and output formats for related fields.
const (
	InputID     = "id"
	InputNested = "nested"
	InputSlug   = "slug"
	InputObject = "object"

	OutputID         = "id"
	OutputStr        = "str"
	OutputSerialized = "serialized"
	OutputCustom     = "custom"
)

// RelationWriteConfig holds the optional per-field overrides for how a
// related value is written.
type RelationWriteConfig struct {
	Kind      string `json:"relation_kind,omitempty" yaml:"relation_kind,omitempty"`       // auto|generic|fk|m2m|reverse_fk|reverse_m2m
	Order     string `json:"write_order,omitempty" yaml:"write_order,omitempty"`           // auto|dependency_first|root_first
	ChildLink string `json:"child_link_field,omitempty" yaml:"child_link_field,omitempty"` // back-reference column on the child
	SyncMode  string `json:"sync_mode,omitempty" yaml:"sync_mode,omitempty"`               // append|replace|sync
}

// RelatedField is the configuration of one relation field on an entity.
type RelatedField struct {
	Name          string              `json:"name" yaml:"name"`
	Target        string              `json:"target" yaml:"target"`
	Column        string              `json:"column,omitempty" yaml:"column,omitempty"` // fk column on the owner, defaults to name + "_id"
	InputFormats  []string            `json:"input_formats,omitempty" yaml:"input_formats,omitempty"`
	OutputFormat  string              `json:"output_format,omitempty" yaml:"output_format,omitempty"`
	LookupField   string              `json:"lookup_field,omitempty" yaml:"lookup_field,omitempty"`
	SlugField     string              `json:"slug_field,omitempty" yaml:"slug_field,omitempty"`
	CreateNested  bool                `json:"create_if_nested,omitempty" yaml:"create_if_nested,omitempty"`
	UpdateNested  bool                `json:"update_if_exists,omitempty" yaml:"update_if_exists,omitempty"`
	Nullable      bool                `json:"nullable,omitempty" yaml:"nullable,omitempty"`
	OutputProgram string              `json:"output_program,omitempty" yaml:"output_program,omitempty"` // expr source, for output_format=custom
	Write         RelationWriteConfig `json:"relation_write,omitempty" yaml:"relation_write,omitempty"`

	resolved *ResolvedWrite
	program  *vm.Program
}

// ResolvedWrite is the concrete write configuration, computed once at schema
// load and cached on the field.
type ResolvedWrite struct {
	Kind              string
	Order             string
	ChildLink         string
	ChildLinkNullable bool
	SyncMode          string
	Column            string    // fk column on the owner, for kind=fk and generic
	Relation          *Relation // schema relation backing this field, if any
}

// Resolved returns the cached write configuration. Only valid after the
// registry has validated the schema.
func (rf *RelatedField) Resolved() *ResolvedWrite {
	return rf.resolved
}

// Program returns the compiled custom output program, if configured.
func (rf *RelatedField) Program() *vm.Program {
	return rf.program
}

// AcceptsInput reports whether the given input format is enabled.
func (rf *RelatedField) AcceptsInput(format string) bool {
	for _, f := range rf.InputFormats {
		if f == format {
			return true
		}
	}
	return false
}

// ConfigError is a schema misconfiguration. It aborts startup; it is never
// surfaced as an HTTP error.
type ConfigError struct {
	Entity  string
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s.%s: %s", e.Entity, e.Field, e.Message)
}

var validInputs = map[string]bool{InputID: true, InputNested: true, InputSlug: true, InputObject: true}
var validOutputs = map[string]bool{OutputID: true, OutputStr: true, OutputSerialized: true, OutputCustom: true}
var validKinds = map[string]bool{KindAuto: true, KindGeneric: true, KindFK: true, KindM2M: true, KindReverseFK: true, KindReverseM2M: true}
var validOrders = map[string]bool{OrderAuto: true, OrderDependencyFirst: true, OrderRootFirst: true}
var validSyncModes = map[string]bool{SyncAppend: true, SyncReplace: true, SyncSync: true}

// validate checks the field configuration against the closed enumerations and
// cross-field requirements, filling in defaults as it goes.
func (rf *RelatedField) validate(owner *Entity, reg *Registry) error {
	fail := func(msg string, args ...any) error {
		return &ConfigError{Entity: owner.Name, Field: rf.Name, Message: fmt.Sprintf(msg, args...)}
	}

	if rf.Target == "" {
		return fail("missing target entity")
	}
	target := reg.GetEntity(rf.Target)
	if target == nil {
		return fail("unknown target entity %q", rf.Target)
	}

	if len(rf.InputFormats) == 0 {
		rf.InputFormats = []string{InputID}
	}
	for _, in := range rf.InputFormats {
		if !validInputs[in] {
			return fail("unknown input format %q", in)
		}
	}

	if rf.OutputFormat == "" {
		rf.OutputFormat = OutputID
	}
	if !validOutputs[rf.OutputFormat] {
		return fail("unknown output format %q", rf.OutputFormat)
	}
	if rf.OutputFormat == OutputCustom && rf.OutputProgram == "" {
		return fail("output_format=custom requires output_program")
	}
	if rf.OutputFormat == OutputSerialized && reg.GetEntity(rf.Target) == nil {
		return fail("output_format=serialized requires a resolvable target entity")
	}
	if rf.AcceptsInput(InputNested) && reg.GetEntity(rf.Target) == nil {
		return fail("nested input requires a resolvable target entity")
	}

	if rf.Write.Kind != "" && !validKinds[rf.Write.Kind] {
		return fail("unknown relation_kind %q", rf.Write.Kind)
	}
	if rf.Write.Order != "" && !validOrders[rf.Write.Order] {
		return fail("unknown write_order %q", rf.Write.Order)
	}
	if rf.Write.SyncMode != "" && !validSyncModes[rf.Write.SyncMode] {
		return fail("unknown sync_mode %q", rf.Write.SyncMode)
	}

	if rf.Column == "" {
		rf.Column = rf.Name + "_id"
	}
	if rf.LookupField == "" {
		rf.LookupField = target.PrimaryKey.Field
	}
	if rf.SlugField == "" {
		rf.SlugField = "slug"
	}

	if rf.OutputProgram != "" {
		prog, err := expr.Compile(rf.OutputProgram, expr.AllowUndefinedVariables())
		if err != nil {
			return fail("invalid output_program: %v", err)
		}
		rf.program = prog
	}

	return rf.resolve(owner, reg)
}

// resolve builds the descriptor from the schema relations, classifies it, and
// caches the concrete write configuration on the field.
func (rf *RelatedField) resolve(owner *Entity, reg *Registry) error {
	desc, rel := descriptorFor(owner, rf, reg)

	kind, childLink := Classify(desc, rf.Write.Kind)
	if rf.Write.ChildLink != "" {
		childLink = rf.Write.ChildLink
	}

	order := rf.Write.Order
	if order == "" || order == OrderAuto {
		order = DefaultWriteOrder(kind)
	}

	syncMode := rf.Write.SyncMode
	if syncMode == "" {
		syncMode = SyncAppend
	}

	if kind == KindReverseFK && childLink == "" {
		return &ConfigError{Entity: owner.Name, Field: rf.Name,
			Message: "reverse_fk requires child_link_field (not inferable from schema relations)"}
	}

	linkNullable := false
	if childLink != "" {
		if target := reg.GetEntity(rf.Target); target != nil {
			if f := target.GetField(childLink); f != nil {
				linkNullable = f.Nullable || !f.Required
			}
		}
	}

	rf.resolved = &ResolvedWrite{
		Kind:              kind,
		Order:             order,
		ChildLink:         childLink,
		ChildLinkNullable: linkNullable,
		SyncMode:          syncMode,
		Column:            rf.Column,
		Relation:          rel,
	}
	return nil
}

// descriptorFor derives the relationship descriptor for a related field from
// the schema relations. Returns a nil descriptor when nothing matches, which
// classifies as generic.
func descriptorFor(owner *Entity, rf *RelatedField, reg *Registry) (*Descriptor, *Relation) {
	// Declared from the owner's side.
	for _, rel := range reg.GetRelationsForSource(owner.Name) {
		if rel.Target != rf.Target {
			continue
		}
		switch {
		case rel.IsManyToMany():
			return &Descriptor{ManyToMany: true}, rel
		case rel.IsOneToMany():
			// The children carry the back-reference; from here this side
			// is the auto-created reverse of their fk.
			d := &Descriptor{OneToMany: true, AutoCreated: true, SourceFieldName: rel.TargetKey}
			if target := reg.GetEntity(rf.Target); target != nil {
				if f := target.GetField(rel.TargetKey); f != nil {
					d.Nullable = f.Nullable || !f.Required
				}
			}
			return d, rel
		case rel.IsOneToOne():
			return &Descriptor{OneToOne: true}, rel
		}
	}

	// Declared from the target's side.
	for _, rel := range reg.GetRelationsForSource(rf.Target) {
		if rel.Target != owner.Name {
			continue
		}
		switch {
		case rel.IsManyToMany():
			return &Descriptor{ManyToMany: true, AutoCreated: true}, rel
		case rel.IsOneToMany():
			// The owner is the child holding the fk column.
			d := &Descriptor{ManyToOne: true, SourceFieldName: rel.TargetKey}
			if f := owner.GetField(rel.TargetKey); f != nil {
				d.Nullable = f.Nullable || !f.Required
			}
			return d, rel
		case rel.IsOneToOne():
			return &Descriptor{OneToOne: true, AutoCreated: true}, rel
		}
	}

	// No schema relation, but the fk column exists on the owner.
	if owner.HasField(rf.Column) {
		return &Descriptor{ManyToOne: true}, nil
	}

	return nil, nil
}

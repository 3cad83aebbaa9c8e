package metadata

import (
	"os"
	"path/filepath"
	"testing"
)

const schemaYAML = `
entities:
  - name: author
    table: authors
    soft_delete: true
    primary_key: {field: id, type: uuid, generated: true}
    fields:
      - {name: id, type: uuid}
      - {name: name, type: string, required: true}
      - {name: slug, type: string, unique: true, nullable: true}
    slug: {field: slug, source: name}
    related:
      - name: books
        target: book
        input_formats: [id, nested]
        relation_write: {sync_mode: sync}
  - name: book
    table: books
    primary_key: {field: id, type: uuid, generated: true}
    fields:
      - {name: id, type: uuid}
      - {name: title, type: string, required: true}
      - {name: author_id, type: uuid, nullable: true}
relations:
  - name: author_books
    type: one_to_many
    source: author
    target: book
    source_key: id
    target_key: author_id
    on_delete: set_null
`

func TestLoadSchema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.yaml")
	if err := os.WriteFile(path, []byte(schemaYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	reg := NewRegistry()
	if err := LoadAll(path, reg); err != nil {
		t.Fatalf("load: %v", err)
	}

	author := reg.GetEntity("author")
	if author == nil {
		t.Fatal("author entity missing")
	}
	if author.Slug == nil || author.Slug.Source != "name" {
		t.Fatal("slug config not parsed")
	}
	rw := author.GetRelated("books").Resolved()
	if rw == nil || rw.Kind != KindReverseFK || rw.SyncMode != SyncSync {
		t.Fatalf("books resolved write = %+v", rw)
	}
	if rel := reg.GetRelation("author_books"); rel == nil || !rel.IsOneToMany() {
		t.Fatal("relation not registered")
	}
}

func TestParseSchema_Rejections(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"pk not declared", `
entities:
  - name: a
    primary_key: {field: id}
    fields: [{name: other, type: string}]
`},
		{"relation to unknown entity", `
entities:
  - name: a
    fields: [{name: id, type: uuid}]
relations:
  - {name: r, type: one_to_many, source: a, target: ghost}
`},
		{"m2m without join table", `
entities:
  - name: a
    fields: [{name: id, type: uuid}]
  - name: b
    fields: [{name: id, type: uuid}]
relations:
  - {name: r, type: many_to_many, source: a, target: b}
`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseSchema([]byte(tc.yaml)); err == nil {
				t.Fatal("expected schema rejection")
			}
		})
	}
}

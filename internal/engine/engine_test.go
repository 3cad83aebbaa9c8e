package engine

import (
	"context"
	"testing"

	"relay-backend/internal/config"
	"relay-backend/internal/metadata"
	"relay-backend/internal/store"
)

// newTestEnv builds a sqlite-backed store and a registry with a small
// author/book/tag/chapter schema covering fk, reverse fk and m2m fields.
func newTestEnv(t *testing.T) (*store.Store, *metadata.Registry) {
	t.Helper()

	s, err := store.New(context.Background(), config.DatabaseConfig{
		Driver: "sqlite",
		Path:   t.TempDir(),
		Name:   "test",
	})
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(s.Close)

	author := &metadata.Entity{
		Name:       "author",
		Table:      "authors",
		PrimaryKey: metadata.PrimaryKey{Field: "id", Type: "uuid", Generated: true},
		SoftDelete: true,
		Slug:       &metadata.SlugConfig{Field: "slug", Source: "name"},
		Fields: []metadata.Field{
			{Name: "id", Type: "uuid"},
			{Name: "name", Type: "string", Required: true},
			{Name: "slug", Type: "string", Unique: true},
			{Name: "created_at", Type: "timestamp", Auto: "create"},
			{Name: "updated_at", Type: "timestamp", Auto: "update"},
			{Name: "updated_by", Type: "string", Auto: "update"},
		},
		Related: []*metadata.RelatedField{
			{
				Name:         "books",
				Target:       "book",
				InputFormats: []string{metadata.InputID, metadata.InputNested},
				CreateNested: true,
				Write:        metadata.RelationWriteConfig{SyncMode: metadata.SyncSync},
			},
			// Same relation as books, but additive.
			{
				Name:         "more_books",
				Target:       "book",
				InputFormats: []string{metadata.InputID, metadata.InputNested},
				CreateNested: true,
				Write:        metadata.RelationWriteConfig{SyncMode: metadata.SyncAppend},
			},
		},
	}
	book := &metadata.Entity{
		Name:       "book",
		Table:      "books",
		PrimaryKey: metadata.PrimaryKey{Field: "id", Type: "uuid", Generated: true},
		Fields: []metadata.Field{
			{Name: "id", Type: "uuid"},
			{Name: "title", Type: "string", Required: true},
			{Name: "author_id", Type: "uuid", Nullable: true},
			{Name: "price", Type: "float"},
			{Name: "qty", Type: "int"},
			{Name: "updated_at", Type: "timestamp", Auto: "update"},
			{Name: "updated_by", Type: "string", Auto: "update"},
		},
		Related: []*metadata.RelatedField{
			{
				Name:         "author",
				Target:       "author",
				Column:       "author_id",
				InputFormats: []string{metadata.InputID, metadata.InputSlug, metadata.InputNested, metadata.InputObject},
				CreateNested: true,
				UpdateNested: true,
				Nullable:     true,
				OutputFormat: metadata.OutputStr,
			},
			{
				Name:         "tags",
				Target:       "tag",
				InputFormats: []string{metadata.InputID, metadata.InputSlug},
				Write:        metadata.RelationWriteConfig{SyncMode: metadata.SyncReplace},
				OutputFormat: metadata.OutputID,
			},
			{
				Name:         "chapters",
				Target:       "chapter",
				InputFormats: []string{metadata.InputID, metadata.InputNested},
				CreateNested: true,
				Write:        metadata.RelationWriteConfig{SyncMode: metadata.SyncSync},
			},
		},
	}
	tag := &metadata.Entity{
		Name:       "tag",
		Table:      "tags",
		PrimaryKey: metadata.PrimaryKey{Field: "id", Type: "uuid", Generated: true},
		Fields: []metadata.Field{
			{Name: "id", Type: "uuid"},
			{Name: "name", Type: "string", Required: true, Unique: true},
			{Name: "slug", Type: "string", Unique: true},
		},
	}
	chapter := &metadata.Entity{
		Name:       "chapter",
		Table:      "chapters",
		PrimaryKey: metadata.PrimaryKey{Field: "id", Type: "uuid", Generated: true},
		Fields: []metadata.Field{
			{Name: "id", Type: "uuid"},
			{Name: "title", Type: "string", Required: true},
			{Name: "book_id", Type: "uuid", Required: true},
		},
	}

	reg := metadata.NewRegistry()
	err = reg.Load(
		[]*metadata.Entity{author, book, tag, chapter},
		[]*metadata.Relation{
			{Name: "author_books", Type: "one_to_many", Source: "author", Target: "book", TargetKey: "author_id"},
			{Name: "book_chapters", Type: "one_to_many", Source: "book", Target: "chapter", TargetKey: "book_id"},
			{Name: "book_tags", Type: "many_to_many", Source: "book", Target: "tag",
				JoinTable: "book_tags", SourceJoinKey: "book_id", TargetJoinKey: "tag_id", OnDelete: "detach"},
		},
	)
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}

	if err := store.NewMigrator(s).MigrateAll(context.Background(), reg); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	return s, reg
}

// mustCreate saves a record through the write path and fails the test on error.
func mustCreate(t *testing.T, s *store.Store, reg *metadata.Registry, entityName string, body map[string]any) map[string]any {
	t.Helper()
	ctx := context.Background()
	entity := reg.GetEntity(entityName)
	plan, err := PlanWrite(ctx, s.DB, s.Dialect, reg, entity, body, nil)
	if err != nil {
		t.Fatalf("plan %s: %v", entityName, err)
	}
	record, err := ExecuteWritePlan(ctx, s, reg, plan)
	if err != nil {
		t.Fatalf("save %s: %v", entityName, err)
	}
	return record
}

func countRows(t *testing.T, s *store.Store, sqlStr string, args ...any) int64 {
	t.Helper()
	row, err := store.QueryRow(context.Background(), s.DB, sqlStr, args...)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	switch n := row["n"].(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		t.Fatalf("unexpected count type %T", row["n"])
		return 0
	}
}

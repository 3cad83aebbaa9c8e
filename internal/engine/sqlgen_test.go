package engine

import (
	"strings"
	"testing"

	"relay-backend/internal/store"
)

func dialects(t *testing.T) map[string]store.Dialect {
	t.Helper()
	return map[string]store.Dialect{
		"postgres": store.NewDialect("postgres"),
		"sqlite":   store.NewDialect("sqlite"),
	}
}

func TestBuildInsertSQL_DeterministicColumnOrder(t *testing.T) {
	for name, d := range dialects(t) {
		sqlStr, params := BuildInsertSQL(d, "books", "id", map[string]any{
			"title": "Dune",
			"qty":   5,
			"id":    "b1",
		})
		if !strings.Contains(sqlStr, "(id, qty, title)") {
			t.Errorf("%s: columns not sorted: %s", name, sqlStr)
		}
		if !strings.Contains(sqlStr, "RETURNING id") {
			t.Errorf("%s: missing RETURNING: %s", name, sqlStr)
		}
		if len(params) != 3 || params[0] != "b1" || params[1] != 5 || params[2] != "Dune" {
			t.Errorf("%s: params = %v", name, params)
		}
	}
}

func TestBuildUpdateSQL_PKBoundLast(t *testing.T) {
	d := store.NewDialect("postgres")
	sqlStr, params := BuildUpdateSQL(d, "books", "id", "b1", map[string]any{
		"qty":   7,
		"title": "Dune",
	})
	if sqlStr != "UPDATE books SET qty = $1, title = $2 WHERE id = $3" {
		t.Errorf("sql = %s", sqlStr)
	}
	if len(params) != 3 || params[2] != "b1" {
		t.Errorf("params = %v", params)
	}
}

func TestBuildSoftDeleteAndRestoreSQL(t *testing.T) {
	d := store.NewDialect("sqlite")

	sqlStr, params := BuildSoftDeleteSQL(d, "authors", "id", "a1")
	if !strings.Contains(sqlStr, "SET deleted_at = ") ||
		!strings.Contains(sqlStr, "AND deleted_at IS NULL") {
		t.Errorf("soft delete sql = %s", sqlStr)
	}
	if len(params) != 1 || params[0] != "a1" {
		t.Errorf("params = %v", params)
	}

	sqlStr, _ = BuildRestoreSQL(d, "authors", "id", "a1")
	if !strings.Contains(sqlStr, "SET deleted_at = NULL") ||
		!strings.Contains(sqlStr, "deleted_at IS NOT NULL") {
		t.Errorf("restore sql = %s", sqlStr)
	}
}

func TestBuildBulkInsertSQL_ColumnUnionWithNulls(t *testing.T) {
	d := store.NewDialect("postgres")
	sqlStr, params := BuildBulkInsertSQL(d, "books", "id", []map[string]any{
		{"id": "b1", "title": "A", "qty": 1},
		{"id": "b2", "title": "B"}, // no qty: bound as NULL
	})
	if !strings.Contains(sqlStr, "(id, qty, title)") {
		t.Errorf("columns not unioned/sorted: %s", sqlStr)
	}
	if !strings.Contains(sqlStr, "($1, $2, $3), ($4, $5, $6)") {
		t.Errorf("row placeholders wrong: %s", sqlStr)
	}
	if len(params) != 6 {
		t.Fatalf("params = %v", params)
	}
	if params[4] != nil {
		t.Errorf("missing qty bound as %v, want nil", params[4])
	}
}

func TestBuildBulkUpdateSQL_CasePerColumn(t *testing.T) {
	d := store.NewDialect("postgres")
	sqlStr, params := BuildBulkUpdateSQL(d, "books", "id", map[any]map[string]any{
		"b1": {"qty": 1, "title": "A"},
		"b2": {"qty": 2}, // title untouched for b2
	})

	if !strings.Contains(sqlStr, "qty = CASE id") || !strings.Contains(sqlStr, "title = CASE id") {
		t.Errorf("missing CASE sets: %s", sqlStr)
	}
	// Untouched columns fall back to their current value.
	if !strings.Contains(sqlStr, "ELSE qty END") || !strings.Contains(sqlStr, "ELSE title END") {
		t.Errorf("missing ELSE fallback: %s", sqlStr)
	}
	if !strings.Contains(sqlStr, "WHERE id IN (") {
		t.Errorf("missing id guard: %s", sqlStr)
	}
	// qty: 2 WHEN pairs; title: 1 WHEN pair; WHERE: 2 ids.
	if len(params) != 8 {
		t.Errorf("params = %v, want 8", params)
	}

	// title CASE must only carry b1.
	titleSet := sqlStr[strings.Index(sqlStr, "title = CASE id"):]
	if strings.Count(titleSet[:strings.Index(titleSet, "END")], "WHEN") != 1 {
		t.Errorf("title CASE has wrong WHEN count: %s", titleSet)
	}
}

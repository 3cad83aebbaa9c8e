package engine

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"relay-backend/internal/metadata"
)

// parsePlan runs ParseQueryParams against a real request so c.Queries()
// behaves exactly as it does in handlers.
func parsePlan(t *testing.T, entity *metadata.Entity, target string) (*QueryPlan, error) {
	t.Helper()
	var plan *QueryPlan
	var parseErr error

	app := fiber.New()
	app.Get("/parse", func(c *fiber.Ctx) error {
		plan, parseErr = ParseQueryParams(c, entity)
		return nil
	})
	resp, err := app.Test(httptest.NewRequest("GET", target, nil))
	if err != nil {
		t.Fatalf("parse request: %v", err)
	}
	resp.Body.Close()
	return plan, parseErr
}

func TestParseQueryParams_FiltersAndOps(t *testing.T) {
	_, reg := newTestEnv(t)
	book := reg.GetEntity("book")

	plan, err := parsePlan(t, book, "/parse?filter[title]=Dune&filter[qty.gte]=3")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(plan.Filters) != 2 {
		t.Fatalf("filters = %d, want 2", len(plan.Filters))
	}

	byField := make(map[string]WhereClause)
	for _, f := range plan.Filters {
		byField[f.Field] = f
	}
	if f := byField["title"]; f.Operator != "eq" || f.Value != "Dune" {
		t.Errorf("title filter = %+v", f)
	}
	if f := byField["qty"]; f.Operator != "gte" || f.Value != 3 {
		t.Errorf("qty filter = %+v", f)
	}
}

func TestParseQueryParams_RejectsUnknownFieldAndOp(t *testing.T) {
	_, reg := newTestEnv(t)
	book := reg.GetEntity("book")

	if _, err := parsePlan(t, book, "/parse?filter[nope]=1"); err == nil {
		t.Error("unknown field accepted")
	}
	if _, err := parsePlan(t, book, "/parse?filter[title.regex]=x"); err == nil {
		t.Error("unknown operator accepted")
	}
	if _, err := parsePlan(t, book, "/parse?sort=nope"); err == nil {
		t.Error("unknown sort field accepted")
	}
	if _, err := parsePlan(t, book, "/parse?include=nope"); err == nil {
		t.Error("unknown include accepted")
	}
}

func TestParseQueryParams_SortPaginationIncludes(t *testing.T) {
	_, reg := newTestEnv(t)
	book := reg.GetEntity("book")

	plan, err := parsePlan(t, book, "/parse?sort=-qty,title&page=3&per_page=500&include=author,tags")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(plan.Sorts) != 2 || plan.Sorts[0].Field != "qty" || plan.Sorts[0].Dir != "DESC" ||
		plan.Sorts[1].Field != "title" || plan.Sorts[1].Dir != "ASC" {
		t.Errorf("sorts = %+v", plan.Sorts)
	}
	if plan.Page != 3 {
		t.Errorf("page = %d, want 3", plan.Page)
	}
	if plan.PerPage != 100 {
		t.Errorf("per_page = %d, want capped to 100", plan.PerPage)
	}
	if len(plan.Includes) != 2 {
		t.Errorf("includes = %v", plan.Includes)
	}
}

func TestParseQueryParams_IncludeDeleted(t *testing.T) {
	_, reg := newTestEnv(t)

	plan, err := parsePlan(t, reg.GetEntity("author"), "/parse?include_deleted=true")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !plan.IncludeDeleted {
		t.Error("include_deleted not honored for soft delete entity")
	}

	// Entities without soft delete ignore the flag.
	plan, err = parsePlan(t, reg.GetEntity("book"), "/parse?include_deleted=true")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if plan.IncludeDeleted {
		t.Error("include_deleted honored for hard delete entity")
	}
}

func TestBuildSelectSQL_ShapesAndParams(t *testing.T) {
	s, reg := newTestEnv(t)
	author := reg.GetEntity("author")

	plan := &QueryPlan{
		Entity:  author,
		Page:    2,
		PerPage: 10,
		Filters: []WhereClause{
			{Field: "name", Operator: "like", Value: "%le guin%"},
			{Field: "slug", Operator: "in", Value: []any{"a", "b"}},
			{Field: "updated_by", Operator: "isnull", Value: true},
		},
		Sorts: []OrderClause{{Field: "name", Dir: "DESC"}},
	}

	q := BuildSelectSQL(s.Dialect, plan)
	for _, frag := range []string{
		"SELECT * FROM authors",
		"deleted_at IS NULL",
		"name LIKE",
		"slug IN (",
		"updated_by IS NULL",
		"ORDER BY name DESC",
		"LIMIT",
		"OFFSET",
	} {
		if !strings.Contains(q.SQL, frag) {
			t.Errorf("select missing %q:\n%s", frag, q.SQL)
		}
	}
	// like value, two in values, limit, offset. isnull binds nothing.
	if len(q.Params) != 5 {
		t.Errorf("params = %v, want 5", q.Params)
	}
	if q.Params[len(q.Params)-1] != 10 {
		t.Errorf("offset param = %v, want 10", q.Params[len(q.Params)-1])
	}

	count := BuildCountSQL(s.Dialect, plan)
	if !strings.Contains(count.SQL, "COUNT(*) AS count FROM authors") {
		t.Errorf("count sql = %s", count.SQL)
	}
	if strings.Contains(count.SQL, "LIMIT") {
		t.Errorf("count sql has LIMIT: %s", count.SQL)
	}
	if len(count.Params) != 3 {
		t.Errorf("count params = %v, want 3", count.Params)
	}
}

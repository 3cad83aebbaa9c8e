package engine

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"relay-backend/internal/config"
	"relay-backend/internal/metadata"
	"relay-backend/internal/store"
)

func newTestApp(t *testing.T) (*fiber.App, *store.Store, *metadata.Registry) {
	t.Helper()
	s, reg := newTestEnv(t)

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	h := NewHandler(s, reg, config.BulkConfig{MaxBatch: 100})
	RegisterDynamicRoutes(app, h)
	return app, s, reg
}

func doJSON(t *testing.T, app *fiber.App, method, target string, body any) (*http.Response, Envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}

	var env Envelope
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("%s %s: bad envelope %q: %v", method, target, raw, err)
		}
	}
	return resp, env
}

func dataMap(t *testing.T, env Envelope) map[string]any {
	t.Helper()
	m, ok := env.Data.(map[string]any)
	if !ok {
		t.Fatalf("data = %T, want object", env.Data)
	}
	return m
}

func TestParseIncludes_TrimsAndDropsUnknown(t *testing.T) {
	_, reg := newTestEnv(t)
	entity := reg.GetEntity("book")

	var got []string
	app := fiber.New()
	app.Get("/includes", func(c *fiber.Ctx) error {
		got = parseIncludes(c, entity)
		return c.SendStatus(204)
	})

	req := httptest.NewRequest("GET", "/includes?include=%20author%20,%20tags%20,bogus,", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()

	if len(got) != 2 || got[0] != "author" || got[1] != "tags" {
		t.Errorf("includes = %v, want [author tags]", got)
	}
}

func TestAPI_CreateAndGetEnvelope(t *testing.T) {
	app, _, _ := newTestApp(t)

	resp, env := doJSON(t, app, "POST", "/api/author", map[string]any{"name": "Ursula Le Guin"})
	if resp.StatusCode != 201 {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	if !env.Success || env.Timestamp.IsZero() {
		t.Errorf("envelope = %+v", env)
	}
	created := dataMap(t, env)
	if created["slug"] != "ursula-le-guin" {
		t.Errorf("slug = %v", created["slug"])
	}

	// Fetch by slug, not id.
	resp, env = doJSON(t, app, "GET", "/api/author/ursula-le-guin", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if dataMap(t, env)["id"] != created["id"] {
		t.Errorf("slug fetch returned wrong record")
	}
}

func TestAPI_ListPaginationMeta(t *testing.T) {
	app, _, _ := newTestApp(t)

	for _, name := range []string{"One", "Two", "Three"} {
		doJSON(t, app, "POST", "/api/author", map[string]any{"name": name})
	}

	resp, env := doJSON(t, app, "GET", "/api/author?per_page=2&page=1&sort=name", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if env.Meta == nil || env.Meta.Total != 3 || env.Meta.TotalPages != 2 || env.Meta.PerPage != 2 {
		t.Errorf("meta = %+v", env.Meta)
	}
	rows, ok := env.Data.([]any)
	if !ok || len(rows) != 2 {
		t.Errorf("data = %v, want 2 rows", env.Data)
	}
}

func TestAPI_ValidationFailureEnvelope(t *testing.T) {
	app, _, _ := newTestApp(t)

	resp, env := doJSON(t, app, "POST", "/api/author", map[string]any{"slug": "no-name"})
	if resp.StatusCode != 422 {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	if env.Success {
		t.Error("success true on validation failure")
	}
	if dataMap(t, env)["code"] != "VALIDATION_FAILED" {
		t.Errorf("code = %v", dataMap(t, env)["code"])
	}
	if len(env.Errors) == 0 {
		t.Error("no error details")
	}
}

func TestAPI_UnknownEntity404(t *testing.T) {
	app, _, _ := newTestApp(t)

	resp, env := doJSON(t, app, "GET", "/api/spaceship", nil)
	if resp.StatusCode != 404 {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if env.Success {
		t.Error("success true on unknown entity")
	}
}

func TestAPI_DeleteAndRestore(t *testing.T) {
	app, s, _ := newTestApp(t)

	_, env := doJSON(t, app, "POST", "/api/author", map[string]any{"name": "Ursula Le Guin"})
	id := dataMap(t, env)["id"].(string)

	resp, _ := doJSON(t, app, "DELETE", "/api/author/"+id, nil)
	if resp.StatusCode != 200 {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	// Tombstoned, so a plain fetch 404s.
	resp, _ = doJSON(t, app, "GET", "/api/author/"+id, nil)
	if resp.StatusCode != 404 {
		t.Errorf("fetch after delete = %d, want 404", resp.StatusCode)
	}
	// But survives in the table.
	if n := countRows(t, s, "SELECT COUNT(*) AS n FROM authors"); n != 1 {
		t.Errorf("rows = %d, want 1", n)
	}

	resp, env = doJSON(t, app, "POST", "/api/author/"+id+"/restore", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("restore status = %d", resp.StatusCode)
	}
	if dataMap(t, env)["deleted_at"] != nil {
		t.Errorf("deleted_at = %v after restore", dataMap(t, env)["deleted_at"])
	}

	// Restoring a live record is a client error.
	resp, _ = doJSON(t, app, "POST", "/api/author/"+id+"/restore", nil)
	if resp.StatusCode != 400 {
		t.Errorf("second restore = %d, want 400", resp.StatusCode)
	}
}

func TestAPI_HardDelete(t *testing.T) {
	app, s, _ := newTestApp(t)

	_, env := doJSON(t, app, "POST", "/api/author", map[string]any{"name": "Gone"})
	id := dataMap(t, env)["id"].(string)

	resp, _ := doJSON(t, app, "DELETE", "/api/author/"+id+"?hard=true", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if n := countRows(t, s, "SELECT COUNT(*) AS n FROM authors"); n != 0 {
		t.Errorf("rows = %d, want 0", n)
	}
}

func TestAPI_UpdateWithNestedRelation(t *testing.T) {
	app, _, _ := newTestApp(t)

	_, env := doJSON(t, app, "POST", "/api/book", map[string]any{"title": "The Dispossessed"})
	id := dataMap(t, env)["id"].(string)

	resp, env := doJSON(t, app, "PATCH", "/api/book/"+id, map[string]any{
		"author": map[string]any{"name": "Ursula Le Guin"},
	})
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if dataMap(t, env)["author_id"] == nil {
		t.Error("author_id not set from nested update")
	}

	// include renders the author through its output format.
	_, env = doJSON(t, app, "GET", "/api/book/"+id+"?include=author", nil)
	if dataMap(t, env)["author"] != "Ursula Le Guin" {
		t.Errorf("included author = %v", dataMap(t, env)["author"])
	}
}

func TestAPI_BulkEndpoints(t *testing.T) {
	app, _, _ := newTestApp(t)

	resp, env := doJSON(t, app, "POST", "/api/book/bulk", []map[string]any{
		{"title": "A"}, {"title": "B"},
	})
	if resp.StatusCode != 201 {
		t.Fatalf("bulk create status = %d", resp.StatusCode)
	}
	created, _ := dataMap(t, env)["created"].([]any)
	if len(created) != 2 {
		t.Fatalf("created = %v", dataMap(t, env)["created"])
	}
	idA := created[0].(map[string]any)["id"]
	idB := created[1].(map[string]any)["id"]

	resp, _ = doJSON(t, app, "PATCH", "/api/book/bulk", []map[string]any{
		{"id": idA, "qty": 1}, {"id": idB, "qty": 2},
	})
	if resp.StatusCode != 200 {
		t.Fatalf("bulk update status = %d", resp.StatusCode)
	}

	resp, env = doJSON(t, app, "POST", "/api/book/bulk-delete?hard=true", map[string]any{
		"ids": []any{idA, idB, "c0ffee00-0000-0000-0000-000000000000"},
	})
	if resp.StatusCode != 200 {
		t.Fatalf("bulk delete status = %d", resp.StatusCode)
	}
	data := dataMap(t, env)
	if data["deleted"] != float64(2) {
		t.Errorf("deleted = %v, want 2", data["deleted"])
	}
	missing, _ := data["missing"].([]any)
	if len(missing) != 1 {
		t.Errorf("missing = %v", data["missing"])
	}
}

func TestAPI_ExportCSV(t *testing.T) {
	app, _, _ := newTestApp(t)

	doJSON(t, app, "POST", "/api/tag", map[string]any{"name": "fantasy", "slug": "fantasy"})
	doJSON(t, app, "POST", "/api/tag", map[string]any{"name": "sci-fi", "slug": "sci-fi"})

	req := httptest.NewRequest("GET", "/api/tag/export?sort=name", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("content type = %s", ct)
	}

	raw, _ := io.ReadAll(resp.Body)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 3 {
		t.Fatalf("csv lines = %d: %q", len(lines), raw)
	}
	if !strings.Contains(lines[0], "name") {
		t.Errorf("header = %s", lines[0])
	}
	if !strings.Contains(lines[1], "fantasy") || !strings.Contains(lines[2], "sci-fi") {
		t.Errorf("rows = %v", lines[1:])
	}
}

func TestAPI_ImportCSV(t *testing.T) {
	app, s, _ := newTestApp(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "tags.csv")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	io.WriteString(part, "name,slug\nfantasy,fantasy\nsci-fi,sci-fi\n")
	mw.Close()

	req := httptest.NewRequest("POST", "/api/tag/import", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d: %s", resp.StatusCode, raw)
	}
	if n := countRows(t, s, "SELECT COUNT(*) AS n FROM tags"); n != 2 {
		t.Errorf("tags = %d, want 2", n)
	}
}

func TestAPI_InternalErrorHidesCause(t *testing.T) {
	s, reg := newTestEnv(t)
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	h := NewHandler(s, reg, config.BulkConfig{MaxBatch: 100})
	RegisterDynamicRoutes(app, h)

	// Break the store so List fails with a raw database error.
	s.Close()

	resp, env := doJSON(t, app, "GET", "/api/author", nil)
	if resp.StatusCode != 500 {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	data := dataMap(t, env)
	if data["code"] != "INTERNAL" {
		t.Errorf("code = %v", data["code"])
	}
	cid, _ := data["correlation_id"].(string)
	if cid == "" {
		t.Error("missing correlation_id")
	}
	// The body must not leak the underlying error text.
	if strings.Contains(env.Message, "sql") || strings.Contains(env.Message, "database") {
		t.Errorf("message leaks cause: %s", env.Message)
	}
}

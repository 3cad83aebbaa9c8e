package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"relay-backend/internal/config"
	"relay-backend/internal/metadata"
	"relay-backend/internal/store"
)

type Handler struct {
	store    *store.Store
	registry *metadata.Registry
	bulkOpts BulkOptions
}

func NewHandler(s *store.Store, reg *metadata.Registry, cfg config.BulkConfig) *Handler {
	return &Handler{
		store:    s,
		registry: reg,
		bulkOpts: BulkOptions{
			MaxBatch:              cfg.MaxBatch,
			FallbackOnCreateError: cfg.FallbackOnCreateError,
			SaveLoop:              cfg.SaveLoop,
		},
	}
}

// List handles GET /api/:entity
func (h *Handler) List(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c, actionRead)
	if err != nil {
		return err
	}

	plan, err := ParseQueryParams(c, entity)
	if err != nil {
		return err
	}

	qr := BuildSelectSQL(h.store.Dialect, plan)
	rows, err := store.QueryRows(c.Context(), h.store.DB, qr.SQL, qr.Params...)
	if err != nil {
		return fmt.Errorf("list %s: %w", entity.Name, err)
	}
	if h.store.Dialect.NeedsBoolFix() {
		store.NormalizeBooleans(rows, boolFieldNames(entity))
	}

	cr := BuildCountSQL(h.store.Dialect, plan)
	countRow, err := store.QueryRow(c.Context(), h.store.DB, cr.SQL, cr.Params...)
	if err != nil {
		return fmt.Errorf("count %s: %w", entity.Name, err)
	}
	total := asInt64(countRow["count"])

	if len(plan.Includes) > 0 {
		if err := RenderIncludes(c.Context(), h.store.DB, h.store.Dialect, h.registry, entity, rows, plan.Includes); err != nil {
			return fmt.Errorf("render includes: %w", err)
		}
	}

	if rows == nil {
		rows = []map[string]any{}
	}

	totalPages := total / int64(plan.PerPage)
	if total%int64(plan.PerPage) != 0 {
		totalPages++
	}
	return OKPaged(c, fmt.Sprintf("%s list", entity.Name), rows, &PageMeta{
		Page:       plan.Page,
		PerPage:    plan.PerPage,
		Total:      total,
		TotalPages: totalPages,
	})
}

// GetByID handles GET /api/:entity/:id (id or slug)
func (h *Handler) GetByID(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c, actionRead)
	if err != nil {
		return err
	}

	id := c.Params("id")
	includeDeleted := c.Query("include_deleted") == "true"
	row, err := FetchRecord(c.Context(), h.store.DB, h.store.Dialect, entity, id, includeDeleted)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError(entity.Name, id)
		}
		return fmt.Errorf("get %s/%s: %w", entity.Name, id, err)
	}
	if h.store.Dialect.NeedsBoolFix() {
		store.NormalizeBooleans([]map[string]any{row}, boolFieldNames(entity))
	}

	includes := parseIncludes(c, entity)
	if len(includes) > 0 {
		rows := []map[string]any{row}
		if err := RenderIncludes(c.Context(), h.store.DB, h.store.Dialect, h.registry, entity, rows, includes); err != nil {
			return fmt.Errorf("render includes: %w", err)
		}
		row = rows[0]
	}

	return OK(c, 200, entity.Name, row)
}

// Create handles POST /api/:entity
func (h *Handler) Create(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c, actionWrite)
	if err != nil {
		return err
	}

	body, appErr := parseBody(c)
	if appErr != nil {
		return appErr
	}

	plan, err := PlanWrite(c.Context(), h.store.DB, h.store.Dialect, h.registry, entity, body, nil)
	if err != nil {
		return err
	}

	record, err := ExecuteWritePlan(c.Context(), h.store, h.registry, plan)
	if err != nil {
		return err
	}

	return OK(c, 201, fmt.Sprintf("%s created", entity.Name), record)
}

// Update handles PUT /api/:entity/:id
func (h *Handler) Update(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c, actionWrite)
	if err != nil {
		return err
	}

	id := c.Params("id")
	existing, err := FetchRecord(c.Context(), h.store.DB, h.store.Dialect, entity, id, false)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError(entity.Name, id)
		}
		return fmt.Errorf("fetch %s/%s: %w", entity.Name, id, err)
	}

	body, appErr := parseBody(c)
	if appErr != nil {
		return appErr
	}

	plan, err := PlanWrite(c.Context(), h.store.DB, h.store.Dialect, h.registry, entity, body, existing)
	if err != nil {
		return err
	}

	record, err := ExecuteWritePlan(c.Context(), h.store, h.registry, plan)
	if err != nil {
		return err
	}

	return OK(c, 200, fmt.Sprintf("%s updated", entity.Name), record)
}

// Delete handles DELETE /api/:entity/:id. Soft-delete entities get a
// tombstone unless ?hard=true.
func (h *Handler) Delete(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c, actionWrite)
	if err != nil {
		return err
	}

	id := c.Params("id")
	hard := c.Query("hard") == "true"

	existing, err := FetchRecord(c.Context(), h.store.DB, h.store.Dialect, entity, id, hard)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError(entity.Name, id)
		}
		return fmt.Errorf("fetch %s/%s: %w", entity.Name, id, err)
	}
	pkVal := existing[entity.PrimaryKey.Field]

	tx, err := h.store.BeginTx(c.Context())
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := HandleCascadeDelete(c.Context(), tx, h.store.Dialect, h.registry, entity, pkVal); err != nil {
		return err
	}

	var sqlStr string
	var params []any
	if entity.SoftDelete && !hard {
		sqlStr, params = BuildSoftDeleteSQL(h.store.Dialect, entity.Table, entity.PrimaryKey.Field, pkVal)
	} else {
		sqlStr, params = BuildHardDeleteSQL(h.store.Dialect, entity.Table, entity.PrimaryKey.Field, pkVal)
	}

	affected, err := store.Exec(c.Context(), tx, sqlStr, params...)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", entity.Name, id, err)
	}
	if affected == 0 {
		return NotFoundError(entity.Name, id)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	FireHooks(c.Context(), EventAfterDelete, entity.Name, nil, existing)
	return OK(c, 200, fmt.Sprintf("%s deleted", entity.Name), fiber.Map{"id": pkVal})
}

// Restore handles POST /api/:entity/:id/restore for soft-deleted records.
func (h *Handler) Restore(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c, actionWrite)
	if err != nil {
		return err
	}
	if !entity.SoftDelete {
		return NewAppError("INVALID_PAYLOAD", 400, fmt.Sprintf("%s does not support restore", entity.Name))
	}

	id := c.Params("id")
	existing, err := FetchRecord(c.Context(), h.store.DB, h.store.Dialect, entity, id, true)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError(entity.Name, id)
		}
		return err
	}
	pkVal := existing[entity.PrimaryKey.Field]

	sqlStr, params := BuildRestoreSQL(h.store.Dialect, entity.Table, entity.PrimaryKey.Field, pkVal)
	affected, err := store.Exec(c.Context(), h.store.DB, sqlStr, params...)
	if err != nil {
		return err
	}
	if affected == 0 {
		return NewAppError("INVALID_PAYLOAD", 400, fmt.Sprintf("%s %s is not deleted", entity.Name, id))
	}

	record, err := fetchByPK(c.Context(), h.store.DB, h.store.Dialect, entity, pkVal)
	if err != nil {
		return err
	}
	return OK(c, 200, fmt.Sprintf("%s restored", entity.Name), record)
}

// Export handles GET /api/:entity/export, streaming the filtered set as CSV.
func (h *Handler) Export(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c, actionRead)
	if err != nil {
		return err
	}

	plan, err := ParseQueryParams(c, entity)
	if err != nil {
		return err
	}

	c.Set(fiber.HeaderContentType, "text/csv")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s.csv"`, entity.Table))
	var buf []byte
	w := &sliceWriter{buf: &buf}
	if err := ExportCSV(c.Context(), h.store, plan, w); err != nil {
		return err
	}
	return c.Send(buf)
}

type sliceWriter struct{ buf *[]byte }

func (w *sliceWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}

// Import handles POST /api/:entity/import with a multipart CSV file and an
// optional "spec" JSON part.
func (h *Handler) Import(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c, actionWrite)
	if err != nil {
		return err
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return NewAppError("INVALID_PAYLOAD", 400, "Missing file part")
	}
	file, err := fileHeader.Open()
	if err != nil {
		return err
	}
	defer file.Close()

	var spec ImportSpec
	if raw := c.FormValue("spec"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &spec); err != nil {
			return NewAppError("INVALID_PAYLOAD", 400, "Invalid spec JSON")
		}
	}

	result, err := ImportCSV(c.Context(), h.store, h.registry, entity, file, &spec)
	if err != nil {
		return err
	}
	return OK(c, 200, fmt.Sprintf("%s import finished", entity.Name), result)
}

func (h *Handler) resolveEntity(c *fiber.Ctx, action string) (*metadata.Entity, error) {
	name := c.Params("entity")
	entity := h.registry.GetEntity(name)
	if entity == nil {
		return nil, UnknownEntityError(name)
	}
	if err := CheckAccess(requestUser(c), entity, action); err != nil {
		return nil, err
	}
	return entity, nil
}

func parseBody(c *fiber.Ctx) (map[string]any, *AppError) {
	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return nil, NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}
	if body == nil {
		return nil, NewAppError("INVALID_PAYLOAD", 400, "Empty body")
	}
	return body, nil
}

func parseIncludes(c *fiber.Ctx, entity *metadata.Entity) []string {
	inc := c.Query("include")
	if inc == "" {
		return nil
	}
	var includes []string
	for _, name := range strings.Split(inc, ",") {
		name = strings.TrimSpace(name)
		if name != "" && entity.GetRelated(name) != nil {
			includes = append(includes, name)
		}
	}
	return includes
}

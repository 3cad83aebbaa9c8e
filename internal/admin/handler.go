// Package admin exposes read-only schema introspection and an explicit
// schema reload endpoint, both admin-gated.
package admin

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"relay-backend/internal/engine"
	"relay-backend/internal/metadata"
	"relay-backend/internal/store"
)

type Handler struct {
	registry   *metadata.Registry
	migrator   *store.Migrator
	schemaPath string
}

func NewHandler(reg *metadata.Registry, mig *store.Migrator, schemaPath string) *Handler {
	return &Handler{registry: reg, migrator: mig, schemaPath: schemaPath}
}

func RegisterAdminRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	admin := app.Group("/api/_admin")
	for _, mw := range middleware {
		admin.Use(mw)
	}

	admin.Get("/entities", h.ListEntities)
	admin.Get("/entities/:name", h.GetEntity)
	admin.Get("/relations", h.ListRelations)
	admin.Post("/reload", h.Reload)
}

// ListEntities handles GET /api/_admin/entities
func (h *Handler) ListEntities(c *fiber.Ctx) error {
	entities := h.registry.AllEntities()
	summaries := make([]fiber.Map, 0, len(entities))
	for _, e := range entities {
		summaries = append(summaries, fiber.Map{
			"name":        e.Name,
			"table":       e.Table,
			"soft_delete": e.SoftDelete,
			"fields":      len(e.Fields),
			"related":     len(e.Related),
		})
	}
	return engine.OK(c, 200, "entities", summaries)
}

// GetEntity handles GET /api/_admin/entities/:name
func (h *Handler) GetEntity(c *fiber.Ctx) error {
	name := c.Params("name")
	entity := h.registry.GetEntity(name)
	if entity == nil {
		return engine.UnknownEntityError(name)
	}
	return engine.OK(c, 200, "entity", entity)
}

// ListRelations handles GET /api/_admin/relations
func (h *Handler) ListRelations(c *fiber.Ctx) error {
	return engine.OK(c, 200, "relations", h.registry.AllRelations())
}

// Reload handles POST /api/_admin/reload: re-read the schema file, swap it
// into the registry and migrate new tables. A bad schema file leaves the
// running registry untouched.
func (h *Handler) Reload(c *fiber.Ctx) error {
	schema, err := metadata.LoadSchema(h.schemaPath)
	if err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, fmt.Sprintf("schema rejected: %v", err))
	}

	// Validate against a scratch registry first so a rejected schema never
	// leaves the live one half-loaded.
	scratch := metadata.NewRegistry()
	if err := scratch.Load(schema.Entities, schema.Relations); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, fmt.Sprintf("schema rejected: %v", err))
	}

	if err := metadata.LoadAll(h.schemaPath, h.registry); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, fmt.Sprintf("schema rejected: %v", err))
	}
	if err := h.migrator.MigrateAll(c.Context(), h.registry); err != nil {
		return fmt.Errorf("migrate after reload: %w", err)
	}

	return engine.OK(c, 200, "schema reloaded", fiber.Map{"entities": len(schema.Entities)})
}

package engine

import "github.com/gofiber/fiber/v2"

func RegisterDynamicRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	api := app.Group("/api")
	for _, mw := range middleware {
		api.Use(mw)
	}

	api.Get("/:entity", h.List)
	api.Post("/:entity", h.Create)

	// Static segments before /:entity/:id so "export" is never read as an id.
	api.Get("/:entity/export", h.Export)
	api.Post("/:entity/import", h.Import)
	api.Post("/:entity/bulk", h.BulkCreateHandler)
	api.Patch("/:entity/bulk", h.BulkUpdateHandler)
	api.Post("/:entity/bulk-delete", h.BulkDeleteHandler)

	api.Get("/:entity/:id", h.GetByID)
	api.Put("/:entity/:id", h.Update)
	api.Patch("/:entity/:id", h.Update)
	api.Delete("/:entity/:id", h.Delete)
	api.Post("/:entity/:id/restore", h.Restore)
}

package engine

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// BulkCreateHandler handles POST /api/:entity/bulk
func (h *Handler) BulkCreateHandler(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c, actionWrite)
	if err != nil {
		return err
	}

	rows, appErr := parseBulkRows(c)
	if appErr != nil {
		return appErr
	}

	result, err := BulkCreate(c.Context(), h.store, h.registry, entity, rows, h.bulkOpts)
	if err != nil {
		return err
	}

	status := 201
	if len(result.Failed) > 0 {
		status = 207
	}
	return OK(c, status, fmt.Sprintf("%d %s records created", len(result.Created), entity.Name), result)
}

// BulkUpdateHandler handles PATCH /api/:entity/bulk
func (h *Handler) BulkUpdateHandler(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c, actionWrite)
	if err != nil {
		return err
	}

	rows, appErr := parseBulkRows(c)
	if appErr != nil {
		return appErr
	}

	result, err := BulkUpdate(c.Context(), h.store, h.registry, entity, rows, h.bulkOpts)
	if err != nil {
		return err
	}
	return OK(c, 200, fmt.Sprintf("%d %s records updated", len(result.Updated), entity.Name), result)
}

// BulkDeleteHandler handles POST /api/:entity/bulk-delete with {"ids": [...]}.
// ?hard=true skips the soft-delete tombstone.
func (h *Handler) BulkDeleteHandler(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c, actionWrite)
	if err != nil {
		return err
	}

	var body struct {
		IDs []any `json:"ids"`
	}
	if err := c.BodyParser(&body); err != nil {
		return NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}

	hard := c.Query("hard") == "true"
	result, err := BulkDelete(c.Context(), h.store, h.registry, entity, body.IDs, hard, h.bulkOpts)
	if err != nil {
		return err
	}
	return OK(c, 200, fmt.Sprintf("%d %s records deleted", result.Deleted, entity.Name), result)
}

func parseBulkRows(c *fiber.Ctx) ([]map[string]any, *AppError) {
	var rows []map[string]any
	if err := c.BodyParser(&rows); err != nil {
		return nil, NewAppError("INVALID_PAYLOAD", 400, "Body must be a JSON array of records")
	}
	return rows, nil
}

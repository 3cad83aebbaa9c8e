package engine

import (
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Envelope is the uniform response shape for every API endpoint.
type Envelope struct {
	Success   bool          `json:"success"`
	Timestamp time.Time     `json:"timestamp"`
	Message   string        `json:"message,omitempty"`
	Data      any           `json:"data,omitempty"`
	Errors    []ErrorDetail `json:"errors,omitempty"`
	Meta      *PageMeta     `json:"meta,omitempty"`
}

type PageMeta struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"total_pages"`
}

func OK(c *fiber.Ctx, status int, message string, data any) error {
	return c.Status(status).JSON(Envelope{
		Success:   true,
		Timestamp: time.Now().UTC(),
		Message:   message,
		Data:      data,
	})
}

func OKPaged(c *fiber.Ctx, message string, data any, meta *PageMeta) error {
	return c.JSON(Envelope{
		Success:   true,
		Timestamp: time.Now().UTC(),
		Message:   message,
		Data:      data,
		Meta:      meta,
	})
}

func Fail(c *fiber.Ctx, appErr *AppError) error {
	return c.Status(appErr.Status).JSON(Envelope{
		Success:   false,
		Timestamp: time.Now().UTC(),
		Message:   appErr.Message,
		Errors:    appErr.Details,
		Data:      fiber.Map{"code": appErr.Code},
	})
}

// ErrorHandler is the fiber error handler. AppErrors pass through with
// their own status and details. Anything else becomes a 500 whose body
// carries only an opaque correlation id; the cause goes to the server log.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return Fail(c, appErr)
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) && fiberErr.Code < 500 {
		return Fail(c, NewAppError("REQUEST_FAILED", fiberErr.Code, fiberErr.Message))
	}

	correlationID := uuid.New().String()
	log.Printf("ERROR [%s] %s %s: %v", correlationID, c.Method(), c.Path(), err)
	return c.Status(500).JSON(Envelope{
		Success:   false,
		Timestamp: time.Now().UTC(),
		Message:   "Internal server error",
		Data:      fiber.Map{"code": "INTERNAL", "correlation_id": correlationID},
	})
}

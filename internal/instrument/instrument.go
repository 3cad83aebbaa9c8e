// Package instrument exposes request metrics in Prometheus text format.
package instrument

import (
	"errors"
	"fmt"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/gofiber/fiber/v2"

	"relay-backend/internal/engine"
)

// Middleware records a request counter and latency summary per route and
// status class. Route templates keep the label cardinality bounded.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		route := c.Route().Path
		status := c.Response().StatusCode()
		if err != nil {
			// The central error handler runs after this middleware, so the
			// response status is not set yet when a handler errors.
			var appErr *engine.AppError
			var fiberErr *fiber.Error
			switch {
			case errors.As(err, &appErr):
				status = appErr.Status
			case errors.As(err, &fiberErr):
				status = fiberErr.Code
			default:
				status = 500
			}
		}

		counter := fmt.Sprintf(`http_requests_total{method=%q,path=%q,status="%dxx"}`,
			c.Method(), route, status/100)
		metrics.GetOrCreateCounter(counter).Inc()

		duration := fmt.Sprintf(`http_request_duration_seconds{method=%q,path=%q}`,
			c.Method(), route)
		metrics.GetOrCreateSummary(duration).UpdateDuration(start)

		return err
	}
}

// MetricsHandler serves GET /metrics.
func MetricsHandler(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4")
	w := c.Response().BodyWriter()
	metrics.WritePrometheus(w, true)
	return nil
}

// HealthHandler serves GET /health.
func HealthHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

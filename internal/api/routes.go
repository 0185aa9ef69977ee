package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecker is a dependency probed by /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RegisterRoutes registers all HTTP routes on the Fiber app.
func RegisterRoutes(app *fiber.App, nc *nats.Conn, deps map[string]HealthChecker, h *SessionHandler) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/health", func(c *fiber.Ctx) error {
		checks := map[string]string{"nats": "ok"}
		status := "ok"
		code := fiber.StatusOK

		if nc == nil || !nc.IsConnected() {
			checks["nats"] = "disconnected"
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		} else if err := nc.FlushTimeout(1 * time.Second); err != nil {
			checks["nats"] = err.Error()
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		}

		healthCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for name, dep := range deps {
			checks[name] = "ok"
			if err := dep.HealthCheck(healthCtx); err != nil {
				checks[name] = err.Error()
				status = "degraded"
				code = fiber.StatusServiceUnavailable
			}
		}

		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"checks": checks,
		})
	})

	v1 := app.Group("/api/v1", RequireAccount)
	v1.Post("/sessions", h.OpenSession)
	v1.Get("/sessions/:id", h.GetSession)
	v1.Put("/sessions/:id/trigger", h.SetTrigger)
	v1.Post("/sessions/:id/solicit", h.Solicit)
	v1.Post("/sessions/:id/accept", h.Accept)
	v1.Post("/sessions/:id/reset", h.Reset)
	v1.Delete("/sessions/:id", h.CloseSession)
	v1.Get("/balances", h.Balances)
}

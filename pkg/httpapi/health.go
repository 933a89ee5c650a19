package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

func registerHealth(app *fiber.App, checks map[string]HealthCheck) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := fiber.Map{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		return c.Status(status).JSON(fiber.Map{
			"status":    results,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}

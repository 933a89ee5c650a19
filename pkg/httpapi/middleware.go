package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/MrCodeEU/facegate/pkg/logging"
)

const (
	requestIDHeader = "X-Request-ID"
	bearerLocal     = "bearer"
)

// RequestID ensures each request carries an identifier.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqID := c.Get(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Set(requestIDHeader, reqID)
		c.Locals(requestIDHeader, reqID)
		return c.Next()
	}
}

// AccessLog logs one line per request. Paths under /api/password/reset are
// logged without the token segment.
func AccessLog() fiber.Handler {
	log := logging.Component("http")
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			// The error handler has not run yet.
			status = statusOf(err)
		}

		path := c.Path()
		if strings.HasPrefix(path, "/api/password/reset/") {
			path = "/api/password/reset/:token"
		}
		log.WithFields(logrus.Fields{
			"method":     c.Method(),
			"path":       path,
			"status":     status,
			"duration":   time.Since(start).String(),
			"request_id": c.Locals(requestIDHeader),
		}).Debug("request")
		return err
	}
}

// BearerAuth requires an Authorization bearer token and stores it for the
// handler. Token validity is checked by the workflow.
func BearerAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		token := strings.TrimSpace(authz[len("Bearer "):])
		if token == "" {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		c.Locals(bearerLocal, token)
		return c.Next()
	}
}

func bearer(c *fiber.Ctx) string {
	s, _ := c.Locals(bearerLocal).(string)
	return s
}

package middleware

import (
	"time"

	"faltas_go/models"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// LoggerMiddleware logs HTTP requests
func LoggerMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		// Process request
		err := c.Next()

		// Log request
		duration := time.Since(start)
		status := c.Response().StatusCode()

		fields := logrus.Fields{
			"method":     c.Method(),
			"path":       c.Path(),
			"status":     status,
			"duration":   duration.String(),
			"ip":         c.IP(),
			"user_agent": c.Get("User-Agent"),
		}
		if identity, ok := c.Locals("identity").(*models.Identity); ok && identity != nil {
			fields["user_id"] = identity.ID
		}

		entry := logrus.WithFields(fields)
		switch {
		case status >= fiber.StatusInternalServerError:
			entry.Error("HTTP Request")
		case status >= fiber.StatusBadRequest:
			entry.Warn("HTTP Request")
		default:
			entry.Info("HTTP Request")
		}

		return err
	}
}

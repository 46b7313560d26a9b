package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const HeaderServiceToken = "X-Service-Token"

// ServiceTokenAuth checks X-Service-Token on internal write routes.
// An empty token disables the check (local development).
func ServiceTokenAuth(token string, logger *zap.Logger) fiber.Handler {
	if token == "" {
		logger.Warn("SERVICE_TOKEN not set, internal routes are unauthenticated")
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	expected := []byte(token)
	return func(c *fiber.Ctx) error {
		got := c.Get(HeaderServiceToken)
		if got == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "service token missing",
			})
		}
		if subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
			logger.Warn("service token rejected", zap.String("path", c.Path()), zap.String("ip", c.IP()))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid service token",
			})
		}
		return c.Next()
	}
}

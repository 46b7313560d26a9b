package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// BearerAuth guards scheduler-facing routes with a shared secret sent as
// "Authorization: Bearer <secret>".
func BearerAuth(secret string, logger *zap.Logger) fiber.Handler {
	expected := []byte(secret)
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		token, ok := strings.CutPrefix(header, "Bearer ")
		if header == "" || !ok {
			logger.Warn("bearer token missing", zap.String("path", c.Path()), zap.String("ip", c.IP()))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing bearer token",
			})
		}
		if len(expected) == 0 || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), expected) != 1 {
			logger.Warn("bearer token rejected", zap.String("path", c.Path()), zap.String("ip", c.IP()))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid bearer token",
			})
		}
		return c.Next()
	}
}

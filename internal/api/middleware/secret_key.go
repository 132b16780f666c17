package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
)

// SecretKey returns a Fiber middleware that requires the x-secret-key
// header to match the configured secret on every request.
func SecretKey(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		provided := c.Get("x-secret-key")
		if secret == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing or invalid x-secret-key header",
			})
		}
		return c.Next()
	}
}

package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// InternalTokenHeader carries the shared secret of trusted internal callers.
const InternalTokenHeader = "X-Internal-Token"

// InternalTokenAuth admits requests carrying the configured service token.
// An empty token rejects every request.
func InternalTokenAuth(token string) fiber.Handler {
	expected := []byte(strings.TrimSpace(token))
	if len(expected) == 0 {
		log.Warn("internal token is not configured; internal routes will reject all requests")
	}
	return func(c *fiber.Ctx) error {
		got := extractTokenFromHeader(c)
		if got == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "error": "missing internal token"})
		}
		if len(expected) == 0 || subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "error": "invalid internal token"})
		}
		return c.Next()
	}
}

func extractTokenFromHeader(c *fiber.Ctx) string {
	token := strings.TrimSpace(c.Get(InternalTokenHeader))
	if token != "" {
		return token
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

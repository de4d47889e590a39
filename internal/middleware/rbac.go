package middleware

import (
	"github.com/counseling-records/backend/internal/rbac"
	"github.com/gofiber/fiber/v2"
)

// RequirePermission rejects callers whose role lacks the given permission.
// Runs after AuthMiddleware, which guarantees a valid identity in locals.
func RequirePermission(permission string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ident := GetIdentity(c)
		if !rbac.HasPermission(string(ident.Role), permission) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "insufficient permissions",
			})
		}
		return c.Next()
	}
}

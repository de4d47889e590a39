package middleware

import (
	"strings"

	"github.com/counseling-records/backend/internal/auth"
	"github.com/counseling-records/backend/internal/config"
	"github.com/counseling-records/backend/internal/models"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const CtxIdentity = "identity"

// AuthMiddleware resolves the caller identity from a bearer token minted by
// the authentication service. Tokens with a role outside {admin, counselor}
// are rejected up front.
func AuthMiddleware(cfg *config.Config, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing authorization header"})
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenStr == authHeader {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid authorization format"})
		}

		claims, err := auth.ParseJWT(cfg.JWTSecret, tokenStr)
		if err != nil {
			log.Debug("jwt parse error", zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired token"})
		}

		ident, err := claims.Identity()
		if err != nil {
			log.Debug("invalid identity in token", zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token claims"})
		}
		if !ident.Role.Valid() {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "unknown role"})
		}

		c.Locals(CtxIdentity, ident)
		return c.Next()
	}
}

func GetIdentity(c *fiber.Ctx) models.Identity {
	ident, _ := c.Locals(CtxIdentity).(models.Identity)
	return ident
}

package http

import (
	"time"

	"github.com/counseling-records/backend/internal/config"
	"github.com/counseling-records/backend/internal/http/handlers"
	"github.com/counseling-records/backend/internal/middleware"
	"github.com/counseling-records/backend/internal/rbac"
	"github.com/counseling-records/backend/internal/services"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	lockService *services.LockService,
	recordHandler *handlers.RecordHandler,
	lockHandler *handlers.LockHandler,
	metaHandler *handlers.MetaHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")
	api.Use(middleware.RateLimitMiddleware(rdb, cfg.RateLimitPerMinute, time.Minute))

	// Meta enumerations for filter and form UIs; no identity needed.
	api.Get("/meta/audit-actions", metaHandler.GetAuditActions)
	api.Get("/meta/roles", metaHandler.GetRoles)

	// All record and lock endpoints require a caller identity.
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))

	// Global audit listing must be registered before the /records/:id routes.
	protected.Get("/lock-logs/all",
		middleware.RequirePermission(rbac.PermViewAllLogs),
		lockHandler.AllLockLogs)

	// Records
	protected.Post("/records", recordHandler.CreateRecord)
	protected.Get("/records", recordHandler.ListRecords)
	protected.Get("/records/:id", recordHandler.GetRecord)
	protected.Delete("/records/:id",
		middleware.RequirePermission(rbac.PermDeleteRecord),
		recordHandler.DeleteRecord)

	// Lock lifecycle
	protected.Post("/records/:id/lock", lockHandler.Lock)
	protected.Post("/records/:id/unlock", lockHandler.Unlock)
	protected.Post("/records/:id/start-editing", lockHandler.StartEditing)
	protected.Get("/records/:id/lock-status", lockHandler.LockStatus)
	protected.Get("/records/:id/lock-logs", lockHandler.LockLogs)

	// Gated mutation: must hold the lease to write.
	protected.Put("/records/:id", middleware.RequireRecordLock(lockService, log), recordHandler.UpdateRecord)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}

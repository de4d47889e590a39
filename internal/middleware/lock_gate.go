package middleware

import (
	"errors"

	"github.com/counseling-records/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequireRecordLock gates record mutations: the caller must hold the active
// lease on the record addressed by the :id param. 423 is returned both when
// the record is not locked at all and when another user holds it; the lease
// is never released here, so a passing update keeps the lock (strict 2PL).
func RequireRecordLock(locks *services.LockService, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		recordID, err := uuid.Parse(c.Params("id"))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid record id"})
		}

		caller := GetIdentity(c)
		err = locks.VerifyOwnership(c.Context(), recordID, caller)
		if err == nil {
			return c.Next()
		}

		var conflict *services.ConflictError
		switch {
		case errors.Is(err, services.ErrNotLocked):
			return c.Status(fiber.StatusLocked).JSON(fiber.Map{
				"error": "Record must be locked before editing. Please lock the record first.",
			})
		case errors.As(err, &conflict):
			return c.Status(fiber.StatusLocked).JSON(fiber.Map{
				"error":     "Record is locked by " + conflict.Holder.Name + ". Only the lock owner can edit.",
				"locked_by": conflict.Holder,
				"locked_at": conflict.AcquiredAt,
			})
		default:
			log.Error("lock ownership check failed",
				zap.String("record_id", recordID.String()),
				zap.Error(err),
			)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to verify record lock status",
			})
		}
	}
}

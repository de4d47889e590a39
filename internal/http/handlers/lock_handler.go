package handlers

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/counseling-records/backend/internal/http/dto"
	"github.com/counseling-records/backend/internal/middleware"
	"github.com/counseling-records/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type LockHandler struct {
	locks *services.LockService
	log   *zap.Logger
}

func NewLockHandler(locks *services.LockService, log *zap.Logger) *LockHandler {
	return &LockHandler{locks: locks, log: log}
}

// Lock acquires the exclusive lease on a record.
// POST /api/v1/records/:id/lock
func (h *LockHandler) Lock(c *fiber.Ctx) error {
	return h.acquire(c, false)
}

// StartEditing auto-locks the record when a user opens it for editing.
// POST /api/v1/records/:id/start-editing
func (h *LockHandler) StartEditing(c *fiber.Ctx) error {
	return h.acquire(c, true)
}

func (h *LockHandler) acquire(c *fiber.Ctx, editing bool) error {
	recordID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid record id"})
	}

	caller := middleware.GetIdentity(c)
	acquireFn := h.locks.Acquire
	if editing {
		acquireFn = h.locks.StartEditing
	}

	got, err := acquireFn(c.Context(), recordID, caller)
	if err != nil {
		return h.lockError(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.LeaseResponse{
		RecordID:  got.RecordID.String(),
		LockedBy:  got.Holder,
		LockedAt:  got.AcquiredAt,
		ExpiresAt: got.ExpiresAt,
	}})
}

// Unlock releases the caller's lease. Releasing an unlocked record is a
// no-op, not an error.
// POST /api/v1/records/:id/unlock
func (h *LockHandler) Unlock(c *fiber.Ctx) error {
	recordID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid record id"})
	}

	caller := middleware.GetIdentity(c)
	released, err := h.locks.Release(c.Context(), recordID, caller)
	if err != nil {
		var ownership *services.OwnershipError
		if errors.As(err, &ownership) {
			return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{
				Error: fmt.Sprintf("You cannot unlock this record. It is locked by %s.", ownership.Holder.Name),
			})
		}
		return h.lockError(c, err)
	}

	msg := "Record unlocked successfully."
	if !released {
		msg = "Record is not currently locked."
	}
	return c.JSON(dto.ReleaseResponse{OK: true, Locked: false, Released: released, Message: msg})
}

// LockStatus reports current lease state for the record.
// GET /api/v1/records/:id/lock-status
func (h *LockHandler) LockStatus(c *fiber.Ctx) error {
	recordID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid record id"})
	}

	caller := middleware.GetIdentity(c)
	status, err := h.locks.Status(c.Context(), recordID, caller)
	if err != nil {
		return h.lockError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: status})
}

// LockLogs lists the audit trail for one record, most recent first.
// GET /api/v1/records/:id/lock-logs
func (h *LockHandler) LockLogs(c *fiber.Ctx) error {
	recordID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid record id"})
	}

	logs, err := h.locks.LogsForRecord(c.Context(), recordID, queryInt(c, "limit", 50))
	if err != nil {
		return h.lockError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: logs})
}

// AllLockLogs lists recent LOCK/UNLOCK/UPDATE activity across all records.
// GET /api/v1/lock-logs/all
func (h *LockHandler) AllLockLogs(c *fiber.Ctx) error {
	logs, err := h.locks.AllLogs(c.Context(), c.Query("action"), queryInt(c, "limit", 50))
	if err != nil {
		h.log.Error("list all lock logs failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: logs})
}

// lockError maps domain outcomes to status codes: 404 unknown record, 403
// role, 423 contention, 500 store failure.
func (h *LockHandler) lockError(c *fiber.Ctx, err error) error {
	var conflict *services.ConflictError
	var role *services.RoleError
	switch {
	case errors.Is(err, services.ErrRecordNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "record not found"})
	case errors.As(err, &role):
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: role.Error()})
	case errors.As(err, &conflict):
		lockedAt := conflict.AcquiredAt
		return c.Status(fiber.StatusLocked).JSON(dto.LockedResponse{
			Error:    fmt.Sprintf("Record is currently locked by %s. Only one user can edit at a time.", conflict.Holder.Name),
			LockedBy: &conflict.Holder,
			LockedAt: &lockedAt,
		})
	default:
		h.log.Error("lock operation failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
}

func queryInt(c *fiber.Ctx, key string, fallback int) int {
	if v := c.Query(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

package handlers

import (
	"errors"

	"github.com/counseling-records/backend/internal/http/dto"
	"github.com/counseling-records/backend/internal/middleware"
	"github.com/counseling-records/backend/internal/models"
	"github.com/counseling-records/backend/internal/repositories"
	"github.com/counseling-records/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type RecordHandler struct {
	records *services.RecordService
	log     *zap.Logger
}

func NewRecordHandler(records *services.RecordService, log *zap.Logger) *RecordHandler {
	return &RecordHandler{records: records, log: log}
}

func (h *RecordHandler) CreateRecord(c *fiber.Ctx) error {
	var req dto.CreateRecordRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if req.ClientName == "" || req.SessionNumber <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "client_name and session_number are required"})
	}

	rec := &models.Record{
		ClientName:    req.ClientName,
		SessionNumber: req.SessionNumber,
		Counselor:     req.Counselor,
		SessionDate:   req.SessionDate,
		Notes:         req.Notes,
	}

	caller := middleware.GetIdentity(c)
	if err := h.records.Create(c.Context(), caller, rec); err != nil {
		h.log.Error("create record failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: rec})
}

func (h *RecordHandler) GetRecord(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid record id"})
	}

	rec, err := h.records.GetByID(c.Context(), id)
	if errors.Is(err, services.ErrRecordNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "record not found"})
	}
	if err != nil {
		h.log.Error("get record failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: rec})
}

func (h *RecordHandler) ListRecords(c *fiber.Ctx) error {
	filter := repositories.RecordFilter{
		Limit:  queryInt(c, "limit", 20),
		Offset: queryInt(c, "offset", 0),
	}
	if v := c.Query("counselor"); v != "" {
		filter.Counselor = &v
	}
	if v := c.Query("client"); v != "" {
		filter.Client = &v
	}

	records, err := h.records.List(c.Context(), filter)
	if err != nil {
		h.log.Error("list records failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: records})
}

// UpdateRecord is the gated mutation: middleware.RequireRecordLock has
// already verified lease ownership before this runs.
func (h *RecordHandler) UpdateRecord(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid record id"})
	}

	var req services.RecordUpdate
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	caller := middleware.GetIdentity(c)
	rec, err := h.records.Update(c.Context(), id, caller, req)
	if errors.Is(err, services.ErrRecordNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "record not found"})
	}
	if err != nil {
		h.log.Error("update record failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: rec})
}

func (h *RecordHandler) DeleteRecord(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid record id"})
	}

	err = h.records.Delete(c.Context(), id)
	if errors.Is(err, services.ErrRecordNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "record not found"})
	}
	if err != nil {
		h.log.Error("delete record failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

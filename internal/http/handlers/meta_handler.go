package handlers

import (
	"github.com/counseling-records/backend/internal/http/dto"
	"github.com/counseling-records/backend/internal/models"
	"github.com/counseling-records/backend/internal/rbac"
	"github.com/gofiber/fiber/v2"
)

// MetaHandler serves the static enumerations UIs need for filters and forms.
type MetaHandler struct{}

func NewMetaHandler() *MetaHandler {
	return &MetaHandler{}
}

type MetaAuditAction struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type MetaRole struct {
	ID          string   `json:"id"`
	Label       string   `json:"label"`
	Permissions []string `json:"permissions"`
}

var auditActionLabels = []MetaAuditAction{
	{ID: models.AuditLock, Label: "Record locked"},
	{ID: models.AuditUnlock, Label: "Record unlocked"},
	{ID: models.AuditUpdate, Label: "Record updated"},
	{ID: models.AuditLockAttemptBlocked, Label: "Lock attempt blocked"},
	{ID: models.AuditEditAttemptBlocked, Label: "Edit attempt blocked"},
	{ID: models.AuditLockExpired, Label: "Lock expired"},
}

var roleLabels = []MetaRole{
	{ID: rbac.RoleAdmin, Label: "Administrator", Permissions: rbac.RolePermissions[rbac.RoleAdmin]},
	{ID: rbac.RoleCounselor, Label: "Counselor", Permissions: rbac.RolePermissions[rbac.RoleCounselor]},
}

func (h *MetaHandler) GetAuditActions(c *fiber.Ctx) error {
	return c.JSON(dto.SuccessResponse{OK: true, Data: auditActionLabels})
}

func (h *MetaHandler) GetRoles(c *fiber.Ctx) error {
	return c.JSON(dto.SuccessResponse{OK: true, Data: roleLabels})
}

package dto

import (
	"time"

	"github.com/counseling-records/backend/internal/models"
)

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

// LockedResponse is the 423 body for contention outcomes: the UI shows the
// holder's name and role next to a "locked by" banner.
type LockedResponse struct {
	Error    string           `json:"error"`
	LockedBy *models.Identity `json:"locked_by,omitempty"`
	LockedAt *time.Time       `json:"locked_at,omitempty"`
}

type LeaseResponse struct {
	RecordID  string          `json:"record_id"`
	LockedBy  models.Identity `json:"locked_by"`
	LockedAt  time.Time       `json:"locked_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

type ReleaseResponse struct {
	OK       bool   `json:"ok"`
	Locked   bool   `json:"locked"`
	Released bool   `json:"released"`
	Message  string `json:"message,omitempty"`
}

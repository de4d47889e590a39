package models

import (
	"time"

	"github.com/google/uuid"
)

// Record is a counseling session record. Only the fields the lock subsystem
// and its listings need are modeled here; the form-driven business fields
// live in Notes.
type Record struct {
	ID            uuid.UUID  `json:"id"`
	ClientName    string     `json:"client_name"`
	SessionNumber int        `json:"session_number"`
	Counselor     string     `json:"counselor"`
	SessionDate   *time.Time `json:"session_date,omitempty"`
	Notes         *string    `json:"notes,omitempty"`
	CreatedBy     *uuid.UUID `json:"created_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

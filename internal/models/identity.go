package models

import "github.com/google/uuid"

type Role string

const (
	RoleAdmin     Role = "admin"
	RoleCounselor Role = "counselor"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleCounselor
}

// Identity is a point-in-time snapshot of a caller. Leases and audit entries
// store it by value, so later profile changes do not rewrite history.
type Identity struct {
	UserID uuid.UUID `json:"user_id"`
	Name   string    `json:"name"`
	Role   Role      `json:"role"`
	Email  string    `json:"email"`
}

package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/counseling-records/backend/internal/models"
)

var (
	ErrRecordNotFound = errors.New("record not found")

	// ErrNotLocked means a mutation was attempted with no active lease on
	// the record. Strict 2PL requires locking before editing.
	ErrNotLocked = errors.New("record must be locked before editing")
)

// ConflictError is the expected contention outcome: the record is held by
// another caller. It carries the holder snapshot so the UI can show who.
type ConflictError struct {
	Holder     models.Identity
	AcquiredAt time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("record is locked by %s", e.Holder.Name)
}

// RoleError means the caller's role is not permitted to lock records at all.
type RoleError struct {
	Role models.Role
}

func (e *RoleError) Error() string {
	return fmt.Sprintf("role %q is not authorized to lock records", e.Role)
}

// OwnershipError means the caller attempted to release a lease held by
// someone else. Distinct from ConflictError so handlers can report "who
// attempted" separately from "who holds".
type OwnershipError struct {
	Holder models.Identity
}

func (e *OwnershipError) Error() string {
	return fmt.Sprintf("lease is held by %s, not the caller", e.Holder.Name)
}

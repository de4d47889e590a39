package models

import (
	"time"

	"github.com/google/uuid"
)

// Lock lifecycle audit actions.
const (
	AuditLock               = "LOCK"
	AuditUnlock             = "UNLOCK"
	AuditUpdate             = "UPDATE"
	AuditLockAttemptBlocked = "LOCK_ATTEMPT_BLOCKED"
	AuditEditAttemptBlocked = "EDIT_ATTEMPT_BLOCKED"
	AuditLockExpired        = "LOCK_EXPIRED"
)

var auditActions = map[string]struct{}{
	AuditLock:               {},
	AuditUnlock:             {},
	AuditUpdate:             {},
	AuditLockAttemptBlocked: {},
	AuditEditAttemptBlocked: {},
	AuditLockExpired:        {},
}

func IsValidAuditAction(action string) bool {
	_, ok := auditActions[action]
	return ok
}

// LockAuditEntry is one append-only row in the lock audit trail. Entries are
// never updated or deleted. LockOwner is set when the event happened against
// somebody's active lease (blocked attempts, unlocks, expiries).
type LockAuditEntry struct {
	ID          uuid.UUID      `json:"id"`
	RecordID    uuid.UUID      `json:"record_id"`
	Action      string         `json:"action"`
	PerformedBy Identity       `json:"performed_by"`
	LockOwner   *Identity      `json:"lock_owner,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`

	// Record is joined metadata for the global listing; nil when the
	// underlying record has been deleted.
	Record *RecordRef `json:"record,omitempty"`
}

// RecordRef is the minimal record metadata shown next to audit entries.
type RecordRef struct {
	ID            uuid.UUID `json:"id"`
	ClientName    string    `json:"client_name"`
	SessionNumber int       `json:"session_number"`
}

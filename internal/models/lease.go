package models

import (
	"time"

	"github.com/google/uuid"
)

// RecordLease is an exclusive, time-bounded claim on a record. At most one
// row exists per record; rows are deleted on release or expiry rather than
// flagged inactive, so lease existence defines lock state.
type RecordLease struct {
	ID         uuid.UUID `json:"id"`
	RecordID   uuid.UUID `json:"record_id"`
	Holder     Identity  `json:"holder"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Active     bool      `json:"active"`
}

func (l *RecordLease) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

func (l *RecordLease) HeldBy(userID uuid.UUID) bool {
	return l.Holder.UserID == userID
}

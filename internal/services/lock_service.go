package services

import (
	"context"
	"fmt"
	"time"

	"github.com/counseling-records/backend/internal/config"
	"github.com/counseling-records/backend/internal/events"
	"github.com/counseling-records/backend/internal/models"
	"github.com/counseling-records/backend/internal/rbac"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LeaseStore is the persistence contract for leases. UpsertIfAbsentOrExpired
// must be a single conditional write: of N concurrent calls for one record,
// at most one may observe absent/expired and win.
type LeaseStore interface {
	FindActive(ctx context.Context, recordID uuid.UUID) (*models.RecordLease, error)
	UpsertIfAbsentOrExpired(ctx context.Context, recordID uuid.UUID, holder models.Identity, now time.Time, ttl time.Duration) (*models.RecordLease, error)
	Refresh(ctx context.Context, leaseID uuid.UUID, expiresAt time.Time) error
	Delete(ctx context.Context, leaseID uuid.UUID) error
	DeleteExpired(ctx context.Context, before time.Time) ([]models.RecordLease, error)
}

// AuditLog is the append-only event trail. Append errors are swallowed by the
// service; audit is a best-effort side channel and never fails a lock
// operation.
type AuditLog interface {
	Append(ctx context.Context, e models.LockAuditEntry) error
	ListForRecord(ctx context.Context, recordID uuid.UUID, limit int) ([]models.LockAuditEntry, error)
	ListAll(ctx context.Context, action string, limit int) ([]models.LockAuditEntry, error)
}

// RecordDirectory answers whether the protected resource exists.
type RecordDirectory interface {
	Exists(ctx context.Context, recordID uuid.UUID) (bool, error)
}

// CanLockFunc is the injectable authorization predicate for lock acquisition.
type CanLockFunc func(caller models.Identity, recordID uuid.UUID) bool

// DefaultCanLock lets any authenticated admin or counselor lock any record.
func DefaultCanLock(caller models.Identity, _ uuid.UUID) bool {
	return rbac.HasPermission(string(caller.Role), rbac.PermLockRecord)
}

// LockStatus is the read-only view served to UIs. An expired lease counts as
// unlocked.
type LockStatus struct {
	Locked     bool             `json:"locked"`
	Holder     *models.Identity `json:"locked_by,omitempty"`
	AcquiredAt *time.Time       `json:"locked_at,omitempty"`
	ExpiresAt  *time.Time       `json:"expires_at,omitempty"`
	CanLock    bool             `json:"can_lock"`
	CanUnlock  bool             `json:"can_unlock"`
	IsHolder   bool             `json:"is_lock_owner"`
}

// LockService implements exclusive-writer leases over the lease store: at
// most one active lease per record, 24h TTL, refreshed on re-acquisition by
// the holder, reclaimed opportunistically once expired. All correctness comes
// from the store's conditional write; the service keeps no in-process state.
type LockService struct {
	leases    LeaseStore
	audit     AuditLog
	records   RecordDirectory
	publisher events.Publisher
	canLock   CanLockFunc
	ttl       time.Duration
	grace     time.Duration
	log       *zap.Logger
}

func NewLockService(
	leases LeaseStore,
	audit AuditLog,
	records RecordDirectory,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *LockService {
	return &LockService{
		leases:    leases,
		audit:     audit,
		records:   records,
		publisher: publisher,
		canLock:   DefaultCanLock,
		ttl:       cfg.LockTTL,
		grace:     cfg.LockGraceDelay,
		log:       log,
	}
}

// SetCanLock swaps the authorization predicate. Must be called before the
// service is shared across goroutines.
func (s *LockService) SetCanLock(fn CanLockFunc) {
	if fn != nil {
		s.canLock = fn
	}
}

// Acquire takes (or refreshes) the exclusive lease on a record for caller.
// Domain outcomes: *RoleError, *ConflictError (with holder), ErrRecordNotFound.
func (s *LockService) Acquire(ctx context.Context, recordID uuid.UUID, caller models.Identity) (*models.RecordLease, error) {
	return s.acquire(ctx, recordID, caller, "")
}

// StartEditing is the auto-lock entry point invoked when a user opens a
// record for editing. Same semantics as Acquire.
func (s *LockService) StartEditing(ctx context.Context, recordID uuid.UUID, caller models.Identity) (*models.RecordLease, error) {
	return s.acquire(ctx, recordID, caller, "Auto-locked when editing started")
}

func (s *LockService) acquire(ctx context.Context, recordID uuid.UUID, caller models.Identity, reason string) (*models.RecordLease, error) {
	if err := s.requireRecord(ctx, recordID); err != nil {
		return nil, err
	}

	if !s.canLock(caller, recordID) {
		s.auditLog(ctx, models.LockAuditEntry{
			RecordID:    recordID,
			Action:      models.AuditLockAttemptBlocked,
			PerformedBy: caller,
			Reason:      "Unauthorized to lock records.",
		})
		return nil, &RoleError{Role: caller.Role}
	}

	// Reclaim stale leases up front so an expired holder never blocks us.
	if _, err := s.SweepExpired(ctx); err != nil {
		s.log.Warn("expired lease sweep failed", zap.Error(err))
	}

	now := time.Now()
	existing, err := s.leases.FindActive(ctx, recordID)
	if err != nil {
		return nil, fmt.Errorf("read lease: %w", err)
	}
	if existing != nil && !existing.Expired(now) {
		if !existing.HeldBy(caller.UserID) {
			return nil, s.blocked(ctx, recordID, caller, existing, models.AuditLockAttemptBlocked)
		}
		// Idempotent re-acquisition: same row, extended expiry.
		expiresAt := now.Add(s.ttl)
		if err := s.leases.Refresh(ctx, existing.ID, expiresAt); err != nil {
			return nil, fmt.Errorf("refresh lease: %w", err)
		}
		existing.ExpiresAt = expiresAt
		s.logAcquired(ctx, existing, caller, reason)
		return existing, nil
	}

	if _, err := s.leases.UpsertIfAbsentOrExpired(ctx, recordID, caller, now, s.ttl); err != nil {
		return nil, fmt.Errorf("acquire lease: %w", err)
	}

	// The re-read is authoritative: a second acquirer may have won the same
	// race and overwritten our row between the conditional write and now.
	current, err := s.leases.FindActive(ctx, recordID)
	if err != nil {
		return nil, fmt.Errorf("verify lease: %w", err)
	}
	if current == nil {
		return nil, fmt.Errorf("failed to acquire lock")
	}
	if !current.HeldBy(caller.UserID) {
		return nil, s.blocked(ctx, recordID, caller, current, models.AuditLockAttemptBlocked)
	}

	s.logAcquired(ctx, current, caller, reason)
	return current, nil
}

func (s *LockService) logAcquired(ctx context.Context, lease *models.RecordLease, caller models.Identity, reason string) {
	owner := caller
	s.auditLog(ctx, models.LockAuditEntry{
		RecordID:    lease.RecordID,
		Action:      models.AuditLock,
		PerformedBy: caller,
		LockOwner:   &owner,
		Reason:      reason,
	})
	s.publish(ctx, events.StreamLock, events.Event{
		Type: events.EventRecordLocked,
		Payload: map[string]any{
			"record_id":  lease.RecordID.String(),
			"locked_by":  caller.Name,
			"role":       string(caller.Role),
			"expires_at": lease.ExpiresAt,
		},
	})
}

// blocked logs the blocked attempt and returns the contention outcome.
func (s *LockService) blocked(ctx context.Context, recordID uuid.UUID, caller models.Identity, lease *models.RecordLease, action string) error {
	owner := lease.Holder
	s.auditLog(ctx, models.LockAuditEntry{
		RecordID:    recordID,
		Action:      action,
		PerformedBy: caller,
		LockOwner:   &owner,
		Reason:      fmt.Sprintf("Record is currently locked by %s.", owner.Name),
	})
	return &ConflictError{Holder: owner, AcquiredAt: lease.AcquiredAt}
}

// Release drops the caller's lease. Returns (false, nil) when the record was
// not locked (releasing an unlocked record is a no-op, not an error) and
// *OwnershipError when the lease belongs to someone else.
func (s *LockService) Release(ctx context.Context, recordID uuid.UUID, caller models.Identity) (bool, error) {
	if err := s.requireRecord(ctx, recordID); err != nil {
		return false, err
	}

	if _, err := s.SweepExpired(ctx); err != nil {
		s.log.Warn("expired lease sweep failed", zap.Error(err))
	}

	lease, err := s.leases.FindActive(ctx, recordID)
	if err != nil {
		return false, fmt.Errorf("read lease: %w", err)
	}
	if lease == nil {
		return false, nil
	}

	if !lease.HeldBy(caller.UserID) {
		owner := lease.Holder
		s.auditLog(ctx, models.LockAuditEntry{
			RecordID:    recordID,
			Action:      models.AuditUnlock,
			PerformedBy: caller,
			LockOwner:   &owner,
			Reason:      fmt.Sprintf("Attempted to unlock record locked by %s.", owner.Name),
		})
		return false, &OwnershipError{Holder: owner}
	}

	if err := s.leases.Delete(ctx, lease.ID); err != nil {
		return false, fmt.Errorf("delete lease: %w", err)
	}

	owner := lease.Holder
	s.auditLog(ctx, models.LockAuditEntry{
		RecordID:    recordID,
		Action:      models.AuditUnlock,
		PerformedBy: caller,
		LockOwner:   &owner,
	})
	s.publish(ctx, events.StreamLock, events.Event{
		Type: events.EventRecordUnlocked,
		Payload: map[string]any{
			"record_id":   recordID.String(),
			"unlocked_by": caller.Name,
		},
	})
	return true, nil
}

// VerifyOwnership is the update-gate check: nil when caller holds the lease,
// ErrNotLocked when nobody does, *ConflictError when somebody else does.
// When no lease is found it waits one grace delay and re-checks once, to
// absorb the window between a client's lock call and its immediately
// following update call.
func (s *LockService) VerifyOwnership(ctx context.Context, recordID uuid.UUID, caller models.Identity) error {
	if _, err := s.SweepExpired(ctx); err != nil {
		s.log.Warn("expired lease sweep failed", zap.Error(err))
	}

	now := time.Now()
	lease, err := s.leases.FindActive(ctx, recordID)
	if err != nil {
		return fmt.Errorf("read lease: %w", err)
	}

	if lease == nil || lease.Expired(now) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.grace):
		}
		now = time.Now()
		lease, err = s.leases.FindActive(ctx, recordID)
		if err != nil {
			return fmt.Errorf("read lease: %w", err)
		}
	}

	if lease == nil || lease.Expired(now) {
		s.auditLog(ctx, models.LockAuditEntry{
			RecordID:    recordID,
			Action:      models.AuditEditAttemptBlocked,
			PerformedBy: caller,
			Reason:      "Edit attempt blocked - record must be locked before editing.",
		})
		return ErrNotLocked
	}

	if !lease.HeldBy(caller.UserID) {
		return s.blocked(ctx, recordID, caller, lease, models.AuditEditAttemptBlocked)
	}

	return nil
}

// Status is a pure read; expired leases count as unlocked.
func (s *LockService) Status(ctx context.Context, recordID uuid.UUID, caller models.Identity) (*LockStatus, error) {
	if err := s.requireRecord(ctx, recordID); err != nil {
		return nil, err
	}

	if _, err := s.SweepExpired(ctx); err != nil {
		s.log.Warn("expired lease sweep failed", zap.Error(err))
	}

	lease, err := s.leases.FindActive(ctx, recordID)
	if err != nil {
		return nil, fmt.Errorf("read lease: %w", err)
	}

	now := time.Now()
	if lease == nil || lease.Expired(now) {
		return &LockStatus{Locked: false, CanLock: true}, nil
	}

	isHolder := lease.HeldBy(caller.UserID)
	return &LockStatus{
		Locked:     true,
		Holder:     &lease.Holder,
		AcquiredAt: &lease.AcquiredAt,
		ExpiresAt:  &lease.ExpiresAt,
		CanLock:    false,
		CanUnlock:  isHolder,
		IsHolder:   isHolder,
	}, nil
}

// SweepExpired reclaims every expired lease and logs LOCK_EXPIRED once per
// lease. The delete-returning store primitive guarantees concurrent sweeps
// never double-log the same lease. Safe to call from any operation or on a
// ticker.
func (s *LockService) SweepExpired(ctx context.Context) (int, error) {
	expired, err := s.leases.DeleteExpired(ctx, time.Now())
	if err != nil {
		return 0, err
	}

	for i := range expired {
		lease := &expired[i]
		holder := lease.Holder
		// The holder did not perform the expiry; it is system-triggered,
		// recorded with the holder as both actor and owner.
		s.auditLog(ctx, models.LockAuditEntry{
			RecordID:    lease.RecordID,
			Action:      models.AuditLockExpired,
			PerformedBy: holder,
			LockOwner:   &holder,
			Reason:      fmt.Sprintf("Lock expired after %s.", s.ttl),
		})
		s.publish(ctx, events.StreamLock, events.Event{
			Type: events.EventLockExpired,
			Payload: map[string]any{
				"record_id": lease.RecordID.String(),
				"held_by":   holder.Name,
			},
		})
	}
	return len(expired), nil
}

// LogsForRecord returns the audit trail for one record, most recent first.
func (s *LockService) LogsForRecord(ctx context.Context, recordID uuid.UUID, limit int) ([]models.LockAuditEntry, error) {
	if err := s.requireRecord(ctx, recordID); err != nil {
		return nil, err
	}
	return s.audit.ListForRecord(ctx, recordID, limit)
}

// AllLogs returns recent LOCK/UNLOCK/UPDATE entries across all records with
// joined record metadata where the record still exists.
func (s *LockService) AllLogs(ctx context.Context, action string, limit int) ([]models.LockAuditEntry, error) {
	return s.audit.ListAll(ctx, action, limit)
}

func (s *LockService) requireRecord(ctx context.Context, recordID uuid.UUID) error {
	exists, err := s.records.Exists(ctx, recordID)
	if err != nil {
		return fmt.Errorf("check record: %w", err)
	}
	if !exists {
		return ErrRecordNotFound
	}
	return nil
}

// auditLog appends best-effort: failures are logged and swallowed so the lock
// operation they document never depends on the audit write.
func (s *LockService) auditLog(ctx context.Context, e models.LockAuditEntry) {
	if err := s.audit.Append(ctx, e); err != nil {
		s.log.Warn("audit append failed",
			zap.String("record_id", e.RecordID.String()),
			zap.String("action", e.Action),
			zap.Error(err),
		)
	}
}

func (s *LockService) publish(ctx context.Context, stream string, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, stream, event); err != nil {
		s.log.Warn("event publish failed", zap.String("type", event.Type), zap.Error(err))
	}
}

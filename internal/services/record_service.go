package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/counseling-records/backend/internal/events"
	"github.com/counseling-records/backend/internal/models"
	"github.com/counseling-records/backend/internal/repositories"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// RecordStore is the persistence contract for counseling records,
// implemented by repositories.RecordRepo.
type RecordStore interface {
	Create(ctx context.Context, rec *models.Record) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Record, error)
	List(ctx context.Context, f repositories.RecordFilter) ([]models.Record, error)
	Update(ctx context.Context, rec *models.Record) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// RecordService owns the counseling-record CRUD. Updates are expected to
// arrive through the lock gate; after a successful mutation the service logs
// an UPDATE audit entry with the changed-field list and the still-active
// lease holder. The lease is left in place (growing-phase-only 2PL).
type RecordService struct {
	records   RecordStore
	leases    LeaseStore
	audit     AuditLog
	publisher events.Publisher
	log       *zap.Logger
}

func NewRecordService(
	records RecordStore,
	leases LeaseStore,
	audit AuditLog,
	publisher events.Publisher,
	log *zap.Logger,
) *RecordService {
	return &RecordService{
		records:   records,
		leases:    leases,
		audit:     audit,
		publisher: publisher,
		log:       log,
	}
}

// RecordUpdate carries the mutable fields; nil means "leave unchanged".
type RecordUpdate struct {
	ClientName    *string    `json:"client_name,omitempty"`
	SessionNumber *int       `json:"session_number,omitempty"`
	Counselor     *string    `json:"counselor,omitempty"`
	SessionDate   *time.Time `json:"session_date,omitempty"`
	Notes         *string    `json:"notes,omitempty"`
}

// ApplyUpdate copies the set fields onto rec and returns the names of fields
// whose values actually changed.
func ApplyUpdate(rec *models.Record, in RecordUpdate) []string {
	var changed []string
	if in.ClientName != nil && *in.ClientName != rec.ClientName {
		rec.ClientName = *in.ClientName
		changed = append(changed, "client_name")
	}
	if in.SessionNumber != nil && *in.SessionNumber != rec.SessionNumber {
		rec.SessionNumber = *in.SessionNumber
		changed = append(changed, "session_number")
	}
	if in.Counselor != nil && *in.Counselor != rec.Counselor {
		rec.Counselor = *in.Counselor
		changed = append(changed, "counselor")
	}
	if in.SessionDate != nil && (rec.SessionDate == nil || !in.SessionDate.Equal(*rec.SessionDate)) {
		rec.SessionDate = in.SessionDate
		changed = append(changed, "session_date")
	}
	if in.Notes != nil && (rec.Notes == nil || *in.Notes != *rec.Notes) {
		rec.Notes = in.Notes
		changed = append(changed, "notes")
	}
	return changed
}

func (s *RecordService) Create(ctx context.Context, caller models.Identity, rec *models.Record) error {
	rec.CreatedBy = &caller.UserID
	if rec.Counselor == "" && caller.Role == models.RoleCounselor {
		rec.Counselor = caller.Name
	}
	return s.records.Create(ctx, rec)
}

func (s *RecordService) GetByID(ctx context.Context, id uuid.UUID) (*models.Record, error) {
	rec, err := s.records.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	return rec, err
}

func (s *RecordService) List(ctx context.Context, f repositories.RecordFilter) ([]models.Record, error) {
	return s.records.List(ctx, f)
}

// Update applies the mutation and logs the UPDATE audit entry. Lock
// ownership is enforced by the gate middleware before this runs.
func (s *RecordService) Update(ctx context.Context, id uuid.UUID, caller models.Identity, in RecordUpdate) (*models.Record, error) {
	rec, err := s.records.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}

	changed := ApplyUpdate(rec, in)
	if len(changed) > 0 {
		if err := s.records.Update(ctx, rec); err != nil {
			return nil, fmt.Errorf("update record: %w", err)
		}
	}

	// The lease holder at mutation time is recorded as lock-owner context;
	// the audit write is best-effort.
	var owner *models.Identity
	if lease, err := s.leases.FindActive(ctx, id); err == nil && lease != nil {
		owner = &lease.Holder
	}
	if err := s.audit.Append(ctx, models.LockAuditEntry{
		RecordID:    id,
		Action:      models.AuditUpdate,
		PerformedBy: caller,
		LockOwner:   owner,
		Reason:      fmt.Sprintf("Record updated by %s (%s)", caller.Name, caller.Role),
		Metadata: map[string]any{
			"changed_fields": changed,
			"change_count":   len(changed),
			"client_name":    rec.ClientName,
			"session_number": rec.SessionNumber,
		},
	}); err != nil {
		s.log.Warn("audit append failed", zap.String("record_id", id.String()), zap.Error(err))
	}

	s.publish(ctx, events.StreamRecord, events.Event{
		Type: events.EventRecordUpdated,
		Payload: map[string]any{
			"record_id":      id.String(),
			"updated_by":     caller.Name,
			"changed_fields": changed,
		},
	})

	return rec, nil
}

func (s *RecordService) publish(ctx context.Context, stream string, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, stream, event); err != nil {
		s.log.Warn("event publish failed", zap.String("type", event.Type), zap.Error(err))
	}
}

func (s *RecordService) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.GetByID(ctx, id); err != nil {
		return err
	}
	return s.records.Delete(ctx, id)
}

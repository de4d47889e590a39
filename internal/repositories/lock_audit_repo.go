package repositories

import (
	"context"
	"fmt"

	"github.com/counseling-records/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type LockAuditRepo struct {
	pool *pgxpool.Pool
}

func NewLockAuditRepo(pool *pgxpool.Pool) *LockAuditRepo {
	return &LockAuditRepo{pool: pool}
}

func (r *LockAuditRepo) Append(ctx context.Context, e models.LockAuditEntry) error {
	if !models.IsValidAuditAction(e.Action) {
		return fmt.Errorf("invalid audit action %q", e.Action)
	}

	var ownerID *uuid.UUID
	var ownerName, ownerRole, ownerEmail *string
	if e.LockOwner != nil {
		ownerID = &e.LockOwner.UserID
		ownerName = &e.LockOwner.Name
		role := string(e.LockOwner.Role)
		ownerRole = &role
		ownerEmail = &e.LockOwner.Email
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO lock_audit_log (record_id, action,
			performed_by_user_id, performed_by_name, performed_by_role, performed_by_email,
			owner_user_id, owner_name, owner_role, owner_email, reason, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, e.RecordID, e.Action,
		e.PerformedBy.UserID, e.PerformedBy.Name, e.PerformedBy.Role, e.PerformedBy.Email,
		ownerID, ownerName, ownerRole, ownerEmail, nullIfEmpty(e.Reason), e.Metadata)
	return err
}

func (r *LockAuditRepo) ListForRecord(ctx context.Context, recordID uuid.UUID, limit int) ([]models.LockAuditEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, record_id, action,
		       performed_by_user_id, performed_by_name, performed_by_role, performed_by_email,
		       owner_user_id, owner_name, owner_role, owner_email, reason, metadata, created_at
		FROM lock_audit_log WHERE record_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, recordID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAuditEntries(rows, false)
}

// ListAll returns recent LOCK/UNLOCK/UPDATE entries across all records, most
// recent first, joined with minimal record metadata for display. Entries whose
// record has been deleted come back with a nil Record rather than failing the
// listing.
func (r *LockAuditRepo) ListAll(ctx context.Context, action string, limit int) ([]models.LockAuditEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	actions := []string{models.AuditLock, models.AuditUnlock, models.AuditUpdate}
	if action == models.AuditLock || action == models.AuditUnlock || action == models.AuditUpdate {
		actions = []string{action}
	}

	rows, err := r.pool.Query(ctx, `
		SELECT a.id, a.record_id, a.action,
		       a.performed_by_user_id, a.performed_by_name, a.performed_by_role, a.performed_by_email,
		       a.owner_user_id, a.owner_name, a.owner_role, a.owner_email, a.reason, a.metadata, a.created_at,
		       r.client_name, r.session_number
		FROM lock_audit_log a
		LEFT JOIN records r ON r.id = a.record_id
		WHERE a.action = ANY($1)
		ORDER BY a.created_at DESC LIMIT $2
	`, actions, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAuditEntries(rows, true)
}

func scanAuditEntries(rows pgx.Rows, withRecord bool) ([]models.LockAuditEntry, error) {
	var entries []models.LockAuditEntry
	for rows.Next() {
		var e models.LockAuditEntry
		var ownerID *uuid.UUID
		var ownerName, ownerRole, ownerEmail, reason *string
		var clientName *string
		var sessionNumber *int

		dest := []any{&e.ID, &e.RecordID, &e.Action,
			&e.PerformedBy.UserID, &e.PerformedBy.Name, &e.PerformedBy.Role, &e.PerformedBy.Email,
			&ownerID, &ownerName, &ownerRole, &ownerEmail, &reason, &e.Metadata, &e.CreatedAt}
		if withRecord {
			dest = append(dest, &clientName, &sessionNumber)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}

		if ownerID != nil {
			e.LockOwner = &models.Identity{UserID: *ownerID}
			if ownerName != nil {
				e.LockOwner.Name = *ownerName
			}
			if ownerRole != nil {
				e.LockOwner.Role = models.Role(*ownerRole)
			}
			if ownerEmail != nil {
				e.LockOwner.Email = *ownerEmail
			}
		}
		if reason != nil {
			e.Reason = *reason
		}
		if clientName != nil {
			ref := &models.RecordRef{ID: e.RecordID, ClientName: *clientName}
			if sessionNumber != nil {
				ref.SessionNumber = *sessionNumber
			}
			e.Record = ref
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/counseling-records/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type LeaseRepo struct {
	pool *pgxpool.Pool
}

func NewLeaseRepo(pool *pgxpool.Pool) *LeaseRepo {
	return &LeaseRepo{pool: pool}
}

// FindActive returns the active lease for a record, or nil when the record is
// unlocked. Expiry is not applied here; callers sweep first.
func (r *LeaseRepo) FindActive(ctx context.Context, recordID uuid.UUID) (*models.RecordLease, error) {
	var l models.RecordLease
	err := r.pool.QueryRow(ctx, `
		SELECT id, record_id, holder_user_id, holder_name, holder_role, holder_email,
		       acquired_at, expires_at, active
		FROM record_leases WHERE record_id = $1 AND active
	`, recordID).Scan(&l.ID, &l.RecordID, &l.Holder.UserID, &l.Holder.Name, &l.Holder.Role, &l.Holder.Email,
		&l.AcquiredAt, &l.ExpiresAt, &l.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// UpsertIfAbsentOrExpired establishes holder as the lease owner in a single
// conditional write. The statement only takes effect when no row exists for
// the record, or the existing row is inactive or expired; a concurrent winner
// makes the conditional UPDATE match nothing, in which case (nil, nil) is
// returned and the caller must re-read to learn who holds the lock.
func (r *LeaseRepo) UpsertIfAbsentOrExpired(ctx context.Context, recordID uuid.UUID, holder models.Identity, now time.Time, ttl time.Duration) (*models.RecordLease, error) {
	l := models.RecordLease{
		RecordID:   recordID,
		Holder:     holder,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
		Active:     true,
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO record_leases (record_id, holder_user_id, holder_name, holder_role, holder_email, acquired_at, expires_at, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
		ON CONFLICT (record_id) DO UPDATE SET
			holder_user_id = EXCLUDED.holder_user_id,
			holder_name    = EXCLUDED.holder_name,
			holder_role    = EXCLUDED.holder_role,
			holder_email   = EXCLUDED.holder_email,
			acquired_at    = EXCLUDED.acquired_at,
			expires_at     = EXCLUDED.expires_at,
			active         = TRUE
		WHERE NOT record_leases.active OR record_leases.expires_at < EXCLUDED.acquired_at
		RETURNING id
	`, recordID, holder.UserID, holder.Name, holder.Role, holder.Email, l.AcquiredAt, l.ExpiresAt,
	).Scan(&l.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// Refresh extends an existing lease in place (idempotent re-acquisition by
// the current holder).
func (r *LeaseRepo) Refresh(ctx context.Context, leaseID uuid.UUID, expiresAt time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE record_leases SET expires_at = $1 WHERE id = $2`, expiresAt, leaseID)
	return err
}

func (r *LeaseRepo) Delete(ctx context.Context, leaseID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM record_leases WHERE id = $1`, leaseID)
	return err
}

// DeleteExpired removes every lease that expired before the given instant and
// returns the removed rows so the caller can audit each expiry. Concurrent
// sweeps reclaim disjoint sets: a row is only returned by the DELETE that
// actually removed it.
func (r *LeaseRepo) DeleteExpired(ctx context.Context, before time.Time) ([]models.RecordLease, error) {
	rows, err := r.pool.Query(ctx, `
		DELETE FROM record_leases WHERE expires_at < $1
		RETURNING id, record_id, holder_user_id, holder_name, holder_role, holder_email,
		          acquired_at, expires_at, active
	`, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var expired []models.RecordLease
	for rows.Next() {
		var l models.RecordLease
		if err := rows.Scan(&l.ID, &l.RecordID, &l.Holder.UserID, &l.Holder.Name, &l.Holder.Role, &l.Holder.Email,
			&l.AcquiredAt, &l.ExpiresAt, &l.Active); err != nil {
			return nil, err
		}
		expired = append(expired, l)
	}
	return expired, rows.Err()
}

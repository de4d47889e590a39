package repositories

import (
	"context"
	"fmt"

	"github.com/counseling-records/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RecordRepo struct {
	pool *pgxpool.Pool
}

func NewRecordRepo(pool *pgxpool.Pool) *RecordRepo {
	return &RecordRepo{pool: pool}
}

func (r *RecordRepo) Create(ctx context.Context, rec *models.Record) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO records (client_name, session_number, counselor, session_date, notes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`, rec.ClientName, rec.SessionNumber, rec.Counselor, rec.SessionDate, rec.Notes, rec.CreatedBy,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
}

func (r *RecordRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Record, error) {
	var rec models.Record
	err := r.pool.QueryRow(ctx, `
		SELECT id, client_name, session_number, counselor, session_date, notes, created_by, created_at, updated_at
		FROM records WHERE id = $1
	`, id).Scan(&rec.ID, &rec.ClientName, &rec.SessionNumber, &rec.Counselor, &rec.SessionDate,
		&rec.Notes, &rec.CreatedBy, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *RecordRepo) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM records WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

type RecordFilter struct {
	Counselor *string
	Client    *string
	Limit     int
	Offset    int
}

func (r *RecordRepo) List(ctx context.Context, f RecordFilter) ([]models.Record, error) {
	query := `
		SELECT id, client_name, session_number, counselor, session_date, notes, created_by, created_at, updated_at
		FROM records
	`
	args := []any{}
	argIdx := 1
	where := []string{}

	if f.Counselor != nil {
		where = append(where, fmt.Sprintf("counselor = $%d", argIdx))
		args = append(args, *f.Counselor)
		argIdx++
	}
	if f.Client != nil {
		where = append(where, fmt.Sprintf("client_name ILIKE $%d", argIdx))
		args = append(args, "%"+*f.Client+"%")
		argIdx++
	}

	if len(where) > 0 {
		query += " WHERE "
		for i, w := range where {
			if i > 0 {
				query += " AND "
			}
			query += w
		}
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.Record
	for rows.Next() {
		var rec models.Record
		if err := rows.Scan(&rec.ID, &rec.ClientName, &rec.SessionNumber, &rec.Counselor, &rec.SessionDate,
			&rec.Notes, &rec.CreatedBy, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *RecordRepo) Update(ctx context.Context, rec *models.Record) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE records SET client_name = $1, session_number = $2, counselor = $3,
			session_date = $4, notes = $5, updated_at = now()
		WHERE id = $6
	`, rec.ClientName, rec.SessionNumber, rec.Counselor, rec.SessionDate, rec.Notes, rec.ID)
	return err
}

func (r *RecordRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM records WHERE id = $1`, id)
	return err
}

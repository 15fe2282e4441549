package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"go-file-engine/internal/model"
)

const trashColumns = `id, resource_id, original_path, trashed_path, is_dir, size,
	deleted_at, expires_at, restored_at`

type TrashRepository struct {
	pool *pgxpool.Pool
}

func NewTrashRepository(pool *pgxpool.Pool) *TrashRepository {
	return &TrashRepository{pool: pool}
}

func (r *TrashRepository) Create(ctx context.Context, record model.TrashRecord) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO trash_records (`+trashColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		record.ID, record.ResourceID, record.OriginalPath, record.TrashedPath,
		record.IsDir, record.Size, record.DeletedAt, record.ExpiresAt, record.RestoredAt)
	if err != nil {
		return fmt.Errorf("create trash record: %w", err)
	}
	return nil
}

func (r *TrashRepository) FindByID(ctx context.Context, id string) (model.TrashRecord, error) {
	rec, err := scanTrashRecord(r.pool.QueryRow(ctx,
		`SELECT `+trashColumns+` FROM trash_records WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.TrashRecord{}, model.ErrTrashItemNotFound
	}
	if err != nil {
		return model.TrashRecord{}, fmt.Errorf("find trash by id: %w", err)
	}
	return rec, nil
}

func (r *TrashRepository) MarkRestored(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE trash_records SET restored_at = $2
		 WHERE id = $1 AND restored_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("mark restored: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrTrashItemNotFound
	}
	return nil
}

func (r *TrashRepository) List(ctx context.Context, includeRestored bool) ([]model.TrashRecord, error) {
	query := `SELECT ` + trashColumns + ` FROM trash_records`
	if !includeRestored {
		query += ` WHERE restored_at IS NULL`
	}
	query += ` ORDER BY deleted_at DESC`
	return r.query(ctx, "list trash", query)
}

func (r *TrashRepository) ListExpired(ctx context.Context, now time.Time) ([]model.TrashRecord, error) {
	return r.query(ctx, "list expired trash",
		`SELECT `+trashColumns+` FROM trash_records
		 WHERE restored_at IS NULL AND expires_at IS NOT NULL AND expires_at <= $1
		 ORDER BY expires_at`, now)
}

func (r *TrashRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM trash_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete trash record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrTrashItemNotFound
	}
	return nil
}

func (r *TrashRepository) query(ctx context.Context, op string, query string, args ...any) ([]model.TrashRecord, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	records := make([]model.TrashRecord, 0)
	for rows.Next() {
		rec, err := scanTrashRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trash record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanTrashRecord(row pgx.Row) (model.TrashRecord, error) {
	var rec model.TrashRecord
	err := row.Scan(&rec.ID, &rec.ResourceID, &rec.OriginalPath, &rec.TrashedPath,
		&rec.IsDir, &rec.Size, &rec.DeletedAt, &rec.ExpiresAt, &rec.RestoredAt)
	if err != nil {
		return model.TrashRecord{}, err
	}
	rec.DeletedAt = rec.DeletedAt.UTC()
	return rec, nil
}

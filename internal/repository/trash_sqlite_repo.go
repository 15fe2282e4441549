package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go-file-engine/internal/database"
	"go-file-engine/internal/model"
)

// SQLiteTrashRepository keeps the trash ledger in a local SQLite file for
// single-node deployments without Postgres.
type SQLiteTrashRepository struct {
	db *database.SQLiteDB
}

func NewSQLiteTrashRepository(db *database.SQLiteDB) *SQLiteTrashRepository {
	return &SQLiteTrashRepository{db: db}
}

func (r *SQLiteTrashRepository) Create(ctx context.Context, record model.TrashRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO trash_records (`+trashColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.ResourceID, record.OriginalPath, record.TrashedPath,
		record.IsDir, record.Size, record.DeletedAt, nullTime(record.ExpiresAt), nullTime(record.RestoredAt))
	if err != nil {
		return fmt.Errorf("create trash record: %w", err)
	}
	return nil
}

func (r *SQLiteTrashRepository) FindByID(ctx context.Context, id string) (model.TrashRecord, error) {
	rec, err := scanSQLiteTrashRecord(r.db.QueryRowContext(ctx,
		`SELECT `+trashColumns+` FROM trash_records WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.TrashRecord{}, model.ErrTrashItemNotFound
	}
	if err != nil {
		return model.TrashRecord{}, fmt.Errorf("find trash by id: %w", err)
	}
	return rec, nil
}

func (r *SQLiteTrashRepository) MarkRestored(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE trash_records SET restored_at = ? WHERE id = ? AND restored_at IS NULL`, at, id)
	if err != nil {
		return fmt.Errorf("mark restored: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return model.ErrTrashItemNotFound
	}
	return nil
}

func (r *SQLiteTrashRepository) List(ctx context.Context, includeRestored bool) ([]model.TrashRecord, error) {
	query := `SELECT ` + trashColumns + ` FROM trash_records`
	if !includeRestored {
		query += ` WHERE restored_at IS NULL`
	}
	query += ` ORDER BY deleted_at DESC`
	return r.query(ctx, "list trash", query)
}

func (r *SQLiteTrashRepository) ListExpired(ctx context.Context, now time.Time) ([]model.TrashRecord, error) {
	return r.query(ctx, "list expired trash",
		`SELECT `+trashColumns+` FROM trash_records
		 WHERE restored_at IS NULL AND expires_at IS NOT NULL AND expires_at <= ?
		 ORDER BY expires_at`, now)
}

func (r *SQLiteTrashRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM trash_records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete trash record: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return model.ErrTrashItemNotFound
	}
	return nil
}

func (r *SQLiteTrashRepository) query(ctx context.Context, op string, query string, args ...any) ([]model.TrashRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	records := make([]model.TrashRecord, 0)
	for rows.Next() {
		rec, err := scanSQLiteTrashRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trash record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteTrashRecord(row rowScanner) (model.TrashRecord, error) {
	var rec model.TrashRecord
	var expiresAt, restoredAt sql.NullTime

	err := row.Scan(&rec.ID, &rec.ResourceID, &rec.OriginalPath, &rec.TrashedPath,
		&rec.IsDir, &rec.Size, &rec.DeletedAt, &expiresAt, &restoredAt)
	if err != nil {
		return model.TrashRecord{}, err
	}

	rec.DeletedAt = rec.DeletedAt.UTC()
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		rec.ExpiresAt = &t
	}
	if restoredAt.Valid {
		t := restoredAt.Time.UTC()
		rec.RestoredAt = &t
	}
	return rec, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

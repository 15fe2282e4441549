package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteDB backs the trash ledger on nodes without Postgres.
type SQLiteDB struct {
	*sql.DB
}

func NewSQLite(dbPath string) (*SQLiteDB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	return &SQLiteDB{db}, nil
}

func (db *SQLiteDB) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS trash_records (
			id TEXT PRIMARY KEY,
			resource_id TEXT NOT NULL,
			original_path TEXT NOT NULL,
			trashed_path TEXT NOT NULL,
			is_dir BOOLEAN NOT NULL DEFAULT 0,
			size INTEGER NOT NULL DEFAULT 0,
			deleted_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP,
			restored_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trash_records_resource ON trash_records(resource_id)`,
		`CREATE INDEX IF NOT EXISTS idx_trash_records_expires ON trash_records(expires_at)`,
	}

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("sqlite migration failed: %w", err)
		}
	}
	return nil
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"tldraw-collab/core"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	db *sql.DB
}

// NewStore creates a new SQLite-based store.
func NewStore(dataSourceName string) *sqliteStore {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		log.Fatalf("failed to open sqlite database: %v", err)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS files (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			name TEXT NOT NULL,
			path TEXT NOT NULL,
			shared TEXT NOT NULL DEFAULT '',
			created_at DATETIME,
			updated_at DATETIME
		);`,
		`CREATE TABLE IF NOT EXISTS documents (
			owner_id TEXT NOT NULL,
			path TEXT NOT NULL,
			data BLOB,
			updated_at DATETIME,
			PRIMARY KEY (owner_id, path)
		);`,
		`CREATE TABLE IF NOT EXISTS assets (
			owner_id TEXT NOT NULL,
			name TEXT NOT NULL,
			data BLOB,
			PRIMARY KEY (owner_id, name)
		);`,
	}
	for _, stmt := range stmts {
		if _, err = db.Exec(stmt); err != nil {
			log.Fatalf("failed to initialize schema: %v", err)
		}
	}

	return &sqliteStore{db}
}

func (s *sqliteStore) CreateFile(ctx context.Context, file *core.FileRecord) error {
	now := time.Now()
	if file.CreatedAt.IsZero() {
		file.CreatedAt = now
	}
	file.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO files (id, owner_id, name, path, shared, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		file.ID, file.OwnerID, file.Name, file.Path, string(file.Shared), file.CreatedAt, file.UpdatedAt)
	if err != nil {
		logrus.WithError(err).WithField("file_id", file.ID).Error("Failed to create file record")
		return err
	}
	return nil
}

func (s *sqliteStore) FileByID(ctx context.Context, id string) (*core.FileRecord, error) {
	var record core.FileRecord
	var shared string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, owner_id, name, path, shared, created_at, updated_at FROM files WHERE id = ?", id).
		Scan(&record.ID, &record.OwnerID, &record.Name, &record.Path, &shared, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	record.Shared = core.SharedMode(shared)
	return &record, nil
}

func (s *sqliteStore) ListFiles(ctx context.Context, ownerID string) ([]*core.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, path, shared, created_at, updated_at FROM files WHERE owner_id = ?", ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]*core.FileRecord, 0)
	for rows.Next() {
		var record core.FileRecord
		var shared string
		record.OwnerID = ownerID
		if err := rows.Scan(&record.ID, &record.Name, &record.Path, &shared, &record.CreatedAt, &record.UpdatedAt); err != nil {
			return nil, err
		}
		record.Shared = core.SharedMode(shared)
		records = append(records, &record)
	}
	return records, rows.Err()
}

func (s *sqliteStore) GetDocument(ctx context.Context, ownerID, path string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM documents WHERE owner_id = ? AND path = ?", ownerID, path).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *sqliteStore) PutDocument(ctx context.Context, ownerID, path string, data []byte) error {
	now := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (owner_id, path, data, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (owner_id, path) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		ownerID, path, data, now)
	if err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}

	// Keep the record's modification time in step with the body.
	if _, err = tx.ExecContext(ctx,
		"UPDATE files SET updated_at = ? WHERE owner_id = ? AND path = ?", now, ownerID, path); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *sqliteStore) PutAsset(ctx context.Context, ownerID, name string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO assets (owner_id, name, data) VALUES (?, ?, ?)
		 ON CONFLICT (owner_id, name) DO UPDATE SET data = excluded.data`,
		ownerID, name, data)
	return err
}

func (s *sqliteStore) GetAsset(ctx context.Context, ownerID, name string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM assets WHERE owner_id = ? AND name = ?", ownerID, name).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

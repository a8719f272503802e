// Package storage provides the SQLite implementation of DocumentStore.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kiokudb/kioku/internal/models"
)

// SQLiteStore implements DocumentStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes
// the schema. Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		hash TEXT PRIMARY KEY,
		original_name TEXT NOT NULL,
		stored_name TEXT,
		source_path TEXT,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		uploaded_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_documents_uploaded_at ON documents(uploaded_at);
	CREATE INDEX IF NOT EXISTS idx_documents_source_path ON documents(source_path);
	`
	_, err := db.Exec(schema)
	return err
}

// Upsert inserts the document or replaces the row with the same hash.
func (s *SQLiteStore) Upsert(ctx context.Context, doc *models.Document) error {
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (hash, original_name, stored_name, source_path, size_bytes, chunk_count, uploaded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(hash) DO UPDATE SET
		   original_name = excluded.original_name,
		   stored_name = excluded.stored_name,
		   source_path = excluded.source_path,
		   size_bytes = excluded.size_bytes,
		   chunk_count = excluded.chunk_count,
		   uploaded_at = excluded.uploaded_at`,
		doc.Hash, doc.OriginalName, doc.StoredName, doc.SourcePath, doc.SizeBytes, doc.ChunkCount, doc.UploadedAt,
	)
	return err
}

// Get returns the document with the given content hash.
func (s *SQLiteStore) Get(ctx context.Context, hash string) (*models.Document, error) {
	return s.scanOne(s.db.QueryRowContext(ctx,
		`SELECT hash, original_name, stored_name, source_path, size_bytes, chunk_count, uploaded_at
		 FROM documents WHERE hash = ?`, hash))
}

// GetBySourcePath returns the document last ingested from the given path.
func (s *SQLiteStore) GetBySourcePath(ctx context.Context, path string) (*models.Document, error) {
	return s.scanOne(s.db.QueryRowContext(ctx,
		`SELECT hash, original_name, stored_name, source_path, size_bytes, chunk_count, uploaded_at
		 FROM documents WHERE source_path = ? ORDER BY uploaded_at DESC LIMIT 1`, path))
}

// scanOne scans a single-row result. A missing row is not an error, it
// returns (nil, nil) so callers can distinguish absence from failure.
func (s *SQLiteStore) scanOne(row *sql.Row) (*models.Document, error) {
	var doc models.Document
	var storedName, sourcePath sql.NullString
	err := row.Scan(&doc.Hash, &doc.OriginalName, &storedName, &sourcePath, &doc.SizeBytes, &doc.ChunkCount, &doc.UploadedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	doc.StoredName = storedName.String
	doc.SourcePath = sourcePath.String
	return &doc, nil
}

// Delete removes the document with the given hash.
func (s *SQLiteStore) Delete(ctx context.Context, hash string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE hash = ?`, hash)
	return err
}

// List returns documents ordered by upload time, newest first.
func (s *SQLiteStore) List(ctx context.Context, offset, limit int) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT hash, original_name, stored_name, source_path, size_bytes, chunk_count, uploaded_at
		 FROM documents ORDER BY uploaded_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		var doc models.Document
		var storedName, sourcePath sql.NullString
		if err := rows.Scan(&doc.Hash, &doc.OriginalName, &storedName, &sourcePath, &doc.SizeBytes, &doc.ChunkCount, &doc.UploadedAt); err != nil {
			return nil, err
		}
		doc.StoredName = storedName.String
		doc.SourcePath = sourcePath.String
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

// Count returns the number of documents in the side table.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	return n, err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

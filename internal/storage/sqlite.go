package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/setsumei/internal/models"
)

// SQLiteStorage implements Store using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
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

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS instances (
		position INTEGER PRIMARY KEY,
		identifier TEXT NOT NULL,
		segments TEXT NOT NULL,
		embedding BLOB,
		dimensions INTEGER NOT NULL DEFAULT 0,
		imported_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_instances_identifier ON instances(identifier);
	`
	_, err := db.Exec(schema)
	return err
}

// ReplaceInstances atomically replaces the stored dataset with instances, keyed by slice position.
func (s *SQLiteStorage) ReplaceInstances(ctx context.Context, instances []*models.Instance) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM instances`); err != nil {
		return fmt.Errorf("failed to clear instances: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO instances (position, identifier, segments, embedding, dimensions, imported_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for i, inst := range instances {
		segments, err := json.Marshal(inst.Segments)
		if err != nil {
			return fmt.Errorf("failed to marshal segments of %s: %w", inst.Identifier, err)
		}
		if _, err := stmt.ExecContext(ctx, i, inst.Identifier, string(segments),
			encodeEmbedding(inst.Embedding), len(inst.Embedding), now); err != nil {
			return fmt.Errorf("failed to insert instance %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// ListInstances returns every stored instance in position order.
func (s *SQLiteStorage) ListInstances(ctx context.Context) ([]*models.Instance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT position, identifier, segments, embedding FROM instances ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// GetInstance returns the instance stored at position.
func (s *SQLiteStorage) GetInstance(ctx context.Context, position int) (*models.Instance, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT position, identifier, segments, embedding FROM instances WHERE position = ?`, position)
	inst, err := scanInstance(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", ErrOutOfRange, position)
	}
	return inst, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInstance(sc scanner) (*models.Instance, error) {
	var inst models.Instance
	var segments string
	var blob []byte
	if err := sc.Scan(&inst.Position, &inst.Identifier, &segments, &blob); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(segments), &inst.Segments); err != nil {
		return nil, fmt.Errorf("failed to unmarshal segments of %s: %w", inst.Identifier, err)
	}
	emb, err := decodeEmbedding(blob)
	if err != nil {
		return nil, fmt.Errorf("instance %s: %w", inst.Identifier, err)
	}
	inst.Embedding = emb
	return &inst, nil
}

// CountInstances returns the number of stored instances.
func (s *SQLiteStorage) CountInstances(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM instances`).Scan(&count)
	return count, err
}

// CountEmbedded returns the number of stored instances that have an embedding.
func (s *SQLiteStorage) CountEmbedded(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM instances WHERE dimensions > 0`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

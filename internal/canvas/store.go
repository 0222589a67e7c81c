package canvas

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/manash/maskopt/pkg/models"
)

var ErrCanvasNotFound = errors.New("canvas not found")

const schema = `
CREATE TABLE IF NOT EXISTS canvases (
    name TEXT PRIMARY KEY,
    image BLOB NOT NULL,
    format TEXT NOT NULL DEFAULT '',
    width INTEGER NOT NULL DEFAULT 0,
    height INTEGER NOT NULL DEFAULT 0,
    revision_id TEXT NOT NULL,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_canvases_updated_at ON canvases(updated_at);
`

// Record is a stored canvas image.
type Record struct {
	Name       string
	Image      models.Image
	RevisionID string
	UpdatedAt  time.Time
}

type Store struct {
	db *sql.DB
}

func NewStore() (*Store, error) {
	dbPath, err := DefaultDBPath()
	if err != nil {
		return nil, err
	}
	return NewStoreWithPath(dbPath)
}

func NewStoreWithPath(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

func DefaultDBPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".maskopt", "canvas.db"), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Put replaces the named canvas and returns the new revision ID.
func (s *Store) Put(ctx context.Context, name string, img models.Image) (string, error) {
	rev := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO canvases (name, image, format, width, height, revision_id, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		   image = excluded.image, format = excluded.format,
		   width = excluded.width, height = excluded.height,
		   revision_id = excluded.revision_id, updated_at = excluded.updated_at`,
		name, img.Data, img.Format, img.Width, img.Height, rev, time.Now().UTC())
	if err != nil {
		return "", err
	}
	return rev, nil
}

func (s *Store) Get(ctx context.Context, name string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT name, image, format, width, height, revision_id, updated_at
		 FROM canvases WHERE name = ?`, name)

	rec := &Record{}
	err := row.Scan(&rec.Name, &rec.Image.Data, &rec.Image.Format, &rec.Image.Width,
		&rec.Image.Height, &rec.RevisionID, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrCanvasNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM canvases WHERE name = ?`, name)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrCanvasNotFound, name)
	}
	return nil
}

// List returns stored canvases without their image bytes, newest first.
func (s *Store) List(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, length(image), format, width, height, revision_id, updated_at
		 FROM canvases ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec := &Record{}
		var size int
		if err := rows.Scan(&rec.Name, &size, &rec.Image.Format, &rec.Image.Width,
			&rec.Image.Height, &rec.RevisionID, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Image.Data = make([]byte, size)
		records = append(records, rec)
	}
	return records, rows.Err()
}

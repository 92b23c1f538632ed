// Package storage provides the SQLite-backed item metadata store.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/bunsilmul/chaja/internal/models"
)

// ErrNotFound is returned when no item exists for the requested id.
var ErrNotFound = errors.New("storage: item not found")

// ItemStore keeps the local metadata mirror of registered items.
type ItemStore struct {
	db *sql.DB
}

// NewItemStore opens or creates a SQLite database at dbPath and initializes
// the schema. Parent directories are created if they do not exist.
func NewItemStore(dbPath string) (*ItemStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &ItemStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS items (
		external_id INTEGER PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		brand TEXT NOT NULL DEFAULT '',
		caption TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_items_updated_at ON items(updated_at);
	`
	_, err := db.Exec(schema)
	return err
}

// Upsert inserts the item or replaces an existing row with the same id,
// preserving the original created_at.
func (s *ItemStore) Upsert(ctx context.Context, item *models.Item) error {
	now := time.Now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO items (external_id, name, description, brand, caption, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(external_id) DO UPDATE SET
		   name = excluded.name,
		   description = excluded.description,
		   brand = excluded.brand,
		   caption = excluded.caption,
		   updated_at = excluded.updated_at`,
		item.ExternalID, item.Name, item.Description, item.Brand, item.Caption,
		item.CreatedAt, item.UpdatedAt,
	)
	return err
}

// Get returns the item with the given id, or ErrNotFound.
func (s *ItemStore) Get(ctx context.Context, externalID int64) (*models.Item, error) {
	var item models.Item
	err := s.db.QueryRowContext(ctx,
		`SELECT external_id, name, description, brand, caption, created_at, updated_at
		 FROM items WHERE external_id = ?`, externalID,
	).Scan(&item.ExternalID, &item.Name, &item.Description, &item.Brand, &item.Caption,
		&item.CreatedAt, &item.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, externalID)
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// GetBatch returns items for the given ids keyed by id. Missing ids are
// simply absent from the result, not an error.
func (s *ItemStore) GetBatch(ctx context.Context, externalIDs []int64) (map[int64]*models.Item, error) {
	out := make(map[int64]*models.Item, len(externalIDs))
	if len(externalIDs) == 0 {
		return out, nil
	}

	placeholders := strings.Repeat("?,", len(externalIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(externalIDs))
	for i, id := range externalIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT external_id, name, description, brand, caption, created_at, updated_at
		 FROM items WHERE external_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item models.Item
		if err := rows.Scan(&item.ExternalID, &item.Name, &item.Description, &item.Brand,
			&item.Caption, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, err
		}
		out[item.ExternalID] = &item
	}
	return out, rows.Err()
}

// Delete removes the item. Deleting an unknown id is a no-op.
func (s *ItemStore) Delete(ctx context.Context, externalID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE external_id = ?`, externalID)
	return err
}

// List returns up to limit items ordered by most recently updated.
func (s *ItemStore) List(ctx context.Context, limit int) ([]*models.Item, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT external_id, name, description, brand, caption, created_at, updated_at
		 FROM items ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.Item
	for rows.Next() {
		var item models.Item
		if err := rows.Scan(&item.ExternalID, &item.Name, &item.Description, &item.Brand,
			&item.Caption, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}

// Count returns the number of stored items.
func (s *ItemStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&count)
	return count, err
}

// Close closes the database.
func (s *ItemStore) Close() error {
	return s.db.Close()
}

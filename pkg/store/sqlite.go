// Copyright 2026 © The Larder Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/larderhq/larder/pkg/errors"
)

const (
	itemTable = "larder_items"
	prefTable = "larder_preferences"
)

// SQLiteStore persists the inventory in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed inventory store and ensures schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New(errors.CodeStoreError, "db is nil", nil)
	}
	if err := ensureInventorySchema(db); err != nil {
		return nil, errors.New(errors.CodeStoreError, "ensuring inventory schema", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Open opens (creating if needed) a SQLite database at path and returns an
// inventory store over it.
func Open(path string) (*SQLiteStore, *sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nil, errors.New(errors.CodeStoreError, "opening sqlite database", err).
			WithContext("path", path)
	}
	s, err := NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return s, db, nil
}

func ensureInventorySchema(db *sql.DB) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			quantity REAL NOT NULL,
			min_quantity REAL NOT NULL,
			unit TEXT NOT NULL DEFAULT '',
			daily_usage REAL NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		);`, itemTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_name ON %s(name);`, itemTable, itemTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);`, prefTable),
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// UpsertItem creates or replaces an item keyed by its normalized name.
func (s *SQLiteStore) UpsertItem(ctx context.Context, item Item) (*Item, error) {
	name := normalizeName(item.Name)
	if name == "" {
		return nil, errors.New(errors.CodeInvalidArguments, "item name is required", nil)
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, name, quantity, min_quantity, unit, daily_usage, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				quantity = excluded.quantity,
				min_quantity = excluded.min_quantity,
				unit = excluded.unit,
				daily_usage = excluded.daily_usage,
				updated_at = excluded.updated_at`, itemTable),
		item.ID, name, item.Quantity, item.MinQuantity, item.Unit, item.DailyUsage, now.UnixMilli())
	if err != nil {
		return nil, errors.New(errors.CodeStoreError, "upserting item", err).
			WithContext("name", name)
	}
	return s.GetItem(ctx, name)
}

// GetItem returns the item with the given name.
func (s *SQLiteStore) GetItem(ctx context.Context, name string) (*Item, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT id, name, quantity, min_quantity, unit, daily_usage, updated_at FROM %s WHERE name = ?", itemTable),
		normalizeName(name))
	item, err := scanItem(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.New(errors.CodeStoreError, "item not found", nil).
				WithContext("name", name)
		}
		return nil, errors.New(errors.CodeStoreError, "reading item", err)
	}
	return item, nil
}

// ListItems returns all items sorted by name.
func (s *SQLiteStore) ListItems(ctx context.Context) ([]*Item, error) {
	return s.queryItems(ctx,
		fmt.Sprintf("SELECT id, name, quantity, min_quantity, unit, daily_usage, updated_at FROM %s ORDER BY name", itemTable))
}

// LowStockItems returns items at or below their minimum, sorted by name.
func (s *SQLiteStore) LowStockItems(ctx context.Context) ([]*Item, error) {
	return s.queryItems(ctx,
		fmt.Sprintf("SELECT id, name, quantity, min_quantity, unit, daily_usage, updated_at FROM %s WHERE quantity <= min_quantity ORDER BY name", itemTable))
}

func (s *SQLiteStore) queryItems(ctx context.Context, query string, args ...any) ([]*Item, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.New(errors.CodeStoreError, "listing items", err)
	}
	defer rows.Close()
	out := make([]*Item, 0)
	for rows.Next() {
		item, err := scanItem(rows.Scan)
		if err != nil {
			return nil, errors.New(errors.CodeStoreError, "scanning item", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// AdjustQuantity adds delta to the item's quantity, floored at zero.
func (s *SQLiteStore) AdjustQuantity(ctx context.Context, name string, delta float64) (*Item, error) {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET quantity = MAX(0, quantity + ?), updated_at = ? WHERE name = ?", itemTable),
		delta, time.Now().UTC().UnixMilli(), normalizeName(name))
	if err != nil {
		return nil, errors.New(errors.CodeStoreError, "adjusting quantity", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, errors.New(errors.CodeStoreError, "item not found", nil).
			WithContext("name", name)
	}
	return s.GetItem(ctx, name)
}

// RemoveItem deletes a single item.
func (s *SQLiteStore) RemoveItem(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE name = ?", itemTable), normalizeName(name))
	if err != nil {
		return errors.New(errors.CodeStoreError, "removing item", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.New(errors.CodeStoreError, "item not found", nil).
			WithContext("name", name)
	}
	return nil
}

// DeleteAll wipes the inventory, returning the number of items removed.
func (s *SQLiteStore) DeleteAll(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", itemTable))
	if err != nil {
		return 0, errors.New(errors.CodeStoreError, "deleting inventory", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

// SetPreference stores one preference value.
func (s *SQLiteStore) SetPreference(ctx context.Context, key, value string) error {
	if key == "" {
		return errors.New(errors.CodeInvalidArguments, "preference key is required", nil)
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`, prefTable),
		key, value, time.Now().UTC().UnixMilli())
	if err != nil {
		return errors.New(errors.CodeStoreError, "setting preference", err).
			WithContext("key", key)
	}
	return nil
}

// GetPreference returns one preference value, or empty string when unset.
func (s *SQLiteStore) GetPreference(ctx context.Context, key string) (string, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT value FROM %s WHERE key = ?", prefTable), key)
	var value string
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", errors.New(errors.CodeStoreError, "reading preference", err)
	}
	return value, nil
}

func scanItem(scan func(dest ...any) error) (*Item, error) {
	var (
		item        Item
		updatedAtMs int64
	)
	if err := scan(&item.ID, &item.Name, &item.Quantity, &item.MinQuantity, &item.Unit, &item.DailyUsage, &updatedAtMs); err != nil {
		return nil, err
	}
	item.UpdatedAt = time.UnixMilli(updatedAtMs).UTC()
	return &item, nil
}

var _ InventoryStore = (*SQLiteStore)(nil)

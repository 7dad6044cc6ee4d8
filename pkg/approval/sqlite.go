// Copyright 2026 © The Larder Authors
// SPDX-License-Identifier: Apache-2.0

package approval

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/larderhq/larder/pkg/errors"
)

const approvalTable = "larder_approvals"

// SQLiteStore persists approvals in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed approval store and ensures schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New(errors.CodeStoreError, "db is nil", nil)
	}
	if err := ensureApprovalSchema(db); err != nil {
		return nil, errors.New(errors.CodeStoreError, "ensuring approval schema", err)
	}
	return &SQLiteStore{db: db}, nil
}

func ensureApprovalSchema(db *sql.DB) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			tool_name TEXT NOT NULL,
			status TEXT NOT NULL,
			reason TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL DEFAULT 0
		);`, approvalTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_status ON %s(status);`, approvalTable, approvalTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_tool ON %s(tool_name);`, approvalTable, approvalTable),
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Create inserts an approval record.
func (s *SQLiteStore) Create(ctx context.Context, record Record) (*Record, error) {
	if record.ToolName == "" {
		return nil, errors.New(errors.CodeInvalidArguments, "tool_name is required", nil)
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Status == "" {
		record.Status = StatusPending
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	expiresAt := int64(0)
	if !record.ExpiresAt.IsZero() {
		expiresAt = record.ExpiresAt.UnixMilli()
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (id, tool_name, status, reason, created_at, updated_at, expires_at) VALUES (?, ?, ?, ?, ?, ?, ?)", approvalTable),
		record.ID, record.ToolName, string(record.Status), record.Reason, record.CreatedAt.UnixMilli(), record.UpdatedAt.UnixMilli(), expiresAt)
	if err != nil {
		return nil, errors.New(errors.CodeStoreError, "inserting approval", err)
	}
	return s.Get(ctx, record.ID)
}

// Get returns an approval record by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT id, tool_name, status, reason, created_at, updated_at, expires_at FROM %s WHERE id = ?", approvalTable),
		id,
	)
	record, err := scanApproval(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.New(errors.CodeApprovalRequired, "approval not found", nil).
				WithContext("id", id)
		}
		return nil, errors.New(errors.CodeStoreError, "reading approval", err)
	}
	return record, nil
}

// List returns approvals matching the filter, newest first.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]*Record, error) {
	where := "1=1"
	args := make([]any, 0)
	if filter.ToolName != "" {
		where += " AND tool_name = ?"
		args = append(args, filter.ToolName)
	}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	limit := ""
	if filter.Limit > 0 {
		limit = fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	query := fmt.Sprintf("SELECT id, tool_name, status, reason, created_at, updated_at, expires_at FROM %s WHERE %s ORDER BY updated_at DESC%s", approvalTable, where, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.New(errors.CodeStoreError, "listing approvals", err)
	}
	defer rows.Close()
	out := make([]*Record, 0)
	for rows.Next() {
		record, err := scanApproval(rows.Scan)
		if err != nil {
			return nil, errors.New(errors.CodeStoreError, "scanning approval", err)
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// UpdateStatus updates approval status and reason.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status Status, reason string) (*Record, error) {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET status = ?, reason = ?, updated_at = ? WHERE id = ?", approvalTable),
		string(status), reason, time.Now().UTC().UnixMilli(), id)
	if err != nil {
		return nil, errors.New(errors.CodeStoreError, "updating approval", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, errors.New(errors.CodeApprovalRequired, "approval not found", nil).
			WithContext("id", id)
	}
	return s.Get(ctx, id)
}

// ExpireApprovals marks overdue pending and granted approvals expired.
func (s *SQLiteStore) ExpireApprovals(ctx context.Context) (int, error) {
	now := time.Now().UTC().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET status = ?, reason = ?, updated_at = ? WHERE expires_at > 0 AND expires_at <= ? AND status IN (?, ?)", approvalTable),
		string(StatusExpired), "expired", now, now, string(StatusPending), string(StatusGranted))
	if err != nil {
		return 0, errors.New(errors.CodeStoreError, "expiring approvals", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

func scanApproval(scan func(dest ...any) error) (*Record, error) {
	var (
		record      Record
		status      string
		createdAtMs int64
		updatedAtMs int64
		expiresAtMs int64
	)
	if err := scan(&record.ID, &record.ToolName, &status, &record.Reason, &createdAtMs, &updatedAtMs, &expiresAtMs); err != nil {
		return nil, err
	}
	record.Status = Status(status)
	record.CreatedAt = time.UnixMilli(createdAtMs).UTC()
	record.UpdatedAt = time.UnixMilli(updatedAtMs).UTC()
	if expiresAtMs > 0 {
		record.ExpiresAt = time.UnixMilli(expiresAtMs).UTC()
	}
	return &record, nil
}

var _ Store = (*SQLiteStore)(nil)

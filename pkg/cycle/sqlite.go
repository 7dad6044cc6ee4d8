// Copyright 2026 © The Larder Authors
// SPDX-License-Identifier: Apache-2.0

package cycle

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/larderhq/larder/pkg/errors"
)

const summaryTable = "larder_cycle_summaries"

// SQLiteSummaryStore persists cycle summaries in a SQLite database.
type SQLiteSummaryStore struct {
	db *sql.DB
}

// NewSQLiteSummaryStore creates a SQLite-backed summary store and ensures
// schema.
func NewSQLiteSummaryStore(db *sql.DB) (*SQLiteSummaryStore, error) {
	if db == nil {
		return nil, errors.New(errors.CodeStoreError, "db is nil", nil)
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			cycle_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			completed_at INTEGER NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			actions_json BLOB NOT NULL
		);`, summaryTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_started ON %s(started_at);`, summaryTable, summaryTable),
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return nil, errors.New(errors.CodeStoreError, "ensuring cycle schema", err)
		}
	}
	return &SQLiteSummaryStore{db: db}, nil
}

// SaveSummary implements SummaryStore.
func (s *SQLiteSummaryStore) SaveSummary(ctx context.Context, summary Summary) error {
	if summary.CycleID == "" {
		return errors.New(errors.CodeInvalidArguments, "cycle_id is required", nil)
	}
	actions, err := json.Marshal(summary.Actions)
	if err != nil {
		return errors.New(errors.CodeStoreError, "encoding actions", err)
	}
	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT OR REPLACE INTO %s (cycle_id, status, started_at, completed_at, error, actions_json) VALUES (?, ?, ?, ?, ?, ?)", summaryTable),
		summary.CycleID, string(summary.Status), summary.StartedAt.UnixMilli(), summary.CompletedAt.UnixMilli(), summary.Error, actions)
	if err != nil {
		return errors.New(errors.CodeStoreError, "saving cycle summary", err).
			WithContext("cycle_id", summary.CycleID)
	}
	return nil
}

// ListSummaries implements SummaryStore, newest first.
func (s *SQLiteSummaryStore) ListSummaries(ctx context.Context, limit int) ([]Summary, error) {
	query := fmt.Sprintf("SELECT cycle_id, status, started_at, completed_at, error, actions_json FROM %s ORDER BY started_at DESC", summaryTable)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.New(errors.CodeStoreError, "listing cycle summaries", err)
	}
	defer rows.Close()
	out := make([]Summary, 0)
	for rows.Next() {
		var (
			summary       Summary
			status        string
			startedAtMs   int64
			completedAtMs int64
			actionsJSON   []byte
		)
		if err := rows.Scan(&summary.CycleID, &status, &startedAtMs, &completedAtMs, &summary.Error, &actionsJSON); err != nil {
			return nil, errors.New(errors.CodeStoreError, "scanning cycle summary", err)
		}
		summary.Status = Status(status)
		summary.StartedAt = time.UnixMilli(startedAtMs).UTC()
		summary.CompletedAt = time.UnixMilli(completedAtMs).UTC()
		if len(actionsJSON) > 0 {
			if err := json.Unmarshal(actionsJSON, &summary.Actions); err != nil {
				return nil, errors.New(errors.CodeStoreError, "decoding actions", err)
			}
		}
		out = append(out, summary)
	}
	return out, rows.Err()
}

var _ SummaryStore = (*SQLiteSummaryStore)(nil)

// Copyright 2026 © The Larder Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/larderhq/larder/pkg/errors"
)

const conversationTable = "larder_conversation"

// SQLiteConversation persists conversation history in a SQLite database.
type SQLiteConversation struct {
	db     *sql.DB
	config Config
}

// NewSQLiteConversation creates a SQLite-backed conversation store and
// ensures schema.
func NewSQLiteConversation(db *sql.DB, config Config) (*SQLiteConversation, error) {
	if db == nil {
		return nil, errors.New(errors.CodeStoreError, "db is nil", nil)
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_call_id TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);`, conversationTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_session ON %s(session_id, created_at);`, conversationTable, conversationTable),
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return nil, errors.New(errors.CodeStoreError, "ensuring conversation schema", err)
		}
	}
	return &SQLiteConversation{db: db, config: config}, nil
}

// Append implements ConversationMemory.
func (s *SQLiteConversation) Append(ctx context.Context, sessionID string, msg Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SessionID == "" {
		msg.SessionID = sessionID
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (id, session_id, role, content, tool_call_id, created_at) VALUES (?, ?, ?, ?, ?, ?)", conversationTable),
		msg.ID, msg.SessionID, msg.Role, msg.Content, msg.ToolCallID, msg.CreatedAt.UnixMilli())
	if err != nil {
		return errors.New(errors.CodeStoreError, "appending message", err).
			WithContext("session_id", sessionID)
	}
	return nil
}

// Messages implements ConversationMemory.
func (s *SQLiteConversation) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	messages, err := s.query(ctx,
		fmt.Sprintf("SELECT id, session_id, role, content, tool_call_id, created_at FROM %s WHERE session_id = ? ORDER BY created_at, id", conversationTable),
		sessionID)
	if err != nil {
		return nil, err
	}
	if s.config.Truncation != nil && len(messages) > 0 {
		return s.config.Truncation.Truncate(ctx, messages)
	}
	return messages, nil
}

// Recent implements ConversationMemory.
func (s *SQLiteConversation) Recent(ctx context.Context, sessionID string, n int) ([]Message, error) {
	messages, err := s.query(ctx,
		fmt.Sprintf("SELECT id, session_id, role, content, tool_call_id, created_at FROM %s WHERE session_id = ? ORDER BY created_at DESC, id DESC LIMIT %d", conversationTable, n),
		sessionID)
	if err != nil {
		return nil, err
	}
	// Restore chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// Clear implements ConversationMemory.
func (s *SQLiteConversation) Clear(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE session_id = ?", conversationTable), sessionID)
	if err != nil {
		return errors.New(errors.CodeStoreError, "clearing session", err).
			WithContext("session_id", sessionID)
	}
	return nil
}

func (s *SQLiteConversation) query(ctx context.Context, query string, args ...any) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.New(errors.CodeStoreError, "reading conversation", err)
	}
	defer rows.Close()
	out := make([]Message, 0)
	for rows.Next() {
		var (
			msg         Message
			createdAtMs int64
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &msg.ToolCallID, &createdAtMs); err != nil {
			return nil, errors.New(errors.CodeStoreError, "scanning message", err)
		}
		msg.CreatedAt = time.UnixMilli(createdAtMs).UTC()
		out = append(out, msg)
	}
	return out, rows.Err()
}

var _ ConversationMemory = (*SQLiteConversation)(nil)

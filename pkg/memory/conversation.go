// Copyright 2026 © The Larder Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory stores ordered conversation history so multi-turn chat can
// replay recent context to the model. History is sequential, not semantic.
package memory

import (
	"context"
	"time"
)

// Message is a single entry in a session's conversation history.
type Message struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Role       string    `json:"role"` // system, user, assistant, tool
	Content    string    `json:"content"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ConversationMemory stores and retrieves ordered per-session history.
type ConversationMemory interface {
	// Append adds a message to the session.
	Append(ctx context.Context, sessionID string, msg Message) error

	// Messages returns the session history in creation order, after the
	// configured truncation strategy (if any) has been applied.
	Messages(ctx context.Context, sessionID string) ([]Message, error)

	// Recent returns the last n messages for the session.
	Recent(ctx context.Context, sessionID string, n int) ([]Message, error)

	// Clear removes the session.
	Clear(ctx context.Context, sessionID string) error
}

// TruncationStrategy reduces history while preserving enough context.
type TruncationStrategy interface {
	Truncate(ctx context.Context, messages []Message) ([]Message, error)
}

// Config tunes a conversation store.
type Config struct {
	// Truncation is applied on read; nil returns full history.
	Truncation TruncationStrategy
}

// WindowStrategy keeps the last MaxMessages messages. System messages survive
// the window when KeepSystem is set.
type WindowStrategy struct {
	MaxMessages int
	KeepSystem  bool
}

// Truncate implements TruncationStrategy.
func (w *WindowStrategy) Truncate(_ context.Context, messages []Message) ([]Message, error) {
	if w.MaxMessages <= 0 || len(messages) <= w.MaxMessages {
		return messages, nil
	}
	if !w.KeepSystem {
		return messages[len(messages)-w.MaxMessages:], nil
	}

	system := make([]Message, 0)
	rest := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == "system" {
			system = append(system, msg)
		} else {
			rest = append(rest, msg)
		}
	}
	available := w.MaxMessages - len(system)
	if available < 0 {
		available = 0
	}
	if len(rest) > available {
		rest = rest[len(rest)-available:]
	}
	out := make([]Message, 0, len(system)+len(rest))
	out = append(out, system...)
	out = append(out, rest...)
	return out, nil
}

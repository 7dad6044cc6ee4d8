// Copyright 2026 © The Larder Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryConversation keeps history in process memory. Suitable for tests
// and single-instance runs; data is lost on restart.
type InMemoryConversation struct {
	mu       sync.RWMutex
	sessions map[string][]Message
	config   Config
}

// NewInMemoryConversation creates an empty in-memory conversation store.
func NewInMemoryConversation(config Config) *InMemoryConversation {
	return &InMemoryConversation{
		sessions: make(map[string][]Message),
		config:   config,
	}
}

// Append implements ConversationMemory.
func (m *InMemoryConversation) Append(_ context.Context, sessionID string, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SessionID == "" {
		msg.SessionID = sessionID
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	m.sessions[sessionID] = append(m.sessions[sessionID], msg)
	return nil
}

// Messages implements ConversationMemory.
func (m *InMemoryConversation) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	m.mu.RLock()
	messages := make([]Message, len(m.sessions[sessionID]))
	copy(messages, m.sessions[sessionID])
	m.mu.RUnlock()

	if m.config.Truncation != nil && len(messages) > 0 {
		return m.config.Truncation.Truncate(ctx, messages)
	}
	return messages, nil
}

// Recent implements ConversationMemory.
func (m *InMemoryConversation) Recent(_ context.Context, sessionID string, n int) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.sessions[sessionID]
	if len(all) <= n {
		out := make([]Message, len(all))
		copy(out, all)
		return out, nil
	}
	out := make([]Message, n)
	copy(out, all[len(all)-n:])
	return out, nil
}

// Clear implements ConversationMemory.
func (m *InMemoryConversation) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

var _ ConversationMemory = (*InMemoryConversation)(nil)

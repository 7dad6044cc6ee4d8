// Copyright 2026 © The Larder Authors
// SPDX-License-Identifier: Apache-2.0

// Package approval implements the human-in-the-loop approval channel
// contract: pending requests, operator grant/reject, single-use tokens with
// expiry. The safety policy consumes redemption results; it never talks to
// this store directly.
package approval

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/larderhq/larder/pkg/errors"
)

// Status is the lifecycle state of an approval request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusGranted  Status = "granted"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
	StatusUsed     Status = "used"
)

// Record is one approval request. The ID doubles as the approval token the
// caller re-submits with the tool-call request.
type Record struct {
	ID        string    `json:"id"`
	ToolName  string    `json:"tool_name"`
	Reason    string    `json:"reason,omitempty"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Filter narrows List results.
type Filter struct {
	ToolName string
	Status   Status
	Limit    int
}

// Store persists approval requests.
type Store interface {
	Create(ctx context.Context, record Record) (*Record, error)
	Get(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context, filter Filter) ([]*Record, error)
	UpdateStatus(ctx context.Context, id string, status Status, reason string) (*Record, error)

	// ExpireApprovals marks overdue pending and granted records expired,
	// returning how many were affected. Swept on an interval by the daemon.
	ExpireApprovals(ctx context.Context) (int, error)
}

// Approver answers whether a token authorizes a tool call. Redemption is
// single-use: a granted token transitions to used on first success.
type Approver interface {
	Redeem(ctx context.Context, token, toolName string) (bool, error)
}

// Service wraps a Store with the request/grant/redeem workflow.
type Service struct {
	store Store
	ttl   time.Duration
}

// NewService creates an approval service. ttl bounds how long a request
// stays redeemable; zero means no expiry.
func NewService(store Store, ttl time.Duration) *Service {
	return &Service{store: store, ttl: ttl}
}

// Request opens a pending approval for a tool call and returns the record
// whose ID is the eventual token.
func (s *Service) Request(ctx context.Context, toolName, reason string) (*Record, error) {
	record := Record{
		ToolName: toolName,
		Reason:   reason,
		Status:   StatusPending,
	}
	if s.ttl > 0 {
		record.ExpiresAt = time.Now().UTC().Add(s.ttl)
	}
	return s.store.Create(ctx, record)
}

// Grant marks a pending request granted.
func (s *Service) Grant(ctx context.Context, id string) (*Record, error) {
	record, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.Status != StatusPending {
		return nil, errors.New(errors.CodeApprovalRequired, "approval is not pending", nil).
			WithContext("status", string(record.Status))
	}
	return s.store.UpdateStatus(ctx, id, StatusGranted, "granted by operator")
}

// Reject marks a pending request rejected.
func (s *Service) Reject(ctx context.Context, id, reason string) (*Record, error) {
	if reason == "" {
		reason = "rejected by operator"
	}
	return s.store.UpdateStatus(ctx, id, StatusRejected, reason)
}

// Redeem implements Approver. A token is valid when granted, unexpired, and
// issued for the same tool; redemption consumes it.
func (s *Service) Redeem(ctx context.Context, token, toolName string) (bool, error) {
	if token == "" {
		return false, nil
	}
	record, err := s.store.Get(ctx, token)
	if err != nil {
		if errors.CodeOf(err) == errors.CodeApprovalRequired {
			return false, nil
		}
		return false, err
	}
	if record.Status != StatusGranted || record.ToolName != toolName {
		return false, nil
	}
	if !record.ExpiresAt.IsZero() && time.Now().UTC().After(record.ExpiresAt) {
		_, _ = s.store.UpdateStatus(ctx, token, StatusExpired, "expired before redemption")
		return false, nil
	}
	if _, err := s.store.UpdateStatus(ctx, token, StatusUsed, "redeemed"); err != nil {
		return false, err
	}
	return true, nil
}

// ExpireApprovals sweeps the underlying store.
func (s *Service) ExpireApprovals(ctx context.Context) (int, error) {
	return s.store.ExpireApprovals(ctx)
}

// Pending lists pending requests, newest first.
func (s *Service) Pending(ctx context.Context) ([]*Record, error) {
	return s.store.List(ctx, Filter{Status: StatusPending})
}

// List returns records matching the filter, newest first.
func (s *Service) List(ctx context.Context, filter Filter) ([]*Record, error) {
	return s.store.List(ctx, filter)
}

// InMemoryStore is a Store for tests and single-process development.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewInMemoryStore creates an empty in-memory approval store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]Record)}
}

// Create implements Store.
func (m *InMemoryStore) Create(_ context.Context, record Record) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

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
	m.records[record.ID] = record
	out := record
	return &out, nil
}

// Get implements Store.
func (m *InMemoryStore) Get(_ context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[id]
	if !ok {
		return nil, errors.New(errors.CodeApprovalRequired, "approval not found", nil).
			WithContext("id", id)
	}
	out := record
	return &out, nil
}

// List implements Store.
func (m *InMemoryStore) List(_ context.Context, filter Filter) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Record, 0)
	for _, record := range m.records {
		if filter.ToolName != "" && record.ToolName != filter.ToolName {
			continue
		}
		if filter.Status != "" && record.Status != filter.Status {
			continue
		}
		r := record
		out = append(out, &r)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// UpdateStatus implements Store.
func (m *InMemoryStore) UpdateStatus(_ context.Context, id string, status Status, reason string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[id]
	if !ok {
		return nil, errors.New(errors.CodeApprovalRequired, "approval not found", nil).
			WithContext("id", id)
	}
	record.Status = status
	record.Reason = reason
	record.UpdatedAt = time.Now().UTC()
	m.records[id] = record
	out := record
	return &out, nil
}

// ExpireApprovals implements Store.
func (m *InMemoryStore) ExpireApprovals(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	expired := 0
	for id, record := range m.records {
		if record.ExpiresAt.IsZero() || record.ExpiresAt.After(now) {
			continue
		}
		if record.Status == StatusPending || record.Status == StatusGranted {
			record.Status = StatusExpired
			record.Reason = "expired"
			record.UpdatedAt = now
			m.records[id] = record
			expired++
		}
	}
	return expired, nil
}

var (
	_ Store    = (*InMemoryStore)(nil)
	_ Approver = (*Service)(nil)
)

// Copyright 2026 © The Larder Authors
// SPDX-License-Identifier: Apache-2.0

// Package store persists the household inventory: named items with quantity
// levels and a small preference key/value space. Every operation is a single
// atomic read or write; tool handlers never span more than one call.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/larderhq/larder/pkg/errors"
)

// Item is one tracked inventory entry. Quantity and MinQuantity share Unit;
// DailyUsage is the observed consumption rate used for depletion forecasts.
type Item struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Quantity    float64   `json:"quantity"`
	MinQuantity float64   `json:"min_quantity"`
	Unit        string    `json:"unit,omitempty"`
	DailyUsage  float64   `json:"daily_usage,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// LowStock reports whether the item is at or below its minimum level.
func (i Item) LowStock() bool {
	return i.Quantity <= i.MinQuantity
}

// DaysUntilDepletion estimates how many days remain at the current usage
// rate. Returns -1 when no usage rate is known.
func (i Item) DaysUntilDepletion() float64 {
	if i.DailyUsage <= 0 {
		return -1
	}
	if i.Quantity <= 0 {
		return 0
	}
	return i.Quantity / i.DailyUsage
}

// InventoryStore is the collaborator tool handlers read and write through.
type InventoryStore interface {
	UpsertItem(ctx context.Context, item Item) (*Item, error)
	GetItem(ctx context.Context, name string) (*Item, error)
	ListItems(ctx context.Context) ([]*Item, error)
	LowStockItems(ctx context.Context) ([]*Item, error)
	AdjustQuantity(ctx context.Context, name string, delta float64) (*Item, error)
	RemoveItem(ctx context.Context, name string) error
	DeleteAll(ctx context.Context) (int, error)

	SetPreference(ctx context.Context, key, value string) error
	GetPreference(ctx context.Context, key string) (string, error)
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// MemoryStore is an InventoryStore held entirely in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]Item
	prefs map[string]string
}

// NewMemoryStore creates an empty in-memory inventory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]Item),
		prefs: make(map[string]string),
	}
}

// UpsertItem creates or replaces an item keyed by its normalized name.
func (m *MemoryStore) UpsertItem(_ context.Context, item Item) (*Item, error) {
	key := normalizeName(item.Name)
	if key == "" {
		return nil, errors.New(errors.CodeInvalidArguments, "item name is required", nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.items[key]; ok {
		item.ID = existing.ID
	} else if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.Name = key
	item.UpdatedAt = time.Now().UTC()
	m.items[key] = item
	out := item
	return &out, nil
}

// GetItem returns the item with the given name.
func (m *MemoryStore) GetItem(_ context.Context, name string) (*Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.items[normalizeName(name)]
	if !ok {
		return nil, errors.New(errors.CodeStoreError, "item not found", nil).
			WithContext("name", name)
	}
	out := item
	return &out, nil
}

// ListItems returns all items sorted by name.
func (m *MemoryStore) ListItems(_ context.Context) ([]*Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Item, 0, len(m.items))
	for _, item := range m.items {
		i := item
		out = append(out, &i)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out, nil
}

// LowStockItems returns items at or below their minimum, sorted by name.
func (m *MemoryStore) LowStockItems(ctx context.Context) ([]*Item, error) {
	items, err := m.ListItems(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Item, 0)
	for _, item := range items {
		if item.LowStock() {
			out = append(out, item)
		}
	}
	return out, nil
}

// AdjustQuantity adds delta to the item's quantity, floored at zero.
func (m *MemoryStore) AdjustQuantity(_ context.Context, name string, delta float64) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := normalizeName(name)
	item, ok := m.items[key]
	if !ok {
		return nil, errors.New(errors.CodeStoreError, "item not found", nil).
			WithContext("name", name)
	}
	item.Quantity += delta
	if item.Quantity < 0 {
		item.Quantity = 0
	}
	item.UpdatedAt = time.Now().UTC()
	m.items[key] = item
	out := item
	return &out, nil
}

// RemoveItem deletes a single item.
func (m *MemoryStore) RemoveItem(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := normalizeName(name)
	if _, ok := m.items[key]; !ok {
		return errors.New(errors.CodeStoreError, "item not found", nil).
			WithContext("name", name)
	}
	delete(m.items, key)
	return nil
}

// DeleteAll wipes the inventory, returning the number of items removed.
func (m *MemoryStore) DeleteAll(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.items)
	m.items = make(map[string]Item)
	return n, nil
}

// SetPreference stores one preference value.
func (m *MemoryStore) SetPreference(_ context.Context, key, value string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New(errors.CodeInvalidArguments, "preference key is required", nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs[key] = value
	return nil
}

// GetPreference returns one preference value, or empty string when unset.
func (m *MemoryStore) GetPreference(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.prefs[key], nil
}

var _ InventoryStore = (*MemoryStore)(nil)

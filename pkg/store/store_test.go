// Copyright 2026 © The Larder Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/larderhq/larder/pkg/errors"

	_ "modernc.org/sqlite"
)

// Both implementations must behave identically from a handler's point of view.
func stores(t *testing.T) map[string]InventoryStore {
	t.Helper()
	sqlite, db, err := Open(filepath.Join(t.TempDir(), "inventory.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return map[string]InventoryStore{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestItemLifecycle(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			item, err := s.UpsertItem(ctx, Item{Name: "Milk", Quantity: 2, MinQuantity: 1, Unit: "l"})
			if err != nil {
				t.Fatalf("upsert: %v", err)
			}
			if item.ID == "" {
				t.Fatalf("expected generated id")
			}
			if item.Name != "milk" {
				t.Fatalf("expected normalized name, got %q", item.Name)
			}

			// Upsert by the same name keeps the identity.
			again, err := s.UpsertItem(ctx, Item{Name: "milk", Quantity: 3, MinQuantity: 1, Unit: "l"})
			if err != nil {
				t.Fatalf("upsert again: %v", err)
			}
			if again.ID != item.ID {
				t.Fatalf("expected stable id across upserts")
			}
			if again.Quantity != 3 {
				t.Fatalf("expected quantity 3, got %v", again.Quantity)
			}

			adjusted, err := s.AdjustQuantity(ctx, "milk", -1)
			if err != nil {
				t.Fatalf("adjust: %v", err)
			}
			if adjusted.Quantity != 2 {
				t.Fatalf("expected quantity 2, got %v", adjusted.Quantity)
			}

			// Quantity never goes negative.
			floored, err := s.AdjustQuantity(ctx, "milk", -10)
			if err != nil {
				t.Fatalf("adjust below zero: %v", err)
			}
			if floored.Quantity != 0 {
				t.Fatalf("expected floor at 0, got %v", floored.Quantity)
			}

			if err := s.RemoveItem(ctx, "milk"); err != nil {
				t.Fatalf("remove: %v", err)
			}
			if _, err := s.GetItem(ctx, "milk"); errors.CodeOf(err) != errors.CodeStoreError {
				t.Fatalf("expected store error after removal, got %v", err)
			}
		})
	}
}

func TestLowStockItems(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seed := []Item{
				{Name: "rice", Quantity: 5, MinQuantity: 1},
				{Name: "milk", Quantity: 1, MinQuantity: 2},
				{Name: "eggs", Quantity: 2, MinQuantity: 2},
			}
			for _, item := range seed {
				if _, err := s.UpsertItem(ctx, item); err != nil {
					t.Fatalf("upsert %s: %v", item.Name, err)
				}
			}
			low, err := s.LowStockItems(ctx)
			if err != nil {
				t.Fatalf("low stock: %v", err)
			}
			if len(low) != 2 {
				t.Fatalf("expected 2 low-stock items, got %d", len(low))
			}
			// Sorted by name.
			if low[0].Name != "eggs" || low[1].Name != "milk" {
				t.Fatalf("unexpected order: %s, %s", low[0].Name, low[1].Name)
			}
		})
	}
}

func TestDeleteAll(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, n := range []string{"rice", "milk", "eggs"} {
				if _, err := s.UpsertItem(ctx, Item{Name: n, Quantity: 1}); err != nil {
					t.Fatalf("upsert: %v", err)
				}
			}
			deleted, err := s.DeleteAll(ctx)
			if err != nil {
				t.Fatalf("delete all: %v", err)
			}
			if deleted != 3 {
				t.Fatalf("expected 3 deleted, got %d", deleted)
			}
			items, err := s.ListItems(ctx)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(items) != 0 {
				t.Fatalf("expected empty inventory, got %d items", len(items))
			}
		})
	}
}

func TestPreferences(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.SetPreference(ctx, "budget", "150"); err != nil {
				t.Fatalf("set: %v", err)
			}
			if err := s.SetPreference(ctx, "budget", "200"); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			got, err := s.GetPreference(ctx, "budget")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got != "200" {
				t.Fatalf("expected 200, got %q", got)
			}
			unset, err := s.GetPreference(ctx, "missing")
			if err != nil {
				t.Fatalf("get unset: %v", err)
			}
			if unset != "" {
				t.Fatalf("expected empty for unset key, got %q", unset)
			}
			if err := s.SetPreference(ctx, "", "x"); errors.CodeOf(err) != errors.CodeInvalidArguments {
				t.Fatalf("expected invalid arguments for empty key, got %v", err)
			}
		})
	}
}

func TestDaysUntilDepletion(t *testing.T) {
	cases := []struct {
		name string
		item Item
		want float64
	}{
		{"no usage rate", Item{Quantity: 4}, -1},
		{"already empty", Item{Quantity: 0, DailyUsage: 2}, 0},
		{"steady usage", Item{Quantity: 4, DailyUsage: 2}, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.item.DaysUntilDepletion(); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

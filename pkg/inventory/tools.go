// Copyright 2026 © The Larder Authors
// SPDX-License-Identifier: Apache-2.0

// Package inventory provides the built-in household tools registered with
// the orchestrator. Handlers own their collaborators (store, vendor client)
// and issue at most one store operation per call.
package inventory

import (
	"context"
	"fmt"

	"github.com/larderhq/larder/pkg/errors"
	"github.com/larderhq/larder/pkg/store"
	"github.com/larderhq/larder/pkg/tool"
	"github.com/larderhq/larder/pkg/vendor"
)

// RegisterAll registers every built-in tool. The vendor client may be nil;
// place_order then reports the vendor as unavailable instead of ordering.
func RegisterAll(registry *tool.Registry, inv store.InventoryStore, v vendor.Client) error {
	tools := []tool.Tool{
		GetInventoryItems(inv),
		GetLowStockItems(inv),
		ForecastDepletion(inv),
		GetPreference(inv),
		AddInventoryItem(inv),
		AdjustQuantity(inv),
		SetPreference(inv),
		RemoveInventoryItem(inv),
		PlaceOrder(v),
		DeleteAllInventory(inv),
	}
	for _, t := range tools {
		if err := registry.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// GetInventoryItems lists every tracked item.
func GetInventoryItems(inv store.InventoryStore) tool.Tool {
	return &tool.Func{
		Def: tool.Definition{
			Name:           "get_inventory_items",
			Description:    "List every tracked inventory item with its quantity, minimum level, and unit.",
			Classification: tool.Informational,
		},
		Handler: func(ctx context.Context, _ map[string]any) (any, error) {
			return inv.ListItems(ctx)
		},
	}
}

// GetLowStockItems lists items at or below their minimum quantity.
func GetLowStockItems(inv store.InventoryStore) tool.Tool {
	return &tool.Func{
		Def: tool.Definition{
			Name:           "get_low_stock_items",
			Description:    "List items whose quantity is at or below their minimum level.",
			Classification: tool.Informational,
		},
		Handler: func(ctx context.Context, _ map[string]any) (any, error) {
			return inv.LowStockItems(ctx)
		},
	}
}

// depletionForecast is one row of a forecast result.
type depletionForecast struct {
	Name          string  `json:"name"`
	Quantity      float64 `json:"quantity"`
	DailyUsage    float64 `json:"daily_usage"`
	DaysRemaining float64 `json:"days_remaining"`
}

// ForecastDepletion estimates days until each item runs out at its observed
// usage rate. With a name argument, forecasts that item only.
func ForecastDepletion(inv store.InventoryStore) tool.Tool {
	return &tool.Func{
		Def: tool.Definition{
			Name:           "forecast_depletion",
			Description:    "Estimate how many days remain before items run out, based on observed daily usage.",
			Classification: tool.Informational,
			Parameters: map[string]tool.Param{
				"name": {Type: "string", Description: "Forecast a single item by name"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			if name, ok := args["name"].(string); ok && name != "" {
				item, err := inv.GetItem(ctx, name)
				if err != nil {
					return nil, err
				}
				return forecastRows(item), nil
			}
			items, err := inv.ListItems(ctx)
			if err != nil {
				return nil, err
			}
			return forecastRows(items...), nil
		},
	}
}

func forecastRows(items ...*store.Item) []depletionForecast {
	out := make([]depletionForecast, 0, len(items))
	for _, item := range items {
		if item.DailyUsage <= 0 {
			continue
		}
		out = append(out, depletionForecast{
			Name:          item.Name,
			Quantity:      item.Quantity,
			DailyUsage:    item.DailyUsage,
			DaysRemaining: item.DaysUntilDepletion(),
		})
	}
	return out
}

// GetPreference reads one preference value.
func GetPreference(inv store.InventoryStore) tool.Tool {
	return &tool.Func{
		Def: tool.Definition{
			Name:           "get_preference",
			Description:    "Read a household preference value, such as the order budget.",
			Classification: tool.Informational,
			Parameters: map[string]tool.Param{
				"key": {Type: "string", Description: "Preference key", Required: true},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			key, _ := args["key"].(string)
			value, err := inv.GetPreference(ctx, key)
			if err != nil {
				return nil, err
			}
			return map[string]string{"key": key, "value": value}, nil
		},
	}
}

// AddInventoryItem creates or replaces an item.
func AddInventoryItem(inv store.InventoryStore) tool.Tool {
	return &tool.Func{
		Def: tool.Definition{
			Name:           "add_inventory_item",
			Description:    "Add a new inventory item or replace an existing one by name.",
			Classification: tool.Mutating,
			Parameters: map[string]tool.Param{
				"name":         {Type: "string", Description: "Item name", Required: true},
				"quantity":     {Type: "number", Description: "Current quantity", Required: true},
				"min_quantity": {Type: "number", Description: "Restock threshold"},
				"unit":         {Type: "string", Description: "Unit of measure"},
				"daily_usage":  {Type: "number", Description: "Observed consumption per day"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			item := store.Item{
				Name:        stringArg(args, "name"),
				Quantity:    numberArg(args, "quantity"),
				MinQuantity: numberArg(args, "min_quantity"),
				Unit:        stringArg(args, "unit"),
				DailyUsage:  numberArg(args, "daily_usage"),
			}
			return inv.UpsertItem(ctx, item)
		},
	}
}

// AdjustQuantity adds a delta to an item's quantity.
func AdjustQuantity(inv store.InventoryStore) tool.Tool {
	return &tool.Func{
		Def: tool.Definition{
			Name:           "adjust_quantity",
			Description:    "Adjust an item's quantity by a positive or negative delta.",
			Classification: tool.Mutating,
			Parameters: map[string]tool.Param{
				"name":  {Type: "string", Description: "Item name", Required: true},
				"delta": {Type: "number", Description: "Quantity change, negative to consume", Required: true},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return inv.AdjustQuantity(ctx, stringArg(args, "name"), numberArg(args, "delta"))
		},
	}
}

// SetPreference writes one preference value. Budget changes pass through the
// same safety policy as every other mutating call, whatever the entry point.
func SetPreference(inv store.InventoryStore) tool.Tool {
	return &tool.Func{
		Def: tool.Definition{
			Name:           "set_preference",
			Description:    "Set a household preference value, such as the order budget.",
			Classification: tool.Mutating,
			Parameters: map[string]tool.Param{
				"key":   {Type: "string", Description: "Preference key", Required: true},
				"value": {Type: "string", Description: "Preference value", Required: true},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			key := stringArg(args, "key")
			value := stringArg(args, "value")
			if err := inv.SetPreference(ctx, key, value); err != nil {
				return nil, err
			}
			return map[string]string{"key": key, "value": value}, nil
		},
	}
}

// RemoveInventoryItem deletes a single item.
func RemoveInventoryItem(inv store.InventoryStore) tool.Tool {
	return &tool.Func{
		Def: tool.Definition{
			Name:           "remove_inventory_item",
			Description:    "Remove a single inventory item by name.",
			Classification: tool.Mutating,
			Parameters: map[string]tool.Param{
				"name": {Type: "string", Description: "Item name", Required: true},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			name := stringArg(args, "name")
			if err := inv.RemoveItem(ctx, name); err != nil {
				return nil, err
			}
			return fmt.Sprintf("removed %s", name), nil
		},
	}
}

// PlaceOrder submits a vendor order for one item.
func PlaceOrder(v vendor.Client) tool.Tool {
	return &tool.Func{
		Def: tool.Definition{
			Name:           "place_order",
			Description:    "Place a vendor order for an item. Requires operator approval.",
			Classification: tool.Financial,
			Parameters: map[string]tool.Param{
				"item":     {Type: "string", Description: "Item to order", Required: true},
				"quantity": {Type: "number", Description: "Quantity to order", Required: true},
				"total":    {Type: "number", Description: "Order total cost", Required: true},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			if v == nil {
				return nil, errors.New(errors.CodeCollaborator, "no vendor configured", nil)
			}
			order := vendor.Order{
				Items: []vendor.OrderItem{{
					Name:     stringArg(args, "item"),
					Quantity: numberArg(args, "quantity"),
				}},
				Total: numberArg(args, "total"),
			}
			return v.PlaceOrder(ctx, order)
		},
	}
}

// DeleteAllInventory wipes the store. Guardrail-listed by default; the
// safety policy denies it even with an approval token.
func DeleteAllInventory(inv store.InventoryStore) tool.Tool {
	return &tool.Func{
		Def: tool.Definition{
			Name:           "delete_all_inventory",
			Description:    "Remove every inventory item.",
			Classification: tool.Mutating,
		},
		Handler: func(ctx context.Context, _ map[string]any) (any, error) {
			deleted, err := inv.DeleteAll(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]int{"deleted": deleted}, nil
		},
	}
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func numberArg(args map[string]any, key string) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

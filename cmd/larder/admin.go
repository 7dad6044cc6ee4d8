// Copyright 2026 © The Larder Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strconv"

	"github.com/larderhq/larder/pkg/approval"
	"github.com/larderhq/larder/pkg/store"
)

func runItems(ctx context.Context, global globalFlags, args []string) {
	if len(args) == 0 {
		fatal(errors.New("usage: larder items <list|add|adjust|remove|low-stock>"))
	}

	app, err := newApp(ctx, global)
	if err != nil {
		fatal(err)
	}
	defer app.Close()

	switch args[0] {
	case "list":
		items, err := app.inventory.ListItems(ctx)
		if err != nil {
			fatal(err)
		}
		printItems(global, items)
	case "low-stock":
		items, err := app.inventory.LowStockItems(ctx)
		if err != nil {
			fatal(err)
		}
		printItems(global, items)
	case "add":
		cmd := flag.NewFlagSet("items add", flag.ContinueOnError)
		name := cmd.String("name", "", "Item name")
		quantity := cmd.Float64("quantity", 0, "Current quantity")
		min := cmd.Float64("min", 0, "Low-stock threshold")
		unit := cmd.String("unit", "", "Unit of measure")
		usage := cmd.Float64("usage", 0, "Typical daily usage")
		if err := cmd.Parse(args[1:]); err != nil {
			fatal(err)
		}
		if *name == "" {
			fatal(errors.New("--name is required"))
		}
		item, err := app.inventory.UpsertItem(ctx, store.Item{
			Name:        *name,
			Quantity:    *quantity,
			MinQuantity: *min,
			Unit:        *unit,
			DailyUsage:  *usage,
		})
		if err != nil {
			fatal(err)
		}
		printItems(global, []*store.Item{item})
	case "adjust":
		cmd := flag.NewFlagSet("items adjust", flag.ContinueOnError)
		name := cmd.String("name", "", "Item name")
		delta := cmd.Float64("delta", 0, "Quantity change, negative to consume")
		if err := cmd.Parse(args[1:]); err != nil {
			fatal(err)
		}
		if *name == "" {
			fatal(errors.New("--name is required"))
		}
		item, err := app.inventory.AdjustQuantity(ctx, *name, *delta)
		if err != nil {
			fatal(err)
		}
		printItems(global, []*store.Item{item})
	case "remove":
		cmd := flag.NewFlagSet("items remove", flag.ContinueOnError)
		name := cmd.String("name", "", "Item name")
		if err := cmd.Parse(args[1:]); err != nil {
			fatal(err)
		}
		if *name == "" {
			fatal(errors.New("--name is required"))
		}
		if err := app.inventory.RemoveItem(ctx, *name); err != nil {
			fatal(err)
		}
		fmt.Println("removed", *name)
	default:
		fatal(fmt.Errorf("unknown items subcommand %q", args[0]))
	}
}

func printItems(global globalFlags, items []*store.Item) {
	if global.JSON {
		printJSON(items)
		return
	}
	w := newTabWriter()
	writeRow(w, "NAME", "QUANTITY", "MIN", "UNIT", "DAYS_LEFT")
	for _, item := range items {
		days := "-"
		if d := item.DaysUntilDepletion(); d >= 0 {
			days = strconv.FormatFloat(d, 'f', 1, 64)
		}
		writeRow(w, item.Name,
			strconv.FormatFloat(item.Quantity, 'f', -1, 64),
			strconv.FormatFloat(item.MinQuantity, 'f', -1, 64),
			item.Unit, days)
	}
	_ = w.Flush()
}

func runApprovals(ctx context.Context, global globalFlags, args []string) {
	if len(args) == 0 {
		fatal(errors.New("usage: larder approvals <list|grant|reject>"))
	}

	app, err := newApp(ctx, global)
	if err != nil {
		fatal(err)
	}
	defer app.Close()

	switch args[0] {
	case "list":
		cmd := flag.NewFlagSet("approvals list", flag.ContinueOnError)
		status := cmd.String("status", "", "Status filter (pending, granted, rejected, expired, used)")
		if err := cmd.Parse(args[1:]); err != nil {
			fatal(err)
		}
		records, err := app.approvals.List(ctx, approval.Filter{Status: approval.Status(*status)})
		if err != nil {
			fatal(err)
		}
		if global.JSON {
			printJSON(records)
			return
		}
		w := newTabWriter()
		writeRow(w, "TOKEN", "TOOL", "STATUS", "EXPIRES_AT", "REASON")
		for _, record := range records {
			writeRow(w, record.ID, record.ToolName, string(record.Status),
				formatTime(record.ExpiresAt), record.Reason)
		}
		_ = w.Flush()
	case "grant":
		if len(args) < 2 {
			fatal(errors.New("usage: larder approvals grant <token>"))
		}
		record, err := app.approvals.Grant(ctx, args[1])
		if err != nil {
			fatal(err)
		}
		fmt.Printf("granted %s for %s (expires %s)\n", record.ID, record.ToolName, formatTime(record.ExpiresAt))
	case "reject":
		cmd := flag.NewFlagSet("approvals reject", flag.ContinueOnError)
		reason := cmd.String("reason", "", "Rejection reason")
		if len(args) < 2 {
			fatal(errors.New("usage: larder approvals reject <token> [--reason <text>]"))
		}
		if err := cmd.Parse(args[2:]); err != nil {
			fatal(err)
		}
		record, err := app.approvals.Reject(ctx, args[1], *reason)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("rejected %s for %s\n", record.ID, record.ToolName)
	default:
		fatal(fmt.Errorf("unknown approvals subcommand %q", args[0]))
	}
}

func runTools(ctx context.Context, global globalFlags, args []string) {
	if len(args) == 0 || args[0] != "list" {
		fatal(errors.New("usage: larder tools list"))
	}

	app, err := newApp(ctx, global)
	if err != nil {
		fatal(err)
	}
	defer app.Close()

	manifest := app.registry.Manifest()
	if global.JSON {
		printJSON(manifest)
		return
	}
	w := newTabWriter()
	writeRow(w, "NAME", "CLASSIFICATION", "DESCRIPTION")
	for _, def := range manifest {
		writeRow(w, def.Name, string(def.Classification), def.Description)
	}
	_ = w.Flush()
}

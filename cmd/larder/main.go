// Copyright 2026 © The Larder Authors
// SPDX-License-Identifier: Apache-2.0

// Command larder is the home-inventory assistant CLI: interactive chat,
// one-shot and scheduled autonomous cycles, and admin surfaces for the
// inventory, approvals, and tool registry.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"
)

var version = "dev"

type globalFlags struct {
	ConfigPath string
	JSON       bool
	Help       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	global, args, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		fatal(err)
	}
	if global.Help || len(args) == 0 {
		printUsage()
		return
	}

	switch args[0] {
	case "chat":
		runChat(ctx, global, args[1:])
	case "cycle":
		runCycleOnce(ctx, global, args[1:])
	case "daemon":
		runDaemon(ctx, global, args[1:])
	case "items":
		runItems(ctx, global, args[1:])
	case "approvals":
		runApprovals(ctx, global, args[1:])
	case "tools":
		runTools(ctx, global, args[1:])
	case "help":
		printUsage()
	case "version":
		fmt.Println(version)
	default:
		fatal(fmt.Errorf("unknown command %q", args[0]))
	}
}

func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	flags := globalFlags{}
	fs := flag.NewFlagSet("larder", flag.ContinueOnError)
	fs.StringVar(&flags.ConfigPath, "config", "", "Path to larder.yaml")
	fs.BoolVar(&flags.JSON, "json", false, "JSON output")
	fs.BoolVar(&flags.Help, "help", false, "Show usage")
	fs.Usage = printUsage
	if err := fs.Parse(args); err != nil {
		return flags, nil, err
	}
	return flags, fs.Args(), nil
}

func printUsage() {
	fmt.Println(`larder - home inventory assistant

Usage:
  larder [global flags] <command> [args]

Global flags:
  --config <path>      Path to larder.yaml
  --json               JSON output

Commands:
  chat [--session <id>] [--message <text>] [--approve <token>]
  cycle [--prompt <text>]
  daemon
  items list
  items add --name <n> --quantity <q> [--min <m>] [--unit <u>] [--usage <per-day>]
  items adjust --name <n> --delta <d>
  items remove --name <n>
  items low-stock
  approvals list [--status <s>]
  approvals grant <token>
  approvals reject <token> [--reason <text>]
  tools list
  version`)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatal(err)
	}
}

func newTabWriter() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
}

func writeRow(w *tabwriter.Writer, cols ...string) {
	fmt.Fprintln(w, strings.Join(cols, "\t"))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}

// Copyright 2026 © The Larder Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/larderhq/larder/pkg/agent"
	"github.com/larderhq/larder/pkg/approval"
	"github.com/larderhq/larder/pkg/config"
	"github.com/larderhq/larder/pkg/cycle"
	"github.com/larderhq/larder/pkg/policy"
)

func runChat(ctx context.Context, global globalFlags, args []string) {
	cmd := flag.NewFlagSet("chat", flag.ContinueOnError)
	session := cmd.String("session", "default", "Conversation session id")
	message := cmd.String("message", "", "Send a single message and exit")
	approve := cmd.String("approve", "", "Approval token for this message")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}

	app, err := newApp(ctx, global)
	if err != nil {
		fatal(err)
	}
	defer app.Close()

	orch, err := app.chatOrchestrator()
	if err != nil {
		fatal(err)
	}

	if *message != "" {
		resp, err := orch.Chat(ctx, agent.Request{
			Message:       *message,
			SessionID:     *session,
			ApprovalToken: *approve,
		})
		if err != nil {
			fatal(err)
		}
		printResponse(global, resp)
		return
	}

	fmt.Println("larder chat (empty line or Ctrl-D to exit)")
	fmt.Println("  /approve <token> <message>   resend a request with an approval token")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			break
		}

		req := agent.Request{Message: line, SessionID: *session}
		if rest, ok := strings.CutPrefix(line, "/approve "); ok {
			token, msg, found := strings.Cut(strings.TrimSpace(rest), " ")
			if !found {
				fmt.Println("usage: /approve <token> <message>")
				continue
			}
			req.Message = strings.TrimSpace(msg)
			req.ApprovalToken = token
		}

		resp, err := orch.Chat(ctx, req)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			continue
		}
		printResponse(global, resp)
	}
	if err := scanner.Err(); err != nil {
		fatal(err)
	}
}

func printResponse(global globalFlags, resp *agent.Response) {
	if global.JSON {
		printJSON(resp)
		return
	}
	fmt.Println(resp.Text)
	if resp.Status != agent.StatusCompleted {
		fmt.Printf("[status: %s]\n", resp.Status)
	}
	for _, pending := range resp.Pending {
		fmt.Printf("[approval needed: %s: %s]\n", pending.ToolName, pending.Reason)
		fmt.Printf("  grant with: larder approvals grant %s\n", pending.ApprovalID)
		fmt.Printf("  then retry: /approve %s <message>\n", pending.ApprovalID)
	}
}

// cliListener prints cycle progress as it happens.
type cliListener struct{}

func (cliListener) CycleStarted(cycleID string) {
	fmt.Printf("cycle %s started\n", cycleID)
}

func (cliListener) ActionTaken(_ string, action cycle.Action) {
	fmt.Printf("  action: %s", action.Name)
	if action.Description != "" {
		fmt.Printf(" (%s)", action.Description)
	}
	fmt.Println()
}

func (cliListener) CycleCompleted(_ string, summary cycle.Summary) {
	fmt.Printf("cycle finished: %s", summary.Status)
	if summary.Error != "" {
		fmt.Printf(" (%s)", summary.Error)
	}
	fmt.Println()
}

func runCycleOnce(ctx context.Context, global globalFlags, args []string) {
	cmd := flag.NewFlagSet("cycle", flag.ContinueOnError)
	prompt := cmd.String("prompt", "", "Override the cycle prompt")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}

	app, err := newApp(ctx, global)
	if err != nil {
		fatal(err)
	}
	defer app.Close()

	if *prompt != "" {
		app.cfg.Cycle.Prompt = *prompt
	}

	var listeners []cycle.Listener
	if !global.JSON {
		listeners = append(listeners, cliListener{})
	}
	runner, err := app.cycleRunner(listeners...)
	if err != nil {
		fatal(err)
	}

	summary := runner.RunCycle(ctx)
	if global.JSON {
		printJSON(summary)
	}
	if summary.Status == cycle.StatusFailed {
		os.Exit(1)
	}
}

func runDaemon(ctx context.Context, global globalFlags, args []string) {
	cmd := flag.NewFlagSet("daemon", flag.ContinueOnError)
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}

	app, err := newApp(ctx, global)
	if err != nil {
		fatal(err)
	}
	defer app.Close()

	runner, err := app.cycleRunner()
	if err != nil {
		fatal(err)
	}

	sweeper := approval.NewSweeper(app.approvals, app.cfg.Policy.SweepInterval, 10*time.Second)
	sweeper.Start()
	defer sweeper.Stop()

	if app.cfg.Cycle.Enabled {
		runner.Start()
		defer runner.Stop()
	} else {
		slog.Info("cycle.disabled")
	}

	// Guardrail hot-reload: rule edits apply without a restart.
	if global.ConfigPath != "" {
		watcher, err := config.NewWatcher(global.ConfigPath)
		if err != nil {
			fatal(err)
		}
		watcher.OnChange(func(cfg *config.Config) {
			rules := policy.DefaultRules(cfg.Policy.BudgetCeiling)
			if cfg.Policy.GuardrailsFile != "" {
				loaded, err := policy.LoadRules(cfg.Policy.GuardrailsFile)
				if err != nil {
					slog.Error("guardrails.reload.failed", "error", err)
					return
				}
				rules = loaded
			}
			app.policy.SetRules(rules)
			slog.Info("guardrails.reloaded", "rules", len(rules))
		})
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	slog.Info("daemon.started", "cycle_enabled", app.cfg.Cycle.Enabled,
		"cycle_interval", app.cfg.Cycle.Interval.String())
	<-ctx.Done()
	slog.Info("daemon.stopping")
}

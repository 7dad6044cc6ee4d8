// Copyright 2026 © The Larder Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/larderhq/larder/pkg/agent"
	"github.com/larderhq/larder/pkg/approval"
	"github.com/larderhq/larder/pkg/config"
	"github.com/larderhq/larder/pkg/cycle"
	"github.com/larderhq/larder/pkg/inventory"
	"github.com/larderhq/larder/pkg/llm"
	lardermcp "github.com/larderhq/larder/pkg/mcp"
	"github.com/larderhq/larder/pkg/memory"
	"github.com/larderhq/larder/pkg/policy"
	"github.com/larderhq/larder/pkg/store"
	"github.com/larderhq/larder/pkg/telemetry"
	"github.com/larderhq/larder/pkg/tool"
	"github.com/larderhq/larder/pkg/vendor"
	"github.com/larderhq/larder/providers/anthropic"
	"github.com/larderhq/larder/providers/openai"
)

// app holds the wired collaborators every subcommand draws from.
type app struct {
	cfg *config.Config

	db           *sql.DB
	inventory    store.InventoryStore
	conversation memory.ConversationMemory
	summaries    cycle.SummaryStore
	registry     *tool.Registry
	policy       *policy.Policy
	approvals    *approval.Service
	provider     llm.Provider
	metrics      *telemetry.EngineMetrics

	mcpClients        []*lardermcp.Client
	shutdownTelemetry telemetry.ShutdownFunc
}

func newApp(ctx context.Context, global globalFlags) (*app, error) {
	cfg, err := config.Load(global.ConfigPath)
	if err != nil {
		return nil, err
	}

	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	a := &app{cfg: cfg}

	if cfg.Telemetry.Exporter != "none" {
		shutdown, err := telemetry.InitWithConfig("larder", version, telemetry.Config{
			Exporter:     cfg.Telemetry.Exporter,
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		})
		if err != nil {
			return nil, err
		}
		a.shutdownTelemetry = shutdown
	}

	if a.metrics, err = telemetry.NewEngineMetrics(); err != nil {
		a.Close()
		return nil, err
	}

	if err := a.buildStores(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.buildPolicy(); err != nil {
		a.Close()
		return nil, err
	}
	a.buildProvider()
	if err := a.buildRegistry(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) buildStores() error {
	cfg := a.cfg
	if cfg.Store.Driver == "memory" {
		a.inventory = store.NewMemoryStore()
		a.conversation = memory.NewInMemoryConversation(a.memoryConfig())
		a.summaries = nil
		a.approvals = approval.NewService(approval.NewInMemoryStore(), cfg.Policy.ApprovalTTL)
		return nil
	}

	inv, db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	a.inventory = inv
	a.db = db

	approvalStore, err := approval.NewSQLiteStore(db)
	if err != nil {
		return err
	}
	a.approvals = approval.NewService(approvalStore, cfg.Policy.ApprovalTTL)

	if cfg.Memory.Driver == "sqlite" {
		conv, err := memory.NewSQLiteConversation(db, a.memoryConfig())
		if err != nil {
			return err
		}
		a.conversation = conv
	} else {
		a.conversation = memory.NewInMemoryConversation(a.memoryConfig())
	}

	summaries, err := cycle.NewSQLiteSummaryStore(db)
	if err != nil {
		return err
	}
	a.summaries = summaries
	return nil
}

func (a *app) memoryConfig() memory.Config {
	if a.cfg.Memory.Window <= 0 {
		return memory.Config{}
	}
	return memory.Config{Truncation: &memory.WindowStrategy{
		MaxMessages: a.cfg.Memory.Window,
		KeepSystem:  a.cfg.Memory.KeepSystem,
	}}
}

// buildPolicy installs guardrails: the rules file when configured, the
// built-in defaults otherwise.
func (a *app) buildPolicy() error {
	rules := policy.DefaultRules(a.cfg.Policy.BudgetCeiling)
	if a.cfg.Policy.GuardrailsFile != "" {
		loaded, err := policy.LoadRules(a.cfg.Policy.GuardrailsFile)
		if err != nil {
			return err
		}
		rules = loaded
	}
	a.policy = policy.New(rules)
	return nil
}

func (a *app) buildProvider() {
	cfg := a.cfg.LLM
	switch cfg.Provider {
	case "openai":
		opts := []openai.Option{openai.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		a.provider = openai.New(cfg.APIKey, opts...)
	case "anthropic":
		opts := []anthropic.Option{anthropic.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		a.provider = anthropic.New(cfg.APIKey, opts...)
	default:
		a.provider = llm.NewOllama(cfg.BaseURL)
	}
}

func (a *app) buildRegistry(ctx context.Context) error {
	a.registry = tool.NewRegistry()

	var vendorClient vendor.Client
	if a.cfg.Vendor.BaseURL != "" {
		opts := []vendor.HTTPOption{}
		if a.cfg.Vendor.APIKey != "" {
			opts = append(opts, vendor.WithAPIKey(a.cfg.Vendor.APIKey))
		}
		if a.cfg.Vendor.Timeout > 0 {
			opts = append(opts, vendor.WithHTTPTimeout(a.cfg.Vendor.Timeout))
		}
		vendorClient = vendor.NewHTTPClient(a.cfg.Vendor.BaseURL, opts...)
	}

	if err := inventory.RegisterAll(a.registry, a.inventory, vendorClient); err != nil {
		return err
	}

	for _, server := range a.cfg.MCP.Servers {
		client, err := lardermcp.NewStdioClient(server.Command, server.Args)
		if err != nil {
			slog.Warn("mcp.server.unavailable", "server", server.Name, "error", err)
			continue
		}
		n, err := lardermcp.RegisterTools(ctx, a.registry, client)
		if err != nil {
			slog.Warn("mcp.register.failed", "server", server.Name, "error", err)
			client.Close()
			continue
		}
		slog.Info("mcp.server.connected", "server", server.Name, "tools", n)
		a.mcpClients = append(a.mcpClients, client)
	}
	return nil
}

// chatOrchestrator builds the chat-with-tools loop over the app's
// collaborators. Extra options stack on top of the shared wiring.
func (a *app) chatOrchestrator(extra ...agent.Option) (*agent.Orchestrator, error) {
	opts := []agent.Option{
		agent.WithProvider(a.provider),
		agent.WithModel(a.cfg.LLM.Model),
		agent.WithRegistry(a.registry),
		agent.WithPolicy(a.policy),
		agent.WithApprover(a.approvals),
		agent.WithApprovalRequester(a.approvals),
		agent.WithConversationMemory(a.conversation),
		agent.WithMetrics(a.metrics),
	}
	if a.cfg.Agent.SystemPrompt != "" {
		opts = append(opts, agent.WithSystemPrompt(a.cfg.Agent.SystemPrompt))
	}
	if a.cfg.Agent.MaxIterations > 0 {
		opts = append(opts, agent.WithMaxIterations(a.cfg.Agent.MaxIterations))
	}
	if a.cfg.Agent.ModelTimeout > 0 {
		opts = append(opts, agent.WithModelTimeout(a.cfg.Agent.ModelTimeout))
	}
	opts = append(opts, extra...)
	return agent.New(opts...)
}

// cycleRunner builds the autonomous cycle runner with its own orchestrator.
// The runner doubles as the orchestrator's event emitter so actions are
// reported as they happen.
func (a *app) cycleRunner(listeners ...cycle.Listener) (*cycle.Runner, error) {
	opts := []cycle.RunnerOption{
		cycle.WithMetrics(a.metrics),
		cycle.WithListeners(listeners...),
	}
	if a.cfg.Cycle.Prompt != "" {
		opts = append(opts, cycle.WithPrompt(a.cfg.Cycle.Prompt))
	}
	if a.cfg.Cycle.Interval > 0 {
		opts = append(opts, cycle.WithInterval(a.cfg.Cycle.Interval))
	}
	if a.summaries != nil {
		opts = append(opts, cycle.WithSummaryStore(a.summaries))
	}
	runner := cycle.NewRunner(nil, opts...)

	extra := []agent.Option{agent.WithEventEmitter(runner)}
	if a.cfg.Cycle.MaxIterations > 0 {
		extra = append(extra, agent.WithMaxIterations(a.cfg.Cycle.MaxIterations))
	}
	orch, err := a.chatOrchestrator(extra...)
	if err != nil {
		return nil, err
	}
	runner.Bind(orch)
	return runner, nil
}

func (a *app) Close() {
	for _, client := range a.mcpClients {
		if err := client.Close(); err != nil {
			slog.Warn("mcp.close.failed", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			slog.Warn("db.close.failed", "error", err)
		}
	}
	if a.shutdownTelemetry != nil {
		if err := a.shutdownTelemetry(context.Background()); err != nil {
			fmt.Fprintln(os.Stderr, "telemetry shutdown:", err)
		}
	}
}

// Copyright 2026 © The Larder Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads Larder configuration from defaults, an optional YAML
// file, and LARDER_-prefixed environment variables, in that order of
// precedence.
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/larderhq/larder/pkg/errors"
)

type Config struct {
	Log       LogConfig       `koanf:"log"`
	LLM       LLMConfig       `koanf:"llm"`
	Store     StoreConfig     `koanf:"store"`
	Memory    MemoryConfig    `koanf:"memory"`
	Vendor    VendorConfig    `koanf:"vendor"`
	Policy    PolicyConfig    `koanf:"policy"`
	Agent     AgentConfig     `koanf:"agent"`
	Cycle     CycleConfig     `koanf:"cycle"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	MCP       MCPConfig       `koanf:"mcp"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type LLMConfig struct {
	Provider string `koanf:"provider"` // openai, anthropic, ollama
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	APIKey   string `koanf:"api_key"`
}

type StoreConfig struct {
	Driver string `koanf:"driver"` // sqlite, memory
	Path   string `koanf:"path"`
}

type MemoryConfig struct {
	Driver     string `koanf:"driver"` // sqlite, memory
	Window     int    `koanf:"window"` // messages kept per session, 0 = unbounded
	KeepSystem bool   `koanf:"keep_system"`
}

type VendorConfig struct {
	BaseURL string        `koanf:"base_url"`
	APIKey  string        `koanf:"api_key"`
	Timeout time.Duration `koanf:"timeout"`
}

type PolicyConfig struct {
	GuardrailsFile string        `koanf:"guardrails_file"`
	BudgetCeiling  float64       `koanf:"budget_ceiling"`
	ApprovalTTL    time.Duration `koanf:"approval_ttl"`
	SweepInterval  time.Duration `koanf:"sweep_interval"`
}

type AgentConfig struct {
	SystemPrompt  string        `koanf:"system_prompt"`
	MaxIterations int           `koanf:"max_iterations"`
	ModelTimeout  time.Duration `koanf:"model_timeout"`
}

type CycleConfig struct {
	Enabled       bool          `koanf:"enabled"`
	Interval      time.Duration `koanf:"interval"`
	Prompt        string        `koanf:"prompt"`
	MaxIterations int           `koanf:"max_iterations"`
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // stdout, otlp, none
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

type MCPConfig struct {
	Servers []MCPServerConfig `koanf:"servers"`
}

type MCPServerConfig struct {
	Name    string   `koanf:"name"`
	Command string   `koanf:"command"`
	Args    []string `koanf:"args"`
}

// Load builds the configuration from defaults, the optional YAML file at
// path, and LARDER_-prefixed environment variables
// (LARDER_LLM_PROVIDER -> llm.provider).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Defaults
	k.Set("log.level", "info")
	k.Set("log.format", "text")

	k.Set("llm.provider", "ollama")
	k.Set("llm.model", "qwen2.5:7b-instruct")
	k.Set("llm.base_url", "http://localhost:11434")

	k.Set("store.driver", "sqlite")
	k.Set("store.path", "larder.db")

	k.Set("memory.driver", "memory")
	k.Set("memory.window", 50)
	k.Set("memory.keep_system", true)

	k.Set("policy.budget_ceiling", 100.0)
	k.Set("policy.approval_ttl", "15m")
	k.Set("policy.sweep_interval", "1m")

	k.Set("agent.max_iterations", 4)
	k.Set("agent.model_timeout", "60s")

	k.Set("cycle.enabled", false)
	k.Set("cycle.interval", "6h")
	k.Set("cycle.max_iterations", 4)

	k.Set("telemetry.exporter", "stdout")

	k.Set("vendor.timeout", "30s")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.New(errors.CodeInternal, "load config file", err).
				WithContext("path", path)
		}
	}

	if err := k.Load(env.Provider("LARDER_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "LARDER_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, errors.New(errors.CodeInternal, "load config env", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.New(errors.CodeInternal, "unmarshal config", err)
	}

	return &cfg, nil
}

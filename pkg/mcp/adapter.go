// Copyright 2026 © The Larder Authors
// SPDX-License-Identifier: Apache-2.0

// Package mcp bridges tools exposed by Model Context Protocol servers into
// the Larder tool registry. Remote tools carry no Larder classification, so
// the adapter derives one from the MCP annotations: a read-only hint maps to
// INFORMATIONAL, everything else is treated as MUTATING and goes through the
// safety policy like any local write.
package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/larderhq/larder/pkg/errors"
	"github.com/larderhq/larder/pkg/tool"
)

// ToolCaller abstracts MCP tool execution for adapters.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
}

// Adapter wraps an MCP tool to satisfy tool.Tool.
type Adapter struct {
	def    tool.Definition
	caller ToolCaller
}

// NewAdapter builds a registry tool backed by an MCP tool definition and
// caller.
func NewAdapter(t mcp.Tool, caller ToolCaller) (*Adapter, error) {
	if t.Name == "" {
		return nil, errors.New(errors.CodeInvalidArguments, "mcp tool name is required", nil)
	}
	if caller == nil {
		return nil, errors.New(errors.CodeInvalidArguments, "tool caller is required", nil)
	}
	return &Adapter{
		def:    Definition(t),
		caller: caller,
	}, nil
}

// Name returns the MCP tool name.
func (a *Adapter) Name() string {
	return a.def.Name
}

// Definition returns the Larder-side view of the MCP tool schema.
func (a *Adapter) Definition() tool.Definition {
	return a.def
}

// Call invokes the remote tool and normalizes its result. Structured content
// wins over text; an IsError result becomes a tool failure the orchestrator
// folds into the trace.
func (a *Adapter) Call(ctx context.Context, args map[string]any) (any, error) {
	if args == nil {
		args = map[string]any{}
	}
	result, err := a.caller.CallTool(ctx, a.def.Name, args)
	if err != nil {
		return nil, errors.New(errors.CodeCollaborator, "mcp tool call failed", err).
			WithContext("tool", a.def.Name).
			WithRecoverable(true)
	}
	return resultToOutput(a.def.Name, result)
}

// Definition converts an MCP tool schema into a registry definition.
func Definition(t mcp.Tool) tool.Definition {
	return tool.Definition{
		Name:           t.Name,
		Description:    t.Description,
		Classification: classify(t),
		Parameters:     paramsFromSchema(t.InputSchema),
	}
}

// classify derives the safety class from MCP annotations. Only an explicit
// read-only hint earns INFORMATIONAL; absent or false hints stay MUTATING so
// unknown remote tools are never exempt from approval.
func classify(t mcp.Tool) tool.Classification {
	if hint := t.Annotations.ReadOnlyHint; hint != nil && *hint {
		return tool.Informational
	}
	return tool.Mutating
}

func paramsFromSchema(schema mcp.ToolInputSchema) map[string]tool.Param {
	if len(schema.Properties) == 0 {
		return nil
	}
	required := make(map[string]bool, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = true
	}
	params := make(map[string]tool.Param, len(schema.Properties))
	for name, raw := range schema.Properties {
		p := tool.Param{Type: "string", Required: required[name]}
		prop, ok := raw.(map[string]any)
		if !ok {
			params[name] = p
			continue
		}
		if typ, ok := prop["type"].(string); ok && typ != "" {
			p.Type = typ
		}
		if desc, ok := prop["description"].(string); ok {
			p.Description = desc
		}
		if values, ok := prop["enum"].([]any); ok {
			for _, v := range values {
				if s, ok := v.(string); ok {
					p.Enum = append(p.Enum, s)
				}
			}
		}
		params[name] = p
	}
	return params
}

func resultToOutput(name string, result *mcp.CallToolResult) (any, error) {
	if result == nil {
		return nil, errors.New(errors.CodeCollaborator, "mcp tool returned no result", nil).
			WithContext("tool", name)
	}
	if result.IsError {
		return nil, errors.New(errors.CodeToolFailure, fmt.Sprintf("mcp tool error: %s", textContent(result.Content)), nil).
			WithContext("tool", name)
	}
	if result.StructuredContent != nil {
		return result.StructuredContent, nil
	}
	if text := textContent(result.Content); text != "" {
		return text, nil
	}
	return result, nil
}

func textContent(items []mcp.Content) string {
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}

var _ tool.Tool = (*Adapter)(nil)

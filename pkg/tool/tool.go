// Copyright 2026 © The Larder Authors
// SPDX-License-Identifier: Apache-2.0

// Package tool defines the named capabilities the orchestration engine can
// invoke: their schema, safety classification, registry, and executor.
package tool

import (
	"context"

	"github.com/larderhq/larder/pkg/llm"
)

// Classification tags a tool with its safety class. It is immutable after
// registration: the registry snapshots the definition once.
type Classification string

const (
	// Informational tools are read-only and always allowed.
	Informational Classification = "INFORMATIONAL"

	// Mutating tools change inventory state and require approval.
	Mutating Classification = "MUTATING"

	// Financial tools have monetary consequence and require approval.
	Financial Classification = "FINANCIAL"
)

// Param describes a single tool parameter.
type Param struct {
	Type        string   `json:"type"` // string, number, integer, boolean, array, object
	Description string   `json:"description,omitempty"`
	Required    bool     `json:"required,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// Definition is the schema-described surface of a tool. It is what the model
// sees; it never exposes handler internals.
type Definition struct {
	Name           string           `json:"name"`
	Description    string           `json:"description,omitempty"`
	Classification Classification   `json:"classification"`
	Parameters     map[string]Param `json:"parameters,omitempty"`
}

// Tool is a named capability with a typed handler over injected
// collaborators. Handlers own their collaborator references; the executor
// never constructs them.
type Tool interface {
	Name() string
	Definition() Definition
	Call(ctx context.Context, args map[string]any) (any, error)
}

// LLMTool converts the definition into an LLM function-tool declaration with
// a JSON Schema parameter object.
func (d Definition) LLMTool() llm.Tool {
	properties := make(map[string]any, len(d.Parameters))
	required := make([]string, 0)
	for name, p := range d.Parameters {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		properties[name] = prop
		if p.Required {
			required = append(required, name)
		}
	}
	return llm.Tool{
		Type: llm.ToolTypeFunction,
		Function: llm.FunctionDef{
			Name:        d.Name,
			Description: d.Description,
			Parameters: map[string]any{
				"type":       "object",
				"properties": properties,
				"required":   required,
			},
		},
	}
}

// Func adapts a plain function into a Tool. Handy for tests and small
// built-ins.
type Func struct {
	Def     Definition
	Handler func(ctx context.Context, args map[string]any) (any, error)
}

// Name implements Tool.
func (f *Func) Name() string { return f.Def.Name }

// Definition implements Tool.
func (f *Func) Definition() Definition { return f.Def }

// Call implements Tool.
func (f *Func) Call(ctx context.Context, args map[string]any) (any, error) {
	return f.Handler(ctx, args)
}

var _ Tool = (*Func)(nil)

// Copyright 2026 © The Larder Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/larderhq/larder/pkg/errors"
	"github.com/larderhq/larder/pkg/tool"
)

type stubCaller struct {
	lastName string
	lastArgs map[string]any
	result   *mcp.CallToolResult
	err      error
}

func (s *stubCaller) CallTool(_ context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	s.lastName = name
	s.lastArgs = args
	return s.result, s.err
}

func boolPtr(v bool) *bool { return &v }

func lookupTool(t *testing.T) mcp.Tool {
	t.Helper()
	return mcp.Tool{
		Name:        "lookup_recipe",
		Description: "Look up a recipe by name.",
		Annotations: mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)},
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"name": map[string]any{
					"type":        "string",
					"description": "Recipe name",
				},
				"style": map[string]any{
					"type": "string",
					"enum": []any{"quick", "full"},
				},
			},
			Required: []string{"name"},
		},
	}
}

func TestDefinitionConversion(t *testing.T) {
	def := Definition(lookupTool(t))

	if def.Name != "lookup_recipe" {
		t.Fatalf("unexpected name %q", def.Name)
	}
	if def.Classification != tool.Informational {
		t.Fatalf("read-only hint should map to INFORMATIONAL, got %s", def.Classification)
	}

	name, ok := def.Parameters["name"]
	if !ok {
		t.Fatalf("missing name parameter")
	}
	if !name.Required || name.Type != "string" || name.Description != "Recipe name" {
		t.Fatalf("unexpected name param: %+v", name)
	}

	style := def.Parameters["style"]
	if style.Required {
		t.Fatalf("style should be optional")
	}
	if len(style.Enum) != 2 || style.Enum[0] != "quick" {
		t.Fatalf("unexpected enum: %v", style.Enum)
	}
}

func TestClassifyDefaultsToMutating(t *testing.T) {
	cases := []struct {
		name string
		hint *bool
		want tool.Classification
	}{
		{"read_only", boolPtr(true), tool.Informational},
		{"explicit_false", boolPtr(false), tool.Mutating},
		{"no_hint", nil, tool.Mutating},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classify(mcp.Tool{
				Name:        "remote",
				Annotations: mcp.ToolAnnotation{ReadOnlyHint: tc.hint},
			})
			if got != tc.want {
				t.Fatalf("classify = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestAdapterCallReturnsText(t *testing.T) {
	caller := &stubCaller{
		result: &mcp.CallToolResult{
			Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "pancakes"}},
		},
	}
	adapter, err := NewAdapter(lookupTool(t), caller)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}

	out, err := adapter.Call(context.Background(), map[string]any{"name": "pancakes"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out != "pancakes" {
		t.Fatalf("unexpected output %v", out)
	}
	if caller.lastName != "lookup_recipe" {
		t.Fatalf("called %q", caller.lastName)
	}
	if caller.lastArgs["name"] != "pancakes" {
		t.Fatalf("args not forwarded: %v", caller.lastArgs)
	}
}

func TestAdapterCallPrefersStructuredContent(t *testing.T) {
	caller := &stubCaller{
		result: &mcp.CallToolResult{
			Content:           []mcp.Content{mcp.TextContent{Type: "text", Text: "ignored"}},
			StructuredContent: map[string]any{"servings": 4.0},
		},
	}
	adapter, err := NewAdapter(lookupTool(t), caller)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}

	out, err := adapter.Call(context.Background(), nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	structured, ok := out.(map[string]any)
	if !ok || structured["servings"] != 4.0 {
		t.Fatalf("unexpected output %v", out)
	}
}

func TestAdapterCallServerError(t *testing.T) {
	caller := &stubCaller{
		result: &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "recipe not found"}},
		},
	}
	adapter, err := NewAdapter(lookupTool(t), caller)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}

	_, err = adapter.Call(context.Background(), map[string]any{"name": "unknown"})
	if errors.CodeOf(err) != errors.CodeToolFailure {
		t.Fatalf("expected TOOL_FAILURE, got %v", err)
	}
}

func TestAdapterCallTransportError(t *testing.T) {
	caller := &stubCaller{err: context.DeadlineExceeded}
	adapter, err := NewAdapter(lookupTool(t), caller)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}

	_, err = adapter.Call(context.Background(), nil)
	if errors.CodeOf(err) != errors.CodeCollaborator {
		t.Fatalf("expected COLLABORATOR error, got %v", err)
	}
	if !errors.IsRecoverable(err) {
		t.Fatalf("transport errors should be recoverable")
	}
}

type stubSource struct {
	stubCaller
	tools []mcp.Tool
}

func (s *stubSource) ListTools(_ context.Context) ([]mcp.Tool, error) {
	return s.tools, nil
}

func TestRegisterTools(t *testing.T) {
	source := &stubSource{
		stubCaller: stubCaller{
			result: &mcp.CallToolResult{
				Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "done"}},
			},
		},
		tools: []mcp.Tool{
			lookupTool(t),
			{Name: "update_shopping_list", Description: "Append to the shared shopping list."},
		},
	}

	registry := tool.NewRegistry()
	n, err := RegisterTools(context.Background(), registry, source)
	if err != nil {
		t.Fatalf("RegisterTools: %v", err)
	}
	if n != 2 || registry.Count() != 2 {
		t.Fatalf("expected 2 registered tools, got n=%d count=%d", n, registry.Count())
	}

	def, err := registry.Definition("update_shopping_list")
	if err != nil {
		t.Fatalf("update_shopping_list not registered: %v", err)
	}
	if def.Classification != tool.Mutating {
		t.Fatalf("unhinted remote tool should be MUTATING, got %s", def.Classification)
	}

	registered, err := registry.Get("lookup_recipe")
	if err != nil {
		t.Fatalf("lookup_recipe not registered: %v", err)
	}
	out, err := registered.Call(context.Background(), map[string]any{"name": "stew"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out != "done" {
		t.Fatalf("unexpected output %v", out)
	}
}

package tool

import (
	"context"
	"testing"

	"github.com/larderhq/larder/pkg/errors"
)

func fixedTool(name string, class Classification, result any) *Func {
	return &Func{
		Def: Definition{
			Name:           name,
			Description:    "test tool",
			Classification: class,
		},
		Handler: func(context.Context, map[string]any) (any, error) {
			return result, nil
		},
	}
}

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(fixedTool("get_inventory_items", Informational, "ok")); err != nil {
		t.Fatalf("register: %v", err)
	}

	got, err := r.Get("get_inventory_items")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name() != "get_inventory_items" {
		t.Fatalf("unexpected tool %q", got.Name())
	}
	if r.Count() != 1 {
		t.Fatalf("expected 1 tool, got %d", r.Count())
	}
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := NewRegistry()
	first := fixedTool("place_order", Financial, "first")
	second := fixedTool("place_order", Informational, "second")

	if err := r.Register(first); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := r.Register(second)
	if errors.CodeOf(err) != errors.CodeDuplicateTool {
		t.Fatalf("expected DUPLICATE_TOOL, got %v", err)
	}

	// First registration must survive, classification included.
	def, derr := r.Definition("place_order")
	if derr != nil {
		t.Fatalf("definition: %v", derr)
	}
	if def.Classification != Financial {
		t.Fatalf("first registration must win, got %s", def.Classification)
	}
}

func TestGetUnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("missing")
	if errors.CodeOf(err) != errors.CodeUnknownTool {
		t.Fatalf("expected UNKNOWN_TOOL, got %v", err)
	}
}

func TestManifestIsSortedAndOpaque(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(
		fixedTool("set_preference", Mutating, nil),
		fixedTool("get_low_stock_items", Informational, nil),
		fixedTool("place_order", Financial, nil),
	)

	manifest := r.Manifest()
	if len(manifest) != 3 {
		t.Fatalf("expected 3 definitions, got %d", len(manifest))
	}
	want := []string{"get_low_stock_items", "place_order", "set_preference"}
	for i, name := range want {
		if manifest[i].Name != name {
			t.Fatalf("manifest order: want %s at %d, got %s", name, i, manifest[i].Name)
		}
	}
}

func TestDefaultClassificationIsMutating(t *testing.T) {
	r := NewRegistry()
	unclassified := &Func{
		Def:     Definition{Name: "mystery_tool"},
		Handler: func(context.Context, map[string]any) (any, error) { return nil, nil },
	}
	if err := r.Register(unclassified); err != nil {
		t.Fatalf("register: %v", err)
	}
	def, err := r.Definition("mystery_tool")
	if err != nil {
		t.Fatalf("definition: %v", err)
	}
	if def.Classification != Mutating {
		t.Fatalf("unclassified tools must default to MUTATING, got %s", def.Classification)
	}
}

func TestLLMToolsSchemaShape(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(&Func{
		Def: Definition{
			Name:           "adjust_quantity",
			Description:    "Adjust the stock level of an item",
			Classification: Mutating,
			Parameters: map[string]Param{
				"item":  {Type: "string", Required: true},
				"delta": {Type: "number", Required: true},
			},
		},
		Handler: func(context.Context, map[string]any) (any, error) { return nil, nil },
	})

	tools := r.LLMTools()
	if len(tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(tools))
	}
	params, ok := tools[0].Function.Parameters.(map[string]any)
	if !ok {
		t.Fatalf("parameters must be a JSON schema object")
	}
	if params["type"] != "object" {
		t.Fatalf("schema type: %v", params["type"])
	}
	required, _ := params["required"].([]string)
	if len(required) != 2 {
		t.Fatalf("expected 2 required params, got %v", params["required"])
	}
}

// Copyright 2026 © The Larder Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/larderhq/larder/pkg/approval"
	"github.com/larderhq/larder/pkg/errors"
	"github.com/larderhq/larder/pkg/llm"
	"github.com/larderhq/larder/pkg/memory"
	"github.com/larderhq/larder/pkg/policy"
	"github.com/larderhq/larder/pkg/resilience"
	"github.com/larderhq/larder/pkg/tool"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingEmitter) Emit(_ context.Context, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingEmitter) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// countingTool records invocations so tests can assert the handler was or
// was not touched.
type countingTool struct {
	def    tool.Definition
	calls  int
	result any
	err    error
}

func (c *countingTool) Name() string                { return c.def.Name }
func (c *countingTool) Definition() tool.Definition { return c.def }
func (c *countingTool) Call(context.Context, map[string]any) (any, error) {
	c.calls++
	return c.result, c.err
}

func inventoryTool() *countingTool {
	return &countingTool{
		def: tool.Definition{
			Name:           "get_inventory_items",
			Description:    "List every tracked inventory item.",
			Classification: tool.Informational,
		},
		result: []map[string]any{
			{"name": "milk", "quantity": 2},
			{"name": "eggs", "quantity": 12},
			{"name": "rice", "quantity": 1},
		},
	}
}

func orderTool() *countingTool {
	return &countingTool{
		def: tool.Definition{
			Name:           "place_order",
			Description:    "Place a vendor order.",
			Classification: tool.Financial,
			Parameters: map[string]tool.Param{
				"total": {Type: "number", Description: "Order total", Required: true},
			},
		},
		result: map[string]any{"order_id": "ord-1"},
	}
}

func wipeTool() *countingTool {
	return &countingTool{
		def: tool.Definition{
			Name:           "delete_all_inventory",
			Description:    "Remove every inventory item.",
			Classification: tool.Mutating,
		},
		result: "done",
	}
}

func newOrchestrator(t *testing.T, provider llm.Provider, registry *tool.Registry, opts ...Option) *Orchestrator {
	t.Helper()
	base := []Option{WithProvider(provider), WithRegistry(registry)}
	o, err := New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return o
}

func TestChatInformationalTool(t *testing.T) {
	inv := inventoryTool()
	registry := tool.NewRegistry()
	registry.MustRegister(inv)

	provider := llm.NewScriptedMockProvider(
		llm.ToolCallResponse(llm.FunctionCall{Name: "get_inventory_items", Arguments: "{}"}),
		llm.TextResponse("You have milk, eggs, and rice."),
	)
	emitter := &recordingEmitter{}
	o := newOrchestrator(t, provider, registry, WithEventEmitter(emitter))

	resp, err := o.Chat(context.Background(), Request{Message: "What's in my inventory?"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", resp.Status)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	if !resp.ToolCalls[0].OK() {
		t.Fatalf("expected successful call, got %+v", resp.ToolCalls[0].Error)
	}
	if !strings.Contains(resp.ToolCalls[0].Result, "rice") {
		t.Fatalf("expected items in result, got %q", resp.ToolCalls[0].Result)
	}
	if inv.calls != 1 {
		t.Fatalf("expected 1 handler invocation, got %d", inv.calls)
	}
	if resp.Text != "You have milk, eggs, and rice." {
		t.Fatalf("unexpected final text: %q", resp.Text)
	}

	want := []string{EventTurnStarted, EventToolExecuted, EventTurnCompleted}
	got := emitter.types()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestChatFinancialToolRequiresApproval(t *testing.T) {
	order := orderTool()
	registry := tool.NewRegistry()
	registry.MustRegister(order)

	provider := llm.NewScriptedMockProvider(
		llm.ToolCallResponse(llm.FunctionCall{Name: "place_order", Arguments: `{"total": 30}`}),
		llm.TextResponse("I need your approval before placing that order."),
	)
	o := newOrchestrator(t, provider, registry)

	resp, err := o.Chat(context.Background(), Request{Message: "Place my order now"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", resp.Status)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	record := resp.ToolCalls[0]
	if record.Error == nil || record.Error.Kind != errors.CodeApprovalRequired {
		t.Fatalf("expected APPROVAL_REQUIRED, got %+v", record.Error)
	}
	if order.calls != 0 {
		t.Fatalf("handler must not run without approval, ran %d times", order.calls)
	}
	if len(resp.Pending) != 1 || resp.Pending[0].ToolName != "place_order" {
		t.Fatalf("expected pending action for place_order, got %+v", resp.Pending)
	}
}

func TestChatGuardrailDenyIsFinal(t *testing.T) {
	for _, token := range []string{"", "any-token"} {
		name := "without token"
		if token != "" {
			name = "with token"
		}
		t.Run(name, func(t *testing.T) {
			wipe := wipeTool()
			registry := tool.NewRegistry()
			registry.MustRegister(wipe)

			provider := llm.NewScriptedMockProvider(
				llm.ToolCallResponse(llm.FunctionCall{Name: "delete_all_inventory", Arguments: "{}"}),
				llm.TextResponse("I can't do that; wiping the whole inventory is blocked."),
			)
			o := newOrchestrator(t, provider, registry,
				WithPolicy(policy.New(policy.DefaultRules(100))))

			resp, err := o.Chat(context.Background(), Request{
				Message:       "Wipe everything",
				ApprovalToken: token,
			})
			if err != nil {
				t.Fatalf("chat: %v", err)
			}
			if resp.Status != StatusDenied {
				t.Fatalf("expected DENIED, got %s", resp.Status)
			}
			record := resp.ToolCalls[0]
			if record.Error == nil || record.Error.Kind != errors.CodePolicyDenied {
				t.Fatalf("expected POLICY_DENIED, got %+v", record.Error)
			}
			if wipe.calls != 0 {
				t.Fatalf("guardrailed handler must never run, ran %d times", wipe.calls)
			}
		})
	}
}

func TestChatMaxIterations(t *testing.T) {
	inv := inventoryTool()
	registry := tool.NewRegistry()
	registry.MustRegister(inv)

	// The model never converges: every round requests another tool call.
	provider := llm.NewScriptedMockProvider(
		llm.ToolCallResponse(llm.FunctionCall{Name: "get_inventory_items", Arguments: "{}"}),
		llm.ToolCallResponse(llm.FunctionCall{Name: "get_inventory_items", Arguments: "{}"}),
		llm.ToolCallResponse(llm.FunctionCall{Name: "get_inventory_items", Arguments: "{}"}),
	)
	o := newOrchestrator(t, provider, registry, WithMaxIterations(2))

	resp, err := o.Chat(context.Background(), Request{Message: "keep going"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Status != StatusMaxIterations {
		t.Fatalf("expected MAX_ITERATIONS_REACHED, got %s", resp.Status)
	}
	if provider.CallCount != 2 {
		t.Fatalf("expected exactly 2 model round-trips, got %d", provider.CallCount)
	}
	if len(resp.ToolCalls) != 2 {
		t.Fatalf("expected 2 tool calls in trace, got %d", len(resp.ToolCalls))
	}
	if resp.Text == "" || strings.Contains(resp.Text, "MAX_ITERATIONS") {
		t.Fatalf("final text must paraphrase, got %q", resp.Text)
	}
}

func TestChatTraceOrderMatchesRequestOrder(t *testing.T) {
	inv := inventoryTool()
	order := orderTool()
	registry := tool.NewRegistry()
	registry.MustRegister(inv, order)

	provider := llm.NewScriptedMockProvider(
		llm.ToolCallResponse(
			llm.FunctionCall{Name: "get_inventory_items", Arguments: "{}"},
			llm.FunctionCall{Name: "place_order", Arguments: `{"total": 20}`},
			llm.FunctionCall{Name: "get_inventory_items", Arguments: "{}"},
		),
		llm.TextResponse("done"),
	)
	o := newOrchestrator(t, provider, registry)

	resp, err := o.Chat(context.Background(), Request{Message: "mixed round"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	want := []string{"get_inventory_items", "place_order", "get_inventory_items"}
	if len(resp.ToolCalls) != len(want) {
		t.Fatalf("expected %d calls, got %d", len(want), len(resp.ToolCalls))
	}
	for i, record := range resp.ToolCalls {
		if record.Name != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], record.Name)
		}
		if record.Seq != i {
			t.Fatalf("position %d: expected seq %d, got %d", i, i, record.Seq)
		}
	}
	// The mutating call was blocked; the informational ones ran.
	if resp.ToolCalls[1].Error == nil {
		t.Fatalf("expected blocked middle call")
	}
	if inv.calls != 2 {
		t.Fatalf("expected informational tool to run twice, ran %d times", inv.calls)
	}
}

func TestChatToolFailureDoesNotAbortTurn(t *testing.T) {
	failing := &countingTool{
		def: tool.Definition{
			Name:           "forecast_depletion",
			Classification: tool.Informational,
		},
		err: errors.New(errors.CodeStoreError, "store unreachable", nil),
	}
	registry := tool.NewRegistry()
	registry.MustRegister(failing)

	provider := llm.NewScriptedMockProvider(
		llm.ToolCallResponse(llm.FunctionCall{Name: "forecast_depletion", Arguments: "{}"}),
		llm.TextResponse("I couldn't read the store, sorry."),
	)
	o := newOrchestrator(t, provider, registry)

	resp, err := o.Chat(context.Background(), Request{Message: "forecast"})
	if err != nil {
		t.Fatalf("turn must survive tool failure: %v", err)
	}
	if resp.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", resp.Status)
	}
	record := resp.ToolCalls[0]
	if record.Error == nil || record.Error.Kind != errors.CodeStoreError {
		t.Fatalf("expected STORE_ERROR folded into record, got %+v", record.Error)
	}
	// The failure payload is what the model saw.
	last := provider.LastRequest()
	foundToolMsg := false
	for _, msg := range last.Messages {
		if msg.Role == llm.RoleTool && strings.Contains(msg.Content, "error") {
			foundToolMsg = true
		}
	}
	if !foundToolMsg {
		t.Fatalf("expected error payload in model context")
	}
}

func TestChatApprovalTokenSingleUse(t *testing.T) {
	order := orderTool()
	registry := tool.NewRegistry()
	registry.MustRegister(order)

	svc := approval.NewService(approval.NewInMemoryStore(), time.Minute)
	pendingRec, err := svc.Request(context.Background(), "place_order", "financial action")
	if err != nil {
		t.Fatalf("open approval: %v", err)
	}
	if _, err := svc.Grant(context.Background(), pendingRec.ID); err != nil {
		t.Fatalf("grant: %v", err)
	}

	provider := llm.NewScriptedMockProvider(
		llm.ToolCallResponse(llm.FunctionCall{Name: "place_order", Arguments: `{"total": 30}`}),
		llm.TextResponse("Order placed."),
	)
	o := newOrchestrator(t, provider, registry, WithApprover(svc))

	resp, err := o.Chat(context.Background(), Request{
		Message:       "Place my order now",
		ApprovalToken: pendingRec.ID,
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", resp.Status)
	}
	if !resp.ToolCalls[0].OK() {
		t.Fatalf("expected approved call to run, got %+v", resp.ToolCalls[0].Error)
	}
	if order.calls != 1 {
		t.Fatalf("expected 1 handler invocation, got %d", order.calls)
	}

	// Replaying the consumed token must not authorize another order.
	provider.AddResponse(llm.ToolCallResponse(llm.FunctionCall{Name: "place_order", Arguments: `{"total": 30}`}))
	provider.AddResponse(llm.TextResponse("Still waiting for approval."))
	resp, err = o.Chat(context.Background(), Request{
		Message:       "Order again",
		ApprovalToken: pendingRec.ID,
	})
	if err != nil {
		t.Fatalf("second chat: %v", err)
	}
	if resp.ToolCalls[0].Error == nil || resp.ToolCalls[0].Error.Kind != errors.CodeApprovalRequired {
		t.Fatalf("expected consumed token to be rejected, got %+v", resp.ToolCalls[0].Error)
	}
	if order.calls != 1 {
		t.Fatalf("handler must not run on replayed token, ran %d times", order.calls)
	}
}

func TestChatGuardrailDenyPreservesApprovalToken(t *testing.T) {
	order := orderTool()
	registry := tool.NewRegistry()
	registry.MustRegister(order)

	svc := approval.NewService(approval.NewInMemoryStore(), time.Minute)
	pendingRec, err := svc.Request(context.Background(), "place_order", "financial action")
	if err != nil {
		t.Fatalf("open approval: %v", err)
	}
	if _, err := svc.Grant(context.Background(), pendingRec.ID); err != nil {
		t.Fatalf("grant: %v", err)
	}

	provider := llm.NewScriptedMockProvider(
		llm.ToolCallResponse(llm.FunctionCall{Name: "place_order", Arguments: `{"total": 250}`}),
		llm.TextResponse("That order is over your budget ceiling."),
	)
	o := newOrchestrator(t, provider, registry,
		WithPolicy(policy.New(policy.DefaultRules(100))),
		WithApprover(svc))

	resp, err := o.Chat(context.Background(), Request{
		Message:       "Order the expensive kit",
		ApprovalToken: pendingRec.ID,
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Status != StatusDenied {
		t.Fatalf("expected DENIED, got %s", resp.Status)
	}
	if order.calls != 0 {
		t.Fatalf("guardrailed handler must never run, ran %d times", order.calls)
	}

	// The denied attempt must leave the grant intact: a compliant retry with
	// the same token still goes through.
	provider.AddResponse(llm.ToolCallResponse(llm.FunctionCall{Name: "place_order", Arguments: `{"total": 30}`}))
	provider.AddResponse(llm.TextResponse("Order placed."))
	resp, err = o.Chat(context.Background(), Request{
		Message:       "Fine, order the cheap one",
		ApprovalToken: pendingRec.ID,
	})
	if err != nil {
		t.Fatalf("second chat: %v", err)
	}
	if resp.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", resp.Status)
	}
	if !resp.ToolCalls[0].OK() {
		t.Fatalf("expected retried call to run, got %+v", resp.ToolCalls[0].Error)
	}
	if order.calls != 1 {
		t.Fatalf("expected 1 handler invocation, got %d", order.calls)
	}
}

func TestChatConversationMemory(t *testing.T) {
	registry := tool.NewRegistry()
	provider := llm.NewScriptedMockProvider(
		llm.TextResponse("Hello! I track your pantry."),
		llm.TextResponse("As I said, I track your pantry."),
	)
	mem := memory.NewInMemoryConversation(memory.Config{})
	o := newOrchestrator(t, provider, registry, WithConversationMemory(mem))

	if _, err := o.Chat(context.Background(), Request{Message: "Who are you?", SessionID: "s1"}); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if _, err := o.Chat(context.Background(), Request{Message: "Repeat that.", SessionID: "s1"}); err != nil {
		t.Fatalf("second turn: %v", err)
	}

	last := provider.LastRequest()
	if len(last.Messages) != 3 {
		t.Fatalf("expected replayed history (3 messages), got %d", len(last.Messages))
	}
	if last.Messages[0].Content != "Who are you?" || last.Messages[1].Content != "Hello! I track your pantry." {
		t.Fatalf("unexpected history: %+v", last.Messages)
	}
}

func TestChatModelFailureSurfaces(t *testing.T) {
	registry := tool.NewRegistry()
	provider := llm.NewScriptedMockProvider()
	provider.Err = errors.New(errors.CodeLLMError, "backend down", nil)
	o := newOrchestrator(t, provider, registry)

	_, err := o.Chat(context.Background(), Request{Message: "hello"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if errors.CodeOf(err) != errors.CodeLLMError {
		t.Fatalf("expected LLM_ERROR, got %v", errors.CodeOf(err))
	}
}

func TestChatRetriesTransientModelFailure(t *testing.T) {
	registry := tool.NewRegistry()

	// The first round fails with a recoverable provider error; the retry
	// lands on a provider that answers from the request itself.
	provider := &llm.FlakyProvider{
		Failures: 1,
		Next: llm.FuncProvider(func(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
			last := req.Messages[len(req.Messages)-1]
			return llm.TextResponse("heard: " + last.Content), nil
		}),
	}
	o := newOrchestrator(t, provider, registry,
		WithModelRetry(resilience.DefaultRetryConfig().WithMaxAttempts(3).WithInitialDelay(time.Millisecond)))

	resp, err := o.Chat(context.Background(), Request{Message: "any milk left?"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", resp.Status)
	}
	if !strings.Contains(resp.Text, "any milk left?") {
		t.Fatalf("expected echoed prompt, got %q", resp.Text)
	}
	if provider.Calls() != 2 {
		t.Fatalf("expected 2 provider calls (1 failure + 1 success), got %d", provider.Calls())
	}
}

func TestChatCancelledContext(t *testing.T) {
	registry := tool.NewRegistry()
	provider := llm.NewScriptedMockProvider(llm.TextResponse("unused"))
	o := newOrchestrator(t, provider, registry)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.Chat(ctx, Request{Message: "hello"})
	if err == nil {
		t.Fatalf("expected error from cancelled context")
	}
	if errors.CodeOf(err) != errors.CodeTimeout {
		t.Fatalf("expected TIMEOUT code, got %v", errors.CodeOf(err))
	}
}

func TestNewRequiresProviderAndRegistry(t *testing.T) {
	if _, err := New(WithRegistry(tool.NewRegistry())); err == nil {
		t.Fatalf("expected error without provider")
	}
	if _, err := New(WithProvider(llm.NewScriptedMockProvider())); err == nil {
		t.Fatalf("expected error without registry")
	}
	if _, err := New(
		WithProvider(llm.NewScriptedMockProvider()),
		WithRegistry(tool.NewRegistry()),
		WithMaxIterations(0),
	); err == nil {
		t.Fatalf("expected error for non-positive max iterations")
	}
}

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/larderhq/larder/pkg/errors"
)

func TestScriptedMockPopsInOrder(t *testing.T) {
	provider := NewScriptedMockProvider(
		ToolCallResponse(FunctionCall{Name: "get_inventory_items", Arguments: "{}"}),
		TextResponse("done"),
	)

	first, err := provider.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if len(first.ToolCalls) != 1 || first.ToolCalls[0].Function.Name != "get_inventory_items" {
		t.Fatalf("unexpected first round: %+v", first)
	}

	second, err := provider.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if second.Content != "done" {
		t.Fatalf("unexpected second round: %+v", second)
	}

	if _, err := provider.Chat(context.Background(), ChatRequest{}); err == nil {
		t.Fatalf("expected error once the script is exhausted")
	}
	if provider.CallCount != 3 {
		t.Fatalf("expected 3 calls recorded, got %d", provider.CallCount)
	}
}

func TestOllamaChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Stream {
			t.Errorf("expected non-streaming request")
		}
		json.NewEncoder(w).Encode(ollamaResponse{
			Message:         Message{Role: RoleAssistant, Content: "three items"},
			Done:            true,
			EvalCount:       5,
			PromptEvalCount: 7,
		})
	}))
	defer server.Close()

	provider := NewOllama(server.URL)
	resp, err := provider.Chat(context.Background(), ChatRequest{
		Model:    "test-model",
		Messages: []Message{{Role: RoleUser, Content: "what's in my inventory?"}},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "three items" {
		t.Fatalf("unexpected content %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 12 {
		t.Fatalf("unexpected usage %+v", resp.Usage)
	}
}

func TestOllamaServerErrorIsRecoverable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	provider := NewOllama(server.URL)
	_, err := provider.Chat(context.Background(), ChatRequest{Model: "m"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if errors.CodeOf(err) != errors.CodeLLMError {
		t.Fatalf("expected LLM_ERROR, got %v", err)
	}
	if !errors.IsRecoverable(err) {
		t.Fatalf("5xx must be recoverable")
	}
}

func TestOllamaClientErrorIsNotRecoverable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	provider := NewOllama(server.URL)
	_, err := provider.Chat(context.Background(), ChatRequest{Model: "m"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if errors.IsRecoverable(err) {
		t.Fatalf("4xx must not be recoverable")
	}
}

// Copyright 2026 © The Larder Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/larderhq/larder/pkg/errors"
	"github.com/larderhq/larder/pkg/llm"
	"github.com/larderhq/larder/pkg/memory"
	"github.com/larderhq/larder/pkg/telemetry"
	"github.com/larderhq/larder/pkg/tool"
)

const maxIterationsText = "I couldn't finish this request within the allowed number of steps. " +
	"Partial results are included above; please narrow the request and try again."

// Chat runs one turn of the chat-with-tools loop. The returned response is
// immutable; the tool-call trace preserves request order, including calls
// the safety policy blocked.
func (o *Orchestrator) Chat(ctx context.Context, req Request) (*Response, error) {
	turnID := uuid.NewString()
	start := time.Now()

	ctx, span := otel.Tracer("larder/agent").Start(ctx, "agent.chat")
	defer span.End()
	span.SetAttributes(telemetry.TurnAttributes(turnID, req.SessionID, o.maxIter)...)

	log := slog.Default()
	log.InfoContext(ctx, EventTurnStarted,
		slog.String("turn_id", turnID),
		slog.String("session_id", req.SessionID),
	)
	o.emit(ctx, Event{Type: EventTurnStarted, TurnID: turnID})

	messages, err := o.openingMessages(ctx, req)
	if err != nil {
		return nil, err
	}

	var (
		trace    []tool.CallRecord
		pending  []PendingAction
		denied   bool
		finished *Response
	)

	for iter := 1; iter <= o.maxIter; iter++ {
		// Caller cancellation takes effect at iteration boundaries.
		if err := ctx.Err(); err != nil {
			return nil, errors.New(errors.CodeTimeout, "chat turn cancelled", err).
				WithContext("turn_id", turnID)
		}

		resp, err := o.callModel(ctx, messages, iter)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}

		if len(resp.ToolCalls) == 0 {
			status := StatusCompleted
			if denied {
				status = StatusDenied
			}
			finished = &Response{Text: resp.Content, ToolCalls: trace, Status: status, Pending: pending}
			break
		}

		assistant := llm.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls}
		messages = append(messages, assistant)

		for _, call := range resp.ToolCalls {
			record, blocked := o.handleToolCall(ctx, turnID, req, call, len(trace))
			trace = append(trace, record)
			if blocked != nil {
				if blocked.deny {
					denied = true
				} else {
					pending = append(pending, blocked.pendingAction)
				}
			}
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    record.Payload(),
				ToolCallID: call.ID,
			})
		}
	}

	if finished == nil {
		finished = &Response{
			Text:      maxIterationsText,
			ToolCalls: trace,
			Status:    StatusMaxIterations,
			Pending:   pending,
		}
	}

	o.remember(ctx, req, finished)

	durationMs := float64(time.Since(start).Milliseconds())
	span.SetAttributes(
		attribute.String(telemetry.AttrTurnStatus, string(finished.Status)),
		attribute.Int("larder.turn.tool_calls", len(finished.ToolCalls)),
	)
	o.metrics.RecordTurn(ctx, string(finished.Status), durationMs)
	log.InfoContext(ctx, EventTurnCompleted,
		slog.String("turn_id", turnID),
		slog.String("status", string(finished.Status)),
		slog.Int("tool_calls", len(finished.ToolCalls)),
		slog.Float64("duration_ms", durationMs),
	)
	o.emit(ctx, Event{Type: EventTurnCompleted, TurnID: turnID, Detail: string(finished.Status)})

	return finished, nil
}

// openingMessages assembles system prompt, replayed session history, and the
// new user message.
func (o *Orchestrator) openingMessages(ctx context.Context, req Request) ([]llm.Message, error) {
	messages := make([]llm.Message, 0, 8)
	if o.systemPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: o.systemPrompt})
	}
	if o.memory != nil && req.SessionID != "" {
		history, err := o.memory.Messages(ctx, req.SessionID)
		if err != nil {
			return nil, errors.New(errors.CodeStoreError, "loading conversation history", err).
				WithContext("session_id", req.SessionID)
		}
		for _, msg := range history {
			messages = append(messages, llm.Message{Role: llm.Role(msg.Role), Content: msg.Content})
		}
	}
	if req.Message != "" {
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: req.Message})
	}
	return messages, nil
}

func (o *Orchestrator) callModel(ctx context.Context, messages []llm.Message, iteration int) (*llm.ChatResponse, error) {
	chatReq := llm.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Tools:    o.registry.LLMTools(),
	}

	ctx, span := otel.Tracer("larder/agent").Start(ctx, "agent.model_call")
	defer span.End()
	span.SetAttributes(telemetry.LLMAttributes(o.model, "", len(messages), 0)...)
	span.SetAttributes(attribute.Int(telemetry.AttrTurnIteration, iteration))

	var resp *llm.ChatResponse
	err := o.retry.Do(ctx, func() error {
		callCtx := ctx
		if o.modelTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, o.modelTimeout)
			defer cancel()
		}
		var callErr error
		resp, callErr = o.provider.Chat(callCtx, chatReq)
		return callErr
	})
	if err != nil {
		span.RecordError(err)
		return nil, errors.New(errors.CodeLLMError, "model call failed", err).
			WithContext("iteration", iteration)
	}
	span.SetAttributes(telemetry.LLMUsageAttributes(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)...)
	span.SetAttributes(attribute.Int(telemetry.AttrLLMToolCalls, len(resp.ToolCalls)))
	return resp, nil
}

// blockedCall distinguishes a guardrail denial from a pending approval.
type blockedCall struct {
	deny          bool
	pendingAction PendingAction
}

// handleToolCall evaluates policy for one requested invocation and either
// executes it or synthesizes a blocked record. Failures never abort the turn.
func (o *Orchestrator) handleToolCall(ctx context.Context, turnID string, req Request, call llm.ToolCall, seq int) (tool.CallRecord, *blockedCall) {
	name := call.Function.Name
	args, parseErr := decodeArguments(call.Function.Arguments)

	callID := call.ID
	if callID == "" {
		callID = uuid.NewString()
	}

	if parseErr != nil {
		record := tool.CallRecord{
			ID:        callID,
			Name:      name,
			Timestamp: time.Now().UTC(),
			Seq:       seq,
			Error:     &tool.CallError{Kind: errors.CodeInvalidArguments, Message: "arguments are not valid JSON"},
		}
		o.metrics.RecordToolCall(ctx, name, "invalid_arguments", 0)
		return record, nil
	}

	def, defErr := o.registry.Definition(name)
	if defErr == nil {
		// Guardrails are checked before the token is touched: redeeming is
		// destructive, and a denied call must not consume a single-use grant.
		decision := o.policy.Evaluate(def, args, false)
		if decision.RequiresApproval() && o.approved(ctx, req.ApprovalToken, name) {
			decision = o.policy.Evaluate(def, args, true)
		}
		o.metrics.RecordPolicyVerdict(ctx, string(decision.Verdict))
		if !decision.IsAllowed() {
			return o.blockCall(ctx, turnID, callID, name, args, seq, decision.IsDenied(), decision.Reason)
		}
	}
	// Unknown tools skip policy; the executor folds the resolution failure
	// into the record.

	start := time.Now()
	record := o.executor.Execute(ctx, name, args)
	record.ID = callID
	record.Seq = seq

	outcome := "ok"
	if record.Error != nil {
		outcome = string(record.Error.Kind)
	}
	o.metrics.RecordToolCall(ctx, name, outcome, float64(time.Since(start).Milliseconds()))
	o.emit(ctx, Event{Type: EventToolExecuted, TurnID: turnID, ToolName: name, Detail: outcome})
	return record, nil
}

// blockCall synthesizes the trace record for a policy-blocked invocation.
// The handler is never touched.
func (o *Orchestrator) blockCall(ctx context.Context, turnID, callID, name string, args map[string]any, seq int, deny bool, reason string) (tool.CallRecord, *blockedCall) {
	kind := errors.CodeApprovalRequired
	outcome := "approval_required"
	if deny {
		kind = errors.CodePolicyDenied
		outcome = "denied"
	}
	record := tool.CallRecord{
		ID:        callID,
		Name:      name,
		Arguments: args,
		Timestamp: time.Now().UTC(),
		Seq:       seq,
		Error:     &tool.CallError{Kind: kind, Message: reason},
	}

	blocked := &blockedCall{deny: deny}
	if !deny {
		action := PendingAction{ToolName: name, Reason: reason}
		if o.requester != nil {
			if rec, err := o.requester.Request(ctx, name, reason); err == nil {
				action.ApprovalID = rec.ID
			} else {
				slog.WarnContext(ctx, "agent.approval.open_failed",
					slog.String("tool", name),
					slog.String("error", err.Error()),
				)
			}
		}
		blocked.pendingAction = action
	}

	o.metrics.RecordToolCall(ctx, name, outcome, 0)
	slog.InfoContext(ctx, EventToolBlocked,
		slog.String("turn_id", turnID),
		slog.String("tool", name),
		slog.String("reason", reason),
		slog.Bool("deny", deny),
	)
	o.emit(ctx, Event{Type: EventToolBlocked, TurnID: turnID, ToolName: name, Detail: reason})
	return record, blocked
}

// approved reports whether the request's token authorizes the named tool.
// Without an approval channel the bare presence of a token counts; a wired
// channel makes tokens single-use and tool-scoped.
func (o *Orchestrator) approved(ctx context.Context, token, toolName string) bool {
	if token == "" {
		return false
	}
	if o.approver == nil {
		return true
	}
	ok, err := o.approver.Redeem(ctx, token, toolName)
	if err != nil {
		slog.WarnContext(ctx, "agent.approval.redeem_failed",
			slog.String("tool", toolName),
			slog.String("error", err.Error()),
		)
		return false
	}
	return ok
}

func (o *Orchestrator) remember(ctx context.Context, req Request, resp *Response) {
	if o.memory == nil || req.SessionID == "" {
		return
	}
	if req.Message != "" {
		if err := o.memory.Append(ctx, req.SessionID, memory.Message{Role: "user", Content: req.Message}); err != nil {
			slog.WarnContext(ctx, "agent.memory.append_failed", slog.String("error", err.Error()))
			return
		}
	}
	if resp.Text != "" {
		if err := o.memory.Append(ctx, req.SessionID, memory.Message{Role: "assistant", Content: resp.Text}); err != nil {
			slog.WarnContext(ctx, "agent.memory.append_failed", slog.String("error", err.Error()))
		}
	}
}

func decodeArguments(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

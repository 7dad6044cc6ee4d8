// Copyright 2026 © The Larder Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides OpenTelemetry integration with rich attributes
// for observing the tool-calling engine.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic conventions for larder telemetry. These follow OpenTelemetry
// naming conventions where applicable.
const (
	// Turn attributes
	AttrTurnID        = "larder.turn.id"
	AttrTurnStatus    = "larder.turn.status"
	AttrTurnIteration = "larder.turn.iteration"
	AttrTurnMaxIter   = "larder.turn.max_iterations"
	AttrSessionID     = "larder.session.id"

	// Tool attributes
	AttrToolName           = "larder.tool.name"
	AttrToolCallID         = "larder.tool.call_id"
	AttrToolClassification = "larder.tool.classification"
	AttrToolArgs           = "larder.tool.arguments"
	AttrToolResult         = "larder.tool.result"
	AttrToolDurationMs     = "larder.tool.duration_ms"
	AttrToolSuccess        = "larder.tool.success"

	// Policy attributes
	AttrPolicyVerdict = "larder.policy.verdict"
	AttrPolicyRuleID  = "larder.policy.rule_id"
	AttrPolicyReason  = "larder.policy.reason"

	// Cycle attributes
	AttrCycleID      = "larder.cycle.id"
	AttrCycleStatus  = "larder.cycle.status"
	AttrCycleActions = "larder.cycle.actions"

	// LLM attributes (standard gen_ai conventions where they exist)
	AttrLLMModel        = "gen_ai.request.model"
	AttrLLMProvider     = "gen_ai.system"
	AttrLLMMessages     = "gen_ai.request.messages"
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"
	AttrLLMToolCalls    = "gen_ai.tool_calls"
)

// TurnAttributes returns common attributes for a chat turn span.
func TurnAttributes(turnID, sessionID string, maxIter int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrTurnID, turnID),
	}
	if sessionID != "" {
		attrs = append(attrs, attribute.String(AttrSessionID, sessionID))
	}
	if maxIter > 0 {
		attrs = append(attrs, attribute.Int(AttrTurnMaxIter, maxIter))
	}
	return attrs
}

// ToolCallAttributes returns attributes for a tool call span.
func ToolCallAttributes(name, callID, classification string, durationMs float64, success bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrToolName, name),
		attribute.String(AttrToolCallID, callID),
		attribute.String(AttrToolClassification, classification),
		attribute.Float64(AttrToolDurationMs, durationMs),
		attribute.Bool(AttrToolSuccess, success),
	}
}

// ToolCallArgsResult returns attributes with tool arguments and result,
// truncated for span size safety.
func ToolCallArgsResult(args, result string, maxLen int) []attribute.KeyValue {
	if maxLen <= 0 {
		maxLen = 500
	}
	attrs := []attribute.KeyValue{}
	if args != "" {
		if len(args) > maxLen {
			args = args[:maxLen] + "..."
		}
		attrs = append(attrs, attribute.String(AttrToolArgs, args))
	}
	if result != "" {
		if len(result) > maxLen {
			result = result[:maxLen] + "..."
		}
		attrs = append(attrs, attribute.String(AttrToolResult, result))
	}
	return attrs
}

// PolicyAttributes returns attributes for a policy evaluation.
func PolicyAttributes(verdict, ruleID, reason string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrPolicyVerdict, verdict),
	}
	if ruleID != "" {
		attrs = append(attrs, attribute.String(AttrPolicyRuleID, ruleID))
	}
	if reason != "" {
		attrs = append(attrs, attribute.String(AttrPolicyReason, reason))
	}
	return attrs
}

// CycleAttributes returns attributes for an autonomous cycle span.
func CycleAttributes(cycleID, status string, actions int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrCycleID, cycleID),
	}
	if status != "" {
		attrs = append(attrs, attribute.String(AttrCycleStatus, status))
	}
	if actions > 0 {
		attrs = append(attrs, attribute.Int(AttrCycleActions, actions))
	}
	return attrs
}

// LLMAttributes returns attributes for model call spans.
func LLMAttributes(model, provider string, msgCount, toolCallCount int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrLLMModel, model),
		attribute.Int(AttrLLMMessages, msgCount),
	}
	if provider != "" {
		attrs = append(attrs, attribute.String(AttrLLMProvider, provider))
	}
	if toolCallCount > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMToolCalls, toolCallCount))
	}
	return attrs
}

// LLMUsageAttributes returns token usage attributes.
func LLMUsageAttributes(inputTokens, outputTokens int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{}
	if inputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensInput, inputTokens))
	}
	if outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensOutput, outputTokens))
	}
	return attrs
}

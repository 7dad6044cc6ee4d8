// Copyright 2026 © The Larder Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// EngineMetrics tracks turn, tool, policy, and cycle counters for production
// monitoring of the orchestration engine.
type EngineMetrics struct {
	turnCounter      metric.Int64Counter
	turnLatencyMs    metric.Float64Histogram
	toolCallCounter  metric.Int64Counter
	toolLatencyMs    metric.Float64Histogram
	policyCounter    metric.Int64Counter
	cycleCounter     metric.Int64Counter
	cycleActionCount metric.Int64Counter
}

// NewEngineMetrics creates the engine metrics set on the global meter.
func NewEngineMetrics() (*EngineMetrics, error) {
	meter := otel.Meter("larder/engine")

	turnCounter, err := meter.Int64Counter(
		"larder.turns.total",
		metric.WithDescription("Chat turns by final status"),
	)
	if err != nil {
		return nil, err
	}
	turnLatencyMs, err := meter.Float64Histogram(
		"larder.turns.latency_ms",
		metric.WithDescription("Chat turn latency in milliseconds"),
	)
	if err != nil {
		return nil, err
	}
	toolCallCounter, err := meter.Int64Counter(
		"larder.tool_calls.total",
		metric.WithDescription("Tool calls by name and outcome"),
	)
	if err != nil {
		return nil, err
	}
	toolLatencyMs, err := meter.Float64Histogram(
		"larder.tool_calls.latency_ms",
		metric.WithDescription("Tool call latency in milliseconds"),
	)
	if err != nil {
		return nil, err
	}
	policyCounter, err := meter.Int64Counter(
		"larder.policy.verdicts.total",
		metric.WithDescription("Policy evaluations by verdict"),
	)
	if err != nil {
		return nil, err
	}
	cycleCounter, err := meter.Int64Counter(
		"larder.cycles.total",
		metric.WithDescription("Autonomous cycles by final status"),
	)
	if err != nil {
		return nil, err
	}
	cycleActionCount, err := meter.Int64Counter(
		"larder.cycles.actions.total",
		metric.WithDescription("Actions taken during autonomous cycles"),
	)
	if err != nil {
		return nil, err
	}

	return &EngineMetrics{
		turnCounter:      turnCounter,
		turnLatencyMs:    turnLatencyMs,
		toolCallCounter:  toolCallCounter,
		toolLatencyMs:    toolLatencyMs,
		policyCounter:    policyCounter,
		cycleCounter:     cycleCounter,
		cycleActionCount: cycleActionCount,
	}, nil
}

// RecordTurn records one completed chat turn.
func (em *EngineMetrics) RecordTurn(ctx context.Context, status string, durationMs float64) {
	if em == nil {
		return
	}
	em.turnCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
	))
	em.turnLatencyMs.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("status", status),
	))
}

// RecordToolCall records one executed or blocked tool call.
func (em *EngineMetrics) RecordToolCall(ctx context.Context, name, outcome string, durationMs float64) {
	if em == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("tool", name),
		attribute.String("outcome", outcome),
	)
	em.toolCallCounter.Add(ctx, 1, attrs)
	em.toolLatencyMs.Record(ctx, durationMs, attrs)
}

// RecordPolicyVerdict records one policy evaluation.
func (em *EngineMetrics) RecordPolicyVerdict(ctx context.Context, verdict string) {
	if em == nil {
		return
	}
	em.policyCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("verdict", verdict),
	))
}

// RecordCycle records one autonomous cycle and its action count.
func (em *EngineMetrics) RecordCycle(ctx context.Context, status string, actions int) {
	if em == nil {
		return
	}
	em.cycleCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
	))
	if actions > 0 {
		em.cycleActionCount.Add(ctx, int64(actions), metric.WithAttributes(
			attribute.String("status", status),
		))
	}
}

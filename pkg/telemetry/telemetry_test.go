// Copyright 2026 © The Larder Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func TestConfigureSlogJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := ConfigureSlog(&buf, "info", "json")

	logger.Info("engine.start", slog.String("component", "agent"))
	logger.Debug("engine.debug.suppressed")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d", len(lines))
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not json: %v", err)
	}
	if entry["msg"] != "engine.start" {
		t.Fatalf("unexpected msg: %v", entry["msg"])
	}
	if entry["component"] != "agent" {
		t.Fatalf("unexpected component: %v", entry["component"])
	}
}

func TestConfigureSlogAddsSpanContext(t *testing.T) {
	var buf bytes.Buffer
	logger := ConfigureSlog(&buf, "info", "json")

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10},
		SpanID:     trace.SpanID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	logger.InfoContext(ctx, "engine.traced")
	logger.Info("engine.untraced")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(lines))
	}

	var traced map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &traced); err != nil {
		t.Fatalf("log line is not json: %v", err)
	}
	if traced["trace_id"] != sc.TraceID().String() {
		t.Fatalf("expected trace_id %s, got %v", sc.TraceID(), traced["trace_id"])
	}
	if traced["span_id"] != sc.SpanID().String() {
		t.Fatalf("expected span_id %s, got %v", sc.SpanID(), traced["span_id"])
	}

	var untraced map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &untraced); err != nil {
		t.Fatalf("log line is not json: %v", err)
	}
	if _, ok := untraced["trace_id"]; ok {
		t.Fatalf("record outside a span must not carry trace_id: %v", untraced)
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLogLevel(in); got != want {
			t.Fatalf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestInitStdoutAndShutdown(t *testing.T) {
	shutdown, err := Init("larder-test", "0.0.1")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitWithConfigRejectsUnknownExporter(t *testing.T) {
	_, err := InitWithConfig("larder-test", "0.0.1", Config{Exporter: "carrier-pigeon"})
	if err == nil {
		t.Fatalf("expected error for unknown exporter")
	}
}

func hasAttr(attrs []attribute.KeyValue, key, want string) bool {
	for _, kv := range attrs {
		if string(kv.Key) == key && kv.Value.Emit() == want {
			return true
		}
	}
	return false
}

func TestToolCallAttributes(t *testing.T) {
	attrs := ToolCallAttributes("place_order", "call-1", "FINANCIAL", 12.5, true)
	if !hasAttr(attrs, AttrToolName, "place_order") {
		t.Fatalf("missing tool name attribute: %v", attrs)
	}
	if !hasAttr(attrs, AttrToolClassification, "FINANCIAL") {
		t.Fatalf("missing classification attribute: %v", attrs)
	}
}

func TestToolCallArgsResultTruncates(t *testing.T) {
	long := strings.Repeat("x", 600)
	attrs := ToolCallArgsResult(long, long, 0)
	for _, kv := range attrs {
		if got := len(kv.Value.AsString()); got > 503 {
			t.Fatalf("attribute %s not truncated: %d chars", kv.Key, got)
		}
	}
}

func TestEngineMetrics(t *testing.T) {
	em, err := NewEngineMetrics()
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	ctx := context.Background()
	em.RecordTurn(ctx, "COMPLETED", 42)
	em.RecordToolCall(ctx, "get_inventory_items", "ok", 3)
	em.RecordPolicyVerdict(ctx, "DENY")
	em.RecordCycle(ctx, "COMPLETED", 2)

	var nilMetrics *EngineMetrics
	nilMetrics.RecordTurn(ctx, "COMPLETED", 1)
}

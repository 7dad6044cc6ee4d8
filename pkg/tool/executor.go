// Copyright 2026 © The Larder Authors
// SPDX-License-Identifier: Apache-2.0

package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/larderhq/larder/pkg/errors"
	"github.com/larderhq/larder/pkg/resilience"
)

// CallError is the normalized failure record inside a CallRecord. The
// orchestrator never sees a collaborator's native error type.
type CallError struct {
	Kind    errors.ErrorCode `json:"kind"`
	Message string           `json:"message"`
}

// CallRecord is a single tool invocation record. Created by the executor (or
// synthesized by the orchestrator for policy-blocked calls), owned by the
// turn trace, never mutated after creation.
type CallRecord struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Result    string         `json:"result,omitempty"`
	Error     *CallError     `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Seq       int            `json:"seq"`
}

// OK reports whether the invocation succeeded.
func (r CallRecord) OK() bool { return r.Error == nil }

// Payload returns the text fed back to the model for this record.
func (r CallRecord) Payload() string {
	if r.Error != nil {
		return fmt.Sprintf("error (%s): %s", r.Error.Kind, r.Error.Message)
	}
	return r.Result
}

// Executor resolves tool names against a registry, validates arguments,
// invokes handlers, and normalizes every outcome into a CallRecord. It is
// side-effect free beyond dispatch.
type Executor struct {
	registry *Registry
	timeout  time.Duration
	retry    resilience.RetryConfig
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithCallTimeout bounds each handler invocation. Zero disables the bound.
func WithCallTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeout = d }
}

// WithRetry sets the retry policy applied to recoverable handler failures.
func WithRetry(rc resilience.RetryConfig) ExecutorOption {
	return func(e *Executor) { e.retry = rc }
}

// NewExecutor creates an executor over the given registry.
func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry: registry,
		retry:    resilience.DefaultRetryConfig().WithMaxAttempts(2).WithInitialDelay(50 * time.Millisecond),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs a tool by name with the given arguments and returns the
// normalized record. Resolution and validation failures are folded into the
// record's error field, never propagated.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]any) CallRecord {
	record := CallRecord{
		Name:      name,
		Arguments: args,
		Timestamp: time.Now().UTC(),
	}

	ctx, span := otel.Tracer("larder/tool").Start(ctx, "Executor.Execute")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", name))

	t, err := e.registry.Get(name)
	if err != nil {
		record.Error = normalizeError(err)
		return record
	}

	def, err := e.registry.Definition(name)
	if err != nil {
		record.Error = normalizeError(err)
		return record
	}

	if err := ValidateArguments(def, args); err != nil {
		record.Error = normalizeError(err)
		return record
	}

	start := time.Now()
	var result any
	err = e.retry.Do(ctx, func() error {
		callCtx := ctx
		if e.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, e.timeout)
			defer cancel()
		}
		var callErr error
		result, callErr = t.Call(callCtx, args)
		if callCtx.Err() == context.DeadlineExceeded {
			return errors.New(errors.CodeTimeout, "tool call timed out", callCtx.Err()).
				WithContext("tool", name)
		}
		return callErr
	})
	duration := time.Since(start)

	slog.Debug("tool executed",
		slog.String("tool", name),
		slog.Int64("duration_ms", duration.Milliseconds()),
		slog.Bool("is_error", err != nil),
	)
	span.SetAttributes(
		attribute.Float64("tool.duration_ms", float64(duration.Milliseconds())),
		attribute.Bool("tool.error", err != nil),
	)

	if err != nil {
		span.RecordError(err)
		record.Error = normalizeError(err)
		return record
	}

	payload, err := marshalResult(result)
	if err != nil {
		record.Error = normalizeError(err)
		return record
	}
	record.Result = payload
	return record
}

// ValidateArguments checks args against the definition's parameter schema,
// reporting every violated constraint in one error, not just the first.
func ValidateArguments(def Definition, args map[string]any) error {
	var violations []string

	names := make([]string, 0, len(def.Parameters))
	for name := range def.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p := def.Parameters[name]
		value, present := args[name]
		if !present {
			if p.Required {
				violations = append(violations, fmt.Sprintf("%s: required parameter missing", name))
			}
			continue
		}
		if !typeMatches(p.Type, value) {
			violations = append(violations, fmt.Sprintf("%s: expected %s", name, p.Type))
			continue
		}
		if len(p.Enum) > 0 {
			if s, ok := value.(string); !ok || !containsString(p.Enum, s) {
				violations = append(violations, fmt.Sprintf("%s: must be one of %s", name, strings.Join(p.Enum, ", ")))
			}
		}
	}

	for name := range args {
		if _, known := def.Parameters[name]; !known {
			violations = append(violations, fmt.Sprintf("%s: unknown parameter", name))
		}
	}
	sort.Strings(violations)

	if len(violations) > 0 {
		return errors.New(errors.CodeInvalidArguments, strings.Join(violations, "; "), nil).
			WithContext("tool", def.Name).
			WithContext("violations", len(violations))
	}
	return nil
}

// typeMatches checks a decoded JSON value against a schema type name.
// JSON numbers decode as float64; integer accepts whole floats.
func typeMatches(want string, value any) bool {
	switch want {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		switch value.(type) {
		case float64, int, int64:
			return true
		}
		return false
	case "integer":
		switch v := value.(type) {
		case int, int64:
			return true
		case float64:
			return v == float64(int64(v))
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func marshalResult(result any) (string, error) {
	switch v := result.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", errors.New(errors.CodeToolFailure, "tool result not serializable", err)
		}
		return string(data), nil
	}
}

func normalizeError(err error) *CallError {
	if le, ok := err.(*errors.LarderError); ok {
		msg := le.Message
		if le.Err != nil {
			msg += ": " + le.Err.Error()
		}
		return &CallError{Kind: le.Code, Message: msg}
	}
	// A handler returning an untyped error is a tool failure.
	return &CallError{Kind: errors.CodeToolFailure, Message: err.Error()}
}

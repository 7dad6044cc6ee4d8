// Copyright 2026 © The Larder Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent implements the chat-with-tools orchestration loop: it turns
// one user utterance into zero or more policy-gated tool invocations,
// interleaves their results back into the model context, and returns a
// single immutable response per turn.
package agent

import (
	"context"
	"time"

	"github.com/larderhq/larder/pkg/approval"
	"github.com/larderhq/larder/pkg/errors"
	"github.com/larderhq/larder/pkg/llm"
	"github.com/larderhq/larder/pkg/memory"
	"github.com/larderhq/larder/pkg/policy"
	"github.com/larderhq/larder/pkg/resilience"
	"github.com/larderhq/larder/pkg/telemetry"
	"github.com/larderhq/larder/pkg/tool"
)

// Status is the terminal state of a chat turn.
type Status string

const (
	StatusCompleted     Status = "COMPLETED"
	StatusMaxIterations Status = "MAX_ITERATIONS_REACHED"
	StatusDenied        Status = "DENIED"
)

// DefaultMaxIterations bounds model round-trips per turn unless configured.
const DefaultMaxIterations = 4

// Request is one chat turn input. ApprovalToken, when present, is redeemed
// against the approval channel to authorize gated tool calls in this turn.
type Request struct {
	Message       string
	SessionID     string
	ApprovalToken string
}

// PendingAction surfaces a tool call that stopped at REQUIRES_APPROVAL.
// ApprovalID is set when an approval requester is attached and names the
// record an operator can grant.
type PendingAction struct {
	ToolName   string `json:"tool_name"`
	Reason     string `json:"reason"`
	ApprovalID string `json:"approval_id,omitempty"`
}

// Response is the immutable outcome of one chat turn. ToolCalls hold the
// full invocation trace in request order, including policy-blocked calls.
type Response struct {
	Text      string            `json:"text"`
	ToolCalls []tool.CallRecord `json:"tool_calls,omitempty"`
	Status    Status            `json:"status"`
	Pending   []PendingAction   `json:"pending,omitempty"`
}

// Event is a lifecycle notification emitted while a turn advances.
type Event struct {
	Type      string    `json:"type"`
	TurnID    string    `json:"turn_id"`
	ToolName  string    `json:"tool_name,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Event types emitted by the orchestrator.
const (
	EventTurnStarted   = "agent.turn.started"
	EventToolExecuted  = "agent.tool.executed"
	EventToolBlocked   = "agent.tool.blocked"
	EventTurnCompleted = "agent.turn.completed"
)

// EventEmitter receives lifecycle events in emission order.
type EventEmitter interface {
	Emit(ctx context.Context, event Event)
}

// ApprovalRequester opens a pending approval record for a blocked call.
// *approval.Service satisfies it.
type ApprovalRequester interface {
	Request(ctx context.Context, toolName, reason string) (*approval.Record, error)
}

// Orchestrator drives the chat-with-tools loop. It exposes a synchronous
// contract; callers needing background execution wrap Chat themselves.
type Orchestrator struct {
	provider     llm.Provider
	model        string
	registry     *tool.Registry
	executor     *tool.Executor
	policy       *policy.Policy
	approver     approval.Approver
	requester    ApprovalRequester
	memory       memory.ConversationMemory
	emitter      EventEmitter
	metrics      *telemetry.EngineMetrics
	systemPrompt string
	maxIter      int
	modelTimeout time.Duration
	retry        resilience.RetryConfig
}

// Option configures an Orchestrator instance.
type Option func(*Orchestrator) error

// New creates an orchestrator. A provider and a registry are required;
// everything else has working defaults.
func New(opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		policy:  policy.New(nil),
		maxIter: DefaultMaxIterations,
		retry:   resilience.DefaultRetryConfig().WithMaxAttempts(2).WithInitialDelay(100 * time.Millisecond),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	if o.provider == nil {
		return nil, errors.New(errors.CodeInternal, "llm provider is required", nil)
	}
	if o.registry == nil {
		return nil, errors.New(errors.CodeInternal, "tool registry is required", nil)
	}
	if o.executor == nil {
		o.executor = tool.NewExecutor(o.registry)
	}
	return o, nil
}

// WithProvider sets the model collaborator.
func WithProvider(p llm.Provider) Option {
	return func(o *Orchestrator) error {
		o.provider = p
		return nil
	}
}

// WithModel sets the model name passed on each chat request.
func WithModel(model string) Option {
	return func(o *Orchestrator) error {
		o.model = model
		return nil
	}
}

// WithRegistry sets the tool registry offered to the model.
func WithRegistry(r *tool.Registry) Option {
	return func(o *Orchestrator) error {
		o.registry = r
		return nil
	}
}

// WithExecutor overrides the default executor over the registry.
func WithExecutor(e *tool.Executor) Option {
	return func(o *Orchestrator) error {
		o.executor = e
		return nil
	}
}

// WithPolicy sets the safety policy consulted before every tool call.
func WithPolicy(p *policy.Policy) Option {
	return func(o *Orchestrator) error {
		if p != nil {
			o.policy = p
		}
		return nil
	}
}

// WithApprover sets the approval channel used to redeem tokens.
func WithApprover(a approval.Approver) Option {
	return func(o *Orchestrator) error {
		o.approver = a
		return nil
	}
}

// WithApprovalRequester lets the orchestrator open pending approval records
// for calls that stop at REQUIRES_APPROVAL.
func WithApprovalRequester(r ApprovalRequester) Option {
	return func(o *Orchestrator) error {
		o.requester = r
		return nil
	}
}

// WithConversationMemory attaches per-session history replayed into each turn.
func WithConversationMemory(m memory.ConversationMemory) Option {
	return func(o *Orchestrator) error {
		o.memory = m
		return nil
	}
}

// WithEventEmitter attaches a lifecycle event sink.
func WithEventEmitter(e EventEmitter) Option {
	return func(o *Orchestrator) error {
		o.emitter = e
		return nil
	}
}

// WithMetrics attaches engine metrics.
func WithMetrics(m *telemetry.EngineMetrics) Option {
	return func(o *Orchestrator) error {
		o.metrics = m
		return nil
	}
}

// WithSystemPrompt sets the system message prepended to every turn.
func WithSystemPrompt(prompt string) Option {
	return func(o *Orchestrator) error {
		o.systemPrompt = prompt
		return nil
	}
}

// WithMaxIterations bounds model round-trips per turn.
func WithMaxIterations(n int) Option {
	return func(o *Orchestrator) error {
		if n <= 0 {
			return errors.New(errors.CodeInvalidArguments, "max iterations must be positive", nil)
		}
		o.maxIter = n
		return nil
	}
}

// WithModelTimeout bounds each model call. Zero disables the bound.
func WithModelTimeout(d time.Duration) Option {
	return func(o *Orchestrator) error {
		o.modelTimeout = d
		return nil
	}
}

// WithModelRetry sets the retry policy for transient model failures.
func WithModelRetry(rc resilience.RetryConfig) Option {
	return func(o *Orchestrator) error {
		o.retry = rc
		return nil
	}
}

// MaxIterations returns the configured round-trip bound.
func (o *Orchestrator) MaxIterations() int { return o.maxIter }

func (o *Orchestrator) emit(ctx context.Context, event Event) {
	if o.emitter == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	o.emitter.Emit(ctx, event)
}

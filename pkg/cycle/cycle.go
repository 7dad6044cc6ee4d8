// Copyright 2026 © The Larder Authors
// SPDX-License-Identifier: Apache-2.0

// Package cycle runs the orchestration loop unprompted on a schedule: each
// cycle is one system-initiated chat turn whose executed actions are
// reported to listeners as they happen. Failures are cycle-scoped and never
// escape the runner.
package cycle

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/larderhq/larder/pkg/agent"
	"github.com/larderhq/larder/pkg/telemetry"
)

// Status is the terminal state of one cycle.
type Status string

const (
	StatusCompleted Status = "COMPLETED"
	StatusSkipped   Status = "SKIPPED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// NothingToDoToken is the sentinel the cycle prompt instructs the model to
// reply with when no action is warranted.
const NothingToDoToken = "NOTHING_TO_DO"

// DefaultPrompt drives a stock-review cycle against the registered tools.
const DefaultPrompt = "Review the household inventory. Check for items at or below their minimum " +
	"quantity and take any follow-up actions the available tools allow. " +
	"If nothing needs attention, reply with exactly " + NothingToDoToken + "."

// Action is one executed tool call taken during a cycle.
type Action struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Summary is the record of one cycle. Mutated only by the runner while the
// cycle is in flight, frozen at completion and handed to listeners by value.
type Summary struct {
	CycleID     string    `json:"cycle_id"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Actions     []Action  `json:"actions,omitempty"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
}

// Listener receives cycle lifecycle notifications in emission order.
// Started and Completed fire exactly once per cycle; ActionTaken fires once
// per executed tool call, as it happens.
type Listener interface {
	CycleStarted(cycleID string)
	ActionTaken(cycleID string, action Action)
	CycleCompleted(cycleID string, summary Summary)
}

// SummaryStore persists finished cycle summaries.
type SummaryStore interface {
	SaveSummary(ctx context.Context, summary Summary) error
	ListSummaries(ctx context.Context, limit int) ([]Summary, error)
}

// Chatter is the orchestration entry point a cycle drives.
// *agent.Orchestrator satisfies it.
type Chatter interface {
	Chat(ctx context.Context, req agent.Request) (*agent.Response, error)
}

// Precheck decides whether a cycle has anything actionable before the model
// is consulted. Returning false short-circuits the cycle to SKIPPED.
type Precheck func(ctx context.Context) (bool, error)

// Runner schedules and executes autonomous cycles. Wire it as the cycle
// orchestrator's event emitter so executed actions stream to listeners as
// they happen rather than after the turn returns.
type Runner struct {
	chatter   Chatter
	prompt    string
	interval  time.Duration
	precheck  Precheck
	store     SummaryStore
	metrics   *telemetry.EngineMetrics
	listeners []Listener

	mu        sync.Mutex
	currentID string
	actions   []Action

	cancel context.CancelFunc
	done   chan struct{}
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithPrompt overrides the system-generated cycle prompt.
func WithPrompt(prompt string) RunnerOption {
	return func(r *Runner) { r.prompt = prompt }
}

// WithInterval sets the schedule for Start. Zero disables scheduling;
// RunCycle stays available for explicit triggers.
func WithInterval(d time.Duration) RunnerOption {
	return func(r *Runner) { r.interval = d }
}

// WithPrecheck installs an actionability check consulted at cycle start.
func WithPrecheck(p Precheck) RunnerOption {
	return func(r *Runner) { r.precheck = p }
}

// WithSummaryStore persists finished summaries.
func WithSummaryStore(s SummaryStore) RunnerOption {
	return func(r *Runner) { r.store = s }
}

// WithMetrics attaches engine metrics.
func WithMetrics(m *telemetry.EngineMetrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithListeners registers lifecycle listeners.
func WithListeners(listeners ...Listener) RunnerOption {
	return func(r *Runner) { r.listeners = append(r.listeners, listeners...) }
}

// NewRunner creates a cycle runner over the given orchestration entry point.
func NewRunner(chatter Chatter, opts ...RunnerOption) *Runner {
	r := &Runner{
		chatter: chatter,
		prompt:  DefaultPrompt,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Bind attaches the orchestration entry point after construction. Needed
// when the runner is also the cycle orchestrator's event emitter, which
// makes the two mutually dependent at build time.
func (r *Runner) Bind(chatter Chatter) {
	r.chatter = chatter
}

// AddListener registers a listener after construction.
func (r *Runner) AddListener(l Listener) {
	if l == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Emit implements agent.EventEmitter. Executed tool calls during an
// in-flight cycle become ActionTaken notifications; everything else is
// ignored.
func (r *Runner) Emit(_ context.Context, event agent.Event) {
	if event.Type != agent.EventToolExecuted {
		return
	}
	r.mu.Lock()
	cycleID := r.currentID
	if cycleID == "" {
		r.mu.Unlock()
		return
	}
	action := Action{Name: event.ToolName, Description: event.Detail}
	r.actions = append(r.actions, action)
	listeners := append([]Listener(nil), r.listeners...)
	r.mu.Unlock()

	for _, l := range listeners {
		l.ActionTaken(cycleID, action)
	}
}

// RunCycle executes one cycle to completion. It never panics out; any
// collaborator failure is folded into a FAILED summary.
func (r *Runner) RunCycle(ctx context.Context) Summary {
	cycleID := uuid.NewString()
	summary := Summary{
		CycleID:   cycleID,
		StartedAt: time.Now().UTC(),
	}

	ctx, span := otel.Tracer("larder/cycle").Start(ctx, "cycle.run")
	defer span.End()

	log := slog.Default()
	log.InfoContext(ctx, "cycle.started", slog.String("cycle_id", cycleID))

	r.mu.Lock()
	r.currentID = cycleID
	r.actions = nil
	listeners := append([]Listener(nil), r.listeners...)
	r.mu.Unlock()

	for _, l := range listeners {
		l.CycleStarted(cycleID)
	}

	summary.Status, summary.Error = r.execute(ctx)

	r.mu.Lock()
	summary.Actions = r.actions
	r.currentID = ""
	r.actions = nil
	r.mu.Unlock()

	summary.CompletedAt = time.Now().UTC()
	span.SetAttributes(telemetry.CycleAttributes(cycleID, string(summary.Status), len(summary.Actions))...)
	r.metrics.RecordCycle(ctx, string(summary.Status), len(summary.Actions))
	log.InfoContext(ctx, "cycle.completed",
		slog.String("cycle_id", cycleID),
		slog.String("status", string(summary.Status)),
		slog.Int("actions", len(summary.Actions)),
	)

	if r.store != nil {
		// Persist with a fresh context so a cancelled cycle still records.
		saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.store.SaveSummary(saveCtx, summary); err != nil {
			log.WarnContext(ctx, "cycle.summary.save_failed",
				slog.String("cycle_id", cycleID),
				slog.String("error", err.Error()),
			)
		}
		cancel()
	}

	for _, l := range listeners {
		l.CycleCompleted(cycleID, summary)
	}
	return summary
}

// execute runs the cycle body and maps its outcome to a status.
func (r *Runner) execute(ctx context.Context) (status Status, errText string) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.ErrorContext(ctx, "cycle.panic", slog.Any("panic", rec))
			status = StatusFailed
			errText = "cycle panicked"
		}
	}()

	if ctx.Err() != nil {
		return StatusCancelled, ""
	}

	if r.chatter == nil {
		return StatusFailed, "no orchestrator bound"
	}

	if r.precheck != nil {
		actionable, err := r.precheck(ctx)
		if err != nil {
			return StatusFailed, err.Error()
		}
		if !actionable {
			return StatusSkipped, ""
		}
	}

	resp, err := r.chatter.Chat(ctx, agent.Request{Message: r.prompt})
	if err != nil {
		if ctx.Err() != nil {
			return StatusCancelled, ""
		}
		return StatusFailed, err.Error()
	}

	r.mu.Lock()
	tookAction := len(r.actions) > 0
	r.mu.Unlock()

	if !tookAction && strings.Contains(resp.Text, NothingToDoToken) {
		return StatusSkipped, ""
	}
	return StatusCompleted, ""
}

// Start launches the periodic cycle loop. Calling Start on a running runner
// restarts it.
func (r *Runner) Start() {
	log := slog.Default()
	if r.interval <= 0 {
		log.Info("cycle.runner.disabled", slog.Duration("interval", r.interval))
		return
	}
	if r.cancel != nil {
		r.Stop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done
	go func() {
		defer close(done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		log.Info("cycle.runner.start", slog.Duration("interval", r.interval))
		for {
			select {
			case <-ctx.Done():
				log.Info("cycle.runner.stop")
				return
			case <-ticker.C:
				r.RunCycle(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight cycle to wind down. The
// current action finishes; subsequent ones are skipped.
func (r *Runner) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	if r.done != nil {
		<-r.done
	}
	r.cancel = nil
	r.done = nil
}

var _ agent.EventEmitter = (*Runner)(nil)

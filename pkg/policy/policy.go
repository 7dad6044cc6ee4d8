// Copyright 2026 © The Larder Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy implements the safety policy consulted before every tool
// invocation. Informational tools pass unconditionally; mutating and
// financial tools need a human approval, and hard guardrails deny outright
// even when an approval is present.
package policy

import (
	"path"
	"strconv"
	"sync"

	"github.com/larderhq/larder/pkg/tool"
)

// Verdict is the outcome class of a policy evaluation.
type Verdict string

const (
	VerdictAllow            Verdict = "ALLOW"
	VerdictDeny             Verdict = "DENY"
	VerdictRequiresApproval Verdict = "REQUIRES_APPROVAL"
)

// Decision captures the outcome of a policy evaluation. Computed fresh per
// tool-call attempt, never persisted.
type Decision struct {
	Verdict Verdict
	Reason  string
	RuleID  string
}

// IsAllowed returns true when the decision permits the action.
func (d Decision) IsAllowed() bool { return d.Verdict == VerdictAllow }

// IsDenied returns true when the decision forbids the action outright.
func (d Decision) IsDenied() bool { return d.Verdict == VerdictDeny }

// RequiresApproval returns true when a human approval is needed first.
func (d Decision) RequiresApproval() bool { return d.Verdict == VerdictRequiresApproval }

// Rule is a hard guardrail. Rules are evaluated in order; the first match
// denies. A rule matches by tool-name glob, optionally narrowed to calls
// where a string argument equals a value (When) and where a numeric
// argument exceeds a ceiling (Param/Max).
type Rule struct {
	ID     string            `yaml:"id"`
	Name   string            `yaml:"name"`            // tool name glob
	When   map[string]string `yaml:"when,omitempty"`  // string-arg equality guards
	Param  string            `yaml:"param,omitempty"` // numeric argument to bound
	Max    float64           `yaml:"max,omitempty"`   // ceiling for Param
	Reason string            `yaml:"reason"`
}

// Policy evaluates tool calls against classification and guardrails.
// It is a pure decision function over its current rule set: same
// (definition, arguments, approval) always yields the same verdict. The rule
// set itself may be swapped at runtime for guardrail hot-reload.
type Policy struct {
	mu    sync.RWMutex
	rules []Rule
}

// New creates a policy with the given guardrail rules.
func New(rules []Rule) *Policy {
	return &Policy{rules: append([]Rule(nil), rules...)}
}

// Rules returns a copy of the active guardrail rules.
func (p *Policy) Rules() []Rule {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Rule(nil), p.rules...)
}

// SetRules atomically replaces the guardrail rules. In-flight evaluations
// finish against the set they started with.
func (p *Policy) SetRules(rules []Rule) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rules = append([]Rule(nil), rules...)
}

// Evaluate decides whether a tool call may proceed. Priority order:
// informational tools are always allowed; a guardrail match denies, final
// and non-overridable; otherwise a valid approval allows and its absence
// requires one.
func (p *Policy) Evaluate(def tool.Definition, args map[string]any, approved bool) Decision {
	if def.Classification == tool.Informational {
		return Decision{Verdict: VerdictAllow, Reason: "informational tool"}
	}

	p.mu.RLock()
	rules := p.rules
	p.mu.RUnlock()

	for _, rule := range rules {
		if !rule.matches(def.Name, args) {
			continue
		}
		reason := rule.Reason
		if reason == "" {
			reason = "blocked by guardrail"
		}
		return Decision{Verdict: VerdictDeny, Reason: reason, RuleID: rule.ID}
	}

	if approved {
		return Decision{Verdict: VerdictAllow, Reason: "approved by operator"}
	}

	return Decision{Verdict: VerdictRequiresApproval, Reason: "approval required"}
}

func (r Rule) matches(toolName string, args map[string]any) bool {
	if !matchPattern(r.Name, toolName) {
		return false
	}
	for key, want := range r.When {
		got, ok := args[key].(string)
		if !ok || got != want {
			return false
		}
	}
	if r.Param != "" {
		value, ok := numericArg(args, r.Param)
		if !ok || value <= r.Max {
			return false
		}
	}
	return true
}

func matchPattern(pattern, value string) bool {
	if pattern == "" {
		return true
	}
	ok, err := path.Match(pattern, value)
	if err == nil && ok {
		return true
	}
	return pattern == value
}

// numericArg extracts a numeric argument, accepting JSON numbers and
// numeric strings.
func numericArg(args map[string]any, name string) (float64, bool) {
	switch v := args[name].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

// Copyright 2026 © The Larder Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/larderhq/larder/pkg/errors"
)

// rulesFile is the on-disk guardrail document shape.
type rulesFile struct {
	Guardrails []Rule `yaml:"guardrails"`
}

// LoadRules reads guardrail rules from a YAML file. Rule order in the file
// is evaluation order.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "failed to read guardrail rules", err).
			WithContext("path", path)
	}
	return ParseRules(data)
}

// ParseRules decodes guardrail rules from YAML bytes.
func ParseRules(data []byte) ([]Rule, error) {
	var doc rulesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.New(errors.CodeInternal, "failed to parse guardrail rules", err)
	}
	for i := range doc.Guardrails {
		if doc.Guardrails[i].ID == "" {
			doc.Guardrails[i].ID = "rule"
		}
	}
	return doc.Guardrails, nil
}

// DefaultRules returns the built-in guardrails every deployment carries:
// the inventory can never be wiped through the agent, and orders above the
// given ceiling are denied regardless of approval.
func DefaultRules(budgetCeiling float64) []Rule {
	rules := []Rule{
		{
			ID:     "no-inventory-wipe",
			Name:   "delete_all_inventory",
			Reason: "deleting the entire inventory is not allowed",
		},
	}
	if budgetCeiling > 0 {
		rules = append(rules,
			Rule{
				ID:     "order-budget-ceiling",
				Name:   "place_order",
				Param:  "total",
				Max:    budgetCeiling,
				Reason: "order total exceeds the configured budget ceiling",
			},
			Rule{
				ID:     "preference-budget-ceiling",
				Name:   "set_preference",
				When:   map[string]string{"key": "budget"},
				Param:  "value",
				Max:    budgetCeiling,
				Reason: "budget preference exceeds the configured ceiling",
			},
		)
	}
	return rules
}

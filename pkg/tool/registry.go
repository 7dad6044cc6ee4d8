// Copyright 2026 © The Larder Authors
// SPDX-License-Identifier: Apache-2.0

package tool

import (
	"sort"
	"sync"

	"github.com/larderhq/larder/pkg/errors"
	"github.com/larderhq/larder/pkg/llm"
)

// Registry holds the set of available tools, indexed by unique name.
// It owns the definitions for its lifetime; classification cannot change
// after registration.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	defs  map[string]Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
		defs:  make(map[string]Definition),
	}
}

// Register adds a tool to the registry. Registering a name twice fails with
// CodeDuplicateTool and leaves the first registration in place.
func (r *Registry) Register(t Tool) error {
	name := t.Name()
	if name == "" {
		return errors.New(errors.CodeInvalidArguments, "tool name is required", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return errors.New(errors.CodeDuplicateTool, "tool already registered", nil).
			WithContext("tool", name)
	}

	def := t.Definition()
	def.Name = name
	if def.Classification == "" {
		def.Classification = Mutating
	}
	r.tools[name] = t
	r.defs[name] = def
	return nil
}

// MustRegister registers a set of tools and panics on failure. Intended for
// process startup wiring where a duplicate name is a programming error.
func (r *Registry) MustRegister(tools ...Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Get returns a tool by name, failing with CodeUnknownTool if absent.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, errors.New(errors.CodeUnknownTool, "unknown tool", nil).
			WithContext("tool", name)
	}
	return t, nil
}

// Definition returns the registered definition snapshot for a name.
func (r *Registry) Definition(name string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[name]
	if !ok {
		return Definition{}, errors.New(errors.CodeUnknownTool, "unknown tool", nil).
			WithContext("tool", name)
	}
	return def, nil
}

// Manifest produces a read-only snapshot of the registered definitions,
// sorted by name, suitable for offering to a model.
func (r *Registry) Manifest() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	manifest := make([]Definition, 0, len(r.defs))
	for _, def := range r.defs {
		manifest = append(manifest, def)
	}
	sort.Slice(manifest, func(i, j int) bool { return manifest[i].Name < manifest[j].Name })
	return manifest
}

// LLMTools converts the manifest into LLM function-tool declarations.
func (r *Registry) LLMTools() []llm.Tool {
	manifest := r.Manifest()
	tools := make([]llm.Tool, 0, len(manifest))
	for _, def := range manifest {
		tools = append(tools, def.LLMTool())
	}
	return tools
}

// List returns all registered tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

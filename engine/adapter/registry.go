package adapter

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Registry maps tool names to adapters. Registration happens at startup;
// Freeze must be called before serving so dispatch reads take no lock
// ordering risks with late registration.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	frozen   atomic.Bool
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register installs an adapter under its tool name. Overwriting during
// startup is allowed; registering after Freeze is an error.
func (r *Registry) Register(tool string, a Adapter) error {
	if tool == "" || a == nil {
		return fmt.Errorf("adapter: tool name and adapter are required")
	}
	if r.frozen.Load() {
		return fmt.Errorf("adapter: registry is frozen; cannot register %q", tool)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[tool] = a
	return nil
}

// Freeze seals the registry. Idempotent.
func (r *Registry) Freeze() {
	r.frozen.Store(true)
}

func (r *Registry) Get(tool string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[tool]
	return a, ok
}

// List returns the registered tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]string, 0, len(r.adapters))
	for tool := range r.adapters {
		tools = append(tools, tool)
	}
	sort.Strings(tools)
	return tools
}

// AllMetadata returns metadata for every registered adapter, ordered by tool.
func (r *Registry) AllMetadata() []*Metadata {
	tools := r.List()
	out := make([]*Metadata, 0, len(tools))
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, tool := range tools {
		out = append(out, r.adapters[tool].Metadata())
	}
	return out
}

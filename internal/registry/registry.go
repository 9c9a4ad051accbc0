// Package registry builds the process-wide tool catalog.
package registry

import (
	"fmt"
	"log"
	"sort"
	"sync/atomic"

	"github.com/ZanzyTHEbar/mcpdesk"
)

// Registry maps tool names to descriptors. It is immutable after Build, so
// reads need no locking.
type Registry struct {
	byName map[string]mcpdesk.ToolDescriptor
	names  []string
}

// Build registers every tool of every provider. Duplicate names and malformed
// descriptors are configuration errors.
func Build(providers ...mcpdesk.ToolProvider) (*Registry, error) {
	r := &Registry{byName: make(map[string]mcpdesk.ToolDescriptor)}
	owners := make(map[string]string)

	for _, provider := range providers {
		if provider == nil {
			return nil, mcpdesk.NewConfigurationError("tool provider cannot be nil", nil)
		}
		for _, desc := range provider.Tools() {
			if err := checkDescriptor(desc); err != nil {
				return nil, mcpdesk.NewConfigurationError(
					fmt.Sprintf("invalid tool '%s' from provider '%s'", desc.Name, provider.Name()), err)
			}
			if owner, exists := owners[desc.Name]; exists {
				return nil, mcpdesk.NewConfigurationError(
					fmt.Sprintf("duplicate tool name '%s' (providers '%s' and '%s')", desc.Name, owner, provider.Name()), nil)
			}
			owners[desc.Name] = provider.Name()
			desc.Params = append([]mcpdesk.ParamSpec(nil), desc.Params...)
			r.byName[desc.Name] = desc
			r.names = append(r.names, desc.Name)
		}
	}
	sort.Strings(r.names)

	log.Printf("Tool registry built (providers: %d, tools: %d)", len(providers), len(r.names))
	return r, nil
}

func checkDescriptor(desc mcpdesk.ToolDescriptor) error {
	if desc.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if desc.Tool == nil {
		return fmt.Errorf("tool instance cannot be nil")
	}
	if desc.Tool.Name() != desc.Name {
		return fmt.Errorf("descriptor name '%s' does not match tool name '%s'", desc.Name, desc.Tool.Name())
	}
	if !desc.Risk.Valid() {
		return fmt.Errorf("unknown risk tag '%s'", desc.Risk)
	}
	seen := make(map[string]struct{}, len(desc.Params))
	for _, p := range desc.Params {
		if p.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("duplicate parameter '%s'", p.Name)
		}
		if !p.Type.Valid() {
			return fmt.Errorf("parameter '%s' has unknown type '%s'", p.Name, p.Type)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (mcpdesk.ToolDescriptor, bool) {
	desc, ok := r.byName[name]
	return desc, ok
}

// Descriptors returns all descriptors sorted by name.
func (r *Registry) Descriptors() []mcpdesk.ToolDescriptor {
	out := make([]mcpdesk.ToolDescriptor, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.byName[name])
	}
	return out
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.names)
}

// Snapshot implements mcpdesk.CatalogSource.
func (r *Registry) Snapshot() mcpdesk.Catalog {
	return r
}

// Holder publishes the current registry. Reloads replace the whole registry
// at once; requests keep the snapshot they started with.
type Holder struct {
	current atomic.Pointer[Registry]
}

// NewHolder wraps an initial registry.
func NewHolder(initial *Registry) *Holder {
	h := &Holder{}
	h.current.Store(initial)
	return h
}

// Load returns the current registry.
func (h *Holder) Load() *Registry {
	return h.current.Load()
}

// Swap installs next and returns the registry it replaced.
func (h *Holder) Swap(next *Registry) *Registry {
	return h.current.Swap(next)
}

// Reload builds a fresh registry from providers and installs it. On error the
// current registry stays in place.
func (h *Holder) Reload(providers ...mcpdesk.ToolProvider) (*Registry, error) {
	next, err := Build(providers...)
	if err != nil {
		return nil, err
	}
	h.Swap(next)
	return next, nil
}

// Snapshot implements mcpdesk.CatalogSource.
func (h *Holder) Snapshot() mcpdesk.Catalog {
	if r := h.current.Load(); r != nil {
		return r
	}
	return &Registry{byName: map[string]mcpdesk.ToolDescriptor{}}
}

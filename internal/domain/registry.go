package domain

import (
	"sort"
	"sync"
)

// Descriptor describes a component type known to the builder
type Descriptor struct {
	Type         string `json:"type"`
	Name         string `json:"name"`
	Category     string `json:"category"`
	Container    bool   `json:"container"`
	Positionless bool   `json:"positionless"`
}

// fallbackDescriptor is returned for tags that were never registered
var fallbackDescriptor = Descriptor{
	Type:     "unknown",
	Name:     "Unknown component",
	Category: "Other",
}

// Registry maps a component type tag to its descriptor
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]Descriptor
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{descriptors: make(map[string]Descriptor)}
}

// DefaultRegistry returns a registry populated with the core layout and
// input types
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, d := range []Descriptor{
		{Type: "root", Name: "Root", Category: "Root", Container: true},
		{Type: "page", Name: "Page", Category: "Root", Container: true},
		{Type: "sidebar", Name: "Sidebar", Category: "Layout", Container: true, Positionless: true},
		{Type: "section", Name: "Section", Category: "Layout", Container: true},
		{Type: "columns", Name: "Column Container", Category: "Layout", Container: true},
		{Type: "column", Name: "Column", Category: "Layout", Container: true},
		{Type: "text", Name: "Text", Category: "Content"},
		{Type: "button", Name: "Button", Category: "Other"},
		{Type: "textinput", Name: "Text Input", Category: "Input"},
		{Type: "dataframe", Name: "DataFrame", Category: "Content"},
		{Type: "workflows_node", Name: "Workflow node", Category: "Workflows", Positionless: true},
	} {
		r.Register(d)
	}
	return r
}

// Register adds or replaces the descriptor for d.Type
func (r *Registry) Register(d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descriptors[d.Type] = d
}

// Lookup returns the descriptor for a type tag, or the fallback
// descriptor with ok=false when the tag is unknown
func (r *Registry) Lookup(componentType string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[componentType]
	if !ok {
		fb := fallbackDescriptor
		fb.Type = componentType
		return fb, false
	}
	return d, true
}

// Types returns the registered type tags in sorted order
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.descriptors))
	for t := range r.descriptors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

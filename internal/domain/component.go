package domain

import (
	"encoding/json"
	"maps"
	"slices"
)

const (
	// RootID is the id of the single root component
	RootID = "root"

	// Positionless marks components excluded from sibling ordering
	Positionless = -2
)

// Binding links a component event to a piece of application state
type Binding struct {
	EventType string `json:"eventType"`
	StateRef  string `json:"stateRef"`
}

// Out is a forward edge from a workflow node to another node, by id
type Out struct {
	OutID    string `json:"outId"`
	ToNodeID string `json:"toNodeId"`
}

// Component is a single UI component descriptor. Parents and edges are
// referenced by id only; the tree is an arena indexed by ComponentMap.
type Component struct {
	ID            string            `json:"id"`
	ParentID      string            `json:"parentId,omitempty"`
	Type          string            `json:"type"`
	Content       map[string]string `json:"content"`
	Handlers      map[string]string `json:"handlers,omitempty"`
	Binding       *Binding          `json:"binding,omitempty"`
	Position      int               `json:"position"`
	Visible       json.RawMessage   `json:"visible,omitempty"` // bool or expression object
	X             *int              `json:"x,omitempty"`
	Y             *int              `json:"y,omitempty"`
	Outs          []Out             `json:"outs,omitempty"`
	IsCodeManaged bool              `json:"isCodeManaged,omitempty"`
}

// IsPositionless reports whether the component opts out of sibling ordering
func (c *Component) IsPositionless() bool {
	return c.Position == Positionless
}

// IsBuilderManaged reports whether the component is owned by the builder
// and therefore editable and synced back to the backend
func (c *Component) IsBuilderManaged() bool {
	return !c.IsCodeManaged
}

// Clone returns a deep copy
func (c *Component) Clone() *Component {
	if c == nil {
		return nil
	}
	out := *c
	out.Content = maps.Clone(c.Content)
	if out.Content == nil {
		out.Content = map[string]string{}
	}
	out.Handlers = maps.Clone(c.Handlers)
	if c.Binding != nil {
		b := *c.Binding
		out.Binding = &b
	}
	out.Visible = slices.Clone(c.Visible)
	if c.X != nil {
		x := *c.X
		out.X = &x
	}
	if c.Y != nil {
		y := *c.Y
		out.Y = &y
	}
	out.Outs = slices.Clone(c.Outs)
	return &out
}

// ComponentMap indexes components by id
type ComponentMap map[string]*Component

// Clone deep-copies every component in the map
func (m ComponentMap) Clone() ComponentMap {
	out := make(ComponentMap, len(m))
	for id, c := range m {
		out[id] = c.Clone()
	}
	return out
}

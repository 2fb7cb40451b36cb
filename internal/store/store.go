// Package store holds the authoritative in-memory component tree.
package store

import (
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/vburojevic/bsync/internal/domain"
)

// Report describes what Replace or Validate found in a tree
type Report struct {
	MissingRoot bool     `json:"missing_root,omitempty"`
	Orphans     []string `json:"orphans,omitempty"`
	Repaired    []string `json:"repaired,omitempty"` // parents whose children were renumbered
}

// OK reports whether nothing was wrong with the tree
func (r Report) OK() bool {
	return !r.MissingRoot && len(r.Orphans) == 0 && len(r.Repaired) == 0
}

// Store is the single shared component map. Reads return copies; writes
// go through Put/Delete/Replace.
type Store struct {
	mu         sync.RWMutex
	components domain.ComponentMap
}

// New creates an empty store
func New() *Store {
	return &Store{components: make(domain.ComponentMap)}
}

// Get returns a copy of the component with the given id
func (s *Store) Get(id string) (*domain.Component, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.components[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

// Has reports whether id is present
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.components[id]
	return ok
}

// Put inserts or replaces a component (stored as a copy)
func (s *Store) Put(c *domain.Component) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.components[c.ID] = c.Clone()
}

// Delete removes a single component; children are left untouched
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.components, id)
}

// Len returns the number of components
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.components)
}

// All returns a deep copy of the whole map
func (s *Store) All() domain.ComponentMap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.components.Clone()
}

// BuilderManaged returns copies of the components owned by the builder;
// code-managed components are never echoed back to the backend
func (s *Store) BuilderManaged() domain.ComponentMap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.ComponentMap(lo.PickBy(s.components, func(_ string, c *domain.Component) bool {
		return c.IsBuilderManaged()
	})).Clone()
}

// Children returns copies of the direct children of parentID, ordered by
// position (positionless children last, then by id)
func (s *Store) Children(parentID string) []*domain.Component {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Map(s.childrenLocked(parentID), func(c *domain.Component, _ int) *domain.Component {
		return c.Clone()
	})
}

// Descendants returns the ids of every component below id, depth first
func (s *Store) Descendants(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	var walk func(string)
	walk = func(parent string) {
		for _, c := range s.childrenLocked(parent) {
			out = append(out, c.ID)
			walk(c.ID)
		}
	}
	walk(id)
	return out
}

// Replace swaps the whole tree for components. Orphans are dropped and
// broken sibling progressions renumbered; both are listed in the report.
func (s *Store) Replace(components domain.ComponentMap) Report {
	next := components.Clone()
	report := Report{}

	if _, ok := next[domain.RootID]; !ok {
		report.MissingRoot = true
	}
	report.Orphans = findOrphans(next)
	for _, id := range report.Orphans {
		delete(next, id)
	}
	report.Repaired = repairPositions(next)

	s.mu.Lock()
	s.components = next
	s.mu.Unlock()
	return report
}

// Validate inspects the current tree without modifying it
func (s *Store) Validate() Report {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report := Report{}
	if _, ok := s.components[domain.RootID]; !ok {
		report.MissingRoot = true
	}
	report.Orphans = findOrphans(s.components)
	report.Repaired = brokenParents(s.components)
	return report
}

// RepairPositions renumbers the ordered children of every parent whose
// positions do not form 0..n-1. It returns the ids of components whose
// position changed so callers can record them.
func (s *Store) RepairPositions(parentID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return renumber(s.ordered(parentID))
}

// childrenLocked returns the live children of parentID sorted for display;
// callers hold s.mu
func (s *Store) childrenLocked(parentID string) []*domain.Component {
	children := lo.Filter(lo.Values(s.components), func(c *domain.Component, _ int) bool {
		return c.ParentID == parentID && c.ID != parentID
	})
	sortSiblings(children)
	return children
}

// ordered returns the position-bearing builder-managed children of
// parentID sorted by position; callers hold s.mu
func (s *Store) ordered(parentID string) []*domain.Component {
	return orderedChildren(s.components, parentID)
}

func orderedChildren(m domain.ComponentMap, parentID string) []*domain.Component {
	children := lo.Filter(lo.Values(m), func(c *domain.Component, _ int) bool {
		return c.ParentID == parentID && c.ID != parentID &&
			!c.IsPositionless() && c.IsBuilderManaged()
	})
	sortSiblings(children)
	return children
}

func sortSiblings(children []*domain.Component) {
	sort.SliceStable(children, func(i, j int) bool {
		a, b := children[i], children[j]
		if a.IsPositionless() != b.IsPositionless() {
			return !a.IsPositionless()
		}
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		return a.ID < b.ID
	})
}

// renumber assigns positions 0..n-1 in order and returns changed ids
func renumber(children []*domain.Component) []string {
	var changed []string
	for i, c := range children {
		if c.Position != i {
			c.Position = i
			changed = append(changed, c.ID)
		}
	}
	return changed
}

func parentIDs(m domain.ComponentMap) []string {
	parents := lo.Uniq(lo.FilterMap(lo.Values(m), func(c *domain.Component, _ int) (string, bool) {
		return c.ParentID, c.ParentID != ""
	}))
	sort.Strings(parents)
	return parents
}

func brokenParents(m domain.ComponentMap) []string {
	var broken []string
	for _, parent := range parentIDs(m) {
		for i, c := range orderedChildren(m, parent) {
			if c.Position != i {
				broken = append(broken, parent)
				break
			}
		}
	}
	return broken
}

// repairPositions renumbers every broken progression in m in place and
// returns the affected parent ids
func repairPositions(m domain.ComponentMap) []string {
	var repaired []string
	for _, parent := range parentIDs(m) {
		if len(renumber(orderedChildren(m, parent))) > 0 {
			repaired = append(repaired, parent)
		}
	}
	return repaired
}

// findOrphans returns, sorted, the ids whose ancestor chain does not end
// at the root: dangling parent references and cycles
func findOrphans(m domain.ComponentMap) []string {
	verdict := make(map[string]bool, len(m)) // id -> reaches root
	var orphans []string

	for id := range m {
		path := []string{}
		onPath := map[string]bool{}
		current := id
		ok := false
		for {
			if v, seen := verdict[current]; seen {
				ok = v
				break
			}
			if current == domain.RootID {
				_, ok = m[domain.RootID]
				break
			}
			c, exists := m[current]
			if !exists || c.ParentID == "" || onPath[current] {
				ok = false
				break
			}
			onPath[current] = true
			path = append(path, current)
			current = c.ParentID
		}
		for _, p := range path {
			verdict[p] = ok
		}
	}

	for id, ok := range verdict {
		if !ok {
			orphans = append(orphans, id)
		}
	}
	sort.Strings(orphans)
	return orphans
}

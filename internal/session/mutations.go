package session

import (
	"encoding/json"
	"fmt"

	"github.com/vburojevic/bsync/internal/accessor"
	"github.com/vburojevic/bsync/internal/protocol"
)

// Mutation key prefixes
const (
	prefixSet    = '+'
	prefixDelete = '-'
)

// IngestMutations applies mutations to state in order. A "+" prefix (or
// none) sets the value at the accessor path, creating intermediate maps.
// A "-" prefix deletes the leaf; missing intermediates make it a no-op.
// Values that are not valid JSON are reported and skipped.
func IngestMutations(state map[string]any, mutations protocol.Mutations) error {
	var firstErr error
	for _, m := range mutations {
		if m.Key == "" {
			continue
		}
		key := m.Key
		op := byte(prefixSet)
		if key[0] == prefixSet || key[0] == prefixDelete {
			op = key[0]
			key = key[1:]
		}
		path := accessor.Parse(key)

		if op == prefixDelete {
			deletePath(state, path)
			continue
		}

		var value any
		if len(m.Value) > 0 {
			if err := json.Unmarshal(m.Value, &value); err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("mutation %q: %w", m.Key, err)
				}
				continue
			}
		}
		setPath(state, path, value)
	}
	return firstErr
}

func setPath(state map[string]any, path []string, value any) {
	node := state
	for _, segment := range path[:len(path)-1] {
		next, ok := node[segment].(map[string]any)
		if !ok {
			next = map[string]any{}
			node[segment] = next
		}
		node = next
	}
	node[path[len(path)-1]] = value
}

func deletePath(state map[string]any, path []string) {
	node := state
	for _, segment := range path[:len(path)-1] {
		next, ok := node[segment].(map[string]any)
		if !ok {
			return
		}
		node = next
	}
	delete(node, path[len(path)-1])
}

// Lookup resolves an accessor path against state
func Lookup(state map[string]any, path string) (any, bool) {
	segments := accessor.Parse(path)
	var node any = state
	for _, segment := range segments {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

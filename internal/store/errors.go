package store

import "errors"

var (
	// ErrNotFound is returned when a component id is not in the store
	ErrNotFound = errors.New("component not found")
	// ErrNoRoot is reported when the tree has no root component
	ErrNoRoot = errors.New("component tree has no root")
)

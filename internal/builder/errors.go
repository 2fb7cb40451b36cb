package builder

import "errors"

var (
	// ErrUnknownComponent is returned for ids missing from the store
	ErrUnknownComponent = errors.New("unknown component")
	// ErrCodeManaged is returned when editing a component owned by code
	ErrCodeManaged = errors.New("component is code-managed")
	// ErrRootImmutable is returned when deleting or moving the root
	ErrRootImmutable = errors.New("root component cannot be moved or deleted")
	// ErrInvalidParent is returned for moves into a non-container or into
	// the component's own subtree
	ErrInvalidParent = errors.New("invalid parent")
)

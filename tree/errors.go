package tree

import "errors"

var (
	// ErrPathOutsideTree indicates a physical path that does not fall
	// under the tree root.
	ErrPathOutsideTree = errors.New("tree: path outside tree")

	// ErrTreeLocked indicates the tree is locked by another process.
	ErrTreeLocked = errors.New("tree: tree is locked")

	// ErrNotLocked indicates an operation that requires a lock was
	// attempted without one.
	ErrNotLocked = errors.New("tree: tree is not locked")

	// ErrInvalidDelta indicates a metadata delta that cannot be applied
	// to the current versioned state.
	ErrInvalidDelta = errors.New("tree: invalid delta")
)

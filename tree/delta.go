package tree

// DeltaEntry describes the change to a single file id between the
// current versioned state and a desired one.
//
// OldPath and NewPath are tree-relative ("." is the root); the empty
// string means the id has no path on that side. An entry with an empty
// OldPath is an addition, one with an empty NewPath is a removal, and
// one with both set is a move or in-place metadata change.
type DeltaEntry struct {
	// OldPath is the id's path in the current state, "" if absent.
	OldPath string

	// NewPath is the id's path in the desired state, "" if absent.
	NewPath string

	// ID is the file id the entry is about.
	ID FileID

	// Entry carries the new metadata when NewPath is set, nil for
	// removals.
	Entry *Entry
}

// Delta is an ordered set of metadata changes applied atomically by
// WorkingTree.ApplyDelta. At most one entry per file id; parents of
// added entries must either exist already or be added by the same
// delta.
type Delta []DeltaEntry

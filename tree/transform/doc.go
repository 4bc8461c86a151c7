// Package transform stages arbitrary reshapes of a working tree and
// applies them atomically.
//
// # Overview
//
// A Session accumulates pending changes against a tree.WorkingTree
// without touching the tree, then applies them all at once. Changes are
// expressed per entry through an opaque handle (TransID), so a single
// session can rename, reparent, replace content, flip execute bits and
// change versioning for many entries, including swaps and cycles that
// no sequence of direct filesystem operations could perform safely.
//
// Session lifecycle:
//  1. New(): lock the tree, claim the limbo and pending-deletion
//     scratch directories
//  2. Acquire handles (TransIDForPath, CreatePath, TransIDForFileID)
//  3. Schedule changes (AdjustPath, Create*, Delete*, Version, ...)
//  4. FindConflicts(): check the end state is well formed
//  5. Apply(): two-phase move with rollback, then metadata install
//  6. Finalize(): destroy scratch state, release the lock
//
// Finalize is idempotent and must always run, typically deferred right
// after New. Apply finalizes on success; a failed Apply leaves the
// session for Finalize to clean up.
//
// # Handles
//
// Every entry a session touches is named by a TransID. Handles are
// issued for existing entries by path (TransIDForPath) or by file id
// (TransIDForFileID), and for entries that do not exist yet by
// CreatePath. The root's handle is Root. Handles are meaningless
// outside their session.
//
// Scheduled state is split per concern, and each concern is final
// wins-by-layer: staged values shadow tree values. FinalKind,
// FinalName, FinalParent, FinalFileID and FinalPath answer queries
// about the tree as it will be after apply.
//
// # Limbo Staging
//
// New content is written into a scratch "limbo" directory while the
// session builds, so apply itself moves files instead of writing them.
// When an entry's final parent is itself a staged directory and the
// final name is already known, the content is placed directly at its
// relative location inside limbo; applying the parent then moves the
// whole subtree in one rename. Entries whose final location is not yet
// decided are staged flat under the handle's name and scheduled for an
// individual rename.
//
// CancelCreation and AdjustPath keep limbo consistent: relocating or
// cancelling a staged directory relocates the content staged inside
// it.
//
// # Conflict Detection
//
// FindConflicts simulates the final tree and reports everything that
// would make it malformed: name collisions, orphaned entries, parent
// loops, content overwrites, versioning without content, and so on.
// Apply runs the same scan and refuses with *ConflictError unless the
// caller opted out after scanning themselves.
//
// # Two-Phase Apply
//
// Apply moves entries in two passes:
//
// Phase 1 (removals), children before parents:
//   - Content scheduled for deletion moves to the pending-deletion
//     scratch directory
//   - Entries changing path move to limbo under their handle's name
//
// Phase 2 (insertions), parents before children:
//   - Staged content moves from limbo to its final path
//   - Execute bits are adjusted
//
// Every move is recorded. If either phase fails, the recorded moves
// are replayed in reverse and the tree is physically unchanged. After
// phase 2 the pending deletions are destroyed; this is the point of no
// return. Only then is the projected metadata delta handed to the tree
// via ApplyDelta.
//
// ProjectDelta exposes the metadata delta without applying, for
// callers that want to inspect or precompute it.
//
// # Serialization
//
// Serialize writes the whole pending-change ledger and all staged
// content to an io.Writer (CBOR records, file bytes zstd-compressed).
// Deserialize reconstructs an equivalent session against a tree later,
// possibly in another process. The tree may have changed in between;
// that surfaces through FindConflicts like any other inconsistency.
//
// # Basic Usage
//
// Rename a file and replace its content:
//
//	ts, err := transform.New(wt, nil)
//	if err != nil {
//	    return err
//	}
//	defer ts.Finalize()
//
//	id, err := ts.TransIDForPath("docs/old.txt")
//	if err != nil {
//	    return err
//	}
//	root := ts.Root()
//	if err := ts.AdjustPath(id, "new.txt", root); err != nil {
//	    return err
//	}
//	if err := ts.DeleteContents(id); err != nil {
//	    return err
//	}
//	if err := ts.CreateFile(id, strings.NewReader("fresh\n")); err != nil {
//	    return err
//	}
//
//	result, err := ts.Apply(nil)
//	if err != nil {
//	    return err
//	}
//	fmt.Printf("renamed %d entries\n", result.RenameCount)
//
// Build a new versioned file in one call:
//
//	_, err = ts.NewFile("README", ts.Root(), strings.NewReader("hi\n"),
//	    tree.NewFileID("README"))
//
// # Error Handling
//
// Failed applies report through the session state: StateAborted after
// a rollback means the tree is physically unchanged. Apply errors of
// type *RenameError carry both endpoints of the failing move, and
// errors.Is(err, ErrFileExists) identifies occupied targets. A spent
// session (applied or finalized) rejects every mutation with
// ErrSessionSpent.
//
// # Thread Safety
//
// A Session is not safe for concurrent use. It holds the tree's write
// lock for its whole lifetime, so independent sessions against one
// tree serialize on the lock.
package transform

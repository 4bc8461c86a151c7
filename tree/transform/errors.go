package transform

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionSpent indicates a mutation or apply on a session that
	// has already been applied or finalized.
	ErrSessionSpent = errors.New("transform: session already applied or finalized")

	// ErrCantMoveRoot indicates an attempt to rename or reparent the
	// tree root handle.
	ErrCantMoveRoot = errors.New("transform: cannot move the tree root")

	// ErrChangeAlreadyScheduled indicates a second pending change of
	// the same kind for one handle.
	ErrChangeAlreadyScheduled = errors.New("transform: change already scheduled for handle")

	// ErrEmptyFileID indicates an empty file id where one is required.
	ErrEmptyFileID = errors.New("transform: empty file id")

	// ErrNotPending indicates a cancellation for a change that was
	// never scheduled.
	ErrNotPending = errors.New("transform: no such pending change")

	// ErrInvalidName indicates an entry name that is empty, contains a
	// separator, or is "." or "..".
	ErrInvalidName = errors.New("transform: invalid entry name")

	// ErrNoFinalPath indicates a handle whose final path is undefined
	// because it has no effective name or parent.
	ErrNoFinalPath = errors.New("transform: handle has no final path")

	// ErrFileExists marks rename failures caused by an occupied
	// target. Test it with errors.Is on errors returned from Apply.
	ErrFileExists = errors.New("transform: target exists")

	// ErrHardLinkUnsupported indicates the tree cannot create hard
	// links.
	ErrHardLinkUnsupported = errors.New("transform: hard links not supported")

	// ErrExistingLimbo indicates a leftover non-empty limbo directory
	// from a crashed process. The tree needs manual cleanup before new
	// sessions can start.
	ErrExistingLimbo = errors.New("transform: existing limbo directory")

	// ErrExistingQuarantine indicates a leftover non-empty pending
	// deletion directory.
	ErrExistingQuarantine = errors.New("transform: existing pending deletion directory")

	// ErrImmortalLimbo indicates limbo could not be deleted during
	// finalization.
	ErrImmortalLimbo = errors.New("transform: unable to delete limbo directory")

	// ErrImmortalQuarantine indicates the pending deletion directory
	// could not be deleted during finalization.
	ErrImmortalQuarantine = errors.New("transform: unable to delete pending deletion directory")

	// ErrMultipleNewRoots indicates more than one new entry claimed
	// the root path.
	ErrMultipleNewRoots = errors.New("transform: more than one new root")

	// ErrUnsupportedFormat indicates serialized session data in an
	// unknown format.
	ErrUnsupportedFormat = errors.New("transform: unsupported serialization format")
)

// ConflictError reports the conflicts that blocked an apply.
type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	if len(e.Conflicts) == 1 {
		return fmt.Sprintf("transform: unresolved conflict: %s", e.Conflicts[0])
	}
	return fmt.Sprintf("transform: %d unresolved conflicts", len(e.Conflicts))
}

// RenameError reports a failed physical rename with both endpoints.
// When the failure was an occupied target, errors.Is(err,
// ErrFileExists) reports true.
type RenameError struct {
	From string
	To   string
	Err  error
}

func (e *RenameError) Error() string {
	return fmt.Sprintf("transform: rename %q to %q: %v", e.From, e.To, e.Err)
}

func (e *RenameError) Unwrap() error { return e.Err }

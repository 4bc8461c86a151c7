package transform

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"

	"github.com/breezy-team/treekit/tree"
)

type renameRecord struct {
	from string
	to   string
}

// fileMover performs the physical renames of an apply pass and can
// undo them in reverse order. Deletions are staged as renames into the
// quarantine directory and only destroyed once the pass is past the
// point of rollback.
type fileMover struct {
	fsys             tree.FS
	pastRenames      []renameRecord
	pendingDeletions []string
}

func (m *fileMover) rename(from, to string) error {
	if err := m.fsys.Rename(from, to); err != nil {
		if errors.Is(err, fs.ErrExist) || errors.Is(err, syscall.ENOTEMPTY) {
			return &RenameError{From: from, To: to, Err: errors.Join(ErrFileExists, err)}
		}
		return &RenameError{From: from, To: to, Err: err}
	}
	m.pastRenames = append(m.pastRenames, renameRecord{from: from, to: to})
	return nil
}

// preDelete moves from into the quarantine slot to. The move is
// recorded like any rename so rollback restores it; applyDeletions
// makes it permanent.
func (m *fileMover) preDelete(from, to string) error {
	if err := m.rename(from, to); err != nil {
		return err
	}
	m.pendingDeletions = append(m.pendingDeletions, to)
	return nil
}

// rollback reverses every recorded rename, newest first.
func (m *fileMover) rollback() error {
	for i := len(m.pastRenames) - 1; i >= 0; i-- {
		r := m.pastRenames[i]
		if err := m.fsys.Rename(r.to, r.from); err != nil {
			return &RenameError{From: r.to, To: r.from, Err: err}
		}
	}
	m.pastRenames = nil
	return nil
}

// applyDeletions destroys the quarantined entries. After this the
// recorded renames can no longer be rolled back.
func (m *fileMover) applyDeletions() error {
	for _, p := range m.pendingDeletions {
		if err := m.fsys.Remove(p); err != nil {
			return fmt.Errorf("applying deletion of %s: %w", p, err)
		}
	}
	m.pendingDeletions = nil
	m.pastRenames = nil
	return nil
}

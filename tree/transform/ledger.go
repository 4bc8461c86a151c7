package transform

import (
	"fmt"
	"strings"

	"github.com/breezy-team/treekit/tree"
)

// checkName rejects names that cannot be a single path component.
func checkName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	return nil
}

// CreatePath allocates a handle for a new entry with the given name
// under parent. The entry has no content or file id until Create* and
// Version add them. An empty name is accepted only under RootParent,
// where the nameless entry stands for a replacement tree root.
func (s *Session) CreatePath(name string, parent TransID) (TransID, error) {
	if err := s.ensureBuilding(); err != nil {
		return NoHandle, err
	}
	if parent != RootParent || name != "" {
		if err := checkName(name); err != nil {
			return NoHandle, err
		}
	}
	if parent == NoHandle {
		return NoHandle, fmt.Errorf("transform: create %q: parent handle is unset", name)
	}
	id := s.newHandle()
	s.newName[id] = name
	s.newParent[id] = parent
	return id, nil
}

// AdjustPath schedules a rename or move: the entry behind id will end
// up with the given name under parent. Staged content that was placed
// in limbo under its old final path is relocated now so apply stays
// rename-free for it.
func (s *Session) AdjustPath(id TransID, name string, parent TransID) error {
	if err := s.ensureBuilding(); err != nil {
		return err
	}
	if id == s.root {
		return ErrCantMoveRoot
	}
	if parent != RootParent || name != "" {
		if err := checkName(name); err != nil {
			return err
		}
	}
	if parent == NoHandle {
		return fmt.Errorf("transform: move %q: parent handle is unset", name)
	}

	prevParent, hadParent := s.newParent[id]
	prevName, hadName := s.newName[id]
	s.newName[id] = name
	s.newParent[id] = parent

	if _, staged := s.limboFiles[id]; !staged {
		return nil
	}
	if _, flat := s.needsRename[id]; flat {
		return nil
	}
	// The limbo placement assumed the old name and parent.
	if err := s.renameInLimbo([]TransID{id}); err != nil {
		return err
	}
	if hadParent && prevParent != parent {
		delete(s.limboChildren[prevParent], id)
	}
	if (hadParent && prevParent != parent) || (hadName && prevName != name) {
		if m := s.limboChildrenNames[prevParent]; m != nil && m[prevName] == id {
			delete(m, prevName)
		}
	}
	return nil
}

// Version schedules the entry behind id to be versioned under fileID.
func (s *Session) Version(id TransID, fileID tree.FileID) error {
	if err := s.ensureBuilding(); err != nil {
		return err
	}
	if fileID == "" {
		return ErrEmptyFileID
	}
	if _, ok := s.newID[id]; ok {
		return fmt.Errorf("file id for handle %d: %w", id, ErrChangeAlreadyScheduled)
	}
	if other, ok := s.rNewID[fileID]; ok {
		return fmt.Errorf("file id %q already claimed by handle %d: %w",
			fileID, other, ErrChangeAlreadyScheduled)
	}
	s.newID[id] = fileID
	s.rNewID[fileID] = id
	return nil
}

// CancelVersioning withdraws a pending Version for id.
func (s *Session) CancelVersioning(id TransID) error {
	if err := s.ensureBuilding(); err != nil {
		return err
	}
	fileID, ok := s.newID[id]
	if !ok {
		return fmt.Errorf("versioning of handle %d: %w", id, ErrNotPending)
	}
	delete(s.newID, id)
	delete(s.rNewID, fileID)
	return nil
}

// Unversion schedules removal of the file id currently attached to the
// entry behind id. Scheduling it twice is harmless.
func (s *Session) Unversion(id TransID) error {
	if err := s.ensureBuilding(); err != nil {
		return err
	}
	s.removedID[id] = struct{}{}
	return nil
}

// DeleteContents schedules removal of the existing content behind id.
// A handle with no content in the tree is left alone.
func (s *Session) DeleteContents(id TransID) error {
	if err := s.ensureBuilding(); err != nil {
		return err
	}
	if s.TreeKind(id) == tree.KindMissing {
		return nil
	}
	s.removedContents[id] = struct{}{}
	return nil
}

// CancelDeletion withdraws a pending DeleteContents for id.
func (s *Session) CancelDeletion(id TransID) error {
	if err := s.ensureBuilding(); err != nil {
		return err
	}
	if _, ok := s.removedContents[id]; !ok {
		return fmt.Errorf("deletion of handle %d: %w", id, ErrNotPending)
	}
	delete(s.removedContents, id)
	return nil
}

// DeleteVersioned schedules removal of both the content and the file
// id behind id.
func (s *Session) DeleteVersioned(id TransID) error {
	if err := s.DeleteContents(id); err != nil {
		return err
	}
	return s.Unversion(id)
}

// SetExecutability schedules the execute permission of the file behind
// id. At most one pending value per handle.
func (s *Session) SetExecutability(id TransID, executable bool) error {
	if err := s.ensureBuilding(); err != nil {
		return err
	}
	if _, ok := s.newExecutability[id]; ok {
		return fmt.Errorf("executability for handle %d: %w", id, ErrChangeAlreadyScheduled)
	}
	s.newExecutability[id] = executable
	return nil
}

// CancelExecutability withdraws a pending SetExecutability for id.
func (s *Session) CancelExecutability(id TransID) error {
	if err := s.ensureBuilding(); err != nil {
		return err
	}
	if _, ok := s.newExecutability[id]; !ok {
		return fmt.Errorf("executability of handle %d: %w", id, ErrNotPending)
	}
	delete(s.newExecutability, id)
	return nil
}

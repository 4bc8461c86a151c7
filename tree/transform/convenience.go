package transform

import (
	"fmt"
	"io"

	"github.com/breezy-team/treekit/tree"
)

// newEntry allocates a handle for a named entry and optionally
// schedules a file id for it. An empty fileID leaves it unversioned.
func (s *Session) newEntry(name string, parent TransID, fileID tree.FileID) (TransID, error) {
	id, err := s.CreatePath(name, parent)
	if err != nil {
		return NoHandle, err
	}
	if fileID != "" {
		if err := s.Version(id, fileID); err != nil {
			return NoHandle, err
		}
	}
	return id, nil
}

// NewFile stages a complete new file: path, content and, when fileID
// is non-empty, versioning.
func (s *Session) NewFile(name string, parent TransID, contents io.Reader, fileID tree.FileID) (TransID, error) {
	id, err := s.newEntry(name, parent, fileID)
	if err != nil {
		return NoHandle, err
	}
	if err := s.CreateFile(id, contents); err != nil {
		return NoHandle, err
	}
	return id, nil
}

// NewDirectory stages a complete new directory.
func (s *Session) NewDirectory(name string, parent TransID, fileID tree.FileID) (TransID, error) {
	id, err := s.newEntry(name, parent, fileID)
	if err != nil {
		return NoHandle, err
	}
	if err := s.CreateDirectory(id); err != nil {
		return NoHandle, err
	}
	return id, nil
}

// NewSymlink stages a complete new symlink to target.
func (s *Session) NewSymlink(name string, parent TransID, target string, fileID tree.FileID) (TransID, error) {
	id, err := s.newEntry(name, parent, fileID)
	if err != nil {
		return NoHandle, err
	}
	if err := s.CreateSymlink(id, target); err != nil {
		return NoHandle, err
	}
	return id, nil
}

// FixupNewRoots reinterprets a request to replace the tree root.
// Instead of installing a new root directory, the attributes and
// children of the staged root are grafted onto the existing root
// entry. The staged root handle is obsolete afterwards.
func (s *Session) FixupNewRoots() error {
	if err := s.ensureBuilding(); err != nil {
		return err
	}
	var newRoots []TransID
	for _, id := range sortedHandles(s.newParent) {
		if s.newParent[id] == RootParent {
			newRoots = append(newRoots, id)
		}
	}
	if len(newRoots) == 0 {
		return nil
	}
	if len(newRoots) > 1 {
		return fmt.Errorf("%w: %d staged", ErrMultipleNewRoots, len(newRoots))
	}
	oldNewRoot := newRoots[0]

	var fileID tree.FileID
	if s.FinalKind(s.root) == tree.KindMissing {
		fileID = s.FinalFileID(oldNewRoot)
	} else {
		fileID = s.FinalFileID(s.root)
	}
	if _, ok := s.newID[oldNewRoot]; ok {
		if err := s.CancelVersioning(oldNewRoot); err != nil {
			return err
		}
	} else {
		if err := s.Unversion(oldNewRoot); err != nil {
			return err
		}
	}
	// The root keeps its handle but may change identity, so clear any
	// id it still carries before attaching the new one.
	if s.TreeFileID(s.root) != "" {
		if _, removed := s.removedID[s.root]; !removed {
			if err := s.Unversion(s.root); err != nil {
				return err
			}
		}
	}
	if fileID != "" {
		if err := s.Version(s.root, fileID); err != nil {
			return err
		}
	}

	// Register existing children so the move below catches all of
	// them, not just the ones with pending changes.
	if _, err := s.iterTreeChildren(oldNewRoot); err != nil {
		return err
	}
	for _, child := range s.byParent()[oldNewRoot] {
		name, ok := s.FinalName(child)
		if !ok {
			return fmt.Errorf("child %d of staged root: %w", child, ErrNoFinalPath)
		}
		if err := s.AdjustPath(child, name, s.root); err != nil {
			return err
		}
	}

	if _, ok := s.newContents[oldNewRoot]; ok {
		if err := s.CancelCreation(oldNewRoot); err != nil {
			return err
		}
	} else {
		if err := s.DeleteContents(oldNewRoot); err != nil {
			return err
		}
	}
	if _, ok := s.removedContents[s.root]; ok {
		if err := s.CancelDeletion(s.root); err != nil {
			return err
		}
	}

	delete(s.newParent, oldNewRoot)
	delete(s.newName, oldNewRoot)
	return nil
}

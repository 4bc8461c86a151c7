package transform

import (
	"fmt"
	"sort"

	"github.com/breezy-team/treekit/internal/pathutil"
	"github.com/breezy-team/treekit/tree"
)

// ConflictKind classifies a reason the pending changes cannot apply.
type ConflictKind int

const (
	// ConflictParentLoop is a directory moved into its own descendant.
	ConflictParentLoop ConflictKind = iota

	// ConflictUnversionedParent is a versioned entry placed under a
	// directory that will not be versioned.
	ConflictUnversionedParent

	// ConflictMissingParent is an entry placed under a directory that
	// will have no content.
	ConflictMissingParent

	// ConflictNonDirectoryParent is an entry placed under something
	// that is not a directory.
	ConflictNonDirectoryParent

	// ConflictDuplicateEntry is two entries claiming one name in one
	// directory.
	ConflictDuplicateEntry

	// ConflictDuplicateFileID is a staged file id that another entry
	// still carries.
	ConflictDuplicateFileID

	// ConflictVersioningNoContents is a file id scheduled for an entry
	// that will have no content.
	ConflictVersioningNoContents

	// ConflictVersioningBadKind is a file id scheduled for content
	// that cannot be versioned.
	ConflictVersioningBadKind

	// ConflictUnversionedExecutability is an execute bit scheduled for
	// an entry that will not be versioned.
	ConflictUnversionedExecutability

	// ConflictNonFileExecutability is an execute bit scheduled for
	// something that is not a regular file.
	ConflictNonFileExecutability

	// ConflictOverwrite is staged content for a path that still has
	// tree content.
	ConflictOverwrite
)

// String returns the conflict kind's name.
func (k ConflictKind) String() string {
	switch k {
	case ConflictParentLoop:
		return "parent loop"
	case ConflictUnversionedParent:
		return "unversioned parent"
	case ConflictMissingParent:
		return "missing parent"
	case ConflictNonDirectoryParent:
		return "non-directory parent"
	case ConflictDuplicateEntry:
		return "duplicate"
	case ConflictDuplicateFileID:
		return "duplicate id"
	case ConflictVersioningNoContents:
		return "versioning no contents"
	case ConflictVersioningBadKind:
		return "versioning bad kind"
	case ConflictUnversionedExecutability:
		return "unversioned executability"
	case ConflictNonFileExecutability:
		return "non-file executability"
	case ConflictOverwrite:
		return "overwrite"
	default:
		return "unknown"
	}
}

// Conflict is one reason the pending changes cannot apply. Handle is
// the entry at fault; Other, Name and EntryKind carry extra detail for
// the kinds that have it.
type Conflict struct {
	Kind      ConflictKind
	Handle    TransID
	Other     TransID
	Name      string
	EntryKind tree.Kind
}

func (c Conflict) String() string {
	switch c.Kind {
	case ConflictDuplicateEntry:
		return fmt.Sprintf("%s: handles %d and %d both claim name %q",
			c.Kind, c.Handle, c.Other, c.Name)
	case ConflictDuplicateFileID:
		return fmt.Sprintf("%s: handle %d still carries the id staged for handle %d",
			c.Kind, c.Handle, c.Other)
	case ConflictVersioningBadKind:
		return fmt.Sprintf("%s: handle %d has %s content", c.Kind, c.Handle, c.EntryKind)
	case ConflictOverwrite:
		return fmt.Sprintf("%s: handle %d stages content over existing %q",
			c.Kind, c.Handle, c.Name)
	default:
		return fmt.Sprintf("%s: handle %d", c.Kind, c.Handle)
	}
}

// FindConflicts scans the pending changes and reports everything that
// would make them unapplicable. An empty result means Apply will not
// refuse. Conflicts are reported in a stable order.
func (s *Session) FindConflicts() ([]Conflict, error) {
	if err := s.ensureBuilding(); err != nil {
		return nil, err
	}
	if err := s.addTreeChildren(); err != nil {
		return nil, err
	}
	byParent := s.byParent()

	var conflicts []Conflict
	conflicts = append(conflicts, s.unversionedParents(byParent)...)
	conflicts = append(conflicts, s.parentLoops()...)
	conflicts = append(conflicts, s.duplicateEntries(byParent)...)
	conflicts = append(conflicts, s.duplicateFileIDs()...)
	conflicts = append(conflicts, s.parentTypeConflicts(byParent)...)
	conflicts = append(conflicts, s.improperVersioning()...)
	conflicts = append(conflicts, s.executabilityConflicts()...)
	conflicts = append(conflicts, s.overwriteConflicts()...)
	return conflicts, nil
}

// iterTreeChildren registers handles for every existing child of the
// tree directory behind parent, returning them.
func (s *Session) iterTreeChildren(parent TransID) ([]TransID, error) {
	p, ok := s.treeIDPaths[parent]
	if !ok {
		return nil, nil
	}
	names, err := s.wt.Children(p)
	if err != nil {
		return nil, err
	}
	ids := make([]TransID, 0, len(names))
	for _, name := range names {
		ids = append(ids, s.transIDForTreePath(pathutil.Join(p, name)))
	}
	return ids, nil
}

// addTreeChildren makes sure every existing child of every directory
// the session touches has a handle, so sibling collisions and orphaned
// children are visible to the checks below.
func (s *Session) addTreeChildren() error {
	seen := make(map[TransID]struct{})
	var parents []TransID
	add := func(id TransID) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			parents = append(parents, id)
		}
	}
	for parent := range s.byParent() {
		add(parent)
	}
	for id := range s.removedContents {
		if s.TreeKind(id) == tree.KindDirectory {
			add(id)
		}
	}
	for id := range s.removedID {
		if p, ok := s.treeIDPaths[id]; ok {
			if s.wt.StoredKind(p) == tree.KindDirectory {
				add(id)
			}
		} else if s.TreeKind(id) == tree.KindDirectory {
			add(id)
		}
	}
	sort.Slice(parents, func(i, j int) bool { return parents[i] < parents[j] })
	for _, parent := range parents {
		if _, err := s.iterTreeChildren(parent); err != nil {
			return err
		}
	}
	return nil
}

// unversionedParents flags versioned entries whose final parent will
// not be versioned.
func (s *Session) unversionedParents(byParent map[TransID][]TransID) []Conflict {
	var conflicts []Conflict
	for _, parent := range sortedParents(byParent) {
		if parent == RootParent {
			continue
		}
		if s.finalVersioned(parent) {
			continue
		}
		for _, child := range byParent[parent] {
			if s.finalVersioned(child) {
				conflicts = append(conflicts, Conflict{
					Kind:   ConflictUnversionedParent,
					Handle: parent,
				})
				break
			}
		}
	}
	return conflicts
}

// parentLoops flags moves that would place a directory inside itself.
func (s *Session) parentLoops() []Conflict {
	var conflicts []Conflict
	for _, id := range sortedHandles(s.newParent) {
		seen := make(map[TransID]struct{})
		parent := id
		for parent != RootParent {
			seen[parent] = struct{}{}
			next, ok := s.FinalParent(parent)
			if !ok {
				break
			}
			parent = next
			if parent == id {
				conflicts = append(conflicts, Conflict{
					Kind:   ConflictParentLoop,
					Handle: id,
				})
				break
			}
			if _, ok := seen[parent]; ok {
				break
			}
		}
	}
	return conflicts
}

// duplicateEntries flags siblings claiming the same final name. Names
// are compared case-folded on case-insensitive trees. Entries that end
// up with neither content nor a file id cannot collide.
func (s *Session) duplicateEntries(byParent map[TransID][]TransID) []Conflict {
	if len(s.newName) == 0 && len(s.newParent) == 0 {
		return nil
	}
	var conflicts []Conflict
	for _, parent := range sortedParents(byParent) {
		children := byParent[parent]
		nameIDs := make([]pathHandle, 0, len(children))
		for _, child := range children {
			name, ok := s.FinalName(child)
			if !ok {
				continue
			}
			if !s.caseSensitive {
				name = s.foldName(name)
			}
			nameIDs = append(nameIDs, pathHandle{path: name, id: child})
		}
		sort.Slice(nameIDs, func(i, j int) bool {
			if nameIDs[i].path != nameIDs[j].path {
				return nameIDs[i].path < nameIDs[j].path
			}
			return nameIDs[i].id < nameIDs[j].id
		})
		lastName := ""
		lastID := NoHandle
		for _, ni := range nameIDs {
			kind := s.FinalKind(ni.id)
			if kind == tree.KindMissing && !s.finalVersioned(ni.id) {
				continue
			}
			if ni.path == lastName && lastID != NoHandle {
				conflicts = append(conflicts, Conflict{
					Kind:   ConflictDuplicateEntry,
					Handle: lastID,
					Other:  ni.id,
					Name:   ni.path,
				})
			}
			lastName = ni.path
			lastID = ni.id
		}
	}
	return conflicts
}

// duplicateFileIDs flags staged file ids that some other entry will
// still carry after apply.
func (s *Session) duplicateFileIDs() []Conflict {
	var conflicts []Conflict
	for _, id := range sortedHandles(s.newID) {
		fileID := s.newID[id]
		p, ok := s.wt.PathForID(fileID)
		if !ok {
			continue
		}
		canon, cok := pathutil.Clean(p)
		if !cok {
			continue
		}
		holder := s.transIDForTreePath(canon)
		if _, removed := s.removedID[holder]; removed {
			continue
		}
		conflicts = append(conflicts, Conflict{
			Kind:   ConflictDuplicateFileID,
			Handle: holder,
			Other:  id,
		})
	}
	return conflicts
}

// parentTypeConflicts flags entries whose final parent has no content
// or non-directory content. Parents whose children all dissolve are
// left alone.
func (s *Session) parentTypeConflicts(byParent map[TransID][]TransID) []Conflict {
	var conflicts []Conflict
	for _, parent := range sortedParents(byParent) {
		if parent == RootParent {
			continue
		}
		hasChild := false
		for _, child := range byParent[parent] {
			if s.FinalKind(child) != tree.KindMissing {
				hasChild = true
				break
			}
		}
		if !hasChild {
			continue
		}
		switch kind := s.FinalKind(parent); kind {
		case tree.KindMissing:
			conflicts = append(conflicts, Conflict{
				Kind:   ConflictMissingParent,
				Handle: parent,
			})
		case tree.KindDirectory:
		default:
			conflicts = append(conflicts, Conflict{
				Kind:   ConflictNonDirectoryParent,
				Handle: parent,
			})
		}
	}
	return conflicts
}

// improperVersioning flags file ids scheduled for entries whose final
// content cannot carry one. Symlinks on trees without symlink support
// are exempt; their content is represented in metadata only.
func (s *Session) improperVersioning() []Conflict {
	var conflicts []Conflict
	for _, id := range sortedHandles(s.newID) {
		kind := s.FinalKind(id)
		if kind == tree.KindSymlink && !s.wt.SupportsSymlinks() {
			continue
		}
		if kind == tree.KindMissing {
			conflicts = append(conflicts, Conflict{
				Kind:   ConflictVersioningNoContents,
				Handle: id,
			})
			continue
		}
		if !kind.Versionable() {
			conflicts = append(conflicts, Conflict{
				Kind:      ConflictVersioningBadKind,
				Handle:    id,
				EntryKind: kind,
			})
		}
	}
	return conflicts
}

// executabilityConflicts flags execute bits scheduled for entries that
// will not be versioned regular files.
func (s *Session) executabilityConflicts() []Conflict {
	var conflicts []Conflict
	for _, id := range sortedHandles(s.newExecutability) {
		if !s.finalVersioned(id) {
			conflicts = append(conflicts, Conflict{
				Kind:   ConflictUnversionedExecutability,
				Handle: id,
			})
			continue
		}
		if s.FinalKind(id) != tree.KindFile {
			conflicts = append(conflicts, Conflict{
				Kind:   ConflictNonFileExecutability,
				Handle: id,
			})
		}
	}
	return conflicts
}

// overwriteConflicts flags staged content for handles whose existing
// tree content is not scheduled for deletion.
func (s *Session) overwriteConflicts() []Conflict {
	var conflicts []Conflict
	for _, id := range sortedHandles(s.newContents) {
		if s.TreeKind(id) == tree.KindMissing {
			continue
		}
		if _, removed := s.removedContents[id]; removed {
			continue
		}
		name, _ := s.FinalName(id)
		conflicts = append(conflicts, Conflict{
			Kind:   ConflictOverwrite,
			Handle: id,
			Name:   name,
		})
	}
	return conflicts
}

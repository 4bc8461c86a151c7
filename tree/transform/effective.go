package transform

import (
	"fmt"
	"sort"

	"github.com/breezy-team/treekit/internal/pathutil"
	"github.com/breezy-team/treekit/tree"
)

// TreeKind returns the physical content kind the entry behind id has
// in the tree right now, before any pending change.
func (s *Session) TreeKind(id TransID) tree.Kind {
	p, ok := s.treeIDPaths[id]
	if !ok {
		return tree.KindMissing
	}
	return s.wt.Kind(p)
}

// TreeFileID returns the file id the entry behind id carries in the
// tree right now.
func (s *Session) TreeFileID(id TransID) tree.FileID {
	p, ok := s.treeIDPaths[id]
	if !ok {
		return ""
	}
	return s.wt.FileID(p)
}

// FinalKind returns the content kind the entry will have after apply:
// staged content wins, deleted content is KindMissing, anything else
// keeps its tree kind.
func (s *Session) FinalKind(id TransID) tree.Kind {
	if kind, ok := s.newContents[id]; ok {
		return kind
	}
	if _, ok := s.removedContents[id]; ok {
		return tree.KindMissing
	}
	return s.TreeKind(id)
}

// FinalFileID returns the file id the entry will carry after apply. A
// pending Version wins over a pending Unversion.
func (s *Session) FinalFileID(id TransID) tree.FileID {
	if fileID, ok := s.newID[id]; ok {
		return fileID
	}
	if _, ok := s.removedID[id]; ok {
		return ""
	}
	return s.TreeFileID(id)
}

// FinalParent returns the handle of the directory the entry will live
// in after apply. The root reports RootParent. The second result is
// false for handles with neither a pending parent nor a tree path.
func (s *Session) FinalParent(id TransID) (TransID, bool) {
	if parent, ok := s.newParent[id]; ok {
		return parent, true
	}
	return s.treeParent(id)
}

// FinalName returns the base name the entry will have after apply. The
// root's name is empty. The second result is false for handles with
// neither a pending name nor a tree path.
func (s *Session) FinalName(id TransID) (string, bool) {
	if name, ok := s.newName[id]; ok {
		return name, true
	}
	p, ok := s.treeIDPaths[id]
	if !ok {
		return "", false
	}
	if p == "." {
		return "", true
	}
	_, base := pathutil.Split(p)
	return base, true
}

// FinalExecutable returns the execute bit the entry will carry after
// apply: a pending change wins, files keep their tree bit. The second
// result is false for entries whose final kind is not a file.
func (s *Session) FinalExecutable(id TransID) (bool, bool) {
	if v, ok := s.newExecutability[id]; ok {
		return v, true
	}
	if s.FinalKind(id) != tree.KindFile {
		return false, false
	}
	if p, ok := s.treeIDPaths[id]; ok {
		return s.wt.IsExecutable(p), true
	}
	return false, true
}

// finalVersioned reports whether the entry will carry a file id after
// apply.
func (s *Session) finalVersioned(id TransID) bool {
	return s.FinalFileID(id) != ""
}

// PathChanged reports whether a rename or move is pending for id.
func (s *Session) PathChanged(id TransID) bool {
	if _, ok := s.newName[id]; ok {
		return true
	}
	_, ok := s.newParent[id]
	return ok
}

// byParent groups every known handle under its final parent. Children
// lists are sorted so iteration order is stable.
func (s *Session) byParent() map[TransID][]TransID {
	sets := make(map[TransID]map[TransID]struct{})
	add := func(id, parent TransID) {
		m := sets[parent]
		if m == nil {
			m = make(map[TransID]struct{})
			sets[parent] = m
		}
		m[id] = struct{}{}
	}
	for id, parent := range s.newParent {
		add(id, parent)
	}
	for id := range s.treeIDPaths {
		if parent, ok := s.FinalParent(id); ok {
			add(id, parent)
		}
	}
	out := make(map[TransID][]TransID, len(sets))
	for parent, m := range sets {
		children := make([]TransID, 0, len(m))
		for id := range m {
			children = append(children, id)
		}
		sort.Slice(children, func(i, j int) bool { return children[i] < children[j] })
		out[parent] = children
	}
	return out
}

// sortedHandles returns the keys of a handle-keyed map in order.
func sortedHandles[V any](m map[TransID]V) []TransID {
	ids := make([]TransID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// sortedParents returns the keys of a by-parent map in order.
func sortedParents(m map[TransID][]TransID) []TransID {
	ids := make([]TransID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// pathFinder computes final tree paths with memoization. Build a fresh
// one per query batch; it must not outlive further mutations.
type pathFinder struct {
	s     *Session
	known map[TransID]string
}

func newPathFinder(s *Session) *pathFinder {
	return &pathFinder{s: s, known: make(map[TransID]string)}
}

func (f *pathFinder) path(id TransID) (string, error) {
	if id == f.s.root || id == RootParent {
		return ".", nil
	}
	if p, ok := f.known[id]; ok {
		return p, nil
	}
	name, ok := f.s.FinalName(id)
	if !ok {
		return "", fmt.Errorf("handle %d: %w", id, ErrNoFinalPath)
	}
	parent, ok := f.s.FinalParent(id)
	if !ok {
		return "", fmt.Errorf("handle %d: %w", id, ErrNoFinalPath)
	}
	var p string
	if parent == f.s.root {
		p = name
	} else {
		parentPath, err := f.path(parent)
		if err != nil {
			return "", err
		}
		p = pathutil.Join(parentPath, name)
	}
	f.known[id] = p
	return p, nil
}

// FinalPath returns the tree-relative path the entry behind id will
// have after apply.
func (s *Session) FinalPath(id TransID) (string, error) {
	return newPathFinder(s).path(id)
}

// pathHandle pairs a final path with its handle.
type pathHandle struct {
	path string
	id   TransID
}

// newPaths lists the entries apply must visit, sorted by final path so
// parents come before children. With filesystemOnly set, the list is
// restricted to entries needing physical work: staged content on flat
// limbo paths plus executability changes.
func (s *Session) newPaths(filesystemOnly bool) ([]pathHandle, error) {
	ids := make(map[TransID]struct{})
	if filesystemOnly {
		// A handle left in needsRename by a cancelled creation with no
		// other pending change is stale and gets no visit.
		for id := range s.needsRename {
			if _, ok := s.newName[id]; ok {
				ids[id] = struct{}{}
				continue
			}
			if _, ok := s.newParent[id]; ok {
				ids[id] = struct{}{}
				continue
			}
			if _, ok := s.newContents[id]; ok {
				ids[id] = struct{}{}
				continue
			}
			if _, ok := s.newID[id]; ok {
				ids[id] = struct{}{}
			}
		}
		for id := range s.newExecutability {
			ids[id] = struct{}{}
		}
	} else {
		for id := range s.newName {
			ids[id] = struct{}{}
		}
		for id := range s.newParent {
			ids[id] = struct{}{}
		}
		for id := range s.newContents {
			ids[id] = struct{}{}
		}
		for id := range s.newID {
			ids[id] = struct{}{}
		}
		for id := range s.newExecutability {
			ids[id] = struct{}{}
		}
	}

	finder := newPathFinder(s)
	out := make([]pathHandle, 0, len(ids))
	for id := range ids {
		p, err := finder.path(id)
		if err != nil {
			return nil, err
		}
		out = append(out, pathHandle{path: p, id: id})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].path != out[j].path {
			return out[i].path < out[j].path
		}
		return out[i].id < out[j].id
	})
	return out, nil
}

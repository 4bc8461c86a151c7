package transform

import (
	"sort"

	"github.com/breezy-team/treekit/tree"
)

// inventoryAltered returns the final path and handle of every entry
// whose versioned metadata this session changes, sorted by path so
// parents come before their children.
func (s *Session) inventoryAltered() ([]pathHandle, error) {
	changed := make(map[TransID]struct{})
	newFileID := make(map[TransID]struct{})
	for id, fid := range s.newID {
		if fid != s.TreeFileID(id) {
			newFileID[id] = struct{}{}
		}
	}
	for id := range s.newName {
		changed[id] = struct{}{}
	}
	for id := range s.newParent {
		changed[id] = struct{}{}
	}
	for id := range newFileID {
		changed[id] = struct{}{}
	}
	for id := range s.newExecutability {
		changed[id] = struct{}{}
	}
	// Content replaced in place only matters when the kind flipped.
	for id := range s.removedContents {
		if _, ok := s.newContents[id]; !ok {
			continue
		}
		if _, ok := changed[id]; ok {
			continue
		}
		if s.TreeKind(id) != s.FinalKind(id) {
			changed[id] = struct{}{}
		}
	}
	// When an existing directory takes a new file id its children all
	// need reparenting in metadata, even the untouched ones.
	for _, id := range sortedHandles(newFileID) {
		if _, ok := s.removedID[id]; !ok {
			continue
		}
		kids, err := s.iterTreeChildren(id)
		if err != nil {
			return nil, err
		}
		for _, kid := range kids {
			changed[kid] = struct{}{}
		}
	}

	finder := newPathFinder(s)
	altered := make([]pathHandle, 0, len(changed))
	for _, id := range sortedHandles(changed) {
		p, err := finder.path(id)
		if err != nil {
			return nil, err
		}
		altered = append(altered, pathHandle{path: p, id: id})
	}
	sort.Slice(altered, func(i, j int) bool {
		if altered[i].path != altered[j].path {
			return altered[i].path < altered[j].path
		}
		return altered[i].id < altered[j].id
	})
	return altered, nil
}

// ProjectDelta computes the metadata delta the pending changes amount
// to, without touching the tree. Apply installs exactly this delta
// unless the caller precomputed one.
func (s *Session) ProjectDelta() (tree.Delta, error) {
	if err := s.ensureBuilding(); err != nil {
		return nil, err
	}
	altered, err := s.inventoryAltered()
	if err != nil {
		return nil, err
	}
	delta := make(tree.Delta, 0, len(altered)+len(s.removedID))

	type removal struct {
		path string
		fid  tree.FileID
	}
	removals := make([]removal, 0, len(s.removedID))
	for _, id := range sortedHandles(s.removedID) {
		fid := s.TreeFileID(id)
		if fid == "" {
			continue
		}
		// An id picked up by another entry is moving, not leaving.
		if _, moved := s.rNewID[fid]; moved {
			continue
		}
		p, ok := s.treeIDPaths[id]
		if !ok {
			continue
		}
		removals = append(removals, removal{path: p, fid: fid})
	}
	sort.Slice(removals, func(i, j int) bool { return removals[i].path > removals[j].path })
	for _, r := range removals {
		delta = append(delta, tree.DeltaEntry{OldPath: r.path, ID: r.fid})
	}

	fileIDs := make(map[TransID]tree.FileID, len(altered))
	for _, ph := range altered {
		fileIDs[ph.id] = s.FinalFileID(ph.id)
	}
	for _, ph := range altered {
		fid := fileIDs[ph.id]
		if fid == "" {
			continue
		}
		oldPath, hasOld := s.wt.PathForID(fid)
		kind := s.FinalKind(ph.id)
		if kind == tree.KindMissing && hasOld {
			kind = s.wt.StoredKind(oldPath)
		}

		parent, _ := s.FinalParent(ph.id)
		var parentFID tree.FileID
		if parent != RootParent {
			if pfid, ok := fileIDs[parent]; ok && pfid != "" {
				parentFID = pfid
			} else {
				parentFID = s.FinalFileID(parent)
			}
		}

		executable := false
		if v, ok := s.newExecutability[ph.id]; ok {
			executable = v
		} else if hasOld && kind == tree.KindFile {
			executable = s.wt.IsExecutable(oldPath)
		}

		var symlinkTarget string
		if t, ok := s.symlinkTargets[ph.id]; ok {
			symlinkTarget = t
		} else if hasOld && kind == tree.KindSymlink {
			if t, terr := s.wt.SymlinkTarget(oldPath); terr == nil {
				symlinkTarget = t
			}
		}

		name, _ := s.FinalName(ph.id)
		entry := &tree.Entry{
			ID:            fid,
			Name:          name,
			ParentID:      parentFID,
			Kind:          kind,
			Executable:    executable,
			SymlinkTarget: symlinkTarget,
		}
		de := tree.DeltaEntry{NewPath: ph.path, ID: fid, Entry: entry}
		if hasOld {
			de.OldPath = oldPath
		}
		delta = append(delta, de)
	}
	return delta, nil
}

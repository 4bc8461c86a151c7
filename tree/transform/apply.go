package transform

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"github.com/breezy-team/treekit/internal/fsutil"
	"github.com/breezy-team/treekit/tree"
)

// ApplyOptions tunes a single Apply call.
type ApplyOptions struct {
	// NoConflicts skips the conflict scan. Callers that already ran
	// FindConflicts and resolved everything can set it to avoid a
	// second pass. Default: false.
	NoConflicts bool

	// PrecomputedDelta is installed instead of projecting one from the
	// pending changes. The caller is responsible for it matching them.
	// Default: nil.
	PrecomputedDelta tree.Delta
}

// Result reports what an Apply changed.
type Result struct {
	// ModifiedPaths holds the tree-relative final paths of entries
	// whose content was created by this session.
	ModifiedPaths []string

	// RenameCount is the number of physical renames performed.
	RenameCount int
}

// Apply executes the pending changes against the tree in two phases:
// entries leaving their paths are moved aside first, then staged
// content is moved in. If either phase fails, completed moves are
// rolled back and the tree is left as it was. Once the pass succeeds,
// the projected metadata delta is installed and the session is
// finalized.
//
// Unless opts.NoConflicts is set, Apply first runs FindConflicts and
// refuses with a *ConflictError if anything would be malformed.
func (s *Session) Apply(opts *ApplyOptions) (*Result, error) {
	if opts == nil {
		opts = &ApplyOptions{}
	}
	if err := s.ensureBuilding(); err != nil {
		return nil, err
	}
	if !opts.NoConflicts {
		conflicts, err := s.FindConflicts()
		if err != nil {
			return nil, err
		}
		if len(conflicts) > 0 {
			return nil, &ConflictError{Conflicts: conflicts}
		}
	}

	delta := opts.PrecomputedDelta
	if delta == nil {
		var err error
		delta, err = s.ProjectDelta()
		if err != nil {
			return nil, err
		}
	}
	s.state = StateValidated

	s.renameCount = 0
	mover := &fileMover{fsys: s.fsys}

	s.state = StateRemoving
	if err := s.applyRemovals(mover); err != nil {
		return nil, s.abortApply(mover, err)
	}

	s.state = StateInserting
	modified, err := s.applyInsertions(mover)
	if err != nil {
		return nil, s.abortApply(mover, err)
	}

	// Point of no return: quarantined entries are destroyed and the
	// recorded renames can no longer be undone.
	if err := mover.applyDeletions(); err != nil {
		s.state = StateAborted
		return nil, err
	}

	if s.FinalFileID(s.root) == "" {
		kept := make(tree.Delta, 0, len(delta))
		for _, de := range delta {
			if de.OldPath != "." {
				kept = append(kept, de)
			}
		}
		delta = kept
	}
	if err := s.wt.ApplyDelta(delta); err != nil {
		s.state = StateAborted
		return nil, fmt.Errorf("installing metadata delta: %w", err)
	}
	if err := s.applyObservedHashes(); err != nil {
		s.state = StateAborted
		return nil, err
	}

	s.state = StateCommitted
	if err := s.Finalize(); err != nil {
		return nil, err
	}
	return &Result{ModifiedPaths: modified, RenameCount: s.renameCount}, nil
}

// abortApply rolls the mover back and marks the session aborted. The
// returned error carries the rollback failure too if undo itself broke.
func (s *Session) abortApply(mover *fileMover, err error) error {
	s.state = StateAborted
	s.log.Warn("apply failed, rolling back", "error", err,
		"renames", len(mover.pastRenames))
	if rerr := mover.rollback(); rerr != nil {
		return errors.Join(err, rerr)
	}
	return err
}

// applyRemovals moves every entry that is leaving its current path out
// of the tree, children before parents. Deleted content goes to the
// quarantine directory; moved content goes to limbo under its handle's
// name so applyInsertions can place it.
func (s *Session) applyRemovals(mover *fileMover) error {
	paths := make([]string, 0, len(s.treePathIDs))
	for p := range s.treePathIDs {
		paths = append(paths, p)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(paths)))
	for _, p := range paths {
		if p == "." {
			continue
		}
		id := s.treePathIDs[p]
		full := s.wt.AbsPath(p)
		if _, ok := s.removedContents[id]; ok {
			slot := s.joinPhys(s.quarantineDir, fmt.Sprintf("new-%d", id))
			if err := mover.preDelete(full, slot); err != nil {
				return err
			}
		} else if s.PathChanged(id) {
			if err := mover.rename(full, s.limboName(id)); err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}
				return err
			}
			s.renameCount++
		}
	}
	return nil
}

// applyInsertions moves staged content into place, parents before
// children, and adjusts the execute bit for entries that changed it.
// It returns the tree-relative paths whose content this session wrote.
func (s *Session) applyInsertions(mover *fileMover) ([]string, error) {
	entries, err := s.newPaths(true)
	if err != nil {
		return nil, err
	}
	var modified []string
	for _, e := range entries {
		full := s.wt.AbsPath(e.path)
		if _, ok := s.needsRename[e.id]; ok {
			if err := mover.rename(s.limboName(e.id), full); err != nil {
				// A handle can reference metadata with no content
				// behind it.
				if !errors.Is(err, fs.ErrNotExist) {
					return nil, err
				}
			} else {
				s.renameCount++
			}
		}
		if _, ok := s.newContents[e.id]; ok {
			modified = append(modified, e.path)
		}
		if _, ok := s.newExecutability[e.id]; ok {
			if err := s.setExecutability(e.path, e.id); err != nil {
				return nil, err
			}
		}
		if obs, ok := s.observed[e.id]; ok {
			if fi, lerr := s.fsys.Lstat(full); lerr == nil {
				obs.Size = fi.Size()
				obs.ModTime = fi.ModTime()
				s.observed[e.id] = obs
			}
		}
	}
	for _, e := range entries {
		delete(s.limboFiles, e.id)
	}
	clear(s.newContents)
	return modified, nil
}

// setExecutability applies the scheduled execute bit to the entry's
// final path. Trees without an execute bit carry it as metadata only.
func (s *Session) setExecutability(rel string, id TransID) error {
	if !s.wt.SupportsExecutable() {
		return nil
	}
	full := s.wt.AbsPath(rel)
	fi, err := s.fsys.Lstat(full)
	if err != nil {
		return err
	}
	mode := fsutil.ExecutableMode(fi.Mode().Perm(), s.newExecutability[id])
	if err := s.fsys.Chmod(full, mode); err != nil && !errors.Is(err, fs.ErrPermission) {
		return err
	}
	return nil
}

// applyObservedHashes hands the content hashes recorded while staging
// to the tree, keyed by final path, so it can warm its caches.
func (s *Session) applyObservedHashes() error {
	observer, ok := s.wt.(tree.HashObserver)
	if !ok || len(s.observed) == 0 {
		return nil
	}
	finder := newPathFinder(s)
	for _, id := range sortedHandles(s.observed) {
		p, err := finder.path(id)
		if err != nil {
			return err
		}
		observer.ObserveHash(p, s.observed[id])
	}
	return nil
}

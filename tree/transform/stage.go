package transform

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"strings"
	"syscall"

	"github.com/breezy-team/treekit/tree"
)

// limboName returns the limbo path staged content for id lives at,
// choosing one on first use.
func (s *Session) limboName(id TransID) string {
	if p, ok := s.limboFiles[id]; ok {
		return p
	}
	p := s.generateLimboPath(id)
	s.limboFiles[id] = p
	return p
}

// flatLimboPath places id directly under the limbo root, named after
// the handle. Content staged this way needs a rename at apply time.
func (s *Session) flatLimboPath(id TransID) string {
	s.needsRename[id] = struct{}{}
	return s.joinPhys(s.limboDir, fmt.Sprintf("new-%d", id))
}

// generateLimboPath picks the limbo path for id. When the final parent
// is itself a directory staged in limbo and the final name is known
// and unclaimed, the content is placed directly at its final location
// inside that directory, so applying the parent moves the whole
// subtree in one rename. Everything else gets a flat path.
func (s *Session) generateLimboPath(id TransID) string {
	parent, hasParent := s.newParent[id]
	if !hasParent || s.newContents[parent] != tree.KindDirectory {
		return s.flatLimboPath(id)
	}
	name, hasName := s.newName[id]
	if !hasName {
		return s.flatLimboPath(id)
	}

	useDirect := false
	if _, tracked := s.limboChildren[parent]; !tracked {
		// First child of this directory.
		s.limboChildren[parent] = make(map[TransID]struct{})
		s.limboChildrenNames[parent] = make(map[string]TransID)
		useDirect = true
	} else if s.caseSensitive {
		claimed, ok := s.limboChildrenNames[parent][name]
		if !ok || claimed == id {
			useDirect = true
		}
	} else {
		collision := false
		for otherName, otherID := range s.limboChildrenNames[parent] {
			if otherID == id {
				continue
			}
			if s.foldName(otherName) == s.foldName(name) {
				collision = true
				break
			}
		}
		useDirect = !collision
	}
	if !useDirect {
		return s.flatLimboPath(id)
	}

	s.limboChildren[parent][id] = struct{}{}
	s.limboChildrenNames[parent][name] = id
	return s.joinPhys(s.limboFiles[parent], name)
}

// limboDescendants returns every handle whose limbo path lies under
// the directory staged for id.
func (s *Session) limboDescendants(id TransID) []TransID {
	var out []TransID
	for child := range s.limboChildren[id] {
		out = append(out, child)
		out = append(out, s.limboDescendants(child)...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// renameInLimbo re-places staged content whose direct limbo path no
// longer matches its final path. Handles without staged content just
// drop their stale path reservation.
func (s *Session) renameInLimbo(ids []TransID) error {
	for _, id := range ids {
		oldPath, ok := s.limboFiles[id]
		if !ok {
			continue
		}
		s.possiblyStale[oldPath] = struct{}{}
		delete(s.limboFiles, id)
		if _, hasContents := s.newContents[id]; !hasContents {
			continue
		}
		newPath := s.limboName(id)
		if newPath == oldPath {
			delete(s.possiblyStale, oldPath)
			continue
		}
		if err := s.fsys.Rename(oldPath, newPath); err != nil {
			return fmt.Errorf("relocating staged content: %w", err)
		}
		delete(s.possiblyStale, oldPath)
		for _, desc := range s.limboDescendants(id) {
			if dp, ok := s.limboFiles[desc]; ok && strings.HasPrefix(dp, oldPath) {
				s.limboFiles[desc] = newPath + dp[len(oldPath):]
			}
		}
	}
	return nil
}

// CreateFile stages regular file content for id, hashing it as it is
// written. The staged file inherits the permission bits of the tree
// file the handle points at, when there is one.
func (s *Session) CreateFile(id TransID, contents io.Reader) error {
	if err := s.ensureBuilding(); err != nil {
		return err
	}
	if _, ok := s.newContents[id]; ok {
		return fmt.Errorf("contents for handle %d: %w", id, ErrChangeAlreadyScheduled)
	}
	name := s.limboName(id)
	w, err := s.fsys.Create(name)
	if err != nil {
		return fmt.Errorf("staging file: %w", err)
	}
	hasher := tree.NewHasher()
	size, err := io.Copy(io.MultiWriter(w, hasher), contents)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("staging file: %w", err)
	}
	s.newContents[id] = tree.KindFile
	if err := s.setMtime(name); err != nil {
		return err
	}
	if err := s.setMode(id, name); err != nil {
		return err
	}
	obs := tree.Observation{Hash: hasher.Sum(), Size: size, ModTime: s.creationTime}
	if fi, err := s.fsys.Lstat(name); err == nil {
		obs.ModTime = fi.ModTime()
	}
	s.observed[id] = obs
	return nil
}

// CreateDirectory stages a directory for id.
func (s *Session) CreateDirectory(id TransID) error {
	if err := s.ensureBuilding(); err != nil {
		return err
	}
	if _, ok := s.newContents[id]; ok {
		return fmt.Errorf("contents for handle %d: %w", id, ErrChangeAlreadyScheduled)
	}
	if err := s.fsys.Mkdir(s.limboName(id)); err != nil {
		return fmt.Errorf("staging directory: %w", err)
	}
	s.newContents[id] = tree.KindDirectory
	return nil
}

// CreateSymlink stages a symlink to target for id. On trees without
// symlink support nothing is materialized, but the pending change is
// still recorded so versioned metadata carries the link.
func (s *Session) CreateSymlink(id TransID, target string) error {
	if err := s.ensureBuilding(); err != nil {
		return err
	}
	if _, ok := s.newContents[id]; ok {
		return fmt.Errorf("contents for handle %d: %w", id, ErrChangeAlreadyScheduled)
	}
	if s.symlinksOK {
		if err := s.fsys.Symlink(target, s.limboName(id)); err != nil {
			return fmt.Errorf("staging symlink: %w", err)
		}
	} else {
		p, err := s.FinalPath(id)
		if err != nil {
			p = fmt.Sprintf("handle %d", id)
		}
		s.log.Warn("unable to create symlink on this filesystem",
			"path", p, "target", target)
	}
	s.symlinkTargets[id] = target
	s.newContents[id] = tree.KindSymlink
	return nil
}

// CreateHardlink stages a hard link to the file at the physical path
// source. Trees that cannot hard-link report ErrHardLinkUnsupported.
func (s *Session) CreateHardlink(id TransID, source string) error {
	if err := s.ensureBuilding(); err != nil {
		return err
	}
	if _, ok := s.newContents[id]; ok {
		return fmt.Errorf("contents for handle %d: %w", id, ErrChangeAlreadyScheduled)
	}
	if err := s.fsys.Link(source, s.limboName(id)); err != nil {
		if errors.Is(err, syscall.EPERM) || errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("%q: %w", source, ErrHardLinkUnsupported)
		}
		return fmt.Errorf("staging hard link: %w", err)
	}
	s.newContents[id] = tree.KindFile
	return nil
}

// CancelCreation withdraws staged content for id. Staged children
// placed inside a cancelled directory are relocated to flat limbo
// paths first, so only the cancelled entry is destroyed.
func (s *Session) CancelCreation(id TransID) error {
	if err := s.ensureBuilding(); err != nil {
		return err
	}
	if _, ok := s.newContents[id]; !ok {
		return fmt.Errorf("creation for handle %d: %w", id, ErrNotPending)
	}
	delete(s.newContents, id)
	delete(s.observed, id)
	delete(s.symlinkTargets, id)

	if children := s.limboChildren[id]; len(children) > 0 {
		ids := make([]TransID, 0, len(children))
		for child := range children {
			ids = append(ids, child)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		if err := s.renameInLimbo(ids); err != nil {
			return err
		}
	}
	delete(s.limboChildren, id)
	delete(s.limboChildrenNames, id)

	if p, ok := s.limboFiles[id]; ok {
		delete(s.limboFiles, id)
		if err := s.fsys.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("discarding staged content: %w", err)
		}
	}
	return nil
}

// setMtime stamps staged content with the session creation time.
func (s *Session) setMtime(limboPath string) error {
	if err := s.fsys.Chtimes(limboPath, s.creationTime); err != nil {
		return fmt.Errorf("stamping staged content: %w", err)
	}
	return nil
}

// setMode copies the permission bits of the existing tree file behind
// id onto its staged replacement, so recreating a file keeps its mode.
func (s *Session) setMode(id TransID, limboPath string) error {
	oldPath, ok := s.treeIDPaths[id]
	if !ok {
		return nil
	}
	fi, err := s.fsys.Lstat(s.wt.AbsPath(oldPath))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			return nil
		}
		return err
	}
	if !fi.Mode().IsRegular() {
		return nil
	}
	if err := s.fsys.Chmod(limboPath, fi.Mode().Perm()); err != nil &&
		!errors.Is(err, fs.ErrPermission) {
		return err
	}
	return nil
}

package transform

import (
	"fmt"

	"github.com/breezy-team/treekit/internal/pathutil"
	"github.com/breezy-team/treekit/tree"
)

// canonicalPath normalizes a tree-relative path against the real
// filesystem: the containing directory is resolved through symlinks
// and mapped back to tree-relative form. Resolution results are cached
// for the life of the session.
func (s *Session) canonicalPath(rel string) (string, error) {
	clean, ok := pathutil.Clean(rel)
	if !ok {
		return "", fmt.Errorf("%q: %w", rel, tree.ErrPathOutsideTree)
	}
	abs := s.wt.AbsPath(clean)
	if cached, ok := s.relPaths[abs]; ok {
		return cached, nil
	}
	dir, base := s.splitPhys(abs)
	realDir, ok := s.realDirs[dir]
	if !ok {
		resolved, err := s.fsys.Realpath(dir)
		if err != nil {
			return "", fmt.Errorf("resolving %q: %w", dir, err)
		}
		realDir = resolved
		s.realDirs[dir] = realDir
	}
	canon, err := s.wt.RelPath(s.joinPhys(realDir, base))
	if err != nil {
		return "", err
	}
	s.relPaths[abs] = canon
	return canon, nil
}

// transIDForTreePath returns the handle for an already-canonical tree
// path, allocating one on first sight.
func (s *Session) transIDForTreePath(canon string) TransID {
	if tid, ok := s.treePathIDs[canon]; ok {
		return tid
	}
	tid := s.newHandle()
	s.treePathIDs[canon] = tid
	s.treeIDPaths[tid] = canon
	return tid
}

// TransIDForPath returns the handle for a tree-relative path,
// resolving symlinks in its directory. The same canonical path always
// yields the same handle within a session.
func (s *Session) TransIDForPath(rel string) (TransID, error) {
	canon, err := s.canonicalPath(rel)
	if err != nil {
		return NoHandle, err
	}
	return s.transIDForTreePath(canon), nil
}

// TransIDForFileID returns the handle for a file id: the handle it was
// staged to move to, the handle of its current tree path, or a fresh
// handle for an id not present in this tree. The same id always yields
// the same handle within a session.
func (s *Session) TransIDForFileID(id tree.FileID) (TransID, error) {
	if id == "" {
		return NoHandle, ErrEmptyFileID
	}
	if tid, ok := s.rNewID[id]; ok {
		return tid, nil
	}
	if p, ok := s.wt.PathForID(id); ok {
		canon, cok := pathutil.Clean(p)
		if !cok {
			return NoHandle, fmt.Errorf("%q: %w", p, tree.ErrPathOutsideTree)
		}
		return s.transIDForTreePath(canon), nil
	}
	if tid, ok := s.nonPresentIDs[id]; ok {
		return tid, nil
	}
	tid := s.newHandle()
	s.nonPresentIDs[id] = tid
	return tid, nil
}

// TreePath returns the existing tree path a handle was derived from.
// Handles for staged-only entries have none.
func (s *Session) TreePath(id TransID) (string, bool) {
	p, ok := s.treeIDPaths[id]
	return p, ok
}

// treeParent returns the handle of the directory containing a handle's
// existing tree path.
func (s *Session) treeParent(id TransID) (TransID, bool) {
	p, ok := s.treeIDPaths[id]
	if !ok {
		return NoHandle, false
	}
	if p == "." {
		return RootParent, true
	}
	dir, _ := pathutil.Split(p)
	return s.transIDForTreePath(dir), true
}

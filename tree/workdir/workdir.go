// Package workdir implements the on-disk working tree.
//
// A working tree is an ordinary directory with a control directory
// (".treekit") holding the versioned-metadata inventory, the tree lock
// and a content hash cache. Init creates the control directory; Open
// attaches to an existing one and probes the filesystem for case
// sensitivity and symlink support.
//
// Tree values are not safe for concurrent use. Cross-process exclusion
// goes through the lock file; within a process locks are reentrant.
package workdir

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/breezy-team/treekit/internal/fsutil"
	"github.com/breezy-team/treekit/internal/pathutil"
	"github.com/breezy-team/treekit/tree"
)

// ControlDirName is the directory that marks a working tree root and
// holds its bookkeeping files. It never appears in directory listings
// or versioned state.
const ControlDirName = ".treekit"

const (
	inventoryFileName = "inventory"
	lockFileName      = "lock"
	hashCacheFileName = "hashcache"
)

var (
	// ErrNotWorkingTree indicates Open was pointed at a directory
	// without a control directory.
	ErrNotWorkingTree = errors.New("workdir: not a working tree")

	// ErrAlreadyWorkingTree indicates Init was pointed at an existing
	// working tree.
	ErrAlreadyWorkingTree = errors.New("workdir: already a working tree")
)

// Tree is a working tree on a real filesystem. It implements
// tree.WorkingTree and tree.HashObserver.
type Tree struct {
	root       string
	controlDir string
	fsys       tree.FS

	inv    *inventory
	hashes *hashCache
	lock   fileLock

	caseSensitive bool
	symlinks      bool
}

// Init creates a working tree rooted at root, creating the directory
// itself if needed. The root directory is versioned under a freshly
// minted file id.
func Init(root string) (*Tree, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", root, err)
	}
	controlDir := filepath.Join(abs, ControlDirName)
	if _, err := os.Stat(controlDir); err == nil {
		return nil, fmt.Errorf("%q: %w", abs, ErrAlreadyWorkingTree)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating tree root: %w", err)
	}
	if err := os.Mkdir(controlDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating control directory: %w", err)
	}
	inv := newInventory(tree.NewFileID(filepath.Base(abs)))
	if err := inv.save(filepath.Join(controlDir, inventoryFileName)); err != nil {
		return nil, err
	}
	return Open(abs)
}

// Open attaches to the working tree rooted at root.
func Open(root string) (*Tree, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", root, err)
	}
	controlDir := filepath.Join(abs, ControlDirName)
	fi, err := os.Stat(controlDir)
	if err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("%q: %w", abs, ErrNotWorkingTree)
	}
	inv, err := loadInventory(filepath.Join(controlDir, inventoryFileName))
	if err != nil {
		return nil, err
	}
	t := &Tree{
		root:          abs,
		controlDir:    controlDir,
		fsys:          osFS{},
		inv:           inv,
		hashes:        newHashCache(filepath.Join(controlDir, hashCacheFileName)),
		caseSensitive: fsutil.ProbeCaseSensitive(controlDir),
		symlinks:      fsutil.ProbeSymlinks(controlDir),
	}
	t.lock.path = filepath.Join(controlDir, lockFileName)
	return t, nil
}

// Root returns the absolute path of the tree root.
func (t *Tree) Root() string { return t.root }

// AbsPath implements tree.WorkingTree.
func (t *Tree) AbsPath(rel string) string {
	if rel == "." || rel == "" {
		return t.root
	}
	return filepath.Join(t.root, filepath.FromSlash(rel))
}

// RelPath implements tree.WorkingTree.
func (t *Tree) RelPath(abs string) (string, error) {
	rel, err := filepath.Rel(t.root, abs)
	if err != nil {
		return "", fmt.Errorf("%q: %w", abs, tree.ErrPathOutsideTree)
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%q: %w", abs, tree.ErrPathOutsideTree)
	}
	return rel, nil
}

// ScratchDir implements tree.WorkingTree.
func (t *Tree) ScratchDir(name string) (string, error) {
	p := filepath.Join(t.controlDir, name)
	if err := fsutil.EnsureEmptyDir(p); err != nil {
		return "", err
	}
	return p, nil
}

// Kind implements tree.Tree.
func (t *Tree) Kind(rel string) tree.Kind {
	fi, err := os.Lstat(t.AbsPath(rel))
	if err != nil {
		return tree.KindMissing
	}
	return tree.KindFromMode(fi.Mode())
}

// StoredKind implements tree.Tree.
func (t *Tree) StoredKind(rel string) tree.Kind {
	id := t.FileID(rel)
	if id == "" {
		return tree.KindMissing
	}
	return t.inv.entries[id].Kind
}

// FileID implements tree.Tree.
func (t *Tree) FileID(rel string) tree.FileID {
	clean, ok := pathutil.Clean(rel)
	if !ok {
		return ""
	}
	return t.inv.idByPath(clean)
}

// PathForID implements tree.Tree.
func (t *Tree) PathForID(id tree.FileID) (string, bool) {
	return t.inv.pathByID(id)
}

// Entry returns the versioned metadata stored for a file id.
func (t *Tree) Entry(id tree.FileID) (tree.Entry, bool) {
	ent, ok := t.inv.entries[id]
	return ent, ok
}

// IsExecutable implements tree.Tree. On filesystems without execute
// bits the versioned metadata answers instead.
func (t *Tree) IsExecutable(rel string) bool {
	if !t.SupportsExecutable() {
		id := t.FileID(rel)
		if id == "" {
			return false
		}
		return t.inv.entries[id].Executable
	}
	fi, err := os.Lstat(t.AbsPath(rel))
	if err != nil || !fi.Mode().IsRegular() {
		return false
	}
	return fi.Mode()&0o100 != 0
}

// SymlinkTarget implements tree.Tree.
func (t *Tree) SymlinkTarget(rel string) (string, error) {
	return os.Readlink(t.AbsPath(rel))
}

// Children implements tree.Tree.
func (t *Tree) Children(rel string) ([]string, error) {
	entries, err := os.ReadDir(t.AbsPath(rel))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, ent := range entries {
		if rel == "." && ent.Name() == ControlDirName {
			continue
		}
		names = append(names, ent.Name())
	}
	return names, nil
}

// CaseSensitive implements tree.Tree.
func (t *Tree) CaseSensitive() bool { return t.caseSensitive }

// SupportsSymlinks implements tree.Tree.
func (t *Tree) SupportsSymlinks() bool { return t.symlinks }

// SupportsExecutable implements tree.WorkingTree.
func (t *Tree) SupportsExecutable() bool { return fsutil.SupportsExecutable() }

// RealFS implements tree.WorkingTree.
func (t *Tree) RealFS() bool { return true }

// FS implements tree.WorkingTree.
func (t *Tree) FS() tree.FS { return t.fsys }

// LockRead implements tree.Tree.
func (t *Tree) LockRead() error { return t.lock.acquire() }

// LockWrite implements tree.Tree.
func (t *Tree) LockWrite() error { return t.lock.acquire() }

// Unlock implements tree.Tree. Releasing the last lock flushes the
// hash cache.
func (t *Tree) Unlock() error {
	if err := t.lock.release(); err != nil {
		return err
	}
	if !t.lock.held() {
		if err := t.hashes.save(); err != nil {
			return err
		}
	}
	return nil
}

// ApplyDelta implements tree.WorkingTree. The inventory is updated and
// written through to disk before returning.
func (t *Tree) ApplyDelta(delta tree.Delta) error {
	if !t.lock.held() {
		return tree.ErrNotLocked
	}
	if err := t.inv.apply(delta); err != nil {
		return err
	}
	return t.inv.save(filepath.Join(t.controlDir, inventoryFileName))
}

// ObserveHash implements tree.HashObserver.
func (t *Tree) ObserveHash(rel string, obs tree.Observation) {
	t.hashes.put(rel, obs)
}

// CachedHash returns the recorded content digest for rel if the file
// on disk still matches the observation's size and mtime.
func (t *Tree) CachedHash(rel string) (tree.Observation, bool) {
	fi, err := os.Lstat(t.AbsPath(rel))
	if err != nil || !fi.Mode().IsRegular() {
		return tree.Observation{}, false
	}
	return t.hashes.get(rel, fi)
}

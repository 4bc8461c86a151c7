// Package testutil provides working tree fixtures shared by tests
// across the module.
package testutil

import (
	"io"
	"testing"

	"github.com/breezy-team/treekit/internal/pathutil"
	"github.com/breezy-team/treekit/tree"
	"github.com/breezy-team/treekit/tree/memtree"
	"github.com/breezy-team/treekit/tree/workdir"
)

// TempWorkdir initializes a disk working tree in a fresh temporary
// directory.
//
// Example:
//
//	wt := testutil.TempWorkdir(t)
//	testutil.AddVersionedFile(t, wt, "a", "contents\n")
func TempWorkdir(t *testing.T) *workdir.Tree {
	t.Helper()
	wt, err := workdir.Init(t.TempDir())
	if err != nil {
		t.Fatalf("initializing working tree: %v", err)
	}
	return wt
}

// MemTree returns an in-memory working tree with default capabilities
// (case-sensitive, symlinks and execute bits supported).
func MemTree(t *testing.T) *memtree.Tree {
	t.Helper()
	return memtree.New(nil)
}

// WriteTreeFile writes a physical file at rel inside wt without
// touching versioned metadata.
func WriteTreeFile(t *testing.T, wt tree.WorkingTree, rel, content string) {
	t.Helper()
	w, err := wt.FS().Create(wt.AbsPath(rel))
	if err != nil {
		t.Fatalf("creating %s: %v", rel, err)
	}
	if _, err := io.WriteString(w, content); err != nil {
		t.Fatalf("writing %s: %v", rel, err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing %s: %v", rel, err)
	}
}

// MkTreeDir creates a physical directory at rel inside wt without
// touching versioned metadata.
func MkTreeDir(t *testing.T, wt tree.WorkingTree, rel string) {
	t.Helper()
	if err := wt.FS().Mkdir(wt.AbsPath(rel)); err != nil {
		t.Fatalf("creating directory %s: %v", rel, err)
	}
}

// ReadTreeFile returns the content of the physical file at rel.
func ReadTreeFile(t *testing.T, wt tree.WorkingTree, rel string) string {
	t.Helper()
	r, err := wt.FS().Open(wt.AbsPath(rel))
	if err != nil {
		t.Fatalf("opening %s: %v", rel, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("reading %s: %v", rel, err)
	}
	return string(data)
}

// AddVersionedFile writes a file at rel and versions it under a fresh
// file id, which it returns. The parent directory must be versioned.
func AddVersionedFile(t *testing.T, wt tree.WorkingTree, rel, content string) tree.FileID {
	t.Helper()
	WriteTreeFile(t, wt, rel, content)
	return versionPath(t, wt, rel, tree.KindFile, "")
}

// AddVersionedDir creates a directory at rel and versions it under a
// fresh file id, which it returns.
func AddVersionedDir(t *testing.T, wt tree.WorkingTree, rel string) tree.FileID {
	t.Helper()
	MkTreeDir(t, wt, rel)
	return versionPath(t, wt, rel, tree.KindDirectory, "")
}

// AddVersionedSymlink creates a symlink at rel pointing at target and
// versions it under a fresh file id, which it returns. Tests calling
// it must skip on trees without symlink support.
func AddVersionedSymlink(t *testing.T, wt tree.WorkingTree, rel, target string) tree.FileID {
	t.Helper()
	if err := wt.FS().Symlink(target, wt.AbsPath(rel)); err != nil {
		t.Fatalf("creating symlink %s: %v", rel, err)
	}
	return versionPath(t, wt, rel, tree.KindSymlink, target)
}

func versionPath(t *testing.T, wt tree.WorkingTree, rel string, kind tree.Kind, target string) tree.FileID {
	t.Helper()
	dir, name := pathutil.Split(rel)
	parentID := wt.FileID(dir)
	if parentID == "" {
		t.Fatalf("versioning %s: parent %s is not versioned", rel, dir)
	}
	id := tree.NewFileID(name)
	entry := &tree.Entry{
		ID:            id,
		Name:          name,
		ParentID:      parentID,
		Kind:          kind,
		SymlinkTarget: target,
	}
	if err := wt.LockWrite(); err != nil {
		t.Fatalf("locking tree: %v", err)
	}
	defer wt.Unlock()
	delta := tree.Delta{{NewPath: rel, ID: id, Entry: entry}}
	if err := wt.ApplyDelta(delta); err != nil {
		t.Fatalf("versioning %s: %v", rel, err)
	}
	return id
}

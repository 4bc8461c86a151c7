package testutil

import (
	"io"
	"io/fs"
	"sync"
	"time"

	"github.com/breezy-team/treekit/tree"
)

// FaultFS wraps a tree.FS and fails one chosen rename. Unarmed it just
// counts renames, so a test can run a scenario once to learn its length
// and then replay it failing at every step.
type FaultFS struct {
	inner tree.FS

	mu     sync.Mutex
	ops    int
	failAt int
	err    error
}

// NewFaultFS returns an unarmed wrapper around inner.
func NewFaultFS(inner tree.FS) *FaultFS {
	return &FaultFS{inner: inner}
}

// FailAt arms the wrapper: the nth rename (1-based) fails with err
// instead of running.
func (f *FaultFS) FailAt(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = 0
	f.failAt = n
	f.err = err
}

// Ops returns the number of renames seen since the last FailAt (or
// since construction).
func (f *FaultFS) Ops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ops
}

func (f *FaultFS) tick() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops++
	if f.failAt > 0 && f.ops == f.failAt {
		return f.err
	}
	return nil
}

func (f *FaultFS) Rename(oldpath, newpath string) error {
	if err := f.tick(); err != nil {
		return err
	}
	return f.inner.Rename(oldpath, newpath)
}

func (f *FaultFS) Remove(path string) error { return f.inner.Remove(path) }

func (f *FaultFS) Chmod(path string, mode fs.FileMode) error { return f.inner.Chmod(path, mode) }

func (f *FaultFS) Lstat(path string) (fs.FileInfo, error) { return f.inner.Lstat(path) }

func (f *FaultFS) Create(path string) (io.WriteCloser, error) { return f.inner.Create(path) }

func (f *FaultFS) Open(path string) (io.ReadCloser, error) { return f.inner.Open(path) }

func (f *FaultFS) Mkdir(path string) error { return f.inner.Mkdir(path) }

func (f *FaultFS) Symlink(target, path string) error { return f.inner.Symlink(target, path) }

func (f *FaultFS) Readlink(path string) (string, error) { return f.inner.Readlink(path) }

func (f *FaultFS) Link(source, path string) error { return f.inner.Link(source, path) }

func (f *FaultFS) Chtimes(path string, mtime time.Time) error { return f.inner.Chtimes(path, mtime) }

func (f *FaultFS) Realpath(path string) (string, error) { return f.inner.Realpath(path) }

// FaultTree wraps a working tree so sessions against it stage and
// apply through the given FaultFS.
type FaultTree struct {
	tree.WorkingTree
	Fault *FaultFS
}

// NewFaultTree wraps wt with a fresh unarmed FaultFS.
func NewFaultTree(wt tree.WorkingTree) *FaultTree {
	return &FaultTree{WorkingTree: wt, Fault: NewFaultFS(wt.FS())}
}

// FS returns the fault-injecting surface.
func (ft *FaultTree) FS() tree.FS { return ft.Fault }

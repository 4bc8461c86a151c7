package memtree

import (
	"bytes"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/breezy-team/treekit/tree"
)

// FS implements tree.WorkingTree. The returned surface mimics POSIX
// error behavior: syscall errnos wrapped in fs.PathError or
// os.LinkError, silent replacement of file targets on rename, and
// ENOTEMPTY when renaming over a populated directory. Hard links share
// one node, so attribute changes show through every name.
func (t *Tree) FS() tree.FS { return memFS{t} }

func (t *Tree) fs() memFS { return memFS{t} }

type memFS struct {
	t *Tree
}

// lookup returns the node at a cleaned virtual path.
func (m memFS) lookup(op, p string) (*entry, error) {
	ent, ok := m.t.files[p]
	if !ok {
		return nil, &fs.PathError{Op: op, Path: p, Err: syscall.ENOENT}
	}
	return ent, nil
}

// parentErrno verifies the containing directory of p exists, returning
// the errno a real filesystem would report.
func (m memFS) parentErrno(p string) syscall.Errno {
	ent, ok := m.t.files[path.Dir(p)]
	if !ok {
		return syscall.ENOENT
	}
	if ent.kind != tree.KindDirectory {
		return syscall.ENOTDIR
	}
	return 0
}

// checkParent wraps parentErrno in a PathError for single-path ops.
func (m memFS) checkParent(op, p string) error {
	if errno := m.parentErrno(p); errno != 0 {
		return &fs.PathError{Op: op, Path: p, Err: errno}
	}
	return nil
}

func (m memFS) Lstat(p string) (fs.FileInfo, error) {
	p = path.Clean(p)
	ent, err := m.lookup("lstat", p)
	if err != nil {
		return nil, err
	}
	return newFileInfo(path.Base(p), ent), nil
}

func (m memFS) Create(p string) (io.WriteCloser, error) {
	p = path.Clean(p)
	if err := m.checkParent("create", p); err != nil {
		return nil, err
	}
	if ent, ok := m.t.files[p]; ok && ent.kind == tree.KindDirectory {
		return nil, &fs.PathError{Op: "create", Path: p, Err: syscall.EISDIR}
	}
	return &memFileWriter{m: m, path: p}, nil
}

func (m memFS) Open(p string) (io.ReadCloser, error) {
	p = path.Clean(p)
	ent, err := m.lookup("open", p)
	if err != nil {
		return nil, err
	}
	switch ent.kind {
	case tree.KindFile:
		return io.NopCloser(bytes.NewReader(ent.data)), nil
	case tree.KindDirectory:
		return nil, &fs.PathError{Op: "open", Path: p, Err: syscall.EISDIR}
	default:
		return nil, &fs.PathError{Op: "open", Path: p, Err: syscall.EINVAL}
	}
}

func (m memFS) Mkdir(p string) error {
	p = path.Clean(p)
	if err := m.checkParent("mkdir", p); err != nil {
		return err
	}
	if _, ok := m.t.files[p]; ok {
		return &fs.PathError{Op: "mkdir", Path: p, Err: syscall.EEXIST}
	}
	m.t.files[p] = &entry{kind: tree.KindDirectory, mode: 0o755}
	return nil
}

func (m memFS) Symlink(target, p string) error {
	p = path.Clean(p)
	if !m.t.opts.Symlinks {
		return &os.LinkError{Op: "symlink", Old: target, New: p, Err: syscall.EPERM}
	}
	if err := m.checkParent("symlink", p); err != nil {
		return err
	}
	if _, ok := m.t.files[p]; ok {
		return &fs.PathError{Op: "symlink", Path: p, Err: syscall.EEXIST}
	}
	m.t.files[p] = &entry{kind: tree.KindSymlink, target: target, mode: 0o777}
	return nil
}

func (m memFS) Readlink(p string) (string, error) {
	p = path.Clean(p)
	ent, err := m.lookup("readlink", p)
	if err != nil {
		return "", err
	}
	if ent.kind != tree.KindSymlink {
		return "", &fs.PathError{Op: "readlink", Path: p, Err: syscall.EINVAL}
	}
	return ent.target, nil
}

func (m memFS) Link(source, p string) error {
	source = path.Clean(source)
	p = path.Clean(p)
	if !m.t.opts.Hardlinks {
		return &os.LinkError{Op: "link", Old: source, New: p, Err: syscall.EPERM}
	}
	src, ok := m.t.files[source]
	if !ok {
		return &os.LinkError{Op: "link", Old: source, New: p, Err: syscall.ENOENT}
	}
	if src.kind == tree.KindDirectory {
		return &os.LinkError{Op: "link", Old: source, New: p, Err: syscall.EPERM}
	}
	if errno := m.parentErrno(p); errno != 0 {
		return &os.LinkError{Op: "link", Old: source, New: p, Err: errno}
	}
	if _, ok := m.t.files[p]; ok {
		return &os.LinkError{Op: "link", Old: source, New: p, Err: syscall.EEXIST}
	}
	m.t.files[p] = src
	return nil
}

func (m memFS) Rename(oldpath, newpath string) error {
	oldpath = path.Clean(oldpath)
	newpath = path.Clean(newpath)
	src, ok := m.t.files[oldpath]
	if !ok {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: syscall.ENOENT}
	}
	if newpath == oldpath {
		return nil
	}
	if strings.HasPrefix(newpath+"/", oldpath+"/") {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: syscall.EINVAL}
	}
	if errno := m.parentErrno(newpath); errno != 0 {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: errno}
	}
	if dst, ok := m.t.files[newpath]; ok {
		switch {
		case src.kind == tree.KindDirectory && dst.kind == tree.KindDirectory:
			if len(m.t.childNames(newpath)) > 0 {
				return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: syscall.ENOTEMPTY}
			}
		case src.kind == tree.KindDirectory:
			return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: syscall.ENOTDIR}
		case dst.kind == tree.KindDirectory:
			return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: syscall.EISDIR}
		}
	}
	delete(m.t.files, oldpath)
	m.t.files[newpath] = src
	if src.kind == tree.KindDirectory {
		prefix := oldpath + "/"
		var moved []string
		for fp := range m.t.files {
			if strings.HasPrefix(fp, prefix) {
				moved = append(moved, fp)
			}
		}
		for _, fp := range moved {
			ent := m.t.files[fp]
			delete(m.t.files, fp)
			m.t.files[newpath+"/"+fp[len(prefix):]] = ent
		}
	}
	return nil
}

func (m memFS) Remove(p string) error {
	p = path.Clean(p)
	ent, err := m.lookup("remove", p)
	if err != nil {
		return err
	}
	if ent.kind == tree.KindDirectory && len(m.t.childNames(p)) > 0 {
		return &fs.PathError{Op: "remove", Path: p, Err: syscall.ENOTEMPTY}
	}
	delete(m.t.files, p)
	return nil
}

func (m memFS) Chmod(p string, mode fs.FileMode) error {
	p = path.Clean(p)
	ent, err := m.lookup("chmod", p)
	if err != nil {
		return err
	}
	if ent.kind != tree.KindSymlink {
		ent.mode = mode & fs.ModePerm
	}
	return nil
}

func (m memFS) Chtimes(p string, mtime time.Time) error {
	p = path.Clean(p)
	ent, err := m.lookup("chtimes", p)
	if err != nil {
		return err
	}
	ent.mtime = mtime
	return nil
}

// Realpath is the identity on cleaned paths: the virtual namespace
// never routes a path through a symlink.
func (m memFS) Realpath(p string) (string, error) {
	return path.Clean(p), nil
}

// memFileWriter buffers writes and installs the node on Close, keeping
// the mode of any file it replaces.
type memFileWriter struct {
	m      memFS
	path   string
	buf    bytes.Buffer
	closed bool
}

func (w *memFileWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *memFileWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	mode := fs.FileMode(0o644)
	if old, ok := w.m.t.files[w.path]; ok && old.kind == tree.KindFile {
		mode = old.mode
	}
	w.m.t.files[w.path] = &entry{
		kind:  tree.KindFile,
		data:  w.buf.Bytes(),
		mode:  mode,
		mtime: time.Now(),
	}
	return nil
}

// memFileInfo freezes a node's attributes at stat time.
type memFileInfo struct {
	name string
	ent  entry
}

func newFileInfo(name string, ent *entry) memFileInfo {
	return memFileInfo{name: name, ent: *ent}
}

func (fi memFileInfo) Name() string { return fi.name }

func (fi memFileInfo) Size() int64 { return int64(len(fi.ent.data)) }

func (fi memFileInfo) Mode() fs.FileMode {
	switch fi.ent.kind {
	case tree.KindDirectory:
		return fs.ModeDir | fi.ent.mode
	case tree.KindSymlink:
		return fs.ModeSymlink | fi.ent.mode
	case tree.KindFile:
		return fi.ent.mode
	default:
		return fs.ModeIrregular
	}
}

func (fi memFileInfo) ModTime() time.Time { return fi.ent.mtime }

func (fi memFileInfo) IsDir() bool { return fi.ent.kind == tree.KindDirectory }

func (fi memFileInfo) Sys() any { return nil }

package workdir

import (
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/breezy-team/treekit/internal/fsutil"
)

// osFS adapts the os package to tree.FS. Remove tolerates read-only
// entries the way the rest of the module expects: it retries once after
// adding the owner write bit.
type osFS struct{}

func (osFS) Lstat(path string) (fs.FileInfo, error) {
	return os.Lstat(path)
}

func (osFS) Create(path string) (io.WriteCloser, error) {
	return os.Create(path)
}

func (osFS) Open(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

func (osFS) Mkdir(path string) error {
	return os.Mkdir(path, 0o755)
}

func (osFS) Symlink(target, path string) error {
	return os.Symlink(target, path)
}

func (osFS) Readlink(path string) (string, error) {
	return os.Readlink(path)
}

func (osFS) Link(source, path string) error {
	return os.Link(source, path)
}

func (osFS) Rename(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}

func (osFS) Remove(path string) error {
	return fsutil.DeleteAny(path)
}

func (osFS) Chmod(path string, mode fs.FileMode) error {
	return os.Chmod(path, mode)
}

func (osFS) Chtimes(path string, mtime time.Time) error {
	return os.Chtimes(path, mtime, mtime)
}

func (osFS) Realpath(path string) (string, error) {
	return fsutil.Realpath(path)
}

package tree

import (
	"io"
	"io/fs"
	"time"
)

// FS is the physical operation surface of a working tree. All paths are
// in the tree's physical namespace (see WorkingTree.AbsPath), so a
// single implementation of staging and apply logic can drive both disk
// trees and in-memory trees.
//
// Error conventions follow the os package: missing paths yield errors
// satisfying errors.Is(err, fs.ErrNotExist), collisions yield
// fs.ErrExist, and Rename onto a non-empty directory yields an error
// unwrapping to syscall.ENOTEMPTY on platforms that report it.
type FS interface {
	// Lstat stats path without following symlinks.
	Lstat(path string) (fs.FileInfo, error)

	// Create creates or truncates a regular file for writing.
	Create(path string) (io.WriteCloser, error)

	// Open opens a regular file for reading.
	Open(path string) (io.ReadCloser, error)

	// Mkdir creates a single directory.
	Mkdir(path string) error

	// Symlink creates a symlink at path pointing at target.
	Symlink(target, path string) error

	// Readlink returns the target of the symlink at path.
	Readlink(path string) (string, error)

	// Link creates a hard link at path sharing content with source.
	Link(source, path string) error

	// Rename moves a file or directory tree from oldpath to newpath.
	// It does not overwrite existing directories.
	Rename(oldpath, newpath string) error

	// Remove deletes the file or empty directory at path.
	Remove(path string) error

	// Chmod sets permission bits on path.
	Chmod(path string, mode fs.FileMode) error

	// Chtimes sets the modification time of path.
	Chtimes(path string, mtime time.Time) error

	// Realpath resolves symlinks in path. Trailing components that do
	// not exist yet are kept verbatim.
	Realpath(path string) (string, error)
}

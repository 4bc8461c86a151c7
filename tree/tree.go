// Package tree defines the contracts between a working tree and the
// components that read and mutate it.
//
// A working tree is a directory hierarchy on some storage medium plus a
// versioned-metadata store (the inventory) that assigns stable file ids
// to a subset of its paths. The interfaces here are consumed by
// tree/transform, which stages and applies structural changes, and are
// implemented by tree/workdir (real filesystem) and tree/memtree
// (in-memory, for previews and tests).
//
// Paths are tree-relative, forward-slash separated, with "." naming the
// tree root. The empty string is reserved to mean "absent" in delta
// entries and is never a valid path.
package tree

import (
	"io/fs"
	"time"
)

// Kind classifies the content of a tree entry.
type Kind int

const (
	// KindMissing means the entry has no content: the path does not
	// exist, or a pending change removes it.
	KindMissing Kind = iota

	// KindFile is a regular file.
	KindFile

	// KindDirectory is a directory.
	KindDirectory

	// KindSymlink is a symbolic link.
	KindSymlink

	// KindIrregular is content that exists on disk but cannot be
	// versioned: sockets, device nodes, fifos.
	KindIrregular
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindMissing:
		return "missing"
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symlink"
	case KindIrregular:
		return "irregular"
	default:
		return "unknown"
	}
}

// Versionable reports whether entries of this kind may carry a file id.
func (k Kind) Versionable() bool {
	switch k {
	case KindFile, KindDirectory, KindSymlink:
		return true
	default:
		return false
	}
}

// KindFromMode classifies a stat result.
func KindFromMode(mode fs.FileMode) Kind {
	switch {
	case mode.IsRegular():
		return KindFile
	case mode.IsDir():
		return KindDirectory
	case mode&fs.ModeSymlink != 0:
		return KindSymlink
	default:
		return KindIrregular
	}
}

// FileID is the stable identity the versioning layer attaches to a tree
// entry, independent of its current path. The empty FileID means
// "unversioned".
type FileID string

// Entry is the versioned-metadata descriptor of one tree entry, as held
// by the inventory and carried in delta additions.
type Entry struct {
	// ID is the entry's file id.
	ID FileID

	// Name is the base name within the parent directory. The root
	// entry has an empty name.
	Name string

	// ParentID is the file id of the containing directory, empty for
	// the root entry.
	ParentID FileID

	// Kind is the versioned content kind.
	Kind Kind

	// Executable records the execute permission for file entries.
	Executable bool

	// SymlinkTarget is the link target for symlink entries.
	SymlinkTarget string
}

// Observation is a content fingerprint recorded while bytes were staged
// or installed: the BLAKE3 digest plus the stat attributes that make the
// digest trustworthy later.
type Observation struct {
	Hash    Hash
	Size    int64
	ModTime time.Time
}

// Tree is the read contract every tree variant satisfies.
//
// Implementations answer path queries against their current state.
// Methods taking a path accept cleaned tree-relative paths ("." for the
// root). Reads are only defined while the caller holds at least a read
// lock.
type Tree interface {
	// Kind returns the physical content kind at path, KindMissing if
	// nothing exists there. Symlinks are not followed.
	Kind(path string) Kind

	// StoredKind returns the kind recorded in versioned metadata,
	// KindMissing if the path is not versioned.
	StoredKind(path string) Kind

	// FileID returns the file id at path, "" if unversioned.
	FileID(path string) FileID

	// PathForID returns the current path of a versioned file id.
	PathForID(id FileID) (string, bool)

	// IsExecutable reports the execute permission of the file at path.
	IsExecutable(path string) bool

	// SymlinkTarget returns the target of the symlink at path.
	SymlinkTarget(path string) (string, error)

	// Children returns the sorted base names physically present in the
	// directory at path, excluding control entries. A missing path or
	// a non-directory yields no names and no error.
	Children(path string) ([]string, error)

	// CaseSensitive reports whether the tree treats names differing
	// only in case as distinct.
	CaseSensitive() bool

	// SupportsSymlinks reports whether the tree can hold symlinks.
	SupportsSymlinks() bool

	// LockRead, LockWrite and Unlock scope access to the tree. Locks
	// are reentrant within a process; every acquisition must be paired
	// with an Unlock.
	LockRead() error
	LockWrite() error
	Unlock() error
}

// WorkingTree is a Tree that can be mutated: it exposes the physical
// operation surface used during staging and apply, scratch directory
// allocation for those phases, and the single metadata write operation,
// ApplyDelta.
type WorkingTree interface {
	Tree

	// AbsPath maps a tree-relative path into the tree's physical
	// namespace (a filesystem path for disk trees, a virtual path for
	// in-memory trees).
	AbsPath(rel string) string

	// RelPath maps a physical path back to tree-relative form. Paths
	// outside the tree return ErrPathOutsideTree.
	RelPath(abs string) (string, error)

	// ScratchDir creates (or adopts, if empty) a private scratch
	// directory with the given name under the tree's control area and
	// returns its physical path. A leftover non-empty directory is
	// reported with an error wrapping fs.ErrExist.
	ScratchDir(name string) (string, error)

	// SupportsExecutable reports whether the tree records execute
	// permissions physically.
	SupportsExecutable() bool

	// RealFS reports whether FS operates on a real filesystem. Trees
	// without real filesystem staging keep staged bytes in process
	// memory but satisfy the same contracts.
	RealFS() bool

	// FS returns the physical operation surface for this tree.
	FS() FS

	// ApplyDelta installs a metadata delta as the new authoritative
	// versioned state. It is called exactly once per successful
	// transform apply, after all physical operations have completed,
	// and requires the write lock.
	ApplyDelta(delta Delta) error
}

// HashObserver is implemented by trees that cache content hashes.
// Observations recorded during staging are handed over after a
// successful apply, keyed by final tree-relative path.
type HashObserver interface {
	ObserveHash(path string, obs Observation)
}

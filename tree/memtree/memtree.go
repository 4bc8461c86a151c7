// Package memtree provides an in-memory working tree.
//
// A memtree.Tree satisfies tree.WorkingTree with every physical
// operation backed by a map instead of a filesystem, so structural
// changes can be previewed or tested without touching disk. Paths live
// in a small virtual namespace: the tree content is rooted at "/tree"
// and scratch directories are siblings ("/limbo", "/pending-deletion").
//
// Capability flags (case sensitivity, symlink and hard-link support,
// executable bits) are configurable, which makes the type useful for
// exercising platform-dependent behavior on any host. Name lookups are
// always byte-exact; CaseSensitive only changes what the tree reports
// about itself.
package memtree

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/breezy-team/treekit/internal/pathutil"
	"github.com/breezy-team/treekit/tree"
)

// DefaultRootID versions the root of a fresh memtree unless Options
// overrides it.
const DefaultRootID = tree.FileID("memtree-root")

// Options configures the capabilities a memtree reports.
type Options struct {
	// CaseSensitive controls what Tree.CaseSensitive reports.
	// Default: true
	CaseSensitive bool

	// Symlinks controls whether the tree accepts symlinks.
	// Default: true
	Symlinks bool

	// Executable controls whether the tree stores execute bits
	// physically. When false, IsExecutable falls back to versioned
	// metadata.
	// Default: true
	Executable bool

	// Hardlinks controls whether FS.Link succeeds.
	// Default: true
	Hardlinks bool

	// RootID versions the tree root under this file id. Ignored when
	// UnversionedRoot is set.
	// Default: DefaultRootID
	RootID tree.FileID

	// UnversionedRoot leaves the root without a file id.
	// Default: false
	UnversionedRoot bool
}

// DefaultOptions returns the capabilities of a typical POSIX tree.
func DefaultOptions() *Options {
	return &Options{
		CaseSensitive: true,
		Symlinks:      true,
		Executable:    true,
		Hardlinks:     true,
		RootID:        DefaultRootID,
	}
}

// entry is one node of the virtual filesystem.
type entry struct {
	kind   tree.Kind
	data   []byte
	target string
	mode   fs.FileMode
	mtime  time.Time
}

// Tree is an in-memory working tree. It is not safe for concurrent
// use.
type Tree struct {
	opts Options

	// files maps virtual paths ("/tree", "/tree/a", "/limbo/new-1")
	// to filesystem nodes.
	files map[string]*entry

	// Versioned state: metadata per file id plus both path indexes.
	meta  map[tree.FileID]tree.Entry
	ids   map[string]tree.FileID
	paths map[tree.FileID]string

	observations map[string]tree.Observation
	lockCount    int
}

// New returns an empty memtree whose root directory already exists.
func New(opts *Options) *Tree {
	if opts == nil {
		opts = DefaultOptions()
	}
	t := &Tree{
		opts:         *opts,
		files:        make(map[string]*entry),
		meta:         make(map[tree.FileID]tree.Entry),
		ids:          make(map[string]tree.FileID),
		paths:        make(map[tree.FileID]string),
		observations: make(map[string]tree.Observation),
	}
	t.files["/"] = &entry{kind: tree.KindDirectory}
	t.files["/tree"] = &entry{kind: tree.KindDirectory}
	if !opts.UnversionedRoot {
		id := opts.RootID
		if id == "" {
			id = DefaultRootID
		}
		t.meta[id] = tree.Entry{ID: id, Kind: tree.KindDirectory}
		t.ids["."] = id
		t.paths[id] = "."
	}
	return t
}

// vpath maps a tree-relative path into the virtual namespace. The
// second result is false for paths that escape the tree.
func (t *Tree) vpath(rel string) (string, bool) {
	clean, ok := pathutil.Clean(rel)
	if !ok {
		return "", false
	}
	if clean == "." {
		return "/tree", true
	}
	return "/tree/" + clean, true
}

// AbsPath implements tree.WorkingTree.
func (t *Tree) AbsPath(rel string) string {
	v, ok := t.vpath(rel)
	if !ok {
		return "/tree/" + rel
	}
	return v
}

// RelPath implements tree.WorkingTree.
func (t *Tree) RelPath(abs string) (string, error) {
	abs = path.Clean(abs)
	if abs == "/tree" {
		return ".", nil
	}
	if strings.HasPrefix(abs, "/tree/") {
		return abs[len("/tree/"):], nil
	}
	return "", fmt.Errorf("%q: %w", abs, tree.ErrPathOutsideTree)
}

// ScratchDir implements tree.WorkingTree. Scratch directories live
// beside "/tree" so they are never part of the tree content.
func (t *Tree) ScratchDir(name string) (string, error) {
	p := "/" + name
	if ent, ok := t.files[p]; ok {
		if ent.kind != tree.KindDirectory {
			return "", fmt.Errorf("scratch %q is not a directory: %w", p, fs.ErrExist)
		}
		if len(t.childNames(p)) > 0 {
			return "", fmt.Errorf("scratch directory %q is not empty: %w", p, fs.ErrExist)
		}
		return p, nil
	}
	t.files[p] = &entry{kind: tree.KindDirectory}
	return p, nil
}

// childNames returns the sorted base names directly under the virtual
// directory p.
func (t *Tree) childNames(p string) []string {
	prefix := p + "/"
	if p == "/" {
		prefix = "/"
	}
	var names []string
	for fp := range t.files {
		if !strings.HasPrefix(fp, prefix) || fp == p {
			continue
		}
		rest := fp[len(prefix):]
		if rest == "" || strings.Contains(rest, "/") {
			continue
		}
		names = append(names, rest)
	}
	sort.Strings(names)
	return names
}

// Kind implements tree.Tree.
func (t *Tree) Kind(rel string) tree.Kind {
	v, ok := t.vpath(rel)
	if !ok {
		return tree.KindMissing
	}
	ent, ok := t.files[v]
	if !ok {
		return tree.KindMissing
	}
	return ent.kind
}

// StoredKind implements tree.Tree.
func (t *Tree) StoredKind(rel string) tree.Kind {
	id := t.FileID(rel)
	if id == "" {
		return tree.KindMissing
	}
	return t.meta[id].Kind
}

// FileID implements tree.Tree.
func (t *Tree) FileID(rel string) tree.FileID {
	clean, ok := pathutil.Clean(rel)
	if !ok {
		return ""
	}
	return t.ids[clean]
}

// PathForID implements tree.Tree.
func (t *Tree) PathForID(id tree.FileID) (string, bool) {
	p, ok := t.paths[id]
	return p, ok
}

// IsExecutable implements tree.Tree.
func (t *Tree) IsExecutable(rel string) bool {
	if !t.opts.Executable {
		id := t.FileID(rel)
		if id == "" {
			return false
		}
		return t.meta[id].Executable
	}
	v, ok := t.vpath(rel)
	if !ok {
		return false
	}
	ent, ok := t.files[v]
	if !ok || ent.kind != tree.KindFile {
		return false
	}
	return ent.mode&0o100 != 0
}

// SymlinkTarget implements tree.Tree.
func (t *Tree) SymlinkTarget(rel string) (string, error) {
	v, ok := t.vpath(rel)
	if !ok {
		return "", &fs.PathError{Op: "readlink", Path: rel, Err: fs.ErrNotExist}
	}
	return t.fs().Readlink(v)
}

// Children implements tree.Tree.
func (t *Tree) Children(rel string) ([]string, error) {
	v, ok := t.vpath(rel)
	if !ok {
		return nil, nil
	}
	ent, ok := t.files[v]
	if !ok || ent.kind != tree.KindDirectory {
		return nil, nil
	}
	return t.childNames(v), nil
}

// CaseSensitive implements tree.Tree.
func (t *Tree) CaseSensitive() bool { return t.opts.CaseSensitive }

// SupportsSymlinks implements tree.Tree.
func (t *Tree) SupportsSymlinks() bool { return t.opts.Symlinks }

// SupportsExecutable implements tree.WorkingTree.
func (t *Tree) SupportsExecutable() bool { return t.opts.Executable }

// RealFS implements tree.WorkingTree.
func (t *Tree) RealFS() bool { return false }

// LockRead implements tree.Tree.
func (t *Tree) LockRead() error {
	t.lockCount++
	return nil
}

// LockWrite implements tree.Tree.
func (t *Tree) LockWrite() error {
	t.lockCount++
	return nil
}

// Unlock implements tree.Tree.
func (t *Tree) Unlock() error {
	if t.lockCount == 0 {
		return tree.ErrNotLocked
	}
	t.lockCount--
	return nil
}

// ApplyDelta implements tree.WorkingTree. Removals are applied before
// additions so ids can move between paths within one delta. Paths are
// derived from the parent links afterwards, so moving a directory
// relocates everything beneath it.
func (t *Tree) ApplyDelta(delta tree.Delta) error {
	if t.lockCount == 0 {
		return tree.ErrNotLocked
	}
	for _, de := range delta {
		if de.NewPath == "" {
			continue
		}
		if de.Entry == nil {
			return fmt.Errorf("entry %q has a new path but no metadata: %w", de.ID, tree.ErrInvalidDelta)
		}
		if _, ok := pathutil.Clean(de.NewPath); !ok {
			return fmt.Errorf("entry %q path %q: %w", de.ID, de.NewPath, tree.ErrInvalidDelta)
		}
	}
	for _, de := range delta {
		if de.OldPath != "" {
			delete(t.meta, de.ID)
		}
	}
	for _, de := range delta {
		if de.NewPath != "" {
			t.meta[de.ID] = *de.Entry
		}
	}
	t.reindex()
	return nil
}

// pathOf climbs parent links to the root entry, the one with no
// parent id.
func (t *Tree) pathOf(id tree.FileID) (string, bool) {
	ent, ok := t.meta[id]
	if !ok {
		return "", false
	}
	var parts []string
	for ent.ParentID != "" {
		parts = append(parts, ent.Name)
		ent, ok = t.meta[ent.ParentID]
		if !ok {
			return "", false
		}
	}
	if len(parts) == 0 {
		return ".", true
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/"), true
}

// reindex rebuilds both path indexes from the parent links. Entries
// whose chain no longer reaches a root drop out of the indexes.
func (t *Tree) reindex() {
	t.ids = make(map[string]tree.FileID, len(t.meta))
	t.paths = make(map[tree.FileID]string, len(t.meta))
	for id := range t.meta {
		if p, ok := t.pathOf(id); ok {
			t.ids[p] = id
			t.paths[id] = p
		}
	}
}

// ObserveHash implements tree.HashObserver.
func (t *Tree) ObserveHash(rel string, obs tree.Observation) {
	t.observations[rel] = obs
}

// Observation returns the hash observation recorded for a path, if
// any.
func (t *Tree) Observation(rel string) (tree.Observation, bool) {
	obs, ok := t.observations[rel]
	return obs, ok
}

// AddDir creates a directory fixture at a tree-relative path. The
// parent must already exist.
func (t *Tree) AddDir(rel string) error {
	v, ok := t.vpath(rel)
	if !ok {
		return &fs.PathError{Op: "mkdir", Path: rel, Err: fs.ErrInvalid}
	}
	return t.fs().Mkdir(v)
}

// AddFile creates a file fixture at a tree-relative path. The parent
// must already exist.
func (t *Tree) AddFile(rel string, data []byte) error {
	v, ok := t.vpath(rel)
	if !ok {
		return &fs.PathError{Op: "create", Path: rel, Err: fs.ErrInvalid}
	}
	w, err := t.fs().Create(v)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	return w.Close()
}

// AddSymlink creates a symlink fixture at a tree-relative path.
func (t *Tree) AddSymlink(rel, target string) error {
	v, ok := t.vpath(rel)
	if !ok {
		return &fs.PathError{Op: "symlink", Path: rel, Err: fs.ErrInvalid}
	}
	return t.fs().Symlink(target, v)
}

// SetVersioned records versioned metadata for an existing fixture path
// without going through ApplyDelta. The parent must already be
// versioned (or rel must be the root).
func (t *Tree) SetVersioned(rel string, id tree.FileID) error {
	clean, ok := pathutil.Clean(rel)
	if !ok {
		return &fs.PathError{Op: "version", Path: rel, Err: fs.ErrInvalid}
	}
	kind := t.Kind(clean)
	if kind == tree.KindMissing {
		return &fs.PathError{Op: "version", Path: clean, Err: fs.ErrNotExist}
	}
	ent := tree.Entry{ID: id, Kind: kind}
	if clean != "." {
		dir, base := pathutil.Split(clean)
		parentID := t.ids[dir]
		if parentID == "" {
			return fmt.Errorf("version %q: parent %q is not versioned", clean, dir)
		}
		ent.Name = base
		ent.ParentID = parentID
	}
	if kind == tree.KindFile {
		ent.Executable = t.IsExecutable(clean)
	}
	if kind == tree.KindSymlink {
		target, err := t.SymlinkTarget(clean)
		if err != nil {
			return err
		}
		ent.SymlinkTarget = target
	}
	t.meta[id] = ent
	t.ids[clean] = id
	t.paths[id] = clean
	return nil
}

// ReadFile returns the content of the file at a tree-relative path.
func (t *Tree) ReadFile(rel string) ([]byte, error) {
	v, ok := t.vpath(rel)
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: rel, Err: fs.ErrNotExist}
	}
	ent, ok := t.files[v]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: rel, Err: fs.ErrNotExist}
	}
	if ent.kind != tree.KindFile {
		return nil, &fs.PathError{Op: "open", Path: rel, Err: fs.ErrInvalid}
	}
	out := make([]byte, len(ent.data))
	copy(out, ent.data)
	return out, nil
}

// Entry returns the versioned metadata stored for a file id.
func (t *Tree) Entry(id tree.FileID) (tree.Entry, bool) {
	ent, ok := t.meta[id]
	return ent, ok
}

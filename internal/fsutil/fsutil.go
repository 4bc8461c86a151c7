// Package fsutil provides small filesystem helpers used by the working
// tree and transform packages: tolerant single-entry deletion, scratch
// directory acquisition, symlink-aware path resolution, and filesystem
// capability probes.
package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DeleteAny removes a single filesystem entry, file or empty directory.
// If removal fails with a permission error, the entry is made writable
// and removal is retried once.
func DeleteAny(path string) error {
	err := os.Remove(path)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrPermission) {
		return err
	}
	if werr := MakeWritable(path); werr != nil {
		return err
	}
	return os.Remove(path)
}

// MakeWritable adds the owner write bit to path. Symlinks are left alone.
func MakeWritable(path string) error {
	fi, err := os.Lstat(path)
	if err != nil {
		return err
	}
	if fi.Mode()&fs.ModeSymlink != 0 {
		return nil
	}
	return os.Chmod(path, fi.Mode().Perm()|0o200)
}

// EnsureEmptyDir creates path as a directory. If it already exists and is
// empty that is fine; if it exists with contents the returned error wraps
// fs.ErrExist so callers can tell leftover state from other failures.
func EnsureEmptyDir(path string) error {
	err := os.Mkdir(path, 0o777)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrExist) {
		return err
	}
	entries, rerr := os.ReadDir(path)
	if rerr != nil {
		return rerr
	}
	if len(entries) > 0 {
		return fmt.Errorf("directory %q is not empty: %w", path, fs.ErrExist)
	}
	return nil
}

// Realpath resolves symlinks in path, tolerating components that do not
// exist yet: the longest existing prefix is resolved and the remainder
// is rejoined unresolved.
func Realpath(path string) (string, error) {
	path = filepath.Clean(path)
	suffix := ""
	for {
		resolved, err := filepath.EvalSymlinks(path)
		if err == nil {
			if suffix == "" {
				return resolved, nil
			}
			return filepath.Join(resolved, suffix), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(path)
		if parent == path {
			return filepath.Join(path, suffix), nil
		}
		suffix = filepath.Join(filepath.Base(path), suffix)
		path = parent
	}
}

// ProbeCaseSensitive reports whether names inside dir are case sensitive.
// It creates a probe file and checks whether the case-swapped name
// resolves to it. Probe failures default to case sensitive.
func ProbeCaseSensitive(dir string) bool {
	f, err := os.CreateTemp(dir, "CasePr0be-*")
	if err != nil {
		return true
	}
	name := f.Name()
	f.Close()
	defer os.Remove(name)

	swapped := filepath.Join(dir, strings.ToLower(filepath.Base(name)))
	if swapped == name {
		return true
	}
	if _, err := os.Lstat(swapped); err == nil {
		return false
	}
	return true
}

// ProbeSymlinks reports whether dir supports symlink creation.
func ProbeSymlinks(dir string) bool {
	link := filepath.Join(dir, fmt.Sprintf("symlink-probe-%d", os.Getpid()))
	if err := os.Symlink("probe-target", link); err != nil {
		return false
	}
	os.Remove(link)
	return true
}

// Package pathutil provides slash-path helpers shared by the tree packages.
//
// Tree-relative paths are always forward-slash separated, never absolute,
// and use "." for the tree root. The helpers here normalize user input to
// that form and answer ordering and containment questions about it.
package pathutil

import (
	"path"
	"sort"
	"strings"
)

// Clean normalizes a tree-relative path: separators collapsed, leading "./"
// and trailing slashes stripped, and the empty string mapped to ".". A
// leading slash is read as rooted at the tree. Returns false if the path
// escapes the tree root through "..".
func Clean(p string) (string, bool) {
	p = strings.TrimPrefix(strings.ReplaceAll(p, "\\", "/"), "/")
	p = path.Clean(p)
	if p == "" || p == "/" {
		p = "."
	}
	if p == ".." || strings.HasPrefix(p, "../") {
		return "", false
	}
	return p, true
}

// Join appends name to a cleaned tree-relative directory path.
// Join(".", "a") is "a".
func Join(dir, name string) string {
	return path.Join(dir, name)
}

// Split returns the directory and base name of a cleaned tree-relative
// path. The directory of a top-level name is ".".
func Split(p string) (dir, name string) {
	return path.Dir(p), path.Base(p)
}

// IsInside reports whether p is dir or lies beneath it. The root "."
// contains every tree-relative path.
func IsInside(dir, p string) bool {
	if dir == "." {
		return true
	}
	return p == dir || strings.HasPrefix(p, dir+"/")
}

// SortParentsFirst sorts paths so every directory precedes its contents.
// Plain lexical order has this property for slash paths.
func SortParentsFirst(paths []string) {
	sort.Strings(paths)
}

// SortChildrenFirst sorts paths so every entry precedes its parent
// directory, the order required when emptying directories bottom-up.
func SortChildrenFirst(paths []string) {
	sort.Sort(sort.Reverse(sort.StringSlice(paths)))
}

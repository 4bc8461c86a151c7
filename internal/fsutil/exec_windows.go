//go:build windows

package fsutil

import "io/fs"

// Umask returns 0; Windows has no process umask.
func Umask() fs.FileMode {
	return 0
}

// ExecutableMode returns current unchanged; execute bits are not
// representable on Windows filesystems.
func ExecutableMode(current fs.FileMode, executable bool) fs.FileMode {
	return current
}

// SupportsExecutable reports whether the platform honors execute bits.
func SupportsExecutable() bool {
	return false
}

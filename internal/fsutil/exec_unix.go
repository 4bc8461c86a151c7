//go:build linux || darwin || freebsd

package fsutil

import (
	"io/fs"

	"golang.org/x/sys/unix"
)

// Umask returns the current process umask without changing it.
func Umask() fs.FileMode {
	old := unix.Umask(0)
	unix.Umask(old)
	return fs.FileMode(old)
}

// ExecutableMode derives the permission bits that give or revoke execute
// permission on a regular file with the given current permissions.
// When enabling, the owner execute bit is set subject to the umask, and
// group/other execute bits are enabled only where the corresponding read
// bit is already present.
func ExecutableMode(current fs.FileMode, executable bool) fs.FileMode {
	if !executable {
		return current &^ 0o111
	}
	umask := Umask()
	mode := current | (0o100 &^ umask)
	if current&0o004 != 0 {
		mode |= 0o001 &^ umask
	}
	if current&0o040 != 0 {
		mode |= 0o010 &^ umask
	}
	return mode
}

// SupportsExecutable reports whether the platform honors execute bits.
func SupportsExecutable() bool {
	return true
}

package workdir

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/breezy-team/treekit/tree"
)

// fileLock is the cross-process exclusion primitive for a working
// tree: a lock file created with O_EXCL in the control directory. All
// locks are exclusive; read locks exist only to balance Unlock calls.
// Within a process the lock is reentrant through a counter.
type fileLock struct {
	path  string
	count int
}

func (l *fileLock) acquire() error {
	if l.count > 0 {
		l.count++
		return nil
	}
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("lock file %q is held: %w", l.path, tree.ErrTreeLocked)
		}
		return fmt.Errorf("acquiring tree lock: %w", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	if err := f.Close(); err != nil {
		return fmt.Errorf("writing tree lock: %w", err)
	}
	l.count++
	return nil
}

func (l *fileLock) release() error {
	if l.count == 0 {
		return tree.ErrNotLocked
	}
	l.count--
	if l.count > 0 {
		return nil
	}
	if err := os.Remove(l.path); err != nil {
		return fmt.Errorf("releasing tree lock: %w", err)
	}
	return nil
}

func (l *fileLock) held() bool {
	return l.count > 0
}

package transform

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breezy-team/treekit/internal/testutil"
	"github.com/breezy-team/treekit/tree"
)

var errBoom = errors.New("injected rename failure")

// snapshot captures every visible path with its kind, file id and
// content. Scratch directories are outside the tree namespace and do
// not show up.
func snapshot(t *testing.T, wt tree.WorkingTree) map[string]string {
	t.Helper()
	out := make(map[string]string)
	var walk func(rel string)
	walk = func(rel string) {
		names, err := wt.Children(rel)
		require.NoError(t, err)
		for _, name := range names {
			p := path.Join(rel, name)
			kind := wt.Kind(p)
			desc := fmt.Sprintf("%s id=%s", kind, wt.FileID(p))
			switch kind {
			case tree.KindFile:
				desc += " " + testutil.ReadTreeFile(t, wt, p)
			case tree.KindSymlink:
				target, err := wt.SymlinkTarget(p)
				require.NoError(t, err)
				desc += " ->" + target
			case tree.KindDirectory:
				walk(p)
			}
			out[p] = desc
		}
	}
	walk(".")
	return out
}

// Every physical rename of one apply pass is made to fail in turn; the
// tree must come out untouched each time.
func Test_Apply_AtomicUnderRenameFailure(t *testing.T) {
	backends := []struct {
		name string
		open func(t *testing.T) tree.WorkingTree
	}{
		{"workdir", func(t *testing.T) tree.WorkingTree { return testutil.TempWorkdir(t) }},
		{"memtree", func(t *testing.T) tree.WorkingTree { return testutil.MemTree(t) }},
	}
	for _, backend := range backends {
		t.Run(backend.name, func(t *testing.T) {
			testAtomicUnderRenameFailure(t, backend.open)
		})
	}
}

func testAtomicUnderRenameFailure(t *testing.T, open func(t *testing.T) tree.WorkingTree) {
	build := func(t *testing.T) *testutil.FaultTree {
		t.Helper()
		wt := open(t)
		testutil.AddVersionedFile(t, wt, "a", "alpha")
		testutil.AddVersionedFile(t, wt, "b", "beta")
		testutil.AddVersionedDir(t, wt, "d")
		testutil.AddVersionedFile(t, wt, "d/f1", "inner")
		testutil.AddVersionedFile(t, wt, "del", "bye")
		return testutil.NewFaultTree(wt)
	}
	// A busy pass: a sibling swap, a moved directory, direct and flat
	// staged content, and a deletion.
	stage := func(t *testing.T, s *Session) {
		t.Helper()
		a, err := s.TransIDForPath("a")
		require.NoError(t, err)
		b, err := s.TransIDForPath("b")
		require.NoError(t, err)
		require.NoError(t, s.AdjustPath(a, "b", s.Root()))
		require.NoError(t, s.AdjustPath(b, "a", s.Root()))

		top, err := s.NewDirectory("top", s.Root(), "top-id")
		require.NoError(t, err)
		d, err := s.TransIDForPath("d")
		require.NoError(t, err)
		require.NoError(t, s.AdjustPath(d, "sub", top))
		_, err = s.NewFile("c", top, strings.NewReader("ccc"), "c-id")
		require.NoError(t, err)
		_, err = s.NewFile("znew", s.Root(), strings.NewReader("zzz"), "z-id")
		require.NoError(t, err)

		del, err := s.TransIDForPath("del")
		require.NoError(t, err)
		require.NoError(t, s.DeleteVersioned(del))
	}

	// Learning pass: count the renames of a successful apply.
	ft := build(t)
	s, err := New(ft, nil)
	require.NoError(t, err)
	stage(t, s)
	_, err = s.Apply(nil)
	require.NoError(t, err)
	total := ft.Fault.Ops()
	require.Greater(t, total, 0)

	for k := 1; k <= total; k++ {
		t.Run(fmt.Sprintf("rename_%d", k), func(t *testing.T) {
			ft := build(t)
			before := snapshot(t, ft)
			s, err := New(ft, nil)
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Finalize() })
			stage(t, s)

			ft.Fault.FailAt(k, errBoom)
			_, err = s.Apply(nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, errBoom)
			assert.Equal(t, StateAborted, s.State())

			assert.Equal(t, before, snapshot(t, ft))

			// The scratch directories clean up and the session is
			// spent.
			require.NoError(t, s.Finalize())
			_, err = s.CreatePath("x", s.Root())
			require.ErrorIs(t, err, ErrSessionSpent)

			// No orphaned scratch blocks the next session.
			s2, err := New(ft, nil)
			require.NoError(t, err)
			require.NoError(t, s2.Finalize())
		})
	}
}

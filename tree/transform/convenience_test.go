package transform

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breezy-team/treekit/internal/testutil"
	"github.com/breezy-team/treekit/tree"
	"github.com/breezy-team/treekit/tree/memtree"
)

func Test_Convenience_UnversionedFile(t *testing.T) {
	wt := testutil.MemTree(t)
	s := newSession(t, wt)

	_, err := s.NewFile("u", s.Root(), strings.NewReader("data"), "")
	require.NoError(t, err)

	// Nothing versioned changes, so the delta is empty.
	delta, err := s.ProjectDelta()
	require.NoError(t, err)
	assert.Empty(t, delta)

	res, err := s.Apply(nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RenameCount)
	assert.Equal(t, "data", testutil.ReadTreeFile(t, wt, "u"))
	assert.Equal(t, tree.FileID(""), wt.FileID("u"))
}

func Test_Convenience_FixupNewRootsKeepsExistingID(t *testing.T) {
	wt := testutil.MemTree(t)
	testutil.AddVersionedFile(t, wt, "old", "kept")
	s := newSession(t, wt)

	// A replacement root staged with its own id, carrying one child.
	newRoot, err := s.CreatePath("", RootParent)
	require.NoError(t, err)
	require.NoError(t, s.CreateDirectory(newRoot))
	require.NoError(t, s.Version(newRoot, "root2-id"))
	child, err := s.NewFile("c", newRoot, strings.NewReader("ccc"), "c-id")
	require.NoError(t, err)

	require.NoError(t, s.FixupNewRoots())

	// The existing root absorbs the staged one: same id, grafted
	// child.
	assert.Equal(t, memtree.DefaultRootID, s.FinalFileID(s.Root()))
	p, err := s.FinalPath(child)
	require.NoError(t, err)
	assert.Equal(t, "c", p)

	// Running it again is a no-op.
	require.NoError(t, s.FixupNewRoots())

	// The root keeps its id, so the delta moves only the child.
	delta, err := s.ProjectDelta()
	require.NoError(t, err)
	require.Len(t, delta, 1)
	assert.Equal(t, "c", delta[0].NewPath)

	res, err := s.Apply(nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RenameCount)
	assert.Equal(t, memtree.DefaultRootID, wt.FileID("."))
	assert.Equal(t, "ccc", testutil.ReadTreeFile(t, wt, "c"))
	assert.Equal(t, tree.FileID("c-id"), wt.FileID("c"))
	assert.Equal(t, "kept", testutil.ReadTreeFile(t, wt, "old"))
}

func Test_Convenience_FixupNewRootsReplacesID(t *testing.T) {
	wt := testutil.MemTree(t)
	oldID := testutil.AddVersionedFile(t, wt, "old", "kept")
	s := newSession(t, wt)

	// Deleting the root's content first means the staged root's id
	// wins.
	require.NoError(t, s.DeleteContents(s.Root()))
	newRoot, err := s.CreatePath("", RootParent)
	require.NoError(t, err)
	require.NoError(t, s.CreateDirectory(newRoot))
	require.NoError(t, s.Version(newRoot, "root2-id"))

	require.NoError(t, s.FixupNewRoots())
	assert.Equal(t, tree.FileID("root2-id"), s.FinalFileID(s.Root()))

	// The old root id leaves, the new one arrives at ".", and the
	// untouched child is reparented under it.
	delta, err := s.ProjectDelta()
	require.NoError(t, err)
	assert.Equal(t, tree.Delta{
		{OldPath: ".", ID: memtree.DefaultRootID},
		{NewPath: ".", ID: "root2-id", Entry: &tree.Entry{
			ID:   "root2-id",
			Kind: tree.KindDirectory,
		}},
		{OldPath: "old", NewPath: "old", ID: oldID, Entry: &tree.Entry{
			ID:       oldID,
			Name:     "old",
			ParentID: "root2-id",
			Kind:     tree.KindFile,
		}},
	}, delta)

	res, err := s.Apply(nil)
	require.NoError(t, err)
	assert.Zero(t, res.RenameCount)
	assert.Equal(t, tree.FileID("root2-id"), wt.FileID("."))
	assert.Equal(t, oldID, wt.FileID("old"))
	_, ok := wt.PathForID(memtree.DefaultRootID)
	assert.False(t, ok)
	assert.Equal(t, "kept", testutil.ReadTreeFile(t, wt, "old"))
}

func Test_Convenience_MultipleNewRoots(t *testing.T) {
	wt := testutil.MemTree(t)
	s := newSession(t, wt)

	r1, err := s.CreatePath("", RootParent)
	require.NoError(t, err)
	require.NoError(t, s.CreateDirectory(r1))
	r2, err := s.CreatePath("", RootParent)
	require.NoError(t, err)
	require.NoError(t, s.CreateDirectory(r2))

	err = s.FixupNewRoots()
	require.ErrorIs(t, err, ErrMultipleNewRoots)
}

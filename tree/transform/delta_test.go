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

func Test_Delta_AddRenameDelete(t *testing.T) {
	wt := testutil.MemTree(t)
	gID := testutil.AddVersionedFile(t, wt, "gone", "x")
	rID := testutil.AddVersionedFile(t, wt, "r", "y")
	s := newSession(t, wt)

	_, err := s.NewFile("n", s.Root(), strings.NewReader("z"), "n-id")
	require.NoError(t, err)
	r, err := s.TransIDForPath("r")
	require.NoError(t, err)
	require.NoError(t, s.AdjustPath(r, "r2", s.Root()))
	g, err := s.TransIDForPath("gone")
	require.NoError(t, err)
	require.NoError(t, s.DeleteVersioned(g))

	delta, err := s.ProjectDelta()
	require.NoError(t, err)

	assert.Equal(t, tree.Delta{
		{OldPath: "gone", ID: gID},
		{NewPath: "n", ID: "n-id", Entry: &tree.Entry{
			ID:       "n-id",
			Name:     "n",
			ParentID: memtree.DefaultRootID,
			Kind:     tree.KindFile,
		}},
		{OldPath: "r", NewPath: "r2", ID: rID, Entry: &tree.Entry{
			ID:       rID,
			Name:     "r2",
			ParentID: memtree.DefaultRootID,
			Kind:     tree.KindFile,
		}},
	}, delta)
}

func Test_Delta_KindChangeInPlace(t *testing.T) {
	wt := testutil.MemTree(t)
	thID := testutil.AddVersionedFile(t, wt, "thing", "body")
	s := newSession(t, wt)

	h, err := s.TransIDForPath("thing")
	require.NoError(t, err)
	require.NoError(t, s.DeleteContents(h))
	require.NoError(t, s.CreateDirectory(h))

	delta, err := s.ProjectDelta()
	require.NoError(t, err)

	assert.Equal(t, tree.Delta{
		{OldPath: "thing", NewPath: "thing", ID: thID, Entry: &tree.Entry{
			ID:       thID,
			Name:     "thing",
			ParentID: memtree.DefaultRootID,
			Kind:     tree.KindDirectory,
		}},
	}, delta)

	_, err = s.Apply(nil)
	require.NoError(t, err)
	assert.Equal(t, tree.KindDirectory, wt.Kind("thing"))
	assert.Equal(t, tree.KindDirectory, wt.StoredKind("thing"))
}

func Test_Delta_ExecutableSurvivesMove(t *testing.T) {
	wt := testutil.MemTree(t)
	fid := testutil.AddVersionedFile(t, wt, "tool", "#!/bin/sh\n")
	require.NoError(t, wt.FS().Chmod(wt.AbsPath("tool"), 0o755))
	s := newSession(t, wt)

	h, err := s.TransIDForPath("tool")
	require.NoError(t, err)
	require.NoError(t, s.AdjustPath(h, "tool2", s.Root()))

	delta, err := s.ProjectDelta()
	require.NoError(t, err)
	require.Len(t, delta, 1)
	assert.Equal(t, fid, delta[0].ID)
	assert.True(t, delta[0].Entry.Executable)

	_, err = s.Apply(nil)
	require.NoError(t, err)
	assert.True(t, wt.IsExecutable("tool2"))
}

func Test_Delta_SymlinkTargetSurvivesMove(t *testing.T) {
	wt := testutil.MemTree(t)
	fid := testutil.AddVersionedSymlink(t, wt, "ln", "dest")
	s := newSession(t, wt)

	h, err := s.TransIDForPath("ln")
	require.NoError(t, err)
	require.NoError(t, s.AdjustPath(h, "ln2", s.Root()))

	delta, err := s.ProjectDelta()
	require.NoError(t, err)

	assert.Equal(t, tree.Delta{
		{OldPath: "ln", NewPath: "ln2", ID: fid, Entry: &tree.Entry{
			ID:            fid,
			Name:          "ln2",
			ParentID:      memtree.DefaultRootID,
			Kind:          tree.KindSymlink,
			SymlinkTarget: "dest",
		}},
	}, delta)
}

func Test_Delta_MovedIDHasNoRemoval(t *testing.T) {
	wt := testutil.MemTree(t)
	aID := testutil.AddVersionedFile(t, wt, "a", "body")
	s := newSession(t, wt)

	holder, err := s.TransIDForPath("a")
	require.NoError(t, err)
	require.NoError(t, s.Unversion(holder))
	_, err = s.NewFile("b", s.Root(), strings.NewReader("other"), aID)
	require.NoError(t, err)

	delta, err := s.ProjectDelta()
	require.NoError(t, err)

	// The id leaves "a" and lands on "b" in one entry; no removal.
	assert.Equal(t, tree.Delta{
		{OldPath: "a", NewPath: "b", ID: aID, Entry: &tree.Entry{
			ID:       aID,
			Name:     "b",
			ParentID: memtree.DefaultRootID,
			Kind:     tree.KindFile,
		}},
	}, delta)
}

package transform

import (
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breezy-team/treekit/internal/testutil"
	"github.com/breezy-team/treekit/tree"
	"github.com/breezy-team/treekit/tree/memtree"
)

func Test_Apply_BuildsTree(t *testing.T) {
	backends := []struct {
		name string
		open func(t *testing.T) (tree.WorkingTree, func(string) (tree.Observation, bool))
	}{
		{"workdir", func(t *testing.T) (tree.WorkingTree, func(string) (tree.Observation, bool)) {
			wt := testutil.TempWorkdir(t)
			return wt, wt.CachedHash
		}},
		{"memtree", func(t *testing.T) (tree.WorkingTree, func(string) (tree.Observation, bool)) {
			wt := testutil.MemTree(t)
			return wt, wt.Observation
		}},
	}
	for _, backend := range backends {
		t.Run(backend.name, func(t *testing.T) {
			wt, cached := backend.open(t)
			s := newSession(t, wt)

			src, err := s.NewDirectory("src", s.Root(), "src-id")
			require.NoError(t, err)
			pkg, err := s.NewDirectory("pkg", src, "pkg-id")
			require.NoError(t, err)
			_, err = s.NewFile("a.go", pkg, strings.NewReader("package pkg\n"), "a-id")
			require.NoError(t, err)
			_, err = s.NewFile("README", s.Root(), strings.NewReader("docs\n"), "readme-id")
			require.NoError(t, err)
			_, err = s.NewSymlink("link", s.Root(), "README", "link-id")
			require.NoError(t, err)

			res, err := s.Apply(nil)
			require.NoError(t, err)

			// Everything under src rode in on the one src rename.
			assert.Equal(t, 3, res.RenameCount)
			assert.Equal(t, []string{"README", "link", "src"}, res.ModifiedPaths)

			assert.Equal(t, tree.KindDirectory, wt.Kind("src"))
			assert.Equal(t, tree.KindDirectory, wt.Kind("src/pkg"))
			assert.Equal(t, "package pkg\n", testutil.ReadTreeFile(t, wt, "src/pkg/a.go"))
			assert.Equal(t, "docs\n", testutil.ReadTreeFile(t, wt, "README"))
			target, err := wt.SymlinkTarget("link")
			require.NoError(t, err)
			assert.Equal(t, "README", target)

			assert.Equal(t, tree.FileID("src-id"), wt.FileID("src"))
			assert.Equal(t, tree.FileID("pkg-id"), wt.FileID("src/pkg"))
			assert.Equal(t, tree.FileID("a-id"), wt.FileID("src/pkg/a.go"))
			assert.Equal(t, tree.FileID("readme-id"), wt.FileID("README"))
			assert.Equal(t, tree.FileID("link-id"), wt.FileID("link"))

			// Hashes observed while staging are valid for the
			// installed files.
			obs, ok := cached("README")
			require.True(t, ok)
			assert.Equal(t, tree.HashBytes([]byte("docs\n")), obs.Hash)
			obs, ok = cached("src/pkg/a.go")
			require.True(t, ok)
			assert.Equal(t, tree.HashBytes([]byte("package pkg\n")), obs.Hash)
		})
	}
}

func Test_Apply_RenameAndRewrite(t *testing.T) {
	wt := testutil.MemTree(t)
	fid := testutil.AddVersionedFile(t, wt, "old", "v1")
	s := newSession(t, wt)

	h, err := s.TransIDForPath("old")
	require.NoError(t, err)
	require.NoError(t, s.AdjustPath(h, "new", s.Root()))
	require.NoError(t, s.DeleteContents(h))
	require.NoError(t, s.CreateFile(h, strings.NewReader("v2")))

	res, err := s.Apply(nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RenameCount)
	assert.Equal(t, []string{"new"}, res.ModifiedPaths)

	assert.Equal(t, tree.KindMissing, wt.Kind("old"))
	assert.Equal(t, "v2", testutil.ReadTreeFile(t, wt, "new"))
	assert.Equal(t, fid, wt.FileID("new"))
}

func Test_Apply_SwapsSiblings(t *testing.T) {
	wt := testutil.MemTree(t)
	aID := testutil.AddVersionedFile(t, wt, "a", "alpha")
	bID := testutil.AddVersionedFile(t, wt, "b", "beta")
	s := newSession(t, wt)

	a, err := s.TransIDForPath("a")
	require.NoError(t, err)
	b, err := s.TransIDForPath("b")
	require.NoError(t, err)
	require.NoError(t, s.AdjustPath(a, "b", s.Root()))
	require.NoError(t, s.AdjustPath(b, "a", s.Root()))

	res, err := s.Apply(nil)
	require.NoError(t, err)
	// Both entries leave through limbo and come back: two renames out,
	// two in.
	assert.Equal(t, 4, res.RenameCount)
	assert.Empty(t, res.ModifiedPaths)

	assert.Equal(t, "beta", testutil.ReadTreeFile(t, wt, "a"))
	assert.Equal(t, "alpha", testutil.ReadTreeFile(t, wt, "b"))
	assert.Equal(t, bID, wt.FileID("a"))
	assert.Equal(t, aID, wt.FileID("b"))
}

func Test_Apply_MovesDirectory(t *testing.T) {
	wt := testutil.MemTree(t)
	dID := testutil.AddVersionedDir(t, wt, "d")
	fID := testutil.AddVersionedFile(t, wt, "d/f", "inner")
	testutil.AddVersionedDir(t, wt, "e")
	s := newSession(t, wt)

	d, err := s.TransIDForPath("d")
	require.NoError(t, err)
	e, err := s.TransIDForPath("e")
	require.NoError(t, err)
	require.NoError(t, s.AdjustPath(d, "sub", e))

	res, err := s.Apply(nil)
	require.NoError(t, err)
	// The directory moves as a unit; its children ride along.
	assert.Equal(t, 2, res.RenameCount)

	assert.Equal(t, dID, wt.FileID("e/sub"))
	assert.Equal(t, "inner", testutil.ReadTreeFile(t, wt, "e/sub/f"))
	p, ok := wt.PathForID(fID)
	require.True(t, ok)
	assert.Equal(t, "e/sub/f", p)
	assert.Equal(t, tree.KindMissing, wt.Kind("d"))
}

func Test_Apply_SecondSessionRenamesBuiltTree(t *testing.T) {
	wt := testutil.MemTree(t)

	s1 := newSession(t, wt)
	a, err := s1.NewDirectory("a", s1.Root(), "a-id")
	require.NoError(t, err)
	_, err = s1.NewFile("b", a, strings.NewReader("hi"), "b-id")
	require.NoError(t, err)
	_, err = s1.Apply(nil)
	require.NoError(t, err)
	require.Equal(t, "hi", testutil.ReadTreeFile(t, wt, "a/b"))

	// A fresh session picks the built tree up where the last one left
	// it.
	s2 := newSession(t, wt)
	h, err := s2.TransIDForPath("a")
	require.NoError(t, err)
	require.NoError(t, s2.AdjustPath(h, "z", s2.Root()))
	res, err := s2.Apply(nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.RenameCount)
	assert.Empty(t, res.ModifiedPaths)

	assert.Equal(t, "hi", testutil.ReadTreeFile(t, wt, "z/b"))
	assert.Equal(t, tree.FileID("a-id"), wt.FileID("z"))
	assert.Equal(t, tree.FileID("b-id"), wt.FileID("z/b"))
	assert.Equal(t, tree.KindMissing, wt.Kind("a"))
}

func Test_Apply_DeletesSubtree(t *testing.T) {
	wt := testutil.MemTree(t)
	jID := testutil.AddVersionedDir(t, wt, "junk")
	aID := testutil.AddVersionedFile(t, wt, "junk/a", "one")
	bID := testutil.AddVersionedDir(t, wt, "junk/b")
	cID := testutil.AddVersionedFile(t, wt, "junk/b/c", "two")
	s := newSession(t, wt)

	for _, rel := range []string{"junk/b/c", "junk/b", "junk/a", "junk"} {
		h, err := s.TransIDForPath(rel)
		require.NoError(t, err)
		require.NoError(t, s.DeleteVersioned(h))
	}

	res, err := s.Apply(nil)
	require.NoError(t, err)
	// Deletions go through quarantine, not rename.
	assert.Zero(t, res.RenameCount)
	assert.Empty(t, res.ModifiedPaths)

	assert.Equal(t, tree.KindMissing, wt.Kind("junk"))
	for _, id := range []tree.FileID{jID, aID, bID, cID} {
		_, ok := wt.PathForID(id)
		assert.False(t, ok, "id %s still versioned", id)
	}
}

func Test_Apply_RollbackOnCollision(t *testing.T) {
	wt := testutil.MemTree(t)
	delID := testutil.AddVersionedFile(t, wt, "del", "bye")
	testutil.AddVersionedDir(t, wt, "t")
	testutil.AddVersionedFile(t, wt, "t/x", "keep")
	s := newSession(t, wt)

	h, err := s.TransIDForPath("del")
	require.NoError(t, err)
	require.NoError(t, s.DeleteVersioned(h))
	_, err = s.NewFile("aaa", s.Root(), strings.NewReader("fresh"), "aaa-id")
	require.NoError(t, err)
	// Staging a directory over the existing populated "t" makes the
	// final insertion rename fail.
	_, err = s.NewDirectory("t", s.Root(), "")
	require.NoError(t, err)

	_, err = s.Apply(&ApplyOptions{NoConflicts: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFileExists)
	var re *RenameError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, wt.AbsPath("t"), re.To)
	assert.Equal(t, StateAborted, s.State())

	// Every completed move was undone.
	assert.Equal(t, "bye", testutil.ReadTreeFile(t, wt, "del"))
	assert.Equal(t, delID, wt.FileID("del"))
	assert.Equal(t, tree.KindMissing, wt.Kind("aaa"))
	assert.Equal(t, "keep", testutil.ReadTreeFile(t, wt, "t/x"))

	require.NoError(t, s.Finalize())
}

func Test_Apply_QuarantineFailureIsFinal(t *testing.T) {
	wt := testutil.MemTree(t)
	jID := testutil.AddVersionedDir(t, wt, "junk")
	testutil.WriteTreeFile(t, wt, "junk/tmp", "scratch")
	s := newSession(t, wt)

	h, err := s.TransIDForPath("junk")
	require.NoError(t, err)
	require.NoError(t, s.DeleteVersioned(h))

	// The unversioned file inside would be orphaned, and the scan says
	// so.
	conflicts := findConflicts(t, s)
	require.Len(t, conflicts, 1)
	assert.Equal(t, ConflictMissingParent, conflicts[0].Kind)
	assert.Equal(t, h, conflicts[0].Handle)

	// Forcing past the conflict gets the directory quarantined with
	// its stray child inside, and destroying the quarantine fails
	// after the point of no return.
	_, err = s.Apply(&ApplyOptions{NoConflicts: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, syscall.ENOTEMPTY)
	assert.Equal(t, StateAborted, s.State())

	// The tree lost the directory; the metadata delta never ran.
	assert.Equal(t, tree.KindMissing, wt.Kind("junk"))
	assert.Equal(t, jID, wt.FileID("junk"))

	// Finalize cannot clear the populated quarantine either.
	err = s.Finalize()
	require.ErrorIs(t, err, ErrImmortalQuarantine)
}

func Test_Apply_ExecutabilityOnly(t *testing.T) {
	wt := testutil.MemTree(t)
	rID := testutil.AddVersionedFile(t, wt, "run", "#!/bin/sh\n")
	s := newSession(t, wt)

	h, err := s.TransIDForPath("run")
	require.NoError(t, err)
	require.NoError(t, s.SetExecutability(h, true))

	delta, err := s.ProjectDelta()
	require.NoError(t, err)
	require.Len(t, delta, 1)
	assert.Equal(t, "run", delta[0].OldPath)
	assert.Equal(t, "run", delta[0].NewPath)
	assert.True(t, delta[0].Entry.Executable)

	res, err := s.Apply(nil)
	require.NoError(t, err)
	assert.Zero(t, res.RenameCount)
	assert.Empty(t, res.ModifiedPaths)

	assert.True(t, wt.IsExecutable("run"))
	ent, ok := wt.Entry(rID)
	require.True(t, ok)
	assert.True(t, ent.Executable)
}

func Test_Apply_ExecutabilityWithoutExecBits(t *testing.T) {
	opts := memtree.DefaultOptions()
	opts.Executable = false
	wt := memtree.New(opts)
	testutil.AddVersionedFile(t, wt, "run", "#!/bin/sh\n")
	s := newSession(t, wt)

	h, err := s.TransIDForPath("run")
	require.NoError(t, err)
	require.NoError(t, s.SetExecutability(h, true))

	_, err = s.Apply(nil)
	require.NoError(t, err)

	// The tree has no execute bits, so the change lives in metadata.
	assert.True(t, wt.IsExecutable("run"))
}

func Test_Apply_PrecomputedDelta(t *testing.T) {
	wt := testutil.MemTree(t)
	fid := testutil.AddVersionedFile(t, wt, "a", "body")
	s := newSession(t, wt)

	h, err := s.TransIDForPath("a")
	require.NoError(t, err)
	require.NoError(t, s.AdjustPath(h, "b", s.Root()))

	delta, err := s.ProjectDelta()
	require.NoError(t, err)

	_, err = s.Apply(&ApplyOptions{PrecomputedDelta: delta})
	require.NoError(t, err)
	assert.Equal(t, fid, wt.FileID("b"))
	assert.Equal(t, "body", testutil.ReadTreeFile(t, wt, "b"))
}

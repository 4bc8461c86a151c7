package transform

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breezy-team/treekit/internal/testutil"
	"github.com/breezy-team/treekit/tree"
)

// findConflicts runs the scan and fails the test on scan errors.
func findConflicts(t *testing.T, s *Session) []Conflict {
	t.Helper()
	conflicts, err := s.FindConflicts()
	require.NoError(t, err)
	return conflicts
}

func Test_Conflicts_ParentLoop(t *testing.T) {
	wt := testutil.MemTree(t)
	testutil.AddVersionedDir(t, wt, "a")
	testutil.AddVersionedDir(t, wt, "a/b")
	s := newSession(t, wt)

	a, err := s.TransIDForPath("a")
	require.NoError(t, err)
	b, err := s.TransIDForPath("a/b")
	require.NoError(t, err)
	require.NoError(t, s.AdjustPath(a, "a", b))

	assert.Equal(t, []Conflict{
		{Kind: ConflictParentLoop, Handle: a},
	}, findConflicts(t, s))
}

func Test_Conflicts_UnversionedParent(t *testing.T) {
	wt := testutil.MemTree(t)
	s := newSession(t, wt)

	u, err := s.CreatePath("u", s.Root())
	require.NoError(t, err)
	require.NoError(t, s.CreateDirectory(u))
	_, err = s.NewFile("c", u, strings.NewReader("x"), "c-id")
	require.NoError(t, err)

	assert.Equal(t, []Conflict{
		{Kind: ConflictUnversionedParent, Handle: u},
	}, findConflicts(t, s))
}

func Test_Conflicts_MissingParent(t *testing.T) {
	wt := testutil.MemTree(t)
	s := newSession(t, wt)

	ghost, err := s.TransIDForPath("ghost")
	require.NoError(t, err)
	_, err = s.NewFile("c", ghost, strings.NewReader("x"), "")
	require.NoError(t, err)

	assert.Equal(t, []Conflict{
		{Kind: ConflictMissingParent, Handle: ghost},
	}, findConflicts(t, s))
}

func Test_Conflicts_NonDirectoryParent(t *testing.T) {
	wt := testutil.MemTree(t)
	testutil.AddVersionedFile(t, wt, "f", "body")
	s := newSession(t, wt)

	f, err := s.TransIDForPath("f")
	require.NoError(t, err)
	_, err = s.NewFile("c", f, strings.NewReader("x"), "")
	require.NoError(t, err)

	assert.Equal(t, []Conflict{
		{Kind: ConflictNonDirectoryParent, Handle: f},
	}, findConflicts(t, s))
}

func Test_Conflicts_DuplicateEntry(t *testing.T) {
	wt := testutil.MemTree(t)
	oldID := testutil.AddVersionedFile(t, wt, "x", "old")
	s := newSession(t, wt)

	existing, err := s.TransIDForPath("x")
	require.NoError(t, err)
	staged, err := s.NewFile("x", s.Root(), strings.NewReader("new"), "x2-id")
	require.NoError(t, err)

	want := []Conflict{
		{Kind: ConflictDuplicateEntry, Handle: existing, Other: staged, Name: "x"},
	}
	assert.Equal(t, want, findConflicts(t, s))

	// Apply refuses while the conflict stands.
	_, err = s.Apply(nil)
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, want, ce.Conflicts)
	require.Equal(t, StateBuilding, s.State())

	// Deleting the existing entry resolves the collision.
	require.NoError(t, s.DeleteVersioned(existing))
	assert.Empty(t, findConflicts(t, s))

	res, err := s.Apply(nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RenameCount)
	assert.Equal(t, "new", testutil.ReadTreeFile(t, wt, "x"))
	assert.Equal(t, tree.FileID("x2-id"), wt.FileID("x"))
	_, ok := wt.PathForID(oldID)
	assert.False(t, ok)
}

func Test_Conflicts_DuplicateEntryOrderIndependent(t *testing.T) {
	stageFile := func(t *testing.T, s *Session) TransID {
		t.Helper()
		id, err := s.NewFile("same", s.Root(), strings.NewReader("f"), "file-id")
		require.NoError(t, err)
		return id
	}
	stageDir := func(t *testing.T, s *Session) TransID {
		t.Helper()
		id, err := s.NewDirectory("same", s.Root(), "dir-id")
		require.NoError(t, err)
		return id
	}

	for _, tc := range []struct {
		name          string
		first, second func(*testing.T, *Session) TransID
	}{
		{"file_then_dir", stageFile, stageDir},
		{"dir_then_file", stageDir, stageFile},
	} {
		t.Run(tc.name, func(t *testing.T) {
			wt := testutil.MemTree(t)
			s := newSession(t, wt)
			first := tc.first(t, s)
			second := tc.second(t, s)

			assert.Equal(t, []Conflict{
				{Kind: ConflictDuplicateEntry, Handle: first, Other: second, Name: "same"},
			}, findConflicts(t, s))
		})
	}
}

func Test_Conflicts_DuplicateFileID(t *testing.T) {
	wt := testutil.MemTree(t)
	aID := testutil.AddVersionedFile(t, wt, "a", "keep")
	s := newSession(t, wt)

	holder, err := s.TransIDForPath("a")
	require.NoError(t, err)
	claimer, err := s.NewFile("b", s.Root(), strings.NewReader("data"), aID)
	require.NoError(t, err)

	assert.Equal(t, []Conflict{
		{Kind: ConflictDuplicateFileID, Handle: holder, Other: claimer},
	}, findConflicts(t, s))

	// Unversioning the current holder moves the id instead.
	require.NoError(t, s.Unversion(holder))
	assert.Empty(t, findConflicts(t, s))

	res, err := s.Apply(nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RenameCount)

	// The file at "a" is untouched on disk but no longer versioned.
	assert.Equal(t, "keep", testutil.ReadTreeFile(t, wt, "a"))
	assert.Equal(t, tree.FileID(""), wt.FileID("a"))
	assert.Equal(t, aID, wt.FileID("b"))
	assert.Equal(t, "data", testutil.ReadTreeFile(t, wt, "b"))
}

func Test_Conflicts_VersioningNoContents(t *testing.T) {
	wt := testutil.MemTree(t)
	s := newSession(t, wt)

	v, err := s.CreatePath("v", s.Root())
	require.NoError(t, err)
	require.NoError(t, s.Version(v, "v-id"))

	assert.Equal(t, []Conflict{
		{Kind: ConflictVersioningNoContents, Handle: v},
	}, findConflicts(t, s))
}

func Test_Conflicts_UnversionedExecutability(t *testing.T) {
	wt := testutil.MemTree(t)
	testutil.WriteTreeFile(t, wt, "u", "body")
	s := newSession(t, wt)

	u, err := s.TransIDForPath("u")
	require.NoError(t, err)
	require.NoError(t, s.SetExecutability(u, true))

	assert.Equal(t, []Conflict{
		{Kind: ConflictUnversionedExecutability, Handle: u},
	}, findConflicts(t, s))
}

func Test_Conflicts_NonFileExecutability(t *testing.T) {
	wt := testutil.MemTree(t)
	testutil.AddVersionedDir(t, wt, "d")
	s := newSession(t, wt)

	d, err := s.TransIDForPath("d")
	require.NoError(t, err)
	require.NoError(t, s.SetExecutability(d, true))

	assert.Equal(t, []Conflict{
		{Kind: ConflictNonFileExecutability, Handle: d},
	}, findConflicts(t, s))
}

func Test_Conflicts_Overwrite(t *testing.T) {
	wt := testutil.MemTree(t)
	oID := testutil.AddVersionedFile(t, wt, "o", "old")
	s := newSession(t, wt)

	o, err := s.TransIDForPath("o")
	require.NoError(t, err)
	require.NoError(t, s.CreateFile(o, strings.NewReader("new")))

	assert.Equal(t, []Conflict{
		{Kind: ConflictOverwrite, Handle: o, Name: "o"},
	}, findConflicts(t, s))

	// Scheduling the old content away resolves it; the id survives the
	// rewrite.
	require.NoError(t, s.DeleteContents(o))
	assert.Empty(t, findConflicts(t, s))

	delta, err := s.ProjectDelta()
	require.NoError(t, err)
	assert.Empty(t, delta)

	res, err := s.Apply(nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RenameCount)
	assert.Equal(t, []string{"o"}, res.ModifiedPaths)
	assert.Equal(t, "new", testutil.ReadTreeFile(t, wt, "o"))
	assert.Equal(t, oID, wt.FileID("o"))
}

func Test_Conflicts_IndependentPairBothReported(t *testing.T) {
	wt := testutil.MemTree(t)
	testutil.AddVersionedFile(t, wt, "o", "old")
	s := newSession(t, wt)

	// An unversioned staged directory holding a versioned child.
	dir, err := s.CreatePath("raw", s.Root())
	require.NoError(t, err)
	require.NoError(t, s.CreateDirectory(dir))
	_, err = s.NewFile("f", dir, strings.NewReader("x"), "f-id")
	require.NoError(t, err)

	// And, unrelated, new content over an existing file.
	o, err := s.TransIDForPath("o")
	require.NoError(t, err)
	require.NoError(t, s.CreateFile(o, strings.NewReader("new")))

	// One scan reports both; neither masks the other.
	assert.Equal(t, []Conflict{
		{Kind: ConflictUnversionedParent, Handle: dir},
		{Kind: ConflictOverwrite, Handle: o, Name: "o"},
	}, findConflicts(t, s))
}

package pathutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Clean_Normalization(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"empty is root", "", ".", true},
		{"dot is root", ".", ".", true},
		{"plain name", "a", "a", true},
		{"trailing slash", "a/b/", "a/b", true},
		{"leading slash stripped", "/a/b", "a/b", true},
		{"backslashes normalized", `a\b`, "a/b", true},
		{"inner dot segments", "a/./b", "a/b", true},
		{"parent escape rejected", "../x", "", false},
		{"bare parent rejected", "..", "", false},
		{"collapsed escape rejected", "a/../../x", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Clean(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func Test_IsInside(t *testing.T) {
	assert.True(t, IsInside(".", "a/b"))
	assert.True(t, IsInside("a", "a"))
	assert.True(t, IsInside("a", "a/b/c"))
	assert.False(t, IsInside("a", "ab"))
	assert.False(t, IsInside("a/b", "a"))
}

func Test_SortChildrenFirst_DeepestBeforeParent(t *testing.T) {
	paths := []string{"a", "a/b/c", "a/b", "b"}
	SortChildrenFirst(paths)
	assert.Equal(t, []string{"b", "a/b/c", "a/b", "a"}, paths)
}

func Test_Split_TopLevelDirIsDot(t *testing.T) {
	dir, name := Split("a")
	assert.Equal(t, ".", dir)
	assert.Equal(t, "a", name)

	dir, name = Split("a/b")
	assert.Equal(t, "a", dir)
	assert.Equal(t, "b", name)
}

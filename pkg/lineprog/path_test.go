package lineprog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeForComparisonDotsAndDotDots(t *testing.T) {
	cases := []struct{ in, want string }{
		{"/a/./b/../c", "/a/c"},
		{"a/./b/../c", "a/c"},
		{`a\b\..\c`, "a/c"},
		{"../a/b", "../a/b"},
		{"/../a", "/a"},
		{"a/b/c", "a/b/c"},
		{"", ""},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, normalizeForComparison(c.in), "input %q", c.in)
	}
}

func TestPathsEqualAcrossSeparatorStyles(t *testing.T) {
	assert.True(t, pathsEqual(`src\main.rs`, "src/main.rs"))
	assert.True(t, pathsEqual("a/./b/../c", "a/c"))
	assert.False(t, pathsEqual("a/b", "a/c"))
}

func TestJoinDir(t *testing.T) {
	assert.Equal(t, "dir/file.rs", joinDir("dir", "file.rs"))
	assert.Equal(t, "dir/file.rs", joinDir("dir/", "file.rs"))
	assert.Equal(t, "/abs/file.rs", joinDir("dir", "/abs/file.rs"))
	assert.Equal(t, "file.rs", joinDir("", "file.rs"))
	assert.Equal(t, "dir", joinDir("dir", ""))
}

func TestIsAbsPath(t *testing.T) {
	assert.True(t, isAbsPath("/a/b"))
	assert.True(t, isAbsPath(`C:\a\b`))
	assert.True(t, isAbsPath("C:/a/b"))
	assert.False(t, isAbsPath("a/b"))
	assert.False(t, isAbsPath("./a"))
}

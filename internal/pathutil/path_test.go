package pathutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/unzip/internal/ziptype"
)

func TestSanitize_Rejects(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	for _, name := range []string{
		"",
		"../../etc/passwd",
		"/etc/passwd",
		"a/../../b",
		"a/../b",
		"..",
		"../",
		`..\..\windows\system32`,
		`\etc\passwd`,
		`C:\Windows\evil.dll`,
		"c:relative",
		"//server/share/x",
		"a/b\x00.txt",
		"./",
		".",
		"./././",
		"a//b",
		"a//b.txt",
		`a\\b.txt`,
		"dir//",
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := Sanitize(name, root)
			require.ErrorIs(t, err, ziptype.ErrPathTraversal)
		})
	}
}

func TestSanitize_Accepts(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	tests := []struct {
		name    string
		wantRel string
	}{
		{name: "a/b/c.txt", wantRel: "a/b/c.txt"},
		{name: "file.txt", wantRel: "file.txt"},
		{name: "dir/", wantRel: "dir"},
		{name: "./a/b/./c", wantRel: "a/b/c"},
		{name: "a/./b/", wantRel: "a/b"},
		{name: `win\style\path.txt`, wantRel: "win/style/path.txt"},
		{name: "..foo/bar..", wantRel: "..foo/bar.."},
		{name: "unicode/日本語.txt", wantRel: "unicode/日本語.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rel, full, err := Resolve(tt.name, root)
			require.NoError(t, err)
			assert.Equal(t, tt.wantRel, rel)
			assert.Equal(t, filepath.Join(root, filepath.FromSlash(tt.wantRel)), full)
		})
	}

	full, err := Sanitize("a/b/c.txt", root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "a", "b", "c.txt"), full)
}

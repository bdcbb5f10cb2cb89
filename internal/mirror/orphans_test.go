package mirror

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkdirs(t *testing.T, root string, paths ...string) {
	t.Helper()
	for _, p := range paths {
		require.NoError(t, os.MkdirAll(filepath.Join(root, filepath.FromSlash(p)), 0o755))
	}
}

func TestFindOrphans(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "org/a", "org/stale")

	orphans, err := FindOrphans(root, []string{filepath.Join(root, "org", "a")})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "org", "stale")}, orphans)
}

func TestFindOrphans_AncestorsAndTargetContentsAreKept(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root,
		"org/sub/deep/a/.git",
		"org/sub/deep/a/src",
		"org/sub/old/x",
		"gone/y",
	)
	require.NoError(t, os.WriteFile(filepath.Join(root, "org", "notes.txt"), []byte("x"), 0o644))

	orphans, err := FindOrphans(root, []string{filepath.Join(root, "org", "sub", "deep", "a")})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "gone"),
		filepath.Join(root, "org", "notes.txt"),
		filepath.Join(root, "org", "sub", "old"),
	}, orphans)
}

func TestFindOrphans_DeepNesting(t *testing.T) {
	root := t.TempDir()
	parts := []string{root}
	for i := 0; i < 64; i++ {
		parts = append(parts, "n")
	}
	target := filepath.Join(parts...)
	require.NoError(t, os.MkdirAll(target, 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(filepath.Dir(target), "stray"), 0o755))

	orphans, err := FindOrphans(root, []string{target})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(filepath.Dir(target), "stray")}, orphans)
}

func TestFindOrphans_FileInPlaceOfNamespaceIsSkipped(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "org/a", "org/stale")
	require.NoError(t, os.WriteFile(filepath.Join(root, "zz"), []byte("x"), 0o644))

	orphans, err := FindOrphans(root, []string{
		filepath.Join(root, "org", "a"),
		filepath.Join(root, "zz", "x"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "org", "stale")}, orphans)
}

func TestFindOrphans_MissingRoot(t *testing.T) {
	orphans, err := FindOrphans(filepath.Join(t.TempDir(), "missing"), nil)
	require.NoError(t, err)
	assert.Empty(t, orphans)
}

func TestHandleOrphans(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "org/a", "org/stale/inner")
	orphans := []string{filepath.Join(root, "org", "stale")}

	log, hook := test.NewNullLogger()

	require.NoError(t, HandleOrphans(root, orphans, false, log))
	assert.DirExists(t, orphans[0])
	assert.Equal(t, "Orphan org/stale", hook.LastEntry().Message)

	require.NoError(t, HandleOrphans(root, orphans, true, log))
	assert.NoDirExists(t, orphans[0])
	assert.DirExists(t, filepath.Join(root, "org", "a"))
	assert.Equal(t, "Removing orphan org/stale", hook.LastEntry().Message)
}

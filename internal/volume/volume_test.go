package volume

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paths(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Path
	}
	sort.Strings(out)
	return out
}

func TestLocalVolumeWriteReadRoundtrip(t *testing.T) {
	root := t.TempDir()
	v := NewLocal(root)
	ctx := context.Background()

	require.NoError(t, v.WriteFiles(ctx, map[string][]byte{"a/b.txt": []byte("hello")}))
	content, err := v.ReadFile(ctx, "a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))
}

func TestLocalVolumeListdir(t *testing.T) {
	root := t.TempDir()
	v := NewLocal(root)
	ctx := context.Background()
	require.NoError(t, v.WriteFiles(ctx, map[string][]byte{"x.txt": []byte("1"), "y.txt": []byte("2")}))

	entries, err := v.Listdir(ctx, ".")
	require.NoError(t, err)
	assert.Equal(t, []string{"x.txt", "y.txt"}, paths(entries))
}

func TestLocalVolumeRemoveDirectoryRecursive(t *testing.T) {
	root := t.TempDir()
	v := NewLocal(root)
	ctx := context.Background()
	require.NoError(t, v.WriteFiles(ctx, map[string][]byte{"d/1.txt": []byte("1"), "d/sub/2.txt": []byte("2")}))
	require.NoError(t, v.RemoveDirectory(ctx, "d"))
	_, err := os.Stat(filepath.Join(root, "d"))
	assert.True(t, os.IsNotExist(err))
}

// TestScopedComposesLikeConcatenatedPrefix exercises P3: scoped(p1).scoped(p2)
// behaves like scoped(p1+"/"+p2).
func TestScopedComposesLikeConcatenatedPrefix(t *testing.T) {
	root := t.TempDir()
	base := NewLocal(root)
	ctx := context.Background()

	nested := base.Scoped("a").Scoped("b")
	flat := base.Scoped("a/b")

	require.NoError(t, nested.WriteFiles(ctx, map[string][]byte{"x.txt": []byte("v")}))

	nestedEntries, err := nested.Listdir(ctx, ".")
	require.NoError(t, err)
	flatEntries, err := flat.Listdir(ctx, ".")
	require.NoError(t, err)
	assert.Equal(t, paths(nestedEntries), paths(flatEntries))

	content, err := flat.ReadFile(ctx, "x.txt")
	require.NoError(t, err)
	assert.Equal(t, "v", string(content))
}

func TestScopedStripsPrefixFromListdir(t *testing.T) {
	root := t.TempDir()
	base := NewLocal(root)
	ctx := context.Background()
	scoped := base.Scoped("agents/agent-1")
	require.NoError(t, scoped.WriteFiles(ctx, map[string][]byte{"data.json": []byte("{}")}))

	entries, err := scoped.Listdir(ctx, ".")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "data.json", entries[0].Path)
}

func TestAtomicWriteFileNeverLeavesPartialContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "record.json")
	require.NoError(t, AtomicWriteFile(path, []byte(`{"v":1}`), 0o644))
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, string(content))

	require.NoError(t, AtomicWriteFile(path, []byte(`{"v":2}`), 0o644))
	content, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(content))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no leftover temp files")
}

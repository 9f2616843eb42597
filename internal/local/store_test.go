package local

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dxtools/dxsync/internal/authoring"
)

func newTestLocalStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(t.TempDir(), nil)
	require.NoError(t, err)

	return s
}

func TestOpen_SweepsOrphanedTempFiles(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "assets", "images")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	orphan := filepath.Join(dir, "hero.png.12345.dxtmp")
	keeper := filepath.Join(dir, "hero.png")
	require.NoError(t, os.WriteFile(orphan, []byte("partial"), 0o644))
	require.NoError(t, os.WriteFile(keeper, []byte("full"), 0o644))

	_, err := Open(root, nil)
	require.NoError(t, err)

	assert.NoFileExists(t, orphan)
	assert.FileExists(t, keeper)
}

func TestEnumerate_Assets(t *testing.T) {
	s := newTestLocalStore(t)

	require.NoError(t, os.MkdirAll(filepath.Join(s.Root(), "assets", "images"), 0o755))

	files := map[string]string{
		"assets/images/hero.png":       "png",
		"assets/images/hero.png.json":  `{"id":"a1"}`, // sidecar, skipped
		"assets/notes.txt":             "text",
		"assets/partial.bin.1.dxtmp":   "partial", // temp, skipped
		"assets/.metadata/hashes.json": "{}",      // metadata dir, skipped
	}

	for rel, content := range files {
		path := filepath.Join(s.Root(), filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	entries, err := s.Enumerate(authoring.KindAsset)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	paths := []string{entries[0].Path, entries[1].Path}
	assert.Contains(t, paths, "/images/hero.png")
	assert.Contains(t, paths, "/notes.txt")
}

func TestEnumerate_JSONKinds(t *testing.T) {
	s := newTestLocalStore(t)

	require.NoError(t, s.WriteMetadata(authoring.KindContent, "c1", json.RawMessage(`{"id":"c1"}`)))
	require.NoError(t, s.WriteMetadata(authoring.KindContent, "c2", json.RawMessage(`{"id":"c2"}`)))
	require.NoError(t, s.WriteMetadata(authoring.KindContentType, "t1", json.RawMessage(`{"id":"t1"}`)))

	entries, err := s.Enumerate(authoring.KindContent)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	ids := []string{entries[0].Path, entries[1].Path}
	assert.Contains(t, ids, "c1")
	assert.Contains(t, ids, "c2")
}

func TestEnumerate_MissingDirIsEmpty(t *testing.T) {
	s := newTestLocalStore(t)

	entries, err := s.Enumerate(authoring.KindLayout)
	require.NoError(t, err)
	assert.Empty(t, entries)

	entries, err = s.Enumerate(authoring.KindAsset)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMetadataRoundTrip(t *testing.T) {
	s := newTestLocalStore(t)

	doc := json.RawMessage(`{"id":"c1","name":"Article"}`)
	require.NoError(t, s.WriteMetadata(authoring.KindContent, "c1", doc))

	got, err := s.ReadMetadata(authoring.KindContent, "c1")
	require.NoError(t, err)
	assert.JSONEq(t, string(doc), string(got))

	_, err = s.ReadMetadata(authoring.KindContent, "missing")
	assert.Error(t, err)
}

func TestSidecarRoundTrip(t *testing.T) {
	s := newTestLocalStore(t)

	doc := json.RawMessage(`{"id":"a1","path":"/images/hero.png"}`)
	require.NoError(t, s.WriteSidecar("/images/hero.png", doc))

	got, err := s.ReadSidecar("/images/hero.png")
	require.NoError(t, err)
	assert.JSONEq(t, string(doc), string(got))
}

func TestWriteAtomic_LeavesNoTempOnSuccess(t *testing.T) {
	s := newTestLocalStore(t)

	require.NoError(t, s.WriteMetadata(authoring.KindContent, "c1", json.RawMessage(`{}`)))

	entries, err := os.ReadDir(filepath.Join(s.Root(), "content"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "c1.json", entries[0].Name())
}

func TestPendingFile_Commit(t *testing.T) {
	s := newTestLocalStore(t)

	p, err := s.OpenWriteStream("/images/hero.png")
	require.NoError(t, err)

	_, err = p.Write([]byte("pngbytes"))
	require.NoError(t, err)
	require.NoError(t, p.Commit())

	data, err := os.ReadFile(s.AssetFilePath("/images/hero.png"))
	require.NoError(t, err)
	assert.Equal(t, "pngbytes", string(data))
}

func TestPendingFile_AbortPreservesPrevious(t *testing.T) {
	s := newTestLocalStore(t)

	// Existing committed content.
	p, err := s.OpenWriteStream("/a.txt")
	require.NoError(t, err)
	_, _ = p.Write([]byte("old"))
	require.NoError(t, p.Commit())

	// A failed transfer aborts; the old bytes survive.
	p2, err := s.OpenWriteStream("/a.txt")
	require.NoError(t, err)
	_, _ = p2.Write([]byte("new-partial"))
	p2.Abort()

	data, err := os.ReadFile(s.AssetFilePath("/a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))

	// And the temp file is gone.
	entries, err := os.ReadDir(filepath.Join(s.Root(), "assets"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestOpenWriteStream_RejectsInvalidPath(t *testing.T) {
	s := newTestLocalStore(t)

	_, err := s.OpenWriteStream("/../../escape.txt")
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, err = s.OpenWriteStream("http://evil.example/x")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestRemoveAndExists(t *testing.T) {
	s := newTestLocalStore(t)

	p, err := s.OpenWriteStream("/a.txt")
	require.NoError(t, err)
	_, _ = p.Write([]byte("x"))
	require.NoError(t, p.Commit())

	assert.True(t, s.Exists("/a.txt"))
	require.NoError(t, s.Remove(s.AssetFilePath("/a.txt")))
	assert.False(t, s.Exists("/a.txt"))

	// Removing an absent file is not an error.
	require.NoError(t, s.Remove(s.AssetFilePath("/a.txt")))
}

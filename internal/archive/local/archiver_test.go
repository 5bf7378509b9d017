package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutObjectWritesFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	archiver, err := New(Config{BaseDir: dir})
	require.NoError(t, err)

	uri, err := archiver.PutObject(context.Background(), "payloads/politician/P1/bio/1.json",
		"application/json", []byte(`"a bio"`))
	require.NoError(t, err)
	require.Equal(t, "file://"+filepath.Join(dir, "payloads/politician/P1/bio/1.json"), uri)

	data, err := os.ReadFile(filepath.Join(dir, "payloads/politician/P1/bio/1.json"))
	require.NoError(t, err)
	require.Equal(t, `"a bio"`, string(data))
}

func TestPutObjectRejectsPathTraversal(t *testing.T) {
	t.Parallel()

	archiver, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = archiver.PutObject(context.Background(), "../escape.json", "application/json", []byte("{}"))
	require.Error(t, err)
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	archiver, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = archiver.PutObject(context.Background(), "  ", "application/json", []byte("{}"))
	require.Error(t, err)
}

func TestNewCreatesMissingBaseDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "archive")
	_, err := New(Config{BaseDir: dir})
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestNewRequiresBaseDir(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}

package fsutil

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryFileSystem(t *testing.T) {
	t.Parallel()

	t.Run("write then read", func(t *testing.T) {
		t.Parallel()
		m := NewMemoryFileSystem()
		require.NoError(t, m.WriteFile("/data/a.json", []byte(`{}`), 0o644))
		got, err := m.ReadFile("/data/./a.json")
		require.NoError(t, err)
		assert.Equal(t, []byte(`{}`), got)

		got[0] = 'x'
		again, _ := m.ReadFile("/data/a.json")
		assert.Equal(t, byte('{'), again[0])
	})

	t.Run("open streams the content", func(t *testing.T) {
		t.Parallel()
		m := NewMemoryFileSystem()
		require.NoError(t, m.WriteFile("f.bin", []byte("abc"), 0o644))
		f, err := m.Open("f.bin")
		require.NoError(t, err)
		defer f.Close()
		b, err := io.ReadAll(f)
		require.NoError(t, err)
		assert.Equal(t, "abc", string(b))
		info, err := f.Stat()
		require.NoError(t, err)
		assert.EqualValues(t, 3, info.Size())
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		m := NewMemoryFileSystem()
		_, err := m.Open("nope")
		assert.True(t, errors.Is(err, fs.ErrNotExist))
		_, err = m.Stat("nope")
		assert.True(t, errors.Is(err, fs.ErrNotExist))
	})

	t.Run("directories", func(t *testing.T) {
		t.Parallel()
		m := NewMemoryFileSystem()
		require.NoError(t, m.MkdirAll("/out/plots", 0o755))
		info, err := m.Stat("/out")
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("glob is sorted", func(t *testing.T) {
		t.Parallel()
		m := NewMemoryFileSystem()
		for _, n := range []string{"raw/t02.tif", "raw/t00.tif", "raw/t01.tif", "pred/t00.tif"} {
			require.NoError(t, m.WriteFile(n, nil, 0o644))
		}
		got, err := m.Glob("raw/*.tif")
		require.NoError(t, err)
		assert.Equal(t, []string{"raw/t00.tif", "raw/t01.tif", "raw/t02.tif"}, got)

		_, err = m.Glob("[")
		assert.Error(t, err)
	})
}

func TestOSFileSystem(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	var fsys FileSystem = OSFileSystem{}

	require.NoError(t, fsys.MkdirAll(filepath.Join(dir, "a", "b"), 0o755))
	name := filepath.Join(dir, "a", "b", "x.txt")
	require.NoError(t, fsys.WriteFile(name, []byte("hi"), 0o644))

	got, err := fsys.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(got))

	matches, err := fsys.Glob(filepath.Join(dir, "a", "b", "*.txt"))
	require.NoError(t, err)
	assert.Equal(t, []string{name}, matches)

	_, err = fsys.Stat(filepath.Join(dir, "missing"))
	assert.True(t, os.IsNotExist(err))
}

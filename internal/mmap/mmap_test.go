package mmap

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	t.Run("ReadAt", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "data")
		require.NoError(t, os.WriteFile(path, []byte("hello mapped world"), 0600))

		m, err := Open(path)
		require.NoError(t, err)
		defer m.Close()

		buf := make([]byte, 6)
		n, err := m.ReadAt(buf, 6)
		require.NoError(t, err)
		assert.Equal(t, 6, n)
		assert.Equal(t, "mapped", string(buf))
	})

	t.Run("ShortReadAtEnd", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "data")
		require.NoError(t, os.WriteFile(path, []byte("abc"), 0600))

		m, err := Open(path)
		require.NoError(t, err)
		defer m.Close()

		buf := make([]byte, 8)
		n, err := m.ReadAt(buf, 1)
		assert.Equal(t, 2, n)
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("SeesExternalWrites", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "data")
		require.NoError(t, os.WriteFile(path, make([]byte, 4096), 0600))

		m, err := Open(path)
		require.NoError(t, err)
		defer m.Close()

		f, err := os.OpenFile(path, os.O_WRONLY, 0)
		require.NoError(t, err)
		defer f.Close()
		_, err = f.WriteAt([]byte{0x42}, 100)
		require.NoError(t, err)

		buf := make([]byte, 1)
		_, err = m.ReadAt(buf, 100)
		require.NoError(t, err)
		assert.Equal(t, byte(0x42), buf[0])
	})

	t.Run("EmptyFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "data")
		require.NoError(t, os.WriteFile(path, nil, 0600))

		m, err := Open(path)
		require.NoError(t, err)
		defer m.Close()

		_, err = m.ReadAt(make([]byte, 1), 0)
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := Open(filepath.Join(t.TempDir(), "nope"))
		require.Error(t, err)
	})

	t.Run("DoubleClose", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "data")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0600))

		m, err := Open(path)
		require.NoError(t, err)
		require.NoError(t, m.Close())
		require.NoError(t, m.Close())
	})
}

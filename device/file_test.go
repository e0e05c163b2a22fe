package device

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFile(t *testing.T) {
	t.Run("CreateAndRoundTrip", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "image.bin")

		d, err := OpenFile(path, 32, 512)
		require.NoError(t, err)
		defer d.Close()

		assert.Equal(t, uint32(32), d.BlockCount())

		fi, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, int64(32*512), fi.Size())

		data := bytes.Repeat([]byte{0x5A}, 2*512)
		require.NoError(t, d.WriteBlocks(10, 2, data))

		got := make([]byte, len(data))
		require.NoError(t, d.ReadBlocks(10, 2, got))
		assert.Equal(t, data, got)
	})

	t.Run("ReopenDerivesGeometry", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "image.bin")

		d, err := OpenFile(path, 16, 512)
		require.NoError(t, err)
		want := bytes.Repeat([]byte{0xC3}, 512)
		require.NoError(t, d.WriteBlocks(7, 1, want))
		require.NoError(t, d.Close())

		// blockCount 0: size comes from the file.
		d, err = OpenFile(path, 0, 512)
		require.NoError(t, err)
		defer d.Close()

		assert.Equal(t, uint32(16), d.BlockCount())
		got := make([]byte, 512)
		require.NoError(t, d.ReadBlocks(7, 1, got))
		assert.Equal(t, want, got)
	})

	t.Run("RejectsRaggedImage", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "image.bin")
		require.NoError(t, os.WriteFile(path, make([]byte, 1000), 0600))

		_, err := OpenFile(path, 0, 512)
		require.Error(t, err)
	})

	t.Run("RejectsEmptyImageWithoutGeometry", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "image.bin")
		_, err := OpenFile(path, 0, 512)
		require.Error(t, err)
	})

	t.Run("Erase", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "image.bin")

		d, err := OpenFile(path, 8, 512)
		require.NoError(t, err)
		defer d.Close()

		require.NoError(t, d.WriteBlocks(3, 1, bytes.Repeat([]byte{1}, 512)))
		require.NoError(t, d.EraseBlocks(3, 1))

		got := make([]byte, 512)
		require.NoError(t, d.ReadBlocks(3, 1, got))
		assert.Equal(t, bytes.Repeat([]byte{0xFF}, 512), got)
	})

	t.Run("OutOfRange", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "image.bin")

		d, err := OpenFile(path, 8, 512)
		require.NoError(t, err)
		defer d.Close()

		require.ErrorIs(t, d.ReadBlocks(8, 1, make([]byte, 512)), ErrOutOfRange)
		require.ErrorIs(t, d.WriteBlocks(0, 9, make([]byte, 9*512)), ErrOutOfRange)
	})

	t.Run("Sync", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "image.bin")

		d, err := OpenFile(path, 4, 512)
		require.NoError(t, err)
		defer d.Close()

		require.NoError(t, d.WriteBlocks(0, 1, bytes.Repeat([]byte{7}, 512)))
		require.NoError(t, d.Sync())
	})
}

package device

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMem(t *testing.T) {
	t.Run("Geometry", func(t *testing.T) {
		m, err := NewMem(64, 512)
		require.NoError(t, err)
		assert.Equal(t, uint32(64), m.BlockCount())
		assert.Equal(t, 512, m.BlockSize())
	})

	t.Run("InvalidGeometry", func(t *testing.T) {
		_, err := NewMem(0, 512)
		require.Error(t, err)
		_, err = NewMem(64, 0)
		require.Error(t, err)
	})

	t.Run("StartsErased", func(t *testing.T) {
		m, err := NewMem(4, 512)
		require.NoError(t, err)

		buf := make([]byte, 4*512)
		require.NoError(t, m.ReadBlocks(0, 4, buf))
		assert.Equal(t, bytes.Repeat([]byte{0xFF}, len(buf)), buf)
	})

	t.Run("RoundTrip", func(t *testing.T) {
		m, err := NewMem(16, 512)
		require.NoError(t, err)

		data := bytes.Repeat([]byte{0xAB}, 3*512)
		require.NoError(t, m.WriteBlocks(5, 3, data))

		got := make([]byte, len(data))
		require.NoError(t, m.ReadBlocks(5, 3, got))
		assert.Equal(t, data, got)
	})

	t.Run("Erase", func(t *testing.T) {
		m, err := NewMem(8, 512)
		require.NoError(t, err)

		require.NoError(t, m.WriteBlocks(2, 2, bytes.Repeat([]byte{1}, 2*512)))
		require.NoError(t, m.EraseBlocks(2, 1))

		got := make([]byte, 2*512)
		require.NoError(t, m.ReadBlocks(2, 2, got))
		assert.Equal(t, bytes.Repeat([]byte{0xFF}, 512), got[:512])
		assert.Equal(t, bytes.Repeat([]byte{1}, 512), got[512:])
	})

	t.Run("OutOfRange", func(t *testing.T) {
		m, err := NewMem(8, 512)
		require.NoError(t, err)

		buf := make([]byte, 512)
		require.ErrorIs(t, m.ReadBlocks(8, 1, buf), ErrOutOfRange)
		require.ErrorIs(t, m.WriteBlocks(7, 2, make([]byte, 2*512)), ErrOutOfRange)
		require.ErrorIs(t, m.EraseBlocks(100, 1), ErrOutOfRange)
	})

	t.Run("BadBuffer", func(t *testing.T) {
		m, err := NewMem(8, 512)
		require.NoError(t, err)
		require.Error(t, m.ReadBlocks(0, 1, make([]byte, 100)))
		require.Error(t, m.WriteBlocks(0, 2, make([]byte, 512)))
	})
}

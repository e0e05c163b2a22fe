package blockstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const blockSize = 64

func fill(b byte) []byte {
	data := make([]byte, blockSize)
	for i := range data {
		data[i] = b
	}
	return data
}

func lruOrder(s *Store) []uint32 {
	var order []uint32
	s.ScanLRU(func(num uint32, _ bool) bool {
		order = append(order, num)
		return true
	})
	return order
}

func TestStoreInsert(t *testing.T) {
	t.Run("CopiesData", func(t *testing.T) {
		s := New(4, blockSize)
		data := fill(1)
		require.NoError(t, s.Insert(10, data, false))

		data[0] = 0xAA
		b, ok := s.Lookup(10)
		require.True(t, ok)
		assert.Equal(t, byte(1), b.Data[0], "store must own its buffer")
	})

	t.Run("RejectsDuplicate", func(t *testing.T) {
		s := New(4, blockSize)
		require.NoError(t, s.Insert(10, fill(1), false))
		require.Error(t, s.Insert(10, fill(2), false))
	})

	t.Run("RejectsWhenFull", func(t *testing.T) {
		s := New(2, blockSize)
		require.NoError(t, s.Insert(1, fill(1), false))
		require.NoError(t, s.Insert(2, fill(2), false))
		require.Error(t, s.Insert(3, fill(3), false))
	})

	t.Run("RejectsWrongSize", func(t *testing.T) {
		s := New(4, blockSize)
		require.Error(t, s.Insert(1, make([]byte, blockSize-1), false))
	})
}

func TestStoreRecency(t *testing.T) {
	s := New(4, blockSize)
	for _, num := range []uint32{1, 2, 3} {
		require.NoError(t, s.Insert(num, fill(byte(num)), false))
	}
	assert.Equal(t, []uint32{1, 2, 3}, lruOrder(s))

	// Lookup promotes.
	_, ok := s.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, []uint32{2, 3, 1}, lruOrder(s))

	// Peek and Contains do not.
	_, ok = s.Peek(2)
	require.True(t, ok)
	assert.True(t, s.Contains(2))
	assert.Equal(t, []uint32{2, 3, 1}, lruOrder(s))

	// Missed lookups have no side effect.
	_, ok = s.Lookup(99)
	assert.False(t, ok)
	assert.Equal(t, []uint32{2, 3, 1}, lruOrder(s))
}

func TestStoreDirty(t *testing.T) {
	t.Run("Tracking", func(t *testing.T) {
		s := New(8, blockSize)
		require.NoError(t, s.Insert(5, fill(5), true))
		require.NoError(t, s.Insert(6, fill(6), false))

		assert.True(t, s.IsDirty(5))
		assert.False(t, s.IsDirty(6))
		assert.Equal(t, 1, s.DirtyCount())

		require.NoError(t, s.MarkDirty(6))
		assert.Equal(t, 2, s.DirtyCount())

		s.MarkClean(5)
		assert.False(t, s.IsDirty(5))
		assert.Equal(t, 1, s.DirtyCount())
	})

	t.Run("MarkDirtyAbsent", func(t *testing.T) {
		s := New(2, blockSize)
		require.Error(t, s.MarkDirty(42))
	})

	t.Run("SnapshotAscending", func(t *testing.T) {
		s := New(8, blockSize)
		// Insert out of order; the snapshot must come back sorted.
		for _, num := range []uint32{30, 7, 100, 8} {
			require.NoError(t, s.Insert(num, fill(byte(num)), true))
		}
		require.NoError(t, s.Insert(50, fill(50), false))

		var nums []uint32
		for _, b := range s.Dirty() {
			nums = append(nums, b.Number)
		}
		assert.Equal(t, []uint32{7, 8, 30, 100}, nums)
	})
}

func TestStoreRemove(t *testing.T) {
	t.Run("ClearsDirtyState", func(t *testing.T) {
		s := New(4, blockSize)
		require.NoError(t, s.Insert(10, fill(1), true))

		assert.True(t, s.Remove(10))
		assert.False(t, s.Contains(10))
		assert.Zero(t, s.DirtyCount())
		assert.Zero(t, s.Len())

		assert.False(t, s.Remove(10))
	})

	t.Run("Range", func(t *testing.T) {
		s := New(8, blockSize)
		for _, num := range []uint32{5, 6, 7, 20, 21} {
			require.NoError(t, s.Insert(num, fill(byte(num)), num%2 == 0))
		}

		assert.Equal(t, 3, s.RemoveRange(5, 8))
		assert.Equal(t, 2, s.Len())
		assert.True(t, s.Contains(20))
		assert.True(t, s.Contains(21))

		// Ranges wider than the resident set walk the map instead.
		assert.Equal(t, 2, s.RemoveRange(0, 1<<20))
		assert.Zero(t, s.Len())
	})

	t.Run("EmptyRange", func(t *testing.T) {
		s := New(4, blockSize)
		require.NoError(t, s.Insert(3, fill(3), false))
		assert.Zero(t, s.RemoveRange(5, 5))
		assert.Zero(t, s.RemoveRange(7, 5))
		assert.Equal(t, 1, s.Len())
	})
}

func TestStoreBufferRecycling(t *testing.T) {
	s := New(2, blockSize)
	require.NoError(t, s.Insert(1, fill(1), false))

	b, ok := s.Peek(1)
	require.True(t, ok)
	old := &b.Data[0]

	require.True(t, s.Remove(1))
	require.NoError(t, s.Insert(2, fill(2), false))

	b2, ok := s.Peek(2)
	require.True(t, ok)
	assert.Same(t, old, &b2.Data[0], "removed buffers are reused")
}

func TestStoreScanLRUEarlyStop(t *testing.T) {
	s := New(8, blockSize)
	for _, num := range []uint32{1, 2, 3, 4} {
		require.NoError(t, s.Insert(num, fill(byte(num)), false))
	}

	var visited []uint32
	s.ScanLRU(func(num uint32, _ bool) bool {
		visited = append(visited, num)
		return len(visited) < 2
	})
	assert.Equal(t, []uint32{1, 2}, visited)
}

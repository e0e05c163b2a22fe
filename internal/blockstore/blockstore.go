// Package blockstore implements the fixed-capacity, recency-ordered block
// container underlying the cache. It holds block buffers and dirty state and
// performs no device I/O; admission and eviction decisions belong to the
// caller.
package blockstore

import (
	"container/list"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
)

// Block is one cached device block. Data is owned by the store slot holding
// it and is always fully valid for Number; dirty state is tracked by the
// Store, not on the block itself.
type Block struct {
	Number uint32
	Data   []byte
}

// Store maps block numbers to resident blocks, capacity bounded, with
// promote-on-access recency ordering. The dirty set is kept in a roaring
// bitmap so the ascending-order snapshot used for write-back grouping and
// range invalidation are index operations rather than scans.
//
// Not safe for concurrent use; the cache serializes access.
type Store struct {
	capacity  int
	blockSize int

	items   map[uint32]*list.Element // block number -> recency element
	recency *list.List               // Front = most recently used
	dirty   *roaring.Bitmap

	// Recycled block buffers from removed slots. Bounded by capacity, so
	// steady-state operation allocates nothing.
	free [][]byte
}

// New creates a Store holding at most capacity blocks of blockSize bytes.
func New(capacity, blockSize int) *Store {
	return &Store{
		capacity:  capacity,
		blockSize: blockSize,
		items:     make(map[uint32]*list.Element, capacity),
		recency:   list.New(),
		dirty:     roaring.New(),
	}
}

// Len returns the number of resident blocks.
func (s *Store) Len() int { return s.recency.Len() }

// Cap returns the configured capacity in blocks.
func (s *Store) Cap() int { return s.capacity }

// BlockSize returns the block size in bytes.
func (s *Store) BlockSize() int { return s.blockSize }

// Contains reports residency without touching recency order.
func (s *Store) Contains(num uint32) bool {
	_, ok := s.items[num]
	return ok
}

// Lookup returns the resident block for num and promotes it to most
// recently used. It has no side effect on a miss.
func (s *Store) Lookup(num uint32) (*Block, bool) {
	el, ok := s.items[num]
	if !ok {
		return nil, false
	}
	s.recency.MoveToFront(el)
	return el.Value.(*Block), true
}

// Peek returns the resident block for num without touching recency order.
func (s *Store) Peek(num uint32) (*Block, bool) {
	el, ok := s.items[num]
	if !ok {
		return nil, false
	}
	return el.Value.(*Block), true
}

// Insert admits a new block as most recently used, copying data into a
// store-owned buffer. The caller must have freed a slot first; inserting
// into a full store or over an existing number is an internal error.
func (s *Store) Insert(num uint32, data []byte, dirty bool) error {
	if _, ok := s.items[num]; ok {
		return fmt.Errorf("blockstore: block %d already resident", num)
	}
	if s.recency.Len() >= s.capacity {
		return fmt.Errorf("blockstore: store full (%d blocks)", s.capacity)
	}
	if len(data) != s.blockSize {
		return fmt.Errorf("blockstore: block %d data is %d bytes, want %d", num, len(data), s.blockSize)
	}

	buf := s.allocBuffer()
	copy(buf, data)

	b := &Block{Number: num, Data: buf}
	s.items[num] = s.recency.PushFront(b)
	if dirty {
		s.dirty.Add(num)
	}
	return nil
}

// MarkDirty flags a resident block as modified. Marking an absent block is
// an internal error.
func (s *Store) MarkDirty(num uint32) error {
	if _, ok := s.items[num]; !ok {
		return fmt.Errorf("blockstore: mark dirty on absent block %d", num)
	}
	s.dirty.Add(num)
	return nil
}

// MarkClean clears the dirty flag after a successful write-back.
func (s *Store) MarkClean(num uint32) {
	s.dirty.Remove(num)
}

// IsDirty reports whether a block is resident and modified.
func (s *Store) IsDirty(num uint32) bool {
	return s.dirty.Contains(num)
}

// DirtyCount returns the number of dirty resident blocks.
func (s *Store) DirtyCount() int {
	return int(s.dirty.GetCardinality())
}

// Dirty returns the dirty blocks ordered by ascending block number, the
// order required for grouping contiguous write-back runs.
func (s *Store) Dirty() []*Block {
	out := make([]*Block, 0, s.dirty.GetCardinality())
	it := s.dirty.Iterator()
	for it.HasNext() {
		num := it.Next()
		el, ok := s.items[num]
		if !ok {
			// The dirty set is maintained alongside items; divergence
			// would be a store bug.
			continue
		}
		out = append(out, el.Value.(*Block))
	}
	return out
}

// Remove drops a block unconditionally, dirty or not, and recycles its
// buffer. Returns false if the block was not resident.
func (s *Store) Remove(num uint32) bool {
	el, ok := s.items[num]
	if !ok {
		return false
	}
	b := s.recency.Remove(el).(*Block)
	delete(s.items, num)
	s.dirty.Remove(num)
	s.free = append(s.free, b.Data)
	b.Data = nil
	return true
}

// RemoveRange drops every resident block in [start, end) and returns how
// many were removed. Used for erase invalidation.
func (s *Store) RemoveRange(start, end uint32) int {
	removed := 0
	for num := range s.rangeMembers(start, end) {
		if s.Remove(num) {
			removed++
		}
	}
	return removed
}

func (s *Store) rangeMembers(start, end uint32) map[uint32]struct{} {
	members := make(map[uint32]struct{})
	if end <= start {
		return members
	}
	span := uint64(end - start)
	if span < uint64(len(s.items)) {
		for num := start; num < end; num++ {
			if _, ok := s.items[num]; ok {
				members[num] = struct{}{}
			}
		}
	} else {
		for num := range s.items {
			if num >= start && num < end {
				members[num] = struct{}{}
			}
		}
	}
	return members
}

// ScanLRU visits resident blocks from least to most recently used, stopping
// early if fn returns false. Visiting does not promote.
func (s *Store) ScanLRU(fn func(num uint32, dirty bool) bool) {
	for el := s.recency.Back(); el != nil; el = el.Prev() {
		b := el.Value.(*Block)
		if !fn(b.Number, s.dirty.Contains(b.Number)) {
			return
		}
	}
}

func (s *Store) allocBuffer() []byte {
	if n := len(s.free); n > 0 {
		buf := s.free[n-1]
		s.free = s.free[:n-1]
		return buf
	}
	return make([]byte, s.blockSize)
}

package blockcache

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/blockcache/device"
	"github.com/hupe1980/blockcache/internal/blockstore"
)

// Cache is a write-back block cache over a fixed-geometry Device. It absorbs
// small and misaligned accesses in memory, batches device traffic into
// aligned contiguous transfers, and guarantees that cached modifications
// reach the device on Sync (or eviction).
//
// All entry points are serialized by a single mutex; the cache is built for
// one logical caller (a filesystem layer) and makes no attempt at
// fine-grained concurrency. Internally a write may trigger eviction, which
// triggers a write-back, which performs device writes; that nesting is a
// plain call stack on the caller's goroutine.
type Cache struct {
	mu  sync.Mutex
	dev device.Device

	store   *blockstore.Store
	policy  EvictionPolicy
	logger  *Logger
	metrics MetricsCollector

	blockSize  int
	blockCount uint32
	readAhead  int

	// Scratch for read-ahead device fetches, sized readAhead blocks.
	readBuf []byte

	closed bool
}

// New creates a Cache in front of dev. The configuration is immutable for
// the cache lifetime; see the With* options for knobs.
func New(dev device.Device, optFns ...Option) (*Cache, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	blockSize := dev.BlockSize()
	blockCount := dev.BlockCount()
	if blockSize <= 0 || blockCount == 0 {
		return nil, fmt.Errorf("blockcache: device reports invalid geometry %d x %d", blockCount, blockSize)
	}

	return &Cache{
		dev:        dev,
		store:      blockstore.New(opts.cacheSize, blockSize),
		policy:     opts.policy,
		logger:     opts.logger,
		metrics:    opts.metrics,
		blockSize:  blockSize,
		blockCount: blockCount,
		readAhead:  opts.readAhead,
		readBuf:    make([]byte, opts.readAhead*blockSize),
	}, nil
}

// BlockSize returns the device block size in bytes.
func (c *Cache) BlockSize() int { return c.blockSize }

// BlockCount returns the number of addressable device blocks.
func (c *Cache) BlockCount() uint32 { return c.blockCount }

// Size returns the device capacity in bytes.
func (c *Cache) Size() int64 { return int64(c.blockCount) * int64(c.blockSize) }

// Resident returns the number of blocks currently cached.
func (c *Cache) Resident() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Len()
}

// DirtyBlocks returns the number of cached blocks awaiting write-back.
func (c *Cache) DirtyBlocks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.DirtyCount()
}

// ReadAt reads len(p) bytes from byte offset off, through the cache. On
// success p is fully populated; on error n reports how many leading bytes
// were filled before the failing block. Implements io.ReaderAt semantics for
// in-range requests; requests beyond the device fail with ErrOutOfRange
// before any device I/O.
func (c *Cache) ReadAt(p []byte, off int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, ErrClosed
	}
	if err := c.checkByteRange(off, len(p)); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}

	bs := int64(c.blockSize)
	first := uint32(off / bs)
	last := uint32((off + int64(len(p)) - 1) / bs)

	n := 0
	for num := first; ; num++ {
		b, err := c.getBlock(num)
		if err != nil {
			return n, err
		}

		blkStart := int64(num) * bs
		from := max(off, blkStart)
		to := min(blkStart+bs, off+int64(len(p)))
		n += copy(p[from-off:to-off], b.Data[from-blkStart:to-blkStart])

		if num == last {
			break
		}
	}
	return n, nil
}

// WriteAt writes len(p) bytes at byte offset off, through the cache. Blocks
// fully covered by p are overwritten without a prior device read; boundary
// blocks are read-modify-write. Data is buffered dirty in memory until Sync
// or eviction writes it back. n reports bytes absorbed before any failure.
func (c *Cache) WriteAt(p []byte, off int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, ErrClosed
	}
	if err := c.checkByteRange(off, len(p)); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}

	bs := int64(c.blockSize)
	first := uint32(off / bs)
	last := uint32((off + int64(len(p)) - 1) / bs)

	n := 0
	for num := first; ; num++ {
		blkStart := int64(num) * bs
		from := max(off, blkStart)
		to := min(blkStart+bs, off+int64(len(p)))

		if to-from == bs {
			// Full coverage: no device fetch needed.
			if err := c.putBlock(num, p[from-off:to-off]); err != nil {
				return n, err
			}
		} else {
			// Boundary block: read-modify-write.
			b, err := c.getBlock(num)
			if err != nil {
				return n, err
			}
			copy(b.Data[from-blkStart:to-blkStart], p[from-off:to-off])
			if err := c.store.MarkDirty(num); err != nil {
				return n, fmt.Errorf("%w: %v", ErrInternal, err)
			}
		}
		n += int(to - from)

		if num == last {
			break
		}
	}
	return n, nil
}

// ReadBlocks reads whole blocks starting at blockNum. p must be a multiple
// of the block size. Callers that work in byte offsets should use ReadAt
// instead.
func (c *Cache) ReadBlocks(blockNum uint32, p []byte) error {
	if len(p)%c.blockSize != 0 {
		return fmt.Errorf("blockcache: buffer of %d bytes is not a multiple of block size %d", len(p), c.blockSize)
	}
	_, err := c.ReadAt(p, int64(blockNum)*int64(c.blockSize))
	return err
}

// WriteBlocks writes whole blocks starting at blockNum. p must be a multiple
// of the block size.
func (c *Cache) WriteBlocks(blockNum uint32, p []byte) error {
	if len(p)%c.blockSize != 0 {
		return fmt.Errorf("blockcache: buffer of %d bytes is not a multiple of block size %d", len(p), c.blockSize)
	}
	_, err := c.WriteAt(p, int64(blockNum)*int64(c.blockSize))
	return err
}

// Sync writes every dirty block back to the device, coalescing contiguous
// block numbers into single multi-block transfers. On a failed transfer the
// blocks of that run and all later runs stay dirty and the error is
// returned; completed runs are not rolled back. Calling Sync again retries
// exactly the still-dirty set.
func (c *Cache) Sync() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	return c.syncLocked()
}

// Erase invalidates count blocks starting at start: any cached copies are
// dropped (dirty ones included, since their content is void once erased) and
// the erase is forwarded to the device when it supports erasure. A later
// read of the range fetches fresh device content.
func (c *Cache) Erase(start uint32, count int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if err := c.checkBlockRange(start, count); err != nil {
		return err
	}

	removed := c.store.RemoveRange(start, start+uint32(count))
	c.logger.Debug("erase", "start", start, "count", count, "invalidated", removed)

	if er, ok := c.dev.(device.Eraser); ok {
		if err := er.EraseBlocks(start, count); err != nil {
			return fmt.Errorf("blockcache: erase blocks [%d,%d): %w", start, int(start)+count, err)
		}
	}
	return nil
}

// Close syncs all dirty blocks and marks the cache closed. It does not close
// the underlying device. Closing an already-closed cache is a no-op.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	err := c.syncLocked()
	if err == nil {
		c.closed = true
	}
	return err
}

// getBlock returns the cached block for num, fetching (and possibly
// prefetching) from the device on a miss. Caller holds c.mu and has
// validated num against the geometry.
func (c *Cache) getBlock(num uint32) (*blockstore.Block, error) {
	if b, ok := c.store.Lookup(num); ok {
		c.metrics.RecordHit()
		return b, nil
	}
	c.metrics.RecordMiss()

	ra := c.readAhead
	if ra > 1 {
		if rest := c.blockCount - num; uint32(ra) > rest {
			ra = int(rest)
		}
		// Skip prefetch when part of the window is already resident; the
		// device run would refetch blocks we hold, possibly dirty ones.
		for i := 1; i < ra; i++ {
			if c.store.Contains(num + uint32(i)) {
				ra = 1
				break
			}
		}
	}

	if err := c.ensureSlots(ra); err != nil {
		return nil, err
	}

	buf := c.readBuf[:ra*c.blockSize]
	if err := c.dev.ReadBlocks(num, ra, buf); err != nil {
		// Nothing was admitted; the store is untouched.
		return nil, fmt.Errorf("blockcache: read blocks [%d,%d): %w", num, int(num)+ra, err)
	}

	for i := 0; i < ra; i++ {
		chunk := buf[i*c.blockSize : (i+1)*c.blockSize]
		if err := c.store.Insert(num+uint32(i), chunk, false); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInternal, err)
		}
	}
	if ra > 1 {
		c.metrics.RecordReadAhead(ra)
		c.logger.LogReadAhead(num, ra)
	}

	b, ok := c.store.Lookup(num)
	if !ok {
		return nil, fmt.Errorf("%w: block %d not resident after admission", ErrInternal, num)
	}
	return b, nil
}

// putBlock overwrites a whole block with data, marking it dirty. Caller
// holds c.mu and has validated num.
func (c *Cache) putBlock(num uint32, data []byte) error {
	if b, ok := c.store.Lookup(num); ok {
		c.metrics.RecordHit()
		copy(b.Data, data)
		if err := c.store.MarkDirty(num); err != nil {
			return fmt.Errorf("%w: %v", ErrInternal, err)
		}
		return nil
	}

	c.metrics.RecordMiss()
	if err := c.ensureSlots(1); err != nil {
		return err
	}
	if err := c.store.Insert(num, data, true); err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return nil
}

// ensureSlots makes room for n new blocks, asking the eviction policy for
// victims and writing dirty victims back before their slots are reused.
func (c *Cache) ensureSlots(n int) error {
	free := c.store.Cap() - c.store.Len()
	if free >= n {
		return nil
	}
	need := n - free

	resident := make([]BlockInfo, 0, c.store.Len())
	c.store.ScanLRU(func(num uint32, dirty bool) bool {
		resident = append(resident, BlockInfo{Number: num, Dirty: dirty})
		return true
	})

	victims, err := c.policy.SelectVictims(need, resident)
	if err != nil {
		return fmt.Errorf("%w: eviction policy: %v", ErrInternal, err)
	}
	if err := c.validateVictims(victims, need); err != nil {
		return err
	}

	// Write dirty victims back first, ascending so contiguous victims
	// coalesce into single device writes.
	var dirty []*blockstore.Block
	for _, num := range victims {
		if c.store.IsDirty(num) {
			b, _ := c.store.Peek(num)
			dirty = append(dirty, b)
		}
	}
	if len(dirty) > 0 {
		sort.Slice(dirty, func(i, j int) bool { return dirty[i].Number < dirty[j].Number })
		if err := c.writeBack(dirty); err != nil {
			return err
		}
	}

	for _, num := range victims {
		c.store.Remove(num)
	}
	c.metrics.RecordEviction(len(victims), len(dirty))
	c.logger.LogEviction(victims, len(dirty))
	return nil
}

func (c *Cache) validateVictims(victims []uint32, want int) error {
	if len(victims) != want {
		return fmt.Errorf("%w: policy returned %d victims, want %d", ErrInternal, len(victims), want)
	}
	seen := make(map[uint32]struct{}, len(victims))
	for _, num := range victims {
		if _, dup := seen[num]; dup {
			return fmt.Errorf("%w: policy returned duplicate victim %d", ErrInternal, num)
		}
		seen[num] = struct{}{}
		if !c.store.Contains(num) {
			return fmt.Errorf("%w: policy returned non-resident victim %d", ErrInternal, num)
		}
	}
	return nil
}

// syncLocked flushes the full dirty set. Caller holds c.mu.
func (c *Cache) syncLocked() error {
	return c.writeBack(c.store.Dirty())
}

// writeBack flushes the given dirty blocks, which must be ordered by
// ascending block number. Contiguous runs become single multi-block device
// writes. Fail-fast: the first failed run aborts the pass with that run and
// all later runs still dirty; earlier runs stay written.
func (c *Cache) writeBack(blocks []*blockstore.Block) error {
	if len(blocks) == 0 {
		return nil
	}
	start := time.Now()

	runs := groupRuns(blocks)
	written := 0
	for _, run := range runs {
		buf := make([]byte, len(run)*c.blockSize)
		for i, b := range run {
			copy(buf[i*c.blockSize:], b.Data)
		}
		first := run[0].Number
		if err := c.dev.WriteBlocks(first, len(run), buf); err != nil {
			err = fmt.Errorf("blockcache: write blocks [%d,%d): %w", first, int(first)+len(run), err)
			c.metrics.RecordSync(len(runs), written, time.Since(start), err)
			c.logger.LogSync(len(runs), written, err)
			return err
		}
		for _, b := range run {
			c.store.MarkClean(b.Number)
		}
		written += len(run)
	}

	c.metrics.RecordSync(len(runs), written, time.Since(start), nil)
	c.logger.LogSync(len(runs), written, nil)
	return nil
}

// groupRuns splits ascending blocks into maximal contiguous runs.
func groupRuns(blocks []*blockstore.Block) [][]*blockstore.Block {
	if len(blocks) == 0 {
		return nil
	}
	runs := [][]*blockstore.Block{{blocks[0]}}
	for _, b := range blocks[1:] {
		last := runs[len(runs)-1]
		if b.Number == last[len(last)-1].Number+1 {
			runs[len(runs)-1] = append(last, b)
		} else {
			runs = append(runs, []*blockstore.Block{b})
		}
	}
	return runs
}

func (c *Cache) checkByteRange(off int64, length int) error {
	if off < 0 || length < 0 {
		return fmt.Errorf("%w: offset %d, length %d", ErrOutOfRange, off, length)
	}
	// Compared by subtraction: off near MaxInt64 must not overflow into a
	// negative sum that passes the check.
	if int64(length) > c.Size()-off {
		return fmt.Errorf("%w: offset %d, length %d on device of %d bytes", ErrOutOfRange, off, length, c.Size())
	}
	return nil
}

func (c *Cache) checkBlockRange(start uint32, count int) error {
	if count < 0 {
		return fmt.Errorf("%w: negative block count %d", ErrOutOfRange, count)
	}
	if uint64(start)+uint64(count) > uint64(c.blockCount) {
		return fmt.Errorf("%w: blocks [%d,%d) on device with %d blocks",
			ErrOutOfRange, start, uint64(start)+uint64(count), c.blockCount)
	}
	return nil
}

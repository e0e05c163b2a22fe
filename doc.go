// Package blockcache provides a write-back block cache between
// byte-addressable callers and block-addressable storage devices.
//
// Filesystems issue small, misaligned, often repeated reads and writes;
// block devices only move fixed-size aligned blocks and strongly prefer
// contiguous multi-block transfers over isolated single-block ones. The
// cache reconciles the two: it absorbs partial-block traffic in memory,
// tracks modified blocks, and writes them back coalesced into maximal
// contiguous runs.
//
// # Quick Start
//
//	dev, _ := device.OpenFile("disk.img", 32768, 512)
//	c, _ := blockcache.New(dev,
//	    blockcache.WithCacheSize(64),
//	    blockcache.WithReadAhead(8),
//	)
//	defer c.Close()
//
//	c.WriteAt(data, 1337)          // arbitrary offset and length
//	c.ReadAt(buf, 1024)
//	c.Sync()                       // dirty blocks hit the device here
//
// # Eviction
//
// When the cache is full the eviction policy picks victims. LRUC (the
// default) prefers clean blocks, since a dirty victim costs a device write
// before its slot is reusable; LRU ignores dirty state. Custom policies
// plug in via EvictionPolicyFunc. A dirty block is never dropped without
// being written back first, whatever the policy returns.
//
// # Durability
//
// Writes are buffered dirty in memory until Sync, Close or eviction. An
// unflushed block lost to power failure is the accepted trade-off of
// write-back caching; larger caches and read-ahead widen that window. Sync
// after anything that must survive.
//
// # Devices
//
// The device package defines the Device interface and ships backends for
// memory, local files (mmap reads), object storage (device/minio,
// device/s3), plus throttling and fault-injection wrappers and compressed
// image snapshots.
package blockcache

// Package device defines the block device abstraction consumed by the cache
// and provides adapters for common backends: in-memory, local file, throttled
// and fault-injecting wrappers, and compressed image snapshots. Object
// storage backends live in the minio and s3 subpackages.
package device

import (
	"errors"
	"fmt"
)

// ErrOutOfRange is returned when a block range falls outside the device
// geometry.
var ErrOutOfRange = errors.New("device: block range out of bounds")

// Device is a fixed-geometry block device. Transfers are block aligned and
// sized in whole blocks; contiguous multi-block transfers are assumed to be
// cheaper per block than isolated single-block ones, which is what the cache
// optimizes for.
//
// Geometry is fixed for the device lifetime. Implementations are called from
// a single goroutine at a time by the cache and may block for the full
// duration of the transfer.
type Device interface {
	// ReadBlocks reads count contiguous blocks starting at start into p,
	// which must be exactly count*BlockSize() bytes.
	ReadBlocks(start uint32, count int, p []byte) error

	// WriteBlocks writes count contiguous blocks starting at start from p,
	// which must be exactly count*BlockSize() bytes.
	WriteBlocks(start uint32, count int, p []byte) error

	// BlockCount returns the number of addressable blocks.
	BlockCount() uint32

	// BlockSize returns the block size in bytes.
	BlockSize() int
}

// Eraser is an optional interface for devices whose media distinguishes an
// erased state (e.g. flash). Erased blocks read back as 0xFF.
type Eraser interface {
	// EraseBlocks erases count contiguous blocks starting at start.
	EraseBlocks(start uint32, count int) error
}

// CheckRange validates a block range against a device geometry.
func CheckRange(dev Device, start uint32, count int) error {
	if count < 0 {
		return fmt.Errorf("%w: negative count %d", ErrOutOfRange, count)
	}
	total := uint64(dev.BlockCount())
	if uint64(start)+uint64(count) > total {
		return fmt.Errorf("%w: blocks [%d,%d) on device with %d blocks",
			ErrOutOfRange, start, uint64(start)+uint64(count), total)
	}
	return nil
}

func checkBuffer(dev Device, count int, p []byte) error {
	if want := count * dev.BlockSize(); len(p) != want {
		return fmt.Errorf("device: buffer is %d bytes, want %d", len(p), want)
	}
	return nil
}

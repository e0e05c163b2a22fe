package device

import (
	"fmt"
	"os"

	"github.com/hupe1980/blockcache/internal/mmap"
)

// File is a Device backed by a local image file. Reads go through a shared
// read-only memory mapping when the platform supports it, falling back to
// pread; writes use pwrite on the same file, which the mapping observes.
type File struct {
	f          *os.File
	m          *mmap.File // nil when mapping is unavailable
	blockSize  int
	blockCount uint32
}

// OpenFile opens or creates a device image at path. If blockCount is zero
// the geometry is derived from the existing file size, which must be a
// whole number of blocks; otherwise the file is extended to
// blockCount*blockSize bytes.
func OpenFile(path string, blockCount uint32, blockSize int) (*File, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("device: invalid block size %d", blockSize)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("device: open image: %w", err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("device: stat image: %w", err)
	}

	if blockCount == 0 {
		if fi.Size()%int64(blockSize) != 0 {
			f.Close()
			return nil, fmt.Errorf("device: image size %d is not a multiple of block size %d", fi.Size(), blockSize)
		}
		blockCount = uint32(fi.Size() / int64(blockSize))
		if blockCount == 0 {
			f.Close()
			return nil, fmt.Errorf("device: empty image and no geometry given")
		}
	} else if want := int64(blockCount) * int64(blockSize); fi.Size() != want {
		if err := f.Truncate(want); err != nil {
			f.Close()
			return nil, fmt.Errorf("device: size image to %d bytes: %w", want, err)
		}
	}

	d := &File{
		f:          f,
		blockSize:  blockSize,
		blockCount: blockCount,
	}

	// Mapping failures (exotic filesystems, platform limits) are not
	// fatal; reads fall back to pread.
	if m, err := mmap.Open(path); err == nil {
		d.m = m
	}

	return d, nil
}

// BlockCount returns the number of addressable blocks.
func (d *File) BlockCount() uint32 { return d.blockCount }

// BlockSize returns the block size in bytes.
func (d *File) BlockSize() int { return d.blockSize }

// ReadBlocks implements Device.
func (d *File) ReadBlocks(start uint32, count int, p []byte) error {
	if err := CheckRange(d, start, count); err != nil {
		return err
	}
	if err := checkBuffer(d, count, p); err != nil {
		return err
	}
	off := int64(start) * int64(d.blockSize)
	if d.m != nil {
		if _, err := d.m.ReadAt(p, off); err != nil {
			return fmt.Errorf("device: read blocks [%d,%d): %w", start, int(start)+count, err)
		}
		return nil
	}
	if _, err := d.f.ReadAt(p, off); err != nil {
		return fmt.Errorf("device: read blocks [%d,%d): %w", start, int(start)+count, err)
	}
	return nil
}

// WriteBlocks implements Device.
func (d *File) WriteBlocks(start uint32, count int, p []byte) error {
	if err := CheckRange(d, start, count); err != nil {
		return err
	}
	if err := checkBuffer(d, count, p); err != nil {
		return err
	}
	off := int64(start) * int64(d.blockSize)
	if _, err := d.f.WriteAt(p, off); err != nil {
		return fmt.Errorf("device: write blocks [%d,%d): %w", start, int(start)+count, err)
	}
	return nil
}

// EraseBlocks implements Eraser by writing 0xFF over the range.
func (d *File) EraseBlocks(start uint32, count int) error {
	if err := CheckRange(d, start, count); err != nil {
		return err
	}
	blank := make([]byte, d.blockSize)
	for i := range blank {
		blank[i] = 0xFF
	}
	for i := 0; i < count; i++ {
		if err := d.WriteBlocks(start+uint32(i), 1, blank); err != nil {
			return err
		}
	}
	return nil
}

// Sync flushes buffered writes to stable storage.
func (d *File) Sync() error {
	if err := d.f.Sync(); err != nil {
		return fmt.Errorf("device: sync image: %w", err)
	}
	return nil
}

// Close releases the mapping and closes the image file. Buffered writes are
// flushed first.
func (d *File) Close() error {
	err := d.f.Sync()
	if d.m != nil {
		if mErr := d.m.Close(); mErr != nil && err == nil {
			err = mErr
		}
		d.m = nil
	}
	if closeErr := d.f.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

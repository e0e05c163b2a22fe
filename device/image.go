package device

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the codec used for device image snapshots.
type Compression uint8

const (
	// CompressionNone stores blocks uncompressed.
	CompressionNone Compression = iota
	// CompressionZstd compresses with zstd, the best ratio for mostly-empty
	// or text-heavy images.
	CompressionZstd
	// CompressionLZ4 compresses with lz4, cheapest on CPU.
	CompressionLZ4
)

var imageMagic = [6]byte{'b', 'c', 'i', 'm', 'g', '1'}

// imageHeader precedes the block stream: magic, codec, geometry.
type imageHeader struct {
	Magic       [6]byte
	Compression Compression
	_           uint8 // padding
	BlockSize   uint32
	BlockCount  uint32
}

// Blocks per transfer when streaming an image.
const imageChunkBlocks = 64

// WriteImage snapshots the full device contents to w. Images capture
// device-side state only; sync the cache first if dirty blocks should be
// included.
func WriteImage(dev Device, w io.Writer, comp Compression) error {
	hdr := imageHeader{
		Magic:       imageMagic,
		Compression: comp,
		BlockSize:   uint32(dev.BlockSize()),
		BlockCount:  dev.BlockCount(),
	}
	if err := binary.Write(w, binary.BigEndian, hdr); err != nil {
		return fmt.Errorf("device: write image header: %w", err)
	}

	cw, err := compressingWriter(w, comp)
	if err != nil {
		return err
	}

	buf := make([]byte, imageChunkBlocks*dev.BlockSize())
	total := dev.BlockCount()
	for start := uint32(0); start < total; start += imageChunkBlocks {
		count := imageChunkBlocks
		if rest := total - start; rest < imageChunkBlocks {
			count = int(rest)
		}
		chunk := buf[:count*dev.BlockSize()]
		if err := dev.ReadBlocks(start, count, chunk); err != nil {
			cw.Close()
			return err
		}
		if _, err := cw.Write(chunk); err != nil {
			cw.Close()
			return fmt.Errorf("device: write image blocks [%d,%d): %w", start, int(start)+count, err)
		}
	}
	if err := cw.Close(); err != nil {
		return fmt.Errorf("device: finish image: %w", err)
	}
	return nil
}

// ReadImage restores a snapshot from r onto the device, whose geometry must
// match the image exactly.
func ReadImage(dev Device, r io.Reader) error {
	var hdr imageHeader
	if err := binary.Read(r, binary.BigEndian, &hdr); err != nil {
		return fmt.Errorf("device: read image header: %w", err)
	}
	if hdr.Magic != imageMagic {
		return fmt.Errorf("device: not a device image")
	}
	if int(hdr.BlockSize) != dev.BlockSize() || hdr.BlockCount != dev.BlockCount() {
		return fmt.Errorf("device: image geometry %dx%d does not match device %dx%d",
			hdr.BlockCount, hdr.BlockSize, dev.BlockCount(), dev.BlockSize())
	}

	cr, err := decompressingReader(r, hdr.Compression)
	if err != nil {
		return err
	}
	defer cr.Close()

	buf := make([]byte, imageChunkBlocks*dev.BlockSize())
	total := dev.BlockCount()
	for start := uint32(0); start < total; start += imageChunkBlocks {
		count := imageChunkBlocks
		if rest := total - start; rest < imageChunkBlocks {
			count = int(rest)
		}
		chunk := buf[:count*dev.BlockSize()]
		if _, err := io.ReadFull(cr, chunk); err != nil {
			return fmt.Errorf("device: read image blocks [%d,%d): %w", start, int(start)+count, err)
		}
		if err := dev.WriteBlocks(start, count, chunk); err != nil {
			return err
		}
	}
	return nil
}

func compressingWriter(w io.Writer, comp Compression) (io.WriteCloser, error) {
	switch comp {
	case CompressionNone:
		return nopWriteCloser{w}, nil
	case CompressionZstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("device: init zstd writer: %w", err)
		}
		return zw, nil
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("device: unknown compression %d", comp)
	}
}

func decompressingReader(r io.Reader, comp Compression) (io.ReadCloser, error) {
	switch comp {
	case CompressionNone:
		return io.NopCloser(r), nil
	case CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("device: init zstd reader: %w", err)
		}
		return zr.IOReadCloser(), nil
	case CompressionLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("device: unknown compression %d", comp)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

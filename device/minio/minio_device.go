// Package minio implements a block device on MinIO and S3-compatible object
// storage. The disk is stored as fixed-span chunk objects; reads fetch the
// covering chunks in parallel and writes read-modify-write them. Chunks that
// were never written read back erased (0xFF), so a fresh bucket behaves like
// blank media.
package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"golang.org/x/sync/errgroup"
)

// Options tunes the object layout and transfer parallelism.
type Options struct {
	// ChunkBlocks is the number of device blocks per object. Larger chunks
	// mean fewer requests but more read-modify-write amplification.
	ChunkBlocks int

	// Concurrency bounds parallel object operations per device call.
	Concurrency int
}

// DefaultOptions are used by New unless overridden.
var DefaultOptions = Options{
	ChunkBlocks: 64,
	Concurrency: 8,
}

// Device is a fixed-geometry block device stored in a bucket.
type Device struct {
	client *minio.Client
	bucket string
	prefix string

	blockSize   int
	blockCount  uint32
	chunkBlocks int
	concurrency int

	// Base context for object operations; the core cache API carries no
	// context, so cancellation is scoped to the device lifetime.
	ctx context.Context
}

// New creates a block device of blockCount blocks of blockSize bytes backed
// by the given bucket. rootPrefix is prepended to all object keys.
func New(ctx context.Context, client *minio.Client, bucket, rootPrefix string, blockCount uint32, blockSize int, optFns ...func(*Options)) (*Device, error) {
	if blockCount == 0 || blockSize <= 0 {
		return nil, fmt.Errorf("minio: invalid geometry %d x %d", blockCount, blockSize)
	}

	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.ChunkBlocks < 1 {
		opts.ChunkBlocks = DefaultOptions.ChunkBlocks
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}

	return &Device{
		client:      client,
		bucket:      bucket,
		prefix:      rootPrefix,
		blockSize:   blockSize,
		blockCount:  blockCount,
		chunkBlocks: opts.ChunkBlocks,
		concurrency: opts.Concurrency,
		ctx:         ctx,
	}, nil
}

// BlockCount returns the number of addressable blocks.
func (d *Device) BlockCount() uint32 { return d.blockCount }

// BlockSize returns the block size in bytes.
func (d *Device) BlockSize() int { return d.blockSize }

func (d *Device) chunkBytes() int64 {
	return int64(d.chunkBlocks) * int64(d.blockSize)
}

func (d *Device) key(chunk int64) string {
	return path.Join(d.prefix, fmt.Sprintf("chunk-%08d", chunk))
}

// ReadBlocks implements the cache's Device interface.
func (d *Device) ReadBlocks(start uint32, count int, p []byte) error {
	if err := d.checkRange(start, count); err != nil {
		return err
	}
	if len(p) != count*d.blockSize {
		return fmt.Errorf("minio: buffer is %d bytes, want %d", len(p), count*d.blockSize)
	}
	if count == 0 {
		return nil
	}

	startByte := int64(start) * int64(d.blockSize)
	endByte := startByte + int64(len(p))
	cb := d.chunkBytes()

	g, ctx := errgroup.WithContext(d.ctx)
	g.SetLimit(d.concurrency)

	for chunk := startByte / cb; chunk*cb < endByte; chunk++ {
		chunk := chunk
		g.Go(func() error {
			from := max(startByte, chunk*cb)
			to := min(endByte, (chunk+1)*cb)
			dst := p[from-startByte : to-startByte]
			return d.readChunkRange(ctx, chunk, from-chunk*cb, dst)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("minio: read blocks [%d,%d): %w", start, int(start)+count, err)
	}
	return nil
}

// WriteBlocks implements the cache's Device interface.
func (d *Device) WriteBlocks(start uint32, count int, p []byte) error {
	if err := d.checkRange(start, count); err != nil {
		return err
	}
	if len(p) != count*d.blockSize {
		return fmt.Errorf("minio: buffer is %d bytes, want %d", len(p), count*d.blockSize)
	}
	if count == 0 {
		return nil
	}

	startByte := int64(start) * int64(d.blockSize)
	endByte := startByte + int64(len(p))
	cb := d.chunkBytes()

	g, ctx := errgroup.WithContext(d.ctx)
	g.SetLimit(d.concurrency)

	for chunk := startByte / cb; chunk*cb < endByte; chunk++ {
		chunk := chunk
		g.Go(func() error {
			from := max(startByte, chunk*cb)
			to := min(endByte, (chunk+1)*cb)
			src := p[from-startByte : to-startByte]

			if to-from == cb {
				// Full chunk overwrite, no fetch needed.
				return d.putChunk(ctx, chunk, src)
			}

			buf := make([]byte, cb)
			if err := d.getChunk(ctx, chunk, buf); err != nil {
				return err
			}
			copy(buf[from-chunk*cb:], src)
			return d.putChunk(ctx, chunk, buf)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("minio: write blocks [%d,%d): %w", start, int(start)+count, err)
	}
	return nil
}

// EraseBlocks restores the range to erased state (0xFF). Fully covered
// chunks are deleted; boundary chunks are rewritten.
func (d *Device) EraseBlocks(start uint32, count int) error {
	if err := d.checkRange(start, count); err != nil {
		return err
	}
	if count == 0 {
		return nil
	}

	startByte := int64(start) * int64(d.blockSize)
	endByte := startByte + int64(count)*int64(d.blockSize)
	cb := d.chunkBytes()

	g, ctx := errgroup.WithContext(d.ctx)
	g.SetLimit(d.concurrency)

	for chunk := startByte / cb; chunk*cb < endByte; chunk++ {
		chunk := chunk
		g.Go(func() error {
			from := max(startByte, chunk*cb)
			to := min(endByte, (chunk+1)*cb)

			if to-from == cb {
				err := d.client.RemoveObject(ctx, d.bucket, d.key(chunk), minio.RemoveObjectOptions{})
				if err != nil && !isNotFound(err) {
					return err
				}
				return nil
			}

			buf := make([]byte, cb)
			if err := d.getChunk(ctx, chunk, buf); err != nil {
				return err
			}
			blank := buf[from-chunk*cb : to-chunk*cb]
			for i := range blank {
				blank[i] = 0xFF
			}
			return d.putChunk(ctx, chunk, buf)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("minio: erase blocks [%d,%d): %w", start, int(start)+count, err)
	}
	return nil
}

// readChunkRange reads len(dst) bytes from a chunk object starting at
// chunk-relative offset off. A missing object reads back erased.
func (d *Device) readChunkRange(ctx context.Context, chunk, off int64, dst []byte) error {
	getOpts := minio.GetObjectOptions{}
	if err := getOpts.SetRange(off, off+int64(len(dst))-1); err != nil {
		return err
	}

	obj, err := d.client.GetObject(ctx, d.bucket, d.key(chunk), getOpts)
	if err != nil {
		return err
	}
	defer obj.Close()

	if _, err := io.ReadFull(obj, dst); err != nil {
		if isNotFound(err) {
			fillErased(dst)
			return nil
		}
		return err
	}
	return nil
}

// getChunk reads a full chunk object into buf; missing objects read erased.
func (d *Device) getChunk(ctx context.Context, chunk int64, buf []byte) error {
	obj, err := d.client.GetObject(ctx, d.bucket, d.key(chunk), minio.GetObjectOptions{})
	if err != nil {
		return err
	}
	defer obj.Close()

	if _, err := io.ReadFull(obj, buf); err != nil {
		if isNotFound(err) {
			fillErased(buf)
			return nil
		}
		return err
	}
	return nil
}

func (d *Device) putChunk(ctx context.Context, chunk int64, data []byte) error {
	_, err := d.client.PutObject(ctx, d.bucket, d.key(chunk),
		bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	return err
}

func (d *Device) checkRange(start uint32, count int) error {
	if count < 0 || uint64(start)+uint64(count) > uint64(d.blockCount) {
		return fmt.Errorf("minio: blocks [%d,%d) out of bounds on device with %d blocks",
			start, uint64(start)+uint64(count), d.blockCount)
	}
	return nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NotFound"
}

func fillErased(p []byte) {
	for i := range p {
		p[i] = 0xFF
	}
}

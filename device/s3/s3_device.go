// Package s3 implements a block device on Amazon S3. Layout and semantics
// match device/minio: the disk is stored as fixed-span chunk objects, chunks
// never written read back erased (0xFF), and transfers fan out over the
// covering chunks with bounded parallelism.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/sync/errgroup"
)

// Options tunes the object layout and transfer parallelism.
type Options struct {
	// ChunkBlocks is the number of device blocks per object.
	ChunkBlocks int

	// Concurrency bounds parallel object operations per device call.
	Concurrency int
}

// DefaultOptions are used by New unless overridden.
var DefaultOptions = Options{
	ChunkBlocks: 64,
	Concurrency: 8,
}

// Client is the subset of the S3 API the device uses. *s3.Client satisfies
// it; tests substitute a mock.
type Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	manager.UploadAPIClient
}

// Device is a fixed-geometry block device stored in an S3 bucket.
type Device struct {
	client   Client
	uploader *manager.Uploader
	bucket   string
	prefix   string

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
func New(ctx context.Context, client Client, bucket, rootPrefix string, blockCount uint32, blockSize int, optFns ...func(*Options)) (*Device, error) {
	if blockCount == 0 || blockSize <= 0 {
		return nil, fmt.Errorf("s3: invalid geometry %d x %d", blockCount, blockSize)
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
		uploader:    manager.NewUploader(client),
		bucket:      bucket,
		prefix:      rootPrefix,
		blockSize:   blockSize,
		blockCount:  blockCount,
		chunkBlocks: opts.ChunkBlocks,
		concurrency: opts.Concurrency,
		ctx:         ctx,
	}, nil
}

// NewFromDefaultConfig creates a Device using the ambient AWS configuration
// (environment, shared config files, instance metadata).
func NewFromDefaultConfig(ctx context.Context, bucket, rootPrefix string, blockCount uint32, blockSize int, optFns ...func(*Options)) (*Device, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}
	return New(ctx, s3.NewFromConfig(cfg), bucket, rootPrefix, blockCount, blockSize, optFns...)
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
		return fmt.Errorf("s3: buffer is %d bytes, want %d", len(p), count*d.blockSize)
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
		return fmt.Errorf("s3: read blocks [%d,%d): %w", start, int(start)+count, err)
	}
	return nil
}

// WriteBlocks implements the cache's Device interface.
func (d *Device) WriteBlocks(start uint32, count int, p []byte) error {
	if err := d.checkRange(start, count); err != nil {
		return err
	}
	if len(p) != count*d.blockSize {
		return fmt.Errorf("s3: buffer is %d bytes, want %d", len(p), count*d.blockSize)
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
		return fmt.Errorf("s3: write blocks [%d,%d): %w", start, int(start)+count, err)
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
				_, err := d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
					Bucket: aws.String(d.bucket),
					Key:    aws.String(d.key(chunk)),
				})
				return err
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
		return fmt.Errorf("s3: erase blocks [%d,%d): %w", start, int(start)+count, err)
	}
	return nil
}

// readChunkRange reads len(dst) bytes from a chunk object starting at
// chunk-relative offset off. A missing object reads back erased.
func (d *Device) readChunkRange(ctx context.Context, chunk, off int64, dst []byte) error {
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(chunk)),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, off+int64(len(dst))-1)),
	})
	if err != nil {
		if isNotFound(err) {
			fillErased(dst)
			return nil
		}
		return err
	}
	defer out.Body.Close()

	if _, err := io.ReadFull(out.Body, dst); err != nil {
		return err
	}
	return nil
}

// getChunk reads a full chunk object into buf; missing objects read erased.
func (d *Device) getChunk(ctx context.Context, chunk int64, buf []byte) error {
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(chunk)),
	})
	if err != nil {
		if isNotFound(err) {
			fillErased(buf)
			return nil
		}
		return err
	}
	defer out.Body.Close()

	if _, err := io.ReadFull(out.Body, buf); err != nil {
		return err
	}
	return nil
}

func (d *Device) putChunk(ctx context.Context, chunk int64, data []byte) error {
	_, err := d.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(chunk)),
		Body:   bytes.NewReader(data),
	})
	return err
}

func (d *Device) checkRange(start uint32, count int) error {
	if count < 0 || uint64(start)+uint64(count) > uint64(d.blockCount) {
		return fmt.Errorf("s3: blocks [%d,%d) out of bounds on device with %d blocks",
			start, uint64(start)+uint64(count), d.blockCount)
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	return errors.As(err, &nf)
}

func fillErased(p []byte) {
	for i := range p {
		p[i] = 0xFF
	}
}

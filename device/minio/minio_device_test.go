package minio

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDevice_Integration requires a running MinIO instance.
// Skip if not available.
func TestDevice_Integration(t *testing.T) {
	endpoint := "localhost:9000"
	accessKey := "minioadmin"
	secretKey := "minioadmin"
	bucket := "test-blockcache"

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: false,
	})
	if err != nil {
		t.Skipf("MinIO client creation failed: %v", err)
	}

	ctx := context.Background()

	// Check if MinIO is reachable
	if _, err = client.ListBuckets(ctx); err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	require.NoError(t, err)
	if !exists {
		require.NoError(t, client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))
	}

	prefix := fmt.Sprintf("itest/%d", time.Now().UnixNano())

	d, err := New(ctx, client, bucket, prefix, 32, 512, func(o *Options) {
		o.ChunkBlocks = 8
	})
	require.NoError(t, err)

	t.Run("MissingChunksReadErased", func(t *testing.T) {
		got := make([]byte, 8*512)
		require.NoError(t, d.ReadBlocks(0, 8, got))
		assert.Equal(t, bytes.Repeat([]byte{0xFF}, len(got)), got)
	})

	t.Run("RoundTrip", func(t *testing.T) {
		want := bytes.Repeat([]byte{0xA5}, 12*512)
		require.NoError(t, d.WriteBlocks(3, 12, want))

		got := make([]byte, len(want))
		require.NoError(t, d.ReadBlocks(3, 12, got))
		assert.Equal(t, want, got)
	})

	t.Run("PartialChunkPreservesNeighbors", func(t *testing.T) {
		require.NoError(t, d.WriteBlocks(16, 8, bytes.Repeat([]byte{1}, 8*512)))
		require.NoError(t, d.WriteBlocks(18, 1, bytes.Repeat([]byte{2}, 512)))

		got := make([]byte, 8*512)
		require.NoError(t, d.ReadBlocks(16, 8, got))
		assert.Equal(t, bytes.Repeat([]byte{1}, 2*512), got[:2*512])
		assert.Equal(t, bytes.Repeat([]byte{2}, 512), got[2*512:3*512])
		assert.Equal(t, bytes.Repeat([]byte{1}, 5*512), got[3*512:])
	})

	t.Run("Erase", func(t *testing.T) {
		require.NoError(t, d.WriteBlocks(24, 8, bytes.Repeat([]byte{3}, 8*512)))
		require.NoError(t, d.EraseBlocks(26, 4))

		got := make([]byte, 8*512)
		require.NoError(t, d.ReadBlocks(24, 8, got))
		assert.Equal(t, bytes.Repeat([]byte{3}, 2*512), got[:2*512])
		assert.Equal(t, bytes.Repeat([]byte{0xFF}, 4*512), got[2*512:6*512])
		assert.Equal(t, bytes.Repeat([]byte{3}, 2*512), got[6*512:])
	})

	// Cleanup
	for chunk := int64(0); chunk < 4; chunk++ {
		_ = client.RemoveObject(ctx, bucket, d.key(chunk), minio.RemoveObjectOptions{})
	}
}

func TestDeviceValidation(t *testing.T) {
	client, err := minio.New("localhost:9000", &minio.Options{
		Creds: credentials.NewStaticV4("a", "b", ""),
	})
	require.NoError(t, err)

	_, err = New(context.Background(), client, "b", "", 0, 512)
	require.Error(t, err)

	_, err = New(context.Background(), client, "b", "", 16, 0)
	require.Error(t, err)

	d, err := New(context.Background(), client, "b", "", 16, 512)
	require.NoError(t, err)

	// Range and buffer validation happens before any network I/O.
	require.Error(t, d.ReadBlocks(16, 1, make([]byte, 512)))
	require.Error(t, d.WriteBlocks(0, 1, make([]byte, 100)))
	require.Error(t, d.EraseBlocks(0, 17))
}

package hoststream

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

////////////////////////////////////////////////////////////////////////////////

// backingBytes fabricates a deterministic backing source: byte i is i mod 256.
func backingBytes(size uint64) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = byte(i % 256)
	}
	return b
}

func TestChunkCacheServesReadsAcrossChunkBoundary(t *testing.T) {
	ctx := context.Background()
	backing := backingBytes(2 * defaultChunkSize)

	var misses int
	c := newChunkCache(func(_ context.Context, start uint64, data []byte) error {
		misses++
		copy(data, backing[start:start+uint64(len(data))])
		return nil
	})

	buf := make([]byte, 16)
	start := uint64(defaultChunkSize) - 8
	require.NoError(t, c.Read(ctx, start, buf))
	require.Equal(t, backing[start:start+16], buf)
	require.Equal(t, 2, misses) // straddles two chunks

	misses = 0
	require.NoError(t, c.Read(ctx, start, buf))
	require.Equal(t, 0, misses) // now cached
}

func TestChunkCachePropagatesMissError(t *testing.T) {
	ctx := context.Background()
	boom := require.New(t)

	c := newChunkCache(func(context.Context, uint64, []byte) error {
		return context.Canceled
	})

	buf := make([]byte, 4)
	err := c.Read(ctx, 0, buf)
	boom.ErrorIs(err, context.Canceled)
}
